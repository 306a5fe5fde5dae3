/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/


package catalogue

import (
	"context"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/spatialmodel/gridsubset"
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "catalogue")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestLoadConfig(t *testing.T) {
	os.Setenv("GRIDSUBSET_TEST_DATA", "/data")
	defer os.Unsetenv("GRIDSUBSET_TEST_DATA")
	c, err := LoadConfig(strings.NewReader(`
[[Dataset]]
ID = "rfe"
Title = "Rainfall estimate"
Path = "${GRIDSUBSET_TEST_DATA}/rfe.nc"
Variables = ["rfe"]

[[Dataset]]
ID = "tamsat"
Path = "/data/tamsat.nc"
LatVar = "latitude"
Grid = "tamsat-0.0375"
`))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{Datasets: []DatasetConfig{
		{ID: "rfe", Title: "Rainfall estimate", Grid: "rfe", Path: "/data/rfe.nc",
			LonVar: "lon", LatVar: "lat", TimeVar: "time", Variables: []string{"rfe"}},
		{ID: "tamsat", Title: "tamsat", Grid: "tamsat-0.0375", Path: "/data/tamsat.nc",
			LonVar: "lon", LatVar: "latitude", TimeVar: "time"},
	}}
	if !reflect.DeepEqual(c, want) {
		t.Errorf("%+v != %+v", c, want)
	}

	if _, err := New(&Config{Datasets: []DatasetConfig{{ID: "a"}, {ID: "a"}}}, 1, nil); err == nil {
		t.Error("want error for duplicate IDs")
	}
}

var jan1 = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

// writeTestFile writes a 3x2 grid of variable "rfe" with two time
// steps, where the value of cell (x, y) at step t is 100t + 10y + x.
func writeTestFile(t *testing.T, path string) {
	g := &gridsubset.Grid{Parent: "rfe", Lons: []float64{0.5, 1.5, 2.5}, Lats: []float64{10.5, 11.5}, DLon: 1, DLat: 1}
	a := gridsubset.NewArray4D(2, 1, 2, 3)
	for ti := 0; ti < 2; ti++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 3; x++ {
				a.Set(float64(100*ti+10*y+x), ti, 0, y, x)
			}
		}
	}
	a.Set(math.NaN(), 1, 0, 1, 2)
	f := &gridsubset.GridFeature{
		Grid:   g,
		Times:  []time.Time{jan1, jan1.AddDate(0, 0, 1)},
		Values: map[string]*gridsubset.Array4D{"rfe": a},
		Units:  map[string]string{"rfe": "mm/day"},
	}
	if err := gridsubset.WriteNetCDF(f, path, nil); err != nil {
		t.Fatal(err)
	}
}

func TestDataset(t *testing.T) {
	ctx := context.Background()
	dir := tempDir(t)
	path := filepath.Join(dir, "rfe.nc")
	writeTestFile(t, path)

	c, err := New(&Config{Datasets: []DatasetConfig{
		{ID: "rfe", Title: "Rainfall", Path: path, LonVar: "lon", LatVar: "lat", TimeVar: "time"},
		{ID: "later", Title: "Not there yet", Path: filepath.Join(dir, "later.nc"), LonVar: "lon", LatVar: "lat", TimeVar: "time"},
	}}, DefaultCacheEntries, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Dataset("later"); ok {
		t.Error("dataset with missing file is available")
	}
	if _, ok := c.Dataset("other"); ok {
		t.Error("unconfigured dataset is available")
	}
	all := c.Datasets()
	if len(all) != 1 || all[0].ID() != "rfe" || all[0].Title() != "Rainfall" {
		t.Errorf("datasets: %v", all)
	}

	ds, ok := c.Dataset("rfe")
	if !ok {
		t.Fatal("dataset not available")
	}
	if ds2, _ := c.Dataset("rfe"); ds2 != ds {
		t.Error("dataset description was not cached")
	}
	if v := ds.VariableIDs(); !reflect.DeepEqual(v, []string{"rfe"}) {
		t.Errorf("variables %v", v)
	}
	ext, err := ds.TimeExtent()
	if err != nil {
		t.Fatal(err)
	}
	if !ext.Start.Equal(jan1) || !ext.End.Equal(jan1.AddDate(0, 0, 1)) {
		t.Errorf("time extent %v", ext)
	}

	t.Run("grid", func(t *testing.T) {
		b := &geom.Bounds{Min: geom.Point{X: 1, Y: 10}, Max: geom.Point{X: 3, Y: 12}}
		f, err := ds.ExtractGrid(ctx, []string{"rfe"}, b, ext)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(f.Grid.Lons, []float64{1.5, 2.5}) || f.Grid.OffsetX != 1 {
			t.Errorf("grid %+v", f.Grid)
		}
		a := f.Values["rfe"]
		if a.Shape != [4]int{2, 1, 2, 2} {
			t.Fatalf("shape %v", a.Shape)
		}
		if v := a.Get(1, 0, 0, 1); v != 102 {
			t.Errorf("value %g != 102", v)
		}
		if v := a.Get(0, 0, 1, 0); v != 11 {
			t.Errorf("value %g != 11", v)
		}
		if v := a.Get(1, 0, 1, 1); !math.IsNaN(v) {
			t.Errorf("fill value read as %g", v)
		}
		if f.Units["rfe"] != "mm/day" {
			t.Errorf("units %q", f.Units["rfe"])
		}
	})

	t.Run("interior cell", func(t *testing.T) {
		f, err := ds.ExtractGrid(ctx, []string{"rfe"}, gridsubset.Point{Lon: 1.5, Lat: 10.5}.Bounds(), ext)
		if err != nil {
			t.Fatal(err)
		}
		if want := []float64{1, 101}; !reflect.DeepEqual(f.Values["rfe"].Data, want) {
			t.Errorf("%v != %v", f.Values["rfe"].Data, want)
		}
	})

	t.Run("point", func(t *testing.T) {
		s, err := ds.ExtractPointSeries(ctx, []string{"rfe"}, geom.Point{X: 0.2, Y: 11.9}, ext)
		if err != nil {
			t.Fatal(err)
		}
		if len(s) != 1 {
			t.Fatalf("%d series", len(s))
		}
		if want := []float64{10, 110}; !reflect.DeepEqual(s[0].Values["rfe"], want) {
			t.Errorf("%v != %v", s[0].Values["rfe"], want)
		}
		if s, _ := ds.ExtractPointSeries(ctx, []string{"rfe"}, geom.Point{X: 5, Y: 11}, ext); len(s) != 0 {
			t.Errorf("point outside grid returned %d series", len(s))
		}
	})

	t.Run("time window", func(t *testing.T) {
		tr := gridsubset.TimeRange{Start: jan1.Add(time.Hour), End: jan1.AddDate(0, 1, 0)}
		f, err := ds.ExtractGrid(ctx, []string{"rfe"}, &geom.Bounds{Max: geom.Point{X: 3, Y: 12}}, tr)
		if err != nil {
			t.Fatal(err)
		}
		if len(f.Times) != 1 || f.Values["rfe"].Get(0, 0, 0, 0) != 100 {
			t.Errorf("times %v, first value %g", f.Times, f.Values["rfe"].Get(0, 0, 0, 0))
		}
	})
}

// TestNorthUp checks a file with latitudes stored north to south, time
// in days and a fill value attribute.
func TestNorthUp(t *testing.T) {
	path := filepath.Join(tempDir(t), "t.nc")
	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{2, 2, 1})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "days since 2017-01-01 00:00:0.0")
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddVariable("t", []string{"time", "lat", "lon"}, []float32{0})
	h.AddAttribute("t", "_FillValue", []float32{-1})
	h.Define()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	nc, err := cdf.Create(f, h)
	if err != nil {
		t.Fatal(err)
	}
	for v, data := range map[string]interface{}{
		"time": []float64{0, 1.5},
		"lat":  []float64{1.5, 0.5},
		"lon":  []float64{0.5},
		"t":    []float32{10, 20, 30, -1},
	} {
		end := nc.Header.Lengths(v)
		if _, err := nc.Writer(v, make([]int, len(end)), end).Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	ds, err := Open(DatasetConfig{ID: "t", Path: path, LonVar: "lon", LatVar: "lat", TimeVar: "time"})
	if err != nil {
		t.Fatal(err)
	}
	ext, _ := ds.TimeExtent()
	if want := jan1.Add(36 * time.Hour); !ext.End.Equal(want) {
		t.Errorf("last time %v != %v", ext.End, want)
	}
	g, err := ds.ExtractGrid(context.Background(), []string{"t"}, &geom.Bounds{Max: geom.Point{X: 1, Y: 2}}, ext)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g.Grid.Lats, []float64{0.5, 1.5}) {
		t.Errorf("lats %v", g.Grid.Lats)
	}
	a := g.Values["t"]
	// Row 0 is the southern row.
	if a.Get(0, 0, 0, 0) != 20 || a.Get(0, 0, 1, 0) != 10 || a.Get(1, 0, 1, 0) != 30 {
		t.Errorf("values %v", a.Data)
	}
	if !math.IsNaN(a.Get(1, 0, 0, 0)) {
		t.Errorf("fill value read as %g", a.Get(1, 0, 0, 0))
	}
}

func TestDecodeTimes(t *testing.T) {
	tests := []struct {
		units string
		vals  []float64
		want  []time.Time
		err   bool
	}{
		{units: "seconds since 1970-01-01 00:00:00 UTC", vals: []float64{1483228800}, want: []time.Time{jan1}},
		{units: "hours since 2017-01-01", vals: []float64{0, 24}, want: []time.Time{jan1, jan1.AddDate(0, 0, 1)}},
		{units: "days since 2016-12-31T00:00:00Z", vals: []float64{1}, want: []time.Time{jan1}},
		{units: "fortnights since 2017-01-01", vals: []float64{1}, err: true},
		{units: "days", vals: []float64{1}, err: true},
	}
	for _, test := range tests {
		t.Run(test.units, func(t *testing.T) {
			have, err := decodeTimes(test.vals, test.units)
			if test.err {
				if err == nil {
					t.Error("want error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(have, test.want) {
				t.Errorf("%v != %v", have, test.want)
			}
		})
	}
}
