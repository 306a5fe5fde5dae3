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

package gridsubset

import (
	"bytes"
	"encoding/gob"
	"reflect"
	"testing"
	"time"
)

func testRequest() SubsetRequest {
	return SubsetRequest{
		Dataset:  "rfe_daily",
		Selector: BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1},
		Time: TimeRange{
			Start: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2017, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		Format:   CSV,
		Identity: Identity{Email: "a@example.com", Ref: "one"},
	}
}

func TestJobID(t *testing.T) {
	r := testRequest()
	want := "rfe%5Fdaily_1483228800_1485907200_bb0,0,1,1.csv"
	if id := r.JobID(); id != want {
		t.Errorf("%s != %s", id, want)
	}
	if r.OutputFilename() != r.JobID() {
		t.Errorf("output filename %s != job id %s", r.OutputFilename(), r.JobID())
	}

	t.Run("identity", func(t *testing.T) {
		r2 := r
		r2.Identity = Identity{Email: "b@example.com", Ref: "two"}
		if r.JobID() != r2.JobID() {
			t.Errorf("requester changes job ID: %s != %s", r.JobID(), r2.JobID())
		}
	})

	t.Run("distinct", func(t *testing.T) {
		variants := []SubsetRequest{r}
		add := func(f func(*SubsetRequest)) {
			v := r
			f(&v)
			variants = append(variants, v)
		}
		add(func(v *SubsetRequest) { v.Dataset = "rfe" })
		add(func(v *SubsetRequest) { v.Dataset = "rfe_daily_1483228800" })
		add(func(v *SubsetRequest) { v.Format = NetCDF })
		add(func(v *SubsetRequest) { v.Time.End = v.Time.End.Add(time.Second) })
		add(func(v *SubsetRequest) { v.Time.Start = v.Time.Start.Add(-time.Second) })
		add(func(v *SubsetRequest) { v.Selector = BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1.5} })
		add(func(v *SubsetRequest) { v.Selector = Point{Lon: 0, Lat: 0} })
		add(func(v *SubsetRequest) { v.Selector = NamedRegion{ID: "0,0,1,1"} })
		add(func(v *SubsetRequest) { v.Selector = NamedRegion{ID: "a_b"} })
		add(func(v *SubsetRequest) { v.Selector = NamedRegion{ID: "a/b"} })
		ids := make(map[string]int)
		for i, v := range variants {
			id := v.JobID()
			if j, ok := ids[id]; ok {
				t.Errorf("requests %d and %d share ID %s", i, j, id)
			}
			ids[id] = i
		}
	})

	t.Run("stable after gob", func(t *testing.T) {
		for _, sel := range []Selector{Point{Lon: 1.5, Lat: -2}, r.Selector, NamedRegion{ID: "GH"}} {
			r := r
			r.Selector = sel
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(r); err != nil {
				t.Fatal(err)
			}
			var r2 SubsetRequest
			if err := gob.NewDecoder(&buf).Decode(&r2); err != nil {
				t.Fatal(err)
			}
			if r2.JobID() != r.JobID() {
				t.Errorf("%s != %s", r2.JobID(), r.JobID())
			}
			if !reflect.DeepEqual(r2.Selector, sel) {
				t.Errorf("%#v != %#v", r2.Selector, sel)
			}
		}
	})
}

func TestTimeRangeWindow(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2017, 1, d, 0, 0, 0, 0, time.UTC) }
	times := []time.Time{day(1), day(2), day(3), day(4)}
	tests := []struct {
		name   string
		tr     TimeRange
		i0, i1 int
	}{
		{"all", TimeRange{Start: day(1), End: day(4)}, 0, 4},
		{"inner", TimeRange{Start: day(2), End: day(3)}, 1, 3},
		{"between", TimeRange{Start: day(1).Add(time.Hour), End: day(3).Add(time.Hour)}, 1, 3},
		{"reversed", TimeRange{Start: day(3), End: day(2)}, 2, 2},
		{"after", TimeRange{Start: day(5), End: day(6)}, 4, 4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			i0, i1 := test.tr.Window(times)
			if i0 != test.i0 || i1 != test.i1 {
				t.Errorf("[%d, %d) != [%d, %d)", i0, i1, test.i0, test.i1)
			}
		})
	}
}
