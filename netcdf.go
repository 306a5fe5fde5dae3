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
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/ctessum/cdf"
)

// TimeUnits are the units of the time variable in NetCDF files
// written by WriteNetCDF.
const TimeUnits = "seconds since 1970-01-01 00:00:00 UTC"

// WriteNetCDF writes f to a new NetCDF file at path. Values of cells in
// excluded, and NaN values, are written as Missing and flagged with
// the _FillValue attribute.
func WriteNetCDF(f *GridFeature, path string, excluded CellSet) error {
	nt, ny, nx := len(f.Times), f.Grid.NY(), f.Grid.NX()
	if ny == 0 || nx == 0 {
		return Errorf(NotFound, "no grid cells in the selected area")
	}
	vars := make([]string, 0, len(f.Values))
	for v := range f.Values {
		vars = append(vars, v)
	}
	sort.Strings(vars)

	// A time dimension of length zero becomes the record dimension.
	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{nt, ny, nx})
	h.AddAttribute("", "Conventions", "CF-1.6")
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", TimeUnits)
	h.AddAttribute("time", "standard_name", "time")
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddAttribute("lat", "standard_name", "latitude")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	h.AddAttribute("lon", "standard_name", "longitude")
	for _, v := range vars {
		h.AddVariable(v, []string{"time", "lat", "lon"}, []float32{0})
		h.AddAttribute(v, "_FillValue", []float32{Missing})
		if u, ok := f.Units[v]; ok && u != "" {
			h.AddAttribute(v, "units", u)
		}
	}
	h.Define()
	for _, err := range h.Check() {
		if err != nil {
			return fmt.Errorf("gridsubset: invalid NetCDF header: %v", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	ff, err := cdf.Create(file, h)
	if err != nil {
		file.Close()
		return err
	}

	times := make([]float64, nt)
	for i, t := range f.Times {
		times[i] = float64(t.Unix())
	}
	if err := writeVar(ff, "time", times); err != nil {
		file.Close()
		return err
	}
	if err := writeVar(ff, "lat", f.Grid.Lats); err != nil {
		file.Close()
		return err
	}
	if err := writeVar(ff, "lon", f.Grid.Lons); err != nil {
		file.Close()
		return err
	}
	for _, v := range vars {
		a := f.Values[v]
		data := make([]float32, nt*ny*nx)
		for t := 0; t < nt; t++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					val := a.Get(t, 0, y, x)
					if math.IsNaN(val) || excluded.Contains(CellCoord{X: x, Y: y}) {
						val = Missing
					}
					data[(t*ny+y)*nx+x] = float32(val)
				}
			}
		}
		if err := writeVar(ff, v, data); err != nil {
			file.Close()
			return err
		}
	}
	if err := cdf.UpdateNumRecs(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeVar(f *cdf.File, name string, data interface{}) error {
	if n := lenOf(data); n == 0 {
		return nil
	}
	end := f.Header.Lengths(name)
	w := f.Writer(name, make([]int, len(end)), end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("gridsubset: writing NetCDF variable %s: %v", name, err)
	}
	return nil
}

func lenOf(data interface{}) int {
	switch d := data.(type) {
	case []float64:
		return len(d)
	case []float32:
		return len(d)
	default:
		panic(fmt.Errorf("gridsubset: unsupported NetCDF data type %T", data))
	}
}
