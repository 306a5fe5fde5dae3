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
	"context"
	"math"
	"time"

	"github.com/ctessum/geom"
)

// Catalogue holds the datasets that can be subset.
type Catalogue interface {
	// Dataset returns the dataset with the given ID. The second return
	// value is false if the dataset is not (yet) available.
	Dataset(id string) (Dataset, bool)

	// Datasets returns all available datasets.
	Datasets() []Dataset
}

// Dataset is a gridded dataset with one or more variables on a common
// horizontal grid and time axis.
type Dataset interface {
	ID() string
	Title() string

	// VariableIDs returns the names of the data variables, sorted.
	VariableIDs() []string

	// TimeExtent returns the first and last times in the dataset.
	TimeExtent() (TimeRange, error)

	// ExtractGrid returns the values of vars for the cells whose centres
	// are within b and the times within tr.
	ExtractGrid(ctx context.Context, vars []string, b *geom.Bounds, tr TimeRange) (*GridFeature, error)

	// ExtractPointSeries returns the time series of vars at the cell
	// containing p, for the times within tr.
	ExtractPointSeries(ctx context.Context, vars []string, p geom.Point, tr TimeRange) ([]*PointSeries, error)

	// WriteNetCDF writes f to a new NetCDF file at path. Cells in
	// excluded are written as missing values.
	WriteNetCDF(f *GridFeature, path string, excluded CellSet) error
}

// Array4D is a dense array indexed by time, depth, y and x.
type Array4D struct {
	Shape [4]int
	Data  []float64
}

// NewArray4D returns a NaN-filled array with the given shape.
func NewArray4D(nt, nz, ny, nx int) *Array4D {
	a := &Array4D{Shape: [4]int{nt, nz, ny, nx}, Data: make([]float64, nt*nz*ny*nx)}
	for i := range a.Data {
		a.Data[i] = math.NaN()
	}
	return a
}

func (a *Array4D) index(t, z, y, x int) int {
	return ((t*a.Shape[1]+z)*a.Shape[2]+y)*a.Shape[3] + x
}

// Get returns the value at the given index.
func (a *Array4D) Get(t, z, y, x int) float64 { return a.Data[a.index(t, z, y, x)] }

// Set sets the value at the given index.
func (a *Array4D) Set(v float64, t, z, y, x int) { a.Data[a.index(t, z, y, x)] = v }

// Window returns a copy of the part of a spanning [t0, t1), all
// depths, [y0, y1) and [x0, x1).
func (a *Array4D) Window(t0, t1, y0, y1, x0, x1 int) *Array4D {
	nz := a.Shape[1]
	o := NewArray4D(t1-t0, nz, y1-y0, x1-x0)
	for t := t0; t < t1; t++ {
		for z := 0; z < nz; z++ {
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					o.Set(a.Get(t, z, y, x), t-t0, z, y-y0, x-x0)
				}
			}
		}
	}
	return o
}

// GridFeature holds the values of one or more variables on a grid.
type GridFeature struct {
	Grid  *Grid
	Times []time.Time

	// Values holds the data for each variable, shaped
	// (len(Times), 1, Grid.NY(), Grid.NX()).
	Values map[string]*Array4D

	// Units holds the units of each variable, where known.
	Units map[string]string
}

// PointSeries holds time series of one or more variables at one location.
type PointSeries struct {
	Location geom.Point
	Times    []time.Time
	Values   map[string][]float64
}
