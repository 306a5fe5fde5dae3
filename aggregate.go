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
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/floats"
)

// Missing is written in place of values that are missing or cannot be
// calculated.
const Missing = -999

const missingText = "-999"

// FormatTime formats a CSV time stamp.
func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// formatValue formats a point value: whole numbers without decimals and
// everything else to two decimal places.
func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return missingText
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatMean formats an area mean to two decimal places.
func formatMean(v float64, ok bool) string {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return missingText
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// WritePointCSV writes the time series s of the variables vars to w,
// one row per time step.
func WritePointCSV(w io.Writer, vars []string, s *PointSeries) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time"}, vars...)); err != nil {
		return err
	}
	row := make([]string, len(vars)+1)
	for i, t := range s.Times {
		row[0] = FormatTime(t)
		for j, v := range vars {
			val := math.NaN()
			if vals := s.Values[v]; i < len(vals) {
				val = vals[i]
			}
			row[j+1] = formatValue(val)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAreaCSV writes the mean of each variable over the cells of f for
// each time step to w. Cells in excluded are skipped. If weights is not
// nil it holds the weight of each cell, indexed y*NX+x, and weighted
// means are calculated.
func WriteAreaCSV(w io.Writer, vars []string, f *GridFeature, excluded CellSet, weights []float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time"}, vars...)); err != nil {
		return err
	}
	row := make([]string, len(vars)+1)
	for t, tt := range f.Times {
		row[0] = FormatTime(tt)
		for j, v := range vars {
			a, ok := f.Values[v]
			if !ok {
				return fmt.Errorf("gridsubset: no values for variable %s", v)
			}
			row[j+1] = formatMean(AreaMean(a, t, excluded, weights))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// AreaMean returns the mean value of time step t (at depth 0) of a over
// the cells not in excluded, ignoring NaN values. If weights is not nil,
// each cell is weighted by weights[y*nx+x] and cells with zero weight are
// ignored. If no valid cell has a positive weight, as for a box with no
// area, the unweighted mean is returned. The second return value is
// false if no cell contributed.
func AreaMean(a *Array4D, t int, excluded CellSet, weights []float64) (float64, bool) {
	ny, nx := a.Shape[2], a.Shape[3]
	vals := make([]float64, 0, ny*nx)
	var w []float64
	if weights != nil {
		w = make([]float64, 0, ny*nx)
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if excluded.Contains(CellCoord{X: x, Y: y}) {
				continue
			}
			v := a.Get(t, 0, y, x)
			if math.IsNaN(v) {
				continue
			}
			if weights != nil {
				wi := weights[y*nx+x]
				if wi <= 0 {
					continue
				}
				w = append(w, wi)
			}
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		if weights != nil {
			return AreaMean(a, t, excluded, nil)
		}
		return Missing, false
	}
	if weights != nil {
		return floats.Dot(w, vals) / floats.Sum(w), true
	}
	return floats.Sum(vals) / float64(len(vals)), true
}

// BoxWeights returns the fraction of the area of each cell of g that
// lies within b, indexed y*NX+x.
func BoxWeights(g *Grid, b *geom.Bounds) []float64 {
	w := make([]float64, g.NX()*g.NY())
	for _, c := range g.Cells() {
		cb := g.Cell(c).Bounds()
		area := (cb.Max.X - cb.Min.X) * (cb.Max.Y - cb.Min.Y)
		if area <= 0 {
			continue
		}
		dx := math.Min(cb.Max.X, b.Max.X) - math.Max(cb.Min.X, b.Min.X)
		dy := math.Min(cb.Max.Y, b.Max.Y) - math.Max(cb.Min.Y, b.Min.Y)
		if dx > 0 && dy > 0 {
			w[c.Y*g.NX()+c.X] = dx * dy / area
		}
	}
	return w
}

// RegionWeights returns the fraction of the area of each cell of g that
// lies within the polygon p, indexed y*NX+x.
func RegionWeights(g *Grid, p geom.Polygonal) []float64 {
	pb := p.Bounds()
	w := make([]float64, g.NX()*g.NY())
	for _, c := range g.Cells() {
		cell := g.Cell(c)
		cb := cell.Bounds()
		if cb.Max.X <= pb.Min.X || cb.Min.X >= pb.Max.X || cb.Max.Y <= pb.Min.Y || cb.Min.Y >= pb.Max.Y {
			continue
		}
		area := cell.Area()
		if area <= 0 {
			continue
		}
		w[c.Y*g.NX()+c.X] = math.Min(1, cell.Intersection(p).Area()/area)
	}
	return w
}
