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
	"sort"

	"github.com/ctessum/geom"
	"github.com/spatialmodel/gridsubset/internal/hash"
)

// CellCoord is the (x, y) index of a grid cell, where x indexes
// longitude and y indexes latitude.
type CellCoord struct {
	X, Y int
}

// CellSet is a set of grid cells.
type CellSet map[CellCoord]struct{}

// NewCellSet returns a set holding the given cells.
func NewCellSet(cells ...CellCoord) CellSet {
	s := make(CellSet, len(cells))
	for _, c := range cells {
		s[c] = struct{}{}
	}
	return s
}

// Add adds c to the set.
func (s CellSet) Add(c CellCoord) { s[c] = struct{}{} }

// Contains reports whether c is in the set. A nil set is empty.
func (s CellSet) Contains(c CellCoord) bool {
	_, ok := s[c]
	return ok
}

// Sorted returns the cells in the set ordered by y and then x.
func (s CellSet) Sorted() []CellCoord {
	o := make([]CellCoord, 0, len(s))
	for c := range s {
		o = append(o, c)
	}
	sort.Slice(o, func(i, j int) bool {
		if o[i].Y != o[j].Y {
			return o[i].Y < o[j].Y
		}
		return o[i].X < o[j].X
	})
	return o
}

// Grid is a rectilinear longitude/latitude grid, usually a window
// of a larger parent grid.
type Grid struct {
	// Parent identifies the full grid that this grid is a window of.
	Parent string

	// Lons and Lats are the cell centre coordinates, in increasing order.
	Lons, Lats []float64

	// OffsetX and OffsetY give the position of cell (0, 0) of this grid
	// within the parent grid.
	OffsetX, OffsetY int

	// DLon and DLat are the nominal cell sizes, used along an axis
	// that has only one cell.
	DLon, DLat float64
}

// NX returns the number of cells in the x direction.
func (g *Grid) NX() int { return len(g.Lons) }

// NY returns the number of cells in the y direction.
func (g *Grid) NY() int { return len(g.Lats) }

// Key returns a key that identifies the grid by value.
func (g *Grid) Key() string {
	return hash.Hash(g.Parent, g.OffsetX, g.OffsetY, g.Lons, g.Lats)
}

// Cells returns the coordinates of all cells, ordered by y and then x.
func (g *Grid) Cells() []CellCoord {
	o := make([]CellCoord, 0, g.NX()*g.NY())
	for y := range g.Lats {
		for x := range g.Lons {
			o = append(o, CellCoord{X: x, Y: y})
		}
	}
	return o
}

// ParentCoord converts a cell coordinate of g to one of its parent grid.
func (g *Grid) ParentCoord(c CellCoord) CellCoord {
	return CellCoord{X: c.X + g.OffsetX, Y: c.Y + g.OffsetY}
}

// Centroid returns the centre of cell c.
func (g *Grid) Centroid(c CellCoord) geom.Point {
	return geom.Point{X: g.Lons[c.X], Y: g.Lats[c.Y]}
}

// Cell returns the outline of cell c. Cell edges lie midway
// between adjacent cell centres.
func (g *Grid) Cell(c CellCoord) geom.Polygon {
	x0, x1 := edges(g.Lons, c.X, g.DLon)
	y0, y1 := edges(g.Lats, c.Y, g.DLat)
	return geom.Polygon{[]geom.Point{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

// Bounds returns the extent of the outer cell edges.
func (g *Grid) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	if g.NX() == 0 || g.NY() == 0 {
		return b
	}
	b.Extend(g.Cell(CellCoord{}).Bounds())
	b.Extend(g.Cell(CellCoord{X: g.NX() - 1, Y: g.NY() - 1}).Bounds())
	return b
}

func edges(centres []float64, i int, d float64) (lo, hi float64) {
	n := len(centres)
	switch {
	case n == 1:
		return centres[0] - d/2, centres[0] + d/2
	case i == 0:
		half := (centres[1] - centres[0]) / 2
		return centres[0] - half, centres[0] + half
	case i == n-1:
		half := (centres[n-1] - centres[n-2]) / 2
		return centres[n-1] - half, centres[n-1] + half
	default:
		return (centres[i-1] + centres[i]) / 2, (centres[i] + centres[i+1]) / 2
	}
}

// Sub returns the window of g spanning cells [x0, x1) and [y0, y1).
func (g *Grid) Sub(x0, x1, y0, y1 int) *Grid {
	s := &Grid{
		Parent:  g.Parent,
		Lons:    append([]float64(nil), g.Lons[x0:x1]...),
		Lats:    append([]float64(nil), g.Lats[y0:y1]...),
		OffsetX: g.OffsetX + x0,
		OffsetY: g.OffsetY + y0,
		DLon:    g.DLon,
		DLat:    g.DLat,
	}
	if x1 > x0 {
		lo, hi := edges(g.Lons, x0, g.DLon)
		s.DLon = hi - lo
	}
	if y1 > y0 {
		lo, hi := edges(g.Lats, y0, g.DLat)
		s.DLat = hi - lo
	}
	return s
}

// Window returns the range of cells, [x0, x1) and [y0, y1), whose
// centres are within b. Along an axis where b falls between two cell
// centres, the cell containing the middle of b is used. ok is false if
// b does not overlap the grid.
func (g *Grid) Window(b *geom.Bounds) (x0, x1, y0, y1 int, ok bool) {
	if x0, x1, ok = window(g.Lons, b.Min.X, b.Max.X, g.DLon); !ok {
		return 0, 0, 0, 0, false
	}
	if y0, y1, ok = window(g.Lats, b.Min.Y, b.Max.Y, g.DLat); !ok {
		return 0, 0, 0, 0, false
	}
	return x0, x1, y0, y1, true
}

// Locate returns the cell containing p.
func (g *Grid) Locate(p geom.Point) (CellCoord, bool) {
	x, okx := locate(g.Lons, p.X, g.DLon)
	y, oky := locate(g.Lats, p.Y, g.DLat)
	return CellCoord{X: x, Y: y}, okx && oky
}

func window(centres []float64, lo, hi, d float64) (i0, i1 int, ok bool) {
	if hi < lo {
		return 0, 0, false
	}
	i0 = sort.SearchFloat64s(centres, lo)
	i1 = i0
	for i1 < len(centres) && centres[i1] <= hi {
		i1++
	}
	if i1 > i0 {
		return i0, i1, true
	}
	i, ok := locate(centres, (lo+hi)/2, d)
	return i, i + 1, ok
}

// locate returns the index of the cell along one axis whose edges
// enclose v.
func locate(centres []float64, v, d float64) (int, bool) {
	n := len(centres)
	if n == 0 {
		return 0, false
	}
	i := sort.Search(n, func(i int) bool {
		_, hi := edges(centres, i, d)
		return v < hi
	})
	if i == n {
		if _, hi := edges(centres, n-1, d); v == hi {
			return n - 1, true
		}
		return 0, false
	}
	if lo, _ := edges(centres, i, d); v < lo {
		return 0, false
	}
	return i, true
}
