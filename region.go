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
	"sort"

	"github.com/ctessum/geom"
)

// RegionDefinition is a named area, typically a country. Membership of
// grid cells is decided either by an explicit set of precomputed cell
// coordinates on a parent grid, or by testing cell centroids against a
// polygon. A RegionDefinition must not be modified after it is loaded.
type RegionDefinition struct {
	ID    string
	Label string

	// Envelope is the bounding box of the region.
	Envelope geom.Bounds

	// Cells, if not nil, holds the member cells, as coordinates
	// on the grid identified by Grid.
	Grid  string
	Cells CellSet

	// Geometry, if not nil, is the region outline.
	Geometry geom.Polygonal
}

// Supports reports whether membership can be tested for the cells of g.
func (r *RegionDefinition) Supports(g *Grid) bool {
	if r.Geometry != nil {
		return true
	}
	return r.Cells != nil && (r.Grid == "" || r.Grid == g.Parent)
}

// Contains reports whether cell c of grid g belongs to the region.
func (r *RegionDefinition) Contains(g *Grid, c CellCoord) bool {
	if r.Cells != nil && (r.Grid == "" || r.Grid == g.Parent) {
		return r.Cells.Contains(g.ParentCoord(c))
	}
	if r.Geometry == nil {
		return false
	}
	p := g.Centroid(c)
	if p.X < r.Envelope.Min.X || p.X > r.Envelope.Max.X ||
		p.Y < r.Envelope.Min.Y || p.Y > r.Envelope.Max.Y {
		return false
	}
	return p.Within(r.Geometry) != geom.Outside
}

// Bounds returns a copy of the region envelope.
func (r *RegionDefinition) Bounds() *geom.Bounds {
	b := r.Envelope
	return &b
}

// Regions is the table of regions available to requests, keyed by ID.
type Regions map[string]*RegionDefinition

// Labels returns a map of region label to region ID.
func (rs Regions) Labels() map[string]string {
	o := make(map[string]string, len(rs))
	for id, r := range rs {
		o[r.Label] = id
	}
	return o
}

// IDs returns the region IDs in sorted order.
func (rs Regions) IDs() []string {
	o := make([]string, 0, len(rs))
	for id := range rs {
		o = append(o, id)
	}
	sort.Strings(o)
	return o
}

// Lookup returns the region with the given ID or an UnknownRegion error.
func (rs Regions) Lookup(id string) (*RegionDefinition, error) {
	r, ok := rs[id]
	if !ok {
		return nil, &Error{Kind: UnknownRegion, Msg: fmt.Sprintf("no region with ID %q", id)}
	}
	return r, nil
}
