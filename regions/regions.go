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


// Package regions loads the named regions, such as countries, that
// subset requests can select by ID.
//
// Regions are read from shapefiles or GeoJSON feature collections, in
// which case cell membership is decided by testing cell centroids
// against the region outlines, or from mask files, which list the
// member cells of each region on a dataset grid. Mask files are made
// with Precompute and WriteMaskFile.
package regions

import (
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/spatialmodel/gridsubset"
)

// Index finds the regions containing a point.
type Index struct {
	tree *rtree.Rtree
}

// indexed is a region outline stored in an Index.
type indexed struct {
	geom.Polygonal
	region *gridsubset.RegionDefinition
}

// NewIndex returns an index of the regions in rs that have an outline.
func NewIndex(rs gridsubset.Regions) *Index {
	idx := &Index{tree: rtree.NewTree(25, 50)}
	for _, id := range rs.IDs() {
		if r := rs[id]; r.Geometry != nil {
			idx.tree.Insert(&indexed{Polygonal: r.Geometry, region: r})
		}
	}
	return idx
}

// At returns the regions whose outlines contain p, sorted by ID.
// Points on an outline are contained.
func (idx *Index) At(p geom.Point) []*gridsubset.RegionDefinition {
	var o []*gridsubset.RegionDefinition
	for _, s := range idx.tree.SearchIntersect(geom.NewBoundsPoint(p)) {
		r := s.(*indexed).region
		if p.Within(r.Geometry) != geom.Outside {
			o = append(o, r)
		}
	}
	sort.Slice(o, func(i, j int) bool { return o[i].ID < o[j].ID })
	return o
}

// Precompute finds the member cells of each region in rs on grid g,
// testing each cell centroid against the region outlines. The returned
// regions hold the cells, as coordinates on the parent grid of g, and
// keep their outlines. Regions without an outline are omitted.
func Precompute(rs gridsubset.Regions, g *gridsubset.Grid) gridsubset.Regions {
	o := make(gridsubset.Regions, len(rs))
	for id, r := range rs {
		if r.Geometry == nil {
			continue
		}
		o[id] = &gridsubset.RegionDefinition{
			ID:       r.ID,
			Label:    r.Label,
			Envelope: r.Envelope,
			Grid:     g.Parent,
			Cells:    gridsubset.NewCellSet(),
			Geometry: r.Geometry,
		}
	}
	idx := NewIndex(rs)
	for _, c := range g.Cells() {
		for _, r := range idx.At(g.Centroid(c)) {
			o[r.ID].Cells.Add(g.ParentCoord(c))
		}
	}
	return o
}

// merge adds the polygons of g to the region with the given ID,
// creating it if necessary.
func merge(rs gridsubset.Regions, id, label string, g geom.Polygonal) {
	r, ok := rs[id]
	if !ok {
		r = &gridsubset.RegionDefinition{ID: id, Label: label, Envelope: *geom.NewBounds()}
		rs[id] = r
	}
	var mp geom.MultiPolygon
	if r.Geometry != nil {
		mp = r.Geometry.(geom.MultiPolygon)
	}
	mp = append(mp, g.Polygons()...)
	r.Geometry = mp
	r.Envelope.Extend(g.Bounds())
}
