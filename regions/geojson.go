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


package regions

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/spatialmodel/gridsubset"
)

type featureCollection struct {
	Features []struct {
		Properties map[string]interface{} `json:"properties"`
		Geometry   json.RawMessage        `json:"geometry"`
	} `json:"features"`
}

// LoadGeoJSON reads regions from a GeoJSON feature collection. The
// region ID and label are taken from the idProperty and labelProperty
// properties of each feature, as for LoadShapefile.
func LoadGeoJSON(r io.Reader, idProperty, labelProperty string) (gridsubset.Regions, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("regions: reading GeoJSON: %w", err)
	}
	var fc featureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("regions: decoding GeoJSON: %w", err)
	}
	rs := make(gridsubset.Regions)
	for i, f := range fc.Features {
		g, err := decodeGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("regions: GeoJSON feature %d: %w", i, err)
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("regions: GeoJSON feature %d is a %T, not a polygon", i, g)
		}
		id := RegionID(fmt.Sprint(f.Properties[idProperty]))
		if f.Properties[idProperty] == nil || id == "" {
			return nil, fmt.Errorf("regions: GeoJSON feature %d has no %s property", i, idProperty)
		}
		label, _ := f.Properties[labelProperty].(string)
		merge(rs, id, label, p)
	}
	return rs, nil
}

// decodeGeometry decodes a GeoJSON geometry. MultiPolygons are decoded
// one polygon at a time, since geojson.Decode does not handle them.
func decodeGeometry(b []byte) (geom.Geom, error) {
	var g geojson.Geometry
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	if g.Type != "MultiPolygon" {
		return geojson.FromGeoJSON(&g)
	}
	parts, ok := g.Coordinates.([]interface{})
	if !ok {
		return nil, geojson.InvalidGeometryError{}
	}
	mp := make(geom.MultiPolygon, 0, len(parts))
	for _, c := range parts {
		p, err := geojson.FromGeoJSON(&geojson.Geometry{Type: "Polygon", Coordinates: c})
		if err != nil {
			return nil, err
		}
		mp = append(mp, p.(geom.Polygon))
	}
	return mp, nil
}
