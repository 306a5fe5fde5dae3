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
	"fmt"
	"regexp"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/spatialmodel/gridsubset"
)

// idPattern extracts the region ID from a shape ID, so that numbered
// parts of the same country, such as "IDN1" and "IDN2", are merged.
var idPattern = regexp.MustCompile(`^([A-Za-z]+)[0-9]*$`)

// RegionID returns the region ID for the shape ID s. IDs that are not
// letters followed by digits are returned unchanged.
func RegionID(s string) string {
	s = strings.TrimSpace(s)
	if m := idPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// LoadShapefile reads regions from the polygon shapefile at path. The
// region ID is taken from the idField attribute, normalized by RegionID,
// and the label from the labelField attribute of the first shape with
// that ID. Shapes with the same region ID are merged.
func LoadShapefile(path, idField, labelField string) (gridsubset.Regions, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("regions: opening shapefile: %w", err)
	}
	defer d.Close()
	rs := make(gridsubset.Regions)
	for {
		g, fields, more := d.DecodeRowFields(idField, labelField)
		if !more {
			break
		}
		if d.Error() != nil {
			break
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("regions: shapefile %s: shape %s is a %T, not a polygon", path, fields[idField], g)
		}
		id := RegionID(clean(fields[idField]))
		if id == "" {
			return nil, fmt.Errorf("regions: shapefile %s: shape with empty %s", path, idField)
		}
		merge(rs, id, clean(fields[labelField]), p)
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("regions: reading shapefile %s: %w", path, err)
	}
	return rs, nil
}

func clean(s string) string { return strings.Trim(s, " \x00") }
