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
	"strconv"
	"strings"
	"time"
)

// Params holds request parameters with case-insensitive names.
type Params map[string]string

// NewParams creates a Params from raw request values, such as
// url.Values. Names and values are trimmed and only the first value of
// each parameter is kept.
func NewParams(values map[string][]string) Params {
	p := make(Params, len(values))
	for name, v := range values {
		if len(v) == 0 {
			continue
		}
		p[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(v[0])
	}
	return p
}

// Get returns the value of the named parameter and whether it was present.
func (p Params) Get(name string) (string, bool) {
	v, ok := p[strings.ToLower(name)]
	return v, ok
}

// String returns the value of the named parameter or a default value.
func (p Params) String(name, defaultValue string) string {
	if v, ok := p.Get(name); ok {
		return v
	}
	return defaultValue
}

// Mandatory returns the value of the named parameter, or a
// MissingParameter error.
func (p Params) Mandatory(name string) (string, error) {
	v, ok := p.Get(name)
	if !ok || v == "" {
		return "", MissingParameter(strings.ToUpper(name))
	}
	return v, nil
}

// Float returns the named parameter as a number, or a default value if
// it is absent.
func (p Params) Float(name string, defaultValue float64) (float64, error) {
	v, ok := p.Get(name)
	if !ok || v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, InvalidValue(strings.ToUpper(name), v, err)
	}
	return f, nil
}

// Time returns the named mandatory parameter as a UTC instant.
func (p Params) Time(name string) (time.Time, error) {
	v, err := p.Mandatory(name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTime(v)
	if err != nil {
		return time.Time{}, InvalidValue(strings.ToUpper(name), v, err)
	}
	return t, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 time. Times without a zone are UTC.
// The result is truncated to whole seconds.
func ParseTime(s string) (time.Time, error) {
	// A '+' in a query string arrives as a space.
	s = strings.Replace(s, " ", "+", -1)
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, err
}

// ParseParams validates request parameters and converts them into a
// SubsetRequest. Named regions are resolved against regions.
func ParseParams(p Params, regions Regions) (SubsetRequest, error) {
	var r SubsetRequest
	var err error
	if r.Dataset, err = p.Mandatory("DATASET"); err != nil {
		return r, err
	}
	datatype, err := p.Mandatory("DATATYPE")
	if err != nil {
		return r, err
	}
	if strings.EqualFold(datatype, "netcdf") {
		r.Format = NetCDF
	}

	if strings.EqualFold(datatype, "point") {
		var pt Point
		if pt.Lon, err = p.Float("LON", 0); err != nil {
			return r, err
		}
		if pt.Lat, err = p.Float("LAT", 0); err != nil {
			return r, err
		}
		r.Selector = pt
	} else if param, region, ok := regionParam(p); ok {
		if _, ok := regions[region]; !ok {
			return r, &Error{Kind: UnknownRegion, Param: param,
				Msg: "no region with ID " + strconv.Quote(region)}
		}
		r.Selector = NamedRegion{ID: region}
	} else {
		var b BoundingBox
		for _, f := range []struct {
			name string
			v    *float64
		}{
			{"MINLON", &b.MinLon}, {"MINLAT", &b.MinLat},
			{"MAXLON", &b.MaxLon}, {"MAXLAT", &b.MaxLat},
		} {
			if *f.v, err = p.Float(f.name, 0); err != nil {
				return r, err
			}
		}
		r.Selector = b
	}

	if r.Time.Start, err = p.Time("STARTTIME"); err != nil {
		return r, err
	}
	if r.Time.End, err = p.Time("ENDTIME"); err != nil {
		return r, err
	}
	if r.Identity.Email, err = p.Mandatory("EMAIL"); err != nil {
		return r, err
	}
	if r.Identity.Ref, err = p.Mandatory("REF"); err != nil {
		return r, err
	}
	return r, nil
}

// regionParam returns the requested region ID and the parameter that
// named it, if any. The value "BOUNDS" means that the bounding box
// parameters should be used.
func regionParam(p Params) (param, id string, ok bool) {
	for _, name := range []string{"COUNTRY", "ZONE"} {
		if v, ok := p.Get(name); ok && v != "" && !strings.EqualFold(v, "BOUNDS") {
			return name, v, true
		}
	}
	return "", "", false
}
