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

// Package gridsubset extracts geographic and temporal subsets of gridded
// climate datasets. A SubsetRequest describes the subset; a SubsetJob
// extracts it, masks it to a region if required, and writes it as NetCDF
// or as a CSV time series.
package gridsubset

import (
	"encoding/gob"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"
)

func init() {
	gob.Register(Point{})
	gob.Register(BoundingBox{})
	gob.Register(NamedRegion{})
}

// Selector is the spatial filter of a request. It is one of Point,
// BoundingBox or NamedRegion.
type Selector interface {
	// code returns a compact, filename-safe encoding of the selector.
	code() string
	String() string
}

// Point selects the single grid cell containing a location.
type Point struct {
	Lon, Lat float64
}

func (p Point) code() string { return "pt" + ftoa(p.Lon) + "," + ftoa(p.Lat) }

func (p Point) String() string { return fmt.Sprintf("point(%g, %g)", p.Lon, p.Lat) }

// Bounds returns the degenerate bounding box of p.
func (p Point) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: p.Lon, Y: p.Lat},
		Max: geom.Point{X: p.Lon, Y: p.Lat},
	}
}

// BoundingBox selects all grid cells within a lon/lat rectangle.
type BoundingBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

func (b BoundingBox) code() string {
	return "bb" + ftoa(b.MinLon) + "," + ftoa(b.MinLat) + "," + ftoa(b.MaxLon) + "," + ftoa(b.MaxLat)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%g, %g, %g, %g)", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Bounds returns b as a geometry bounding box.
func (b BoundingBox) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: b.MinLon, Y: b.MinLat},
		Max: geom.Point{X: b.MaxLon, Y: b.MaxLat},
	}
}

// NamedRegion selects the grid cells belonging to a region (usually a
// country) from the region table.
type NamedRegion struct {
	ID string
}

func (r NamedRegion) code() string { return "rg" + escape(r.ID) }

func (r NamedRegion) String() string { return "region(" + r.ID + ")" }

// TimeRange is an inclusive range of UTC instants.
type TimeRange struct {
	Start, End time.Time
}

// Contains reports whether t is within the range.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Window returns the range [i0, i1) of the sorted times that are
// within tr. The range is empty if Start is after End.
func (tr TimeRange) Window(times []time.Time) (i0, i1 int) {
	i0 = sort.Search(len(times), func(i int) bool { return !times[i].Before(tr.Start) })
	i1 = sort.Search(len(times), func(i int) bool { return times[i].After(tr.End) })
	if i1 < i0 {
		i1 = i0
	}
	return i0, i1
}

func (tr TimeRange) String() string {
	return tr.Start.Format(time.RFC3339) + "/" + tr.End.Format(time.RFC3339)
}

// Format is the output file format of a subset.
type Format int

// These are the supported output formats.
const (
	CSV Format = iota
	NetCDF
)

// Ext returns the filename extension of the format.
func (f Format) Ext() string {
	if f == NetCDF {
		return ".nc"
	}
	return ".csv"
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == NetCDF {
		return "application/x-netcdf"
	}
	return "text/csv"
}

func (f Format) String() string {
	if f == NetCDF {
		return "NetCDF"
	}
	return "CSV"
}

// FormatFromName returns the format implied by an output filename.
func FormatFromName(name string) Format {
	if strings.HasSuffix(name, ".nc") {
		return NetCDF
	}
	return CSV
}

// Identity identifies the requester of a job.
type Identity struct {
	Email string
	Ref   string
}

// SubsetRequest describes a subset of a dataset. It is immutable once
// created.
type SubsetRequest struct {
	Dataset  string
	Selector Selector
	Time     TimeRange
	Format   Format
	Identity Identity
}

// JobID returns the identifier of the job that fulfils r. It depends on
// the dataset, selector, time range and format, but not on the requester,
// so identical requests from different requesters share one job.
// The job ID is also the name of the output file.
func (r SubsetRequest) JobID() string {
	var sel string
	if r.Selector != nil {
		sel = r.Selector.code()
	}
	return strings.Join([]string{
		escape(r.Dataset),
		strconv.FormatInt(r.Time.Start.Unix(), 10),
		strconv.FormatInt(r.Time.End.Unix(), 10),
		sel,
	}, "_") + r.Format.Ext()
}

// OutputFilename returns the name of the file the job writes.
func (r SubsetRequest) OutputFilename() string { return r.JobID() }

func (r SubsetRequest) String() string {
	return fmt.Sprintf("%s: %s, %v, %v", r.Format, r.Dataset, r.Selector, r.Time)
}

// escape makes s safe for use as one '_'-separated field of a filename.
func escape(s string) string {
	return strings.Replace(url.PathEscape(s), "_", "%5F", -1)
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
