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


package catalogue

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/spatialmodel/gridsubset"
)

// Dataset is a gridded dataset held in a NetCDF file. Its coordinate
// axes are read when it is opened and its data variables are read on
// demand.
type Dataset struct {
	cfg DatasetConfig

	grid  *gridsubset.Grid
	flipY bool // latitudes are stored north to south
	times []time.Time

	vars  []string
	info  map[string]varInfo
	units map[string]string
}

type varInfo struct {
	rank          int // 3 for (time, lat, lon), 4 for (time, level, lat, lon)
	fill          float64
	hasFill       bool
	scale, offset float64
}

// Open reads the description of the dataset in the file cfg.Path.
func Open(cfg DatasetConfig) (*Dataset, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	defer f.Close()
	nc, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("catalogue: opening %s: %w", cfg.Path, err)
	}
	d := &Dataset{
		cfg:   cfg,
		info:  make(map[string]varInfo),
		units: make(map[string]string),
	}

	gridName := cfg.Grid
	if gridName == "" {
		gridName = cfg.ID
	}
	if d.grid, d.flipY, err = readGrid(nc, gridName, cfg.LonVar, cfg.LatVar); err != nil {
		return nil, fmt.Errorf("catalogue: %s: %w", cfg.Path, err)
	}

	tvals, err := readAll(nc, cfg.TimeVar)
	if err != nil {
		return nil, err
	}
	d.times, err = decodeTimes(tvals, attrString(nc.Header, cfg.TimeVar, "units"))
	if err != nil {
		return nil, fmt.Errorf("catalogue: %s: %w", cfg.Path, err)
	}

	timeDim, latDim, lonDim := dim(nc.Header, cfg.TimeVar), dim(nc.Header, cfg.LatVar), dim(nc.Header, cfg.LonVar)
	candidates := cfg.Variables
	if len(candidates) == 0 {
		candidates = nc.Header.Variables()
	}
	for _, v := range candidates {
		dims := nc.Header.Dimensions(v)
		n := len(dims)
		if n < 3 || n > 4 || dims[0] != timeDim || dims[n-2] != latDim || dims[n-1] != lonDim {
			if len(cfg.Variables) != 0 {
				return nil, fmt.Errorf("catalogue: %s: variable %s does not have dimensions (%s, %s, %s)",
					cfg.Path, v, timeDim, latDim, lonDim)
			}
			continue
		}
		info := varInfo{rank: n, scale: 1}
		info.fill, info.hasFill = attrFloat(nc.Header, v, "_FillValue")
		if !info.hasFill {
			info.fill, info.hasFill = attrFloat(nc.Header, v, "missing_value")
		}
		if s, ok := attrFloat(nc.Header, v, "scale_factor"); ok {
			info.scale = s
		}
		info.offset, _ = attrFloat(nc.Header, v, "add_offset")
		d.info[v] = info
		if u := attrString(nc.Header, v, "units"); u != "" {
			d.units[v] = u
		}
		d.vars = append(d.vars, v)
	}
	if len(d.vars) == 0 {
		return nil, fmt.Errorf("catalogue: %s: no data variables", cfg.Path)
	}
	sort.Strings(d.vars)
	return d, nil
}

// ID returns the dataset identifier.
func (d *Dataset) ID() string { return d.cfg.ID }

// Title returns the dataset title.
func (d *Dataset) Title() string { return d.cfg.Title }

// VariableIDs returns the sorted names of the data variables.
func (d *Dataset) VariableIDs() []string { return append([]string(nil), d.vars...) }

// TimeExtent returns the first and last time steps.
func (d *Dataset) TimeExtent() (gridsubset.TimeRange, error) {
	if len(d.times) == 0 {
		return gridsubset.TimeRange{}, fmt.Errorf("catalogue: dataset %s has no time steps", d.cfg.ID)
	}
	return gridsubset.TimeRange{Start: d.times[0], End: d.times[len(d.times)-1]}, nil
}

// ExtractGrid implements gridsubset.Dataset.
func (d *Dataset) ExtractGrid(ctx context.Context, vars []string, b *geom.Bounds, tr gridsubset.TimeRange) (*gridsubset.GridFeature, error) {
	x0, x1, y0, y1, ok := d.grid.Window(b)
	if !ok {
		x0, x1, y0, y1 = 0, 0, 0, 0
	}
	t0, t1 := tr.Window(d.times)
	f := &gridsubset.GridFeature{
		Grid:   d.grid.Sub(x0, x1, y0, y1),
		Times:  append([]time.Time(nil), d.times[t0:t1]...),
		Values: make(map[string]*gridsubset.Array4D, len(vars)),
		Units:  d.units,
	}
	nc, closer, err := d.open()
	if err != nil {
		return nil, err
	}
	defer closer()
	for _, v := range vars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Values[v], err = d.read(nc, v, t0, t1, y0, y1, x0, x1); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ExtractPointSeries implements gridsubset.Dataset. It returns the
// time series of the cell containing p, or nothing if p is outside of
// the grid.
func (d *Dataset) ExtractPointSeries(ctx context.Context, vars []string, p geom.Point, tr gridsubset.TimeRange) ([]*gridsubset.PointSeries, error) {
	c, ok := d.grid.Locate(p)
	if !ok {
		return nil, nil
	}
	t0, t1 := tr.Window(d.times)
	s := &gridsubset.PointSeries{
		Location: d.grid.Centroid(c),
		Times:    append([]time.Time(nil), d.times[t0:t1]...),
		Values:   make(map[string][]float64, len(vars)),
	}
	nc, closer, err := d.open()
	if err != nil {
		return nil, err
	}
	defer closer()
	for _, v := range vars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := d.read(nc, v, t0, t1, c.Y, c.Y+1, c.X, c.X+1)
		if err != nil {
			return nil, err
		}
		s.Values[v] = a.Data
	}
	return []*gridsubset.PointSeries{s}, nil
}

// WriteNetCDF implements gridsubset.Dataset.
func (d *Dataset) WriteNetCDF(f *gridsubset.GridFeature, path string, excluded gridsubset.CellSet) error {
	return gridsubset.WriteNetCDF(f, path, excluded)
}

func (d *Dataset) open() (*cdf.File, func(), error) {
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("catalogue: %w", err)
	}
	nc, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("catalogue: opening %s: %w", d.cfg.Path, err)
	}
	return nc, func() { f.Close() }, nil
}

// read reads time steps [t0, t1), rows [y0, y1) and columns [x0, x1)
// of variable v, where rows count from the south.
func (d *Dataset) read(nc *cdf.File, v string, t0, t1, y0, y1, x0, x1 int) (*gridsubset.Array4D, error) {
	info, ok := d.info[v]
	if !ok {
		return nil, fmt.Errorf("catalogue: dataset %s has no variable %s", d.cfg.ID, v)
	}
	nt, ny, nx := t1-t0, y1-y0, x1-x0
	a := gridsubset.NewArray4D(nt, 1, ny, nx)
	if nt <= 0 || ny <= 0 || nx <= 0 {
		return a, nil
	}
	fy0 := y0
	if d.flipY {
		fy0 = d.grid.NY() - y1
	}
	begin := []int{t0, fy0, x0}
	count := []int{nt, ny, nx}
	if info.rank == 4 {
		begin = []int{t0, 0, fy0, x0}
		count = []int{nt, 1, ny, nx}
	}
	data, err := readWindow(nc, v, begin, count)
	if err != nil {
		return nil, fmt.Errorf("catalogue: reading %s from %s: %w", v, d.cfg.Path, err)
	}
	if len(data) != nt*ny*nx {
		return nil, fmt.Errorf("catalogue: read %d values of %s, expected %d", len(data), v, nt*ny*nx)
	}
	for t := 0; t < nt; t++ {
		for y := 0; y < ny; y++ {
			row := y
			if d.flipY {
				row = ny - 1 - y
			}
			for x := 0; x < nx; x++ {
				val := data[(t*ny+row)*nx+x]
				if info.hasFill && val == info.fill {
					continue // already NaN
				}
				a.Set(val*info.scale+info.offset, t, 0, y, x)
			}
		}
	}
	return a, nil
}

// readWindow reads the hyperslab of variable v that starts at begin and
// spans count elements along each dimension. A cdf reader covers one
// contiguous run of the file, so the slab is read one run of the last
// dimension at a time.
func readWindow(nc *cdf.File, v string, begin, count []int) ([]float64, error) {
	n := 1
	for _, c := range count {
		n *= c
	}
	out := make([]float64, 0, n)
	if n == 0 {
		return out, nil
	}
	last := len(begin) - 1
	idx := append([]int(nil), begin...)
	for {
		end := append([]int(nil), idx...)
		end[last] = idx[last] + count[last] - 1 // inclusive
		r := nc.Reader(v, idx, end)
		buf := r.Zero(count[last])
		if _, err := r.Read(buf); err != nil {
			return nil, err
		}
		row, err := toFloat64(buf)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", v, err)
		}
		out = append(out, row...)

		i := last - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < begin[i]+count[i] {
				break
			}
			idx[i] = begin[i]
		}
		if i < 0 {
			return out, nil
		}
	}
}

// ReadGrid reads the longitude and latitude axes lonVar and latVar of
// the NetCDF file at path. The grid is labelled with parent, which
// should be the ID of the dataset stored in the file.
func ReadGrid(path, parent, lonVar, latVar string) (*gridsubset.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	defer f.Close()
	nc, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("catalogue: opening %s: %w", path, err)
	}
	g, _, err := readGrid(nc, parent, lonVar, latVar)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %s: %w", path, err)
	}
	return g, nil
}

// readGrid returns the grid with latitudes in increasing order, and
// whether they are stored in decreasing order.
func readGrid(nc *cdf.File, parent, lonVar, latVar string) (*gridsubset.Grid, bool, error) {
	lons, err := readAll(nc, lonVar)
	if err != nil {
		return nil, false, err
	}
	lats, err := readAll(nc, latVar)
	if err != nil {
		return nil, false, err
	}
	if !sort.Float64sAreSorted(lons) {
		return nil, false, fmt.Errorf("longitudes are not in increasing order")
	}
	var flip bool
	if !sort.Float64sAreSorted(lats) {
		reverse(lats)
		if !sort.Float64sAreSorted(lats) {
			return nil, false, fmt.Errorf("latitudes are not monotonic")
		}
		flip = true
	}
	g := &gridsubset.Grid{Parent: parent, Lons: lons, Lats: lats}
	if len(lons) > 1 {
		g.DLon = lons[1] - lons[0]
	}
	if len(lats) > 1 {
		g.DLat = lats[1] - lats[0]
	}
	return g, flip, nil
}

func readAll(nc *cdf.File, v string) ([]float64, error) {
	l := nc.Header.Lengths(v)
	if len(l) == 0 {
		return nil, fmt.Errorf("catalogue: missing variable %s", v)
	}
	if l[0] == 0 {
		return []float64{}, nil
	}
	r := nc.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("catalogue: reading %s: %w", v, err)
	}
	data, err := toFloat64(buf)
	if err != nil {
		return nil, fmt.Errorf("catalogue: variable %s: %w", v, err)
	}
	return data, nil
}

func toFloat64(buf interface{}) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, nil
	case []int32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, nil
	case []int16:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unsupported data type %T", buf)
	}
}

func dim(h *cdf.Header, v string) string {
	if d := h.Dimensions(v); len(d) == 1 {
		return d[0]
	}
	return v
}

func attrString(h *cdf.Header, v, name string) string {
	s, _ := h.GetAttribute(v, name).(string)
	return s
}

func attrFloat(h *cdf.Header, v, name string) (float64, bool) {
	a := h.GetAttribute(v, name)
	if a == nil {
		return 0, false
	}
	data, err := toFloat64(a)
	if err != nil || len(data) == 0 {
		return 0, false
	}
	return data[0], true
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

var timeUnits = map[string]time.Duration{
	"seconds": time.Second, "second": time.Second, "secs": time.Second, "sec": time.Second, "s": time.Second,
	"minutes": time.Minute, "minute": time.Minute, "mins": time.Minute, "min": time.Minute,
	"hours": time.Hour, "hour": time.Hour, "hrs": time.Hour, "hr": time.Hour, "h": time.Hour,
	"days": 24 * time.Hour, "day": 24 * time.Hour, "d": 24 * time.Hour,
}

var refLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// decodeTimes converts CF-convention time values, in the given units
// (e.g. "days since 1980-01-01"), to UTC times.
func decodeTimes(vals []float64, units string) ([]time.Time, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid time units %q", units)
	}
	step, ok := timeUnits[strings.ToLower(parts[0])]
	if !ok {
		return nil, fmt.Errorf("invalid time units %q", units)
	}
	ref, err := parseRef(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid time units %q: %w", units, err)
	}
	o := make([]time.Time, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("missing time value at index %d", i)
		}
		o[i] = ref.Add(time.Duration(math.Round(v * float64(step)))).UTC()
	}
	return o, nil
}

func parseRef(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " UTC")
	s = strings.TrimSuffix(s, "Z")
	// Drop fractional seconds such as "00:00:0.0".
	if i := strings.LastIndex(s, "."); i > 0 && strings.Count(s, ":") == 2 {
		if _, err := strconv.Atoi(s[i+1:]); err == nil {
			s = s[:i]
		}
	}
	for _, l := range refLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported reference time %q", s)
}
