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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/spatialmodel/gridsubset"
)

// ReadMaskFile reads regions from a mask file. Each region takes two
// lines. The first is "ID:Label:minx,miny,maxx,maxy", giving the
// region envelope. The second lists the member cells as
// "x y,x y,...", where x and y are column and row indices on the grid
// of the dataset named grid.
func ReadMaskFile(r io.Reader, grid string) (gridsubset.Regions, error) {
	rs := make(gridsubset.Regions)
	br := bufio.NewReader(r)
	line := 0
	next := func() (string, error) {
		s, err := br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		line++
		return strings.TrimRight(s, "\r\n"), err
	}
	for {
		head, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("regions: reading mask file: %w", err)
		}
		if strings.TrimSpace(head) == "" {
			continue
		}
		reg, err := parseHeader(head)
		if err != nil {
			return nil, fmt.Errorf("regions: mask file line %d: %w", line, err)
		}
		cells, err := next()
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("regions: reading mask file: %w", err)
		}
		if reg.Cells, err = parseCells(cells); err != nil {
			return nil, fmt.Errorf("regions: mask file line %d: %w", line, err)
		}
		reg.Grid = grid
		if _, ok := rs[reg.ID]; ok {
			return nil, fmt.Errorf("regions: mask file line %d: duplicate region %s", line, reg.ID)
		}
		rs[reg.ID] = reg
	}
	return rs, nil
}

func parseHeader(s string) (*gridsubset.RegionDefinition, error) {
	i, j := strings.Index(s, ":"), strings.LastIndex(s, ":")
	if i < 0 || i == j {
		return nil, fmt.Errorf("invalid region header %q", s)
	}
	r := &gridsubset.RegionDefinition{
		ID:    strings.TrimSpace(s[:i]),
		Label: strings.TrimSpace(s[i+1 : j]),
	}
	if r.ID == "" {
		return nil, fmt.Errorf("missing region ID in %q", s)
	}
	f := strings.Split(s[j+1:], ",")
	if len(f) != 4 {
		return nil, fmt.Errorf("invalid envelope %q", s[j+1:])
	}
	var v [4]float64
	for k, fs := range f {
		var err error
		if v[k], err = strconv.ParseFloat(strings.TrimSpace(fs), 64); err != nil {
			return nil, fmt.Errorf("invalid envelope %q: %w", s[j+1:], err)
		}
	}
	r.Envelope = geom.Bounds{Min: geom.Point{X: v[0], Y: v[1]}, Max: geom.Point{X: v[2], Y: v[3]}}
	return r, nil
}

func parseCells(s string) (gridsubset.CellSet, error) {
	cells := gridsubset.NewCellSet()
	s = strings.TrimSpace(s)
	if s == "" {
		return cells, nil
	}
	for _, p := range strings.Split(s, ",") {
		xy := strings.Fields(p)
		if len(xy) != 2 {
			return nil, fmt.Errorf("invalid cell %q", p)
		}
		x, err := strconv.Atoi(xy[0])
		if err != nil {
			return nil, fmt.Errorf("invalid cell %q: %w", p, err)
		}
		y, err := strconv.Atoi(xy[1])
		if err != nil {
			return nil, fmt.Errorf("invalid cell %q: %w", p, err)
		}
		cells.Add(gridsubset.CellCoord{X: x, Y: y})
	}
	return cells, nil
}

// WriteMaskFile writes the member cells of the regions in rs to w in
// the format read by ReadMaskFile. Regions are written in ID order and
// cells in row order. Regions without member cells are written with
// an empty cell line.
func WriteMaskFile(w io.Writer, rs gridsubset.Regions) error {
	bw := bufio.NewWriter(w)
	ftoa := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	for _, id := range rs.IDs() {
		r := rs[id]
		b := r.Envelope
		fmt.Fprintf(bw, "%s:%s:%s,%s,%s,%s\n", r.ID, r.Label,
			ftoa(b.Min.X), ftoa(b.Min.Y), ftoa(b.Max.X), ftoa(b.Max.Y))
		for i, c := range r.Cells.Sorted() {
			if i > 0 {
				bw.WriteByte(',')
			}
			fmt.Fprintf(bw, "%d %d", c.X, c.Y)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
