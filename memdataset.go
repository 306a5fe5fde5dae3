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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ctessum/geom"
)

// MemDataset is a Dataset held in memory. It is mainly useful for testing.
type MemDataset struct {
	Name, Label string
	Grid        *Grid
	Times       []time.Time

	// Values are shaped (len(Times), 1, Grid.NY(), Grid.NX()).
	Values map[string]*Array4D
	Units  map[string]string
}

// ID returns the dataset name.
func (d *MemDataset) ID() string { return d.Name }

// Title returns the dataset label.
func (d *MemDataset) Title() string { return d.Label }

// VariableIDs returns the sorted variable names.
func (d *MemDataset) VariableIDs() []string {
	o := make([]string, 0, len(d.Values))
	for v := range d.Values {
		o = append(o, v)
	}
	sort.Strings(o)
	return o
}

// TimeExtent returns the first and last time step.
func (d *MemDataset) TimeExtent() (TimeRange, error) {
	if len(d.Times) == 0 {
		return TimeRange{}, fmt.Errorf("gridsubset: dataset %s has no time steps", d.Name)
	}
	return TimeRange{Start: d.Times[0], End: d.Times[len(d.Times)-1]}, nil
}

// ExtractGrid implements Dataset.
func (d *MemDataset) ExtractGrid(ctx context.Context, vars []string, b *geom.Bounds, tr TimeRange) (*GridFeature, error) {
	x0, x1, y0, y1, _ := d.Grid.Window(b)
	t0, t1 := tr.Window(d.Times)
	f := &GridFeature{
		Grid:   d.Grid.Sub(x0, x1, y0, y1),
		Times:  append([]time.Time(nil), d.Times[t0:t1]...),
		Values: make(map[string]*Array4D, len(vars)),
		Units:  d.Units,
	}
	for _, v := range vars {
		a, ok := d.Values[v]
		if !ok {
			return nil, fmt.Errorf("gridsubset: dataset %s has no variable %s", d.Name, v)
		}
		f.Values[v] = a.Window(t0, t1, y0, y1, x0, x1)
	}
	return f, nil
}

// ExtractPointSeries implements Dataset. It returns no series if p is
// outside of the grid.
func (d *MemDataset) ExtractPointSeries(ctx context.Context, vars []string, p geom.Point, tr TimeRange) ([]*PointSeries, error) {
	c, ok := d.Grid.Locate(p)
	if !ok {
		return nil, nil
	}
	t0, t1 := tr.Window(d.Times)
	s := &PointSeries{
		Location: d.Grid.Centroid(c),
		Times:    append([]time.Time(nil), d.Times[t0:t1]...),
		Values:   make(map[string][]float64, len(vars)),
	}
	for _, v := range vars {
		a, ok := d.Values[v]
		if !ok {
			return nil, fmt.Errorf("gridsubset: dataset %s has no variable %s", d.Name, v)
		}
		vals := make([]float64, t1-t0)
		for t := t0; t < t1; t++ {
			vals[t-t0] = a.Get(t, 0, c.Y, c.X)
		}
		s.Values[v] = vals
	}
	return []*PointSeries{s}, nil
}

// WriteNetCDF implements Dataset.
func (d *MemDataset) WriteNetCDF(f *GridFeature, path string, excluded CellSet) error {
	return WriteNetCDF(f, path, excluded)
}

// MemCatalogue is a Catalogue of datasets held in memory. It is safe
// for concurrent use.
type MemCatalogue struct {
	mu       sync.RWMutex
	datasets map[string]Dataset
}

// NewMemCatalogue returns a catalogue holding the given datasets.
func NewMemCatalogue(datasets ...Dataset) *MemCatalogue {
	c := &MemCatalogue{datasets: make(map[string]Dataset)}
	for _, d := range datasets {
		c.Add(d)
	}
	return c
}

// Add adds or replaces a dataset.
func (c *MemCatalogue) Add(d Dataset) {
	c.mu.Lock()
	c.datasets[d.ID()] = d
	c.mu.Unlock()
}

// Dataset implements Catalogue.
func (c *MemCatalogue) Dataset(id string) (Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.datasets[id]
	return d, ok
}

// Datasets implements Catalogue. The datasets are sorted by ID.
func (c *MemCatalogue) Datasets() []Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o := make([]Dataset, 0, len(c.datasets))
	for _, d := range c.datasets {
		o = append(o, d)
	}
	sort.Slice(o, func(i, j int) bool { return o[i].ID() < o[j].ID() })
	return o
}
