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


// Package catalogue provides gridded datasets stored in NetCDF files.
// The available datasets are listed in a TOML configuration file.
package catalogue

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset"
)

// Config lists the datasets in a catalogue.
type Config struct {
	Datasets []DatasetConfig `toml:"Dataset"`
}

// DatasetConfig describes one dataset.
type DatasetConfig struct {
	// ID identifies the dataset in requests.
	ID string

	// Title is a human-readable description.
	Title string

	// Grid names the horizontal grid of the dataset. Datasets with the
	// same Grid share precomputed region masks. It defaults to ID.
	Grid string

	// Path is the location of the NetCDF file. Environment variables
	// are expanded.
	Path string

	// LonVar, LatVar and TimeVar are the names of the coordinate
	// variables. They default to "lon", "lat" and "time".
	LonVar, LatVar, TimeVar string

	// Variables are the data variables to extract. If empty, every
	// variable with time, latitude and longitude dimensions is used.
	Variables []string
}

// LoadConfig reads a catalogue configuration from r.
func LoadConfig(r io.Reader) (*Config, error) {
	c := new(Config)
	if _, err := toml.DecodeReader(r, c); err != nil {
		return nil, fmt.Errorf("catalogue: decoding configuration: %w", err)
	}
	for i := range c.Datasets {
		d := &c.Datasets[i]
		d.Path = os.ExpandEnv(d.Path)
		if d.LonVar == "" {
			d.LonVar = "lon"
		}
		if d.LatVar == "" {
			d.LatVar = "lat"
		}
		if d.TimeVar == "" {
			d.TimeVar = "time"
		}
		if d.Title == "" {
			d.Title = d.ID
		}
		if d.Grid == "" {
			d.Grid = d.ID
		}
	}
	return c, nil
}

// LoadConfigFile reads a catalogue configuration from the named file.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// DefaultCacheEntries is the default number of dataset descriptions
// kept in memory.
const DefaultCacheEntries = 64

// Catalogue is a gridsubset.Catalogue of NetCDF datasets. A dataset
// whose file does not exist or cannot be read is unavailable until the
// file is fixed. Dataset descriptions are cached until the file changes.
// It is safe for concurrent use.
type Catalogue struct {
	configs map[string]DatasetConfig
	ids     []string
	log     logrus.FieldLogger

	mu    sync.Mutex
	cache *lru.Cache
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	ds      *Dataset
}

// New returns a catalogue of the datasets in c, caching up to
// maxEntries dataset descriptions.
func New(c *Config, maxEntries int, log logrus.FieldLogger) (*Catalogue, error) {
	cat := &Catalogue{
		configs: make(map[string]DatasetConfig),
		log:     log,
		cache:   lru.New(maxEntries),
	}
	if cat.log == nil {
		cat.log = logrus.StandardLogger()
	}
	for _, d := range c.Datasets {
		if d.ID == "" {
			return nil, fmt.Errorf("catalogue: dataset with path %s is missing an ID", d.Path)
		}
		if _, ok := cat.configs[d.ID]; ok {
			return nil, fmt.Errorf("catalogue: duplicate dataset ID %s", d.ID)
		}
		cat.configs[d.ID] = d
		cat.ids = append(cat.ids, d.ID)
	}
	sort.Strings(cat.ids)
	return cat, nil
}

// Dataset implements gridsubset.Catalogue.
func (c *Catalogue) Dataset(id string) (gridsubset.Dataset, bool) {
	d, err := c.open(id)
	if err != nil {
		c.log.WithFields(logrus.Fields{"dataset": id}).WithError(err).Debug("dataset unavailable")
		return nil, false
	}
	return d, true
}

// Datasets implements gridsubset.Catalogue. It returns the available
// datasets, sorted by ID.
func (c *Catalogue) Datasets() []gridsubset.Dataset {
	var o []gridsubset.Dataset
	for _, id := range c.ids {
		if d, ok := c.Dataset(id); ok {
			o = append(o, d)
		}
	}
	return o
}

func (c *Catalogue) open(id string) (*Dataset, error) {
	cfg, ok := c.configs[id]
	if !ok {
		return nil, fmt.Errorf("catalogue: no dataset %s", id)
	}
	fi, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}

	c.mu.Lock()
	if e, ok := c.cache.Get(id); ok {
		e := e.(*cacheEntry)
		if e.modTime.Equal(fi.ModTime()) && e.size == fi.Size() {
			c.mu.Unlock()
			return e.ds, nil
		}
		c.cache.Remove(id)
	}
	c.mu.Unlock()

	d, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"dataset":   id,
		"path":      cfg.Path,
		"variables": d.vars,
		"timesteps": len(d.times),
	}).Info("loaded dataset")

	c.mu.Lock()
	c.cache.Add(id, &cacheEntry{modTime: fi.ModTime(), size: fi.Size(), ds: d})
	c.mu.Unlock()
	return d, nil
}
