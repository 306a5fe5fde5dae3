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


package subsetutil

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset"
	"github.com/spatialmodel/gridsubset/catalogue"
	"github.com/spatialmodel/gridsubset/jobstore"
	"github.com/spatialmodel/gridsubset/notify"
	"github.com/spatialmodel/gridsubset/regions"
	"github.com/spatialmodel/gridsubset/server"
	"github.com/spatialmodel/gridsubset/storage"
	"github.com/spf13/cast"
)

// Serve runs the HTTP server configured by cfg until ctx is cancelled.
func Serve(ctx context.Context, cfg *viper.Viper, log logrus.FieldLogger) error {
	s, err := NewServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	addr := cfg.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("listening")

	select {
	case err = <-errc:
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = srv.Shutdown(sctx)
		cancel()
	}
	if cerr := s.Jobs.Close(); err == nil {
		err = cerr
	}
	return err
}

// NewServer sets up the job store and everything it depends on as
// configured by cfg. The job store starts running recovered jobs at
// once; it must be closed by the caller.
func NewServer(ctx context.Context, cfg *viper.Viper, log logrus.FieldLogger) (*server.Server, error) {
	catPath := cfg.GetString("catalogue")
	if catPath == "" {
		return nil, fmt.Errorf("gridsubset: the catalogue file must be specified")
	}
	catCfg, err := catalogue.LoadConfigFile(os.ExpandEnv(catPath))
	if err != nil {
		return nil, err
	}
	cat, err := catalogue.New(catCfg, cfg.GetInt("cachesize"), log)
	if err != nil {
		return nil, err
	}

	rs, err := LoadRegions(os.ExpandEnv(cfg.GetString("regions")), cfg.GetString("maskgrid"),
		cfg.GetString("regionid"), cfg.GetString("regionlabel"))
	if err != nil {
		return nil, err
	}

	output, err := storage.Open(ctx, os.ExpandEnv(cfg.GetString("output")))
	if err != nil {
		return nil, err
	}
	state := output.Sub("state")
	if u := cfg.GetString("state"); u != "" {
		if state, err = storage.Open(ctx, os.ExpandEnv(u)); err != nil {
			return nil, err
		}
	}

	durations := make(map[string]time.Duration)
	for _, name := range []string{"datasetwait", "retention.downloaded", "retention.completed"} {
		d, err := durationOption(cfg, name)
		if err != nil {
			return nil, err
		}
		durations[name] = d
	}

	x := &gridsubset.Extractor{
		Catalogue:    cat,
		Regions:      rs,
		Masks:        gridsubset.NewMaskCache(cfg.GetInt("maskcache")),
		Output:       output,
		TempDir:      os.ExpandEnv(cfg.GetString("tempdir")),
		AreaWeighted: cfg.GetBool("areaweighted"),
		DatasetWait:  durations["datasetwait"],
		Log:          log,
	}

	jcfg := jobstore.Config{
		Runner:        x,
		Output:        output,
		State:         state,
		Workers:       cfg.GetInt("workers"),
		DownloadedTTL: durations["retention.downloaded"],
		TTL:           durations["retention.completed"],
		Log:           log,
	}
	if addr := cfg.GetString("smtp.addr"); addr != "" {
		jcfg.Notifier = &notify.Notifier{
			Sender: &notify.Mailer{
				Addr:       addr,
				User:       cfg.GetString("smtp.user"),
				Password:   cfg.GetString("smtp.password"),
				From:       cfg.GetString("smtp.from"),
				ReplyTo:    cfg.GetString("smtp.replyto"),
				MaxRetries: uint64(cfg.GetInt("smtp.retries")),
				Log:        log,
			},
			PublicURL: cfg.GetString("publicurl"),
			Name:      cfg.GetString("name"),
		}
	} else {
		log.Warn("no SMTP server configured; notification emails will not be sent")
	}
	jobs, err := jobstore.Open(ctx, jcfg)
	if err != nil {
		return nil, err
	}
	return &server.Server{Jobs: jobs, Catalogue: cat, Regions: rs, Log: log}, nil
}

// durationOption returns the duration set for the option name, or zero
// if it is not set.
func durationOption(cfg *viper.Viper, name string) (time.Duration, error) {
	v := cfg.Get(name)
	if v == nil {
		return 0, nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, fmt.Errorf("gridsubset: invalid %s: %v", name, err)
	}
	return d, nil
}

// LoadRegions loads the regions in path. Shapefiles and GeoJSON files
// are recognised by their extension and read with the attributes
// idField and labelField. Any other file is read as a mask file whose
// cells are on the grid named grid. If path is empty, there are no
// regions.
func LoadRegions(path, grid, idField, labelField string) (gridsubset.Regions, error) {
	if path == "" {
		return gridsubset.Regions{}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return regions.LoadShapefile(path, idField, labelField)
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("gridsubset: %v", err)
		}
		defer f.Close()
		return regions.LoadGeoJSON(f, idField, labelField)
	default:
		if grid == "" {
			return nil, fmt.Errorf("gridsubset: maskgrid must be set to use mask file %s", path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("gridsubset: %v", err)
		}
		defer f.Close()
		return regions.ReadMaskFile(f, grid)
	}
}
