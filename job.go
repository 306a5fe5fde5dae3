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
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ctessum/geom"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobState is the state of a SubsetJob.
type JobState int32

// These are the job states. Succeeded and Failed are terminal.
const (
	Created JobState = iota
	Running
	Succeeded
	Failed
)

func (s JobState) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int32(s))
	}
}

// ResultStore receives the output files of successful jobs.
type ResultStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
}

// Extractor holds what is needed to run subset jobs.
type Extractor struct {
	Catalogue Catalogue
	Regions   Regions
	Masks     *MaskCache

	// Output receives job output files, keyed by job ID.
	Output ResultStore

	// TempDir is where output files are written before they are
	// stored. If empty, the system temporary directory is used.
	TempDir string

	// AreaWeighted specifies whether area means weight cells by the
	// fraction of their area within the box or region geometry.
	AreaWeighted bool

	// DatasetWait is how long a job waits for its dataset to become
	// available. If zero, jobs for unavailable datasets fail at once
	// with a DatasetUnavailable error.
	DatasetWait time.Duration

	Log logrus.FieldLogger

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

func (x *Extractor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

func (x *Extractor) log() logrus.FieldLogger {
	if x.Log != nil {
		return x.Log
	}
	return logrus.StandardLogger()
}

// NewJob returns a job that fulfils req.
func (x *Extractor) NewJob(req SubsetRequest) *SubsetJob {
	return &SubsetJob{Request: req, x: x}
}

// Run runs a new job for req.
func (x *Extractor) Run(ctx context.Context, req SubsetRequest) Result {
	return x.NewJob(req).Run(ctx)
}

// SubsetJob extracts one subset request. A job runs at most once.
type SubsetJob struct {
	Request SubsetRequest

	x     *Extractor
	state int32
}

// State returns the current state of the job.
func (j *SubsetJob) State() JobState { return JobState(atomic.LoadInt32(&j.state)) }

// Result is the outcome of a SubsetJob.
type Result struct {
	ID        string
	Request   SubsetRequest
	State     JobState
	Completed time.Time

	// Kind and Err describe the failure of a failed job.
	Kind ErrorKind
	Err  string
}

// Success reports whether the job succeeded.
func (r Result) Success() bool { return r.State == Succeeded }

// Run extracts the subset and stores the output file under the job ID.
// Errors are captured in the returned Result rather than returned.
// If the job fails, no output is stored.
func (j *SubsetJob) Run(ctx context.Context) Result {
	id := j.Request.JobID()
	res := Result{ID: id, Request: j.Request}
	log := j.x.log().WithFields(logrus.Fields{
		"job":     id,
		"dataset": j.Request.Dataset,
	})

	if !atomic.CompareAndSwapInt32(&j.state, int32(Created), int32(Running)) {
		res.State = Failed
		res.Kind = ExtractionError
		res.Err = fmt.Sprintf("gridsubset: job %s has already been run", id)
		res.Completed = j.x.now()
		return res
	}
	log.Debug("running job")
	err := j.runSafely(ctx, log)

	res.Completed = j.x.now()
	if err != nil {
		res.State = Failed
		res.Kind = KindOf(err)
		if res.Kind == UnknownKind {
			res.Kind = ExtractionError
		}
		res.Err = err.Error()
		log.WithError(err).Error("job failed")
	} else {
		res.State = Succeeded
		log.Info("job completed")
	}
	atomic.StoreInt32(&j.state, int32(res.State))
	return res
}

func (j *SubsetJob) runSafely(ctx context.Context, log logrus.FieldLogger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Errorf(ExtractionError, "panic during extraction: %v", p)
		}
	}()
	return j.run(ctx, log)
}

func (j *SubsetJob) run(ctx context.Context, log logrus.FieldLogger) error {
	ds, err := j.x.dataset(ctx, j.Request.Dataset, log)
	if err != nil {
		return err
	}
	vars := ds.VariableIDs()

	var region *RegionDefinition
	var bounds *geom.Bounds
	switch sel := j.Request.Selector.(type) {
	case Point:
		bounds = sel.Bounds()
	case BoundingBox:
		bounds = sel.Bounds()
	case NamedRegion:
		if region, err = j.x.Regions.Lookup(sel.ID); err != nil {
			return err
		}
		bounds = region.Bounds()
	default:
		return Errorf(ValidationError, "unsupported selector %v", sel)
	}

	tempDir := j.x.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	path := filepath.Join(tempDir, uuid.New().String()+j.Request.Format.Ext())
	defer os.Remove(path)

	pt, isPoint := j.Request.Selector.(Point)
	switch {
	case j.Request.Format == NetCDF:
		err = j.writeNetCDF(ctx, ds, vars, bounds, region, path)
	case isPoint:
		err = j.writePoint(ctx, ds, vars, pt, path)
	default:
		err = j.writeArea(ctx, ds, vars, bounds, region, path)
	}
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return WrapError(IOError, err, "opening output file")
	}
	defer f.Close()
	if err := j.x.Output.Put(ctx, j.Request.JobID(), f); err != nil {
		return WrapError(IOError, err, "storing output file")
	}
	return nil
}

// dataset returns the requested dataset, waiting up to DatasetWait
// for it to become available.
func (x *Extractor) dataset(ctx context.Context, id string, log logrus.FieldLogger) (Dataset, error) {
	ds, ok := x.Catalogue.Dataset(id)
	if ok {
		return ds, nil
	}
	unavailable := Errorf(DatasetUnavailable, "dataset %s is not available", id)
	if x.DatasetWait <= 0 {
		return nil, unavailable
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = x.DatasetWait
	err := backoff.RetryNotify(func() error {
		if ds, ok = x.Catalogue.Dataset(id); !ok {
			return unavailable
		}
		return nil
	}, backoff.WithContext(b, ctx), func(_ error, wait time.Duration) {
		log.WithField("wait", wait).Debug("dataset not available yet")
	})
	if err != nil {
		return nil, unavailable
	}
	return ds, nil
}

func (j *SubsetJob) extractGrid(ctx context.Context, ds Dataset, vars []string, b *geom.Bounds, region *RegionDefinition) (*GridFeature, CellSet, error) {
	f, err := ds.ExtractGrid(ctx, vars, b, j.Request.Time)
	if err != nil {
		return nil, nil, WrapError(ExtractionError, err, "extracting grid")
	}
	excluded, err := j.x.Masks.CellsToExclude(ctx, f.Grid, region)
	if err != nil {
		return nil, nil, WrapError(ExtractionError, err, "computing mask")
	}
	return f, excluded, nil
}

func (j *SubsetJob) writeNetCDF(ctx context.Context, ds Dataset, vars []string, b *geom.Bounds, region *RegionDefinition, path string) error {
	f, excluded, err := j.extractGrid(ctx, ds, vars, b, region)
	if err != nil {
		return err
	}
	if err := ds.WriteNetCDF(f, path, excluded); err != nil {
		return WrapError(IOError, err, "writing NetCDF")
	}
	return nil
}

func (j *SubsetJob) writeArea(ctx context.Context, ds Dataset, vars []string, b *geom.Bounds, region *RegionDefinition, path string) error {
	f, excluded, err := j.extractGrid(ctx, ds, vars, b, region)
	if err != nil {
		return err
	}
	var weights []float64
	if j.x.AreaWeighted {
		switch {
		case region == nil:
			weights = BoxWeights(f.Grid, b)
		case region.Geometry != nil:
			weights = RegionWeights(f.Grid, region.Geometry)
		}
	}
	return writeFile(path, func(w io.Writer) error {
		return WriteAreaCSV(w, vars, f, excluded, weights)
	})
}

func (j *SubsetJob) writePoint(ctx context.Context, ds Dataset, vars []string, p Point, path string) error {
	series, err := ds.ExtractPointSeries(ctx, vars, geom.Point{X: p.Lon, Y: p.Lat}, j.Request.Time)
	if err != nil {
		return WrapError(ExtractionError, err, "extracting time series")
	}
	switch len(series) {
	case 1:
	case 0:
		return Errorf(NotFound, "no time series found at %v", p)
	default:
		return Errorf(AmbiguousFeature, "%d time series found at %v", len(series), p)
	}
	return writeFile(path, func(w io.Writer) error {
		return WritePointCSV(w, vars, series[0])
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return WrapError(IOError, err, "creating output file")
	}
	if err := write(f); err != nil {
		f.Close()
		return WrapError(IOError, err, "writing output file")
	}
	if err := f.Close(); err != nil {
		return WrapError(IOError, err, "closing output file")
	}
	return nil
}
