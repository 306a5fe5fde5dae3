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


// Package jobstore queues subset jobs, runs them on a bounded worker
// pool and keeps track of their results until they expire.
//
// The tables of pending and finished jobs are persisted to a blob
// storage bucket after every change and reloaded by Open, which
// re-submits every job that was pending when the process stopped.
package jobstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset"
)

// Runner runs subset requests. *gridsubset.Extractor is a Runner.
type Runner interface {
	Run(ctx context.Context, req gridsubset.SubsetRequest) gridsubset.Result
}

// Bucket is blob storage for output files and job tables.
// *storage.Store is a Bucket.
type Bucket interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	ReadAll(ctx context.Context, key string) ([]byte, error)
	WriteAll(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Notifier tells a requester that a job has finished.
type Notifier interface {
	JobFinished(ctx context.Context, to gridsubset.Identity, job Finished) error
}

// These are the defaults for the Config fields of the same names.
const (
	DefaultDownloadedTTL = 24 * time.Hour
	DefaultTTL           = 7 * 24 * time.Hour
	DefaultSweepSchedule = "@every 15m"
)

// Config configures a Store.
type Config struct {
	// Runner runs the jobs. It must store the output of successful
	// jobs in Output under the job ID.
	Runner Runner

	// Output holds job output files and State holds the job tables.
	Output, State Bucket

	// Notifier, if not nil, is told about finished jobs.
	Notifier Notifier

	// Workers is the maximum number of jobs that run at once.
	// If zero, DefaultWorkers() is used.
	Workers int

	// Finished jobs are deleted DownloadedTTL after they are first
	// downloaded or TTL after they finish, whichever is sooner.
	DownloadedTTL, TTL time.Duration

	// SweepSchedule is the cron schedule for deleting expired jobs.
	SweepSchedule string

	Log logrus.FieldLogger

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// Store holds the pending and finished jobs. It is safe for
// concurrent use.
type Store struct {
	cfg Config
	log logrus.FieldLogger
	ctx context.Context

	mu         sync.Mutex
	pending    map[string]*Pending
	finished   []*Finished // in order of completion
	byID       map[string]*Finished
	byIdentity map[gridsubset.Identity][]*Finished
	closed     bool

	// unsaved holds the pending records of finished jobs whose result
	// has not been persisted. They are kept in the persisted pending
	// table so that the jobs run again after a restart.
	unsaved map[string]*Pending

	// deleting holds the output keys that Sweep is deleting. Jobs
	// with those IDs wait for the channel to close before running.
	deleting map[string]chan struct{}

	pool      *pool
	done      chan gridsubset.Result
	ownerDone chan struct{}
	notifyWG  sync.WaitGroup
	cron      *cron.Cron
}

// Open loads the persisted job tables from cfg.State, re-submits the
// jobs that were pending and starts the expiry schedule. ctx is passed
// to running jobs and to storage operations that are not part of a
// request.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Runner == nil || cfg.Output == nil || cfg.State == nil {
		return nil, fmt.Errorf("jobstore: Runner, Output and State must be set")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.DownloadedTTL <= 0 {
		cfg.DownloadedTTL = DefaultDownloadedTTL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	s := &Store{
		cfg:       cfg,
		log:       cfg.Log,
		ctx:       ctx,
		pool:      newPool(cfg.Workers),
		done:      make(chan gridsubset.Result),
		ownerDone: make(chan struct{}),
		cron:      cron.New(),
		unsaved:   make(map[string]*Pending),
		deleting:  make(map[string]chan struct{}),
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}

	var err error
	if s.pending, err = s.loadPending(); err != nil {
		return nil, err
	}
	if s.finished, err = s.loadFinished(); err != nil {
		return nil, err
	}
	s.rebuild()

	if err := s.cron.AddFunc(cfg.SweepSchedule, func() { s.Sweep(s.now()) }); err != nil {
		return nil, fmt.Errorf("jobstore: invalid sweep schedule: %w", err)
	}
	go s.own()
	s.cron.Start()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.mu.Lock()
	for _, id := range ids {
		s.dispatch(s.pending[id].Request)
	}
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"pending":  len(s.pending),
		"finished": len(s.finished),
		"workers":  cfg.Workers,
	}).Info("opened job store")
	return s, nil
}

func (s *Store) now() time.Time {
	if s.cfg.Now != nil {
		return s.cfg.Now()
	}
	return time.Now()
}

// Submit queues req, returning its job ID. If a job with the same ID
// is pending, it is not queued again. If one has already succeeded,
// the requester is added to it and notified at once. Submit does not
// wait for the job to run.
func (s *Store) Submit(ctx context.Context, req gridsubset.SubsetRequest) (string, error) {
	id := req.JobID()
	log := s.log.WithFields(logrus.Fields{"job": id, "email": req.Identity.Email})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("jobstore: store is closed")
	}
	if p, ok := s.pending[id]; ok {
		var added bool
		if p.Requesters, added = addRequester(p.Requesters, req.Identity); added {
			s.savePending()
		}
		s.mu.Unlock()
		log.Info("request joined pending job")
		return id, nil
	}
	if f, ok := s.byID[id]; ok && f.Success {
		var added bool
		if f.Requesters, added = addRequester(f.Requesters, req.Identity); added {
			s.rebuild()
			s.saveFinished()
		}
		job := f.copy()
		s.mu.Unlock()
		log.Info("request matches finished job")
		if added {
			s.notify(req.Identity, job)
		}
		return id, nil
	}
	// Requesters of an earlier failed run are told about the new one.
	var requesters []gridsubset.Identity
	if f, ok := s.byID[id]; ok {
		requesters = append(requesters, f.Requesters...)
	}
	requesters, _ = addRequester(requesters, req.Identity)
	s.pending[id] = &Pending{
		Request:    req,
		Submitted:  s.now(),
		Requesters: requesters,
	}
	s.savePending()
	s.dispatch(req)
	s.mu.Unlock()
	log.Info("submitted job")
	return id, nil
}

// dispatch hands req to the worker pool. The caller must hold s.mu.
func (s *Store) dispatch(req gridsubset.SubsetRequest) {
	id := req.JobID()
	s.pool.Submit(func() {
		s.done <- s.run(req)
	}, func() {
		s.log.WithField("job", id).Info("job left pending at shutdown")
	})
}

func (s *Store) run(req gridsubset.SubsetRequest) (res gridsubset.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = gridsubset.Result{
				ID:      req.JobID(),
				Request: req,
				State:   gridsubset.Failed,
				Kind:    gridsubset.ExtractionError,
				Err:     fmt.Sprintf("panic while running job: %v", p),
			}
		}
	}()
	s.mu.Lock()
	deleting := s.deleting[req.JobID()]
	s.mu.Unlock()
	if deleting != nil {
		<-deleting
	}
	return s.cfg.Runner.Run(s.ctx, req)
}

// own applies job results until the pool is stopped.
func (s *Store) own() {
	for res := range s.done {
		s.finish(res)
	}
	close(s.ownerDone)
}

// finish moves a job from the pending to the finished table, replacing
// any earlier result of the same job, and notifies its requesters.
func (s *Store) finish(res gridsubset.Result) {
	if res.ID == "" {
		res.ID = res.Request.JobID()
	}
	if res.Completed.IsZero() {
		res.Completed = s.now()
	}
	s.mu.Lock()
	rec := &Finished{
		ID:         res.ID,
		Request:    res.Request,
		Completed:  res.Completed,
		Success:    res.Success(),
		Kind:       res.Kind,
		Err:        res.Err,
		Requesters: []gridsubset.Identity{res.Request.Identity},
	}
	if p, ok := s.pending[res.ID]; ok {
		rec.Requesters = p.Requesters
		delete(s.pending, res.ID)
		s.unsaved[res.ID] = p
	}
	if rec.Success {
		rec.OutputKey = res.ID
	}
	for i, f := range s.finished {
		if f.ID == res.ID {
			s.finished = append(s.finished[:i], s.finished[i+1:]...)
			break
		}
	}
	s.finished = append(s.finished, rec)
	s.rebuild()
	// The finished table is saved first so that a failure in between
	// leaves the job pending rather than lost.
	s.saveFinished()
	s.savePending()
	job := rec.copy()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"job":        job.ID,
		"success":    job.Success,
		"requesters": len(job.Requesters),
	}).Info("job finished")
	for _, to := range job.Requesters {
		s.notify(to, job)
	}
}

func (s *Store) notify(to gridsubset.Identity, job Finished) {
	if s.cfg.Notifier == nil {
		return
	}
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		if err := s.cfg.Notifier.JobFinished(s.ctx, to, job); err != nil {
			s.log.WithFields(logrus.Fields{"job": job.ID, "email": to.Email}).
				WithError(err).Warn("sending notification")
		}
	}()
}

// rebuild rebuilds the indices of the finished table. The caller must
// hold s.mu.
func (s *Store) rebuild() {
	sort.SliceStable(s.finished, func(i, j int) bool {
		return s.finished[i].Completed.Before(s.finished[j].Completed)
	})
	s.byID = make(map[string]*Finished, len(s.finished))
	s.byIdentity = make(map[gridsubset.Identity][]*Finished)
	for _, f := range s.finished {
		s.byID[f.ID] = f
		for _, who := range f.Requesters {
			s.byIdentity[who] = append(s.byIdentity[who], f)
		}
	}
}

// Lookup returns the finished job with the given ID.
func (s *Store) Lookup(id string) (Finished, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		if _, ok := s.pending[id]; ok {
			return Finished{}, gridsubset.Errorf(gridsubset.NotFound, "job %s has not finished", id)
		}
		return Finished{}, gridsubset.Errorf(gridsubset.NotFound, "no job %s", id)
	}
	return f.copy(), nil
}

// IsPending reports whether the job with the given ID is waiting or
// running.
func (s *Store) IsPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// ListPending returns the pending jobs in order of submission.
func (s *Store) ListPending() []Pending {
	s.mu.Lock()
	o := make([]Pending, 0, len(s.pending))
	for _, p := range s.pending {
		o = append(o, p.copy())
	}
	s.mu.Unlock()
	sort.Slice(o, func(i, j int) bool {
		if !o[i].Submitted.Equal(o[j].Submitted) {
			return o[i].Submitted.Before(o[j].Submitted)
		}
		return o[i].Request.JobID() < o[j].Request.JobID()
	})
	return o
}

// ListFinished returns the finished jobs requested by who, in order
// of completion.
func (s *Store) ListFinished(who gridsubset.Identity) []Finished {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.byIdentity[who]
	o := make([]Finished, len(l))
	for i, f := range l {
		o[i] = f.copy()
	}
	return o
}

// ListAll returns all pending jobs and all finished jobs.
func (s *Store) ListAll() ([]Pending, []Finished) {
	pending := s.ListPending()
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := make([]Finished, len(s.finished))
	for i, f := range s.finished {
		finished[i] = f.copy()
	}
	return pending, finished
}

// Retrieve opens the output file of a successful job and marks the job
// as downloaded. The error is of kind gridsubset.NotFound if the job is
// unknown, failed or has no output file.
func (s *Store) Retrieve(ctx context.Context, id string) (io.ReadCloser, Finished, error) {
	s.mu.Lock()
	f, ok := s.byID[id]
	if !ok || !f.Success {
		s.mu.Unlock()
		return nil, Finished{}, gridsubset.Errorf(gridsubset.NotFound, "no output for job %s", id)
	}
	key := f.OutputKey
	s.mu.Unlock()

	r, err := s.cfg.Output.Get(ctx, key)
	if err != nil {
		return nil, Finished{}, gridsubset.WrapError(gridsubset.IOError, err, "retrieving output of job "+id)
	}

	s.mu.Lock()
	f, ok = s.byID[id]
	if !ok {
		s.mu.Unlock()
		r.Close()
		return nil, Finished{}, gridsubset.Errorf(gridsubset.NotFound, "job %s has expired", id)
	}
	if !f.Downloaded {
		f.Downloaded = true
		f.DownloadTime = s.now()
		s.saveFinished()
	}
	job := f.copy()
	s.mu.Unlock()
	return r, job, nil
}

// Sweep deletes the finished jobs that have expired at time now,
// together with their output files, and returns how many were deleted.
// It runs on the schedule in Config.SweepSchedule.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	keep := s.finished[:0]
	var expired []*Finished
	for _, f := range s.finished {
		if f.Expired(now, s.cfg.DownloadedTTL, s.cfg.TTL) {
			expired = append(expired, f)
		} else {
			keep = append(keep, f)
		}
	}
	if len(expired) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.finished = keep
	s.rebuild()
	s.saveFinished()
	done := make(chan struct{})
	var keys []string
	for _, f := range expired {
		if f.OutputKey == "" {
			continue
		}
		if _, ok := s.deleting[f.OutputKey]; !ok {
			s.deleting[f.OutputKey] = done
			keys = append(keys, f.OutputKey)
		}
	}
	s.mu.Unlock()

	for _, key := range keys {
		if err := s.cfg.Output.Delete(s.ctx, key); err != nil {
			s.log.WithField("job", key).WithError(err).Warn("deleting expired output")
		}
	}

	s.mu.Lock()
	for _, key := range keys {
		delete(s.deleting, key)
	}
	s.mu.Unlock()
	close(done)
	s.log.WithField("expired", len(expired)).Info("deleted expired jobs")
	return len(expired)
}

// Close stops the expiry schedule and waits for running jobs and
// notifications to finish. Jobs that have not started stay pending
// and are run when the store is next opened.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cron.Stop()
	s.pool.Stop()
	close(s.done)
	<-s.ownerDone
	s.notifyWG.Wait()
	return nil
}

func (s *Store) loadPending() (map[string]*Pending, error) {
	data, err := s.cfg.State.ReadAll(s.ctx, PendingKey)
	if gridsubset.KindOf(err) == gridsubset.NotFound {
		return make(map[string]*Pending), nil
	} else if err != nil {
		return nil, fmt.Errorf("jobstore: loading pending jobs: %w", err)
	}
	return decodePending(data)
}

func (s *Store) loadFinished() ([]*Finished, error) {
	data, err := s.cfg.State.ReadAll(s.ctx, FinishedKey)
	if gridsubset.KindOf(err) == gridsubset.NotFound {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("jobstore: loading finished jobs: %w", err)
	}
	return decodeFinished(data)
}

// savePending persists the pending table. Failures are logged. The
// caller must hold s.mu.
func (s *Store) savePending() {
	table := s.pending
	if len(s.unsaved) > 0 {
		table = make(map[string]*Pending, len(s.pending)+len(s.unsaved))
		for id, p := range s.unsaved {
			table[id] = p
		}
		for id, p := range s.pending {
			table[id] = p
		}
	}
	data, err := encodePending(table)
	if err == nil {
		err = s.cfg.State.WriteAll(s.ctx, PendingKey, data)
	}
	if err != nil {
		s.log.WithError(err).Error("saving pending jobs")
	}
}

// saveFinished persists the finished table. Failures are logged. The
// caller must hold s.mu.
func (s *Store) saveFinished() {
	data, err := encodeFinished(s.finished)
	if err == nil {
		err = s.cfg.State.WriteAll(s.ctx, FinishedKey, data)
	}
	if err != nil {
		s.log.WithError(err).Error("saving finished jobs")
		return
	}
	if len(s.unsaved) > 0 {
		s.unsaved = make(map[string]*Pending)
	}
}
