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


// Package server is the HTTP interface for submitting subset requests
// and downloading their results.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset"
	"github.com/spatialmodel/gridsubset/jobstore"
)

// Server handles HTTP requests.
type Server struct {
	Jobs      *jobstore.Store
	Catalogue gridsubset.Catalogue
	Regions   gridsubset.Regions
	Log       logrus.FieldLogger
}

func (s *Server) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// Router returns the request handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/subset", s.handleSubset)
	r.Get("/jobs", s.handleJobs)
	r.Get("/data", s.handleData)
	r.Get("/countries", s.handleCountries)
	r.Get("/datasets", s.handleDatasets)
	r.Get("/times", s.handleTimes)
	r.Get("/admin/jobs", s.handleAdminJobs)

	// The single endpoint of earlier versions.
	r.Get("/", s.handleLegacy)
	r.Post("/", s.handleSubset)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log().WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("handled request")
	})
}

func (s *Server) handleLegacy(w http.ResponseWriter, r *http.Request) {
	p := gridsubset.NewParams(r.URL.Query())
	switch strings.ToUpper(p.String("REQUEST", "")) {
	case "":
		s.handleJobs(w, r)
	case "GETCOUNTRIES":
		s.handleCountries(w, r)
	case "GETDATASETS":
		s.handleDatasets(w, r)
	case "GETTIMES":
		s.handleTimes(w, r)
	case "GETDATA":
		s.handleData(w, r)
	default:
		writeError(w, gridsubset.InvalidValue("REQUEST", p.String("REQUEST", ""), nil))
	}
}

func (s *Server) handleSubset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, gridsubset.WrapError(gridsubset.ValidationError, err, "parsing form"))
		return
	}
	req, err := gridsubset.ParseParams(gridsubset.NewParams(r.Form), s.Regions)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.Jobs.Submit(r.Context(), req)
	if err != nil {
		s.log().WithError(err).Error("submitting job")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	p := gridsubset.NewParams(r.URL.Query())
	var who gridsubset.Identity
	var err error
	if who.Email, err = p.Mandatory("EMAIL"); err != nil {
		writeError(w, err)
		return
	}
	if who.Ref, err = p.Mandatory("REF"); err != nil {
		writeError(w, err)
		return
	}
	jobs := s.Jobs.ListFinished(who)
	o := make([]jobView, len(jobs))
	for i, j := range jobs {
		o[i] = finishedView(j)
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	id, err := gridsubset.NewParams(r.URL.Query()).Mandatory("ID")
	if err != nil {
		writeError(w, err)
		return
	}
	rc, job, err := s.Jobs.Retrieve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": job.Request.OutputFilename()})
	if disposition == "" {
		disposition = "inline"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Type", job.Request.Format.ContentType())
	if _, err := io.Copy(w, rc); err != nil {
		s.log().WithField("job", id).WithError(err).Warn("sending output")
	}
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Regions.Labels())
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	ds := s.Catalogue.Datasets()
	o := make([]map[string]string, len(ds))
	for i, d := range ds {
		o[i] = map[string]string{d.ID(): d.Title()}
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleTimes(w http.ResponseWriter, r *http.Request) {
	id, err := gridsubset.NewParams(r.URL.Query()).Mandatory("DATASET")
	if err != nil {
		writeError(w, err)
		return
	}
	ds, ok := s.Catalogue.Dataset(id)
	if !ok {
		writeError(w, gridsubset.Errorf(gridsubset.DatasetUnavailable,
			"dataset %s is not yet loaded on the server; please try again in 5 minutes", id))
		return
	}
	tr, err := ds.TimeExtent()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"starttime": gridsubset.FormatTime(tr.Start),
		"endtime":   gridsubset.FormatTime(tr.End),
	})
}

func (s *Server) handleAdminJobs(w http.ResponseWriter, r *http.Request) {
	pending, finished := s.Jobs.ListAll()
	o := struct {
		Pending  []jobView `json:"pending"`
		Finished []jobView `json:"finished"`
	}{
		Pending:  make([]jobView, len(pending)),
		Finished: make([]jobView, len(finished)),
	}
	for i, p := range pending {
		o.Pending[i] = pendingView(p)
	}
	for i, f := range finished {
		o.Finished[i] = finishedView(f)
		o.Finished[i].Requesters = emails(f.Requesters)
	}
	writeJSON(w, http.StatusOK, o)
}

// jobView is the JSON form of a job. Requesters are only shown in the
// admin listing.
type jobView struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Dataset    string   `json:"dataset"`
	Selection  string   `json:"selection"`
	StartTime  string   `json:"starttime"`
	EndTime    string   `json:"endtime"`
	Format     string   `json:"format"`
	Submitted  string   `json:"submitted,omitempty"`
	Completed  string   `json:"completed,omitempty"`
	Downloaded bool     `json:"downloaded,omitempty"`
	Error      string   `json:"error,omitempty"`
	Link       string   `json:"link,omitempty"`
	Requesters []string `json:"requesters,omitempty"`
}

func requestView(id string, req gridsubset.SubsetRequest) jobView {
	return jobView{
		ID:        id,
		Dataset:   req.Dataset,
		Selection: req.Selector.String(),
		StartTime: gridsubset.FormatTime(req.Time.Start),
		EndTime:   gridsubset.FormatTime(req.Time.End),
		Format:    req.Format.String(),
	}
}

func pendingView(p jobstore.Pending) jobView {
	v := requestView(p.Request.JobID(), p.Request)
	v.Status = "pending"
	v.Submitted = gridsubset.FormatTime(p.Submitted)
	v.Requesters = emails(p.Requesters)
	return v
}

func finishedView(f jobstore.Finished) jobView {
	v := requestView(f.ID, f.Request)
	v.Completed = gridsubset.FormatTime(f.Completed)
	v.Downloaded = f.Downloaded
	if f.Success {
		v.Status = "succeeded"
		v.Link = "data?" + url.Values{"ID": {f.ID}}.Encode()
	} else {
		v.Status = "failed"
		v.Error = f.Err
	}
	return v
}

func emails(ids []gridsubset.Identity) []string {
	o := make([]string, len(ids))
	for i, id := range ids {
		o[i] = id.Email
	}
	return o
}

// statusCode returns the HTTP status for an error of the given kind.
func statusCode(k gridsubset.ErrorKind) int {
	switch k {
	case gridsubset.ValidationError, gridsubset.UnknownRegion, gridsubset.AmbiguousFeature:
		return http.StatusBadRequest
	case gridsubset.NotFound:
		return http.StatusNotFound
	case gridsubset.DatasetUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var param string
	var e *gridsubset.Error
	if errors.As(err, &e) {
		param = e.Param
	}
	writeJSON(w, statusCode(gridsubset.KindOf(err)), struct {
		Error string `json:"error"`
		Param string `json:"param,omitempty"`
	}{err.Error(), param})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
