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


package server

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset"
	"github.com/spatialmodel/gridsubset/jobstore"
	"github.com/spatialmodel/gridsubset/storage"
	"gocloud.dev/blob/memblob"
)

func testDataset() *gridsubset.MemDataset {
	times := []time.Time{
		time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2017, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2017, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	rfe := gridsubset.NewArray4D(len(times), 1, 2, 2)
	for t := range times {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				rfe.Set(float64(t+1), t, 0, y, x)
			}
		}
	}
	return &gridsubset.MemDataset{
		Name:  "rfe",
		Label: "Rainfall estimate",
		Grid: &gridsubset.Grid{
			Parent: "rfe",
			Lons:   []float64{0.25, 0.75},
			Lats:   []float64{0.25, 0.75},
			DLon:   0.5, DLat: 0.5,
		},
		Times:  times,
		Values: map[string]*gridsubset.Array4D{"rfe": rfe},
		Units:  map[string]string{"rfe": "mm"},
	}
}

func testServer(t *testing.T) *httptest.Server {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	regions := gridsubset.Regions{
		"GH": &gridsubset.RegionDefinition{
			ID:       "GH",
			Label:    "Ghana",
			Envelope: geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 1, Y: 1}},
			Geometry: geom.Polygon{[]geom.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}},
		},
	}
	cat := gridsubset.NewMemCatalogue(testDataset())
	b := memblob.OpenBucket(nil)
	out := storage.New(b, "out")
	x := &gridsubset.Extractor{
		Catalogue: cat,
		Regions:   regions,
		Masks:     gridsubset.NewMaskCache(10),
		Output:    out,
		TempDir:   t.TempDir(),
		Log:       log,
	}
	jobs, err := jobstore.Open(context.Background(), jobstore.Config{
		Runner:  x,
		Output:  out,
		State:   storage.New(b, "state"),
		Workers: 2,
		Log:     log,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{Jobs: jobs, Catalogue: cat, Regions: regions, Log: log}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		jobs.Close()
	})
	return ts
}

func get(t *testing.T, u string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, b
}

func submit(t *testing.T, ts *httptest.Server, form url.Values) (int, map[string]string) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/subset", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var o map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, o
}

func pointForm() url.Values {
	return url.Values{
		"DATASET":   {"rfe"},
		"DATATYPE":  {"Point"},
		"LON":       {"0.6"},
		"LAT":       {"0.1"},
		"STARTTIME": {"2017-01-01"},
		"ENDTIME":   {"2017-02-01"},
		"EMAIL":     {"a@example.com"},
		"REF":       {"one"},
	}
}

func TestSubsetAndDownload(t *testing.T) {
	ts := testServer(t)
	status, o := submit(t, ts, pointForm())
	if status != http.StatusAccepted {
		t.Fatalf("status %d: %v", status, o)
	}
	id := o["id"]

	jobsURL := ts.URL + "/jobs?EMAIL=a%40example.com&REF=one"
	var jobs []jobView
	deadline := time.Now().Add(5 * time.Second)
	for len(jobs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(5 * time.Millisecond)
		_, b := get(t, jobsURL)
		if err := json.Unmarshal(b, &jobs); err != nil {
			t.Fatal(err)
		}
	}
	if jobs[0].ID != id || jobs[0].Status != "succeeded" || jobs[0].Link != "data?ID="+url.QueryEscape(id) {
		t.Errorf("bad job %+v", jobs[0])
	}

	want := "time,rfe\n" +
		"2017-01-01T00:00:00Z,1\n" +
		"2017-01-15T00:00:00Z,2\n" +
		"2017-02-01T00:00:00Z,3\n"
	for _, u := range []string{
		ts.URL + "/" + jobs[0].Link,
		ts.URL + "/?REQUEST=GETDATA&ID=" + url.QueryEscape(id),
	} {
		resp, b := get(t, u)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d: %s", u, resp.StatusCode, b)
		}
		if string(b) != want {
			t.Errorf("have:\n%s\nwant:\n%s", b, want)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
			t.Errorf("content type %s", ct)
		}
		disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
		if err != nil {
			t.Fatal(err)
		}
		if disposition != "inline" || params["filename"] != id {
			t.Errorf("content disposition %s %v", disposition, params)
		}
	}

	// A second requester of the same data sees the job but not who
	// else asked for it.
	form := pointForm()
	form.Set("EMAIL", "b@example.com")
	if status, o := submit(t, ts, form); status != http.StatusAccepted || o["id"] != id {
		t.Fatalf("status %d: %v", status, o)
	}
	resp, b := get(t, ts.URL+"/jobs?EMAIL=b%40example.com&REF=one")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if strings.Contains(string(b), "a@example.com") {
		t.Errorf("job list of b shows a: %s", b)
	}
	var bJobs []jobView
	if err := json.Unmarshal(b, &bJobs); err != nil {
		t.Fatal(err)
	}
	if len(bJobs) != 1 || bJobs[0].ID != id || bJobs[0].Requesters != nil {
		t.Errorf("bad job list %s", b)
	}

	resp, b = get(t, ts.URL+"/admin/jobs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var all struct{ Pending, Finished []jobView }
	if err := json.Unmarshal(b, &all); err != nil {
		t.Fatal(err)
	}
	if len(all.Pending) != 0 || len(all.Finished) != 1 || !all.Finished[0].Downloaded {
		t.Errorf("bad job list %s", b)
	}
	if want := []string{"a@example.com", "b@example.com"}; !reflect.DeepEqual(all.Finished[0].Requesters, want) {
		t.Errorf("admin requesters %v != %v", all.Finished[0].Requesters, want)
	}
}

func TestSubset_invalid(t *testing.T) {
	ts := testServer(t)
	tests := []struct {
		name   string
		modify func(url.Values)
		param  string
	}{
		{"no email", func(v url.Values) { v.Del("EMAIL") }, "EMAIL"},
		{"bad time", func(v url.Values) { v.Set("STARTTIME", "soon") }, "STARTTIME"},
		{"unknown country", func(v url.Values) { v.Set("DATATYPE", "CSV"); v.Set("COUNTRY", "XX") }, "COUNTRY"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			form := pointForm()
			test.modify(form)
			status, o := submit(t, ts, form)
			if status != http.StatusBadRequest || o["param"] != test.param {
				t.Errorf("status %d: %v", status, o)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	ts := testServer(t)
	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{"countries", "/countries", http.StatusOK, `{"Ghana":"GH"}`},
		{"legacy countries", "/?REQUEST=getcountries", http.StatusOK, `{"Ghana":"GH"}`},
		{"datasets", "/datasets", http.StatusOK, `[{"rfe":"Rainfall estimate"}]`},
		{"legacy datasets", "/?REQUEST=GETDATASETS", http.StatusOK, `[{"rfe":"Rainfall estimate"}]`},
		{"times", "/times?DATASET=rfe", http.StatusOK,
			`{"endtime":"2017-02-01T00:00:00Z","starttime":"2017-01-01T00:00:00Z"}`},
		{"legacy times", "/?REQUEST=GETTIMES&DATASET=rfe", http.StatusOK,
			`{"endtime":"2017-02-01T00:00:00Z","starttime":"2017-01-01T00:00:00Z"}`},
		{"no jobs", "/?EMAIL=b%40example.com&REF=x", http.StatusOK, `[]`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp, b := get(t, ts.URL+test.path)
			if resp.StatusCode != test.status {
				t.Errorf("status %d", resp.StatusCode)
			}
			if have := strings.TrimSpace(string(b)); have != test.want {
				t.Errorf("have %s, want %s", have, test.want)
			}
		})
	}

	errTests := []struct {
		name   string
		path   string
		status int
	}{
		{"unavailable dataset", "/times?DATASET=tamsat", http.StatusServiceUnavailable},
		{"no dataset", "/times", http.StatusBadRequest},
		{"unknown job", "/data?ID=nothing.csv", http.StatusNotFound},
		{"no id", "/data", http.StatusBadRequest},
		{"jobs without ref", "/jobs?EMAIL=a%40example.com", http.StatusBadRequest},
		{"unknown request", "/?REQUEST=GETMAP", http.StatusBadRequest},
	}
	for _, test := range errTests {
		t.Run(test.name, func(t *testing.T) {
			resp, b := get(t, ts.URL+test.path)
			if resp.StatusCode != test.status {
				t.Errorf("status %d != %d: %s", resp.StatusCode, test.status, b)
			}
			var o map[string]string
			if err := json.Unmarshal(b, &o); err != nil || o["error"] == "" {
				t.Errorf("bad error body %s", b)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	have := []int{
		statusCode(gridsubset.ValidationError),
		statusCode(gridsubset.NotFound),
		statusCode(gridsubset.DatasetUnavailable),
		statusCode(gridsubset.IOError),
	}
	want := []int{400, 404, 503, 500}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("%v != %v", have, want)
	}
}
