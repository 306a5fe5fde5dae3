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


package jobstore

import (
	"reflect"
	"testing"
	"time"

	"github.com/spatialmodel/gridsubset"
)

func TestExpired(t *testing.T) {
	t0 := time.Date(2018, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		downloaded bool
		now        time.Time
		want       bool
	}{
		{"fresh", false, t0.Add(time.Hour), false},
		{"downloaded 23h", true, t0.Add(23 * time.Hour), false},
		{"downloaded 25h", true, t0.Add(25 * time.Hour), true},
		{"not downloaded 25h", false, t0.Add(25 * time.Hour), false},
		{"6d23h", false, t0.Add(6*24*time.Hour + 23*time.Hour), false},
		{"7d1s", false, t0.Add(7*24*time.Hour + time.Second), true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := &Finished{Completed: t0, Downloaded: test.downloaded, DownloadTime: t0}
			if have := f.Expired(test.now, DefaultDownloadedTTL, DefaultTTL); have != test.want {
				t.Errorf("%v != %v", have, test.want)
			}
		})
	}
}

func TestAddRequester(t *testing.T) {
	a := gridsubset.Identity{Email: "a@example.com", Ref: "1"}
	b := gridsubset.Identity{Email: "a@example.com", Ref: "2"}
	ids, added := addRequester(nil, a)
	if !added {
		t.Error("first requester not added")
	}
	ids, added = addRequester(ids, a)
	if added {
		t.Error("duplicate requester added")
	}
	ids, _ = addRequester(ids, b)
	if !reflect.DeepEqual(ids, []gridsubset.Identity{a, b}) {
		t.Errorf("have %v", ids)
	}
}

func TestEncodeTables(t *testing.T) {
	req := testRequest("rfe", 1, "a@example.com")
	t0 := time.Date(2018, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty pending", func(t *testing.T) {
		b, err := encodePending(map[string]*Pending{})
		if err != nil {
			t.Fatal(err)
		}
		m, err := decodePending(b)
		if err != nil {
			t.Fatal(err)
		}
		if m == nil || len(m) != 0 {
			t.Errorf("have %v", m)
		}
	})

	t.Run("pending", func(t *testing.T) {
		want := map[string]*Pending{
			req.JobID(): {Request: req, Submitted: t0, Requesters: []gridsubset.Identity{req.Identity}},
		}
		b, err := encodePending(want)
		if err != nil {
			t.Fatal(err)
		}
		have, err := decodePending(b)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(have, want) {
			t.Errorf("%+v != %+v", have[req.JobID()], want[req.JobID()])
		}
	})

	t.Run("empty finished", func(t *testing.T) {
		b, err := encodeFinished(nil)
		if err != nil {
			t.Fatal(err)
		}
		l, err := decodeFinished(b)
		if err != nil {
			t.Fatal(err)
		}
		if len(l) != 0 {
			t.Errorf("have %v", l)
		}
	})

	t.Run("finished", func(t *testing.T) {
		want := []*Finished{
			{ID: req.JobID(), Request: req, OutputKey: req.JobID(), Completed: t0,
				Success: true, Requesters: []gridsubset.Identity{req.Identity}},
			{ID: "x", Request: req, Completed: t0, Kind: gridsubset.DatasetUnavailable,
				Err: "no data", Requesters: []gridsubset.Identity{req.Identity}},
		}
		b, err := encodeFinished(want)
		if err != nil {
			t.Fatal(err)
		}
		have, err := decodeFinished(b)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(have, want) {
			t.Errorf("%+v != %+v", have, want)
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		if _, err := decodeFinished([]byte("not gob")); err == nil {
			t.Error("want error")
		}
	})
}
