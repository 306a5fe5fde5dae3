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
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/spatialmodel/gridsubset"
)

// These are the keys of the persisted job tables in the state bucket.
const (
	PendingKey  = "joblist-submitted"
	FinishedKey = "joblist-completed"
)

// Pending is a job that has been submitted but has not finished.
type Pending struct {
	Request   gridsubset.SubsetRequest
	Submitted time.Time

	// Requesters are everyone who submitted the request while the job
	// was pending, in submission order.
	Requesters []gridsubset.Identity
}

// Finished is a job that has succeeded or failed.
type Finished struct {
	ID      string
	Request gridsubset.SubsetRequest

	// OutputKey is the key of the output file in the output bucket.
	OutputKey string

	Completed    time.Time
	Downloaded   bool
	DownloadTime time.Time

	Success bool
	Kind    gridsubset.ErrorKind
	Err     string

	// Requesters are everyone who submitted the request.
	Requesters []gridsubset.Identity
}

// Expired reports whether the record may be deleted at time now: either
// it was downloaded more than downloadedTTL ago or it was completed
// more than ttl ago.
func (f *Finished) Expired(now time.Time, downloadedTTL, ttl time.Duration) bool {
	if f.Downloaded && now.Sub(f.DownloadTime) > downloadedTTL {
		return true
	}
	return now.Sub(f.Completed) > ttl
}

func (f *Finished) copy() Finished {
	c := *f
	c.Requesters = append([]gridsubset.Identity(nil), f.Requesters...)
	return c
}

func (p *Pending) copy() Pending {
	c := *p
	c.Requesters = append([]gridsubset.Identity(nil), p.Requesters...)
	return c
}

// addRequester adds id to ids unless it is already there.
func addRequester(ids []gridsubset.Identity, id gridsubset.Identity) ([]gridsubset.Identity, bool) {
	for _, i := range ids {
		if i == id {
			return ids, false
		}
	}
	return append(ids, id), true
}

func encodePending(m map[string]*Pending) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(m); err != nil {
		return nil, fmt.Errorf("jobstore: encoding pending jobs: %w", err)
	}
	return b.Bytes(), nil
}

func decodePending(data []byte) (map[string]*Pending, error) {
	var m map[string]*Pending
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("jobstore: decoding pending jobs: %w", err)
	}
	if m == nil {
		m = make(map[string]*Pending)
	}
	return m, nil
}

func encodeFinished(l []*Finished) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(l); err != nil {
		return nil, fmt.Errorf("jobstore: encoding finished jobs: %w", err)
	}
	return b.Bytes(), nil
}

func decodeFinished(data []byte) ([]*Finished, error) {
	var l []*Finished
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&l); err != nil {
		return nil, fmt.Errorf("jobstore: decoding finished jobs: %w", err)
	}
	return l, nil
}
