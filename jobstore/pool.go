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
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers returns the default worker pool size: one less than
// the number of CPUs, but at least two.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 2 {
		n = 2
	}
	return n
}

// pool runs functions with bounded concurrency. Submit never blocks;
// functions wait in their own goroutines for a free slot.
type pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// queue is cancelled to drop functions that have not started.
	queue  context.Context
	cancel context.CancelFunc
}

func newPool(size int) *pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &pool{sem: semaphore.NewWeighted(int64(size)), queue: ctx, cancel: cancel}
}

// Submit schedules fn to run once a slot is free. If the pool is
// stopped first, fn does not run and dropped is called instead.
func (p *pool) Submit(fn func(), dropped func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.sem.Acquire(p.queue, 1)
		if err == nil && p.queue.Err() != nil {
			p.sem.Release(1)
			err = p.queue.Err()
		}
		if err != nil {
			if dropped != nil {
				dropped()
			}
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

// Stop drops the functions that have not started and waits for the
// running ones to return.
func (p *pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
