/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package task

import (
	"fmt"
	"sync"
	"sync/atomic"

	"nirscan.io/nanoble/blexact/blxutil"
)

// A single action that runs in the main loop.
type action struct {
	fn func() error
	ch chan error
}

// A queue for running jobs serially.  Every stack event, backend completion
// and deferred send runs as a job on one of these, so jobs never race with
// each other.
type Queue struct {
	actCh  chan action
	stopCh chan struct{}
	active bool
	name   string
	mtx    sync.Mutex
	wg     sync.WaitGroup

	// Posted jobs that have not finished yet.
	pending int32
}

func NewQueue(name string) *Queue {
	return &Queue{
		name: name,
	}
}

var InactiveError = fmt.Errorf("inactive task queue")

func (q *Queue) push(act action, wait bool) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if !q.active {
		return InactiveError
	}

	if wait {
		q.actCh <- act
		return nil
	}

	select {
	case q.actCh <- act:
		return nil
	default:
		return blxutil.NewQueueFullError(
			fmt.Sprintf("task queue \"%s\" full", q.name))
	}
}

// Pushes the specified function onto the task queue.  When the job completes,
// the result is sent over the returned channel.  Blocks while the queue is
// full; never call this from within a job.
func (q *Queue) Enqueue(fn func() error) chan error {
	act := action{
		fn: fn,
		ch: make(chan error, 1),
	}

	if err := q.push(act, true); err != nil {
		act.ch <- err
		close(act.ch)
	}

	return act.ch
}

// Enqueues the specified function and waits for it to complete.
func (q *Queue) Run(fn func() error) error {
	return <-q.Enqueue(fn)
}

// Queues fn without waiting for it to run.  Safe to call from within a job.
// Fails with a QueueFullError rather than blocking when the queue is at
// capacity.
func (q *Queue) Post(fn func()) error {
	atomic.AddInt32(&q.pending, 1)

	act := action{
		fn: func() error {
			defer atomic.AddInt32(&q.pending, -1)
			fn()
			return nil
		},
		ch: make(chan error, 1),
	}

	if err := q.push(act, false); err != nil {
		atomic.AddInt32(&q.pending, -1)
		return err
	}

	return nil
}

// Blocks until every posted job, including jobs posted by jobs, has run.
func (q *Queue) Drain() error {
	for {
		if err := q.Run(func() error { return nil }); err != nil {
			return err
		}
		if atomic.LoadInt32(&q.pending) == 0 {
			return nil
		}
	}
}

// Starts the task queue.  A task queue must be started before jobs can be
// enqueued to it.
func (q *Queue) Start(depth int) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.active {
		return fmt.Errorf("Task queue started twice \"%s\"", q.name)
	}
	q.active = true

	actCh := make(chan action, depth)
	q.actCh = actCh

	stopCh := make(chan struct{})
	q.stopCh = stopCh

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		for {
			select {
			case act, ok := <-actCh:
				if ok {
					err := act.fn()
					act.ch <- err
					close(act.ch)
				}

			case <-stopCh:
				return
			}
		}
	}()

	return nil
}

// Stops the task queue.  Queued jobs that have not started fail with the
// specified error.  Blocks until the task loop returns, so a job must never
// stop its own queue.
func (q *Queue) Stop(cause error) error {
	q.mtx.Lock()

	if !q.active {
		q.mtx.Unlock()
		return fmt.Errorf("Task queue stopped twice \"%s\"", q.name)
	}

	close(q.stopCh)
	q.active = false
	q.mtx.Unlock()

	q.wg.Wait()

	// Drain unprocessed actions from the action channel.
	close(q.actCh)
	for next := range q.actCh {
		next.ch <- cause
		close(next.ch)
	}
	atomic.StoreInt32(&q.pending, 0)

	return nil
}

func (q *Queue) Active() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.active
}
