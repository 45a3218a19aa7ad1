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
	"testing"

	"nirscan.io/nanoble/blexact/blxutil"
)

func TestRunOrder(t *testing.T) {
	q := NewQueue("test")
	if err := q.Start(8); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer q.Stop(fmt.Errorf("done"))

	var seq []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Post(func() { seq = append(seq, i) }); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}

	if err := q.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}

	for i, v := range seq {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", seq)
		}
	}
	if len(seq) != 5 {
		t.Fatalf("got %d jobs want 5", len(seq))
	}
}

func TestPostFromJob(t *testing.T) {
	q := NewQueue("nested")
	q.Start(4)
	defer q.Stop(fmt.Errorf("done"))

	hits := 0
	q.Post(func() {
		hits++
		q.Post(func() {
			hits++
		})
	})

	if err := q.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if hits != 2 {
		t.Errorf("got %d hits want 2", hits)
	}
}

func TestRunReturnsError(t *testing.T) {
	q := NewQueue("err")
	q.Start(1)
	defer q.Stop(fmt.Errorf("done"))

	want := fmt.Errorf("boom")
	if err := q.Run(func() error { return want }); err != want {
		t.Errorf("got %v want %v", err, want)
	}
}

func TestInactive(t *testing.T) {
	q := NewQueue("idle")

	if err := q.Post(func() {}); err != InactiveError {
		t.Errorf("Post on stopped queue: got %v", err)
	}
	if err := q.Run(func() error { return nil }); err != InactiveError {
		t.Errorf("Run on stopped queue: got %v", err)
	}

	q.Start(1)
	if err := q.Start(1); err == nil {
		t.Errorf("second Start succeeded")
	}
	q.Stop(nil)
	if err := q.Stop(nil); err == nil {
		t.Errorf("second Stop succeeded")
	}
}

func TestPostFull(t *testing.T) {
	q := NewQueue("full")
	q.Start(1)
	defer q.Stop(fmt.Errorf("done"))

	release := make(chan struct{})
	started := make(chan struct{})
	q.Post(func() {
		close(started)
		<-release
	})
	<-started

	// Loop is parked in the first job; one slot of buffer remains.
	if err := q.Post(func() {}); err != nil {
		t.Fatalf("post into free slot: %v", err)
	}
	err := q.Post(func() {})
	if !blxutil.IsQueueFull(err) {
		t.Errorf("expected queue full error, got %v", err)
	}

	close(release)
	q.Drain()
}
