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
package blxutil

import (
	"fmt"
	"sync"
	"time"
)

// Gate that holds waiters until it is opened with a value.  Once open, every
// waiter gets the value immediately until the gate is armed again with
// Start().
type Blocker struct {
	gate chan struct{}
	val  interface{}
	mtx  sync.Mutex
}

func (b *Blocker) Start() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.gate == nil {
		b.gate = make(chan struct{})
		b.val = nil
	}
}

func (b *Blocker) Started() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.gate != nil
}

// Opens the gate.  No-op if it is not armed.
func (b *Blocker) Unblock(val interface{}) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.gate != nil {
		b.val = val
		close(b.gate)
		b.gate = nil
	}
}

// Waits for the gate to open.  A timeout <= 0 waits indefinitely; closing
// stopChan aborts the wait.
func (b *Blocker) Wait(timeout time.Duration, stopChan <-chan struct{}) (
	interface{}, error) {

	b.mtx.Lock()
	gate := b.gate
	val := b.val
	b.mtx.Unlock()

	if gate == nil {
		return val, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-gate:
		b.mtx.Lock()
		defer b.mtx.Unlock()
		return b.val, nil

	case <-expired:
		return nil, fmt.Errorf("timeout after %s", timeout)

	case <-stopChan:
		return nil, fmt.Errorf("wait aborted")
	}
}
