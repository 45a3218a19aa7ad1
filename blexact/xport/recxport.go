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

package xport

import (
	"fmt"
	"sync"

	"nirscan.io/nanoble/blexact/blxutil"
)

type CallOp int

const (
	CALL_OP_READ_RSP CallOp = iota
	CALL_OP_WRITE_RSP
	CALL_OP_ERR_RSP
	CALL_OP_NOTIFY
	CALL_OP_INDICATE
	CALL_OP_ADVERTISE
)

var callOpStringMap = map[CallOp]string{
	CALL_OP_READ_RSP:  "read_rsp",
	CALL_OP_WRITE_RSP: "write_rsp",
	CALL_OP_ERR_RSP:   "err_rsp",
	CALL_OP_NOTIFY:    "notify",
	CALL_OP_INDICATE:  "indicate",
	CALL_OP_ADVERTISE: "advertise",
}

func (op CallOp) String() string {
	s := callOpStringMap[op]
	if s == "" {
		return "???"
	}
	return s
}

// One call made on a RecXport.
type Call struct {
	Op      CallOp
	StackId uint32
	TransId uint32
	SvcId   uint32
	ConnId  uint32
	AttrOff uint16
	Code    int
	Data    []byte
}

func (c Call) String() string {
	return fmt.Sprintf("%s trans=%d svc=%d conn=%d off=%d code=%d len=%d",
		c.Op, c.TransId, c.SvcId, c.ConnId, c.AttrOff, c.Code, len(c.Data))
}

// In-memory transport that records every call.  Used by the simulator and by
// tests to inspect what would have gone over the air.
type RecXport struct {
	// Number of upcoming Notify / Indicate calls to refuse as busy.
	BusyCount int

	// Upcoming Notify / Indicate calls fail with an XportError.
	FailNotify bool

	// Invoked (unlocked) after each call is recorded.
	OnCall func(c Call)

	calls       []Call
	nextTransId uint32
	mtx         sync.Mutex
}

func NewRecXport() *RecXport {
	return &RecXport{
		nextTransId: 0x8000,
	}
}

func (x *RecXport) record(c Call) {
	c.Data = append([]byte(nil), c.Data...)

	x.mtx.Lock()
	x.calls = append(x.calls, c)
	cb := x.OnCall
	x.mtx.Unlock()

	if cb != nil {
		cb(c)
	}
}

func (x *RecXport) refuse() error {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	if x.FailNotify {
		return blxutil.NewXportError("link failure")
	}
	if x.BusyCount > 0 {
		x.BusyCount--
		return blxutil.NewBusyError("link buffer full")
	}

	return nil
}

func (x *RecXport) ReadResponse(stackId uint32, transId uint32,
	data []byte) error {

	x.record(Call{Op: CALL_OP_READ_RSP, StackId: stackId, TransId: transId,
		Data: data})
	return nil
}

func (x *RecXport) WriteResponse(stackId uint32, transId uint32) error {
	x.record(Call{Op: CALL_OP_WRITE_RSP, StackId: stackId, TransId: transId})
	return nil
}

func (x *RecXport) ErrorResponse(stackId uint32, transId uint32,
	attrOff uint16, code int) error {

	x.record(Call{Op: CALL_OP_ERR_RSP, StackId: stackId, TransId: transId,
		AttrOff: attrOff, Code: code})
	return nil
}

func (x *RecXport) Notify(stackId uint32, svcId uint32, connId uint32,
	attrOff uint16, data []byte) error {

	if err := x.refuse(); err != nil {
		return err
	}

	x.record(Call{Op: CALL_OP_NOTIFY, StackId: stackId, SvcId: svcId,
		ConnId: connId, AttrOff: attrOff, Data: data})
	return nil
}

func (x *RecXport) Indicate(stackId uint32, svcId uint32, connId uint32,
	attrOff uint16, data []byte) (uint32, error) {

	if err := x.refuse(); err != nil {
		return 0, err
	}

	x.mtx.Lock()
	x.nextTransId++
	transId := x.nextTransId
	x.mtx.Unlock()

	x.record(Call{Op: CALL_OP_INDICATE, StackId: stackId, TransId: transId,
		SvcId: svcId, ConnId: connId, AttrOff: attrOff, Data: data})
	return transId, nil
}

func (x *RecXport) StartAdvertising() error {
	x.record(Call{Op: CALL_OP_ADVERTISE})
	return nil
}

// Returns a copy of every recorded call.
func (x *RecXport) Calls() []Call {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	return append([]Call(nil), x.calls...)
}

// Returns the recorded calls of the given kind.
func (x *RecXport) CallsOf(op CallOp) []Call {
	var cs []Call
	for _, c := range x.Calls() {
		if c.Op == op {
			cs = append(cs, c)
		}
	}

	return cs
}

// Returns the recorded calls carrying the given transaction id.
func (x *RecXport) Responses(transId uint32) []Call {
	var cs []Call
	for _, c := range x.Calls() {
		switch c.Op {
		case CALL_OP_READ_RSP, CALL_OP_WRITE_RSP, CALL_OP_ERR_RSP:
			if c.TransId == transId {
				cs = append(cs, c)
			}
		}
	}

	return cs
}

func (x *RecXport) Reset() {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	x.calls = nil
}
