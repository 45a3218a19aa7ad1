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

	"nirscan.io/nanoble/blexact/bledefs"
)

// Produced side of the vendor BLE stack.  Every method is called from the
// peripheral's event loop only.
type Xport interface {
	ReadResponse(stackId uint32, transId uint32, data []byte) error
	WriteResponse(stackId uint32, transId uint32) error
	ErrorResponse(stackId uint32, transId uint32, attrOff uint16,
		code int) error

	// Notify fails with a BusyError when the link has no room for another
	// packet; a BufferEmpty event follows once it drains.
	Notify(stackId uint32, svcId uint32, connId uint32, attrOff uint16,
		data []byte) error

	// Indicate returns the transaction id the confirmation will carry.
	Indicate(stackId uint32, svcId uint32, connId uint32, attrOff uint16,
		data []byte) (uint32, error)

	StartAdvertising() error
}

type EvtType int

const (
	EVT_TYPE_CONNECT EvtType = iota
	EVT_TYPE_DISCONNECT
	EVT_TYPE_MTU_CHANGE
	EVT_TYPE_READ_REQ
	EVT_TYPE_WRITE_REQ
	EVT_TYPE_BUFFER_EMPTY
	EVT_TYPE_CONFIRM
)

var evtTypeStringMap = map[EvtType]string{
	EVT_TYPE_CONNECT:      "connect",
	EVT_TYPE_DISCONNECT:   "disconnect",
	EVT_TYPE_MTU_CHANGE:   "mtu_change",
	EVT_TYPE_READ_REQ:     "read_req",
	EVT_TYPE_WRITE_REQ:    "write_req",
	EVT_TYPE_BUFFER_EMPTY: "buffer_empty",
	EVT_TYPE_CONFIRM:      "confirm",
}

func EvtTypeToString(t EvtType) string {
	s := evtTypeStringMap[t]
	if s == "" {
		return "???"
	}

	return s
}

func EvtTypeFromString(s string) (EvtType, error) {
	for t, name := range evtTypeStringMap {
		if s == name {
			return t, nil
		}
	}

	return EvtType(0), fmt.Errorf("Invalid EvtType string: %s", s)
}

func (t EvtType) String() string {
	return EvtTypeToString(t)
}

// A single callback from the BLE stack, queued for the event loop.
type Evt interface {
	Type() EvtType
}

type ConnectEvt struct {
	ConnId uint32
	Peer   bledefs.BleAddr
	Status int
	Mtu    int
}

type DisconnectEvt struct {
	ConnId uint32
	Reason int
}

type MtuChangeEvt struct {
	ConnId uint32
	Mtu    int
}

type ReadReqEvt struct {
	StackId uint32
	TransId uint32
	ConnId  uint32
	SvcId   uint32
	AttrOff uint16
	Offset  uint16
}

type WriteReqEvt struct {
	StackId uint32
	TransId uint32
	ConnId  uint32
	SvcId   uint32
	AttrOff uint16
	Offset  uint16
	Data    []byte
}

type BufferEmptyEvt struct {
	ConnId uint32
}

type ConfirmEvt struct {
	ConnId       uint32
	TransId      uint32
	BytesWritten int
	Status       int
}

func (e *ConnectEvt) Type() EvtType { return EVT_TYPE_CONNECT }
func (e *DisconnectEvt) Type() EvtType { return EVT_TYPE_DISCONNECT }
func (e *MtuChangeEvt) Type() EvtType { return EVT_TYPE_MTU_CHANGE }
func (e *ReadReqEvt) Type() EvtType { return EVT_TYPE_READ_REQ }
func (e *WriteReqEvt) Type() EvtType { return EVT_TYPE_WRITE_REQ }
func (e *BufferEmptyEvt) Type() EvtType { return EVT_TYPE_BUFFER_EMPTY }
func (e *ConfirmEvt) Type() EvtType { return EVT_TYPE_CONFIRM }

// Connection id an event applies to.
func EvtConnId(evt Evt) uint32 {
	switch e := evt.(type) {
	case *ConnectEvt:
		return e.ConnId
	case *DisconnectEvt:
		return e.ConnId
	case *MtuChangeEvt:
		return e.ConnId
	case *ReadReqEvt:
		return e.ConnId
	case *WriteReqEvt:
		return e.ConnId
	case *BufferEmptyEvt:
		return e.ConnId
	case *ConfirmEvt:
		return e.ConnId
	default:
		return bledefs.BLE_CONN_ID_NONE
	}
}

// Coordinates of a characteristic on the current link, as needed to respond
// to, notify or indicate it.
type BtInfo struct {
	StackId uint32
	TransId uint32
	SvcId   uint32
	ConnId  uint32
	AttrOff uint16
	CcdOff  uint16
}

func (bi BtInfo) String() string {
	return fmt.Sprintf("stack=%d trans=%d svc=%d conn=%d attr=%d ccd=%d",
		bi.StackId, bi.TransId, bi.SvcId, bi.ConnId, bi.AttrOff, bi.CcdOff)
}
