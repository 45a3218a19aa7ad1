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

package liaison

import (
	"fmt"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/xport"
)

type CmdType int

const (
	CMD_TYPE_READ_IMMEDIATE CmdType = iota
	CMD_TYPE_READ_DELAYED
	CMD_TYPE_WRITE
	CMD_TYPE_WRITE_NOTIFY
	CMD_TYPE_WRITE_INDICATE
	CMD_TYPE_WRITE_DELAYED_RSP
)

var cmdTypeStringMap = map[CmdType]string{
	CMD_TYPE_READ_IMMEDIATE:    "read_immediate",
	CMD_TYPE_READ_DELAYED:      "read_delayed",
	CMD_TYPE_WRITE:             "write",
	CMD_TYPE_WRITE_NOTIFY:      "write_notify",
	CMD_TYPE_WRITE_INDICATE:    "write_indicate",
	CMD_TYPE_WRITE_DELAYED_RSP: "write_delayed_rsp",
}

func CmdTypeToString(t CmdType) string {
	s := cmdTypeStringMap[t]
	if s == "" {
		return "???"
	}

	return s
}

func CmdTypeFromString(s string) (CmdType, error) {
	for t, name := range cmdTypeStringMap {
		if s == name {
			return t, nil
		}
	}

	return CmdType(0), fmt.Errorf("Invalid CmdType string: %s", s)
}

func (t CmdType) String() string {
	return CmdTypeToString(t)
}

type CmdStatus int

const (
	CMD_STATUS_IDLE CmdStatus = iota
	CMD_STATUS_WAIT_FOR_SIZE
	CMD_STATUS_WAIT_FOR_DATA
	CMD_STATUS_WAIT_FOR_PREV_PKT_RSP
	CMD_STATUS_WAIT_TO_SEND_NOTIFICATION
	CMD_STATUS_WAIT_TO_SEND_WRITE_RSP
)

var cmdStatusStringMap = map[CmdStatus]string{
	CMD_STATUS_IDLE:                      "idle",
	CMD_STATUS_WAIT_FOR_SIZE:             "wait_for_size",
	CMD_STATUS_WAIT_FOR_DATA:             "wait_for_data",
	CMD_STATUS_WAIT_FOR_PREV_PKT_RSP:     "wait_for_prev_pkt_rsp",
	CMD_STATUS_WAIT_TO_SEND_NOTIFICATION: "wait_to_send_notification",
	CMD_STATUS_WAIT_TO_SEND_WRITE_RSP:    "wait_to_send_write_rsp",
}

func CmdStatusToString(s CmdStatus) string {
	str := cmdStatusStringMap[s]
	if str == "" {
		return "???"
	}

	return str
}

func (s CmdStatus) String() string {
	return CmdStatusToString(s)
}

type DataType int

const (
	DATA_TYPE_PLAIN DataType = iota
	DATA_TYPE_BLOB
)

// One relayed command and its delivery progress.
//
// Bt addresses the request: AttrOff is the attribute that was read or
// written, CcdOff the descriptor gating delivery.  Chunks go out on
// RetAttrOff.
type CmdDesc struct {
	Key        backend.CmdKey
	FileType   backend.FileType
	Subfield   backend.SubfieldType
	CmdType    CmdType
	Status     CmdStatus
	Bt         xport.BtInfo
	RetAttrOff uint16
	TotalLen   int
	RemLen     int
	Data       []byte
	CurPktIdx  int
	DataType   DataType

	// Request not yet answered over the air.
	transOpen bool
}

func (d *CmdDesc) String() string {
	return fmt.Sprintf("key=%s type=%s status=%s total=%d rem=%d pkt=%d %s",
		d.Key, CmdTypeToString(d.CmdType), CmdStatusToString(d.Status),
		d.TotalLen, d.RemLen, d.CurPktIdx, d.Bt)
}

func (d *CmdDesc) req(phase backend.Phase, payload []byte) backend.Req {
	return backend.Req{
		Key:      d.Key,
		FileType: d.FileType,
		Subfield: d.Subfield,
		Phase:    phase,
		Payload:  payload,
	}
}

// Counters for relayed commands.
type Stats struct {
	Accepted  int
	Completed int
	Failed    int
	Rejected  int
	Chunks    int
}
