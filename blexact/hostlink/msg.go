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

package hostlink

import (
	"fmt"

	"github.com/pkg/errors"

	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/xport"
)

// Host to coprocessor.
const (
	MSG_OP_READ_RSP  = "read_rsp"
	MSG_OP_WRITE_RSP = "write_rsp"
	MSG_OP_ERR_RSP   = "err_rsp"
	MSG_OP_NOTIFY    = "notify"
	MSG_OP_INDICATE  = "indicate"
	MSG_OP_ADV_START = "adv_start"
)

// Coprocessor to host.
const (
	MSG_OP_CONNECT    = "connect"
	MSG_OP_DISCONNECT = "disconnect"
	MSG_OP_MTU        = "mtu"
	MSG_OP_READ       = "read"
	MSG_OP_WRITE      = "write"
	MSG_OP_BUF_EMPTY  = "buf_empty"
	MSG_OP_CONFIRM    = "confirm"
)

// One CBOR-encoded frame.
type Msg struct {
	Op      string `codec:"op"`
	StackId uint32 `codec:"stack,omitempty"`
	TransId uint32 `codec:"trans,omitempty"`
	ConnId  uint32 `codec:"conn,omitempty"`
	SvcId   uint32 `codec:"svc,omitempty"`
	AttrOff uint16 `codec:"attr,omitempty"`
	Offset  uint16 `codec:"off,omitempty"`
	Status  int    `codec:"status,omitempty"`
	Mtu     int    `codec:"mtu,omitempty"`
	Len     int    `codec:"len,omitempty"`
	Addr    string `codec:"addr,omitempty"`
	Data    []byte `codec:"data,omitempty"`
}

func (m *Msg) String() string {
	return fmt.Sprintf("op=%s stack=%d trans=%d conn=%d svc=%d attr=%d "+
		"status=%d len=%d", m.Op, m.StackId, m.TransId, m.ConnId, m.SvcId,
		m.AttrOff, m.Status, len(m.Data))
}

func EncodeMsg(m *Msg) ([]byte, error) {
	b, err := blxutil.EncodeCbor(m)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s frame", m.Op)
	}
	return b, nil
}

func DecodeMsg(b []byte) (*Msg, error) {
	m := &Msg{}
	if err := blxutil.DecodeCbor(b, m); err != nil {
		return nil, errors.Wrap(err, "decoding frame")
	}
	return m, nil
}

// Converts a received frame into a transport event.
func (m *Msg) Evt() (xport.Evt, error) {
	switch m.Op {
	case MSG_OP_CONNECT:
		e := &xport.ConnectEvt{
			ConnId: m.ConnId,
			Status: m.Status,
			Mtu:    m.Mtu,
		}
		if m.Addr != "" {
			peer, err := bledefs.ParseBleAddr(m.Addr)
			if err != nil {
				return nil, errors.Wrap(err, "connect frame")
			}
			e.Peer = peer
		}
		return e, nil

	case MSG_OP_DISCONNECT:
		return &xport.DisconnectEvt{ConnId: m.ConnId, Reason: m.Status}, nil

	case MSG_OP_MTU:
		return &xport.MtuChangeEvt{ConnId: m.ConnId, Mtu: m.Mtu}, nil

	case MSG_OP_READ:
		return &xport.ReadReqEvt{
			StackId: m.StackId,
			TransId: m.TransId,
			ConnId:  m.ConnId,
			SvcId:   m.SvcId,
			AttrOff: m.AttrOff,
			Offset:  m.Offset,
		}, nil

	case MSG_OP_WRITE:
		return &xport.WriteReqEvt{
			StackId: m.StackId,
			TransId: m.TransId,
			ConnId:  m.ConnId,
			SvcId:   m.SvcId,
			AttrOff: m.AttrOff,
			Offset:  m.Offset,
			Data:    m.Data,
		}, nil

	case MSG_OP_BUF_EMPTY:
		return &xport.BufferEmptyEvt{ConnId: m.ConnId}, nil

	case MSG_OP_CONFIRM:
		return &xport.ConfirmEvt{
			ConnId:       m.ConnId,
			TransId:      m.TransId,
			BytesWritten: m.Len,
			Status:       m.Status,
		}, nil

	default:
		return nil, errors.Errorf("unexpected frame op: \"%s\"", m.Op)
	}
}
