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

package gatts

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/liaison"
	"nirscan.io/nanoble/blexact/notify"
	"nirscan.io/nanoble/blexact/xport"
)

// Per-connection client characteristic configuration.  ConnId reports the
// link the configuration belongs to.
type CcdStore interface {
	ConnId() uint32
	Ccd(svcId uint32, ccdOff uint16) uint16
	SetCcd(svcId uint32, ccdOff uint16, val uint16) error
}

type ServerCfg struct {
	Table   *Table
	Xport   xport.Xport
	Liaison *liaison.Liaison
	Sched   *notify.Scheduler
	Dev     *devstate.Device
	Ccds    CcdStore
}

// Handles attribute read and write requests.  Runs on the event loop.
type Server struct {
	tbl   *Table
	x     xport.Xport
	l     *liaison.Liaison
	sched *notify.Scheduler
	dev   *devstate.Device
	ccds  CcdStore
}

func NewServer(cfg ServerCfg) *Server {
	return &Server{
		tbl:   cfg.Table,
		x:     cfg.Xport,
		l:     cfg.Liaison,
		sched: cfg.Sched,
		dev:   cfg.Dev,
		ccds:  cfg.Ccds,
	}
}

func (s *Server) Table() *Table {
	return s.tbl
}

func (s *Server) errRsp(stackId uint32, transId uint32, attrOff uint16,
	code int) {

	log.Debugf("gatts error response: trans=%d off=%d code=0x%02x (%s)",
		transId, attrOff, code, bledefs.ErrCodeToString(code))

	if err := s.x.ErrorResponse(stackId, transId, attrOff, code); err != nil {
		log.Errorf("failed to send error response: %s", err.Error())
	}
}

func (s *Server) readRsp(stackId uint32, transId uint32, data []byte) {
	if err := s.x.ReadResponse(stackId, transId, data); err != nil {
		log.Errorf("failed to send read response: %s", err.Error())
	}
}

func (s *Server) desc(spec *CmdSpec, a *Attr, bt xport.BtInfo) liaison.CmdDesc {
	ret := a
	if spec.Ret != "" {
		ret = s.tbl.Find(a.Svc.Name, spec.Ret)
	}

	bt.CcdOff = ret.CcdOff

	return liaison.CmdDesc{
		Key:        spec.Key,
		FileType:   spec.FileType,
		Subfield:   spec.Subfield,
		CmdType:    spec.CmdType,
		Bt:         bt,
		RetAttrOff: ret.ValOff,
	}
}

// Requests from any link other than the connected one are refused.
func (s *Server) stale(stackId uint32, transId uint32, attrOff uint16,
	connId uint32) bool {

	cur := s.ccds.ConnId()
	if cur != bledefs.BLE_CONN_ID_NONE && connId == cur {
		return false
	}

	log.Debugf("gatts: request for conn %d; current conn %d", connId, cur)
	s.errRsp(stackId, transId, attrOff, bledefs.ERR_CODE_ATT_UNLIKELY)
	return true
}

func (s *Server) Read(e *xport.ReadReqEvt) {
	if s.stale(e.StackId, e.TransId, e.AttrOff, e.ConnId) {
		return
	}

	a := s.tbl.Lookup(e.SvcId, e.AttrOff)
	if a == nil {
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_INVALID_HANDLE)
		return
	}

	log.Debugf("gatts read: %s trans=%d offset=%d", a, e.TransId, e.Offset)

	// Long reads are not supported.
	if e.Offset != 0 {
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_ATTR_NOT_LONG)
		return
	}

	switch a.Cap {
	case ATTR_CAP_CCD:
		b := make([]byte, bledefs.BLE_GATT_CCD_LEN)
		binary.LittleEndian.PutUint16(b, s.ccds.Ccd(e.SvcId, e.AttrOff))
		s.readRsp(e.StackId, e.TransId, b)

	case ATTR_CAP_VALUE:
		switch {
		case a.Chr.Local != nil:
			s.readRsp(e.StackId, e.TransId, a.Chr.Local(s))

		case a.Chr.Read != nil:
			bt := xport.BtInfo{
				StackId: e.StackId,
				TransId: e.TransId,
				SvcId:   e.SvcId,
				ConnId:  e.ConnId,
				AttrOff: e.AttrOff,
			}
			s.l.RelayCmd(nil, s.desc(a.Chr.Read, a, bt))

		default:
			s.errRsp(e.StackId, e.TransId, e.AttrOff,
				bledefs.ERR_CODE_ATT_READ_NOT_PERMITTED)
		}

	default:
		// Declarations are served by the stack.
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_READ_NOT_PERMITTED)
	}
}

func (s *Server) Write(e *xport.WriteReqEvt) {
	if s.stale(e.StackId, e.TransId, e.AttrOff, e.ConnId) {
		return
	}

	a := s.tbl.Lookup(e.SvcId, e.AttrOff)
	if a == nil {
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_INVALID_HANDLE)
		return
	}

	log.Debugf("gatts write: %s trans=%d offset=%d len=%d",
		a, e.TransId, e.Offset, len(e.Data))

	if e.Offset != 0 {
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_ATTR_NOT_LONG)
		return
	}

	switch a.Cap {
	case ATTR_CAP_CCD:
		s.writeCcd(e, a)

	case ATTR_CAP_VALUE:
		spec := a.Chr.Write
		if spec == nil {
			s.errRsp(e.StackId, e.TransId, e.AttrOff,
				bledefs.ERR_CODE_ATT_WRITE_NOT_PERMITTED)
			return
		}

		// Checked before anything is acknowledged.
		if len(e.Data) < spec.MinLen || len(e.Data) > spec.MaxLen {
			s.errRsp(e.StackId, e.TransId, e.AttrOff,
				bledefs.ERR_CODE_ATT_INVALID_ATTR_VAL_LEN)
			return
		}

		bt := xport.BtInfo{
			StackId: e.StackId,
			TransId: e.TransId,
			SvcId:   e.SvcId,
			ConnId:  e.ConnId,
			AttrOff: e.AttrOff,
		}
		s.l.RelayCmd(e.Data, s.desc(spec, a, bt))

	default:
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_WRITE_NOT_PERMITTED)
	}
}

func (s *Server) writeCcd(e *xport.WriteReqEvt, a *Attr) {
	if len(e.Data) != bledefs.BLE_GATT_CCD_LEN {
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_INVALID_ATTR_VAL_LEN)
		return
	}

	val := binary.LittleEndian.Uint16(e.Data)
	if val&^a.Chr.CcdMask() != 0 {
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_CCCD_IMPROPER_CFG)
		return
	}

	if err := s.ccds.SetCcd(e.SvcId, e.AttrOff, val); err != nil {
		log.Debugf("ccd write rejected: %s", err.Error())
		s.errRsp(e.StackId, e.TransId, e.AttrOff,
			bledefs.ERR_CODE_ATT_UNLIKELY)
		return
	}

	if b := a.Chr.Chan; b != nil {
		bit := bledefs.BLE_GATT_CCD_NOTIFY
		if b.Indicate {
			bit = bledefs.BLE_GATT_CCD_INDICATE
		}

		if val&bit != 0 {
			err := s.sched.Register(notify.Info{
				Type:     b.Type,
				Indicate: b.Indicate,
				Bt: xport.BtInfo{
					StackId: e.StackId,
					SvcId:   e.SvcId,
					ConnId:  e.ConnId,
					AttrOff: a.ValOff,
					CcdOff:  a.CcdOff,
				},
			})
			if err != nil {
				log.Debugf("ccd enable on %s: %s", a, err.Error())
			}
		} else {
			s.sched.Deregister(b.Type)
		}
	}

	if err := s.x.WriteResponse(e.StackId, e.TransId); err != nil {
		log.Errorf("failed to send write response: %s", err.Error())
	}
}
