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
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/notify"
	"nirscan.io/nanoble/blexact/xport"
)

// Code latched in the BLE field of the error register when the link rejects
// a notification or indication.
const ERR_CODE_BLE_XPORT int16 = -1

// Code reported when the command processor fails without a code of its own.
const ERR_CODE_BACKEND_UNKNOWN int16 = -1

// Reports the client characteristic configuration of a descriptor.
type CcdReader interface {
	Ccd(svcId uint32, ccdOff uint16) uint16
}

type LiaisonCfg struct {
	Xport   xport.Xport
	Backend backend.Processor
	Sched   *notify.Scheduler
	Dev     *devstate.Device
	Ccds    CcdReader

	// Runs fn on the event loop after the current job.  Backend responses
	// are delivered through it.
	Post func(fn func()) error
}

func NewLiaisonCfg() LiaisonCfg {
	return LiaisonCfg{}
}

// Translates GATT requests into command processor requests and delivers the
// results back over the link.  At most one command is in progress.  Not safe
// for concurrent use; every method must run on the event loop.
type Liaison struct {
	x     xport.Xport
	be    backend.Processor
	sched *notify.Scheduler
	dev   *devstate.Device
	ccds  CcdReader
	post  func(fn func()) error

	desc       *CmdDesc
	buf        []byte
	connId     uint32
	pendingMtu int
	stats      Stats
}

func NewLiaison(cfg LiaisonCfg) *Liaison {
	return &Liaison{
		x:      cfg.Xport,
		be:     cfg.Backend,
		sched:  cfg.Sched,
		dev:    cfg.Dev,
		ccds:   cfg.Ccds,
		post:   cfg.Post,
		connId: bledefs.BLE_CONN_ID_NONE,
	}
}

// Discards any command in progress and binds the liaison to a new link.  The
// outgoing buffer is allocated here, once per connection.
func (l *Liaison) Reset(connId uint32, mtu int) {
	if l.desc != nil {
		log.Debugf("liaison reset; abandoning %s", l.desc)
	}

	l.desc = nil
	l.connId = connId
	l.pendingMtu = 0

	if connId == bledefs.BLE_CONN_ID_NONE {
		l.buf = nil
	} else {
		l.buf = make([]byte, bledefs.ChunkSize(mtu))
	}
}

// Applies a renegotiated MTU.  The buffer is only resized between commands.
func (l *Liaison) SetMtu(mtu int) {
	if l.desc != nil {
		l.pendingMtu = mtu
		return
	}

	l.resize(mtu)
}

func (l *Liaison) resize(mtu int) {
	sz := bledefs.ChunkSize(mtu)
	if sz != len(l.buf) {
		log.Debugf("liaison buffer resized: %d -> %d", len(l.buf), sz)
		l.buf = make([]byte, sz)
	}
	l.pendingMtu = 0
}

func (l *Liaison) ChunkSize() int {
	return len(l.buf)
}

func (l *Liaison) Active() bool {
	return l.desc != nil
}

func (l *Liaison) Status() CmdStatus {
	if l.desc == nil {
		return CMD_STATUS_IDLE
	}

	return l.desc.Status
}

// Copy of the command in progress, if any.
func (l *Liaison) Desc() (CmdDesc, bool) {
	if l.desc == nil {
		return CmdDesc{}, false
	}

	return *l.desc, true
}

func (l *Liaison) Stats() Stats {
	return l.stats
}

func (l *Liaison) setStatus(d *CmdDesc, to CmdStatus) {
	log.Debugf("liaison cmd %s: %s -> %s", d.Key,
		CmdStatusToString(d.Status), CmdStatusToString(to))
	d.Status = to
}

func (l *Liaison) errRsp(d *CmdDesc, code int) {
	log.Debugf("liaison error response: code=%d (%s) %s",
		code, bledefs.ErrCodeToString(code), d.Bt)

	d.transOpen = false
	if err := l.x.ErrorResponse(d.Bt.StackId, d.Bt.TransId, d.Bt.AttrOff,
		code); err != nil {

		log.Errorf("failed to send error response: %s", err.Error())
	}
}

func (l *Liaison) writeRsp(d *CmdDesc) {
	d.transOpen = false
	if err := l.x.WriteResponse(d.Bt.StackId, d.Bt.TransId); err != nil {
		log.Errorf("failed to send write response: %s", err.Error())
	}
}

func (l *Liaison) readRsp(d *CmdDesc, data []byte) {
	d.transOpen = false
	if err := l.x.ReadResponse(d.Bt.StackId, d.Bt.TransId, data); err != nil {
		log.Errorf("failed to send read response: %s", err.Error())
	}
}

func (l *Liaison) ccdEnabled(d *CmdDesc, bit uint16) bool {
	if l.ccds == nil {
		return false
	}

	return l.ccds.Ccd(d.Bt.SvcId, d.Bt.CcdOff)&bit != 0
}

// Relays a GATT request to the command processor.  Exactly one response is
// sent over the link for the request, either before RelayCmd returns or once
// the command processor answers.  A non-nil return means the request was
// rejected and its error response already sent.
func (l *Liaison) RelayCmd(payload []byte, desc CmdDesc) error {
	d := &desc
	d.transOpen = true
	d.Status = CMD_STATUS_IDLE

	if l.desc != nil {
		log.Debugf("liaison busy; rejecting %s; active: %s", d, l.desc)
		l.stats.Rejected++
		l.errRsp(d, bledefs.ERR_CODE_ATT_PROC_IN_PROGRESS)
		return blxutil.FmtBusyError("command %s already in progress",
			l.desc.Key)
	}

	if l.connId == bledefs.BLE_CONN_ID_NONE || d.Bt.ConnId != l.connId {
		l.stats.Rejected++
		l.errRsp(d, bledefs.ERR_CODE_ATT_UNLIKELY)
		return blxutil.FmtAttError(bledefs.ERR_CODE_ATT_UNLIKELY,
			"request for conn %d; current conn %d", d.Bt.ConnId, l.connId)
	}

	log.Debugf("liaison relay: %s payload=%s", d,
		blxutil.HexPreview(payload, 16))

	switch d.CmdType {
	case CMD_TYPE_READ_IMMEDIATE:
		return l.readImmediate(d, payload)

	case CMD_TYPE_READ_DELAYED:
		return l.begin(d, payload)

	case CMD_TYPE_WRITE:
		return l.write(d, payload)

	case CMD_TYPE_WRITE_NOTIFY, CMD_TYPE_WRITE_INDICATE:
		bit := bledefs.BLE_GATT_CCD_NOTIFY
		if d.CmdType == CMD_TYPE_WRITE_INDICATE {
			bit = bledefs.BLE_GATT_CCD_INDICATE
		}

		if !l.ccdEnabled(d, bit) {
			l.stats.Rejected++
			l.errRsp(d, bledefs.ERR_CODE_ATT_CCCD_IMPROPER_CFG)
			return blxutil.FmtAttError(bledefs.ERR_CODE_ATT_CCCD_IMPROPER_CFG,
				"ccd 0x%04x not enabled for %s", bit, d.Key)
		}

		l.writeRsp(d)
		return l.begin(d, payload)

	case CMD_TYPE_WRITE_DELAYED_RSP:
		l.stats.Accepted++
		l.desc = d
		l.setStatus(d, CMD_STATUS_WAIT_TO_SEND_WRITE_RSP)
		l.submit(d, d.req(backend.PHASE_EXEC, payload))
		return nil

	default:
		l.stats.Rejected++
		l.errRsp(d, bledefs.ERR_CODE_ATT_REQ_NOT_SUPPORTED)
		return fmt.Errorf("invalid command type: %d", d.CmdType)
	}
}

func (l *Liaison) readImmediate(d *CmdDesc, payload []byte) error {
	l.stats.Accepted++

	data, err := l.be.Immediate(d.req(backend.PHASE_EXEC, payload))
	if err != nil {
		l.fail(d, err)
		return nil
	}

	l.stats.Completed++
	l.readRsp(d, data)
	return nil
}

// Writes are acknowledged before the command processor runs; a later
// failure is reported through the error register and error indication only.
func (l *Liaison) write(d *CmdDesc, payload []byte) error {
	l.stats.Accepted++
	l.writeRsp(d)

	key := d.Key
	err := l.be.Submit(d.req(backend.PHASE_EXEC, payload),
		func(rsp backend.Rsp) {
			err := l.later(func() {
				if rsp.Err != nil {
					l.stats.Failed++
					l.reportErr(key, rsp.Err)
				} else {
					l.stats.Completed++
				}
			})
			if err != nil {
				l.stats.Failed++
				l.reportErr(key, err)
			}
		})
	if err != nil {
		l.stats.Failed++
		l.reportErr(key, err)
	}

	return nil
}

// Starts the size / data exchange for a command that delivers a payload.
func (l *Liaison) begin(d *CmdDesc, payload []byte) error {
	l.stats.Accepted++
	l.desc = d
	l.setStatus(d, CMD_STATUS_WAIT_FOR_SIZE)

	// Index payloads apply to both phases.
	d.Data = append([]byte(nil), payload...)
	l.submit(d, d.req(backend.PHASE_SIZE, d.Data))
	return nil
}

func (l *Liaison) later(fn func()) error {
	if l.post == nil {
		fn()
		return nil
	}

	return l.post(fn)
}

// A response that cannot be queued fails the transaction, so the request is
// still answered and the liaison freed.
func (l *Liaison) submit(d *CmdDesc, req backend.Req) {
	err := l.be.Submit(req, func(rsp backend.Rsp) {
		err := l.later(func() { l.onRsp(d, rsp) })
		if err != nil {
			log.Errorf("cannot queue command processor response for %s: %s",
				d.Key, err.Error())
			if l.desc == d {
				l.fail(d, err)
			}
		}
	})
	if err != nil {
		l.fail(d, err)
	}
}

func (l *Liaison) onRsp(d *CmdDesc, rsp backend.Rsp) {
	if l.desc != d {
		log.Debugf("dropping stale command processor response for %s", d.Key)
		return
	}

	if rsp.Err != nil {
		l.fail(d, rsp.Err)
		return
	}

	switch d.Status {
	case CMD_STATUS_WAIT_FOR_SIZE:
		l.onSize(d, rsp.Len)

	case CMD_STATUS_WAIT_FOR_DATA:
		l.onData(d, rsp.Data)

	case CMD_STATUS_WAIT_TO_SEND_WRITE_RSP:
		l.writeRsp(d)
		l.stats.Completed++
		l.release()

	default:
		log.Warnf("unexpected command processor response in state %s",
			CmdStatusToString(d.Status))
	}
}

func (l *Liaison) onSize(d *CmdDesc, size int) {
	if size < 0 {
		l.fail(d, blxutil.FmtBackendError(backend.ERR_CODE_CORRUPT,
			"invalid size %d for %s", size, d.Key))
		return
	}

	d.TotalLen = size
	d.RemLen = size

	if d.CmdType == CMD_TYPE_READ_DELAYED && size > len(l.buf) {
		if !l.ccdEnabled(d, bledefs.BLE_GATT_CCD_NOTIFY) {
			l.errRsp(d, bledefs.ERR_CODE_ATT_CCCD_IMPROPER_CFG)
			l.stats.Failed++
			l.release()
			return
		}

		// Too large for one read; the client learns the length and
		// collects the rest as notifications.
		lb := make([]byte, 4)
		binary.LittleEndian.PutUint32(lb, uint32(size))
		l.readRsp(d, lb)
	}

	if size == 0 && d.CmdType != CMD_TYPE_READ_DELAYED {
		l.stats.Completed++
		l.release()
		return
	}

	l.setStatus(d, CMD_STATUS_WAIT_FOR_DATA)
	l.submit(d, d.req(backend.PHASE_DATA, d.Data))
}

func (l *Liaison) onData(d *CmdDesc, data []byte) {
	if len(data) != d.TotalLen {
		l.fail(d, blxutil.FmtBackendError(backend.ERR_CODE_CORRUPT,
			"command %s returned %d bytes; expected %d",
			d.Key, len(data), d.TotalLen))
		return
	}

	if d.transOpen {
		// Small read-delayed result.
		l.readRsp(d, data)
		l.stats.Completed++
		l.release()
		return
	}

	d.Data = data
	d.RemLen = d.TotalLen
	d.CurPktIdx = 0
	l.sendChunk()
}

func (l *Liaison) indicating(d *CmdDesc) bool {
	return d.CmdType == CMD_TYPE_WRITE_INDICATE
}

// Makes sure the commands channel is bound to the current command.  Returns
// false if a previous indication on it is still unconfirmed.
func (l *Liaison) claimChannel(d *CmdDesc) bool {
	if d.CurPktIdx > 0 {
		return true
	}

	switch l.sched.State(notify.NOTIFY_TYPE_COMMANDS) {
	case notify.CHAN_STATE_AWAITING_CONFIRM:
		return false
	case notify.CHAN_STATE_REGISTERED:
		l.sched.Deregister(notify.NOTIFY_TYPE_COMMANDS)
	}

	bt := d.Bt
	bt.AttrOff = d.RetAttrOff
	err := l.sched.Register(notify.Info{
		Type:     notify.NOTIFY_TYPE_COMMANDS,
		Indicate: l.indicating(d),
		Bt:       bt,
	})
	blxutil.Assert(err == nil)

	return true
}

// Copies the next chunk into the outgoing buffer and hands it to the
// scheduler.
func (l *Liaison) sendChunk() {
	d := l.desc

	if !l.claimChannel(d) {
		l.setStatus(d, CMD_STATUS_WAIT_TO_SEND_NOTIFICATION)
		return
	}

	n := d.RemLen
	if n > len(l.buf) {
		n = len(l.buf)
	}
	off := d.TotalLen - d.RemLen
	chunk := l.buf[:n]
	copy(chunk, d.Data[off:off+n])

	l.sched.SetData(notify.NOTIFY_TYPE_COMMANDS, chunk)

	var err error
	if l.indicating(d) {
		err = l.sched.SendIndication(notify.NOTIFY_TYPE_COMMANDS)
	} else {
		err = l.sched.SendNotification(notify.NOTIFY_TYPE_COMMANDS)
	}

	if err != nil {
		if blxutil.IsBusy(err) {
			l.setStatus(d, CMD_STATUS_WAIT_TO_SEND_NOTIFICATION)
			return
		}

		l.failXport(d, err)
		return
	}

	d.RemLen -= n
	d.CurPktIdx++
	l.stats.Chunks++

	log.Debugf("liaison chunk %d sent; len=%d rem=%d",
		d.CurPktIdx, n, d.RemLen)

	if d.RemLen == 0 {
		l.stats.Completed++
		l.release()
		return
	}

	l.setStatus(d, CMD_STATUS_WAIT_FOR_PREV_PKT_RSP)
}

// The link has room for another notification.
func (l *Liaison) BufferEmpty(connId uint32) {
	d := l.desc
	if d == nil || connId != l.connId {
		return
	}

	switch d.Status {
	case CMD_STATUS_WAIT_FOR_PREV_PKT_RSP:
		if !l.indicating(d) {
			l.sendChunk()
		}

	case CMD_STATUS_WAIT_TO_SEND_NOTIFICATION:
		l.sendChunk()
	}
}

// An indication on the commands channel was confirmed.
func (l *Liaison) Confirm() {
	d := l.desc
	if d == nil {
		// Confirmation of the final chunk of an earlier command.
		l.sched.Deregister(notify.NOTIFY_TYPE_COMMANDS)
		return
	}

	switch d.Status {
	case CMD_STATUS_WAIT_FOR_PREV_PKT_RSP:
		if l.indicating(d) {
			l.sendChunk()
		}

	case CMD_STATUS_WAIT_TO_SEND_NOTIFICATION:
		l.sendChunk()

	default:
		if l.sched.State(notify.NOTIFY_TYPE_COMMANDS) ==
			notify.CHAN_STATE_REGISTERED {

			l.sched.Deregister(notify.NOTIFY_TYPE_COMMANDS)
		}
	}
}

func (l *Liaison) release() {
	d := l.desc
	l.desc = nil

	if d != nil {
		log.Debugf("liaison released %s", d)
	}

	// An unconfirmed final indication keeps the channel until Confirm().
	if l.sched.State(notify.NOTIFY_TYPE_COMMANDS) ==
		notify.CHAN_STATE_REGISTERED {

		l.sched.Deregister(notify.NOTIFY_TYPE_COMMANDS)
	}

	if l.pendingMtu != 0 {
		l.resize(l.pendingMtu)
	}
}

func backendCode(err error) int16 {
	if be, ok := err.(*blxutil.BackendError); ok {
		return be.Code
	}

	return ERR_CODE_BACKEND_UNKNOWN
}

// Latches a command processor failure in the error register and tells the
// client via the error indication channel.
func (l *Liaison) reportErr(key backend.CmdKey, err error) {
	field := backend.ErrField(key)
	code := backendCode(err)

	log.Debugf("command %s failed: %s", key, err.Error())

	if l.dev != nil {
		l.dev.SetError(field, code)
	}

	if err := l.sched.SendErrorIndication(field, code); err != nil {
		log.Debugf("error indication not sent: %s", err.Error())
	}
}

func (l *Liaison) fail(d *CmdDesc, err error) {
	l.stats.Failed++

	if d.transOpen {
		l.errRsp(d, bledefs.ERR_CODE_ATT_UNLIKELY)
	}
	l.reportErr(d.Key, err)

	if l.desc == d {
		l.release()
	}
}

// The link refused a chunk outright; no buffer-empty will follow, so the
// transfer is abandoned.
func (l *Liaison) failXport(d *CmdDesc, err error) {
	log.Errorf("abandoning %s after %d chunks: %s",
		d.Key, d.CurPktIdx, err.Error())

	l.stats.Failed++

	if l.dev != nil {
		l.dev.SetError(devstate.ERR_FIELD_BLE, ERR_CODE_BLE_XPORT)
	}

	l.sched.Deregister(notify.NOTIFY_TYPE_COMMANDS)
	l.release()

	if err := l.sched.SendErrorIndication(devstate.ERR_FIELD_BLE,
		ERR_CODE_BLE_XPORT); err != nil {

		log.Debugf("error indication not sent: %s", err.Error())
	}
}
