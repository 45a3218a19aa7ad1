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
package cli

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/gatts"
	"nirscan.io/nanoble/blexact/periph"
	"nirscan.io/nanoble/blexact/xport"
)

const simStackId = 1

// Upper bound on flow-control events pumped for a single transfer.
const maxPumps = 100000

// Plays the role of a connected BLE central against a peripheral running
// over a recording transport.  Every event is drained before returning, so
// the transport's call log reflects everything the peripheral did.
type central struct {
	p      *periph.Peripheral
	x      *xport.RecXport
	connId uint32
	trans  uint32
}

// onCall, if non-nil, observes every call the peripheral makes on the
// transport.
func newCentral(sp *backend.Spectro, onCall func(c xport.Call)) (
	*central, error) {

	x := xport.NewRecXport()
	x.OnCall = onCall

	cfg := periph.NewPeripheralCfg()
	cfg.Xport = x
	cfg.Spectro = sp

	p, err := periph.NewPeripheral(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}

	return &central{p: p, x: x}, nil
}

func (c *central) stop() {
	if c.p.State() == periph.PERIPH_STATE_STARTED {
		c.p.Stop()
	}
}

func (c *central) post(evt xport.Evt) error {
	if err := c.p.Post(evt); err != nil {
		return err
	}
	return c.p.Drain()
}

func (c *central) connected() bool {
	return c.p.ConnMgr().ConnId() != bledefs.BLE_CONN_ID_NONE
}

func (c *central) connect(connId uint32, mtu int) error {
	err := c.post(&xport.ConnectEvt{
		ConnId: connId,
		Peer: bledefs.BleAddr{
			Bytes: [6]byte{0x0a, 0x0b, 0x0c, 0x0d, 0x0e, byte(connId)},
		},
		Mtu: mtu,
	})
	if err != nil {
		return err
	}

	if c.p.ConnMgr().ConnId() != connId {
		return fmt.Errorf("connection %d refused", connId)
	}
	c.connId = connId
	return nil
}

func (c *central) disconnect(reason int) error {
	connId := c.connId
	c.connId = 0
	return c.post(&xport.DisconnectEvt{ConnId: connId, Reason: reason})
}

func (c *central) attr(svc string, chr string) (*gatts.Attr, error) {
	a := c.p.Table().Find(svc, chr)
	if a == nil {
		return nil, fmt.Errorf("no characteristic %s/%s", svc, chr)
	}
	return a, nil
}

// Returns the single response the peripheral sent for a transaction.
func (c *central) response(transId uint32) (xport.Call, error) {
	rsps := c.x.Responses(transId)
	if len(rsps) != 1 {
		return xport.Call{}, fmt.Errorf(
			"transaction %d: expected one response; have %d", transId,
			len(rsps))
	}

	rsp := rsps[0]
	if rsp.Op == xport.CALL_OP_ERR_RSP {
		return rsp, blxutil.FmtAttError(rsp.Code,
			"transaction %d failed; att status 0x%02x (%s)", transId,
			rsp.Code, bledefs.ErrCodeToString(rsp.Code))
	}
	return rsp, nil
}

func (c *central) readOff(a *gatts.Attr, off uint16) (xport.Call, error) {
	c.trans++
	err := c.post(&xport.ReadReqEvt{
		StackId: simStackId,
		TransId: c.trans,
		ConnId:  c.connId,
		SvcId:   a.Svc.Id,
		AttrOff: off,
	})
	if err != nil {
		return xport.Call{}, err
	}

	return c.response(c.trans)
}

func (c *central) read(a *gatts.Attr) ([]byte, error) {
	rsp, err := c.readOff(a, a.ValOff)
	if err != nil {
		return nil, err
	}
	return rsp.Data, nil
}

func (c *central) writeOff(a *gatts.Attr, off uint16, data []byte) (
	xport.Call, error) {

	c.trans++
	err := c.post(&xport.WriteReqEvt{
		StackId: simStackId,
		TransId: c.trans,
		ConnId:  c.connId,
		SvcId:   a.Svc.Id,
		AttrOff: off,
		Data:    data,
	})
	if err != nil {
		return xport.Call{}, err
	}

	return c.response(c.trans)
}

func (c *central) write(a *gatts.Attr, data []byte) error {
	_, err := c.writeOff(a, a.ValOff, data)
	return err
}

func (c *central) subscribe(a *gatts.Attr, bits uint16) error {
	if a.CcdOff == 0 {
		return fmt.Errorf("%s has no client configuration descriptor", a)
	}

	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, bits)

	_, err := c.writeOff(a, a.CcdOff, b)
	return err
}

func (c *central) bufferEmpty() error {
	return c.post(&xport.BufferEmptyEvt{ConnId: c.connId})
}

func (c *central) confirmCall(ind xport.Call) error {
	return c.post(&xport.ConfirmEvt{
		ConnId:       c.connId,
		TransId:      ind.TransId,
		BytesWritten: len(ind.Data),
	})
}

// Confirms the most recent indication.  Returns false if nothing has been
// indicated.
func (c *central) confirm() (bool, error) {
	inds := c.x.CallsOf(xport.CALL_OP_INDICATE)
	if len(inds) == 0 {
		return false, nil
	}

	return true, c.confirmCall(inds[len(inds)-1])
}

// Packets the peripheral pushed to an attribute since the given call log
// mark.
func (c *central) pushedSince(a *gatts.Attr, mark int) []xport.Call {
	calls := c.x.Calls()

	var pushed []xport.Call
	for _, call := range calls[mark:] {
		if call.Op != xport.CALL_OP_NOTIFY && call.Op != xport.CALL_OP_INDICATE {
			continue
		}
		if call.SvcId == a.Svc.Id && call.AttrOff == a.ValOff {
			pushed = append(pushed, call)
		}
	}
	return pushed
}

// Collects packets pushed to an attribute, acknowledging each one the way a
// central's stack would, until total bytes have arrived or the liaison goes
// idle.  progress is called with the size of every packet.
func (c *central) collect(a *gatts.Attr, mark int, total int,
	progress func(n int)) ([]byte, error) {

	var data []byte
	var last xport.Call
	seen := 0
	acked := true

	for i := 0; i < maxPumps; i++ {
		pushed := c.pushedSince(a, mark)
		for _, call := range pushed[seen:] {
			data = append(data, call.Data...)
			if progress != nil {
				progress(len(call.Data))
			}
			last = call
			acked = false
		}
		seen = len(pushed)

		if !acked {
			var err error
			if last.Op == xport.CALL_OP_INDICATE {
				err = c.confirmCall(last)
			} else {
				err = c.bufferEmpty()
			}
			if err != nil {
				return data, err
			}
			acked = true
			continue
		}

		if total >= 0 && len(data) >= total {
			break
		}
		if !c.p.Liaison().Active() {
			break
		}

		// Nothing new; the liaison may be waiting on a busy link.
		if err := c.bufferEmpty(); err != nil {
			return data, err
		}
	}

	if total >= 0 && len(data) != total {
		return data, fmt.Errorf("%s: received %d bytes; expected %d",
			a, len(data), total)
	}

	log.Debugf("collected %d bytes from %s in %d packets", len(data), a, seen)
	return data, nil
}

// Writes a file request and collects the returned file from its partner
// characteristic.  The partner must already be subscribed.
func (c *central) fetch(req *gatts.Attr, ret *gatts.Attr, idx []byte,
	total int, progress func(n int)) ([]byte, error) {

	mark := len(c.x.Calls())
	if err := c.write(req, idx); err != nil {
		return nil, err
	}

	return c.collect(ret, mark, total, progress)
}

// Reads a characteristic whose value may exceed one packet.  Values too large
// for a read response arrive as a 4-byte length followed by notifications on
// the same characteristic.
func (c *central) readLarge(a *gatts.Attr, progress func(n int)) (
	[]byte, error) {

	mark := len(c.x.Calls())
	data, err := c.read(a)
	if err != nil {
		return nil, err
	}

	if !c.p.Liaison().Active() || len(data) != 4 {
		if progress != nil {
			progress(len(data))
		}
		return data, nil
	}

	total := int(binary.LittleEndian.Uint32(data))
	return c.collect(a, mark, total, progress)
}
