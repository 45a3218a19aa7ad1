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

package periph

import (
	"bytes"
	"encoding/binary"
	"testing"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/gatts"
	"nirscan.io/nanoble/blexact/notify"
	"nirscan.io/nanoble/blexact/xport"
)

const testStackId = 1

type central struct {
	t      *testing.T
	p      *Peripheral
	x      *xport.RecXport
	connId uint32
	trans  uint32
}

func startPeripheral(t *testing.T) *central {
	x := xport.NewRecXport()

	cfg := NewPeripheralCfg()
	cfg.Xport = x

	p, err := NewPeripheral(cfg)
	if err != nil {
		t.Fatalf("NewPeripheral: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	return &central{t: t, p: p, x: x}
}

func (c *central) stop() {
	c.p.Stop()
}

func (c *central) post(evt xport.Evt) {
	if err := c.p.Post(evt); err != nil {
		c.t.Fatalf("post %s: %v", evt.Type(), err)
	}
	if err := c.p.Drain(); err != nil {
		c.t.Fatalf("drain: %v", err)
	}
}

func (c *central) drain() {
	if err := c.p.Drain(); err != nil {
		c.t.Fatalf("drain: %v", err)
	}
}

func (c *central) connect(connId uint32, mtu int) {
	c.connId = connId
	c.post(&xport.ConnectEvt{ConnId: connId, Mtu: mtu})
}

func (c *central) attr(svc string, chr string) *gatts.Attr {
	a := c.p.Table().Find(svc, chr)
	if a == nil {
		c.t.Fatalf("no characteristic %s/%s", svc, chr)
	}
	return a
}

func (c *central) write(a *gatts.Attr, off uint16, data []byte) uint32 {
	c.trans++
	c.post(&xport.WriteReqEvt{
		StackId: testStackId,
		TransId: c.trans,
		ConnId:  c.connId,
		SvcId:   a.Svc.Id,
		AttrOff: off,
		Data:    data,
	})
	return c.trans
}

func (c *central) subscribe(a *gatts.Attr, bits uint16) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, bits)

	transId := c.write(a, a.CcdOff, b)
	rsps := c.x.Responses(transId)
	if len(rsps) != 1 || rsps[0].Op != xport.CALL_OP_WRITE_RSP {
		c.t.Fatalf("subscribe %s: unexpected responses %v", a, rsps)
	}
}

func (c *central) bufferEmpty() {
	c.post(&xport.BufferEmptyEvt{ConnId: c.connId})
}

// Confirms the most recent indication.
func (c *central) confirm() {
	inds := c.x.CallsOf(xport.CALL_OP_INDICATE)
	if len(inds) == 0 {
		c.t.Fatalf("no indication to confirm")
	}
	last := inds[len(inds)-1]

	c.post(&xport.ConfirmEvt{
		ConnId:       c.connId,
		TransId:      last.TransId,
		BytesWritten: len(last.Data),
	})
}

func (c *central) indicationsOn(a *gatts.Attr) []xport.Call {
	var calls []xport.Call
	for _, call := range c.x.CallsOf(xport.CALL_OP_INDICATE) {
		if call.SvcId == a.Svc.Id && call.AttrOff == a.ValOff {
			calls = append(calls, call)
		}
	}
	return calls
}

func (c *central) notificationsOn(a *gatts.Attr) []xport.Call {
	var calls []xport.Call
	for _, call := range c.x.CallsOf(xport.CALL_OP_NOTIFY) {
		if call.SvcId == a.Svc.Id && call.AttrOff == a.ValOff {
			calls = append(calls, call)
		}
	}
	return calls
}

func idx32(i uint32) []byte {
	return devstate.PutUint32(i)
}

// Runs a scan and returns its stored blob.
func (c *central) scan() []byte {
	start := c.attr(gatts.SVC_NAME_GSDIS, "start_scan")
	c.subscribe(start, bledefs.BLE_GATT_CCD_NOTIFY)

	transId := c.write(start, start.ValOff, nil)
	if rsps := c.x.Responses(transId); len(rsps) != 1 ||
		rsps[0].Op != xport.CALL_OP_WRITE_RSP {

		c.t.Fatalf("start scan: unexpected responses %v", rsps)
	}

	st := c.notificationsOn(start)
	if len(st) != 1 || !bytes.Equal(st[0].Data,
		[]byte{backend.SCAN_STATUS_COMPLETE}) {

		c.t.Fatalf("scan status not notified: %v", st)
	}
	c.bufferEmpty()

	scans := c.p.Spectro().Store().Scans
	if len(scans) == 0 {
		c.t.Fatalf("scan not stored")
	}
	return scans[len(scans)-1].Blob
}

func TestStartAdvertises(t *testing.T) {
	c := startPeripheral(t)
	defer c.stop()

	if n := len(c.x.CallsOf(xport.CALL_OP_ADVERTISE)); n != 1 {
		t.Fatalf("want 1 advertise call; have %d", n)
	}
	if c.p.State() != PERIPH_STATE_STARTED {
		t.Fatalf("peripheral not started")
	}
	if err := c.p.Start(); err == nil {
		t.Fatalf("second start succeeded")
	}
}

func TestScanDataIndicated(t *testing.T) {
	c := startPeripheral(t)
	defer c.stop()

	c.connect(1, bledefs.BLE_ATT_MTU_DFLT)
	blob := c.scan()

	req := c.attr(gatts.SVC_NAME_GSDIS, "req_scan_data")
	ret := c.attr(gatts.SVC_NAME_GSDIS, "ret_scan_data")
	c.subscribe(ret, bledefs.BLE_GATT_CCD_INDICATE)

	transId := c.write(req, req.ValOff, idx32(0))
	if rsps := c.x.Responses(transId); len(rsps) != 1 ||
		rsps[0].Op != xport.CALL_OP_WRITE_RSP {

		t.Fatalf("unexpected responses %v", rsps)
	}

	chunk := bledefs.ChunkSize(bledefs.BLE_ATT_MTU_DFLT)
	want := (len(blob) + chunk - 1) / chunk

	for i := 0; i < want; i++ {
		if n := len(c.indicationsOn(ret)); n != i+1 {
			t.Fatalf("after %d confirmations: want %d indications; have %d",
				i, i+1, n)
		}
		c.confirm()
	}

	var got []byte
	for _, call := range c.indicationsOn(ret) {
		got = append(got, call.Data...)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("reassembled scan differs: have %d bytes; want %d",
			len(got), len(blob))
	}
	if c.p.Liaison().Active() {
		t.Fatalf("liaison still active after final chunk")
	}
}

func TestDisconnectCancelsTransfer(t *testing.T) {
	c := startPeripheral(t)
	defer c.stop()

	c.connect(1, bledefs.BLE_ATT_MTU_DFLT)
	c.scan()

	req := c.attr(gatts.SVC_NAME_GSDIS, "req_scan_data")
	ret := c.attr(gatts.SVC_NAME_GSDIS, "ret_scan_data")
	c.subscribe(ret, bledefs.BLE_GATT_CCD_INDICATE)

	c.write(req, req.ValOff, idx32(0))
	c.confirm()
	if n := len(c.indicationsOn(ret)); n != 2 {
		t.Fatalf("want 2 indications before disconnect; have %d", n)
	}
	if !c.p.Liaison().Active() {
		t.Fatalf("transfer not in progress")
	}

	c.post(&xport.DisconnectEvt{ConnId: 1, Reason: 0x13})

	if c.p.Liaison().Active() {
		t.Fatalf("transfer survived disconnect")
	}
	for nt := notify.NotifyType(0); nt < notify.NOTIFY_TYPE_CNT; nt++ {
		if c.p.Scheduler().Registered(nt) {
			t.Fatalf("channel %s survived disconnect", nt)
		}
	}
	if n := len(c.x.CallsOf(xport.CALL_OP_ADVERTISE)); n != 2 {
		t.Fatalf("advertising not resumed; %d advertise calls", n)
	}

	// A late confirmation for the dead link goes nowhere.
	before := len(c.x.Calls())
	c.confirm()
	c.post(&xport.BufferEmptyEvt{ConnId: 1})
	if len(c.x.Calls()) != before {
		t.Fatalf("stale events produced traffic: %v", c.x.Calls()[before:])
	}

	// Descriptor values do not carry over to the next connection.
	c.connect(2, bledefs.BLE_ATT_MTU_DFLT)
	transId := c.write(req, req.ValOff, idx32(0))
	rsps := c.x.Responses(transId)
	if len(rsps) != 1 || rsps[0].Code != bledefs.ERR_CODE_ATT_CCCD_IMPROPER_CFG {
		t.Fatalf("want CCCD error on new connection; have %v", rsps)
	}
}

func TestConnectWhileOccupied(t *testing.T) {
	c := startPeripheral(t)
	defer c.stop()

	c.connect(1, bledefs.BLE_ATT_MTU_DFLT)
	c.post(&xport.ConnectEvt{ConnId: 2})

	if id := c.p.ConnMgr().ConnId(); id != 1 {
		t.Fatalf("slot held by %d; want 1", id)
	}
}

func TestSensorNotifications(t *testing.T) {
	c := startPeripheral(t)
	defer c.stop()

	c.connect(1, bledefs.BLE_ATT_MTU_DFLT)
	temp := c.attr(gatts.SVC_NAME_GIS, "temperature")
	hum := c.attr(gatts.SVC_NAME_GIS, "humidity")
	c.subscribe(temp, bledefs.BLE_GATT_CCD_NOTIFY)
	c.subscribe(hum, bledefs.BLE_GATT_CCD_NOTIFY)

	if err := c.p.UpdateSensors(2500, 4000); err != nil {
		t.Fatalf("UpdateSensors: %v", err)
	}
	c.drain()

	// One notification per buffer-empty.
	tn := c.notificationsOn(temp)
	if len(tn) != 1 || binary.LittleEndian.Uint16(tn[0].Data) != 2500 {
		t.Fatalf("unexpected temperature notifications: %v", tn)
	}
	if len(c.notificationsOn(hum)) != 0 {
		t.Fatalf("humidity sent while link busy")
	}

	c.bufferEmpty()
	hn := c.notificationsOn(hum)
	if len(hn) != 1 || binary.LittleEndian.Uint16(hn[0].Data) != 4000 {
		t.Fatalf("unexpected humidity notifications: %v", hn)
	}

	if tmp, h := c.p.Spectro().Sensors(); tmp != 2500 || h != 4000 {
		t.Fatalf("sensors not recorded: %d %d", tmp, h)
	}
}

func TestDeviceStatusNotified(t *testing.T) {
	c := startPeripheral(t)
	defer c.stop()

	c.connect(1, bledefs.BLE_ATT_MTU_DFLT)
	st := c.attr(gatts.SVC_NAME_GIS, "device_status")
	c.subscribe(st, bledefs.BLE_GATT_CCD_NOTIFY)

	if err := c.p.SetStatusBits(devstate.DEV_STATUS_LAMP_ON, true); err != nil {
		t.Fatalf("SetStatusBits: %v", err)
	}
	c.drain()

	calls := c.notificationsOn(st)
	if len(calls) != 1 {
		t.Fatalf("want 1 status notification; have %d", len(calls))
	}

	want := devstate.DEV_STATUS_BLE_CONNECTED | devstate.DEV_STATUS_LAMP_ON
	if v := binary.LittleEndian.Uint32(calls[0].Data); v != want {
		t.Fatalf("want status 0x%x; have 0x%x", want, v)
	}
}

func TestBackendFailureIndicatesError(t *testing.T) {
	c := startPeripheral(t)
	defer c.stop()

	c.connect(1, bledefs.BLE_ATT_MTU_DFLT)
	errSt := c.attr(gatts.SVC_NAME_GIS, "error_status")
	req := c.attr(gatts.SVC_NAME_GSDIS, "req_scan_name")
	ret := c.attr(gatts.SVC_NAME_GSDIS, "ret_scan_name")
	c.subscribe(errSt, bledefs.BLE_GATT_CCD_INDICATE)
	c.subscribe(ret, bledefs.BLE_GATT_CCD_NOTIFY)

	// No scans stored.
	c.write(req, req.ValOff, idx32(5))

	inds := c.indicationsOn(errSt)
	if len(inds) != 1 {
		t.Fatalf("want 1 error indication; have %d", len(inds))
	}
	if inds[0].Data[0] != byte(devstate.ERR_FIELD_SD) {
		t.Fatalf("error reported on field %d", inds[0].Data[0])
	}
	if !c.p.Device().ErrStatus().Has(devstate.ERR_FIELD_SD) {
		t.Fatalf("error register not updated")
	}
	if c.p.Liaison().Active() {
		t.Fatalf("failed command not released")
	}
}
