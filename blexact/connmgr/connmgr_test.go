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

package connmgr

import (
	"testing"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/liaison"
	"nirscan.io/nanoble/blexact/notify"
	"nirscan.io/nanoble/blexact/xport"
)

type fixture struct {
	x     *xport.RecXport
	dev   *devstate.Device
	sched *notify.Scheduler
	l     *liaison.Liaison
	cm    *ConnMgr
}

func newFixture() *fixture {
	f := &fixture{
		x:   xport.NewRecXport(),
		dev: devstate.NewDevice(),
	}

	f.sched = notify.NewScheduler(f.x)

	scfg := backend.NewSpectroCfg()
	scfg.Dev = f.dev

	cfg := NewConnMgrCfg()
	cfg.Xport = f.x
	cfg.Sched = f.sched
	cfg.Dev = f.dev

	lcfg := liaison.NewLiaisonCfg()
	lcfg.Xport = f.x
	lcfg.Backend = backend.NewSpectro(scfg)
	lcfg.Sched = f.sched
	lcfg.Dev = f.dev

	f.cm = NewConnMgr(cfg)
	lcfg.Ccds = f.cm
	f.l = liaison.NewLiaison(lcfg)
	f.cm.SetLiaison(f.l)

	return f
}

func (f *fixture) connect(t *testing.T, connId uint32, mtu int) {
	err := f.cm.Connect(&xport.ConnectEvt{ConnId: connId, Mtu: mtu})
	if err != nil {
		t.Fatalf("connect %d: %v", connId, err)
	}
}

func TestSingleSlot(t *testing.T) {
	f := newFixture()
	f.connect(t, 1, 0)

	err := f.cm.Connect(&xport.ConnectEvt{ConnId: 2})
	if !blxutil.IsConnSlot(err) {
		t.Fatalf("second connection not refused: %v", err)
	}
	if f.cm.ConnId() != 1 {
		t.Fatalf("slot taken over by refused connection")
	}

	ctx := f.cm.Ctx()
	if ctx.Mtu != bledefs.BLE_ATT_MTU_DFLT {
		t.Fatalf("want default mtu; have %d", ctx.Mtu)
	}
	if f.l.ChunkSize() != bledefs.ChunkSize(bledefs.BLE_ATT_MTU_DFLT) {
		t.Fatalf("liaison not bound: chunk size %d", f.l.ChunkSize())
	}
	if f.dev.Status()&devstate.DEV_STATUS_BLE_CONNECTED == 0 {
		t.Fatalf("connected status bit not set")
	}
}

func TestFailedConnectIgnored(t *testing.T) {
	f := newFixture()

	if err := f.cm.Connect(&xport.ConnectEvt{ConnId: 1, Status: 0x3e}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.cm.Ctx() != nil {
		t.Fatalf("failed connect occupied the slot")
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture()
	ch := f.cm.Listen()

	f.connect(t, 7, 100)
	if err := f.cm.SetCcd(2, 3, bledefs.BLE_GATT_CCD_NOTIFY); err != nil {
		t.Fatalf("SetCcd: %v", err)
	}
	f.sched.Register(notify.Info{Type: notify.NOTIFY_TYPE_TEMPERATURE})

	// Unknown connection.
	if err := f.cm.Disconnect(&xport.DisconnectEvt{ConnId: 8}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.cm.ConnId() != 7 {
		t.Fatalf("stale disconnect cleared the slot")
	}

	err := f.cm.Disconnect(&xport.DisconnectEvt{ConnId: 7, Reason: 0x13})
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if f.cm.Ctx() != nil {
		t.Fatalf("slot not released")
	}
	if f.cm.Ccd(2, 3) != 0 {
		t.Fatalf("descriptor value survived disconnect")
	}
	if f.sched.Registered(notify.NOTIFY_TYPE_TEMPERATURE) {
		t.Fatalf("channel survived disconnect")
	}
	if f.l.ChunkSize() != 0 {
		t.Fatalf("liaison buffer survived disconnect")
	}
	if f.dev.Status()&devstate.DEV_STATUS_BLE_CONNECTED != 0 {
		t.Fatalf("connected status bit still set")
	}
	if len(f.x.CallsOf(xport.CALL_OP_ADVERTISE)) != 1 {
		t.Fatalf("advertising not resumed")
	}

	evts := []ConnEvtType{}
	for len(ch) > 0 {
		evts = append(evts, (<-ch).(ConnEvt).Type)
	}
	if len(evts) != 2 || evts[0] != CONN_EVT_TYPE_CONNECT ||
		evts[1] != CONN_EVT_TYPE_DISCONNECT {

		t.Fatalf("unexpected events: %v", evts)
	}

	// Slot is free again.
	f.connect(t, 9, 0)
}

func TestMtuChange(t *testing.T) {
	f := newFixture()
	f.connect(t, 1, 0)

	f.cm.MtuChange(&xport.MtuChangeEvt{ConnId: 1, Mtu: 247})
	if f.cm.Ctx().Mtu != 247 {
		t.Fatalf("mtu not recorded")
	}
	if f.l.ChunkSize() != 244 {
		t.Fatalf("want chunk size 244; have %d", f.l.ChunkSize())
	}

	f.cm.MtuChange(&xport.MtuChangeEvt{ConnId: 5, Mtu: 100})
	if f.cm.Ctx().Mtu != 247 {
		t.Fatalf("mtu change for another connection applied")
	}
}

func TestCcdWithoutPeer(t *testing.T) {
	f := newFixture()

	if err := f.cm.SetCcd(1, 1, 1); !blxutil.IsConnSlot(err) {
		t.Fatalf("want ConnSlotError; have %v", err)
	}
	if f.cm.Ccd(1, 1) != 0 {
		t.Fatalf("descriptor readable without a peer")
	}
}
