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

package notify

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/xport"
)

const testConnId = 7

func newTestScheduler() (*Scheduler, *xport.RecXport) {
	x := xport.NewRecXport()
	s := NewScheduler(x)
	s.Reset(testConnId)
	return s, x
}

func info(t NotifyType, indicate bool, attrOff uint16) Info {
	return Info{
		Type:     t,
		Indicate: indicate,
		Bt: xport.BtInfo{
			StackId: 1,
			SvcId:   2,
			ConnId:  testConnId,
			AttrOff: attrOff,
		},
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s, _ := newTestScheduler()

	if err := s.Register(info(NOTIFY_TYPE_TEMPERATURE, false, 3)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := s.Register(info(NOTIFY_TYPE_TEMPERATURE, false, 3))
	if !blxutil.IsAlreadyRegistered(err) {
		t.Fatalf("expected already-registered error, got %v", err)
	}
	if s.State(NOTIFY_TYPE_TEMPERATURE) != CHAN_STATE_REGISTERED {
		t.Errorf("duplicate registration disturbed channel state")
	}
}

func TestDeregisterIdempotent(t *testing.T) {
	s, _ := newTestScheduler()

	if err := s.Deregister(NOTIFY_TYPE_HUMIDITY); err != nil {
		t.Fatalf("deregister of unregistered channel: %v", err)
	}

	s.Register(info(NOTIFY_TYPE_HUMIDITY, false, 6))
	s.SetData(NOTIFY_TYPE_HUMIDITY, []byte{1, 2})

	for i := 0; i < 2; i++ {
		if err := s.Deregister(NOTIFY_TYPE_HUMIDITY); err != nil {
			t.Fatalf("deregister %d: %v", i, err)
		}
		if s.Registered(NOTIFY_TYPE_HUMIDITY) || s.Pending(NOTIFY_TYPE_HUMIDITY) {
			t.Fatalf("channel state survived deregister %d", i)
		}
	}

	if err := s.Register(info(NOTIFY_TYPE_HUMIDITY, false, 6)); err != nil {
		t.Errorf("re-register after deregister: %v", err)
	}
}

func TestSendUnregistered(t *testing.T) {
	s, x := newTestScheduler()

	if err := s.SetData(NOTIFY_TYPE_SCAN_STATUS, []byte{1}); !blxutil.IsNotRegistered(err) {
		t.Errorf("SetData: expected not-registered, got %v", err)
	}
	if err := s.SendNotification(NOTIFY_TYPE_SCAN_STATUS); !blxutil.IsNotRegistered(err) {
		t.Errorf("SendNotification: expected not-registered, got %v", err)
	}
	if err := s.SendErrorIndication(devstate.ERR_FIELD_BLE, -1); !blxutil.IsNotRegistered(err) {
		t.Errorf("SendErrorIndication: expected not-registered, got %v", err)
	}
	if n := len(x.Calls()); n != 0 {
		t.Errorf("transport saw %d calls", n)
	}
}

func TestNotificationFlowControl(t *testing.T) {
	s, x := newTestScheduler()

	s.Register(info(NOTIFY_TYPE_TEMPERATURE, false, 3))
	s.Register(info(NOTIFY_TYPE_HUMIDITY, false, 6))
	s.Register(info(NOTIFY_TYPE_DEVICE_STATUS, false, 9))

	s.SetData(NOTIFY_TYPE_DEVICE_STATUS, []byte{0xd})
	if err := s.SendNotification(NOTIFY_TYPE_DEVICE_STATUS); err != nil {
		t.Fatalf("first notification: %v", err)
	}
	if !s.LinkBusy() {
		t.Fatalf("link not busy after notification")
	}

	// Both staged while the link is occupied.
	s.SetData(NOTIFY_TYPE_HUMIDITY, []byte{0xb})
	if err := s.SendNotification(NOTIFY_TYPE_HUMIDITY); !blxutil.IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	s.SetData(NOTIFY_TYPE_TEMPERATURE, []byte{0xa})
	s.SendNotification(NOTIFY_TYPE_TEMPERATURE)

	if n := len(x.CallsOf(xport.CALL_OP_NOTIFY)); n != 1 {
		t.Fatalf("got %d notifications while busy want 1", n)
	}

	// Stale connection id changes nothing.
	s.BufferEmpty(testConnId + 1)
	if n := len(x.CallsOf(xport.CALL_OP_NOTIFY)); n != 1 {
		t.Fatalf("stale buffer-empty flushed data")
	}

	s.BufferEmpty(testConnId)
	s.BufferEmpty(testConnId)

	ns := x.CallsOf(xport.CALL_OP_NOTIFY)
	if len(ns) != 3 {
		t.Fatalf("got %d notifications want 3", len(ns))
	}

	// Channel order, not staging order.
	if ns[1].AttrOff != 3 || ns[2].AttrOff != 6 {
		t.Errorf("flush order: got attrs %d, %d", ns[1].AttrOff, ns[2].AttrOff)
	}
	if ns[1].ConnId != testConnId {
		t.Errorf("notification sent on conn %d", ns[1].ConnId)
	}
}

func TestTransportBusyKeepsData(t *testing.T) {
	s, x := newTestScheduler()
	s.Register(info(NOTIFY_TYPE_TEMPERATURE, false, 3))

	x.BusyCount = 1
	s.SetData(NOTIFY_TYPE_TEMPERATURE, []byte{1})
	if err := s.SendNotification(NOTIFY_TYPE_TEMPERATURE); !blxutil.IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	if !s.Pending(NOTIFY_TYPE_TEMPERATURE) {
		t.Fatalf("data dropped on busy link")
	}

	s.BufferEmpty(testConnId)
	if n := len(x.CallsOf(xport.CALL_OP_NOTIFY)); n != 1 {
		t.Errorf("got %d notifications want 1", n)
	}
}

func TestIndicationAtMostOne(t *testing.T) {
	s, x := newTestScheduler()
	s.Register(info(NOTIFY_TYPE_SCAN_STATUS, true, 20))

	s.SetData(NOTIFY_TYPE_SCAN_STATUS, []byte{1})
	if err := s.SendIndication(NOTIFY_TYPE_SCAN_STATUS); err != nil {
		t.Fatalf("first indication: %v", err)
	}
	if s.State(NOTIFY_TYPE_SCAN_STATUS) != CHAN_STATE_AWAITING_CONFIRM {
		t.Fatalf("channel not awaiting confirmation")
	}

	s.SetData(NOTIFY_TYPE_SCAN_STATUS, []byte{2})
	if err := s.SendIndication(NOTIFY_TYPE_SCAN_STATUS); !blxutil.IsBusy(err) {
		t.Fatalf("second indication: expected busy, got %v", err)
	}

	inds := x.CallsOf(xport.CALL_OP_INDICATE)
	if len(inds) != 1 {
		t.Fatalf("got %d indications before confirm want 1", len(inds))
	}

	typ, ok := s.UpdateIndicationInfo(inds[0].TransId, 1)
	if !ok || typ != NOTIFY_TYPE_SCAN_STATUS {
		t.Fatalf("confirm not correlated: %v %t", typ, ok)
	}

	// Staged data goes out once the first is confirmed.
	inds = x.CallsOf(xport.CALL_OP_INDICATE)
	if len(inds) != 2 || !bytes.Equal(inds[1].Data, []byte{2}) {
		t.Fatalf("deferred indication not sent: %v", inds)
	}
	if s.State(NOTIFY_TYPE_SCAN_STATUS) != CHAN_STATE_AWAITING_CONFIRM {
		t.Errorf("channel not awaiting second confirmation")
	}
}

func TestConfirmWithoutIndication(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	s, _ := newTestScheduler()
	s.Register(info(NOTIFY_TYPE_ERROR_INDICATION, true, 12))

	if _, ok := s.UpdateIndicationInfo(0x1234, 3); ok {
		t.Fatalf("confirmation matched with nothing outstanding")
	}
	if s.State(NOTIFY_TYPE_ERROR_INDICATION) != CHAN_STATE_REGISTERED {
		t.Errorf("channel state changed")
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("no diagnostic logged")
	}
}

func TestErrorIndication(t *testing.T) {
	s, x := newTestScheduler()
	s.Register(info(NOTIFY_TYPE_ERROR_INDICATION, true, 12))

	if err := s.SendErrorIndication(devstate.ERR_FIELD_SCAN, -2); err != nil {
		t.Fatalf("error indication: %v", err)
	}

	inds := x.CallsOf(xport.CALL_OP_INDICATE)
	if len(inds) != 1 {
		t.Fatalf("got %d indications want 1", len(inds))
	}
	want := []byte{byte(devstate.ERR_FIELD_SCAN), 0xfe, 0xff}
	if !bytes.Equal(inds[0].Data, want) {
		t.Errorf("payload: got %x want %x", inds[0].Data, want)
	}

	// Reports made while unconfirmed are deferred; the latest one wins.
	if err := s.SendErrorIndication(devstate.ERR_FIELD_SD, 3); err != nil {
		t.Fatalf("deferred error indication: %v", err)
	}
	if err := s.SendErrorIndication(devstate.ERR_FIELD_BLE, 1); err != nil {
		t.Fatalf("deferred error indication: %v", err)
	}
	if n := len(x.CallsOf(xport.CALL_OP_INDICATE)); n != 1 {
		t.Fatalf("indication sent before confirmation; have %d", n)
	}

	typ, ok := s.UpdateIndicationInfo(inds[0].TransId, len(inds[0].Data))
	if !ok || typ != NOTIFY_TYPE_ERROR_INDICATION {
		t.Fatalf("confirmation not matched: %s %v", NotifyTypeToString(typ), ok)
	}

	inds = x.CallsOf(xport.CALL_OP_INDICATE)
	if len(inds) != 2 {
		t.Fatalf("got %d indications want 2", len(inds))
	}
	want = []byte{byte(devstate.ERR_FIELD_BLE), 0x01, 0x00}
	if !bytes.Equal(inds[1].Data, want) {
		t.Errorf("deferred payload: got %x want %x", inds[1].Data, want)
	}
	if s.Pending(NOTIFY_TYPE_ERROR_INDICATION) {
		t.Errorf("deferred report still staged")
	}
}

func TestTransportFailure(t *testing.T) {
	s, x := newTestScheduler()
	s.Register(info(NOTIFY_TYPE_TEMPERATURE, false, 3))

	x.FailNotify = true
	s.SetData(NOTIFY_TYPE_TEMPERATURE, []byte{1})
	if err := s.SendNotification(NOTIFY_TYPE_TEMPERATURE); !blxutil.IsXport(err) {
		t.Fatalf("expected xport error, got %v", err)
	}
	if s.Pending(NOTIFY_TYPE_TEMPERATURE) || s.LinkBusy() {
		t.Errorf("failed notification left state behind")
	}
}

func TestReset(t *testing.T) {
	s, _ := newTestScheduler()
	s.Register(info(NOTIFY_TYPE_TEMPERATURE, false, 3))
	s.Register(info(NOTIFY_TYPE_ERROR_INDICATION, true, 12))
	s.SendErrorIndication(devstate.ERR_FIELD_BLE, 1)
	s.SetData(NOTIFY_TYPE_TEMPERATURE, []byte{1})
	s.SendNotification(NOTIFY_TYPE_TEMPERATURE)

	s.Reset(testConnId + 1)

	for i := NotifyType(0); i < NOTIFY_TYPE_CNT; i++ {
		if s.Registered(i) || s.Pending(i) {
			t.Errorf("channel %s survived reset", i)
		}
	}
	if s.LinkBusy() {
		t.Errorf("link busy after reset")
	}
}
