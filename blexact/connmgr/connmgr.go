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
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/liaison"
	"nirscan.io/nanoble/blexact/notify"
	"nirscan.io/nanoble/blexact/xport"
)

type ccdKey struct {
	svcId uint32
	off   uint16
}

// State of the single supported link.
type Ctx struct {
	ConnId uint32
	Peer   bledefs.BleAddr
	Mtu    int

	ccds map[ccdKey]uint16
}

func (c *Ctx) String() string {
	return fmt.Sprintf("conn=%d peer=%s mtu=%d", c.ConnId, c.Peer, c.Mtu)
}

type ConnEvtType int

const (
	CONN_EVT_TYPE_CONNECT ConnEvtType = iota
	CONN_EVT_TYPE_DISCONNECT
)

var connEvtTypeStringMap = map[ConnEvtType]string{
	CONN_EVT_TYPE_CONNECT:    "connect",
	CONN_EVT_TYPE_DISCONNECT: "disconnect",
}

func (t ConnEvtType) String() string {
	s := connEvtTypeStringMap[t]
	if s == "" {
		return "???"
	}
	return s
}

// Delivered to listeners after the link state has been applied.
type ConnEvt struct {
	Type   ConnEvtType
	ConnId uint32
	Peer   bledefs.BleAddr
	Reason int
}

type ConnMgrCfg struct {
	Xport   xport.Xport
	Liaison *liaison.Liaison
	Sched   *notify.Scheduler
	Dev     *devstate.Device
}

func NewConnMgrCfg() ConnMgrCfg {
	return ConnMgrCfg{}
}

// Tracks the connection slot and the per-connection descriptor values.
// Connect, disconnect and MTU events run on the event loop; Ccd may be read
// from any goroutine.
type ConnMgr struct {
	x     xport.Xport
	l     *liaison.Liaison
	sched *notify.Scheduler
	dev   *devstate.Device

	ctx *Ctx
	bc  blxutil.Bcaster
	mtx sync.Mutex
}

func NewConnMgr(cfg ConnMgrCfg) *ConnMgr {
	return &ConnMgr{
		x:     cfg.Xport,
		l:     cfg.Liaison,
		sched: cfg.Sched,
		dev:   cfg.Dev,
	}
}

// The liaison reads descriptors through the connection manager, so one of
// the two is bound after construction.
func (cm *ConnMgr) SetLiaison(l *liaison.Liaison) {
	cm.l = l
}

// Returns a copy of the current link state, or nil if no peer is connected.
func (cm *ConnMgr) Ctx() *Ctx {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	if cm.ctx == nil {
		return nil
	}

	c := *cm.ctx
	c.ccds = nil
	return &c
}

func (cm *ConnMgr) ConnId() uint32 {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	if cm.ctx == nil {
		return bledefs.BLE_CONN_ID_NONE
	}
	return cm.ctx.ConnId
}

func (cm *ConnMgr) Listen() <-chan interface{} {
	return cm.bc.Listen()
}

// Closes every listener channel.
func (cm *ConnMgr) Close() {
	cm.bc.Clear()
}

func (cm *ConnMgr) Connect(e *xport.ConnectEvt) error {
	if e.Status != 0 {
		log.Debugf("connect attempt failed: status=%d", e.Status)
		return nil
	}

	cm.mtx.Lock()
	if cm.ctx != nil {
		cur := cm.ctx.ConnId
		cm.mtx.Unlock()
		return blxutil.NewConnSlotError(fmt.Sprintf(
			"connection %d refused; slot held by connection %d",
			e.ConnId, cur))
	}

	mtu := e.Mtu
	if mtu == 0 {
		mtu = bledefs.BLE_ATT_MTU_DFLT
	}

	cm.ctx = &Ctx{
		ConnId: e.ConnId,
		Peer:   e.Peer,
		Mtu:    mtu,
		ccds:   map[ccdKey]uint16{},
	}
	log.Infof("peer connected: %s", cm.ctx)
	cm.mtx.Unlock()

	cm.dev.SetStatusBits(devstate.DEV_STATUS_BLE_CONNECTED, true)
	cm.l.Reset(e.ConnId, mtu)
	cm.sched.Reset(e.ConnId)

	cm.bc.Send(ConnEvt{
		Type:   CONN_EVT_TYPE_CONNECT,
		ConnId: e.ConnId,
		Peer:   e.Peer,
	})

	return nil
}

// Cancels all outstanding work for the link and resumes advertising.
func (cm *ConnMgr) Disconnect(e *xport.DisconnectEvt) error {
	cm.mtx.Lock()
	if cm.ctx == nil || cm.ctx.ConnId != e.ConnId {
		cm.mtx.Unlock()
		log.Debugf("disconnect for unknown connection %d", e.ConnId)
		return nil
	}

	peer := cm.ctx.Peer
	cm.ctx = nil
	cm.mtx.Unlock()

	log.Infof("peer disconnected: conn=%d reason=0x%02x (%s)",
		e.ConnId, e.Reason, bledefs.HciReasonToString(e.Reason))

	cm.l.Reset(bledefs.BLE_CONN_ID_NONE, 0)
	cm.sched.Reset(bledefs.BLE_CONN_ID_NONE)
	cm.dev.SetStatusBits(devstate.DEV_STATUS_BLE_CONNECTED, false)

	cm.bc.Send(ConnEvt{
		Type:   CONN_EVT_TYPE_DISCONNECT,
		ConnId: e.ConnId,
		Peer:   peer,
		Reason: e.Reason,
	})

	if err := cm.x.StartAdvertising(); err != nil {
		return blxutil.FmtXportError("failed to resume advertising: %s",
			err.Error())
	}

	return nil
}

func (cm *ConnMgr) MtuChange(e *xport.MtuChangeEvt) {
	cm.mtx.Lock()
	if cm.ctx == nil || cm.ctx.ConnId != e.ConnId {
		cm.mtx.Unlock()
		return
	}
	cm.ctx.Mtu = e.Mtu
	cm.mtx.Unlock()

	log.Debugf("mtu changed: conn=%d mtu=%d", e.ConnId, e.Mtu)
	cm.l.SetMtu(e.Mtu)
}

func (cm *ConnMgr) Ccd(svcId uint32, ccdOff uint16) uint16 {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	if cm.ctx == nil {
		return 0
	}
	return cm.ctx.ccds[ccdKey{svcId, ccdOff}]
}

func (cm *ConnMgr) SetCcd(svcId uint32, ccdOff uint16, val uint16) error {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	if cm.ctx == nil {
		return blxutil.NewConnSlotError("no peer connected")
	}

	cm.ctx.ccds[ccdKey{svcId, ccdOff}] = val
	return nil
}
