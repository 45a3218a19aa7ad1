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
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/connmgr"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/gatts"
	"nirscan.io/nanoble/blexact/liaison"
	"nirscan.io/nanoble/blexact/notify"
	"nirscan.io/nanoble/blexact/task"
	"nirscan.io/nanoble/blexact/xport"
)

const DFLT_QUEUE_DEPTH = 64

type PeripheralState int

const (
	PERIPH_STATE_STOPPED PeripheralState = iota
	PERIPH_STATE_STARTED
)

type PeripheralCfg struct {
	Xport xport.Xport

	// In-memory spectrometer; a default one is created when nil.
	Spectro *backend.Spectro

	// Attribute table contents; the standard services when nil.
	Services []gatts.SvcDef

	QueueDepth int
}

func NewPeripheralCfg() PeripheralCfg {
	return PeripheralCfg{
		QueueDepth: DFLT_QUEUE_DEPTH,
	}
}

// Owns every component of the GATT side of the device and runs them on a
// single event queue.  Transport events, command processor completions and
// sensor updates are all jobs on that queue.
type Peripheral struct {
	x     xport.Xport
	sp    *backend.Spectro
	dev   *devstate.Device
	tbl   *gatts.Table
	srv   *gatts.Server
	cm    *connmgr.ConnMgr
	l     *liaison.Liaison
	sched *notify.Scheduler
	q     *task.Queue
	depth int

	lastStatus uint32
	state      PeripheralState
	mtx        sync.Mutex
}

func NewPeripheral(cfg PeripheralCfg) (*Peripheral, error) {
	if cfg.Xport == nil {
		return nil, fmt.Errorf("peripheral requires a transport")
	}

	svcs := cfg.Services
	if svcs == nil {
		svcs = gatts.DefaultServices()
	}

	tbl, err := gatts.NewTable(svcs)
	if err != nil {
		return nil, err
	}

	p := &Peripheral{
		x:     cfg.Xport,
		sp:    cfg.Spectro,
		tbl:   tbl,
		q:     task.NewQueue("periph"),
		depth: cfg.QueueDepth,
	}
	if p.depth <= 0 {
		p.depth = DFLT_QUEUE_DEPTH
	}

	if p.sp == nil {
		p.sp = backend.NewSpectro(backend.NewSpectroCfg())
	}
	p.dev = p.sp.Device()
	p.sp.SetHooks(
		func(st []byte) { p.Publish(notify.NOTIFY_TYPE_SCAN_STATUS, st) },
		func(st []byte) { p.Publish(notify.NOTIFY_TYPE_CLEAR_SCAN_STATUS, st) })

	p.sched = notify.NewScheduler(p.x)

	ccfg := connmgr.NewConnMgrCfg()
	ccfg.Xport = p.x
	ccfg.Sched = p.sched
	ccfg.Dev = p.dev
	p.cm = connmgr.NewConnMgr(ccfg)

	lcfg := liaison.NewLiaisonCfg()
	lcfg.Xport = p.x
	lcfg.Backend = p.sp
	lcfg.Sched = p.sched
	lcfg.Dev = p.dev
	lcfg.Ccds = p.cm
	lcfg.Post = p.q.Post
	p.l = liaison.NewLiaison(lcfg)
	p.cm.SetLiaison(p.l)

	p.srv = gatts.NewServer(gatts.ServerCfg{
		Table:   p.tbl,
		Xport:   p.x,
		Liaison: p.l,
		Sched:   p.sched,
		Dev:     p.dev,
		Ccds:    p.cm,
	})

	p.lastStatus = p.dev.Status()

	return p, nil
}

func (p *Peripheral) Table() *gatts.Table { return p.tbl }
func (p *Peripheral) ConnMgr() *connmgr.ConnMgr { return p.cm }
func (p *Peripheral) Liaison() *liaison.Liaison { return p.l }
func (p *Peripheral) Scheduler() *notify.Scheduler { return p.sched }
func (p *Peripheral) Spectro() *backend.Spectro { return p.sp }
func (p *Peripheral) Device() *devstate.Device { return p.dev }

func (p *Peripheral) State() PeripheralState {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.state
}

// Starts the event queue and begins advertising.
func (p *Peripheral) Start() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state == PERIPH_STATE_STARTED {
		return fmt.Errorf("peripheral already started")
	}

	if err := p.q.Start(p.depth); err != nil {
		return err
	}
	p.state = PERIPH_STATE_STARTED

	err := p.q.Run(func() error {
		return p.x.StartAdvertising()
	})
	if err != nil {
		return blxutil.FmtXportError("failed to start advertising: %s",
			err.Error())
	}

	log.Debugf("peripheral started; %d services", len(p.tbl.Services()))
	return nil
}

func (p *Peripheral) Stop() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state == PERIPH_STATE_STOPPED {
		return fmt.Errorf("peripheral already stopped")
	}
	p.state = PERIPH_STATE_STOPPED

	p.cm.Close()
	return p.q.Stop(fmt.Errorf("peripheral stopped"))
}

// Queues a transport event.  Safe to call from any goroutine, including
// transport callbacks.
func (p *Peripheral) Post(evt xport.Evt) error {
	return p.q.Post(func() { p.Handle(evt) })
}

// Blocks until every queued job has run.
func (p *Peripheral) Drain() error {
	return p.q.Drain()
}

// Processes one transport event.  Must run on the event queue.
func (p *Peripheral) Handle(evt xport.Evt) {
	log.Debugf("periph event: %s conn=%d", evt.Type(), xport.EvtConnId(evt))

	switch e := evt.(type) {
	case *xport.ConnectEvt:
		if err := p.cm.Connect(e); err != nil {
			log.Warnf("connect rejected: %s", err.Error())
		}

	case *xport.DisconnectEvt:
		if err := p.cm.Disconnect(e); err != nil {
			log.Errorf("%s", err.Error())
		}

	case *xport.MtuChangeEvt:
		p.cm.MtuChange(e)

	case *xport.ReadReqEvt:
		p.srv.Read(e)

	case *xport.WriteReqEvt:
		p.srv.Write(e)

	case *xport.BufferEmptyEvt:
		if p.sched.LinkFree(e.ConnId) {
			// The liaison gets the link first so a transfer is not starved
			// by telemetry.
			p.l.BufferEmpty(e.ConnId)
			p.sched.Flush()
		}

	case *xport.ConfirmEvt:
		if e.ConnId != p.cm.ConnId() {
			log.Debugf("confirmation for stale connection %d", e.ConnId)
			break
		}
		if e.Status != 0 {
			log.Debugf("indication %d completed with status %d",
				e.TransId, e.Status)
		}

		typ, ok := p.sched.UpdateIndicationInfo(e.TransId, e.BytesWritten)
		if ok && typ == notify.NOTIFY_TYPE_COMMANDS {
			p.l.Confirm()
		}

	default:
		log.Errorf("unhandled event type: %T", evt)
	}

	p.checkStatus()
}

// Notifies the device status characteristic when the register changes.
func (p *Peripheral) checkStatus() {
	st := p.dev.Status()
	if st == p.lastStatus {
		return
	}
	p.lastStatus = st

	p.publish(notify.NOTIFY_TYPE_DEVICE_STATUS, devstate.PutUint32(st))
}

func (p *Peripheral) publish(nt notify.NotifyType, data []byte) {
	if !p.sched.Registered(nt) {
		return
	}

	if err := p.sched.SetData(nt, data); err != nil {
		log.Debugf("publish %s: %s", nt, err.Error())
		return
	}

	if err := p.sched.Send(nt); err != nil && !blxutil.IsBusy(err) {
		log.Debugf("publish %s: %s", nt, err.Error())
	}
}

// Stages data on a notification channel and sends it if the link allows.
// Data published while the client is not subscribed is dropped.
func (p *Peripheral) Publish(nt notify.NotifyType, data []byte) error {
	buf := append([]byte(nil), data...)
	return p.q.Post(func() {
		p.publish(nt, buf)
		p.checkStatus()
	})
}

// Records new sensor readings and notifies subscribed clients.
func (p *Peripheral) UpdateSensors(temp int16, hum uint16) error {
	return p.q.Post(func() {
		p.sp.SetSensors(temp, hum)
		p.publish(notify.NOTIFY_TYPE_TEMPERATURE,
			devstate.PutUint16(uint16(temp)))
		p.publish(notify.NOTIFY_TYPE_HUMIDITY, devstate.PutUint16(hum))
	})
}

// Sets or clears device status bits from outside the event queue.
func (p *Peripheral) SetStatusBits(bits uint32, on bool) error {
	return p.q.Post(func() {
		p.dev.SetStatusBits(bits, on)
		p.checkStatus()
	})
}
