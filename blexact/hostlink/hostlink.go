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
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/xport"
)

// First transaction id allocated to an outgoing indication.
const INDICATE_TRANS_ID_BASE = 0x8001

type XportCfg struct {
	DevPath     string
	Baud        int
	ReadTimeout time.Duration

	// Already opened port; DevPath and Baud are ignored when set.
	Port io.ReadWriteCloser

	// Receives every event decoded from the coprocessor.
	Sink func(evt xport.Evt) error
}

func NewXportCfg() XportCfg {
	return XportCfg{
		Baud:        115200,
		ReadTimeout: 10 * time.Second,
	}
}

// Implements xport.Xport over a UART to a BLE network coprocessor.
type Xport struct {
	cfg  XportCfg
	port io.ReadWriteCloser

	nextTransId uint32
	closing     bool
	txMtx       sync.Mutex
	mtx         sync.Mutex
	wg          sync.WaitGroup
}

func NewXport(cfg XportCfg) *Xport {
	return &Xport{
		cfg:         cfg,
		nextTransId: INDICATE_TRANS_ID_BASE,
	}
}

func (hx *Xport) Start() error {
	if hx.cfg.Sink == nil {
		return errors.New("hostlink requires an event sink")
	}

	port := hx.cfg.Port
	if port == nil {
		sp, err := serial.OpenPort(&serial.Config{
			Name:        hx.cfg.DevPath,
			Baud:        hx.cfg.Baud,
			ReadTimeout: hx.cfg.ReadTimeout,
		})
		if err != nil {
			return errors.Wrapf(err, "opening %s", hx.cfg.DevPath)
		}

		if err := sp.Flush(); err != nil {
			sp.Close()
			return errors.Wrapf(err, "flushing %s", hx.cfg.DevPath)
		}
		port = sp
	}

	hx.mtx.Lock()
	hx.port = port
	hx.closing = false
	hx.mtx.Unlock()

	hx.wg.Add(1)
	go func() {
		defer hx.wg.Done()
		hx.rxLoop(port, hx.cfg.Port == nil)
	}()

	return nil
}

func (hx *Xport) Stop() error {
	hx.mtx.Lock()
	if hx.port == nil {
		hx.mtx.Unlock()
		return errors.New("hostlink not started")
	}
	hx.closing = true
	port := hx.port
	hx.mtx.Unlock()

	err := port.Close()
	hx.wg.Wait()

	hx.mtx.Lock()
	hx.port = nil
	hx.mtx.Unlock()

	return err
}

func (hx *Xport) isClosing() bool {
	hx.mtx.Lock()
	defer hx.mtx.Unlock()

	return hx.closing
}

// A serial port opened with a read timeout reports each timeout as an empty
// read; any other port at EOF has been closed by the peer.
func (hx *Xport) rxLoop(port io.Reader, timeouts bool) {
	var dec Decoder

	for {
		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			hx.rx(&dec, scanner.Bytes())
		}

		if hx.isClosing() {
			return
		}

		err := scanner.Err()
		if err == nil || err == io.EOF {
			if timeouts {
				continue
			}
			log.Infof("hostlink port closed by peer")
			return
		}

		log.Errorf("hostlink read failed: %s", err.Error())
		return
	}
}

func (hx *Xport) rx(dec *Decoder, line []byte) {
	b, err := dec.Feed(line)
	if err != nil {
		log.Debugf("hostlink rx: %s", err.Error())
		return
	}
	if b == nil {
		return
	}

	m, err := DecodeMsg(b)
	if err != nil {
		log.Debugf("hostlink rx: %s", err.Error())
		return
	}

	log.Debugf("hostlink rx: %s", m)

	evt, err := m.Evt()
	if err != nil {
		log.Debugf("hostlink rx: %s", err.Error())
		return
	}

	if err := hx.cfg.Sink(evt); err != nil {
		log.Errorf("hostlink dropped %s event: %s", evt.Type(), err.Error())
	}
}

func (hx *Xport) tx(m *Msg) error {
	b, err := EncodeMsg(m)
	if err != nil {
		return err
	}

	hx.mtx.Lock()
	port := hx.port
	hx.mtx.Unlock()

	if port == nil {
		return blxutil.NewXportError("hostlink not started")
	}

	log.Debugf("hostlink tx: %s", m)

	hx.txMtx.Lock()
	defer hx.txMtx.Unlock()

	for _, line := range EncodeFrame(b) {
		if _, err := port.Write(line); err != nil {
			return blxutil.FmtXportError("hostlink write failed: %s",
				errors.Wrap(err, m.Op).Error())
		}
	}

	return nil
}

func (hx *Xport) ReadResponse(stackId uint32, transId uint32,
	data []byte) error {

	return hx.tx(&Msg{
		Op:      MSG_OP_READ_RSP,
		StackId: stackId,
		TransId: transId,
		Data:    data,
	})
}

func (hx *Xport) WriteResponse(stackId uint32, transId uint32) error {
	return hx.tx(&Msg{
		Op:      MSG_OP_WRITE_RSP,
		StackId: stackId,
		TransId: transId,
	})
}

func (hx *Xport) ErrorResponse(stackId uint32, transId uint32,
	attrOff uint16, code int) error {

	return hx.tx(&Msg{
		Op:      MSG_OP_ERR_RSP,
		StackId: stackId,
		TransId: transId,
		AttrOff: attrOff,
		Status:  code,
	})
}

func (hx *Xport) Notify(stackId uint32, svcId uint32, connId uint32,
	attrOff uint16, data []byte) error {

	return hx.tx(&Msg{
		Op:      MSG_OP_NOTIFY,
		StackId: stackId,
		SvcId:   svcId,
		ConnId:  connId,
		AttrOff: attrOff,
		Data:    data,
	})
}

// The coprocessor echoes the returned transaction id in its confirm frame.
func (hx *Xport) Indicate(stackId uint32, svcId uint32, connId uint32,
	attrOff uint16, data []byte) (uint32, error) {

	hx.mtx.Lock()
	transId := hx.nextTransId
	hx.nextTransId++
	if hx.nextTransId == 0 {
		hx.nextTransId = INDICATE_TRANS_ID_BASE
	}
	hx.mtx.Unlock()

	err := hx.tx(&Msg{
		Op:      MSG_OP_INDICATE,
		StackId: stackId,
		TransId: transId,
		SvcId:   svcId,
		ConnId:  connId,
		AttrOff: attrOff,
		Data:    data,
	})
	if err != nil {
		return 0, err
	}

	return transId, nil
}

func (hx *Xport) StartAdvertising() error {
	return hx.tx(&Msg{Op: MSG_OP_ADV_START})
}
