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
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/connmgr"
	"nirscan.io/nanoble/blexact/hostlink"
	"nirscan.io/nanoble/blexact/periph"
	"nirscan.io/nanoble/blexact/xport"
	"nirscan.io/nanoble/nanoble/blutil"
)

var globalHostlink *hostlink.Xport
var serveBlocker blxutil.Blocker

var serveDuration time.Duration
var sensorPeriod time.Duration

func logConnEvts(ch <-chan interface{}) {
	for v := range ch {
		ce, ok := v.(connmgr.ConnEvt)
		if !ok {
			continue
		}

		switch ce.Type {
		case connmgr.CONN_EVT_TYPE_CONNECT:
			log.Infof("central connected; conn=%d peer=%s", ce.ConnId, ce.Peer)
		case connmgr.CONN_EVT_TYPE_DISCONNECT:
			log.Infof("central disconnected; conn=%d reason=%d",
				ce.ConnId, ce.Reason)
		}
	}
}

// Feeds slowly drifting readings to the sensor characteristics.
func runSensors(p *periph.Peripheral, period time.Duration,
	stopChan <-chan struct{}) {

	temp, hum := p.Spectro().Sensors()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			temp += int16(rand.Intn(21) - 10)
			hum = uint16(int(hum) + rand.Intn(41) - 20)
			if err := p.UpdateSensors(temp, hum); err != nil {
				log.Debugf("sensor update: %s", err.Error())
			}

		case <-stopChan:
			return
		}
	}
}

// Holds coprocessor events until open is called.  The hostlink has to run
// before the peripheral can advertise, so events may arrive before the
// peripheral's queue exists.
func gatedSink(post func(evt xport.Evt) error) (
	sink func(evt xport.Evt) error, open func()) {

	ready := make(chan struct{})
	var once sync.Once

	sink = func(evt xport.Evt) error {
		<-ready
		return post(evt)
	}
	open = func() {
		once.Do(func() { close(ready) })
	}

	return sink, open
}

func serveRunCmd(cmd *cobra.Command, args []string) {
	cfg, err := GetConfig()
	if err != nil {
		nbUsage(cmd, util.ChildNewtError(err))
	}
	if cfg.Serial.DevPath == "" {
		nbUsage(cmd, util.NewNewtError("no serial device configured; "+
			"use --dev or set serial.dev in the config file"))
	}

	sp, err := buildSpectro(cfg)
	if err != nil {
		nbFail(err)
	}
	if globalStorePath, err = storePath(cfg); err != nil {
		nbFail(err)
	}

	var p *periph.Peripheral

	sink, open := gatedSink(func(evt xport.Evt) error {
		if ce, ok := evt.(*xport.ConnectEvt); ok && ce.Mtu == 0 {
			ce.Mtu = cfg.Ble.PreferredMtu
		}
		return p.Post(evt)
	})

	hcfg := hostlink.NewXportCfg()
	hcfg.DevPath = cfg.Serial.DevPath
	hcfg.Baud = cfg.Serial.Baud
	hcfg.ReadTimeout = cfg.Serial.ReadTimeout
	hcfg.Sink = sink
	hx := hostlink.NewXport(hcfg)

	pcfg := periph.NewPeripheralCfg()
	pcfg.Xport = hx
	pcfg.Spectro = sp
	p, err = periph.NewPeripheral(pcfg)
	if err != nil {
		nbFail(err)
	}

	if err := hx.Start(); err != nil {
		nbFail(err)
	}
	globalHostlink = hx

	go logConnEvts(p.ConnMgr().Listen())

	err = p.Start()
	open()
	if err != nil {
		nbFail(err)
	}
	globalPeriph = p

	log.Infof("%s serving on %s (%d baud)", blutil.ToolInfo.ShortName,
		cfg.Serial.DevPath, cfg.Serial.Baud)

	stopChan := make(chan struct{})
	if sensorPeriod > 0 {
		go runSensors(p, sensorPeriod, stopChan)
	}

	serveBlocker.Start()
	if _, err := serveBlocker.Wait(serveDuration, nil); err != nil {
		log.Debugf("serve: %s", err.Error())
	}
	close(stopChan)

	Shutdown()
}

func serveCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the GATT database through a BLE coprocessor",
		Long: "Runs the peripheral against a BLE network coprocessor " +
			"attached to a serial port.  The spectrometer store is loaded " +
			"at startup and saved on exit.",
		Example: "  " + blutil.ToolInfo.ExeName + " serve --dev /dev/ttyUSB0\n" +
			"  " + blutil.ToolInfo.ExeName + " serve --sensor-period 5s",
		Run: serveRunCmd,
	}

	serveCmd.Flags().DurationVar(&serveDuration, "duration", 0,
		"stop serving after this long; 0 serves until interrupted")
	serveCmd.Flags().DurationVar(&sensorPeriod, "sensor-period", 0,
		"publish simulated temperature and humidity readings at this "+
			"interval; 0 disables")

	return serveCmd
}
