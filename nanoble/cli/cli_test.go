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
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/gatts"
	"nirscan.io/nanoble/blexact/xport"
	"nirscan.io/nanoble/nanoble/config"
)

func startCentral(t *testing.T) *central {
	c, err := newCentral(backend.NewSpectro(backend.NewSpectroCfg()), nil)
	if err != nil {
		t.Fatalf("newCentral: %v", err)
	}
	return c
}

func mustAttr(t *testing.T, c *central, svc string, chr string) *gatts.Attr {
	a, err := c.attr(svc, chr)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return a
}

func TestSimSession(t *testing.T) {
	tests := []struct {
		name string
		mtu  int
	}{
		{"default mtu", bledefs.BLE_ATT_MTU_DFLT},
		{"large mtu", 247},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := startCentral(t)
			defer c.stop()

			out := &bytes.Buffer{}
			rep, err := runSim(c, simOpts{Mtu: tt.mtu, NumScans: 2, Out: out})
			if err != nil {
				t.Fatalf("runSim: %v\n%s", err, out.String())
			}

			if rep.Info["manufacturer"] != "NIRscan" ||
				rep.Info["model"] != "Nano" {

				t.Fatalf("unexpected device info: %v", rep.Info)
			}
			if rep.MatrixLen != backend.REF_CAL_MATRIX_LEN {
				t.Fatalf("matrix: have %d bytes; want %d",
					rep.MatrixLen, backend.REF_CAL_MATRIX_LEN)
			}

			scans := c.p.Spectro().Store().Scans
			if len(rep.ScanLens) != 2 || len(scans) != 2 {
				t.Fatalf("want 2 scans; have %d retrieved, %d stored",
					len(rep.ScanLens), len(scans))
			}
			for i, n := range rep.ScanLens {
				if n != len(scans[i].Blob) {
					t.Fatalf("scan %d: have %d bytes; want %d",
						i, n, len(scans[i].Blob))
				}
				if rep.ScanNames[i] != scans[i].Name {
					t.Fatalf("scan %d: have name %q; want %q",
						i, rep.ScanNames[i], scans[i].Name)
				}
			}

			if rep.Stats.Failed != 0 || rep.Stats.Rejected != 0 {
				t.Fatalf("unexpected liaison failures: %+v", rep.Stats)
			}
			if c.connected() {
				t.Fatalf("session left the link up")
			}
			if !strings.Contains(out.String(), "stored scans: 2") {
				t.Fatalf("missing scan count in output:\n%s", out.String())
			}
		})
	}
}

func TestFetchRequiresSubscription(t *testing.T) {
	c := startCentral(t)
	defer c.stop()

	if err := c.connect(1, bledefs.BLE_ATT_MTU_DFLT); err != nil {
		t.Fatalf("connect: %v", err)
	}

	req := mustAttr(t, c, gatts.SVC_NAME_GCIS, "req_spec_cal_coeffs")
	ret := mustAttr(t, c, gatts.SVC_NAME_GCIS, "ret_spec_cal_coeffs")

	_, err := c.fetch(req, ret, nil, -1, nil)
	if err == nil {
		t.Fatalf("fetch succeeded without a subscription")
	}
	ae, ok := err.(*blxutil.AttError)
	if !ok || ae.Status != bledefs.ERR_CODE_ATT_CCCD_IMPROPER_CFG {
		t.Fatalf("want cccd error; have %v", err)
	}
}

func TestFetchCfgList(t *testing.T) {
	c := startCentral(t)
	defer c.stop()

	if err := c.connect(1, bledefs.BLE_ATT_MTU_DFLT); err != nil {
		t.Fatalf("connect: %v", err)
	}

	req := mustAttr(t, c, gatts.SVC_NAME_GSCS, "req_cfg_list")
	ret := mustAttr(t, c, gatts.SVC_NAME_GSCS, "ret_cfg_list")
	if err := c.subscribe(ret, bledefs.BLE_GATT_CCD_NOTIFY); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	data, err := c.fetch(req, ret, nil, -1, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var list []backend.ListEntry
	if err := blxutil.DecodeCbor(data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := backend.DefaultStore().Cfgs
	if len(list) != len(want) {
		t.Fatalf("want %d entries; have %d", len(want), len(list))
	}
	for i, e := range list {
		if e.Index != uint32(i) || e.Name != want[i].Name {
			t.Fatalf("entry %d: have %+v; want %s", i, e, want[i].Name)
		}
	}
}

func TestReadLarge(t *testing.T) {
	c := startCentral(t)
	defer c.stop()

	if err := c.connect(1, bledefs.BLE_ATT_MTU_DFLT); err != nil {
		t.Fatalf("connect: %v", err)
	}

	model, err := c.readLarge(mustAttr(t, c, gatts.SVC_NAME_DIS, "model"), nil)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	if string(model) != "Nano" {
		t.Fatalf("have model %q", model)
	}

	matrix := mustAttr(t, c, gatts.SVC_NAME_GCIS, "ref_cal_matrix")
	if _, err := c.readLarge(matrix, nil); err == nil {
		t.Fatalf("large read succeeded without a subscription")
	}

	if err := c.subscribe(matrix, bledefs.BLE_GATT_CCD_NOTIFY); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := 0
	data, err := c.readLarge(matrix, func(n int) { got += n })
	if err != nil {
		t.Fatalf("read matrix: %v", err)
	}
	if !bytes.Equal(data, c.p.Spectro().Store().RefCalMatrix) {
		t.Fatalf("matrix differs; have %d bytes", len(data))
	}
	if got != len(data) {
		t.Fatalf("progress reported %d bytes; want %d", got, len(data))
	}
}

func TestSecondCentralRefused(t *testing.T) {
	c := startCentral(t)
	defer c.stop()

	if err := c.connect(1, bledefs.BLE_ATT_MTU_DFLT); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.connect(2, bledefs.BLE_ATT_MTU_DFLT); err == nil {
		t.Fatalf("second connection accepted")
	}
	if id := c.p.ConnMgr().ConnId(); id != 1 {
		t.Fatalf("link replaced; conn=%d", id)
	}
}

func TestFieldLines(t *testing.T) {
	st := backend.DefaultStore()
	st.Scans = []backend.Scan{{Name: "column_1_0001", Blob: []byte{1, 2, 3}}}

	lines := fieldLines(summarizeStore(st), "status")
	if len(lines) != 15 {
		t.Fatalf("want 15 lines; have %d", len(lines))
	}

	for i := 1; i < len(lines); i++ {
		if strings.Fields(lines[i-1])[0] > strings.Fields(lines[i])[0] {
			t.Fatalf("lines not sorted: %q before %q", lines[i-1], lines[i])
		}
	}

	tests := []struct {
		key string
		val string
	}{
		{"active_cfg:", "0 (column_1)"},
		{"num_scans:", "1"},
		{"ref_cal_matrix_len:", "523"},
		{"manufacturer:", "NIRscan"},
	}

	for _, tt := range tests {
		found := false
		for _, l := range lines {
			f := strings.Fields(l)
			if len(f) >= 2 && f[0] == tt.key {
				found = strings.Join(f[1:], " ") == tt.val
				break
			}
		}
		if !found {
			t.Errorf("want %s %s in %v", tt.key, tt.val, lines)
		}
	}
}

func TestLoadStore(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Serial = "4242"
	cfg.StorePath = filepath.Join(t.TempDir(), "nano.store")

	st, err := loadStore(cfg)
	if err != nil {
		t.Fatalf("loadStore: %v", err)
	}
	if st.Info != cfg.Device {
		t.Fatalf("fresh store lacks configured device info: %+v", st.Info)
	}

	st.Scans = append(st.Scans, backend.Scan{
		Name: "saved",
		Time: devstate.NewDevice().Clock(),
		Blob: []byte{9, 9, 9},
	})
	if err := backend.SaveStore(cfg.StorePath, st); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}

	st, err = loadStore(cfg)
	if err != nil {
		t.Fatalf("loadStore: %v", err)
	}
	if len(st.Scans) != 1 || st.Scans[0].Name != "saved" {
		t.Fatalf("persisted scans not loaded: %+v", st.Scans)
	}
}

func TestGatedSink(t *testing.T) {
	posted := make(chan xport.Evt, 1)
	sink, open := gatedSink(func(evt xport.Evt) error {
		posted <- evt
		return nil
	})

	errs := make(chan error, 1)
	go func() {
		errs <- sink(&xport.ConnectEvt{ConnId: 1})
	}()

	select {
	case evt := <-posted:
		t.Fatalf("%s event delivered before open", evt.Type())
	case <-time.After(50 * time.Millisecond):
	}

	open()
	open()

	select {
	case evt := <-posted:
		if ce, ok := evt.(*xport.ConnectEvt); !ok || ce.ConnId != 1 {
			t.Errorf("unexpected event: %v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered after open")
	}
	if err := <-errs; err != nil {
		t.Errorf("sink: %v", err)
	}
}
