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

package backend

import (
	"bytes"
	"encoding/binary"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
)

func submit(t *testing.T, s *Spectro, req Req) Rsp {
	var got *Rsp
	if err := s.Submit(req, func(rsp Rsp) { got = &rsp }); err != nil {
		t.Fatalf("submit %s: %v", req, err)
	}
	if got == nil {
		t.Fatalf("submit %s: callback not invoked", req)
	}
	return *got
}

func TestSizeThenData(t *testing.T) {
	s := NewSpectro(NewSpectroCfg())

	req := Req{
		Key:      KEY_FILE_READ,
		FileType: FILE_TYPE_REF_CAL_MATRIX,
		Phase:    PHASE_SIZE,
	}
	rsp := submit(t, s, req)
	if rsp.Err != nil || rsp.Len != REF_CAL_MATRIX_LEN {
		t.Fatalf("size phase: len=%d err=%v", rsp.Len, rsp.Err)
	}

	req.Phase = PHASE_DATA
	rsp = submit(t, s, req)
	if rsp.Err != nil || len(rsp.Data) != REF_CAL_MATRIX_LEN {
		t.Fatalf("data phase: len=%d err=%v", len(rsp.Data), rsp.Err)
	}
}

func TestImmediate(t *testing.T) {
	s := NewSpectro(NewSpectroCfg())
	s.SetSensors(-125, 5000)

	cases := []struct {
		key  CmdKey
		want []byte
	}{
		{KEY_INFO_MFR, []byte("NIRscan")},
		{KEY_TEMP, []byte{0x83, 0xff}},
		{KEY_HUM, []byte{0x88, 0x13}},
		{KEY_TEMP_THRESH, []byte{0x94, 0x11}},
	}

	for _, tt := range cases {
		got, err := s.Immediate(Req{Key: tt.key})
		if err != nil {
			t.Errorf("%s: %v", tt.key, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: got %x want %x", tt.key, got, tt.want)
		}
	}

	_, err := s.Immediate(Req{Key: KEY_START_SCAN})
	if !blxutil.IsBackend(err) {
		t.Errorf("expected backend error for non-immediate key, got %v", err)
	}
}

func TestStartScan(t *testing.T) {
	var status []byte
	s := NewSpectro(SpectroCfg{
		OnScanStatus: func(b []byte) { status = b },
	})

	rsp := submit(t, s, Req{Key: KEY_START_SCAN, Phase: PHASE_EXEC})
	if rsp.Err != nil {
		t.Fatalf("start scan: %v", rsp.Err)
	}
	if !bytes.Equal(status, []byte{SCAN_STATUS_COMPLETE}) {
		t.Errorf("scan status hook: got %v", status)
	}

	rsp = submit(t, s, Req{Key: KEY_NUM_SCANS, Phase: PHASE_DATA})
	if n := binary.LittleEndian.Uint32(rsp.Data); n != 1 {
		t.Errorf("num scans: got %d want 1", n)
	}

	idx := devstate.PutUint32(0)
	rsp = submit(t, s, Req{
		Key:      KEY_FILE_READ,
		FileType: FILE_TYPE_SCAN_DATA,
		Subfield: SUBFIELD_NAME,
		Phase:    PHASE_DATA,
		Payload:  idx,
	})
	if string(rsp.Data) != "column_1_0001" {
		t.Errorf("scan name: got %q", rsp.Data)
	}

	rsp = submit(t, s, Req{
		Key:      KEY_FILE_READ,
		FileType: FILE_TYPE_SCAN_DATA,
		Subfield: SUBFIELD_BLOB,
		Phase:    PHASE_SIZE,
		Payload:  idx,
	})
	if rsp.Len != 8+4*228 {
		t.Errorf("blob size: got %d", rsp.Len)
	}

	// Not stored.
	submit(t, s, Req{Key: KEY_START_SCAN, Payload: []byte{0}})
	if n := len(s.Store().Scans); n != 1 {
		t.Errorf("got %d stored scans want 1", n)
	}
}

func TestDelScan(t *testing.T) {
	cleared := 0
	s := NewSpectro(SpectroCfg{
		OnClearScanStatus: func(b []byte) { cleared++ },
	})

	submit(t, s, Req{Key: KEY_START_SCAN})
	submit(t, s, Req{Key: KEY_START_SCAN})

	rsp := submit(t, s, Req{Key: KEY_DEL_SCAN, Payload: devstate.PutUint32(5)})
	be, ok := rsp.Err.(*blxutil.BackendError)
	if !ok || be.Code != ERR_CODE_BAD_INDEX {
		t.Fatalf("expected bad index error, got %v", rsp.Err)
	}
	if cleared != 0 {
		t.Errorf("clear hook fired for a failed delete")
	}

	rsp = submit(t, s, Req{Key: KEY_DEL_SCAN, Payload: devstate.PutUint32(0)})
	if rsp.Err != nil {
		t.Fatalf("delete: %v", rsp.Err)
	}
	if len(s.Store().Scans) != 1 || cleared != 1 {
		t.Errorf("scans=%d cleared=%d", len(s.Store().Scans), cleared)
	}

	submit(t, s, Req{Key: KEY_DEL_SCAN, Payload: devstate.PutUint32(SCAN_IDX_ALL)})
	if len(s.Store().Scans) != 0 {
		t.Errorf("scans remain after delete-all")
	}
}

func TestBadPayload(t *testing.T) {
	s := NewSpectro(NewSpectroCfg())

	cases := []Req{
		{Key: KEY_START_SCAN, Payload: []byte{1, 2}},
		{Key: KEY_SET_DATE_TIME, Payload: []byte{1, 2, 3}},
		{Key: KEY_ACTIVE_CFG, Payload: devstate.PutUint16(9)},
		{Key: KEY_FILE_READ, FileType: FILE_TYPE_CFG_DATA, Phase: PHASE_SIZE},
		{Key: CmdKey{0x7f, 0, 0}, Phase: PHASE_DATA},
	}

	for _, req := range cases {
		if rsp := submit(t, s, req); !blxutil.IsBackend(rsp.Err) {
			t.Errorf("%s: expected backend error, got %v", req, rsp.Err)
		}
	}
}

func TestCfgRecords(t *testing.T) {
	s := NewSpectro(NewSpectroCfg())

	rsp := submit(t, s, Req{
		Key:      KEY_FILE_READ,
		FileType: FILE_TYPE_CFG_DATA,
		Phase:    PHASE_DATA,
		Payload:  devstate.PutUint16(1),
	})
	if rsp.Err != nil {
		t.Fatalf("cfg data: %v", rsp.Err)
	}

	var cfg ScanCfg
	if err := blxutil.DecodeCbor(rsp.Data, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Name != "hadamard_1" || cfg.NumPatterns != 128 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}

	rsp = submit(t, s, Req{
		Key:      KEY_FILE_READ,
		FileType: FILE_TYPE_CFG_LIST,
		Phase:    PHASE_DATA,
	})
	var list []ListEntry
	if err := blxutil.DecodeCbor(rsp.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 || list[1].Name != "hadamard_1" {
		t.Errorf("unexpected cfg list: %+v", list)
	}
}

func TestStoreSnapshot(t *testing.T) {
	s := NewSpectro(NewSpectroCfg())
	submit(t, s, Req{Key: KEY_START_SCAN})

	dir, err := ioutil.TempDir("", "nanoble")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "store.cbor")
	if err := SaveStore(path, s.Store()); err != nil {
		t.Fatalf("save: %v", err)
	}

	st, err := LoadStore(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Scans) != 1 || st.Scans[0].Name != "column_1_0001" {
		t.Errorf("unexpected scans after load: %+v", st.Scans)
	}
	if !bytes.Equal(st.RefCalMatrix, s.Store().RefCalMatrix) {
		t.Errorf("calibration matrix differs after load")
	}
	if st.LampHours != 1 {
		t.Errorf("lamp hours: got %d want 1", st.LampHours)
	}

	b, _ := ioutil.ReadFile(path)
	b[len(b)/2] ^= 0xff
	if _, err := DecodeStore(b); !blxutil.IsBackend(err) {
		t.Errorf("corrupt snapshot accepted: %v", err)
	}

	if _, err := DecodeStore([]byte{1}); err == nil {
		t.Errorf("short snapshot accepted")
	}
}

func TestErrField(t *testing.T) {
	if ErrField(KEY_START_SCAN) != devstate.ERR_FIELD_SCAN {
		t.Errorf("scan commands should report against the scan field")
	}
	if ErrField(KEY_FILE_READ) != devstate.ERR_FIELD_SD {
		t.Errorf("file commands should report against the sd field")
	}
}
