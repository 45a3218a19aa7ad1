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
	"encoding/binary"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
)

// Scan-status notification payloads.
const (
	SCAN_STATUS_COMPLETE byte = 0x01
	SCAN_STATUS_FAILED        = 0xff
)

// Deletes every stored scan when passed as the delete index.
const SCAN_IDX_ALL uint32 = 0xffffffff

type DevInfo struct {
	Manufacturer string `codec:"mfr" yaml:"manufacturer"`
	Model        string `codec:"model" yaml:"model"`
	Serial       string `codec:"serial" yaml:"serial"`
	HwRev        string `codec:"hw_rev" yaml:"hw_rev"`
	FwRev        string `codec:"fw_rev" yaml:"fw_rev"`
}

type ScanCfg struct {
	Name            string `codec:"name"`
	Type            uint8  `codec:"type"`
	WavelengthStart uint16 `codec:"wl_start"`
	WavelengthEnd   uint16 `codec:"wl_end"`
	NumPatterns     uint16 `codec:"pats"`
	NumRepeats      uint16 `codec:"reps"`
}

type Scan struct {
	Name        string            `codec:"name"`
	Type        uint8             `codec:"type"`
	Time        devstate.DateTime `codec:"time"`
	BlobVersion uint32            `codec:"ver"`
	Blob        []byte            `codec:"blob"`
}

type ListEntry struct {
	Index uint32 `codec:"idx"`
	Name  string `codec:"name"`
}

type SpectroCfg struct {
	Dev *devstate.Device

	// Replaces the default store when non-nil.
	Store *Store

	OnScanStatus      func(status []byte)
	OnClearScanStatus func(status []byte)
}

func NewSpectroCfg() SpectroCfg {
	return SpectroCfg{}
}

// In-memory spectrometer command processor.
type Spectro struct {
	dev     *devstate.Device
	st      Store
	temp    int16
	hum     uint16
	onScan  func(status []byte)
	onClear func(status []byte)
	mtx     sync.Mutex
}

func NewSpectro(cfg SpectroCfg) *Spectro {
	s := &Spectro{
		dev:     cfg.Dev,
		temp:    2350,
		hum:     4100,
		onScan:  cfg.OnScanStatus,
		onClear: cfg.OnClearScanStatus,
	}

	if s.dev == nil {
		s.dev = devstate.NewDevice()
	}

	if cfg.Store != nil {
		s.st = *cfg.Store
	} else {
		s.st = DefaultStore()
	}
	s.dev.SetCounters(s.st.HoursOfUse, s.st.BattCycles, s.st.LampHours)

	return s
}

func (s *Spectro) Device() *devstate.Device {
	return s.dev
}

// Hooks may be installed after construction, before the peripheral starts.
func (s *Spectro) SetHooks(onScan func([]byte), onClear func([]byte)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.onScan = onScan
	s.onClear = onClear
}

// Temperature in hundredths of a degree C, humidity in hundredths of a
// percent.
func (s *Spectro) SetSensors(temp int16, hum uint16) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.temp = temp
	s.hum = hum
}

func (s *Spectro) Sensors() (int16, uint16) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.temp, s.hum
}

// Returns a copy of the persistent state, counters included.
func (s *Spectro) Store() Store {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	st := s.st
	st.HoursOfUse = s.dev.HoursOfUse()
	st.BattCycles = s.dev.BattRechargeCycles()
	st.LampHours = s.dev.LampHours()
	st.Cfgs = append([]ScanCfg(nil), s.st.Cfgs...)
	st.Scans = append([]Scan(nil), s.st.Scans...)

	return st
}

func unknownCmd(req Req) error {
	return blxutil.FmtBackendError(ERR_CODE_UNKNOWN_CMD,
		"unsupported command: %s", req)
}

func badPayload(req Req, want string) error {
	return blxutil.FmtBackendError(ERR_CODE_BAD_PAYLOAD,
		"command %s: payload must be %s; have %d bytes",
		req.Key, want, len(req.Payload))
}

func (s *Spectro) Immediate(req Req) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	log.Debugf("spectro immediate: %s", req)

	switch req.Key {
	case KEY_INFO_MFR:
		return []byte(s.st.Info.Manufacturer), nil
	case KEY_INFO_MODEL:
		return []byte(s.st.Info.Model), nil
	case KEY_INFO_SERIAL:
		return []byte(s.st.Info.Serial), nil
	case KEY_INFO_HW_REV:
		return []byte(s.st.Info.HwRev), nil
	case KEY_INFO_FW_REV:
		return []byte(s.st.Info.FwRev), nil
	case KEY_TEMP:
		return devstate.PutUint16(uint16(s.temp)), nil
	case KEY_HUM:
		return devstate.PutUint16(s.hum), nil
	case KEY_DEV_STATUS:
		return devstate.PutUint32(s.dev.Status()), nil
	case KEY_TEMP_THRESH:
		return devstate.PutUint16(uint16(s.dev.TempThreshold())), nil
	case KEY_HUM_THRESH:
		return devstate.PutUint16(s.dev.HumThreshold()), nil
	case KEY_HOURS_OF_USE:
		return devstate.PutUint16(s.dev.HoursOfUse()), nil
	case KEY_BATT_CYCLES:
		return devstate.PutUint16(s.dev.BattRechargeCycles()), nil
	case KEY_LAMP_HOURS:
		return devstate.PutUint32(s.dev.LampHours()), nil
	default:
		return nil, unknownCmd(req)
	}
}

func (s *Spectro) Submit(req Req, cb RspFn) error {
	if cb == nil {
		return fmt.Errorf("nil response callback")
	}

	log.Debugf("spectro submit: %s", req)

	var rsp Rsp
	var hook func()

	s.mtx.Lock()
	switch req.Phase {
	case PHASE_EXEC:
		hook, rsp.Err = s.exec(req)

	case PHASE_SIZE, PHASE_DATA:
		data, err := s.content(req)
		if err != nil {
			rsp.Err = err
		} else if req.Phase == PHASE_SIZE {
			rsp.Len = len(data)
		} else {
			rsp.Data = data
			rsp.Len = len(data)
		}

	default:
		rsp.Err = unknownCmd(req)
	}
	s.mtx.Unlock()

	cb(rsp)

	if hook != nil {
		hook()
	}

	return nil
}

func parseIdx32(req Req) (uint32, error) {
	if len(req.Payload) != 4 {
		return 0, badPayload(req, "a 4-byte index")
	}
	return binary.LittleEndian.Uint32(req.Payload), nil
}

func parseIdx16(req Req) (uint16, error) {
	if len(req.Payload) != 2 {
		return 0, badPayload(req, "a 2-byte index")
	}
	return binary.LittleEndian.Uint16(req.Payload), nil
}

// Side-effecting commands.  The returned hook, if any, runs after the
// response callback.
func (s *Spectro) exec(req Req) (func(), error) {
	switch req.Key {
	case KEY_TEMP_THRESH:
		if len(req.Payload) != 2 {
			return nil, badPayload(req, "2 bytes")
		}
		s.dev.SetTempThreshold(int16(binary.LittleEndian.Uint16(req.Payload)))
		return nil, nil

	case KEY_HUM_THRESH:
		if len(req.Payload) != 2 {
			return nil, badPayload(req, "2 bytes")
		}
		s.dev.SetHumThreshold(binary.LittleEndian.Uint16(req.Payload))
		return nil, nil

	case KEY_SET_DATE_TIME:
		dt, err := devstate.ParseDateTime(req.Payload)
		if err != nil {
			return nil, blxutil.NewBackendError(ERR_CODE_BAD_PAYLOAD,
				err.Error())
		}
		s.dev.SetClock(dt)
		return nil, nil

	case KEY_CLEAR_ERRORS:
		s.dev.ClearErrors()
		return nil, nil

	case KEY_ACTIVE_CFG:
		idx, err := parseIdx16(req)
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(s.st.Cfgs) {
			return nil, blxutil.FmtBackendError(ERR_CODE_BAD_INDEX,
				"no scan configuration at index %d", idx)
		}
		s.st.ActiveCfg = idx
		return nil, nil

	case KEY_START_SCAN:
		return s.startScan(req)

	case KEY_DEL_SCAN:
		return s.delScan(req)

	default:
		return nil, unknownCmd(req)
	}
}

func (s *Spectro) startScan(req Req) (func(), error) {
	if len(req.Payload) > 1 {
		return nil, badPayload(req, "0 or 1 bytes")
	}
	keep := len(req.Payload) == 0 || req.Payload[0] != 0

	if int(s.st.ActiveCfg) >= len(s.st.Cfgs) {
		return nil, blxutil.FmtBackendError(ERR_CODE_NO_DATA,
			"no active scan configuration")
	}
	cfg := s.st.Cfgs[s.st.ActiveCfg]

	s.st.ScanSeq++
	scan := Scan{
		Name:        fmt.Sprintf("%s_%04d", cfg.Name, s.st.ScanSeq),
		Type:        cfg.Type,
		Time:        s.dev.Clock(),
		BlobVersion: SCAN_BLOB_VERSION,
		Blob:        synthBlob(cfg, s.st.ScanSeq),
	}
	if keep {
		s.st.Scans = append(s.st.Scans, scan)
	}
	s.dev.AddLampUsage(1)

	log.Debugf("scan complete: name=%s len=%d stored=%t",
		scan.Name, len(scan.Blob), keep)

	onScan := s.onScan
	return func() {
		if onScan != nil {
			onScan([]byte{SCAN_STATUS_COMPLETE})
		}
	}, nil
}

func (s *Spectro) delScan(req Req) (func(), error) {
	idx, err := parseIdx32(req)
	if err != nil {
		return nil, err
	}

	if idx == SCAN_IDX_ALL {
		s.st.Scans = nil
	} else {
		if int(idx) >= len(s.st.Scans) {
			return nil, blxutil.FmtBackendError(ERR_CODE_BAD_INDEX,
				"no scan at index %d", idx)
		}
		s.st.Scans = append(s.st.Scans[:idx], s.st.Scans[idx+1:]...)
	}

	onClear := s.onClear
	return func() {
		if onClear != nil {
			onClear([]byte{SCAN_STATUS_COMPLETE})
		}
	}, nil
}

// Produces the bytes a size/data request pair describes.
func (s *Spectro) content(req Req) ([]byte, error) {
	switch req.Key {
	case KEY_NUM_CFGS:
		return devstate.PutUint16(uint16(len(s.st.Cfgs))), nil

	case KEY_ACTIVE_CFG:
		return devstate.PutUint16(s.st.ActiveCfg), nil

	case KEY_NUM_SCANS:
		return devstate.PutUint32(uint32(len(s.st.Scans))), nil

	case KEY_FILE_READ:
		return s.fileContent(req)

	default:
		return nil, unknownCmd(req)
	}
}

func nonEmpty(b []byte, what string) ([]byte, error) {
	if len(b) == 0 {
		return nil, blxutil.FmtBackendError(ERR_CODE_NO_DATA, "no %s stored", what)
	}
	return b, nil
}

func (s *Spectro) fileContent(req Req) ([]byte, error) {
	switch req.FileType {
	case FILE_TYPE_SPEC_CAL_COEFF:
		return nonEmpty(s.st.SpecCalCoeffs, "spectrum calibration coefficients")

	case FILE_TYPE_REF_CAL_COEFF:
		return nonEmpty(s.st.RefCalCoeffs, "reference calibration coefficients")

	case FILE_TYPE_REF_CAL_MATRIX:
		return nonEmpty(s.st.RefCalMatrix, "reference calibration matrix")

	case FILE_TYPE_CFG_LIST:
		list := make([]ListEntry, len(s.st.Cfgs))
		for i, c := range s.st.Cfgs {
			list[i] = ListEntry{Index: uint32(i), Name: c.Name}
		}
		return blxutil.EncodeCbor(list)

	case FILE_TYPE_CFG_DATA:
		idx, err := parseIdx16(req)
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(s.st.Cfgs) {
			return nil, blxutil.FmtBackendError(ERR_CODE_BAD_INDEX,
				"no scan configuration at index %d", idx)
		}
		return blxutil.EncodeCbor(s.st.Cfgs[idx])

	case FILE_TYPE_SCAN_LIST:
		list := make([]ListEntry, len(s.st.Scans))
		for i, sc := range s.st.Scans {
			list[i] = ListEntry{Index: uint32(i), Name: sc.Name}
		}
		return blxutil.EncodeCbor(list)

	case FILE_TYPE_SCAN_DATA:
		idx, err := parseIdx32(req)
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(s.st.Scans) {
			return nil, blxutil.FmtBackendError(ERR_CODE_BAD_INDEX,
				"no scan at index %d", idx)
		}
		return scanField(s.st.Scans[idx], req)

	case FILE_TYPE_DEVICE_STATUS:
		return devstate.PutUint32(s.dev.Status()), nil

	case FILE_TYPE_ERROR_STATUS:
		return s.dev.ErrStatus().Bytes(), nil

	default:
		return nil, unknownCmd(req)
	}
}

func scanField(sc Scan, req Req) ([]byte, error) {
	switch req.Subfield {
	case SUBFIELD_NAME:
		return []byte(sc.Name), nil
	case SUBFIELD_TYPE:
		return []byte{sc.Type}, nil
	case SUBFIELD_TIME:
		return sc.Time.Bytes(), nil
	case SUBFIELD_BLOB_VERSION:
		return devstate.PutUint32(sc.BlobVersion), nil
	case SUBFIELD_BLOB:
		return nonEmpty(sc.Blob, "scan data")
	default:
		return nil, unknownCmd(req)
	}
}
