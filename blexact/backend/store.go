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
	"io/ioutil"

	"github.com/joaojeronimo/go-crc16"

	"nirscan.io/nanoble/blexact/blxutil"
)

const SCAN_BLOB_VERSION uint32 = 3

// Size of the factory reference calibration matrix.
const REF_CAL_MATRIX_LEN = 523

// Persistent state of the spectrometer.
type Store struct {
	Info          DevInfo   `codec:"info"`
	SpecCalCoeffs []byte    `codec:"spec_cal"`
	RefCalCoeffs  []byte    `codec:"ref_cal"`
	RefCalMatrix  []byte    `codec:"ref_matrix"`
	Cfgs          []ScanCfg `codec:"cfgs"`
	ActiveCfg     uint16    `codec:"active_cfg"`
	Scans         []Scan    `codec:"scans"`
	ScanSeq       uint32    `codec:"scan_seq"`
	HoursOfUse    uint16    `codec:"hours"`
	BattCycles    uint16    `codec:"batt_cycles"`
	LampHours     uint32    `codec:"lamp_hours"`
}

func DefaultDevInfo() DevInfo {
	return DevInfo{
		Manufacturer: "NIRscan",
		Model:        "Nano",
		Serial:       "0000001",
		HwRev:        "B",
		FwRev:        "2.1.0",
	}
}

func DefaultStore() Store {
	return Store{
		Info:          DefaultDevInfo(),
		SpecCalCoeffs: pattern(144, 0x11),
		RefCalCoeffs:  pattern(144, 0x22),
		RefCalMatrix:  pattern(REF_CAL_MATRIX_LEN, 0x33),
		Cfgs: []ScanCfg{
			{
				Name:            "column_1",
				Type:            0,
				WavelengthStart: 900,
				WavelengthEnd:   1700,
				NumPatterns:     228,
				NumRepeats:      6,
			},
			{
				Name:            "hadamard_1",
				Type:            1,
				WavelengthStart: 900,
				WavelengthEnd:   1700,
				NumPatterns:     128,
				NumRepeats:      6,
			},
		},
	}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// Synthetic intensity readings: a header followed by one 32-bit sample per
// pattern.
func synthBlob(cfg ScanCfg, seq uint32) []byte {
	b := make([]byte, 8+4*int(cfg.NumPatterns))
	binary.LittleEndian.PutUint16(b[0:], cfg.WavelengthStart)
	binary.LittleEndian.PutUint16(b[2:], cfg.WavelengthEnd)
	binary.LittleEndian.PutUint16(b[4:], cfg.NumPatterns)
	binary.LittleEndian.PutUint16(b[6:], cfg.NumRepeats)

	v := seq*2654435761 + 1
	for i := 0; i < int(cfg.NumPatterns); i++ {
		v = v*1664525 + 1013904223
		binary.LittleEndian.PutUint32(b[8+4*i:], v>>8)
	}

	return b
}

// Serializes a store as CBOR followed by a big-endian CRC-16 of the CBOR.
func EncodeStore(st Store) ([]byte, error) {
	b, err := blxutil.EncodeCbor(st)
	if err != nil {
		return nil, blxutil.FmtBackendError(ERR_CODE_CORRUPT,
			"failed to encode store: %s", err.Error())
	}

	crc := crc16.Crc16(b)
	return append(b, byte(crc>>8), byte(crc)), nil
}

func DecodeStore(b []byte) (Store, error) {
	st := Store{}

	if len(b) < 2 {
		return st, blxutil.FmtBackendError(ERR_CODE_CORRUPT,
			"store snapshot too short: %d bytes", len(b))
	}

	body := b[:len(b)-2]
	want := binary.BigEndian.Uint16(b[len(b)-2:])
	if got := crc16.Crc16(body); got != want {
		return st, blxutil.FmtBackendError(ERR_CODE_CORRUPT,
			"store snapshot crc mismatch: have=0x%04x want=0x%04x", got, want)
	}

	if err := blxutil.DecodeCbor(body, &st); err != nil {
		return st, blxutil.FmtBackendError(ERR_CODE_CORRUPT,
			"failed to decode store: %s", err.Error())
	}

	return st, nil
}

func SaveStore(path string, st Store) error {
	b, err := EncodeStore(st)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(path, b, 0644)
}

func LoadStore(path string) (Store, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Store{}, err
	}

	return DecodeStore(b)
}
