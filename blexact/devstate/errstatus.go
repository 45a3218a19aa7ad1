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

package devstate

import (
	"encoding/binary"
	"fmt"
)

// A subsystem slot in the device error register.
type ErrField int

const (
	ERR_FIELD_SCAN ErrField = iota
	ERR_FIELD_ADC
	ERR_FIELD_SD
	ERR_FIELD_EEPROM
	ERR_FIELD_BLE
	ERR_FIELD_SPEC_LIB
	ERR_FIELD_HW
	ERR_FIELD_TIVA
	ERR_FIELD_CNT
)

var errFieldStringMap = map[ErrField]string{
	ERR_FIELD_SCAN:     "scan",
	ERR_FIELD_ADC:      "adc",
	ERR_FIELD_SD:       "sd",
	ERR_FIELD_EEPROM:   "eeprom",
	ERR_FIELD_BLE:      "ble",
	ERR_FIELD_SPEC_LIB: "spec_lib",
	ERR_FIELD_HW:       "hw",
	ERR_FIELD_TIVA:     "tiva",
}

func ErrFieldToString(f ErrField) string {
	s := errFieldStringMap[f]
	if s == "" {
		return "???"
	}

	return s
}

func ErrFieldFromString(s string) (ErrField, error) {
	for f, name := range errFieldStringMap {
		if s == name {
			return f, nil
		}
	}

	return ErrField(0), fmt.Errorf("Invalid ErrField string: %s", s)
}

// Error register: one status bit and one latched code per field.
type ErrStatus struct {
	Status uint32
	Codes  [ERR_FIELD_CNT]int16
}

const ERR_STATUS_LEN = 4 + 2*int(ERR_FIELD_CNT)

func (e *ErrStatus) set(field ErrField, code int16) {
	if field < 0 || field >= ERR_FIELD_CNT {
		return
	}

	e.Status |= 1 << uint(field)
	e.Codes[field] = code
}

func (e ErrStatus) Has(field ErrField) bool {
	return e.Status&(1<<uint(field)) != 0
}

// Wire layout: status (uint32 LE) followed by each field's code (int16 LE).
func (e ErrStatus) Bytes() []byte {
	b := make([]byte, ERR_STATUS_LEN)
	binary.LittleEndian.PutUint32(b, e.Status)
	for i, c := range e.Codes {
		binary.LittleEndian.PutUint16(b[4+2*i:], uint16(c))
	}

	return b
}

func ParseErrStatus(b []byte) (ErrStatus, error) {
	e := ErrStatus{}
	if len(b) != ERR_STATUS_LEN {
		return e, fmt.Errorf("error status must be %d bytes; have %d",
			ERR_STATUS_LEN, len(b))
	}

	e.Status = binary.LittleEndian.Uint32(b)
	for i := range e.Codes {
		e.Codes[i] = int16(binary.LittleEndian.Uint16(b[4+2*i:]))
	}

	return e, nil
}
