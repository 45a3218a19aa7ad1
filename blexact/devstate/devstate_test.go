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
	"testing"
	"time"
)

func TestErrStatusBytes(t *testing.T) {
	d := NewDevice()
	d.SetError(ERR_FIELD_BLE, -3)
	d.SetError(ERR_FIELD_SD, 7)

	es := d.ErrStatus()
	if !es.Has(ERR_FIELD_BLE) || !es.Has(ERR_FIELD_SD) || es.Has(ERR_FIELD_ADC) {
		t.Fatalf("unexpected status bits: %#x", es.Status)
	}
	if d.Status()&DEV_STATUS_ERROR_FLAGGED == 0 {
		t.Errorf("error flag not set in device status")
	}

	parsed, err := ParseErrStatus(es.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != es {
		t.Errorf("got %+v want %+v", parsed, es)
	}
	if parsed.Codes[ERR_FIELD_BLE] != -3 {
		t.Errorf("ble code: got %d want -3", parsed.Codes[ERR_FIELD_BLE])
	}

	d.ClearErrors()
	if d.ErrStatus().Status != 0 || d.Status()&DEV_STATUS_ERROR_FLAGGED != 0 {
		t.Errorf("errors not cleared")
	}
}

func TestParseDateTime(t *testing.T) {
	cases := []struct {
		b  []byte
		ok bool
	}{
		{b: []byte{24, 5, 17, 5, 13, 45, 10}, ok: true},
		{b: []byte{24, 13, 17, 5, 13, 45, 10}, ok: false},
		{b: []byte{24, 5, 17, 5, 13, 45}, ok: false},
		{b: nil, ok: false},
	}

	for _, tt := range cases {
		dt, err := ParseDateTime(tt.b)
		if (err == nil) != tt.ok {
			t.Errorf("ParseDateTime(%v): err=%v want ok=%t", tt.b, err, tt.ok)
			continue
		}
		if tt.ok && string(dt.Bytes()) != string(tt.b) {
			t.Errorf("Bytes() = %v want %v", dt.Bytes(), tt.b)
		}
	}
}

func TestDateTimeFromTime(t *testing.T) {
	tm := time.Date(2024, time.May, 17, 13, 45, 10, 0, time.UTC)
	dt := DateTimeFromTime(tm)
	if got, want := dt.String(), "2024-05-17 13:45:10"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestStatusBits(t *testing.T) {
	d := NewDevice()
	d.SetStatusBits(DEV_STATUS_BLE_CONNECTED|DEV_STATUS_LAMP_ON, true)
	d.SetStatusBits(DEV_STATUS_LAMP_ON, false)

	if got := d.Status(); got != DEV_STATUS_BLE_CONNECTED {
		t.Errorf("status: got %#x", got)
	}

	r := d.Registers()
	if r.Status != DEV_STATUS_BLE_CONNECTED || r.TempThreshold != 4500 {
		t.Errorf("unexpected registers: %+v", r)
	}
}
