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
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Device status register bits.
const (
	DEV_STATUS_BLE_CONNECTED uint32 = 0x00000001
	DEV_STATUS_SCAN_ACTIVE   uint32 = 0x00000002
	DEV_STATUS_SD_PRESENT    uint32 = 0x00000004
	DEV_STATUS_SD_BUSY       uint32 = 0x00000008
	DEV_STATUS_BATT_CHARGING uint32 = 0x00000010
	DEV_STATUS_LAMP_ON       uint32 = 0x00000020
	DEV_STATUS_ERROR_FLAGGED uint32 = 0x00000040
)

const DATE_TIME_LEN = 7

// Wall clock as written over the date/time service.  Year is offset from
// 2000.
type DateTime struct {
	Year    uint8 `codec:"y"`
	Month   uint8 `codec:"mo"`
	Day     uint8 `codec:"d"`
	Weekday uint8 `codec:"wd"`
	Hour    uint8 `codec:"h"`
	Minute  uint8 `codec:"mi"`
	Second  uint8 `codec:"s"`
}

func ParseDateTime(b []byte) (DateTime, error) {
	dt := DateTime{}
	if len(b) != DATE_TIME_LEN {
		return dt, fmt.Errorf("date-time must be %d bytes; have %d",
			DATE_TIME_LEN, len(b))
	}

	dt = DateTime{
		Year:    b[0],
		Month:   b[1],
		Day:     b[2],
		Weekday: b[3],
		Hour:    b[4],
		Minute:  b[5],
		Second:  b[6],
	}
	if dt.Month < 1 || dt.Month > 12 || dt.Day < 1 || dt.Day > 31 ||
		dt.Weekday > 6 || dt.Hour > 23 || dt.Minute > 59 || dt.Second > 59 {

		return DateTime{}, fmt.Errorf("date-time out of range: %+v", dt)
	}

	return dt, nil
}

func DateTimeFromTime(t time.Time) DateTime {
	y := t.Year() - 2000
	if y < 0 {
		y = 0
	}

	return DateTime{
		Year:    uint8(y),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Weekday: uint8(t.Weekday()),
		Hour:    uint8(t.Hour()),
		Minute:  uint8(t.Minute()),
		Second:  uint8(t.Second()),
	}
}

func (dt DateTime) Bytes() []byte {
	return []byte{dt.Year, dt.Month, dt.Day, dt.Weekday, dt.Hour, dt.Minute,
		dt.Second}
}

func (dt DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		2000+int(dt.Year), dt.Month, dt.Day, dt.Hour, dt.Minute, dt.Second)
}

// Snapshot of the device registers.
type Registers struct {
	TempThreshold      int16
	HumThreshold       uint16
	HoursOfUse         uint16
	BattRechargeCycles uint16
	LampHours          uint32
	Status             uint32
	ErrStatus          uint32
	Clock              string
}

// Device-wide registers shared by the GATT services and the command
// processor.  Safe for use from the event loop and from the tool's status
// commands concurrently.
type Device struct {
	tempThresh int16
	humThresh  uint16
	hoursOfUse uint16
	battCycles uint16
	lampHours  uint32
	status     uint32
	errs       ErrStatus
	clock      DateTime

	mtx sync.Mutex
}

func NewDevice() *Device {
	return &Device{
		tempThresh: 4500,
		humThresh:  9000,
		clock:      DateTimeFromTime(time.Now()),
	}
}

func (d *Device) TempThreshold() int16 {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.tempThresh
}

func (d *Device) SetTempThreshold(v int16) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	log.Debugf("temperature threshold %d -> %d", d.tempThresh, v)
	d.tempThresh = v
}

func (d *Device) HumThreshold() uint16 {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.humThresh
}

func (d *Device) SetHumThreshold(v uint16) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	log.Debugf("humidity threshold %d -> %d", d.humThresh, v)
	d.humThresh = v
}

func (d *Device) HoursOfUse() uint16 {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.hoursOfUse
}

func (d *Device) BattRechargeCycles() uint16 {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.battCycles
}

func (d *Device) LampHours() uint32 {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.lampHours
}

// Restores counters persisted by the command processor.
func (d *Device) SetCounters(hoursOfUse uint16, battCycles uint16,
	lampHours uint32) {

	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.hoursOfUse = hoursOfUse
	d.battCycles = battCycles
	d.lampHours = lampHours
}

func (d *Device) AddLampUsage(hours uint32) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.lampHours += hours
}

func (d *Device) Status() uint32 {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.status
}

func (d *Device) SetStatusBits(bits uint32, on bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if on {
		d.status |= bits
	} else {
		d.status &^= bits
	}
}

func (d *Device) Clock() DateTime {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.clock
}

func (d *Device) SetClock(dt DateTime) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	log.Debugf("clock set to %s", dt)
	d.clock = dt
}

func (d *Device) ErrStatus() ErrStatus {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.errs
}

// Latches an error code into the error register.
func (d *Device) SetError(field ErrField, code int16) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	log.Debugf("error register: field=%s code=%d",
		ErrFieldToString(field), code)

	d.errs.set(field, code)
	d.status |= DEV_STATUS_ERROR_FLAGGED
}

func (d *Device) ClearErrors() {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.errs = ErrStatus{}
	d.status &^= DEV_STATUS_ERROR_FLAGGED
}

func (d *Device) Registers() Registers {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return Registers{
		TempThreshold:      d.tempThresh,
		HumThreshold:       d.humThresh,
		HoursOfUse:         d.hoursOfUse,
		BattRechargeCycles: d.battCycles,
		LampHours:          d.lampHours,
		Status:             d.status,
		ErrStatus:          d.errs.Status,
		Clock:              d.clock.String(),
	}
}

func PutUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func PutUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
