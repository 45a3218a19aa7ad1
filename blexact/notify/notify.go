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

package notify

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/bledefs"
	"nirscan.io/nanoble/blexact/blxutil"
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/xport"
)

type NotifyType int

const (
	NOTIFY_TYPE_TEMPERATURE NotifyType = iota
	NOTIFY_TYPE_HUMIDITY
	NOTIFY_TYPE_DEVICE_STATUS
	NOTIFY_TYPE_COMMANDS
	NOTIFY_TYPE_SCAN_STATUS
	NOTIFY_TYPE_CLEAR_SCAN_STATUS
	NOTIFY_TYPE_ERROR_INDICATION
	NOTIFY_TYPE_CNT
)

var notifyTypeStringMap = map[NotifyType]string{
	NOTIFY_TYPE_TEMPERATURE:       "temperature",
	NOTIFY_TYPE_HUMIDITY:          "humidity",
	NOTIFY_TYPE_DEVICE_STATUS:     "device_status",
	NOTIFY_TYPE_COMMANDS:          "commands",
	NOTIFY_TYPE_SCAN_STATUS:       "scan_status",
	NOTIFY_TYPE_CLEAR_SCAN_STATUS: "clear_scan_status",
	NOTIFY_TYPE_ERROR_INDICATION:  "error_indication",
}

func NotifyTypeToString(t NotifyType) string {
	s := notifyTypeStringMap[t]
	if s == "" {
		return "???"
	}

	return s
}

func NotifyTypeFromString(s string) (NotifyType, error) {
	for t, name := range notifyTypeStringMap {
		if s == name {
			return t, nil
		}
	}

	return NotifyType(0), fmt.Errorf("Invalid NotifyType string: %s", s)
}

func (t NotifyType) String() string {
	return NotifyTypeToString(t)
}

type ChanState int

const (
	CHAN_STATE_UNREGISTERED ChanState = iota
	CHAN_STATE_REGISTERED
	CHAN_STATE_AWAITING_CONFIRM
)

var chanStateStringMap = map[ChanState]string{
	CHAN_STATE_UNREGISTERED:     "unregistered",
	CHAN_STATE_REGISTERED:       "registered",
	CHAN_STATE_AWAITING_CONFIRM: "awaiting_confirm",
}

func ChanStateToString(s ChanState) string {
	str := chanStateStringMap[s]
	if str == "" {
		return "???"
	}

	return str
}

// Subscription record for one channel.
type Info struct {
	Type     NotifyType
	Indicate bool
	Bt       xport.BtInfo
}

type channel struct {
	state       ChanState
	info        Info
	data        []byte
	dataChanged bool
	transId     uint32
}

// Serializes notifications and indications onto the link.  A successful
// notification occupies the link until the next buffer-empty event; an
// indication occupies its own channel until confirmed.
type Scheduler struct {
	x        xport.Xport
	chans    [NOTIFY_TYPE_CNT]channel
	connId   uint32
	linkBusy bool
}

func NewScheduler(x xport.Xport) *Scheduler {
	return &Scheduler{
		x:      x,
		connId: bledefs.BLE_CONN_ID_NONE,
	}
}

func (s *Scheduler) setState(ch *channel, to ChanState) {
	log.Debugf("notify channel %s: %s -> %s",
		NotifyTypeToString(ch.info.Type),
		ChanStateToString(ch.state), ChanStateToString(to))
	ch.state = to
}

func (s *Scheduler) slot(t NotifyType) (*channel, error) {
	if t < 0 || t >= NOTIFY_TYPE_CNT {
		return nil, fmt.Errorf("invalid notify type: %d", t)
	}

	return &s.chans[t], nil
}

// Discards every registration and binds the scheduler to a new link.
func (s *Scheduler) Reset(connId uint32) {
	for i := range s.chans {
		s.chans[i] = channel{}
	}
	s.connId = connId
	s.linkBusy = false

	log.Debugf("notify scheduler reset; conn=%d", connId)
}

func (s *Scheduler) Register(info Info) error {
	ch, err := s.slot(info.Type)
	if err != nil {
		return err
	}

	if ch.state != CHAN_STATE_UNREGISTERED {
		return blxutil.NewAlreadyRegisteredError(fmt.Sprintf(
			"notify channel %s already registered",
			NotifyTypeToString(info.Type)))
	}

	ch.info = info
	s.setState(ch, CHAN_STATE_REGISTERED)
	return nil
}

// Unregistering an unregistered channel succeeds without effect.
func (s *Scheduler) Deregister(t NotifyType) error {
	ch, err := s.slot(t)
	if err != nil {
		return err
	}

	if ch.state == CHAN_STATE_UNREGISTERED {
		return nil
	}

	s.setState(ch, CHAN_STATE_UNREGISTERED)
	*ch = channel{}
	return nil
}

func (s *Scheduler) State(t NotifyType) ChanState {
	ch, err := s.slot(t)
	if err != nil {
		return CHAN_STATE_UNREGISTERED
	}

	return ch.state
}

func (s *Scheduler) Registered(t NotifyType) bool {
	return s.State(t) != CHAN_STATE_UNREGISTERED
}

// Whether a notification is outstanding on the link.
func (s *Scheduler) LinkBusy() bool {
	return s.linkBusy
}

// Stages data for a channel.  The slice is borrowed until it has been
// transmitted.
func (s *Scheduler) SetData(t NotifyType, data []byte) error {
	ch, err := s.slot(t)
	if err != nil {
		return err
	}

	if ch.state == CHAN_STATE_UNREGISTERED {
		return blxutil.NewNotRegisteredError(fmt.Sprintf(
			"notify channel %s not registered", NotifyTypeToString(t)))
	}

	ch.data = data
	ch.dataChanged = true
	return nil
}

// Whether staged data on a channel is waiting to be sent.
func (s *Scheduler) Pending(t NotifyType) bool {
	ch, err := s.slot(t)
	if err != nil {
		return false
	}

	return ch.dataChanged
}

// Sends the channel's staged data as a notification.  If the link is busy,
// the data stays staged and a BusyError is returned.
func (s *Scheduler) SendNotification(t NotifyType) error {
	ch, err := s.slot(t)
	if err != nil {
		return err
	}

	if ch.state == CHAN_STATE_UNREGISTERED {
		return blxutil.NewNotRegisteredError(fmt.Sprintf(
			"notify channel %s not registered", NotifyTypeToString(t)))
	}
	if !ch.dataChanged {
		return nil
	}

	if s.linkBusy {
		return blxutil.FmtBusyError(
			"link busy; notification on %s pending", NotifyTypeToString(t))
	}

	bt := ch.info.Bt
	if err := s.x.Notify(bt.StackId, bt.SvcId, s.connId, bt.AttrOff,
		ch.data); err != nil {

		if blxutil.IsBusy(err) {
			s.linkBusy = true
		} else {
			ch.data = nil
			ch.dataChanged = false
		}
		return err
	}

	log.Debugf("notified %s; len=%d data=%s", NotifyTypeToString(t),
		len(ch.data), blxutil.HexPreview(ch.data, 16))

	s.linkBusy = true
	ch.data = nil
	ch.dataChanged = false
	return nil
}

// Sends the channel's staged data as an indication.  Fails with a BusyError
// while a previous indication on the channel is unconfirmed; staged data is
// then sent once the confirmation arrives.
func (s *Scheduler) SendIndication(t NotifyType) error {
	ch, err := s.slot(t)
	if err != nil {
		return err
	}

	switch ch.state {
	case CHAN_STATE_UNREGISTERED:
		return blxutil.NewNotRegisteredError(fmt.Sprintf(
			"indicate channel %s not registered", NotifyTypeToString(t)))

	case CHAN_STATE_AWAITING_CONFIRM:
		return blxutil.FmtBusyError(
			"indication on %s awaiting confirmation; trans=%d",
			NotifyTypeToString(t), ch.transId)
	}

	if !ch.dataChanged {
		return nil
	}

	bt := ch.info.Bt
	transId, err := s.x.Indicate(bt.StackId, bt.SvcId, s.connId, bt.AttrOff,
		ch.data)
	if err != nil {
		if !blxutil.IsBusy(err) {
			ch.data = nil
			ch.dataChanged = false
		}
		return err
	}

	log.Debugf("indicated %s; len=%d trans=%d", NotifyTypeToString(t),
		len(ch.data), transId)

	ch.transId = transId
	ch.data = nil
	ch.dataChanged = false
	s.setState(ch, CHAN_STATE_AWAITING_CONFIRM)
	return nil
}

// Sends staged data with whichever primitive the channel registered for.
func (s *Scheduler) Send(t NotifyType) error {
	ch, err := s.slot(t)
	if err != nil {
		return err
	}

	if ch.info.Indicate {
		return s.SendIndication(t)
	} else {
		return s.SendNotification(t)
	}
}

// Correlates an indication confirmation with its channel.  Returns false
// if no indication with that transaction id is outstanding.
func (s *Scheduler) UpdateIndicationInfo(transId uint32,
	bytesWritten int) (NotifyType, bool) {

	for i := range s.chans {
		ch := &s.chans[i]
		if ch.state == CHAN_STATE_AWAITING_CONFIRM && ch.transId == transId {
			log.Debugf("indication confirmed: chan=%s trans=%d written=%d",
				NotifyTypeToString(ch.info.Type), transId, bytesWritten)

			ch.transId = 0
			s.setState(ch, CHAN_STATE_REGISTERED)

			if ch.dataChanged && ch.info.Type != NOTIFY_TYPE_COMMANDS {
				if err := s.SendIndication(ch.info.Type); err != nil {
					log.Debugf("deferred indication on %s failed: %s",
						NotifyTypeToString(ch.info.Type), err.Error())
				}
			}
			return ch.info.Type, true
		}
	}

	log.Warnf("confirmation without outstanding indication; trans=%d",
		transId)
	return NotifyType(0), false
}

// Error-indication payload: field, then code as int16 little endian.
func ErrorIndicationData(field devstate.ErrField, code int16) []byte {
	b := make([]byte, 3)
	b[0] = byte(field)
	binary.LittleEndian.PutUint16(b[1:], uint16(code))
	return b
}

// Best-effort error report to the client.  While an earlier report awaits
// confirmation the new one is staged, replacing any report already staged,
// and goes out once the confirmation arrives.  A non-nil return means the
// report was dropped.
func (s *Scheduler) SendErrorIndication(field devstate.ErrField,
	code int16) error {

	data := ErrorIndicationData(field, code)
	if err := s.SetData(NOTIFY_TYPE_ERROR_INDICATION, data); err != nil {
		return err
	}

	ch, _ := s.slot(NOTIFY_TYPE_ERROR_INDICATION)
	if ch.state == CHAN_STATE_AWAITING_CONFIRM {
		log.Debugf("error indication deferred until trans=%d confirmed",
			ch.transId)
		return nil
	}

	return s.SendIndication(NOTIFY_TYPE_ERROR_INDICATION)
}

// Marks the link as able to take another notification.  Returns false if
// the event is for some other connection.
func (s *Scheduler) LinkFree(connId uint32) bool {
	if connId != s.connId {
		log.Debugf("buffer-empty for stale connection %d; current=%d",
			connId, s.connId)
		return false
	}

	s.linkBusy = false
	return true
}

// Sends staged data, in channel order, until the link is occupied.
func (s *Scheduler) Flush() {
	for i := range s.chans {
		if s.linkBusy {
			return
		}

		ch := &s.chans[i]
		if ch.state == CHAN_STATE_UNREGISTERED || !ch.dataChanged {
			continue
		}

		// Retries on the commands channel are driven by the liaison.
		if ch.info.Type == NOTIFY_TYPE_COMMANDS {
			continue
		}
		if ch.info.Indicate && ch.state == CHAN_STATE_AWAITING_CONFIRM {
			continue
		}

		if err := s.Send(ch.info.Type); err != nil && !blxutil.IsBusy(err) {
			log.Debugf("flush of %s failed: %s",
				NotifyTypeToString(ch.info.Type), err.Error())
		}
	}
}

// Buffer-empty handling for callers that do not interleave other work.
func (s *Scheduler) BufferEmpty(connId uint32) {
	if s.LinkFree(connId) {
		s.Flush()
	}
}
