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

package gatts

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"nirscan.io/nanoble/blexact/backend"
	"nirscan.io/nanoble/blexact/liaison"
	"nirscan.io/nanoble/blexact/notify"
)

// Kind of attribute within a characteristic.
type AttrCap int

const (
	ATTR_CAP_SVC_DECL AttrCap = iota
	ATTR_CAP_CHR_DECL
	ATTR_CAP_VALUE
	ATTR_CAP_CCD
)

var attrCapStringMap = map[AttrCap]string{
	ATTR_CAP_SVC_DECL: "svc_decl",
	ATTR_CAP_CHR_DECL: "chr_decl",
	ATTR_CAP_VALUE:    "value",
	ATTR_CAP_CCD:      "ccd",
}

func AttrCapToString(c AttrCap) string {
	s := attrCapStringMap[c]
	if s == "" {
		return "???"
	}

	return s
}

// A command relayed when a characteristic is read or written.
type CmdSpec struct {
	Key      backend.CmdKey
	FileType backend.FileType
	Subfield backend.SubfieldType
	CmdType  liaison.CmdType

	// Accepted write lengths.
	MinLen int
	MaxLen int

	// Characteristic (same service) whose value receives the chunked
	// result and whose CCD gates it.  Empty means the characteristic itself.
	Ret string
}

// Notification channel fed by a characteristic once its CCD is enabled.
type ChanBinding struct {
	Type     notify.NotifyType
	Indicate bool
}

// Answers a read from local device state.
type LocalReadFn func(s *Server) []byte

type ChrDef struct {
	Name  string
	Uuid  bluetooth.UUID
	Perms bluetooth.CharacteristicPermissions
	Read  *CmdSpec
	Write *CmdSpec
	Local LocalReadFn
	Chan  *ChanBinding
}

func (c *ChrDef) HasCcd() bool {
	return c.Perms&(bluetooth.CharacteristicNotifyPermission|
		bluetooth.CharacteristicIndicatePermission) != 0
}

// CCD bits a client may set on this characteristic.
func (c *ChrDef) CcdMask() uint16 {
	var mask uint16
	if c.Perms&bluetooth.CharacteristicNotifyPermission != 0 {
		mask |= 0x0001
	}
	if c.Perms&bluetooth.CharacteristicIndicatePermission != 0 {
		mask |= 0x0002
	}
	return mask
}

type SvcDef struct {
	Id   uint32
	Name string
	Uuid bluetooth.UUID
	Chrs []ChrDef
}

type AttrKey struct {
	SvcId uint32
	Off   uint16
}

type Attr struct {
	Cap     AttrCap
	Svc     *SvcDef
	Chr     *ChrDef
	DeclOff uint16
	ValOff  uint16

	// Zero when the characteristic has no CCD.
	CcdOff uint16
}

func (a *Attr) String() string {
	name := a.Svc.Name
	if a.Chr != nil {
		name += "/" + a.Chr.Name
	}
	return fmt.Sprintf("%s(%s)", name, AttrCapToString(a.Cap))
}

// Dispatch map from (service, attribute offset) to the attribute's role.
type Table struct {
	svcs   []*SvcDef
	attrs  map[AttrKey]*Attr
	byName map[string]*Attr
	chans  map[notify.NotifyType]*Attr
}

func chrKey(svc string, chr string) string {
	return svc + "/" + chr
}

// Lays out each service's attributes at sequential offsets: the service
// declaration, then per characteristic its declaration, its value and, if
// it notifies or indicates, its CCD.
func NewTable(svcs []SvcDef) (*Table, error) {
	t := &Table{
		attrs:  map[AttrKey]*Attr{},
		byName: map[string]*Attr{},
		chans:  map[notify.NotifyType]*Attr{},
	}

	for i := range svcs {
		svc := &svcs[i]
		t.svcs = append(t.svcs, svc)

		var off uint16
		t.attrs[AttrKey{svc.Id, off}] = &Attr{Cap: ATTR_CAP_SVC_DECL, Svc: svc}
		off++

		for j := range svc.Chrs {
			chr := &svc.Chrs[j]

			a := Attr{Svc: svc, Chr: chr, DeclOff: off, ValOff: off + 1}
			if chr.HasCcd() {
				a.CcdOff = off + 2
			}

			decl, val := a, a
			decl.Cap = ATTR_CAP_CHR_DECL
			val.Cap = ATTR_CAP_VALUE
			t.attrs[AttrKey{svc.Id, a.DeclOff}] = &decl
			t.attrs[AttrKey{svc.Id, a.ValOff}] = &val
			off += 2

			if a.CcdOff != 0 {
				ccd := a
				ccd.Cap = ATTR_CAP_CCD
				t.attrs[AttrKey{svc.Id, a.CcdOff}] = &ccd
				off++
			}

			name := chrKey(svc.Name, chr.Name)
			if _, ok := t.byName[name]; ok {
				return nil, fmt.Errorf("duplicate characteristic: %s", name)
			}
			t.byName[name] = &val

			if chr.Chan != nil {
				if a.CcdOff == 0 {
					return nil, fmt.Errorf(
						"characteristic %s bound to channel %s has no ccd",
						name, chr.Chan.Type)
				}
				t.chans[chr.Chan.Type] = &val
			}
		}
	}

	// Return characteristics must exist and be deliverable.
	for _, svc := range t.svcs {
		for i := range svc.Chrs {
			for _, cs := range []*CmdSpec{svc.Chrs[i].Read, svc.Chrs[i].Write} {
				if cs == nil || cs.Ret == "" {
					continue
				}
				ret := t.byName[chrKey(svc.Name, cs.Ret)]
				if ret == nil || ret.CcdOff == 0 {
					return nil, fmt.Errorf(
						"characteristic %s: invalid return characteristic %s",
						chrKey(svc.Name, svc.Chrs[i].Name), cs.Ret)
				}
			}
		}
	}

	return t, nil
}

func (t *Table) Lookup(svcId uint32, off uint16) *Attr {
	return t.attrs[AttrKey{svcId, off}]
}

// Value attribute of the named characteristic.
func (t *Table) Find(svc string, chr string) *Attr {
	return t.byName[chrKey(svc, chr)]
}

// Value attribute of the characteristic feeding a notification channel.
func (t *Table) ChanAttr(nt notify.NotifyType) *Attr {
	return t.chans[nt]
}

func (t *Table) Services() []*SvcDef {
	return t.svcs
}

func (t *Table) SvcIds() []uint32 {
	ids := make([]uint32, len(t.svcs))
	for i, s := range t.svcs {
		ids[i] = s.Id
	}
	return ids
}

// Number of attributes in a service.
func (t *Table) NumAttrs(svcId uint32) int {
	n := 0
	for k := range t.attrs {
		if k.SvcId == svcId {
			n++
		}
	}
	return n
}
