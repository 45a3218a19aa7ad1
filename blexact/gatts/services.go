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
	"nirscan.io/nanoble/blexact/devstate"
	"nirscan.io/nanoble/blexact/liaison"
	"nirscan.io/nanoble/blexact/notify"
)

const (
	SVC_ID_DIS uint32 = iota + 1
	SVC_ID_GIS
	SVC_ID_GDTS
	SVC_ID_GCIS
	SVC_ID_GSCS
	SVC_ID_GSDIS
)

const (
	SVC_NAME_DIS   = "dis"
	SVC_NAME_GIS   = "gis"
	SVC_NAME_GDTS  = "gdts"
	SVC_NAME_GCIS  = "gcis"
	SVC_NAME_GSCS  = "gscs"
	SVC_NAME_GSDIS = "gsdis"
)

const nanoUuidSuffix = "-444c-5020-4e49-52204e616e6f"

func nanoUuid(v uint32) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(fmt.Sprintf("%08x%s", v, nanoUuidSuffix))
	if err != nil {
		panic(err.Error())
	}
	return uuid
}

func svcUuid(svcId uint32) bluetooth.UUID {
	return nanoUuid(0x53455200 | svcId)
}

func chrUuid(svcId uint32, idx uint32) bluetooth.UUID {
	return nanoUuid(0x43480000 | svcId<<8 | idx)
}

const (
	permR = bluetooth.CharacteristicReadPermission
	permW = bluetooth.CharacteristicWritePermission
	permN = bluetooth.CharacteristicNotifyPermission
	permI = bluetooth.CharacteristicIndicatePermission
)

func immediate(key backend.CmdKey) *CmdSpec {
	return &CmdSpec{Key: key, CmdType: liaison.CMD_TYPE_READ_IMMEDIATE}
}

func delayed(key backend.CmdKey, ft backend.FileType) *CmdSpec {
	return &CmdSpec{
		Key:      key,
		FileType: ft,
		CmdType:  liaison.CMD_TYPE_READ_DELAYED,
	}
}

func write(key backend.CmdKey, ct liaison.CmdType, minLen int,
	maxLen int) *CmdSpec {

	return &CmdSpec{
		Key:     key,
		CmdType: ct,
		MinLen:  minLen,
		MaxLen:  maxLen,
	}
}

// Request characteristic whose result is delivered on ret.
func fileReq(ft backend.FileType, sub backend.SubfieldType,
	ct liaison.CmdType, idxLen int, ret string) *CmdSpec {

	return &CmdSpec{
		Key:      backend.KEY_FILE_READ,
		FileType: ft,
		Subfield: sub,
		CmdType:  ct,
		MinLen:   idxLen,
		MaxLen:   idxLen,
		Ret:      ret,
	}
}

func errStatusRead(s *Server) []byte {
	return s.dev.ErrStatus().Bytes()
}

func disSvc() SvcDef {
	chr := func(name string, uuid uint16, key backend.CmdKey) ChrDef {
		return ChrDef{
			Name:  name,
			Uuid:  bluetooth.New16BitUUID(uuid),
			Perms: permR,
			Read:  immediate(key),
		}
	}

	return SvcDef{
		Id:   SVC_ID_DIS,
		Name: SVC_NAME_DIS,
		Uuid: bluetooth.New16BitUUID(0x180a),
		Chrs: []ChrDef{
			chr("manufacturer", 0x2a29, backend.KEY_INFO_MFR),
			chr("model", 0x2a24, backend.KEY_INFO_MODEL),
			chr("serial", 0x2a25, backend.KEY_INFO_SERIAL),
			chr("hw_rev", 0x2a27, backend.KEY_INFO_HW_REV),
			chr("fw_rev", 0x2a26, backend.KEY_INFO_FW_REV),
		},
	}
}

func gisSvc() SvcDef {
	id := SVC_ID_GIS
	return SvcDef{
		Id:   id,
		Name: SVC_NAME_GIS,
		Uuid: svcUuid(id),
		Chrs: []ChrDef{
			{
				Name:  "temperature",
				Uuid:  chrUuid(id, 1),
				Perms: permR | permN,
				Read:  immediate(backend.KEY_TEMP),
				Chan:  &ChanBinding{Type: notify.NOTIFY_TYPE_TEMPERATURE},
			},
			{
				Name:  "humidity",
				Uuid:  chrUuid(id, 2),
				Perms: permR | permN,
				Read:  immediate(backend.KEY_HUM),
				Chan:  &ChanBinding{Type: notify.NOTIFY_TYPE_HUMIDITY},
			},
			{
				Name:  "device_status",
				Uuid:  chrUuid(id, 3),
				Perms: permR | permN,
				Read:  immediate(backend.KEY_DEV_STATUS),
				Chan:  &ChanBinding{Type: notify.NOTIFY_TYPE_DEVICE_STATUS},
			},
			{
				Name:  "error_status",
				Uuid:  chrUuid(id, 4),
				Perms: permR | permI,
				Local: errStatusRead,
				Chan: &ChanBinding{
					Type:     notify.NOTIFY_TYPE_ERROR_INDICATION,
					Indicate: true,
				},
			},
			{
				Name:  "temp_threshold",
				Uuid:  chrUuid(id, 5),
				Perms: permR | permW,
				Read:  immediate(backend.KEY_TEMP_THRESH),
				Write: write(backend.KEY_TEMP_THRESH, liaison.CMD_TYPE_WRITE, 2, 2),
			},
			{
				Name:  "hum_threshold",
				Uuid:  chrUuid(id, 6),
				Perms: permR | permW,
				Read:  immediate(backend.KEY_HUM_THRESH),
				Write: write(backend.KEY_HUM_THRESH, liaison.CMD_TYPE_WRITE, 2, 2),
			},
			{
				Name:  "hours_of_use",
				Uuid:  chrUuid(id, 7),
				Perms: permR,
				Read:  immediate(backend.KEY_HOURS_OF_USE),
			},
			{
				Name:  "batt_recharge_cycles",
				Uuid:  chrUuid(id, 8),
				Perms: permR,
				Read:  immediate(backend.KEY_BATT_CYCLES),
			},
			{
				Name:  "lamp_hours",
				Uuid:  chrUuid(id, 9),
				Perms: permR,
				Read:  immediate(backend.KEY_LAMP_HOURS),
			},
			{
				Name:  "clear_error_status",
				Uuid:  chrUuid(id, 10),
				Perms: permW,
				Write: write(backend.KEY_CLEAR_ERRORS, liaison.CMD_TYPE_WRITE, 0, 0),
			},
		},
	}
}

func gdtsSvc() SvcDef {
	id := SVC_ID_GDTS
	return SvcDef{
		Id:   id,
		Name: SVC_NAME_GDTS,
		Uuid: svcUuid(id),
		Chrs: []ChrDef{
			{
				Name:  "set_date_time",
				Uuid:  chrUuid(id, 1),
				Perms: permW,
				Write: write(backend.KEY_SET_DATE_TIME, liaison.CMD_TYPE_WRITE,
					devstate.DATE_TIME_LEN, devstate.DATE_TIME_LEN),
			},
		},
	}
}

func gcisSvc() SvcDef {
	id := SVC_ID_GCIS
	return SvcDef{
		Id:   id,
		Name: SVC_NAME_GCIS,
		Uuid: svcUuid(id),
		Chrs: []ChrDef{
			{
				Name:  "req_spec_cal_coeffs",
				Uuid:  chrUuid(id, 1),
				Perms: permW,
				Write: fileReq(backend.FILE_TYPE_SPEC_CAL_COEFF,
					backend.SUBFIELD_NONE, liaison.CMD_TYPE_WRITE_NOTIFY, 0,
					"ret_spec_cal_coeffs"),
			},
			{
				Name:  "ret_spec_cal_coeffs",
				Uuid:  chrUuid(id, 2),
				Perms: permN,
			},
			{
				Name:  "req_ref_cal_coeffs",
				Uuid:  chrUuid(id, 3),
				Perms: permW,
				Write: fileReq(backend.FILE_TYPE_REF_CAL_COEFF,
					backend.SUBFIELD_NONE, liaison.CMD_TYPE_WRITE_NOTIFY, 0,
					"ret_ref_cal_coeffs"),
			},
			{
				Name:  "ret_ref_cal_coeffs",
				Uuid:  chrUuid(id, 4),
				Perms: permN,
			},
			{
				Name:  "ref_cal_matrix",
				Uuid:  chrUuid(id, 5),
				Perms: permR | permN,
				Read: delayed(backend.KEY_FILE_READ,
					backend.FILE_TYPE_REF_CAL_MATRIX),
			},
		},
	}
}

func gscsSvc() SvcDef {
	id := SVC_ID_GSCS
	return SvcDef{
		Id:   id,
		Name: SVC_NAME_GSCS,
		Uuid: svcUuid(id),
		Chrs: []ChrDef{
			{
				Name:  "num_cfgs",
				Uuid:  chrUuid(id, 1),
				Perms: permR,
				Read:  delayed(backend.KEY_NUM_CFGS, backend.FILE_TYPE_NONE),
			},
			{
				Name:  "req_cfg_list",
				Uuid:  chrUuid(id, 2),
				Perms: permW,
				Write: fileReq(backend.FILE_TYPE_CFG_LIST, backend.SUBFIELD_NONE,
					liaison.CMD_TYPE_WRITE_NOTIFY, 0, "ret_cfg_list"),
			},
			{
				Name:  "ret_cfg_list",
				Uuid:  chrUuid(id, 3),
				Perms: permN,
			},
			{
				Name:  "req_cfg_data",
				Uuid:  chrUuid(id, 4),
				Perms: permW,
				Write: fileReq(backend.FILE_TYPE_CFG_DATA, backend.SUBFIELD_NONE,
					liaison.CMD_TYPE_WRITE_NOTIFY, 2, "ret_cfg_data"),
			},
			{
				Name:  "ret_cfg_data",
				Uuid:  chrUuid(id, 5),
				Perms: permN,
			},
			{
				Name:  "active_cfg",
				Uuid:  chrUuid(id, 6),
				Perms: permR | permW,
				Read:  delayed(backend.KEY_ACTIVE_CFG, backend.FILE_TYPE_NONE),
				Write: write(backend.KEY_ACTIVE_CFG,
					liaison.CMD_TYPE_WRITE_DELAYED_RSP, 2, 2),
			},
		},
	}
}

func gsdisSvc() SvcDef {
	id := SVC_ID_GSDIS

	scanField := func(idx uint32, name string, sub backend.SubfieldType,
		ct liaison.CmdType) []ChrDef {

		retPerms := permN
		if ct == liaison.CMD_TYPE_WRITE_INDICATE {
			retPerms = permI
		}

		return []ChrDef{
			{
				Name:  "req_" + name,
				Uuid:  chrUuid(id, idx),
				Perms: permW,
				Write: fileReq(backend.FILE_TYPE_SCAN_DATA, sub, ct, 4,
					"ret_"+name),
			},
			{
				Name:  "ret_" + name,
				Uuid:  chrUuid(id, idx+1),
				Perms: retPerms,
			},
		}
	}

	chrs := []ChrDef{
		{
			Name:  "num_scans",
			Uuid:  chrUuid(id, 1),
			Perms: permR,
			Read:  delayed(backend.KEY_NUM_SCANS, backend.FILE_TYPE_NONE),
		},
		{
			Name:  "req_scan_list",
			Uuid:  chrUuid(id, 2),
			Perms: permW,
			Write: fileReq(backend.FILE_TYPE_SCAN_LIST, backend.SUBFIELD_NONE,
				liaison.CMD_TYPE_WRITE_NOTIFY, 0, "ret_scan_list"),
		},
		{
			Name:  "ret_scan_list",
			Uuid:  chrUuid(id, 3),
			Perms: permN,
		},
	}

	chrs = append(chrs, scanField(4, "scan_name", backend.SUBFIELD_NAME,
		liaison.CMD_TYPE_WRITE_NOTIFY)...)
	chrs = append(chrs, scanField(6, "scan_type", backend.SUBFIELD_TYPE,
		liaison.CMD_TYPE_WRITE_NOTIFY)...)
	chrs = append(chrs, scanField(8, "scan_time", backend.SUBFIELD_TIME,
		liaison.CMD_TYPE_WRITE_NOTIFY)...)
	chrs = append(chrs, scanField(10, "scan_blob_version",
		backend.SUBFIELD_BLOB_VERSION, liaison.CMD_TYPE_WRITE_NOTIFY)...)
	chrs = append(chrs, scanField(12, "scan_data", backend.SUBFIELD_BLOB,
		liaison.CMD_TYPE_WRITE_INDICATE)...)

	chrs = append(chrs,
		ChrDef{
			Name:  "start_scan",
			Uuid:  chrUuid(id, 14),
			Perms: permW | permN,
			Write: write(backend.KEY_START_SCAN, liaison.CMD_TYPE_WRITE, 0, 1),
			Chan:  &ChanBinding{Type: notify.NOTIFY_TYPE_SCAN_STATUS},
		},
		ChrDef{
			Name:  "clear_scan",
			Uuid:  chrUuid(id, 15),
			Perms: permW | permN,
			Write: write(backend.KEY_DEL_SCAN,
				liaison.CMD_TYPE_WRITE_DELAYED_RSP, 4, 4),
			Chan: &ChanBinding{Type: notify.NOTIFY_TYPE_CLEAR_SCAN_STATUS},
		},
	)

	return SvcDef{
		Id:   id,
		Name: SVC_NAME_GSDIS,
		Uuid: svcUuid(id),
		Chrs: chrs,
	}
}

// The spectrometer's full attribute set.
func DefaultServices() []SvcDef {
	return []SvcDef{
		disSvc(),
		gisSvc(),
		gdtsSvc(),
		gcisSvc(),
		gscsSvc(),
		gsdisSvc(),
	}
}
