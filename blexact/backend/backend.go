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
	"fmt"

	"nirscan.io/nanoble/blexact/devstate"
)

// Identifies a command understood by the command processor: group, command,
// subcommand.
type CmdKey [3]byte

func (k CmdKey) String() string {
	return fmt.Sprintf("%02x:%02x:%02x", k[0], k[1], k[2])
}

const (
	GRP_SYS    byte = 0x01
	GRP_SENSOR      = 0x02
	GRP_TIME        = 0x03
	GRP_FILE        = 0x04
	GRP_CFG         = 0x05
	GRP_SCAN        = 0x06
)

var (
	KEY_INFO_MFR      = CmdKey{GRP_SYS, 0x01, 0x00}
	KEY_INFO_MODEL    = CmdKey{GRP_SYS, 0x01, 0x01}
	KEY_INFO_SERIAL   = CmdKey{GRP_SYS, 0x01, 0x02}
	KEY_INFO_HW_REV   = CmdKey{GRP_SYS, 0x01, 0x03}
	KEY_INFO_FW_REV   = CmdKey{GRP_SYS, 0x01, 0x04}
	KEY_DEV_STATUS    = CmdKey{GRP_SYS, 0x02, 0x00}
	KEY_HOURS_OF_USE  = CmdKey{GRP_SYS, 0x03, 0x00}
	KEY_BATT_CYCLES   = CmdKey{GRP_SYS, 0x04, 0x00}
	KEY_LAMP_HOURS    = CmdKey{GRP_SYS, 0x05, 0x00}
	KEY_CLEAR_ERRORS  = CmdKey{GRP_SYS, 0x06, 0x00}
	KEY_TEMP          = CmdKey{GRP_SENSOR, 0x01, 0x00}
	KEY_HUM           = CmdKey{GRP_SENSOR, 0x02, 0x00}
	KEY_TEMP_THRESH   = CmdKey{GRP_SENSOR, 0x03, 0x00}
	KEY_HUM_THRESH    = CmdKey{GRP_SENSOR, 0x04, 0x00}
	KEY_SET_DATE_TIME = CmdKey{GRP_TIME, 0x01, 0x00}
	KEY_FILE_READ     = CmdKey{GRP_FILE, 0x01, 0x00}
	KEY_NUM_CFGS      = CmdKey{GRP_CFG, 0x01, 0x00}
	KEY_ACTIVE_CFG    = CmdKey{GRP_CFG, 0x02, 0x00}
	KEY_NUM_SCANS     = CmdKey{GRP_SCAN, 0x01, 0x00}
	KEY_START_SCAN    = CmdKey{GRP_SCAN, 0x02, 0x00}
	KEY_DEL_SCAN      = CmdKey{GRP_SCAN, 0x03, 0x00}
)

type FileType int

const (
	FILE_TYPE_NONE FileType = iota
	FILE_TYPE_SCAN_LIST
	FILE_TYPE_SCAN_DATA
	FILE_TYPE_SPEC_CAL_COEFF
	FILE_TYPE_REF_CAL_COEFF
	FILE_TYPE_REF_CAL_MATRIX
	FILE_TYPE_CFG_LIST
	FILE_TYPE_CFG_DATA
	FILE_TYPE_DEVICE_STATUS
	FILE_TYPE_ERROR_STATUS
)

var fileTypeStringMap = map[FileType]string{
	FILE_TYPE_NONE:           "none",
	FILE_TYPE_SCAN_LIST:      "scan_list",
	FILE_TYPE_SCAN_DATA:      "scan_data",
	FILE_TYPE_SPEC_CAL_COEFF: "spec_cal_coeff",
	FILE_TYPE_REF_CAL_COEFF:  "ref_cal_coeff",
	FILE_TYPE_REF_CAL_MATRIX: "ref_cal_matrix",
	FILE_TYPE_CFG_LIST:       "cfg_list",
	FILE_TYPE_CFG_DATA:       "cfg_data",
	FILE_TYPE_DEVICE_STATUS:  "device_status",
	FILE_TYPE_ERROR_STATUS:   "error_status",
}

func FileTypeToString(ft FileType) string {
	s := fileTypeStringMap[ft]
	if s == "" {
		return "???"
	}

	return s
}

func FileTypeFromString(s string) (FileType, error) {
	for ft, name := range fileTypeStringMap {
		if s == name {
			return ft, nil
		}
	}

	return FileType(0), fmt.Errorf("Invalid FileType string: %s", s)
}

type SubfieldType int

const (
	SUBFIELD_NONE SubfieldType = iota
	SUBFIELD_NAME
	SUBFIELD_TYPE
	SUBFIELD_TIME
	SUBFIELD_BLOB_VERSION
	SUBFIELD_BLOB
)

var subfieldStringMap = map[SubfieldType]string{
	SUBFIELD_NONE:         "none",
	SUBFIELD_NAME:         "name",
	SUBFIELD_TYPE:         "type",
	SUBFIELD_TIME:         "time",
	SUBFIELD_BLOB_VERSION: "blob_version",
	SUBFIELD_BLOB:         "blob",
}

func SubfieldToString(st SubfieldType) string {
	s := subfieldStringMap[st]
	if s == "" {
		return "???"
	}

	return s
}

// Stage of a relayed command.
type Phase int

const (
	// Immediate value, or a side-effecting write.
	PHASE_EXEC Phase = iota

	// Byte count of the data a subsequent PHASE_DATA request returns.
	PHASE_SIZE

	PHASE_DATA
)

var phaseStringMap = map[Phase]string{
	PHASE_EXEC: "exec",
	PHASE_SIZE: "size",
	PHASE_DATA: "data",
}

func PhaseToString(p Phase) string {
	s := phaseStringMap[p]
	if s == "" {
		return "???"
	}

	return s
}

type Req struct {
	Key      CmdKey
	FileType FileType
	Subfield SubfieldType
	Phase    Phase
	Payload  []byte
}

func (r Req) String() string {
	return fmt.Sprintf("key=%s file=%s sub=%s phase=%s len=%d",
		r.Key, FileTypeToString(r.FileType), SubfieldToString(r.Subfield),
		PhaseToString(r.Phase), len(r.Payload))
}

// Result of a submitted request.  Len carries the byte count for size
// requests.
type Rsp struct {
	Data []byte
	Len  int
	Err  error
}

type RspFn func(rsp Rsp)

// The external command processor.
type Processor interface {
	// Answers a request without deferring.
	Immediate(req Req) ([]byte, error)

	// Starts a request; cb is called exactly once unless Submit itself
	// fails.  cb runs on the goroutine that called Submit, possibly before
	// Submit returns.
	Submit(req Req, cb RspFn) error
}

// Error register field a failed command is reported against.
func ErrField(key CmdKey) devstate.ErrField {
	switch key[0] {
	case GRP_SCAN:
		return devstate.ERR_FIELD_SCAN
	case GRP_FILE, GRP_CFG:
		return devstate.ERR_FIELD_SD
	case GRP_SENSOR:
		return devstate.ERR_FIELD_HW
	case GRP_TIME:
		return devstate.ERR_FIELD_TIVA
	default:
		return devstate.ERR_FIELD_EEPROM
	}
}

// Command processor error codes.
const (
	ERR_CODE_UNKNOWN_CMD int16 = -1
	ERR_CODE_BAD_INDEX         = -2
	ERR_CODE_BAD_PAYLOAD       = -3
	ERR_CODE_NO_DATA           = -4
	ERR_CODE_CORRUPT           = -5
)
