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

package bledefs

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const BLE_ATT_ATTR_MAX_LEN = 512

const BLE_ATT_MTU_DFLT = 23

// Opcode + attribute handle preceding every notification / indication value.
const BLE_ATT_NOTIFY_HDR_SZ = 3

const BLE_ATT_MTU_MAX = BLE_ATT_ATTR_MAX_LEN + BLE_ATT_NOTIFY_HDR_SZ

// The hardware supports a single LE link.
const BLE_MAX_LE_CONNECTIONS = 1

const BLE_CONN_ID_NONE uint32 = 0xffffffff

// Client characteristic configuration descriptor bits.
const (
	BLE_GATT_CCD_NOTIFY   uint16 = 0x0001
	BLE_GATT_CCD_INDICATE uint16 = 0x0002
)

const BLE_GATT_CCD_LEN = 2

// ATT protocol error codes sent in error responses.
const (
	ERR_CODE_ATT_INVALID_HANDLE       = 0x01
	ERR_CODE_ATT_READ_NOT_PERMITTED   = 0x02
	ERR_CODE_ATT_WRITE_NOT_PERMITTED  = 0x03
	ERR_CODE_ATT_INVALID_PDU          = 0x04
	ERR_CODE_ATT_REQ_NOT_SUPPORTED    = 0x06
	ERR_CODE_ATT_INVALID_OFFSET       = 0x07
	ERR_CODE_ATT_ATTR_NOT_FOUND       = 0x0a
	ERR_CODE_ATT_ATTR_NOT_LONG        = 0x0b
	ERR_CODE_ATT_INVALID_ATTR_VAL_LEN = 0x0d
	ERR_CODE_ATT_UNLIKELY             = 0x0e
	ERR_CODE_ATT_INSUFFICIENT_RES     = 0x11
	ERR_CODE_ATT_CCCD_IMPROPER_CFG    = 0xfd
	ERR_CODE_ATT_PROC_IN_PROGRESS     = 0xfe
	ERR_CODE_ATT_OUT_OF_RANGE         = 0xff
)

var ErrCodeStringMap = map[int]string{
	ERR_CODE_ATT_INVALID_HANDLE:       "invalid handle",
	ERR_CODE_ATT_READ_NOT_PERMITTED:   "read not permitted",
	ERR_CODE_ATT_WRITE_NOT_PERMITTED:  "write not permitted",
	ERR_CODE_ATT_INVALID_PDU:          "invalid pdu",
	ERR_CODE_ATT_REQ_NOT_SUPPORTED:    "request not supported",
	ERR_CODE_ATT_INVALID_OFFSET:       "invalid offset",
	ERR_CODE_ATT_ATTR_NOT_FOUND:       "attribute not found",
	ERR_CODE_ATT_ATTR_NOT_LONG:        "attribute not long",
	ERR_CODE_ATT_INVALID_ATTR_VAL_LEN: "invalid attribute value length",
	ERR_CODE_ATT_UNLIKELY:             "unlikely error",
	ERR_CODE_ATT_INSUFFICIENT_RES:     "insufficient resources",
	ERR_CODE_ATT_CCCD_IMPROPER_CFG:    "cccd improperly configured",
	ERR_CODE_ATT_PROC_IN_PROGRESS:     "procedure already in progress",
	ERR_CODE_ATT_OUT_OF_RANGE:         "out of range",
}

func ErrCodeToString(e int) string {
	s := ErrCodeStringMap[e]
	if s == "" {
		return "unknown"
	}

	return s
}

// HCI disconnect reasons reported in disconnect events.
const (
	ERR_CODE_HCI_CONN_TIMEOUT     = 0x08
	ERR_CODE_HCI_REM_USER_TERM    = 0x13
	ERR_CODE_HCI_LOCAL_HOST_TERM  = 0x16
	ERR_CODE_HCI_CONN_FAIL_ESTAB  = 0x3e
	ERR_CODE_HCI_CONN_LIMIT_EXCDD = 0x09
)

var HciReasonStringMap = map[int]string{
	ERR_CODE_HCI_CONN_TIMEOUT:     "connection timeout",
	ERR_CODE_HCI_REM_USER_TERM:    "remote user terminated connection",
	ERR_CODE_HCI_LOCAL_HOST_TERM:  "connection terminated by local host",
	ERR_CODE_HCI_CONN_FAIL_ESTAB:  "connection failed to be established",
	ERR_CODE_HCI_CONN_LIMIT_EXCDD: "connection limit exceeded",
}

func HciReasonToString(r int) string {
	s := HciReasonStringMap[r]
	if s == "" {
		return "unknown"
	}

	return s
}

type BleAddr struct {
	Bytes [6]byte
}

func ParseBleAddr(s string) (BleAddr, error) {
	ba := BleAddr{}

	toks := strings.Split(strings.ToLower(s), ":")
	if len(toks) != 6 {
		return ba, fmt.Errorf("invalid BLE addr string: %s", s)
	}

	for i, t := range toks {
		u64, err := strconv.ParseUint(t, 16, 8)
		if err != nil {
			return ba, err
		}
		ba.Bytes[i] = byte(u64)
	}

	return ba, nil
}

func (ba BleAddr) String() string {
	var buf bytes.Buffer
	buf.Grow(len(ba.Bytes) * 3)

	for i, b := range ba.Bytes {
		if i != 0 {
			buf.WriteString(":")
		}
		fmt.Fprintf(&buf, "%02x", b)
	}

	return buf.String()
}

// Usable payload bytes in a single notification or indication.
func ChunkSize(mtu int) int {
	if mtu < BLE_ATT_MTU_DFLT {
		mtu = BLE_ATT_MTU_DFLT
	}
	if mtu > BLE_ATT_MTU_MAX {
		mtu = BLE_ATT_MTU_MAX
	}

	return mtu - BLE_ATT_NOTIFY_HDR_SZ
}
