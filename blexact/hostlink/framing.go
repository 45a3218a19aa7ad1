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

package hostlink

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"

	"github.com/joaojeronimo/go-crc16"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"nirscan.io/nanoble/blexact/blxutil"
)

// Longest base64 run per line.  Leaves room for the two-byte prefix and the
// newline in a 128-byte receive buffer.
const MAX_LINE_DATA = 124

var (
	pfxFirst = []byte{6, 9}
	pfxCont  = []byte{4, 20}
)

// Splits a frame into newline-terminated base64 lines.  The frame is
// prefixed with its length and followed by its CRC-16, both big endian.
func EncodeFrame(data []byte) [][]byte {
	body := make([]byte, 2, len(data)+4)
	binary.BigEndian.PutUint16(body, uint16(len(data)+2))
	body = append(body, data...)

	crc := make([]byte, 2)
	binary.BigEndian.PutUint16(crc, crc16.Crc16(data))
	body = append(body, crc...)

	enc := make([]byte, base64.StdEncoding.EncodedLen(len(body)))
	base64.StdEncoding.Encode(enc, body)

	frags := blxutil.Fragment(enc, MAX_LINE_DATA)
	lines := make([][]byte, len(frags))
	for i, frag := range frags {
		pfx := pfxCont
		if i == 0 {
			pfx = pfxFirst
		}

		line := make([]byte, 0, len(pfx)+len(frag)+1)
		line = append(line, pfx...)
		line = append(line, frag...)
		lines[i] = append(line, '\n')
	}

	return lines
}

type packet struct {
	expectedLen int
	buf         bytes.Buffer
}

// Reassembles frames from received lines.
type Decoder struct {
	pkt *packet
}

func isFramed(line []byte) bool {
	return len(line) >= 2 &&
		(bytes.HasPrefix(line, pfxFirst) || bytes.HasPrefix(line, pfxCont))
}

// Consumes one line (without its newline).  Returns the frame payload once
// the final line of a frame has been fed, or nil if more lines are needed.
// Lines that are not part of a frame are ignored.
func (d *Decoder) Feed(line []byte) ([]byte, error) {
	line = bytes.TrimLeft(line, "\r")
	line = bytes.TrimRight(line, "\r")

	if !isFramed(line) {
		if len(line) > 0 {
			log.Debugf("hostlink console: %s", string(line))
		}
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(string(line[2:]))
	if err != nil {
		d.pkt = nil
		return nil, errors.Wrapf(err, "bad base64 in line:\n%s",
			hex.Dump(line))
	}

	if bytes.HasPrefix(line, pfxFirst) {
		if len(data) < 2 {
			d.pkt = nil
			return nil, errors.New("frame too short for length header")
		}

		d.pkt = &packet{
			expectedLen: int(binary.BigEndian.Uint16(data[0:2])),
		}
		data = data[2:]
	}

	if d.pkt == nil {
		// Continuation without a start; wait for the next frame.
		return nil, nil
	}

	d.pkt.buf.Write(data)
	if d.pkt.buf.Len() < d.pkt.expectedLen {
		return nil, nil
	}

	b := d.pkt.buf.Bytes()[:d.pkt.expectedLen]
	d.pkt = nil

	if len(b) < 2 {
		return nil, errors.New("frame too short for crc")
	}

	payload := b[:len(b)-2]
	if crc16.Crc16(payload) != binary.BigEndian.Uint16(b[len(b)-2:]) {
		return nil, errors.Errorf("crc mismatch; frame:\n%s", hex.Dump(b))
	}

	return payload, nil
}
