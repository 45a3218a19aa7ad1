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

package blxutil

import (
	"encoding/hex"

	log "github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

var Debug bool

var logFormatter = log.TextFormatter{
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02 15:04:05.999",
	ForceColors:     true,
}

func SetLogLevel(level log.Level) {
	log.SetLevel(level)
	log.SetFormatter(&logFormatter)
}

func Assert(cond bool) {
	if Debug && !cond {
		panic("Failed assertion")
	}
}

// Splits data into consecutive pieces of at most size bytes.  An empty input
// yields no pieces.
func Fragment(data []byte, size int) [][]byte {
	if size <= 0 {
		return nil
	}

	var frags [][]byte
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		frags = append(frags, data[off:end])
	}

	return frags
}

func EncodeCbor(val interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, new(codec.CborHandle))
	if err := enc.Encode(val); err != nil {
		return nil, err
	}

	return b, nil
}

func DecodeCbor(cbor []byte, val interface{}) error {
	dec := codec.NewDecoderBytes(cbor, new(codec.CborHandle))
	return dec.Decode(val)
}

func DecodeCborMap(cbor []byte) (map[string]interface{}, error) {
	m := map[string]interface{}{}

	if err := DecodeCbor(cbor, &m); err != nil {
		return nil, err
	}

	return m, nil
}

// Hex dump for debug logs; long payloads are truncated.
func HexPreview(data []byte, max int) string {
	if max > 0 && len(data) > max {
		return hex.EncodeToString(data[:max]) + "..."
	}

	return hex.EncodeToString(data)
}
