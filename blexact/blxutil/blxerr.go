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
	"fmt"
)

// Represents a failed ATT procedure; Status is the ATT error code that was, or
// should be, reported to the peer.
type AttError struct {
	Text   string
	Status int
}

func NewAttError(status int, text string) *AttError {
	return &AttError{
		Text:   text,
		Status: status,
	}
}

func FmtAttError(status int, format string, args ...interface{}) *AttError {
	return NewAttError(status, fmt.Sprintf(format, args...))
}

func (e *AttError) Error() string {
	return e.Text
}

func IsAtt(err error) bool {
	_, ok := err.(*AttError)
	return ok
}

// Indicates the command processor reported a failure for a relayed command.
type BackendError struct {
	Text string
	Code int16
}

func NewBackendError(code int16, text string) *BackendError {
	return &BackendError{
		Text: text,
		Code: code,
	}
}

func FmtBackendError(code int16, format string,
	args ...interface{}) *BackendError {

	return NewBackendError(code, fmt.Sprintf(format, args...))
}

func (e *BackendError) Error() string {
	return e.Text
}

func IsBackend(err error) bool {
	_, ok := err.(*BackendError)
	return ok
}

// Indicates a resource (the link, a channel, the liaison) is occupied.
type BusyError struct {
	Text string
}

func NewBusyError(text string) *BusyError {
	return &BusyError{
		Text: text,
	}
}

func FmtBusyError(format string, args ...interface{}) *BusyError {
	return NewBusyError(fmt.Sprintf(format, args...))
}

func (e *BusyError) Error() string {
	return e.Text
}

func IsBusy(err error) bool {
	_, ok := err.(*BusyError)
	return ok
}

type AlreadyRegisteredError struct {
	Text string
}

func NewAlreadyRegisteredError(text string) *AlreadyRegisteredError {
	return &AlreadyRegisteredError{
		Text: text,
	}
}

func (e *AlreadyRegisteredError) Error() string {
	return e.Text
}

func IsAlreadyRegistered(err error) bool {
	_, ok := err.(*AlreadyRegisteredError)
	return ok
}

type NotRegisteredError struct {
	Text string
}

func NewNotRegisteredError(text string) *NotRegisteredError {
	return &NotRegisteredError{
		Text: text,
	}
}

func (e *NotRegisteredError) Error() string {
	return e.Text
}

func IsNotRegistered(err error) bool {
	_, ok := err.(*NotRegisteredError)
	return ok
}

// Returned when a second central attempts to connect while the single
// connection slot is occupied.
type ConnSlotError struct {
	Text string
}

func NewConnSlotError(text string) *ConnSlotError {
	return &ConnSlotError{
		Text: text,
	}
}

func (e *ConnSlotError) Error() string {
	return e.Text
}

func IsConnSlot(err error) bool {
	_, ok := err.(*ConnSlotError)
	return ok
}

type QueueFullError struct {
	Text string
}

func NewQueueFullError(text string) *QueueFullError {
	return &QueueFullError{
		Text: text,
	}
}

func (e *QueueFullError) Error() string {
	return e.Text
}

func IsQueueFull(err error) bool {
	_, ok := err.(*QueueFullError)
	return ok
}

// Represents a low-level transport error.
type XportError struct {
	Text string
}

func NewXportError(text string) *XportError {
	return &XportError{text}
}

func FmtXportError(format string, args ...interface{}) *XportError {
	return NewXportError(fmt.Sprintf(format, args...))
}

func (e *XportError) Error() string {
	return e.Text
}

func IsXport(err error) bool {
	if err == nil {
		return false
	}

	_, ok := err.(*XportError)
	return ok
}
