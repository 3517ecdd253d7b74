// Copyright 2024 The Secure Channel authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported indicates the firmware does not implement the call.
	ErrNotSupported = errors.New("scm: operation not supported by firmware")
	// ErrInvalid indicates a malformed argument or address.
	ErrInvalid = errors.New("scm: invalid argument")
	// ErrNoMemory indicates an allocation failure, local or secure side.
	ErrNoMemory = errors.New("scm: out of memory")
	// ErrBusy indicates the secure side cannot take the call right now.
	ErrBusy = errors.New("scm: firmware busy")
	// ErrPermission indicates the secure side refused the operation.
	ErrPermission = errors.New("scm: operation not permitted")
	// ErrIO indicates a firmware call failure with no closer mapping.
	ErrIO = errors.New("scm: firmware call failed")
	// ErrTransport indicates the call could not be dispatched at all.
	ErrTransport = errors.New("scm: transport failure")
)

// Firmware status words returned in the first result register.
const (
	statusOK          = 0
	statusInterrupted = 1
	statusError       = -1
	statusEInvalArg   = -2
	statusEInvalAddr  = -3
	statusEOpNotSupp  = -4
	statusENoMem      = -5
	statusEPerm       = -6
	statusV2Busy      = -12
	statusWaitqSleep  = -64
)

// remapStatus converts a negative firmware status word into the
// corresponding sentinel error.
func remapStatus(status int64) error {
	switch status {
	case statusEInvalArg, statusEInvalAddr:
		return ErrInvalid
	case statusEOpNotSupp:
		return ErrNotSupported
	case statusENoMem:
		return ErrNoMemory
	case statusEPerm:
		return ErrPermission
	case statusV2Busy:
		return ErrBusy
	case statusWaitqSleep:
		// only reachable from atomic calls, which must not sleep
		return fmt.Errorf("%w: sleep requested on atomic call", ErrBusy)
	}

	return fmt.Errorf("%w: status %d", ErrIO, status)
}

// FirmwareError is a nonzero call-specific status reported by the secure
// side in the first result word of an otherwise successful call.
type FirmwareError uint64

func (e FirmwareError) Error() string {
	return fmt.Sprintf("scm: firmware status %#x", uint64(e))
}

// firmwareStatus interprets the first result word as a call status.
func firmwareStatus(res Result) error {
	if res[0] == 0 {
		return nil
	}

	return FirmwareError(res[0])
}
