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
	"encoding/binary"
	"fmt"
	"log"

	"github.com/tee-dev/secure-channel/secmem"
)

// Legacy convention. The function identifier carries no owner tag and the
// arguments travel in a command buffer holding both request and response:
//
//	0x00 total length
//	0x04 argument offset
//	0x08 response header offset
//	0x0c function identifier
//	     arguments, one 32-bit word each
//	     response header: length, payload offset, completion flag
//	     response payload, three 32-bit result words
const (
	legacyCmdHeaderLen  = 16
	legacyRespHeaderLen = 12
	legacyMaxResults    = 3

	// register class atomic encoding
	legacyAtomicArgs     = 5
	legacyClassRegister  = 0x2 << 8
	legacyMaskInterrupts = 1 << 5

	// the command dispatch identifier loaded in the first register
	legacyDispatch = 1

	// completion poll bound, a protocol fault past this
	legacyCompletionSpins = 1 << 24
)

// legacyFunctionID packs the service and command pair for the buffered
// command convention.
func legacyFunctionID(svc, cmd uint32) uint64 {
	return uint64(svc)<<10 | uint64(cmd&0x3ff)
}

// legacyAtomicID packs the register class function identifier for calls
// whose arguments fit in registers.
func legacyAtomicID(svc, cmd uint32, nargs int) uint64 {
	return legacyFunctionID(svc, cmd)<<12 | legacyClassRegister |
		legacyMaskInterrupts | uint64(nargs&0xf)
}

// legacyCall marshals desc into a command buffer, dispatches it and polls
// the response completion flag before copying out the result words.
func (s *SCM) legacyCall(desc *Desc) (Result, error) {
	// validates arity and tags, the wire carries no arginfo word
	if _, err := desc.arginfo(); err != nil {
		return Result{}, err
	}

	n := len(desc.Args)
	respOff := legacyCmdHeaderLen + n*4
	total := respOff + legacyRespHeaderLen + legacyMaxResults*4

	cmd, err := s.mem.Acquire(total, secmem.Normal)

	if err != nil {
		return Result{}, err
	}
	defer s.mem.Release(cmd)

	le := binary.LittleEndian

	le.PutUint32(cmd.Data[0:], uint32(total))
	le.PutUint32(cmd.Data[4:], legacyCmdHeaderLen)
	le.PutUint32(cmd.Data[8:], uint32(respOff))
	le.PutUint32(cmd.Data[12:], uint32(legacyFunctionID(desc.Svc, desc.Cmd)))

	for i, a := range desc.Args {
		le.PutUint32(cmd.Data[legacyCmdHeaderLen+i*4:], uint32(a))
	}

	cmd.Flush()

	frame := [8]uint64{legacyDispatch, 0, cmd.Addr}

	for {
		ret := s.conduit.Invoke(frame)
		status := int64(ret[0])

		if status == statusInterrupted {
			continue
		}

		if status < 0 {
			return Result{}, remapStatus(status)
		}

		break
	}

	completed := false

	for spin := 0; spin < legacyCompletionSpins; spin++ {
		cmd.Invalidate()

		if le.Uint32(cmd.Data[respOff+8:]) != 0 {
			completed = true
			break
		}
	}

	if !completed {
		log.Printf("SCM legacy response never completed")
		return Result{}, ErrIO
	}

	payload := respOff + int(le.Uint32(cmd.Data[respOff+4:]))

	var res Result

	for i := 0; i < legacyMaxResults; i++ {
		res[i] = uint64(le.Uint32(cmd.Data[payload+i*4:]))
	}

	return res, nil
}

// legacyCallAtomic dispatches a register class call. At most five arguments
// fit; larger calls must go through the buffered variant.
func (s *SCM) legacyCallAtomic(desc *Desc) (Result, error) {
	if _, err := desc.arginfo(); err != nil {
		return Result{}, err
	}

	if len(desc.Args) > legacyAtomicArgs {
		return Result{}, fmt.Errorf("%w: %d arguments exceed the register class", ErrInvalid, len(desc.Args))
	}

	var frame [8]uint64

	frame[0] = legacyAtomicID(desc.Svc, desc.Cmd, len(desc.Args))

	for i, a := range desc.Args {
		frame[smcArgsBase+i] = a
	}

	ret := s.conduit.Invoke(frame)

	if status := int64(ret[0]); status < 0 {
		return Result{}, remapStatus(status)
	}

	return Result{ret[1], ret[2], ret[3]}, nil
}
