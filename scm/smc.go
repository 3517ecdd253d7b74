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
	"time"

	"github.com/tee-dev/secure-channel/secmem"
)

// SMC function identifier layout.
const (
	smcOwnerShift = 24
	smcConv64     = 1 << 30

	// argument registers available before spilling to memory
	smcRegArgs = 4
	// first register slot carrying an argument
	smcArgsBase = 2
	// register slot carrying the extra arguments bus address
	smcExtSlot = 5
)

// Bounded retry when the secure side reports transient exhaustion of its
// call contexts.
const (
	busyMaxRetry   = 20
	busyRetryDelay = 30 * time.Millisecond
)

// smcFunctionNumber packs the service and command pair into the function
// number field shared by both SMC conventions.
func smcFunctionNumber(svc, cmd uint32) uint64 {
	return uint64(svc&0xff)<<8 | uint64(cmd&0xff)
}

// smcFunctionID builds the full standard-call function identifier.
func smcFunctionID(conv Convention, owner, svc, cmd uint32) uint64 {
	id := uint64(owner&0x3f)<<smcOwnerShift | smcFunctionNumber(svc, cmd)

	if conv == ConventionSMC64 {
		id |= smcConv64
	}

	return id
}

// smcCall marshals desc per the given SMC convention and executes it. The
// first four arguments travel in registers; any excess is spilled to a
// word buffer whose bus address rides the last argument register, with the
// word width set by the convention.
func (s *SCM) smcCall(desc *Desc, conv Convention, atomic bool) (Result, error) {
	arginfo, err := desc.arginfo()

	if err != nil {
		return Result{}, err
	}

	var frame [8]uint64

	frame[0] = smcFunctionID(conv, desc.Owner, desc.Svc, desc.Cmd)
	frame[1] = arginfo

	n := len(desc.Args)
	reg := n

	if n > smcRegArgs {
		reg = smcRegArgs - 1

		width := 8

		if conv == ConventionSMC32 {
			width = 4
		}

		ext, err := s.mem.Acquire((n-reg)*width, secmem.Normal)

		if err != nil {
			return Result{}, err
		}
		defer s.mem.Release(ext)

		for i := reg; i < n; i++ {
			off := (i - reg) * width

			if width == 4 {
				binary.LittleEndian.PutUint32(ext.Data[off:], uint32(desc.Args[i]))
			} else {
				binary.LittleEndian.PutUint64(ext.Data[off:], desc.Args[i])
			}
		}

		ext.Flush()
		frame[smcExtSlot] = ext.Addr
	}

	for i := 0; i < reg; i++ {
		frame[smcArgsBase+i] = desc.Args[i]
	}

	ret, err := s.smcInvoke(conv, frame, atomic)

	if err != nil {
		return Result{}, err
	}

	if status := int64(ret[0]); status < 0 {
		return Result{}, remapStatus(status)
	}

	return Result{ret[1], ret[2], ret[3]}, nil
}

// smcInvoke executes a marshaled frame. The blocking variant retries
// transient busy statuses and transparently parks the caller when the
// secure side converts the call into a sleeping one, resuming it once the
// wait context completes. The atomic variant performs a single trap.
func (s *SCM) smcInvoke(conv Convention, frame [8]uint64, atomic bool) ([4]uint64, error) {
	if atomic {
		return s.conduit.Invoke(frame), nil
	}

	for {
		ret := s.conduit.Invoke(frame)

		for retry := 0; int64(ret[0]) == statusV2Busy && retry < busyMaxRetry; retry++ {
			time.Sleep(busyRetryDelay)
			ret = s.conduit.Invoke(frame)
		}

		if int64(ret[0]) != statusWaitqSleep {
			return ret, nil
		}

		wqCtx := uint32(ret[1])
		callCtx := ret[2]

		if err := s.WaitFor(wqCtx); err != nil {
			return ret, err
		}

		frame = [8]uint64{
			smcFunctionID(conv, OwnerSIP, SvcWaitQueue, WaitQueueResume),
			1,
			callCtx,
		}
	}
}
