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
	"github.com/tee-dev/secure-channel/secmem"
)

// Peripheral authentication service. The secure side validates, loads and
// resets peripheral firmware images; the metadata handed over at
// initialization stays referenced by the secure side until explicitly
// released.

// PASMetadata holds the metadata buffer owned by the secure side between
// image initialization and release.
type PASMetadata struct {
	buf *secmem.Buffer
	mem *secmem.Broker
}

// PASInitImage starts the authentication sequence for a peripheral,
// passing the image metadata through a brokered buffer. Zero-length
// metadata is valid and still issues the call.
//
// With a non-nil ctx the metadata buffer remains alive after a successful
// call, owned by ctx until PASMetadataRelease; the secure side keeps
// referencing it while the image loads. On failure, or with a nil ctx, the
// buffer is released before returning.
func (s *SCM) PASInitImage(peripheral uint32, metadata []byte, ctx *PASMetadata) error {
	buf, err := s.mem.Acquire(len(metadata), secmem.Normal)

	if err != nil {
		return err
	}

	copy(buf.Data, metadata)
	buf.Flush()

	err = s.withVotes(func() error {
		res, err := s.Call(&Desc{
			Svc:   SvcPIL,
			Cmd:   PILInitImage,
			Owner: OwnerSIP,
			Args:  []uint64{uint64(peripheral), buf.Addr},
			Types: []ArgType{ArgValue, ArgRW},
		})

		if err != nil {
			return err
		}

		return firmwareStatus(res)
	})

	if err != nil || ctx == nil {
		s.mem.Release(buf)
		return err
	}

	ctx.buf = buf
	ctx.mem = s.mem

	return nil
}

// PASMetadataRelease returns the metadata buffer held by ctx once the
// peripheral is up. Releasing a context that never received a buffer is a
// no-op.
func (s *SCM) PASMetadataRelease(ctx *PASMetadata) {
	if ctx == nil || ctx.buf == nil {
		return
	}

	ctx.mem.Release(ctx.buf)
	ctx.buf = nil
	ctx.mem = nil
}

// PASMemSetup associates a memory region with an initialized peripheral
// image.
func (s *SCM) PASMemSetup(peripheral uint32, addr, size uint64) error {
	return s.gatedCall(&Desc{
		Svc:   SvcPIL,
		Cmd:   PILMemSetup,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(peripheral), addr, size},
	})
}

// PASAuthAndReset authenticates the staged image and releases the
// peripheral from reset.
func (s *SCM) PASAuthAndReset(peripheral uint32) error {
	return s.gatedCall(&Desc{
		Svc:   SvcPIL,
		Cmd:   PILAuthAndReset,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(peripheral)},
	})
}

// PASShutdown stops a running peripheral and reclaims its resources.
func (s *SCM) PASShutdown(peripheral uint32) error {
	return s.gatedCall(&Desc{
		Svc:   SvcPIL,
		Cmd:   PILShutdown,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(peripheral)},
	})
}

// PASSupported reports whether the secure side authenticates the given
// peripheral. The probe has no hardware side effect and runs unvoted.
func (s *SCM) PASSupported(peripheral uint32) bool {
	if !s.IsCallAvailable(SvcPIL, PILIsSupported) {
		return false
	}

	res, err := s.Call(&Desc{
		Svc:   SvcPIL,
		Cmd:   PILIsSupported,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(peripheral)},
	})

	return err == nil && res[0] != 0
}

// PASMSSReset asserts or releases the modem subsystem reset line through
// the secure side.
func (s *SCM) PASMSSReset(assert bool) error {
	arg := uint64(0)

	if assert {
		arg = 1
	}

	res, err := s.Call(&Desc{
		Svc:   SvcPIL,
		Cmd:   PILMSSReset,
		Owner: OwnerSIP,
		Args:  []uint64{arg, 0},
	})

	if err != nil {
		return err
	}

	return firmwareStatus(res)
}
