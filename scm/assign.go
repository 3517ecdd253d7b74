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

	"github.com/usbarmory/tamago/bits"

	"github.com/tee-dev/secure-channel/secmem"
)

// Perm is the access granted to a destination owner of a reassigned
// memory region.
type Perm uint32

const (
	PermExec  Perm = 0x1
	PermWrite Perm = 0x2
	PermRead  Perm = 0x4
)

// VMPermission names a destination owner and its access to the region.
type VMPermission struct {
	VMID uint32
	Perm Perm
}

// Reassignment message layout: three sections packed into one buffer, each
// aligned to 64 bytes. The region descriptor is a (base, size) pair of
// 64-bit words, destination entries carry an unused context pointer and
// length after the owner and permission words.
const (
	assignAlign        = 64
	assignRegionLen    = 16
	assignDestEntryLen = 24
)

func assignAligned(n int) int {
	return (n + assignAlign - 1) &^ (assignAlign - 1)
}

// AssignMem reassigns ownership of the memory region at addr to the owners
// in newOwners. srcOwners is the bitmask of current owner ids; on success
// it is rewritten to the OR of the destination owner bits, computed locally
// rather than reread from the secure side.
func (s *SCM) AssignMem(addr, size uint64, srcOwners *uint64, newOwners []VMPermission) error {
	if srcOwners == nil || *srcOwners == 0 || len(newOwners) == 0 {
		return fmt.Errorf("%w: missing owner sets", ErrInvalid)
	}

	src := *srcOwners
	srcLen := popcount64(src) * 4
	destLen := len(newOwners) * assignDestEntryLen

	regionOff := assignAligned(srcLen)
	destOff := regionOff + assignAligned(assignRegionLen)
	total := destOff + assignAligned(destLen)

	buf, err := s.mem.Acquire(total, secmem.Normal)

	if err != nil {
		return err
	}
	defer s.mem.Release(buf)

	le := binary.LittleEndian

	off := 0

	for id := 0; id < 64; id++ {
		if bits.Get64(&src, id, 1) != 0 {
			le.PutUint32(buf.Data[off:], uint32(id))
			off += 4
		}
	}

	le.PutUint64(buf.Data[regionOff:], addr)
	le.PutUint64(buf.Data[regionOff+8:], size)

	var next uint64

	for i, vm := range newOwners {
		o := destOff + i*assignDestEntryLen

		le.PutUint32(buf.Data[o:], vm.VMID)
		le.PutUint32(buf.Data[o+4:], uint32(vm.Perm))
		// context pointer and length stay zero

		next |= 1 << (vm.VMID & 63)
	}

	buf.Flush()

	res, err := s.Call(&Desc{
		Svc:   SvcMP,
		Cmd:   MPAssign,
		Owner: OwnerSIP,
		Args: []uint64{
			buf.Addr + uint64(regionOff), assignRegionLen,
			buf.Addr, uint64(srcLen),
			buf.Addr + uint64(destOff), uint64(destLen),
			0,
		},
		Types: []ArgType{
			ArgRO, ArgValue,
			ArgRO, ArgValue,
			ArgRO, ArgValue,
			ArgValue,
		},
	})

	if err != nil {
		return err
	}

	if err := firmwareStatus(res); err != nil {
		log.Printf("SCM failed to assign memory protection: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	*srcOwners = next

	return nil
}

func popcount64(v uint64) int {
	n := 0

	for ; v != 0; v &= v - 1 {
		n++
	}

	return n
}
