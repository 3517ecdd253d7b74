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

// Secure register access, for peripheral registers only writable from the
// secure side. Both operations are atomic so they remain usable from
// non-suspending contexts.

// ReadRegister reads the register at the given bus address through the
// secure side.
func (s *SCM) ReadRegister(addr uint64) (uint32, error) {
	res, err := s.CallAtomic(&Desc{
		Svc:   SvcIO,
		Cmd:   IORead,
		Owner: OwnerSIP,
		Args:  []uint64{addr},
	})

	if err != nil {
		return 0, err
	}

	return uint32(res[0]), nil
}

// WriteRegister writes the register at the given bus address through the
// secure side.
func (s *SCM) WriteRegister(addr uint64, val uint32) error {
	_, err := s.CallAtomic(&Desc{
		Svc:   SvcIO,
		Cmd:   IOWrite,
		Owner: OwnerSIP,
		Args:  []uint64{addr, uint64(val)},
	})

	return err
}
