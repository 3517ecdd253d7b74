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

// On-chip memory lock management. These calls predate the owner tag and
// are issued without one.

// OCMemClient identifies the subsystem a locked range is granted to.
type OCMemClient uint32

const (
	OCMemUnused OCMemClient = iota
	OCMemGraphics
	OCMemVideo
	OCMemLPAudio
	OCMemSensors
	OCMemOtherOS
	OCMemDebug
)

// OCMemLockAvailable reports whether the firmware implements on-chip
// memory range locking.
func (s *SCM) OCMemLockAvailable() bool {
	return s.IsCallAvailable(SvcOCMem, OCMemLock)
}

// OCMemLockRange locks an on-chip memory range to a client.
func (s *SCM) OCMemLockRange(client OCMemClient, offset, size, mode uint32) error {
	_, err := s.Call(&Desc{
		Svc: SvcOCMem,
		Cmd: OCMemLock,
		Args: []uint64{
			uint64(client), uint64(offset), uint64(size), uint64(mode),
		},
	})

	return err
}

// OCMemUnlockRange releases a previously locked on-chip memory range.
func (s *SCM) OCMemUnlockRange(client OCMemClient, offset, size uint32) error {
	_, err := s.Call(&Desc{
		Svc:  SvcOCMem,
		Cmd:  OCMemUnlock,
		Args: []uint64{uint64(client), uint64(offset), uint64(size)},
	})

	return err
}
