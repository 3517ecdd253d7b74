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

	"github.com/tee-dev/secure-channel/secmem"
)

// Limits management hardware, the thermal mitigation engine programmed
// through the secure side.

// LMHAvailable reports whether the firmware implements limits hardware
// node programming.
func (s *SCM) LMHAvailable() bool {
	return s.IsCallAvailable(SvcLMH, LMHLimitDCVSH)
}

// LMHProfileChange switches the active limits hardware profile.
func (s *SCM) LMHProfileChange(profileID uint32) error {
	_, err := s.Call(&Desc{
		Svc:   SvcLMH,
		Cmd:   LMHProfileChange,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(profileID)},
	})

	return err
}

// LMHDCVSH programs a limits hardware node through its five word payload:
// function, register and value, each preceded by its word count.
func (s *SCM) LMHDCVSH(payloadFn, payloadReg, payloadVal uint32, limitNode uint64, nodeID uint32, version uint64) error {
	const payloadLen = 5 * 4

	buf, err := s.mem.Acquire(payloadLen, secmem.Normal)

	if err != nil {
		return err
	}
	defer s.mem.Release(buf)

	le := binary.LittleEndian

	le.PutUint32(buf.Data[0:], payloadFn)
	le.PutUint32(buf.Data[4:], 0)
	le.PutUint32(buf.Data[8:], payloadReg)
	le.PutUint32(buf.Data[12:], 1)
	le.PutUint32(buf.Data[16:], payloadVal)

	buf.Flush()

	_, err = s.Call(&Desc{
		Svc:   SvcLMH,
		Cmd:   LMHLimitDCVSH,
		Owner: OwnerSIP,
		Args: []uint64{
			buf.Addr, payloadLen,
			limitNode, uint64(nodeID), version,
		},
		Types: []ArgType{ArgRO, ArgValue, ArgValue, ArgValue, ArgValue},
	})

	return err
}
