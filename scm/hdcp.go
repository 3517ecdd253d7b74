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
	"fmt"
)

// HDCP register access through the secure side.

// HDCPMaxRequests is the number of register writes one invoke carries.
const HDCPMaxRequests = 5

// HDCPRequest is one register write of an HDCP invoke batch.
type HDCPRequest struct {
	Addr uint64
	Val  uint32
}

// HDCPAvailable reports whether the firmware implements the HDCP service.
// The probe reaches the HDCP hardware and requires clocks.
func (s *SCM) HDCPAvailable() bool {
	if s.clk.enable() != nil {
		return false
	}
	defer s.clk.disable()

	return s.IsCallAvailable(SvcHDCP, HDCPInvoke)
}

// HDCPInvoke issues up to five HDCP register writes in a single call and
// returns the firmware response word. Missing requests are padded with
// zero writes to the fixed arity the call requires.
func (s *SCM) HDCPInvoke(reqs []HDCPRequest) (uint32, error) {
	if len(reqs) > HDCPMaxRequests {
		return 0, fmt.Errorf("%w: %d requests", ErrInvalid, len(reqs))
	}

	args := make([]uint64, 2*HDCPMaxRequests)

	for i, r := range reqs {
		args[2*i] = r.Addr
		args[2*i+1] = uint64(r.Val)
	}

	if err := s.clk.enable(); err != nil {
		return 0, err
	}
	defer s.clk.disable()

	res, err := s.Call(&Desc{
		Svc:   SvcHDCP,
		Cmd:   HDCPInvoke,
		Owner: OwnerSIP,
		Args:  args,
	})

	if err != nil {
		return 0, err
	}

	return uint32(res[0]), nil
}
