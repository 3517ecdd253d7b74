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
	"log"
)

// Call dispatches desc over the negotiated convention and waits for
// completion. It may sleep and must only be used from goroutines that can
// block.
func (s *SCM) Call(desc *Desc) (Result, error) {
	switch conv := s.resolveConvention(); conv {
	case ConventionSMC32, ConventionSMC64:
		return s.smcCall(desc, conv, false)
	case ConventionLegacy:
		return s.legacyCall(desc)
	default:
		log.Printf("SCM unknown calling convention %d", conv)
		return Result{}, ErrTransport
	}
}

// CallAtomic dispatches desc without ever sleeping, for use from
// non-suspending contexts such as interrupt dispatch.
func (s *SCM) CallAtomic(desc *Desc) (Result, error) {
	switch conv := s.resolveConvention(); conv {
	case ConventionSMC32, ConventionSMC64:
		return s.smcCall(desc, conv, true)
	case ConventionLegacy:
		return s.legacyCallAtomic(desc)
	default:
		log.Printf("SCM unknown calling convention %d", conv)
		return Result{}, ErrTransport
	}
}
