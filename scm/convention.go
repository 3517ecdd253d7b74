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
	"math/bits"
)

// Convention identifies the calling convention spoken by the resident
// firmware.
type Convention int

const (
	ConventionUnknown Convention = iota
	ConventionSMC32
	ConventionSMC64
	ConventionLegacy
)

func (c Convention) String() string {
	switch c {
	case ConventionSMC32:
		return "smc arm 32"
	case ConventionSMC64:
		return "smc arm 64"
	case ConventionLegacy:
		return "smc legacy"
	}

	return "unknown"
}

// host64 selects the probe order at compile time, 32-bit hosts never probe
// the 64-bit convention.
const host64 = bits.UintSize == 64

// Platform variants whose firmware lacks the availability probe but speaks
// the wide convention; it is adopted without probing on these.
var forcedSMC64Platforms = []string{
	"qcom,scm-sc7180",
}

// ResolvedConvention returns the negotiated convention, probing the
// firmware on first use, and whether it was forced by a platform quirk
// rather than probed.
func (s *SCM) ResolvedConvention() (Convention, bool) {
	conv := s.resolveConvention()

	s.convMu.Lock()
	defer s.convMu.Unlock()

	return conv, s.forced
}

// resolveConvention negotiates the calling convention on first use. The
// probe runs at most once per instance; concurrent callers serialize on the
// lock and observe the cached result.
func (s *SCM) resolveConvention() Convention {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	if s.convention != ConventionUnknown {
		return s.convention
	}

	conv, forced := s.probeConvention()

	s.convention = conv
	s.forced = forced

	suffix := ""

	if forced {
		suffix = " (forced)"
	}

	log.Printf("SCM using %s calling convention%s", conv, suffix)

	return conv
}

// probeConvention asks the firmware whether it implements the availability
// probe itself, encoded per candidate convention. The probe uses atomic
// calls so that resolution triggered from a non-suspending context cannot
// sleep.
func (s *SCM) probeConvention() (Convention, bool) {
	desc := &Desc{
		Svc:   SvcInfo,
		Cmd:   InfoIsCallAvailable,
		Owner: OwnerSIP,
		Args: []uint64{
			smcFunctionNumber(SvcInfo, InfoIsCallAvailable) | OwnerSIP<<smcOwnerShift,
		},
	}

	if host64 {
		if res, err := s.smcCall(desc, ConventionSMC64, true); err == nil && res[0] == 1 {
			return ConventionSMC64, false
		}

		for _, compatible := range forcedSMC64Platforms {
			if s.compatible == compatible {
				return ConventionSMC64, true
			}
		}
	}

	if res, err := s.smcCall(desc, ConventionSMC32, true); err == nil && res[0] == 1 {
		return ConventionSMC32, false
	}

	return ConventionLegacy, false
}
