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

	"github.com/coreos/go-semver/semver"
)

// IsCallAvailable asks the firmware whether it implements the given service
// and command pair. The queried identifier is encoded per the negotiated
// convention. Probe failures report unavailability, never an error.
func (s *SCM) IsCallAvailable(svc, cmd uint32) bool {
	desc := &Desc{
		Svc:   SvcInfo,
		Cmd:   InfoIsCallAvailable,
		Owner: OwnerSIP,
	}

	switch conv := s.resolveConvention(); conv {
	case ConventionSMC32, ConventionSMC64:
		desc.Args = []uint64{smcFunctionNumber(svc, cmd) | OwnerSIP<<smcOwnerShift}
	case ConventionLegacy:
		desc.Args = []uint64{legacyFunctionID(svc, cmd)}
	default:
		log.Printf("SCM unknown calling convention %d", conv)
		return false
	}

	res, err := s.Call(desc)

	return err == nil && res[0] != 0
}

// Feature version field widths, packed major.minor.patch.
const (
	featMinorShift = 12
	featMajorShift = 22
	featMinorMask  = 0x3ff
	featPatchMask  = 0xfff
)

// FeatureVersion reports the firmware revision of the given feature
// identifier as a semantic version.
func (s *SCM) FeatureVersion(feature uint32) (semver.Version, error) {
	res, err := s.Call(&Desc{
		Svc:   SvcInfo,
		Cmd:   InfoGetFeatVersion,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(feature)},
	})

	if err != nil {
		return semver.Version{}, err
	}

	v := uint32(res[0])

	return semver.Version{
		Major: int64(v >> featMajorShift),
		Minor: int64(v >> featMinorShift & featMinorMask),
		Patch: int64(v & featPatchMask),
	}, nil
}
