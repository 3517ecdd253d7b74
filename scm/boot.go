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

// Cold and warm boot entry point configuration.

const bootMaxCPUs = 4

// Per-CPU flag bits of the legacy single-cluster boot address call.
var (
	bootColdBits = [bootMaxCPUs]uint64{0, 1 << 0, 1 << 3, 1 << 5}
	bootWarmBits = [bootMaxCPUs]uint64{1 << 2, 1 << 1, 1 << 4, 1 << 6}
)

// Multi-cluster boot address call flags.
const (
	bootMCFlagColdBoot = 1 << 1
	bootMCFlagWarmBoot = 1 << 2
)

// the multi-cluster call takes CPU selection bitmaps per affinity level;
// all ones selects every CPU
const bootMCAllCPUs = ^uint64(0)

// CPU power down flush flags.
const (
	FlushCacheAll = 0x0
	FlushCacheSec = 0x1
	flushFlagMask = 0x3
)

// SetWarmBootAddr sets the entry point a CPU takes when leaving power
// collapse, falling back to the legacy per-CPU call when the multi-cluster
// variant is unavailable.
func (s *SCM) SetWarmBootAddr(entry uint64) error {
	if err := s.setBootAddrMC(entry, bootMCFlagWarmBoot); err == nil {
		return nil
	}

	return s.setBootAddr(entry, bootWarmBits)
}

// SetColdBootAddr sets the entry point secondary CPUs take out of reset.
func (s *SCM) SetColdBootAddr(entry uint64) error {
	if err := s.setBootAddrMC(entry, bootMCFlagColdBoot); err == nil {
		return nil
	}

	return s.setBootAddr(entry, bootColdBits)
}

func (s *SCM) setBootAddrMC(entry uint64, flags uint64) error {
	if s.resolveConvention() == ConventionLegacy {
		return ErrNotSupported
	}

	_, err := s.Call(&Desc{
		Svc:   SvcBoot,
		Cmd:   BootSetAddrMC,
		Owner: OwnerSIP,
		Args: []uint64{
			entry,
			bootMCAllCPUs, bootMCAllCPUs, bootMCAllCPUs, bootMCAllCPUs,
			flags,
		},
	})

	return err
}

func (s *SCM) setBootAddr(entry uint64, cpuBits [bootMaxCPUs]uint64) error {
	cpus := s.cpus

	if cpus <= 0 {
		cpus = 1
	}

	if cpus > bootMaxCPUs {
		return fmt.Errorf("%w: %d cpus", ErrInvalid, cpus)
	}

	var flags uint64

	for cpu := 0; cpu < cpus; cpu++ {
		flags |= cpuBits[cpu]
	}

	_, err := s.CallAtomic(&Desc{
		Svc:   SvcBoot,
		Cmd:   BootSetAddr,
		Owner: OwnerSIP,
		Args:  []uint64{flags, entry},
	})

	return err
}

// CPUPowerDown powers down the calling CPU, flushing caches per flags. The
// call does not return on hardware when the power collapse takes.
func (s *SCM) CPUPowerDown(flags uint32) {
	_, _ = s.CallAtomic(&Desc{
		Svc:   SvcBoot,
		Cmd:   BootTerminatePC,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(flags & flushFlagMask)},
	})
}

// SetRemoteState transitions a remote processor's state machine, returning
// the firmware's state word.
func (s *SCM) SetRemoteState(state, id uint32) (uint64, error) {
	res, err := s.Call(&Desc{
		Svc:   SvcBoot,
		Cmd:   BootSetRemoteState,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(state), uint64(id)},
	})

	if err != nil {
		return 0, err
	}

	return res[0], nil
}
