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
	"errors"
)

// Secure pagetable bootstrap and SMMU programming.

// RestoreSecConfigAvailable reports whether the firmware can restore a
// device's secure configuration.
func (s *SCM) RestoreSecConfigAvailable() bool {
	return s.IsCallAvailable(SvcMP, MPRestoreSecConfig)
}

// RestoreSecConfig restores the secure configuration of the given device.
func (s *SCM) RestoreSecConfig(deviceID, spare uint32) error {
	res, err := s.Call(&Desc{
		Svc:   SvcMP,
		Cmd:   MPRestoreSecConfig,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(deviceID), uint64(spare)},
	})

	if err != nil {
		return err
	}

	return firmwareStatus(res)
}

// IOMMUSecurePagetableSize returns the allocation size the secure
// pagetable arena must have. The second result word carries the call
// status.
func (s *SCM) IOMMUSecurePagetableSize(spare uint32) (int, error) {
	res, err := s.Call(&Desc{
		Svc:   SvcMP,
		Cmd:   MPIOMMUSecurePtblSize,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(spare)},
	})

	if err != nil {
		return 0, err
	}

	if res[1] != 0 {
		return 0, FirmwareError(res[1])
	}

	return int(res[0]), nil
}

// IOMMUSecurePagetableInit hands the pagetable arena to the secure side. A
// permission error means a previous initialization already took and is
// reported as success.
func (s *SCM) IOMMUSecurePagetableInit(addr uint64, size, spare uint32) error {
	_, err := s.Call(&Desc{
		Svc:   SvcMP,
		Cmd:   MPIOMMUSecurePtblInit,
		Owner: OwnerSIP,
		Args:  []uint64{addr, uint64(size), uint64(spare)},
		Types: []ArgType{ArgRW, ArgValue, ArgValue},
	})

	if errors.Is(err, ErrPermission) {
		return nil
	}

	return err
}

// IOMMUSetCPPoolSize sizes the secure side's context pool.
func (s *SCM) IOMMUSetCPPoolSize(spare, size uint32) error {
	_, err := s.Call(&Desc{
		Svc:   SvcMP,
		Cmd:   MPIOMMUSetCPPoolSize,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(size), uint64(spare)},
	})

	return err
}

// MemProtectVideoVar carves out the secure video pixel and non-pixel
// memory ranges.
func (s *SCM) MemProtectVideoVar(cpStart, cpSize, cpNonpixelStart, cpNonpixelSize uint32) error {
	res, err := s.Call(&Desc{
		Svc:   SvcMP,
		Cmd:   MPVideoVar,
		Owner: OwnerSIP,
		Args: []uint64{
			uint64(cpStart), uint64(cpSize),
			uint64(cpNonpixelStart), uint64(cpNonpixelSize),
		},
	})

	if err != nil {
		return err
	}

	return firmwareStatus(res)
}

// IOMMUSetPagetableFormat selects the pagetable format of a secure SMMU
// context bank.
func (s *SCM) IOMMUSetPagetableFormat(secID, ctxBankNum, format uint32) error {
	_, err := s.Call(&Desc{
		Svc:   SvcSMMUProgram,
		Cmd:   SMMUPTFormat,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(secID), uint64(ctxBankNum), uint64(format)},
	})

	return err
}

// QSMMU500WaitSafeToggle flips the SMMU wait-safe logic. Atomic, the
// errata path invokes it with interrupts masked.
func (s *SCM) QSMMU500WaitSafeToggle(enable bool) error {
	arg := uint64(0)

	if enable {
		arg = 1
	}

	_, err := s.CallAtomic(&Desc{
		Svc:   SvcSMMUProgram,
		Cmd:   SMMUConfigErrata1,
		Owner: OwnerSIP,
		Args:  []uint64{smmuErrataClientAll, arg},
	})

	return err
}
