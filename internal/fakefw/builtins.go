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

package fakefw

import (
	"encoding/binary"

	"github.com/tee-dev/secure-channel/scm"
)

// Peripheral authentication states.
const (
	pasNone = iota
	pasInitialized
	pasPrepared
	pasRunning
)

const (
	statusOK        = 0
	statusError     = -1
	statusEInvalArg = -2
	statusEPerm     = -6
)

// Key transform salts. The emulator derives deterministic outputs from its
// inputs so tests can predict them, see Transform.
const (
	SaltDerive   = 0x5a
	SaltGenerate = 0xa7
	SaltPrepare  = 0x3c
	SaltImport   = 0xc3
)

// Transform is the deterministic key transform the emulator applies: n
// output bytes, each the input byte at the same position modulo its length
// xored with salt, or position xor salt when in is empty.
func Transform(in []byte, n int, salt byte) []byte {
	out := make([]byte, n)

	for i := range out {
		if len(in) > 0 {
			out[i] = in[i%len(in)] ^ salt
		} else {
			out[i] = byte(i) ^ salt
		}
	}

	return out
}

// install registers a builtin and marks it available. Handlers run with
// the firmware lock held and access state directly.
func (f *Firmware) install(svc, cmd uint32, h Handler) {
	k := key{svc, cmd}
	f.handlers[k] = h
	f.available[k] = true
}

func (f *Firmware) installBuiltins() {
	f.install(scm.SvcInfo, scm.InfoIsCallAvailable, f.infoIsCallAvailable)
	f.install(scm.SvcInfo, scm.InfoGetFeatVersion, func(c *Call) (int64, [3]uint64) {
		return statusOK, [3]uint64{uint64(f.FeatVersion)}
	})

	f.install(scm.SvcWaitQueue, scm.WaitQueueGetContext, f.waitQueueGetContext)
	f.install(scm.SvcWaitQueue, scm.WaitQueueResume, f.waitQueueResume)

	f.install(scm.SvcPIL, scm.PILInitImage, f.pasInitImage)
	f.install(scm.SvcPIL, scm.PILMemSetup, f.pasTransition(pasPrepared))
	f.install(scm.SvcPIL, scm.PILAuthAndReset, f.pasTransition(pasRunning))
	f.install(scm.SvcPIL, scm.PILShutdown, f.pasTransition(pasNone))
	f.install(scm.SvcPIL, scm.PILIsSupported, func(c *Call) (int64, [3]uint64) {
		return statusOK, [3]uint64{1}
	})
	f.install(scm.SvcPIL, scm.PILMSSReset, func(c *Call) (int64, [3]uint64) {
		return statusOK, [3]uint64{0}
	})

	f.install(scm.SvcIO, scm.IORead, func(c *Call) (int64, [3]uint64) {
		return statusOK, [3]uint64{uint64(f.regs[c.Args[0]])}
	})
	f.install(scm.SvcIO, scm.IOWrite, func(c *Call) (int64, [3]uint64) {
		f.regs[c.Args[0]] = uint32(c.Args[1])
		return statusOK, [3]uint64{}
	})

	f.install(scm.SvcMP, scm.MPAssign, f.assignMem)
	f.install(scm.SvcMP, scm.MPRestoreSecConfig, f.ok)
	f.install(scm.SvcMP, scm.MPVideoVar, f.ok)
	f.install(scm.SvcMP, scm.MPIOMMUSetCPPoolSize, f.ok)
	f.install(scm.SvcMP, scm.MPIOMMUSecurePtblSize, func(c *Call) (int64, [3]uint64) {
		return statusOK, [3]uint64{uint64(f.PtblSize), 0}
	})
	f.install(scm.SvcMP, scm.MPIOMMUSecurePtblInit, func(c *Call) (int64, [3]uint64) {
		if f.ptblInit {
			return statusEPerm, [3]uint64{}
		}

		f.ptblInit = true

		return statusOK, [3]uint64{}
	})

	f.install(scm.SvcES, scm.ESConfigSetICEKey, f.iceSetKey)
	f.install(scm.SvcES, scm.ESInvalidateICEKey, func(c *Call) (int64, [3]uint64) {
		delete(f.iceKeys, uint32(c.Args[0]))
		return statusOK, [3]uint64{}
	})
	f.install(scm.SvcES, scm.ESDeriveSWSecret, f.iceTransform(0, 2, SaltDerive))
	f.install(scm.SvcES, scm.ESGenerateICEKey, f.iceGenerateKey)
	f.install(scm.SvcES, scm.ESPrepareICEKey, f.iceTransform(0, 2, SaltPrepare))
	f.install(scm.SvcES, scm.ESImportICEKey, f.iceTransform(0, 2, SaltImport))

	f.install(scm.SvcBoot, scm.BootSetDloadMode, func(c *Call) (int64, [3]uint64) {
		f.dloadArmed = len(c.Args) > 1 && c.Args[1] != 0
		return statusOK, [3]uint64{}
	})
	f.install(scm.SvcBoot, scm.BootSDIConfig, func(c *Call) (int64, [3]uint64) {
		f.sdiArgs = [2]uint64{c.Args[0], c.Args[1]}
		return statusOK, [3]uint64{0}
	})
	f.install(scm.SvcBoot, scm.BootSetAddrMC, f.bootSetAddrMC)
	f.install(scm.SvcBoot, scm.BootSetAddr, func(c *Call) (int64, [3]uint64) {
		f.warmEntry = c.Args[1]
		return statusOK, [3]uint64{}
	})
	f.install(scm.SvcBoot, scm.BootTerminatePC, func(c *Call) (int64, [3]uint64) {
		f.powerDowns++
		return statusOK, [3]uint64{}
	})
	f.install(scm.SvcBoot, scm.BootSetRemoteState, func(c *Call) (int64, [3]uint64) {
		return statusOK, [3]uint64{0}
	})

	f.install(scm.SvcHDCP, scm.HDCPInvoke, func(c *Call) (int64, [3]uint64) {
		for i := 0; i+1 < len(c.Args); i += 2 {
			if c.Args[i] != 0 {
				f.regs[c.Args[i]] = uint32(c.Args[i+1])
			}
		}

		return statusOK, [3]uint64{0}
	})

	f.install(scm.SvcOCMem, scm.OCMemLock, f.ok)
	f.install(scm.SvcOCMem, scm.OCMemUnlock, f.ok)

	f.install(scm.SvcLMH, scm.LMHProfileChange, f.ok)
	f.install(scm.SvcLMH, scm.LMHLimitDCVSH, f.ok)

	f.install(scm.SvcSMMUProgram, scm.SMMUPTFormat, f.ok)
	f.install(scm.SvcSMMUProgram, scm.SMMUConfigErrata1, f.ok)
}

func (f *Firmware) ok(c *Call) (int64, [3]uint64) {
	return statusOK, [3]uint64{}
}

func (f *Firmware) infoIsCallAvailable(c *Call) (int64, [3]uint64) {
	if len(c.Args) == 0 {
		return statusEInvalArg, [3]uint64{}
	}

	var k key

	if c.Legacy {
		k = key{uint32(c.Args[0] >> 10), uint32(c.Args[0]) & 0x3ff}
	} else {
		k = key{uint32(c.Args[0]>>8) & 0xff, uint32(c.Args[0]) & 0xff}
	}

	if f.available[k] {
		return statusOK, [3]uint64{1}
	}

	return statusOK, [3]uint64{0}
}

func (f *Firmware) waitQueueGetContext(c *Call) (int64, [3]uint64) {
	if len(f.pendingWakes) == 0 {
		return statusError, [3]uint64{}
	}

	w := f.pendingWakes[0]
	f.pendingWakes = f.pendingWakes[1:]

	more := uint64(0)

	if len(f.pendingWakes) > 0 {
		more = 1
	}

	return statusOK, [3]uint64{uint64(w.ctx), uint64(w.flags), more}
}

func (f *Firmware) waitQueueResume(c *Call) (int64, [3]uint64) {
	token := c.Args[0]
	parked := f.parked[token]

	if parked == nil {
		return statusEInvalArg, [3]uint64{}
	}

	delete(f.parked, token)

	h, ok := f.handlers[key{parked.Svc, parked.Cmd}]

	if !ok {
		return statusUnknownID, [3]uint64{}
	}

	return h(parked)
}

func (f *Firmware) pasInitImage(c *Call) (int64, [3]uint64) {
	if len(c.Args) < 2 || c.Args[1] == 0 {
		return statusEInvalArg, [3]uint64{}
	}

	f.pasState[uint32(c.Args[0])] = pasInitialized

	return statusOK, [3]uint64{0}
}

func (f *Firmware) pasTransition(state int) Handler {
	return func(c *Call) (int64, [3]uint64) {
		f.pasState[uint32(c.Args[0])] = state
		return statusOK, [3]uint64{0}
	}
}

func (f *Firmware) iceSetKey(c *Call) (int64, [3]uint64) {
	index := uint32(c.Args[0])
	k := f.mem(c.Args[1], int(c.Args[2]))

	f.iceKeys[index] = append([]byte(nil), k...)

	return statusOK, [3]uint64{}
}

func (f *Firmware) iceGenerateKey(c *Call) (int64, [3]uint64) {
	out := f.mem(c.Args[0], int(c.Args[1]))
	copy(out, Transform(nil, len(out), SaltGenerate))

	return statusOK, [3]uint64{}
}

// iceTransform reads the input buffer argument pair at in, applies the
// salted transform and writes the output buffer argument pair at out.
func (f *Firmware) iceTransform(in, out int, salt byte) Handler {
	return func(c *Call) (int64, [3]uint64) {
		src := f.mem(c.Args[in], int(c.Args[in+1]))
		dst := f.mem(c.Args[out], int(c.Args[out+1]))

		copy(dst, Transform(src, len(dst), salt))

		return statusOK, [3]uint64{}
	}
}

func (f *Firmware) assignMem(c *Call) (int64, [3]uint64) {
	if len(c.Args) < 6 {
		return statusEInvalArg, [3]uint64{}
	}

	le := binary.LittleEndian

	region := f.mem(c.Args[0], 16)
	src := f.mem(c.Args[2], int(c.Args[3]))
	dest := f.mem(c.Args[4], int(c.Args[5]))

	if len(src)%4 != 0 || len(dest)%24 != 0 {
		return statusEInvalArg, [3]uint64{}
	}

	rec := AssignRecord{
		Region: [2]uint64{le.Uint64(region[0:]), le.Uint64(region[8:])},
	}

	for off := 0; off < len(src); off += 4 {
		id := le.Uint32(src[off:])

		if id >= 64 {
			return statusEInvalArg, [3]uint64{}
		}

		rec.Src = append(rec.Src, id)
	}

	var mask uint64

	for off := 0; off < len(dest); off += 24 {
		vm := scm.VMPermission{
			VMID: le.Uint32(dest[off:]),
			Perm: scm.Perm(le.Uint32(dest[off+4:])),
		}

		rec.Dest = append(rec.Dest, vm)
		mask |= 1 << (vm.VMID & 63)
	}

	f.LastAssign = rec
	f.owners[rec.Region[0]] = mask

	return statusOK, [3]uint64{0}
}

func (f *Firmware) bootSetAddrMC(c *Call) (int64, [3]uint64) {
	if len(c.Args) < 6 {
		return statusEInvalArg, [3]uint64{}
	}

	switch {
	case c.Args[5]&(1<<2) != 0:
		f.warmEntry = c.Args[0]
	case c.Args[5]&(1<<1) != 0:
		f.coldEntry = c.Args[0]
	}

	return statusOK, [3]uint64{}
}
