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

// Package fakefw emulates the secure world endpoint of the call gate. It
// decodes all three calling conventions, implements the information, wait
// queue, peripheral authentication, memory protection, inline crypto, IO
// and boot service contracts, and records every decoded call. Package tests
// and the scmdiag harness run the dispatch layer against it.
package fakefw

import (
	"encoding/binary"
	"sync"

	"github.com/tee-dev/secure-channel/scm"
)

// Mode selects which calling conventions the emulated firmware speaks.
type Mode int

const (
	// SMC64 firmware answers both SMC conventions.
	SMC64 Mode = iota
	// SMC32 firmware rejects 64-bit function identifiers.
	SMC32
	// Legacy firmware only decodes the buffered command convention.
	Legacy
)

// Wake flags delivered by the wait queue context query.
const (
	WakeOne = 1 << 0
	WakeAll = 1 << 1
)

// Call is one decoded firmware transaction.
type Call struct {
	Legacy bool
	SMC64  bool
	Owner  uint32
	Svc    uint32
	Cmd    uint32
	Args   []uint64
	Types  []scm.ArgType
}

// Handler implements one service command. It returns the status word and
// up to three result words.
type Handler func(c *Call) (status int64, res [3]uint64)

// AssignRecord is the parsed payload of the last memory reassignment call.
type AssignRecord struct {
	Region [2]uint64
	Src    []uint32
	Dest   []scm.VMPermission
}

type key struct {
	svc, cmd uint32
}

type wake struct {
	ctx   uint32
	flags uint32
}

// Firmware is the emulated secure world. The zero value is not usable, see
// New.
type Firmware struct {
	mu sync.Mutex

	mode Mode
	mem  func(addr uint64, size int) []byte

	// IRQ, when set, is raised on its own goroutine whenever a wake
	// becomes pending.
	IRQ func()

	// FeatVersion is returned by the feature version query.
	FeatVersion uint32

	// PtblSize is returned by the secure pagetable size query.
	PtblSize int

	handlers  map[key]Handler
	available map[key]bool

	sleepArm map[key]int
	busyArm  map[key]int

	pendingWakes []wake
	parked       map[uint64]*Call
	parkedSeq    uint64

	regs     map[uint64]uint32
	pasState map[uint32]int
	owners   map[uint64]uint64
	iceKeys  map[uint32][]byte

	ptblInit   bool
	dloadArmed bool
	sdiArgs    [2]uint64
	warmEntry  uint64
	coldEntry  uint64
	powerDowns int

	// LastAssign holds the parsed sections of the last reassignment.
	LastAssign AssignRecord

	// Calls records every decoded transaction in order.
	Calls []Call
}

// New returns an emulated firmware speaking the given conventions, reading
// and writing call payloads through mem, which resolves a bus address to
// its backing bytes.
func New(mode Mode, mem func(addr uint64, size int) []byte) *Firmware {
	f := &Firmware{
		mode:        mode,
		mem:         mem,
		FeatVersion: 1<<22 | 2<<12 | 3,
		PtblSize:    0x4000,
		handlers:    make(map[key]Handler),
		available:   make(map[key]bool),
		sleepArm:    make(map[key]int),
		busyArm:     make(map[key]int),
		parked:      make(map[uint64]*Call),
		regs:        make(map[uint64]uint32),
		pasState:    make(map[uint32]int),
		owners:      make(map[uint64]uint64),
		iceKeys:     make(map[uint32][]byte),
	}

	f.installBuiltins()

	return f
}

// Handle installs or overrides the handler for a service command and marks
// it available.
func (f *Firmware) Handle(svc, cmd uint32, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key{svc, cmd}
	f.handlers[k] = h
	f.available[k] = true
}

// Unavailable hides a service command from the availability probe and
// drops its handler.
func (f *Firmware) Unavailable(svc, cmd uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key{svc, cmd}
	delete(f.handlers, k)
	delete(f.available, k)
}

// ArmSleep makes the next n dispatches of a service command return the
// sleep status, parking the call until its wait context is resumed.
func (f *Firmware) ArmSleep(svc, cmd uint32, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sleepArm[key{svc, cmd}] = n
}

// ArmBusy makes the next n dispatches of a service command report
// transient context exhaustion.
func (f *Firmware) ArmBusy(svc, cmd uint32, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.busyArm[key{svc, cmd}] = n
}

// Invoke implements the conduit contract.
func (f *Firmware) Invoke(args [8]uint64) [4]uint64 {
	f.mu.Lock()
	ret, irq := f.invoke(args)
	f.mu.Unlock()

	if irq && f.IRQ != nil {
		go f.IRQ()
	}

	return ret
}

// Register returns the current value of an emulated secure register.
func (f *Firmware) Register(addr uint64) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.regs[addr]
}

// Owners returns the owner bitmask recorded for a reassigned region.
func (f *Firmware) Owners(addr uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.owners[addr]
}

// ICEKey returns a copy of the key programmed in the given keyslot.
func (f *Firmware) ICEKey(index uint32) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]byte(nil), f.iceKeys[index]...)
}

// DownloadModeArmed reports whether the dedicated call armed download
// mode.
func (f *Firmware) DownloadModeArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.dloadArmed
}

// SDIDisabled reports whether the debug image path was disabled.
func (f *Firmware) SDIDisabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sdiArgs == [2]uint64{1, 0}
}

// WarmEntry returns the recorded warm boot entry point.
func (f *Firmware) WarmEntry() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.warmEntry
}

func (f *Firmware) invoke(args [8]uint64) ([4]uint64, bool) {
	if f.mode == Legacy {
		return f.invokeLegacy(args)
	}

	return f.invokeSMC(args)
}

const (
	smcConv64     = 1 << 30
	smcOwnerShift = 24

	legacyDispatch       = 1
	legacyClassRegister  = 0x2 << 8
	legacyCmdHeaderLen   = 16
	legacyRespHeaderLen  = 12
	legacyMaxResults     = 3
	legacyRespComplete   = 1
	legacyRespPayloadOff = legacyRespHeaderLen

	statusUnknownID  = -1
	statusV2Busy     = -12
	statusWaitqSleep = -64
)

func fail(status int64) [4]uint64 {
	return [4]uint64{uint64(status)}
}

func (f *Firmware) invokeSMC(args [8]uint64) ([4]uint64, bool) {
	fnid := args[0]
	smc64 := fnid&smcConv64 != 0

	if smc64 && f.mode != SMC64 {
		return fail(statusUnknownID), false
	}

	arginfo := args[1]
	n := int(arginfo & 0xf)

	types := make([]scm.ArgType, n)

	for i := range types {
		types[i] = scm.ArgType(arginfo >> (4 + 2*i) & 0x3)
	}

	vals := make([]uint64, n)

	if n <= 4 {
		copy(vals, args[2:2+n])
	} else {
		copy(vals[:3], args[2:5])

		width := 4

		if smc64 {
			width = 8
		}

		ext := f.mem(args[5], (n-3)*width)

		for i := 3; i < n; i++ {
			off := (i - 3) * width

			if width == 4 {
				vals[i] = uint64(binary.LittleEndian.Uint32(ext[off:]))
			} else {
				vals[i] = binary.LittleEndian.Uint64(ext[off:])
			}
		}
	}

	c := &Call{
		SMC64: smc64,
		Owner: uint32(fnid>>smcOwnerShift) & 0x3f,
		Svc:   uint32(fnid>>8) & 0xff,
		Cmd:   uint32(fnid) & 0xff,
		Args:  vals,
		Types: types,
	}

	r, irq := f.dispatch(c, true)

	return [4]uint64{uint64(r.status), r.res[0], r.res[1], r.res[2]}, irq
}

func (f *Firmware) invokeLegacy(args [8]uint64) ([4]uint64, bool) {
	switch {
	case args[0] == legacyDispatch:
		return f.legacyBuffered(args[2])
	case args[0]&legacyClassRegister != 0:
		return f.legacyAtomic(args)
	}

	return fail(statusUnknownID), false
}

func (f *Firmware) legacyBuffered(addr uint64) ([4]uint64, bool) {
	hdr := f.mem(addr, legacyCmdHeaderLen)

	le := binary.LittleEndian
	total := le.Uint32(hdr[0:])
	argOff := le.Uint32(hdr[4:])
	respOff := le.Uint32(hdr[8:])
	id := le.Uint32(hdr[12:])

	buf := f.mem(addr, int(total))

	n := int(respOff-argOff) / 4
	vals := make([]uint64, n)

	for i := range vals {
		vals[i] = uint64(le.Uint32(buf[int(argOff)+i*4:]))
	}

	c := &Call{
		Legacy: true,
		Svc:    id >> 10,
		Cmd:    id & 0x3ff,
		Args:   vals,
	}

	r, irq := f.dispatch(c, false)

	le.PutUint32(buf[respOff+0:], legacyRespHeaderLen+legacyMaxResults*4)
	le.PutUint32(buf[respOff+4:], legacyRespPayloadOff)

	for i := 0; i < legacyMaxResults; i++ {
		le.PutUint32(buf[int(respOff)+legacyRespPayloadOff+i*4:], uint32(r.res[i]))
	}

	// completion flag written last
	le.PutUint32(buf[respOff+8:], legacyRespComplete)

	return fail(r.status), irq
}

func (f *Firmware) legacyAtomic(args [8]uint64) ([4]uint64, bool) {
	n := int(args[0] & 0xf)
	id := uint32(args[0] >> 12)

	vals := make([]uint64, n)
	copy(vals, args[2:2+n])

	c := &Call{
		Legacy: true,
		Svc:    id >> 10,
		Cmd:    id & 0x3ff,
		Args:   vals,
	}

	r, irq := f.dispatch(c, false)

	return [4]uint64{uint64(r.status), r.res[0], r.res[1], r.res[2]}, irq
}

type reply struct {
	status int64
	res    [3]uint64
}

// dispatch records the call and routes it to its handler. On the SMC
// conventions an armed command is parked instead: the caller is told to
// sleep and a wake is queued for the wait context.
func (f *Firmware) dispatch(c *Call, canSleep bool) (reply, bool) {
	f.Calls = append(f.Calls, *c)

	k := key{c.Svc, c.Cmd}

	if f.busyArm[k] > 0 {
		f.busyArm[k]--
		return reply{status: statusV2Busy}, false
	}

	if canSleep && f.sleepArm[k] > 0 && c.Svc != scm.SvcWaitQueue {
		f.sleepArm[k]--
		f.parkedSeq++

		token := f.parkedSeq
		f.parked[token] = c
		f.pendingWakes = append(f.pendingWakes, wake{ctx: 0, flags: WakeOne})

		return reply{status: statusWaitqSleep, res: [3]uint64{0, token, 0}}, true
	}

	h, ok := f.handlers[k]

	if !ok {
		return reply{status: statusUnknownID}, false
	}

	status, res := h(c)

	return reply{status: status, res: res}, false
}
