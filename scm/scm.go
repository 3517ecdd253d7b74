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

// Package scm implements the secure channel call interface mediating
// requests into the secure execution environment over a synchronous call
// gate.
//
// The package negotiates the calling convention spoken by the resident
// firmware once per instance, marshals call arguments per convention,
// brackets hardware-touching calls with reference counted clock and
// bandwidth votes, and exposes typed facades for the firmware protocols
// built on top of the gate: peripheral image authentication, memory
// ownership reassignment, inline encryption keys, download mode and the
// secure pagetable bootstrap.
//
// The trap into the secure world, the clock and interconnect handles and
// the optional shared memory bridge are injected collaborators, keeping the
// package free of platform bindings.
package scm

import (
	"errors"
	"log"
	"sync"

	"github.com/tee-dev/secure-channel/secmem"
)

// Conduit executes one trap into the secure world. Invoke receives the
// eight argument register image and returns the first four result
// registers. Implementations must be callable from non-suspending contexts.
type Conduit interface {
	Invoke(args [8]uint64) (ret [4]uint64)
}

// Clock is an enable handle for one of the clocks gating the secure side
// interface on older platforms.
type Clock interface {
	Enable() error
	Disable()
}

// BandwidthPath votes for interconnect bandwidth, in bytes per second.
type BandwidthPath interface {
	Set(average, peak uint64) error
}

// Config carries the platform binding for one secure channel instance.
type Config struct {
	// Conduit executes secure world traps. Required.
	Conduit Conduit

	// Memory brokers the buffers carrying call payloads. Required.
	Memory *secmem.Broker

	// Clock handles, all optional. Platforms without clock gating leave
	// them nil.
	CoreClock  Clock
	IfaceClock Clock
	BusClock   Clock

	// Bandwidth is the interconnect path voted around calls, if any.
	// BandwidthErr records a failed path acquisition; calls requiring
	// votes then fail instead of running unvoted.
	Bandwidth    BandwidthPath
	BandwidthErr error

	// Compatible is the platform variant string used for convention
	// negotiation quirks.
	Compatible string

	// DloadModeAddr is the bus address of the download mode register,
	// already offset by the binding layer. Zero when absent.
	DloadModeAddr uint64

	// DownloadMode arms download mode at boot.
	DownloadMode bool

	// SDIEnabled indicates the platform leaves the secure debug image
	// path enabled by default, requiring an explicit disable at boot.
	SDIEnabled bool

	// CPUs is the CPU count used by the legacy boot address call.
	CPUs int
}

// SCM is one secure channel instance. All state is immutable after New
// except the cached convention, the vote refcounts and the wait table.
type SCM struct {
	conduit Conduit
	mem     *secmem.Broker

	compatible    string
	dloadModeAddr uint64
	downloadMode  bool
	sdiEnabled    bool
	cpus          int

	convMu     sync.Mutex
	convention Convention
	forced     bool

	clk clockGate
	bw  bandwidthGate

	wq waitQueue
}

// New validates cfg and returns an instance bound to it. No firmware call
// is made; the convention is negotiated lazily by the first call.
func New(cfg *Config) (*SCM, error) {
	if cfg == nil || cfg.Conduit == nil {
		return nil, errors.New("scm: missing conduit")
	}

	if cfg.Memory == nil {
		return nil, errors.New("scm: missing memory broker")
	}

	s := &SCM{
		conduit:       cfg.Conduit,
		mem:           cfg.Memory,
		compatible:    cfg.Compatible,
		dloadModeAddr: cfg.DloadModeAddr,
		downloadMode:  cfg.DownloadMode,
		sdiEnabled:    cfg.SDIEnabled,
		cpus:          cfg.CPUs,
	}

	s.clk = clockGate{
		core:  cfg.CoreClock,
		iface: cfg.IfaceClock,
		bus:   cfg.BusClock,
	}

	s.bw = bandwidthGate{
		path:    cfg.Bandwidth,
		pathErr: cfg.BandwidthErr,
	}

	s.wq.init()

	return s, nil
}

// Boot resolves the calling convention and applies the boot download mode
// policy. Failures are logged and do not prevent the instance from serving
// calls.
func (s *SCM) Boot() {
	s.resolveConvention()

	if s.downloadMode {
		if err := s.SetDownloadMode(true); err != nil {
			log.Printf("SCM failed to arm download mode: %v", err)
		}
	} else if err := s.SetDownloadMode(false); err != nil && !errors.Is(err, ErrNoDownloadMode) {
		log.Printf("SCM failed to disarm download mode: %v", err)
	}

	if s.sdiEnabled {
		if err := s.DisableSDI(); err != nil {
			log.Printf("SCM failed to disable SDI: %v", err)
		}
	}
}

// Shutdown disarms download mode so that the next warm boot does not enter
// the diagnostic path with stale intent.
func (s *SCM) Shutdown() {
	if err := s.SetDownloadMode(false); err != nil && !errors.Is(err, ErrNoDownloadMode) {
		log.Printf("SCM shutdown: %v", err)
	}
}

// withVotes brackets fn between clock and bandwidth votes, releasing them
// on every path.
func (s *SCM) withVotes(fn func() error) error {
	if err := s.clk.enable(); err != nil {
		return err
	}
	defer s.clk.disable()

	if err := s.bw.enable(); err != nil {
		return err
	}
	defer s.bw.disable()

	return fn()
}

// gatedCall issues desc with votes held and interprets the first result
// word as the call status.
func (s *SCM) gatedCall(desc *Desc) error {
	return s.withVotes(func() error {
		res, err := s.Call(desc)

		if err != nil {
			return err
		}

		return firmwareStatus(res)
	})
}
