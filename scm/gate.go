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
	"log"
	"math"
	"sync"
)

// clockGate reference counts the core, interface and bus clock enables
// bracketing calls that touch secure hardware. All handles are optional.
type clockGate struct {
	mu    sync.Mutex
	count int

	core  Clock
	iface Clock
	bus   Clock
}

// enable turns the clocks on at the first vote, rolling back the already
// enabled stages when a later stage fails.
func (g *clockGate) enable() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count > 0 {
		g.count++
		return nil
	}

	if err := enableClock(g.core); err != nil {
		return err
	}

	if err := enableClock(g.iface); err != nil {
		disableClock(g.core)
		return err
	}

	if err := enableClock(g.bus); err != nil {
		disableClock(g.iface)
		disableClock(g.core)
		return err
	}

	g.count = 1

	return nil
}

// disable drops one vote, turning the clocks off at the last one. A vote
// drop with no votes held is a caller bug; it is logged and contained.
func (g *clockGate) disable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		log.Printf("SCM clock vote underflow")
		return
	}

	g.count--

	if g.count == 0 {
		disableClock(g.bus)
		disableClock(g.iface)
		disableClock(g.core)
	}
}

func enableClock(c Clock) error {
	if c == nil {
		return nil
	}

	return c.Enable()
}

func disableClock(c Clock) {
	if c != nil {
		c.Disable()
	}
}

// bandwidthGate reference counts the interconnect vote. The first vote
// requests maximum peak bandwidth, the last drop returns it to zero.
type bandwidthGate struct {
	mu    sync.Mutex
	count int

	path    BandwidthPath
	pathErr error
}

func (g *bandwidthGate) enable() error {
	if g.pathErr != nil {
		return fmt.Errorf("%w: interconnect path: %v", ErrInvalid, g.pathErr)
	}

	if g.path == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		if err := g.path.Set(0, math.MaxUint32); err != nil {
			log.Printf("SCM failed to vote bandwidth: %v", err)
			return err
		}
	}

	g.count++

	return nil
}

func (g *bandwidthGate) disable() {
	if g.path == nil || g.pathErr != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		log.Printf("SCM bandwidth vote underflow")
		return
	}

	g.count--

	if g.count == 0 {
		if err := g.path.Set(0, 0); err != nil {
			log.Printf("SCM failed to drop bandwidth vote: %v", err)
		}
	}
}
