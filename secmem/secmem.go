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

// Package secmem brokers the short-lived memory buffers used to carry
// variable-length payloads across the secure world call gate.
//
// Two backends exist. The direct backend reserves buffers from a coherent
// DMA region whose bus addresses the secure side can dereference as is. The
// bridged backend maps buffers through an externally registered shared
// memory bridge and requires explicit cache maintenance around each
// transaction.
//
// Buffers carrying key material are acquired with the Secret sensitivity and
// are wiped before their backing store is released, on every path.
package secmem

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/usbarmory/tamago/dma"
)

// ErrNoMemory is returned when the backing store cannot satisfy an
// allocation.
var ErrNoMemory = errors.New("secmem: out of memory")

// Sensitivity declares how a buffer's contents must be handled at release.
type Sensitivity int

const (
	// Normal buffers are released without scrubbing.
	Normal Sensitivity = iota
	// Secret buffers are wiped before the backing store is released.
	Secret
)

// Buffer is a single brokered allocation. Addr is the bus address the secure
// side dereferences, Data the local view of the same memory. Data is sized
// to the requested length even when the underlying reservation is larger.
type Buffer struct {
	Addr uint64
	Data []byte

	sens     Sensitivity
	span     []byte
	broker   *Broker
	released bool
}

// Bridge maps buffers into a shared memory window visible to the secure
// side, with explicit cache maintenance. Map returns the bus address the
// secure side uses and the local view of the mapping.
type Bridge interface {
	Map(size int) (addr uint64, buf []byte, err error)
	Flush(addr uint64)
	Invalidate(addr uint64)
	Unmap(addr uint64)
}

// Broker hands out transaction buffers from one of the two backends. It is
// safe for concurrent use.
type Broker struct {
	region *dma.Region
	bridge Bridge

	mu          sync.Mutex
	outstanding int
}

// NewDirect returns a broker backed by a coherent DMA region.
func NewDirect(region *dma.Region) *Broker {
	return &Broker{region: region}
}

// NewBridged returns a broker backed by a shared memory bridge.
func NewBridged(bridge Bridge) *Broker {
	return &Broker{bridge: bridge}
}

// Bridged reports whether buffers transit a shared memory bridge rather
// than coherent memory.
func (b *Broker) Bridged() bool {
	return b.bridge != nil
}

// Outstanding returns the number of acquired buffers not yet released.
func (b *Broker) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.outstanding
}

// Acquire reserves a buffer of the given size. A zero size is valid and
// yields a minimum reservation with an empty Data view, so that callers
// issuing zero-length payloads still obtain a dereferenceable address.
func (b *Broker) Acquire(size int, sens Sensitivity) (buf *Buffer, err error) {
	if size < 0 {
		return nil, fmt.Errorf("secmem: invalid size %d", size)
	}

	n := size

	if n == 0 {
		n = 1
	}

	var addr uint64
	var span []byte

	if b.bridge != nil {
		a, s, err := b.bridge.Map(n)

		if err != nil {
			return nil, fmt.Errorf("secmem: bridge map: %w", err)
		}

		addr, span = a, s
	} else {
		// the region panics on exhaustion
		defer func() {
			if recover() != nil {
				buf, err = nil, ErrNoMemory
			}
		}()

		a, s := b.region.Reserve(n, 0)
		addr, span = uint64(a), s
	}

	b.mu.Lock()
	b.outstanding++
	b.mu.Unlock()

	return &Buffer{
		Addr:   addr,
		Data:   span[:size],
		sens:   sens,
		span:   span,
		broker: b,
	}, nil
}

// Release returns a buffer to its backing store, wiping Secret contents
// first. Releasing nil or an already released buffer is a no-op.
func (b *Broker) Release(buf *Buffer) {
	if buf == nil || buf.released {
		return
	}

	if buf.sens == Secret {
		Wipe(buf.span)

		if b.bridge != nil {
			// push the zeroed contents out to the shared window
			b.bridge.Flush(buf.Addr)
		}
	}

	buf.released = true

	b.mu.Lock()
	b.outstanding--
	b.mu.Unlock()

	if b.bridge != nil {
		b.bridge.Unmap(buf.Addr)
		return
	}

	b.region.Release(uint(buf.Addr))
}

// Flush makes local writes visible to the secure side. It is a no-op on the
// coherent backend.
func (buf *Buffer) Flush() {
	if buf.broker.bridge != nil {
		buf.broker.bridge.Flush(buf.Addr)
	}
}

// Invalidate makes secure side writes visible locally. It is a no-op on the
// coherent backend.
func (buf *Buffer) Invalidate() {
	if buf.broker.bridge != nil {
		buf.broker.bridge.Invalidate(buf.Addr)
	}
}

// Wipe zeroizes b. The write is anchored so it cannot be elided as a dead
// store ahead of the release of the backing memory.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}

	for i := range b {
		b[i] = 0
	}

	runtime.KeepAlive(&b[0])
}
