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
	"fmt"
	"unsafe"

	"github.com/usbarmory/tamago/dma"
)

const arenaAlign = 64

// Arena is a heap backed memory window with a DMA region over it, standing
// in for the platform's coherent allocation range. The window's addresses
// serve as the bus addresses the emulated firmware dereferences through
// Mem.
type Arena struct {
	// Region hands out reservations within the window.
	Region *dma.Region

	buf   []byte
	win   []byte
	start uint64
}

// NewArena returns an arena of the given size.
func NewArena(size int) (*Arena, error) {
	buf := make([]byte, size+arenaAlign)

	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	skew := int(-base & (arenaAlign - 1))

	r, err := dma.NewRegion(uint(base)+uint(skew), size, false)

	if err != nil {
		return nil, err
	}

	return &Arena{
		Region: r,
		buf:    buf,
		win:    buf[skew : skew+size],
		start:  uint64(base) + uint64(skew),
	}, nil
}

// Mem resolves a bus address within the arena to its backing bytes.
func (a *Arena) Mem(addr uint64, size int) []byte {
	off := int64(addr) - int64(a.start)

	if off < 0 || off+int64(size) > int64(len(a.win)) {
		panic(fmt.Sprintf("fakefw: address %#x+%d outside arena", addr, size))
	}

	return a.win[off : off+int64(size)]
}
