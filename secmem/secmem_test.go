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

package secmem_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tee-dev/secure-channel/internal/fakefw"
	"github.com/tee-dev/secure-channel/secmem"
)

// testBridge maps buffers from the heap and records the cache maintenance
// and unmap traffic.
type testBridge struct {
	next     uint64
	mapped   map[uint64][]byte
	flushes  []uint64
	invals   []uint64
	unmapped []uint64

	failMapAfter int
	maps         int
}

func newTestBridge() *testBridge {
	return &testBridge{
		next:         0x1000,
		mapped:       map[uint64][]byte{},
		failMapAfter: -1,
	}
}

func (b *testBridge) Map(size int) (uint64, []byte, error) {
	if b.failMapAfter >= 0 && b.maps >= b.failMapAfter {
		return 0, nil, errors.New("bridge exhausted")
	}

	b.maps++

	addr := b.next
	b.next += uint64(size) + 0x100
	b.mapped[addr] = make([]byte, size)

	return addr, b.mapped[addr], nil
}

func (b *testBridge) Flush(addr uint64)      { b.flushes = append(b.flushes, addr) }
func (b *testBridge) Invalidate(addr uint64) { b.invals = append(b.invals, addr) }
func (b *testBridge) Unmap(addr uint64)      { b.unmapped = append(b.unmapped, addr) }

func directBroker(t *testing.T, size int) *secmem.Broker {
	t.Helper()

	arena, err := fakefw.NewArena(size)

	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}

	return secmem.NewDirect(arena.Region)
}

func TestAcquireRelease(t *testing.T) {
	b := directBroker(t, 0x1000)

	buf, err := b.Acquire(64, secmem.Normal)

	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if buf.Addr == 0 {
		t.Error("Acquire returned zero address")
	}

	if len(buf.Data) != 64 {
		t.Errorf("Data length %d, want 64", len(buf.Data))
	}

	if got := b.Outstanding(); got != 1 {
		t.Errorf("Outstanding() = %d, want 1", got)
	}

	b.Release(buf)

	if got := b.Outstanding(); got != 0 {
		t.Errorf("Outstanding() = %d, want 0", got)
	}

	// double release must not underflow
	b.Release(buf)
	b.Release(nil)

	if got := b.Outstanding(); got != 0 {
		t.Errorf("Outstanding() = %d after double release, want 0", got)
	}
}

func TestAcquireZeroLength(t *testing.T) {
	b := directBroker(t, 0x1000)

	buf, err := b.Acquire(0, secmem.Normal)

	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer b.Release(buf)

	if buf.Addr == 0 {
		t.Error("zero length buffer has no address")
	}

	if len(buf.Data) != 0 {
		t.Errorf("Data length %d, want 0", len(buf.Data))
	}
}

func TestAcquireExhausted(t *testing.T) {
	b := directBroker(t, 0x100)

	if _, err := b.Acquire(0x10000, secmem.Normal); !errors.Is(err, secmem.ErrNoMemory) {
		t.Errorf("Acquire beyond region = %v, want ErrNoMemory", err)
	}
}

func TestSecretWipedOnRelease(t *testing.T) {
	b := directBroker(t, 0x1000)

	buf, err := b.Acquire(32, secmem.Secret)

	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	copy(buf.Data, bytes.Repeat([]byte{0xaa}, 32))

	view := buf.Data
	b.Release(buf)

	if !bytes.Equal(view, make([]byte, 32)) {
		t.Errorf("Secret contents survived release: %x", view)
	}
}

func TestNormalNotWiped(t *testing.T) {
	b := directBroker(t, 0x1000)

	buf, err := b.Acquire(4, secmem.Normal)

	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	copy(buf.Data, []byte{1, 2, 3, 4})

	view := buf.Data
	b.Release(buf)

	if !bytes.Equal(view, []byte{1, 2, 3, 4}) {
		t.Errorf("Normal contents scrubbed: %x", view)
	}
}

func TestBridgedSecretWipeAndUnmap(t *testing.T) {
	bridge := newTestBridge()
	b := secmem.NewBridged(bridge)

	if !b.Bridged() {
		t.Fatal("Bridged() = false")
	}

	buf, err := b.Acquire(16, secmem.Secret)

	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	copy(buf.Data, bytes.Repeat([]byte{0x55}, 16))
	buf.Flush()

	addr := buf.Addr
	b.Release(buf)

	if !bytes.Equal(bridge.mapped[addr], make([]byte, 16)) {
		t.Errorf("shared window not wiped: %x", bridge.mapped[addr])
	}

	wantUnmapped := []uint64{addr}

	if diff := cmp.Diff(wantUnmapped, bridge.unmapped); diff != "" {
		t.Errorf("unmapped diff (-want +got):\n%s", diff)
	}

	// the wipe must reach the shared window before unmap
	if len(bridge.flushes) == 0 || bridge.flushes[len(bridge.flushes)-1] != addr {
		t.Errorf("no flush after wipe, flushes %v", bridge.flushes)
	}
}

func TestBridgedMapFailure(t *testing.T) {
	bridge := newTestBridge()
	bridge.failMapAfter = 0

	b := secmem.NewBridged(bridge)

	if _, err := b.Acquire(16, secmem.Normal); err == nil {
		t.Error("Acquire succeeded on failing bridge")
	}

	if got := b.Outstanding(); got != 0 {
		t.Errorf("Outstanding() = %d after failed acquire, want 0", got)
	}
}

func TestWipe(t *testing.T) {
	for _, n := range []int{0, 1, 31, 4096} {
		b := bytes.Repeat([]byte{0xff}, n)

		secmem.Wipe(b)

		if !bytes.Equal(b, make([]byte, n)) {
			t.Errorf("Wipe left residue at length %d", n)
		}
	}
}
