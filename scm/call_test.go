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

package scm_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tee-dev/secure-channel/internal/fakefw"
	"github.com/tee-dev/secure-channel/scm"
)

// test-only service pair routed to a recording handler
const (
	testSvc = 0x3f
	testCmd = 0x07
)

func installEcho(fw *fakefw.Firmware) {
	fw.Handle(testSvc, testCmd, func(c *fakefw.Call) (int64, [3]uint64) {
		return 0, [3]uint64{0xa1, 0xb2, 0xc3}
	})
}

func TestSMCMarshalRoundTrip(t *testing.T) {
	args := []uint64{
		0x1111111111111111, 2, 3, 4, 5, 6, 7, 8, 9,
		0xaaaaaaaabbbbbbbb,
	}

	types := []scm.ArgType{
		scm.ArgValue, scm.ArgRO, scm.ArgRW, scm.ArgValue, scm.ArgValue,
		scm.ArgValue, scm.ArgValue, scm.ArgValue, scm.ArgValue, scm.ArgValue,
	}

	for _, tc := range []struct {
		name     string
		mode     fakefw.Mode
		truncate bool
	}{
		{"smc64", fakefw.SMC64, false},
		// the narrow convention spills 32-bit words
		{"smc32", fakefw.SMC32, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, fw, _ := newSystem(t, tc.mode)
			installEcho(fw)

			res, err := s.Call(&scm.Desc{
				Svc:   testSvc,
				Cmd:   testCmd,
				Owner: scm.OwnerSIP,
				Args:  args,
				Types: types,
			})

			if err != nil {
				t.Fatalf("Call: %v", err)
			}

			if want := (scm.Result{0xa1, 0xb2, 0xc3}); res != want {
				t.Errorf("Call result = %#x, want %#x", res, want)
			}

			want := append([]uint64(nil), args...)

			if tc.truncate {
				// register args keep full width, spilled args are
				// 32-bit words
				for i := 3; i < len(want); i++ {
					want[i] = uint64(uint32(want[i]))
				}
			}

			got := lastCall(t, fw, testSvc, testCmd)

			if diff := cmp.Diff(want, got.Args); diff != "" {
				t.Errorf("decoded args diff (-want +got):\n%s", diff)
			}

			if diff := cmp.Diff(types, got.Types); diff != "" {
				t.Errorf("decoded types diff (-want +got):\n%s", diff)
			}

			if got.Owner != scm.OwnerSIP {
				t.Errorf("decoded owner = %d, want %d", got.Owner, scm.OwnerSIP)
			}
		})
	}
}

func TestLegacyMarshalRoundTrip(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.Legacy)
	installEcho(fw)

	args := []uint64{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}

	res, err := s.Call(&scm.Desc{
		Svc:  testSvc,
		Cmd:  testCmd,
		Args: args,
	})

	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if want := (scm.Result{0xa1, 0xb2, 0xc3}); res != want {
		t.Errorf("Call result = %#x, want %#x", res, want)
	}

	got := lastCall(t, fw, testSvc, testCmd)

	if !got.Legacy {
		t.Error("call not decoded from the legacy convention")
	}

	if diff := cmp.Diff(args, got.Args); diff != "" {
		t.Errorf("decoded args diff (-want +got):\n%s", diff)
	}
}

func TestLegacyAtomic(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.Legacy)
	installEcho(fw)

	args := []uint64{7, 9}

	if _, err := s.CallAtomic(&scm.Desc{Svc: testSvc, Cmd: testCmd, Args: args}); err != nil {
		t.Fatalf("CallAtomic: %v", err)
	}

	got := lastCall(t, fw, testSvc, testCmd)

	if diff := cmp.Diff(args, got.Args); diff != "" {
		t.Errorf("decoded args diff (-want +got):\n%s", diff)
	}

	// six arguments exceed the register class
	if _, err := s.CallAtomic(&scm.Desc{
		Svc:  testSvc,
		Cmd:  testCmd,
		Args: make([]uint64, 6),
	}); !errors.Is(err, scm.ErrInvalid) {
		t.Errorf("oversized atomic call = %v, want ErrInvalid", err)
	}
}

func TestBusyRetry(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)
	installEcho(fw)

	fw.ArmBusy(testSvc, testCmd, 2)

	if _, err := s.Call(&scm.Desc{Svc: testSvc, Cmd: testCmd, Owner: scm.OwnerSIP}); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if n := countCalls(fw, testSvc, testCmd); n != 3 {
		t.Errorf("%d dispatches, want 3 (two busy, one served)", n)
	}
}

func TestAtomicDoesNotRetryBusy(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)
	installEcho(fw)

	fw.ArmBusy(testSvc, testCmd, 1)

	if _, err := s.CallAtomic(&scm.Desc{Svc: testSvc, Cmd: testCmd, Owner: scm.OwnerSIP}); !errors.Is(err, scm.ErrBusy) {
		t.Errorf("CallAtomic under busy = %v, want ErrBusy", err)
	}

	if n := countCalls(fw, testSvc, testCmd); n != 1 {
		t.Errorf("%d dispatches, want 1", n)
	}
}

func TestWaitQueueSleepResume(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)
	installEcho(fw)

	fw.IRQ = s.HandleWakeInterrupt
	fw.ArmSleep(testSvc, testCmd, 1)

	res, err := s.Call(&scm.Desc{Svc: testSvc, Cmd: testCmd, Owner: scm.OwnerSIP})

	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if want := (scm.Result{0xa1, 0xb2, 0xc3}); res != want {
		t.Errorf("resumed call result = %#x, want %#x", res, want)
	}

	if n := countCalls(fw, scm.SvcWaitQueue, scm.WaitQueueResume); n != 1 {
		t.Errorf("%d resume calls, want 1", n)
	}

	if n := countCalls(fw, scm.SvcWaitQueue, scm.WaitQueueGetContext); n != 1 {
		t.Errorf("%d context queries, want 1", n)
	}

	// the single wake is consumed, a further waiter must stay parked
	woke := make(chan struct{})

	go func() {
		_ = s.WaitFor(0)
		close(woke)
	}()

	select {
	case <-woke:
		t.Error("spurious wake released a second waiter")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitForInvalidContext(t *testing.T) {
	s, _, _ := newSystem(t, fakefw.SMC64)

	if err := s.WaitFor(1); !errors.Is(err, scm.ErrInvalid) {
		t.Errorf("WaitFor(1) = %v, want ErrInvalid", err)
	}
}

func TestWakeInterruptWithNothingPending(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)

	// the drain must stop cleanly on a failed context query
	s.HandleWakeInterrupt()

	if n := countCalls(fw, scm.SvcWaitQueue, scm.WaitQueueGetContext); n != 1 {
		t.Errorf("%d context queries, want 1", n)
	}
}

func TestAtomicFailsOnSleepRequest(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)
	installEcho(fw)

	fw.ArmSleep(testSvc, testCmd, 1)

	if _, err := s.CallAtomic(&scm.Desc{Svc: testSvc, Cmd: testCmd, Owner: scm.OwnerSIP}); !errors.Is(err, scm.ErrBusy) {
		t.Errorf("CallAtomic under sleep request = %v, want ErrBusy", err)
	}
}
