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
)

// Wake flags reported by the wait queue context query.
const (
	wakeOne = 1 << 0
	wakeAll = 1 << 1
)

// Current firmware implements a single wait context. The table is keyed by
// context id so additional contexts slot in when firmware grows them.
const waitContexts = 1

// wakeBacklog bounds wakes buffered ahead of their waiter, so a wake
// delivered just before WaitFor parks is not lost.
const wakeBacklog = 16

type waitQueue struct {
	comp [waitContexts]chan struct{}
}

func (w *waitQueue) init() {
	for i := range w.comp {
		w.comp[i] = make(chan struct{}, wakeBacklog)
	}
}

func (w *waitQueue) valid(ctx uint32) error {
	if ctx >= waitContexts {
		return fmt.Errorf("%w: wait context %d", ErrInvalid, ctx)
	}

	return nil
}

// WaitFor blocks until the firmware delivers a wake for the given wait
// context. Wakes are counted, one wake releases exactly one waiter and a
// waiter never returns without one. There is no timeout; timeout policy
// belongs to the caller.
func (s *SCM) WaitFor(ctx uint32) error {
	if err := s.wq.valid(ctx); err != nil {
		return err
	}

	<-s.wq.comp[ctx]

	return nil
}

// wake releases one waiter on ctx.
func (s *SCM) wake(ctx uint32) error {
	if err := s.wq.valid(ctx); err != nil {
		log.Printf("SCM firmware reported invalid wait context %d", ctx)
		return err
	}

	select {
	case s.wq.comp[ctx] <- struct{}{}:
	default:
		log.Printf("SCM dropping wake for saturated wait context %d", ctx)
	}

	return nil
}

// HandleWakeInterrupt drains the pending wake events after a wait queue
// interrupt. It never sleeps and is safe to invoke from a non-suspending
// interrupt dispatch context. The drain stops on a query failure or on
// flags the protocol does not define.
func (s *SCM) HandleWakeInterrupt() {
	for {
		res, err := s.CallAtomic(&Desc{
			Svc:   SvcWaitQueue,
			Cmd:   WaitQueueGetContext,
			Owner: OwnerSIP,
		})

		if err != nil {
			log.Printf("SCM wait queue context query failed: %v", err)
			return
		}

		ctx := uint32(res[0])
		flags := uint32(res[1])
		morePending := res[2] != 0

		// a single waiter per context makes the two wake modes coincide
		if flags != wakeOne && flags != wakeAll {
			log.Printf("SCM invalid wake flags %#x for wait context %d", flags, ctx)
			return
		}

		if s.wake(ctx) != nil {
			return
		}

		if !morePending {
			return
		}
	}
}
