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
)

// ArgType tags how the secure side must interpret an argument word.
type ArgType uint64

const (
	// ArgValue marks a plain scalar argument.
	ArgValue ArgType = iota
	// ArgRO marks the bus address of a buffer the secure side only reads.
	ArgRO
	// ArgRW marks the bus address of a buffer the secure side may write.
	ArgRW
)

// MaxArgs is the maximum number of arguments a single call can carry.
const MaxArgs = 10

// Desc describes one firmware call. Types tags each argument; a nil Types
// declares all arguments as plain values. Buffer-tagged argument words must
// already hold bus addresses.
type Desc struct {
	Svc   uint32
	Cmd   uint32
	Owner uint32
	Args  []uint64
	Types []ArgType
}

// Result holds the up to three result words of a completed call.
type Result [3]uint64

// arginfo packs the argument count and per-argument access tags into the
// self-describing word the SMC conventions carry alongside the function
// identifier. It also serves as the descriptor arity check for the legacy
// convention, which carries no such word.
func (d *Desc) arginfo() (uint64, error) {
	if len(d.Args) > MaxArgs {
		return 0, fmt.Errorf("%w: %d arguments", ErrInvalid, len(d.Args))
	}

	if d.Types != nil && len(d.Types) != len(d.Args) {
		return 0, fmt.Errorf("%w: %d type tags for %d arguments", ErrInvalid, len(d.Types), len(d.Args))
	}

	info := uint64(len(d.Args))

	for i, t := range d.Types {
		if t > ArgRW {
			return 0, fmt.Errorf("%w: argument type %d", ErrInvalid, t)
		}

		info |= uint64(t) << (4 + 2*i)
	}

	return info, nil
}
