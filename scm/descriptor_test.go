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
	"errors"
	"testing"
)

func TestArginfo(t *testing.T) {
	for _, tc := range []struct {
		name string
		desc Desc
		want uint64
		err  error
	}{
		{
			name: "no args",
			desc: Desc{},
			want: 0,
		},
		{
			name: "untyped args are values",
			desc: Desc{Args: []uint64{1, 2, 3}},
			want: 3,
		},
		{
			name: "buffer tags",
			desc: Desc{
				Args:  []uint64{1, 2},
				Types: []ArgType{ArgRO, ArgRW},
			},
			want: 2 | 1<<4 | 2<<6,
		},
		{
			name: "max arity",
			desc: Desc{Args: make([]uint64, MaxArgs)},
			want: MaxArgs,
		},
		{
			name: "too many args",
			desc: Desc{Args: make([]uint64, MaxArgs+1)},
			err:  ErrInvalid,
		},
		{
			name: "tag count mismatch",
			desc: Desc{
				Args:  []uint64{1, 2},
				Types: []ArgType{ArgValue},
			},
			err: ErrInvalid,
		},
		{
			name: "unknown tag",
			desc: Desc{
				Args:  []uint64{1},
				Types: []ArgType{ArgRW + 1},
			},
			err: ErrInvalid,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.desc.arginfo()

			if !errors.Is(err, tc.err) {
				t.Fatalf("arginfo() error = %v, want %v", err, tc.err)
			}

			if err == nil && got != tc.want {
				t.Errorf("arginfo() = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestFunctionIDs(t *testing.T) {
	// availability probe of the boot service download mode call
	if got, want := smcFunctionID(ConventionSMC64, OwnerSIP, SvcBoot, BootSetDloadMode), uint64(0x42000110); got != want {
		t.Errorf("smcFunctionID(SMC64) = %#x, want %#x", got, want)
	}

	if got, want := smcFunctionID(ConventionSMC32, OwnerSIP, SvcBoot, BootSetDloadMode), uint64(0x02000110); got != want {
		t.Errorf("smcFunctionID(SMC32) = %#x, want %#x", got, want)
	}

	if got, want := legacyFunctionID(SvcBoot, BootSetDloadMode), uint64(1<<10|0x10); got != want {
		t.Errorf("legacyFunctionID = %#x, want %#x", got, want)
	}

	id := legacyAtomicID(SvcIO, IOWrite, 2)

	if id&0xf != 2 {
		t.Errorf("atomic id arity = %d, want 2", id&0xf)
	}

	if id&legacyClassRegister == 0 {
		t.Error("atomic id missing register class")
	}

	if got, want := id>>12, legacyFunctionID(SvcIO, IOWrite); got != want {
		t.Errorf("atomic id function = %#x, want %#x", got, want)
	}
}

func TestRemapStatus(t *testing.T) {
	for _, tc := range []struct {
		status int64
		want   error
	}{
		{statusEInvalArg, ErrInvalid},
		{statusEInvalAddr, ErrInvalid},
		{statusEOpNotSupp, ErrNotSupported},
		{statusENoMem, ErrNoMemory},
		{statusEPerm, ErrPermission},
		{statusV2Busy, ErrBusy},
		{statusWaitqSleep, ErrBusy},
		{statusError, ErrIO},
		{-99, ErrIO},
	} {
		if err := remapStatus(tc.status); !errors.Is(err, tc.want) {
			t.Errorf("remapStatus(%d) = %v, want %v", tc.status, err, tc.want)
		}
	}
}
