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
	"testing"

	"github.com/coreos/go-semver/semver"
	"github.com/google/go-cmp/cmp"

	"github.com/tee-dev/secure-channel/internal/fakefw"
	"github.com/tee-dev/secure-channel/scm"
)

func TestIsCallAvailable(t *testing.T) {
	for _, tc := range []struct {
		name string
		mode fakefw.Mode
	}{
		{"smc64", fakefw.SMC64},
		{"smc32", fakefw.SMC32},
		{"legacy", fakefw.Legacy},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := newSystem(t, tc.mode)

			if !s.IsCallAvailable(scm.SvcPIL, scm.PILInitImage) {
				t.Error("implemented call reported unavailable")
			}

			// never assigned, must probe false without error
			if s.IsCallAvailable(0x33, 0x44) {
				t.Error("unassigned call reported available")
			}
		})
	}
}

func TestFeatureVersion(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)

	fw.FeatVersion = 2<<22 | 5<<12 | 7

	got, err := s.FeatureVersion(9)

	if err != nil {
		t.Fatalf("FeatureVersion: %v", err)
	}

	want := semver.Version{Major: 2, Minor: 5, Patch: 7}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("version diff (-want +got):\n%s", diff)
	}
}
