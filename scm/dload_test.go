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

	"github.com/tee-dev/secure-channel/internal/fakefw"
	"github.com/tee-dev/secure-channel/scm"
)

func TestSetDownloadModeCall(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)

	if err := s.SetDownloadMode(true); err != nil {
		t.Fatalf("SetDownloadMode(true): %v", err)
	}

	if !fw.DownloadModeArmed() {
		t.Error("download mode not armed")
	}

	if err := s.SetDownloadMode(false); err != nil {
		t.Fatalf("SetDownloadMode(false): %v", err)
	}

	if fw.DownloadModeArmed() {
		t.Error("download mode still armed")
	}
}

func TestSetDownloadModeRegisterFallback(t *testing.T) {
	const modeAddr = 0x1fd300

	s, fw, _ := newSystem(t, fakefw.SMC64, func(cfg *scm.Config) {
		cfg.DloadModeAddr = modeAddr
	})

	fw.Unavailable(scm.SvcBoot, scm.BootSetDloadMode)

	if err := s.SetDownloadMode(true); err != nil {
		t.Fatalf("SetDownloadMode(true): %v", err)
	}

	if got := fw.Register(modeAddr); got != scm.BootSetDloadMode {
		t.Errorf("mode register = %#x, want the download cookie", got)
	}

	if err := s.SetDownloadMode(false); err != nil {
		t.Fatalf("SetDownloadMode(false): %v", err)
	}

	if got := fw.Register(modeAddr); got != 0 {
		t.Errorf("mode register = %#x after disarm, want 0", got)
	}
}

func TestSetDownloadModeNoMechanism(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)

	fw.Unavailable(scm.SvcBoot, scm.BootSetDloadMode)

	if err := s.SetDownloadMode(true); !errors.Is(err, scm.ErrNoDownloadMode) {
		t.Errorf("SetDownloadMode without mechanism = %v, want ErrNoDownloadMode", err)
	}
}

func TestBootAppliesDownloadModePolicy(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64, func(cfg *scm.Config) {
		cfg.DownloadMode = true
	})

	s.Boot()

	if !fw.DownloadModeArmed() {
		t.Error("boot did not arm download mode")
	}

	s.Shutdown()

	if fw.DownloadModeArmed() {
		t.Error("shutdown did not disarm download mode")
	}
}

func TestBootDisablesSDI(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64, func(cfg *scm.Config) {
		cfg.SDIEnabled = true
	})

	s.Boot()

	if !fw.SDIDisabled() {
		t.Error("boot left the debug image path enabled")
	}
}

func TestDisableSDI(t *testing.T) {
	s, fw, _ := newSystem(t, fakefw.SMC64)

	if err := s.DisableSDI(); err != nil {
		t.Fatalf("DisableSDI: %v", err)
	}

	if !fw.SDIDisabled() {
		t.Error("debug image path not disabled")
	}
}
