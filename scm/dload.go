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
)

// ErrNoDownloadMode indicates the platform exposes neither the download
// mode call nor a mode register, so the requested policy cannot take
// effect.
var ErrNoDownloadMode = errors.New("scm: no mechanism for setting download mode")

// The download mode cookie doubles as the register value arming the
// diagnostic boot path.
const dloadModeCookie = BootSetDloadMode

// SetDownloadMode arms or disarms the diagnostic download mode taken on
// the next warm boot. The dedicated firmware call is preferred when
// available; otherwise the mode register described by the platform binding
// is written directly. With neither mechanism the request fails rather
// than silently succeeding.
func (s *SCM) SetDownloadMode(enable bool) error {
	if s.IsCallAvailable(SvcBoot, BootSetDloadMode) {
		return s.setDloadModeCall(enable)
	}

	if s.dloadModeAddr != 0 {
		val := uint32(0)

		if enable {
			val = dloadModeCookie
		}

		return s.WriteRegister(s.dloadModeAddr, val)
	}

	return ErrNoDownloadMode
}

func (s *SCM) setDloadModeCall(enable bool) error {
	args := []uint64{dloadModeCookie, 0}

	if enable {
		args[1] = dloadModeCookie
	}

	_, err := s.CallAtomic(&Desc{
		Svc:   SvcBoot,
		Cmd:   BootSetDloadMode,
		Owner: OwnerSIP,
		Args:  args,
	})

	return err
}

// DisableSDI turns off the secure debug image path so a watchdog bite
// resets cleanly instead of entering it. Gated, as it reaches secure
// hardware.
func (s *SCM) DisableSDI() error {
	if err := s.clk.enable(); err != nil {
		return err
	}
	defer s.clk.disable()

	res, err := s.Call(&Desc{
		Svc:   SvcBoot,
		Cmd:   BootSDIConfig,
		Owner: OwnerSIP,
		// disable watchdog debug, disable SDI
		Args: []uint64{1, 0},
	})

	if err != nil {
		return err
	}

	return firmwareStatus(res)
}
