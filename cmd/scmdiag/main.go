// Copyright 2024 The Secure Channel authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// The scmdiag tool runs the secure channel dispatch layer against the
// built-in firmware emulator and reports the negotiated calling convention
// and the availability of the services a scenario cares about, only useful
// for development work.
package main

import (
	"flag"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"k8s.io/klog"

	"github.com/tee-dev/secure-channel/internal/fakefw"
	"github.com/tee-dev/secure-channel/scm"
	"github.com/tee-dev/secure-channel/secmem"
)

var (
	scenarioFile = flag.String("scenario", "", "YAML scenario file to run.")
	resolvers    = flag.Int("resolvers", 8, "Concurrent goroutines racing the convention resolution.")
)

// scenario describes the emulated firmware and the probes to run against
// it.
type scenario struct {
	// Mode selects the emulated conventions: smc64, smc32 or legacy.
	Mode string `yaml:"mode"`
	// Compatible is the platform variant string.
	Compatible string `yaml:"compatible"`
	// NoProbe drops the availability probe from the emulated firmware.
	NoProbe bool `yaml:"no_probe"`
	// DownloadMode arms download mode at boot.
	DownloadMode bool `yaml:"download_mode"`
	// Probes lists service and command pairs to query.
	Probes []struct {
		Svc uint32 `yaml:"svc"`
		Cmd uint32 `yaml:"cmd"`
	} `yaml:"probes"`
}

func loadScenarioOrDie() *scenario {
	s := &scenario{Mode: "smc64"}

	if *scenarioFile == "" {
		return s
	}

	b, err := os.ReadFile(*scenarioFile)

	if err != nil {
		klog.Exitf("Failed to read scenario %q: %v", *scenarioFile, err)
	}

	if err := yaml.Unmarshal(b, s); err != nil {
		klog.Exitf("Failed to parse scenario %q: %v", *scenarioFile, err)
	}

	return s
}

func modeOrDie(mode string) fakefw.Mode {
	switch mode {
	case "smc64", "":
		return fakefw.SMC64
	case "smc32":
		return fakefw.SMC32
	case "legacy":
		return fakefw.Legacy
	}

	klog.Exitf("Unknown firmware mode %q", mode)

	return 0
}

func main() {
	flag.Parse()

	sc := loadScenarioOrDie()

	arena, err := fakefw.NewArena(0x10000)

	if err != nil {
		klog.Exitf("Failed to build arena: %v", err)
	}

	fw := fakefw.New(modeOrDie(sc.Mode), arena.Mem)

	if sc.NoProbe {
		fw.Unavailable(scm.SvcInfo, scm.InfoIsCallAvailable)
	}

	s, err := scm.New(&scm.Config{
		Conduit:      fw,
		Memory:       secmem.NewDirect(arena.Region),
		Compatible:   sc.Compatible,
		DownloadMode: sc.DownloadMode,
	})

	if err != nil {
		klog.Exitf("Failed to build dispatch layer: %v", err)
	}

	fw.IRQ = s.HandleWakeInterrupt

	// race the negotiation to demonstrate the single probe
	var g errgroup.Group

	for i := 0; i < *resolvers; i++ {
		g.Go(func() error {
			s.ResolvedConvention()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		klog.Exitf("Resolution: %v", err)
	}

	conv, forced := s.ResolvedConvention()

	if forced {
		klog.Infof("Negotiated convention: %s (forced)", conv)
	} else {
		klog.Infof("Negotiated convention: %s", conv)
	}

	s.Boot()

	if version, err := s.FeatureVersion(0); err == nil {
		klog.Infof("Feature 0 firmware version: %s", version)
	} else {
		klog.Infof("Feature version query failed: %v", err)
	}

	for _, p := range sc.Probes {
		klog.Infof("Service %#x command %#x available: %v", p.Svc, p.Cmd, s.IsCallAvailable(p.Svc, p.Cmd))
	}

	s.Shutdown()

	klog.Infof("Ran %d firmware transactions", len(fw.Calls))
}
