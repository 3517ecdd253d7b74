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

// OwnerSIP is the silicon partner owner tag carried by function identifiers.
const OwnerSIP = 2

// Service identifiers.
const (
	SvcBoot        = 0x01
	SvcPIL         = 0x02
	SvcIO          = 0x05
	SvcInfo        = 0x06
	SvcMP          = 0x0c
	SvcOCMem       = 0x0f
	SvcES          = 0x10
	SvcHDCP        = 0x11
	SvcLMH         = 0x13
	SvcSMMUProgram = 0x15
	SvcWaitQueue   = 0x24
)

// Boot service commands.
const (
	BootSetAddr        = 0x01
	BootTerminatePC    = 0x02
	BootSDIConfig      = 0x09
	BootSetRemoteState = 0x0a
	BootSetDloadMode   = 0x10
	BootSetAddrMC      = 0x11
)

// Peripheral image loader commands.
const (
	PILInitImage    = 0x01
	PILMemSetup     = 0x02
	PILAuthAndReset = 0x05
	PILShutdown     = 0x06
	PILIsSupported  = 0x07
	PILMSSReset     = 0x0a
)

// Secure IO commands.
const (
	IORead  = 0x01
	IOWrite = 0x02
)

// Information service commands.
const (
	InfoIsCallAvailable = 0x01
	InfoGetFeatVersion  = 0x03
)

// Memory protection commands.
const (
	MPRestoreSecConfig    = 0x02
	MPIOMMUSecurePtblSize = 0x03
	MPIOMMUSecurePtblInit = 0x04
	MPIOMMUSetCPPoolSize  = 0x05
	MPVideoVar            = 0x08
	MPAssign              = 0x16
)

// On-chip memory commands.
const (
	OCMemLock   = 0x01
	OCMemUnlock = 0x02
)

// Enterprise security (inline crypto engine) commands.
const (
	ESInvalidateICEKey = 0x03
	ESConfigSetICEKey  = 0x04
	ESDeriveSWSecret   = 0x07
	ESGenerateICEKey   = 0x08
	ESPrepareICEKey    = 0x09
	ESImportICEKey     = 0x0a
)

// HDCP commands.
const (
	HDCPInvoke = 0x01
)

// Limits management hardware commands.
const (
	LMHProfileChange = 0x01
	LMHLimitDCVSH    = 0x10
)

// SMMU programming commands.
const (
	SMMUPTFormat      = 0x01
	SMMUConfigErrata1 = 0x03

	smmuErrataClientAll = 0x02
)

// Wait queue commands.
const (
	WaitQueueResume     = 0x02
	WaitQueueGetContext = 0x03
)
