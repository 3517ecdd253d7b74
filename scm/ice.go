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
	"github.com/tee-dev/secure-channel/secmem"
)

// Inline crypto engine key management. All key material crosses the call
// gate in Secret buffers, wiped before their backing store is released on
// every path, including rollback after a failed sibling allocation.

// Cipher selects the inline encryption algorithm and key size for a
// programmed keyslot.
type Cipher uint32

const (
	CipherAES128XTS Cipher = 0
	CipherAES128CBC Cipher = 1
	CipherAES256XTS Cipher = 3
	CipherAES256CBC Cipher = 4
)

// ICEAvailable reports whether the firmware implements the inline crypto
// engine keyslot interface.
func (s *SCM) ICEAvailable() bool {
	return s.IsCallAvailable(SvcES, ESInvalidateICEKey) &&
		s.IsCallAvailable(SvcES, ESConfigSetICEKey)
}

// ICESetKey programs key into the given keyslot.
func (s *SCM) ICESetKey(index uint32, key []byte, cipher Cipher, dataUnitSize uint32) error {
	buf, err := s.mem.Acquire(len(key), secmem.Secret)

	if err != nil {
		return err
	}
	defer s.mem.Release(buf)

	copy(buf.Data, key)
	buf.Flush()

	_, err = s.Call(&Desc{
		Svc:   SvcES,
		Cmd:   ESConfigSetICEKey,
		Owner: OwnerSIP,
		Args: []uint64{
			uint64(index), buf.Addr, uint64(len(key)),
			uint64(cipher), uint64(dataUnitSize),
		},
		Types: []ArgType{ArgValue, ArgRW, ArgValue, ArgValue, ArgValue},
	})

	return err
}

// ICEInvalidateKey evicts the key programmed in the given keyslot.
func (s *SCM) ICEInvalidateKey(index uint32) error {
	_, err := s.Call(&Desc{
		Svc:   SvcES,
		Cmd:   ESInvalidateICEKey,
		Owner: OwnerSIP,
		Args:  []uint64{uint64(index)},
	})

	return err
}

// ICEDeriveSWSecret derives the software secret tied to the given hardware
// wrapped key, filling secret to its length.
func (s *SCM) ICEDeriveSWSecret(wrapped, secret []byte) error {
	secretBuf, err := s.mem.Acquire(len(secret), secmem.Secret)

	if err != nil {
		return err
	}

	wrappedBuf, err := s.mem.Acquire(len(wrapped), secmem.Secret)

	if err != nil {
		s.mem.Release(secretBuf)
		return err
	}

	defer s.mem.Release(wrappedBuf)
	defer s.mem.Release(secretBuf)

	secmem.Wipe(secretBuf.Data)
	secretBuf.Flush()

	copy(wrappedBuf.Data, wrapped)
	wrappedBuf.Flush()

	_, err = s.Call(&Desc{
		Svc:   SvcES,
		Cmd:   ESDeriveSWSecret,
		Owner: OwnerSIP,
		Args: []uint64{
			wrappedBuf.Addr, uint64(len(wrapped)),
			secretBuf.Addr, uint64(len(secret)),
		},
		Types: []ArgType{ArgRW, ArgValue, ArgRW, ArgValue},
	})

	if err != nil {
		return err
	}

	secretBuf.Invalidate()
	copy(secret, secretBuf.Data)

	return nil
}

// ICEGenerateKey asks the secure side to generate a hardware wrapped key,
// filling ltKey to its length.
func (s *SCM) ICEGenerateKey(ltKey []byte) error {
	buf, err := s.mem.Acquire(len(ltKey), secmem.Secret)

	if err != nil {
		return err
	}
	defer s.mem.Release(buf)

	secmem.Wipe(buf.Data)
	buf.Flush()

	_, err = s.Call(&Desc{
		Svc:   SvcES,
		Cmd:   ESGenerateICEKey,
		Owner: OwnerSIP,
		Args:  []uint64{buf.Addr, uint64(len(ltKey))},
		Types: []ArgType{ArgRW, ArgValue},
	})

	if err != nil {
		return err
	}

	buf.Invalidate()
	copy(ltKey, buf.Data)

	return nil
}

// ICEPrepareKey rewraps a long-term wrapped key with the per-boot ephemeral
// wrapping key, filling ephKey to its length.
func (s *SCM) ICEPrepareKey(ltKey, ephKey []byte) error {
	return s.iceRewrap(ESPrepareICEKey, ltKey, ephKey)
}

// ICEImportKey converts a raw key into a long-term hardware wrapped key,
// filling ltKey to its length.
func (s *SCM) ICEImportKey(rawKey, ltKey []byte) error {
	return s.iceRewrap(ESImportICEKey, rawKey, ltKey)
}

// iceRewrap passes one key in and receives another. The output buffer is
// allocated first and rolled back, wiped, if the input allocation fails.
func (s *SCM) iceRewrap(cmd uint32, in, out []byte) error {
	outBuf, err := s.mem.Acquire(len(out), secmem.Secret)

	if err != nil {
		return err
	}

	inBuf, err := s.mem.Acquire(len(in), secmem.Secret)

	if err != nil {
		s.mem.Release(outBuf)
		return err
	}

	defer s.mem.Release(inBuf)
	defer s.mem.Release(outBuf)

	secmem.Wipe(outBuf.Data)
	outBuf.Flush()

	copy(inBuf.Data, in)
	inBuf.Flush()

	_, err = s.Call(&Desc{
		Svc:   SvcES,
		Cmd:   cmd,
		Owner: OwnerSIP,
		Args: []uint64{
			inBuf.Addr, uint64(len(in)),
			outBuf.Addr, uint64(len(out)),
		},
		Types: []ArgType{ArgRO, ArgValue, ArgRW, ArgValue},
	})

	if err != nil {
		return err
	}

	outBuf.Invalidate()
	copy(out, outBuf.Data)

	return nil
}
