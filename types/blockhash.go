/*
 * Copyright 2019 The GameChain Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// HashSize is the byte length of a block hash.
const HashSize = 32

// ErrHashStrSize indicates a hex string whose length is not 2*HashSize.
var ErrHashStrSize = errors.New("invalid hash string length")

// BlockHash is an opaque 32-byte block identifier as reported by the
// upstream daemon. Equality and ordering are bytewise.
type BlockHash [HashSize]byte

// Hex returns the big-endian lowercase hex encoding, 64 characters.
func (h BlockHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h BlockHash) String() string {
	return h.Hex()
}

// FromHex parses a 64-character lowercase hex string into h. A failure to
// parse is reported to the caller, never panicked.
func (h *BlockHash) FromHex(s string) (err error) {
	if len(s) != HashSize*2 {
		return errors.Wrapf(ErrHashStrSize, "got %d characters", len(s))
	}
	var raw []byte
	if raw, err = hex.DecodeString(s); err != nil {
		return errors.Wrap(err, "decode block hash")
	}
	copy(h[:], raw)
	return
}

// HashFromHex is a convenience wrapper around FromHex.
func HashFromHex(s string) (h BlockHash, err error) {
	err = h.FromHex(s)
	return
}

// SetBytes sets the hash from a raw byte slice of exactly HashSize bytes.
func (h *BlockHash) SetBytes(b []byte) error {
	if len(b) != HashSize {
		return errors.Errorf("invalid hash length %d, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return nil
}

// AsBytes returns the internal bytes of the hash.
func (h BlockHash) AsBytes() []byte {
	return h[:]
}

// IsEqual returns true if target is the same hash.
func (h *BlockHash) IsEqual(target *BlockHash) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// Less reports the bytewise ordering of two hashes.
func (h BlockHash) Less(other BlockHash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// MarshalJSON encodes the hash as its hex string.
func (h BlockHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON decodes the hash from its hex string.
func (h *BlockHash) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return
	}
	return h.FromHex(s)
}
