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
	"encoding/json"
	"strings"
	"testing"
)

func TestChainString(t *testing.T) {
	cases := []struct {
		chain Chain
		str   string
	}{
		{MainNet, "main"},
		{TestNet, "test"},
		{RegTest, "regtest"},
		{Chain(42), "invalid"},
	}
	for _, c := range cases {
		if s := c.chain.String(); s != c.str {
			t.Errorf("chain %d: got %q, want %q", c.chain, s, c.str)
		}
	}
}

func TestChainFromString(t *testing.T) {
	for _, c := range []Chain{MainNet, TestNet, RegTest} {
		parsed, err := ChainFromString(c.String())
		if err != nil {
			t.Fatalf("error occurred: %v", err)
		}
		if parsed != c {
			t.Errorf("round trip of %v: got %v", c, parsed)
		}
	}
	if _, err := ChainFromString("mainnet"); err == nil {
		t.Fatal("unexpected result: returned nil while expecting an error")
	}
}

func TestBlockHashHex(t *testing.T) {
	var h BlockHash
	h[0] = 0xab
	h[31] = 0x01
	s := h.Hex()
	if len(s) != 64 {
		t.Fatalf("unexpected hex length: %d", len(s))
	}
	if !strings.HasPrefix(s, "ab00") || !strings.HasSuffix(s, "01") {
		t.Errorf("unexpected hex encoding: %s", s)
	}

	var parsed BlockHash
	if err := parsed.FromHex(s); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if !parsed.IsEqual(&h) {
		t.Errorf("round trip mismatch: %s vs %s", parsed, h)
	}
}

func TestBlockHashFromHexErrors(t *testing.T) {
	var h BlockHash
	if err := h.FromHex("abcd"); err == nil {
		t.Error("short string: expected an error")
	}
	if err := h.FromHex(strings.Repeat("zz", 32)); err == nil {
		t.Error("non-hex string: expected an error")
	}
}

func TestBlockHashOrdering(t *testing.T) {
	var a, b BlockHash
	b[0] = 1
	if !a.Less(b) || b.Less(a) {
		t.Error("unexpected bytewise ordering")
	}
}

func TestBlockJSON(t *testing.T) {
	raw := `{
		"height": 11,
		"hash": "` + strings.Repeat("11", 32) + `",
		"parent": "` + strings.Repeat("10", 32) + `",
		"moves": [
			{"name": "a", "move": ["x", "y"]},
			{"name": "domob", "move": ["new"]}
		]
	}`
	var blk Block
	if err := json.Unmarshal([]byte(raw), &blk); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if blk.Height != 11 {
		t.Errorf("unexpected height: %d", blk.Height)
	}
	if blk.Hash.Hex() != strings.Repeat("11", 32) {
		t.Errorf("unexpected hash: %s", blk.Hash)
	}
	if len(blk.Moves) != 2 || blk.Moves[0].Name != "a" || blk.Moves[1].Name != "domob" {
		t.Errorf("unexpected moves: %+v", blk.Moves)
	}
}
