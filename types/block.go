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
)

// BlockRef locates one block in the upstream chain. Height is advisory;
// Parent is the authority for reorg detection.
type BlockRef struct {
	Height uint32    `json:"height"`
	Hash   BlockHash `json:"hash"`
	Parent BlockHash `json:"parent"`
}

// Move is a structured per-block message addressed to the game. The engine
// hands it to the game rules without interpreting the payload.
type Move struct {
	Name string          `json:"name"`
	Move json.RawMessage `json:"move"`
	Txid string          `json:"txid,omitempty"`
}

// Block is the upstream-supplied record handed to the game rules.
//
// Moves are delivered to the rules in the order given here, which is the
// JSON-array order reported by the upstream daemon. That ordering is part
// of the block-structure contract; rules are free to reorder internally.
type Block struct {
	BlockRef
	Moves   []Move `json:"moves"`
	RngSeed string `json:"rngseed,omitempty"`
}
