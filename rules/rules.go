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

// Package rules defines the capability the application supplies to the
// engine: pure state-transition functions over the opaque game state.
package rules

import (
	"encoding/json"

	"github.com/gamechain/gamechain/types"
)

// GameRules is the transition capability supplied by the application.
//
// Forward and Backward must be exact inverses: for every valid state s
// and block b, Backward(Forward(s, b).state, b, Forward(s, b).undo) == s.
// A returned error aborts the enclosing block transaction with no
// mutation of the stored state.
type GameRules interface {
	// InitialState returns the initial game state together with the
	// height and block hash (hex) at which it is defined. Must be
	// deterministic per chain.
	InitialState(chain types.Chain) (state types.GameState, height uint32, hashHex string, err error)

	// Forward applies blk on top of old and returns the new state plus
	// the undo data needed to revert it.
	Forward(old types.GameState, blk *types.Block) (new types.GameState, undo types.UndoData, err error)

	// Backward reverts blk, restoring the state that Forward started
	// from.
	Backward(old types.GameState, blk *types.Block, undo types.UndoData) (types.GameState, error)

	// StateToView projects a game state into the JSON view served to
	// queries.
	StateToView(state types.GameState) (json.RawMessage, error)
}

// BaseRules provides the default StateToView projection. Embed it to get
// the identity projection of the raw state bytes.
type BaseRules struct{}

// StateToView returns the state blob encoded as a JSON string.
func (BaseRules) StateToView(state types.GameState) (json.RawMessage, error) {
	return json.Marshal(string(state))
}
