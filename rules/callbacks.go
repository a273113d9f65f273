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

package rules

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/types"
)

// Callbacks is the function-value façade over GameRules. InitialState,
// Forward and Backward are required; StateToView defaults to the identity
// projection when nil.
type Callbacks struct {
	InitialState func(chain types.Chain) (types.GameState, uint32, string, error)
	Forward      func(old types.GameState, blk *types.Block) (types.GameState, types.UndoData, error)
	Backward     func(old types.GameState, blk *types.Block, undo types.UndoData) (types.GameState, error)
	StateToView  func(state types.GameState) (json.RawMessage, error)
}

// ErrMissingCallback indicates a Callbacks value lacking one of the
// required function fields.
var ErrMissingCallback = errors.New("missing required rules callback")

type callbackRules struct {
	BaseRules
	cb Callbacks
}

// NewCallbackRules wraps cb into a GameRules. It is the same concept as
// implementing the interface directly, offered as a second constructor.
func NewCallbackRules(cb Callbacks) (GameRules, error) {
	if cb.InitialState == nil {
		return nil, errors.Wrap(ErrMissingCallback, "InitialState")
	}
	if cb.Forward == nil {
		return nil, errors.Wrap(ErrMissingCallback, "Forward")
	}
	if cb.Backward == nil {
		return nil, errors.Wrap(ErrMissingCallback, "Backward")
	}
	return &callbackRules{cb: cb}, nil
}

func (r *callbackRules) InitialState(chain types.Chain) (types.GameState, uint32, string, error) {
	return r.cb.InitialState(chain)
}

func (r *callbackRules) Forward(old types.GameState, blk *types.Block) (types.GameState, types.UndoData, error) {
	return r.cb.Forward(old, blk)
}

func (r *callbackRules) Backward(old types.GameState, blk *types.Block, undo types.UndoData) (types.GameState, error) {
	return r.cb.Backward(old, blk, undo)
}

func (r *callbackRules) StateToView(state types.GameState) (json.RawMessage, error) {
	if r.cb.StateToView != nil {
		return r.cb.StateToView(state)
	}
	return r.BaseRules.StateToView(state)
}
