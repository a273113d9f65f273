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
	"testing"

	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/types"
)

func fullCallbacks() Callbacks {
	return Callbacks{
		InitialState: func(chain types.Chain) (types.GameState, uint32, string, error) {
			return types.GameState("init"), 10, "ab", nil
		},
		Forward: func(old types.GameState, blk *types.Block) (types.GameState, types.UndoData, error) {
			return append(old, 'f'), types.UndoData("undo"), nil
		},
		Backward: func(old types.GameState, blk *types.Block, undo types.UndoData) (types.GameState, error) {
			return old[:len(old)-1], nil
		},
	}
}

func TestCallbackRulesRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cb *Callbacks)
	}{
		{"InitialState", func(cb *Callbacks) { cb.InitialState = nil }},
		{"Forward", func(cb *Callbacks) { cb.Forward = nil }},
		{"Backward", func(cb *Callbacks) { cb.Backward = nil }},
	}
	for _, c := range cases {
		cb := fullCallbacks()
		c.mutate(&cb)
		if _, err := NewCallbackRules(cb); errors.Cause(err) != ErrMissingCallback {
			t.Errorf("missing %s: got %v", c.name, err)
		}
	}
}

func TestCallbackRulesDispatch(t *testing.T) {
	r, err := NewCallbackRules(fullCallbacks())
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	state, height, hashHex, err := r.InitialState(types.RegTest)
	if err != nil || string(state) != "init" || height != 10 || hashHex != "ab" {
		t.Errorf("unexpected initial state: %q %d %q %v", state, height, hashHex, err)
	}

	blk := &types.Block{}
	next, undo, err := r.Forward(state, blk)
	if err != nil || string(next) != "initf" || string(undo) != "undo" {
		t.Errorf("unexpected forward result: %q %q %v", next, undo, err)
	}

	back, err := r.Backward(next, blk, undo)
	if err != nil || string(back) != "init" {
		t.Errorf("unexpected backward result: %q %v", back, err)
	}
}

func TestCallbackRulesDefaultView(t *testing.T) {
	r, err := NewCallbackRules(fullCallbacks())
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	view, err := r.StateToView(types.GameState("blob"))
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	var decoded string
	if err = json.Unmarshal(view, &decoded); err != nil || decoded != "blob" {
		t.Errorf("unexpected default view: %s %v", view, err)
	}

	custom := fullCallbacks()
	custom.StateToView = func(state types.GameState) (json.RawMessage, error) {
		return json.RawMessage(`{"custom":true}`), nil
	}
	r, err = NewCallbackRules(custom)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if view, err = r.StateToView(nil); err != nil || string(view) != `{"custom":true}` {
		t.Errorf("unexpected custom view: %s %v", view, err)
	}
}
