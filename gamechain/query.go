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

package gamechain

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/types"
)

// State selectors accepted by ViewAt. A block selector is the string
// "block " followed by the hex hash.
const (
	SelectorCurrent = "current"
	SelectorInitial = "initial"

	blockSelectorPrefix = "block "
)

// Tip returns the current checkpoint's block reference. ok is false while
// the storage is virgin. The Height and Parent fields are advisory; Hash
// is authoritative.
func (g *Game) Tip() (ref types.BlockRef, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tip, g.hasTip
}

// CurrentView projects the current game state through the rules' view
// function. Readers never observe a torn state: a query either sees the
// pre-transaction state or waits for the in-flight block to commit.
func (g *Game) CurrentView() (json.RawMessage, error) {
	return g.ViewAt(SelectorCurrent)
}

// ViewAt serves the named historical views: "current", "initial" (only
// while the checkpoint still is the initial block) and "block <hex>"
// (only while <hex> is the checkpoint hash). A mismatch is a caller bug
// reported as ErrPreconditionFailed, never a transient.
func (g *Game) ViewAt(selector string) (view json.RawMessage, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return nil, ErrShutdown
	}

	curHash, state, ok, err := g.strg.GetCurrent()
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}
	if !ok {
		return nil, errors.Wrap(ErrPreconditionFailed, "no game state is stored yet")
	}

	switch {
	case selector == SelectorCurrent:
		// No verification needed.
	case selector == SelectorInitial:
		if curHash != g.initialHash {
			return nil, errors.Wrapf(ErrPreconditionFailed,
				"state %s does not match the game's initial block", curHash)
		}
	case strings.HasPrefix(selector, blockSelectorPrefix):
		var want types.BlockHash
		if err = want.FromHex(strings.TrimPrefix(selector, blockSelectorPrefix)); err != nil {
			return nil, errors.Wrapf(ErrBadSelector, "bad block hash in selector %q", selector)
		}
		if curHash != want {
			return nil, errors.Wrapf(ErrPreconditionFailed,
				"block %s does not match claimed current game state %s", want, curHash)
		}
	default:
		return nil, errors.Wrapf(ErrBadSelector, "selector %q", selector)
	}

	if view, err = g.rules.StateToView(state); err != nil {
		return nil, errors.Wrap(err, "project state to view")
	}
	return
}
