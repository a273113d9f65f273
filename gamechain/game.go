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

// Package gamechain turns a stream of block notifications from an
// external blockchain daemon into a deterministic, persistent and
// reorganizable game state.
//
// The Game synchronizer is the single writer to its Storage. It reacts
// to tip notifications by rewinding to the deepest common ancestor still
// on the upstream's active chain and then replaying forward, one
// transaction per block, so the checkpoint and the undo log always move
// together.
package gamechain

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/chainbus"
	"github.com/gamechain/gamechain/rules"
	"github.com/gamechain/gamechain/storage"
	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/upstream"
)

// Bus topics published by the engine.
const (
	// TopicCheckpoint carries a types.BlockRef after every committed
	// checkpoint change.
	TopicCheckpoint = "gamechain:checkpoint"
	// TopicSyncState carries a SyncState after every state transition.
	TopicSyncState = "gamechain:syncstate"
)

// Game is the engine instance for one game on one chain.
type Game struct {
	gameID string
	chain  types.Chain
	rules  rules.GameRules
	strg   storage.Storage
	client upstream.Client
	bus    *chainbus.ChainBus

	initialHeight uint32
	initialHash   types.BlockHash

	// pruneDepth < 0 disables pruning.
	pruneDepth int

	// mu serializes the block transactions against readers: a query
	// either sees the pre-transaction state or waits.
	mu        sync.RWMutex
	syncState SyncState
	tip       types.BlockRef
	hasTip    bool
	closed    bool

	// Tip mailbox. Notifications coalesce: only the newest pending tip
	// is kept, and the sync loop observes it at the top of its next
	// iteration rather than preempting the current block.
	pendingMu  sync.Mutex
	pendingTip *types.BlockRef
	notify     chan struct{}

	lastFailed    types.BlockHash
	hasLastFailed bool
}

// NewGame creates an engine for gameID on chain, backed by strg and
// driven by client. The rules' declared initial block is probed once and
// cached; the probe transaction is rolled back.
func NewGame(gameID string, chain types.Chain, r rules.GameRules, strg storage.Storage, client upstream.Client) (g *Game, err error) {
	g = &Game{
		gameID:     gameID,
		chain:      chain,
		rules:      r,
		strg:       strg,
		client:     client,
		bus:        chainbus.New(),
		pruneDepth: -1,
		notify:     make(chan struct{}, 1),
	}

	if err = strg.Open(); err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	if err = g.probeInitialBlock(); err != nil {
		return nil, err
	}

	// Resume the cached tip from a persisted checkpoint. The height is
	// advisory and filled in during the first catch-up.
	if hash, _, ok, err := strg.GetCurrent(); err != nil {
		return nil, errors.Wrap(err, "read persisted checkpoint")
	} else if ok {
		g.tip = types.BlockRef{Hash: hash}
		g.hasTip = true
	}
	return
}

// probeInitialBlock asks the rules for their declared initial block and
// caches height and hash. The probe runs inside a transaction that is
// always rolled back, so table-backed rules leave no trace.
func (g *Game) probeInitialBlock() (err error) {
	if err = g.strg.BeginTx(); err != nil {
		return errors.Wrap(err, "begin probe tx")
	}
	defer g.strg.RollbackTx()

	_, height, hashHex, err := g.rules.InitialState(g.chain)
	if err != nil {
		return errors.Wrap(err, "query rules initial state")
	}
	if err = g.initialHash.FromHex(hashHex); err != nil {
		return errors.Wrapf(ErrConfig, "rules returned bad initial hash %q: %v", hashHex, err)
	}
	g.initialHeight = height
	return nil
}

// GameID returns the game identifier.
func (g *Game) GameID() string {
	return g.gameID
}

// Chain returns the tracked chain.
func (g *Game) Chain() types.Chain {
	return g.chain
}

// Bus returns the engine's announcement bus.
func (g *Game) Bus() *chainbus.ChainBus {
	return g.bus
}

// EnablePruning trims undo entries deeper than keepDepth blocks below the
// tip once the engine is up to date.
func (g *Game) EnablePruning(keepDepth uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneDepth = int(keepDepth)
}

// SyncedState returns the synchronizer's current state.
func (g *Game) SyncedState() SyncState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.syncState
}

func (g *Game) setSyncState(s SyncState) {
	g.mu.Lock()
	old := g.syncState
	g.syncState = s
	g.mu.Unlock()
	if old != s {
		g.bus.Publish(TopicSyncState, s)
	}
}

func (g *Game) setTip(ref types.BlockRef) {
	g.tip = ref
	g.hasTip = true
}

// enqueueTip places ref in the mailbox, replacing any older pending tip.
func (g *Game) enqueueTip(ref types.BlockRef) {
	g.pendingMu.Lock()
	g.pendingTip = &ref
	g.pendingMu.Unlock()
	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// takePending removes and returns the pending tip, if any.
func (g *Game) takePending() (ref types.BlockRef, ok bool) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	if g.pendingTip == nil {
		return
	}
	ref = *g.pendingTip
	g.pendingTip = nil
	return ref, true
}

// hasPending reports whether a newer tip arrived mid-catch-up.
func (g *Game) hasPending() bool {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	return g.pendingTip != nil
}

func (g *Game) markClosed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}
