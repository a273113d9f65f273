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
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/storage"
	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/upstream"
)

const genesisHeight = 10

func chainHash(n uint32) (h types.BlockHash) {
	h[30] = byte(n >> 8)
	h[31] = byte(n)
	return
}

func genesisHash() types.BlockHash {
	return chainHash(genesisHeight)
}

var errForcedFailure = errors.New("rules failure requested")

// blobChatRules is the pure-blob version of the chat game: the state is
// a JSON object mapping names to messages, the undo entry records the
// previous value of every touched key.
type blobChatRules struct {
	shouldFail bool
}

func (r *blobChatRules) InitialState(chain types.Chain) (types.GameState, uint32, string, error) {
	state, _ := json.Marshal(map[string]string{
		"domob": "hello world",
		"foo":   "bar",
	})
	return state, genesisHeight, genesisHash().Hex(), nil
}

func (r *blobChatRules) Forward(old types.GameState, blk *types.Block) (types.GameState, types.UndoData, error) {
	if r.shouldFail {
		return nil, nil, errForcedFailure
	}

	var state map[string]string
	if err := json.Unmarshal(old, &state); err != nil {
		return nil, nil, err
	}

	prev := make(map[string]*string)
	for _, m := range blk.Moves {
		var msgs []string
		if err := json.Unmarshal(m.Move, &msgs); err != nil {
			return nil, nil, err
		}
		for _, msg := range msgs {
			if _, touched := prev[m.Name]; !touched {
				if old, ok := state[m.Name]; ok {
					v := old
					prev[m.Name] = &v
				} else {
					prev[m.Name] = nil
				}
			}
			state[m.Name] = msg
		}
	}

	newState, err := json.Marshal(state)
	if err != nil {
		return nil, nil, err
	}
	undo, err := json.Marshal(prev)
	if err != nil {
		return nil, nil, err
	}
	return newState, undo, nil
}

func (r *blobChatRules) Backward(old types.GameState, blk *types.Block, undo types.UndoData) (types.GameState, error) {
	var state map[string]string
	if err := json.Unmarshal(old, &state); err != nil {
		return nil, err
	}
	var prev map[string]*string
	if err := json.Unmarshal(undo, &prev); err != nil {
		return nil, err
	}
	for name, msg := range prev {
		if msg == nil {
			delete(state, name)
		} else {
			state[name] = *msg
		}
	}
	return json.Marshal(state)
}

func (r *blobChatRules) StateToView(state types.GameState) (json.RawMessage, error) {
	return json.RawMessage(state), nil
}

/* ************************************************************************ */

type gameTest struct {
	t     *testing.T
	game  *Game
	mock  *upstream.MockClient
	rules *blobChatRules
	strg  storage.Storage
}

func newGameTest(t *testing.T, startHeight uint32) *gameTest {
	mock := upstream.NewMockClient()
	mock.SetStartingBlock(types.BlockRef{
		Height: startHeight,
		Hash:   chainHash(startHeight),
	})

	r := &blobChatRules{}
	strg := storage.NewMemoryStorage()
	game, err := NewGame("chat", types.RegTest, r, strg, mock)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	return &gameTest{t: t, game: game, mock: mock, rules: r, strg: strg}
}

// sync processes the mock's current tip synchronously.
func (h *gameTest) sync() error {
	return h.game.processTip(context.Background(), h.mock.Tip())
}

func (h *gameTest) mustSync() {
	if err := h.sync(); err != nil {
		h.t.Fatalf("error occurred: %v", err)
	}
}

func (h *gameTest) attach(height uint32, parent types.BlockHash, moves ...types.Move) *types.Block {
	blk := &types.Block{
		BlockRef: types.BlockRef{
			Height: height,
			Hash:   chainHash(height),
			Parent: parent,
		},
		Moves: moves,
	}
	h.mock.AttachBlock(blk)
	return blk
}

func move(name string, msgs ...string) types.Move {
	raw, _ := json.Marshal(msgs)
	return types.Move{Name: name, Move: raw}
}

func (h *gameTest) expectState(want map[string]string) {
	view, err := h.game.CurrentView()
	if err != nil {
		h.t.Fatalf("error occurred: %v", err)
	}
	var got map[string]string
	if err = json.Unmarshal(view, &got); err != nil {
		h.t.Fatalf("error occurred: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		h.t.Errorf("unexpected state: got %v, want %v", got, want)
	}
}

func (h *gameTest) expectTipHash(hash types.BlockHash) {
	cur, _, ok, err := h.strg.GetCurrent()
	if err != nil || !ok {
		h.t.Fatalf("no checkpoint: ok=%v err=%v", ok, err)
	}
	if cur != hash {
		h.t.Errorf("unexpected checkpoint: got %s, want %s", cur, hash)
	}
}

var initialChatState = map[string]string{"domob": "hello world", "foo": "bar"}

/* ************************************************************************ */

func TestBootstrapCommitsInitialState(t *testing.T) {
	h := newGameTest(t, genesisHeight)
	h.mustSync()

	if s := h.game.SyncedState(); s != UpToDate {
		t.Errorf("unexpected sync state: %v", s)
	}
	h.expectState(initialChatState)
	h.expectTipHash(genesisHash())
}

func TestPregenesis(t *testing.T) {
	h := newGameTest(t, genesisHeight-1)
	h.mustSync()

	if s := h.game.SyncedState(); s != Pregenesis {
		t.Errorf("unexpected sync state: %v", s)
	}
	if _, _, ok, err := h.strg.GetCurrent(); err != nil || ok {
		t.Errorf("pregenesis must leave storage virgin: ok=%v err=%v", ok, err)
	}

	// Once the chain reaches the initial height, the next tip event
	// bootstraps the state.
	h.attach(genesisHeight, chainHash(genesisHeight-1))
	h.mustSync()
	h.expectState(initialChatState)
}

func TestBootstrapChainMismatchIsFatal(t *testing.T) {
	mock := upstream.NewMockClient()
	// The daemon's chain is at the right height but the game's initial
	// block is not part of it.
	mock.SetStartingBlock(types.BlockRef{Height: genesisHeight, Hash: chainHash(999)})

	strg := storage.NewMemoryStorage()
	game, err := NewGame("chat", types.RegTest, &blobChatRules{}, strg, mock)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	err = game.processTip(context.Background(), mock.Tip())
	if errors.Cause(err) != ErrInvariant {
		t.Fatalf("expected invariant fault, got %v", err)
	}
	if !isFatal(err) {
		t.Error("rule/chain mismatch must be fatal")
	}
}

func TestForwardAndBackward(t *testing.T) {
	h := newGameTest(t, genesisHeight)
	h.mustSync()

	h.attach(11, genesisHash(), move("a", "x", "y"), move("domob", "new"))
	h.mustSync()
	h.expectState(map[string]string{"a": "y", "domob": "new", "foo": "bar"})

	h.attach(12, chainHash(11), move("a", "z"))
	h.mustSync()
	h.expectState(map[string]string{"a": "z", "domob": "new", "foo": "bar"})

	h.mock.DetachBlock()
	h.mustSync()
	h.expectState(map[string]string{"a": "y", "domob": "new", "foo": "bar"})

	h.mock.DetachBlock()
	h.mustSync()
	h.expectState(initialChatState)
	h.expectTipHash(genesisHash())
}

func TestRulesFailureIsAtomic(t *testing.T) {
	h := newGameTest(t, genesisHeight)
	h.mustSync()

	h.rules.shouldFail = true
	h.attach(11, genesisHash(), move("domob", "failed"))
	if err := h.sync(); errors.Cause(err) != errForcedFailure {
		t.Fatalf("expected rules failure, got %v", err)
	}

	// The checkpoint and the undo log are untouched.
	h.expectTipHash(genesisHash())
	h.expectState(initialChatState)
	if _, ok, err := h.strg.GetUndo(chainHash(11)); err != nil || ok {
		t.Errorf("failed attach must not store undo: ok=%v err=%v", ok, err)
	}

	// Clearing the flag, the very same tip event succeeds.
	h.rules.shouldFail = false
	h.mustSync()
	h.expectState(map[string]string{"domob": "failed", "foo": "bar"})
}

func TestRepeatedRulesFailureIsFatal(t *testing.T) {
	h := newGameTest(t, genesisHeight)
	h.mustSync()

	h.rules.shouldFail = true
	h.attach(11, genesisHash(), move("domob", "failed"))

	if err := h.sync(); isFatal(err) {
		t.Fatalf("first failure must be retryable, got %v", err)
	}
	err := h.sync()
	if errors.Cause(err) != ErrRulesFailed {
		t.Fatalf("expected ErrRulesFailed, got %v", err)
	}
	if !isFatal(err) {
		t.Error("second failure on the same block must be fatal")
	}
}

func TestReorg(t *testing.T) {
	h := newGameTest(t, genesisHeight)
	h.mustSync()

	// Sync to tip A@11.
	blkA := h.attach(11, genesisHash(), move("a", "first"))
	h.mustSync()
	h.expectState(map[string]string{"a": "first", "domob": "hello world", "foo": "bar"})

	// The upstream reorganizes to B@11 with the same parent.
	h.mock.DetachBlock()
	blkB := &types.Block{
		BlockRef: types.BlockRef{
			Height: 11,
			Hash:   chainHash(900),
			Parent: genesisHash(),
		},
		Moves: []types.Move{move("b", "second")},
	}
	h.mock.AttachBlock(blkB)
	h.mustSync()

	h.expectState(map[string]string{"b": "second", "domob": "hello world", "foo": "bar"})
	h.expectTipHash(blkB.Hash)

	// The undo log contains exactly one entry, the one for B.
	if _, ok, err := h.strg.GetUndo(blkA.Hash); err != nil || ok {
		t.Errorf("undo entry for the detached branch must be gone: ok=%v err=%v", ok, err)
	}
	if _, ok, err := h.strg.GetUndo(blkB.Hash); err != nil || !ok {
		t.Errorf("undo entry for the new tip must exist: ok=%v err=%v", ok, err)
	}

	// Detaching now yields the state at the common ancestor.
	h.mock.DetachBlock()
	h.mustSync()
	h.expectState(initialChatState)
}

func TestPruning(t *testing.T) {
	h := newGameTest(t, genesisHeight)
	h.game.EnablePruning(1)
	h.mustSync()

	h.attach(11, genesisHash(), move("a", "x"))
	h.mustSync()
	h.attach(12, chainHash(11), move("a", "y"))
	h.mustSync()

	// Undo for height 11 is pruned, the tip's own entry survives.
	if _, ok, err := h.strg.GetUndo(chainHash(11)); err != nil || ok {
		t.Errorf("old undo entry must be pruned: ok=%v err=%v", ok, err)
	}
	if _, ok, err := h.strg.GetUndo(chainHash(12)); err != nil || !ok {
		t.Errorf("tip undo entry must survive pruning: ok=%v err=%v", ok, err)
	}

	// Pruning never changes the checkpoint.
	h.expectTipHash(chainHash(12))
	h.expectState(map[string]string{"a": "y", "domob": "hello world", "foo": "bar"})
}

func TestTipCoalescing(t *testing.T) {
	h := newGameTest(t, genesisHeight)
	h.mustSync()

	// Two tips arrive while the engine is busy; only the newest pending
	// one is kept.
	h.attach(11, genesisHash(), move("a", "x"))
	h.attach(12, chainHash(11), move("a", "y"))
	h.game.enqueueTip(types.BlockRef{Height: 11, Hash: chainHash(11)})
	h.game.enqueueTip(h.mock.Tip())

	ref, ok := h.game.takePending()
	if !ok || ref.Hash != chainHash(12) {
		t.Fatalf("mailbox must keep the newest tip: ok=%v ref=%v", ok, ref)
	}
	if _, ok = h.game.takePending(); ok {
		t.Fatal("mailbox must be drained after take")
	}

	if err := h.game.processTip(context.Background(), ref); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	h.expectState(map[string]string{"a": "y", "domob": "hello world", "foo": "bar"})
	if s := h.game.SyncedState(); s != UpToDate {
		t.Errorf("unexpected sync state: %v", s)
	}
}
