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
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/upstream"
	"github.com/gamechain/gamechain/utils/log"
)

const maxReconnectInterval = 2 * time.Minute

// Run drives the synchronizer until ctx is canceled. It is the single
// writer to the engine's storage. Transient upstream and storage faults
// are recovered by reconnecting with capped exponential backoff; an
// invariant violation or a repeated rules failure terminates the run.
func (g *Game) Run(ctx context.Context) (err error) {
	defer g.markClosed()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectInterval
	bo.MaxElapsedTime = 0

	for {
		err = g.runConnected(ctx, bo)
		if ctx.Err() != nil {
			// Cooperative shutdown: the in-flight block transaction has
			// been finished or rolled back by now.
			log.WithField("game", g.gameID).Info("synchronizer shut down")
			return nil
		}
		if isFatal(err) {
			log.WithError(err).WithField("game", g.gameID).Error("synchronizer failed")
			return err
		}

		g.setSyncState(Disconnected)
		wait := bo.NextBackOff()
		log.WithError(err).WithFields(log.Fields{
			"game":  g.gameID,
			"retry": wait,
		}).Warning("lost upstream, backing off")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func isFatal(err error) bool {
	switch errors.Cause(err) {
	case ErrInvariant, ErrConfig, ErrRulesFailed:
		return true
	}
	return false
}

// runConnected subscribes to the upstream and processes tip events until
// the connection drops, a fatal fault occurs or ctx is canceled.
func (g *Game) runConnected(ctx context.Context, bo *backoff.ExponentialBackOff) (err error) {
	tips, err := g.client.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe to upstream")
	}

	remote, err := g.client.GetTip(ctx)
	if err != nil {
		return errors.Wrap(err, "query remote tip")
	}
	bo.Reset()
	g.setSyncState(CatchingUp)
	g.enqueueTip(remote)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ref, ok := <-tips:
			if !ok {
				return errors.Wrap(upstream.ErrDisconnected, "tip subscription closed")
			}
			g.enqueueTip(ref)
		case <-g.notify:
		}

		for {
			ref, ok := g.takePending()
			if !ok {
				break
			}
			if err = g.processTip(ctx, ref); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// processTip reconciles the local checkpoint with one observed remote
// tip. It loops internally because rewinding and advancing are performed
// one block transaction at a time; a newer tip arriving meanwhile makes
// it yield so the caller re-enters with the newer value.
func (g *Game) processTip(ctx context.Context, remote types.BlockRef) (err error) {
	for {
		curHash, _, ok, err := g.strg.GetCurrent()
		if err != nil {
			return errors.Wrap(err, "read checkpoint")
		}

		if !ok {
			initialized, err := g.bootstrap(ctx, remote)
			if err != nil || !initialized {
				return err
			}
			continue
		}

		if curHash == remote.Hash {
			g.setSyncState(UpToDate)
			g.maybePrune(remote.Height)
			return nil
		}

		g.setSyncState(CatchingUp)

		common, err := g.rewindToActive(ctx)
		if err != nil {
			return err
		}
		path, err := g.forwardPath(ctx, common, remote)
		if err != nil {
			return err
		}
		for _, blk := range path {
			if err = g.attachBlock(blk); err != nil {
				return err
			}
			if g.hasPending() || ctx.Err() != nil {
				// Coalesced: the newer tip is observed at the top of the
				// next iteration instead of preempting this walk.
				return nil
			}
		}
	}
}

// bootstrap handles the virgin storage cases: waiting for the chain to
// reach the game's initial height, or committing the initial checkpoint.
// A false return without error means pregenesis.
func (g *Game) bootstrap(ctx context.Context, remote types.BlockRef) (initialized bool, err error) {
	if remote.Height < g.initialHeight {
		log.WithFields(log.Fields{
			"game":   g.gameID,
			"remote": remote.Height,
			"wanted": g.initialHeight,
		}).Info("waiting for the chain to reach the game's initial height")
		g.setSyncState(Pregenesis)
		return false, nil
	}

	active, err := g.client.IsOnActiveChain(ctx, g.initialHash)
	if err != nil {
		return false, errors.Wrap(err, "verify initial block")
	}
	if !active {
		// The rules name an initial block the daemon's chain does not
		// contain: either the rules or the configured chain is wrong.
		return false, errors.Wrapf(ErrInvariant,
			"initial block %s is not on the upstream active chain", g.initialHash)
	}

	if err = g.commitInitialState(); err != nil {
		return false, err
	}

	ref := types.BlockRef{Height: g.initialHeight, Hash: g.initialHash}
	g.bus.Publish(TopicCheckpoint, ref)
	log.WithFields(log.Fields{
		"game":   g.gameID,
		"height": g.initialHeight,
		"hash":   g.initialHash,
	}).Info("committed initial game state")
	return true, nil
}

// commitInitialState writes the initial checkpoint while holding the
// write lock against readers.
func (g *Game) commitInitialState() (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err = g.strg.BeginTx(); err != nil {
		return errors.Wrap(err, "begin initial tx")
	}
	state, height, hashHex, err := g.rules.InitialState(g.chain)
	if err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "rules initial state")
	}
	if hashHex != g.initialHash.Hex() || height != g.initialHeight {
		g.strg.RollbackTx()
		return errors.Wrap(ErrInvariant, "rules changed their initial block")
	}
	if err = g.strg.SetCurrent(g.initialHash, state); err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "write initial checkpoint")
	}
	if err = g.strg.CommitTx(); err != nil {
		return errors.Wrap(err, "commit initial checkpoint")
	}
	g.setTip(types.BlockRef{Height: g.initialHeight, Hash: g.initialHash})
	return nil
}

// rewindToActive detaches blocks from the local tip until the checkpoint
// is on the upstream's active chain, and returns that common ancestor.
// The upstream daemon is the authority here; heights are never trusted
// as a substitute.
func (g *Game) rewindToActive(ctx context.Context) (common types.BlockHash, err error) {
	for {
		cur, _, ok, err := g.strg.GetCurrent()
		if err != nil {
			return common, errors.Wrap(err, "read checkpoint")
		}
		if !ok {
			return common, errors.Wrap(ErrInvariant, "checkpoint vanished during rewind")
		}

		active, err := g.client.IsOnActiveChain(ctx, cur)
		if err != nil {
			return common, errors.Wrap(err, "check active chain")
		}
		if active {
			return cur, nil
		}
		if cur == g.initialHash {
			return common, errors.Wrap(ErrInvariant,
				"initial block fell off the active chain")
		}

		blk, err := g.client.GetBlock(ctx, cur)
		if err != nil {
			return common, errors.Wrapf(err, "fetch block %s for rewind", cur)
		}
		if err = g.detachBlock(blk); err != nil {
			return common, err
		}
	}
}

// forwardPath collects the blocks from common (exclusive) to remote
// (inclusive), oldest first, by walking parent links backward.
func (g *Game) forwardPath(ctx context.Context, common types.BlockHash, remote types.BlockRef) (path []*types.Block, err error) {
	cur := remote.Hash
	for cur != common {
		blk, err := g.client.GetBlock(ctx, cur)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch block %s for catch-up", cur)
		}
		path = append(path, blk)
		if blk.Height <= g.initialHeight && blk.Hash != g.initialHash {
			return nil, errors.Wrapf(ErrInvariant,
				"catch-up walked below the initial height at %s", blk.Hash)
		}
		cur = blk.Parent
	}
	// Reverse into application order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return
}

// attachBlock applies one block in its own transaction:
//
//	old state -> rules.Forward -> store undo -> move checkpoint
//
// Any failure rolls back, leaving checkpoint and undo log at their
// pre-transition values.
func (g *Game) attachBlock(blk *types.Block) (err error) {
	if err = g.attachBlockLocked(blk); err != nil {
		return
	}
	g.bus.Publish(TopicCheckpoint, blk.BlockRef)
	log.WithFields(log.Fields{
		"game":   g.gameID,
		"height": blk.Height,
		"hash":   blk.Hash,
	}).Debug("attached block")
	return nil
}

func (g *Game) attachBlockLocked(blk *types.Block) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err = g.strg.BeginTx(); err != nil {
		return errors.Wrap(err, "begin attach tx")
	}

	curHash, oldState, ok, err := g.strg.GetCurrent()
	if err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "read checkpoint")
	}
	if !ok || curHash != blk.Parent {
		g.strg.RollbackTx()
		return errors.Wrapf(ErrInvariant,
			"attach of %s does not extend checkpoint %s", blk.Hash, curHash)
	}

	newState, undo, err := g.rules.Forward(oldState, blk)
	if err != nil {
		g.strg.RollbackTx()
		return g.rulesFailure(blk, err)
	}
	if err = g.strg.StoreUndo(blk.Hash, blk.Height, undo); err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "store undo entry")
	}
	if err = g.strg.SetCurrent(blk.Hash, newState); err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "move checkpoint forward")
	}
	if err = g.strg.CommitTx(); err != nil {
		return errors.Wrap(err, "commit attach tx")
	}

	g.hasLastFailed = false
	g.setTip(blk.BlockRef)
	return nil
}

// rulesFailure classifies a rules error. The block transaction has been
// rolled back already; a second consecutive failure on the same block
// means the chain is unprocessable and the fault is fatal.
func (g *Game) rulesFailure(blk *types.Block, cause error) error {
	if g.hasLastFailed && g.lastFailed == blk.Hash {
		return errors.Wrapf(ErrRulesFailed, "block %s: %v", blk.Hash, cause)
	}
	g.lastFailed = blk.Hash
	g.hasLastFailed = true
	log.WithError(cause).WithFields(log.Fields{
		"game": g.gameID,
		"hash": blk.Hash,
	}).Warning("rules rejected block, will retry once")
	return errors.Wrapf(cause, "rules rejected block %s", blk.Hash)
}

// detachBlock reverts one block in its own transaction, consuming its
// undo entry.
func (g *Game) detachBlock(blk *types.Block) (err error) {
	if err = g.detachBlockLocked(blk); err != nil {
		return
	}
	g.bus.Publish(TopicCheckpoint, types.BlockRef{Height: blk.Height - 1, Hash: blk.Parent})
	log.WithFields(log.Fields{
		"game":   g.gameID,
		"height": blk.Height,
		"hash":   blk.Hash,
	}).Debug("detached block")
	return nil
}

func (g *Game) detachBlockLocked(blk *types.Block) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err = g.strg.BeginTx(); err != nil {
		return errors.Wrap(err, "begin detach tx")
	}

	curHash, oldState, ok, err := g.strg.GetCurrent()
	if err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "read checkpoint")
	}
	if !ok || curHash != blk.Hash {
		g.strg.RollbackTx()
		return errors.Wrapf(ErrInvariant,
			"detach of %s does not match checkpoint %s", blk.Hash, curHash)
	}

	undo, ok, err := g.strg.GetUndo(blk.Hash)
	if err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "read undo entry")
	}
	if !ok {
		g.strg.RollbackTx()
		return errors.Wrapf(ErrInvariant,
			"no undo entry for %s, pruned too deep for this reorg", blk.Hash)
	}

	newState, err := g.rules.Backward(oldState, blk, undo)
	if err != nil {
		g.strg.RollbackTx()
		return errors.Wrapf(err, "rules backward for %s", blk.Hash)
	}
	if err = g.strg.DeleteUndo(blk.Hash); err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "delete undo entry")
	}
	if err = g.strg.SetCurrent(blk.Parent, newState); err != nil {
		g.strg.RollbackTx()
		return errors.Wrap(err, "move checkpoint backward")
	}
	if err = g.strg.CommitTx(); err != nil {
		return errors.Wrap(err, "commit detach tx")
	}

	g.setTip(types.BlockRef{Height: blk.Height - 1, Hash: blk.Parent})
	return nil
}
