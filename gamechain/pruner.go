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
	"github.com/gamechain/gamechain/utils/log"
)

// maybePrune trims undo entries deeper than the configured keep depth
// below tipHeight. It only runs once the engine is up to date, never
// touches the tip's own undo entry, and is best-effort: a failure is
// logged and the next commit retries.
func (g *Game) maybePrune(tipHeight uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pruneDepth < 0 {
		return
	}
	depth := uint32(g.pruneDepth)
	if tipHeight <= depth {
		return
	}
	target := tipHeight - depth
	if target >= tipHeight {
		target = tipHeight - 1
	}

	if err := g.strg.BeginTx(); err != nil {
		log.WithError(err).Warning("pruner could not open transaction")
		return
	}
	if err := g.strg.PruneUndoUpTo(target); err != nil {
		log.WithError(err).WithField("height", target).Warning("pruning failed")
		g.strg.RollbackTx()
		return
	}
	if err := g.strg.CommitTx(); err != nil {
		log.WithError(err).Warning("pruning commit failed")
		return
	}
	log.WithFields(log.Fields{
		"game":   g.gameID,
		"height": target,
	}).Debug("pruned undo entries")
}
