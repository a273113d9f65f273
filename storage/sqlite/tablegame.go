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

package sqlite

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/rules"
	"github.com/gamechain/gamechain/types"
)

const schemaMarker = "schema"

// TableRules is the capability a table-backed game supplies instead of
// pure blob transitions. All writes go through the transaction handed in,
// which is the engine's own, so they commit or roll back with the
// engine's bookkeeping as a unit.
type TableRules interface {
	// InitialBlock names the height and block hash (hex) at which the
	// initial state is defined. Must be deterministic per chain.
	InitialBlock(chain types.Chain) (height uint32, hashHex string, err error)

	// SetupSchema creates the rule-owned tables. Run once inside a
	// transaction on first attach; must be restartable (use CREATE TABLE
	// IF NOT EXISTS or equivalent).
	SetupSchema(tx *sql.Tx) error

	// InitializeTables writes the initial game state rows.
	InitializeTables(tx *sql.Tx) error

	// UpdateTables applies one block's moves to the tables.
	UpdateTables(tx *sql.Tx, blk *types.Block) error

	// TablesToView projects the current table contents into the JSON
	// view served to queries.
	TablesToView(q Queryer) (json.RawMessage, error)
}

// TableGame adapts TableRules to the engine's GameRules capability. The
// game state value it reports is a digest, the hex hash of the block the
// tables correspond to; the real state lives in the rule tables.
type TableGame struct {
	strg  *SQLiteStorage
	rules TableRules
	chain types.Chain
}

// NewTableGame attaches tr to strg and bootstraps the rule schema. The
// bootstrap runs inside its own transaction; re-attaching to an already
// initialized database only refreshes the capture triggers.
func NewTableGame(strg *SQLiteStorage, tr TableRules, chain types.Chain) (g *TableGame, err error) {
	g = &TableGame{strg: strg, rules: tr, chain: chain}
	if err = strg.Open(); err != nil {
		return nil, err
	}
	// Catch a bad initial block declaration before any chain work starts.
	_, hashHex, err := tr.InitialBlock(chain)
	if err != nil {
		return nil, errors.Wrap(err, "query initial block")
	}
	var hash types.BlockHash
	if err = hash.FromHex(hashHex); err != nil {
		return nil, errors.Wrapf(err, "rules declared bad initial hash %q", hashHex)
	}
	if err = g.setupSchema(); err != nil {
		return nil, err
	}
	return
}

// Storage returns the underlying table storage.
func (g *TableGame) Storage() *SQLiteStorage {
	return g.strg
}

// Ids exposes the generated-ID allocator to the game rules.
func (g *TableGame) Ids(name string) *IdRange {
	return g.strg.Ids(name)
}

func (g *TableGame) setupSchema() (err error) {
	if err = g.strg.BeginTx(); err != nil {
		return errors.Wrap(err, "begin schema setup")
	}
	defer func() {
		if err != nil {
			g.strg.RollbackTx()
		} else {
			err = g.strg.CommitTx()
		}
	}()

	tx, err := g.strg.Tx()
	if err != nil {
		return
	}

	var marker string
	row := tx.QueryRow(`SELECT "marker" FROM "game_schema" WHERE "marker" = ?`, schemaMarker)
	switch err = row.Scan(&marker); err {
	case nil:
		// Already bootstrapped; rule tables may have gained new tables
		// through a migration, so refresh the capture triggers anyway.
	case sql.ErrNoRows:
		if err = g.rules.SetupSchema(tx); err != nil {
			return errors.Wrap(err, "rules schema setup")
		}
		if _, err = tx.Exec(
			`INSERT INTO "game_schema" ("marker") VALUES (?)`, schemaMarker); err != nil {
			return errors.Wrap(err, "write schema marker")
		}
	default:
		return errors.Wrap(err, "read schema marker")
	}
	return createCaptureTriggers(tx)
}

// InitialState implements rules.GameRules. It must run inside the
// engine's transaction: the initial rows are written through the shared
// transaction and roll back with it.
func (g *TableGame) InitialState(chain types.Chain) (state types.GameState, height uint32, hashHex string, err error) {
	if height, hashHex, err = g.rules.InitialBlock(chain); err != nil {
		return
	}
	tx, err := g.strg.Tx()
	if err != nil {
		return
	}
	// Initial rows are only written while the storage is virgin; on a
	// populated database the call just reports the initial block.
	if _, _, initialized, err2 := g.strg.GetCurrent(); err2 != nil {
		err = err2
		return
	} else if !initialized {
		if err = g.rules.InitializeTables(tx); err != nil {
			err = errors.Wrap(err, "initialize rule tables")
			return
		}
	}
	state = types.GameState(hashHex)
	return
}

// Forward implements rules.GameRules. The undo entry is the inverse
// script recorded by the capture triggers while the rules updated their
// tables.
func (g *TableGame) Forward(old types.GameState, blk *types.Block) (state types.GameState, undo types.UndoData, err error) {
	tx, err := g.strg.Tx()
	if err != nil {
		return
	}
	if err = g.rules.UpdateTables(tx, blk); err != nil {
		err = errors.Wrap(err, "update rule tables")
		return
	}
	if undo, err = g.strg.CollectUndo(blk.Parent); err != nil {
		return
	}
	state = types.GameState(blk.Hash.Hex())
	return
}

// Backward implements rules.GameRules by replaying the recorded inverse
// script instead of invoking the rules again.
func (g *TableGame) Backward(old types.GameState, blk *types.Block, undo types.UndoData) (types.GameState, error) {
	if err := g.strg.ApplyUndo(undo); err != nil {
		return nil, err
	}
	return types.GameState(blk.Parent.Hex()), nil
}

// StateToView implements rules.GameRules. The digest is resolved against
// the live tables.
func (g *TableGame) StateToView(state types.GameState) (json.RawMessage, error) {
	return g.rules.TablesToView(g.strg.Reader())
}

var _ rules.GameRules = (*TableGame)(nil)
