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

package main

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	sqlitestorage "github.com/gamechain/gamechain/storage/sqlite"
	"github.com/gamechain/gamechain/types"
)

// chatRules is a minimal table-backed game: the state is one table
// mapping account names to a message, and a move is a JSON array of
// strings applied in order, so the last entry of a block prevails.
type chatRules struct{}

// Initial blocks per chain. The regtest hash matches the block mined by
// the development harness right after its setup chain.
var initialBlocks = map[types.Chain]struct {
	height uint32
	hash   string
}{
	types.MainNet: {555555, "2aa9ccf3c632e781b28686c2a40f582fdbbb35979f5277a3e4f9a3d229a034e5"},
	types.TestNet: {109000, "6e1afc4c5d2b5e6f0a1ab0a74669c9cd7e419c5bbff2ae2a3d1a6ea252e26a0b"},
	types.RegTest: {10, "0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a"},
}

// InitialBlock implements sqlite.TableRules.
func (chatRules) InitialBlock(chain types.Chain) (height uint32, hashHex string, err error) {
	blk, ok := initialBlocks[chain]
	if !ok {
		return 0, "", errors.Errorf("no initial block for chain %v", chain)
	}
	return blk.height, blk.hash, nil
}

// SetupSchema implements sqlite.TableRules.
func (chatRules) SetupSchema(tx *sql.Tx) (err error) {
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS "chat" (
			"user" TEXT PRIMARY KEY,
			"msg" TEXT
		)`)
	return
}

// InitializeTables implements sqlite.TableRules.
func (chatRules) InitializeTables(tx *sql.Tx) (err error) {
	_, err = tx.Exec(`
		INSERT INTO "chat" ("user", "msg") VALUES ('domob', 'hello world')`)
	return
}

// UpdateTables implements sqlite.TableRules.
func (chatRules) UpdateTables(tx *sql.Tx, blk *types.Block) (err error) {
	for _, m := range blk.Moves {
		var msgs []string
		if err = json.Unmarshal(m.Move, &msgs); err != nil {
			// Invalid moves are simply ignored; anyone can send
			// arbitrary data to the game's namespace.
			continue
		}
		for _, msg := range msgs {
			if _, err = tx.Exec(
				`INSERT OR REPLACE INTO "chat" ("user", "msg") VALUES (?, ?)`,
				m.Name, msg); err != nil {
				return
			}
		}
	}
	return
}

// TablesToView implements sqlite.TableRules.
func (chatRules) TablesToView(q sqlitestorage.Queryer) (view json.RawMessage, err error) {
	rows, err := q.Query(`SELECT "user", "msg" FROM "chat"`)
	if err != nil {
		return
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var user, msg string
		if err = rows.Scan(&user, &msg); err != nil {
			return
		}
		state[user] = msg
	}
	if err = rows.Err(); err != nil {
		return
	}
	return json.Marshal(state)
}
