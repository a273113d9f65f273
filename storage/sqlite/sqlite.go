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

// Package sqlite implements the table-backed Storage variant. The game
// rules keep their state in ordinary sqlite tables sharing one
// transaction with the engine's bookkeeping, so a rule-side schema write
// commits or rolls back together with the undo log and checkpoint.
//
// Undo uses the backend-native changelog mechanism: capture triggers on
// every rule table record the inverse statement of each row change, and
// the per-block undo entry is that recorded inverse script. Rewinding a
// block replays the script instead of invoking the rules again.
package sqlite

import (
	"database/sql"
	"strings"
	"sync"

	// Register the sqlite3 engine.
	_ "github.com/CovenantSQL/go-sqlite3-encrypt"
	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/storage"
	"github.com/gamechain/gamechain/types"
)

// wrapBackend tags a sqlite driver fault as storage.ErrStorage so that
// callers can discriminate backend errors with errors.Cause. A nil err
// stays nil.
func wrapBackend(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(storage.ErrStorage, format+": %v", append(args, err)...)
}

// Engine bookkeeping tables. Rule tables must not use the game_ prefix.
const (
	tableCurrent   = "game_current"
	tableUndo      = "game_undo"
	tableIds       = "game_ids"
	tableSchema    = "game_schema"
	tableChangelog = "game_changelog"
	tableCapture   = "game_capture"
)

const bootstrapSQL = `
CREATE TABLE IF NOT EXISTS "game_current" (
	"id" INTEGER PRIMARY KEY CHECK ("id" = 1),
	"hash" TEXT NOT NULL,
	"state" BLOB
);
CREATE TABLE IF NOT EXISTS "game_undo" (
	"hash" TEXT PRIMARY KEY,
	"height" INTEGER NOT NULL,
	"data" BLOB
);
CREATE TABLE IF NOT EXISTS "game_ids" (
	"name" TEXT PRIMARY KEY,
	"next" INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS "game_schema" (
	"marker" TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS "game_changelog" (
	"seq" INTEGER PRIMARY KEY AUTOINCREMENT,
	"stmt" TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS "game_capture" (
	"active" INTEGER NOT NULL
);
`

// SQLiteStorage is the relational Storage driver. It satisfies the plain
// storage contract and additionally exposes the shared transaction, the
// generated-ID allocator and the changelog undo mechanism used by table
// games.
type SQLiteStorage struct {
	mu   sync.RWMutex
	dsn  string
	db   *sql.DB
	tx   *sql.Tx
	ids  map[string]*IdRange
	open bool
}

// connString renders the connection string for a database file path. The
// capture machinery needs recursive triggers (REPLACE conflict
// resolution only fires the delete triggers with them enabled); on-disk
// databases additionally run in WAL mode so that readers are not blocked
// by the engine's write transaction.
func connString(filename string) string {
	params := []string{"_recursive_triggers=1"}
	if filename != ":memory:" {
		params = append(params, "_journal_mode=WAL")
	}
	return "file:" + filename + "?" + strings.Join(params, "&")
}

// NewSQLiteStorage returns a SQLiteStorage for the given database file.
// Use ":memory:" for a volatile database.
func NewSQLiteStorage(filename string) *SQLiteStorage {
	return &SQLiteStorage{
		dsn: connString(filename),
		ids: make(map[string]*IdRange),
	}
}

// Open implements storage.Storage.
func (s *SQLiteStorage) Open() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return
	}
	if s.db, err = sql.Open("sqlite3", s.dsn); err != nil {
		return wrapBackend(err, "open sqlite at %s", s.dsn)
	}
	// The changelog capture guard and the engine transaction require a
	// single connection; keeping it idle also preserves :memory:
	// databases between transactions.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	if _, err = s.db.Exec(bootstrapSQL); err != nil {
		return wrapBackend(err, "bootstrap engine tables")
	}
	if err = s.resetCaptureGuard(); err != nil {
		return
	}
	s.open = true
	return
}

func (s *SQLiteStorage) resetCaptureGuard() (err error) {
	if _, err = s.db.Exec(`DELETE FROM "game_capture"`); err != nil {
		return wrapBackend(err, "reset capture guard")
	}
	if _, err = s.db.Exec(`INSERT INTO "game_capture" ("active") VALUES (1)`); err != nil {
		return wrapBackend(err, "arm capture guard")
	}
	return
}

// Close implements storage.Storage.
func (s *SQLiteStorage) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	err = s.db.Close()
	s.open = false
	return
}

// BeginTx implements storage.Storage. The transaction it opens is shared
// with the game rules via Tx.
func (s *SQLiteStorage) BeginTx() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return storage.ErrClosed
	}
	if s.tx != nil {
		return storage.ErrNestedTransaction
	}
	if s.tx, err = s.db.Begin(); err != nil {
		return wrapBackend(err, "begin sqlite tx")
	}
	// Stale capture entries from an aborted prior block would leak into
	// this block's undo entry.
	if _, err = s.tx.Exec(`DELETE FROM "game_changelog"`); err != nil {
		s.tx.Rollback()
		s.tx = nil
		return wrapBackend(err, "clear changelog")
	}
	return
}

// CommitTx implements storage.Storage.
func (s *SQLiteStorage) CommitTx() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.ErrNoTransaction
	}
	err = s.tx.Commit()
	s.tx = nil
	return wrapBackend(err, "commit sqlite tx")
}

// RollbackTx implements storage.Storage.
func (s *SQLiteStorage) RollbackTx() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.ErrNoTransaction
	}
	err = s.tx.Rollback()
	s.tx = nil
	return wrapBackend(err, "rollback sqlite tx")
}

// Tx returns the currently open shared transaction for rule-side table
// writes. It fails outside a transaction.
func (s *SQLiteStorage) Tx() (*sql.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tx == nil {
		return nil, storage.ErrNoTransaction
	}
	return s.tx, nil
}

// Queryer is the read surface handed to rule-side view projections.
type Queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Reader returns a read handle: the open transaction when one exists (so
// reads observe the transaction's own writes), the database otherwise.
func (s *SQLiteStorage) Reader() Queryer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// GetCurrent implements storage.Storage.
func (s *SQLiteStorage) GetCurrent() (hash types.BlockHash, state types.GameState, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		err = storage.ErrClosed
		return
	}
	var (
		hexHash string
		blob    []byte
		reader  Queryer = s.db
	)
	if s.tx != nil {
		reader = s.tx
	}
	row := reader.QueryRow(`SELECT "hash", "state" FROM "game_current" WHERE "id" = 1`)
	if err = row.Scan(&hexHash, &blob); err == sql.ErrNoRows {
		err = nil
		return
	} else if err != nil {
		err = wrapBackend(err, "read checkpoint")
		return
	}
	if err = hash.FromHex(hexHash); err != nil {
		return
	}
	state = types.GameState(blob)
	ok = true
	return
}

// SetCurrent implements storage.Storage.
func (s *SQLiteStorage) SetCurrent(hash types.BlockHash, state types.GameState) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.ErrNoTransaction
	}
	_, err = s.tx.Exec(
		`INSERT OR REPLACE INTO "game_current" ("id", "hash", "state") VALUES (1, ?, ?)`,
		hash.Hex(), []byte(state))
	return wrapBackend(err, "write checkpoint")
}

// StoreUndo implements storage.Storage.
func (s *SQLiteStorage) StoreUndo(hash types.BlockHash, height uint32, undo types.UndoData) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.ErrNoTransaction
	}
	_, err = s.tx.Exec(
		`INSERT OR REPLACE INTO "game_undo" ("hash", "height", "data") VALUES (?, ?, ?)`,
		hash.Hex(), height, []byte(undo))
	return wrapBackend(err, "write undo entry")
}

// GetUndo implements storage.Storage.
func (s *SQLiteStorage) GetUndo(hash types.BlockHash) (undo types.UndoData, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		err = storage.ErrClosed
		return
	}
	var (
		blob   []byte
		reader Queryer = s.db
	)
	if s.tx != nil {
		reader = s.tx
	}
	row := reader.QueryRow(`SELECT "data" FROM "game_undo" WHERE "hash" = ?`, hash.Hex())
	if err = row.Scan(&blob); err == sql.ErrNoRows {
		err = nil
		return
	} else if err != nil {
		err = wrapBackend(err, "read undo entry")
		return
	}
	undo = types.UndoData(blob)
	ok = true
	return
}

// DeleteUndo implements storage.Storage.
func (s *SQLiteStorage) DeleteUndo(hash types.BlockHash) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.ErrNoTransaction
	}
	_, err = s.tx.Exec(`DELETE FROM "game_undo" WHERE "hash" = ?`, hash.Hex())
	return wrapBackend(err, "delete undo entry")
}

// PruneUndoUpTo implements storage.Storage.
func (s *SQLiteStorage) PruneUndoUpTo(height uint32) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return storage.ErrNoTransaction
	}
	_, err = s.tx.Exec(`DELETE FROM "game_undo" WHERE "height" <= ?`, height)
	return wrapBackend(err, "prune undo entries")
}

// Clear implements storage.Storage. It resets the engine bookkeeping and
// empties all capture-covered tables, returning the database to the
// virgin state while keeping the schema in place.
func (s *SQLiteStorage) Clear() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return storage.ErrClosed
	}
	if s.tx != nil {
		return storage.ErrNestedTransaction
	}
	tx, err := s.db.Begin()
	if err != nil {
		return wrapBackend(err, "begin clear tx")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		} else {
			err = wrapBackend(tx.Commit(), "commit clear tx")
		}
	}()

	tables, err := captureTables(tx)
	if err != nil {
		return
	}
	for _, name := range append(tables, tableCurrent, tableUndo, tableChangelog) {
		if _, err = tx.Exec(`DELETE FROM "` + name + `"`); err != nil {
			return wrapBackend(err, "clear table %s", name)
		}
	}
	return
}
