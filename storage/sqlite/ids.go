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

	"github.com/gamechain/gamechain/storage"
)

// IdRange is a named monotonic counter for rule-generated IDs. Counters
// live in the game_ids table inside the shared transaction, so a rolled
// back block also rolls its allocated IDs back, making generated IDs
// reorg-safe.
type IdRange struct {
	s    *SQLiteStorage
	name string
}

// Ids returns the allocator for the named logical ID space.
func (s *SQLiteStorage) Ids(name string) *IdRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.ids[name]; ok {
		return r
	}
	r := &IdRange{s: s, name: name}
	s.ids[name] = r
	return r
}

func (r *IdRange) tx() (*sql.Tx, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.tx == nil {
		return nil, storage.ErrNoTransaction
	}
	return r.s.tx, nil
}

// GetNext allocates and returns the next ID of the range. The first
// allocated ID of a fresh range is 1.
func (r *IdRange) GetNext() (id uint64, err error) {
	tx, err := r.tx()
	if err != nil {
		return
	}
	if _, err = tx.Exec(
		`INSERT OR IGNORE INTO "game_ids" ("name", "next") VALUES (?, 1)`,
		r.name); err != nil {
		err = wrapBackend(err, "init id range %s", r.name)
		return
	}
	row := tx.QueryRow(`SELECT "next" FROM "game_ids" WHERE "name" = ?`, r.name)
	if err = row.Scan(&id); err != nil {
		err = wrapBackend(err, "read id range %s", r.name)
		return
	}
	if _, err = tx.Exec(
		`UPDATE "game_ids" SET "next" = "next" + 1 WHERE "name" = ?`,
		r.name); err != nil {
		err = wrapBackend(err, "advance id range %s", r.name)
	}
	return
}

// ReserveUpTo marks all IDs up to and including n as used, so that the
// next allocation returns at least n+1. A smaller argument than the
// current position is a no-op; the counter never moves backwards.
func (r *IdRange) ReserveUpTo(n uint64) (err error) {
	tx, err := r.tx()
	if err != nil {
		return
	}
	if _, err = tx.Exec(
		`INSERT OR IGNORE INTO "game_ids" ("name", "next") VALUES (?, 1)`,
		r.name); err != nil {
		return wrapBackend(err, "init id range %s", r.name)
	}
	if _, err = tx.Exec(
		`UPDATE "game_ids" SET "next" = ? WHERE "name" = ? AND "next" < ?`,
		n+1, r.name, n+1); err != nil {
		return wrapBackend(err, "reserve id range %s", r.name)
	}
	return
}
