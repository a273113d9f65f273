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
	"testing"

	"github.com/gamechain/gamechain/storage"
	"github.com/gamechain/gamechain/types"
)

func testHash(b byte) (h types.BlockHash) {
	for i := range h {
		h[i] = b
	}
	return
}

func openTestStorage(t *testing.T) *SQLiteStorage {
	st := NewSQLiteStorage(":memory:")
	if err := st.Open(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	return st
}

func TestEngineTableContract(t *testing.T) {
	st := openTestStorage(t)
	defer st.Close()

	if err := st.SetCurrent(testHash(1), types.GameState("s")); err != storage.ErrNoTransaction {
		t.Errorf("write outside tx: got %v", err)
	}

	if err := st.BeginTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err := st.BeginTx(); err != storage.ErrNestedTransaction {
		t.Errorf("nested tx: got %v", err)
	}
	if err := st.SetCurrent(testHash(1), types.GameState("state-1")); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err := st.StoreUndo(testHash(1), 11, types.UndoData("undo-1")); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	// Reads inside the transaction observe its own writes.
	hash, state, ok, err := st.GetCurrent()
	if err != nil || !ok {
		t.Fatalf("unexpected checkpoint read: ok=%v err=%v", ok, err)
	}
	if hash != testHash(1) || string(state) != "state-1" {
		t.Errorf("unexpected checkpoint: %s %q", hash, state)
	}
	if err = st.CommitTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	// Rollback discards all effects.
	if err = st.BeginTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err = st.SetCurrent(testHash(2), types.GameState("discarded")); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err = st.DeleteUndo(testHash(1)); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err = st.RollbackTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	hash, _, ok, err = st.GetCurrent()
	if err != nil || !ok || hash != testHash(1) {
		t.Errorf("rollback leaked: hash=%s ok=%v err=%v", hash, ok, err)
	}
	if _, ok, err = st.GetUndo(testHash(1)); err != nil || !ok {
		t.Errorf("rollback lost undo entry: ok=%v err=%v", ok, err)
	}
}

func TestPruneUndo(t *testing.T) {
	st := openTestStorage(t)
	defer st.Close()

	if err := st.BeginTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	for i := byte(1); i <= 4; i++ {
		if err := st.StoreUndo(testHash(i), 10+uint32(i), types.UndoData{i}); err != nil {
			t.Fatalf("error occurred: %v", err)
		}
	}
	if err := st.CommitTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	if err := st.BeginTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err := st.PruneUndoUpTo(12); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err := st.CommitTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	for i := byte(1); i <= 4; i++ {
		_, ok, err := st.GetUndo(testHash(i))
		if err != nil {
			t.Fatalf("error occurred: %v", err)
		}
		want := i > 2
		if ok != want {
			t.Errorf("undo %d present=%v, want %v", i, ok, want)
		}
	}
}

func TestIdRangeAllocation(t *testing.T) {
	st := openTestStorage(t)
	defer st.Close()

	if err := st.BeginTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	next := func(name string) uint64 {
		id, err := st.Ids(name).GetNext()
		if err != nil {
			t.Fatalf("error occurred: %v", err)
		}
		return id
	}

	if got := next("test"); got != 1 {
		t.Errorf("first id: got %d", got)
	}
	if got := next("test"); got != 2 {
		t.Errorf("second id: got %d", got)
	}
	if got := next("other"); got != 1 {
		t.Errorf("independent range: got %d", got)
	}

	if err := st.Ids("test").ReserveUpTo(10); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if got := next("test"); got != 11 {
		t.Errorf("after reserve: got %d", got)
	}

	// A smaller reservation is a no-op; the counter never moves back.
	if err := st.Ids("test").ReserveUpTo(5); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if got := next("test"); got != 12 {
		t.Errorf("after no-op reserve: got %d", got)
	}

	if err := st.RollbackTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	// The rollback discarded all allocations.
	if err := st.BeginTx(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	defer st.RollbackTx()
	if got := next("test"); got != 1 {
		t.Errorf("after rollback: got %d", got)
	}
}
