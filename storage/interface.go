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

// Package storage defines the persistence contract of the game state
// engine together with its in-memory and leveldb reference drivers.
//
// A Storage holds the current checkpoint (block hash plus game state) and
// the undo log, one entry per block between the initial checkpoint and the
// current one. All write operations require an open transaction; either
// all effects of a transaction appear or none.
package storage

import (
	"github.com/gamechain/gamechain/types"
)

// Storage is the persistence contract supplied to the engine.
//
// At most one transaction may be outstanding per instance; the engine's
// synchronizer is the only writer. Reads may be used inside or outside a
// transaction; inside, they observe the transaction's own writes.
type Storage interface {
	// Open prepares the backend. Idempotent.
	Open() error
	// Close releases the backend. A still-open transaction is rolled back.
	Close() error

	// BeginTx opens a write transaction.
	BeginTx() error
	// CommitTx atomically applies all writes since BeginTx.
	CommitTx() error
	// RollbackTx discards all writes since BeginTx.
	RollbackTx() error

	// GetCurrent returns the current checkpoint. ok is false iff the
	// storage is virgin.
	GetCurrent() (hash types.BlockHash, state types.GameState, ok bool, err error)
	// SetCurrent overwrites the checkpoint.
	SetCurrent(hash types.BlockHash, state types.GameState) error

	// StoreUndo inserts or replaces the undo entry for hash.
	StoreUndo(hash types.BlockHash, height uint32, undo types.UndoData) error
	// GetUndo returns the undo entry for hash, ok false if absent.
	GetUndo(hash types.BlockHash) (undo types.UndoData, ok bool, err error)
	// DeleteUndo removes the undo entry for hash. Idempotent.
	DeleteUndo(hash types.BlockHash) error
	// PruneUndoUpTo deletes all undo entries with height <= height.
	PruneUndoUpTo(height uint32) error

	// Clear resets the storage to the virgin state.
	Clear() error
}
