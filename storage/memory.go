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

package storage

import (
	"sync"

	"github.com/mohae/deepcopy"

	"github.com/gamechain/gamechain/types"
)

type undoEntry struct {
	Height uint32
	Data   types.UndoData
}

type checkpoint struct {
	Hash  types.BlockHash
	State types.GameState
}

// memoryView is one full copy of the stored data. A transaction works on
// a deep copy and replaces the committed view on commit.
type memoryView struct {
	Current *checkpoint
	Undo    map[types.BlockHash]undoEntry
}

func newMemoryView() *memoryView {
	return &memoryView{
		Undo: make(map[types.BlockHash]undoEntry),
	}
}

func (v *memoryView) clone() *memoryView {
	return deepcopy.Copy(v).(*memoryView)
}

// MemoryStorage is a volatile Storage for testing and throwaway setups.
type MemoryStorage struct {
	mu        sync.RWMutex
	committed *memoryView
	staged    *memoryView
	closed    bool
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		committed: newMemoryView(),
	}
}

// Open implements Storage.
func (m *MemoryStorage) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	return nil
}

// Close implements Storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = nil
	m.closed = true
	return nil
}

// BeginTx implements Storage.
func (m *MemoryStorage) BeginTx() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.staged != nil {
		return ErrNestedTransaction
	}
	m.staged = m.committed.clone()
	return nil
}

// CommitTx implements Storage.
func (m *MemoryStorage) CommitTx() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged == nil {
		return ErrNoTransaction
	}
	m.committed = m.staged
	m.staged = nil
	return nil
}

// RollbackTx implements Storage.
func (m *MemoryStorage) RollbackTx() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged == nil {
		return ErrNoTransaction
	}
	m.staged = nil
	return nil
}

// view returns the staged view inside a transaction, the committed one
// otherwise.
func (m *MemoryStorage) view() *memoryView {
	if m.staged != nil {
		return m.staged
	}
	return m.committed
}

// GetCurrent implements Storage.
func (m *MemoryStorage) GetCurrent() (hash types.BlockHash, state types.GameState, ok bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		err = ErrClosed
		return
	}
	cp := m.view().Current
	if cp == nil {
		return
	}
	hash = cp.Hash
	state = append(types.GameState(nil), cp.State...)
	ok = true
	return
}

// SetCurrent implements Storage.
func (m *MemoryStorage) SetCurrent(hash types.BlockHash, state types.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged == nil {
		return ErrNoTransaction
	}
	m.staged.Current = &checkpoint{
		Hash:  hash,
		State: append(types.GameState(nil), state...),
	}
	return nil
}

// StoreUndo implements Storage.
func (m *MemoryStorage) StoreUndo(hash types.BlockHash, height uint32, undo types.UndoData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged == nil {
		return ErrNoTransaction
	}
	m.staged.Undo[hash] = undoEntry{
		Height: height,
		Data:   append(types.UndoData(nil), undo...),
	}
	return nil
}

// GetUndo implements Storage.
func (m *MemoryStorage) GetUndo(hash types.BlockHash) (undo types.UndoData, ok bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		err = ErrClosed
		return
	}
	entry, ok := m.view().Undo[hash]
	if !ok {
		return
	}
	undo = append(types.UndoData(nil), entry.Data...)
	return
}

// DeleteUndo implements Storage.
func (m *MemoryStorage) DeleteUndo(hash types.BlockHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged == nil {
		return ErrNoTransaction
	}
	delete(m.staged.Undo, hash)
	return nil
}

// PruneUndoUpTo implements Storage.
func (m *MemoryStorage) PruneUndoUpTo(height uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged == nil {
		return ErrNoTransaction
	}
	for hash, entry := range m.staged.Undo {
		if entry.Height <= height {
			delete(m.staged.Undo, hash)
		}
	}
	return nil
}

// Clear implements Storage.
func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged != nil {
		m.staged = newMemoryView()
		return nil
	}
	m.committed = newMemoryView()
	return nil
}
