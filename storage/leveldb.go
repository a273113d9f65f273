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
	"encoding/binary"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/utils"
)

var (
	keyCurrent     = []byte("current")
	prefixUndo     = []byte("undo:")
	prefixUndoHidx = []byte("uhix:")
)

// undoRecord is the msgpack-encoded value stored per undo entry.
type undoRecord struct {
	Height uint32
	Data   []byte
}

// currentRecord is the msgpack-encoded checkpoint value.
type currentRecord struct {
	Hash  []byte
	State []byte
}

func undoKey(hash types.BlockHash) []byte {
	return append(append([]byte(nil), prefixUndo...), hash[:]...)
}

// undoHidxKey is the height-ordered secondary key used by pruning scans.
func undoHidxKey(height uint32, hash types.BlockHash) []byte {
	key := make([]byte, 0, len(prefixUndoHidx)+4+types.HashSize)
	key = append(key, prefixUndoHidx...)
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], height)
	key = append(key, be[:]...)
	return append(key, hash[:]...)
}

// LevelDBStorage is the on-disk key-value Storage for games that keep
// their state as an opaque blob. A transaction stages writes in a
// leveldb.Batch plus an overlay map so that reads inside the transaction
// observe its own writes; the batch is written atomically on commit.
type LevelDBStorage struct {
	mu   sync.RWMutex
	path string
	db   *leveldb.DB

	batch   *leveldb.Batch
	overlay map[string][]byte // staged puts; nil value marks a delete
}

// NewLevelDBStorage returns a LevelDBStorage placed at path. The database
// is not touched until Open.
func NewLevelDBStorage(path string) *LevelDBStorage {
	return &LevelDBStorage{path: path}
}

// Open implements Storage.
func (s *LevelDBStorage) Open() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return
	}
	if err = utils.EnsureDir(s.path); err != nil {
		return wrapBackend(err, "ensure leveldb dir")
	}
	if s.db, err = leveldb.OpenFile(s.path, nil); err != nil {
		return wrapBackend(err, "open leveldb at %s", s.path)
	}
	return
}

// Close implements Storage.
func (s *LevelDBStorage) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}
	s.batch = nil
	s.overlay = nil
	err = s.db.Close()
	s.db = nil
	return
}

// BeginTx implements Storage.
func (s *LevelDBStorage) BeginTx() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if s.batch != nil {
		return ErrNestedTransaction
	}
	s.batch = new(leveldb.Batch)
	s.overlay = make(map[string][]byte)
	return nil
}

// CommitTx implements Storage.
func (s *LevelDBStorage) CommitTx() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return ErrNoTransaction
	}
	err = s.db.Write(s.batch, nil)
	s.batch = nil
	s.overlay = nil
	return wrapBackend(err, "commit leveldb batch")
}

// RollbackTx implements Storage.
func (s *LevelDBStorage) RollbackTx() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return ErrNoTransaction
	}
	s.batch = nil
	s.overlay = nil
	return nil
}

func (s *LevelDBStorage) put(key, value []byte) {
	s.batch.Put(key, value)
	s.overlay[string(key)] = value
}

func (s *LevelDBStorage) del(key []byte) {
	s.batch.Delete(key)
	s.overlay[string(key)] = nil
}

// get reads through the transaction overlay first so that reads inside a
// transaction observe the transaction's own writes.
func (s *LevelDBStorage) get(key []byte) (value []byte, ok bool, err error) {
	if s.overlay != nil {
		if staged, hit := s.overlay[string(key)]; hit {
			if staged == nil {
				return // staged delete
			}
			return staged, true, nil
		}
	}
	value, err = s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapBackend(err, "leveldb get")
	}
	return value, true, nil
}

// GetCurrent implements Storage.
func (s *LevelDBStorage) GetCurrent() (hash types.BlockHash, state types.GameState, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		err = ErrClosed
		return
	}
	raw, ok, err := s.get(keyCurrent)
	if err != nil || !ok {
		return
	}
	var rec currentRecord
	if err = utils.DecodeMsgPack(raw, &rec); err != nil {
		err = wrapBackend(err, "decode checkpoint")
		return
	}
	if err = hash.SetBytes(rec.Hash); err != nil {
		return
	}
	state = types.GameState(rec.State)
	return
}

// SetCurrent implements Storage.
func (s *LevelDBStorage) SetCurrent(hash types.BlockHash, state types.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return ErrNoTransaction
	}
	buf, err := utils.EncodeMsgPack(&currentRecord{
		Hash:  hash.AsBytes(),
		State: state,
	})
	if err != nil {
		return wrapBackend(err, "encode checkpoint")
	}
	s.put(keyCurrent, buf.Bytes())
	return nil
}

// StoreUndo implements Storage.
func (s *LevelDBStorage) StoreUndo(hash types.BlockHash, height uint32, undo types.UndoData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return ErrNoTransaction
	}
	buf, err := utils.EncodeMsgPack(&undoRecord{
		Height: height,
		Data:   undo,
	})
	if err != nil {
		return wrapBackend(err, "encode undo entry")
	}
	s.put(undoKey(hash), buf.Bytes())
	s.put(undoHidxKey(height, hash), []byte{})
	return nil
}

// GetUndo implements Storage.
func (s *LevelDBStorage) GetUndo(hash types.BlockHash) (undo types.UndoData, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		err = ErrClosed
		return
	}
	raw, ok, err := s.get(undoKey(hash))
	if err != nil || !ok {
		return
	}
	var rec undoRecord
	if err = utils.DecodeMsgPack(raw, &rec); err != nil {
		err = wrapBackend(err, "decode undo entry")
		ok = false
		return
	}
	undo = types.UndoData(rec.Data)
	return
}

// DeleteUndo implements Storage.
func (s *LevelDBStorage) DeleteUndo(hash types.BlockHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return ErrNoTransaction
	}
	raw, ok, err := s.get(undoKey(hash))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var rec undoRecord
	if err = utils.DecodeMsgPack(raw, &rec); err != nil {
		return wrapBackend(err, "decode undo entry")
	}
	s.del(undoKey(hash))
	s.del(undoHidxKey(rec.Height, hash))
	return nil
}

// PruneUndoUpTo implements Storage.
func (s *LevelDBStorage) PruneUndoUpTo(height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return ErrNoTransaction
	}
	// The height index keys sort by big-endian height, so one range scan
	// covers exactly the entries to prune.
	limit := undoHidxKey(height+1, types.BlockHash{})
	iter := s.db.NewIterator(&util.Range{Start: prefixUndoHidx, Limit: limit}, nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		var hash types.BlockHash
		if err := hash.SetBytes(key[len(prefixUndoHidx)+4:]); err != nil {
			return wrapBackend(err, "malformed undo index key")
		}
		s.del(undoKey(hash))
		s.del(append([]byte(nil), key...))
	}
	return wrapBackend(iter.Error(), "prune scan")
}

// Clear implements Storage.
func (s *LevelDBStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return wrapBackend(err, "clear scan")
	}
	return wrapBackend(s.db.Write(batch, nil), "clear write")
}
