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

package upstream

import (
	"context"
	"sync"

	"github.com/gamechain/gamechain/types"
)

// MockClient is a scripted in-memory chain used in tests. AttachBlock and
// DetachBlock drive the active chain and push tip notifications exactly
// like a live daemon would; a reorg is scripted as DetachBlock followed by
// AttachBlock.
type MockClient struct {
	mu     sync.Mutex
	blocks map[types.BlockHash]*types.Block
	active []types.BlockHash
	subs   []chan types.BlockRef
	closed bool
}

// NewMockClient returns an empty MockClient. Seed it with
// SetStartingBlock before use.
func NewMockClient() *MockClient {
	return &MockClient{
		blocks: make(map[types.BlockHash]*types.Block),
	}
}

// SetStartingBlock seeds the chain with its first block (usually the
// game's initial block).
func (m *MockClient) SetStartingBlock(ref types.BlockRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blk := &types.Block{BlockRef: ref}
	m.blocks[ref.Hash] = blk
	m.active = []types.BlockHash{ref.Hash}
}

func (m *MockClient) tipLocked() types.BlockRef {
	return m.blocks[m.active[len(m.active)-1]].BlockRef
}

func (m *MockClient) notifyLocked() {
	tip := m.tipLocked()
	for _, ch := range m.subs {
		select {
		case ch <- tip:
		default:
		}
	}
}

// AttachBlock extends the active chain with blk and notifies subscribers.
// blk.Parent must be the current tip.
func (m *MockClient) AttachBlock(blk *types.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[blk.Hash] = blk
	m.active = append(m.active, blk.Hash)
	m.notifyLocked()
}

// DetachBlock removes the tip from the active chain and notifies
// subscribers. The detached block's data stays available via GetBlock,
// as a daemon keeps stale branches around.
func (m *MockClient) DetachBlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = m.active[:len(m.active)-1]
	m.notifyLocked()
}

// Tip returns the current scripted tip.
func (m *MockClient) Tip() types.BlockRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tipLocked()
}

// GetTip implements Client.
func (m *MockClient) GetTip(ctx context.Context) (types.BlockRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.BlockRef{}, ErrDisconnected
	}
	return m.tipLocked(), nil
}

// GetBlock implements Client.
func (m *MockClient) GetBlock(ctx context.Context, hash types.BlockHash) (*types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blk, ok := m.blocks[hash]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return blk, nil
}

// IsOnActiveChain implements Client.
func (m *MockClient) IsOnActiveChain(ctx context.Context, hash types.BlockHash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.active {
		if h == hash {
			return true, nil
		}
	}
	return false, nil
}

// Subscribe implements Client.
func (m *MockClient) Subscribe(ctx context.Context) (<-chan types.BlockRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDisconnected
	}
	ch := make(chan types.BlockRef, 16)
	m.subs = append(m.subs, ch)
	return ch, nil
}

// Close implements Client.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.closed = true
	return nil
}
