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

// Package upstream abstracts the blockchain daemon the engine tracks: a
// push channel of tip updates plus pull RPCs for block content and active
// chain membership. The engine trusts the daemon; it performs no block
// validation of its own.
package upstream

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gamechain/gamechain/types"
)

// ErrUpstream is the cause of every fault in the upstream RPC layer.
// The synchronizer treats it as transient and reconnects with backoff.
var ErrUpstream = errors.New("upstream daemon error")

// ErrBlockNotFound indicates a block hash unknown to the upstream daemon.
var ErrBlockNotFound = errors.New("block not found")

// ErrDisconnected indicates that the upstream connection is gone; the
// synchronizer reacts by reconnecting with backoff.
var ErrDisconnected = errors.New("upstream disconnected")

// Client is the capability the engine needs from the blockchain daemon.
type Client interface {
	// GetTip returns the current head of the daemon's active chain.
	GetTip(ctx context.Context) (types.BlockRef, error)

	// GetBlock fetches one block's data, including the moves addressed
	// to the game.
	GetBlock(ctx context.Context, hash types.BlockHash) (*types.Block, error)

	// IsOnActiveChain reports whether hash is on the daemon's active
	// chain. This is the authority for common-ancestor detection during
	// reorgs; height comparison is only ever a short-circuit.
	IsOnActiveChain(ctx context.Context, hash types.BlockHash) (bool, error)

	// Subscribe returns the tip notification channel. The channel is
	// closed when the connection is lost or the client is closed.
	Subscribe(ctx context.Context) (<-chan types.BlockRef, error)

	// Close releases the connection.
	Close() error
}
