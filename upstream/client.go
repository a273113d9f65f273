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
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/utils/log"
)

// blockCacheSize bounds the fetched-block cache. Blocks are immutable per
// hash, so cached entries never go stale.
const blockCacheSize = 256

// WebsocketClient talks JSON-RPC to the blockchain daemon over a
// websocket connection. Tip updates arrive as "chain_newtip"
// notifications; block content and chain membership are pull RPCs.
type WebsocketClient struct {
	gameID string
	conn   *jsonrpc2.Conn
	cache  *lru.Cache

	mu     sync.Mutex
	subs   []chan types.BlockRef
	closed bool
}

type getBlockParams struct {
	GameID string `json:"gameid"`
	Hash   string `json:"hash"`
}

type chainQueryParams struct {
	Hash string `json:"hash"`
}

// Dial connects to the daemon at url and subscribes to tip notifications
// for gameID.
func Dial(ctx context.Context, url, gameID string) (c *WebsocketClient, err error) {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstream, "dial upstream at %s: %v", url, err)
	}

	cache, err := lru.New(blockCacheSize)
	if err != nil {
		return nil, err
	}
	c = &WebsocketClient{
		gameID: gameID,
		cache:  cache,
	}
	c.conn = jsonrpc2.NewConn(
		ctx,
		wsstream.NewObjectStream(wsConn),
		jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(c.handle)),
	)

	var subscribed bool
	if err = c.conn.Call(ctx, "chain_trackgame", map[string]string{
		"gameid": gameID,
	}, &subscribed); err != nil {
		c.conn.Close()
		return nil, errors.Wrapf(ErrUpstream, "track game on upstream: %v", err)
	}

	go c.watchDisconnect()
	return
}

// handle receives server-pushed notifications.
func (c *WebsocketClient) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	switch req.Method {
	case "chain_newtip":
		if req.Params == nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
		}
		var ref types.BlockRef
		if err = json.Unmarshal(*req.Params, &ref); err != nil {
			log.WithError(err).Warning("malformed tip notification")
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
		}
		c.broadcast(ref)
		return nil, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound}
	}
}

func (c *WebsocketClient) broadcast(ref types.BlockRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ref:
		default:
			// Slow subscriber with a full buffer: this update is dropped
			// and the subscriber learns the tip from a later notification.
			log.WithField("height", ref.Height).Debug("dropped tip notification")
		}
	}
}

// watchDisconnect closes all subscriptions when the connection is lost.
func (c *WebsocketClient) watchDisconnect() {
	<-c.conn.DisconnectNotify()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.closed = true
}

// GetTip implements Client.
func (c *WebsocketClient) GetTip(ctx context.Context) (ref types.BlockRef, err error) {
	if err = c.conn.Call(ctx, "chain_gettip", nil, &ref); err != nil {
		err = errors.Wrapf(ErrUpstream, "get remote tip: %v", err)
	}
	return
}

// GetBlock implements Client.
func (c *WebsocketClient) GetBlock(ctx context.Context, hash types.BlockHash) (blk *types.Block, err error) {
	if cached, ok := c.cache.Get(hash); ok {
		return cached.(*types.Block), nil
	}
	blk = new(types.Block)
	if err = c.conn.Call(ctx, "chain_getblock", &getBlockParams{
		GameID: c.gameID,
		Hash:   hash.Hex(),
	}, blk); err != nil {
		return nil, errors.Wrapf(ErrUpstream, "get block %s: %v", hash, err)
	}
	c.cache.Add(hash, blk)
	return
}

// IsOnActiveChain implements Client.
func (c *WebsocketClient) IsOnActiveChain(ctx context.Context, hash types.BlockHash) (active bool, err error) {
	if err = c.conn.Call(ctx, "chain_isactive", &chainQueryParams{
		Hash: hash.Hex(),
	}, &active); err != nil {
		err = errors.Wrapf(ErrUpstream, "check active chain for %s: %v", hash, err)
	}
	return
}

// Subscribe implements Client.
func (c *WebsocketClient) Subscribe(ctx context.Context) (<-chan types.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDisconnected
	}
	ch := make(chan types.BlockRef, 16)
	c.subs = append(c.subs, ch)
	return ch, nil
}

// Close implements Client.
func (c *WebsocketClient) Close() error {
	return c.conn.Close()
}
