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

package api

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/gamechain/gamechain/gamechain"
	"github.com/gamechain/gamechain/rules"
	"github.com/gamechain/gamechain/storage"
	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/upstream"
)

const testGenesisHex = "0707070707070707070707070707070707070707070707070707070707070707"

func newSyncedGame(t *testing.T) (*gamechain.Game, func()) {
	genesis, err := types.HashFromHex(testGenesisHex)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	mock := upstream.NewMockClient()
	mock.SetStartingBlock(types.BlockRef{Height: 10, Hash: genesis})

	r, err := rules.NewCallbackRules(rules.Callbacks{
		InitialState: func(chain types.Chain) (types.GameState, uint32, string, error) {
			return types.GameState(`{"hello":"world"}`), 10, testGenesisHex, nil
		},
		Forward: func(old types.GameState, blk *types.Block) (types.GameState, types.UndoData, error) {
			return old, types.UndoData(old), nil
		},
		Backward: func(old types.GameState, blk *types.Block, undo types.UndoData) (types.GameState, error) {
			return types.GameState(undo), nil
		},
		StateToView: func(state types.GameState) (json.RawMessage, error) {
			return json.RawMessage(state), nil
		},
	})
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	game, err := gamechain.NewGame("chat", types.RegTest, r, storage.NewMemoryStorage(), mock)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	synced := make(chan struct{}, 1)
	game.Bus().Subscribe(gamechain.TopicSyncState, func(args ...interface{}) {
		if args[0].(gamechain.SyncState) == gamechain.UpToDate {
			select {
			case synced <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		game.Run(ctx)
	}()

	select {
	case <-synced:
	case <-time.After(3 * time.Second):
		cancel()
		t.Fatal("game did not reach up-to-date")
	}

	return game, func() {
		cancel()
		<-done
		mock.Close()
	}
}

func callMethod(t *testing.T, h *Handler, method string, params interface{}) (interface{}, error) {
	req := &jsonrpc2.Request{Method: method}
	if params != nil {
		if err := req.SetParams(params); err != nil {
			t.Fatalf("error occurred: %v", err)
		}
	}
	return h.handle(context.Background(), nil, req)
}

func TestGameServiceMethods(t *testing.T) {
	game, cleanup := newSyncedGame(t)
	defer cleanup()

	handler := NewHandler()
	NewGameService(game).RegisterTo(handler)

	// game_gettip
	res, err := callMethod(t, handler, "game_gettip", nil)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	tip := res.(*TipResult)
	if !tip.Synced || tip.Tip == nil || tip.Tip.Hash.Hex() != testGenesisHex {
		t.Errorf("unexpected tip result: %+v", tip)
	}

	// game_getsyncstate
	if res, err = callMethod(t, handler, "game_getsyncstate", nil); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if res.(string) != "up-to-date" {
		t.Errorf("unexpected sync state: %v", res)
	}

	// game_getcurrentstate
	if res, err = callMethod(t, handler, "game_getcurrentstate", nil); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if string(res.(json.RawMessage)) != `{"hello":"world"}` {
		t.Errorf("unexpected state: %s", res)
	}

	// game_getstateat with a matching selector
	if res, err = callMethod(t, handler, "game_getstateat",
		stateAtParams{Selector: "initial"}); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if string(res.(json.RawMessage)) != `{"hello":"world"}` {
		t.Errorf("unexpected state: %s", res)
	}

	// A mismatching block selector is a precondition failure.
	_, err = callMethod(t, handler, "game_getstateat", stateAtParams{
		Selector: "block 1111111111111111111111111111111111111111111111111111111111111111",
	})
	rpcErr, ok := err.(*jsonrpc2.Error)
	if !ok || rpcErr.Code != CodePreconditionFailed {
		t.Errorf("expected precondition error, got %v", err)
	}

	// An unknown selector maps onto invalid params.
	_, err = callMethod(t, handler, "game_getstateat", stateAtParams{Selector: "foo"})
	rpcErr, ok = err.(*jsonrpc2.Error)
	if !ok || rpcErr.Code != jsonrpc2.CodeInvalidParams {
		t.Errorf("expected invalid params error, got %v", err)
	}

	// Unknown methods are rejected.
	_, err = callMethod(t, handler, "game_unknown", nil)
	rpcErr, ok = err.(*jsonrpc2.Error)
	if !ok || rpcErr.Code != jsonrpc2.CodeMethodNotFound {
		t.Errorf("expected method not found, got %v", err)
	}
}

func TestLocalTCPServerRoundTrip(t *testing.T) {
	game, cleanup := newSyncedGame(t)
	defer cleanup()

	handler := NewHandler()
	NewGameService(game).RegisterTo(handler)

	server, err := NewLocalTCPServer(0, handler)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	go server.Serve()
	defer server.Shutdown()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	client := jsonrpc2.NewConn(
		context.Background(),
		jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error) {
			return nil, nil
		}),
	)
	defer client.Close()

	var state string
	if err = client.Call(context.Background(), "game_getsyncstate", nil, &state); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if state != "up-to-date" {
		t.Errorf("unexpected sync state: %s", state)
	}

	var view json.RawMessage
	if err = client.Call(context.Background(), "game_getcurrentstate", nil, &view); err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if string(view) != `{"hello":"world"}` {
		t.Errorf("unexpected state: %s", view)
	}
}
