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

	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/gamechain/gamechain/gamechain"
	"github.com/gamechain/gamechain/types"
)

// JSON-RPC error codes of the game service.
const (
	CodePreconditionFailed = -32001
	CodeShutdown           = -32002
)

// GameService serves the engine's state query API.
type GameService struct {
	game *gamechain.Game
}

// NewGameService returns a service reading from game.
func NewGameService(game *gamechain.Game) *GameService {
	return &GameService{game: game}
}

// RegisterTo registers all service methods on h.
func (s *GameService) RegisterTo(h *Handler) {
	h.RegisterMethod("game_gettip", s.getTip)
	h.RegisterMethod("game_getsyncstate", s.getSyncState)
	h.RegisterMethod("game_getcurrentstate", s.getCurrentState)
	h.RegisterMethod("game_getstateat", s.getStateAt)
}

// TipResult is the response of game_gettip.
type TipResult struct {
	GameID string          `json:"gameid"`
	Synced bool            `json:"synced"`
	Tip    *types.BlockRef `json:"tip,omitempty"`
}

func (s *GameService) getTip(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	res := &TipResult{
		GameID: s.game.GameID(),
		Synced: s.game.SyncedState() == gamechain.UpToDate,
	}
	if ref, ok := s.game.Tip(); ok {
		res.Tip = &ref
	}
	return res, nil
}

func (s *GameService) getSyncState(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	return s.game.SyncedState().String(), nil
}

func (s *GameService) getCurrentState(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	view, err := s.game.CurrentView()
	if err != nil {
		return nil, rpcError(err)
	}
	return view, nil
}

type stateAtParams struct {
	Selector string `json:"selector"`
}

func (s *GameService) getStateAt(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	var params stateAtParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	view, err := s.game.ViewAt(params.Selector)
	if err != nil {
		return nil, rpcError(err)
	}
	return view, nil
}

// rpcError maps engine errors onto JSON-RPC error codes.
func rpcError(err error) error {
	var code int64
	switch errors.Cause(err) {
	case gamechain.ErrPreconditionFailed:
		code = CodePreconditionFailed
	case gamechain.ErrBadSelector:
		code = jsonrpc2.CodeInvalidParams
	case gamechain.ErrShutdown:
		code = CodeShutdown
	default:
		code = jsonrpc2.CodeInternalError
	}
	return &jsonrpc2.Error{
		Code:    code,
		Message: err.Error(),
	}
}
