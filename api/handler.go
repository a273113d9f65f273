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

// Package api exposes the engine's read-only state query surface over
// JSON-RPC, either on a local TCP socket or over websocket on HTTP.
package api

import (
	"context"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/gamechain/gamechain/utils/log"
)

// HandlerFunc handles one JSON-RPC method call.
type HandlerFunc func(ctx context.Context, req *jsonrpc2.Request) (result interface{}, err error)

// Handler is a method registry handling the JSON-RPC protocol.
type Handler struct {
	methods map[string]HandlerFunc
}

// NewHandler creates an empty Handler.
func NewHandler() *Handler {
	return &Handler{
		methods: make(map[string]HandlerFunc),
	}
}

// RegisterMethod registers a method.
func (h *Handler) RegisterMethod(method string, handlerFunc HandlerFunc) {
	if _, ok := h.methods[method]; ok {
		panic(fmt.Sprintf("method %q already registered", method))
	}
	h.methods[method] = handlerFunc
}

// Handle implements jsonrpc2.Handler.
func (h *Handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	jsonrpc2.HandlerWithError(h.handle).Handle(ctx, conn, req)
}

func (h *Handler) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	fn, known := h.methods[req.Method]
	if !known {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound}
	}

	// A panicking method must not take the whole RPC connection down;
	// report it to this caller as an internal error instead.
	defer func() {
		if p := recover(); p != nil {
			log.WithField("method", req.Method).Errorf("RPC handler panicked: %v", p)
			err = &jsonrpc2.Error{
				Code:    jsonrpc2.CodeInternalError,
				Message: fmt.Sprintf("internal error in %s", req.Method),
			}
		}
	}()
	return fn(ctx, req)
}
