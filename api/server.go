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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/gamechain/gamechain/utils/log"
)

// Server is one running RPC transport.
type Server interface {
	// Serve accepts connections until Shutdown. It blocks.
	Serve() error
	// Shutdown stops accepting and releases the listener.
	Shutdown() error
}

// LocalTCPServer serves JSON-RPC connections on a loopback TCP socket
// using the plain Content-Length object codec.
type LocalTCPServer struct {
	handler  jsonrpc2.Handler
	listener net.Listener
}

// NewLocalTCPServer binds 127.0.0.1:port.
func NewLocalTCPServer(port int, handler jsonrpc2.Handler) (s *LocalTCPServer, err error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "bind local RPC port %d", port)
	}
	log.WithField("addr", listener.Addr()).Info("serving game RPC on local TCP")
	return &LocalTCPServer{handler: handler, listener: listener}, nil
}

// Addr returns the bound address.
func (s *LocalTCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve implements Server.
func (s *LocalTCPServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed during shutdown.
			return nil
		}
		go func() {
			<-jsonrpc2.NewConn(
				context.Background(),
				jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}),
				s.handler,
			).DisconnectNotify()
		}()
	}
}

// Shutdown implements Server.
func (s *LocalTCPServer) Shutdown() error {
	return s.listener.Close()
}

// WebsocketServer serves JSON-RPC over websocket connections upgraded
// from HTTP.
type WebsocketServer struct {
	http.Server
	handler jsonrpc2.Handler
}

// NewWebsocketServer creates a server bound to port.
func NewWebsocketServer(port int, handler jsonrpc2.Handler) *WebsocketServer {
	s := &WebsocketServer{handler: handler}
	s.Addr = fmt.Sprintf(":%d", port)

	var (
		router   = mux.NewRouter()
		upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	)
	router.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.WithError(err).Error("could not upgrade http connection to websocket")
			http.Error(rw, errors.Wrap(err, "could not upgrade to websocket").Error(),
				http.StatusBadRequest)
			return
		}
		defer conn.Close()

		<-jsonrpc2.NewConn(
			context.Background(),
			wsstream.NewObjectStream(conn),
			s.handler,
		).DisconnectNotify()
	})
	s.Handler = router
	return s
}

// Serve implements Server.
func (s *WebsocketServer) Serve() error {
	log.WithField("addr", s.Addr).Info("serving game RPC over websocket")
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown implements Server.
func (s *WebsocketServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Server.Shutdown(ctx)
}
