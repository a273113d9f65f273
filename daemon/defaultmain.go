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

// Package daemon wires a game into a complete long-running process:
// storage per configuration, upstream connection, synchronizer and RPC
// surface, with ordered shutdown so pending writes flush before the
// storage handle is released.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gamechain/gamechain/api"
	"github.com/gamechain/gamechain/conf"
	"github.com/gamechain/gamechain/gamechain"
	"github.com/gamechain/gamechain/rules"
	"github.com/gamechain/gamechain/storage"
	"github.com/gamechain/gamechain/storage/sqlite"
	"github.com/gamechain/gamechain/types"
	"github.com/gamechain/gamechain/upstream"
	"github.com/gamechain/gamechain/utils"
	"github.com/gamechain/gamechain/utils/log"
)

// DefaultMain runs a game with blob-state rules on the configured memory
// or kv backend until the process is signalled. It returns nil on clean
// shutdown; callers map an error onto a non-zero exit code.
func DefaultMain(cfg *conf.Config, gameID string, r rules.GameRules) (err error) {
	chain, strg, err := prepare(cfg, gameID)
	if err != nil {
		return
	}
	if cfg.StorageBackend == conf.StorageRelational {
		return errors.Wrap(gamechain.ErrConfig,
			"relational storage needs table rules, use DefaultMainWithTables")
	}
	return run(cfg, gameID, chain, r, strg)
}

// DefaultMainWithCallbacks is DefaultMain for the callbacks façade.
func DefaultMainWithCallbacks(cfg *conf.Config, gameID string, cb rules.Callbacks) (err error) {
	r, err := rules.NewCallbackRules(cb)
	if err != nil {
		return errors.Wrap(gamechain.ErrConfig, err.Error())
	}
	return DefaultMain(cfg, gameID, r)
}

// DefaultMainWithTables runs a table-backed game on the relational
// backend.
func DefaultMainWithTables(cfg *conf.Config, gameID string, tr sqlite.TableRules) (err error) {
	chain, strg, err := prepare(cfg, gameID)
	if err != nil {
		return
	}
	if cfg.StorageBackend != conf.StorageRelational {
		return errors.Wrap(gamechain.ErrConfig,
			"table rules need the relational storage backend")
	}
	game, err := sqlite.NewTableGame(strg.(*sqlite.SQLiteStorage), tr, chain)
	if err != nil {
		return errors.Wrap(err, "attach table rules")
	}
	return run(cfg, gameID, chain, game, strg)
}

func prepare(cfg *conf.Config, gameID string) (chain types.Chain, strg storage.Storage, err error) {
	log.SetStringLevel(cfg.LogLevel, logrus.InfoLevel)

	if err = cfg.Validate(); err != nil {
		err = errors.Wrap(gamechain.ErrConfig, err.Error())
		return
	}
	chain, err = cfg.ParseChain()
	if err != nil {
		err = errors.Wrap(gamechain.ErrConfig, err.Error())
		return
	}
	strg, err = createStorage(cfg, gameID, chain)
	return
}

// createStorage sets up a Storage instance according to the
// configuration. Non-memory backends live under the idempotently created
// per-game directory <DataDir>/<gameID>/<chain>.
func createStorage(cfg *conf.Config, gameID string, chain types.Chain) (strg storage.Storage, err error) {
	if cfg.StorageBackend == conf.StorageMemory {
		return storage.NewMemoryStorage(), nil
	}

	gameDir, err := utils.GameDataDir(cfg.DataDir, gameID, chain.String())
	if err != nil {
		return nil, errors.Wrap(err, "create game data directory")
	}
	log.WithField("dir", gameDir).Info("using game data directory")

	switch cfg.StorageBackend {
	case conf.StorageKV:
		return storage.NewLevelDBStorage(filepath.Join(gameDir, "kv")), nil
	case conf.StorageRelational:
		return sqlite.NewSQLiteStorage(filepath.Join(gameDir, "storage.sqlite")), nil
	}
	return nil, errors.Wrapf(gamechain.ErrConfig,
		"invalid storage backend %q", cfg.StorageBackend)
}

func run(cfg *conf.Config, gameID string, chain types.Chain, r rules.GameRules, strg storage.Storage) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := upstream.Dial(ctx, cfg.UpstreamURL, gameID)
	if err != nil {
		return errors.Wrap(err, "connect to upstream daemon")
	}
	defer client.Close()

	game, err := gamechain.NewGame(gameID, chain, r, strg, client)
	if err != nil {
		return errors.Wrap(err, "construct game engine")
	}
	// The engine owns its transactions; close the storage only after the
	// synchronizer has returned and everything is flushed.
	defer strg.Close()

	if cfg.PruneDepth >= 0 {
		game.EnablePruning(uint32(cfg.PruneDepth))
	}

	server, err := createRPCServer(cfg, game)
	if err != nil {
		return
	}
	if server != nil {
		go func() {
			if serveErr := server.Serve(); serveErr != nil {
				log.WithError(serveErr).Error("RPC server failed")
			}
		}()
		defer server.Shutdown()
	} else {
		log.Warning("no RPC surface configured, queries are unavailable")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	return game.Run(ctx)
}

// createRPCServer constructs the server connector for the state query
// API, if any.
func createRPCServer(cfg *conf.Config, game *gamechain.Game) (server api.Server, err error) {
	handler := api.NewHandler()
	api.NewGameService(game).RegisterTo(handler)

	switch cfg.RPCSurface {
	case conf.RPCNone:
		return nil, nil
	case conf.RPCLocalTCP:
		return api.NewLocalTCPServer(cfg.RPCPort, handler)
	case conf.RPCHTTP:
		return api.NewWebsocketServer(cfg.RPCPort, handler), nil
	}
	return nil, errors.Wrapf(gamechain.ErrConfig,
		"invalid RPC surface %q", cfg.RPCSurface)
}
