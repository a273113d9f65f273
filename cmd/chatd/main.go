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

// Command chatd runs the example chat game daemon on top of the game
// state engine with the relational storage backend.
package main

import (
	"flag"
	"os"

	"github.com/gamechain/gamechain/conf"
	"github.com/gamechain/gamechain/daemon"
	"github.com/gamechain/gamechain/utils/log"
)

const gameID = "chat"

func main() {
	var (
		configPath = flag.String("config", "", "path to the yaml config file")
		upstream   = flag.String("upstream", "", "websocket URL of the blockchain daemon")
		chain      = flag.String("chain", "", "chain to track: main, test or regtest")
		dataDir    = flag.String("datadir", "", "base directory for on-disk state")
		pruneDepth = flag.Int("prune", -1, "undo depth to keep, -1 disables pruning")
		rpcPort    = flag.Int("rpcport", 0, "port for the game RPC server")
	)
	flag.Parse()

	var (
		cfg *conf.Config
		err error
	)
	if *configPath != "" {
		if cfg, err = conf.LoadConfig(*configPath); err != nil {
			log.WithError(err).Error("could not load configuration")
			os.Exit(1)
		}
	} else {
		cfg = conf.Default()
		cfg.StorageBackend = conf.StorageRelational
	}

	if *upstream != "" {
		cfg.UpstreamURL = *upstream
	}
	if *chain != "" {
		cfg.Chain = *chain
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *pruneDepth >= 0 {
		cfg.PruneDepth = *pruneDepth
	}
	if *rpcPort != 0 {
		cfg.RPCPort = *rpcPort
		if cfg.RPCSurface == conf.RPCNone {
			cfg.RPCSurface = conf.RPCLocalTCP
		}
	}

	if err = daemon.DefaultMainWithTables(cfg, gameID, chatRules{}); err != nil {
		log.WithError(err).Error("game daemon failed")
		os.Exit(1)
	}
}
