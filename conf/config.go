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

// Package conf holds the game daemon configuration read from a yaml file
// or assembled by the embedding application.
package conf

import (
	"io/ioutil"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/gamechain/gamechain/types"
)

// Storage backend selectors.
const (
	StorageMemory     = "memory"
	StorageKV         = "kv"
	StorageRelational = "relational"
)

// RPC surface selectors.
const (
	RPCNone     = "none"
	RPCLocalTCP = "local-tcp"
	RPCHTTP     = "http"
)

// Config holds all the engine options fixed at construction time.
type Config struct {
	// Chain selects which network's initial state is requested from the
	// game rules.
	Chain string `yaml:"Chain"`

	// UpstreamURL is the websocket endpoint of the blockchain daemon.
	UpstreamURL string `yaml:"UpstreamURL"`

	// StorageBackend is one of memory, kv, relational.
	StorageBackend string `yaml:"StorageBackend"`

	// DataDir is required for non-memory backends. The engine stores its
	// files under <DataDir>/<gameID>/<chain>.
	DataDir string `yaml:"DataDir"`

	// PruneDepth < 0 disables pruning; n >= 0 deletes the undo data at
	// heights up to the tip height minus n. The tip's own undo entry is
	// always kept.
	PruneDepth int `yaml:"PruneDepth"`

	// RPCSurface is one of none, local-tcp, http.
	RPCSurface string `yaml:"RPCSurface"`

	// RPCPort is required when RPCSurface is not none.
	RPCPort int `yaml:"RPCPort"`

	// LogLevel is a logrus level name; empty means info.
	LogLevel string `yaml:"LogLevel"`
}

// Default returns a config with the conventional defaults filled in.
func Default() *Config {
	return &Config{
		Chain:          types.MainNet.String(),
		StorageBackend: StorageMemory,
		PruneDepth:     -1,
		RPCSurface:     RPCNone,
	}
}

// LoadConfig loads config from configPath.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	config = Default()
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config file")
	}
	return
}

// ParseChain validates and returns the configured chain.
func (c *Config) ParseChain() (types.Chain, error) {
	return types.ChainFromString(c.Chain)
}

// Validate checks the option combinations that cannot work. Violations
// are caller bugs and fatal at startup.
func (c *Config) Validate() error {
	if _, err := c.ParseChain(); err != nil {
		return err
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageKV, StorageRelational:
		if c.DataDir == "" {
			return errors.Errorf(
				"DataDir must be set for the %s storage backend", c.StorageBackend)
		}
	default:
		return errors.Errorf("invalid storage backend %q", c.StorageBackend)
	}

	switch c.RPCSurface {
	case RPCNone:
	case RPCLocalTCP, RPCHTTP:
		if c.RPCPort == 0 {
			return errors.Errorf(
				"RPCPort must be set for the %s RPC surface", c.RPCSurface)
		}
	default:
		return errors.Errorf("invalid RPC surface %q", c.RPCSurface)
	}

	if c.UpstreamURL == "" {
		return errors.New("UpstreamURL must be configured")
	}
	return nil
}
