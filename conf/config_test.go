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

package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/gamechain/gamechain/types"
)

func validConfig() *Config {
	cfg := Default()
	cfg.UpstreamURL = "ws://localhost:28332"
	return cfg
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *Config)
		ok     bool
	}{
		{"defaults with upstream", func(cfg *Config) {}, true},
		{"missing upstream", func(cfg *Config) { cfg.UpstreamURL = "" }, false},
		{"bad chain", func(cfg *Config) { cfg.Chain = "mainnet" }, false},
		{"bad backend", func(cfg *Config) { cfg.StorageBackend = "postgres" }, false},
		{"kv without datadir", func(cfg *Config) { cfg.StorageBackend = StorageKV }, false},
		{"kv with datadir", func(cfg *Config) {
			cfg.StorageBackend = StorageKV
			cfg.DataDir = "/tmp/games"
		}, true},
		{"relational without datadir", func(cfg *Config) {
			cfg.StorageBackend = StorageRelational
		}, false},
		{"rpc without port", func(cfg *Config) { cfg.RPCSurface = RPCLocalTCP }, false},
		{"rpc with port", func(cfg *Config) {
			cfg.RPCSurface = RPCHTTP
			cfg.RPCPort = 8400
		}, true},
		{"bad rpc surface", func(cfg *Config) { cfg.RPCSurface = "grpc" }, false},
	}

	for _, c := range cases {
		cfg := validConfig()
		c.mutate(cfg)
		err := cfg.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "conf-")
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	raw := []byte(`
Chain: regtest
UpstreamURL: ws://localhost:28332
StorageBackend: relational
DataDir: /var/lib/games
PruneDepth: 100
RPCSurface: http
RPCPort: 8400
LogLevel: debug
`)
	if err = ioutil.WriteFile(path, raw, 0600); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("error occurred: %v", err)
	}
	if err = cfg.Validate(); err != nil {
		t.Fatalf("error occurred: %v", err)
	}

	chain, err := cfg.ParseChain()
	if err != nil || chain != types.RegTest {
		t.Errorf("unexpected chain: %v %v", chain, err)
	}
	if cfg.PruneDepth != 100 || cfg.RPCPort != 8400 || cfg.DataDir != "/var/lib/games" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err = LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected an error")
	}
}
