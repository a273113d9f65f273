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

// Package types defines the primitive chain types shared by the game state
// engine: chain selectors, block hashes and block references handed over
// from the upstream daemon.
package types

import (
	"github.com/pkg/errors"
)

// Chain identifies which of the upstream networks the engine tracks.
type Chain int

const (
	// MainNet is the production network.
	MainNet Chain = iota
	// TestNet is the public testing network.
	TestNet
	// RegTest is a local regression-testing network.
	RegTest
)

// ErrUnknownChain indicates a chain string that is none of main/test/regtest.
var ErrUnknownChain = errors.New("unknown chain")

// String implements fmt.Stringer, returning the lowercase chain name.
func (c Chain) String() string {
	switch c {
	case MainNet:
		return "main"
	case TestNet:
		return "test"
	case RegTest:
		return "regtest"
	}
	return "invalid"
}

// ChainFromString parses the lowercase chain name used in configuration
// files and directory layouts.
func ChainFromString(s string) (c Chain, err error) {
	switch s {
	case "main":
		c = MainNet
	case "test":
		c = TestNet
	case "regtest":
		c = RegTest
	default:
		err = errors.Wrapf(ErrUnknownChain, "parse chain %q", s)
	}
	return
}
