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

package gamechain

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfig indicates an invalid engine configuration. Fatal at
	// startup.
	ErrConfig = errors.New("invalid configuration")

	// ErrInvariant indicates a checkpoint or undo log inconsistency, or
	// a rule/chain mismatch. Fatal: the engine terminates with a
	// diagnostic instead of guessing.
	ErrInvariant = errors.New("state invariant violation")

	// ErrRulesFailed indicates that the game rules rejected the same
	// block twice in a row, leaving the chain unprocessable.
	ErrRulesFailed = errors.New("rules failed to process block")

	// ErrShutdown indicates a query against an engine that has been shut
	// down.
	ErrShutdown = errors.New("engine is shut down")

	// ErrPreconditionFailed indicates a state query whose selector does
	// not match the current checkpoint. A caller bug, not a transient.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBadSelector indicates an unrecognized state selector.
	ErrBadSelector = errors.New("unexpected game state value")
)
