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

// SyncState is the synchronizer's position in its reconnect/catch-up
// state machine.
type SyncState int

const (
	// Disconnected means no upstream connection is established.
	Disconnected SyncState = iota
	// Pregenesis means the remote chain has not yet reached the game's
	// initial height.
	Pregenesis
	// CatchingUp means the local checkpoint lags or diverges from the
	// remote tip.
	CatchingUp
	// UpToDate means the local checkpoint equals the remote tip.
	UpToDate
)

// String implements fmt.Stringer.
func (s SyncState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Pregenesis:
		return "pregenesis"
	case CatchingUp:
		return "catching-up"
	case UpToDate:
		return "up-to-date"
	}
	return "invalid"
}
