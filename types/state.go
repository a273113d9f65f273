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

package types

// GameState is the game state blob owned by the game rules. The engine
// treats it as opaque bytes; table-backed storages use it as a short
// digest of the state held in rule-owned tables.
type GameState []byte

// UndoData is the opaque blob produced by a forward transition. Paired
// with the same block data it suffices to reconstruct the prior state.
type UndoData []byte
