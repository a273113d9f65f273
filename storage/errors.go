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

package storage

import (
	"github.com/pkg/errors"
)

var (
	// ErrStorage is the cause of every fault originating in a storage
	// backend. The engine treats it as transient: the pending checkpoint
	// change is discarded and retried from the last committed one.
	ErrStorage = errors.New("storage backend error")

	// ErrNoTransaction indicates a write operation outside an open
	// transaction.
	ErrNoTransaction = errors.New("no transaction is open")

	// ErrNestedTransaction indicates a BeginTx while another transaction
	// is still outstanding.
	ErrNestedTransaction = errors.New("transaction already open")

	// ErrClosed indicates an operation on a closed storage.
	ErrClosed = errors.New("storage is closed")
)

// wrapBackend tags a driver fault as ErrStorage so that callers can tell
// backend errors apart from contract violations with errors.Cause. A nil
// err stays nil.
func wrapBackend(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrStorage, format+": %v", append(args, err)...)
}
