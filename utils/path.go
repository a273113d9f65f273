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

// Package utils holds small shared helpers: filesystem paths and the
// msgpack codec used for storage metadata records.
package utils

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// EnsureDir creates dir and any missing parents. Creation is idempotent:
// an existing directory is not an error.
func EnsureDir(dir string) (err error) {
	var fi os.FileInfo
	if fi, err = os.Stat(dir); err == nil {
		if fi.IsDir() {
			return nil
		}
		return errors.Errorf("path %s exists and is not a directory", dir)
	}
	if !os.IsNotExist(err) {
		return errors.Wrapf(err, "stat %s", dir)
	}
	if err = os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	return
}

// GameDataDir returns the per-game directory `<dataDir>/<gameID>/<chain>`
// and makes sure it exists.
func GameDataDir(dataDir, gameID, chain string) (dir string, err error) {
	dir = filepath.Join(dataDir, gameID, chain)
	err = EnsureDir(dir)
	return
}

// HomeDirExpand tries to expand the tilde (~) in the front of a path to a
// fullpath directory.
func HomeDirExpand(path string) string {
	usr, err := user.Current()
	if err != nil {
		return path
	}

	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}
