// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package keystore

import (
	"crypto/rand"
	"fmt"
	"os"
)

var randRead = rand.Read

// FileStore keeps the key material in a plain file. A new key is
// written to the staging path, synced and renamed into place so that
// a crash or power loss leaves either no key or a complete one.
type FileStore struct{}

// RetrieveOrCreate implements Store.
func (FileStore) RetrieveOrCreate(createIfAbsent bool, keyPath, stagingPath string) (Key, error) {
	key, err := os.ReadFile(keyPath)
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("unexpected key size %d in %s", len(key), keyPath)
		}
		return Key(key), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot read key: %v", err)
	}
	if !createIfAbsent {
		return nil, ErrNoKey
	}

	fresh := make(Key, KeySize)
	if _, err := randRead(fresh); err != nil {
		return nil, fmt.Errorf("cannot generate key: %v", err)
	}
	if err := writeStaged(stagingPath, keyPath, fresh); err != nil {
		fresh.Zero()
		return nil, err
	}
	return fresh, nil
}

func writeStaged(stagingPath, keyPath string, key Key) (err error) {
	f, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("cannot stage key: %v", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(stagingPath)
		}
	}()

	if _, err = f.Write(key); err != nil {
		return fmt.Errorf("cannot write key: %v", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("cannot sync key: %v", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("cannot close staged key: %v", err)
	}
	if err = os.Rename(stagingPath, keyPath); err != nil {
		os.Remove(stagingPath)
		return fmt.Errorf("cannot commit key: %v", err)
	}
	return nil
}
