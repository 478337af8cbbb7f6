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

// Package keystore manages the lifecycle of the volume encryption key:
// reading or creating the raw key material and rendering it into the
// cipher specification consumed by the device-mapper crypt target.
package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canonical/volcrypt/logger"
)

// KeySize is the size of the volume key in bytes. AES-256-XTS with a
// 32 byte key renders as 64 hex characters in the cipher spec.
const KeySize = 32

// ErrNoKey is returned when no key exists yet and the caller did not
// ask for one to be created.
var ErrNoKey = errors.New("no encryption key exists for this volume")

// Key holds raw key material. It must never be logged and should be
// wiped with Zero once it is no longer needed.
type Key []byte

// Zero overwrites the key material. The go runtime may have made
// copies during earlier slice operations, this only clears this one.
func (k Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// A Store retrieves, and optionally creates, the key material kept at
// keyPath. Creation must be atomic with respect to crashes: a new key
// is staged at stagingPath and renamed into place, a partially
// written key is never returned.
type Store interface {
	RetrieveOrCreate(createIfAbsent bool, keyPath, stagingPath string) (Key, error)
}

// ObtainKey ensures that keyDir exists and obtains the volume key
// from the given store, creating a fresh key if createIfAbsent is set
// and none exists yet.
func ObtainKey(keyDir string, createIfAbsent bool, store Store) (Key, error) {
	if _, err := os.Stat(keyDir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot inspect key directory: %v", err)
		}
		// TODO: tighten these permissions once the expectations of
		// the components sharing this directory are verified
		if err := os.Mkdir(keyDir, 0777); err != nil {
			return nil, fmt.Errorf("cannot create key directory: %v", err)
		}
		logger.Debugf("created key directory %s", keyDir)
	}

	key, err := store.RetrieveOrCreate(createIfAbsent, filepath.Join(keyDir, "key"), filepath.Join(keyDir, "tmp"))
	if err != nil {
		return nil, err
	}
	return key, nil
}

// CipherSpec renders the crypt target parameter string for the given
// key and backing device: "AES-256-XTS <hex key> <device> 0". The
// start sector is always 0, there is exactly one crypt region per
// volume. The result embeds key material and must not be logged.
func CipherSpec(key Key, devicePath string) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("cannot build cipher spec from an empty key")
	}
	hexKey := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(hexKey, key)

	spec := make([]byte, 0, len("AES-256-XTS ")+len(hexKey)+len(devicePath)+len(" ")*2+len("0"))
	spec = append(spec, "AES-256-XTS "...)
	spec = append(spec, hexKey...)
	spec = append(spec, ' ')
	spec = append(spec, devicePath...)
	spec = append(spec, " 0"...)
	return spec, nil
}
