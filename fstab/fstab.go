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

// Package fstab reads the volume descriptor table that names the
// volume to be encrypted, its backing block device and the directory
// holding its key material.
package fstab

import (
	"fmt"

	"github.com/mvo5/goconfigparser"
)

// cryptSection is the table section describing the encrypted volume.
const cryptSection = "crypt"

// Entry describes the volume to be set up.
type Entry struct {
	// MountPoint is where the decrypted volume gets mounted.
	MountPoint string
	// BlockDevice is the raw backing block device.
	BlockDevice string
	// KeyDir holds the volume key material.
	KeyDir string
}

// Table is a parsed volume descriptor table. It is read-only.
type Table struct {
	cfg  *goconfigparser.ConfigParser
	path string
}

// Load parses the volume descriptor table at path.
func Load(path string) (*Table, error) {
	cfg := goconfigparser.New()
	if err := cfg.ReadFile(path); err != nil {
		return nil, fmt.Errorf("cannot read volume table %s: %v", path, err)
	}
	return &Table{cfg: cfg, path: path}, nil
}

// CryptEntry returns the descriptor of the encrypted volume. The
// entry must name a mount point, a block device and a key directory.
func (t *Table) CryptEntry() (*Entry, error) {
	mountPoint, err := t.cfg.Get(cryptSection, "mount_point")
	if err != nil {
		return nil, fmt.Errorf("cannot find crypt entry in %s: %v", t.path, err)
	}
	blockDevice, err := t.cfg.Get(cryptSection, "block_device")
	if err != nil {
		return nil, fmt.Errorf("cannot find block device in crypt entry of %s: %v", t.path, err)
	}
	keyDir, err := t.cfg.Get(cryptSection, "key_dir")
	if err != nil {
		return nil, fmt.Errorf("cannot find key directory in crypt entry of %s: %v", t.path, err)
	}
	if keyDir == "" {
		return nil, fmt.Errorf("crypt entry of %s has an empty key directory", t.path)
	}

	return &Entry{
		MountPoint:  mountPoint,
		BlockDevice: blockDevice,
		KeyDir:      keyDir,
	}, nil
}
