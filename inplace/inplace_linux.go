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

// Package inplace converts an unencrypted volume to an encrypted one
// by rewriting its content through the crypto mapping: sectors read
// from the raw backing device are written back at the same offset
// through the mapped device, which encrypts them on the way down.
package inplace

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/canonical/volcrypt/blockdev"
	"github.com/canonical/volcrypt/logger"
)

// chunkSectors is how many sectors are rewritten per read/write pair.
const chunkSectors = 2048

// Encrypt rewrites the sectors [startSector, startSector+limitSectors)
// of the raw device, bounded by totalSectors, through the crypto
// device. It returns the cumulative progress in sectors, which equals
// totalSectors after a complete pass over the whole device.
//
// This is a long-running blocking operation with no cancellation; it
// is only run once in the lifetime of a volume.
func Encrypt(cryptoDevice, rawDevice string, totalSectors, limitSectors, startSector uint64) (uint64, error) {
	src, err := os.OpenFile(rawDevice, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return startSector, fmt.Errorf("cannot open %s for reading: %v", rawDevice, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(cryptoDevice, os.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return startSector, fmt.Errorf("cannot open %s for writing: %v", cryptoDevice, err)
	}
	defer dst.Close()

	end := startSector + limitSectors
	if end > totalSectors {
		end = totalSectors
	}

	buf := make([]byte, chunkSectors*blockdev.SectorSize)
	done := startSector
	for done < end {
		n := uint64(chunkSectors)
		if end-done < n {
			n = end - done
		}
		chunk := buf[:n*blockdev.SectorSize]
		offset := int64(done) * blockdev.SectorSize

		if _, err := src.ReadAt(chunk, offset); err != nil {
			return done, fmt.Errorf("cannot read sector %d of %s: %v", done, rawDevice, err)
		}
		if _, err := dst.WriteAt(chunk, offset); err != nil {
			return done, fmt.Errorf("cannot write sector %d of %s: %v", done, cryptoDevice, err)
		}
		done += n
	}

	if err := dst.Sync(); err != nil {
		return done, fmt.Errorf("cannot sync %s: %v", cryptoDevice, err)
	}
	logger.Debugf("rewrote sectors %d to %d of %s", startSector, done, rawDevice)

	return done, nil
}

// Encrypter adapts Encrypt to the orchestrator's collaborator
// interface.
type Encrypter struct{}

func (Encrypter) EncryptInPlace(cryptoDevice, rawDevice string, totalSectors, limitSectors, startSector uint64) (uint64, error) {
	return Encrypt(cryptoDevice, rawDevice, totalSectors, limitSectors, startSector)
}
