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

// Package blockdev queries properties of block devices.
package blockdev

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SectorSize is the unit the kernel device-mapper counts in,
// regardless of the logical block size of the underlying device.
const SectorSize = 512

// ErrZeroSize is returned when the kernel reports a size of zero for
// a device. A zero size is treated as a failed measurement, not as a
// valid empty device.
var ErrZeroSize = errors.New("device reports a size of zero")

var (
	osOpenFile   = os.OpenFile
	blkGetSize64 = rawBlkGetSize64
)

func rawBlkGetSize64(fd uintptr) (uint64, error) {
	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return 0, errno
	}
	return size, nil
}

// NumSectors returns the size of the given block device in 512 byte
// sectors, as reported by the kernel's BLKGETSIZE64 ioctl.
func NumSectors(devicePath string) (uint64, error) {
	f, err := osOpenFile(devicePath, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("cannot open %s to measure its size: %v", devicePath, err)
	}
	defer f.Close()

	size, err := blkGetSize64(f.Fd())
	if err != nil {
		return 0, fmt.Errorf("cannot measure size of %s: %v", devicePath, err)
	}
	if size == 0 {
		return 0, fmt.Errorf("cannot measure size of %s: %w", devicePath, ErrZeroSize)
	}

	return size / SectorSize, nil
}
