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

// Package dirs holds the well-known paths used by volcrypt.
package dirs

import (
	"path/filepath"
)

var (
	// DeviceMapperControl is the control node of the kernel
	// device-mapper subsystem.
	DeviceMapperControl string

	// DevBlockDir is where the kernel exposes block device nodes,
	// including the dm-N nodes of mapped devices.
	DevBlockDir string

	// VolumeTableFile is the default volume descriptor table.
	VolumeTableFile string

	// PropertyBusDir is the default directory backing the system
	// property bus.
	PropertyBusDir string
)

var rootDir string

// SetRootDir rebases all well-known paths on rootdir, "" or "/" means
// the host filesystem. Only meant for testing.
func SetRootDir(rootdir string) {
	if rootdir == "" {
		rootdir = "/"
	}
	rootDir = rootdir

	DeviceMapperControl = filepath.Join(rootdir, "/dev/mapper/control")
	DevBlockDir = filepath.Join(rootdir, "/dev/block")
	VolumeTableFile = filepath.Join(rootdir, "/etc/volcrypt.conf")
	PropertyBusDir = filepath.Join(rootdir, "/run/volcrypt/props")
}

// GlobalRootDir reports the root directory all paths are based on.
func GlobalRootDir() string {
	return rootDir
}

func init() {
	SetRootDir("/")
}
