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

package crypt

import (
	"os/exec"

	"github.com/canonical/volcrypt/logger"
	"github.com/canonical/volcrypt/osutil"
)

var runCmd = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// ExecMounter checks and mounts filesystems by running fsck and
// mount, the way a trusted boot-time helper would.
type ExecMounter struct{}

// Mount implements Mounter.
func (ExecMounter) Mount(mountPoint, devicePath string) bool {
	// a failed preen is logged but not fatal, the mount has the
	// final say
	if output, err := runCmd("fsck", "-a", devicePath); err != nil {
		logger.Noticef("filesystem check of %s failed: %v", devicePath, osutil.OutputErr(output, err))
	}
	if output, err := runCmd("mount", devicePath, mountPoint); err != nil {
		logger.Noticef("cannot mount %s on %s: %v", devicePath, mountPoint, osutil.OutputErr(output, err))
		return false
	}
	logger.Debugf("mounted %s", mountPoint)
	return true
}
