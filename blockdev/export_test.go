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

package blockdev

import (
	"os"
)

func MockOsOpenFile(mock func(name string, flag int, perm os.FileMode) (*os.File, error)) (restore func()) {
	old := osOpenFile
	osOpenFile = mock
	return func() {
		osOpenFile = old
	}
}

func MockBlkGetSize64(mock func(fd uintptr) (uint64, error)) (restore func()) {
	old := blkGetSize64
	blkGetSize64 = mock
	return func() {
		blkGetSize64 = old
	}
}
