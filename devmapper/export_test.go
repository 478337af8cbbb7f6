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

package devmapper

import (
	"os"
	"unsafe"

	"gopkg.in/retry.v1"
)

var (
	TableLoadLayout   = tableLoadLayout
	DevicePathFromDev = devicePathFromDev
)

func MockOsOpenFile(mock func(name string, flag int, perm os.FileMode) (*os.File, error)) (restore func()) {
	old := osOpenFile
	osOpenFile = mock
	return func() {
		osOpenFile = old
	}
}

func MockDmIoctl(mock func(fd uintptr, command int, data unsafe.Pointer) error) (restore func()) {
	old := dmIoctl
	dmIoctl = mock
	return func() {
		dmIoctl = old
	}
}

func MockTableLoadRetryStrategy(strategy retry.Strategy) (restore func()) {
	old := tableLoadRetryStrategy
	tableLoadRetryStrategy = strategy
	return func() {
		tableLoadRetryStrategy = old
	}
}

// BuildTableLoadRequest builds a table load request buffer without
// issuing it, for layout verification in tests.
func BuildTableLoadRequest(name string, numSectors uint64, targetType string, params []byte) ([]byte, error) {
	var req request
	if err := req.loadTable(name, numSectors, targetType, params); err != nil {
		return nil, err
	}
	return req.buf[:], nil
}
