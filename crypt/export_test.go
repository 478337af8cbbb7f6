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
	"time"

	"github.com/canonical/volcrypt/keystore"
)

func MockDevmapperCreateCryptoDevice(mock func(name string, numSectors uint64, targetType string, params []byte) (string, error)) (restore func()) {
	old := devmapperCreateCryptoDevice
	devmapperCreateCryptoDevice = mock
	return func() {
		devmapperCreateCryptoDevice = old
	}
}

func MockBlockdevNumSectors(mock func(devicePath string) (uint64, error)) (restore func()) {
	old := blockdevNumSectors
	blockdevNumSectors = mock
	return func() {
		blockdevNumSectors = old
	}
}

func MockKeystoreObtainKey(mock func(keyDir string, createIfAbsent bool, store keystore.Store) (keystore.Key, error)) (restore func()) {
	old := keystoreObtainKey
	keystoreObtainKey = mock
	return func() {
		keystoreObtainKey = old
	}
}

func MockNotifierTimings(settle, timeout, poll time.Duration) (restore func()) {
	oldSettle, oldTimeout, oldPoll := settleDelay, dataPrepTimeout, dataPrepPollInterval
	settleDelay, dataPrepTimeout, dataPrepPollInterval = settle, timeout, poll
	return func() {
		settleDelay, dataPrepTimeout, dataPrepPollInterval = oldSettle, oldTimeout, oldPoll
	}
}

func MockTimeNow(mock func() time.Time) (restore func()) {
	old := timeNow
	timeNow = mock
	return func() {
		timeNow = old
	}
}

func MockTimeSleep(mock func(d time.Duration)) (restore func()) {
	old := timeSleep
	timeSleep = mock
	return func() {
		timeSleep = old
	}
}

func MockRunCmd(mock func(name string, args ...string) ([]byte, error)) (restore func()) {
	old := runCmd
	runCmd = mock
	return func() {
		runCmd = old
	}
}
