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

// Package devmapper drives the kernel device-mapper control interface
// to create and activate crypto block devices.
//
// All requests are issued through fixed size 4096 byte buffers laid
// out per the dm ioctl protocol: a dm_ioctl header, and for table
// loads a dm_target_spec record followed by the target parameter
// string and a terminating NUL. All offset and alignment arithmetic
// lives in this package.
package devmapper

import (
	"errors"
	"time"

	"gopkg.in/retry.v1"
)

const (
	// requestBufferSize is the fixed capacity of a single control
	// request buffer.
	requestBufferSize = 4096

	tableLoadRetries    = 10
	tableLoadRetryDelay = 500 * time.Millisecond
)

// ErrParamsTooLarge is returned when a target parameter blob cannot
// fit in the request buffer together with the header and target spec.
// The check happens before anything is sent to the kernel, a table
// load is never truncated.
var ErrParamsTooLarge = errors.New("target parameters do not fit in the request buffer")

// tableLoadRetryStrategy bounds the retries of a table load. The
// kernel may transiently reject a load right after device creation,
// while the new device is still settling.
var tableLoadRetryStrategy retry.Strategy = retry.LimitCount(tableLoadRetries, retry.Regular{
	Delay: tableLoadRetryDelay,
	Min:   tableLoadRetries,
})
