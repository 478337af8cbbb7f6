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
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
	"gopkg.in/retry.v1"

	"github.com/canonical/volcrypt/dirs"
	"github.com/canonical/volcrypt/logger"
	"github.com/canonical/volcrypt/osutil"
)

var (
	osOpenFile = os.OpenFile
	dmIoctl    = rawDmIoctl
)

func rawDmIoctl(fd uintptr, command int, data unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(command), uintptr(data)); errno != 0 {
		return errno
	}
	return nil
}

// request is a single control-plane request buffer. It is always
// fully zeroed and rebuilt before use, no state survives from one
// request to the next.
type request struct {
	buf [requestBufferSize]byte
}

func newHeader(name string) (*unix.DmIoctl, error) {
	hdr := &unix.DmIoctl{
		Version:    [3]uint32{4, 0, 0},
		Data_size:  requestBufferSize,
		Data_start: unix.SizeofDmIoctl,
	}
	if len(name) >= len(hdr.Name) {
		return nil, fmt.Errorf("device name %q is too long", name)
	}
	copy(hdr.Name[:], name)
	return hdr, nil
}

// reset zeroes the buffer and writes a fresh header for the named
// device.
func (r *request) reset(name string) error {
	hdr, err := newHeader(name)
	if err != nil {
		return err
	}
	*r = request{}
	return binary.Write(bytes.NewBuffer(r.buf[:0]), osutil.Endian(), hdr)
}

// header decodes the dm_ioctl header from the buffer, as updated by
// the kernel on a completed request.
func (r *request) header() (*unix.DmIoctl, error) {
	hdr := &unix.DmIoctl{}
	if err := binary.Read(bytes.NewReader(r.buf[:unix.SizeofDmIoctl]), osutil.Endian(), hdr); err != nil {
		return nil, err
	}
	return hdr, nil
}

func (r *request) issue(fd uintptr, command int) error {
	return dmIoctl(fd, command, unsafe.Pointer(&r.buf[0]))
}

// tableLoadLayout computes the buffer offsets of a single-target table
// load request: the target spec sits at the payload start, the
// parameter blob directly after it, then a terminating NUL byte, with
// the next-target offset rounded up to an 8 byte boundary.
func tableLoadLayout(paramsLen int) (paramIndex, nullIndex, endIndex int) {
	paramIndex = unix.SizeofDmIoctl + unix.SizeofDmTargetSpec
	nullIndex = paramIndex + paramsLen
	endIndex = (nullIndex + 1 + 7) &^ 7
	return paramIndex, nullIndex, endIndex
}

// loadTable builds a table load request with a single target of the
// given type spanning sectors [0, numSectors) of the mapped device,
// with params as the target parameter blob.
func (r *request) loadTable(name string, numSectors uint64, targetType string, params []byte) error {
	paramIndex, _, endIndex := tableLoadLayout(len(params))
	if endIndex > requestBufferSize {
		return fmt.Errorf("cannot build table for device %q: %w", name, ErrParamsTooLarge)
	}

	hdr, err := newHeader(name)
	if err != nil {
		return err
	}
	hdr.Target_count = 1

	spec := unix.DmTargetSpec{
		Sector_start: 0,
		Length:       numSectors,
		Next:         uint32(endIndex),
	}
	if len(targetType) >= len(spec.Target_type) {
		return fmt.Errorf("target type %q is too long", targetType)
	}
	copy(spec.Target_type[:], targetType)

	*r = request{}
	w := bytes.NewBuffer(r.buf[:0])
	if err := binary.Write(w, osutil.Endian(), hdr); err != nil {
		return err
	}
	if err := binary.Write(w, osutil.Endian(), &spec); err != nil {
		return err
	}
	copy(r.buf[paramIndex:], params)
	// the byte at nullIndex is already zero, it terminates the params
	return nil
}

// devicePathFromDev resolves the block device path of a mapped device
// from the kernel dev_t number returned in a status reply. The dm-N
// node is named after the device minor number, which dev_t packs as
// the low byte plus the bits above the 12 bit major field.
func devicePathFromDev(dev uint64) string {
	return filepath.Join(dirs.DevBlockDir, fmt.Sprintf("dm-%d", unix.Minor(dev)))
}

// CreateCryptoDevice creates the device-mapper device name, loads a
// single table of targetType covering sectors [0, numSectors) with
// params as the target parameters, activates the device and returns
// the path of its block device node.
//
// No rollback is attempted on failure: a partially created device may
// be left behind and has to be torn down by the operator before the
// same name can be used again.
func CreateCryptoDevice(name string, numSectors uint64, targetType string, params []byte) (string, error) {
	// Validate the table layout upfront so that an oversized
	// parameter blob never results in a request reaching the kernel.
	if _, _, endIndex := tableLoadLayout(len(params)); endIndex > requestBufferSize {
		return "", fmt.Errorf("cannot map device %q: %w", name, ErrParamsTooLarge)
	}

	f, err := osOpenFile(dirs.DeviceMapperControl, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", fmt.Errorf("cannot open device-mapper control: %v", err)
	}
	defer f.Close()
	fd := f.Fd()

	var req request
	if err := req.reset(name); err != nil {
		return "", err
	}
	if err := req.issue(fd, unix.DM_DEV_CREATE); err != nil {
		return "", fmt.Errorf("cannot create device %q: %v", name, err)
	}

	// query the status of the new device to learn the device number
	// the kernel assigned to it
	if err := req.reset(name); err != nil {
		return "", err
	}
	if err := req.issue(fd, unix.DM_DEV_STATUS); err != nil {
		return "", fmt.Errorf("cannot query status of device %q: %v", name, err)
	}
	hdr, err := req.header()
	if err != nil {
		return "", err
	}
	devicePath := devicePathFromDev(hdr.Dev)

	var loadErr error
	for attempt := retry.Start(tableLoadRetryStrategy, nil); attempt.Next(); {
		// rebuild the request on every attempt, the kernel writes
		// into the buffer even on a failed ioctl
		if err := req.loadTable(name, numSectors, targetType, params); err != nil {
			return "", err
		}
		loadErr = req.issue(fd, unix.DM_TABLE_LOAD)
		if loadErr == nil {
			break
		}
		if attempt.More() {
			logger.Noticef("cannot load table for device %q, retrying: %v", name, loadErr)
		}
	}
	if loadErr != nil {
		return "", fmt.Errorf("cannot load table for device %q after %d attempts: %v", name, tableLoadRetries, loadErr)
	}

	// resuming the new device activates it
	if err := req.reset(name); err != nil {
		return "", err
	}
	if err := req.issue(fd, unix.DM_DEV_SUSPEND); err != nil {
		return "", fmt.Errorf("cannot activate device %q: %v", name, err)
	}

	return devicePath, nil
}
