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

// Package crypt sequences the provisioning and activation of the
// encrypted userdata volume: key provisioning, device mapping, the
// one-time in-place conversion pass, the encryption state properties
// and the post-enablement signalling towards the supervisor.
package crypt

import (
	"fmt"

	"gopkg.in/tomb.v2"

	"github.com/canonical/volcrypt/blockdev"
	"github.com/canonical/volcrypt/devmapper"
	"github.com/canonical/volcrypt/fstab"
	"github.com/canonical/volcrypt/keystore"
	"github.com/canonical/volcrypt/logger"
	"github.com/canonical/volcrypt/properties"
)

const (
	// DeviceName is the fixed device-mapper name of the userdata
	// volume.
	DeviceName = "userdata"

	// TargetType is the device-mapper target used for full volume
	// encryption.
	TargetType = "default-key"
)

// Property names and values shared with the supervisor.
const (
	// PropState is the persisted encryption state of the volume.
	PropState = "crypto.state"
	// PropType records what kind of encryption protects the volume.
	PropType = "crypto.type"
	// PropTrigger carries one-shot action requests to the supervisor.
	PropTrigger = "crypto.trigger"
	// PropDataPrepDone is set to "1" by the supervisor once data
	// preparation has finished.
	PropDataPrepDone = "crypto.data_prep_done"

	StateUnencrypted = "unencrypted"
	StateEnabling    = "enabling"
	StateEncrypted   = "encrypted"

	// TypeBlock marks full block device encryption, as opposed to
	// per-file metadata encryption.
	TypeBlock = "block"

	TriggerLoadPersistProps = "load-persist-props"
	TriggerDataPrep         = "data-prep"
	TriggerRestartServices  = "restart-services"
	TriggerResetMain        = "reset-main"
)

// injection points for tests
var (
	devmapperCreateCryptoDevice = devmapper.CreateCryptoDevice
	blockdevNumSectors          = blockdev.NumSectors
	keystoreObtainKey           = keystore.ObtainKey
)

// UnexpectedStateError is returned when encryption enablement is
// requested but the volume is not in the unencrypted state.
type UnexpectedStateError struct {
	State string
}

func (e *UnexpectedStateError) Error() string {
	return fmt.Sprintf("unexpected encryption state %q, expected %q", e.State, StateUnencrypted)
}

// IncompleteEncryptionError is returned when the in-place pass
// stopped short of the full device. The volume then straddles
// encrypted and unencrypted content, which is strictly worse than
// either, so this is kept distinct from ordinary I/O failures.
type IncompleteEncryptionError struct {
	Done, Total uint64
}

func (e *IncompleteEncryptionError) Error() string {
	return fmt.Sprintf("in-place encryption stopped after %d of %d sectors", e.Done, e.Total)
}

// A VolumeSource looks up the descriptor of the volume to encrypt.
type VolumeSource interface {
	CryptEntry() (*fstab.Entry, error)
}

// A Mounter checks and mounts a filesystem. It only reports whether
// the mount worked.
type Mounter interface {
	Mount(mountPoint, devicePath string) bool
}

// An Encrypter runs the in-place encryption pass over a sector range,
// reporting the cumulative progress in sectors.
type Encrypter interface {
	EncryptInPlace(cryptoDevice, rawDevice string, totalSectors, limitSectors, startSector uint64) (uint64, error)
}

// Manager sequences one volume encryption operation. A Manager is
// good for a single top-level operation per process invocation; the
// caller (the boot sequencing) guarantees no two operations run
// against the same volume concurrently.
type Manager struct {
	volumes   VolumeSource
	keys      keystore.Store
	props     properties.Bus
	mounter   Mounter
	encrypter Encrypter

	tomb tomb.Tomb
}

// NewManager wires a Manager with its collaborators. The encrypter
// may be nil if only MountMetadataEncrypted will be used.
func NewManager(volumes VolumeSource, keys keystore.Store, props properties.Bus, mounter Mounter, encrypter Encrypter) *Manager {
	return &Manager{
		volumes:   volumes,
		keys:      keys,
		props:     props,
		mounter:   mounter,
		encrypter: encrypter,
	}
}

// Wait blocks until the background notifier spawned by the last
// operation has finished. Callers that would otherwise exit right
// after an operation use it to keep the process alive for the
// notifier.
func (m *Manager) Wait() error {
	return m.tomb.Wait()
}

// setupCryptoDevice obtains the volume key and maps the crypto device
// over the backing device, returning the volume entry, the mapped
// device path and the volume size.
func (m *Manager) setupCryptoDevice(createKeyIfAbsent bool) (entry *fstab.Entry, devicePath string, numSectors uint64, err error) {
	entry, err = m.volumes.CryptEntry()
	if err != nil {
		return nil, "", 0, err
	}

	key, err := keystoreObtainKey(entry.KeyDir, createKeyIfAbsent, m.keys)
	if err != nil {
		return nil, "", 0, err
	}
	defer key.Zero()

	numSectors, err = blockdevNumSectors(entry.BlockDevice)
	if err != nil {
		return nil, "", 0, err
	}

	params, err := keystore.CipherSpec(key, entry.BlockDevice)
	if err != nil {
		return nil, "", 0, err
	}
	defer func() {
		// the params embed the hex encoded key
		for i := range params {
			params[i] = 0
		}
	}()

	devicePath, err = devmapperCreateCryptoDevice(DeviceName, numSectors, TargetType, params)
	if err != nil {
		return nil, "", 0, err
	}

	return entry, devicePath, numSectors, nil
}

// MountMetadataEncrypted attaches and mounts a volume that is already
// fully encrypted, at boot. The returned mounted flag reports whether
// the final mount worked; a failed mount does not fail the rest of
// the operation, which has already activated the device.
func (m *Manager) MountMetadataEncrypted() (mounted bool, err error) {
	logger.Debugf("mounting metadata encrypted volume")

	entry, devicePath, _, err := m.setupCryptoDevice(false)
	if err != nil {
		return false, err
	}

	// TODO: a mount failure here can also mean the volume content is
	// corrupted; that case needs dedicated handling instead of being
	// lumped in with ordinary mount errors
	mounted = m.mounter.Mount(entry.MountPoint, devicePath)
	if !mounted {
		logger.Noticef("cannot mount %s on %s", devicePath, entry.MountPoint)
	}

	m.kickOff()
	return mounted, nil
}

// EnableEncryption converts the unencrypted volume to an encrypted
// one in place. This is irreversible and runs once in the lifetime of
// a volume; on failure no rollback is attempted and the system is
// left in the state reached by the last completed step, for the
// operator to diagnose.
func (m *Manager) EnableEncryption() error {
	if state := m.props.Get(PropState); state != StateUnencrypted {
		return &UnexpectedStateError{State: state}
	}

	entry, devicePath, numSectors, err := m.setupCryptoDevice(true)
	if err != nil {
		return err
	}

	// from here on the volume straddles encrypted and unencrypted
	// content until the pass finishes
	if err := m.props.Set(PropState, StateEnabling); err != nil {
		return err
	}

	logger.Noticef("beginning in-place encryption of %s, %d sectors", entry.BlockDevice, numSectors)
	done, err := m.encrypter.EncryptInPlace(devicePath, entry.BlockDevice, numSectors, numSectors, 0)
	if err != nil {
		return fmt.Errorf("cannot encrypt %s in place: %v", entry.BlockDevice, err)
	}
	if done != numSectors {
		return &IncompleteEncryptionError{Done: done, Total: numSectors}
	}
	logger.Noticef("in-place encryption of %s complete", entry.BlockDevice)

	if err := m.props.Set(PropState, StateEncrypted); err != nil {
		return err
	}
	if err := m.props.Set(PropType, TypeBlock); err != nil {
		return err
	}

	if !m.mounter.Mount(entry.MountPoint, devicePath) {
		logger.Noticef("cannot mount %s on %s", devicePath, entry.MountPoint)
	}

	if err := m.props.Set(PropTrigger, TriggerResetMain); err != nil {
		return err
	}

	m.kickOff()
	return nil
}
