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

package crypt_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/canonical/volcrypt/crypt"
	"github.com/canonical/volcrypt/fstab"
	"github.com/canonical/volcrypt/keystore"
	"github.com/canonical/volcrypt/logger"
	"github.com/canonical/volcrypt/properties"
	"github.com/canonical/volcrypt/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type cryptSuite struct {
	restores []func()
	log      *bytes.Buffer

	bus *properties.MemBus
	key keystore.Key

	obtainKeyCalls []string
	createCalls    []string
	createdParams  string
}

var _ = Suite(&cryptSuite{})

var testEntry = &fstab.Entry{
	MountPoint:  "/data",
	BlockDevice: "/dev/block/sda20",
	KeyDir:      "/data/misc/vold",
}

type fakeVolumes struct {
	entry *fstab.Entry
	err   error
}

func (f *fakeVolumes) CryptEntry() (*fstab.Entry, error) {
	return f.entry, f.err
}

type fakeMounter struct {
	mountPoint string
	devicePath string
	calls      int
	ok         bool
}

func (f *fakeMounter) Mount(mountPoint, devicePath string) bool {
	f.calls++
	f.mountPoint = mountPoint
	f.devicePath = devicePath
	return f.ok
}

type fakeEncrypter struct {
	cryptoDevice string
	rawDevice    string
	totalSectors uint64
	limitSectors uint64
	startSector  uint64
	calls        int

	done uint64
	err  error
}

func (f *fakeEncrypter) EncryptInPlace(cryptoDevice, rawDevice string, totalSectors, limitSectors, startSector uint64) (uint64, error) {
	f.calls++
	f.cryptoDevice = cryptoDevice
	f.rawDevice = rawDevice
	f.totalSectors = totalSectors
	f.limitSectors = limitSectors
	f.startSector = startSector
	return f.done, f.err
}

func (s *cryptSuite) SetUpTest(c *C) {
	s.restores = nil
	buf, restore := logger.MockLogger()
	s.log = buf
	s.restores = append(s.restores, restore)

	s.bus = properties.NewMemBus()
	s.key = make(keystore.Key, keystore.KeySize)
	for i := range s.key {
		s.key[i] = byte(i)
	}
	s.obtainKeyCalls = nil
	s.createCalls = nil
	s.createdParams = ""

	restore = crypt.MockKeystoreObtainKey(func(keyDir string, createIfAbsent bool, store keystore.Store) (keystore.Key, error) {
		s.obtainKeyCalls = append(s.obtainKeyCalls, fmt.Sprintf("%s create=%v", keyDir, createIfAbsent))
		return append(keystore.Key(nil), s.key...), nil
	})
	s.restores = append(s.restores, restore)

	restore = crypt.MockBlockdevNumSectors(func(devicePath string) (uint64, error) {
		c.Check(devicePath, Equals, "/dev/block/sda20")
		return 2000000, nil
	})
	s.restores = append(s.restores, restore)

	restore = crypt.MockDevmapperCreateCryptoDevice(func(name string, numSectors uint64, targetType string, params []byte) (string, error) {
		s.createCalls = append(s.createCalls, fmt.Sprintf("%s %d %s", name, numSectors, targetType))
		// the orchestrator wipes params after use, keep a copy
		s.createdParams = string(params)
		return "/dev/block/dm-0", nil
	})
	s.restores = append(s.restores, restore)

	// keep the notifier fast, with a fake supervisor acknowledging
	// data preparation on the first poll sleep
	restore = crypt.MockNotifierTimings(0, time.Minute, time.Millisecond)
	s.restores = append(s.restores, restore)
	restore = crypt.MockTimeSleep(func(d time.Duration) {
		if d == time.Millisecond {
			s.bus.Set(crypt.PropDataPrepDone, "1")
		}
	})
	s.restores = append(s.restores, restore)
}

func (s *cryptSuite) TearDownTest(c *C) {
	for i := len(s.restores) - 1; i >= 0; i-- {
		s.restores[i]()
	}
}

func (s *cryptSuite) expectedParams() string {
	return "AES-256-XTS " + hex.EncodeToString(s.key) + " /dev/block/sda20 0"
}

func (s *cryptSuite) TestMountMetadataEncryptedHappy(c *C) {
	mounter := &fakeMounter{ok: true}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, mounter, nil)

	mounted, err := mgr.MountMetadataEncrypted()
	c.Assert(err, IsNil)
	c.Check(mounted, Equals, true)

	c.Check(s.obtainKeyCalls, DeepEquals, []string{"/data/misc/vold create=false"})
	c.Check(s.createCalls, DeepEquals, []string{"userdata 2000000 default-key"})
	c.Check(s.createdParams, Equals, s.expectedParams())
	c.Check(mounter.mountPoint, Equals, "/data")
	c.Check(mounter.devicePath, Equals, "/dev/block/dm-0")

	c.Assert(mgr.Wait(), IsNil)
	c.Check(s.bus.SetLog(), DeepEquals, []string{
		"crypto.trigger=load-persist-props",
		"crypto.data_prep_done=0",
		"crypto.trigger=data-prep",
		"crypto.data_prep_done=1",
		"crypto.trigger=restart-services",
	})
}

func (s *cryptSuite) TestMountMetadataEncryptedNoKey(c *C) {
	restore := crypt.MockKeystoreObtainKey(func(keyDir string, createIfAbsent bool, store keystore.Store) (keystore.Key, error) {
		return nil, keystore.ErrNoKey
	})
	defer restore()

	mounter := &fakeMounter{ok: true}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, mounter, nil)

	mounted, err := mgr.MountMetadataEncrypted()
	c.Assert(err, testutil.ErrorIs, keystore.ErrNoKey)
	c.Check(mounted, Equals, false)
	c.Check(s.createCalls, HasLen, 0)
	c.Check(mounter.calls, Equals, 0)
}

func (s *cryptSuite) TestMountMetadataEncryptedMountFails(c *C) {
	mounter := &fakeMounter{ok: false}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, mounter, nil)

	mounted, err := mgr.MountMetadataEncrypted()
	// a failed mount is surfaced via the flag, not as a failure of
	// the whole operation
	c.Assert(err, IsNil)
	c.Check(mounted, Equals, false)
	c.Check(mounter.calls, Equals, 1)

	c.Assert(mgr.Wait(), IsNil)
	logger.WithLoggerLock(func() {
		c.Check(s.log.String(), testutil.Contains, "cannot mount /dev/block/dm-0 on /data")
	})
}

func (s *cryptSuite) TestMountMetadataEncryptedVolumeLookupFails(c *C) {
	mgr := crypt.NewManager(&fakeVolumes{err: fmt.Errorf("no crypt entry")}, nil, s.bus, &fakeMounter{}, nil)

	_, err := mgr.MountMetadataEncrypted()
	c.Assert(err, ErrorMatches, "no crypt entry")
	c.Check(s.obtainKeyCalls, HasLen, 0)
}

func (s *cryptSuite) TestEnableEncryptionHappy(c *C) {
	s.bus.Set(crypt.PropState, crypt.StateUnencrypted)
	s.bus.Sets = nil

	mounter := &fakeMounter{ok: true}
	encrypter := &fakeEncrypter{done: 2000000}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, mounter, encrypter)

	c.Assert(mgr.EnableEncryption(), IsNil)

	c.Check(s.obtainKeyCalls, DeepEquals, []string{"/data/misc/vold create=true"})
	c.Check(s.createCalls, DeepEquals, []string{"userdata 2000000 default-key"})
	c.Check(s.createdParams, Matches, `AES-256-XTS [0-9a-f]{64} /dev/block/sda20 0`)
	c.Check(s.createdParams, Equals, s.expectedParams())

	c.Check(encrypter.calls, Equals, 1)
	c.Check(encrypter.cryptoDevice, Equals, "/dev/block/dm-0")
	c.Check(encrypter.rawDevice, Equals, "/dev/block/sda20")
	c.Check(encrypter.totalSectors, Equals, uint64(2000000))
	c.Check(encrypter.limitSectors, Equals, uint64(2000000))
	c.Check(encrypter.startSector, Equals, uint64(0))

	c.Check(mounter.mountPoint, Equals, "/data")
	c.Check(mounter.devicePath, Equals, "/dev/block/dm-0")

	c.Assert(mgr.Wait(), IsNil)
	c.Check(s.bus.Get(crypt.PropState), Equals, crypt.StateEncrypted)
	c.Check(s.bus.Get(crypt.PropType), Equals, crypt.TypeBlock)
	c.Check(s.bus.SetLog(), DeepEquals, []string{
		"crypto.state=enabling",
		"crypto.state=encrypted",
		"crypto.type=block",
		"crypto.trigger=reset-main",
		"crypto.trigger=load-persist-props",
		"crypto.data_prep_done=0",
		"crypto.trigger=data-prep",
		"crypto.data_prep_done=1",
		"crypto.trigger=restart-services",
	})
}

func (s *cryptSuite) TestEnableEncryptionUnexpectedState(c *C) {
	for _, state := range []string{"", crypt.StateEnabling, crypt.StateEncrypted, "garbage"} {
		if state != "" {
			s.bus.Set(crypt.PropState, state)
		}
		mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, &fakeMounter{}, &fakeEncrypter{})

		err := mgr.EnableEncryption()
		c.Assert(err, NotNil, Commentf("state %q", state))
		var stateErr *crypt.UnexpectedStateError
		c.Assert(errors.As(err, &stateErr), Equals, true)
		c.Check(stateErr.State, Equals, state)
		c.Check(s.obtainKeyCalls, HasLen, 0)
	}
}

func (s *cryptSuite) TestEnableEncryptionIncomplete(c *C) {
	restore := crypt.MockBlockdevNumSectors(func(devicePath string) (uint64, error) {
		return 1000000, nil
	})
	defer restore()

	s.bus.Set(crypt.PropState, crypt.StateUnencrypted)
	encrypter := &fakeEncrypter{done: 999999}
	mounter := &fakeMounter{ok: true}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, mounter, encrypter)

	err := mgr.EnableEncryption()
	c.Assert(err, ErrorMatches, `in-place encryption stopped after 999999 of 1000000 sectors`)
	var incompleteErr *crypt.IncompleteEncryptionError
	c.Assert(errors.As(err, &incompleteErr), Equals, true)
	c.Check(incompleteErr.Done, Equals, uint64(999999))
	c.Check(incompleteErr.Total, Equals, uint64(1000000))

	// no rollback: the state stays where the last completed step
	// left it
	c.Check(s.bus.Get(crypt.PropState), Equals, crypt.StateEnabling)
	c.Check(s.bus.Get(crypt.PropType), Equals, "")
	c.Check(mounter.calls, Equals, 0)
}

func (s *cryptSuite) TestEnableEncryptionEncrypterError(c *C) {
	s.bus.Set(crypt.PropState, crypt.StateUnencrypted)
	encrypter := &fakeEncrypter{err: fmt.Errorf("boom")}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, &fakeMounter{ok: true}, encrypter)

	err := mgr.EnableEncryption()
	c.Assert(err, ErrorMatches, `cannot encrypt /dev/block/sda20 in place: boom`)
	c.Check(s.bus.Get(crypt.PropState), Equals, crypt.StateEnabling)
}

func (s *cryptSuite) TestEnableEncryptionMountFailureDoesNotAbort(c *C) {
	s.bus.Set(crypt.PropState, crypt.StateUnencrypted)
	mounter := &fakeMounter{ok: false}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, mounter, &fakeEncrypter{done: 2000000})

	c.Assert(mgr.EnableEncryption(), IsNil)
	c.Check(mounter.calls, Equals, 1)
	c.Check(s.bus.Get(crypt.PropState), Equals, crypt.StateEncrypted)
	c.Check(s.bus.Get(crypt.PropTrigger), Not(Equals), "")

	c.Assert(mgr.Wait(), IsNil)
}

func (s *cryptSuite) TestNotifierTimeout(c *C) {
	// the supervisor never acknowledges
	restore := crypt.MockTimeSleep(func(d time.Duration) {})
	s.restores = append(s.restores, restore)
	restore = crypt.MockNotifierTimings(0, 10*time.Second, time.Millisecond)
	s.restores = append(s.restores, restore)

	// a clock that jumps 30s per reading trips the wall-clock
	// deadline on the first poll
	now := time.Now()
	restore = crypt.MockTimeNow(func() time.Time {
		now = now.Add(30 * time.Second)
		return now
	})
	s.restores = append(s.restores, restore)

	mounter := &fakeMounter{ok: true}
	mgr := crypt.NewManager(&fakeVolumes{entry: testEntry}, nil, s.bus, mounter, nil)

	mounted, err := mgr.MountMetadataEncrypted()
	c.Assert(err, IsNil)
	c.Check(mounted, Equals, true)

	// the notifier's failure is terminal only for itself
	c.Assert(mgr.Wait(), IsNil)
	logger.WithLoggerLock(func() {
		c.Check(s.log.String(), testutil.Contains, "timed out after 10s waiting for data preparation")
	})
	c.Check(s.bus.Get(crypt.PropTrigger), Equals, crypt.TriggerDataPrep)
}

func (s *cryptSuite) TestExecMounterHappy(c *C) {
	var commands [][]string
	restore := crypt.MockRunCmd(func(name string, args ...string) ([]byte, error) {
		commands = append(commands, append([]string{name}, args...))
		return nil, nil
	})
	defer restore()

	ok := crypt.ExecMounter{}.Mount("/data", "/dev/block/dm-0")
	c.Check(ok, Equals, true)
	c.Check(commands, DeepEquals, [][]string{
		{"fsck", "-a", "/dev/block/dm-0"},
		{"mount", "/dev/block/dm-0", "/data"},
	})
}

func (s *cryptSuite) TestExecMounterMountFails(c *C) {
	restore := crypt.MockRunCmd(func(name string, args ...string) ([]byte, error) {
		if name == "mount" {
			return []byte("mount: wrong fs type"), fmt.Errorf("exit status 32")
		}
		return nil, nil
	})
	defer restore()

	ok := crypt.ExecMounter{}.Mount("/data", "/dev/block/dm-0")
	c.Check(ok, Equals, false)
	logger.WithLoggerLock(func() {
		c.Check(s.log.String(), testutil.Contains, "cannot mount /dev/block/dm-0 on /data: mount: wrong fs type")
	})
}

func (s *cryptSuite) TestExecMounterFsckFailureIsNotFatal(c *C) {
	restore := crypt.MockRunCmd(func(name string, args ...string) ([]byte, error) {
		if name == "fsck" {
			return []byte("fsck exited with status code 4"), fmt.Errorf("exit status 4")
		}
		return nil, nil
	})
	defer restore()

	ok := crypt.ExecMounter{}.Mount("/data", "/dev/block/dm-0")
	c.Check(ok, Equals, true)
	logger.WithLoggerLock(func() {
		c.Check(s.log.String(), testutil.Contains, "filesystem check of /dev/block/dm-0 failed")
	})
}
