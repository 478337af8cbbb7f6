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

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/canonical/volcrypt/crypt"
	"github.com/canonical/volcrypt/dirs"
	"github.com/canonical/volcrypt/fstab"
	"github.com/canonical/volcrypt/inplace"
	"github.com/canonical/volcrypt/keystore"
	"github.com/canonical/volcrypt/logger"
	"github.com/canonical/volcrypt/properties"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	opts   struct{}
	parser *flags.Parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
)

const (
	shortHelp = "Provision full block device encryption for the userdata volume"
	longHelp  = `
volcrypt maps the userdata volume through a device-mapper crypto target
at boot, creating the volume key on first use, and can convert an
unencrypted volume to an encrypted one in place.
`
)

func init() {
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(Stderr, "WARNING: failed to activate logging: %v\n", err)
	}
}

// newManager wires a Manager against the real system: the volume table
// from /etc, file backed keys, the property directory shared with the
// supervisor and the external fsck/mount helpers.
func newManager() (*crypt.Manager, error) {
	table, err := fstab.Load(dirs.VolumeTableFile)
	if err != nil {
		return nil, err
	}
	bus, err := properties.NewDirBus(dirs.PropertyBusDir)
	if err != nil {
		return nil, err
	}
	return crypt.NewManager(table, keystore.FileStore{}, bus, crypt.ExecMounter{}, inplace.Encrypter{}), nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	parser.ShortDescription = shortHelp
	parser.LongDescription = longHelp

	_, err := parser.ParseArgs(args)
	return err
}
