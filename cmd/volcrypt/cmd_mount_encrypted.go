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
)

func init() {
	const (
		short = "Attach and mount the already encrypted userdata volume"
		long  = `
The mount-encrypted command reads the volume key, maps the userdata
volume through the device-mapper crypto target and mounts it. The key
must already exist; a volume that was never encrypted is rejected.
`
	)
	if _, err := parser.AddCommand("mount-encrypted", short, long, &cmdMountEncrypted{}); err != nil {
		panic(err)
	}
}

type cmdMountEncrypted struct{}

func (c *cmdMountEncrypted) Execute(args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	mounted, err := mgr.MountMetadataEncrypted()
	if err != nil {
		return err
	}
	if !mounted {
		fmt.Fprintf(Stdout, "userdata volume activated but not mounted\n")
	}
	return mgr.Wait()
}
