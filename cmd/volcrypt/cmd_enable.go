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

func init() {
	const (
		short = "Encrypt the userdata volume in place"
		long  = `
The enable command converts an unencrypted userdata volume to an
encrypted one: it creates the volume key, maps the crypto device over
the raw volume and rewrites every sector through it. The conversion is
irreversible and must run exactly once, with the volume unmounted.
`
	)
	if _, err := parser.AddCommand("enable", short, long, &cmdEnable{}); err != nil {
		panic(err)
	}
}

type cmdEnable struct{}

func (c *cmdEnable) Execute(args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	if err := mgr.EnableEncryption(); err != nil {
		return err
	}
	return mgr.Wait()
}
