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

// Package properties abstracts the system property channel shared
// with the init/supervisor process. It doubles as persisted
// configuration state (encryption state and type) and as a one-way
// signalling bus (trigger values consumed by the supervisor).
//
// Writes are fire and forget, there is no transactional or
// blocking-wait primitive: readers that need to synchronize on a
// property change have to poll.
package properties

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/canonical/volcrypt/osutil"
)

// A Bus reads and writes system properties. An unset property reads
// as the empty string.
type Bus interface {
	Get(name string) string
	Set(name, value string) error
}

// DirBus stores each property as a small file in a directory, named
// after the property. Writes are atomic so the supervisor never
// observes a half-written value.
type DirBus struct {
	dir string
}

// NewDirBus returns a Bus backed by the given directory, creating it
// if necessary.
func NewDirBus(dir string) (*DirBus, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create property directory: %v", err)
	}
	return &DirBus{dir: dir}, nil
}

func (b *DirBus) propPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return "", fmt.Errorf("invalid property name %q", name)
	}
	return filepath.Join(b.dir, name), nil
}

// Get implements Bus. Unset or unreadable properties read as "".
func (b *DirBus) Get(name string) string {
	path, err := b.propPath(name)
	if err != nil {
		return ""
	}
	value, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(string(value), "\n")
}

// Set implements Bus.
func (b *DirBus) Set(name, value string) error {
	path, err := b.propPath(name)
	if err != nil {
		return err
	}
	if err := osutil.AtomicWriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("cannot set property %q: %v", name, err)
	}
	return nil
}

// MemBus is an in-memory Bus for tests. It additionally records the
// sequence of Set calls.
type MemBus struct {
	mu     sync.Mutex
	values map[string]string

	// Sets records every Set call as "name=value", in order.
	Sets []string
}

// NewMemBus returns an empty in-memory Bus.
func NewMemBus() *MemBus {
	return &MemBus{values: make(map[string]string)}
}

// Get implements Bus.
func (b *MemBus) Get(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values[name]
}

// Set implements Bus.
func (b *MemBus) Set(name, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = value
	b.Sets = append(b.Sets, name+"="+value)
	return nil
}

// SetLog returns a copy of the recorded Set calls.
func (b *MemBus) SetLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Sets...)
}
