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

// Package testutil provides checkers for gopkg.in/check.v1 used by the
// volcrypt test suites.
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type filePresenceChecker struct {
	*check.CheckerInfo
	present bool
}

// FilePresent verifies that the given file exists.
var FilePresent check.Checker = &filePresenceChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FilePresent", Params: []string{"filename"}},
	present:     true,
}

// FileAbsent verifies that the given file does not exist.
var FileAbsent check.Checker = &filePresenceChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FileAbsent", Params: []string{"filename"}},
	present:     false,
}

func (c *filePresenceChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "filename must be a string"
	}
	_, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return !c.present, ""
	}
	if err != nil {
		return false, fmt.Sprintf("cannot stat %q: %v", filename, err)
	}
	return c.present, ""
}

type fileEqualsChecker struct {
	*check.CheckerInfo
}

// FileEquals verifies that the given file's content is equal to the
// expected string or byte slice.
var FileEquals check.Checker = &fileEqualsChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FileEquals", Params: []string{"filename", "contents"}},
}

func (c *fileEqualsChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "filename must be a string"
	}
	var expected []byte
	switch v := params[1].(type) {
	case string:
		expected = []byte(v)
	case []byte:
		expected = v
	default:
		return false, "contents must be a string or a byte slice"
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return false, fmt.Sprintf("cannot read %q: %v", filename, err)
	}
	return bytes.Equal(content, expected), ""
}

type containsChecker struct {
	*check.CheckerInfo
}

// Contains verifies that the haystack, a string or a slice of strings,
// contains the given needle.
var Contains check.Checker = &containsChecker{
	CheckerInfo: &check.CheckerInfo{Name: "Contains", Params: []string{"haystack", "needle"}},
}

func (c *containsChecker) Check(params []interface{}, names []string) (result bool, error string) {
	needle, ok := params[1].(string)
	if !ok {
		return false, "needle must be a string"
	}
	switch haystack := params[0].(type) {
	case string:
		return strings.Contains(haystack, needle), ""
	case []string:
		for _, item := range haystack {
			if item == needle {
				return true, ""
			}
		}
		return false, ""
	default:
		return false, fmt.Sprintf("haystack is of unsupported type %T", params[0])
	}
}

type errorIsChecker struct {
	*check.CheckerInfo
}

// ErrorIs verifies that the error is, or wraps, the expected error, in
// the sense of errors.Is.
var ErrorIs check.Checker = &errorIsChecker{
	CheckerInfo: &check.CheckerInfo{Name: "ErrorIs", Params: []string{"error", "target"}},
}

func (c *errorIsChecker) Check(params []interface{}, names []string) (result bool, errMsg string) {
	if params[0] == nil {
		return false, "error is nil"
	}
	err, ok := params[0].(error)
	if !ok {
		return false, "first argument is not an error"
	}
	target, ok := params[1].(error)
	if !ok {
		return false, "second argument is not an error"
	}
	return errors.Is(err, target), ""
}
