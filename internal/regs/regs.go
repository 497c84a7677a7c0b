// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package regs reads and writes the text attribute files that a board
// FPGA/CPLD driver exposes for its registers, e.g.
//
//	/sys/devices/platform/sys_fpga/module_present_all
//	/sys/devices/platform/sys_fpga/qsfp10_reset
//
// Values are whitespace trimmed on read and written without a newline.
package regs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store is the register access used by the presence poller.
type Store interface {
	Read(name string) (string, error)
	Write(name, value string) error
}

// Dir is a Store of the attribute files in the named directory.
type Dir string

func (dir Dir) Path(name string) string {
	return filepath.Join(string(dir), name)
}

func (dir Dir) Read(name string) (string, error) {
	b, err := os.ReadFile(dir.Path(name))
	if err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	return strings.TrimSpace(string(b)), nil
}

// Write the value to an existing attribute; sysfs attributes are never
// created here.
func (dir Dir) Write(name, value string) error {
	f, err := os.OpenFile(dir.Path(name), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	_, err = f.WriteString(value)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}
