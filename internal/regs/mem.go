// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package regs

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Mem is an in memory Store that stands in for the device directory in
// tests and dry runs.
type Mem struct {
	mutex  sync.Mutex
	values map[string]string
	writes []Access

	// OnRead, if set, is called with the register name before each Read
	// and may change values with Set to script hardware behavior.
	OnRead func(name string)
}

// Access records a Write to a Mem.
type Access struct {
	Name  string
	Value string
}

func NewMem(values map[string]string) *Mem {
	m := &Mem{values: make(map[string]string)}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *Mem) Read(name string) (string, error) {
	if m.OnRead != nil {
		m.OnRead(name)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	v, found := m.values[name]
	if !found {
		return "", errors.Wrapf(os.ErrNotExist, "read %s", name)
	}
	return v, nil
}

func (m *Mem) Write(name, value string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, found := m.values[name]; !found {
		return errors.Wrapf(os.ErrNotExist, "write %s", name)
	}
	m.values[name] = value
	m.writes = append(m.writes, Access{name, value})
	return nil
}

// Set a register value without journaling it as a Write.
func (m *Mem) Set(name, value string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values[name] = value
}

// Get a register value without triggering OnRead.
func (m *Mem) Get(name string) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.values[name]
}

// Writes returns a copy of the Write journal.
func (m *Mem) Writes() []Access {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Access(nil), m.writes...)
}
