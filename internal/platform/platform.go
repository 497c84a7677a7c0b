// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package platform describes where and how each supported board exposes
// its transceiver presence registers.
//
// A profile file is YAML overlaid on a built-in profile, e.g.
//
//	base: ixr7220h4-64d
//	dir: /sys/devices/platform/sys_fpga/
//	settle_delay: 2s
package platform

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/platinasystems/oireventsd/internal/presence"
)

const Default = "ixr7220h4-64d"

var ErrUnknownProfile = errors.New("unknown platform profile")

type Profile struct {
	Name string `yaml:"-"`
	// Base names the built-in profile that a file overrides.
	Base string `yaml:"base,omitempty"`
	Dir  string `yaml:"dir"`

	presence.Config `yaml:",inline"`
}

var builtin = map[string]Profile{
	"ixr7220h4-64d": {
		Dir:    "/sys/devices/platform/sys_fpga/",
		Config: presence.DefaultConfig(),
	},
}

// Names of the built-in profiles.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Profile, error) {
	p, found := builtin[name]
	if !found {
		return Profile{}, errors.Wrap(ErrUnknownProfile, name)
	}
	p.Name = name
	p.TxEnablePorts = append([]int(nil), p.TxEnablePorts...)
	return p, nil
}

// Load a profile file.
func Load(fn string) (Profile, error) {
	b, err := os.ReadFile(fn)
	if err != nil {
		return Profile{}, errors.Wrap(err, "platform")
	}
	p, err := Parse(b)
	if err != nil {
		return Profile{}, errors.Wrap(err, fn)
	}
	return p, nil
}

// Parse profile YAML.
func Parse(b []byte) (Profile, error) {
	var hdr struct {
		Base string `yaml:"base"`
	}
	if err := yaml.Unmarshal(b, &hdr); err != nil {
		return Profile{}, errors.WithStack(err)
	}
	if hdr.Base == "" {
		hdr.Base = Default
	}
	p, err := Lookup(hdr.Base)
	if err != nil {
		return Profile{}, err
	}
	if err = yaml.Unmarshal(b, &p); err != nil {
		return Profile{}, errors.WithStack(err)
	}
	p.Name = hdr.Base
	if err = p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p Profile) Validate() error {
	switch {
	case p.Dir == "":
		return errors.New("dir: missing")
	case p.Ports < 1:
		return errors.Errorf("ports: %d", p.Ports)
	case p.QsfpPorts < 0 || p.QsfpPorts > p.Ports:
		return errors.Errorf("qsfp_ports: %d of %d", p.QsfpPorts, p.Ports)
	case p.PresentAll == "":
		return errors.New("present_all: missing")
	case p.QsfpPorts > 0 && p.ResetFormat == "":
		return errors.New("reset_format: missing")
	case len(p.TxEnablePorts) > 0 && p.TxDisableFormat == "":
		return errors.New("tx_disable_format: missing")
	case p.PollInterval <= 0:
		return errors.Errorf("poll_interval: %v", p.PollInterval)
	case p.SettleDelay < 0:
		return errors.Errorf("settle_delay: %v", p.SettleDelay)
	}
	for _, port := range p.TxEnablePorts {
		if port < 1 || port > p.Ports {
			return errors.Errorf("tx_enable_ports: %d of %d",
				port, p.Ports)
		}
	}
	return nil
}
