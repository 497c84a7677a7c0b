// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package presence polls the board FPGA's transceiver presence registers
// and reports online insertion and removal (OIR) of modules by port.
//
// The combined presence register is active low, one bit per port. QSFP
// ports additionally have a reset register whose state overrides raw
// presence while a module reset is in flight:
//
//	"1" requested	absent, poller advances register to "2"
//	"2" in progress	absent
//	"3" complete	present, poller returns register to "0"
//
// Usage:
//
//	p := presence.New(cfg, regs.Dir(dir))
//	if err := p.Init(); err != nil {
//		...
//	}
//	for {
//		ok, changes, err := p.WaitForChange(make(presence.Changes), 0)
//		...
//	}
package presence

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/platinasystems/log"

	"github.com/platinasystems/oireventsd/internal/metrics"
	"github.com/platinasystems/oireventsd/internal/regs"
)

// QSFP reset register states.
const (
	ResetIdle       = "0"
	ResetRequested  = "1"
	ResetInProgress = "2"
	ResetComplete   = "3"
)

const TxEnable = "0"

var (
	ErrNotInitialized = errors.New("presence poller not initialized")
	ErrInitialized    = errors.New("presence poller already initialized")
)

type Config struct {
	// Ports is the number of front panel ports, 1 through Ports.
	Ports int `yaml:"ports"`
	// QsfpPorts, 1 through QsfpPorts, have reset registers.
	QsfpPorts int `yaml:"qsfp_ports"`
	// TxEnablePorts have transmit enabled once at Init if present.
	TxEnablePorts []int `yaml:"tx_enable_ports"`

	PresentAll      string `yaml:"present_all"`
	ResetFormat     string `yaml:"reset_format"`
	TxDisableFormat string `yaml:"tx_disable_format"`

	SettleDelay  time.Duration `yaml:"settle_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig is the Nokia IXR7220-H4-64D sys_fpga layout.
func DefaultConfig() Config {
	return Config{
		Ports:           66,
		QsfpPorts:       64,
		TxEnablePorts:   []int{65, 66},
		PresentAll:      "module_present_all",
		ResetFormat:     "qsfp%d_reset",
		TxDisableFormat: "module_tx_disable_%d",
		SettleDelay:     5 * time.Second,
		PollInterval:    time.Second,
	}
}

type Poller struct {
	Config

	Clock   clock.Clock
	Metrics *metrics.Metrics

	store       regs.Store
	last        Vector
	initialized bool
}

func New(cfg Config, store regs.Store) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.QsfpPorts > cfg.Ports {
		cfg.QsfpPorts = cfg.Ports
	}
	return &Poller{
		Config: cfg,
		Clock:  clock.New(),
		store:  store,
	}
}

// Init waits for the presence registers to settle after power on, caches
// the first snapshot and enables transmit on the present TxEnablePorts.
// It must be called once before WaitForChange.
func (p *Poller) Init() error {
	if p.initialized {
		return ErrInitialized
	}
	p.Clock.Sleep(p.SettleDelay)
	v, err := p.snapshot()
	if err != nil {
		return err
	}
	p.last = v
	p.initialized = true
	log.Print("daemon", "info", "initial presence: ", v)
	for i, present := range v {
		p.Metrics.Present(i+1, present)
	}
	for _, port := range p.TxEnablePorts {
		if port < 1 || port > len(v) || !v[port-1] {
			continue
		}
		if err = p.store.Write(fmt.Sprintf(p.TxDisableFormat, port),
			TxEnable); err != nil {
			return err
		}
		log.Print("daemon", "info", "port ", port, " tx enabled")
	}
	return nil
}

func (p *Poller) Deinit() error { return nil }

// Presence returns a copy of the last observed presence.
func (p *Poller) Presence() Vector {
	return append(Vector(nil), p.last...)
}

// WaitForChange polls until presence differs from the last observed
// vector or the timeout elapses. A zero timeout waits forever.
//
// On change, the changed ports are added to changes and returned with true.
// When the timeout elapses without change the result is true with an empty
// map, meaning poll again. A negative timeout returns false with an empty
// map.
func (p *Poller) WaitForChange(changes Changes, timeout time.Duration) (bool, Changes, error) {
	if timeout < 0 {
		return false, Changes{}, nil
	}
	if !p.initialized {
		return false, Changes{}, ErrNotInitialized
	}
	if changes == nil {
		changes = make(Changes)
	}
	forever := timeout == 0
	start := p.Clock.Now()
	end := start.Add(timeout)
	if end.Before(start) {
		// unreachable while time.Time.Add saturates
		return false, Changes{}, nil
	}
	for remaining := timeout; remaining >= 0; {
		v, err := p.snapshot()
		if err != nil {
			return false, Changes{}, err
		}
		if !v.Equal(p.last) {
			for i, present := range v {
				if i >= len(p.last) || present != p.last[i] {
					p.Metrics.Event(i+1, present)
				}
			}
			v.Diff(p.last, changes)
			p.last = v
			return true, changes, nil
		}
		if forever {
			p.Clock.Sleep(p.PollInterval)
			continue
		}
		remaining = end.Sub(p.Clock.Now())
		if remaining >= p.PollInterval {
			p.Clock.Sleep(p.PollInterval)
			continue
		}
		if remaining > 0 {
			p.Clock.Sleep(remaining)
		}
		return true, Changes{}, nil
	}
	// unreachable, every iteration returns or continues
	return false, Changes{}, nil
}

func (p *Poller) snapshot() (Vector, error) {
	p.Metrics.Poll()
	s, err := p.store.Read(p.PresentAll)
	if err != nil {
		return nil, err
	}
	mask, err := ParseMask(s)
	if err != nil {
		return nil, errors.Wrap(err, p.PresentAll)
	}
	v := make(Vector, p.Ports)
	for i := range v {
		v[i] = mask.Present(i + 1)
	}
	for port := 1; port <= p.QsfpPorts; port++ {
		if !v[port-1] {
			continue
		}
		if v[port-1], err = p.reset(port); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// reset applies the port's reset register state to a present module.
func (p *Poller) reset(port int) (bool, error) {
	name := fmt.Sprintf(p.ResetFormat, port)
	s, err := p.store.Read(name)
	if err != nil {
		return false, err
	}
	switch s {
	case ResetRequested:
		p.Metrics.Override("requested")
		return false, p.store.Write(name, ResetInProgress)
	case ResetInProgress:
		p.Metrics.Override("in_progress")
		return false, nil
	case ResetComplete:
		p.Metrics.Override("complete")
		return true, p.store.Write(name, ResetIdle)
	}
	return true, nil
}
