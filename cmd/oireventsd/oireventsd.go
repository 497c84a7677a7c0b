// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package oireventsd is the transceiver insertion and removal daemon for
// the front panel ports of FPGA managed switches. It polls the presence
// registers and publishes to redis.
package oireventsd

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	redigo "github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"

	"github.com/platinasystems/oireventsd/internal/metrics"
	"github.com/platinasystems/oireventsd/internal/platform"
	"github.com/platinasystems/oireventsd/internal/presence"
	"github.com/platinasystems/oireventsd/internal/regs"
)

const (
	Installed = "installed"
	Empty     = "empty"
)

// DefaultTimeout is the wait, in milliseconds, between stop checks.
const DefaultTimeout = 1000

// Kind classifies a goes command.
type Kind string

const Daemon Kind = "daemon"

// Printer is satisfied by *publisher.Publisher.
type Printer interface {
	Print(...interface{}) (int, error)
}

type Command struct {
	Info

	// Init, if set, is called once before the first Main.
	Init func()
	init sync.Once

	// Store, if set, replaces the profile's register directory.
	Store regs.Store
	// Clock, if set, replaces the real clock.
	Clock clock.Clock
	// Pub, if set, replaces the redis publisher.
	Pub Printer
}

type Info struct {
	mutex  sync.Mutex
	pub    Printer
	stop   chan struct{}
	lasts  map[string]string
	poller *presence.Poller

	mirror string
	hash   string
}

func (*Command) String() string { return "oireventsd" }

func (*Command) Kind() Kind { return Daemon }

func (*Command) Usage() string {
	return "oireventsd [-no-redis] [-profile NAME | -config FILE] " +
		"[-timeout MS] [-metrics ADDR] [-mirror ADDR [-hash NAME]]"
}

func (*Command) Apropos() string {
	return "transceiver insertion and removal daemon, publishes to redis"
}

func (c *Command) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}
	return nil
}

func (c *Command) stopped() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Command) Main(args ...string) error {
	var err error

	if c.Init != nil {
		c.init.Do(c.Init)
	}

	flag, args := flags.New(args, "-no-redis")
	parm, args := parms.New(args, "-profile", "-config", "-timeout",
		"-metrics", "-mirror", "-hash")
	if len(args) > 0 {
		return errors.Errorf("%v: unexpected", args)
	}

	profile, err := c.profile(parm.ByName["-profile"],
		parm.ByName["-config"])
	if err != nil {
		return err
	}

	timeout := DefaultTimeout
	if s := parm.ByName["-timeout"]; len(s) > 0 {
		if timeout, err = strconv.Atoi(s); err != nil || timeout < 0 {
			return errors.Errorf("%s: invalid timeout", s)
		}
	}

	c.mutex.Lock()
	c.stop = make(chan struct{})
	c.lasts = make(map[string]string)
	c.mirror = parm.ByName["-mirror"]
	c.hash = parm.ByName["-hash"]
	if len(c.hash) == 0 {
		c.hash = redis.DefaultHash
	}
	if len(c.hash) == 0 {
		c.hash = "platina"
	}
	c.mutex.Unlock()

	switch {
	case c.Pub != nil:
		c.pub = c.Pub
	case flag.ByName["-no-redis"]:
		c.pub = nil
	default:
		if err = redis.IsReady(); err != nil {
			log.Print("daemon", "err", "redis not ready")
			return err
		}
		pub, err := publisher.New()
		if err != nil {
			return err
		}
		c.pub = pub
	}

	store := c.Store
	if store == nil {
		store = regs.Dir(profile.Dir)
	}
	c.poller = presence.New(profile.Config, store)
	if c.Clock != nil {
		c.poller.Clock = c.Clock
	}

	if addr := parm.ByName["-metrics"]; len(addr) > 0 {
		c.poller.Metrics = metrics.New()
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrap(err, "metrics")
		}
		defer ln.Close()
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.poller.Metrics.Handler())
		go func() {
			if err := serve(ln, mux); err != nil {
				log.Print("daemon", "err", "metrics: ", err)
			}
		}()
	}

	log.Print("daemon", "info", "profile ", profile.Name, " at ",
		profile.Dir)
	if err = c.poller.Init(); err != nil {
		return err
	}
	defer c.poller.Deinit()

	c.update(c.poller.Presence(), nil)

	for !c.stopped() {
		ok, changes, err := c.poller.WaitForChange(
			make(presence.Changes), msec(timeout))
		if err != nil {
			log.Print("daemon", "err", "presence: ", err)
			return err
		}
		if !ok {
			return errors.New("presence: wait failed")
		}
		if len(changes) > 0 {
			c.update(c.poller.Presence(), changes)
		}
	}
	return nil
}

func (c *Command) profile(name, fn string) (platform.Profile, error) {
	switch {
	case len(fn) > 0:
		return platform.Load(fn)
	case len(name) > 0:
		return platform.Lookup(name)
	}
	return platform.Lookup(platform.Default)
}

// update publishes the presence of the changed ports, or of every port if
// changes is nil.
func (c *Command) update(v presence.Vector, changes presence.Changes) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var mirror [][2]string
	for i, present := range v {
		port := i + 1
		if changes != nil {
			if _, found := changes[port]; !found {
				continue
			}
		}
		k := c.key(port)
		s := Empty
		if present {
			s = Installed
		}
		if s == c.lasts[k] {
			continue
		}
		if changes != nil {
			if present {
				log.Printf("daemon", "info", "%s installed in port %d",
					c.kind(port), port)
			} else {
				log.Printf("daemon", "info", "%s removed from port %d",
					c.kind(port), port)
			}
		}
		if c.pub != nil {
			if _, err := c.pub.Print(k, ": ", s); err != nil {
				log.Print("daemon", "err", "publish ", k, ": ", err)
			}
		}
		c.lasts[k] = s
		mirror = append(mirror, [2]string{k, s})
	}
	if len(c.mirror) > 0 && len(mirror) > 0 {
		c.hset(mirror)
	}
}

// hset copies the published fields to a remote redis hash; failure is
// only logged.
func (c *Command) hset(fields [][2]string) {
	d, err := redigo.Dial("tcp", c.mirror)
	if err != nil {
		log.Print("daemon", "err", "mirror ", c.mirror, ": ", err)
		return
	}
	defer d.Close()
	for _, f := range fields {
		if _, err = d.Do("HSET", c.hash, f[0], f[1]); err != nil {
			log.Print("daemon", "err", "mirror ", c.mirror, ": ", err)
			return
		}
	}
}

func (c *Command) kind(port int) string {
	if port <= c.poller.QsfpPorts {
		return "qsfp"
	}
	return "sfp"
}

func (c *Command) key(port int) string {
	return fmt.Sprintf("port-%d.%s.presence", port, c.kind(port))
}

// serve returns nil once the listener is closed.
func serve(ln net.Listener, h http.Handler) error {
	err := http.Serve(ln, h)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func msec(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
