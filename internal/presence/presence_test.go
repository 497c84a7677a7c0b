// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package presence

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/platinasystems/oireventsd/internal/metrics"
	"github.com/platinasystems/oireventsd/internal/regs"
)

// fakeClock advances virtual time on Sleep; nothing else of clock.Clock is
// used by the poller.
type fakeClock struct {
	clock.Clock
	now     time.Time
	slept   []time.Duration
	onSleep func()
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	if c.onSleep != nil {
		c.onSleep()
	}
}

func (c *fakeClock) elapsed(since time.Time) time.Duration {
	return c.now.Sub(since)
}

type board struct {
	*regs.Mem
	clk   *fakeClock
	polls int
}

// newBoard returns the registers of a 66 port board with modules in the
// given ports and every reset register idle.
func newBoard(present ...int) *board {
	values := map[string]string{
		"module_present_all":   maskOf(present...),
		"module_tx_disable_65": "1",
		"module_tx_disable_66": "1",
	}
	for port := 1; port <= 64; port++ {
		values[fmt.Sprintf("qsfp%d_reset", port)] = ResetIdle
	}
	b := &board{
		Mem: regs.NewMem(values),
		clk: &fakeClock{now: time.Unix(1500000000, 0)},
	}
	return b
}

func (b *board) plug(present ...int) {
	b.Set("module_present_all", maskOf(present...))
}

func (b *board) reset(port int) string {
	return b.Get(fmt.Sprintf("qsfp%d_reset", port))
}

func (b *board) poller(t *testing.T) *Poller {
	p := New(DefaultConfig(), b)
	p.Clock = b.clk
	p.Metrics = metrics.New()
	b.OnRead = func(name string) {
		if name == "module_present_all" {
			b.polls++
		}
	}
	return p
}

func (b *board) initialized(t *testing.T) *Poller {
	p := b.poller(t)
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	b.clk.slept = nil
	return p
}

func TestInit(t *testing.T) {
	b := newBoard(1, 65)
	p := b.poller(t)
	start := b.clk.now
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	if d := b.clk.elapsed(start); d != 5*time.Second {
		t.Errorf("settled %v", d)
	}
	if b.polls != 1 {
		t.Errorf("%d polls", b.polls)
	}
	if got := p.Presence().Ports(); !reflect.DeepEqual(got, []int{1, 65}) {
		t.Errorf("presence %v", got)
	}
	want := []regs.Access{{Name: "module_tx_disable_65", Value: TxEnable}}
	if got := b.Writes(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes %v", got)
	}
	if err := p.Init(); err != ErrInitialized {
		t.Errorf("second Init: %v", err)
	}
	if err := p.Deinit(); err != nil {
		t.Error(err)
	}
}

func TestInitNoTxPorts(t *testing.T) {
	b := newBoard(3, 64)
	b.initialized(t)
	if w := b.Writes(); len(w) != 0 {
		t.Errorf("writes %v", w)
	}
	if v := b.Get("module_tx_disable_66"); v != "1" {
		t.Errorf("port 66 tx disable %q", v)
	}
}

func TestInitBothTxPorts(t *testing.T) {
	b := newBoard(65, 66)
	b.initialized(t)
	want := []regs.Access{
		{Name: "module_tx_disable_65", Value: TxEnable},
		{Name: "module_tx_disable_66", Value: TxEnable},
	}
	if got := b.Writes(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes %v", got)
	}
}

func TestInitReadError(t *testing.T) {
	p := New(DefaultConfig(), regs.NewMem(nil))
	p.Clock = &fakeClock{}
	if err := p.Init(); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := p.WaitForChange(nil, time.Second); err != ErrNotInitialized {
		t.Errorf("WaitForChange before Init: %v", err)
	}
}

func TestNegativeTimeout(t *testing.T) {
	b := newBoard()
	p := b.initialized(t)
	b.plug(3)
	polls := b.polls
	ok, changes, err := p.WaitForChange(Changes{}, -5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ok || len(changes) != 0 {
		t.Errorf("got %t, %v", ok, changes)
	}
	if len(b.clk.slept) != 0 || b.polls != polls {
		t.Errorf("slept %v, polled %d", b.clk.slept, b.polls-polls)
	}
}

func TestInsertPort3(t *testing.T) {
	b := newBoard()
	p := b.initialized(t)
	b.clk.onSleep = func() { b.plug(3) }
	start := b.clk.now
	ok, changes, err := p.WaitForChange(Changes{}, 2000*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !reflect.DeepEqual(changes, Changes{3: Inserted}) {
		t.Errorf("got %t, %v", ok, changes)
	}
	if d := b.clk.elapsed(start); d > time.Second {
		t.Errorf("took %v", d)
	}
	if !p.Presence()[2] {
		t.Error("port 3 not cached as present")
	}
}

func TestRemove(t *testing.T) {
	b := newBoard(3, 10, 65)
	p := b.initialized(t)
	b.plug(10)
	ok, changes, err := p.WaitForChange(nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	want := Changes{3: Removed, 65: Removed}
	if !ok || !reflect.DeepEqual(changes, want) {
		t.Errorf("got %t, %v", ok, changes)
	}
}

func TestRawPortsMatchRegister(t *testing.T) {
	for _, port := range []int{65, 66} {
		b := newBoard()
		p := b.initialized(t)
		b.plug(port)
		ok, changes, err := p.WaitForChange(Changes{}, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || !reflect.DeepEqual(changes, Changes{port: Inserted}) {
			t.Errorf("port %d: got %t, %v", port, ok, changes)
		}
		b.plug()
		ok, changes, err = p.WaitForChange(Changes{}, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || !reflect.DeepEqual(changes, Changes{port: Removed}) {
			t.Errorf("port %d: got %t, %v", port, ok, changes)
		}
	}
}

func TestForever(t *testing.T) {
	const n = 5
	b := newBoard()
	p := b.initialized(t)
	polls := b.polls
	b.OnRead = func(name string) {
		if name != "module_present_all" {
			return
		}
		b.polls++
		if b.polls-polls == n {
			b.plug(7)
		}
	}
	ok, changes, err := p.WaitForChange(Changes{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !reflect.DeepEqual(changes, Changes{7: Inserted}) {
		t.Errorf("got %t, %v", ok, changes)
	}
	if b.polls-polls != n {
		t.Errorf("%d polls", b.polls-polls)
	}
	want := make([]time.Duration, n-1)
	for i := range want {
		want[i] = time.Second
	}
	if !reflect.DeepEqual(b.clk.slept, want) {
		t.Errorf("slept %v", b.clk.slept)
	}
}

func TestDeadline(t *testing.T) {
	for _, x := range []struct {
		timeout time.Duration
		slept   []time.Duration
	}{
		{2500 * time.Millisecond, []time.Duration{
			time.Second, time.Second, 500 * time.Millisecond}},
		{2000 * time.Millisecond, []time.Duration{
			time.Second, time.Second}},
		{300 * time.Millisecond, []time.Duration{
			300 * time.Millisecond}},
	} {
		b := newBoard(4)
		p := b.initialized(t)
		ok, changes, err := p.WaitForChange(Changes{}, x.timeout)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || len(changes) != 0 {
			t.Errorf("%v: got %t, %v", x.timeout, ok, changes)
		}
		if !reflect.DeepEqual(b.clk.slept, x.slept) {
			t.Errorf("%v: slept %v", x.timeout, b.clk.slept)
		}
	}
}

func TestIdempotent(t *testing.T) {
	b := newBoard(2, 66)
	p := b.initialized(t)
	writes := len(b.Writes())
	for i := 0; i < 2; i++ {
		ok, changes, err := p.WaitForChange(Changes{}, 1500*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || len(changes) != 0 {
			t.Errorf("call %d: got %t, %v", i, ok, changes)
		}
	}
	if len(b.Writes()) != writes {
		t.Errorf("writes %v", b.Writes())
	}
}

func TestResetSequence(t *testing.T) {
	b := newBoard(10)
	p := b.poller(t)
	b.Set("qsfp10_reset", ResetRequested)
	for i, x := range []struct {
		hw      string // driver's register value before the snapshot
		present bool
		after   string
	}{
		{"", false, ResetInProgress},
		{"", false, ResetInProgress},
		{ResetComplete, true, ResetIdle},
		{"", true, ResetIdle},
	} {
		if x.hw != "" {
			b.Set("qsfp10_reset", x.hw)
		}
		v, err := p.snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if v[9] != x.present {
			t.Errorf("snapshot %d: port 10 present %t", i, v[9])
		}
		if s := b.reset(10); s != x.after {
			t.Errorf("snapshot %d: reset register %q", i, s)
		}
	}
	want := []regs.Access{
		{Name: "qsfp10_reset", Value: ResetInProgress},
		{Name: "qsfp10_reset", Value: ResetIdle},
	}
	if got := b.Writes(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes %v", got)
	}
}

func TestResetEvents(t *testing.T) {
	b := newBoard(10)
	p := b.initialized(t)

	b.Set("qsfp10_reset", ResetRequested)
	ok, changes, err := p.WaitForChange(Changes{}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !reflect.DeepEqual(changes, Changes{10: Removed}) {
		t.Errorf("reset requested: got %t, %v", ok, changes)
	}

	ok, changes, err = p.WaitForChange(Changes{}, 1500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(changes) != 0 {
		t.Errorf("reset in progress: got %t, %v", ok, changes)
	}

	b.Set("qsfp10_reset", ResetComplete)
	ok, changes, err = p.WaitForChange(Changes{}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !reflect.DeepEqual(changes, Changes{10: Inserted}) {
		t.Errorf("reset complete: got %t, %v", ok, changes)
	}
	if s := b.reset(10); s != ResetIdle {
		t.Errorf("reset register %q", s)
	}
}

func TestResetIgnoredWhenAbsent(t *testing.T) {
	b := newBoard()
	p := b.poller(t)
	b.Set("qsfp5_reset", ResetRequested)
	v, err := p.snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if v[4] {
		t.Error("port 5 present")
	}
	if s := b.reset(5); s != ResetRequested {
		t.Errorf("reset register %q", s)
	}
	if w := b.Writes(); len(w) != 0 {
		t.Errorf("writes %v", w)
	}
}

func TestUnknownResetValue(t *testing.T) {
	b := newBoard(12)
	p := b.poller(t)
	b.Set("qsfp12_reset", "7")
	v, err := p.snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !v[11] {
		t.Error("port 12 absent")
	}
}

type failing struct {
	regs.Store
	name string
}

var errBus = errors.New("bus error")

func (f failing) Read(name string) (string, error) {
	if name == f.name {
		return "", errBus
	}
	return f.Store.Read(name)
}

func TestWaitReadError(t *testing.T) {
	b := newBoard(1)
	p := b.initialized(t)
	p.store = failing{b, "qsfp1_reset"}
	ok, changes, err := p.WaitForChange(Changes{}, 0)
	if err != errBus {
		t.Errorf("error %v", err)
	}
	if ok || len(changes) != 0 {
		t.Errorf("got %t, %v", ok, changes)
	}
}

func TestWaitBadMask(t *testing.T) {
	b := newBoard()
	p := b.initialized(t)
	b.Set("module_present_all", "not hex")
	if _, _, err := p.WaitForChange(Changes{}, time.Second); err == nil {
		t.Error("expected error")
	}
}

func TestVectorDiff(t *testing.T) {
	prev := Vector{true, false, true, false}
	v := Vector{true, true, false, false}
	changes := Changes{}
	if n := v.Diff(prev, changes); n != 2 {
		t.Errorf("%d changes", n)
	}
	if !reflect.DeepEqual(changes, Changes{2: Inserted, 3: Removed}) {
		t.Errorf("%v", changes)
	}
	if v.Equal(prev) || !v.Equal(Vector{true, true, false, false}) {
		t.Error("Equal")
	}
	if s := v.String(); s != "1,2" {
		t.Errorf("String %q", s)
	}
	if s := (Vector{false}).String(); s != "none" {
		t.Errorf("String %q", s)
	}
}
