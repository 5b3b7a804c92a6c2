// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package scheduler turns many polling registrations into few wire
// transactions. Registrations fire on a shared tick; those due on the same
// tick for the same slave and function code are merged into register runs,
// and each run is read with one request whose result is fanned out to the
// subscribers of every member.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ffutop/modbus-master/internal/expr"
	"github.com/ffutop/modbus-master/internal/master"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

const (
	// MinResolution is the finest tick. Finer resolutions are clamped.
	MinResolution = 500 * time.Millisecond

	// Origin tags the requests of the scheduler.
	Origin = "scheduler"
)

// Client submits requests. *master.Client implements it.
type Client interface {
	Submit(r *rtu.Request, origin string, done func(*master.Response, error)) error
}

// Key identifies a polled value.
type Key struct {
	ResourceID string
	Facade     string
}

func (k Key) String() string {
	return k.ResourceID + "/" + k.Facade
}

// ConfigRegister names one register of a configuration run.
type ConfigRegister struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ConfigEntry is one register of an emitted configuration run.
type ConfigEntry struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Address     uint16 `json:"address"`
	Value       int    `json:"value"`
}

// Registration asks for a value to be polled.
type Registration struct {
	ResourceID       string        `json:"resourceId"`
	Facade           string        `json:"facade"`
	Interval         time.Duration `json:"interval"`
	SlaveAddress     byte          `json:"slaveAddress"`
	DataAddress      uint16        `json:"dataAddress"`
	ReadFunctionCode byte          `json:"readFunctionCode"`
	// Range is the number of registers or bits, 0 meaning 1. A range above
	// 1 delivers the values as a slice.
	Range uint16 `json:"range,omitempty"`

	// EventThreshold suppresses events for numeric values that moved less
	// than the threshold since the last event. Nil emits on every change.
	EventThreshold *float64 `json:"eventThreshold,omitempty"`
	// Operation transforms the value before it is emitted.
	Operation string `json:"operation,omitempty"`

	// Configuration switches the registration to a configuration run: the
	// listed registers are emitted together, untransformed, as
	// []ConfigEntry.
	Configuration []ConfigRegister `json:"configuration,omitempty"`
}

func (r Registration) key() Key {
	return Key{ResourceID: r.ResourceID, Facade: r.Facade}
}

func (r Registration) span() uint16 {
	return max(r.Range, 1)
}

// Event carries a polled value to subscribers.
type Event struct {
	ResourceID string    `json:"resourceId"`
	Facade     string    `json:"facade"`
	Value      any       `json:"value"`
	Raw        any       `json:"raw"`
	Time       time.Time `json:"time"`
}

// Handler receives events. It runs on the transport goroutine and must not
// block.
type Handler func(Event)

type registration struct {
	Registration
	token int
	seq   uint64
}

// Stats are the scheduler counters.
type Stats struct {
	Registrations int    `json:"registrations"`
	Tokens        int    `json:"tokens"`
	Ticks         uint64 `json:"ticks"`
	Runs          uint64 `json:"runs"`
	RunFailures   uint64 `json:"runFailures"`
	Events        uint64 `json:"events"`
}

// Scheduler polls registrations on a fixed tick.
type Scheduler struct {
	client     Client
	transform  expr.Transformer
	resolution time.Duration
	log        *slog.Logger

	mu       sync.Mutex
	regs     map[Key]*registration
	seq      uint64
	counters map[int]int
	subs     map[Key]map[uuid.UUID]Handler
	subKeys  map[uuid.UUID]Key
	state    *FacadeState

	ticks       atomic.Uint64
	runs        atomic.Uint64
	runFailures atomic.Uint64
	events      atomic.Uint64
}

// New creates a scheduler. transform may be nil, leaving values untouched.
func New(client Client, transform expr.Transformer, resolution time.Duration) *Scheduler {
	if resolution < MinResolution {
		resolution = MinResolution
	}
	if transform == nil {
		transform = expr.NewEvaluator()
	}
	return &Scheduler{
		client:     client,
		transform:  transform,
		resolution: resolution,
		log:        slog.With("component", "scheduler"),
		regs:       make(map[Key]*registration),
		counters:   make(map[int]int),
		subs:       make(map[Key]map[uuid.UUID]Handler),
		subKeys:    make(map[uuid.UUID]Key),
		state:      NewFacadeState(),
	}
}

// Resolution returns the tick period.
func (s *Scheduler) Resolution() time.Duration {
	return s.resolution
}

// Token converts an interval to a number of ticks, at least 1.
func (s *Scheduler) Token(interval time.Duration) int {
	return max(1, int(math.Ceil(float64(interval)/float64(s.resolution))))
}

// Register adds or replaces the registration for (ResourceID, Facade).
func (s *Scheduler) Register(reg Registration) error {
	if !modbus.IsRead(reg.ReadFunctionCode) {
		return fmt.Errorf("scheduler: %s: function code 0x%02X is not a read", reg.key(), reg.ReadFunctionCode)
	}
	if reg.Interval <= 0 {
		return fmt.Errorf("scheduler: %s: interval must be positive", reg.key())
	}

	token := s.Token(reg.Interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &registration{Registration: reg, token: token}
	if old, ok := s.regs[reg.key()]; ok {
		r.seq = old.seq
	} else {
		s.seq++
		r.seq = s.seq
	}
	s.regs[reg.key()] = r
	s.alignToken(token)

	s.log.Info("Registered command", "resourceId", reg.ResourceID, "facade", reg.Facade,
		"interval", reg.Interval, "token", token, "slave", reg.SlaveAddress,
		"address", reg.DataAddress, "fc", reg.ReadFunctionCode, "range", reg.span())
	return nil
}

// alignToken creates the counter of a new token. A token that is a
// multiple or divisor of an existing token starts in that token's phase,
// reduced modulo the new token so that it still reaches the new token.
func (s *Scheduler) alignToken(token int) {
	if _, ok := s.counters[token]; ok {
		return
	}
	existing := make([]int, 0, len(s.counters))
	for t := range s.counters {
		existing = append(existing, t)
	}
	slices.Sort(existing)

	for _, t := range existing {
		if token%t == 0 || t%token == 0 {
			s.counters[token] = s.counters[t] % token
			return
		}
	}
	s.counters[token] = 0
}

// Subscribe delivers the events of (resourceID, facade) to h until the
// returned handle is unsubscribed or the resource is unregistered.
func (s *Scheduler) Subscribe(resourceID, facade string, h Handler) uuid.UUID {
	id := uuid.New()
	key := Key{ResourceID: resourceID, Facade: facade}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[uuid.UUID]Handler)
	}
	s.subs[key][id] = h
	s.subKeys[id] = key
	return id
}

// Unsubscribe removes one subscription. Unknown handles are ignored.
func (s *Scheduler) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe(id)
}

func (s *Scheduler) unsubscribe(id uuid.UUID) {
	key, ok := s.subKeys[id]
	if !ok {
		return
	}
	delete(s.subKeys, id)
	delete(s.subs[key], id)
	if len(s.subs[key]) == 0 {
		delete(s.subs, key)
	}
}

// UnregisterFacade stops polling one facade and drops its subscriptions.
func (s *Scheduler) UnregisterFacade(resourceID, facade string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(func(k Key) bool { return k.ResourceID == resourceID && k.Facade == facade })
}

// Unregister stops polling every facade of a resource and drops its
// subscriptions. Runs already in flight complete without delivering.
func (s *Scheduler) Unregister(resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(func(k Key) bool { return k.ResourceID == resourceID })
}

func (s *Scheduler) remove(match func(Key) bool) {
	for key := range s.regs {
		if match(key) {
			delete(s.regs, key)
			s.log.Info("Unregistered command", "resourceId", key.ResourceID, "facade", key.Facade)
		}
	}
	for id, key := range s.subKeys {
		if match(key) {
			s.unsubscribe(id)
		}
	}
	s.state.Forget(match)
}

// Registrations returns the active registrations in registration order.
func (s *Scheduler) Registrations() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := make([]*registration, 0, len(s.regs))
	for _, r := range s.regs {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	out := make([]Registration, len(regs))
	for i, r := range regs {
		out[i] = r.Registration
	}
	return out
}

// Stats returns the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	regs, tokens := len(s.regs), len(s.counters)
	s.mu.Unlock()
	return Stats{
		Registrations: regs,
		Tokens:        tokens,
		Ticks:         s.ticks.Load(),
		Runs:          s.runs.Load(),
		RunFailures:   s.runFailures.Load(),
		Events:        s.events.Load(),
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Starting scheduler polling timer", "resolution", s.resolution)
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping scheduler polling timer")
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick advances every counter once and submits the runs that became due.
func (s *Scheduler) Tick() {
	s.ticks.Add(1)

	s.mu.Lock()
	fired := make(map[int]bool)
	for token, n := range s.counters {
		n++
		if n >= token {
			fired[token] = true
			n = 0
		}
		s.counters[token] = n
	}
	var due []*registration
	for _, r := range s.regs {
		if fired[r.token] {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })

	runs := buildRuns(due)
	s.log.Debug("Executing polling commands", "due", len(due), "runs", len(runs))
	for _, run := range runs {
		s.execute(run)
	}
}

// run is one coalesced read. Member i covers the values at
// offsets[i]..offsets[i]+span.
type run struct {
	slave   byte
	fc      byte
	address uint16
	length  uint16
	members []*registration
	offsets []uint16
}

// buildRuns groups due registrations by slave and function code, in the
// order the groups first appear, and splits every group into runs.
func buildRuns(due []*registration) []*run {
	var runs []*run
	for len(due) > 0 {
		slave, fc := due[0].SlaveAddress, due[0].ReadFunctionCode
		var group, rest []*registration
		for _, r := range due {
			if r.SlaveAddress == slave && r.ReadFunctionCode == fc {
				group = append(group, r)
			} else {
				rest = append(rest, r)
			}
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].DataAddress < group[j].DataAddress })

		for len(group) > 0 {
			var r *run
			r, group = nextRun(group)
			runs = append(runs, r)
		}
		due = rest
	}
	return runs
}

// nextRun takes one run off the front of group, which is sorted by
// address. A seed of range 1 absorbs following registrations of range 1 at
// consecutive addresses, up to the quantity limit of the function code.
func nextRun(group []*registration) (*run, []*registration) {
	seed := group[0]
	r := &run{
		slave:   seed.SlaveAddress,
		fc:      seed.ReadFunctionCode,
		address: seed.DataAddress,
		length:  seed.span(),
		members: []*registration{seed},
		offsets: []uint16{0},
	}
	if seed.span() > 1 || seed.Configuration != nil {
		return r, group[1:]
	}

	limit := rtu.MaxReadRegisters
	if modbus.IsBitAccess(seed.ReadFunctionCode) {
		limit = rtu.MaxReadBits
	}
	last := seed.DataAddress
	for _, c := range group[1:] {
		if int(r.length) >= limit {
			break
		}
		if int(c.DataAddress)-int(last) != 1 || c.span() > 1 || c.Configuration != nil {
			break
		}
		r.members = append(r.members, c)
		r.offsets = append(r.offsets, r.length)
		r.length++
		last = c.DataAddress
	}
	return r, group[len(r.members):]
}

func (s *Scheduler) execute(r *run) {
	req, err := rtu.NewReadRequest(r.slave, r.fc, r.address, r.length)
	if err != nil {
		s.runFailures.Add(1)
		s.log.Error("Invalid register run", "slave", r.slave, "fc", r.fc, "address", r.address, "range", r.length, "err", err)
		return
	}
	s.runs.Add(1)
	err = s.client.Submit(req, Origin, func(resp *master.Response, err error) {
		if err != nil {
			s.runFailures.Add(1)
			s.log.Warn("Register run failed", "slave", r.slave, "fc", r.fc, "address", r.address, "range", r.length, "err", err)
			return
		}
		s.deliver(r, resp.Values())
	})
	if err != nil {
		s.runFailures.Add(1)
		s.log.Error("Failed to submit register run", "err", err)
	}
}

// deliver splits a run result over its members.
func (s *Scheduler) deliver(r *run, values []int) {
	now := time.Now()
	for i, m := range r.members {
		off := int(r.offsets[i])
		end := off + int(m.span())
		if end > len(values) {
			s.log.Warn("Short register run result", "facade", m.Facade, "want", end, "got", len(values))
			continue
		}

		var raw any
		switch {
		case m.Configuration != nil:
			raw = configEntries(m, values[off:end])
		case m.span() > 1:
			raw = slices.Clone(values[off:end])
		default:
			raw = values[off]
		}
		s.emit(m, raw, now)
	}
}

func configEntries(m *registration, values []int) []ConfigEntry {
	entries := make([]ConfigEntry, 0, len(m.Configuration))
	for _, c := range m.Configuration {
		if c.Index < 0 || c.Index >= len(values) {
			continue
		}
		entries = append(entries, ConfigEntry{
			Index:       c.Index,
			Name:        c.Name,
			Description: c.Description,
			Address:     m.DataAddress + uint16(c.Index),
			Value:       values[c.Index],
		})
	}
	return entries
}

func (s *Scheduler) emit(m *registration, raw any, now time.Time) {
	key := m.key()

	s.mu.Lock()
	// A run that was in flight while its registration went away.
	if s.regs[key] == nil {
		s.mu.Unlock()
		return
	}
	if !s.state.Observe(key, raw, m.EventThreshold) {
		s.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(s.subs[key]))
	for _, h := range s.subs[key] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	value := raw
	if m.Configuration == nil {
		v, err := s.apply(raw, m.Operation)
		if err != nil {
			s.log.Error("Failed to transform value", "resourceId", key.ResourceID, "facade", key.Facade, "operation", m.Operation, "err", err)
			return
		}
		value = v
	}

	ev := Event{ResourceID: key.ResourceID, Facade: key.Facade, Value: value, Raw: raw, Time: now}
	s.events.Add(1)
	s.log.Debug("Emitting event", "resourceId", key.ResourceID, "facade", key.Facade, "value", value)
	for _, h := range handlers {
		h(ev)
	}
}

// apply transforms a value, element by element for a slice.
func (s *Scheduler) apply(raw any, op string) (any, error) {
	values, ok := raw.([]int)
	if !ok || op == "" {
		return s.transform.Apply(raw, op)
	}
	out := make([]any, len(values))
	for i, v := range values {
		t, err := s.transform.Apply(v, op)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
