// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package device binds configured slaves to the scheduler: it registers
// their facades for polling, forwards the resulting events to a sink and
// offers direct reads and writes by facade name.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/expr"
	"github.com/ffutop/modbus-master/internal/master"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/internal/sink"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// RegisterFacade is the facade of a whole register block.
const RegisterFacade = "register"

var (
	ErrUnknownDevice = errors.New("device: unknown device")
	ErrUnknownFacade = errors.New("device: facade is not supported by controller")
	ErrNotReadable   = errors.New("device: facade has no read function code")
	ErrNotWritable   = errors.New("device: facade has no write function code")
)

// Client performs direct requests. *master.Client implements it.
type Client interface {
	Do(ctx context.Context, r *rtu.Request, origin string) (*master.Response, error)
	// Flush fails the queued requests with modbus.ErrFlushed.
	Flush()
}

// facade is the resolved addressing of one named value.
type facade struct {
	name       string
	address    uint16
	span       uint16
	readFC     byte
	writeFC    byte
	interval   time.Duration
	threshold  *float64
	operation  string
	writeOp    string
	unit       string
	blockIndex int // -1 outside a register block
}

// ConfigurationFacade names the facade of a configuration run at address.
func ConfigurationFacade(address uint16) string {
	return fmt.Sprintf("%dconfiguration", address)
}

// Controller runs one device.
type Controller struct {
	cfg       config.DeviceConfig
	slave     byte
	sched     *scheduler.Scheduler
	client    Client
	transform expr.Transformer
	out       sink.Sink
	log       *slog.Logger

	facades map[string]*facade
	order   []string
	block   *facade
	config  *config.ConfigurationConfig

	mu      sync.Mutex
	started bool
	// blockState suppresses register block interface events.
	blockState *scheduler.FacadeState
}

// NewController resolves the facades of cfg.
func NewController(cfg config.DeviceConfig, sched *scheduler.Scheduler, client Client, transform expr.Transformer, out sink.Sink) (*Controller, error) {
	if transform == nil {
		transform = expr.NewEvaluator()
	}
	if out == nil {
		out = sink.Log{}
	}
	c := &Controller{
		cfg:        cfg,
		slave:      byte(cfg.SlaveAddress),
		sched:      sched,
		client:     client,
		transform:  transform,
		out:        out,
		log:        slog.With("component", "device", "resourceId", cfg.ID),
		facades:    make(map[string]*facade),
		config:     cfg.Configuration,
		blockState: scheduler.NewFacadeState(),
	}

	for _, f := range cfg.Facades {
		readFC := byte(f.ReadFunctionCode)
		if readFC == 0 {
			readFC = modbus.FuncCodeReadHoldingRegisters
		}
		if err := c.add(&facade{
			name:       f.Name,
			address:    uint16(f.DataAddress),
			span:       uint16(max(f.Range, 1)),
			readFC:     readFC,
			writeFC:    byte(f.WriteFunctionCode),
			interval:   f.Interval,
			threshold:  f.EventThreshold,
			operation:  f.Operation,
			writeOp:    f.WriteOperation,
			blockIndex: -1,
		}); err != nil {
			return nil, err
		}
	}

	if b := cfg.RegisterBlock; b != nil {
		c.block = &facade{
			name:       RegisterFacade,
			address:    uint16(b.DataAddress),
			span:       uint16(b.Range),
			readFC:     byte(b.ReadFunctionCode),
			writeFC:    byte(b.WriteFunctionCode),
			interval:   b.Interval,
			blockIndex: -1,
		}
		if err := c.add(c.block); err != nil {
			return nil, err
		}
		for _, intf := range b.Interfaces {
			if intf.Index >= b.Range {
				return nil, fmt.Errorf("device %s: interface %s: index %d outside register block of %d", cfg.ID, intf.Name, intf.Index, b.Range)
			}
			if err := c.add(&facade{
				name:       intf.Name,
				address:    uint16(b.DataAddress + intf.Index),
				span:       1,
				readFC:     byte(b.ReadFunctionCode),
				writeFC:    byte(b.WriteFunctionCode),
				interval:   b.Interval,
				threshold:  intf.EventThreshold,
				operation:  intf.Operation,
				unit:       intf.Unit,
				blockIndex: intf.Index,
			}); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Controller) add(f *facade) error {
	if _, ok := c.facades[f.name]; ok {
		return fmt.Errorf("device %s: duplicate facade %q", c.cfg.ID, f.name)
	}
	c.facades[f.name] = f
	c.order = append(c.order, f.name)
	return nil
}

// ID returns the resource id.
func (c *Controller) ID() string {
	return c.cfg.ID
}

// SlaveAddress returns the slave the device answers on.
func (c *Controller) SlaveAddress() byte {
	return c.slave
}

// FacadeInfo describes a facade for listings.
type FacadeInfo struct {
	Name              string        `json:"name"`
	DataAddress       uint16        `json:"dataAddress"`
	Range             uint16        `json:"range"`
	ReadFunctionCode  byte          `json:"readFunctionCode"`
	WriteFunctionCode byte          `json:"writeFunctionCode,omitempty"`
	Interval          time.Duration `json:"interval"`
	Operation         string        `json:"operation,omitempty"`
	Unit              string        `json:"unit,omitempty"`
}

// Facades describes the facades in configuration order.
func (c *Controller) Facades() []FacadeInfo {
	infos := make([]FacadeInfo, 0, len(c.order))
	for _, name := range c.order {
		f := c.facades[name]
		infos = append(infos, FacadeInfo{
			Name:              f.name,
			DataAddress:       f.address,
			Range:             f.span,
			ReadFunctionCode:  f.readFC,
			WriteFunctionCode: f.writeFC,
			Interval:          f.interval,
			Operation:         f.operation,
			Unit:              f.unit,
		})
	}
	return infos
}

// Start registers the polled facades with the scheduler.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	for _, name := range c.order {
		f := c.facades[name]
		if f.blockIndex >= 0 || f == c.block || f.interval <= 0 {
			continue
		}
		c.log.Info("Registering facade with scheduler", "facade", f.name, "interval", f.interval)
		if err := c.register(scheduler.Registration{
			Facade:           f.name,
			Interval:         f.interval,
			DataAddress:      f.address,
			ReadFunctionCode: f.readFC,
			Range:            f.span,
			EventThreshold:   f.threshold,
			Operation:        f.operation,
		}, c.forward); err != nil {
			return err
		}
	}

	if c.block != nil && c.block.interval > 0 {
		c.log.Info("Registering register block with scheduler", "interval", c.block.interval, "range", c.block.span)
		if err := c.register(scheduler.Registration{
			Facade:           RegisterFacade,
			Interval:         c.block.interval,
			DataAddress:      c.block.address,
			ReadFunctionCode: c.block.readFC,
			Range:            c.block.span,
		}, c.splitBlock); err != nil {
			return err
		}
	}

	if cc := c.config; cc != nil {
		regs := make([]scheduler.ConfigRegister, len(cc.Registers))
		span := 1
		for i, r := range cc.Registers {
			regs[i] = scheduler.ConfigRegister{Index: r.Index, Name: r.Name, Description: r.Description}
			span = max(span, r.Index+1)
		}
		name := ConfigurationFacade(uint16(cc.DataAddress))
		c.log.Info("Registering configuration registers with scheduler", "facade", name, "interval", cc.Interval, "range", span)
		if err := c.register(scheduler.Registration{
			Facade:           name,
			Interval:         cc.Interval,
			DataAddress:      uint16(cc.DataAddress),
			ReadFunctionCode: byte(cc.ReadFunctionCode),
			Range:            uint16(span),
			Configuration:    regs,
		}, c.forward); err != nil {
			return err
		}
	}

	c.started = true
	return nil
}

func (c *Controller) register(reg scheduler.Registration, h scheduler.Handler) error {
	reg.ResourceID = c.cfg.ID
	reg.SlaveAddress = c.slave
	if err := c.sched.Register(reg); err != nil {
		c.sched.Unregister(c.cfg.ID)
		return err
	}
	c.sched.Subscribe(reg.ResourceID, reg.Facade, h)
	return nil
}

// Stop unregisters the device from the scheduler and flushes the transmit
// queue. The queue is shared by the line, so runs queued for other devices
// fail with modbus.ErrFlushed and are polled again on their next token.
// Stop is idempotent.
func (c *Controller) Stop() {
	c.unregister()
	if c.client != nil {
		c.client.Flush()
	}
}

func (c *Controller) unregister() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.Unregister(c.cfg.ID)
	c.blockState.Forget(func(scheduler.Key) bool { return true })
	c.started = false
}

func (c *Controller) forward(ev scheduler.Event) {
	c.out.Publish(ev)
}

// splitBlock turns a register block event into one event per interface.
func (c *Controller) splitBlock(ev scheduler.Event) {
	values, ok := ev.Raw.([]int)
	if !ok {
		c.log.Warn("Unexpected register block value", "value", ev.Raw)
		return
	}
	for _, name := range c.order {
		f := c.facades[name]
		if f.blockIndex < 0 {
			continue
		}
		if f.blockIndex >= len(values) {
			c.log.Error("Failed to get facade data", "facade", f.name, "index", f.blockIndex, "got", len(values))
			continue
		}
		raw := values[f.blockIndex]
		key := scheduler.Key{ResourceID: c.cfg.ID, Facade: f.name}
		if !c.blockState.Observe(key, raw, f.threshold) {
			continue
		}
		value, err := c.transform.Apply(raw, f.operation)
		if err != nil {
			c.log.Error("Failed to transform value", "facade", f.name, "operation", f.operation, "err", err)
			continue
		}
		c.out.Publish(scheduler.Event{ResourceID: c.cfg.ID, Facade: f.name, Value: value, Raw: raw, Time: ev.Time})
	}
}

func (c *Controller) origin() string {
	return "device:" + c.cfg.ID
}

func (c *Controller) lookup(name string) (*facade, error) {
	f, ok := c.facades[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFacade, name)
	}
	return f, nil
}

// Get reads a facade directly, bypassing the scheduler, and applies its
// operation. Facades wider than one register yield a slice.
func (c *Controller) Get(ctx context.Context, name string) (any, error) {
	f, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if !modbus.IsRead(f.readFC) {
		return nil, fmt.Errorf("%w: %s", ErrNotReadable, name)
	}
	req, err := rtu.NewReadRequest(c.slave, f.readFC, f.address, f.span)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(ctx, req, c.origin())
	if err != nil {
		return nil, err
	}
	values := resp.Values()
	if len(values) == 0 {
		return nil, fmt.Errorf("device %s: empty response for %s", c.cfg.ID, name)
	}
	if f.span == 1 {
		return c.transform.Apply(values[0], f.operation)
	}
	out := make([]any, len(values))
	for i, v := range values {
		if out[i], err = c.transform.Apply(v, f.operation); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// State reads every readable facade. Facades that fail are logged and left
// out.
func (c *Controller) State(ctx context.Context) map[string]any {
	state := make(map[string]any)
	for _, name := range c.order {
		v, err := c.Get(ctx, name)
		if err != nil {
			if !errors.Is(err, ErrNotReadable) {
				c.log.Error("Failed to get state", "facade", name, "err", err)
			}
			continue
		}
		state[name] = v
	}
	return state
}

// Set writes value to a facade through its write function code. value may
// be a number, a bool, "on"/"off", or for multiple writes a slice of those.
func (c *Controller) Set(ctx context.Context, name string, value any) error {
	f, err := c.lookup(name)
	if err != nil {
		return err
	}
	if f.writeFC == 0 {
		return fmt.Errorf("%w: %s", ErrNotWritable, name)
	}

	values, err := c.writeValues(f, value)
	if err != nil {
		return err
	}

	var req *rtu.Request
	switch f.writeFC {
	case modbus.FuncCodeWriteSingleCoil:
		req = rtu.NewWriteCoilRequest(c.slave, f.address, values[0] != 0)
	case modbus.FuncCodeWriteSingleRegister:
		req = rtu.NewWriteRegisterRequest(c.slave, f.address, values[0])
	case modbus.FuncCodeWriteMultipleCoils:
		states := make([]bool, len(values))
		for i, v := range values {
			states[i] = v != 0
		}
		req, err = rtu.NewWriteCoilsRequest(c.slave, f.address, states)
	case modbus.FuncCodeWriteMultipleRegisters:
		req, err = rtu.NewWriteRegistersRequest(c.slave, f.address, values)
	default:
		err = fmt.Errorf("device %s: facade %s: unsupported write function code %d", c.cfg.ID, name, f.writeFC)
	}
	if err != nil {
		return err
	}

	c.log.Info("Writing facade", "facade", name, "value", value, "description", master.Describe(req))
	_, err = c.client.Do(ctx, req, c.origin())
	return err
}

// writeValues converts value to register values, applying the write
// operation to every element.
func (c *Controller) writeValues(f *facade, value any) ([]uint16, error) {
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("device %s: facade %s: empty value", c.cfg.ID, f.name)
	}
	out := make([]uint16, len(items))
	for i, item := range items {
		n, err := numeric(item)
		if err != nil {
			return nil, fmt.Errorf("device %s: facade %s: %w", c.cfg.ID, f.name, err)
		}
		v, err := c.transform.Apply(n, f.writeOp)
		if err != nil {
			return nil, err
		}
		fv, ok := expr.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("device %s: facade %s: write operation yielded %T", c.cfg.ID, f.name, v)
		}
		fv = math.Round(fv)
		if fv < 0 || fv > math.MaxUint16 {
			return nil, fmt.Errorf("device %s: facade %s: value %v out of register range", c.cfg.ID, f.name, fv)
		}
		out[i] = uint16(fv)
	}
	return out, nil
}

func numeric(v any) (float64, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "on", "true":
			return 1, nil
		case "off", "false":
			return 0, nil
		}
		return 0, fmt.Errorf("invalid value %q", s)
	}
	f, ok := expr.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("invalid value of type %T", v)
	}
	return f, nil
}
