// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/device"
	"github.com/ffutop/modbus-master/internal/master"
	"github.com/ffutop/modbus-master/internal/messenger"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/internal/status"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
	"github.com/ffutop/modbus-master/transport"
)

// fakeSlave answers direct device requests from a register map.
type fakeSlave struct {
	registers map[uint16]uint16
	writes    []*rtu.Request
}

func (f *fakeSlave) Flush() {}

func (f *fakeSlave) Do(ctx context.Context, r *rtu.Request, origin string) (*master.Response, error) {
	switch r.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		if r.SlaveAddress != 1 {
			return nil, modbus.ErrUnresponsive
		}
		regs := make([]uint16, r.Quantity)
		for i := range regs {
			regs[i] = f.registers[r.Address+uint16(i)]
		}
		return &master.Response{Registers: regs}, nil
	case modbus.FuncCodeWriteSingleRegister:
		f.writes = append(f.writes, r)
		f.registers[r.Address] = r.Quantity
		return &master.Response{}, nil
	}
	return nil, &modbus.ExceptionError{FunctionCode: r.FunctionCode, Code: modbus.ExceptionCodeIllegalFunction}
}

type fakeMessenger struct{}

func (fakeMessenger) Status() messenger.Status          { return messenger.Status{MsgID: 3} }
func (fakeMessenger) TransportStatus() transport.Status { return transport.Status{Requests: 3} }

func newTestServer(t *testing.T) (*httptest.Server, *Server, *fakeSlave) {
	t.Helper()
	slave := &fakeSlave{registers: map[uint16]uint16{10: 215}}
	sched := scheduler.New(nil, nil, scheduler.MinResolution)
	devices, err := device.NewManager([]config.DeviceConfig{
		{ID: "hvac", SlaveAddress: 1, Facades: []config.FacadeConfig{
			{Name: "setpoint", Interval: time.Second, DataAddress: 10, WriteFunctionCode: 6, Operation: "value / 10", WriteOperation: "value * 10"},
			{Name: "power", DataAddress: 4, ReadFunctionCode: 1, WriteFunctionCode: 5},
		}},
		{ID: "offline", SlaveAddress: 2, Facades: []config.FacadeConfig{{Name: "temp", DataAddress: 0}}},
	}, sched, slave, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := devices.Start(); err != nil {
		t.Fatal(err)
	}

	reporter := status.NewReporter(fakeMessenger{}, sched)
	reg := prometheus.NewRegistry()
	reg.MustRegister(status.NewCollector(reporter))

	s := NewServer(Options{Reporter: reporter, Scheduler: sched, Devices: devices, Gatherer: reg})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return ts, s, slave
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return resp.StatusCode, sb.String()
}

func TestServer_Endpoints(t *testing.T) {
	ts, _, slave := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		contains string
	}{
		{"health", "GET", "/health", "", 200, "OK"},
		{"status", "GET", "/api/v1/status", "", 200, `"processedRequests":3`},
		{"registrations", "GET", "/api/v1/registrations", "", 200, `"facade":"setpoint"`},
		{"devices", "GET", "/api/v1/devices", "", 200, `"id":"offline"`},
		{"metrics", "GET", "/metrics", "", 200, "modbus_master_scheduler_registrations 1"},
		{"get facade", "GET", "/api/v1/devices/hvac/facades/setpoint", "", 200, `{"value":21.5}`},
		{"unknown device", "GET", "/api/v1/devices/nope/facades/setpoint", "", 404, "unknown device"},
		{"unknown facade", "GET", "/api/v1/devices/hvac/facades/nope", "", 404, "not supported"},
		{"slave exception", "GET", "/api/v1/devices/hvac/facades/power", "", 502, "illegal function"},
		{"unresponsive", "GET", "/api/v1/devices/offline/facades/temp", "", 504, "did not respond"},
		{"set facade", "PUT", "/api/v1/devices/hvac/facades/setpoint", `{"value": 19}`, 200, `{"value":19}`},
		{"set not writable", "PUT", "/api/v1/devices/offline/facades/temp", `{"value": 1}`, 405, "no write function code"},
		{"set bad json", "PUT", "/api/v1/devices/hvac/facades/setpoint", `{`, 400, "Invalid JSON"},
		{"set missing value", "PUT", "/api/v1/devices/hvac/facades/setpoint", `{}`, 400, "missing value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, tt.method, ts.URL+tt.path, tt.body)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", code, tt.wantCode, body)
			}
			if !strings.Contains(body, tt.contains) {
				t.Errorf("body = %s, want it to contain %s", body, tt.contains)
			}
		})
	}

	if len(slave.writes) != 1 || slave.registers[10] != 190 {
		t.Errorf("writes = %d, register = %d", len(slave.writes), slave.registers[10])
	}
}

func TestServer_DeviceState(t *testing.T) {
	ts, _, _ := newTestServer(t)
	code, body := do(t, "GET", ts.URL+"/api/v1/devices/hvac", "")
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(body), &state); err != nil {
		t.Fatal(err)
	}
	if state["setpoint"] != 21.5 {
		t.Errorf("state = %v", state)
	}
	if _, ok := state["power"]; ok {
		t.Errorf("failed facade reported: %v", state)
	}
}

func TestHub_StreamsEvents(t *testing.T) {
	ts, s, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?resource=hvac"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Hub().Publish(scheduler.Event{ResourceID: "other", Facade: "x", Value: 1})
	s.Hub().Publish(scheduler.Event{ResourceID: "hvac", Facade: "setpoint", Value: 21.5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev scheduler.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.ResourceID != "hvac" || ev.Facade != "setpoint" || ev.Value != 21.5 {
		t.Errorf("event = %+v", ev)
	}
}
