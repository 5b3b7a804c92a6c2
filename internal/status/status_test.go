// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ffutop/modbus-master/internal/messenger"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/transport"
)

type fakeMessenger struct{}

func (fakeMessenger) Status() messenger.Status {
	return messenger.Status{MsgID: 7, SeqID: 9, QueueLength: messenger.QueueLength{Transport: 1, Messenger: 2}}
}

func (fakeMessenger) TransportStatus() transport.Status {
	return transport.Status{Requests: 7, ValidResponses: 5, RequestTimeouts: 2, QueueLength: 1}
}

type fakeScheduler struct{}

func (fakeScheduler) Stats() scheduler.Stats {
	return scheduler.Stats{Registrations: 3, Ticks: 10, Runs: 4}
}

func TestReporter_Snapshot(t *testing.T) {
	snap := NewReporter(fakeMessenger{}, fakeScheduler{}).Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatal(err)
	}
	var uptime string
	if err := json.Unmarshal(top["uptime"], &uptime); err != nil || uptime == "" {
		t.Errorf("uptime = %s, %v", top["uptime"], err)
	}
	decoded := make(map[string]map[string]any)
	for _, section := range []string{"transport", "messenger", "scheduler"} {
		var fields map[string]any
		if err := json.Unmarshal(top[section], &fields); err != nil {
			t.Fatalf("%s: %v", section, err)
		}
		decoded[section] = fields
	}
	if decoded["transport"]["processedRequests"] != 7.0 {
		t.Errorf("transport = %v", decoded["transport"])
	}
	if decoded["messenger"]["seqId"] != 9.0 {
		t.Errorf("messenger = %v", decoded["messenger"])
	}
	if decoded["scheduler"]["registrations"] != 3.0 {
		t.Errorf("scheduler = %v", decoded["scheduler"])
	}

	if snap := NewReporter(fakeMessenger{}, nil).Snapshot(); snap.Scheduler.Ticks != 0 {
		t.Errorf("nil scheduler ticks = %d", snap.Scheduler.Ticks)
	}
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(NewReporter(fakeMessenger{}, fakeScheduler{})))

	expected := `
# HELP modbus_master_transport_request_timeouts_total Attempts that timed out
# TYPE modbus_master_transport_request_timeouts_total counter
modbus_master_transport_request_timeouts_total 2
# HELP modbus_master_scheduler_registrations Active polling registrations
# TYPE modbus_master_scheduler_registrations gauge
modbus_master_scheduler_registrations 3
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"modbus_master_transport_request_timeouts_total", "modbus_master_scheduler_registrations")
	if err != nil {
		t.Error(err)
	}
}

func TestEventCounter(t *testing.T) {
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("dev", "temp"))
	EventCounter{}.Publish(scheduler.Event{ResourceID: "dev", Facade: "temp"})
	if got := testutil.ToFloat64(EventsPublished.WithLabelValues("dev", "temp")); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}
