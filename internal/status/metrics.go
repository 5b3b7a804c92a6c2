// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ffutop/modbus-master/internal/scheduler"
)

const namespace = "modbus_master"

// EventsPublished counts facade events per device and facade.
var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "events_published_total",
	Help:      "The total number of facade events published",
}, []string{"resource", "facade"})

// EventCounter is a sink that counts events in EventsPublished.
type EventCounter struct{}

func (EventCounter) Publish(ev scheduler.Event) {
	EventsPublished.WithLabelValues(ev.ResourceID, ev.Facade).Inc()
}

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(Snapshot) float64
}

func counter(name, help string, value func(Snapshot) float64) metric {
	return metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		kind:  prometheus.CounterValue,
		value: value,
	}
}

func gauge(name, help string, value func(Snapshot) float64) metric {
	return metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		kind:  prometheus.GaugeValue,
		value: value,
	}
}

// Collector exports reporter snapshots as Prometheus metrics.
type Collector struct {
	reporter *Reporter
	metrics  []metric
}

func NewCollector(r *Reporter) *Collector {
	return &Collector{
		reporter: r,
		metrics: []metric{
			counter("transport_requests_total", "Requests transmitted at least once",
				func(s Snapshot) float64 { return float64(s.Transport.Requests) }),
			counter("transport_valid_responses_total", "Responses that passed CRC and length checks",
				func(s Snapshot) float64 { return float64(s.Transport.ValidResponses) }),
			counter("transport_request_timeouts_total", "Attempts that timed out",
				func(s Snapshot) float64 { return float64(s.Transport.RequestTimeouts) }),
			counter("transport_crc_errors_total", "Responses with a bad checksum",
				func(s Snapshot) float64 { return float64(s.Transport.CRCErrors) }),
			counter("transport_invalid_length_errors_total", "Responses shorter than a frame",
				func(s Snapshot) float64 { return float64(s.Transport.InvalidLengthErrors) }),
			counter("transport_unresponsive_errors_total", "Requests that exhausted their retries",
				func(s Snapshot) float64 { return float64(s.Transport.UnresponsiveErrors) }),
			counter("transport_duplicates_total", "Queued requests superseded by a newer one",
				func(s Snapshot) float64 { return float64(s.Transport.Duplicates) }),
			gauge("transport_queue_length", "Requests queued in the transport",
				func(s Snapshot) float64 { return float64(s.Transport.QueueLength) }),
			gauge("messenger_pending", "Requests awaiting completion in the messenger",
				func(s Snapshot) float64 { return float64(s.Messenger.QueueLength.Messenger) }),
			counter("messenger_unsolicited_total", "Frames received with no request outstanding",
				func(s Snapshot) float64 { return float64(s.Messenger.Unsolicited) }),
			gauge("scheduler_registrations", "Active polling registrations",
				func(s Snapshot) float64 { return float64(s.Scheduler.Registrations) }),
			counter("scheduler_ticks_total", "Scheduler ticks",
				func(s Snapshot) float64 { return float64(s.Scheduler.Ticks) }),
			counter("scheduler_runs_total", "Register runs submitted",
				func(s Snapshot) float64 { return float64(s.Scheduler.Runs) }),
			counter("scheduler_run_failures_total", "Register runs that failed",
				func(s Snapshot) float64 { return float64(s.Scheduler.RunFailures) }),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.reporter.Snapshot()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(snap))
	}
}
