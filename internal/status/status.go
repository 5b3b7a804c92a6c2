// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package status collects the counters of the running stack.
package status

import (
	"time"

	"github.com/ffutop/modbus-master/internal/messenger"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/transport"
)

// MessengerSource is the part of *messenger.Messenger the reporter reads.
type MessengerSource interface {
	Status() messenger.Status
	TransportStatus() transport.Status
}

// SchedulerSource is the part of *scheduler.Scheduler the reporter reads.
type SchedulerSource interface {
	Stats() scheduler.Stats
}

// Snapshot is a point-in-time view of the stack.
type Snapshot struct {
	Time      time.Time        `json:"time"`
	Uptime    string           `json:"uptime"`
	Transport transport.Status `json:"transport"`
	Messenger messenger.Status `json:"messenger"`
	Scheduler scheduler.Stats  `json:"scheduler"`
}

// Reporter takes snapshots. A nil scheduler reports zero stats, as in the
// one-shot CLI commands.
type Reporter struct {
	messenger MessengerSource
	scheduler SchedulerSource
	started   time.Time
}

// NewReporter creates a reporter; its uptime counts from now.
func NewReporter(m MessengerSource, s SchedulerSource) *Reporter {
	return &Reporter{messenger: m, scheduler: s, started: time.Now()}
}

// Snapshot reads every source once.
func (r *Reporter) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Time:      now,
		Uptime:    now.Sub(r.started).Truncate(time.Second).String(),
		Transport: r.messenger.TransportStatus(),
		Messenger: r.messenger.Status(),
	}
	if r.scheduler != nil {
		snap.Scheduler = r.scheduler.Stats()
	}
	return snap
}
