// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sink

import (
	"testing"

	"github.com/ffutop/modbus-master/internal/scheduler"
)

func TestFanout(t *testing.T) {
	var a, b []string
	f := NewFanout(
		Func(func(ev scheduler.Event) { a = append(a, ev.Facade) }),
		nil,
	)
	f.Add(Func(func(ev scheduler.Event) { b = append(b, ev.Facade) }))

	f.Publish(scheduler.Event{ResourceID: "dev", Facade: "temp"})
	f.Publish(scheduler.Event{ResourceID: "dev", Facade: "power"})

	if len(a) != 2 || len(b) != 2 || a[1] != "power" || b[0] != "temp" {
		t.Errorf("a = %v, b = %v", a, b)
	}
}
