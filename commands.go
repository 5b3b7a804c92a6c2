// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbus-master/internal/api"
	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/device"
	"github.com/ffutop/modbus-master/internal/expr"
	"github.com/ffutop/modbus-master/internal/master"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/internal/simulator"
	"github.com/ffutop/modbus-master/internal/sink"
	"github.com/ffutop/modbus-master/internal/sink/mqtt"
	"github.com/ffutop/modbus-master/internal/status"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/transport/rtu"
	rtuovertcp "github.com/ffutop/modbus-master/transport/rtu-over-tcp"
)

// cliOrigin tags the requests of the one-shot commands.
const cliOrigin = "cli"

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the configured devices and serve the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Loop the line back to simulated slaves")
	return cmd
}

func run(cfg *config.Config) error {
	slog.Info("Starting Modbus master...")
	ctx, cancel := signalContext()
	defer cancel()

	st, err := newStack(cfg, simulate)
	if err != nil {
		return err
	}

	evaluator := expr.NewEvaluator()
	sched := scheduler.New(st.client, evaluator, cfg.Scheduler.Resolution)
	events := sink.NewFanout(status.EventCounter{})

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.New(cfg.MQTT)
		if err != nil {
			return err
		}
		defer pub.Close()
		events.Add(pub)
	}

	reporter := status.NewReporter(st.messenger, sched)
	prometheus.MustRegister(status.NewCollector(reporter))

	devices, err := device.NewManager(cfg.Devices, sched, st.client, evaluator, events)
	if err != nil {
		return err
	}

	wait := st.start(ctx)
	var wg sync.WaitGroup

	if cfg.HTTP.Address != "" {
		server := api.NewServer(api.Options{
			Reporter:       reporter,
			Scheduler:      sched,
			Devices:        devices,
			RequestTimeout: cfg.Transport.ResponseTimeout * time.Duration(cfg.Transport.Retries+2),
		})
		events.Add(server.Hub())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(ctx, cfg.HTTP.Address); err != nil {
				slog.Error("HTTP API stopped with error", "err", err)
			}
		}()
	}

	if err := devices.Start(); err != nil {
		slog.Warn("Some devices failed to start", "err", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")
	devices.Stop()
	wg.Wait()
	wait()
	slog.Info("Goodbye.")
	return nil
}

// parseUint parses a decimal, 0x hex or 0b binary number of at most bits.
func parseUint(name, s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

// request holds the positional arguments shared by read and write.
type request struct {
	fc      byte
	slave   byte
	address uint16
}

func parseRequest(args []string) (request, error) {
	fc, err := parseUint("function code", args[0], 8)
	if err != nil {
		return request{}, err
	}
	slave, err := parseUint("slave address", args[1], 8)
	if err != nil {
		return request{}, err
	}
	addr, err := parseUint("data address", args[2], 16)
	if err != nil {
		return request{}, err
	}
	return request{fc: byte(fc), slave: byte(slave), address: uint16(addr)}, nil
}

// oneShot runs fn against a started stack and prints its response.
func oneShot(fn func(c *master.Client) (*master.Future, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := newStack(cfg, simulate)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	wait := st.start(ctx)
	defer wait()
	defer cancel()

	f, err := fn(st.client)
	if err != nil {
		return err
	}
	resp, err := f.Wait(ctx)
	if err != nil {
		return err
	}

	out := map[string]any{
		"slaveAddress": resp.Frame.SlaveAddress,
		"functionCode": resp.Frame.FunctionCode,
	}
	if modbus.IsRead(resp.Frame.FunctionCode) {
		out["values"] = resp.Values()
	} else {
		out["address"] = resp.Frame.Address
		out["quantity"] = resp.Frame.Quantity
	}
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(out)
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <fc> <slave> <address> <length>",
		Short: "Read coils, inputs or registers once",
		Example: `  modbus-master read 3 1 0x10 4
  modbus-master read 1 1 0 8 --simulate`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseRequest(args)
			if err != nil {
				return err
			}
			if !modbus.IsRead(req.fc) {
				return fmt.Errorf("function code %d is not a read", req.fc)
			}
			n, err := parseUint("length", args[3], 16)
			if err != nil {
				return err
			}
			return oneShot(func(c *master.Client) (*master.Future, error) {
				return c.Call(req.fc, req.slave, req.address, uint16(n), cliOrigin)
			})
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Loop the line back to simulated slaves")
	return cmd
}

func newWriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <fc> <slave> <address> <value>...",
		Short: "Write coils or registers once",
		Example: `  modbus-master write 6 1 0x10 1234
  modbus-master write 15 1 0 1 0 1 1`,
		Args: cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseRequest(args)
			if err != nil {
				return err
			}
			values := make([]uint16, 0, len(args)-3)
			for _, a := range args[3:] {
				v, err := parseUint("value", a, 16)
				if err != nil {
					return err
				}
				values = append(values, uint16(v))
			}

			return oneShot(func(c *master.Client) (*master.Future, error) {
				switch req.fc {
				case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
					if len(values) != 1 {
						return nil, fmt.Errorf("function code %d writes exactly one value", req.fc)
					}
					return c.Call(req.fc, req.slave, req.address, values[0], cliOrigin)
				case modbus.FuncCodeWriteMultipleCoils:
					states := make([]bool, len(values))
					for i, v := range values {
						states[i] = v != 0
					}
					return c.WriteCoilsAsync(req.slave, req.address, states, cliOrigin)
				case modbus.FuncCodeWriteMultipleRegisters:
					return c.WriteRegistersAsync(req.slave, req.address, values, cliOrigin)
				}
				return nil, fmt.Errorf("function code %d is not a write", req.fc)
			})
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Loop the line back to simulated slaves")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Answer as simulated slaves on the serial device or a TCP listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sim, err := simulator.New(cfg.Simulator)
			if err != nil {
				return err
			}
			defer sim.Close()

			ctx, cancel := signalContext()
			defer cancel()

			slog.Info("Starting simulator", "slaveIds", cfg.Simulator.SlaveIDs, "persistence", cfg.Simulator.Persistence.Type)
			if listen != "" {
				err = rtuovertcp.NewServer(listen).Start(ctx, sim.Handle)
			} else {
				err = rtu.NewServer(cfg.Serial).Start(ctx, sim.Handle)
			}
			if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
				return err
			}
			slog.Info("Goodbye.")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Serve RTU over TCP on this address instead of the serial device")
	return cmd
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := rtu.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found")
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}
