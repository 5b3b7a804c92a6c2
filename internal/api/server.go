// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package api serves the status, registration and device endpoints over
// HTTP, plus a websocket stream of facade events.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffutop/modbus-master/internal/device"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/internal/status"
)

// Options wires the server to the running stack. Devices and Scheduler may
// be nil.
type Options struct {
	Reporter  *status.Reporter
	Scheduler *scheduler.Scheduler
	Devices   *device.Manager
	Hub       *Hub
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// RequestTimeout bounds direct device requests.
	RequestTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	opts   Options
	router *mux.Router
	log    *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		log:    slog.With("component", "api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/ws", s.opts.Hub)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/registrations", s.handleRegistrations).Methods(http.MethodGet)
	v1.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}", s.handleDeviceState).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/facades/{facade}", s.handleGetFacade).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/facades/{facade}", s.handleSetFacade).Methods(http.MethodPut)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub, to be attached as a sink.
func (s *Server) Hub() *Hub {
	return s.opts.Hub
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.opts.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
