// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ffutop/modbus-master/internal/device"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/modbus"
)

type deviceInfo struct {
	ID           string              `json:"id"`
	SlaveAddress byte                `json:"slaveAddress"`
	Facades      []device.FacadeInfo `json:"facades"`
}

type facadeValue struct {
	Value any `json:"value"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reporter == nil {
		respondError(w, http.StatusServiceUnavailable, "status not available")
		return
	}
	respondJSON(w, http.StatusOK, s.opts.Reporter.Snapshot())
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	regs := []scheduler.Registration{}
	if s.opts.Scheduler != nil {
		regs = append(regs, s.opts.Scheduler.Registrations()...)
	}
	respondJSON(w, http.StatusOK, regs)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	infos := []deviceInfo{}
	if s.opts.Devices != nil {
		for _, id := range s.opts.Devices.IDs() {
			c, err := s.opts.Devices.Lookup(id)
			if err != nil {
				continue
			}
			infos = append(infos, deviceInfo{ID: id, SlaveAddress: c.SlaveAddress(), Facades: c.Facades()})
		}
	}
	respondJSON(w, http.StatusOK, infos)
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*device.Controller, bool) {
	if s.opts.Devices == nil {
		respondError(w, http.StatusNotFound, device.ErrUnknownDevice.Error())
		return nil, false
	}
	c, err := s.opts.Devices.Lookup(mux.Vars(r)["id"])
	if err != nil {
		s.respondDeviceError(w, err)
		return nil, false
	}
	return c, true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
}

func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	respondJSON(w, http.StatusOK, c.State(ctx))
}

func (s *Server) handleGetFacade(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	v, err := c.Get(ctx, mux.Vars(r)["facade"])
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, facadeValue{Value: v})
}

func (s *Server) handleSetFacade(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var body facadeValue
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if body.Value == nil {
		respondError(w, http.StatusBadRequest, "missing value")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := c.Set(ctx, mux.Vars(r)["facade"], body.Value); err != nil {
		s.respondDeviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, body)
}

// respondDeviceError maps errors to status codes: lookups to 404,
// unsupported operations to 405, slave errors to 502 and timeouts to 504.
func (s *Server) respondDeviceError(w http.ResponseWriter, err error) {
	var exc *modbus.ExceptionError
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, device.ErrUnknownDevice), errors.Is(err, device.ErrUnknownFacade):
		status = http.StatusNotFound
	case errors.Is(err, device.ErrNotReadable), errors.Is(err, device.ErrNotWritable):
		status = http.StatusMethodNotAllowed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, modbus.ErrUnresponsive):
		status = http.StatusGatewayTimeout
	case errors.As(err, &exc), errors.Is(err, modbus.ErrCRC), errors.Is(err, modbus.ErrInvalidLength):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("Device request failed", "err", err)
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
