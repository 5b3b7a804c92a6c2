// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mqtt publishes facade events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/scheduler"
)

const connectTimeout = 10 * time.Second

var ErrNotConnected = errors.New("mqtt: not connected")

// Payload is the JSON body of a published event.
type Payload struct {
	Value any       `json:"value"`
	Raw   any       `json:"raw,omitempty"`
	Time  time.Time `json:"time"`
}

// Sink publishes every event to <prefix>/<resource>/<facade>.
type Sink struct {
	client paho.Client
	prefix string
	qos    byte
	log    *slog.Logger
}

// New connects to the configured broker.
func New(cfg config.MQTTConfig) (*Sink, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "modbus-master-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)

	log := slog.With("component", "mqtt", "broker", cfg.Broker)
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("Connected to broker", "clientId", clientID)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("Connection to broker lost", "err", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, err)
	}
	return newSink(client, cfg), nil
}

func newSink(client paho.Client, cfg config.MQTTConfig) *Sink {
	return &Sink{
		client: client,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:    cfg.QoS,
		log:    slog.With("component", "mqtt", "broker", cfg.Broker),
	}
}

// Topic returns the topic of an event.
func (s *Sink) Topic(ev scheduler.Event) string {
	topic := ev.ResourceID + "/" + ev.Facade
	if s.prefix != "" {
		topic = s.prefix + "/" + topic
	}
	return topic
}

// Publish sends the event without waiting for the broker. Failures are
// logged once the token completes.
func (s *Sink) Publish(ev scheduler.Event) {
	if !s.client.IsConnectionOpen() {
		s.log.Debug("Dropping event", "resourceId", ev.ResourceID, "facade", ev.Facade, "err", ErrNotConnected)
		return
	}
	payload, err := json.Marshal(Payload{Value: ev.Value, Raw: ev.Raw, Time: ev.Time})
	if err != nil {
		s.log.Error("Failed to encode event", "resourceId", ev.ResourceID, "facade", ev.Facade, "err", err)
		return
	}
	topic := s.Topic(ev)
	token := s.client.Publish(topic, s.qos, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			s.log.Warn("Failed to publish event", "topic", topic, "err", err)
		}
	}()
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	s.client.Disconnect(250)
}
