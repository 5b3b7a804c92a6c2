// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MODBUS_MASTER_SERIAL_DEVICE.
const EnvPrefix = "MODBUS_MASTER"

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Serial    SerialConfig    `mapstructure:"serial" yaml:"serial"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Devices   []DeviceConfig  `mapstructure:"devices" yaml:"devices" validate:"dive"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Simulator SimulatorConfig `mapstructure:"simulator" yaml:"simulator"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File   string `mapstructure:"file" yaml:"file"` // Log file path
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// SerialConfig defines the link to the slaves.
type SerialConfig struct {
	// Backend selects the port implementation.
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=grid-x bugst tcp loopback"`
	Device  string `mapstructure:"device" yaml:"device" validate:"required_if=Backend grid-x,required_if=Backend bugst"`
	// Address is the serial device server for the tcp backend.
	Address  string        `mapstructure:"address" yaml:"address" validate:"required_if=Backend tcp"`
	BaudRate int           `mapstructure:"baud_rate" yaml:"baud_rate" validate:"gte=0"`
	DataBits int           `mapstructure:"data_bits" yaml:"data_bits" validate:"omitempty,min=5,max=8"`
	Parity   string        `mapstructure:"parity" yaml:"parity" validate:"omitempty,oneof=N E O"`
	StopBits int           `mapstructure:"stop_bits" yaml:"stop_bits" validate:"omitempty,min=1,max=2"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"` // Read timeout of the port
	// FrameTimeout is the line silence that ends a frame. Zero derives t3.5
	// from the baud rate.
	FrameTimeout time.Duration `mapstructure:"frame_timeout" yaml:"frame_timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485" yaml:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send" yaml:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send" yaml:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send" yaml:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send" yaml:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx" yaml:"rx_during_tx"`
}

// TransportConfig tunes the send cycle.
type TransportConfig struct {
	ResponseTimeout time.Duration `mapstructure:"response_timeout" yaml:"response_timeout"`
	Retries         int           `mapstructure:"retries" yaml:"retries" validate:"gte=0,lte=10"`
	RetryInterval   time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	Throttle        time.Duration `mapstructure:"throttle" yaml:"throttle"` // Pause between requests
}

// SchedulerConfig defines the polling tick.
type SchedulerConfig struct {
	Resolution time.Duration `mapstructure:"resolution" yaml:"resolution"`
}

// DeviceConfig describes one slave and what to poll from it.
type DeviceConfig struct {
	ID            string               `mapstructure:"id" yaml:"id" validate:"required"`
	SlaveAddress  int                  `mapstructure:"slave_address" yaml:"slave_address" validate:"min=0,max=255"`
	Facades       []FacadeConfig       `mapstructure:"facades" yaml:"facades,omitempty" validate:"dive"`
	RegisterBlock *RegisterBlockConfig `mapstructure:"register_block" yaml:"register_block,omitempty"`
	Configuration *ConfigurationConfig `mapstructure:"configuration" yaml:"configuration,omitempty"`
}

// FacadeConfig maps a named value to a register.
type FacadeConfig struct {
	Name              string        `mapstructure:"name" yaml:"name" validate:"required"`
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"` // Zero disables polling
	DataAddress       int           `mapstructure:"data_address" yaml:"data_address" validate:"min=0,max=65535"`
	ReadFunctionCode  int           `mapstructure:"read_function_code" yaml:"read_function_code" validate:"omitempty,oneof=1 2 3 4"`
	WriteFunctionCode int           `mapstructure:"write_function_code" yaml:"write_function_code" validate:"omitempty,oneof=5 6 15 16"`
	Range             int           `mapstructure:"range" yaml:"range" validate:"min=0,max=125"`
	EventThreshold    *float64      `mapstructure:"event_threshold" yaml:"event_threshold,omitempty"`
	Operation         string        `mapstructure:"operation" yaml:"operation,omitempty"`
	// WriteOperation converts a value before it is written.
	WriteOperation string `mapstructure:"write_operation" yaml:"write_operation,omitempty"`
}

// RegisterBlockConfig polls a block of registers in one read and splits it
// into named values by index.
type RegisterBlockConfig struct {
	Interval          time.Duration          `mapstructure:"interval" yaml:"interval" validate:"required"`
	DataAddress       int                    `mapstructure:"data_address" yaml:"data_address" validate:"min=0,max=65535"`
	ReadFunctionCode  int                    `mapstructure:"read_function_code" yaml:"read_function_code" validate:"oneof=1 2 3 4"`
	WriteFunctionCode int                    `mapstructure:"write_function_code" yaml:"write_function_code" validate:"omitempty,oneof=5 6 15 16"`
	Range             int                    `mapstructure:"range" yaml:"range" validate:"min=1,max=125"`
	Interfaces        []BlockInterfaceConfig `mapstructure:"interfaces" yaml:"interfaces" validate:"dive"`
}

// BlockInterfaceConfig names one index of a register block.
type BlockInterfaceConfig struct {
	Name           string   `mapstructure:"name" yaml:"name" validate:"required"`
	Index          int      `mapstructure:"index" yaml:"index" validate:"min=0"`
	EventThreshold *float64 `mapstructure:"event_threshold" yaml:"event_threshold,omitempty"`
	Operation      string   `mapstructure:"operation" yaml:"operation,omitempty"`
	Unit           string   `mapstructure:"unit" yaml:"unit,omitempty"`
}

// ConfigurationConfig scrapes a run of configuration registers.
type ConfigurationConfig struct {
	Interval         time.Duration          `mapstructure:"interval" yaml:"interval" validate:"required"`
	DataAddress      int                    `mapstructure:"data_address" yaml:"data_address" validate:"min=0,max=65535"`
	ReadFunctionCode int                    `mapstructure:"read_function_code" yaml:"read_function_code" validate:"oneof=3 4"`
	Registers        []ConfigRegisterConfig `mapstructure:"registers" yaml:"registers" validate:"min=1,dive"`
}

// ConfigRegisterConfig describes one configuration register.
type ConfigRegisterConfig struct {
	Index       int    `mapstructure:"index" yaml:"index" validate:"min=0,max=124"`
	Name        string `mapstructure:"name" yaml:"name" validate:"required"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
}

// HTTPConfig defines the status API listener. Empty address disables it.
type HTTPConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

// MQTTConfig defines the event publisher. Empty broker disables it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos" validate:"max=2"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
}

// SimulatorConfig defines the simulated slave.
type SimulatorConfig struct {
	SlaveIDs    string            `mapstructure:"slave_ids" yaml:"slave_ids"` // "1", "1,2", "1-10"
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type" yaml:"type" validate:"oneof=memory file mmap sql"`
	Path string `mapstructure:"path" yaml:"path" validate:"required_unless=Type memory"` // File path for "file/mmap/sql" type
}

// LoadConfig loads configuration from file. An empty configFile searches
// the default locations; a missing default file is not an error.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-master/")
		v.AddConfigPath("$HOME/.modbus-master")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	fixupTransport(&config.Transport)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	// AutomaticEnv only resolves keys viper knows about.
	v.SetDefault("log.file", "")
	v.SetDefault("serial.backend", "grid-x")
	v.SetDefault("serial.device", "")
	v.SetDefault("serial.address", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("transport.response_timeout", 500*time.Millisecond)
	v.SetDefault("transport.retries", 2)
	v.SetDefault("transport.retry_interval", 100*time.Millisecond)
	v.SetDefault("transport.throttle", 100*time.Millisecond)
	v.SetDefault("scheduler.resolution", 500*time.Millisecond)
	v.SetDefault("http.address", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic_prefix", "modbus")
	v.SetDefault("simulator.slave_ids", "1")
	v.SetDefault("simulator.persistence.type", "memory")
	v.SetDefault("simulator.persistence.path", "")
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool)
	for _, d := range cfg.Devices {
		if seen[d.ID] {
			return fmt.Errorf("invalid config: duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "NONE" {
		s.Parity = "N"
	}
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
}

func fixupTransport(t *TransportConfig) {
	if t.ResponseTimeout == 0 {
		t.ResponseTimeout = 500 * time.Millisecond
	}
	if t.Throttle == 0 {
		t.Throttle = 100 * time.Millisecond
	}
}
