// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Channel types
const (
	ChannelSerial    = "serial"
	ChannelTcp       = "tcp"
	ChannelSimulator = "simulator"
)

// Config defines the global configuration structure
type Config struct {
	Channel   ChannelConfig   `mapstructure:"channel"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Tcp       TcpConfig       `mapstructure:"tcp"`
	Session   SessionConfig   `mapstructure:"session"`
	Device    DeviceConfig    `mapstructure:"device"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Log       LogConfig       `mapstructure:"log"`
}

// ChannelConfig selects the byte channel the master talks over.
type ChannelConfig struct {
	Type string `mapstructure:"type"` // "serial", "tcp", "simulator"
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// SessionConfig bounds a single query.
type SessionConfig struct {
	ResponseTimeout time.Duration `mapstructure:"response_timeout"` // wait for the first response byte
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`    // whole query, 0 disables
}

// DeviceConfig describes the DAM0400 module on the other end.
type DeviceConfig struct {
	Address  int  `mapstructure:"address"`
	Channels int  `mapstructure:"channels"`
	Init     bool `mapstructure:"init"` // read the address back from the device before the first command
}

// SimulatorConfig defines settings for the in-process simulated slave
type SimulatorConfig struct {
	SlaveID     int               `mapstructure:"slave_id"`
	Seed        string            `mapstructure:"seed"` // TOML file with initial register values
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// TcpConfig defines settings of a serial device server reached over TCP.
type TcpConfig struct {
	Address string        `mapstructure:"address"` // e.g. "192.168.1.100:4196"
	Timeout time.Duration `mapstructure:"timeout"` // dial and per-read timeout
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // per-read timeout

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// Flags returns the command line flags understood by LoadConfig.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("channel.type", "t", "", "Channel type (serial, tcp, simulator).")
	fs.StringP("serial.device", "p", "", "Serial port device name.")
	fs.IntP("serial.baud_rate", "s", 0, "Serial port speed.")
	fs.String("serial.parity", "", "Serial parity (N, E, O).")
	fs.String("tcp.address", "", "Address of the serial device server.")
	fs.IntP("device.address", "a", 0, "Slave address of the device.")
	fs.DurationP("session.response_timeout", "W", 0, "Response wait time.")
	fs.StringP("log.level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log.file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("channel.type", ChannelSerial)
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", 100*time.Millisecond)
	v.SetDefault("tcp.timeout", 500*time.Millisecond)
	v.SetDefault("session.response_timeout", time.Second)
	v.SetDefault("device.address", 254)
	v.SetDefault("device.channels", 4)
	v.SetDefault("simulator.slave_id", 254)
	v.SetDefault("simulator.persistence.type", "memory")
	v.SetDefault("log.level", "info")
}

// LoadConfig loads configuration from file and from the flags in fs that
// were set. fs may be nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if fs != nil {
		// Only bind flags the user actually set, so zero flag defaults
		// do not shadow file values.
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", bindErr)
		}
		if configFile == "" {
			if f := fs.Lookup("config"); f != nil {
				configFile = f.Value.String()
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/rtuctl/")
		v.AddConfigPath("$HOME/.rtuctl")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Without a file the defaults and flags are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
}

func (c *Config) validate() error {
	switch c.Channel.Type {
	case ChannelSerial, ChannelTcp, ChannelSimulator:
	default:
		return fmt.Errorf("unknown channel type %q", c.Channel.Type)
	}
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("unknown serial parity %q", c.Serial.Parity)
	}
	if c.Device.Address < 1 || c.Device.Address > 254 {
		return fmt.Errorf("device address %d out of range [1, 254]", c.Device.Address)
	}
	if c.Simulator.SlaveID < 1 || c.Simulator.SlaveID > 254 {
		return fmt.Errorf("simulator slave id %d out of range [1, 254]", c.Simulator.SlaveID)
	}
	if c.Device.Channels < 1 {
		return fmt.Errorf("device channels must be positive, got %d", c.Device.Channels)
	}
	if c.Channel.Type == ChannelTcp && c.Tcp.Address == "" {
		return fmt.Errorf("tcp channel needs tcp.address")
	}
	return nil
}
