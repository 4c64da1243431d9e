// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/globe-monitor/globe/lib/logging"
)

// DefaultChannelType is used for channels that do not name a type.
const DefaultChannelType = "como"

// DefaultDialTimeout bounds connection attempts unless the file says
// otherwise.
const DefaultDialTimeout = 5 * time.Second

// Config is the monitor configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	EventLog  EventLogConfig  `yaml:"event_log" json:"event_log"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Channels  []ChannelConfig `yaml:"channels" json:"channels"`
}

// LoggingConfig selects the process logger.
type LoggingConfig struct {
	Level  string         `yaml:"level" json:"level"`
	Format logging.Format `yaml:"format" json:"format"`
}

// TransportConfig applies to every channel.
type TransportConfig struct {
	DialTimeout    Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReconnectDelay Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	DrainTimeout   Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// EventLogConfig enables the SQLite event log when Path is set.
type EventLogConfig struct {
	Path string `yaml:"path" json:"path"`

	// Retention prunes records older than this. Zero keeps
	// everything.
	Retention Duration `yaml:"retention" json:"retention"`
}

// MetricsConfig enables the /metrics endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// ChannelConfig is one channel created at startup.
type ChannelConfig struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`

	// UpdateTimeoutMS is the throttle interval in milliseconds. Zero
	// delivers every update as it arrives.
	UpdateTimeoutMS int `yaml:"update_timeout_ms" json:"update_timeout_ms"`

	// Connect controls whether the channel connects at startup.
	// Absent means true.
	Connect *bool `yaml:"connect,omitempty" json:"connect,omitempty"`
}

// UpdateTimeout returns UpdateTimeoutMS as a duration.
func (c ChannelConfig) UpdateTimeout() time.Duration {
	return time.Duration(c.UpdateTimeoutMS) * time.Millisecond
}

// ShouldConnect reports whether the channel connects at startup.
func (c ChannelConfig) ShouldConnect() bool {
	return c.Connect == nil || *c.Connect
}

// Default returns a valid configuration with no channels, no event
// log and no metrics endpoint.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Format: logging.FormatAuto},
		Transport: TransportConfig{DialTimeout: Duration(DefaultDialTimeout)},
	}
}

// LoadFile reads, defaults and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	config := Default()
	switch extension := strings.ToLower(filepath.Ext(path)); extension {
	case ".yaml", ".yml":
		err = config.decodeYAML(data)
	case ".json", ".jsonc":
		err = config.decodeJSON(data)
	default:
		return nil, fmt.Errorf("config: %s: unsupported extension %q (want .yaml, .yml, .json or .jsonc)", path, extension)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	config.applyDefaults()
	config.EventLog.Path = expandVariables(config.EventLog.Path)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) decodeYAML(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) decodeJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	return decoder.Decode(c)
}

func (c *Config) applyDefaults() {
	for index := range c.Channels {
		if c.Channels[index].Type == "" {
			c.Channels[index].Type = DefaultChannelType
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format must be auto, text or json, not %q", c.Logging.Format))
	}

	for _, timeout := range []struct {
		name  string
		value Duration
	}{
		{"transport.dial_timeout", c.Transport.DialTimeout},
		{"transport.reconnect_delay", c.Transport.ReconnectDelay},
		{"transport.drain_timeout", c.Transport.DrainTimeout},
		{"event_log.retention", c.EventLog.Retention},
	} {
		if timeout.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", timeout.name))
		}
	}

	names := make(map[string]int)
	endpoints := make(map[string]int)
	for index, channelConfig := range c.Channels {
		field := fmt.Sprintf("channels[%d]", index)
		if channelConfig.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else if previous, taken := names[channelConfig.Name]; taken {
			errs = append(errs, fmt.Errorf("%s.name %q is already used by channels[%d]", field, channelConfig.Name, previous))
		} else {
			names[channelConfig.Name] = index
		}
		if channelConfig.Address == "" {
			errs = append(errs, fmt.Errorf("%s.address is required", field))
		}
		if channelConfig.Port < 1 || channelConfig.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port %d is outside 1-65535", field, channelConfig.Port))
		}
		endpoint := fmt.Sprintf("%s:%d", channelConfig.Address, channelConfig.Port)
		if previous, taken := endpoints[endpoint]; taken {
			errs = append(errs, fmt.Errorf("%s endpoint %s is already used by channels[%d]", field, endpoint, previous))
		} else {
			endpoints[endpoint] = index
		}
		if channelConfig.UpdateTimeoutMS < 0 {
			errs = append(errs, fmt.Errorf("%s.update_timeout_ms must not be negative", field))
		}
	}

	return errors.Join(errs...)
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables replaces ${VAR} and ${VAR:-default} with the
// environment value, or the default when VAR is unset or empty.
func expandVariables(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}
