// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package config decodes the TOML configuration shared by the
// validator and commander: the command table, destination whitelist,
// NTP source, and the filesystem/identity settings backing them.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// CommandSpec is one entry in the command table: the shell string the
// commander runs and whether a non-zero exit is tolerated (logged as a
// warning rather than an error). It never travels on the wire; only
// HashCommand(name) does.
type CommandSpec struct {
	Shell        string `mapstructure:"shell"`
	Description  string `mapstructure:"description"`
	AllowFailure bool   `mapstructure:"allow_failure"`
}

// LogConfig holds the log.level setting. It is decoded but not applied:
// the root command sets the log level from its --debug flag only.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the top-level decoded configuration file shape. Commands
// are decoded in two passes, the same way the command table's sibling
// config in the example FSIM service does: Viper hands us the raw
// map first, and UnmarshalCommands turns each entry into a CommandSpec
// once we know whether it was given as a bare string or a table.
type Config struct {
	Log         LogConfig              `mapstructure:"log"`
	RawCommands map[string]interface{} `mapstructure:"commands"`
	IPs         []string               `mapstructure:"ips"`
	NTP         string                 `mapstructure:"ntp"`
	ConfigDir   string                 `mapstructure:"config_dir"`
	SocketPath  string                 `mapstructure:"socket_path"`
	SocketUser  string                 `mapstructure:"socket_user"`
	SocketGroup string                 `mapstructure:"socket_group"`
	ListenAddr  string                 `mapstructure:"listen_address"`

	Commands map[string]CommandSpec `mapstructure:"-"`
}

// UnmarshalCommands converts RawCommands into typed CommandSpec
// entries. Must be called after Viper unmarshals the raw config; a
// command entry may be given either as a bare string (the shell
// command with no description and no failure tolerance) or as a table
// with shell/description/allow_failure keys.
func (c *Config) UnmarshalCommands() error {
	if len(c.RawCommands) == 0 {
		return fmt.Errorf("at least one command must be configured")
	}

	c.Commands = make(map[string]CommandSpec, len(c.RawCommands))
	for name, raw := range c.RawCommands {
		switch v := raw.(type) {
		case string:
			c.Commands[name] = CommandSpec{Shell: v}
		case map[string]interface{}:
			var spec CommandSpec
			if err := mapstructure.Decode(v, &spec); err != nil {
				return fmt.Errorf("decode command %q: %w", name, err)
			}
			if spec.Shell == "" {
				return fmt.Errorf("command %q: shell is required", name)
			}
			c.Commands[name] = spec
		default:
			return fmt.Errorf("command %q: expected a string or table, got %T", name, raw)
		}
	}
	c.RawCommands = nil
	return nil
}

// Validate checks the decoded configuration for consistency beyond
// what mapstructure's type coercion already enforces.
func (c *Config) Validate() error {
	if err := c.UnmarshalCommands(); err != nil {
		return err
	}
	if len(c.IPs) == 0 {
		return fmt.Errorf("ips: at least one destination address must be configured")
	}
	if c.ConfigDir == "" {
		return fmt.Errorf("config_dir is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.NTP == "" {
		c.NTP = "system"
	}
	return nil
}

// UsesSystemClock reports whether the configured NTP source is the
// local wall clock rather than a queried NTP server.
func (c *Config) UsesSystemClock() bool {
	return strings.EqualFold(c.NTP, "system") || c.NTP == ""
}
