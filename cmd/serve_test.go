// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfigDecodesCommandsAndDefaultsSocketPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "knockd.toml")
	contents := `
config_dir = "` + dir + `"
ips = ["192.0.2.2"]

[commands]
open-ssh = "true"

[commands.open-http]
shell = "true"
description = "open http"
allow_failure = true
`
	if err := os.WriteFile(configPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	viper.Reset()
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.SocketPath != filepath.Join(dir, "commander.sock") {
		t.Errorf("SocketPath default: got %q", cfg.SocketPath)
	}
	if len(cfg.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cfg.Commands))
	}
	if !cfg.Commands["open-http"].AllowFailure {
		t.Errorf("expected open-http AllowFailure to be true")
	}
}
