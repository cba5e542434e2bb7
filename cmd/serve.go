// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/haltpoint/knockd/internal/blocklist"
	"github.com/haltpoint/knockd/internal/config"
	"github.com/haltpoint/knockd/internal/envelope"
	"github.com/haltpoint/knockd/internal/validator"
)

const blocklistFileName = "blocklist.toml"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validator: listen for knocks and dispatch accepted ones to the commander",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := applyDebugFlag(cmd); err != nil {
			return err
		}
		return bindConfigFlag(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("config", "", "Path to the TOML configuration file")
	serveCmd.Flags().Bool("watch", true, "Reload the destination whitelist when the config file changes")
}

func bindConfigFlag(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	configFilePath := viper.GetString("config")
	if configFilePath == "" {
		return fmt.Errorf("the %s command requires --config", cmd.Name())
	}
	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read configuration file: %w", err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.ConfigDir, "commander.sock")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	keys, err := envelope.LoadDirectory(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}

	dstIPs := make([]netip.Addr, 0, len(cfg.IPs))
	for _, s := range cfg.IPs {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return fmt.Errorf("invalid destination ip %q in ips: %w", s, err)
		}
		dstIPs = append(dstIPs, a.Unmap())
	}

	bl, err := blocklist.Load(filepath.Join(cfg.ConfigDir, blocklistFileName))
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}

	commander := &validator.UnixCommanderClient{Path: cfg.SocketPath}
	srv := validator.New(keys, dstIPs, bl, commander, slog.Default(), 0)

	conn, err := validator.Listen(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("watch") {
		watchConfig(srv)
	}

	slog.Info("validator listening", "keys_loaded", len(keys), "destinations", len(dstIPs))
	return srv.Serve(ctx, conn)
}

// watchConfig hot-reloads the destination whitelist when the
// configuration file changes on disk, without touching the key
// directory or the blocklist path: those stay fixed for the life of
// the process so the replay counter's monotonicity guarantee can
// never be undermined by a config edit. The command table lives in
// the commander process, not here, so it is not reloaded by this
// watcher.
func watchConfig(srv *validator.Server) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		var reloaded config.Config
		if err := viper.Unmarshal(&reloaded); err != nil {
			slog.Error("config reload failed", "err", err)
			return
		}

		dstIPs := make([]netip.Addr, 0, len(reloaded.IPs))
		for _, s := range reloaded.IPs {
			a, err := netip.ParseAddr(s)
			if err != nil {
				slog.Error("config reload failed", "err", fmt.Errorf("invalid destination ip %q in ips: %w", s, err))
				return
			}
			dstIPs = append(dstIPs, a.Unmap())
		}
		if len(dstIPs) == 0 {
			slog.Error("config reload failed", "err", "ips: at least one destination address must be configured")
			return
		}

		srv.UpdateDestinations(dstIPs)
		slog.Info("configuration reloaded", "destinations", len(dstIPs))
	})
	viper.WatchConfig()
}
