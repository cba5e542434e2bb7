// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haltpoint/knockd/internal/commander"
	"github.com/haltpoint/knockd/internal/config"
)

var commanderCmd = &cobra.Command{
	Use:   "commander",
	Short: "Run the commander: accept validated triggers and execute the mapped shell command",
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
		return runCommander(cmd, cfg)
	},
}

func init() {
	rootCmd.AddCommand(commanderCmd)
	commanderCmd.Flags().String("config", "", "Path to the TOML configuration file")
}

func runCommander(cmd *cobra.Command, cfg *config.Config) error {
	c, err := commander.New(cfg, slog.Default())
	if err != nil {
		return err
	}

	listener, err := c.Listen()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	return c.Serve(listener)
}
