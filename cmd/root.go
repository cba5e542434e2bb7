// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"hermannm.dev/devlog"
)

var logLevel slog.LevelVar

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "knockd",
	Short: "Cryptographically authenticated UDP port-knocking trigger",
	Long: `knockd listens for a single encrypted UDP datagram, authenticates
and validates it, and tells a privileged side-process to run one of a
small set of pre-declared shell commands. The listening surface answers
nothing and exposes no TCP port, yet can be triggered remotely by
holders of a shared key.
`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to
// happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func applyDebugFlag(cmd *cobra.Command) error {
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return err
	}
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	return nil
}
