// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haltpoint/knockd/internal/client"
	"github.com/haltpoint/knockd/internal/envelope"
)

var sendCmd = &cobra.Command{
	Use:   "send <address> <command>",
	Short: "Encrypt and send a single command trigger to a validator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().String("key", "", "Path to the .key file to sign with (required)")
	sendCmd.Flags().Bool("strict", false, "Ask the server to verify the declared source IP")
	sendCmd.Flags().String("src-ip", "", "Source IP to declare (required with --strict)")
	sendCmd.Flags().String("ntp", client.SystemClockSource, "NTP server to source the counter from, or 'system'")
	sendCmd.Flags().Bool("ipv6", false, "Prefer resolving the address as IPv6")
	sendCmd.Flags().String("lock", "", "Advisory lock file path (defaults to a temp-dir file keyed on the key id)")
	_ = sendCmd.MarkFlagRequired("key")
}

func runSend(cmd *cobra.Command, addr, command string) error {
	keyPath, err := cmd.Flags().GetString("key")
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("read key file %q: %w", keyPath, err)
	}
	key, err := envelope.FromBase64(string(raw))
	if err != nil {
		return fmt.Errorf("parse key file %q: %w", keyPath, err)
	}

	strict, _ := cmd.Flags().GetBool("strict")
	srcIPStr, _ := cmd.Flags().GetString("src-ip")
	ntpSource, _ := cmd.Flags().GetString("ntp")
	preferIPv6, _ := cmd.Flags().GetBool("ipv6")
	lockPath, _ := cmd.Flags().GetString("lock")

	var srcIP netip.Addr
	if srcIPStr != "" {
		srcIP, err = netip.ParseAddr(srcIPStr)
		if err != nil {
			return fmt.Errorf("invalid --src-ip %q: %w", srcIPStr, err)
		}
	}
	if strict && !srcIP.IsValid() {
		return fmt.Errorf("--strict requires --src-ip")
	}

	if lockPath == "" {
		lockPath = filepath.Join(os.TempDir(), fmt.Sprintf("knockd-send-%x.lock", key.ID))
	}
	lock, err := client.AcquireLock(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	counter, err := client.CounterNanos(ntpSource)
	if err != nil {
		return fmt.Errorf("determine counter: %w", err)
	}

	pref := client.PreferIPv4
	if preferIPv6 {
		pref = client.PreferIPv6
	}

	req := client.Request{
		Command: command,
		Counter: counter,
		Strict:  strict,
		SrcIP:   srcIP,
	}
	dst, err := client.Send(addr, key, req, pref)
	if err != nil {
		return err
	}

	slog.Info("sent command", "command", command, "destination", dst)
	return nil
}
