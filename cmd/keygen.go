// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haltpoint/knockd/internal/envelope"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new shared key and print its base64 external form",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := envelope.Generate()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}

		out, err := cmd.Flags().GetString("out")
		if err != nil {
			return err
		}
		if out == "" {
			fmt.Println(key.String())
			return nil
		}
		return os.WriteFile(out, []byte(key.String()+"\n"), 0o600)
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().String("out", "", "Write the key to this .key file instead of stdout")
}
