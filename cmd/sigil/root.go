// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Sigil CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sigil",
		Short: "Sigil - account and credential lifecycle service",
		Long: `Sigil manages user accounts: registration, email confirmation,
login with lockout, password reset, and sessions. Confirmation and reset
links are stateless tokens bound to a per-user security stamp.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
