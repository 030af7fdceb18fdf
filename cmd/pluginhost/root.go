// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
)

// serviceName labels logs, metrics and the control surfaces.
const serviceName = "pluginhost"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the pluginhost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pluginhost",
		Short: "pluginhost - an event-driven plugin host",
		Long: `pluginhost loads plugins in dependency order and connects them
through a shared event bus, timers and a key/value data store.
Plugins can be built in, Lua scripts, or separate Go binaries.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/pluginhost/config.yaml)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewPlanCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("pluginhost %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// loadConfig resolves the layered configuration for cmd. Commands that
// register config flags get their explicitly set values on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}
