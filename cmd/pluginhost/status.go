// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/control"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status [plugin...]",
		Short: "Show health of a running host and its plugins",
		Long: `Query the control health service of a running host. With no
arguments the overall status is shown; otherwise one line per plugin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.addr == "" {
				fileCfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				cfg.addr = fileCfg.Control.Addr
			}
			return runStatus(cmd, cfg, args)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "control address (default: control.addr)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "query timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig, plugins []string) error {
	if cfg.addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("control address is disabled; pass --addr")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	statuses, err := control.Check(ctx, cfg.addr, plugins...)
	if err != nil {
		return err
	}

	if cfg.jsonOutput {
		return formatStatusJSON(cmd.OutOrStdout(), statuses)
	}
	return formatStatusTable(cmd.OutOrStdout(), statuses)
}

func formatStatusTable(w io.Writer, statuses []control.ServiceStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SERVICE\tSTATUS")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", s.Service, s.Status)
	}
	if err := tw.Flush(); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrapf(err, "write status")
	}
	return nil
}

func formatStatusJSON(w io.Writer, statuses []control.ServiceStatus) error {
	out := make(map[string]string, len(statuses))
	for _, s := range statuses {
		out[s.Service] = s.Status
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return oops.Code("OUTPUT_FAILED").Wrapf(err, "marshal status")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
