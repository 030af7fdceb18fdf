// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/host"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/pkg/errutil"
)

// candidateSource matches collectCandidates; replaced in tests.
type candidateSource func(ctx context.Context, cfg *config.Config, console io.Writer) ([]*plugin.Candidate, []plugin.Failure, error)

// PlannedPlugin is one entry of the load order.
type PlannedPlugin struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Priority string `json:"priority"`
	Source   string `json:"source"`
}

// PlanFailure explains why a plugin would not load.
type PlanFailure struct {
	Plugin string `json:"plugin"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}

// PlanOutput is the result of the plan command.
type PlanOutput struct {
	Order    []PlannedPlugin `json:"order"`
	Failures []PlanFailure   `json:"failures"`
}

// NewPlanCmd creates the plan subcommand.
func NewPlanCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the plugin load order without starting anything",
		Long: `Discover and validate every configured plugin and print the order
in which run would initialize them, plus the reason each excluded plugin
would not load. No plugin Init is called.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := buildPlan(cmd.Context(), cfg, func(ctx context.Context, cfg *config.Config, console io.Writer) ([]*plugin.Candidate, []plugin.Failure, error) {
				return collectCandidates(ctx, cfg, console, nil)
			})
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), out, jsonOutput)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the plan as JSON")
	return cmd
}

func buildPlan(ctx context.Context, cfg *config.Config, source candidateSource) (*PlanOutput, error) {
	cands, failures, err := source(ctx, cfg, io.Discard)
	if err != nil {
		return nil, err
	}
	defer releaseAll(cands)

	sources := make(map[string]plugin.Source, len(cands))
	for _, c := range cands {
		if c != nil && c.Plugin != nil {
			sources[c.Plugin.Info().Name] = c.Source
		}
	}

	report := host.New(host.WithLogger(slog.New(slog.DiscardHandler))).Plan(cands)

	out := &PlanOutput{Order: []PlannedPlugin{}, Failures: []PlanFailure{}}
	for _, name := range report.Plan.Order {
		d, _ := report.Plan.Descriptor(name)
		out.Order = append(out.Order, PlannedPlugin{
			Name:     name,
			Version:  d.Version,
			Priority: d.Priority.String(),
			Source:   string(sources[name]),
		})
	}
	for _, f := range append(failures, report.Failures...) {
		out.Failures = append(out.Failures, PlanFailure{
			Plugin: f.Plugin,
			Code:   errutil.Code(f.Err),
			Error:  f.Err.Error(),
		})
	}
	return out, nil
}

func printPlan(w io.Writer, out *PlanOutput, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrapf(err, "encode plan")
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tPLUGIN\tVERSION\tPRIORITY\tSOURCE")
	for i, p := range out.Order {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, p.Name, p.Version, p.Priority, p.Source)
	}
	if err := tw.Flush(); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrapf(err, "write plan")
	}

	if len(out.Failures) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(w, "\nNot loaded:")
	for _, f := range out.Failures {
		if f.Code != "" {
			_, _ = fmt.Fprintf(w, "  %s: [%s] %s\n", f.Plugin, f.Code, f.Error)
		} else {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", f.Plugin, f.Error)
		}
	}
	return nil
}
