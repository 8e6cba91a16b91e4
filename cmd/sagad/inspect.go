package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/store"
	"github.com/xraph/saga/workflow"
	"github.com/xraph/saga/workflows"
)

var outputFormat string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st store.Store, logger *slog.Logger) error {
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show progress and ETA of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		executionID, err := id.ParseExecutionID(args[0])
		if err != nil {
			return err
		}
		return withMonitor(cmd.Context(), func(ctx context.Context, mon *monitor.Service) error {
			report, err := mon.Status(ctx, executionID)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat, report)
		})
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug <execution-id>",
	Short: "Print the step-by-step trace of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		executionID, err := id.ParseExecutionID(args[0])
		if err != nil {
			return err
		}
		return withMonitor(cmd.Context(), func(ctx context.Context, mon *monitor.Service) error {
			report, err := mon.Debug(ctx, executionID)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFormat, report)
		})
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the registered workflow types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry()
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), outputFormat, reg.Types())
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, debugCmd, typesCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")
	}
}

func withStore(ctx context.Context, fn func(context.Context, store.Store, *slog.Logger) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	st, release, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()
	defer st.Close()
	return fn(ctx, st, logger)
}

func withMonitor(ctx context.Context, fn func(context.Context, *monitor.Service) error) error {
	reg, err := registry()
	if err != nil {
		return err
	}
	return withStore(ctx, func(ctx context.Context, st store.Store, logger *slog.Logger) error {
		return fn(ctx, monitor.New(st, reg, monitor.WithLogger(logger)))
	})
}

func registry() (*workflow.Registry, error) {
	reg := workflow.NewRegistry()
	if err := workflows.RegisterAll(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// render writes v as indented JSON or as YAML. YAML output keeps the JSON
// field names and order.
func render(w io.Writer, format string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch format {
	case "json", "":
		_, err = fmt.Fprintln(w, string(raw))
		return err
	case "yaml":
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return err
		}
		blockStyle(&doc)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

// blockStyle clears the flow style inherited from the JSON source.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		n.Style &^= yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}
