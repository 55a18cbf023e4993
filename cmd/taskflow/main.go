// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/taskflow/pkg/audit"
	"github.com/AleutianAI/taskflow/pkg/logging"
	"github.com/AleutianAI/taskflow/pkg/ux"
	"github.com/AleutianAI/taskflow/scheduler"
	"github.com/AleutianAI/taskflow/scheduler/events"
)

var (
	rootCmd = &cobra.Command{
		Use:   "taskflow",
		Short: "A dependency-aware parallel task scheduler",
		Long: `Taskflow runs batches of interdependent tasks in dependency order,
executing independent tasks in parallel with adaptive retry and
per-scope circuit breaking.`,
	}

	runCmd = &cobra.Command{
		Use:   "run [batch file]",
		Short: "Run a batch of tasks from a YAML definition",
		Long: `Loads a batch definition (tasks, dependencies, initial context) from a
YAML file and executes it, showing live progress. Use --json to print
the full execution report instead.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	planCmd = &cobra.Command{
		Use:   "plan [batch file]",
		Short: "Show the wave plan for a batch without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  showPlan,
	}

	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Work with execution audit trails",
	}

	auditVerifyCmd = &cobra.Command{
		Use:   "verify [audit file]",
		Short: "Verify the integrity of an audit trail",
		Long: `Replays a hash-chained audit trail and recomputes every hash. Exits
non-zero if the chain has been tampered with.`,
		Args: cobra.ExactArgs(1),
		RunE: verifyAudit,
	}

	configPath string
	logLevel   string
	logJSON    bool
	verbose    bool
	jsonOut    bool
	plainOut   bool
	auditPath  string
)

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "scheduler configuration YAML")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every scheduler event")
	runCmd.Flags().BoolVar(&jsonOut, "json", false, "print the full execution report as JSON")
	runCmd.Flags().BoolVar(&plainOut, "plain", false, "disable styled terminal output")
	runCmd.Flags().StringVar(&auditPath, "audit", "", "append a tamper-evident audit trail to this file")

	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseLevel maps a CLI level name onto a logging level.
func parseLevel(name string) logging.Level {
	switch name {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	if plainOut {
		ux.SetPlain(true)
	}

	logger := logging.New(logging.Config{
		Level:   parseLevel(logLevel),
		Service: "taskflow",
		JSON:    logJSON,
	})
	defer logger.Close()

	cfg := scheduler.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = scheduler.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}

	batch, err := LoadBatch(args[0])
	if err != nil {
		return err
	}

	registry := scheduler.NewRegistry()
	if err := RegisterBuiltins(registry); err != nil {
		return err
	}

	coord, err := scheduler.NewCoordinator(cfg, registry,
		scheduler.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	switch {
	case verbose:
		coord.Emitter().Subscribe(events.LoggingHandler(logger.Slog(), parseLevel(logLevel).SlogLevel()))
	case !jsonOut:
		// Live progress; skipped in verbose mode so log lines and the
		// spinner do not interleave.
		coord.Emitter().Subscribe(ux.NewBatchRenderer().Handler())
	}

	if auditPath != "" {
		trail, err := audit.Open(auditPath)
		if err != nil {
			return err
		}
		defer trail.Close()
		coord.Emitter().Subscribe(trail.Handler(func(err error) {
			logger.Warn("audit record failed", "error", err)
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := coord.Submit(ctx, batch.Tasks, batch.Context)
	if report != nil && (jsonOut || verbose) {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return runErr
}

func showPlan(cmd *cobra.Command, args []string) error {
	batch, err := LoadBatch(args[0])
	if err != nil {
		return err
	}

	graph, err := scheduler.Analyze(batch.Tasks)
	if err != nil {
		return err
	}
	plan, err := scheduler.Plan(batch.Tasks, graph)
	if err != nil {
		return err
	}

	for i, wave := range plan.Waves {
		fmt.Fprintf(cmd.OutOrStdout(), "wave %d: %v\n", i, []string(wave))
	}
	return nil
}

func verifyAudit(cmd *cobra.Command, args []string) error {
	result, err := audit.Verify(args[0])
	if err != nil {
		return err
	}

	if !result.IsValid {
		ux.Error(fmt.Sprintf("%s (%d entries checked)", result.Message, result.TotalEntries))
		return fmt.Errorf("audit trail %s: %s", args[0], result.Message)
	}

	ux.Success(fmt.Sprintf("%s (%d entries)", result.Message, result.TotalEntries))
	return nil
}
