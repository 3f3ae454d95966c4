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
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/rift/pkg/logging"
	"github.com/AleutianAI/rift/services/agent/config"
	"github.com/AleutianAI/rift/services/agent/language"
	"github.com/AleutianAI/rift/services/agent/progress"
	"github.com/AleutianAI/rift/services/agent/run"
	"github.com/AleutianAI/rift/services/agent/sandbox"
	"github.com/AleutianAI/rift/services/agent/server"
)

var (
	rootCmd = &cobra.Command{
		Use:   "rift",
		Short: "A service that repairs failing test suites one commit at a time",
		Long: `Rift clones a repository, runs its test suite in a sandbox,
classifies the failures, applies bounded automatic fixes, and records
each fix as a reviewable commit on a dedicated branch.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				log.Fatalf("Error loading configuration: %v", err)
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the repair agent HTTP API",
		Run:   runServe,
	}

	team       string
	leader     string
	budget     int
	outputPath string

	runCmd = &cobra.Command{
		Use:   "run [repository-url]",
		Short: "Execute a single repair run and write the report to a file",
		Args:  cobra.ExactArgs(1),
		Run:   runOnce,
	}
)

func init() {
	runCmd.Flags().StringVar(&team, "team", "", "team name for the fix branch (required)")
	runCmd.Flags().StringVar(&leader, "leader", "", "leader name for the fix branch (required)")
	runCmd.Flags().IntVar(&budget, "budget", 0, "test-fix iteration budget (default from config)")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "results.json", "report output path")
	_ = runCmd.MarkFlagRequired("team")
	_ = runCmd.MarkFlagRequired("leader")
}

// buildRunner assembles the run pipeline from the loaded configuration.
func buildRunner(logger *logging.Logger) (*run.Runner, *progress.Broker) {
	slogger := logger.Slog()

	executor := sandbox.NewExecutor(sandbox.Config{
		NamePrefix:   cfg.Sandbox.NamePrefix,
		MemoryLimit:  cfg.Sandbox.MemoryLimit,
		CPULimit:     cfg.Sandbox.CPULimit,
		RunTimeout:   cfg.Sandbox.RunTimeout,
		BuildTimeout: cfg.Sandbox.BuildTimeout,
	}, slogger)

	host := sandbox.NewHostRunner(cfg.Run.HostTestTimeout, slogger)
	broker := progress.NewBroker(slogger)
	registry := language.NewRegistry()

	runner := run.NewRunner(
		registry, executor, host, broker, cfg.Workspace.Dir, slogger,
		run.WithBuildDir(cfg.Sandbox.BuildDir),
		run.WithHeartbeatInterval(cfg.Run.HeartbeatInterval),
		run.WithCleanupClones(cfg.Workspace.CleanupClones),
	)
	return runner, broker
}

func newLogger(service string, quiet bool) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		JSON:    cfg.Logging.Format == "json",
		Quiet:   quiet,
		Service: service,
	})
}

func runServe(cmd *cobra.Command, args []string) {
	logger := newLogger("agent-api", false)
	defer logger.Close()

	runner, broker := buildRunner(logger)
	srv := server.NewServer(runner, broker, cfg.Server.MaxConcurrentRuns, logger.Slog())
	if err := srv.Serve(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}

func runOnce(cmd *cobra.Command, args []string) {
	logger := newLogger("agent-cli", false)
	defer logger.Close()

	runner, broker := buildRunner(logger)
	runID := uuid.NewString()

	// Mirror progress on stdout so a terminal user sees the run move.
	events, cancel := broker.Subscribe(runID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			fmt.Printf("[%s] %s\n", ev.Stage, ev.Message)
		}
	}()

	req := run.Request{
		RepoURL:     args[0],
		Team:        team,
		Leader:      leader,
		RetryBudget: budget,
	}
	if req.RetryBudget <= 0 {
		req.RetryBudget = cfg.Run.RetryBudget
	}

	report, err := runner.Execute(context.Background(), runID, req)
	cancel()
	<-done
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("Error encoding report: %v", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Fatalf("Error writing report: %v", err)
	}

	fmt.Printf("\nStatus: %s\n", report.Status)
	fmt.Printf("Branch: %s\n", report.Branch)
	fmt.Printf("Iterations: %d, failures observed: %d, fixes applied: %d\n",
		report.Iterations, report.TotalFailures, report.TotalFixes)
	fmt.Printf("Report written to %s\n", outputPath)
}
