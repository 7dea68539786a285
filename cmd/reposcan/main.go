// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// reposcan analyzes Python repositories for technical debt and security
// risk: deprecated Python 2 syntax, vulnerable pinned dependencies, and
// an aggregate migration risk score.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner"
	"github.com/AleutianAI/reposcan/services/scanner/acquire"
	"github.com/AleutianAI/reposcan/services/scanner/config"
	"github.com/AleutianAI/reposcan/services/scanner/osv"
	"github.com/AleutianAI/reposcan/services/scanner/report"
	"github.com/AleutianAI/reposcan/services/scanner/store"
	"github.com/AleutianAI/reposcan/services/scanner/summarize"
	"github.com/AleutianAI/reposcan/services/scanner/worker"
)

var (
	configPath string
	userID     string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "reposcan",
		Short: "Technical-debt and security-risk scanner for Python repositories",
		Long: `reposcan clones a repository at depth 1, detects its Python version,
checks pinned requirements against the OSV vulnerability database, scans
every Python file for deprecated Python 2 constructs, and produces a
scored migration report.`,
		SilenceUsage: true,
	}

	scanCmd = &cobra.Command{
		Use:   "scan [owner/repo]",
		Short: "Scan one repository and store the report",
		Long: `Runs the full analysis pipeline against a GitHub repository. The access
token is read from ` + config.EnvGitHubToken + `. An AI narrative is added
when ` + config.EnvOpenAIKey + ` is set; otherwise the report carries
default recommendation text.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	showCmd = &cobra.Command{
		Use:   "show [report-id]",
		Short: "Print one stored report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored reports for a user, newest first",
		RunE:  runList,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to reposcan.yaml (optional)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "local", "user ID reports are attributed to")
	scanCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full report as JSON instead of a summary")

	rootCmd.AddCommand(scanCmd, showCmd, listCmd)
}

// newLogger builds the process logger from configuration.
func newLogger(cfg config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Service: "reposcan",
		JSON:    cfg.Logging.JSON,
	})
}

// openStore opens the report store from configuration.
func openStore(cfg config.Config, log *logging.Logger) (*store.BadgerStore, error) {
	return store.Open(store.Config{
		Path:       cfg.Store.Path,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     log,
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer func() { _ = log.Close() }()

	if cfg.GitHubToken == "" {
		return fmt.Errorf("%s is not set; a repository access token is required", config.EnvGitHubToken)
	}

	var summarizer report.Summarizer
	if cfg.OpenAIKey != "" {
		s, err := summarize.NewOpenAISummarizer(cfg.OpenAIKey, log,
			summarize.WithModel(cfg.Summarizer.Model),
			summarize.WithBaseURL(cfg.Summarizer.BaseURL))
		if err != nil {
			return err
		}
		summarizer = s
	} else {
		log.Info("no OpenAI key configured, reports will carry default recommendations")
	}

	var acquirerOpts []acquire.Option
	if cfg.Scanner.GitHost != "" {
		acquirerOpts = append(acquirerOpts, acquire.WithHost(cfg.Scanner.GitHost))
	}
	var osvOpts []osv.Option
	if cfg.Scanner.OSVBaseURL != "" {
		osvOpts = append(osvOpts, osv.WithBaseURL(cfg.Scanner.OSVBaseURL))
	}

	analyzer := scanner.NewAnalyzer(
		acquire.NewGitAcquirer(log, acquirerOpts...),
		osv.NewClient(log, osvOpts...),
		summarizer,
		log,
		scanner.WithScanWorkers(cfg.Scanner.ScanWorkers),
	)

	reportStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = reportStore.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := worker.New(analyzer, reportStore, log).Run(ctx, worker.Task{
		RepoName: args[0],
		Token:    cfg.GitHubToken,
		UserID:   userID,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result.Report)
	}
	printSummary(result.ReportID, result.Report)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	reportStore, err := openStore(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer func() { _ = reportStore.Close() }()

	record, err := reportStore.GetReport(cmd.Context(), args[0])
	if err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("no report with ID %s", args[0])
		}
		return err
	}
	return printJSON(record)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	reportStore, err := openStore(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer func() { _ = reportStore.Close() }()

	records, err := reportStore.ListReports(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No reports stored for user %s.\n", userID)
		return nil
	}
	for _, record := range records {
		fmt.Printf("%s  %-40s  risk %3d  %s\n",
			record.ID, record.RepoName, record.Report.RiskScore,
			millisToTime(record.CreatedAtMilli))
	}
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printSummary(reportID string, r *report.ScanReport) {
	fmt.Printf("Report %s for %s\n", reportID, r.RepoName)
	fmt.Printf("  Python version:  %s (target %s)\n", r.PythonVersion, r.Recommendations.TargetVersion)
	fmt.Printf("  Risk score:      %d / %d\n", r.RiskScore, report.MaxRiskScore)
	fmt.Printf("  Dependencies:    %d finding(s)\n", len(r.Dependencies))
	fmt.Printf("  Syntax issues:   %d finding(s)\n", len(r.SyntaxIssues))
	fmt.Printf("  Summary:         %s\n", r.Summary)
	fmt.Printf("  Effort estimate: %s\n", r.Recommendations.EstimatedEffort)
	for i, step := range r.Recommendations.Steps {
		fmt.Printf("  Step %d:          %s\n", i+1, step)
	}
}

// millisToTime formats a UnixMilli timestamp for list output.
func millisToTime(millis int64) string {
	return time.UnixMilli(millis).Format("2006-01-02 15:04:05")
}
