// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker executes scan tasks end to end: analyze, then persist.
//
// A worker is the unit a job queue or API handler dispatches to. It owns
// credential sealing so raw token strings stop at the task boundary.
package worker

import (
	"context"
	"fmt"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner/acquire"
	"github.com/AleutianAI/reposcan/services/scanner/report"
)

// Task is one scan request.
type Task struct {
	// RepoName is the owner/name repository identifier.
	RepoName string

	// Token grants read access to the repository. Sealed into an
	// enclave before the pipeline runs.
	Token string

	// UserID attributes the stored report.
	UserID string
}

// Analyzer runs the scan pipeline for one repository.
type Analyzer interface {
	Analyze(ctx context.Context, repoName string, cred *acquire.Credential) (*report.ScanReport, error)
}

// Store persists completed reports.
type Store interface {
	SaveReport(ctx context.Context, r *report.ScanReport, userID, repoName string) (string, error)
}

// Result is the outcome of one completed task.
type Result struct {
	ReportID string
	Report   *report.ScanReport
}

// Worker runs tasks against an injected analyzer and store. Safe for
// concurrent use.
type Worker struct {
	analyzer Analyzer
	store    Store
	log      *logging.Logger
}

// New creates a Worker.
func New(analyzer Analyzer, store Store, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.Discard()
	}
	return &Worker{analyzer: analyzer, store: store, log: log}
}

// Run executes one task: seal the credential, analyze, persist. An
// analysis error (acquisition failure) or a persistence error fails the
// task; the analyzer's internal degradation policy handles everything
// else.
func (w *Worker) Run(ctx context.Context, task Task) (*Result, error) {
	if task.RepoName == "" {
		return nil, fmt.Errorf("task missing repository name")
	}

	cred := acquire.NewCredential(task.Token)
	scanReport, err := w.analyzer.Analyze(ctx, task.RepoName, cred)
	if err != nil {
		return nil, fmt.Errorf("scan of %s failed: %w", task.RepoName, err)
	}

	id, err := w.store.SaveReport(ctx, scanReport, task.UserID, task.RepoName)
	if err != nil {
		return nil, fmt.Errorf("persisting report for %s: %w", task.RepoName, err)
	}

	w.log.Info("scan task complete",
		"repo", task.RepoName, "report_id", id, "risk_score", scanReport.RiskScore)
	return &Result{ReportID: id, Report: scanReport}, nil
}
