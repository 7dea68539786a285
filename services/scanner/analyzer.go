// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scanner orchestrates one repository analysis run.
//
// The Analyzer owns the pipeline: acquire an ephemeral clone, detect the
// Python version, extract pinned dependencies, check them against the
// vulnerability database, scan every Python file for deprecated syntax,
// and aggregate the findings into a report. Collaborators are injected
// through interfaces so each stage can be replaced in tests.
//
// Failure policy: acquisition is the only fatal stage. Every later stage
// degrades (absent markers, unreadable files, API outages) and the run
// still produces a report reflecting whatever was learned.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner/acquire"
	"github.com/AleutianAI/reposcan/services/scanner/deps"
	"github.com/AleutianAI/reposcan/services/scanner/osv"
	"github.com/AleutianAI/reposcan/services/scanner/pyast"
	"github.com/AleutianAI/reposcan/services/scanner/pyver"
	"github.com/AleutianAI/reposcan/services/scanner/report"
)

// DefaultScanWorkers bounds the concurrent per-file syntax scans.
const DefaultScanWorkers = 4

// requirementsFile is the dependency manifest at the repository root.
const requirementsFile = "requirements.txt"

// Acquirer fetches an ephemeral working copy of a repository.
type Acquirer interface {
	Acquire(ctx context.Context, repoName string, cred *acquire.Credential) (*acquire.Workspace, error)
}

// VulnChecker maps pinned dependencies to vulnerability findings. It
// never fails; outages become warning findings.
type VulnChecker interface {
	Check(ctx context.Context, dependencies []deps.Dependency) []osv.Finding
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithScanWorkers bounds per-file scan concurrency. Non-positive values
// are ignored.
func WithScanWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.scanWorkers = n
		}
	}
}

// Analyzer runs the full analysis pipeline for one repository at a time.
// Safe for concurrent use; each Analyze call owns its own workspace.
type Analyzer struct {
	acquirer    Acquirer
	detector    *pyver.Detector
	extractor   *deps.Extractor
	checker     VulnChecker
	syntax      *pyast.Scanner
	aggregator  *report.Aggregator
	scanWorkers int
	log         *logging.Logger
}

// NewAnalyzer wires the pipeline. All collaborators are required except
// the summarizer inside the aggregator, which may be nil.
func NewAnalyzer(
	acquirer Acquirer,
	checker VulnChecker,
	summarizer report.Summarizer,
	log *logging.Logger,
	opts ...Option,
) *Analyzer {
	if log == nil {
		log = logging.Discard()
	}
	a := &Analyzer{
		acquirer:    acquirer,
		detector:    pyver.NewDetector(log),
		extractor:   deps.NewExtractor(log),
		checker:     checker,
		syntax:      pyast.NewScanner(log),
		aggregator:  report.NewAggregator(summarizer, log),
		scanWorkers: DefaultScanWorkers,
		log:         log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the pipeline against repoName (owner/name). The returned
// error is non-nil only when the repository could not be acquired; it
// then wraps acquire.ErrAcquisitionFailed.
func (a *Analyzer) Analyze(ctx context.Context, repoName string, cred *acquire.Credential) (*report.ScanReport, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "analyzer.analyze")
	defer span.End()
	a.log.Info("starting repository analysis", "repo", repoName)

	workspace, err := a.acquirer.Acquire(ctx, repoName, cred)
	if err != nil {
		recordAnalysis(ctx, outcomeAcquisitionFailed, 0, time.Since(start).Seconds())
		return nil, err
	}
	defer workspace.Release()

	pythonVersion := a.detector.Detect(workspace.Root)

	dependencies, err := a.extractor.Extract(filepath.Join(workspace.Root, requirementsFile))
	if err != nil {
		// Unreadable manifest degrades to "no pinned dependencies".
		a.log.Warn("dependency extraction failed", "repo", repoName, "error", err)
		dependencies = nil
	}

	findings := a.checker.Check(ctx, dependencies)
	issues := a.scanTree(ctx, workspace.Root)

	scanReport := a.aggregator.Build(ctx, report.RawFindings{
		RepoName:      repoName,
		PythonVersion: pythonVersion,
		Dependencies:  findings,
		SyntaxIssues:  issues,
	})

	a.log.Info("repository analysis complete",
		"repo", repoName,
		"python_version", pythonVersion,
		"risk_score", scanReport.RiskScore,
		"dependency_findings", len(scanReport.Dependencies),
		"syntax_issues", len(scanReport.SyntaxIssues),
		"duration_ms", time.Since(start).Milliseconds())
	recordAnalysis(ctx, outcomeOK, scanReport.RiskScore, time.Since(start).Seconds())
	return scanReport, nil
}

// scanTree walks the working tree, scans every .py file with a bounded
// worker group, and returns the issues in deterministic (path-sorted,
// in-file) order with repository-relative file paths.
func (a *Analyzer) scanTree(ctx context.Context, root string) []pyast.Issue {
	files, err := collectPythonFiles(root)
	if err != nil {
		a.log.Error("failed to walk working tree", "root", root, "error", err)
		return []pyast.Issue{{
			Type:        pyast.TypeAnalysisError,
			File:        ".",
			Line:        0,
			Description: fmt.Sprintf("Could not analyze file: %v", err),
			CodeSnippet: "# Analysis Failed",
		}}
	}
	if len(files) == 0 {
		return nil
	}

	// One result slot per file keeps output order independent of
	// goroutine scheduling.
	results := make([][]pyast.Issue, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.scanWorkers)
	for i, file := range files {
		group.Go(func() error {
			results[i] = a.scanOne(groupCtx, root, file)
			return nil
		})
	}
	// Workers never return errors; failures are issues in their slot.
	_ = group.Wait()

	var issues []pyast.Issue
	for _, fileIssues := range results {
		issues = append(issues, fileIssues...)
	}
	return issues
}

// scanOne scans a single file and rewrites issue paths relative to the
// repository root, with forward slashes on every platform.
func (a *Analyzer) scanOne(ctx context.Context, root, path string) []pyast.Issue {
	issues := a.syntax.ScanFile(ctx, path)
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	for i := range issues {
		issues[i].File = rel
	}
	return issues
}

// collectPythonFiles returns every regular *.py file under root, sorted
// by path. Only the .git metadata directory is skipped: dot-directories
// like .github hold real source (workflow scripts) and must be scanned.
func collectPythonFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".py") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
