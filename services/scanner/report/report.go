// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report defines the scan report shape and assembles reports
// from raw findings.
//
// A ScanReport is the unit of record: created once per analysis run,
// never mutated after construction, and handed to the persistence
// collaborator which assigns identity and timestamp. Narrative fields
// come from an injected Summarizer collaborator and are non-essential:
// any summarizer failure substitutes defaults rather than failing the
// scan.
package report

import (
	"context"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner/osv"
	"github.com/AleutianAI/reposcan/services/scanner/pyast"
)

// TargetVersion is the minimum supported modern runtime the
// recommendations point at. Fixed policy value, independent of the
// summarizer.
const TargetVersion = "Python 3.11+"

// MaxRiskScore caps the aggregate risk score.
const MaxRiskScore = 95

// Per-finding score weights. Dependency findings weigh more than syntax
// findings because a vulnerable pin is directly exploitable.
const (
	dependencyWeight = 25
	syntaxWeight     = 10
)

// Default narrative values substituted when the summarizer fails or
// returns malformed content.
const (
	DefaultSummary = "AI summary generation failed."
	DefaultEffort  = "Medium"
)

// DefaultStep is the single generic remediation step used when the
// summarizer provides none.
const DefaultStep = "Review findings and prioritize fixes."

// Recommendations is the remediation section of a ScanReport.
type Recommendations struct {
	TargetVersion   string   `json:"targetVersion"`
	EstimatedEffort string   `json:"estimatedEffort"`
	Steps           []string `json:"steps"`
}

// ScanReport is the complete, immutable result of one analysis run.
type ScanReport struct {
	RepoName        string          `json:"repoName"`
	PythonVersion   string          `json:"pythonVersion"`
	RiskScore       int             `json:"riskScore"`
	Summary         string          `json:"summary"`
	Dependencies    []osv.Finding   `json:"dependencies"`
	SyntaxIssues    []pyast.Issue   `json:"syntaxIssues"`
	Recommendations Recommendations `json:"recommendations"`
}

// RawFindings is the structured input handed to the summarizer before
// narrative enrichment.
type RawFindings struct {
	RepoName      string        `json:"repoName"`
	PythonVersion string        `json:"pythonVersion"`
	Dependencies  []osv.Finding `json:"dependencies"`
	SyntaxIssues  []pyast.Issue `json:"syntaxIssues"`
}

// Narrative is the summarizer collaborator's output contract.
type Narrative struct {
	Summary string   `json:"summary"`
	Effort  string   `json:"effort"`
	Steps   []string `json:"steps"`
}

// Summarizer turns raw findings into prose. Implementations may fail or
// return malformed content; the aggregator substitutes defaults.
type Summarizer interface {
	Summarize(ctx context.Context, raw RawFindings) (Narrative, error)
}

// RiskScore computes the aggregate score: 0 when there are no findings
// at all, otherwise 25 per dependency finding plus 10 per syntax issue,
// saturating at 95.
func RiskScore(dependencyFindings, syntaxIssues int) int {
	if dependencyFindings == 0 && syntaxIssues == 0 {
		return 0
	}
	score := dependencyWeight*dependencyFindings + syntaxWeight*syntaxIssues
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}

// Aggregator assembles the final ScanReport.
type Aggregator struct {
	summarizer Summarizer
	log        *logging.Logger
}

// NewAggregator creates an Aggregator. A nil summarizer is allowed and
// always yields the default narrative; scans must work without the AI
// collaborator configured.
func NewAggregator(summarizer Summarizer, log *logging.Logger) *Aggregator {
	if log == nil {
		log = logging.Discard()
	}
	return &Aggregator{summarizer: summarizer, log: log}
}

// Build computes the risk score, obtains the narrative, and assembles
// the report. Build never fails: summarizer errors and malformed
// narratives degrade to defaults.
func (a *Aggregator) Build(ctx context.Context, raw RawFindings) *ScanReport {
	narrative := a.narrativeFor(ctx, raw)

	// Findings slices are always present in the report, even when
	// empty, so consumers can index into them without nil checks.
	dependencies := raw.Dependencies
	if dependencies == nil {
		dependencies = []osv.Finding{}
	}
	syntaxIssues := raw.SyntaxIssues
	if syntaxIssues == nil {
		syntaxIssues = []pyast.Issue{}
	}

	return &ScanReport{
		RepoName:      raw.RepoName,
		PythonVersion: raw.PythonVersion,
		RiskScore:     RiskScore(len(dependencies), len(syntaxIssues)),
		Summary:       narrative.Summary,
		Dependencies:  dependencies,
		SyntaxIssues:  syntaxIssues,
		Recommendations: Recommendations{
			TargetVersion:   TargetVersion,
			EstimatedEffort: narrative.Effort,
			Steps:           narrative.Steps,
		},
	}
}

// narrativeFor calls the summarizer and sanitizes its output, falling
// back to defaults field by field.
func (a *Aggregator) narrativeFor(ctx context.Context, raw RawFindings) Narrative {
	fallback := Narrative{
		Summary: DefaultSummary,
		Effort:  DefaultEffort,
		Steps:   []string{DefaultStep},
	}

	if a.summarizer == nil {
		return fallback
	}

	narrative, err := a.summarizer.Summarize(ctx, raw)
	if err != nil {
		a.log.Warn("summary generation failed, using defaults",
			"repo", raw.RepoName, "error", err)
		return fallback
	}

	if narrative.Summary == "" {
		narrative.Summary = DefaultSummary
	}
	if !validEffort(narrative.Effort) {
		narrative.Effort = DefaultEffort
	}
	if len(narrative.Steps) == 0 {
		narrative.Steps = []string{DefaultStep}
	}
	return narrative
}

// validEffort enforces the summarizer contract's effort enum.
func validEffort(effort string) bool {
	switch effort {
	case "Low", "Medium", "High":
		return true
	default:
		return false
	}
}
