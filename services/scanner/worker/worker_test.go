// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner/acquire"
	"github.com/AleutianAI/reposcan/services/scanner/report"
)

type fakeAnalyzer struct {
	report *report.ScanReport
	err    error

	gotRepo string
	gotCred *acquire.Credential
}

func (f *fakeAnalyzer) Analyze(_ context.Context, repoName string, cred *acquire.Credential) (*report.ScanReport, error) {
	f.gotRepo = repoName
	f.gotCred = cred
	return f.report, f.err
}

type fakeStore struct {
	id  string
	err error

	gotUser string
	gotRepo string
}

func (f *fakeStore) SaveReport(_ context.Context, _ *report.ScanReport, userID, repoName string) (string, error) {
	f.gotUser = userID
	f.gotRepo = repoName
	return f.id, f.err
}

func TestRunHappyPath(t *testing.T) {
	analyzer := &fakeAnalyzer{report: &report.ScanReport{RepoName: "octo/example", RiskScore: 35}}
	store := &fakeStore{id: "report-123"}
	w := New(analyzer, store, logging.Discard())

	result, err := w.Run(context.Background(), Task{
		RepoName: "octo/example",
		Token:    "ghp_tok",
		UserID:   "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "report-123", result.ReportID)
	assert.Equal(t, 35, result.Report.RiskScore)
	assert.Equal(t, "octo/example", analyzer.gotRepo)
	assert.NotNil(t, analyzer.gotCred)
	assert.Equal(t, "alice", store.gotUser)
	assert.Equal(t, "octo/example", store.gotRepo)
}

func TestRunRejectsEmptyRepoName(t *testing.T) {
	w := New(&fakeAnalyzer{}, &fakeStore{}, logging.Discard())

	_, err := w.Run(context.Background(), Task{Token: "tok", UserID: "alice"})
	require.Error(t, err)
}

func TestRunPropagatesAnalysisFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{err: acquire.ErrAcquisitionFailed}
	w := New(analyzer, &fakeStore{}, logging.Discard())

	_, err := w.Run(context.Background(), Task{RepoName: "octo/missing", Token: "tok"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, acquire.ErrAcquisitionFailed))
}

func TestRunPropagatesStoreFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{report: &report.ScanReport{RepoName: "octo/example"}}
	store := &fakeStore{err: errors.New("disk full")}
	w := New(analyzer, store, logging.Discard())

	_, err := w.Run(context.Background(), Task{RepoName: "octo/example", Token: "tok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting report")
}
