// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package osv checks pinned dependencies against the OSV vulnerability
// database via its batch query endpoint.
//
// The check is best-effort by design: an unreachable or misbehaving OSV
// never aborts a scan. Every failure class collapses into exactly one
// synthetic warning finding so the final report records the degradation.
package osv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner/deps"
)

// DefaultBaseURL is the production OSV API endpoint.
const DefaultBaseURL = "https://api.osv.dev"

// DefaultTimeout bounds the single batch request.
const DefaultTimeout = 30 * time.Second

// ecosystem is fixed: reposcan analyzes Python projects.
const ecosystem = "PyPI"

// failedCheckName labels the synthetic finding emitted when the lookup
// itself fails.
const failedCheckName = "OSV Check Failed"

// Finding status values.
const (
	// StatusIncompatible marks a dependency with known vulnerabilities.
	StatusIncompatible = "incompatible"

	// StatusWarning marks a synthetic entry describing a degraded check.
	StatusWarning = "warning"
)

// Finding is one flagged dependency, or one lookup-level failure when
// Name and Version are empty.
type Finding struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// batchRequest is the OSV querybatch request body.
type batchRequest struct {
	Queries []query `json:"queries"`
}

type query struct {
	Version string  `json:"version"`
	Package pkgInfo `json:"package"`
}

type pkgInfo struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

// batchResponse is the OSV querybatch response body. The optional query
// echo is used for keyed reconciliation when the service returns a
// result count that does not match the query count.
type batchResponse struct {
	Results []batchResult `json:"results"`
}

type batchResult struct {
	Vulns []vuln `json:"vulns"`
	Query *query `json:"query,omitempty"`
}

type vuln struct {
	ID string `json:"id"`
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the OSV endpoint. Used by tests and by
// deployments that front OSV with a caching proxy.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds the batch request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit caps batch requests per second across all scans sharing
// this client. Zero or negative disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// Client queries the OSV batch endpoint. One Client is shared across
// scan runs; it is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	log        *logging.Logger
}

// NewClient creates a Client with production defaults: the public OSV
// endpoint, a 30s request timeout, and 1 batch request per second.
func NewClient(log *logging.Logger, opts ...Option) *Client {
	if log == nil {
		log = logging.Discard()
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check queries OSV for every dependency in one batch request and
// returns the findings. An empty dependency list returns an empty slice
// without any network activity. Check never returns an error: each
// failure class (HTTP status, network, anything else) is converted into
// exactly one StatusWarning finding.
func (c *Client) Check(ctx context.Context, dependencies []deps.Dependency) []Finding {
	findings := make([]Finding, 0)
	if len(dependencies) == 0 {
		return findings
	}

	queries := make([]query, len(dependencies))
	for i, dep := range dependencies {
		queries[i] = query{
			Version: dep.Version,
			Package: pkgInfo{Name: dep.Name, Ecosystem: ecosystem},
		}
	}

	results, warn := c.queryBatch(ctx, queries)
	if warn != nil {
		return append(findings, *warn)
	}

	if len(results) == len(dependencies) {
		// Positional correspondence: results[i] answers queries[i].
		for i, result := range results {
			if finding, ok := findingFor(dependencies[i], result.Vulns); ok {
				findings = append(findings, finding)
			}
		}
		return findings
	}

	// The batch contract does not guarantee ordering under all
	// conditions; fall back to keyed reconciliation via the echoed
	// query objects so nothing is silently misattributed.
	c.log.Warn("OSV result count does not match query count",
		"queries", len(dependencies), "results", len(results))

	byKey := make(map[[2]string]batchResult, len(results))
	for _, result := range results {
		if result.Query != nil {
			byKey[[2]string{result.Query.Package.Name, result.Query.Version}] = result
		}
	}
	for _, dep := range dependencies {
		result, ok := byKey[[2]string{dep.Name, dep.Version}]
		if !ok {
			continue
		}
		if finding, ok := findingFor(dep, result.Vulns); ok {
			findings = append(findings, finding)
		}
	}
	return findings
}

// queryBatch performs the single POST. On any failure it returns a
// synthetic warning finding instead of an error.
func (c *Client) queryBatch(ctx context.Context, queries []query) ([]batchResult, *Finding) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.warnFinding("network error",
				"Could not check dependencies due to network error.", err)
		}
	}

	body, err := json.Marshal(batchRequest{Queries: queries})
	if err != nil {
		return nil, c.warnFinding("unexpected error",
			"Unexpected error during check.", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/querybatch", bytes.NewReader(body))
	if err != nil {
		return nil, c.warnFinding("unexpected error",
			"Unexpected error during check.", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.warnFinding("network error",
			"Could not check dependencies due to network error.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain for connection reuse; the body content is only logged.
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.Error("OSV API returned error status",
			"status", resp.StatusCode, "body", string(payload))
		return nil, &Finding{
			Name:   failedCheckName,
			Status: StatusWarning,
			Reason: fmt.Sprintf(
				"Could not check dependencies due to API error: %d", resp.StatusCode),
		}
	}

	var decoded batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, c.warnFinding("unexpected error",
			"Unexpected error during check.", err)
	}
	return decoded.Results, nil
}

func (c *Client) warnFinding(class, reason string, err error) *Finding {
	c.log.Error("OSV check failed", "class", class, "error", err)
	return &Finding{Name: failedCheckName, Status: StatusWarning, Reason: reason}
}

// findingFor converts one dependency's vulnerability list into a
// finding. Dependencies with no vulnerabilities produce no finding.
func findingFor(dep deps.Dependency, vulns []vuln) (Finding, bool) {
	if len(vulns) == 0 {
		return Finding{}, false
	}
	ids := make([]string, 0, len(vulns))
	for _, v := range vulns {
		id := v.ID
		if id == "" {
			id = "N/A"
		}
		ids = append(ids, id)
	}

	shown := ids
	if len(shown) > 3 {
		shown = shown[:3]
	}
	reason := "Vulnerable to: " + strings.Join(shown, ", ")
	if extra := len(ids) - 3; extra > 0 {
		reason += fmt.Sprintf(", and %d more.", extra)
	}

	return Finding{
		Name:    dep.Name,
		Version: dep.Version,
		Status:  StatusIncompatible,
		Reason:  reason,
	}, true
}
