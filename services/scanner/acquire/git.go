// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package acquire fetches an ephemeral, single-revision copy of a
// repository for analysis.
//
// Acquisition is the only fatal step of a scan: a bad credential, a
// missing repository, or a network failure means there is nothing to
// analyze. All such failures wrap ErrAcquisitionFailed so callers can
// distinguish access problems from analysis degradation with errors.Is.
//
// The access token lives in a memguard enclave and is decrypted only
// for the moment the clone URL is assembled. It is never logged, and
// git output is scrubbed before it can reach an error message.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/reposcan/pkg/logging"
)

// ErrAcquisitionFailed tags every repository-fetch failure.
var ErrAcquisitionFailed = errors.New("repository acquisition failed")

// DefaultCloneTimeout bounds the shallow clone.
const DefaultCloneTimeout = 5 * time.Minute

// repoNamePattern is the accepted owner/name form. Rejecting anything
// else keeps crafted repository names out of the git command line.
var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Credential holds a repository access token in an encrypted enclave.
type Credential struct {
	enclave *memguard.Enclave
}

// NewCredential seals a token. The input string cannot be wiped (Go
// strings are immutable), but the sealed copy is the only one the
// scanner holds onto.
func NewCredential(token string) *Credential {
	if token == "" {
		return &Credential{}
	}
	return &Credential{enclave: memguard.NewEnclave([]byte(token))}
}

// open decrypts the token for immediate use. The caller must Destroy
// the returned buffer as soon as the token has been used.
func (c *Credential) open() (*memguard.LockedBuffer, error) {
	if c == nil || c.enclave == nil {
		return nil, fmt.Errorf("no credential provided")
	}
	return c.enclave.Open()
}

// Workspace is an ephemeral clone owned by exactly one scan run.
type Workspace struct {
	// Root is the directory containing the working tree.
	Root string

	log *logging.Logger
}

// NewWorkspace wraps an existing directory as a workspace. Used by
// acquirer implementations; GitAcquirer callers receive workspaces from
// Acquire.
func NewWorkspace(root string, log *logging.Logger) *Workspace {
	if log == nil {
		log = logging.Discard()
	}
	return &Workspace{Root: root, log: log}
}

// Release removes the workspace. Removal failures are logged, never
// surfaced: a leaked temp directory does not affect report correctness.
// Release is safe to call multiple times.
func (w *Workspace) Release() {
	if w == nil || w.Root == "" {
		return
	}
	if err := os.RemoveAll(w.Root); err != nil {
		w.log.Error("failed to remove ephemeral workspace", "path", w.Root, "error", err)
		return
	}
	w.log.Debug("released ephemeral workspace", "path", w.Root)
	w.Root = ""
}

// Option configures a GitAcquirer.
type Option func(*GitAcquirer)

// WithHost overrides the git host (default github.com).
func WithHost(host string) Option {
	return func(g *GitAcquirer) {
		if host != "" {
			g.host = host
		}
	}
}

// WithCloneTimeout bounds the clone subprocess.
func WithCloneTimeout(timeout time.Duration) Option {
	return func(g *GitAcquirer) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// GitAcquirer fetches repositories with a shallow, single-branch
// `git clone` subprocess.
type GitAcquirer struct {
	host    string
	timeout time.Duration
	log     *logging.Logger
}

// NewGitAcquirer creates a GitAcquirer targeting github.com.
func NewGitAcquirer(log *logging.Logger, opts ...Option) *GitAcquirer {
	if log == nil {
		log = logging.Discard()
	}
	g := &GitAcquirer{
		host:    "github.com",
		timeout: DefaultCloneTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire clones repoName (owner/name) at depth 1 into a fresh temp
// directory and returns the workspace. Every failure wraps
// ErrAcquisitionFailed; on failure no workspace is leaked.
func (g *GitAcquirer) Acquire(ctx context.Context, repoName string, cred *Credential) (*Workspace, error) {
	if !repoNamePattern.MatchString(repoName) {
		return nil, fmt.Errorf("%w: invalid repository name %q", ErrAcquisitionFailed, repoName)
	}

	token, err := cred.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	// string([]byte) copies; the locked buffer can be wiped right away.
	tokenValue := string(token.Bytes())
	token.Destroy()
	cloneURL := fmt.Sprintf("https://oauth2:%s@%s/%s.git", tokenValue, g.host, repoName)

	dir, err := os.MkdirTemp("", "reposcan-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating workspace: %v", ErrAcquisitionFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.log.Info("acquiring repository", "repo", repoName, "depth", 1)
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--single-branch", cloneURL, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.RemoveAll(dir)
		detail := scrub(string(output), tokenValue)
		g.log.Error("git clone failed", "repo", repoName, "detail", detail)
		return nil, fmt.Errorf("%w: git clone of %s: %s", ErrAcquisitionFailed, repoName, detail)
	}

	return &Workspace{Root: dir, log: g.log}, nil
}

// scrub removes the credential from git output before it can reach a
// log line or error message.
func scrub(output, token string) string {
	output = strings.TrimSpace(output)
	if token != "" {
		output = strings.ReplaceAll(output, token, "***")
	}
	if output == "" {
		return "no output"
	}
	// Keep error detail bounded; git can be chatty.
	if len(output) > 512 {
		output = output[:512] + "..."
	}
	return output
}
