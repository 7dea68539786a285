// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pyast

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/reposcan/pkg/logging"
)

// Test source code samples (embedded, no file I/O).
const (
	testPyModern = `import sys


def greet(name):
    print(f"hello {name}")
    return name


class Greeter:
    def run(self):
        print("running")
`

	testPyPrintStatement = `import sys

print "hello world"
`

	testPyNestedPrint = `def outer():
    def inner():
        print "nested"
    print "outer"
`

	testPyOldRaise = `def fail():
    raise ValueError, "bad input"
`

	testPyExecStatement = `import sys
exec "print('side effect')"
`

	testPyModernRaise = `def fail():
    try:
        pass
    except KeyError as err:
        raise ValueError("bad") from err
    raise RuntimeError("plain")
`

	testPySyntaxError = `def broken(:
    pass
`
)

func scanSource(t *testing.T, source string) []Issue {
	t.Helper()
	s := NewScanner(logging.Discard())
	return s.Scan(context.Background(), []byte(source), "sample.py")
}

func TestScanModernSourceIsClean(t *testing.T) {
	issues := scanSource(t, testPyModern)
	if len(issues) != 0 {
		t.Fatalf("expected no issues for modern source, got %+v", issues)
	}
}

func TestScanDetectsPrintStatement(t *testing.T) {
	issues := scanSource(t, testPyPrintStatement)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Type != TypePrintStatement {
		t.Errorf("Type = %q, want %q", issue.Type, TypePrintStatement)
	}
	if issue.Line != 3 {
		t.Errorf("Line = %d, want 3", issue.Line)
	}
	if issue.File != "sample.py" {
		t.Errorf("File = %q, want sample.py", issue.File)
	}
	if !strings.Contains(issue.CodeSnippet, `print "hello world"`) {
		t.Errorf("CodeSnippet = %q, want the print statement source", issue.CodeSnippet)
	}
}

func TestScanFindsNestedOccurrences(t *testing.T) {
	issues := scanSource(t, testPyNestedPrint)
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues (nested + outer), got %d: %+v", len(issues), issues)
	}
	for _, issue := range issues {
		if issue.Type != TypePrintStatement {
			t.Errorf("Type = %q, want %q", issue.Type, TypePrintStatement)
		}
	}
	// Traversal order is document order: inner print on line 3 first.
	if issues[0].Line != 3 || issues[1].Line != 4 {
		t.Errorf("Lines = %d, %d, want 3, 4", issues[0].Line, issues[1].Line)
	}
}

func TestScanDetectsOldStyleRaise(t *testing.T) {
	issues := scanSource(t, testPyOldRaise)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Type != TypeOldStyleRaise {
		t.Errorf("Type = %q, want %q", issues[0].Type, TypeOldStyleRaise)
	}
	if issues[0].Line != 2 {
		t.Errorf("Line = %d, want 2", issues[0].Line)
	}
}

func TestScanDetectsExecStatement(t *testing.T) {
	issues := scanSource(t, testPyExecStatement)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Type != TypeExecStatement {
		t.Errorf("Type = %q, want %q", issue.Type, TypeExecStatement)
	}
	if issue.Line != 2 {
		t.Errorf("Line = %d, want 2", issue.Line)
	}
	if !strings.Contains(issue.CodeSnippet, "exec") {
		t.Errorf("CodeSnippet = %q, want the exec statement source", issue.CodeSnippet)
	}
}

func TestScanIgnoresModernRaise(t *testing.T) {
	issues := scanSource(t, testPyModernRaise)
	if len(issues) != 0 {
		t.Fatalf("expected no issues for modern raise forms, got %+v", issues)
	}
}

func TestScanSyntaxErrorYieldsSingleIssue(t *testing.T) {
	issues := scanSource(t, testPySyntaxError)
	if len(issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %d: %+v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Type != TypeSyntaxError {
		t.Errorf("Type = %q, want %q", issue.Type, TypeSyntaxError)
	}
	if issue.Line != 1 {
		t.Errorf("Line = %d, want 1", issue.Line)
	}
	if !strings.Contains(issue.CodeSnippet, "# Error on line") {
		t.Errorf("CodeSnippet = %q, want error placeholder", issue.CodeSnippet)
	}
}

func TestScanFileMissingYieldsAnalysisError(t *testing.T) {
	s := NewScanner(logging.Discard())
	path := filepath.Join(t.TempDir(), "missing.py")

	issues := s.ScanFile(context.Background(), path)
	if len(issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Type != TypeAnalysisError {
		t.Errorf("Type = %q, want %q", issues[0].Type, TypeAnalysisError)
	}
	if issues[0].Line != 0 {
		t.Errorf("Line = %d, want 0", issues[0].Line)
	}
	if issues[0].CodeSnippet != "# Analysis Failed" {
		t.Errorf("CodeSnippet = %q, want analysis placeholder", issues[0].CodeSnippet)
	}
}

func TestScanFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.py")
	if err := os.WriteFile(path, []byte(testPyPrintStatement), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	s := NewScanner(logging.Discard())
	issues := s.ScanFile(context.Background(), path)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].File != path {
		t.Errorf("File = %q, want %q (orchestrator rewrites it later)", issues[0].File, path)
	}
}

func TestScanOversizedFileYieldsAnalysisError(t *testing.T) {
	s := NewScanner(logging.Discard(), WithMaxFileSize(8))
	issues := s.Scan(context.Background(), []byte(testPyModern), "big.py")
	if len(issues) != 1 || issues[0].Type != TypeAnalysisError {
		t.Fatalf("expected single analysis error, got %+v", issues)
	}
}

func TestRegisterHandlerExtendsCatalog(t *testing.T) {
	s := NewScanner(logging.Discard())
	s.RegisterHandler("global_statement", func(v *Visitor, node *sitter.Node) {
		v.Append(Issue{
			Type:        "Global Statement",
			File:        v.File(),
			Line:        v.Line(node),
			Description: "Uses a global statement.",
			CodeSnippet: v.Snippet(node),
		})
	})

	source := "def f():\n    global counter\n    counter = 1\n"
	issues := s.Scan(context.Background(), []byte(source), "g.py")
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue from custom handler, got %d: %+v", len(issues), issues)
	}
	if issues[0].Type != "Global Statement" || issues[0].Line != 2 {
		t.Errorf("unexpected issue: %+v", issues[0])
	}
}

func TestScanConcurrentUse(t *testing.T) {
	s := NewScanner(logging.Discard())
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 10; j++ {
				issues := s.Scan(context.Background(), []byte(testPyPrintStatement), "c.py")
				if len(issues) != 1 {
					t.Errorf("concurrent scan returned %d issues", len(issues))
					return
				}
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
