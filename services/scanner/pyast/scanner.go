// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pyast detects deprecated Python constructs via structural
// tree traversal.
//
// Source files are parsed with tree-sitter and walked by a visitor with
// an explicit dispatch table keyed on node kind: one handler per
// construct, default no-op, always recurse into children so nested
// occurrences are all found. The catalog is deliberately small and
// extensible; deep semantic analysis is out of scope.
//
// Failure handling follows the partial-result policy of the scan
// pipeline: a file that cannot be parsed yields exactly one "Syntax
// Error" issue, a file that cannot be read or analyzed yields exactly
// one "Analysis Error" issue, and neither aborts the surrounding run.
package pyast

import (
	"context"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/reposcan/pkg/logging"
)

// Issue is one deprecated-syntax finding (or one per-file failure
// marker). File is rewritten by the orchestrator to be relative to the
// repository root before aggregation.
type Issue struct {
	Type        string `json:"type"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	CodeSnippet string `json:"code_snippet"`
}

// Issue type names. The first group is the detection catalog; the last
// two mark per-file failures.
const (
	TypePrintStatement = "Print Statement Syntax (Python 2)"
	TypeOldStyleRaise  = "Old-style raise statement (Python 2)"
	TypeExecStatement  = "Exec Statement Syntax (Python 2)"

	TypeSyntaxError   = "Syntax Error"
	TypeAnalysisError = "Analysis Error"
)

// DefaultMaxFileSize bounds how large a source file the scanner accepts.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Handler inspects one node and may append issues to the visitor. It
// must not recurse itself; the visitor always continues into children
// after the handler returns.
type Handler func(v *Visitor, node *sitter.Node)

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxFileSize overrides the file size bound. Non-positive values
// are ignored.
func WithMaxFileSize(bytes int64) Option {
	return func(s *Scanner) {
		if bytes > 0 {
			s.maxFileSize = bytes
		}
	}
}

// Scanner finds deprecated constructs in Python source files.
//
// Thread Safety: Scan and ScanFile are safe for concurrent use once the
// Scanner is built. Tree-sitter parsers are created per call; the
// catalog must not be mutated after the Scanner is shared across
// goroutines.
type Scanner struct {
	maxFileSize int64
	catalog     map[string]Handler
	log         *logging.Logger
}

// NewScanner creates a Scanner with the default deprecated-syntax
// catalog (Python 2 print statements, exec statements, and old-style
// raise statements).
func NewScanner(log *logging.Logger, opts ...Option) *Scanner {
	if log == nil {
		log = logging.Discard()
	}
	s := &Scanner{
		maxFileSize: DefaultMaxFileSize,
		catalog:     defaultCatalog(),
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler adds or replaces the handler for a node kind. New
// detections extend the catalog without changing the traversal
// contract. Must be called before the Scanner is shared.
func (s *Scanner) RegisterHandler(nodeKind string, handler Handler) {
	s.catalog[nodeKind] = handler
}

// ScanFile reads and scans one source file. An unreadable file yields
// exactly one TypeAnalysisError issue; see Scan for the remaining
// failure behavior.
func (s *Scanner) ScanFile(ctx context.Context, path string) []Issue {
	source, err := os.ReadFile(path)
	if err != nil {
		s.log.Error("failed to read source file", "path", path, "error", err)
		recordScan(ctx, outcomeAnalysisError, 1, 0)
		return []Issue{analysisError(path, err)}
	}
	return s.Scan(ctx, source, path)
}

// Scan parses source and traverses the tree with the catalog visitor.
//
// Outputs:
//   - a possibly-empty issue list on a clean parse
//   - exactly one TypeSyntaxError issue (with the first failing line)
//     when the source does not parse, with no traversal attempted
//   - exactly one TypeAnalysisError issue on any other failure
func (s *Scanner) Scan(ctx context.Context, source []byte, filePath string) []Issue {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pyast.scan")
	defer span.End()

	if err := ctx.Err(); err != nil {
		recordScan(ctx, outcomeAnalysisError, 1, time.Since(start).Seconds())
		return []Issue{analysisError(filePath, err)}
	}
	if int64(len(source)) > s.maxFileSize {
		err := fmt.Errorf("file size %d exceeds limit %d", len(source), s.maxFileSize)
		s.log.Warn("skipping oversized source file", "path", filePath, "size", len(source))
		recordScan(ctx, outcomeAnalysisError, 1, time.Since(start).Seconds())
		return []Issue{analysisError(filePath, err)}
	}
	if !utf8.Valid(source) {
		err := fmt.Errorf("content is not valid UTF-8")
		recordScan(ctx, outcomeAnalysisError, 1, time.Since(start).Seconds())
		return []Issue{analysisError(filePath, err)}
	}

	// New parser instance per call for thread safety.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		s.log.Error("tree-sitter parse failed", "path", filePath, "error", err)
		recordScan(ctx, outcomeAnalysisError, 1, time.Since(start).Seconds())
		return []Issue{analysisError(filePath, err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		err := fmt.Errorf("tree-sitter returned nil root node")
		recordScan(ctx, outcomeAnalysisError, 1, time.Since(start).Seconds())
		return []Issue{analysisError(filePath, err)}
	}

	if root.HasError() {
		line := firstErrorLine(root)
		s.log.Warn("skipping file with syntax errors", "path", filePath, "line", line)
		recordScan(ctx, outcomeSyntaxError, 1, time.Since(start).Seconds())
		return []Issue{{
			Type:        TypeSyntaxError,
			File:        filePath,
			Line:        line,
			Description: "File could not be parsed: invalid syntax",
			CodeSnippet: fmt.Sprintf("# Error on line %d", line),
		}}
	}

	visitor := &Visitor{
		file:    filePath,
		source:  source,
		catalog: s.catalog,
		issues:  make([]Issue, 0),
	}
	visitor.walk(root)

	recordScan(ctx, outcomeOK, len(visitor.issues), time.Since(start).Seconds())
	return visitor.issues
}

// analysisError builds the single failure issue for non-parse errors.
func analysisError(filePath string, err error) Issue {
	return Issue{
		Type:        TypeAnalysisError,
		File:        filePath,
		Line:        0,
		Description: fmt.Sprintf("Could not analyze file: %v", err),
		CodeSnippet: "# Analysis Failed",
	}
}

// firstErrorLine locates the first ERROR or missing node in the tree
// and returns its 1-indexed line.
func firstErrorLine(root *sitter.Node) int {
	var find func(node *sitter.Node) *sitter.Node
	find = func(node *sitter.Node) *sitter.Node {
		if node.Type() == "ERROR" || node.IsMissing() {
			return node
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			if errNode := find(node.Child(i)); errNode != nil {
				return errNode
			}
		}
		return nil
	}
	if errNode := find(root); errNode != nil {
		return int(errNode.StartPoint().Row) + 1
	}
	return int(root.StartPoint().Row) + 1
}

// Visitor accumulates issues while walking a parsed tree. Handlers use
// Append and Snippet; they never control recursion.
type Visitor struct {
	file    string
	source  []byte
	catalog map[string]Handler
	issues  []Issue
}

// Append records one issue.
func (v *Visitor) Append(issue Issue) {
	v.issues = append(v.issues, issue)
}

// File returns the path under scan, for handlers building issues.
func (v *Visitor) File() string {
	return v.file
}

// Line returns the node's 1-indexed start line.
func (v *Visitor) Line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// Snippet extracts the node's source text, falling back to a placeholder
// comment referencing the line when extraction is not possible.
func (v *Visitor) Snippet(node *sitter.Node) string {
	start, end := node.StartByte(), node.EndByte()
	if start >= end || int(end) > len(v.source) {
		return fmt.Sprintf("# Code on line %d", v.Line(node))
	}
	return string(v.source[start:end])
}

// walk dispatches the node to its catalog handler (if any), then
// recurses into all children so nested occurrences are found.
func (v *Visitor) walk(node *sitter.Node) {
	if node == nil {
		return
	}
	if handler, ok := v.catalog[node.Type()]; ok {
		handler(v, node)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		v.walk(node.Child(i))
	}
}

// defaultCatalog wires the built-in deprecated-syntax handlers.
func defaultCatalog() map[string]Handler {
	return map[string]Handler{
		"print_statement": detectPrintStatement,
		"exec_statement":  detectExecStatement,
		"raise_statement": detectOldStyleRaise,
	}
}

// detectPrintStatement flags Python 2 print statements. The grammar
// only produces print_statement nodes for the statement form; py3
// print(...) calls parse as ordinary call expressions.
func detectPrintStatement(v *Visitor, node *sitter.Node) {
	v.Append(Issue{
		Type:        TypePrintStatement,
		File:        v.File(),
		Line:        v.Line(node),
		Description: "Uses Python 2-style print statement.",
		CodeSnippet: v.Snippet(node),
	})
}

// detectExecStatement flags Python 2 exec statements.
func detectExecStatement(v *Visitor, node *sitter.Node) {
	v.Append(Issue{
		Type:        TypeExecStatement,
		File:        v.File(),
		Line:        v.Line(node),
		Description: "Uses Python 2-style exec statement.",
		CodeSnippet: v.Snippet(node),
	})
}

// detectOldStyleRaise flags `raise E, V` — the grammar parses the
// comma form as a raise_statement containing an expression_list, which
// never appears in the modern single-expression or `raise E from C`
// forms.
func detectOldStyleRaise(v *Visitor, node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "expression_list" {
			v.Append(Issue{
				Type:        TypeOldStyleRaise,
				File:        v.File(),
				Line:        v.Line(node),
				Description: "Uses deprecated Python 2 'raise E, V' syntax.",
				CodeSnippet: v.Snippet(node),
			})
			return
		}
	}
}
