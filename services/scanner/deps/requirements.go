// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deps extracts pinned dependencies from a requirements.txt
// manifest.
//
// Only exact pins (a single == specifier) are kept: the vulnerability
// lookup needs concrete coordinates, and a range specifier does not name
// an installable artifact. Comments, blank lines, editable installs,
// option lines, and range or multi-specifier lines are skipped. Lines
// that fail to parse are logged and skipped, never fatal.
package deps

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/AleutianAI/reposcan/pkg/logging"
)

// Dependency is a pinned package coordinate. Name is lowercased so
// downstream lookups match the PyPI ecosystem's case-insensitive naming.
// Identity is the (Name, Version) pair; consumers never mutate it.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// pinnedLine matches "name==version" with optional extras and
// surrounding whitespace. PEP 508 names: alphanumerics plus ._- with
// alphanumeric endpoints. Extras ("name[security]") are accepted and
// dropped; the pinned coordinate is what OSV keys on.
var pinnedLine = regexp.MustCompile(
	`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)(?:\[[^\]]*\])?\s*==\s*([A-Za-z0-9][A-Za-z0-9._!+*-]*)$`)

// rangeSpecifiers are operators that mark a line as not exactly pinned.
// "==" is excluded by checking these before the pin match.
var rangeSpecifiers = []string{">=", "<=", "~=", "!=", "===", ">", "<"}

// Extractor parses pinned-dependency manifests.
type Extractor struct {
	log *logging.Logger
}

// NewExtractor creates an Extractor. A nil logger falls back to Discard.
func NewExtractor(log *logging.Logger) *Extractor {
	if log == nil {
		log = logging.Discard()
	}
	return &Extractor{log: log}
}

// Extract returns the exactly-pinned dependencies declared in the
// manifest at path. A missing manifest yields an empty list and nil
// error: projects without a requirements.txt are common and not an
// error condition. A manifest that exists but cannot be read returns
// the read error; the caller decides how to degrade.
func (e *Extractor) Extract(path string) ([]Dependency, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn("requirements manifest not found", "path", path)
			return []Dependency{}, nil
		}
		e.log.Error("failed to open requirements manifest", "path", path, "error", err)
		return nil, fmt.Errorf("opening requirements manifest: %w", err)
	}
	defer file.Close()

	dependencies := make([]Dependency, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		dep, ok, reason := parseLine(scanner.Text())
		if !ok {
			if reason != "" {
				e.log.Warn("skipping requirements line",
					"path", path, "line", lineNum, "reason", reason)
			}
			continue
		}
		dependencies = append(dependencies, dep)
	}
	if err := scanner.Err(); err != nil {
		e.log.Error("error reading requirements manifest", "path", path, "error", err)
		return nil, fmt.Errorf("reading requirements manifest: %w", err)
	}

	return dependencies, nil
}

// parseLine classifies one manifest line. The ok result reports whether
// the line is an exact pin; reason is non-empty only when the skip is
// worth logging (silently skipped lines: blanks, comments, editable
// installs, option lines).
func parseLine(raw string) (dep Dependency, ok bool, reason string) {
	line := strings.TrimSpace(raw)

	// Blank lines, comments, editable installs, and pip option lines
	// (-r, --index-url, ...) carry no pin.
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
		return Dependency{}, false, ""
	}

	// Environment markers and inline comments follow the specifier.
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)

	// Multi-specifier lines ("pkg>=1.0,<2.0") are never exact pins.
	if strings.Contains(line, ",") {
		return Dependency{}, false, ""
	}
	for _, op := range rangeSpecifiers {
		if strings.Contains(line, op) {
			return Dependency{}, false, ""
		}
	}

	m := pinnedLine.FindStringSubmatch(line)
	if m == nil {
		if strings.Contains(line, "==") {
			return Dependency{}, false, fmt.Sprintf("unparsable pin %q", line)
		}
		// Bare names and anything else unpinned: not an error, just
		// not usable for an exact-version vulnerability query.
		return Dependency{}, false, ""
	}

	return Dependency{
		Name:    strings.ToLower(m[1]),
		Version: m[2],
	}, true, ""
}
