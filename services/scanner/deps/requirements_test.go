// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/reposcan/pkg/logging"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExtractKeepsOnlyExactPins(t *testing.T) {
	manifest := "flask==2.0.1\nnumpy>=1.21.0\n# comment\n-e .\ninvalid\npandas==1.3.3"
	path := writeManifest(t, manifest)

	got, err := NewExtractor(logging.Discard()).Extract(path)
	require.NoError(t, err)
	assert.Equal(t, []Dependency{
		{Name: "flask", Version: "2.0.1"},
		{Name: "pandas", Version: "1.3.3"},
	}, got)
}

func TestExtractNormalization(t *testing.T) {
	cases := []struct {
		name string
		line string
		want []Dependency
	}{
		{
			"name lowercased",
			"Django==4.2.1",
			[]Dependency{{Name: "django", Version: "4.2.1"}},
		},
		{
			"extras dropped",
			"requests[security]==2.28.0",
			[]Dependency{{Name: "requests", Version: "2.28.0"}},
		},
		{
			"environment marker stripped",
			"uvloop==0.17.0 ; sys_platform != \"win32\"",
			[]Dependency{{Name: "uvloop", Version: "0.17.0"}},
		},
		{
			"inline comment stripped",
			"celery==5.2.7  # task queue",
			[]Dependency{{Name: "celery", Version: "5.2.7"}},
		},
		{
			"whitespace around specifier",
			"  redis == 4.5.4  ",
			[]Dependency{{Name: "redis", Version: "4.5.4"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeManifest(t, tc.line)
			got, err := NewExtractor(logging.Discard()).Extract(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractSkipsNonPins(t *testing.T) {
	manifest := `
# pinned deps below
-r base.txt
--index-url https://pypi.example.com/simple
numpy>=1.21.0
scipy~=1.9
torch<2.0
pkg>=1.0,<2.0
plainname
===weird
`
	path := writeManifest(t, manifest)
	got, err := NewExtractor(logging.Discard()).Extract(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractMissingFileIsNotAnError(t *testing.T) {
	got, err := NewExtractor(logging.Discard()).Extract(
		filepath.Join(t.TempDir(), "requirements.txt"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractUnreadableManifestReturnsError(t *testing.T) {
	// A directory at the manifest path exists but cannot be read as a
	// file; the read error surfaces to the caller.
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.Mkdir(path, 0755))

	got, err := NewExtractor(logging.Discard()).Extract(path)
	require.Error(t, err)
	assert.Nil(t, got)
}
