// Package pyver detects the Python runtime version declared by a project.
//
// Detection walks a fixed priority list of well-known files and stops at
// the first successful read:
//
//  1. runtime.txt (Heroku): "python-3.9.10" or bare "3.9.10"
//  2. .python-version (pyenv): bare version string
//  3. pyproject.toml: project.requires-python (PEP 621), then
//     tool.poetry.dependencies.python (string or {version = "..."} table)
//
// Read or parse failures at any step are logged and treated as "not found
// at this step"; they never abort the scan. When nothing matches, Detect
// returns the Undetermined sentinel.
package pyver

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/AleutianAI/reposcan/pkg/logging"
)

// Undetermined is returned when no recognized version declaration exists.
const Undetermined = "Undetermined"

// Detector inspects a repository tree for a declared Python version.
// Detector is stateless and safe for concurrent use.
type Detector struct {
	log *logging.Logger
}

// NewDetector creates a Detector. A nil logger falls back to Discard.
func NewDetector(log *logging.Logger) *Detector {
	if log == nil {
		log = logging.Discard()
	}
	return &Detector{log: log}
}

// Detect returns the declared Python version for the repository rooted
// at repoRoot, or Undetermined when no recognized file declares one.
func (d *Detector) Detect(repoRoot string) string {
	if version := d.fromRuntimeTxt(repoRoot); version != "" {
		return version
	}
	if version := d.fromPyenvFile(repoRoot); version != "" {
		return version
	}
	if version := d.fromPyproject(repoRoot); version != "" {
		return version
	}
	return Undetermined
}

// fromRuntimeTxt reads runtime.txt and strips the "python-" prefix if
// present, matching Heroku's declared format.
func (d *Detector) fromRuntimeTxt(repoRoot string) string {
	path := filepath.Join(repoRoot, "runtime.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Warn("failed to read runtime.txt", "path", path, "error", err)
		}
		return ""
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return ""
	}
	return strings.TrimPrefix(version, "python-")
}

// fromPyenvFile reads .python-version and returns its trimmed content.
func (d *Detector) fromPyenvFile(repoRoot string) string {
	path := filepath.Join(repoRoot, ".python-version")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Warn("failed to read .python-version", "path", path, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// pyproject models the two locations a Python version constraint can
// appear in pyproject.toml. Unknown keys are ignored by the decoder.
type pyproject struct {
	Project struct {
		RequiresPython string `toml:"requires-python"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// fromPyproject checks the standard PEP 621 field first, then the
// Poetry-specific dependency constraint.
func (d *Detector) fromPyproject(repoRoot string) string {
	path := filepath.Join(repoRoot, "pyproject.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Warn("failed to read pyproject.toml", "path", path, "error", err)
		}
		return ""
	}

	var config pyproject
	if err := toml.Unmarshal(data, &config); err != nil {
		d.log.Warn("failed to decode pyproject.toml", "path", path, "error", err)
		return ""
	}

	if version := strings.TrimSpace(config.Project.RequiresPython); version != "" {
		return version
	}

	// Poetry allows both `python = "^3.9"` and
	// `python = { version = "^3.9" }` dependency forms.
	switch dep := config.Tool.Poetry.Dependencies["python"].(type) {
	case string:
		if version := strings.TrimSpace(dep); version != "" {
			return version
		}
	case map[string]any:
		if version, ok := dep["version"].(string); ok {
			if version = strings.TrimSpace(version); version != "" {
				return version
			}
		}
	}

	return ""
}
