// Package project classifies the repository vibeflow runs in: which
// workflow mode applies and which kind of project it is, which in turn
// picks the test command used by review and integration.
package project

import (
	"os"
	"path/filepath"
	"strings"
)

// Mode selects where the workflow starts.
type Mode string

const (
	// ModeScratch means no repository exists yet.
	ModeScratch Mode = "SCRATCH"
	// ModeInitIndex means a repository exists but has no project index.
	ModeInitIndex Mode = "INIT_INDEX"
	// ModeMaintain means both the repository and its index exist.
	ModeMaintain Mode = "MAINTAIN"
)

// Domain is the kind of project, detected from marker files.
type Domain string

const (
	DomainHardware      Domain = "HARDWARE"
	DomainAIRobot       Domain = "AI_ROBOT"
	DomainWeb           Domain = "WEB"
	DomainPythonGeneric Domain = "PYTHON_GENERIC"
	DomainGeneric       Domain = "GENERIC"
)

// DetectMode inspects dir for a .git directory and the index file.
func DetectMode(dir, indexFile string) Mode {
	if !isDir(filepath.Join(dir, ".git")) && !isFile(filepath.Join(dir, ".git")) {
		return ModeScratch
	}
	if !filepath.IsAbs(indexFile) {
		indexFile = filepath.Join(dir, indexFile)
	}
	if !isFile(indexFile) {
		return ModeInitIndex
	}
	return ModeMaintain
}

// DetectDomain checks marker files in priority order.
func DetectDomain(dir string) Domain {
	switch {
	case isFile(filepath.Join(dir, "platformio.ini")) || isFile(filepath.Join(dir, "CMakeLists.txt")):
		return DomainHardware
	case isFile(filepath.Join(dir, "mamba_env.yaml")) || isDir(filepath.Join(dir, "src", "ros2")):
		return DomainAIRobot
	case isFile(filepath.Join(dir, "package.json")) || isFile(filepath.Join(dir, "next.config.js")):
		return DomainWeb
	case hasRootPython(dir):
		return DomainPythonGeneric
	default:
		return DomainGeneric
	}
}

// Placeholder commands used when a project has no detectable test suite.
// They always succeed and test nothing.
const (
	NoTestsConfigured   = `echo "No tests configured"`
	NoStandardTests     = `echo "No standard tests for this domain"`
	NoGlobalTestCommand = "echo 'No global test command detected'"
)

// IsPlaceholderTestCommand reports whether cmd is one of the placeholders.
func IsPlaceholderTestCommand(cmd string) bool {
	switch strings.TrimSpace(cmd) {
	case NoTestsConfigured, NoStandardTests, NoGlobalTestCommand:
		return true
	}
	return false
}

// TestCommand is the suite run by the integration phase.
func TestCommand(d Domain) string {
	switch d {
	case DomainHardware:
		return "pio test -e native"
	case DomainAIRobot, DomainPythonGeneric:
		return "pytest"
	case DomainWeb:
		return "npm test"
	default:
		return NoGlobalTestCommand
	}
}

// ReviewTestCommand is the fallback test command suggested to the review
// agent for a worktree, and run when the agent reports none.
func ReviewTestCommand(d Domain, worktree string) string {
	switch d {
	case DomainWeb:
		if isFile(filepath.Join(worktree, "package.json")) {
			return "npm test"
		}
		return NoTestsConfigured
	case DomainPythonGeneric, DomainAIRobot:
		if isFile(filepath.Join(worktree, "requirements.txt")) || isFile(filepath.Join(worktree, "pyproject.toml")) {
			return "pytest -v"
		}
		return NoTestsConfigured
	case DomainHardware:
		return "pio test -e native"
	default:
		return NoStandardTests
	}
}

func hasRootPython(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".py") {
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
