package app

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadEnvFiles_LoadsKeyValues verifies that LoadEnvFiles reads KEY=VALUE
// pairs from a dotenv file and populates the process environment.
func TestLoadEnvFiles_LoadsKeyValues(t *testing.T) {
	t.Setenv("FOO", "")
	t.Setenv("BAR", "")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "\n# sample dotenv file\nFOO=alpha\nBAR=beta\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	if err := LoadEnvFiles(envPath); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}

	if got := os.Getenv("FOO"); got != "alpha" {
		t.Fatalf("FOO=%q, want alpha", got)
	}
	if got := os.Getenv("BAR"); got != "beta" {
		t.Fatalf("BAR=%q, want beta", got)
	}
}

// TestLoadEnvFiles_LaterFileWins verifies that later paths override values
// set by earlier ones, matching LoadEnvFiles' documented precedence.
func TestLoadEnvFiles_LaterFileWins(t *testing.T) {
	t.Setenv("PRECEDENCE", "")

	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	if err := os.WriteFile(first, []byte("PRECEDENCE=first\n"), 0o600); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := os.WriteFile(second, []byte("PRECEDENCE=second\n"), 0o600); err != nil {
		t.Fatalf("write second: %v", err)
	}

	if err := LoadEnvFiles(first, second); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}
	if got := os.Getenv("PRECEDENCE"); got != "second" {
		t.Fatalf("PRECEDENCE=%q, want second", got)
	}
}

// TestLoadEnvFiles_MissingFileIsNotFatal verifies that a missing path is
// skipped rather than returned as an error.
func TestLoadEnvFiles_MissingFileIsNotFatal(t *testing.T) {
	if err := LoadEnvFiles(filepath.Join(t.TempDir(), "does-not-exist.env")); err != nil {
		t.Fatalf("unexpected error for missing file: %v", err)
	}
}
