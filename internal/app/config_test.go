package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateConfig_RequiresDBAndPolicyPaths(t *testing.T) {
	if err := ValidateConfig(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	cfg := Config{DBPath: "x.db", DomainPolicyFile: "domains.yaml", EnginesFile: "engines.yaml"}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfig_RejectsNegativeConcurrency(t *testing.T) {
	cfg := Config{DBPath: "x.db", DomainPolicyFile: "domains.yaml", EnginesFile: "engines.yaml", OverallConcurrency: -1}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for negative concurrency")
	}
}

func TestApplyFileConfig_FillsOnlyUnsetFields(t *testing.T) {
	cfg := Config{DBPath: "explicit.db"}
	var fc FileConfig
	fc.DB = "from-file.db"
	fc.LLM.Model = "gpt-test"
	fc.Scheduler.OverallConcurrency = 8

	ApplyFileConfig(&cfg, fc)

	if cfg.DBPath != "explicit.db" {
		t.Fatalf("DBPath was overwritten: got %q", cfg.DBPath)
	}
	if cfg.LLMModel != "gpt-test" {
		t.Fatalf("LLMModel not filled from file: got %q", cfg.LLMModel)
	}
	if cfg.OverallConcurrency != 8 {
		t.Fatalf("OverallConcurrency not filled from file: got %d", cfg.OverallConcurrency)
	}
}

func TestLoadConfigFile_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lyra.yaml")
	content := "db: /tmp/lyra.db\nllm:\n  model: gpt-test\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile error: %v", err)
	}
	if fc.DB != "/tmp/lyra.db" {
		t.Fatalf("DB = %q, want /tmp/lyra.db", fc.DB)
	}
	if fc.LLM.Model != "gpt-test" {
		t.Fatalf("LLM.Model = %q, want gpt-test", fc.LLM.Model)
	}
}
