package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"time"
)

// manifest is the supplemented per-run JSON sidecar (see SPEC_FULL.md's
// "Manifest sidecar"): a config fingerprint, the engine config touched, and
// counts — a record of the run, not of any report.
type manifest struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	ConfigFingerprint string        `json:"config_fingerprint"`
	DomainPolicyFile string         `json:"domain_policy_file"`
	EnginesFile      string         `json:"engines_file"`
	LLMModel         string         `json:"llm_model"`
	Counts           map[string]int `json:"counts"`
}

// configFingerprint hashes the fields of cfg that determine run behavior,
// so two manifests can be compared for "was this the same configuration."
func configFingerprint(cfg Config) string {
	payload, _ := json.Marshal(struct {
		DBPath           string
		LLMBaseURL       string
		LLMModel         string
		NLIBaseURL       string
		EmbedBaseURL     string
		EmbedModel       string
		DomainPolicyFile string
		EnginesFile      string
		UserAgent        string
	}{
		cfg.DBPath, cfg.LLMBaseURL, cfg.LLMModel, cfg.NLIBaseURL,
		cfg.EmbedBaseURL, cfg.EmbedModel, cfg.DomainPolicyFile,
		cfg.EnginesFile, cfg.UserAgent,
	})
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// writeManifest marshals and writes a manifest JSON sidecar for taskID
// under cfg.ManifestDir, named after taskID. A zero ManifestDir disables it.
func writeManifest(cfg Config, taskID string, counts map[string]int, writeFile func(path string, data []byte) error) error {
	if trim(cfg.ManifestDir) == "" {
		return nil
	}
	m := manifest{
		GeneratedAt:       time.Now().UTC(),
		ConfigFingerprint: configFingerprint(cfg),
		DomainPolicyFile:  cfg.DomainPolicyFile,
		EnginesFile:       cfg.EnginesFile,
		LLMModel:          cfg.LLMModel,
		Counts:            counts,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.ManifestDir, taskID+".manifest.json")
	return writeFile(path, data)
}
