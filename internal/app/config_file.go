package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the single-file YAML/JSON configuration schema, overlaid
// onto flag-parsed defaults by ApplyFileConfig. It is distinct from the two
// contractual YAML documents spec §6 names (domain policy, engine
// declarations) — those are loaded by internal/domainpolicy and
// internal/search directly (the domain policy file is also hot-reloaded via
// fsnotify; the engines file is read once at startup); this file only
// carries process-level wiring.
type FileConfig struct {
	DB string `yaml:"db" json:"db"`

	LLM struct {
		BaseURL string `yaml:"base" json:"base"`
		Model   string `yaml:"model" json:"model"`
		APIKey  string `yaml:"key" json:"key"`
	} `yaml:"llm" json:"llm"`

	NLI struct {
		BaseURL string `yaml:"base" json:"base"`
	} `yaml:"nli" json:"nli"`

	Embed struct {
		BaseURL string `yaml:"base" json:"base"`
		Model   string `yaml:"model" json:"model"`
	} `yaml:"embed" json:"embed"`

	Policy struct {
		DomainFile  string `yaml:"domainFile" json:"domainFile"`
		EnginesFile string `yaml:"enginesFile" json:"enginesFile"`
	} `yaml:"policy" json:"policy"`

	Browser struct {
		UserAgent string `yaml:"userAgent" json:"userAgent"`
		Headless  bool   `yaml:"headless" json:"headless"`
	} `yaml:"browser" json:"browser"`

	Scheduler struct {
		OverallConcurrency   int `yaml:"overallConcurrency" json:"overallConcurrency"`
		PerDomainConcurrency int `yaml:"perDomainConcurrency" json:"perDomainConcurrency"`
	} `yaml:"scheduler" json:"scheduler"`

	Tools struct {
		ListenAddr string `yaml:"listenAddr" json:"listenAddr"`
	} `yaml:"tools" json:"tools"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`

	Manifest struct {
		Dir string `yaml:"dir" json:"dir"`
	} `yaml:"manifest" json:"manifest"`

	EnablePDF bool `yaml:"enablePDF" json:"enablePDF"`
	Verbose   bool `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays FileConfig values into cfg for any field still
// unset after flag parsing, so explicit flags always win.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.DBPath == "" && fc.DB != "" {
		cfg.DBPath = fc.DB
	}
	if cfg.LLMBaseURL == "" && fc.LLM.BaseURL != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if cfg.LLMModel == "" && fc.LLM.Model != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if cfg.LLMAPIKey == "" && fc.LLM.APIKey != "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}
	if cfg.NLIBaseURL == "" && fc.NLI.BaseURL != "" {
		cfg.NLIBaseURL = fc.NLI.BaseURL
	}
	if cfg.EmbedBaseURL == "" && fc.Embed.BaseURL != "" {
		cfg.EmbedBaseURL = fc.Embed.BaseURL
	}
	if cfg.EmbedModel == "" && fc.Embed.Model != "" {
		cfg.EmbedModel = fc.Embed.Model
	}
	if cfg.DomainPolicyFile == "" && fc.Policy.DomainFile != "" {
		cfg.DomainPolicyFile = fc.Policy.DomainFile
	}
	if cfg.EnginesFile == "" && fc.Policy.EnginesFile != "" {
		cfg.EnginesFile = fc.Policy.EnginesFile
	}
	if cfg.UserAgent == "" && fc.Browser.UserAgent != "" {
		cfg.UserAgent = fc.Browser.UserAgent
	}
	if !cfg.BrowserHeadless && fc.Browser.Headless {
		cfg.BrowserHeadless = true
	}
	if cfg.OverallConcurrency == 0 && fc.Scheduler.OverallConcurrency > 0 {
		cfg.OverallConcurrency = fc.Scheduler.OverallConcurrency
	}
	if cfg.PerDomainConcurrency == 0 && fc.Scheduler.PerDomainConcurrency > 0 {
		cfg.PerDomainConcurrency = fc.Scheduler.PerDomainConcurrency
	}
	if cfg.ToolsListenAddr == "" && fc.Tools.ListenAddr != "" {
		cfg.ToolsListenAddr = fc.Tools.ListenAddr
	}
	if cfg.CacheDir == "" && fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if !cfg.CacheStrictPerms && fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}
	if cfg.ManifestDir == "" && fc.Manifest.Dir != "" {
		cfg.ManifestDir = fc.Manifest.Dir
	}
	if !cfg.EnablePDF && fc.EnablePDF {
		cfg.EnablePDF = true
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
	if trim(cfg.DBPath) == "" {
		return errors.New("config: db path is required")
	}
	if trim(cfg.DomainPolicyFile) == "" {
		return errors.New("config: policy.domainFile is required")
	}
	if trim(cfg.EnginesFile) == "" {
		return errors.New("config: policy.enginesFile is required")
	}
	if cfg.OverallConcurrency < 0 || cfg.PerDomainConcurrency < 0 {
		return errors.New("config: negative concurrency is not allowed")
	}
	return nil
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
