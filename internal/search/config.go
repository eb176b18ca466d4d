package search

import "gopkg.in/yaml.v3"

// Selectors declares how to pull one search-result item out of a SERP
// HTML document. Each value is a simple "tag" or "tag.class" selector
// (see htmlselect.go); engines with richer markup can nest selectors by
// scoping title/url/snippet lookups inside the container.
type Selectors struct {
	Container string `yaml:"container"`
	Title     string `yaml:"title"`
	URL       string `yaml:"url"`
	Snippet   string `yaml:"snippet"`
}

// EngineConfig declares one search engine entirely from config, per C5:
// "the URL template, results-per-page, pagination style, result
// selectors, CAPTCHA signatures, and diagnostic selectors are declared in
// an external config."
type EngineConfig struct {
	Name string `yaml:"name"`

	// URLTemplate contains {query} and, depending on Pagination, {offset}
	// or {page}.
	URLTemplate    string `yaml:"url_template"`
	ResultsPerPage int    `yaml:"results_per_page"`
	// Pagination is "offset" or "page".
	Pagination string `yaml:"pagination"`

	Selectors Selectors `yaml:"selectors"`

	CaptchaSignatures   []string `yaml:"captcha_signatures"`
	DiagnosticSelectors []string `yaml:"diagnostic_selectors"`

	// RequiresBrowser routes this engine's SERP navigation through the
	// single-tab browser pool instead of a plain HTTP GET.
	RequiresBrowser bool `yaml:"requires_browser"`

	// BaseWeight seeds the weighted engine draw; ChooseEngine scales it by
	// the engine's breaker success rate. Nothing else adjusts it.
	BaseWeight float64 `yaml:"base_weight"`
}

// FileConfig is the top-level shape of the engines config file.
type FileConfig struct {
	Engines       []EngineConfig `yaml:"engines"`
	SerpMaxPages  int            `yaml:"serp_max_pages"`
	NoveltyFloor  float64        `yaml:"novelty_floor"`
	KneedleSense  float64        `yaml:"kneedle_sensitivity"`
}

// LoadFileConfig parses an engines declaration file.
func LoadFileConfig(data []byte) (FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, err
	}
	for i := range fc.Engines {
		if fc.Engines[i].ResultsPerPage <= 0 {
			fc.Engines[i].ResultsPerPage = 10
		}
		if fc.Engines[i].Pagination == "" {
			fc.Engines[i].Pagination = "page"
		}
		if fc.Engines[i].BaseWeight <= 0 {
			fc.Engines[i].BaseWeight = 1.0
		}
	}
	if fc.SerpMaxPages <= 0 {
		fc.SerpMaxPages = 5
	}
	if fc.NoveltyFloor <= 0 {
		fc.NoveltyFloor = 0.2
	}
	if fc.KneedleSense <= 0 {
		fc.KneedleSense = 1.0
	}
	return fc, nil
}
