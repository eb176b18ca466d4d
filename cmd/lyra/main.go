package main

import (
	"context"
	"errors"
	"fmt"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lyra-research/lyra/internal/app"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := app.LoadEnvFiles(".env", ".env.local"); err != nil {
		log.Warn().Err(err).Msg("load .env files failed")
	}

	var (
		configFile           string
		dbPath               string
		llmBaseURL           string
		llmModel             string
		llmKey               string
		nliBaseURL           string
		embedBaseURL         string
		embedModel           string
		domainPolicyFile     string
		enginesFile          string
		userAgent            string
		browserHeadless      bool
		overallConcurrency   int
		perDomainConcurrency int
		toolsListenAddr      string
		verbose              bool
		cacheDir             string
		cacheMaxAge          time.Duration
		cacheClear           bool
		cacheStrict          bool
		manifestDir          string
		enablePDF            bool
	)

	flag.StringVar(&configFile, "config", "", "Path to a YAML/JSON config file overlaying flag defaults")
	flag.StringVar(&dbPath, "db", os.Getenv("LYRA_DB"), "Path to the SQLite evidence graph database")
	flag.StringVar(&llmBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible chat completion base URL")
	flag.StringVar(&llmModel, "llm.model", os.Getenv("LLM_MODEL"), "Chat completion model name")
	flag.StringVar(&llmKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for the OpenAI-compatible server")
	flag.StringVar(&nliBaseURL, "nli.base", os.Getenv("NLI_BASE_URL"), "NLI classification service base URL")
	flag.StringVar(&embedBaseURL, "embed.base", os.Getenv("EMBED_BASE_URL"), "Embedding service base URL (defaults to llm.base)")
	flag.StringVar(&embedModel, "embed.model", os.Getenv("EMBED_MODEL"), "Embedding model name")
	flag.StringVar(&domainPolicyFile, "policy.domains", os.Getenv("LYRA_DOMAIN_POLICY"), "Path to domains.yaml")
	flag.StringVar(&enginesFile, "policy.engines", os.Getenv("LYRA_ENGINES"), "Path to engines.yaml")
	flag.StringVar(&userAgent, "browser.userAgent", "lyra-research-agent/1.0", "User-Agent sent by the fetch layer and browser")
	flag.BoolVar(&browserHeadless, "browser.headless", true, "Run the browser pool headless")
	flag.IntVar(&overallConcurrency, "scheduler.overallConcurrency", 4, "Maximum concurrently running jobs")
	flag.IntVar(&perDomainConcurrency, "scheduler.perDomainConcurrency", 1, "Maximum concurrently running jobs per domain")
	flag.StringVar(&toolsListenAddr, "tools.listen", ":8099", "Listen address for the tool protocol server")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.StringVar(&cacheDir, "cache.dir", ".lyra-cache", "Cache directory for HTTP and LLM responses")
	flag.DurationVar(&cacheMaxAge, "cache.maxAge", 0, "Max age for cache entries before purge (e.g. 24h, 168h); 0 disables")
	flag.BoolVar(&cacheClear, "cache.clear", false, "Clear cache directory before run")
	flag.BoolVar(&cacheStrict, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	flag.StringVar(&manifestDir, "manifest.dir", "", "Directory to write per-task manifest sidecars (empty disables)")
	flag.BoolVar(&enablePDF, "manifest.pdf", false, "Also write a graph snapshot PDF alongside each manifest")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := app.Config{
		DBPath:               dbPath,
		LLMBaseURL:           llmBaseURL,
		LLMModel:             llmModel,
		LLMAPIKey:            llmKey,
		NLIBaseURL:           nliBaseURL,
		EmbedBaseURL:         embedBaseURL,
		EmbedModel:           embedModel,
		DomainPolicyFile:     domainPolicyFile,
		EnginesFile:          enginesFile,
		UserAgent:            userAgent,
		BrowserHeadless:      browserHeadless,
		OverallConcurrency:   overallConcurrency,
		PerDomainConcurrency: perDomainConcurrency,
		ToolsListenAddr:      toolsListenAddr,
		Verbose:              verbose,
		CacheDir:             cacheDir,
		CacheMaxAge:          cacheMaxAge,
		CacheClear:           cacheClear,
		CacheStrictPerms:     cacheStrict,
		ManifestDir:          manifestDir,
		EnablePDF:            enablePDF,
	}

	if configFile != "" {
		fc, err := app.LoadConfigFile(configFile)
		if err != nil {
			log.Error().Err(err).Str("path", configFile).Msg("load config file failed")
			os.Exit(64)
		}
		app.ApplyFileConfig(&cfg, fc)
	}

	if err := app.ValidateConfig(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(64)
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		if errors.Is(err, errInit) {
			os.Exit(65)
		}
		os.Exit(70)
	}
}

// errInit marks a failure while constructing the app (exit code 65).
var errInit = errors.New("init app")

func run(cfg app.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", errInit, err)
	}
	defer a.Close()

	return a.Run(ctx)
}
