// Package app wires every Lyra collaborator package into one long-lived
// process: the store, domain policy, breaker/rate-limiter, fetch layer,
// search providers, extraction, ranking, claim/citation extraction, NLI
// edge building, the scheduler, the intervention queue, the SQL surface
// and the tool protocol server: an always-running research-agent
// orchestrator rather than a single linear report-synthesis pipeline.
package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/breaker"
	"github.com/lyra-research/lyra/internal/browsermgr"
	"github.com/lyra-research/lyra/internal/cache"
	"github.com/lyra-research/lyra/internal/claims"
	"github.com/lyra-research/lyra/internal/domainpolicy"
	"github.com/lyra-research/lyra/internal/extract"
	"github.com/lyra-research/lyra/internal/fetch"
	"github.com/lyra-research/lyra/internal/intervention"
	"github.com/lyra-research/lyra/internal/nli"
	"github.com/lyra-research/lyra/internal/rank"
	"github.com/lyra-research/lyra/internal/ratelimit"
	"github.com/lyra-research/lyra/internal/robots"
	"github.com/lyra-research/lyra/internal/scheduler"
	"github.com/lyra-research/lyra/internal/search"
	"github.com/lyra-research/lyra/internal/session"
	"github.com/lyra-research/lyra/internal/sqlsurface"
	"github.com/lyra-research/lyra/internal/store"
	"github.com/lyra-research/lyra/internal/toolserver"
	"github.com/lyra-research/lyra/internal/vectorstore"
	"github.com/lyra-research/lyra/internal/verification"
)

// App is every long-lived Lyra component threaded through one
// construction call. Every component holds its own zerolog.Logger field
// set here, never a package-level global logger.
type App struct {
	Config Config
	Log    zerolog.Logger

	DB          *store.DB
	Policy      *domainpolicy.Resolver
	Breaker     *breaker.Breaker
	Limiter     *ratelimit.Limiter
	Browser     *browsermgr.Manager
	Sessions    *session.Store
	Robots      *robots.Manager
	HTTPCache   *cache.HTTPCache
	LLMCache    *cache.LLMCache
	Fetcher     *fetch.Fetcher
	SearchPool  *search.Pool
	Orchestrator *search.Orchestrator
	Vectors     *vectorstore.Store
	Claims      *claims.Extractor
	Citations   *claims.CitationClassifier
	SemanticScholar *claims.SemanticScholarClient
	OpenAlex    *claims.OpenAlexClient
	NLIClient   *nli.Client
	EdgeBuilder *nli.EdgeBuilder
	Intervention *intervention.Manager
	Scheduler   *scheduler.Scheduler
	SQLSurface  *sqlsurface.Surface
	Tools       *toolserver.Server
	Verifier    *verification.Verifier

	llmChat *openai.Client
	stopCh  chan struct{}
}

// New constructs every collaborator and wires job handlers, but does not
// start the scheduler loop or the tool server listener; call Run for that.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if cfg.Verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if cfg.CacheClear && cfg.CacheDir != "" {
		if err := cache.ClearDir(cfg.CacheDir); err != nil {
			log.Warn().Err(err).Msg("cache clear failed, continuing with existing cache")
		}
	}

	db, err := store.Open(cfg.DBPath, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	policyBytes, err := os.ReadFile(cfg.DomainPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("read domain policy file: %w", err)
	}
	policyCfg, err := domainpolicy.LoadFileConfig(policyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse domain policy file: %w", err)
	}
	policy, err := domainpolicy.NewResolver(db, policyCfg, log.With().Str("component", "domainpolicy").Logger())
	if err != nil {
		return nil, fmt.Errorf("build domain policy resolver: %w", err)
	}
	stopCh := make(chan struct{})
	go func() {
		if err := policy.WatchFile(cfg.DomainPolicyFile, stopCh); err != nil {
			log.Warn().Err(err).Msg("domain policy file watch ended")
		}
	}()

	br := breaker.New(breaker.Config{})
	rl := ratelimit.New(br)
	bm := browsermgr.New(browsermgr.Config{Headless: cfg.BrowserHeadless})
	sessions := session.NewStore()

	httpCache := &cache.HTTPCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	llmCache := &cache.LLMCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	if cfg.CacheMaxAge > 0 && cfg.CacheDir != "" {
		if _, err := cache.PurgeHTTPCacheByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
			log.Warn().Err(err).Msg("http cache age purge failed")
		}
		if _, err := cache.PurgeLLMCacheByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
			log.Warn().Err(err).Msg("llm cache age purge failed")
		}
	}

	rm := &robots.Manager{HTTPClient: newHighThroughputHTTPClient(true), Cache: httpCache, UserAgent: cfg.UserAgent}
	fetcher := fetch.New(policy, br, rl, bm, sessions, db, rm, cfg.UserAgent, log.With().Str("component", "fetch").Logger())

	enginesBytes, err := os.ReadFile(cfg.EnginesFile)
	if err != nil {
		return nil, fmt.Errorf("read engines file: %w", err)
	}
	enginesCfg, err := search.LoadFileConfig(enginesBytes)
	if err != nil {
		return nil, fmt.Errorf("parse engines file: %w", err)
	}
	searchPool := search.NewPool(bm)
	engines := make(map[string]*search.GenericEngine, len(enginesCfg.Engines))
	for _, ec := range enginesCfg.Engines {
		eng := &search.GenericEngine{Config: ec, UserAgent: cfg.UserAgent}
		if ec.RequiresBrowser {
			eng.Pool = searchPool
		}
		engines[ec.Name] = eng
	}
	orchestrator := search.NewOrchestrator(enginesCfg, engines, br, db, log.With().Str("component", "search").Logger())

	vectors := vectorstore.New(db)

	llmChat := openai.NewClient(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		oc := openai.DefaultConfig(cfg.LLMAPIKey)
		oc.BaseURL = cfg.LLMBaseURL
		llmChat = openai.NewClientWithConfig(oc)
	}
	extractor := &claims.Extractor{Client: llmChat, Model: cfg.LLMModel, Cache: llmCache}
	citations := &claims.CitationClassifier{Client: llmChat, Model: cfg.LLMModel, Cache: llmCache}
	semanticScholar := &claims.SemanticScholarClient{}
	openAlex := &claims.OpenAlexClient{}

	nliClient := &nli.Client{BaseURL: cfg.NLIBaseURL}
	edgeBuilder := &nli.EdgeBuilder{Client: nliClient, DB: db}

	requeuer := requeueFunc(func(domain string) {
		ids, err := db.RequeueAwaitingAuthForDomain(domain)
		if err != nil {
			log.Warn().Err(err).Str("domain", domain).Msg("requeue after intervention resolve failed")
			return
		}
		log.Info().Str("domain", domain).Int("count", len(ids)).Msg("requeued jobs after intervention resolve")
	})
	iv := intervention.New(db, sessions, requeuer, log.With().Str("component", "intervention").Logger())

	sched := scheduler.New(db, scheduler.Config{
		OverallConcurrency:   cfg.OverallConcurrency,
		PerDomainConcurrency: cfg.PerDomainConcurrency,
	}, log.With().Str("component", "scheduler").Logger())

	sqlSurf := sqlsurface.New(cfg.DBPath)

	tools := toolserver.New(log.With().Str("component", "toolserver").Logger())

	verifier := verification.New(db, verification.Config{})

	a := &App{
		Config:       cfg,
		Log:          log,
		DB:           db,
		Policy:       policy,
		Breaker:      br,
		Limiter:      rl,
		Browser:      bm,
		Sessions:     sessions,
		Robots:       rm,
		HTTPCache:    httpCache,
		LLMCache:     llmCache,
		Fetcher:      fetcher,
		SearchPool:   searchPool,
		Orchestrator: orchestrator,
		Vectors:      vectors,
		Claims:       extractor,
		Citations:    citations,
		SemanticScholar: semanticScholar,
		OpenAlex:     openAlex,
		NLIClient:    nliClient,
		EdgeBuilder:  edgeBuilder,
		Intervention: iv,
		Scheduler:    sched,
		SQLSurface:   sqlSurf,
		Tools:        tools,
		Verifier:     verifier,
		llmChat:      llmChat,
		stopCh:       stopCh,
	}

	a.registerJobHandlers()
	a.registerTools()
	a.checkReadiness(ctx)

	return a, nil
}

// requeueFunc adapts a plain function to intervention.Requeuer.
type requeueFunc func(domain string)

func (f requeueFunc) RequeueAwaitingAuth(domain string) { f(domain) }

// checkReadiness probes the LLM, NLI and embedding services at startup.
// An unreachable service only logs a warning — Lyra still starts, since
// many jobs (fetch, extract, rank) don't need them.
func (a *App) checkReadiness(ctx context.Context) {
	probe := func(name, base string) {
		if base == "" {
			return
		}
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		client := newHighThroughputHTTPClient(true)
		req, err := http.NewRequestWithContext(pctx, http.MethodGet, base, nil)
		if err != nil {
			a.Log.Warn().Str("service", name).Err(err).Msg("readiness preflight: build request failed")
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			a.Log.Warn().Str("service", name).Err(err).Msg("readiness preflight: unreachable")
			return
		}
		resp.Body.Close()
	}
	probe("llm", a.Config.LLMBaseURL)
	probe("nli", a.Config.NLIBaseURL)
	probe("embed", a.Config.EmbedBaseURL)
}

// registerJobHandlers wires the scheduler's job kinds to the
// collaborator packages that perform the work.
func (a *App) registerJobHandlers() {
	a.Scheduler.RegisterHandler("serp", a.handleSERP)
	a.Scheduler.RegisterHandler("fetch", a.handleFetch)
	a.Scheduler.RegisterHandler("extract", a.handleExtract)
	a.Scheduler.RegisterHandler("embed", a.handleEmbed)
	a.Scheduler.RegisterHandler("rank", a.handleRank)
	a.Scheduler.RegisterHandler("llm_extract", a.handleLLMExtract)
	a.Scheduler.RegisterHandler("nli", a.handleNLI)
	a.Scheduler.RegisterHandler("compose", a.handleCompose)
}

type serpInput struct {
	TaskID     string `json:"task_id"`
	QueryID    string `json:"query_id"`
	Query      string `json:"query"`
	EngineName string `json:"engine"`
}

func (a *App) handleSERP(ctx context.Context, job store.Job) (string, error) {
	var in serpInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("serp job: decode input: %w", err)
	}
	results, hadNextPage, err := a.Orchestrator.SearchMultiPage(ctx, in.Query, in.EngineName)
	if err != nil {
		return "", fmt.Errorf("serp search: %w", err)
	}
	for _, r := range results {
		payload, _ := json.Marshal(fetchInput{TaskID: in.TaskID, URL: r.URL})
		if _, err := a.DB.EnqueueJob(store.Job{
			Kind:      "fetch",
			Priority:  5,
			InputJSON: string(payload),
			TaskID:    in.TaskID,
		}); err != nil {
			a.Log.Warn().Err(err).Str("url", r.URL).Msg("enqueue fetch job failed")
		}
	}
	harvestRate := 0.0
	if in.QueryID != "" {
		status := "exhausted"
		if len(results) > 0 {
			harvestRate = 1.0
			status = "satisfied"
		}
		if err := a.DB.SetQueryStatus(in.QueryID, status, harvestRate); err != nil {
			a.Log.Warn().Err(err).Str("query_id", in.QueryID).Msg("set query status failed")
		}
	}
	out, _ := json.Marshal(map[string]any{"count": len(results), "has_next_page": hadNextPage})
	return string(out), nil
}

type fetchInput struct {
	TaskID string `json:"task_id"`
	URL    string `json:"url"`
}

func (a *App) handleFetch(ctx context.Context, job store.Job) (string, error) {
	var in fetchInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("fetch job: decode input: %w", err)
	}
	res, err := a.Fetcher.Fetch(ctx, in.URL, fetch.Options{})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", in.URL, err)
	}
	pageID, err := a.DB.PutPage(store.Page{URL: in.URL, Domain: job.Domain, Title: "", FetchedAt: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return "", fmt.Errorf("put page: %w", err)
	}
	payload, _ := json.Marshal(extractInput{
		TaskID:      in.TaskID,
		PageID:      pageID,
		URL:         in.URL,
		ContentType: res.ContentType,
		Body:        base64.StdEncoding.EncodeToString(res.Body),
	})
	if _, err := a.DB.EnqueueJob(store.Job{
		Kind:      "extract",
		Priority:  5,
		InputJSON: string(payload),
		TaskID:    in.TaskID,
		Domain:    job.Domain,
	}); err != nil {
		a.Log.Warn().Err(err).Str("page_id", pageID).Msg("enqueue extract job failed")
	}
	out, _ := json.Marshal(map[string]any{"page_id": pageID, "used_path": res.UsedPath, "status": res.Status})
	return string(out), nil
}

type extractInput struct {
	TaskID      string `json:"task_id"`
	PageID      string `json:"page_id"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// handleExtract turns a fetched body into fragments, per C9's content-type
// dispatch (FromPDF for application/pdf, FromHTML otherwise) sized with
// Split's target-length-range splitter. Every fragment is embedded so a
// single rank job can score the whole page's candidates at once; ranking,
// not llm_extract, decides which fragments are worth an extraction call.
// HTML bodies additionally feed C11's citation-detection pass.
func (a *App) handleExtract(ctx context.Context, job store.Job) (string, error) {
	var in extractInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("extract job: decode input: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(in.Body)
	if err != nil {
		return "", fmt.Errorf("extract job: decode body: %w", err)
	}
	doc, err := extract.ForContentType(in.ContentType, raw)
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}

	fragKind := "body"
	if strings.Contains(strings.ToLower(in.ContentType), "application/pdf") {
		fragKind = "pdf_text"
	}

	fragments := extract.Split(doc.Text, 0, 0)
	fragmentIDs := make([]string, 0, len(fragments))
	candidates := make([]rank.Candidate, 0, len(fragments))
	for _, frag := range fragments {
		fragID, err := a.DB.PutFragment(store.Fragment{PageID: in.PageID, TextContent: frag, Kind: fragKind})
		if err != nil {
			a.Log.Warn().Err(err).Msg("put fragment failed")
			continue
		}
		fragmentIDs = append(fragmentIDs, fragID)

		embedPayload, _ := json.Marshal(embedInput{TargetType: "fragment", TargetID: fragID, Text: frag})
		if _, err := a.DB.EnqueueJob(store.Job{Kind: "embed", Priority: 4, InputJSON: string(embedPayload), TaskID: in.TaskID}); err != nil {
			a.Log.Warn().Err(err).Msg("enqueue embed job failed")
		}

		vec, err := a.embed(ctx, frag)
		if err != nil {
			a.Log.Warn().Err(err).Msg("embed fragment for ranking failed, candidate scored on lexical overlap only")
		}
		candidates = append(candidates, rank.Candidate{ID: fragID, Text: frag, Embedding: vec})
	}

	if len(candidates) > 0 {
		query := in.TaskID
		if task, err := a.DB.GetTask(in.TaskID); err == nil && task != nil {
			query = task.Hypothesis
		}
		rankPayload, _ := json.Marshal(rankInput{TaskID: in.TaskID, Query: query, Candidates: candidates})
		if _, err := a.DB.EnqueueJob(store.Job{Kind: "rank", Priority: 4, InputJSON: string(rankPayload), TaskID: in.TaskID}); err != nil {
			a.Log.Warn().Err(err).Msg("enqueue rank job failed")
		}
	}

	if fragKind == "body" {
		a.processCitations(ctx, in.PageID, in.URL, raw)
	}

	out, _ := json.Marshal(map[string]any{"fragment_count": len(fragmentIDs)})
	return string(out), nil
}

var doiURLPattern = regexp.MustCompile(`(?i)doi\.org/(10\.\d{4,9}/\S+)`)

// doiFromURL extracts a DOI from a doi.org-style URL, the only signal
// available to decide whether a page is worth an academic-reference lookup.
func doiFromURL(rawURL string) string {
	m := doiURLPattern.FindStringSubmatch(rawURL)
	if len(m) != 2 {
		return ""
	}
	return strings.TrimRight(m[1], "/")
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// processCitations runs C11's citation half: every in-body link is judged
// by the LLM citation classifier, and pages resolving to a DOI are also
// cross-checked against Semantic Scholar and OpenAlex for their declared
// outgoing references. Each hit becomes a page->page "cites" edge.
func (a *App) processCitations(ctx context.Context, pageID, pageURL string, raw []byte) {
	for _, link := range extract.ExtractLinks(raw, pageURL) {
		isCitation, err := a.Citations.Classify(ctx, link.Text, link.Context)
		if err != nil {
			a.Log.Warn().Err(err).Str("url", link.URL).Msg("citation classification failed")
			continue
		}
		if !isCitation {
			continue
		}
		a.putCitationEdge(pageID, link.URL, "extraction")
	}

	doi := doiFromURL(pageURL)
	if doi == "" {
		return
	}
	if refs, err := a.SemanticScholar.References(ctx, doi, pageURL); err != nil {
		a.Log.Warn().Err(err).Str("doi", doi).Msg("semantic scholar references failed")
	} else {
		for _, ref := range refs {
			a.putCitationEdge(pageID, ref.CitedURL, ref.CitationSource)
		}
	}
	if refs, err := a.OpenAlex.References(ctx, doi, pageURL); err != nil {
		a.Log.Warn().Err(err).Str("doi", doi).Msg("openalex references failed")
	} else {
		for _, ref := range refs {
			a.putCitationEdge(pageID, ref.CitedURL, ref.CitationSource)
		}
	}
}

func (a *App) putCitationEdge(citingPageID, citedURL, citationSource string) {
	targetID, err := a.DB.PutPage(store.Page{URL: citedURL, Domain: domainOf(citedURL)})
	if err != nil {
		a.Log.Warn().Err(err).Str("url", citedURL).Msg("put cited page failed")
		return
	}
	if _, err := a.DB.PutEdge(store.Edge{SourceID: citingPageID, TargetID: targetID, Relation: "cites", CitationSource: citationSource}); err != nil {
		a.Log.Warn().Err(err).Msg("put citation edge failed")
	}
}

type embedInput struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Text       string `json:"text"`
}

func (a *App) handleEmbed(ctx context.Context, job store.Job) (string, error) {
	var in embedInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("embed job: decode input: %w", err)
	}
	vec, err := a.embed(ctx, in.Text)
	if err != nil {
		return "", fmt.Errorf("embed: %w", err)
	}
	if err := a.Vectors.PutEmbedding(in.TargetType, in.TargetID, a.Config.EmbedModel, vec); err != nil {
		return "", fmt.Errorf("put embedding: %w", err)
	}
	out, _ := json.Marshal(map[string]any{"target_id": in.TargetID, "dims": len(vec)})
	return string(out), nil
}

// embed calls the embedding service configured for the app over the
// OpenAI-compatible embeddings endpoint, matching the claims extractor's
// go-openai client shape.
func (a *App) embed(ctx context.Context, text string) ([]float32, error) {
	client := a.llmChat
	if a.Config.EmbedBaseURL != "" && a.Config.EmbedBaseURL != a.Config.LLMBaseURL {
		oc := openai.DefaultConfig(a.Config.LLMAPIKey)
		oc.BaseURL = a.Config.EmbedBaseURL
		client = openai.NewClientWithConfig(oc)
	}
	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(a.Config.EmbedModel),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

type rankInput struct {
	TaskID     string            `json:"task_id"`
	Query      string            `json:"query"`
	Candidates []rank.Candidate  `json:"candidates"`
	Options    rank.Options      `json:"options"`
}

// handleRank scores a page's extracted fragments against the task
// hypothesis and enqueues llm_extract only for the survivors of the
// adaptive cutoff (C10), so claim extraction runs over the fragments worth
// the LLM call rather than every paragraph on the page.
func (a *App) handleRank(ctx context.Context, job store.Job) (string, error) {
	var in rankInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("rank job: decode input: %w", err)
	}
	qVec, err := a.embed(ctx, in.Query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	scored := rank.Rank(in.Query, qVec, in.Candidates, in.Options)
	for _, s := range scored {
		llmPayload, _ := json.Marshal(llmExtractInput{TaskID: in.TaskID, FragmentID: s.ID, FragmentText: s.Text})
		if _, err := a.DB.EnqueueJob(store.Job{Kind: "llm_extract", Priority: 3, InputJSON: string(llmPayload), TaskID: in.TaskID}); err != nil {
			a.Log.Warn().Err(err).Msg("enqueue llm_extract job failed")
		}
	}
	out, _ := json.Marshal(map[string]any{"ranked": scored})
	return string(out), nil
}

type llmExtractInput struct {
	TaskID       string `json:"task_id"`
	FragmentID   string `json:"fragment_id"`
	FragmentText string `json:"fragment_text"`
}

func (a *App) handleLLMExtract(ctx context.Context, job store.Job) (string, error) {
	var in llmExtractInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("llm_extract job: decode input: %w", err)
	}
	texts, err := a.Claims.ExtractClaims(ctx, in.FragmentText)
	if err != nil {
		return "", fmt.Errorf("extract claims: %w", err)
	}
	existing, err := a.existingClaims(in.TaskID)
	if err != nil {
		return "", fmt.Errorf("list existing claims: %w", err)
	}
	claimIDs := make([]string, 0, len(texts))
	for _, text := range texts {
		vec, err := a.embed(ctx, text)
		if err != nil {
			a.Log.Warn().Err(err).Msg("embed claim failed, storing without dedup check")
		}
		if dup, ok := claims.FindDuplicate(text, vec, existing); ok {
			claimIDs = append(claimIDs, dup.ID)
			continue
		}
		claimID, err := a.DB.PutClaim(store.Claim{TaskID: in.TaskID, ClaimText: text, AdoptionStatus: "adopted"})
		if err != nil {
			a.Log.Warn().Err(err).Msg("put claim failed")
			continue
		}
		if len(vec) > 0 {
			if err := a.Vectors.PutEmbedding("claim", claimID, a.Config.EmbedModel, vec); err != nil {
				a.Log.Warn().Err(err).Msg("put claim embedding failed")
			}
		}
		existing = append(existing, claims.Existing{ID: claimID, Text: text, Embedding: vec})
		claimIDs = append(claimIDs, claimID)

		nliPayload, _ := json.Marshal(nliInput{
			TaskID:       in.TaskID,
			FragmentID:   in.FragmentID,
			FragmentText: in.FragmentText,
			ClaimID:      claimID,
			ClaimText:    text,
		})
		if _, err := a.DB.EnqueueJob(store.Job{Kind: "nli", Priority: 3, InputJSON: string(nliPayload), TaskID: in.TaskID}); err != nil {
			a.Log.Warn().Err(err).Msg("enqueue nli job failed")
		}
	}
	out, _ := json.Marshal(map[string]any{"claim_ids": claimIDs})
	return string(out), nil
}

func (a *App) existingClaims(taskID string) ([]claims.Existing, error) {
	rows, err := a.DB.ListClaimsByTask(taskID)
	if err != nil {
		return nil, err
	}
	out := make([]claims.Existing, 0, len(rows))
	for _, c := range rows {
		out = append(out, claims.Existing{ID: c.ID, Text: c.ClaimText})
	}
	return out, nil
}

type nliInput struct {
	TaskID               string `json:"task_id"`
	FragmentID           string `json:"fragment_id"`
	FragmentText         string `json:"fragment_text"`
	ClaimID              string `json:"claim_id"`
	ClaimText            string `json:"claim_text"`
	SourceDomainCategory string `json:"source_domain_category"`
	TargetDomainCategory string `json:"target_domain_category"`
}

func (a *App) handleNLI(ctx context.Context, job store.Job) (string, error) {
	var in nliInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("nli job: decode input: %w", err)
	}
	edgeID, err := a.EdgeBuilder.BuildEdge(ctx, in.FragmentID, in.FragmentText, in.ClaimID, in.ClaimText, in.SourceDomainCategory, in.TargetDomainCategory)
	if err != nil {
		return "", fmt.Errorf("build edge: %w", err)
	}
	decision, err := a.Verifier.DecideClaim(in.ClaimID)
	if err != nil {
		a.Log.Warn().Err(err).Str("claim_id", in.ClaimID).Msg("decide claim failed")
	}
	out, _ := json.Marshal(map[string]any{"edge_id": edgeID, "decision": decision})
	return string(out), nil
}

type composeInput struct {
	TaskID string `json:"task_id"`
}

// handleCompose writes the manifest sidecar and, if enabled, the graph
// snapshot PDF for a task. This is not report synthesis: it is a plain
// accounting of the graph's current state for audit, not a reasoning
// client's rendered output.
func (a *App) handleCompose(ctx context.Context, job store.Job) (string, error) {
	var in composeInput
	if err := json.Unmarshal([]byte(job.InputJSON), &in); err != nil {
		return "", fmt.Errorf("compose job: decode input: %w", err)
	}
	counts, err := a.DB.CountJobsByState(in.TaskID)
	if err != nil {
		return "", fmt.Errorf("count jobs: %w", err)
	}
	writeFile := func(path string, data []byte) error {
		return os.WriteFile(path, data, 0o644)
	}
	if err := writeManifest(a.Config, in.TaskID, counts, writeFile); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if a.Config.EnablePDF {
		md, err := buildGraphSnapshotMarkdown(a.DB, in.TaskID)
		if err != nil {
			return "", fmt.Errorf("build graph snapshot: %w", err)
		}
		pdfPath := in.TaskID + ".snapshot.pdf"
		if a.Config.ManifestDir != "" {
			pdfPath = a.Config.ManifestDir + "/" + pdfPath
		}
		if err := writeSimplePDF(md, pdfPath); err != nil {
			return "", fmt.Errorf("write graph snapshot pdf: %w", err)
		}
	}
	out, _ := json.Marshal(map[string]any{"task_id": in.TaskID})
	return string(out), nil
}

// Run starts the scheduler loop and the tool protocol server, blocking
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.Scheduler.Run(ctx)

	srv := &http.Server{Addr: a.Config.ToolsListenAddr, Handler: a.Tools.HTTPHandler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Close releases every resource App owns.
func (a *App) Close() error {
	close(a.stopCh)
	if a.Browser != nil {
		a.Browser.Close()
	}
	return a.DB.Close()
}
