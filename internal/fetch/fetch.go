// Package fetch implements the fetch layer (C4): fetch(url, options) that
// consults domain policy and the circuit breaker, serves an HTTP path with
// conditional revalidation, escalates to a shared headful browser context
// at most once, classifies challenge pages into an intervention, and falls
// back to Wayback on a permanent block.
//
// The HTTP path (client shape, 304 revalidation, redirect-hop cap,
// transient/permanent classification) follows internal/cache.HTTPCache's
// conditional-GET idiom. The browser path reuses internal/browsermgr so a
// fresh context is never created for an escalation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lyra-research/lyra/internal/breaker"
	"github.com/lyra-research/lyra/internal/browsermgr"
	"github.com/lyra-research/lyra/internal/domainpolicy"
	"github.com/lyra-research/lyra/internal/lyraerr"
	"github.com/lyra-research/lyra/internal/ratelimit"
	"github.com/lyra-research/lyra/internal/robots"
	"github.com/lyra-research/lyra/internal/session"
	"github.com/lyra-research/lyra/internal/store"
)

// Options narrows fetch behavior for a single call.
type Options struct {
	// ForceHeadful skips the HTTP path and goes straight to the browser,
	// used for a job already known to need JS rendering.
	ForceHeadful bool
}

// Result is FetchResult from spec C4.
type Result struct {
	Status       int
	FinalURL     string
	ContentType  string
	Body         []byte
	UsedPath     string // http | headful | wayback
	Challenge    string // "" | captcha_provider_X | login_gate | rate_limited | bot_suspected
	FreshnessPenalty bool
}

// Fetcher wires the fetch operation's collaborators together.
type Fetcher struct {
	Policy    *domainpolicy.Resolver
	Breaker   *breaker.Breaker
	Limiter   *ratelimit.Limiter
	Browser   *browsermgr.Manager
	Sessions  *session.Store
	DB        *store.DB
	Robots    *robots.Manager
	UserAgent string
	Log       zerolog.Logger

	HTTPClient *http.Client
	// escalated tracks, per URL, whether headful escalation has
	// already been attempted this task, per "escalation-exactly-once."
	escalated map[string]bool
}

// New builds a Fetcher with sane HTTP client defaults.
func New(policy *domainpolicy.Resolver, br *breaker.Breaker, rl *ratelimit.Limiter, bm *browsermgr.Manager, sessions *session.Store, db *store.DB, rm *robots.Manager, userAgent string, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		Policy:     policy,
		Breaker:    br,
		Limiter:    rl,
		Browser:    bm,
		Sessions:   sessions,
		DB:         db,
		Robots:     rm,
		UserAgent:  userAgent,
		Log:        log,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, CheckRedirect: checkRedirect},
		escalated:  make(map[string]bool),
	}
}

// robotsAllow consults the robots.txt manager, when configured, before the
// HTTP path is attempted. The manager turns an unreachable, 401/403 or 5xx
// robots.txt into disallow-all rules and a missing one into allow-all
// rules; an error from the manager itself (unparsable URL, private host,
// cancelled context) does not block the page fetch.
func (f *Fetcher) robotsAllow(ctx context.Context, rawURL string) bool {
	if f.Robots == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	rules, _, err := f.Robots.Get(ctx, robotsURL)
	if err != nil {
		return true
	}
	return rules.IsAllowed(f.UserAgent, u.Path)
}

// Fetch is C4's fetch(url, options) operation.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: parse url: %v", lyraerr.ErrFetchPermanent, err)
	}
	host := u.Hostname()

	policy := f.Policy.PolicyFor(host)
	if policy.OnDenylist {
		return Result{}, fmt.Errorf("%w: %s is denylisted", lyraerr.ErrPolicyDenied, host)
	}
	if err := f.Breaker.Allow(host); err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrBreakerOpen, err)
	}
	if err := f.Limiter.Wait(ctx, host, policy.QPS); err != nil {
		return Result{}, err
	}

	if !f.robotsAllow(ctx, rawURL) {
		return Result{}, fmt.Errorf("%w: disallowed by robots.txt", lyraerr.ErrPolicyDenied)
	}

	if opts.ForceHeadful {
		return f.fetchHeadful(ctx, rawURL, host)
	}

	result, err := f.fetchHTTP(ctx, rawURL, host)
	if err == nil {
		f.Breaker.RecordSuccess(host, 0)
		return result, nil
	}

	if challenge, ok := detectChallengeFromError(err); ok {
		f.Breaker.RecordFailure(host, true)
		return f.enqueueChallenge(ctx, rawURL, host, challenge)
	}

	if errors.Is(err, lyraerr.ErrFetchTransient) {
		f.Breaker.RecordFailure(host, false)
		if !f.escalated[rawURL] && policy.HeadfulRatio > 0 {
			f.escalated[rawURL] = true
			res, herr := f.fetchHeadful(ctx, rawURL, host)
			if herr == nil {
				return res, nil
			}
		}
		return Result{}, err
	}

	f.Breaker.RecordFailure(host, false)
	return f.fetchWayback(ctx, rawURL)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL, origin string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: new request: %v", lyraerr.ErrFetchPermanent, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	if f.Sessions != nil {
		if u, perr := url.Parse(rawURL); perr == nil {
			f.Sessions.ApplyToRequest(req, u.Scheme+"://"+u.Host)
		}
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrFetchTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Result{Status: resp.StatusCode, FinalURL: rawURL, UsedPath: "http"}, nil
	}
	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("%w: status %d", lyraerr.ErrFetchTransient, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, fmt.Errorf("%w: rate_limited", lyraerr.ErrChallengeDetected)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return Result{}, fmt.Errorf("%w: status %d", lyraerr.ErrFetchPermanent, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: status %d", lyraerr.ErrFetchPermanent, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", lyraerr.ErrFetchTransient, err)
	}

	if challenge := classifyChallenge(resp.StatusCode, body); challenge != "" {
		return Result{}, fmt.Errorf("%w: %s", lyraerr.ErrChallengeDetected, challenge)
	}

	if f.Sessions != nil {
		_ = f.Sessions.RecordValidators(rawURL, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"))
	}

	return Result{
		Status:      resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		UsedPath:    "http",
	}, nil
}

func (f *Fetcher) fetchHeadful(ctx context.Context, rawURL, origin string) (Result, error) {
	if f.Browser == nil {
		return Result{}, fmt.Errorf("%w: headful path unavailable", lyraerr.ErrFetchPermanent)
	}
	page, err := f.Browser.Page(ctx, rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrFetchTransient, err)
	}
	defer page.Close()

	html, err := page.HTML()
	if err != nil {
		return Result{}, fmt.Errorf("%w: read html: %v", lyraerr.ErrFetchTransient, err)
	}

	if f.Sessions != nil {
		_ = f.Sessions.CaptureFromPage(page, rawURL)
	}

	if challenge := classifyChallenge(http.StatusOK, []byte(html)); challenge != "" {
		return Result{}, fmt.Errorf("%w: %s", lyraerr.ErrChallengeDetected, challenge)
	}

	return Result{
		Status:      http.StatusOK,
		FinalURL:    rawURL,
		ContentType: "text/html",
		Body:        []byte(html),
		UsedPath:    "headful",
	}, nil
}

// fetchWayback retrieves the most recent archived snapshot as a read-only
// fallback, attaching a freshness-penalty marker (spec C4 step 5).
func (f *Fetcher) fetchWayback(ctx context.Context, rawURL string) (Result, error) {
	availURL := "https://archive.org/wayback/available?url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, availURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrFetchPermanent, err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: wayback unavailable: %v", lyraerr.ErrFetchPermanent, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: wayback status %d", lyraerr.ErrFetchPermanent, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrFetchPermanent, err)
	}

	snapshotURL, ok := extractWaybackSnapshotURL(body)
	if !ok {
		return Result{}, fmt.Errorf("%w: no wayback snapshot for %s", lyraerr.ErrFetchPermanent, rawURL)
	}

	snapReq, err := http.NewRequestWithContext(ctx, http.MethodGet, snapshotURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrFetchPermanent, err)
	}
	snapResp, err := f.HTTPClient.Do(snapReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrFetchPermanent, err)
	}
	defer snapResp.Body.Close()
	snapBody, err := io.ReadAll(snapResp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrFetchPermanent, err)
	}

	return Result{
		Status:           snapResp.StatusCode,
		FinalURL:         snapshotURL,
		ContentType:      snapResp.Header.Get("Content-Type"),
		Body:             snapBody,
		UsedPath:         "wayback",
		FreshnessPenalty: true,
	}, nil
}

// enqueueChallenge records an intervention item for a detected challenge
// and returns a non-fatal structured outcome, per C4 step 4.
func (f *Fetcher) enqueueChallenge(ctx context.Context, rawURL, domain, challenge string) (Result, error) {
	itemType := "captcha"
	if challenge == "login_gate" {
		itemType = "login"
	}
	if f.DB != nil {
		if _, err := f.DB.EnqueueIntervention(store.InterventionItem{
			Domain:           domain,
			URL:              rawURL,
			InterventionType: itemType,
			Diagnostic:       challenge,
		}); err != nil {
			f.Log.Warn().Err(err).Str("domain", domain).Msg("enqueue intervention failed")
		}
	}
	return Result{Challenge: challenge}, fmt.Errorf("%w: %s", lyraerr.ErrChallengeDetected, challenge)
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("too many redirects")
	}
	return nil
}

// classifyChallenge inspects a response for CAPTCHA/login/bot-suspected
// signatures, per C4 step 4. Signatures are intentionally simple string
// matches; the external search-engine config in C5 carries richer
// per-engine CAPTCHA selectors for SERP pages specifically.
func classifyChallenge(status int, body []byte) string {
	s := strings.ToLower(string(body))
	switch {
	case strings.Contains(s, "captcha-delivery.com") || strings.Contains(s, "datadome"):
		return "captcha_provider_datadome"
	case strings.Contains(s, "g-recaptcha") || strings.Contains(s, "recaptcha"):
		return "captcha_provider_recaptcha"
	case strings.Contains(s, "hcaptcha"):
		return "captcha_provider_hcaptcha"
	case strings.Contains(s, "cf-challenge") || strings.Contains(s, "checking your browser"):
		return "captcha_provider_cloudflare"
	case strings.Contains(s, "sign in to continue") || strings.Contains(s, "please log in"):
		return "login_gate"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case strings.Contains(s, "unusual traffic") || strings.Contains(s, "bot detected"):
		return "bot_suspected"
	}
	return ""
}

func detectChallengeFromError(err error) (string, bool) {
	if !errors.Is(err, lyraerr.ErrChallengeDetected) {
		return "", false
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:], true
	}
	return "challenge_detected", true
}

// extractWaybackSnapshotURL pulls closest.url out of the availability API's
// small JSON body without pulling in a JSON schema for one field.
func extractWaybackSnapshotURL(body []byte) (string, bool) {
	const marker = `"url":"`
	s := string(body)
	i := strings.Index(s, marker)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return "", false
	}
	return strings.ReplaceAll(rest[:j], `\/`, "/"), true
}
