// Package session implements session transfer (C7): on every successful
// headful visit, cookies scoped to the URL origin plus any observed
// ETag/Last-Modified are captured and made available to the HTTP fetch
// path via apply_to_http_request. State lives in memory for the lifetime
// of a task and is persisted alongside the intervention item once an
// intervention resolves as solved.
//
// Cookie capture calls proto.NetworkGetCookies against a live rod.Page,
// collected into a per-origin store instead of a full storage-state
// snapshot.
package session

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Cookie is a minimal, JSON-serializable capture of a browser cookie.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool   `json:"http_only"`
	Secure   bool   `json:"secure"`
}

// OriginState is everything captured for one origin.
type OriginState struct {
	Origin       string    `json:"origin"`
	Cookies      []Cookie  `json:"cookies"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Store holds per-origin session state for the lifetime of a task.
type Store struct {
	mu      sync.RWMutex
	origins map[string]OriginState
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{origins: make(map[string]OriginState)}
}

// CaptureFromPage reads cookies from a live browser page scoped to
// pageURL's origin and records them, per "on every successful headful
// visit, capture cookies scoped to the URL origin."
func (s *Store) CaptureFromPage(page *rod.Page, pageURL string) error {
	origin, err := originOf(pageURL)
	if err != nil {
		return err
	}

	res, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return err
	}

	cookies := make([]Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.origins[origin]
	s.origins[origin] = OriginState{
		Origin:       origin,
		Cookies:      cookies,
		ETag:         prev.ETag,
		LastModified: prev.LastModified,
		CapturedAt:   time.Now(),
	}
	return nil
}

// RecordValidators records ETag/Last-Modified observed on a response for
// origin, merging into any existing cookie capture.
func (s *Store) RecordValidators(pageURL, etag, lastModified string) error {
	origin, err := originOf(pageURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.origins[origin]
	st.Origin = origin
	if etag != "" {
		st.ETag = etag
	}
	if lastModified != "" {
		st.LastModified = lastModified
	}
	st.CapturedAt = time.Now()
	s.origins[origin] = st
	return nil
}

// Get returns the captured state for an origin, if any.
func (s *Store) Get(origin string) (OriginState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.origins[origin]
	return st, ok
}

// ApplyToRequest adds matching cookies and conditional headers to req for
// origin, per C7's apply_to_http_request(request, origin).
func (s *Store) ApplyToRequest(req *http.Request, origin string) {
	st, ok := s.Get(origin)
	if !ok {
		return
	}
	if len(st.Cookies) > 0 {
		var b strings.Builder
		for i, c := range st.Cookies {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(c.Name)
			b.WriteByte('=')
			b.WriteString(c.Value)
		}
		req.Header.Set("Cookie", b.String())
	}
	if st.ETag != "" {
		req.Header.Set("If-None-Match", st.ETag)
	}
	if st.LastModified != "" {
		req.Header.Set("If-Modified-Since", st.LastModified)
	}
}

// MarshalForPersist serializes an origin's state for storage alongside an
// intervention item's session_data column, on solved.
func (s *Store) MarshalForPersist(origin string) (string, error) {
	st, ok := s.Get(origin)
	if !ok {
		return "{}", nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RestoreFromPersisted loads a previously persisted OriginState (e.g. from
// intervention_items.session_data) back into the store.
func (s *Store) RestoreFromPersisted(data string) error {
	if data == "" || data == "{}" {
		return nil
	}
	var st OriginState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return err
	}
	if st.Origin == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origins[st.Origin] = st
	return nil
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}
