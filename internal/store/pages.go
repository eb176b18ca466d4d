package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Page mirrors the `pages` table (spec §3).
type Page struct {
	ID             string
	URL            string
	Domain         string
	DOI            string
	Title          string
	MetadataJSON   string
	FetchedAt      string
	WARCPath       string
	HARPath        string
	ScreenshotPath string
}

// PutPage inserts a page, or merges metadata into the existing row when the
// URL (or DOI, when present) is already known. A page is never overwritten
// wholesale — only its metadata JSON is shallow-merged — per the invariant
// "a page with identical URL is never re-inserted; its metadata may be
// merged, never overwritten".
func (db *DB) PutPage(p Page) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existingID, existingMeta string
	var lookupErr error
	if p.DOI != "" {
		lookupErr = tx.QueryRow(`SELECT id, metadata_json FROM pages WHERE doi = ?`, p.DOI).Scan(&existingID, &existingMeta)
	} else {
		lookupErr = tx.QueryRow(`SELECT id, metadata_json FROM pages WHERE url = ?`, p.URL).Scan(&existingID, &existingMeta)
	}
	if lookupErr == nil {
		merged, err := mergeMetadata(existingMeta, p.MetadataJSON)
		if err != nil {
			return "", fmt.Errorf("merge page metadata: %w", err)
		}
		if _, err := tx.Exec(`UPDATE pages SET metadata_json = ? WHERE id = ?`, merged, existingID); err != nil {
			return "", err
		}
		return existingID, tx.Commit()
	}
	if lookupErr != sql.ErrNoRows {
		return "", fmt.Errorf("lookup existing page: %w", lookupErr)
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	if p.MetadataJSON == "" {
		p.MetadataJSON = "{}"
	}
	var doi sql.NullString
	if p.DOI != "" {
		doi = sql.NullString{String: p.DOI, Valid: true}
	}
	_, err = tx.Exec(`INSERT INTO pages (id, url, domain, doi, title, metadata_json, warc_path, har_path, screenshot_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.URL, p.Domain, doi, p.Title, p.MetadataJSON, p.WARCPath, p.HARPath, p.ScreenshotPath)
	if err != nil {
		return "", fmt.Errorf("insert page: %w", err)
	}
	return id, tx.Commit()
}

// mergeMetadata shallow-merges b's keys into a, preferring b on conflict.
// Corrupted JSON in either side is tolerated: the other side wins rather
// than the merge failing, per the "corrupted JSON in a metadata column
// (non-panicking recovery)" boundary behavior.
func mergeMetadata(a, b string) (string, error) {
	var ma, mb map[string]any
	if err := json.Unmarshal([]byte(a), &ma); err != nil || ma == nil {
		ma = map[string]any{}
	}
	if err := json.Unmarshal([]byte(b), &mb); err != nil || mb == nil {
		mb = map[string]any{}
	}
	for k, v := range mb {
		ma[k] = v
	}
	out, err := json.Marshal(ma)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// TextHash computes the dedup key for a fragment's text content.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Fragment mirrors the `fragments` table (spec §3).
type Fragment struct {
	ID          string
	PageID      string
	TextContent string
	TextHash    string
	SpanStart   int
	SpanEnd     int
	Kind        string
}

// PutFragment inserts a fragment, or is a no-op returning the existing id
// when (page_id, text_hash) was already seen, per the invariant "a
// fragment is uniquely identified by text_hash within a page scope" /
// "never re-inserted if text_hash seen".
func (db *DB) PutFragment(f Fragment) (string, error) {
	if f.TextHash == "" {
		f.TextHash = TextHash(f.TextContent)
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	var existingID string
	err := db.writer.QueryRow(`SELECT id FROM fragments WHERE page_id = ? AND text_hash = ?`, f.PageID, f.TextHash).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup existing fragment: %w", err)
	}

	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	if f.Kind == "" {
		f.Kind = "body"
	}
	_, err = db.writer.Exec(`INSERT INTO fragments (id, page_id, text_content, text_hash, span_start, span_end, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, f.PageID, f.TextContent, f.TextHash, f.SpanStart, f.SpanEnd, f.Kind)
	if err != nil {
		return "", fmt.Errorf("insert fragment: %w", err)
	}
	if _, err := db.writer.Exec(`INSERT INTO fragments_fts(rowid, text_content) SELECT rowid, text_content FROM fragments WHERE id = ?`, id); err != nil {
		db.log.Warn().Err(err).Msg("fts index insert failed, continuing without fts entry")
	}
	return id, nil
}

// GetPageByURL returns a page by its canonical URL, if present.
func (db *DB) GetPageByURL(url string) (*Page, error) {
	var p Page
	var doi sql.NullString
	err := db.reader.QueryRow(`SELECT id, url, domain, doi, title, metadata_json, fetched_at, warc_path, har_path, screenshot_path
		FROM pages WHERE url = ?`, url).Scan(&p.ID, &p.URL, &p.Domain, &doi, &p.Title, &p.MetadataJSON, &p.FetchedAt, &p.WARCPath, &p.HARPath, &p.ScreenshotPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.DOI = doi.String
	return &p, nil
}
