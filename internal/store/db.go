// Package store implements the evidence graph store (C13): a persistent,
// append-mostly SQLite schema for tasks, queries, pages, fragments, claims,
// edges, embeddings, NLI correction samples, domain override rules, the
// intervention queue, and jobs. Bayesian confidence is derived on read,
// never cached as the source of truth.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps a SQLite connection pair: a single writer connection (WAL mode,
// serialized writes) and a read-only pool, per the concurrency model's
// "writes serialize on a single writer connection; reads use a read-only
// pool" rule.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex
	log    zerolog.Logger
}

// Open opens or creates the database at path, running migrations.
func Open(path string, log zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}
	writer, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	// Every ":memory:" connection is its own empty database, so an
	// in-memory store reads through its single writer connection.
	reader := writer
	if path != ":memory:" {
		reader, err = sql.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
		if err != nil {
			writer.Close()
			return nil, fmt.Errorf("open reader pool: %w", err)
		}
	}

	db := &DB{writer: writer, reader: reader, log: log}
	if err := db.migrate(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests.
func OpenMemory(log zerolog.Logger) (*DB, error) {
	return Open(":memory:", log)
}

func (db *DB) Close() error {
	err1 := db.writer.Close()
	err2 := db.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Writer returns the single-writer connection for components that need to
// compose ad hoc statements. The sqlsurface package does not share it (nor
// the reader pool): it opens its own independent read-only connection per
// call.
func (db *DB) Writer() *sql.DB { return db.writer }

// Reader returns the read-only pool connection.
func (db *DB) Reader() *sql.DB { return db.reader }

func (db *DB) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT,
			hypothesis TEXT NOT NULL,
			budget_pages INTEGER NOT NULL DEFAULT 0,
			priority_domains TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','stopped')),
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_idempotency ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS queries (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			query_text TEXT NOT NULL,
			engine TEXT NOT NULL DEFAULT '',
			options_json TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'queued' CHECK(status IN ('queued','running','satisfied','partial','exhausted','stopped')),
			harvest_rate REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queries_task ON queries(task_id)`,
		`CREATE TABLE IF NOT EXISTS pages (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			domain TEXT NOT NULL,
			doi TEXT UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			fetched_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			warc_path TEXT NOT NULL DEFAULT '',
			har_path TEXT NOT NULL DEFAULT '',
			screenshot_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages(domain)`,
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			page_id TEXT NOT NULL REFERENCES pages(id),
			text_content TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			span_start INTEGER NOT NULL DEFAULT 0,
			span_end INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL DEFAULT 'body' CHECK(kind IN ('body','abstract','pdf_text'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fragments_page_hash ON fragments(page_id, text_hash)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fragments_fts USING fts5(
			text_content, content=fragments, content_rowid=rowid
		)`,
		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			claim_text TEXT NOT NULL,
			claim_adoption_status TEXT NOT NULL DEFAULT 'adopted' CHECK(claim_adoption_status IN ('adopted','not_adopted')),
			claim_rejection_reason TEXT,
			claim_rejected_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_task ON claims(task_id)`,
		`CREATE TABLE IF NOT EXISTS edges (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relation TEXT NOT NULL CHECK(relation IN ('supports','refutes','neutral','cites')),
			nli_label TEXT NOT NULL DEFAULT '',
			nli_confidence REAL NOT NULL DEFAULT 0,
			source_domain_category TEXT NOT NULL DEFAULT '',
			target_domain_category TEXT NOT NULL DEFAULT '',
			citation_source TEXT,
			edge_human_corrected INTEGER NOT NULL DEFAULT 0,
			edge_correction_reason TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_src_tgt_rel ON edges(source_id, target_id, relation)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_domain_categories ON edges(source_domain_category, target_domain_category)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			target_type TEXT NOT NULL CHECK(target_type IN ('fragment','claim')),
			target_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			blob BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			PRIMARY KEY (target_type, target_id, model_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_target ON embeddings(target_type, target_id)`,
		`CREATE TABLE IF NOT EXISTS nli_corrections (
			id TEXT PRIMARY KEY,
			edge_id TEXT NOT NULL REFERENCES edges(id),
			premise TEXT NOT NULL,
			hypothesis TEXT NOT NULL,
			predicted_label TEXT NOT NULL,
			predicted_confidence REAL NOT NULL,
			correct_label TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			corrected_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS domain_override_rules (
			id TEXT PRIMARY KEY,
			domain_pattern TEXT NOT NULL,
			decision TEXT NOT NULL CHECK(decision IN ('block','unblock')),
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS domain_override_events (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL REFERENCES domain_override_rules(id),
			event TEXT NOT NULL CHECK(event IN ('create','clear')),
			at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS domain_state (
			domain TEXT PRIMARY KEY,
			category TEXT NOT NULL DEFAULT 'unverified',
			security_rejected_claims INTEGER NOT NULL DEFAULT 0,
			manual_rejected_claims INTEGER NOT NULL DEFAULT 0,
			total_claims INTEGER NOT NULL DEFAULT 0,
			dangerous_pattern INTEGER NOT NULL DEFAULT 0,
			blocked_at TEXT,
			domain_block_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS intervention_items (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			url TEXT NOT NULL,
			intervention_type TEXT NOT NULL CHECK(intervention_type IN ('captcha','login','domain_blocked')),
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','in_progress','solved','skipped','expired')),
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			resolved_at TEXT,
			session_data TEXT NOT NULL DEFAULT '{}',
			diagnostic TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_intervention_pending ON intervention_items(task_id, domain, intervention_type) WHERE status = 'pending'`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('serp','fetch','extract','embed','rank','llm_extract','nli','compose')),
			priority INTEGER NOT NULL,
			input_json TEXT NOT NULL DEFAULT '{}',
			state TEXT NOT NULL DEFAULT 'queued' CHECK(state IN ('queued','running','awaiting_auth','done','failed','cancelled')),
			enqueued_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			started_at TEXT,
			output_json TEXT NOT NULL DEFAULT '{}',
			cause_id TEXT,
			parent_id TEXT,
			task_id TEXT,
			domain TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_state_priority ON jobs(state, priority DESC, enqueued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_domain ON jobs(domain)`,
	}
	for _, stmt := range schema {
		if _, err := db.writer.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}

	current := db.SchemaVersion()
	versioned := []struct {
		version int
		fn      func() error
	}{
		{1, db.migrateV1Vec},
	}
	for _, m := range versioned {
		if current < m.version {
			if err := m.fn(); err != nil {
				return fmt.Errorf("migration v%d: %w", m.version, err)
			}
			if err := db.SetMeta("schema_version", strconv.Itoa(m.version)); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
		}
	}
	return nil
}

// migrateV1Vec creates the sqlite-vec virtual table used by the vector
// store (C14). Kept as a version-gated migration so vector-store schema
// changes are tracked the same way as relational schema changes.
func (db *DB) migrateV1Vec() error {
	return createVecTable(db.writer)
}

// SchemaVersion returns the current schema version (0 if unset).
func (db *DB) SchemaVersion() int {
	v, ok := db.GetMeta("schema_version")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (db *DB) GetMeta(key string) (string, bool) {
	var value string
	err := db.writer.QueryRow(`SELECT value FROM schema_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (db *DB) SetMeta(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// hasColumn reports whether table currently has column; used by future
// column-adding migrations to check before altering.
func hasColumn(conn *sql.DB, table, column string) bool {
	rows, err := conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notNull, primaryK int
		var name, colType string
		var defaultV sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryK); err != nil {
			continue
		}
		if strings.EqualFold(name, column) {
			return true
		}
	}
	return false
}
