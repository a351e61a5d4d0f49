// Package store owns the relational half of the corpus: papers, page
// embeddings, bibliographic metadata, layout summaries, duplicate-detection
// hashes and logs, and job records, all in one SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS papers (
	doc_id                 TEXT PRIMARY KEY,
	filename               TEXT NOT NULL,
	stored_path            TEXT NOT NULL,
	extracted_text         TEXT NOT NULL DEFAULT '',
	ocr_quality_label      TEXT NOT NULL DEFAULT 'unknown',
	content_id             TEXT,
	ocr_quality_completed  INTEGER NOT NULL DEFAULT 0,
	layout_completed       INTEGER NOT NULL DEFAULT 0,
	metadata_llm_completed INTEGER NOT NULL DEFAULT 0,
	page_count             INTEGER NOT NULL DEFAULT 0,
	language               TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL,
	processed_at           TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_papers_content_id ON papers(content_id);

CREATE TABLE IF NOT EXISTS page_embeddings (
	doc_id      TEXT NOT NULL REFERENCES papers(doc_id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	page_text   TEXT NOT NULL,
	vector      BLOB NOT NULL,
	PRIMARY KEY (doc_id, page_number)
);

CREATE TABLE IF NOT EXISTS paper_metadata (
	doc_id            TEXT PRIMARY KEY REFERENCES papers(doc_id) ON DELETE CASCADE,
	title             TEXT NOT NULL DEFAULT '',
	authors           TEXT NOT NULL DEFAULT '[]',
	journal           TEXT NOT NULL DEFAULT '',
	year              INTEGER NOT NULL DEFAULT 0,
	doi               TEXT NOT NULL DEFAULT '',
	abstract          TEXT NOT NULL DEFAULT '',
	keywords          TEXT NOT NULL DEFAULT '[]',
	extraction_method TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS layout_analyses (
	doc_id         TEXT PRIMARY KEY REFERENCES papers(doc_id) ON DELETE CASCADE,
	page_count     INTEGER NOT NULL,
	total_elements INTEGER NOT NULL,
	element_types  TEXT NOT NULL DEFAULT '{}',
	pages          BLOB
);

CREATE TABLE IF NOT EXISTS file_hashes (
	file_md5          TEXT PRIMARY KEY,
	file_size         INTEGER NOT NULL,
	original_filename TEXT NOT NULL,
	doc_id            TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_hashes_doc ON file_hashes(doc_id);

CREATE TABLE IF NOT EXISTS content_hashes (
	content_digest         TEXT PRIMARY KEY,
	pdf_title              TEXT NOT NULL DEFAULT '',
	pdf_author             TEXT NOT NULL DEFAULT '',
	pdf_creator            TEXT NOT NULL DEFAULT '',
	first_three_pages_text TEXT NOT NULL DEFAULT '',
	page_count             INTEGER NOT NULL DEFAULT 0,
	doc_id                 TEXT NOT NULL,
	created_at             TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_hashes_doc ON content_hashes(doc_id);

CREATE TABLE IF NOT EXISTS sample_embedding_hashes (
	embedding_digest TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	sample_text      TEXT NOT NULL DEFAULT '',
	vector_bytes     BLOB,
	dimension        INTEGER NOT NULL DEFAULT 0,
	model_name       TEXT NOT NULL DEFAULT '',
	doc_id           TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (embedding_digest, strategy)
);
CREATE INDEX IF NOT EXISTS idx_sample_hashes_doc ON sample_embedding_hashes(doc_id);

CREATE TABLE IF NOT EXISTS detection_logs (
	detection_id          TEXT PRIMARY KEY,
	filename              TEXT NOT NULL,
	file_size             INTEGER NOT NULL,
	result                TEXT NOT NULL,
	layer                 TEXT NOT NULL,
	matched_doc_id        TEXT,
	total_time            REAL NOT NULL,
	file_hash_time        REAL,
	content_hash_time     REAL,
	sample_embedding_time REAL,
	estimated_time_saved  REAL NOT NULL DEFAULT 0,
	error_message         TEXT,
	created_at            TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detection_logs_created ON detection_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_detection_logs_matched ON detection_logs(matched_doc_id);

CREATE TABLE IF NOT EXISTS jobs (
	job_id           TEXT PRIMARY KEY,
	filename         TEXT NOT NULL,
	source_path      TEXT NOT NULL,
	status           TEXT NOT NULL,
	priority         INTEGER NOT NULL DEFAULT 2,
	current_step     TEXT NOT NULL DEFAULT '',
	progress_percent INTEGER NOT NULL DEFAULT 0,
	steps_completed  TEXT NOT NULL DEFAULT '[]',
	steps_failed     TEXT NOT NULL DEFAULT '[]',
	error_message    TEXT NOT NULL DEFAULT '',
	result_summary   BLOB,
	paper_id         TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	started_at       TIMESTAMP,
	completed_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Store wraps the SQLite database. database/sql serializes access; callers
// may use it from any goroutine.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Reopen closes and reopens the database handle. Used after a restore has
// replaced the file underneath us.
func (s *Store) Reopen() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}
	s.db = db
	return nil
}

// DB exposes the raw handle for composition-root wiring and tests.
func (s *Store) DB() *sql.DB { return s.db }

// BackupTo writes a consistent live snapshot of the database to dst using
// SQLite's VACUUM INTO. The destination must not already exist.
func (s *Store) BackupTo(dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("backup destination already exists: %s", dst)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("vacuum into failed: %w", err)
	}
	return nil
}

// IntegrityCheck opens the database file at path and runs SQLite's
// integrity check against it.
func IntegrityCheck(path string) error {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open for integrity check: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// TableCounts returns the row count of every user table.
func (s *Store) TableCounts() (map[string]int, error) {
	tables := []string{
		"papers", "page_embeddings", "paper_metadata", "layout_analyses",
		"file_hashes", "content_hashes", "sample_embedding_hashes",
		"detection_logs", "jobs",
	}
	counts := make(map[string]int, len(tables))
	for _, t := range tables {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}
