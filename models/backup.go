package models

import "time"

// Backup kinds
const (
	BackupFull        = "full"
	BackupIncremental = "incremental"
	BackupSnapshot    = "snapshot"
)

// Backup scopes
const (
	ScopeRelational = "relational"
	ScopeVector     = "vector"
	ScopeUnified    = "unified"
)

// Backup statuses
const (
	BackupCompleted = "completed"
	BackupFailed    = "failed"
)

// BackupRecord describes one produced backup artifact.
type BackupRecord struct {
	BackupID       string    `json:"backup_id"`
	Kind           string    `json:"kind"`
	Scope          string    `json:"scope"`
	Path           string    `json:"path"`
	Size           int64     `json:"size"`
	Compressed     bool      `json:"compressed"`
	ChecksumSHA256 string    `json:"checksum_sha256"`
	RetentionDays  int       `json:"retention_days"`
	ExpireAt       time.Time `json:"expire_at"`
	Status         string    `json:"status"`
	Description    string    `json:"description,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// UnifiedBackupResult carries the per-component outcomes of a coordinated
// relational + vector snapshot.
type UnifiedBackupResult struct {
	BackupID   string        `json:"backup_id"`
	Relational *BackupRecord `json:"relational,omitempty"`
	Vector     *BackupRecord `json:"vector,omitempty"`
	Success    bool          `json:"success"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ArchiveMetadata is written as backup_metadata.json at the top of vector
// store archives.
type ArchiveMetadata struct {
	BackupID  string    `json:"backup_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	SourceDir string    `json:"source_dir"`
	Version   string    `json:"version"`
}
