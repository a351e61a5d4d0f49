package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

const backupArchiveVersion = "1"

// BackupCoordinator produces, verifies, retains and restores snapshots of
// the relational store and the vector store directory. A single mutex
// serializes every operation so backups never overlap each other or a
// restore.
type BackupCoordinator struct {
	mu        sync.Mutex
	cfg       *config.Config
	store     *store.Store
	vectorDir string // empty when the vector backend manages its own snapshots
	metrics   *telemetry.Metrics

	history []models.BackupRecord
}

func NewBackupCoordinator(cfg *config.Config, st *store.Store, vectorDir string, metrics *telemetry.Metrics) (*BackupCoordinator, error) {
	c := &BackupCoordinator{cfg: cfg, store: st, vectorDir: vectorDir, metrics: metrics}

	for _, sub := range []string{
		"sqlite/daily", "sqlite/weekly", "sqlite/snapshots", "sqlite/incremental",
		"chromadb/daily", "chromadb/weekly", "chromadb/snapshots", "chromadb/incremental",
		"metadata",
	} {
		if err := os.MkdirAll(filepath.Join(cfg.BackupRoot, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create backup dir %s: %w", sub, err)
		}
	}
	if err := c.loadHistory(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *BackupCoordinator) historyPath() string {
	return filepath.Join(c.cfg.BackupRoot, "metadata", "backup_history.json")
}

func (c *BackupCoordinator) loadHistory() error {
	data, err := os.ReadFile(c.historyPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read backup history: %w", err)
	}
	if err := json.Unmarshal(data, &c.history); err != nil {
		return fmt.Errorf("failed to parse backup history: %w", err)
	}
	return nil
}

// saveHistory persists the record list, capped to the configured limit.
// Caller holds the lock.
func (c *BackupCoordinator) saveHistory() {
	if limit := c.cfg.BackupHistoryLimit; limit > 0 && len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}
	data, err := json.MarshalIndent(c.history, "", "  ")
	if err != nil {
		logger.Error("Failed to marshal backup history", "error", err)
		return
	}
	tmp := c.historyPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.Error("Failed to write backup history", "error", err)
		return
	}
	if err := os.Rename(tmp, c.historyPath()); err != nil {
		logger.Error("Failed to replace backup history", "error", err)
	}
}

// appendRecord stores the record in history. Failed records are kept too;
// they are part of the audit trail. Caller holds the lock.
func (c *BackupCoordinator) appendRecord(rec *models.BackupRecord) {
	c.history = append(c.history, *rec)
	c.saveHistory()
	if c.metrics != nil {
		c.metrics.RecordBackup(rec.Scope, time.Since(rec.Timestamp).Seconds(), rec.Status == models.BackupCompleted)
	}
}

// subdirFor maps kind and retention class onto the on-disk layout.
func subdirFor(kind string, weekly bool) string {
	switch {
	case kind == models.BackupIncremental:
		return "incremental"
	case kind == models.BackupSnapshot:
		return "snapshots"
	case weekly:
		return "weekly"
	default:
		return "daily"
	}
}

// BackupRelational snapshots the database with VACUUM INTO, optionally
// compresses, verifies integrity and records the result.
func (c *BackupCoordinator) BackupRelational(kind string, weekly bool, retentionDays int, description string) *models.BackupRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.backupRelationalLocked(kind, weekly, retentionDays, description)
	c.appendRecord(rec)
	return rec
}

func (c *BackupCoordinator) backupRelationalLocked(kind string, weekly bool, retentionDays int, description string) *models.BackupRecord {
	now := time.Now().UTC()
	rec := &models.BackupRecord{
		BackupID:      uuid.NewString(),
		Kind:          kind,
		Scope:         models.ScopeRelational,
		Compressed:    c.cfg.BackupCompress,
		RetentionDays: retentionDays,
		ExpireAt:      now.AddDate(0, 0, retentionDays),
		Description:   description,
		Timestamp:     now,
	}

	name := fmt.Sprintf("papers_%s_%s.db", kind, now.Format("20060102_150405"))
	dst := filepath.Join(c.cfg.BackupRoot, "sqlite", subdirFor(kind, weekly), name)

	fail := func(op string, err error) *models.BackupRecord {
		berr := &models.BackupError{Operation: op, Cause: err}
		logger.Error("Relational backup failed", "backup_id", rec.BackupID, "error", berr)
		rec.Status = models.BackupFailed
		rec.Error = berr.Error()
		return rec
	}

	if err := c.store.BackupTo(dst); err != nil {
		return fail("snapshot", err)
	}

	if c.cfg.BackupCompress {
		if _, err := utils.GzipFile(dst, dst+".gz"); err != nil {
			os.Remove(dst)
			return fail("compress", err)
		}
		os.Remove(dst)
		dst += ".gz"
	}
	rec.Path = dst

	if stat, err := os.Stat(dst); err == nil {
		rec.Size = stat.Size()
	}

	sum, err := utils.SHA256File(dst)
	if err != nil {
		return fail("checksum", err)
	}
	rec.ChecksumSHA256 = sum

	if err := c.verifyRelationalFile(dst, rec.Compressed); err != nil {
		return fail("verify", err)
	}

	rec.Status = models.BackupCompleted
	logger.Info("Relational backup completed", "backup_id", rec.BackupID, "path", dst, "size", rec.Size)
	return rec
}

// verifyRelationalFile runs the engine integrity check against the backup,
// gunzipping to a scratch file first when needed.
func (c *BackupCoordinator) verifyRelationalFile(path string, compressed bool) error {
	target := path
	if compressed {
		tmp, err := os.CreateTemp("", "backup-verify-*.db")
		if err != nil {
			return err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := utils.GunzipFile(path, tmp.Name()); err != nil {
			return err
		}
		target = tmp.Name()
	}
	return store.IntegrityCheck(target)
}

// BackupVector archives the vector-store directory as a tar with a
// backup_metadata.json at its root.
func (c *BackupCoordinator) BackupVector(kind string, weekly bool, retentionDays int, description string) *models.BackupRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.backupVectorLocked(kind, weekly, retentionDays, description)
	c.appendRecord(rec)
	return rec
}

func (c *BackupCoordinator) backupVectorLocked(kind string, weekly bool, retentionDays int, description string) *models.BackupRecord {
	now := time.Now().UTC()
	rec := &models.BackupRecord{
		BackupID:      uuid.NewString(),
		Kind:          kind,
		Scope:         models.ScopeVector,
		Compressed:    c.cfg.BackupCompress,
		RetentionDays: retentionDays,
		ExpireAt:      now.AddDate(0, 0, retentionDays),
		Description:   description,
		Timestamp:     now,
	}

	fail := func(op string, err error) *models.BackupRecord {
		berr := &models.BackupError{Operation: op, Cause: err}
		logger.Error("Vector backup failed", "backup_id", rec.BackupID, "error", berr)
		rec.Status = models.BackupFailed
		rec.Error = berr.Error()
		return rec
	}

	if c.vectorDir == "" {
		return fail("archive", fmt.Errorf("vector store backend has no local directory; use its native snapshot facility"))
	}

	ext := ".tar"
	if c.cfg.BackupCompress {
		ext = ".tar.gz"
	}
	name := fmt.Sprintf("vectors_%s_%s%s", kind, now.Format("20060102_150405"), ext)
	dst := filepath.Join(c.cfg.BackupRoot, "chromadb", subdirFor(kind, weekly), name)

	meta := models.ArchiveMetadata{
		BackupID:  rec.BackupID,
		Timestamp: now,
		Type:      kind,
		SourceDir: c.vectorDir,
		Version:   backupArchiveVersion,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fail("metadata", err)
	}

	size, err := utils.TarDir(c.vectorDir, dst, c.cfg.BackupCompress, map[string][]byte{
		"backup_metadata.json": metaJSON,
	})
	if err != nil {
		os.Remove(dst)
		return fail("archive", err)
	}
	rec.Path = dst
	rec.Size = size

	sum, err := utils.SHA256File(dst)
	if err != nil {
		return fail("checksum", err)
	}
	rec.ChecksumSHA256 = sum

	rec.Status = models.BackupCompleted
	logger.Info("Vector backup completed", "backup_id", rec.BackupID, "path", dst, "size", size)
	return rec
}

// RunUnified takes a coordinated relational + vector snapshot under the
// global lock.
func (c *BackupCoordinator) RunUnified(kind string, weekly bool, retentionDays int, description string) *models.UnifiedBackupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &models.UnifiedBackupResult{
		BackupID:  uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	desc := description
	if desc == "" {
		desc = fmt.Sprintf("unified %s backup", kind)
	}

	result.Relational = c.backupRelationalLocked(kind, weekly, retentionDays, desc)
	c.appendRecord(result.Relational)
	result.Vector = c.backupVectorLocked(kind, weekly, retentionDays, desc)
	c.appendRecord(result.Vector)

	result.FinishedAt = time.Now().UTC()
	result.Success = result.Relational.Status == models.BackupCompleted &&
		result.Vector.Status == models.BackupCompleted
	return result
}

// RunIncremental substitutes a snapshot for a true incremental backup.
// TODO: replace with a WAL-shipping scheme once the relational engine's WAL
// files are retained long enough to replay between snapshots.
func (c *BackupCoordinator) RunIncremental() *models.BackupRecord {
	return c.BackupRelational(models.BackupIncremental, false, c.cfg.RetentionDaysIncrement, "hourly incremental (snapshot)")
}

// Verify re-hashes the backup file and, for relational backups, reruns the
// integrity check.
func (c *BackupCoordinator) Verify(backupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.findLocked(backupID)
	if rec == nil {
		return models.ErrNotFound
	}
	if rec.Status != models.BackupCompleted {
		return fmt.Errorf("backup %s has status %s", backupID, rec.Status)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		return fmt.Errorf("backup file missing: %w", err)
	}

	sum, err := utils.SHA256File(rec.Path)
	if err != nil {
		return err
	}
	if sum != rec.ChecksumSHA256 {
		return fmt.Errorf("checksum mismatch: recorded %s, file %s", rec.ChecksumSHA256, sum)
	}
	if rec.Scope == models.ScopeRelational {
		return c.verifyRelationalFile(rec.Path, rec.Compressed)
	}
	return nil
}

// RetentionSweep deletes expired completed backups and prunes history.
func (c *BackupCoordinator) RetentionSweep() (deleted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	kept := c.history[:0]
	for _, rec := range c.history {
		if rec.Status == models.BackupCompleted && rec.ExpireAt.Before(now) {
			if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to delete expired backup", "backup_id", rec.BackupID, "error", err)
				kept = append(kept, rec)
				continue
			}
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	c.history = kept
	c.saveHistory()
	logger.Info("Backup retention sweep finished", "deleted", deleted)
	return deleted
}

// Restore replaces the live database with the relational backup backupID. A
// safety snapshot with short retention is taken first, so a bad restore is
// itself recoverable.
func (c *BackupCoordinator) Restore(backupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.findLocked(backupID)
	if rec == nil {
		return models.ErrNotFound
	}
	if rec.Scope != models.ScopeRelational {
		return fmt.Errorf("restore supports relational backups only, %s is %s", backupID, rec.Scope)
	}
	if rec.Status != models.BackupCompleted {
		return fmt.Errorf("backup %s has status %s", backupID, rec.Status)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		return fmt.Errorf("backup file missing: %w", err)
	}
	sum, err := utils.SHA256File(rec.Path)
	if err != nil {
		return err
	}
	if sum != rec.ChecksumSHA256 {
		return fmt.Errorf("refusing restore, checksum mismatch for %s", backupID)
	}

	safety := c.backupRelationalLocked(models.BackupSnapshot, false, c.cfg.RetentionDaysIncrement,
		fmt.Sprintf("Safety backup before restore of %s", backupID))
	c.appendRecord(safety)
	if safety.Status != models.BackupCompleted {
		return fmt.Errorf("aborting restore, safety snapshot failed: %s", safety.Error)
	}

	src := rec.Path
	if rec.Compressed {
		tmp, err := os.CreateTemp("", "restore-*.db")
		if err != nil {
			return err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := utils.GunzipFile(rec.Path, tmp.Name()); err != nil {
			return fmt.Errorf("failed to decompress backup: %w", err)
		}
		src = tmp.Name()
	}

	if err := c.store.Close(); err != nil {
		return fmt.Errorf("failed to close live database: %w", err)
	}
	// WAL sidecars of the old database must not shadow the restored file
	os.Remove(c.store.Path() + "-wal")
	os.Remove(c.store.Path() + "-shm")
	if err := utils.CopyFileAtomic(src, c.store.Path()); err != nil {
		return fmt.Errorf("failed to copy backup into place: %w", err)
	}
	if err := c.store.Reopen(); err != nil {
		return err
	}

	logger.Info("Database restored", "backup_id", backupID, "safety_backup_id", safety.BackupID)
	return nil
}

// HealthCheck verifies the most recent completed backup of each scope.
func (c *BackupCoordinator) HealthCheck() map[string]string {
	c.mu.Lock()
	latest := make(map[string]models.BackupRecord)
	for _, rec := range c.history {
		if rec.Status != models.BackupCompleted {
			continue
		}
		if cur, ok := latest[rec.Scope]; !ok || rec.Timestamp.After(cur.Timestamp) {
			latest[rec.Scope] = rec
		}
	}
	c.mu.Unlock()

	out := make(map[string]string)
	for scope, rec := range latest {
		if err := c.Verify(rec.BackupID); err != nil {
			out[scope] = fmt.Sprintf("unhealthy: %v", err)
		} else {
			out[scope] = "healthy"
		}
	}
	if len(out) == 0 {
		out["status"] = "no completed backups"
	}
	return out
}

// History returns recorded backups, newest first.
func (c *BackupCoordinator) History(limit int) []models.BackupRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.BackupRecord, 0, limit)
	for i := len(c.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.history[i])
	}
	return out
}

// Status summarizes the history for the admin surface.
func (c *BackupCoordinator) Status() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	var completed, failed int
	var totalSize int64
	var last *models.BackupRecord
	for i := range c.history {
		rec := &c.history[i]
		switch rec.Status {
		case models.BackupCompleted:
			completed++
			totalSize += rec.Size
		case models.BackupFailed:
			failed++
		}
		if last == nil || rec.Timestamp.After(last.Timestamp) {
			last = rec
		}
	}

	status := map[string]interface{}{
		"records":          len(c.history),
		"completed":        completed,
		"failed":           failed,
		"total_size_bytes": totalSize,
	}
	if last != nil {
		status["last_backup"] = *last
	}
	return status
}

func (c *BackupCoordinator) findLocked(backupID string) *models.BackupRecord {
	for i := range c.history {
		if c.history[i].BackupID == backupID {
			return &c.history[i]
		}
	}
	return nil
}
