package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

func backupFixture(t *testing.T, vectorDir string) (*BackupCoordinator, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		BackupRoot:             filepath.Join(dir, "backups"),
		BackupCompress:         true,
		RetentionDaysDaily:     7,
		RetentionDaysWeekly:    28,
		RetentionDaysIncrement: 2,
		BackupHistoryLimit:     100,
	}
	st, err := store.Open(filepath.Join(dir, "papers.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c, err := NewBackupCoordinator(cfg, st, vectorDir, testMetrics(t))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c, st
}

func TestBackupRelationalProducesVerifiableArtifact(t *testing.T) {
	c, st := backupFixture(t, "")
	if err := st.CreatePaper(&models.Paper{DocID: "p1", Filename: "p1.pdf", StoredPath: "/tmp/p1.pdf"}); err != nil {
		t.Fatalf("create paper: %v", err)
	}

	rec := c.BackupRelational(models.BackupFull, false, 7, "test backup")
	if rec.Status != models.BackupCompleted {
		t.Fatalf("backup failed: %s", rec.Error)
	}
	if !strings.Contains(rec.Path, filepath.Join("sqlite", "daily")) {
		t.Fatalf("backup landed in %s, want sqlite/daily", rec.Path)
	}
	if !strings.HasSuffix(rec.Path, ".gz") {
		t.Fatalf("compressed backup should end in .gz: %s", rec.Path)
	}

	sum, err := utils.SHA256File(rec.Path)
	if err != nil {
		t.Fatalf("hash backup: %v", err)
	}
	if sum != rec.ChecksumSHA256 {
		t.Fatalf("recorded checksum %s != file checksum %s", rec.ChecksumSHA256, sum)
	}
	if err := c.Verify(rec.BackupID); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestBackupVerifyDetectsCorruption(t *testing.T) {
	c, _ := backupFixture(t, "")
	rec := c.BackupRelational(models.BackupFull, false, 7, "")
	if rec.Status != models.BackupCompleted {
		t.Fatalf("backup failed: %s", rec.Error)
	}

	if err := os.WriteFile(rec.Path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("overwrite backup: %v", err)
	}
	if err := c.Verify(rec.BackupID); err == nil {
		t.Fatal("verify should fail on a tampered backup file")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	c, st := backupFixture(t, "")
	if err := st.CreatePaper(&models.Paper{DocID: "p1", Filename: "p1.pdf", StoredPath: "/tmp/p1.pdf"}); err != nil {
		t.Fatalf("create paper: %v", err)
	}

	rec := c.BackupRelational(models.BackupFull, false, 7, "before p2")
	if rec.Status != models.BackupCompleted {
		t.Fatalf("backup failed: %s", rec.Error)
	}

	if err := st.CreatePaper(&models.Paper{DocID: "p2", Filename: "p2.pdf", StoredPath: "/tmp/p2.pdf"}); err != nil {
		t.Fatalf("create paper: %v", err)
	}
	if n, _ := st.CountPapers(); n != 2 {
		t.Fatalf("paper count before restore = %d, want 2", n)
	}

	if err := c.Restore(rec.BackupID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n, _ := st.CountPapers(); n != 1 {
		t.Fatalf("paper count after restore = %d, want 1", n)
	}

	// The restore must have taken a safety snapshot first.
	foundSafety := false
	for _, h := range c.History(100) {
		if strings.HasPrefix(h.Description, "Safety backup before restore of ") {
			foundSafety = true
			if h.Kind != models.BackupSnapshot {
				t.Fatalf("safety backup kind = %s, want %s", h.Kind, models.BackupSnapshot)
			}
		}
	}
	if !foundSafety {
		t.Fatal("no safety snapshot recorded for the restore")
	}
}

func TestBackupVectorArchivesDirectory(t *testing.T) {
	vectorDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(vectorDir, "doc1.json"), []byte(`{"vector":[1,2]}`), 0o644); err != nil {
		t.Fatalf("seed vector dir: %v", err)
	}
	c, _ := backupFixture(t, vectorDir)

	rec := c.BackupVector(models.BackupFull, false, 7, "")
	if rec.Status != models.BackupCompleted {
		t.Fatalf("vector backup failed: %s", rec.Error)
	}
	if !strings.Contains(rec.Path, "chromadb") {
		t.Fatalf("vector backup landed in %s, want chromadb subtree", rec.Path)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if err := c.Verify(rec.BackupID); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestBackupVectorWithoutLocalDirFails(t *testing.T) {
	c, _ := backupFixture(t, "")
	rec := c.BackupVector(models.BackupFull, false, 7, "")
	if rec.Status != models.BackupFailed {
		t.Fatal("vector backup without a local directory must record a failure")
	}
	if rec.Error == "" {
		t.Fatal("failed record should explain why")
	}
}

func TestRetentionSweepDeletesExpired(t *testing.T) {
	c, _ := backupFixture(t, "")
	rec := c.BackupRelational(models.BackupIncremental, false, -1, "already expired")
	if rec.Status != models.BackupCompleted {
		t.Fatalf("backup failed: %s", rec.Error)
	}

	if deleted := c.RetentionSweep(); deleted != 1 {
		t.Fatalf("sweep deleted %d, want 1", deleted)
	}
	if _, err := os.Stat(rec.Path); !os.IsNotExist(err) {
		t.Fatal("expired backup file should be gone")
	}
	if err := c.Verify(rec.BackupID); err == nil {
		t.Fatal("swept backup must drop out of history")
	}
}

func TestUnifiedBackupReportsBothScopes(t *testing.T) {
	vectorDir := t.TempDir()
	os.WriteFile(filepath.Join(vectorDir, "doc1.json"), []byte("{}"), 0o644)
	c, _ := backupFixture(t, vectorDir)

	result := c.RunUnified(models.BackupSnapshot, false, 7, "manual")
	if !result.Success {
		t.Fatalf("unified backup failed: relational=%+v vector=%+v", result.Relational, result.Vector)
	}
	if result.Relational == nil || result.Vector == nil {
		t.Fatal("unified result must carry both component records")
	}
}
