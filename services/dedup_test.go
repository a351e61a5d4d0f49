package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/models"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	// Deterministic vector derived from the text so identical samples hash
	// identically.
	vec := make([]float32, 4)
	for i, b := range []byte(text) {
		vec[i%4] += float32(b)
	}
	return vec, nil
}
func (fakeEmbedder) ModelName() string { return "fake-embedder" }
func (fakeEmbedder) Dimensions() int   { return 4 }

func newTestDetector(t *testing.T) (*DuplicateDetector, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}
	return NewDuplicateDetector(st, NewPDFInspector(), fakeEmbedder{}, metrics), st
}

func writePDFBytes(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestExactDuplicateCaughtByFileHash(t *testing.T) {
	detector, _ := newTestDetector(t)
	dir := t.TempDir()
	content := []byte("%PDF-1.4\nsome unique document body\n%%EOF\n")

	original := writePDFBytes(t, dir, "original.pdf", content)
	detector.Record(original, "original.pdf", "doc-1", nil)

	// Same bytes under a different name must hit layer 0.
	copyPath := writePDFBytes(t, dir, "copy.pdf", content)
	outcome, _, err := detector.Check(context.Background(), copyPath, "copy.pdf")
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	if !outcome.IsDuplicate {
		t.Fatal("byte-identical file should be a duplicate")
	}
	if outcome.Layer != models.LayerFileHash {
		t.Fatalf("layer = %s, want %s", outcome.Layer, models.LayerFileHash)
	}
	if outcome.MatchedDoc != "doc-1" {
		t.Fatalf("matched doc = %s, want doc-1", outcome.MatchedDoc)
	}
}

func TestCheckMissOnNewContent(t *testing.T) {
	detector, st := newTestDetector(t)
	dir := t.TempDir()

	path := writePDFBytes(t, dir, "new.pdf", []byte("%PDF-1.4\nnever seen before\n%%EOF\n"))
	outcome, _, err := detector.Check(context.Background(), path, "new.pdf")
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	if outcome.IsDuplicate {
		t.Fatal("unseen content reported as duplicate")
	}

	// Every cascade run leaves a detection log row, misses included.
	logs, err := st.ListRecentDetections(10)
	if err != nil {
		t.Fatalf("list detections: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("detection log rows = %d, want 1", len(logs))
	}
	if logs[0].Result != models.DetectionNoDuplicate {
		t.Fatalf("log result = %s, want %s", logs[0].Result, models.DetectionNoDuplicate)
	}
}

func TestRecordReportsPerLayerSuccess(t *testing.T) {
	detector, st := newTestDetector(t)
	dir := t.TempDir()

	// Not a parseable PDF: the content-hash layer cannot be recorded but
	// the file hash still must be.
	path := writePDFBytes(t, dir, "junk.pdf", []byte("%PDF-1.4\njunk\n%%EOF\n"))
	sample := &SampleArtifacts{Text: "sample", Vector: []float32{1, 2, 3, 4}, Digest: "digest-1"}

	results := detector.Record(path, "junk.pdf", "doc-9", sample)
	if !results[models.LayerFileHash] {
		t.Fatal("file hash layer should record")
	}
	if results[models.LayerContentHash] {
		t.Fatal("content hash layer cannot record for an unparseable PDF")
	}
	if !results[models.LayerSampleEmbedding] {
		t.Fatal("sample embedding layer should record from provided artifacts")
	}

	if _, hit, err := st.LookupSampleEmbeddingHash("digest-1", models.StrategyFirstLastMiddle); err != nil || !hit {
		t.Fatalf("sample hash row missing (hit=%v, err=%v)", hit, err)
	}
}

func TestCleanupOrphansIsIdempotent(t *testing.T) {
	detector, st := newTestDetector(t)

	if err := st.CreatePaper(&models.Paper{DocID: "kept", Filename: "kept.pdf", StoredPath: "/tmp/kept.pdf"}); err != nil {
		t.Fatalf("create paper: %v", err)
	}
	if err := st.InsertFileHash(&models.FileHash{FileMD5: "md5-kept", DocID: "kept", OriginalFilename: "kept.pdf"}); err != nil {
		t.Fatalf("insert kept hash: %v", err)
	}
	if err := st.InsertFileHash(&models.FileHash{FileMD5: "md5-ghost", DocID: "ghost", OriginalFilename: "ghost.pdf"}); err != nil {
		t.Fatalf("insert orphan hash: %v", err)
	}
	if err := st.InsertContentHash(&models.ContentHash{ContentDigest: "cd-ghost", DocID: "ghost"}); err != nil {
		t.Fatalf("insert orphan content hash: %v", err)
	}

	n, err := detector.CleanupOrphans()
	if err != nil {
		t.Fatalf("cleanup error: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d, want 2", n)
	}

	// Second sweep finds nothing; the kept row survives.
	n, err = detector.CleanupOrphans()
	if err != nil {
		t.Fatalf("cleanup error: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep deleted = %d, want 0", n)
	}
	if _, hit, _ := st.LookupFileHash("md5-kept"); !hit {
		t.Fatal("hash row with a live paper must survive cleanup")
	}
}

func TestEstimateTimeSavedNeverNegative(t *testing.T) {
	if got := estimateTimeSaved(10<<20, 0); got <= 0 {
		t.Fatalf("time saved = %f, want > 0", got)
	}
	// An extremely slow detection cannot claim negative savings.
	if got := estimateTimeSaved(0, 1<<40); got != 0 {
		t.Fatalf("time saved = %f, want 0", got)
	}
}
