package services

import (
	"context"
	"path/filepath"
	"testing"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

func consistencyFixture(t *testing.T) (*ConsistencyChecker, *store.Store, *vector.LocalStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	vs, err := vector.NewLocalStore(filepath.Join(dir, "vectors"))
	if err != nil {
		t.Fatalf("open vector store: %v", err)
	}
	cfg := &config.Config{ConsistencyAutofixLevel: models.SeverityMedium}
	return NewConsistencyChecker(cfg, st, vs), st, vs
}

func addConsistentPaper(t *testing.T, st *store.Store, vs *vector.LocalStore, docID string) {
	t.Helper()
	if err := st.CreatePaper(&models.Paper{DocID: docID, Filename: docID + ".pdf", StoredPath: "/tmp/" + docID}); err != nil {
		t.Fatalf("create paper: %v", err)
	}
	vec := []float32{1, 2, 3}
	if err := vs.Upsert(context.Background(), docID, vec, nil); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}
	digest := utils.SHA256Bytes(vector.EncodeFloat32LE(vec))
	if err := st.SetContentID(docID, digest); err != nil {
		t.Fatalf("set content id: %v", err)
	}
}

func TestCheckCleanStore(t *testing.T) {
	checker, st, vs := consistencyFixture(t)
	addConsistentPaper(t, st, vs, "p1")

	report, err := checker.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.TotalIssues != 0 {
		t.Fatalf("clean store reported %d issues: %+v", report.TotalIssues, report.Issues)
	}
	if report.PaperCount != 1 || report.VectorCount != 1 {
		t.Fatalf("counts = (%d, %d), want (1, 1)", report.PaperCount, report.VectorCount)
	}
}

func TestCheckFindsMissingVector(t *testing.T) {
	checker, st, _ := consistencyFixture(t)
	if err := st.CreatePaper(&models.Paper{DocID: "lonely", Filename: "l.pdf", StoredPath: "/tmp/l"}); err != nil {
		t.Fatalf("create paper: %v", err)
	}

	report, err := checker.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	var found *models.ConsistencyIssue
	for i := range report.Issues {
		if report.Issues[i].Kind == models.IssueMissingVector {
			found = &report.Issues[i]
		}
	}
	if found == nil {
		t.Fatal("missing_vector issue not reported")
	}
	if found.Severity != models.SeverityHigh {
		t.Fatalf("severity = %s, want %s", found.Severity, models.SeverityHigh)
	}
	if found.Fixable {
		t.Fatal("missing vectors must not be auto-fixable, re-embedding is the pipeline's job")
	}
}

func TestFixDeletesOrphanHashes(t *testing.T) {
	checker, st, vs := consistencyFixture(t)
	addConsistentPaper(t, st, vs, "p1")

	// Two orphan rows across two hash tables
	if err := st.InsertFileHash(&models.FileHash{FileMD5: "m1", DocID: "ghost", OriginalFilename: "g.pdf"}); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	if err := st.InsertContentHash(&models.ContentHash{ContentDigest: "c1", DocID: "ghost"}); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}

	result, err := checker.Fix(context.Background())
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if result.FixedCount != 2 {
		t.Fatalf("fixed = %d, want 2 (one per orphan row)", result.FixedCount)
	}

	report, err := checker.Check(context.Background())
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	for _, issue := range report.Issues {
		if issue.Kind == models.IssueOrphanHash {
			t.Fatal("orphan hash issue should be gone after fix")
		}
	}
}

func TestFixRecomputesDriftedContentID(t *testing.T) {
	checker, st, vs := consistencyFixture(t)
	addConsistentPaper(t, st, vs, "p1")
	if err := st.SetContentID("p1", "stale-digest"); err != nil {
		t.Fatalf("set stale content id: %v", err)
	}

	report, err := checker.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	drift := false
	for _, issue := range report.Issues {
		if issue.Kind == models.IssueContentIDDrift && issue.DocID == "p1" {
			drift = true
		}
	}
	if !drift {
		t.Fatal("content_id drift not detected")
	}

	if _, err := checker.Fix(context.Background()); err != nil {
		t.Fatalf("fix: %v", err)
	}
	paper, err := st.GetPaper("p1")
	if err != nil {
		t.Fatalf("get paper: %v", err)
	}
	vec, _ := vs.Get(context.Background(), "p1")
	want := utils.SHA256Bytes(vector.EncodeFloat32LE(vec))
	if paper.ContentID != want {
		t.Fatalf("content_id = %s, want recomputed %s", paper.ContentID, want)
	}
}

func TestIdentityRiskIsCriticalAndNeverAutoFixed(t *testing.T) {
	checker, st, vs := consistencyFixture(t)

	// p2 is consistent. p1's vector was silently replaced with p2's, so
	// recomputing p1's digest would hand it p2's identity.
	addConsistentPaper(t, st, vs, "p2")
	if err := st.CreatePaper(&models.Paper{DocID: "p1", Filename: "p1.pdf", StoredPath: "/tmp/p1"}); err != nil {
		t.Fatalf("create paper: %v", err)
	}
	if err := vs.Upsert(context.Background(), "p1", []float32{1, 2, 3}, nil); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}
	if err := st.SetContentID("p1", "original-p1-digest"); err != nil {
		t.Fatalf("set content id: %v", err)
	}

	report, err := checker.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var risk *models.ConsistencyIssue
	for i := range report.Issues {
		if report.Issues[i].Kind == models.IssueIdentityRisk {
			risk = &report.Issues[i]
		}
	}
	if risk == nil {
		t.Fatalf("identity risk not detected: %+v", report.Issues)
	}
	if risk.Severity != models.SeverityCritical {
		t.Fatalf("severity = %s, want %s", risk.Severity, models.SeverityCritical)
	}

	if _, err := checker.Fix(context.Background()); err != nil {
		t.Fatalf("fix: %v", err)
	}
	paper, err := st.GetPaper("p1")
	if err != nil {
		t.Fatalf("get paper: %v", err)
	}
	if paper.ContentID != "original-p1-digest" {
		t.Fatal("auto-fix must not rewrite a content id that collides with another paper")
	}
}
