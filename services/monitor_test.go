package services

import (
	"testing"
	"time"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/models"
)

func newTestMonitor(t *testing.T) *PerformanceMonitor {
	t.Helper()
	cfg := &config.Config{
		SystemSampleInterval: time.Hour,
		SystemSampleRetain:   10,
		FileStorageDir:       t.TempDir(),
	}
	return NewPerformanceMonitor(cfg, func() int { return 0 })
}

func TestMonitorAggregatesJobStats(t *testing.T) {
	m := newTestMonitor(t)

	m.StartJob("j1", "good.pdf")
	m.RecordStep("j1", models.StepOCR, 2*time.Second, true)
	m.RecordStep("j1", models.StepEmbeddings, time.Second, true)
	m.FinishJob("j1", "completed", "")

	m.StartJob("j2", "bad.pdf")
	m.RecordStep("j2", models.StepOCR, time.Second, false)
	m.FinishJob("j2", "failed", "dial tcp: connection refused")

	stats := m.Stats()
	if stats.TotalJobs != 2 {
		t.Fatalf("total jobs = %d, want 2", stats.TotalJobs)
	}
	if stats.SuccessRate != 0.5 {
		t.Fatalf("success rate = %f, want 0.5", stats.SuccessRate)
	}
	if stats.StepSuccesses[models.StepOCR] != 1 || stats.StepFailures[models.StepOCR] != 1 {
		t.Fatalf("ocr step tallies = (%d, %d), want (1, 1)",
			stats.StepSuccesses[models.StepOCR], stats.StepFailures[models.StepOCR])
	}
	if stats.ErrorCategories["analyzer_unreachable"] != 1 {
		t.Fatalf("error categories = %v, want analyzer_unreachable once", stats.ErrorCategories)
	}
}

func TestMonitorJobsNewestFirst(t *testing.T) {
	m := newTestMonitor(t)
	m.StartJob("older", "a.pdf")
	m.StartJob("newer", "b.pdf")

	jobs := m.Jobs(10)
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].JobID != "newer" {
		t.Fatalf("first job = %s, want newer", jobs[0].JobID)
	}
}

func TestMonitorDuplicateOutcomeCountsAsSuccess(t *testing.T) {
	m := newTestMonitor(t)
	m.StartJob("dup", "twice.pdf")
	m.FinishJob("dup", "duplicate", "")

	stats := m.Stats()
	if stats.SuccessRate != 1 {
		t.Fatalf("success rate = %f, want 1 (duplicate is not a failure)", stats.SuccessRate)
	}
}

func TestMonitorTracksJobResources(t *testing.T) {
	m := newTestMonitor(t)

	m.StartJob("j1", "big.pdf")
	m.SetJobFile("j1", 4_194_304, 12)
	m.RecordStep("j1", models.StepOCR, time.Second, true)
	m.FinishJob("j1", "completed", "")

	jobs := m.Jobs(1)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	rec := jobs[0]
	if rec.FileSizeBytes != 4_194_304 {
		t.Fatalf("file size = %d, want 4194304", rec.FileSizeBytes)
	}
	if rec.PageCount != 12 {
		t.Fatalf("page count = %d, want 12", rec.PageCount)
	}
	// /proc figures degrade to zero off Linux; they must never go negative.
	if rec.PeakMemoryMB < 0 || rec.PeakCPUPercent < 0 {
		t.Fatalf("negative resource peaks: mem=%f cpu=%f", rec.PeakMemoryMB, rec.PeakCPUPercent)
	}
	if rec.BytesRead < 0 || rec.BytesWritten < 0 {
		t.Fatalf("negative io deltas: read=%d written=%d", rec.BytesRead, rec.BytesWritten)
	}

	// Later figures never shrink an earlier size or page count.
	m.StartJob("j2", "other.pdf")
	m.SetJobFile("j2", 100, 2)
	m.SetJobFile("j2", 0, 0)
	if got := m.Jobs(1)[0]; got.FileSizeBytes != 100 || got.PageCount != 2 {
		t.Fatalf("zero updates must not clear figures, got %+v", got)
	}

	stats := m.Stats()
	if stats.PeakMemoryMB < 0 || stats.TotalBytesRead < 0 {
		t.Fatalf("aggregate resource stats negative: %+v", stats)
	}
}

func TestCategorizeError(t *testing.T) {
	cases := map[string]string{
		"context deadline exceeded":    "timeout",
		"dial tcp: connection refused": "analyzer_unreachable",
		"failed to embed page 3":       "embeddings",
		"database is locked":           "storage",
		"something else entirely":      "other",
	}
	for msg, want := range cases {
		if got := categorizeError(msg); got != want {
			t.Fatalf("categorizeError(%q) = %s, want %s", msg, got, want)
		}
	}
}
