package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paper-ingest-platform/internal/analyzer"
	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/models"
)

type stubOCR struct {
	text  string
	pages int
}

func (s stubOCR) ExtractText(context.Context, string, string) (*analyzer.OCRResult, error) {
	return &analyzer.OCRResult{Text: s.text, Language: "en", PageCount: s.pages, OCRPerformed: true}, nil
}

const ingestSampleText = `Adaptive Caching Strategies for Distributed Document Stores

Alice Chen, Bob Kumar

Abstract: We evaluate cache admission policies under skewed access patterns
and show a 30% hit-rate improvement for document-store workloads.

Keywords: caching, distributed systems; document stores

Published 2022. doi:10.5555/cache.2022.017
`

type pipelineFixture struct {
	pipeline *Pipeline
	store    *store.Store
	cfg      *config.Config
	monitor  *PerformanceMonitor
	detector *DuplicateDetector
	vectors  vector.Store
}

func newPipelineFixture(t *testing.T, ocr analyzer.OCR) *pipelineFixture {
	t.Helper()
	cfg := &config.Config{
		FileStorageDir:         t.TempDir(),
		SimilarityDupThreshold: 0.95,
		SystemSampleInterval:   time.Hour,
		SystemSampleRetain:     10,
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	vs, err := vector.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("open vector store: %v", err)
	}

	metrics := testMetrics(t)
	detector := NewDuplicateDetector(st, NewPDFInspector(), fakeEmbedder{}, metrics)
	monitor := NewPerformanceMonitor(cfg, func() int { return 0 })
	analyzers := analyzer.Analyzers{OCR: ocr, Embedder: fakeEmbedder{}}

	return &pipelineFixture{
		pipeline: NewPipeline(cfg, st, vs, detector, analyzers, NewPDFInspector(), monitor, metrics),
		store:    st,
		cfg:      cfg,
		monitor:  monitor,
		detector: detector,
		vectors:  vs,
	}
}

func (f *pipelineFixture) createJob(t *testing.T, jobID string, body []byte) {
	t.Helper()
	dir := filepath.Join(f.cfg.FileStorageDir, "temp", "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir uploads: %v", err)
	}
	path := writePDFBytes(t, dir, jobID+".pdf", body)
	if err := f.store.CreateJob(&models.Job{JobID: jobID, Filename: jobID + ".pdf", SourcePath: path}); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func TestPipelineCompletesWithoutGPUStages(t *testing.T) {
	f := newPipelineFixture(t, stubOCR{text: ingestSampleText, pages: 3})
	body := []byte("%PDF-1.4\nnew document body\n%%EOF")
	f.createJob(t, "job-complete", body)

	f.pipeline.Process(context.Background(), "job-complete")

	job, err := f.store.GetJob("job-complete")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobCompleted || job.ProgressPercent != 100 {
		t.Fatalf("job = %s at %d%%, want completed at 100%%", job.Status, job.ProgressPercent)
	}
	if job.PaperID != "job-complete" {
		t.Fatalf("paper id = %q, want the job's own doc id", job.PaperID)
	}

	wantSteps := []string{
		models.StepDuplicateDetection,
		models.StepSavePaper,
		models.StepOCR,
		models.StepOCRQuality,
		models.StepEmbeddings,
		models.StepLayout,
		models.StepMetadata,
		models.StepSaveHashes,
		models.StepFinalize,
	}
	if len(job.StepsCompleted) != len(wantSteps) {
		t.Fatalf("steps completed = %v, want all nine stages", job.StepsCompleted)
	}
	for i, step := range wantSteps {
		if job.StepsCompleted[i] != step {
			t.Fatalf("step %d = %s, want %s", i, job.StepsCompleted[i], step)
		}
	}
	if len(job.StepsFailed) != 0 {
		t.Fatalf("steps failed = %v, want none", job.StepsFailed)
	}

	paper, err := f.store.GetPaper("job-complete")
	if err != nil {
		t.Fatalf("get paper: %v", err)
	}
	if paper.ContentID == "" {
		t.Fatal("content id not set")
	}
	if paper.OCRQualityCompleted || paper.LayoutCompleted {
		t.Fatal("GPU stages must record as skipped when disabled")
	}
	if paper.ProcessedAt == nil {
		t.Fatal("processed_at not stamped")
	}

	if n, _ := f.vectors.Count(context.Background()); n != 1 {
		t.Fatalf("vector count = %d, want 1", n)
	}

	// The summary is raw JSON on the wire, not a base64 blob.
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	if !strings.Contains(string(data), `"result_summary":{"kind":"completed"`) {
		t.Fatalf("result summary not inlined as JSON: %s", data)
	}

	recs := f.monitor.Jobs(10)
	if len(recs) != 1 {
		t.Fatalf("monitor records = %d, want exactly 1", len(recs))
	}
	if recs[0].Outcome != "completed" {
		t.Fatalf("monitor outcome = %s, want completed", recs[0].Outcome)
	}
	if recs[0].FileSizeBytes != int64(len(body)) {
		t.Fatalf("monitor file size = %d, want %d", recs[0].FileSizeBytes, len(body))
	}
	if recs[0].PageCount != 3 {
		t.Fatalf("monitor page count = %d, want 3", recs[0].PageCount)
	}
}

func TestPipelineShortCircuitsOnDuplicate(t *testing.T) {
	f := newPipelineFixture(t, stubOCR{text: ingestSampleText, pages: 1})
	body := []byte("%PDF-1.4\nalready ingested body\n%%EOF")

	orig := writePDFBytes(t, t.TempDir(), "orig.pdf", body)
	f.detector.Record(orig, "orig.pdf", "doc-orig", nil)

	f.createJob(t, "job-dup", body)
	f.pipeline.Process(context.Background(), "job-dup")

	job, err := f.store.GetJob("job-dup")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("job = %s, want completed (duplicate is a success path)", job.Status)
	}
	if job.PaperID != "doc-orig" {
		t.Fatalf("paper id = %q, want the matched document", job.PaperID)
	}
	summary := string(job.ResultSummary)
	if !strings.Contains(summary, `"kind":"duplicate"`) || !strings.Contains(summary, `"existing_doc_id":"doc-orig"`) {
		t.Fatalf("summary = %s, want duplicate detection detail", summary)
	}

	if n, _ := f.store.CountPapers(); n != 0 {
		t.Fatalf("papers = %d, a duplicate must not create one", n)
	}

	recs := f.monitor.Jobs(10)
	if len(recs) != 1 {
		t.Fatalf("monitor records = %d, want exactly 1", len(recs))
	}
	if recs[0].Outcome != "duplicate" {
		t.Fatalf("monitor outcome = %s, want duplicate", recs[0].Outcome)
	}
}

func TestPipelineFailsWhenPaperCannotBeStored(t *testing.T) {
	f := newPipelineFixture(t, stubOCR{text: ingestSampleText, pages: 1})

	// A file where the pdfs directory belongs makes save_paper fail.
	writePDFBytes(t, f.cfg.FileStorageDir, "pdfs", []byte("in the way"))

	f.createJob(t, "job-fail", []byte("%PDF-1.4\nunstorable body\n%%EOF"))
	f.pipeline.Process(context.Background(), "job-fail")

	job, err := f.store.GetJob("job-fail")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobFailed {
		t.Fatalf("job = %s, want failed", job.Status)
	}
	if !strings.HasPrefix(job.ErrorMessage, "save_paper:") {
		t.Fatalf("error = %q, want a save_paper failure", job.ErrorMessage)
	}
	failed := false
	for _, s := range job.StepsFailed {
		if s == models.StepSavePaper {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("steps failed = %v, want save_paper", job.StepsFailed)
	}

	recs := f.monitor.Jobs(10)
	if len(recs) != 1 || recs[0].Outcome != "failed" {
		t.Fatalf("monitor records = %+v, want one failed record", recs)
	}
}
