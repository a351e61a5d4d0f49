package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/models"
)

type passValidator struct{}

func (passValidator) Validate(_ context.Context, _, filename, _ string) (*models.ValidationReport, error) {
	return &models.ValidationReport{Filename: filename}, nil
}

type stubQueue struct {
	accept    bool
	submitted []string
}

func (q *stubQueue) Submit(jobID string, _ models.Priority) bool {
	if q.accept {
		q.submitted = append(q.submitted, jobID)
	}
	return q.accept
}
func (q *stubQueue) Cancel(string) bool         { return false }
func (q *stubQueue) Status() models.QueueStatus { return models.QueueStatus{} }

func newUploadRouter(t *testing.T, queue *stubQueue) (*gin.Engine, *store.Store, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{FileStorageDir: t.TempDir(), MaxFileSize: 1 << 20}
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}

	router := gin.New()
	SetupUploadRoutes(router, cfg, st, passValidator{}, queue, metrics)
	return router, st, cfg
}

func postUpload(t *testing.T, router *gin.Engine, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "paper.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(body)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUploadAcceptedResponse(t *testing.T) {
	queue := &stubQueue{accept: true}
	router, st, _ := newUploadRouter(t, queue)

	rec := postUpload(t, router, []byte("%PDF-1.4\nbody\n%%EOF"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		JobID    string `json:"job_id"`
		Filename string `json:"filename"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "processing" {
		t.Fatalf("status = %q, want processing", resp.Status)
	}
	if resp.Filename != "paper.pdf" || resp.JobID == "" {
		t.Fatalf("response = %+v", resp)
	}

	if len(queue.submitted) != 1 || queue.submitted[0] != resp.JobID {
		t.Fatalf("submitted = %v, want the responded job id", queue.submitted)
	}
	job, err := st.GetJob(resp.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobQueued {
		t.Fatalf("job status = %s, want queued", job.Status)
	}
}

func TestUploadQueueFullFailsTheJob(t *testing.T) {
	queue := &stubQueue{accept: false}
	router, st, cfg := newUploadRouter(t, queue)

	rec := postUpload(t, router, []byte("%PDF-1.4\nbody\n%%EOF"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ErrorCode != "queue_full" {
		t.Fatalf("error_code = %q, want queue_full", resp.ErrorCode)
	}

	// The rejected job must not linger queued; no worker will ever see it.
	counts, err := st.CountJobsByStatus()
	if err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if counts[models.JobQueued] != 0 {
		t.Fatalf("queued jobs = %d, want 0 after rejection", counts[models.JobQueued])
	}
	if counts[models.JobFailed] != 1 {
		t.Fatalf("failed jobs = %d, want 1", counts[models.JobFailed])
	}

	entries, err := os.ReadDir(filepath.Join(cfg.FileStorageDir, "temp", "uploads"))
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("uploads dir has %d entries, the rejected file must be removed", len(entries))
	}
}
