package store

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paper-ingest-platform/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := testStore(t)

	job := &models.Job{JobID: "j1", Filename: "a.pdf", SourcePath: "/tmp/a.pdf", Priority: models.PriorityHigh}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobQueued || got.Priority != models.PriorityHigh {
		t.Fatalf("job = %+v", got)
	}

	if err := s.StartJob("j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.StartJob("j1"); err == nil {
		t.Fatal("starting a processing job should fail")
	}

	if err := s.UpdateJobStep("j1", models.StepOCR, 20, false); err != nil {
		t.Fatalf("update step: %v", err)
	}
	if err := s.UpdateJobStep("j1", models.StepLayout, 65, true); err != nil {
		t.Fatalf("update step: %v", err)
	}

	got, _ = s.GetJob("j1")
	if got.ProgressPercent != 65 || got.CurrentStep != models.StepLayout {
		t.Fatalf("progress = %d at %s", got.ProgressPercent, got.CurrentStep)
	}
	if len(got.StepsCompleted) != 1 || got.StepsCompleted[0] != models.StepOCR {
		t.Fatalf("steps completed = %v", got.StepsCompleted)
	}
	if len(got.StepsFailed) != 1 || got.StepsFailed[0] != models.StepLayout {
		t.Fatalf("steps failed = %v", got.StepsFailed)
	}

	if err := s.FinishJobOK("j1", "paper-1", []byte(`{"kind":"completed"}`)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ = s.GetJob("j1")
	if got.Status != models.JobCompleted || got.ProgressPercent != 100 || got.PaperID != "paper-1" {
		t.Fatalf("finished job = %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}

	// The summary must serve as raw JSON, not a base64 blob.
	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	if !strings.Contains(string(data), `"result_summary":{"kind":"completed"}`) {
		t.Fatalf("result summary not inlined: %s", data)
	}
}

func TestFailQueuedJob(t *testing.T) {
	s := testStore(t)
	s.CreateJob(&models.Job{JobID: "j1", Filename: "a.pdf", SourcePath: "/tmp/a"})

	if err := s.FailQueuedJob("j1", "job queue is full"); err != nil {
		t.Fatalf("fail queued: %v", err)
	}
	got, _ := s.GetJob("j1")
	if got.Status != models.JobFailed || got.ErrorMessage != "job queue is full" {
		t.Fatalf("job = %+v, want failed with the rejection message", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}

	// Only queued jobs are eligible.
	if err := s.FailQueuedJob("j1", "again"); err == nil {
		t.Fatal("failing a terminal job should error")
	}
	s.CreateJob(&models.Job{JobID: "j2", Filename: "b.pdf", SourcePath: "/tmp/b"})
	s.StartJob("j2")
	if err := s.FailQueuedJob("j2", "nope"); err == nil {
		t.Fatal("failing a processing job should error")
	}
}

func TestCancelOnlyQueuedJobs(t *testing.T) {
	s := testStore(t)
	s.CreateJob(&models.Job{JobID: "j1", Filename: "a.pdf", SourcePath: "/tmp/a"})

	if err := s.CancelJob("j1"); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	got, _ := s.GetJob("j1")
	if got.Status != models.JobCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	s.CreateJob(&models.Job{JobID: "j2", Filename: "b.pdf", SourcePath: "/tmp/b"})
	s.StartJob("j2")
	if err := s.CancelJob("j2"); err == nil {
		t.Fatal("cancelling a processing job should fail")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetJob("nope"); err != models.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteOldJobsKeepsActiveOnes(t *testing.T) {
	s := testStore(t)

	s.CreateJob(&models.Job{JobID: "done", Filename: "a.pdf", SourcePath: "/tmp/a"})
	s.StartJob("done")
	s.FinishJobOK("done", "paper-1", nil)
	s.CreateJob(&models.Job{JobID: "waiting", Filename: "b.pdf", SourcePath: "/tmp/b"})

	old := time.Now().UTC().AddDate(0, 0, -90)
	if _, err := s.db.Exec(`UPDATE jobs SET created_at = ?`, old); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := s.DeleteOldJobs(30)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1 (queued jobs survive)", n)
	}
	if _, err := s.GetJob("waiting"); err != nil {
		t.Fatalf("queued job was deleted: %v", err)
	}
	if _, err := s.GetJob("done"); err != models.ErrNotFound {
		t.Fatalf("terminal job should be gone, err = %v", err)
	}
}

func TestUpdateJobStepIsIdempotentPerStep(t *testing.T) {
	s := testStore(t)
	s.CreateJob(&models.Job{JobID: "j1", Filename: "a.pdf", SourcePath: "/tmp/a"})
	s.StartJob("j1")

	s.UpdateJobStep("j1", models.StepOCR, 20, false)
	s.UpdateJobStep("j1", models.StepOCR, 20, false)

	got, _ := s.GetJob("j1")
	if len(got.StepsCompleted) != 1 {
		t.Fatalf("steps completed = %v, duplicates must collapse", got.StepsCompleted)
	}
}
