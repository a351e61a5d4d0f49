package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/models"
)

type handledJobs struct {
	mu   sync.Mutex
	ids  []string
	done chan string
}

func newHandledJobs() *handledJobs {
	return &handledJobs{done: make(chan string, 32)}
}

func (h *handledJobs) handle(_ context.Context, jobID string) {
	h.mu.Lock()
	h.ids = append(h.ids, jobID)
	h.mu.Unlock()
	h.done <- jobID
}

func (h *handledJobs) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for job %d of %d", i+1, n)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.ids))
	copy(out, h.ids)
	return out
}

func testMetrics(t *testing.T) *telemetry.Metrics {
	t.Helper()
	m, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}
	return m
}

func TestQueuePriorityOrdering(t *testing.T) {
	h := newHandledJobs()
	q := NewJobQueue(10, 1, h.handle, testMetrics(t))

	// Enqueue before starting so the single worker observes all four.
	q.Submit("low", models.PriorityLow)
	q.Submit("urgent", models.PriorityUrgent)
	q.Submit("normal-1", models.PriorityNormal)
	q.Submit("normal-2", models.PriorityNormal)

	q.Start()
	defer q.Stop()

	got := h.wait(t, 4)
	want := []string{"urgent", "normal-1", "normal-2", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

func TestQueueBoundedSubmit(t *testing.T) {
	h := newHandledJobs()
	q := NewJobQueue(2, 1, h.handle, testMetrics(t))

	if !q.Submit("a", models.PriorityNormal) {
		t.Fatal("first submit should succeed")
	}
	if !q.Submit("b", models.PriorityNormal) {
		t.Fatal("second submit should succeed")
	}
	if q.Submit("c", models.PriorityNormal) {
		t.Fatal("submit past capacity should be rejected")
	}
}

func TestQueueCancelSkipsJob(t *testing.T) {
	h := newHandledJobs()
	q := NewJobQueue(10, 1, h.handle, testMetrics(t))

	q.Submit("first", models.PriorityNormal)
	q.Submit("doomed", models.PriorityNormal)
	q.Submit("last", models.PriorityNormal)
	if !q.Cancel("doomed") {
		t.Fatal("cancel of a queued job should succeed")
	}

	q.Start()
	defer q.Stop()

	got := h.wait(t, 2)
	for _, id := range got {
		if id == "doomed" {
			t.Fatal("cancelled job must never reach the handler")
		}
	}
	if got[0] != "first" || got[1] != "last" {
		t.Fatalf("execution order = %v, want [first last]", got)
	}
}

func TestQueueStatusPreview(t *testing.T) {
	q := NewJobQueue(10, 2, func(context.Context, string) {}, testMetrics(t))

	q.Submit("low", models.PriorityLow)
	q.Submit("urgent", models.PriorityUrgent)

	status := q.Status()
	if status.QueueSize != 2 {
		t.Fatalf("queue size = %d, want 2", status.QueueSize)
	}
	if status.MaxConcurrent != 2 {
		t.Fatalf("max concurrent = %d, want 2", status.MaxConcurrent)
	}
	if len(status.ItemsPreview) != 2 || status.ItemsPreview[0].JobID != "urgent" {
		t.Fatalf("preview = %+v, want urgent first", status.ItemsPreview)
	}
}

func TestQueueStopDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	q := NewJobQueue(10, 1, func(ctx context.Context, jobID string) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
	}, testMetrics(t))

	q.Submit("slow", models.PriorityNormal)
	q.Start()
	<-started
	q.Stop()

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before the in-flight job finished")
	}
}
