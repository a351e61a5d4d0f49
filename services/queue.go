package services

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/models"
)

// JobHandler processes one dequeued job. It owns the job's state transitions
// from processing onward.
type JobHandler func(ctx context.Context, jobID string)

// JobQueue is a bounded in-process priority queue feeding a fixed worker
// pool. Within a priority class jobs leave in submission order. Submit never
// blocks; a full queue refuses the job so the HTTP layer can say 503.
type JobQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    queueHeap
	seq      uint64
	capacity int
	closed   bool

	workers int
	handler JobHandler
	metrics *telemetry.Metrics

	active map[string]struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type queueEntry struct {
	jobID      string
	priority   models.Priority
	seq        uint64 // submission order, tie-breaker within a class
	enqueuedAt time.Time
	cancelled  bool
}

type queueHeap []*queueEntry

func (h queueHeap) Len() int { return len(h) }
func (h queueHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h queueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *queueHeap) Push(x interface{}) { *h = append(*h, x.(*queueEntry)) }
func (h *queueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func NewJobQueue(capacity, workers int, handler JobHandler, metrics *telemetry.Metrics) *JobQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		capacity: capacity,
		workers:  workers,
		handler:  handler,
		metrics:  metrics,
		active:   make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker pool.
func (q *JobQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	logger.Info("Job queue started", "workers", q.workers, "capacity", q.capacity)
}

// Stop refuses new work and waits for in-flight jobs to finish. Queued jobs
// that never started stay queued in the store for the next boot.
func (q *JobQueue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.cancel()
	q.wg.Wait()
	logger.Info("Job queue stopped")
}

// Submit enqueues a job. Returns false when the queue is full or stopped.
func (q *JobQueue) Submit(jobID string, priority models.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.pendingLocked() >= q.capacity {
		return false
	}

	q.seq++
	heap.Push(&q.items, &queueEntry{
		jobID:      jobID,
		priority:   priority,
		seq:        q.seq,
		enqueuedAt: time.Now().UTC(),
	})
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(int64(q.pendingLocked()))
	}
	q.cond.Signal()
	return true
}

// Cancel marks a queued job cancelled so no worker picks it up. Returns
// false when the job is not waiting in the queue (already running or done).
func (q *JobQueue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.items {
		if e.jobID == jobID && !e.cancelled {
			e.cancelled = true
			return true
		}
	}
	return false
}

// Status snapshots queue depth, active workers and a priority-ordered
// preview of waiting items.
func (q *JobQueue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := models.QueueStatus{
		QueueSize:     q.pendingLocked(),
		ActiveCount:   len(q.active),
		MaxConcurrent: q.workers,
		ActiveJobs:    make([]string, 0, len(q.active)),
		ItemsPreview:  make([]models.QueueItem, 0, len(q.items)),
	}
	for id := range q.active {
		st.ActiveJobs = append(st.ActiveJobs, id)
	}

	// The heap slice is not sorted beyond its root; copy and order it for
	// the preview.
	snapshot := make(queueHeap, 0, len(q.items))
	for _, e := range q.items {
		if !e.cancelled {
			snapshot = append(snapshot, e)
		}
	}
	heap.Init(&snapshot)
	for snapshot.Len() > 0 {
		e := heap.Pop(&snapshot).(*queueEntry)
		st.ItemsPreview = append(st.ItemsPreview, models.QueueItem{
			JobID:      e.jobID,
			Priority:   e.priority,
			EnqueuedAt: e.enqueuedAt,
		})
	}
	return st
}

// pendingLocked counts non-cancelled entries. Caller holds the lock.
func (q *JobQueue) pendingLocked() int {
	n := 0
	for _, e := range q.items {
		if !e.cancelled {
			n++
		}
	}
	return n
}

func (q *JobQueue) worker(id int) {
	defer q.wg.Done()

	for {
		entry := q.next()
		if entry == nil {
			return
		}

		q.mu.Lock()
		q.active[entry.jobID] = struct{}{}
		q.mu.Unlock()

		logger.Debug("Worker picked up job", "worker", id, "job_id", entry.jobID,
			"priority", entry.priority.String(), "waited", time.Since(entry.enqueuedAt))
		q.handler(q.ctx, entry.jobID)

		q.mu.Lock()
		delete(q.active, entry.jobID)
		if q.metrics != nil {
			q.metrics.RecordQueueDepth(int64(q.pendingLocked()))
		}
		q.mu.Unlock()
	}
}

// next blocks until an entry is available or the queue is closed. Cancelled
// entries are discarded here, not executed.
func (q *JobQueue) next() *queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for q.items.Len() > 0 {
			entry := heap.Pop(&q.items).(*queueEntry)
			if !entry.cancelled {
				return entry
			}
		}
		if q.closed {
			return nil
		}
		q.cond.Wait()
	}
}
