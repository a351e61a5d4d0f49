package services

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
)

// StepRecord is one pipeline step observed for a job.
type StepRecord struct {
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
	Success bool    `json:"success"`
}

// JobRecord is the monitor's view of one pipeline run. Resource figures are
// process-wide samples taken while the job ran, so concurrent jobs share
// them.
type JobRecord struct {
	JobID          string       `json:"job_id"`
	Filename       string       `json:"filename"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Outcome        string       `json:"outcome,omitempty"` // duplicate, completed, failed
	ErrorMessage   string       `json:"error_message,omitempty"`
	Steps          []StepRecord `json:"steps"`
	DurationSecs   float64      `json:"duration_seconds"`
	FileSizeBytes  int64        `json:"file_size_bytes,omitempty"`
	PageCount      int          `json:"page_count,omitempty"`
	PeakMemoryMB   float64      `json:"peak_memory_mb"`
	PeakCPUPercent float64      `json:"peak_cpu_percent"`
	BytesRead      int64        `json:"bytes_read"`
	BytesWritten   int64        `json:"bytes_written"`

	// /proc/self/io counters at job start, for the deltas above
	ioReadStart  int64
	ioWriteStart int64
}

// SystemSample is one point of the rolling system-metrics buffer.
type SystemSample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	DiskFreeBytes uint64    `json:"disk_free_bytes"`
	ActiveJobs    int       `json:"active_jobs"`
	Load1         float64   `json:"load_1m"`
}

// PerfStats is the aggregate view served by the performance endpoints.
type PerfStats struct {
	TotalJobs         int            `json:"total_jobs"`
	SuccessRate       float64        `json:"success_rate"`
	SuccessRateHour   float64        `json:"success_rate_last_hour"`
	SuccessRateDay    float64        `json:"success_rate_last_24h"`
	MeanSeconds       float64        `json:"mean_seconds"`
	MedianSeconds     float64        `json:"median_seconds"`
	MinSeconds        float64        `json:"min_seconds"`
	MaxSeconds        float64        `json:"max_seconds"`
	PeakMemoryMB      float64        `json:"peak_memory_mb"`
	PeakCPUPercent    float64        `json:"peak_cpu_percent"`
	TotalBytesRead    int64          `json:"total_bytes_read"`
	TotalBytesWritten int64          `json:"total_bytes_written"`
	StepSuccesses     map[string]int `json:"step_successes"`
	StepFailures      map[string]int `json:"step_failures"`
	ErrorCategories   map[string]int `json:"error_categories"`
}

// Error categorization by message substring; coarse but useful for triage.
var errorCategories = map[string]string{
	"timeout":     "timeout",
	"deadline":    "timeout",
	"connection":  "analyzer_unreachable",
	"unavailable": "analyzer_unreachable",
	"ocr":         "ocr",
	"embed":       "embeddings",
	"database":    "storage",
	"sql":         "storage",
	"disk":        "storage",
}

// PerformanceMonitor keeps per-job records and a rolling buffer of system
// samples. Job records are bounded by count; system samples by the
// configured retention.
type PerformanceMonitor struct {
	mu      sync.RWMutex
	jobs    map[string]*JobRecord
	order   []string
	maxJobs int

	samples  []SystemSample
	retain   int
	interval time.Duration

	activeFn func() int
	stopCh   chan struct{}
	stopOnce sync.Once

	// previous /proc/stat counters for CPU% deltas
	lastCPUTotal uint64
	lastCPUIdle  uint64

	sampleRoot string
}

func NewPerformanceMonitor(cfg *config.Config, activeFn func() int) *PerformanceMonitor {
	return &PerformanceMonitor{
		jobs:       make(map[string]*JobRecord),
		maxJobs:    1000,
		retain:     cfg.SystemSampleRetain,
		interval:   cfg.SystemSampleInterval,
		activeFn:   activeFn,
		stopCh:     make(chan struct{}),
		sampleRoot: cfg.FileStorageDir,
	}
}

// Start launches the background system sampler.
func (m *PerformanceMonitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sampleSystem()
			case <-m.stopCh:
				return
			}
		}
	}()
	logger.Info("Performance monitor started", "interval", m.interval, "retain", m.retain)
}

func (m *PerformanceMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *PerformanceMonitor) StartJob(jobID, filename string) {
	ioRead, ioWritten := readProcessIO()
	rss := readProcessRSSMB()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[jobID] = &JobRecord{
		JobID:        jobID,
		Filename:     filename,
		StartedAt:    time.Now().UTC(),
		PeakMemoryMB: rss,
		ioReadStart:  ioRead,
		ioWriteStart: ioWritten,
	}
	m.order = append(m.order, jobID)
	for len(m.order) > m.maxJobs {
		delete(m.jobs, m.order[0])
		m.order = m.order[1:]
	}
}

// SetJobFile attaches the input size and page count to a running job's
// record. Zero values leave the existing figure alone, so the pipeline can
// report them as they become known.
func (m *PerformanceMonitor) SetJobFile(jobID string, sizeBytes int64, pageCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.jobs[jobID]; ok {
		if sizeBytes > 0 {
			rec.FileSizeBytes = sizeBytes
		}
		if pageCount > 0 {
			rec.PageCount = pageCount
		}
	}
}

func (m *PerformanceMonitor) RecordStep(jobID, step string, elapsed time.Duration, success bool) {
	// Sampled before taking the lock; readCPUPercent locks internally.
	rss := readProcessRSSMB()
	cpu := m.readCPUPercent()

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.jobs[jobID]; ok {
		rec.Steps = append(rec.Steps, StepRecord{Name: step, Seconds: elapsed.Seconds(), Success: success})
		rec.observeResources(rss, cpu)
	}
}

func (m *PerformanceMonitor) FinishJob(jobID, outcome, errMsg string) {
	ioRead, ioWritten := readProcessIO()
	rss := readProcessRSSMB()
	cpu := m.readCPUPercent()

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.jobs[jobID]; ok {
		now := time.Now().UTC()
		rec.CompletedAt = &now
		rec.Outcome = outcome
		rec.ErrorMessage = errMsg
		rec.DurationSecs = now.Sub(rec.StartedAt).Seconds()
		rec.observeResources(rss, cpu)
		if d := ioRead - rec.ioReadStart; d > 0 {
			rec.BytesRead = d
		}
		if d := ioWritten - rec.ioWriteStart; d > 0 {
			rec.BytesWritten = d
		}
	}
}

func (rec *JobRecord) observeResources(rssMB, cpuPercent float64) {
	if rssMB > rec.PeakMemoryMB {
		rec.PeakMemoryMB = rssMB
	}
	if cpuPercent > rec.PeakCPUPercent {
		rec.PeakCPUPercent = cpuPercent
	}
}

// Jobs returns finished and running job records, newest first.
func (m *PerformanceMonitor) Jobs(limit int) []JobRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]JobRecord, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		if rec, ok := m.jobs[m.order[i]]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Samples returns the rolling system buffer, oldest first.
func (m *PerformanceMonitor) Samples() []SystemSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SystemSample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Stats aggregates over the retained job records.
func (m *PerformanceMonitor) Stats() *PerfStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &PerfStats{
		StepSuccesses:   make(map[string]int),
		StepFailures:    make(map[string]int),
		ErrorCategories: make(map[string]int),
	}

	now := time.Now().UTC()
	var durations []float64
	var total, ok, hourTotal, hourOK, dayTotal, dayOK int

	for _, id := range m.order {
		rec, present := m.jobs[id]
		if !present || rec.CompletedAt == nil {
			continue
		}
		total++
		success := rec.Outcome != "failed"
		if success {
			ok++
		}
		if now.Sub(*rec.CompletedAt) <= time.Hour {
			hourTotal++
			if success {
				hourOK++
			}
		}
		if now.Sub(*rec.CompletedAt) <= 24*time.Hour {
			dayTotal++
			if success {
				dayOK++
			}
		}
		durations = append(durations, rec.DurationSecs)

		if rec.PeakMemoryMB > stats.PeakMemoryMB {
			stats.PeakMemoryMB = rec.PeakMemoryMB
		}
		if rec.PeakCPUPercent > stats.PeakCPUPercent {
			stats.PeakCPUPercent = rec.PeakCPUPercent
		}
		stats.TotalBytesRead += rec.BytesRead
		stats.TotalBytesWritten += rec.BytesWritten

		for _, step := range rec.Steps {
			if step.Success {
				stats.StepSuccesses[step.Name]++
			} else {
				stats.StepFailures[step.Name]++
			}
		}
		if rec.ErrorMessage != "" {
			stats.ErrorCategories[categorizeError(rec.ErrorMessage)]++
		}
	}

	stats.TotalJobs = total
	stats.SuccessRate = ratio(ok, total)
	stats.SuccessRateHour = ratio(hourOK, hourTotal)
	stats.SuccessRateDay = ratio(dayOK, dayTotal)

	if len(durations) > 0 {
		sort.Float64s(durations)
		var sum float64
		for _, d := range durations {
			sum += d
		}
		stats.MeanSeconds = sum / float64(len(durations))
		stats.MedianSeconds = durations[len(durations)/2]
		stats.MinSeconds = durations[0]
		stats.MaxSeconds = durations[len(durations)-1]
	}
	return stats
}

func categorizeError(msg string) string {
	lower := strings.ToLower(msg)
	for substr, category := range errorCategories {
		if strings.Contains(lower, substr) {
			return category
		}
	}
	return "other"
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// sampleSystem reads /proc and statfs. Missing files (non-Linux dev boxes)
// degrade individual fields to zero rather than skipping the sample.
func (m *PerformanceMonitor) sampleSystem() {
	sample := SystemSample{Timestamp: time.Now().UTC()}

	if m.activeFn != nil {
		sample.ActiveJobs = m.activeFn()
	}
	sample.CPUPercent = m.readCPUPercent()
	sample.MemoryPercent = readMemoryPercent()
	sample.Load1 = readLoad1()

	var fsStat syscall.Statfs_t
	if err := syscall.Statfs(m.sampleRoot, &fsStat); err == nil && fsStat.Blocks > 0 {
		total := fsStat.Blocks * uint64(fsStat.Bsize)
		free := fsStat.Bavail * uint64(fsStat.Bsize)
		sample.DiskFreeBytes = free
		sample.DiskPercent = 100 * float64(total-free) / float64(total)
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > m.retain {
		m.samples = m.samples[len(m.samples)-m.retain:]
	}
	m.mu.Unlock()
}

// readCPUPercent computes utilization from successive /proc/stat counters.
// The first call after boot has no baseline and reports zero.
func (m *PerformanceMonitor) readCPUPercent() float64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0
	}

	var total, idle uint64
	for i, field := range fields[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return 0
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}

	m.mu.Lock()
	prevTotal, prevIdle := m.lastCPUTotal, m.lastCPUIdle
	m.lastCPUTotal, m.lastCPUIdle = total, idle
	m.mu.Unlock()

	if prevTotal == 0 || total <= prevTotal {
		return 0
	}
	dTotal := float64(total - prevTotal)
	dIdle := float64(idle - prevIdle)
	return 100 * (dTotal - dIdle) / dTotal
}

func readMemoryPercent() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var totalKB, availKB uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
		if totalKB > 0 && availKB > 0 {
			break
		}
	}
	if totalKB == 0 {
		return 0
	}
	return 100 * float64(totalKB-availKB) / float64(totalKB)
}

// readProcessRSSMB reads the process resident set from /proc/self/status.
func readProcessRSSMB() float64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "VmRSS:" {
			kb, _ := strconv.ParseUint(fields[1], 10, 64)
			return float64(kb) / 1024
		}
	}
	return 0
}

// readProcessIO reads cumulative storage-layer bytes from /proc/self/io.
func readProcessIO() (readBytes, writtenBytes int64) {
	f, err := os.Open("/proc/self/io")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseInt(fields[1], 10, 64)
		switch fields[0] {
		case "read_bytes:":
			readBytes = v
		case "write_bytes:":
			writtenBytes = v
		}
	}
	return readBytes, writtenBytes
}

func readLoad1() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, _ := strconv.ParseFloat(fields[0], 64)
	return load
}
