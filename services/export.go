package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"paper-ingest-platform/internal/logger"
)

// PerformanceExporter renders the monitor's data as JSON, CSV or XLSX.
type PerformanceExporter struct {
	monitor *PerformanceMonitor
}

func NewPerformanceExporter(monitor *PerformanceMonitor) *PerformanceExporter {
	return &PerformanceExporter{monitor: monitor}
}

type performanceDump struct {
	Stats   *PerfStats     `json:"stats"`
	Jobs    []JobRecord    `json:"jobs"`
	Samples []SystemSample `json:"system_samples"`
}

// ExportJSON is the full dump: aggregate stats, job records and the system
// sample buffer.
func (e *PerformanceExporter) ExportJSON() ([]byte, error) {
	dump := performanceDump{
		Stats:   e.monitor.Stats(),
		Jobs:    e.monitor.Jobs(1000),
		Samples: e.monitor.Samples(),
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal performance dump: %w", err)
	}
	return data, nil
}

// ExportCSV writes the per-job summary only.
func (e *PerformanceExporter) ExportCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"job_id", "filename", "started_at", "completed_at", "outcome", "duration_seconds", "steps", "failed_steps",
		"file_size_bytes", "page_count", "peak_memory_mb", "peak_cpu_percent", "bytes_read", "bytes_written"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, rec := range e.monitor.Jobs(1000) {
		completed := ""
		if rec.CompletedAt != nil {
			completed = rec.CompletedAt.Format("2006-01-02 15:04:05")
		}
		var steps, failed int
		for _, s := range rec.Steps {
			steps++
			if !s.Success {
				failed++
			}
		}
		row := []string{
			rec.JobID,
			rec.Filename,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			completed,
			rec.Outcome,
			strconv.FormatFloat(rec.DurationSecs, 'f', 3, 64),
			strconv.Itoa(steps),
			strconv.Itoa(failed),
			strconv.FormatInt(rec.FileSizeBytes, 10),
			strconv.Itoa(rec.PageCount),
			strconv.FormatFloat(rec.PeakMemoryMB, 'f', 1, 64),
			strconv.FormatFloat(rec.PeakCPUPercent, 'f', 1, 64),
			strconv.FormatInt(rec.BytesRead, 10),
			strconv.FormatInt(rec.BytesWritten, 10),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportXLSX produces a workbook with a job sheet and a system sheet.
func (e *PerformanceExporter) ExportXLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("Failed to close workbook", "error", err)
		}
	}()

	jobSheet := "Jobs"
	index, err := f.NewSheet(jobSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	jobHeaders := []string{"Job ID", "Filename", "Started At", "Completed At", "Outcome", "Duration (s)", "Error",
		"File Size", "Pages", "Peak Mem (MB)", "Peak CPU %", "Bytes Read", "Bytes Written"}
	for i, h := range jobHeaders {
		f.SetCellValue(jobSheet, fmt.Sprintf("%c1", 'A'+i), h)
	}
	for rowIdx, rec := range e.monitor.Jobs(1000) {
		row := rowIdx + 2
		f.SetCellValue(jobSheet, fmt.Sprintf("A%d", row), rec.JobID)
		f.SetCellValue(jobSheet, fmt.Sprintf("B%d", row), rec.Filename)
		f.SetCellValue(jobSheet, fmt.Sprintf("C%d", row), rec.StartedAt.Format("2006-01-02 15:04:05"))
		if rec.CompletedAt != nil {
			f.SetCellValue(jobSheet, fmt.Sprintf("D%d", row), rec.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		f.SetCellValue(jobSheet, fmt.Sprintf("E%d", row), rec.Outcome)
		f.SetCellValue(jobSheet, fmt.Sprintf("F%d", row), rec.DurationSecs)
		f.SetCellValue(jobSheet, fmt.Sprintf("G%d", row), rec.ErrorMessage)
		f.SetCellValue(jobSheet, fmt.Sprintf("H%d", row), rec.FileSizeBytes)
		f.SetCellValue(jobSheet, fmt.Sprintf("I%d", row), rec.PageCount)
		f.SetCellValue(jobSheet, fmt.Sprintf("J%d", row), rec.PeakMemoryMB)
		f.SetCellValue(jobSheet, fmt.Sprintf("K%d", row), rec.PeakCPUPercent)
		f.SetCellValue(jobSheet, fmt.Sprintf("L%d", row), rec.BytesRead)
		f.SetCellValue(jobSheet, fmt.Sprintf("M%d", row), rec.BytesWritten)
	}
	for i := range jobHeaders {
		col := fmt.Sprintf("%c:%c", 'A'+i, 'A'+i)
		f.SetColWidth(jobSheet, col, col, 18)
	}

	sysSheet := "System"
	if _, err := f.NewSheet(sysSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	sysHeaders := []string{"Timestamp", "CPU %", "Memory %", "Disk %", "Disk Free (bytes)", "Active Jobs", "Load 1m"}
	for i, h := range sysHeaders {
		f.SetCellValue(sysSheet, fmt.Sprintf("%c1", 'A'+i), h)
	}
	for rowIdx, s := range e.monitor.Samples() {
		row := rowIdx + 2
		f.SetCellValue(sysSheet, fmt.Sprintf("A%d", row), s.Timestamp.Format("2006-01-02 15:04:05"))
		f.SetCellValue(sysSheet, fmt.Sprintf("B%d", row), s.CPUPercent)
		f.SetCellValue(sysSheet, fmt.Sprintf("C%d", row), s.MemoryPercent)
		f.SetCellValue(sysSheet, fmt.Sprintf("D%d", row), s.DiskPercent)
		f.SetCellValue(sysSheet, fmt.Sprintf("E%d", row), s.DiskFreeBytes)
		f.SetCellValue(sysSheet, fmt.Sprintf("F%d", row), s.ActiveJobs)
		f.SetCellValue(sysSheet, fmt.Sprintf("G%d", row), s.Load1)
	}

	f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
