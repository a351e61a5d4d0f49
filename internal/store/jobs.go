package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"paper-ingest-platform/models"
)

// CreateJob inserts a new job in the queued state with zero progress.
func (s *Store) CreateJob(j *models.Job) error {
	j.Status = models.JobQueued
	j.ProgressPercent = 0
	j.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(`INSERT INTO jobs
		(job_id, filename, source_path, status, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.JobID, j.Filename, j.SourcePath, j.Status, int(j.Priority), j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob reads a job by id. Safe to call concurrently with writers.
func (s *Store) GetJob(jobID string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT job_id, filename, source_path, status, priority,
		current_step, progress_percent, steps_completed, steps_failed,
		error_message, result_summary, paper_id, created_at, started_at, completed_at
		FROM jobs WHERE job_id = ?`, jobID)

	var j models.Job
	var prio int
	var completed, failed string
	var summary []byte
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&j.JobID, &j.Filename, &j.SourcePath, &j.Status, &prio,
		&j.CurrentStep, &j.ProgressPercent, &completed, &failed,
		&j.ErrorMessage, &summary, &j.PaperID, &j.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	j.Priority = models.Priority(prio)
	j.ResultSummary = summary
	json.Unmarshal([]byte(completed), &j.StepsCompleted)
	json.Unmarshal([]byte(failed), &j.StepsFailed)
	if j.StepsCompleted == nil {
		j.StepsCompleted = []string{}
	}
	if j.StepsFailed == nil {
		j.StepsFailed = []string{}
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// StartJob transitions queued → processing and stamps started_at.
func (s *Store) StartJob(jobID string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, started_at = ?
		WHERE job_id = ? AND status = ?`,
		models.JobProcessing, time.Now().UTC(), jobID, models.JobQueued)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not queued", jobID)
	}
	return nil
}

// UpdateJobStep records the current step and progress while processing, and
// appends the step to the completed or failed list.
func (s *Store) UpdateJobStep(jobID, step string, percent int, failed bool) error {
	j, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	if j.Status != models.JobProcessing {
		return fmt.Errorf("job %s is not processing", jobID)
	}

	if failed {
		j.StepsFailed = appendUnique(j.StepsFailed, step)
	} else {
		j.StepsCompleted = appendUnique(j.StepsCompleted, step)
	}
	completedJSON, _ := json.Marshal(j.StepsCompleted)
	failedJSON, _ := json.Marshal(j.StepsFailed)

	_, err = s.db.Exec(`UPDATE jobs SET current_step = ?, progress_percent = ?,
		steps_completed = ?, steps_failed = ? WHERE job_id = ?`,
		step, percent, string(completedJSON), string(failedJSON), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job step: %w", err)
	}
	return nil
}

// SetJobProgress updates only the current step and percentage.
func (s *Store) SetJobProgress(jobID, step string, percent int) error {
	_, err := s.db.Exec(`UPDATE jobs SET current_step = ?, progress_percent = ?
		WHERE job_id = ? AND status = ?`, step, percent, jobID, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// FinishJobOK transitions processing → completed with full progress.
func (s *Store) FinishJobOK(jobID, paperID string, summary []byte) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, paper_id = ?, result_summary = ?,
		progress_percent = 100, completed_at = ? WHERE job_id = ? AND status = ?`,
		models.JobCompleted, paperID, summary, time.Now().UTC(), jobID, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not processing", jobID)
	}
	return nil
}

// FinishJobErr transitions processing → failed and records the error.
func (s *Store) FinishJobErr(jobID, errMsg string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE job_id = ? AND status = ?`,
		models.JobFailed, errMsg, time.Now().UTC(), jobID, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not processing", jobID)
	}
	return nil
}

// FailQueuedJob transitions queued → failed, for jobs the queue refused
// before any worker picked them up.
func (s *Store) FailQueuedJob(jobID, errMsg string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE job_id = ? AND status = ?`,
		models.JobFailed, errMsg, time.Now().UTC(), jobID, models.JobQueued)
	if err != nil {
		return fmt.Errorf("failed to fail queued job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not queued", jobID)
	}
	return nil
}

// CancelJob transitions queued → cancelled. Running jobs are never
// preempted through this call.
func (s *Store) CancelJob(jobID string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, completed_at = ?
		WHERE job_id = ? AND status = ?`,
		models.JobCancelled, time.Now().UTC(), jobID, models.JobQueued)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not queued", jobID)
	}
	return nil
}

// CountJobsByStatus groups jobs by status.
func (s *Store) CountJobsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// DeleteOldJobs removes terminal jobs older than daysOld.
func (s *Store) DeleteOldJobs(daysOld int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)
	res, err := s.db.Exec(`DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?, ?)`,
		cutoff, models.JobCompleted, models.JobFailed, models.JobCancelled)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
