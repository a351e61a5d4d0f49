package routes

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

// uploadValidator is the validation surface the upload handler needs.
type uploadValidator interface {
	Validate(ctx context.Context, path, filename, clientID string) (*models.ValidationReport, error)
}

// jobQueue is the queue surface the upload routes need.
type jobQueue interface {
	Submit(jobID string, priority models.Priority) bool
	Cancel(jobID string) bool
	Status() models.QueueStatus
}

// SetupUploadRoutes registers the upload and job-tracking endpoints.
func SetupUploadRoutes(
	router *gin.Engine,
	cfg *config.Config,
	st *store.Store,
	validator uploadValidator,
	queue jobQueue,
	metrics *telemetry.Metrics,
) {
	router.POST("/upload", handleUpload(cfg, st, validator, queue, metrics, false))
	router.POST("/upload-priority", handleUpload(cfg, st, validator, queue, metrics, true))

	router.GET("/job/:id", func(c *gin.Context) {
		job, err := st.GetJob(c.Param("id"))
		if err != nil {
			utils.RespondWithNotFound(c, "Job not found")
			return
		}
		c.JSON(http.StatusOK, job)
	})

	router.GET("/queue/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, queue.Status())
	})

	router.POST("/queue/cancel/:id", func(c *gin.Context) {
		jobID := c.Param("id")
		job, err := st.GetJob(jobID)
		if err != nil {
			utils.RespondWithNotFound(c, "Job not found")
			return
		}
		if job.Status != models.JobQueued {
			utils.RespondWithError(c, http.StatusConflict, "not_cancellable",
				"Only queued jobs can be cancelled", gin.H{"status": job.Status})
			return
		}
		queue.Cancel(jobID)
		if err := st.CancelJob(jobID); err != nil {
			utils.RespondWithInternalError(c, "Failed to cancel job", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": models.JobCancelled})
	})
}

func handleUpload(
	cfg *config.Config,
	st *store.Store,
	validator uploadValidator,
	queue jobQueue,
	metrics *telemetry.Metrics,
	withPriority bool,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "Missing 'file' form field", nil)
			return
		}
		defer file.Close()

		priority := models.PriorityNormal
		if withPriority {
			priority = models.ParsePriority(c.PostForm("priority"))
		}

		jobID := uuid.NewString()
		uploadDir := filepath.Join(cfg.FileStorageDir, "temp", "uploads")
		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
			return
		}
		srcPath := filepath.Join(uploadDir, jobID+".pdf")

		dst, err := os.OpenFile(srcPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to open destination", nil)
			return
		}
		if _, err := io.Copy(dst, io.LimitReader(file, cfg.MaxFileSize+1)); err != nil {
			dst.Close()
			os.Remove(srcPath)
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}
		dst.Close()

		report, err := validator.Validate(c.Request.Context(), srcPath, header.Filename, c.ClientIP())
		if err != nil {
			if report == nil || !report.Quarantined {
				os.Remove(srcPath)
			}
			if verr, ok := models.AsValidationError(err); ok {
				metrics.RecordUpload(false, verr.Kind)
				respondValidationError(c, verr)
				return
			}
			metrics.RecordUpload(false, "internal")
			utils.RespondWithInternalError(c, "Validation failed", gin.H{"error": err.Error()})
			return
		}

		job := &models.Job{
			JobID:      jobID,
			Filename:   header.Filename,
			SourcePath: srcPath,
			Status:     models.JobQueued,
			Priority:   priority,
			CreatedAt:  time.Now().UTC(),
		}
		if err := st.CreateJob(job); err != nil {
			os.Remove(srcPath)
			metrics.RecordUpload(false, "internal")
			utils.RespondWithInternalError(c, "Failed to create job", gin.H{"error": err.Error()})
			return
		}

		if !queue.Submit(jobID, priority) {
			// The row was created queued and no worker will ever see it; move
			// it to failed so it doesn't pollute status polls forever.
			if err := st.FailQueuedJob(jobID, models.ErrQueueFull.Error()); err != nil {
				logger.Error("Failed to mark rejected job", "job_id", jobID, "error", err)
			}
			os.Remove(srcPath)
			metrics.RecordUpload(false, "queue_full")
			utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_full",
				"Processing queue is full, retry later", nil)
			return
		}

		metrics.RecordUpload(true, "")
		c.JSON(http.StatusOK, gin.H{
			"job_id":     jobID,
			"filename":   header.Filename,
			"status":     "processing",
			"priority":   priority.String(),
			"validation": report,
		})
	}
}

// respondValidationError maps a validation failure onto an HTTP status.
func respondValidationError(c *gin.Context, verr *models.ValidationError) {
	details := gin.H{"kind": verr.Kind}
	if verr.Report != nil {
		details["report"] = verr.Report
	}
	switch verr.Kind {
	case models.ErrKindRateLimit:
		utils.RespondWithError(c, http.StatusTooManyRequests, "rate_limit_exceeded", verr.Message, details)
	case models.ErrKindTooLarge:
		utils.RespondWithTooLarge(c, verr.Message, details)
	case models.ErrKindStructInvalid:
		utils.RespondWithError(c, http.StatusUnprocessableEntity, "malformed_pdf", verr.Message, details)
	default:
		utils.RespondWithError(c, http.StatusBadRequest, "validation_failed", verr.Message, details)
	}
}
