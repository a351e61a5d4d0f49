package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"paper-ingest-platform/internal/analyzer"
	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/middleware"
	"paper-ingest-platform/models"
	"paper-ingest-platform/services"
	"paper-ingest-platform/utils"
)

type healthChecker interface {
	IsHealthy(ctx context.Context) (bool, error)
}

// SetupAdminRoutes registers the token-gated maintenance surface: backups,
// restore, consistency repair and housekeeping.
func SetupAdminRoutes(
	router *gin.Engine,
	cfg *config.Config,
	st *store.Store,
	backups *services.BackupCoordinator,
	checker *services.ConsistencyChecker,
	scheduler *services.Scheduler,
	queue *services.JobQueue,
	analyzers *analyzer.Analyzers,
) {
	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.AdminToken))

	admin.POST("/backup/trigger", func(c *gin.Context) {
		var req struct {
			Kind        string `json:"kind"`
			Description string `json:"description"`
		}
		// Body is optional; an empty trigger takes a snapshot.
		_ = c.ShouldBindJSON(&req)

		switch req.Kind {
		case "", models.BackupSnapshot:
			result := backups.RunUnified(models.BackupSnapshot, false, cfg.RetentionDaysDaily, req.Description)
			c.JSON(http.StatusOK, result)
		case models.BackupFull:
			result := backups.RunUnified(models.BackupFull, false, cfg.RetentionDaysDaily, req.Description)
			c.JSON(http.StatusOK, result)
		case models.BackupIncremental:
			c.JSON(http.StatusOK, backups.RunIncremental())
		default:
			utils.RespondWithBadRequest(c, "Unknown backup kind",
				gin.H{"supported": []string{models.BackupSnapshot, models.BackupFull, models.BackupIncremental}})
		}
	})

	admin.GET("/backup/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, backups.Status())
	})

	admin.GET("/backup/history", func(c *gin.Context) {
		limit := queryInt(c, "limit", 100)
		history := backups.History(limit)
		c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
	})

	admin.POST("/backup/verify/:id", func(c *gin.Context) {
		id := c.Param("id")
		if err := backups.Verify(id); err != nil {
			c.JSON(http.StatusOK, gin.H{"backup_id": id, "valid": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"backup_id": id, "valid": true})
	})

	admin.DELETE("/backup/cleanup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"deleted": backups.RetentionSweep()})
	})

	admin.POST("/backup/health-check", func(c *gin.Context) {
		c.JSON(http.StatusOK, backups.HealthCheck())
	})

	admin.POST("/backup/restore/:id", func(c *gin.Context) {
		if c.Query("confirm") != "true" {
			utils.RespondWithBadRequest(c,
				"Restore overwrites the live database; re-issue with ?confirm=true", nil)
			return
		}
		id := c.Param("id")
		if err := backups.Restore(id); err != nil {
			utils.RespondWithInternalError(c, "Restore failed", gin.H{"backup_id": id, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"backup_id": id, "restored": true})
	})

	admin.GET("/consistency/summary", func(c *gin.Context) {
		report, err := checker.Check(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Consistency check failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"paper_count":        report.PaperCount,
			"vector_count":       report.VectorCount,
			"total_issues":       report.TotalIssues,
			"issues_by_severity": report.IssuesBySeverity,
			"checked_at":         report.CheckedAt,
		})
	})

	admin.GET("/consistency/check", func(c *gin.Context) {
		report, err := checker.Check(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Consistency check failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	admin.POST("/consistency/fix", func(c *gin.Context) {
		result, err := checker.Fix(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Consistency fix failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	admin.GET("/disaster-recovery/status", func(c *gin.Context) {
		report, checkErr := checker.Check(c.Request.Context())
		dr := gin.H{
			"backup_health": backups.HealthCheck(),
			"backup_status": backups.Status(),
		}
		if checkErr != nil {
			dr["consistency_error"] = checkErr.Error()
		} else {
			dr["consistency"] = gin.H{
				"total_issues":       report.TotalIssues,
				"issues_by_severity": report.IssuesBySeverity,
			}
		}
		c.JSON(http.StatusOK, dr)
	})

	admin.GET("/services/status", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		ocrStatus := "not_configured"
		if analyzers != nil && analyzers.OCR != nil {
			ocrStatus = "configured"
			if hc, ok := analyzers.OCR.(healthChecker); ok {
				if healthy, err := hc.IsHealthy(ctx); err != nil {
					ocrStatus = "unreachable"
				} else if healthy {
					ocrStatus = "healthy"
				} else {
					ocrStatus = "unhealthy"
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"ocr_service":        ocrStatus,
			"quality_configured": analyzers != nil && analyzers.Quality != nil,
			"layout_configured":  analyzers != nil && analyzers.Layout != nil,
			"metadata_llm":       analyzers != nil && analyzers.Metadata != nil,
			"embedder":           analyzers != nil && analyzers.Embedder != nil,
			"scheduled_jobs":     scheduler.JobIDs(),
			"queue":              queue.Status(),
		})
	})

	admin.POST("/scheduler/run/:id", func(c *gin.Context) {
		id := c.Param("id")
		if err := scheduler.ForceRun(id); err != nil {
			utils.RespondWithError(c, http.StatusConflict, "job_not_runnable", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": id, "ran": true})
	})

	admin.POST("/cleanup-jobs", func(c *gin.Context) {
		days := queryInt(c, "days_old", 30)
		n, err := st.DeleteOldJobs(days)
		if err != nil {
			utils.RespondWithInternalError(c, "Job cleanup failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n, "days_old": days})
	})
}
