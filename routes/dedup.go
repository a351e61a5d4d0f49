package routes

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/services"
	"paper-ingest-platform/utils"
)

// SetupDuplicateRoutes registers the duplicate-prevention endpoints: a
// dry-run check plus statistics and maintenance operations.
func SetupDuplicateRoutes(
	router *gin.Engine,
	cfg *config.Config,
	st *store.Store,
	detector *services.DuplicateDetector,
) {
	dp := router.Group("/duplicate-prevention")

	// Dry-run cascade check. The uploaded file is never stored and no
	// hashes are recorded; the detection log still gets a row.
	dp.POST("/check", func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "Missing 'file' form field", nil)
			return
		}
		defer file.Close()

		tmpDir := filepath.Join(cfg.FileStorageDir, "temp", "checks")
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			utils.RespondWithInternalError(c, "Failed to create scratch directory", nil)
			return
		}
		tmpPath := filepath.Join(tmpDir, uuid.NewString()+".pdf")
		dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to open scratch file", nil)
			return
		}
		if _, err := io.Copy(dst, io.LimitReader(file, cfg.MaxFileSize+1)); err != nil {
			dst.Close()
			os.Remove(tmpPath)
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}
		dst.Close()
		defer os.Remove(tmpPath)

		outcome, _, err := detector.Check(c.Request.Context(), tmpPath, header.Filename)
		if err != nil {
			utils.RespondWithInternalError(c, "Duplicate check failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	dp.GET("/stats", func(c *gin.Context) {
		detStats, err := st.GetDetectionStats()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to aggregate detection stats", gin.H{"error": err.Error()})
			return
		}
		hashStats, err := st.HashStats()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to count hash tables", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"detections": detStats, "hash_tables": hashStats})
	})

	dp.GET("/performance", func(c *gin.Context) {
		detStats, err := st.GetDetectionStats()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to aggregate detection stats", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"total_checks":                  detStats.TotalChecks,
			"duplicates_found":              detStats.DuplicatesFound,
			"avg_detection_time":            detStats.AvgDetectionTime,
			"total_time_saved":              detStats.TotalTimeSaved,
			"estimated_time_saved_last_30d": detStats.EstimatedTimeSaved,
			"by_layer":                      detStats.ByLayer,
		})
	})

	dp.GET("/recent-detections", func(c *gin.Context) {
		limit := queryInt(c, "limit", 50)
		logs, err := st.ListRecentDetections(limit)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list detections", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"detections": logs, "count": len(logs)})
	})

	dp.GET("/paper/:id", func(c *gin.Context) {
		docID := c.Param("id")
		if _, err := st.GetPaper(docID); err != nil {
			respondStoreError(c, err, "Paper not found")
			return
		}
		hashes, err := st.HashesForPaper(docID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to inspect hash rows", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"doc_id": docID, "hash_rows": hashes})
	})

	dp.POST("/cleanup-logs", func(c *gin.Context) {
		days := queryInt(c, "retention_days", cfg.DetectionLogRetention)
		n, err := detector.CleanupLogs(days)
		if err != nil {
			utils.RespondWithInternalError(c, "Log cleanup failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n, "retention_days": days})
	})

	dp.POST("/cleanup-orphaned", func(c *gin.Context) {
		n, err := detector.CleanupOrphans()
		if err != nil {
			utils.RespondWithInternalError(c, "Orphan cleanup failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	})

	dp.POST("/cleanup-duplicates", func(c *gin.Context) {
		n, err := detector.CleanupDuplicates()
		if err != nil {
			utils.RespondWithInternalError(c, "Duplicate-row cleanup failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	})

	dp.POST("/cleanup-unused", func(c *gin.Context) {
		days := queryInt(c, "days_old", 180)
		n, err := detector.CleanupUnused(days)
		if err != nil {
			utils.RespondWithInternalError(c, "Unused-hash cleanup failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n, "days_old": days})
	})

	dp.POST("/cleanup-all", func(c *gin.Context) {
		result := gin.H{}
		if n, err := detector.CleanupOrphans(); err == nil {
			result["orphaned"] = n
		} else {
			result["orphaned_error"] = err.Error()
		}
		if n, err := detector.CleanupDuplicates(); err == nil {
			result["duplicates"] = n
		} else {
			result["duplicates_error"] = err.Error()
		}
		if n, err := detector.CleanupLogs(cfg.DetectionLogRetention); err == nil {
			result["logs"] = n
		} else {
			result["logs_error"] = err.Error()
		}
		c.JSON(http.StatusOK, result)
	})
}
