package routes

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/services"
	"paper-ingest-platform/utils"
)

// SetupSystemRoutes registers health, statistics and performance endpoints.
func SetupSystemRoutes(
	router *gin.Engine,
	cfg *config.Config,
	st *store.Store,
	vectors vector.Store,
	queue *services.JobQueue,
	monitor *services.PerformanceMonitor,
	exporter *services.PerformanceExporter,
	startedAt time.Time,
) {
	router.GET("/health", func(c *gin.Context) {
		if _, err := st.CountPapers(); err != nil {
			utils.RespondWithUnavailable(c, "Database is unreachable")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"uptime_seconds": int(time.Since(startedAt).Seconds()),
		})
	})

	router.GET("/status", func(c *gin.Context) {
		jobCounts, err := st.CountJobsByStatus()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to count jobs", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"queue":          queue.Status(),
			"jobs_by_status": jobCounts,
			"uptime_seconds": int(time.Since(startedAt).Seconds()),
		})
	})

	router.GET("/stats", func(c *gin.Context) {
		paperCount, err := st.CountPapers()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to count papers", gin.H{"error": err.Error()})
			return
		}
		vectorCount, _ := vectors.Count(c.Request.Context())
		hashStats, _ := st.HashStats()
		jobCounts, _ := st.CountJobsByStatus()
		detStats, _ := st.GetDetectionStats()
		c.JSON(http.StatusOK, gin.H{
			"papers":         paperCount,
			"vectors":        vectorCount,
			"hash_tables":    hashStats,
			"jobs_by_status": jobCounts,
			"detections":     detStats,
		})
	})

	perf := router.Group("/performance")
	perf.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, monitor.Stats())
	})
	perf.GET("/system", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"samples": monitor.Samples()})
	})
	perf.GET("/jobs", func(c *gin.Context) {
		limit := queryInt(c, "limit", 100)
		c.JSON(http.StatusOK, gin.H{"jobs": monitor.Jobs(limit)})
	})
	perf.GET("/export", func(c *gin.Context) {
		switch c.DefaultQuery("format", "json") {
		case "json":
			data, err := exporter.ExportJSON()
			if err != nil {
				utils.RespondWithInternalError(c, "Export failed", gin.H{"error": err.Error()})
				return
			}
			c.Header("Content-Disposition", `attachment; filename="performance.json"`)
			c.Data(http.StatusOK, "application/json", data)
		case "csv":
			data, err := exporter.ExportCSV()
			if err != nil {
				utils.RespondWithInternalError(c, "Export failed", gin.H{"error": err.Error()})
				return
			}
			c.Header("Content-Disposition", `attachment; filename="performance.csv"`)
			c.Data(http.StatusOK, "text/csv", data)
		case "xlsx":
			data, err := exporter.ExportXLSX()
			if err != nil {
				utils.RespondWithInternalError(c, "Export failed", gin.H{"error": err.Error()})
				return
			}
			c.Header("Content-Disposition", `attachment; filename="performance.xlsx"`)
			c.Data(http.StatusOK,
				"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
		default:
			utils.RespondWithBadRequest(c, "Unknown export format", gin.H{"supported": []string{"json", "csv", "xlsx"}})
		}
	})

	router.GET("/security/status", func(c *gin.Context) {
		quarantined := 0
		if entries, err := os.ReadDir(cfg.QuarantineDir); err == nil {
			for _, e := range entries {
				if !e.IsDir() && len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".pdf" {
					quarantined++
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"quarantine_enabled":   cfg.EnableQuarantine,
			"quarantine_dir":       cfg.QuarantineDir,
			"quarantined_files":    quarantined,
			"max_file_size":        cfg.MaxFileSize,
			"max_pdf_pages":        cfg.MaxPDFPages,
			"allowed_extensions":   cfg.AllowedExtensions,
			"allowed_mime_types":   cfg.AllowedMimeTypes,
			"max_uploads_per_hour": cfg.MaxUploadsPerHour,
			"max_uploads_per_day":  cfg.MaxUploadsPerDay,
		})
	})
}
