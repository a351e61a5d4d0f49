package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"paper-ingest-platform/internal/analyzer"
	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/middleware"
	"paper-ingest-platform/models"
	"paper-ingest-platform/routes"
	"paper-ingest-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	for _, dir := range []string{
		cfg.FileStorageDir,
		cfg.FileStorageDir + "/pdfs",
		cfg.FileStorageDir + "/images",
		cfg.FileStorageDir + "/temp",
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create storage directory:", err)
		}
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer st.Close()

	// Vector backend. The local directory store is the default; qdrant has
	// no local directory to archive so backups fall back to native snapshots.
	var vectors vector.Store
	vectorDir := ""
	switch cfg.VectorStoreBackend {
	case "qdrant":
		qs, err := vector.NewQdrantStore(cfg.QdrantAddr, cfg.QdrantCollection, cfg.EmbeddingDimensions)
		if err != nil {
			log.Fatal("Failed to connect to qdrant:", err)
		}
		defer qs.Close()
		vectors = qs
	default:
		ls, err := vector.NewLocalStore(cfg.VectorStoreDir)
		if err != nil {
			log.Fatal("Failed to open vector store:", err)
		}
		vectors = ls
		vectorDir = ls.Dir()
	}

	// Analyzer capabilities. Each one degrades to absent when unconfigured.
	analyzers := analyzer.Analyzers{
		OCR:     analyzer.NewOCRClient(cfg),
		Quality: analyzer.NewQualityClient(cfg),
		Layout:  analyzer.NewLayoutClient(cfg),
	}
	if cfg.GeminiAPIKey != "" {
		analyzers.Metadata = analyzer.NewGeminiExtractor(cfg.GeminiAPIKey, metrics)
		analyzers.Embedder = analyzer.NewGoogleEmbedder(cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel, cfg.EmbeddingDimensions)
	} else {
		logger.Warn("GEMINI_API_KEY not set; metadata LLM and embeddings are disabled")
	}

	inspector := services.NewPDFInspector()

	limiter, err := services.NewUploadLimiter(cfg)
	if err != nil {
		log.Fatal("Failed to init rate limiter:", err)
	}
	validator := services.NewFileValidator(cfg, limiter, inspector)
	detector := services.NewDuplicateDetector(st, inspector, analyzers.Embedder, metrics)

	var queue *services.JobQueue
	monitor := services.NewPerformanceMonitor(cfg, func() int {
		if queue == nil {
			return 0
		}
		return queue.Status().ActiveCount
	})

	pipeline := services.NewPipeline(cfg, st, vectors, detector, analyzers, inspector, monitor, metrics)
	queue = services.NewJobQueue(cfg.QueueCapacity, cfg.WorkerCount, pipeline.Process, metrics)

	backups, err := services.NewBackupCoordinator(cfg, st, vectorDir, metrics)
	if err != nil {
		log.Fatal("Failed to init backup coordinator:", err)
	}
	checker := services.NewConsistencyChecker(cfg, st, vectors)

	scheduler := services.NewScheduler()
	registerScheduledJobs(cfg, scheduler, backups, checker, detector, st)

	monitor.Start()
	queue.Start()
	scheduler.Start()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize + 1<<20))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	router.Use(cors.New(corsConfig))

	startedAt := time.Now()
	routes.SetupUploadRoutes(router, cfg, st, validator, queue, metrics)
	routes.SetupPaperRoutes(router, cfg, st, vectors, analyzers.Embedder)
	routes.SetupDuplicateRoutes(router, cfg, st, detector)
	routes.SetupSystemRoutes(router, cfg, st, vectors, queue, monitor, services.NewPerformanceExporter(monitor), startedAt)
	routes.SetupAdminRoutes(router, cfg, st, backups, checker, scheduler, queue, &analyzers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	scheduler.Stop()
	queue.Stop()
	monitor.Stop()
	logger.Info("Server exited")
}

// registerScheduledJobs wires the periodic maintenance work. Schedules are
// UTC.
func registerScheduledJobs(
	cfg *config.Config,
	scheduler *services.Scheduler,
	backups *services.BackupCoordinator,
	checker *services.ConsistencyChecker,
	detector *services.DuplicateDetector,
	st *store.Store,
) {
	must := func(err error) {
		if err != nil {
			log.Fatal("Failed to register scheduled job:", err)
		}
	}

	must(scheduler.ScheduleCron("daily-backup", "0 3 * * *", func() error {
		result := backups.RunUnified(models.BackupFull, false, cfg.RetentionDaysDaily, "Scheduled daily backup")
		if !result.Success {
			return fmt.Errorf("daily backup %s did not complete", result.BackupID)
		}
		return nil
	}))

	must(scheduler.ScheduleCron("weekly-backup", "0 4 * * 0", func() error {
		result := backups.RunUnified(models.BackupFull, true, cfg.RetentionDaysWeekly, "Scheduled weekly backup")
		if !result.Success {
			return fmt.Errorf("weekly backup %s did not complete", result.BackupID)
		}
		return nil
	}))

	must(scheduler.ScheduleInterval("incremental-backup", time.Hour, func() error {
		rec := backups.RunIncremental()
		if rec.Status != models.BackupCompleted {
			return fmt.Errorf("incremental backup %s failed: %s", rec.BackupID, rec.Error)
		}
		return nil
	}))

	must(scheduler.ScheduleCron("backup-retention-sweep", "0 5 * * *", func() error {
		deleted := backups.RetentionSweep()
		logger.Info("Backup retention sweep", "deleted", deleted)
		return nil
	}))

	must(scheduler.ScheduleInterval("backup-health-check", time.Hour, func() error {
		for scope, status := range backups.HealthCheck() {
			if strings.HasPrefix(status, "unhealthy") {
				logger.Warn("Backup health degraded", "scope", scope, "status", status)
			}
		}
		return nil
	}))

	must(scheduler.ScheduleCron("consistency-check", "0 6 * * *", func() error {
		report, err := checker.Check(context.Background())
		if err != nil {
			return err
		}
		if report.TotalIssues == 0 {
			return nil
		}
		logger.Warn("Consistency issues detected", "total", report.TotalIssues,
			"by_severity", report.IssuesBySeverity)
		_, err = checker.Fix(context.Background())
		return err
	}))

	must(scheduler.ScheduleCron("detection-log-cleanup", "30 5 * * *", func() error {
		_, err := detector.CleanupLogs(cfg.DetectionLogRetention)
		return err
	}))

	must(scheduler.ScheduleCron("job-cleanup", "45 5 * * *", func() error {
		_, err := st.DeleteOldJobs(30)
		return err
	}))
}
