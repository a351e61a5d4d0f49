package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	CORSOrigins []string

	// Storage layout. Papers live under FileStorageDir/pdfs, first-page
	// images under FileStorageDir/images, per-job scratch under
	// FileStorageDir/temp/<doc_id>.
	FileStorageDir string
	DatabasePath   string

	// Upload validation
	MaxFileSize       int64
	MaxFilenameLength int
	AllowedExtensions []string
	AllowedMimeTypes  []string
	MaxPDFPages       int
	MaxUploadsPerHour int
	MaxUploadsPerDay  int
	EnableQuarantine  bool
	QuarantineDir     string

	// Job queue
	QueueCapacity int
	WorkerCount   int

	// External analyzers
	OCRServiceURL      string
	QualityServiceURL  string
	LayoutServiceURL   string
	AnalyzerTimeout    time.Duration
	EnableGPUIntensive bool

	// Embeddings / metadata LLM
	GeminiAPIKey          string
	GoogleEmbeddingsModel string
	EmbeddingDimensions   int

	// Duplicate detection
	SimilarityDupThreshold float64
	DetectionLogRetention  int // days

	// Vector store: "local" (directory under VectorStoreDir) or "qdrant"
	VectorStoreBackend string
	VectorStoreDir     string
	QdrantAddr         string
	QdrantCollection   string

	// Backups
	BackupRoot              string
	BackupCompress          bool
	RetentionDaysDaily      int
	RetentionDaysWeekly     int
	RetentionDaysIncrement  int
	BackupHistoryLimit      int
	ConsistencyAutofixLevel string // highest severity auto-fix may touch

	// Admin gating. Authentication proper is out of scope; a shared token
	// keeps the admin surface from being wide open in dev deployments.
	AdminToken string

	// Rate limiter backend: "memory" or "redis"
	RateLimitBackend string
	RedisURL         string
	RedisPassword    string
	RedisDB          int

	// Performance monitor
	SystemSampleInterval time.Duration
	SystemSampleRetain   int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),
		DatabasePath:   getEnv("DATABASE_PATH", "./storage/papers.db"),

		MaxFileSize:       getEnvInt64("MAX_FILE_SIZE", 104857600), // 100 MiB
		MaxFilenameLength: getEnvInt("MAX_FILENAME_LENGTH", 255),
		AllowedExtensions: strings.Split(getEnv("ALLOWED_EXTENSIONS", ".pdf"), ","),
		AllowedMimeTypes:  strings.Split(getEnv("ALLOWED_MIME_TYPES", "application/pdf,application/x-pdf"), ","),
		MaxPDFPages:       getEnvInt("MAX_PDF_PAGES", 2000),
		MaxUploadsPerHour: getEnvInt("MAX_UPLOADS_PER_HOUR", 50),
		MaxUploadsPerDay:  getEnvInt("MAX_UPLOADS_PER_DAY", 200),
		EnableQuarantine:  getEnvBool("ENABLE_QUARANTINE", true),
		QuarantineDir:     getEnv("QUARANTINE_DIR", "./storage/quarantine"),

		QueueCapacity: getEnvInt("QUEUE_CAPACITY", 100),
		WorkerCount:   getEnvInt("WORKER_COUNT", 3),

		OCRServiceURL:      getEnv("OCR_SERVICE_URL", "http://localhost:8001"),
		QualityServiceURL:  getEnv("QUALITY_SERVICE_URL", "http://localhost:8002"),
		LayoutServiceURL:   getEnv("LAYOUT_SERVICE_URL", "http://localhost:8003"),
		AnalyzerTimeout:    time.Duration(getEnvInt("ANALYZER_TIMEOUT", 300)) * time.Second,
		EnableGPUIntensive: getEnvBool("ENABLE_GPU_INTENSIVE_TASKS", false),

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		EmbeddingDimensions:   getEnvInt("VECTOR_DIM", 768),

		SimilarityDupThreshold: getEnvFloat64("SIMILARITY_DUP_THRESHOLD", 0.95),
		DetectionLogRetention:  getEnvInt("DETECTION_LOG_RETENTION_DAYS", 90),

		VectorStoreBackend: getEnv("VECTOR_STORE_BACKEND", "local"),
		VectorStoreDir:     getEnv("VECTOR_STORE_DIR", "./storage/vectors"),
		QdrantAddr:         getEnv("QDRANT_ADDR", "localhost:6334"),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "papers"),

		BackupRoot:              getEnv("BACKUP_ROOT", "./backups"),
		BackupCompress:          getEnvBool("BACKUP_COMPRESS", true),
		RetentionDaysDaily:      getEnvInt("RETENTION_DAYS_DAILY", 7),
		RetentionDaysWeekly:     getEnvInt("RETENTION_DAYS_WEEKLY", 28),
		RetentionDaysIncrement:  getEnvInt("RETENTION_DAYS_INCREMENTAL", 2),
		BackupHistoryLimit:      getEnvInt("BACKUP_HISTORY_LIMIT", 1000),
		ConsistencyAutofixLevel: getEnv("CONSISTENCY_AUTOFIX_MAX_SEVERITY", "medium"),

		AdminToken: getEnv("ADMIN_TOKEN", ""),

		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),
		RedisURL:         getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),

		SystemSampleInterval: time.Duration(getEnvInt("SYSTEM_SAMPLE_INTERVAL", 30)) * time.Second,
		SystemSampleRetain:   getEnvInt("SYSTEM_SAMPLE_RETAIN", 2880),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
