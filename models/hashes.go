package models

import "time"

// Duplicate-detection cascade layers
const (
	LayerFileHash        = "Level_0_File_Hash"
	LayerContentHash     = "Level_1_Content_Hash"
	LayerSampleEmbedding = "Level_2_Sample_Embedding"
	LayerNone            = "none"
	LayerError           = "error"
)

// Detection results
const (
	DetectionDuplicateFound = "duplicate_found"
	DetectionNoDuplicate    = "no_duplicate"
	DetectionError          = "error"
)

// Sample page-selection strategies for the L2 hash
const (
	StrategyFirstLastMiddle = "first_last_middle"
)

// FileHash is the L0 record: one row per byte-identical file.
type FileHash struct {
	FileMD5          string    `json:"file_md5"`
	FileSize         int64     `json:"file_size"`
	OriginalFilename string    `json:"original_filename"`
	DocID            string    `json:"doc_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// ContentHash is the L1 record: digest of a canonical string built from PDF
// document info and the text of the first three pages.
type ContentHash struct {
	ContentDigest       string    `json:"content_digest"`
	PDFTitle            string    `json:"pdf_title,omitempty"`
	PDFAuthor           string    `json:"pdf_author,omitempty"`
	PDFCreator          string    `json:"pdf_creator,omitempty"`
	FirstThreePagesText string    `json:"first_three_pages_text,omitempty"`
	PageCount           int       `json:"page_count"`
	DocID               string    `json:"doc_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// SampleEmbeddingHash is the L2 record, keyed by (digest, strategy).
type SampleEmbeddingHash struct {
	EmbeddingDigest string    `json:"embedding_digest"`
	Strategy        string    `json:"strategy"`
	SampleText      string    `json:"sample_text,omitempty"`
	VectorBytes     []byte    `json:"-"`
	Dimension       int       `json:"dimension"`
	ModelName       string    `json:"model_name"`
	DocID           string    `json:"doc_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// DetectionLog records one cascade invocation. Per-layer times stay nil for
// layers that never ran.
type DetectionLog struct {
	DetectionID        string    `json:"detection_id"`
	Filename           string    `json:"filename"`
	FileSize           int64     `json:"file_size"`
	Result             string    `json:"result"`
	Layer              string    `json:"layer"`
	MatchedDocID       string    `json:"matched_doc_id,omitempty"`
	TotalTime          float64   `json:"total_time"` // seconds
	FileHashTime       *float64  `json:"file_hash_time,omitempty"`
	ContentHashTime    *float64  `json:"content_hash_time,omitempty"`
	SampleEmbedTime    *float64  `json:"sample_embedding_time,omitempty"`
	EstimatedTimeSaved float64   `json:"estimated_time_saved"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// DetectionOutcome is what the cascade returns to the pipeline.
type DetectionOutcome struct {
	IsDuplicate bool          `json:"is_duplicate"`
	Layer       string        `json:"detection_layer"`
	MatchedDoc  string        `json:"existing_doc_id,omitempty"`
	Elapsed     time.Duration `json:"-"`
	ElapsedSecs float64       `json:"detection_time"`
}
