package models

import "time"

// OCR quality labels as persisted on the paper row
const (
	QualityUnknown   = "unknown"
	QualityPoor      = "poor"
	QualityFair      = "fair"
	QualityGood      = "good"
	QualityExcellent = "excellent"
)

// ValidQualityLabel reports whether s is one of the known quality labels.
func ValidQualityLabel(s string) bool {
	switch s {
	case QualityUnknown, QualityPoor, QualityFair, QualityGood, QualityExcellent:
		return true
	}
	return false
}

// Paper is the canonical artifact of an ingested PDF. A Paper exists iff
// its stored PDF exists on disk.
type Paper struct {
	DocID                string     `json:"doc_id"`
	Filename             string     `json:"filename"`
	StoredPath           string     `json:"stored_path"`
	ExtractedText        string     `json:"extracted_text,omitempty"`
	OCRQualityLabel      string     `json:"ocr_quality_label"`
	ContentID            string     `json:"content_id,omitempty"` // digest of the document embedding
	OCRQualityCompleted  bool       `json:"ocr_quality_completed"`
	LayoutCompleted      bool       `json:"layout_completed"`
	MetadataLLMCompleted bool       `json:"metadata_llm_completed"`
	PageCount            int        `json:"page_count"`
	Language             string     `json:"language,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ProcessedAt          *time.Time `json:"processed_at,omitempty"`
}

// PageEmbedding is one per-page vector, keyed by (doc_id, page_number).
type PageEmbedding struct {
	DocID      string    `json:"doc_id"`
	PageNumber int       `json:"page_number"`
	PageText   string    `json:"page_text"`
	Vector     []float32 `json:"vector"`
}

// Extraction methods for bibliographic metadata
const (
	ExtractionStructuredLLM = "structured_llm"
	ExtractionSimpleLLM     = "simple_llm"
	ExtractionRuleBased     = "rule_based"
)

// PaperMetadata holds bibliographic fields, at most one row per Paper.
type PaperMetadata struct {
	DocID            string   `json:"doc_id"`
	Title            string   `json:"title,omitempty"`
	Authors          []string `json:"authors,omitempty"`
	Journal          string   `json:"journal,omitempty"`
	Year             int      `json:"year,omitempty"`
	DOI              string   `json:"doi,omitempty"`
	Abstract         string   `json:"abstract,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	ExtractionMethod string   `json:"extraction_method"`
}

// Empty reports whether no bibliographic field was recovered.
func (m *PaperMetadata) Empty() bool {
	return m.Title == "" && len(m.Authors) == 0 && m.Journal == "" &&
		m.Year == 0 && m.DOI == "" && m.Abstract == "" && len(m.Keywords) == 0
}

// LayoutAnalysis summarizes the page-layout analyzer output for a Paper.
type LayoutAnalysis struct {
	DocID         string         `json:"doc_id"`
	PageCount     int            `json:"page_count"`
	TotalElements int            `json:"total_elements"`
	ElementTypes  map[string]int `json:"element_types"`
	Pages         []byte         `json:"pages"` // opaque per-page JSON from the analyzer
}
