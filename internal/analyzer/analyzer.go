// Package analyzer defines the external-analyzer capabilities the pipeline
// consumes. Every capability is optional; the pipeline runs with any subset
// and marks the corresponding stages skipped.
package analyzer

import (
	"context"
	"encoding/json"

	"paper-ingest-platform/models"
)

// OCRResult is the output of the OCR capability.
type OCRResult struct {
	OCRPDFPath         string `json:"ocr_pdf_path,omitempty"`
	Text               string `json:"text"`
	Language           string `json:"language,omitempty"`
	PageCount          int    `json:"page_count"`
	FirstPageImagePath string `json:"first_page_image_path,omitempty"`
	OCRPerformed       bool   `json:"ocr_performed"`
}

// QualityResult is the output of the OCR-quality capability.
type QualityResult struct {
	Label  string             `json:"label"`
	Detail map[string]float64 `json:"detail,omitempty"`
}

// LayoutResult is the output of the layout capability.
type LayoutResult struct {
	PageCount     int             `json:"page_count"`
	TotalElements int             `json:"total_elements"`
	ElementTypes  map[string]int  `json:"element_types"`
	Pages         json.RawMessage `json:"pages,omitempty"`
}

// OCR extracts text from a stored PDF, writing any artifacts into workDir.
type OCR interface {
	ExtractText(ctx context.Context, pdfPath, workDir string) (*OCRResult, error)
}

// QualityAssessor scores OCR output quality from the first-page image.
type QualityAssessor interface {
	AssessQuality(ctx context.Context, imagePath string) (*QualityResult, error)
}

// LayoutAnalyzer describes the page layout of a PDF.
type LayoutAnalyzer interface {
	AnalyzeLayout(ctx context.Context, pdfPath string) (*LayoutResult, error)
}

// MetadataExtractor recovers bibliographic metadata from extracted text.
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, text string) (*models.PaperMetadata, error)
}

// Embedder turns text into a vector. Implementations initialize their model
// lazily on first use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
	Dimensions() int
}

// Analyzers bundles the capabilities handed to the pipeline. Nil fields mean
// the capability is absent.
type Analyzers struct {
	OCR      OCR
	Quality  QualityAssessor
	Layout   LayoutAnalyzer
	Metadata MetadataExtractor
	Embedder Embedder
}
