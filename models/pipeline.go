package models

import "time"

// Pipeline step names, in stage order.
const (
	StepDuplicateDetection = "duplicate_detection"
	StepSavePaper          = "save_paper"
	StepOCR                = "ocr"
	StepOCRQuality         = "ocr_quality"
	StepEmbeddings         = "embeddings"
	StepLayout             = "layout"
	StepMetadata           = "metadata"
	StepSaveHashes         = "save_hashes"
	StepFinalize           = "finalize"
)

// PipelineResultKind tags the result shape.
type PipelineResultKind string

const (
	ResultDuplicate PipelineResultKind = "duplicate"
	ResultCompleted PipelineResultKind = "completed"
	ResultFailed    PipelineResultKind = "failed"
)

// PipelineResult is the tagged outcome of one pipeline run.
type PipelineResult struct {
	Kind PipelineResultKind `json:"kind"`

	// Duplicate
	Duplicate *DetectionOutcome `json:"duplicate_detection,omitempty"`

	// Completed / Failed
	DocID          string        `json:"doc_id,omitempty"`
	StagesDone     []string      `json:"stages_done,omitempty"`
	StagesFailed   []string      `json:"stages_failed,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	PageCount      int           `json:"page_count,omitempty"`
	ProcessingTime time.Duration `json:"-"`
	ElapsedSecs    float64       `json:"processing_time"`
}

// ProgressFunc is invoked at every pipeline milestone.
type ProgressFunc func(step string, percent int)
