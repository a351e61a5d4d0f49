package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paper-ingest-platform/internal/analyzer"
	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

// Progress milestones per stage
var stageMilestones = map[string]int{
	models.StepDuplicateDetection: 5,
	models.StepSavePaper:          10,
	models.StepOCR:                20,
	models.StepOCRQuality:         35,
	models.StepEmbeddings:         50,
	models.StepLayout:             65,
	models.StepMetadata:           80,
	models.StepSaveHashes:         90,
	models.StepFinalize:           100,
}

// Pipeline runs the nine ingest stages for one job. Stage failures are
// isolated: they append a warning and continue, except the critical stages
// save_paper and a hard OCR exception, which fail the job.
type Pipeline struct {
	cfg       *config.Config
	store     *store.Store
	vectors   vector.Store
	detector  *DuplicateDetector
	analyzers analyzer.Analyzers
	inspector *PDFInspector
	monitor   *PerformanceMonitor
	metrics   *telemetry.Metrics
}

func NewPipeline(cfg *config.Config, st *store.Store, vs vector.Store, detector *DuplicateDetector,
	analyzers analyzer.Analyzers, inspector *PDFInspector, monitor *PerformanceMonitor, metrics *telemetry.Metrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		vectors:   vs,
		detector:  detector,
		analyzers: analyzers,
		inspector: inspector,
		monitor:   monitor,
		metrics:   metrics,
	}
}

// run carries the mutable state of one pipeline execution.
type run struct {
	jobID    string
	docID    string
	filename string
	srcPath  string // upload in temp storage
	pdfPath  string // permanent location once save_paper ran
	workDir  string

	text      string
	language  string
	pageCount int
	firstPage string

	sample   *SampleArtifacts
	docVec   []float32
	dupMiss  bool
	warnings []string
	done     []string
	failed   []string
	progress models.ProgressFunc

	recordStep func(step string, failed bool)
}

// Process executes the pipeline for a queued job. It owns every job state
// transition after queued and never lets a panic escape the worker.
func (p *Pipeline) Process(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panic", "job_id", jobID, "panic", fmt.Sprintf("%v", r))
			_ = p.store.FinishJobErr(jobID, fmt.Sprintf("fatal: %v", r))
			if p.metrics != nil {
				p.metrics.RecordJob(models.JobFailed)
			}
		}
	}()

	job, err := p.store.GetJob(jobID)
	if err != nil {
		logger.Error("Job vanished before processing", "job_id", jobID, "error", err)
		return
	}
	if err := p.store.StartJob(jobID); err != nil {
		// Cancelled between dequeue and start
		logger.Info("Job not started", "job_id", jobID, "error", err)
		return
	}

	result := p.execute(ctx, job)

	summary, _ := json.Marshal(result)
	switch result.Kind {
	case models.ResultFailed:
		if err := p.store.FinishJobErr(jobID, result.Reason); err != nil {
			logger.Error("Failed to mark job failed", "job_id", jobID, "error", err)
		}
		if p.metrics != nil {
			p.metrics.RecordJob(models.JobFailed)
		}
	default:
		if err := p.store.FinishJobOK(jobID, result.DocID, summary); err != nil {
			logger.Error("Failed to mark job completed", "job_id", jobID, "error", err)
		}
		if p.metrics != nil {
			p.metrics.RecordJob(models.JobCompleted)
		}
	}
	if p.monitor != nil {
		p.monitor.FinishJob(jobID, string(result.Kind), result.Reason)
	}
}

func (p *Pipeline) execute(ctx context.Context, job *models.Job) *models.PipelineResult {
	start := time.Now()

	r := &run{
		jobID:    job.JobID,
		docID:    job.JobID, // doc_id mirrors job_id for traceability
		filename: job.Filename,
		srcPath:  job.SourcePath,
		workDir:  filepath.Join(p.cfg.FileStorageDir, "temp", job.JobID),
	}
	r.progress = func(step string, percent int) {
		if err := p.store.SetJobProgress(job.JobID, step, percent); err != nil {
			logger.Warn("Failed to record progress", "job_id", job.JobID, "error", err)
		}
	}
	r.recordStep = func(step string, failed bool) {
		if err := p.store.UpdateJobStep(job.JobID, step, stageMilestones[step], failed); err != nil {
			logger.Warn("Failed to record step", "job_id", job.JobID, "step", step, "error", err)
		}
	}
	if p.monitor != nil {
		p.monitor.StartJob(job.JobID, job.Filename)
		if fi, err := os.Stat(r.srcPath); err == nil {
			p.monitor.SetJobFile(job.JobID, fi.Size(), 0)
		}
	}
	if err := os.MkdirAll(r.workDir, 0755); err != nil {
		return p.failResult(r, start, fmt.Sprintf("failed to create work dir: %v", err))
	}
	defer r.cleanupTemp()

	// Stage 1: duplicate check. A hit is a success path that short-circuits
	// everything else.
	outcome := p.stageDuplicateCheck(ctx, r)
	if outcome != nil && outcome.IsDuplicate {
		r.markDone(models.StepDuplicateDetection)
		r.warn(fmt.Sprintf("duplicate of %s detected at layer %s", outcome.MatchedDoc, outcome.Layer))
		elapsed := time.Since(start)
		return &models.PipelineResult{
			Kind:           models.ResultDuplicate,
			Duplicate:      outcome,
			DocID:          outcome.MatchedDoc,
			StagesDone:     r.done,
			Warnings:       r.warnings,
			ProcessingTime: elapsed,
			ElapsedSecs:    elapsed.Seconds(),
		}
	}

	// Stage 2: persist the Paper. Critical.
	if err := p.stageSavePaper(r); err != nil {
		r.markFailed(models.StepSavePaper)
		return p.failResult(r, start, fmt.Sprintf("save_paper: %v", err))
	}
	r.markDone(models.StepSavePaper)

	// Stage 3: OCR. A hard error is critical; running without OCR output is
	// not, the local extractor fills in what it can.
	if err := p.stageOCR(ctx, r); err != nil {
		r.markFailed(models.StepOCR)
		return p.failResult(r, start, fmt.Sprintf("ocr: %v", err))
	}
	r.markDone(models.StepOCR)
	if p.monitor != nil {
		p.monitor.SetJobFile(r.jobID, 0, r.pageCount)
	}

	p.runStage(r, models.StepOCRQuality, func() error { return p.stageOCRQuality(ctx, r) })

	// Stage 5 may itself resolve to a similarity duplicate.
	var simDup *models.DetectionOutcome
	p.runStage(r, models.StepEmbeddings, func() error {
		var err error
		simDup, err = p.stageEmbeddings(ctx, r)
		return err
	})
	if simDup != nil {
		r.warn(fmt.Sprintf("similarity duplicate of %s detected during embedding", simDup.MatchedDoc))
		p.discardPaper(r)
		elapsed := time.Since(start)
		return &models.PipelineResult{
			Kind:           models.ResultDuplicate,
			Duplicate:      simDup,
			DocID:          simDup.MatchedDoc,
			StagesDone:     r.done,
			Warnings:       r.warnings,
			ProcessingTime: elapsed,
			ElapsedSecs:    elapsed.Seconds(),
		}
	}

	p.runStage(r, models.StepLayout, func() error { return p.stageLayout(ctx, r) })
	p.runStage(r, models.StepMetadata, func() error { return p.stageMetadata(ctx, r) })
	p.runStage(r, models.StepSaveHashes, func() error { return p.stageSaveHashes(r) })

	// Stage 9: finalize
	r.progress(models.StepFinalize, stageMilestones[models.StepFinalize])
	if err := p.store.MarkProcessed(r.docID); err != nil {
		r.warn(fmt.Sprintf("finalize: %v", err))
	}
	r.markDone(models.StepFinalize)

	elapsed := time.Since(start)
	logger.Info("Pipeline completed", "job_id", r.jobID, "doc_id", r.docID,
		"pages", r.pageCount, "elapsed", elapsed, "stages_failed", r.failed)
	return &models.PipelineResult{
		Kind:           models.ResultCompleted,
		DocID:          r.docID,
		StagesDone:     r.done,
		StagesFailed:   r.failed,
		Warnings:       r.warnings,
		PageCount:      r.pageCount,
		ProcessingTime: elapsed,
		ElapsedSecs:    elapsed.Seconds(),
	}
}

// runStage isolates a non-critical stage: a failure appends to steps_failed
// and a warning, then the pipeline moves on.
func (p *Pipeline) runStage(r *run, step string, fn func() error) {
	r.progress(step, stageMilestones[step])
	stageStart := time.Now()

	err := fn()

	if p.metrics != nil {
		p.metrics.RecordStage(step, time.Since(stageStart).Seconds(), err != nil)
	}
	if p.monitor != nil {
		p.monitor.RecordStep(r.jobID, step, time.Since(stageStart), err == nil)
	}
	if err != nil {
		r.markFailed(step)
		r.warn((&models.StageFailed{Stage: step, Cause: err}).Error())
		logger.Warn("Pipeline stage failed", "job_id", r.jobID, "stage", step, "error", err)
		return
	}
	r.markDone(step)
}

func (p *Pipeline) stageDuplicateCheck(ctx context.Context, r *run) *models.DetectionOutcome {
	r.progress(models.StepDuplicateDetection, stageMilestones[models.StepDuplicateDetection])
	stageStart := time.Now()

	outcome, sample, err := p.detector.Check(ctx, r.srcPath, r.filename)
	if p.metrics != nil {
		p.metrics.RecordStage(models.StepDuplicateDetection, time.Since(stageStart).Seconds(), err != nil)
	}
	if p.monitor != nil {
		p.monitor.RecordStep(r.jobID, models.StepDuplicateDetection, time.Since(stageStart), err == nil)
	}
	if err != nil {
		// Detection failure never blocks ingestion
		r.markFailed(models.StepDuplicateDetection)
		r.warn(fmt.Sprintf("duplicate detection errored, proceeding: %v", err))
		return nil
	}
	r.sample = sample
	if !outcome.IsDuplicate {
		r.dupMiss = outcome.Layer != models.LayerError
		r.markDone(models.StepDuplicateDetection)
		return nil
	}
	return outcome
}

func (p *Pipeline) stageSavePaper(r *run) error {
	r.progress(models.StepSavePaper, stageMilestones[models.StepSavePaper])

	pdfDir := filepath.Join(p.cfg.FileStorageDir, "pdfs")
	if err := os.MkdirAll(pdfDir, 0755); err != nil {
		return fmt.Errorf("failed to create pdf dir: %w", err)
	}
	dst := filepath.Join(pdfDir, r.docID+".pdf")
	if err := utils.CopyFileAtomic(r.srcPath, dst); err != nil {
		return fmt.Errorf("failed to store PDF: %w", err)
	}
	r.pdfPath = dst

	paper := &models.Paper{
		DocID:           r.docID,
		Filename:        r.filename,
		StoredPath:      dst,
		OCRQualityLabel: models.QualityUnknown,
	}
	if err := p.store.CreatePaper(paper); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// stageOCR extracts text. If the OCR capability is absent or unavailable the
// local PDF extractor substitutes; only a hard error with no usable fallback
// fails the job.
func (p *Pipeline) stageOCR(ctx context.Context, r *run) error {
	r.progress(models.StepOCR, stageMilestones[models.StepOCR])

	if p.analyzers.OCR != nil {
		res, err := p.analyzers.OCR.ExtractText(ctx, r.pdfPath, r.workDir)
		if err == nil {
			r.text = res.Text
			r.language = res.Language
			r.pageCount = res.PageCount
			r.firstPage = res.FirstPageImagePath
			if r.firstPage != "" {
				p.keepFirstPageImage(r)
			}
			p.persistText(r)
			return nil
		}
		if _, unavailable := err.(*models.CapabilityUnavailable); !unavailable {
			return err // hard OCR failure is critical
		}
		r.warn(fmt.Sprintf("ocr capability unavailable, using local extraction: %v", err))
	}

	text, pages, err := p.inspector.ExtractAllText(r.pdfPath)
	if err != nil {
		r.warn(fmt.Sprintf("local text extraction failed: %v", err))
		text, pages = "", 0
	}
	r.text = text
	r.pageCount = pages
	r.language = DetectLanguage(text)
	p.persistText(r)
	return nil
}

func (p *Pipeline) persistText(r *run) {
	if err := p.store.UpdateExtractedText(r.docID, r.text, r.language, r.pageCount); err != nil {
		r.warn(fmt.Sprintf("failed to persist extracted text: %v", err))
	}
}

// keepFirstPageImage moves the OCR's first-page render to its permanent
// location images/<doc_id>_page1.png.
func (p *Pipeline) keepFirstPageImage(r *run) {
	imgDir := filepath.Join(p.cfg.FileStorageDir, "images")
	if err := os.MkdirAll(imgDir, 0755); err != nil {
		r.warn(fmt.Sprintf("failed to create image dir: %v", err))
		return
	}
	dst := filepath.Join(imgDir, r.docID+"_page1.png")
	if err := utils.CopyFileAtomic(r.firstPage, dst); err != nil {
		r.warn(fmt.Sprintf("failed to keep first page image: %v", err))
		return
	}
	r.firstPage = dst
}

func (p *Pipeline) stageOCRQuality(ctx context.Context, r *run) error {
	if !p.cfg.EnableGPUIntensive || p.analyzers.Quality == nil {
		return p.store.SetOCRQuality(r.docID, models.QualityUnknown, false)
	}
	if r.firstPage == "" {
		r.warn("no first page image available for quality assessment")
		return p.store.SetOCRQuality(r.docID, models.QualityUnknown, false)
	}

	res, err := p.analyzers.Quality.AssessQuality(ctx, r.firstPage)
	if err != nil {
		return err
	}
	return p.store.SetOCRQuality(r.docID, res.Label, true)
}

// stageEmbeddings produces per-page vectors, the mean document vector and
// content_id. Returns a non-nil outcome when the document turns out to be a
// similarity duplicate, in which case nothing was written to the vector
// store.
func (p *Pipeline) stageEmbeddings(ctx context.Context, r *run) (*models.DetectionOutcome, error) {
	if p.analyzers.Embedder == nil {
		return nil, &models.CapabilityUnavailable{Name: "embeddings"}
	}

	pages, err := p.pageTexts(r)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page text to embed")
	}

	embedded := make([]models.PageEmbedding, 0, len(pages))
	vecs := make([][]float32, 0, len(pages))
	for _, page := range pages {
		vec, err := p.analyzers.Embedder.Embed(ctx, page.PageText)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.PageNumber, err)
		}
		page.Vector = vec
		embedded = append(embedded, page)
		vecs = append(vecs, vec)
	}

	docVec := vector.Mean(vecs)
	contentID := utils.SHA256Bytes(vector.EncodeFloat32LE(docVec))
	r.docVec = docVec

	// Same content_id on another paper means identical document vector.
	if existing, err := p.store.GetPaperByContentID(contentID); err == nil && existing.DocID != r.docID {
		return p.similarityOutcome(existing.DocID), nil
	}

	// Cosine scan against the vector store catches near-identical papers
	// that hash differently.
	if matches, err := p.vectors.Search(ctx, docVec, 1); err == nil && len(matches) > 0 {
		if matches[0].Score >= p.cfg.SimilarityDupThreshold && matches[0].DocID != r.docID {
			return p.similarityOutcome(matches[0].DocID), nil
		}
	}

	if err := p.store.SavePageEmbeddings(r.docID, embedded); err != nil {
		return nil, err
	}
	payload := map[string]string{"filename": r.filename, "language": r.language}
	if err := p.vectors.Upsert(ctx, r.docID, docVec, payload); err != nil {
		return nil, err
	}
	if err := p.store.SetContentID(r.docID, contentID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *Pipeline) similarityOutcome(matchedDoc string) *models.DetectionOutcome {
	if p.metrics != nil {
		p.metrics.RecordDuplicate(models.LayerSampleEmbedding)
	}
	return &models.DetectionOutcome{
		IsDuplicate: true,
		Layer:       models.LayerSampleEmbedding,
		MatchedDoc:  matchedDoc,
	}
}

// pageTexts splits extracted text into per-page records. When OCR produced a
// single undifferentiated blob, the local parser recovers page boundaries.
func (p *Pipeline) pageTexts(r *run) ([]models.PageEmbedding, error) {
	n := r.pageCount
	if n <= 0 {
		n = 1
	}
	pages := make([]models.PageEmbedding, 0, n)
	for i := 1; i <= n; i++ {
		text, err := p.inspector.PageText(r.pdfPath, i)
		if err != nil || text == "" {
			continue
		}
		pages = append(pages, models.PageEmbedding{DocID: r.docID, PageNumber: i, PageText: text})
	}
	if len(pages) == 0 && r.text != "" {
		// Scanned document: the only text is OCR output, treat it as one page
		pages = append(pages, models.PageEmbedding{DocID: r.docID, PageNumber: 1, PageText: r.text})
	}
	return pages, nil
}

func (p *Pipeline) stageLayout(ctx context.Context, r *run) error {
	if !p.cfg.EnableGPUIntensive || p.analyzers.Layout == nil {
		return p.store.SetLayoutCompleted(r.docID, false)
	}

	res, err := p.analyzers.Layout.AnalyzeLayout(ctx, r.pdfPath)
	if err != nil {
		return err
	}
	layout := &models.LayoutAnalysis{
		DocID:         r.docID,
		PageCount:     res.PageCount,
		TotalElements: res.TotalElements,
		ElementTypes:  res.ElementTypes,
		Pages:         res.Pages,
	}
	if err := p.store.SaveLayout(layout); err != nil {
		return err
	}
	return p.store.SetLayoutCompleted(r.docID, true)
}

func (p *Pipeline) stageMetadata(ctx context.Context, r *run) error {
	if r.text == "" {
		return fmt.Errorf("no text available for metadata extraction")
	}

	llmDone := false
	var meta *models.PaperMetadata
	if p.cfg.EnableGPUIntensive && p.analyzers.Metadata != nil {
		m, err := p.analyzers.Metadata.ExtractMetadata(ctx, r.text)
		if err != nil {
			r.warn(fmt.Sprintf("metadata LLM failed, falling back to rules: %v", err))
		} else {
			meta = m
			llmDone = true
		}
	}
	if meta == nil {
		m, err := analyzer.NewRuleBasedExtractor().ExtractMetadata(ctx, r.text)
		if err != nil {
			return err
		}
		meta = m
	}
	if meta.Empty() {
		return fmt.Errorf("no metadata fields recovered")
	}

	meta.DocID = r.docID
	if err := p.store.SaveMetadata(meta); err != nil {
		return err
	}
	return p.store.SetMetadataLLMCompleted(r.docID, llmDone)
}

// stageSaveHashes records the duplicate-prevention hashes. Only runs after a
// clean miss in stage 1; an errored detection run must not seed the tables.
func (p *Pipeline) stageSaveHashes(r *run) error {
	if !r.dupMiss {
		return fmt.Errorf("detection did not report a clean miss, skipping hash save")
	}
	results := p.detector.Record(r.pdfPath, r.filename, r.docID, r.sample)
	for layer, ok := range results {
		if !ok {
			r.warn(fmt.Sprintf("hash layer %s not recorded", layer))
		}
	}
	return nil
}

// discardPaper undoes save_paper when a later stage identifies the document
// as a duplicate.
func (p *Pipeline) discardPaper(r *run) {
	if err := p.store.DeletePaper(r.docID); err != nil {
		logger.Warn("Failed to remove duplicate paper row", "doc_id", r.docID, "error", err)
	}
	if r.pdfPath != "" {
		if err := os.Remove(r.pdfPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove duplicate PDF", "doc_id", r.docID, "error", err)
		}
	}
}

func (p *Pipeline) failResult(r *run, start time.Time, reason string) *models.PipelineResult {
	elapsed := time.Since(start)
	logger.Error("Pipeline failed", "job_id", r.jobID, "reason", reason)
	return &models.PipelineResult{
		Kind:           models.ResultFailed,
		DocID:          r.docID,
		StagesDone:     r.done,
		StagesFailed:   r.failed,
		Warnings:       r.warnings,
		Reason:         reason,
		ProcessingTime: elapsed,
		ElapsedSecs:    elapsed.Seconds(),
	}
}

func (r *run) warn(msg string) { r.warnings = append(r.warnings, msg) }

// markDone and markFailed mirror the step into the job row so status polls
// see live progress.
func (r *run) markDone(step string) {
	r.done = append(r.done, step)
	if r.recordStep != nil {
		r.recordStep(step, false)
	}
}

func (r *run) markFailed(step string) {
	r.failed = append(r.failed, step)
	if r.recordStep != nil {
		r.recordStep(step, true)
	}
}

// cleanupTemp removes the per-job scratch tree and the original upload.
func (r *run) cleanupTemp() {
	if err := os.RemoveAll(r.workDir); err != nil {
		logger.Warn("Failed to remove work dir", "job_id", r.jobID, "error", err)
	}
	if r.srcPath != "" {
		if err := os.Remove(r.srcPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove upload temp file", "job_id", r.jobID, "error", err)
		}
	}
}
