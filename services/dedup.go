package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"paper-ingest-platform/internal/analyzer"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

const (
	// L1 canonical string uses at most this much early-page text
	contentHashTextLimit = 5000
	contentHashPages     = 3

	// L2 sample limits
	samplePerPageLimit = 1024
	sampleTotalLimit   = 4096
)

// DuplicateDetector runs the three-layer cascade: file digest, content
// digest, sample-embedding digest. Each layer is cheaper than reprocessing
// and more expensive than the previous one.
type DuplicateDetector struct {
	store     *store.Store
	inspector *PDFInspector
	embedder  analyzer.Embedder
	metrics   *telemetry.Metrics
}

func NewDuplicateDetector(st *store.Store, inspector *PDFInspector, embedder analyzer.Embedder, metrics *telemetry.Metrics) *DuplicateDetector {
	return &DuplicateDetector{store: st, inspector: inspector, embedder: embedder, metrics: metrics}
}

// SampleArtifacts carries the L2 sample computed during Check so Record can
// persist the hash without re-invoking the embedder.
type SampleArtifacts struct {
	Text   string
	Vector []float32
	Digest string
}

// Check runs the cascade for the file at path and logs the invocation. A
// layer failure is not fatal; the cascade proceeds and only reports an error
// result when every layer failed. On a miss the returned artifacts hold the
// sample embedding for a later Record call.
func (d *DuplicateDetector) Check(ctx context.Context, path, filename string) (*models.DetectionOutcome, *SampleArtifacts, error) {
	start := time.Now()

	log := &models.DetectionLog{
		DetectionID: uuid.NewString(),
		Filename:    filename,
		CreatedAt:   start.UTC(),
	}
	if stat, err := os.Stat(path); err == nil {
		log.FileSize = stat.Size()
	}

	var layerErrs []error

	// L0: byte-identical file
	l0Start := time.Now()
	docID, hit, err := d.checkFileHash(path)
	log.FileHashTime = elapsedSecs(l0Start)
	if err != nil {
		layerErrs = append(layerErrs, fmt.Errorf("L0: %w", err))
		logger.Warn("File hash layer failed", "filename", filename, "error", err)
	} else if hit {
		return d.finish(log, models.LayerFileHash, docID, start)
	}

	// L1: document info + early page text
	l1Start := time.Now()
	docID, hit, err = d.checkContentHash(path)
	log.ContentHashTime = elapsedSecs(l1Start)
	if err != nil {
		layerErrs = append(layerErrs, fmt.Errorf("L1: %w", err))
		logger.Warn("Content hash layer failed", "filename", filename, "error", err)
	} else if hit {
		return d.finish(log, models.LayerContentHash, docID, start)
	}

	// L2: sample embedding digest
	l2Start := time.Now()
	var artifacts *SampleArtifacts
	docID, hit, artifacts, err = d.checkSampleEmbedding(ctx, path)
	log.SampleEmbedTime = elapsedSecs(l2Start)
	if err != nil {
		layerErrs = append(layerErrs, fmt.Errorf("L2: %w", err))
		logger.Warn("Sample embedding layer failed", "filename", filename, "error", err)
	} else if hit {
		return d.finish(log, models.LayerSampleEmbedding, docID, start)
	}

	elapsed := time.Since(start)
	outcome := &models.DetectionOutcome{
		Layer:       models.LayerNone,
		Elapsed:     elapsed,
		ElapsedSecs: elapsed.Seconds(),
	}
	log.TotalTime = elapsed.Seconds()

	if len(layerErrs) == 3 {
		// Every layer errored: report that rather than a clean miss
		outcome.Layer = models.LayerError
		log.Result = models.DetectionError
		log.Layer = models.LayerError
		log.ErrorMessage = fmt.Sprintf("%v", layerErrs)
	} else {
		log.Result = models.DetectionNoDuplicate
		log.Layer = models.LayerNone
	}

	if err := d.store.InsertDetectionLog(log); err != nil {
		logger.Error("Failed to write detection log", "error", err)
	}
	return outcome, artifacts, nil
}

func (d *DuplicateDetector) finish(log *models.DetectionLog, layer, docID string, start time.Time) (*models.DetectionOutcome, *SampleArtifacts, error) {
	elapsed := time.Since(start)
	log.Result = models.DetectionDuplicateFound
	log.Layer = layer
	log.MatchedDocID = docID
	log.TotalTime = elapsed.Seconds()
	log.EstimatedTimeSaved = estimateTimeSaved(log.FileSize, elapsed)

	if err := d.store.InsertDetectionLog(log); err != nil {
		logger.Error("Failed to write detection log", "error", err)
	}
	if d.metrics != nil {
		d.metrics.RecordDuplicate(layer)
	}
	logger.Info("Duplicate detected", "filename", log.Filename, "layer", layer,
		"matched_doc_id", docID, "elapsed", elapsed)

	return &models.DetectionOutcome{
		IsDuplicate: true,
		Layer:       layer,
		MatchedDoc:  docID,
		Elapsed:     elapsed,
		ElapsedSecs: elapsed.Seconds(),
	}, nil, nil
}

// estimateTimeSaved models full processing as a 60s floor plus 20s per MiB.
func estimateTimeSaved(fileSize int64, elapsed time.Duration) float64 {
	sizeMiB := float64(fileSize) / (1 << 20)
	saved := 60 + sizeMiB*20 - elapsed.Seconds()
	if saved < 0 {
		return 0
	}
	return saved
}

func elapsedSecs(start time.Time) *float64 {
	s := time.Since(start).Seconds()
	return &s
}

func (d *DuplicateDetector) checkFileHash(path string) (string, bool, error) {
	md5sum, err := utils.MD5File(path)
	if err != nil {
		return "", false, err
	}
	return d.store.LookupFileHash(md5sum)
}

func (d *DuplicateDetector) checkContentHash(path string) (string, bool, error) {
	digest, _, err := d.contentDigest(path)
	if err != nil {
		return "", false, err
	}
	return d.store.LookupContentHash(digest)
}

// contentDigest builds the canonical L1 string and hashes it.
func (d *DuplicateDetector) contentDigest(path string) (string, *models.ContentHash, error) {
	info, err := d.inspector.Inspect(path)
	if err != nil {
		return "", nil, err
	}
	text, err := d.inspector.FirstPagesText(path, contentHashPages, contentHashTextLimit)
	if err != nil {
		return "", nil, err
	}
	if len(text) > contentHashTextLimit {
		text = text[:contentHashTextLimit]
	}

	canonical := fmt.Sprintf("%s|%s|%s|%d|%s", info.Title, info.Author, info.Creator, info.PageCount, text)
	digest := utils.SHA256Bytes([]byte(canonical))

	return digest, &models.ContentHash{
		ContentDigest:       digest,
		PDFTitle:            info.Title,
		PDFAuthor:           info.Author,
		PDFCreator:          info.Creator,
		FirstThreePagesText: text,
		PageCount:           info.PageCount,
	}, nil
}

// checkSampleEmbedding embeds text sampled from the first, middle and last
// pages and hashes the little-endian float32 bytes of the vector. The byte
// encoding is pinned so digests match across architectures.
func (d *DuplicateDetector) checkSampleEmbedding(ctx context.Context, path string) (string, bool, *SampleArtifacts, error) {
	if d.embedder == nil {
		return "", false, nil, &models.CapabilityUnavailable{Name: "embeddings"}
	}

	sample, err := d.sampleText(path)
	if err != nil {
		return "", false, nil, err
	}
	if sample == "" {
		return "", false, nil, fmt.Errorf("no text available for sampling")
	}

	vec, err := d.embedder.Embed(ctx, sample)
	if err != nil {
		return "", false, nil, err
	}

	digest := utils.SHA256Bytes(vector.EncodeFloat32LE(vec))
	artifacts := &SampleArtifacts{Text: sample, Vector: vec, Digest: digest}

	docID, hit, err := d.store.LookupSampleEmbeddingHash(digest, models.StrategyFirstLastMiddle)
	return docID, hit, artifacts, err
}

// sampleText picks pages 1, N/2 and N (deduplicated) and concatenates up to
// 1 KiB per page, capped at 4 KiB total.
func (d *DuplicateDetector) sampleText(path string) (string, error) {
	info, err := d.inspector.Inspect(path)
	if err != nil {
		return "", err
	}
	n := info.PageCount
	if n == 0 {
		return "", fmt.Errorf("document has no pages")
	}

	pages := []int{1}
	if mid := n / 2; mid > 1 && mid != n {
		pages = append(pages, mid)
	}
	if n > 1 {
		pages = append(pages, n)
	}

	var sample string
	for _, p := range pages {
		text, err := d.inspector.PageText(path, p)
		if err != nil {
			continue
		}
		if len(text) > samplePerPageLimit {
			text = text[:samplePerPageLimit]
		}
		sample += text
		if len(sample) >= sampleTotalLimit {
			sample = sample[:sampleTotalLimit]
			break
		}
	}
	return sample, nil
}

// Record writes all three hash layers for a freshly ingested paper. It is
// pure I/O: the L2 vector comes from the sample computed during Check, so
// recording never re-enters the embedder mid-pipeline. Each layer's success
// is reported independently; a failed layer only weakens future detection,
// it never fails ingestion.
func (d *DuplicateDetector) Record(path, filename, docID string, sample *SampleArtifacts) map[string]bool {
	results := map[string]bool{
		models.LayerFileHash:        false,
		models.LayerContentHash:     false,
		models.LayerSampleEmbedding: false,
	}

	if md5sum, err := utils.MD5File(path); err == nil {
		h := &models.FileHash{FileMD5: md5sum, OriginalFilename: filename, DocID: docID}
		if stat, err := os.Stat(path); err == nil {
			h.FileSize = stat.Size()
		}
		if err := d.store.InsertFileHash(h); err == nil {
			results[models.LayerFileHash] = true
		} else {
			logger.Warn("Failed to record file hash", "doc_id", docID, "error", err)
		}
	} else {
		logger.Warn("Failed to compute file hash", "doc_id", docID, "error", err)
	}

	if _, h, err := d.contentDigest(path); err == nil {
		h.DocID = docID
		if err := d.store.InsertContentHash(h); err == nil {
			results[models.LayerContentHash] = true
		} else {
			logger.Warn("Failed to record content hash", "doc_id", docID, "error", err)
		}
	} else {
		logger.Warn("Failed to compute content hash", "doc_id", docID, "error", err)
	}

	if sample != nil {
		h := &models.SampleEmbeddingHash{
			EmbeddingDigest: sample.Digest,
			Strategy:        models.StrategyFirstLastMiddle,
			SampleText:      sample.Text,
			VectorBytes:     vector.EncodeFloat32LE(sample.Vector),
			Dimension:       len(sample.Vector),
			ModelName:       d.embedder.ModelName(),
			DocID:           docID,
		}
		if err := d.store.InsertSampleEmbeddingHash(h); err == nil {
			results[models.LayerSampleEmbedding] = true
		} else {
			logger.Warn("Failed to record sample embedding hash", "doc_id", docID, "error", err)
		}
	} else {
		logger.Warn("No sample embedding available to record", "doc_id", docID)
	}

	return results
}

// CleanupOrphans removes hash rows whose paper no longer exists.
func (d *DuplicateDetector) CleanupOrphans() (int, error) {
	return d.store.DeleteOrphanHashes()
}

// CleanupDuplicates keeps only the newest hash row per paper (and strategy).
func (d *DuplicateDetector) CleanupDuplicates() (int, error) {
	return d.store.DeleteDuplicateHashes()
}

// CleanupUnused removes hash rows for papers older than olderThanDays that
// no recent detection matched.
func (d *DuplicateDetector) CleanupUnused(olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	return d.store.DeleteUnusedHashes(cutoff)
}

// CleanupLogs enforces the detection log retention window.
func (d *DuplicateDetector) CleanupLogs(retentionDays int) (int, error) {
	return d.store.DeleteOldDetectionLogs(retentionDays)
}
