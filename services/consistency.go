package services

import (
	"context"
	"fmt"
	"time"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

// ConsistencyChecker detects drift between the relational store and the
// vector store and repairs the categories that are safe to touch.
type ConsistencyChecker struct {
	cfg     *config.Config
	store   *store.Store
	vectors vector.Store
}

func NewConsistencyChecker(cfg *config.Config, st *store.Store, vs vector.Store) *ConsistencyChecker {
	return &ConsistencyChecker{cfg: cfg, store: st, vectors: vs}
}

// Check produces a full drift report. It only reads; nothing is repaired.
func (c *ConsistencyChecker) Check(ctx context.Context) (*models.ConsistencyReport, error) {
	report := &models.ConsistencyReport{
		CheckedAt:        time.Now().UTC(),
		IssuesBySeverity: make(map[string]int),
	}
	add := func(issue models.ConsistencyIssue) {
		report.Issues = append(report.Issues, issue)
	}

	paperIDs, err := c.store.ListPaperIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	vectorIDs, err := c.vectors.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vectors: %w", err)
	}
	report.PaperCount = len(paperIDs)
	report.VectorCount = len(vectorIDs)

	if report.PaperCount != report.VectorCount {
		add(models.ConsistencyIssue{
			Kind:     models.IssueCountMismatch,
			Severity: models.SeverityMedium,
			Detail:   fmt.Sprintf("paper count %d != vector count %d", report.PaperCount, report.VectorCount),
		})
	}

	vecSet := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		vecSet[id] = struct{}{}
	}
	paperSet := make(map[string]struct{}, len(paperIDs))
	for _, id := range paperIDs {
		paperSet[id] = struct{}{}
	}

	// Papers without a vector. Re-embedding is deliberately not attempted by
	// auto-fix; only the ingest pipeline produces vectors.
	for _, id := range paperIDs {
		if _, ok := vecSet[id]; !ok {
			add(models.ConsistencyIssue{
				Kind:     models.IssueMissingVector,
				Severity: models.SeverityHigh,
				DocID:    id,
				Detail:   "paper has no vector-store entry",
			})
		}
	}

	// Vectors without a paper
	for _, id := range vectorIDs {
		if _, ok := paperSet[id]; !ok {
			add(models.ConsistencyIssue{
				Kind:     models.IssueOrphanVector,
				Severity: models.SeverityHigh,
				DocID:    id,
				Detail:   "vector-store entry has no paper",
			})
		}
	}

	// Orphan hash rows
	orphans, err := c.store.CountOrphanHashes()
	if err != nil {
		return nil, fmt.Errorf("failed to count orphan hashes: %w", err)
	}
	for table, n := range orphans {
		if n > 0 {
			add(models.ConsistencyIssue{
				Kind:     models.IssueOrphanHash,
				Severity: models.SeverityLow,
				Detail:   fmt.Sprintf("%d orphan rows in %s", n, table),
				Fixable:  true,
			})
		}
	}

	// content_id drift: the stored digest must match the current vector.
	// Drift here is what makes duplicate hits return the wrong identity, so
	// a drifted content_id that another paper also claims is critical.
	for _, id := range paperIDs {
		paper, err := c.store.GetPaper(id)
		if err != nil || paper.ContentID == "" {
			continue
		}
		vec, err := c.vectors.Get(ctx, id)
		if err != nil {
			continue // already reported as missing_vector
		}
		digest := utils.SHA256Bytes(vector.EncodeFloat32LE(vec))
		if digest == paper.ContentID {
			continue
		}
		if other, err := c.store.GetPaperByContentID(digest); err == nil && other.DocID != id {
			add(models.ConsistencyIssue{
				Kind:     models.IssueIdentityRisk,
				Severity: models.SeverityCritical,
				DocID:    id,
				Detail:   fmt.Sprintf("content_id drift collides with paper %s; duplicate hits may return wrong identity", other.DocID),
			})
			continue
		}
		add(models.ConsistencyIssue{
			Kind:     models.IssueContentIDDrift,
			Severity: models.SeverityMedium,
			DocID:    id,
			Detail:   "content_id does not match digest of stored vector",
			Fixable:  true,
		})
	}

	for _, issue := range report.Issues {
		report.IssuesBySeverity[issue.Severity]++
	}
	report.TotalIssues = len(report.Issues)
	return report, nil
}

// Fix repairs fixable issues up to the configured severity cutoff. Every fix
// is idempotent; critical issues are never touched automatically.
func (c *ConsistencyChecker) Fix(ctx context.Context) (*models.FixResult, error) {
	report, err := c.Check(ctx)
	if err != nil {
		return nil, err
	}

	maxRank := models.SeverityRank(c.cfg.ConsistencyAutofixLevel)
	if models.SeverityRank(models.SeverityCritical) <= maxRank {
		// The config can never open up critical; clamp it.
		maxRank = models.SeverityRank(models.SeverityHigh)
	}

	result := &models.FixResult{}
	orphansDone := false
	for _, issue := range report.Issues {
		if !issue.Fixable || models.SeverityRank(issue.Severity) > maxRank {
			result.SkippedCount++
			continue
		}

		switch issue.Kind {
		case models.IssueOrphanHash:
			if orphansDone {
				continue // one sweep covers every orphan-hash issue
			}
			n, err := c.store.DeleteOrphanHashes()
			if err != nil {
				result.SkippedCount++
				result.Details = append(result.Details, fmt.Sprintf("orphan hash cleanup failed: %v", err))
				continue
			}
			orphansDone = true
			result.FixedCount += n
			result.Details = append(result.Details, fmt.Sprintf("deleted %d orphan hash rows", n))

		case models.IssueContentIDDrift:
			vec, err := c.vectors.Get(ctx, issue.DocID)
			if err != nil {
				result.SkippedCount++
				continue
			}
			digest := utils.SHA256Bytes(vector.EncodeFloat32LE(vec))
			if err := c.store.SetContentID(issue.DocID, digest); err != nil {
				result.SkippedCount++
				result.Details = append(result.Details, fmt.Sprintf("content_id fix for %s failed: %v", issue.DocID, err))
				continue
			}
			result.FixedCount++
			result.Details = append(result.Details, fmt.Sprintf("recomputed content_id for %s", issue.DocID))

		default:
			result.SkippedCount++
		}
	}

	logger.Info("Consistency auto-fix finished", "fixed", result.FixedCount, "skipped", result.SkippedCount)
	return result, nil
}
