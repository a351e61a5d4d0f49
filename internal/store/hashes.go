package store

import (
	"database/sql"
	"fmt"
	"time"

	"paper-ingest-platform/models"
)

// InsertFileHash records an L0 row; an existing digest is left untouched.
func (s *Store) InsertFileHash(h *models.FileHash) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO file_hashes
		(file_md5, file_size, original_filename, doc_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		h.FileMD5, h.FileSize, h.OriginalFilename, h.DocID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert file hash: %w", err)
	}
	return nil
}

// LookupFileHash returns the doc_id recorded for a raw-bytes digest.
func (s *Store) LookupFileHash(md5 string) (string, bool, error) {
	var docID string
	err := s.db.QueryRow(`SELECT doc_id FROM file_hashes WHERE file_md5 = ?`, md5).Scan(&docID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up file hash: %w", err)
	}
	return docID, true, nil
}

// InsertContentHash records an L1 row.
func (s *Store) InsertContentHash(h *models.ContentHash) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO content_hashes
		(content_digest, pdf_title, pdf_author, pdf_creator, first_three_pages_text, page_count, doc_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ContentDigest, h.PDFTitle, h.PDFAuthor, h.PDFCreator,
		h.FirstThreePagesText, h.PageCount, h.DocID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert content hash: %w", err)
	}
	return nil
}

// LookupContentHash returns the doc_id recorded for a canonical-text digest.
func (s *Store) LookupContentHash(digest string) (string, bool, error) {
	var docID string
	err := s.db.QueryRow(`SELECT doc_id FROM content_hashes WHERE content_digest = ?`, digest).Scan(&docID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up content hash: %w", err)
	}
	return docID, true, nil
}

// InsertSampleEmbeddingHash records an L2 row.
func (s *Store) InsertSampleEmbeddingHash(h *models.SampleEmbeddingHash) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO sample_embedding_hashes
		(embedding_digest, strategy, sample_text, vector_bytes, dimension, model_name, doc_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.EmbeddingDigest, h.Strategy, h.SampleText, h.VectorBytes,
		h.Dimension, h.ModelName, h.DocID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert sample embedding hash: %w", err)
	}
	return nil
}

// LookupSampleEmbeddingHash returns the doc_id recorded for an embedding
// digest under the given sampling strategy.
func (s *Store) LookupSampleEmbeddingHash(digest, strategy string) (string, bool, error) {
	var docID string
	err := s.db.QueryRow(`SELECT doc_id FROM sample_embedding_hashes
		WHERE embedding_digest = ? AND strategy = ?`, digest, strategy).Scan(&docID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up sample embedding hash: %w", err)
	}
	return docID, true, nil
}

// HashStats counts rows in each hash table.
func (s *Store) HashStats() (map[string]int, error) {
	stats := make(map[string]int, 3)
	for table, key := range map[string]string{
		"file_hashes":             "file_hashes_count",
		"content_hashes":          "content_hashes_count",
		"sample_embedding_hashes": "sample_embedding_hashes_count",
	} {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[key] = n
	}
	return stats, nil
}

// HashesForPaper reports how many hash rows of each layer point at a paper.
func (s *Store) HashesForPaper(docID string) (map[string]int, error) {
	out := make(map[string]int, 3)
	for table, key := range map[string]string{
		"file_hashes":             "file_hashes",
		"content_hashes":          "content_hashes",
		"sample_embedding_hashes": "sample_embedding_hashes",
	} {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE doc_id = ?`, docID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s for paper: %w", table, err)
		}
		out[key] = n
	}
	return out, nil
}

var hashTables = []string{"file_hashes", "content_hashes", "sample_embedding_hashes"}

// CountOrphanHashes counts hash rows whose doc_id no longer resolves to a
// paper, per table.
func (s *Store) CountOrphanHashes() (map[string]int, error) {
	out := make(map[string]int, len(hashTables))
	for _, table := range hashTables {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table +
			` WHERE doc_id NOT IN (SELECT doc_id FROM papers)`).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to count orphans in %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// DeleteOrphanHashes removes hash rows whose doc_id no longer resolves to a
// paper. Idempotent; returns rows removed.
func (s *Store) DeleteOrphanHashes() (int, error) {
	total := 0
	for _, table := range hashTables {
		res, err := s.db.Exec(`DELETE FROM ` + table +
			` WHERE doc_id NOT IN (SELECT doc_id FROM papers)`)
		if err != nil {
			return total, fmt.Errorf("failed to delete orphans from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// DeleteDuplicateHashes keeps only the newest row per paper (per strategy
// for the L2 table) and removes the rest.
func (s *Store) DeleteDuplicateHashes() (int, error) {
	total := 0

	for _, table := range []string{"file_hashes", "content_hashes"} {
		res, err := s.db.Exec(`DELETE FROM ` + table + ` WHERE rowid NOT IN (
			SELECT MAX(rowid) FROM ` + table + ` GROUP BY doc_id
		)`)
		if err != nil {
			return total, fmt.Errorf("failed to dedupe %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}

	res, err := s.db.Exec(`DELETE FROM sample_embedding_hashes WHERE rowid NOT IN (
		SELECT MAX(rowid) FROM sample_embedding_hashes GROUP BY doc_id, strategy
	)`)
	if err != nil {
		return total, fmt.Errorf("failed to dedupe sample_embedding_hashes: %w", err)
	}
	n, _ := res.RowsAffected()
	total += int(n)
	return total, nil
}

// DeleteUnusedHashes removes hash rows whose paper is older than the cutoff
// and has not been the matched document of any detection since the cutoff.
func (s *Store) DeleteUnusedHashes(olderThan time.Time) (int, error) {
	total := 0
	for _, table := range hashTables {
		res, err := s.db.Exec(`DELETE FROM `+table+` WHERE doc_id IN (
			SELECT doc_id FROM papers WHERE created_at < ?
		) AND doc_id NOT IN (
			SELECT matched_doc_id FROM detection_logs
			WHERE matched_doc_id IS NOT NULL AND created_at >= ?
		)`, olderThan, olderThan)
		if err != nil {
			return total, fmt.Errorf("failed to delete unused hashes from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// InsertDetectionLog records one cascade invocation.
func (s *Store) InsertDetectionLog(l *models.DetectionLog) error {
	var matched any
	if l.MatchedDocID != "" {
		matched = l.MatchedDocID
	}
	_, err := s.db.Exec(`INSERT INTO detection_logs
		(detection_id, filename, file_size, result, layer, matched_doc_id,
		 total_time, file_hash_time, content_hash_time, sample_embedding_time,
		 estimated_time_saved, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.DetectionID, l.Filename, l.FileSize, l.Result, l.Layer, matched,
		l.TotalTime, l.FileHashTime, l.ContentHashTime, l.SampleEmbedTime,
		l.EstimatedTimeSaved, nullIfEmpty(l.ErrorMessage), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert detection log: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListRecentDetections returns the newest detection logs.
func (s *Store) ListRecentDetections(limit int) ([]models.DetectionLog, error) {
	rows, err := s.db.Query(`SELECT detection_id, filename, file_size, result, layer,
		matched_doc_id, total_time, file_hash_time, content_hash_time,
		sample_embedding_time, estimated_time_saved, error_message, created_at
		FROM detection_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var logs []models.DetectionLog
	for rows.Next() {
		var l models.DetectionLog
		var matched, errMsg sql.NullString
		if err := rows.Scan(&l.DetectionID, &l.Filename, &l.FileSize, &l.Result, &l.Layer,
			&matched, &l.TotalTime, &l.FileHashTime, &l.ContentHashTime,
			&l.SampleEmbedTime, &l.EstimatedTimeSaved, &errMsg, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.MatchedDocID = matched.String
		l.ErrorMessage = errMsg.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DetectionStats aggregates the detection log.
type DetectionStats struct {
	TotalChecks        int            `json:"total_checks"`
	DuplicatesFound    int            `json:"duplicates_found"`
	Errors             int            `json:"errors"`
	ByLayer            map[string]int `json:"by_layer"`
	AvgDetectionTime   float64        `json:"avg_detection_time"`
	TotalTimeSaved     float64        `json:"total_time_saved"`
	EstimatedTimeSaved float64        `json:"estimated_time_saved_last_30d"`
}

// GetDetectionStats aggregates counts, layer distribution, mean latency and
// the time-saved estimate.
func (s *Store) GetDetectionStats() (*DetectionStats, error) {
	stats := &DetectionStats{ByLayer: make(map[string]int)}

	err := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(total_time), 0),
		COALESCE(SUM(estimated_time_saved), 0)
		FROM detection_logs`,
		models.DetectionDuplicateFound, models.DetectionError).
		Scan(&stats.TotalChecks, &stats.DuplicatesFound, &stats.Errors,
			&stats.AvgDetectionTime, &stats.TotalTimeSaved)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate detection stats: %w", err)
	}

	rows, err := s.db.Query(`SELECT layer, COUNT(*) FROM detection_logs GROUP BY layer`)
	if err != nil {
		return nil, fmt.Errorf("failed to group detections by layer: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var layer string
		var n int
		if err := rows.Scan(&layer, &n); err != nil {
			return nil, err
		}
		stats.ByLayer[layer] = n
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	err = s.db.QueryRow(`SELECT COALESCE(SUM(estimated_time_saved), 0)
		FROM detection_logs WHERE created_at >= ?`, cutoff).Scan(&stats.EstimatedTimeSaved)
	if err != nil {
		return nil, err
	}
	return stats, rows.Err()
}

// DeleteOldDetectionLogs removes logs older than the given number of days.
func (s *Store) DeleteOldDetectionLogs(days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := s.db.Exec(`DELETE FROM detection_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old detection logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
