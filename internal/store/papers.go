package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/models"
)

// CreatePaper inserts the canonical row for a newly stored PDF.
func (s *Store) CreatePaper(p *models.Paper) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.OCRQualityLabel == "" {
		p.OCRQualityLabel = models.QualityUnknown
	}

	_, err := s.db.Exec(`INSERT INTO papers
		(doc_id, filename, stored_path, ocr_quality_label, page_count, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.DocID, p.Filename, p.StoredPath, p.OCRQualityLabel, p.PageCount, p.Language, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert paper: %w", err)
	}
	return nil
}

func scanPaper(row interface{ Scan(...any) error }) (*models.Paper, error) {
	var p models.Paper
	var contentID sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&p.DocID, &p.Filename, &p.StoredPath, &p.ExtractedText,
		&p.OCRQualityLabel, &contentID, &p.OCRQualityCompleted, &p.LayoutCompleted,
		&p.MetadataLLMCompleted, &p.PageCount, &p.Language,
		&p.CreatedAt, &p.UpdatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	p.ContentID = contentID.String
	if processedAt.Valid {
		t := processedAt.Time
		p.ProcessedAt = &t
	}
	return &p, nil
}

const paperColumns = `doc_id, filename, stored_path, extracted_text,
	ocr_quality_label, content_id, ocr_quality_completed, layout_completed,
	metadata_llm_completed, page_count, language, created_at, updated_at, processed_at`

// GetPaper returns the paper row or models.ErrNotFound.
func (s *Store) GetPaper(docID string) (*models.Paper, error) {
	row := s.db.QueryRow(`SELECT `+paperColumns+` FROM papers WHERE doc_id = ?`, docID)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read paper: %w", err)
	}
	return p, nil
}

// GetPaperByContentID returns the paper whose content_id matches, if any.
func (s *Store) GetPaperByContentID(contentID string) (*models.Paper, error) {
	row := s.db.QueryRow(`SELECT `+paperColumns+` FROM papers WHERE content_id = ?`, contentID)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read paper by content id: %w", err)
	}
	return p, nil
}

// UpdateExtractedText stores the OCR output on the paper row.
func (s *Store) UpdateExtractedText(docID, text, language string, pageCount int) error {
	return s.touchPaper(docID, `extracted_text = ?, language = ?, page_count = ?`, text, language, pageCount)
}

// SetOCRQuality records the quality label and completion flag.
func (s *Store) SetOCRQuality(docID, label string, completed bool) error {
	return s.touchPaper(docID, `ocr_quality_label = ?, ocr_quality_completed = ?`, label, completed)
}

// SetLayoutCompleted flips the layout flag.
func (s *Store) SetLayoutCompleted(docID string, completed bool) error {
	return s.touchPaper(docID, `layout_completed = ?`, completed)
}

// SetMetadataLLMCompleted flips the metadata flag.
func (s *Store) SetMetadataLLMCompleted(docID string, completed bool) error {
	return s.touchPaper(docID, `metadata_llm_completed = ?`, completed)
}

// SetContentID stores the document-embedding digest.
func (s *Store) SetContentID(docID, contentID string) error {
	return s.touchPaper(docID, `content_id = ?`, contentID)
}

// MarkProcessed stamps processed_at.
func (s *Store) MarkProcessed(docID string) error {
	return s.touchPaper(docID, `processed_at = ?`, time.Now().UTC())
}

func (s *Store) touchPaper(docID, setClause string, args ...any) error {
	args = append(args, time.Now().UTC(), docID)
	res, err := s.db.Exec(`UPDATE papers SET `+setClause+`, updated_at = ? WHERE doc_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update paper: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeletePaper removes the paper row; page embeddings, metadata and layout
// cascade. Hash rows do not cascade (they are cleaned as orphans).
func (s *Store) DeletePaper(docID string) error {
	res, err := s.db.Exec(`DELETE FROM papers WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete paper: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountPapers returns the total paper count.
func (s *Store) CountPapers() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM papers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return n, nil
}

// ListPapers returns a page of papers, newest first.
func (s *Store) ListPapers(limit, offset int) ([]*models.Paper, error) {
	rows, err := s.db.Query(`SELECT `+paperColumns+` FROM papers
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	var papers []*models.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// ListPaperIDs returns every doc_id.
func (s *Store) ListPaperIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT doc_id FROM papers`)
	if err != nil {
		return nil, fmt.Errorf("failed to list paper ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchPapers filters by free text over title/extracted text, plus optional
// title/author/year constraints from the metadata table.
func (s *Store) SearchPapers(q, title, author string, year, limit, offset int) ([]*models.Paper, error) {
	var conds []string
	var args []any

	if q != "" {
		conds = append(conds, `(p.filename LIKE ? OR p.extracted_text LIKE ? OR m.title LIKE ?)`)
		pat := "%" + q + "%"
		args = append(args, pat, pat, pat)
	}
	if title != "" {
		conds = append(conds, `m.title LIKE ?`)
		args = append(args, "%"+title+"%")
	}
	if author != "" {
		conds = append(conds, `m.authors LIKE ?`)
		args = append(args, "%"+author+"%")
	}
	if year != 0 {
		conds = append(conds, `m.year = ?`)
		args = append(args, year)
	}

	query := `SELECT ` + prefixColumns("p", paperColumns) + `
		FROM papers p LEFT JOIN paper_metadata m ON m.doc_id = p.doc_id`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY p.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search papers: %w", err)
	}
	defer rows.Close()

	var papers []*models.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// SavePageEmbeddings persists all page rows for a document in one
// transaction, replacing any previous set.
func (s *Store) SavePageEmbeddings(docID string, pages []models.PageEmbedding) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM page_embeddings WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to clear page embeddings: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO page_embeddings (doc_id, page_number, page_text, vector)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, pg := range pages {
		if _, err := stmt.Exec(docID, pg.PageNumber, pg.PageText, vector.EncodeFloat32LE(pg.Vector)); err != nil {
			return fmt.Errorf("failed to insert page %d: %w", pg.PageNumber, err)
		}
	}
	return tx.Commit()
}

// GetPageEmbeddings returns all page rows for a document in page order.
func (s *Store) GetPageEmbeddings(docID string) ([]models.PageEmbedding, error) {
	rows, err := s.db.Query(`SELECT page_number, page_text, vector
		FROM page_embeddings WHERE doc_id = ? ORDER BY page_number`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to read page embeddings: %w", err)
	}
	defer rows.Close()

	var pages []models.PageEmbedding
	for rows.Next() {
		var pg models.PageEmbedding
		var blob []byte
		if err := rows.Scan(&pg.PageNumber, &pg.PageText, &blob); err != nil {
			return nil, err
		}
		pg.DocID = docID
		pg.Vector = vector.DecodeFloat32LE(blob)
		pages = append(pages, pg)
	}
	return pages, rows.Err()
}

// GetPageEmbedding returns one page row or models.ErrNotFound.
func (s *Store) GetPageEmbedding(docID string, page int) (*models.PageEmbedding, error) {
	var pg models.PageEmbedding
	var blob []byte
	err := s.db.QueryRow(`SELECT page_number, page_text, vector
		FROM page_embeddings WHERE doc_id = ? AND page_number = ?`, docID, page).
		Scan(&pg.PageNumber, &pg.PageText, &blob)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read page embedding: %w", err)
	}
	pg.DocID = docID
	pg.Vector = vector.DecodeFloat32LE(blob)
	return &pg, nil
}

// SaveMetadata upserts the bibliographic row for a paper.
func (s *Store) SaveMetadata(m *models.PaperMetadata) error {
	authors, err := json.Marshal(m.Authors)
	if err != nil {
		return err
	}
	keywords, err := json.Marshal(m.Keywords)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO paper_metadata
		(doc_id, title, authors, journal, year, doi, abstract, keywords, extraction_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			title = excluded.title, authors = excluded.authors,
			journal = excluded.journal, year = excluded.year,
			doi = excluded.doi, abstract = excluded.abstract,
			keywords = excluded.keywords, extraction_method = excluded.extraction_method`,
		m.DocID, m.Title, string(authors), m.Journal, m.Year, m.DOI, m.Abstract,
		string(keywords), m.ExtractionMethod)
	if err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// GetMetadata returns the bibliographic row or models.ErrNotFound.
func (s *Store) GetMetadata(docID string) (*models.PaperMetadata, error) {
	var m models.PaperMetadata
	var authors, keywords string
	err := s.db.QueryRow(`SELECT doc_id, title, authors, journal, year, doi, abstract, keywords, extraction_method
		FROM paper_metadata WHERE doc_id = ?`, docID).
		Scan(&m.DocID, &m.Title, &authors, &m.Journal, &m.Year, &m.DOI, &m.Abstract, &keywords, &m.ExtractionMethod)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	json.Unmarshal([]byte(authors), &m.Authors)
	json.Unmarshal([]byte(keywords), &m.Keywords)
	return &m, nil
}

// SaveLayout upserts the layout summary for a paper.
func (s *Store) SaveLayout(l *models.LayoutAnalysis) error {
	types, err := json.Marshal(l.ElementTypes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO layout_analyses
		(doc_id, page_count, total_elements, element_types, pages)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			page_count = excluded.page_count,
			total_elements = excluded.total_elements,
			element_types = excluded.element_types,
			pages = excluded.pages`,
		l.DocID, l.PageCount, l.TotalElements, string(types), l.Pages)
	if err != nil {
		return fmt.Errorf("failed to save layout: %w", err)
	}
	return nil
}

// GetLayout returns the layout summary or models.ErrNotFound.
func (s *Store) GetLayout(docID string) (*models.LayoutAnalysis, error) {
	var l models.LayoutAnalysis
	var types string
	err := s.db.QueryRow(`SELECT doc_id, page_count, total_elements, element_types, pages
		FROM layout_analyses WHERE doc_id = ?`, docID).
		Scan(&l.DocID, &l.PageCount, &l.TotalElements, &types, &l.Pages)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	json.Unmarshal([]byte(types), &l.ElementTypes)
	return &l, nil
}
