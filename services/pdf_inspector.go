package services

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFInfo is what local parsing can tell us about a PDF without any external
// analyzer: structural validity, page count and the document info dictionary.
type PDFInfo struct {
	PageCount int
	Title     string
	Author    string
	Creator   string
}

// PDFInspector parses PDFs locally. Used by upload validation (structure
// check, page count) and by duplicate detection (info dictionary plus early
// page text). The underlying library panics on some malformed files, so
// every entry point recovers and reports the panic as a parse error.
type PDFInspector struct{}

func NewPDFInspector() *PDFInspector { return &PDFInspector{} }

// Inspect opens the PDF and reads its structure and info dictionary.
func (p *PDFInspector) Inspect(path string) (info *PDFInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = nil
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	info = &PDFInfo{PageCount: reader.NumPage()}

	trailer := reader.Trailer()
	docInfo := trailer.Key("Info")
	if !docInfo.IsNull() {
		info.Title = docInfo.Key("Title").Text()
		info.Author = docInfo.Key("Author").Text()
		info.Creator = docInfo.Key("Creator").Text()
	}
	return info, nil
}

// PageText extracts plain text from one page (1-based). Pages the library
// cannot decode yield an empty string, not an error.
func (p *PDFInspector) PageText(path string, pageNum int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	if pageNum < 1 || pageNum > reader.NumPage() {
		return "", fmt.Errorf("page %d out of range (document has %d pages)", pageNum, reader.NumPage())
	}

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return "", nil
	}
	fonts := make(map[string]*pdf.Font)
	text, err = page.GetPlainText(fonts)
	if err != nil {
		return "", nil
	}
	return text, nil
}

// FirstPagesText concatenates text from the first n pages, capping each page
// at perPageLimit bytes.
func (p *PDFInspector) FirstPagesText(path string, n, perPageLimit int) (string, error) {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		text, err := p.PageText(path, i)
		if err != nil {
			// Out of range means the document is shorter than n pages
			if strings.Contains(err.Error(), "out of range") {
				break
			}
			return "", err
		}
		if perPageLimit > 0 && len(text) > perPageLimit {
			text = text[:perPageLimit]
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// ExtractAllText pulls plain text from every page. Fallback extraction for
// born-digital PDFs when the OCR service is not configured.
func (p *PDFInspector) ExtractAllText(path string) (text string, pageCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, pageCount = "", 0
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	pageCount = reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), pageCount, nil
}

// DetectLanguage is a cheap common-word heuristic; good enough to tag papers
// for filtering.
func DetectLanguage(text string) string {
	lowerText := strings.ToLower(text)

	englishWords := []string{"the", "and", "of", "to", "in", "for", "with", "that", "this", "are"}
	englishCount := 0
	for _, word := range englishWords {
		englishCount += strings.Count(lowerText, " "+word+" ")
	}
	if englishCount > 10 {
		return "en"
	}
	return "unknown"
}
