package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/models"
)

// OCRClient talks to the external OCR service over HTTP.
type OCRClient struct {
	httpClient *http.Client
	baseURL    string
}

type ocrResponse struct {
	Success      bool    `json:"success"`
	Text         string  `json:"text"`
	Pages        int     `json:"pages"`
	Language     string  `json:"language"`
	OCRPerformed bool    `json:"ocr_performed"`
	OCRPDF       string  `json:"ocr_pdf_base64,omitempty"`
	FirstPagePNG string  `json:"first_page_png_base64,omitempty"`
	QualityScore float64 `json:"quality_score"`
	Error        string  `json:"error,omitempty"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewOCRClient builds a client for the configured OCR service. OCR of large
// scans is slow, so the HTTP timeout comes from ANALYZER_TIMEOUT.
func NewOCRClient(cfg *config.Config) *OCRClient {
	return &OCRClient{
		httpClient: &http.Client{Timeout: cfg.AnalyzerTimeout},
		baseURL:    cfg.OCRServiceURL,
	}
}

// IsHealthy checks the OCR service health endpoint.
func (c *OCRClient) IsHealthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCR service unhealthy: status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health.Status == "healthy" && health.ModelLoaded, nil
}

// ExtractText runs OCR on the PDF at pdfPath. Decoded artifacts (searchable
// PDF, first-page image) are written into workDir.
func (c *OCRClient) ExtractText(ctx context.Context, pdfPath, workDir string) (*OCRResult, error) {
	healthy, err := c.IsHealthy(ctx)
	if err != nil {
		return nil, &models.CapabilityUnavailable{Name: "ocr", Cause: err}
	}
	if !healthy {
		return nil, &models.CapabilityUnavailable{Name: "ocr", Cause: fmt.Errorf("service reports unhealthy")}
	}

	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fileWriter, err := writer.CreateFormFile("file", filepath.Base(pdfPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %w", err)
	}
	writer.WriteField("return_searchable_pdf", "true")
	writer.WriteField("return_first_page_image", "true")
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/ocr/extract", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.CapabilityUnavailable{Name: "ocr", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OCR request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var ocrResp ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocrResp); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}
	if !ocrResp.Success {
		return nil, fmt.Errorf("OCR processing failed: %s", ocrResp.Error)
	}

	result := &OCRResult{
		Text:         ocrResp.Text,
		Language:     ocrResp.Language,
		PageCount:    ocrResp.Pages,
		OCRPerformed: ocrResp.OCRPerformed,
	}
	if p, err := writeArtifact(workDir, "ocr.pdf", ocrResp.OCRPDF); err == nil && p != "" {
		result.OCRPDFPath = p
	}
	if p, err := writeArtifact(workDir, "first_page.png", ocrResp.FirstPagePNG); err == nil && p != "" {
		result.FirstPageImagePath = p
	} else if err != nil {
		logger.Warn("Failed to persist OCR artifact", "error", err)
	}
	return result, nil
}
