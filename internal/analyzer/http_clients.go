package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/models"
)

// writeArtifact decodes a base64 payload from an analyzer response into
// workDir. An empty payload is not an error; the analyzer just did not
// produce that artifact.
func writeArtifact(workDir, name, b64 string) (string, error) {
	if b64 == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s artifact: %w", name, err)
	}
	path := filepath.Join(workDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s artifact: %w", name, err)
	}
	return path, nil
}

// postFile sends a file as multipart form data and decodes the JSON response
// into out. Connection failures surface as CapabilityUnavailable so callers
// can distinguish "service down" from "service rejected this document".
func postFile(ctx context.Context, client *http.Client, url, capability, filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fileWriter, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return &models.CapabilityUnavailable{Name: capability, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return &models.CapabilityUnavailable{Name: capability, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s request failed with status %d: %s", capability, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", capability, err)
	}
	return nil
}

// QualityClient scores OCR quality from the first-page image via the quality
// service.
type QualityClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewQualityClient(cfg *config.Config) *QualityClient {
	return &QualityClient{
		httpClient: &http.Client{Timeout: cfg.AnalyzerTimeout},
		baseURL:    cfg.QualityServiceURL,
	}
}

type qualityResponse struct {
	Success bool               `json:"success"`
	Label   string             `json:"label"`
	Scores  map[string]float64 `json:"scores,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func (c *QualityClient) AssessQuality(ctx context.Context, imagePath string) (*QualityResult, error) {
	var resp qualityResponse
	if err := postFile(ctx, c.httpClient, c.baseURL+"/quality/assess", "ocr_quality", imagePath, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("quality assessment failed: %s", resp.Error)
	}
	if !models.ValidQualityLabel(resp.Label) {
		return nil, fmt.Errorf("quality service returned unknown label %q", resp.Label)
	}
	return &QualityResult{Label: resp.Label, Detail: resp.Scores}, nil
}

// LayoutClient describes page layout via the layout service.
type LayoutClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewLayoutClient(cfg *config.Config) *LayoutClient {
	return &LayoutClient{
		httpClient: &http.Client{Timeout: cfg.AnalyzerTimeout},
		baseURL:    cfg.LayoutServiceURL,
	}
}

type layoutResponse struct {
	Success       bool            `json:"success"`
	PageCount     int             `json:"page_count"`
	TotalElements int             `json:"total_elements"`
	ElementTypes  map[string]int  `json:"element_types"`
	Pages         json.RawMessage `json:"pages,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func (c *LayoutClient) AnalyzeLayout(ctx context.Context, pdfPath string) (*LayoutResult, error) {
	var resp layoutResponse
	if err := postFile(ctx, c.httpClient, c.baseURL+"/layout/analyze", "layout", pdfPath, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("layout analysis failed: %s", resp.Error)
	}
	return &LayoutResult{
		PageCount:     resp.PageCount,
		TotalElements: resp.TotalElements,
		ElementTypes:  resp.ElementTypes,
		Pages:         resp.Pages,
	}, nil
}
