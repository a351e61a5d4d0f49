package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/internal/telemetry"
	"paper-ingest-platform/models"
)

const metadataModel = "gemini-2.0-flash"

// Text sent to the metadata LLM is capped; bibliographic fields live in the
// front matter anyway.
const metadataTextLimit = 8000

// GeminiExtractor recovers bibliographic metadata with an LLM. The API key
// is only required at first use, so a deployment without one still boots;
// the pipeline then falls back to rule-based extraction.
type GeminiExtractor struct {
	apiKey      string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	metrics     *telemetry.Metrics

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiExtractor(apiKey string, metrics *telemetry.Metrics) *GeminiExtractor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiMetadata",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if metrics != nil {
				metrics.RecordBreakerChange(name, from.String(), to.String())
			}
		},
	})

	// Free-tier RPM with some headroom
	limiter := rate.NewLimiter(rate.Limit(10*0.9/60.0), 2)

	return &GeminiExtractor{
		apiKey:      apiKey,
		breaker:     breaker,
		rateLimiter: limiter,
		metrics:     metrics,
	}
}

func (g *GeminiExtractor) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	if g.apiKey == "" {
		return nil, &models.CapabilityUnavailable{Name: "metadata_llm", Cause: fmt.Errorf("no API key configured")}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, &models.CapabilityUnavailable{Name: "metadata_llm", Cause: err}
	}
	g.client = client
	return client, nil
}

// Close releases the underlying genai client if one was created.
func (g *GeminiExtractor) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		err := g.client.Close()
		g.client = nil
		return err
	}
	return nil
}

type llmMetadata struct {
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	Journal  string   `json:"journal"`
	Year     int      `json:"year"`
	DOI      string   `json:"doi"`
	Abstract string   `json:"abstract"`
	Keywords []string `json:"keywords"`
}

// ExtractMetadata asks the model for structured JSON first and falls back to
// a plain prompt when the structured call fails to parse.
func (g *GeminiExtractor) ExtractMetadata(ctx context.Context, text string) (*models.PaperMetadata, error) {
	if len(text) > metadataTextLimit {
		text = text[:metadataTextLimit]
	}

	meta, err := g.generate(ctx, text, true)
	if err == nil {
		meta.ExtractionMethod = models.ExtractionStructuredLLM
		return meta, nil
	}
	if _, unavailable := err.(*models.CapabilityUnavailable); unavailable {
		return nil, err
	}
	logger.Warn("Structured metadata extraction failed, retrying with simple prompt", "error", err)

	meta, err = g.generate(ctx, text, false)
	if err != nil {
		return nil, err
	}
	meta.ExtractionMethod = models.ExtractionSimpleLLM
	return meta, nil
}

func (g *GeminiExtractor) generate(ctx context.Context, text string, structured bool) (*models.PaperMetadata, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := client.GenerativeModel(metadataModel)
		model.SetTemperature(0.1)
		model.SetMaxOutputTokens(1024)
		if structured {
			model.ResponseMIMEType = "application/json"
		}

		resp, err := model.GenerateContent(ctx, genai.Text(metadataPrompt(text, structured)))
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, &models.CapabilityUnavailable{Name: "metadata_llm", Cause: err}
		}
		return nil, err
	}

	raw := responseText(result.(*genai.GenerateContentResponse))
	if raw == "" {
		return nil, fmt.Errorf("empty model response")
	}
	return parseMetadataJSON(raw)
}

func metadataPrompt(text string, structured bool) string {
	if structured {
		return fmt.Sprintf(`Extract bibliographic metadata from this academic paper text.
Return a JSON object with exactly these keys: title, authors (array of strings),
journal, year (integer), doi, abstract, keywords (array of strings).
Use empty values for fields you cannot find.

Paper text:
%s`, text)
	}
	return fmt.Sprintf(`Extract the title, authors, journal, year, DOI, abstract and
keywords of this academic paper as a JSON object. Respond with JSON only.

Paper text:
%s`, text)
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

// parseMetadataJSON tolerates markdown fencing around the JSON object.
func parseMetadataJSON(raw string) (*models.PaperMetadata, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	var parsed llmMetadata
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}
	return &models.PaperMetadata{
		Title:    strings.TrimSpace(parsed.Title),
		Authors:  parsed.Authors,
		Journal:  strings.TrimSpace(parsed.Journal),
		Year:     parsed.Year,
		DOI:      strings.TrimSpace(parsed.DOI),
		Abstract: strings.TrimSpace(parsed.Abstract),
		Keywords: parsed.Keywords,
	}, nil
}
