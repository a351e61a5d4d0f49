package analyzer

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"paper-ingest-platform/models"
)

// RuleBasedExtractor recovers metadata from text with regular expressions.
// It is the fallback when no LLM is configured or the LLM is unavailable,
// and it never fails; at worst it returns an empty record.
type RuleBasedExtractor struct{}

func NewRuleBasedExtractor() *RuleBasedExtractor { return &RuleBasedExtractor{} }

var (
	doiPattern      = regexp.MustCompile(`(?i)\b(?:doi:?\s*|https?://(?:dx\.)?doi\.org/)(10\.\d{4,9}/[-._;()/:A-Za-z0-9]+)`)
	yearPattern     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	// Go's regexp caps repeat counts at 1000, so the 50-2000 lazy repeat is
	// split into two; for `.` this matches exactly the same strings.
	abstractPattern = regexp.MustCompile(`(?is)abstract[:.\s]+(.{50,1000}?.{0,1000}?)(?:\n\s*\n|keywords|introduction|1\.\s)`)
	keywordsPattern = regexp.MustCompile(`(?i)keywords?[:.\s]+([^\n]+)`)
)

func (r *RuleBasedExtractor) ExtractMetadata(_ context.Context, text string) (*models.PaperMetadata, error) {
	meta := &models.PaperMetadata{ExtractionMethod: models.ExtractionRuleBased}

	if m := doiPattern.FindStringSubmatch(text); m != nil {
		meta.DOI = strings.TrimRight(m[1], ".,;")
	}

	// First plausible year in the front matter, not the references
	head := text
	if len(head) > 3000 {
		head = head[:3000]
	}
	if m := yearPattern.FindString(head); m != "" {
		meta.Year, _ = strconv.Atoi(m)
	}

	if m := abstractPattern.FindStringSubmatch(text); m != nil {
		meta.Abstract = strings.TrimSpace(m[1])
	}

	if m := keywordsPattern.FindStringSubmatch(text); m != nil {
		for _, kw := range splitList(m[1]) {
			if kw != "" {
				meta.Keywords = append(meta.Keywords, kw)
			}
		}
	}

	meta.Title = guessTitle(text)
	return meta, nil
}

// guessTitle takes the first line that looks like a title: long enough to be
// one, not all-caps boilerplate, no URL.
func guessTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 15 || len(line) > 300 {
			continue
		}
		if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
			continue
		}
		if line == strings.ToUpper(line) && len(line) > 40 {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "arxiv") || strings.HasPrefix(lower, "preprint") ||
			strings.HasPrefix(lower, "proceedings of") || strings.HasPrefix(lower, "journal of") {
			continue
		}
		return line
	}
	return ""
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '·'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.TrimSpace(f))
	}
	return out
}
