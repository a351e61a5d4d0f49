package analyzer

import (
	"context"
	"testing"

	"paper-ingest-platform/models"
)

const samplePaperText = `Deep Learning Approaches for Protein Structure Prediction

Jane Doe, John Smith
Department of Computational Biology

Abstract: We present a novel method for predicting protein tertiary
structure from sequence alone, improving accuracy by 12% over prior work.

Keywords: deep learning, protein folding; structural biology

1. Introduction
Published 2023. doi:10.1234/prot.2023.042
`

func TestRuleBasedExtraction(t *testing.T) {
	meta, err := NewRuleBasedExtractor().ExtractMetadata(context.Background(), samplePaperText)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if meta.ExtractionMethod != models.ExtractionRuleBased {
		t.Fatalf("method = %s, want %s", meta.ExtractionMethod, models.ExtractionRuleBased)
	}
	if meta.Title != "Deep Learning Approaches for Protein Structure Prediction" {
		t.Fatalf("title = %q", meta.Title)
	}
	if meta.DOI != "10.1234/prot.2023.042" {
		t.Fatalf("doi = %q", meta.DOI)
	}
	if meta.Year != 2023 {
		t.Fatalf("year = %d, want 2023", meta.Year)
	}
	if len(meta.Keywords) != 3 {
		t.Fatalf("keywords = %v, want 3 entries", meta.Keywords)
	}
	if meta.Abstract == "" {
		t.Fatal("abstract not recovered")
	}
}

func TestRuleBasedExtractionNeverFails(t *testing.T) {
	meta, err := NewRuleBasedExtractor().ExtractMetadata(context.Background(), "short")
	if err != nil {
		t.Fatalf("extract on junk text: %v", err)
	}
	if !meta.Empty() {
		t.Fatalf("junk text should yield an empty record, got %+v", meta)
	}
}

func TestGuessTitleSkipsBoilerplate(t *testing.T) {
	text := "arXiv:2301.00001v2 [cs.LG] 4 Jan 2023\n" +
		"PROCEEDINGS OF THE 40TH INTERNATIONAL CONFERENCE ON THINGS\n" +
		"A Careful Study of Numerical Stability in Transformers\n"
	if got := guessTitle(text); got != "A Careful Study of Numerical Stability in Transformers" {
		t.Fatalf("title = %q", got)
	}
}
