package vector

import (
	"context"
	"math"
	"testing"
)

func TestEncodeDecodeFloat32LE(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.14159}
	out := DecodeFloat32LE(EncodeFloat32LE(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("element %d = %f, want %f", i, out[i], in[i])
		}
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	if got := Cosine(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("cosine of identical vectors = %f, want 1", got)
	}
	if got := Cosine(a, []float32{0, 1, 0}); math.Abs(got) > 1e-9 {
		t.Fatalf("cosine of orthogonal vectors = %f, want 0", got)
	}
	if got := Cosine(a, []float32{0, 0}); got != 0 {
		t.Fatalf("cosine with mismatched dimensions = %f, want 0", got)
	}
}

func TestMean(t *testing.T) {
	got := Mean([][]float32{{1, 3}, {3, 5}})
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("mean = %v, want [2 4]", got)
	}
	if Mean(nil) != nil {
		t.Fatal("mean of nothing should be nil")
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	if err := s.Upsert(ctx, "a", []float32{1, 0}, map[string]string{"filename": "a.pdf"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "b", []float32{0, 1}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	vec, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(vec) != 2 || vec[0] != 1 {
		t.Fatalf("vector = %v", vec)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("count = %d (err %v), want 2", n, err)
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, err := s.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("ids = %v, want [a]", ids)
	}

	if _, err := s.Get(ctx, "missing"); err == nil {
		t.Fatal("get of a missing id should fail")
	}
}

func TestLocalStoreSearchOrdersByScore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	s.Upsert(ctx, "exact", []float32{1, 0}, nil)
	s.Upsert(ctx, "close", []float32{1, 0.2}, nil)
	s.Upsert(ctx, "far", []float32{0, 1}, nil)

	matches, err := s.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2 (limit)", len(matches))
	}
	if matches[0].DocID != "exact" || matches[1].DocID != "close" {
		t.Fatalf("order = [%s %s], want [exact close]", matches[0].DocID, matches[1].DocID)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatal("scores must be descending")
	}
}
