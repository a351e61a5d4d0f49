// Package vector abstracts the document-level vector store. The pipeline,
// backup and consistency services only see the Store interface; the local
// directory implementation is the default and the qdrant client is selected
// by configuration.
package vector

import (
	"context"
	"encoding/binary"
	"math"
)

// Match is one similarity-search result.
type Match struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Store holds exactly one vector per doc_id.
type Store interface {
	Upsert(ctx context.Context, docID string, vec []float32, payload map[string]string) error
	Get(ctx context.Context, docID string) ([]float32, error)
	Delete(ctx context.Context, docID string) error
	Count(ctx context.Context) (int, error)
	ListIDs(ctx context.Context) ([]string, error)
	Search(ctx context.Context, vec []float32, limit int) ([]Match, error)
}

// EncodeFloat32LE serializes a vector as little-endian float32 bytes. The
// byte order is explicit so embedding digests are identical across hosts.
func EncodeFloat32LE(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeFloat32LE is the inverse of EncodeFloat32LE.
func DecodeFloat32LE(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// Cosine returns the cosine similarity of two vectors, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Mean returns the arithmetic mean of the given vectors.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range out {
			if i < len(v) {
				out[i] += v[i]
			}
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}
