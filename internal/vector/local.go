package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LocalStore persists one JSON document per doc_id under a directory. The
// directory is what the vector snapshotter archives, so every write lands on
// disk before returning.
type LocalStore struct {
	mu  sync.RWMutex
	dir string
}

type localRecord struct {
	DocID   string            `json:"doc_id"`
	Vector  []float32         `json:"vector"`
	Payload map[string]string `json:"payload,omitempty"`
}

// NewLocalStore creates (if needed) and opens a directory-backed store.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector store directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the backing directory, used by the backup snapshotter.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) path(docID string) string {
	return filepath.Join(s.dir, docID+".json")
}

func (s *LocalStore) Upsert(_ context.Context, docID string, vec []float32, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(localRecord{DocID: docID, Vector: vec, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode vector record: %w", err)
	}

	tmp := s.path(docID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write vector record: %w", err)
	}
	if err := os.Rename(tmp, s.path(docID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish vector record: %w", err)
	}
	return nil
}

func (s *LocalStore) Get(_ context.Context, docID string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(docID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read vector record: %w", err)
	}
	var rec localRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode vector record: %w", err)
	}
	return rec.Vector, nil
}

func (s *LocalStore) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(docID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete vector record: %w", err)
	}
	return nil
}

func (s *LocalStore) Count(ctx context.Context) (int, error) {
	ids, err := s.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *LocalStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector store: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *LocalStore) Search(ctx context.Context, vec []float32, limit int) ([]Match, error) {
	ids, err := s.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		stored, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		matches = append(matches, Match{DocID: id, Score: Cosine(vec, stored)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
