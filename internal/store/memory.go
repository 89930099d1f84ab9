package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seanblong/repochat/pkg/models"
)

type memoryDoc struct {
	doc  models.Document
	vec  []float32
	hash string
}

// Memory is a process-local Store. Nothing survives a restart except what
// Uploads.Scan can recover from disk.
type Memory struct {
	mu    sync.RWMutex
	repos []Entry
	ids   map[string]struct{}
	docs  map[string]map[string]memoryDoc
}

func NewMemory() *Memory {
	return &Memory{
		ids:  make(map[string]struct{}),
		docs: make(map[string]map[string]memoryDoc),
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateRepository(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[e.ID]; ok {
		return nil
	}
	m.ids[e.ID] = struct{}{}
	m.repos = append(m.repos, e)
	return nil
}

func (m *Memory) ListRepositories(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.repos))
	copy(out, m.repos)
	return out, nil
}

func (m *Memory) GetRepository(ctx context.Context, name string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.repos) - 1; i >= 0; i-- {
		if m.repos[i].Repository.Name == name {
			return m.repos[i], true, nil
		}
	}
	return Entry{}, false, nil
}

func (m *Memory) UpsertDocument(ctx context.Context, d models.Document, vec []float32, contentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPath, ok := m.docs[d.Repository]
	if !ok {
		byPath = make(map[string]memoryDoc)
		m.docs[d.Repository] = byPath
	}
	prev, exists := byPath[d.Path]
	if exists {
		d.CreatedAt = prev.doc.CreatedAt
		if vec == nil {
			vec = prev.vec
		}
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	byPath[d.Path] = memoryDoc{doc: d, vec: vec, hash: contentHash}
	return nil
}

func (m *Memory) GetDocumentHash(ctx context.Context, repositoryID, path string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[repositoryID][path]
	if !ok {
		return "", false, nil
	}
	return d.hash, true, nil
}

func (m *Memory) Documents(ctx context.Context, repositoryID string, limit int) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPath := m.docs[repositoryID]
	out := make([]models.Document, 0, len(byPath))
	for _, d := range byPath {
		out = append(out, d.doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
