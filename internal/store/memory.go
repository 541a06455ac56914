package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagesim/internal/models"
	"imagesim/internal/vector"
)

// Memory is an in-process store used by the memory driver and by tests. It
// ranks with brute-force dot products under the same ordering contract as
// the Postgres implementation.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	records   map[uuid.UUID]*models.ImageRecord
}

func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		records:   make(map[uuid.UUID]*models.ImageRecord),
	}
}

func (m *Memory) Insert(ctx context.Context, rec *models.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return ErrDuplicateID
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) List(ctx context.Context, offset, limit int) ([]*models.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*models.ImageRecord, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UploadTimestamp.Equal(all[j].UploadTimestamp) {
			return all[i].UploadTimestamp.After(all[j].UploadTimestamp)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	page := make([]*models.ImageRecord, len(all))
	for i, rec := range all {
		page[i] = rec.Clone()
	}
	return page, nil
}

func (m *Memory) GetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != models.StatusCompleted || rec.Embedding == nil {
		return nil, ErrNoEmbedding
	}

	out := make([]float32, len(rec.Embedding))
	copy(out, rec.Embedding)
	return out, nil
}

func (m *Memory) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == models.StatusProcessing {
		return nil
	}
	if !rec.Status.CanTransition(models.StatusProcessing) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, rec.Status, models.StatusProcessing)
	}
	rec.Status = models.StatusProcessing
	return nil
}

func (m *Memory) Complete(ctx context.Context, id uuid.UUID, embedding []float32, metadata map[string]any, processedAt time.Time) error {
	if len(embedding) != m.dimension {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), m.dimension)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if !rec.Status.CanTransition(models.StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, rec.Status, models.StatusCompleted)
	}

	rec.Embedding = make([]float32, len(embedding))
	copy(rec.Embedding, embedding)
	rec.Metadata = make(map[string]any, len(metadata))
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
	rec.Status = models.StatusCompleted
	ts := processedAt
	rec.ProcessedTimestamp = &ts
	return nil
}

func (m *Memory) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if !rec.Status.CanTransition(models.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, rec.Status, models.StatusFailed)
	}

	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any, 1)
	}
	rec.Metadata["failure_reason"] = reason
	rec.Embedding = nil
	rec.Status = models.StatusFailed
	ts := time.Now().UTC()
	rec.ProcessedTimestamp = &ts
	return nil
}

func (m *Memory) Search(ctx context.Context, query []float32, excludeID uuid.UUID, threshold float64, limit int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Status != models.StatusCompleted || rec.ID == excludeID {
			continue
		}
		score := vector.Dot(query, rec.Embedding)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{
			ID:              rec.ID,
			Filename:        rec.Filename,
			ContentType:     rec.ContentType,
			Score:           score,
			UploadTimestamp: rec.UploadTimestamp,
		})
	}

	sortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// sortMatches orders by score descending, then most recent upload first,
// then id, so equal-score results are fully deterministic.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].UploadTimestamp.Equal(matches[j].UploadTimestamp) {
			return matches[i].UploadTimestamp.After(matches[j].UploadTimestamp)
		}
		return matches[i].ID.String() < matches[j].ID.String()
	})
}

func (m *Memory) Duplicates(ctx context.Context, threshold float64, limit int) ([]DuplicatePair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	completed := make([]*models.ImageRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Status == models.StatusCompleted {
			completed = append(completed, rec)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].ID.String() < completed[j].ID.String()
	})

	var pairs []DuplicatePair
	for i := 0; i < len(completed); i++ {
		for j := i + 1; j < len(completed); j++ {
			score := vector.Dot(completed[i].Embedding, completed[j].Embedding)
			if score >= threshold {
				pairs = append(pairs, DuplicatePair{
					ID1:   completed[i].ID,
					ID2:   completed[j].ID,
					Score: score,
				})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Score > pairs[j].Score
	})
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs, nil
}

func (m *Memory) Pending(ctx context.Context) ([]*models.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ImageRecord
	for _, rec := range m.records {
		if !rec.Status.Terminal() {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadTimestamp.Before(out[j].UploadTimestamp)
	})
	return out, nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.records)}
	for _, rec := range m.records {
		switch rec.Status {
		case models.StatusCompleted:
			stats.Completed++
		case models.StatusProcessing:
			stats.Processing++
		case models.StatusPending:
			stats.Pending++
		case models.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) Close() {}
