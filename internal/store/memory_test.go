package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagesim/internal/models"
)

const testDim = 4

func newRecord(ts time.Time) *models.ImageRecord {
	return &models.ImageRecord{
		ID:               uuid.New(),
		Filename:         "stored.png",
		OriginalFilename: "orig.png",
		ContentType:      "image/png",
		FileSize:         42,
		Status:           models.StatusPending,
		UploadTimestamp:  ts,
	}
}

func complete(t *testing.T, st Store, rec *models.ImageRecord, vec []float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.MarkProcessing(ctx, rec.ID))
	require.NoError(t, st.Complete(ctx, rec.ID, vec, map[string]any{}, rec.UploadTimestamp.Add(time.Second)))
}

func TestInsertGetRoundTrip(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	rec := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, rec))
	complete(t, st, rec, []float32{0.5, 0.5, 0.5, 0.5})

	got, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, got.Embedding, "vector survives unmodified")
	assert.Equal(t, models.StatusCompleted, got.Status)

	// Mutating the returned record must not leak into the store.
	got.Embedding[0] = 99
	again, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), again.Embedding[0])
}

func TestInsertDuplicateID(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	rec := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, rec))

	clash := newRecord(time.Now().UTC())
	clash.ID = rec.ID
	assert.ErrorIs(t, st.Insert(ctx, clash), ErrDuplicateID)
}

func TestGetNotFound(t *testing.T) {
	st := NewMemory(testDim)

	_, err := st.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	rec := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, rec))
	complete(t, st, rec, []float32{1, 0, 0, 0})

	require.NoError(t, st.Delete(ctx, rec.ID))

	_, err := st.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	matches, err := st.Search(ctx, []float32{1, 0, 0, 0}, uuid.Nil, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "deleted record must not rank")

	assert.ErrorIs(t, st.Delete(ctx, rec.ID), ErrNotFound)
}

func TestListOrderingAndPagination(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		rec := newRecord(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, st.Insert(ctx, rec))
		ids = append(ids, rec.ID)
	}

	page, err := st.List(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4], page[0].ID, "most recent first")
	assert.Equal(t, ids[3], page[1].ID)

	rest, err := st.List(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, ids[0], rest[1].ID)

	empty, err := st.List(ctx, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListTieBreakByID(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newRecord(ts)
	b := newRecord(ts)
	require.NoError(t, st.Insert(ctx, a))
	require.NoError(t, st.Insert(ctx, b))

	page, err := st.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Less(t, page[0].ID.String(), page[1].ID.String())
}

func TestGetEmbeddingStatuses(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	_, err := st.GetEmbedding(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	pending := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, pending))
	_, err = st.GetEmbedding(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrNoEmbedding, "pending record has no embedding")

	failed := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, failed))
	require.NoError(t, st.MarkProcessing(ctx, failed.ID))
	require.NoError(t, st.Fail(ctx, failed.ID, "decode error"))
	_, err = st.GetEmbedding(ctx, failed.ID)
	assert.ErrorIs(t, err, ErrNoEmbedding)

	done := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, done))
	complete(t, st, done, []float32{0, 1, 0, 0})
	vec, err := st.GetEmbedding(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, vec)
}

func TestStatusTransitionsEnforced(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	rec := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, rec))

	// Completing a pending record skips processing.
	err := st.Complete(ctx, rec.ID, []float32{1, 0, 0, 0}, nil, time.Now())
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	require.NoError(t, st.MarkProcessing(ctx, rec.ID))
	require.NoError(t, st.MarkProcessing(ctx, rec.ID), "idempotent while processing")
	require.NoError(t, st.Complete(ctx, rec.ID, []float32{1, 0, 0, 0}, nil, time.Now()))

	// Terminal records never move again.
	assert.ErrorIs(t, st.Fail(ctx, rec.ID, "late failure"), models.ErrInvalidTransition)
	assert.ErrorIs(t, st.MarkProcessing(ctx, rec.ID), models.ErrInvalidTransition)
}

func TestCompleteRejectsWrongDimension(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	rec := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, rec))
	require.NoError(t, st.MarkProcessing(ctx, rec.ID))

	err := st.Complete(ctx, rec.ID, []float32{1, 0}, nil, time.Now())
	assert.Error(t, err)
}

func TestSearchOrderingContract(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := newRecord(base)
	require.NoError(t, st.Insert(ctx, older))
	complete(t, st, older, []float32{1, 0, 0, 0})

	newer := newRecord(base.Add(time.Hour))
	require.NoError(t, st.Insert(ctx, newer))
	complete(t, st, newer, []float32{1, 0, 0, 0})

	weaker := newRecord(base.Add(2 * time.Hour))
	require.NoError(t, st.Insert(ctx, weaker))
	complete(t, st, weaker, []float32{0.8, 0.6, 0, 0})

	matches, err := st.Search(ctx, []float32{1, 0, 0, 0}, uuid.Nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// Equal scores fall back to the most recent upload.
	assert.Equal(t, newer.ID, matches[0].ID)
	assert.Equal(t, older.ID, matches[1].ID)
	assert.Equal(t, weaker.ID, matches[2].ID)
	assert.InDelta(t, 0.8, matches[2].Score, 1e-6)
}

func TestSearchExcludesAndFilters(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	self := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, self))
	complete(t, st, self, []float32{1, 0, 0, 0})

	orthogonal := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, orthogonal))
	complete(t, st, orthogonal, []float32{0, 1, 0, 0})

	incomplete := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, incomplete))

	matches, err := st.Search(ctx, []float32{1, 0, 0, 0}, self.ID, 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "self excluded, orthogonal below threshold, pending invisible")
}

func TestDuplicates(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	a := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, a))
	complete(t, st, a, []float32{1, 0, 0, 0})

	b := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, b))
	complete(t, st, b, []float32{1, 0, 0, 0})

	c := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, c))
	complete(t, st, c, []float32{0, 1, 0, 0})

	pairs, err := st.Duplicates(ctx, 0.95, 10)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.InDelta(t, 1.0, pairs[0].Score, 1e-6)
}

func TestStatsAndPending(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	done := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, done))
	complete(t, st, done, []float32{1, 0, 0, 0})

	waiting := newRecord(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, st.Insert(ctx, waiting))

	broken := newRecord(time.Now().UTC())
	require.NoError(t, st.Insert(ctx, broken))
	require.NoError(t, st.MarkProcessing(ctx, broken.ID))
	require.NoError(t, st.Fail(ctx, broken.ID, "boom"))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Completed: 1, Pending: 1, Failed: 1}, stats)

	pending, err := st.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, waiting.ID, pending[0].ID)
}

func TestConcurrentAccess(t *testing.T) {
	st := NewMemory(testDim)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := newRecord(time.Now().UTC())
			rec.Filename = fmt.Sprintf("img_%d.png", i)
			if err := st.Insert(ctx, rec); err != nil {
				t.Error(err)
				return
			}
			if err := st.MarkProcessing(ctx, rec.ID); err != nil {
				t.Error(err)
				return
			}
			if err := st.Complete(ctx, rec.ID, []float32{1, 0, 0, 0}, nil, time.Now()); err != nil {
				t.Error(err)
			}
		}(i)
	}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Search(ctx, []float32{1, 0, 0, 0}, uuid.Nil, 0.5, 5); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, stats.Completed)
}
