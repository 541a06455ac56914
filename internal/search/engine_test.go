package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagesim/internal/config"
	"imagesim/internal/models"
	"imagesim/internal/store"
)

func newEngine(t *testing.T) (*Engine, *store.Memory, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.EmbeddingDimension = 4
	cfg.SimilarityThreshold = 0.7
	cfg.MaxSimilarResults = 3
	cfg.DuplicateThreshold = 0.95

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewMemory(cfg.EmbeddingDimension)
	return NewEngine(cfg, st, log), st, cfg
}

func seed(t *testing.T, st *store.Memory, vec []float32, ts time.Time) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	rec := &models.ImageRecord{
		ID:               uuid.New(),
		Filename:         "seeded.png",
		OriginalFilename: "seeded.png",
		ContentType:      "image/png",
		FileSize:         10,
		Status:           models.StatusPending,
		UploadTimestamp:  ts,
	}
	require.NoError(t, st.Insert(ctx, rec))
	require.NoError(t, st.MarkProcessing(ctx, rec.ID))
	require.NoError(t, st.Complete(ctx, rec.ID, vec, nil, ts.Add(time.Second)))
	return rec.ID
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestSimilarExcludesQueryImage(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	query := seed(t, st, []float32{1, 0, 0, 0}, now)
	twin := seed(t, st, []float32{1, 0, 0, 0}, now.Add(time.Minute))

	res, err := eng.Similar(ctx, query, Options{})
	require.NoError(t, err)
	assert.Equal(t, query, res.QueryID)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, twin, res.Matches[0].ID)
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-6)
}

func TestSimilarDefaultsFromConfig(t *testing.T) {
	eng, st, cfg := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	query := seed(t, st, []float32{1, 0, 0, 0}, now)

	res, err := eng.Similar(ctx, query, Options{})
	require.NoError(t, err)
	assert.Equal(t, cfg.SimilarityThreshold, res.Threshold)
	assert.Equal(t, cfg.MaxSimilarResults, res.Limit)
	assert.NotNil(t, res.Matches, "empty result keeps a non-nil slice")
	assert.False(t, res.SearchedAt.IsZero())
}

func TestThresholdOverrideFiltersMatches(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	query := seed(t, st, []float32{1, 0, 0, 0}, now)
	seed(t, st, []float32{0.8, 0.6, 0, 0}, now) // similarity 0.8

	strict, err := eng.Similar(ctx, query, Options{Threshold: floatPtr(0.99)})
	require.NoError(t, err)
	assert.Empty(t, strict.Matches)

	loose, err := eng.Similar(ctx, query, Options{Threshold: floatPtr(0.5)})
	require.NoError(t, err)
	assert.Len(t, loose.Matches, 1)
}

func TestThresholdValidation(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	query := seed(t, st, []float32{1, 0, 0, 0}, time.Now().UTC())

	for _, bad := range []float64{-1.01, 1.01, 2, -5} {
		_, err := eng.Similar(ctx, query, Options{Threshold: floatPtr(bad)})
		assert.ErrorIs(t, err, ErrInvalidThreshold, "threshold %v", bad)
	}

	// Boundary values are legal.
	for _, ok := range []float64{-1, 0, 1} {
		_, err := eng.Similar(ctx, query, Options{Threshold: floatPtr(ok)})
		assert.NoError(t, err, "threshold %v", ok)
	}
}

func TestLimitValidationAndClamp(t *testing.T) {
	eng, st, cfg := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	query := seed(t, st, []float32{1, 0, 0, 0}, now)
	for i := 0; i < 5; i++ {
		seed(t, st, []float32{1, 0, 0, 0}, now.Add(time.Duration(i)*time.Minute))
	}

	_, err := eng.Similar(ctx, query, Options{Limit: intPtr(0)})
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = eng.Similar(ctx, query, Options{Limit: intPtr(-3)})
	assert.ErrorIs(t, err, ErrInvalidLimit)

	res, err := eng.Similar(ctx, query, Options{Limit: intPtr(1)})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)
	assert.Equal(t, 1, res.Limit)

	// Oversized limits clamp to the configured maximum instead of failing.
	res, err = eng.Similar(ctx, query, Options{Limit: intPtr(1000)})
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxSimilarResults, res.Limit)
	assert.Len(t, res.Matches, cfg.MaxSimilarResults)
}

func TestSimilarErrorKinds(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.Similar(ctx, uuid.New(), Options{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec := &models.ImageRecord{
		ID:              uuid.New(),
		Filename:        "pending.png",
		ContentType:     "image/png",
		Status:          models.StatusPending,
		UploadTimestamp: time.Now().UTC(),
	}
	require.NoError(t, st.Insert(ctx, rec))

	_, err = eng.Similar(ctx, rec.ID, Options{})
	assert.ErrorIs(t, err, store.ErrNoEmbedding)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestSimilarToVector(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()

	id := seed(t, st, []float32{0, 1, 0, 0}, time.Now().UTC())

	res, err := eng.SimilarToVector(ctx, []float32{0, 1, 0, 0}, Options{})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, res.QueryID)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, id, res.Matches[0].ID, "raw vector queries exclude nothing")

	_, err = eng.SimilarToVector(ctx, []float32{1, 0}, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTieBreakDeterminism(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	ts := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	query := seed(t, st, []float32{1, 0, 0, 0}, ts)
	a := seed(t, st, []float32{1, 0, 0, 0}, ts)
	b := seed(t, st, []float32{1, 0, 0, 0}, ts)

	want := []uuid.UUID{a, b}
	if b.String() < a.String() {
		want = []uuid.UUID{b, a}
	}

	for i := 0; i < 3; i++ {
		res, err := eng.Similar(ctx, query, Options{})
		require.NoError(t, err)
		require.Len(t, res.Matches, 2)
		assert.Equal(t, want[0], res.Matches[0].ID)
		assert.Equal(t, want[1], res.Matches[1].ID)
	}
}

func TestDuplicatesUsesConfiguredThreshold(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed(t, st, []float32{1, 0, 0, 0}, now)
	seed(t, st, []float32{1, 0, 0, 0}, now)
	seed(t, st, []float32{0.8, 0.6, 0, 0}, now) // 0.8 < duplicate threshold

	pairs, err := eng.Duplicates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.GreaterOrEqual(t, pairs[0].Score, 0.95)
}
