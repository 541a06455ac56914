// Package search ranks stored image embeddings against a query vector. The
// engine validates parameters, resolves image ids to their stored vectors
// and delegates the ranking itself to the store, which applies the shared
// ordering contract: score descending, most recent upload first, then id.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"imagesim/internal/config"
	"imagesim/internal/store"
)

var (
	// ErrInvalidThreshold rejects threshold overrides outside [-1, 1].
	ErrInvalidThreshold = errors.New("threshold out of range [-1, 1]")

	// ErrInvalidLimit rejects non-positive limits. Limits above the
	// configured maximum are clamped, not rejected.
	ErrInvalidLimit = errors.New("limit must be a positive integer")

	// ErrDimensionMismatch rejects raw query vectors of the wrong length.
	ErrDimensionMismatch = errors.New("query vector dimension mismatch")
)

// Options carries per-request overrides; nil fields keep the configured
// defaults.
type Options struct {
	Threshold *float64
	Limit     *int
}

// Result is the outbound contract to the query boundary.
type Result struct {
	QueryID    uuid.UUID     `json:"query_image_id"`
	Matches    []store.Match `json:"similar_images"`
	Threshold  float64       `json:"threshold"`
	Limit      int           `json:"limit"`
	SearchedAt time.Time     `json:"search_timestamp"`
}

type Engine struct {
	cfg   config.Config
	store store.Store
	log   *logrus.Logger
}

func NewEngine(cfg config.Config, st store.Store, log *logrus.Logger) *Engine {
	return &Engine{cfg: cfg, store: st, log: log}
}

// Similar finds images similar to the stored image with the given id. The
// query image itself never appears in the results. A record that has not
// completed processing yields store.ErrNoEmbedding, distinct from
// store.ErrNotFound.
func (e *Engine) Similar(ctx context.Context, imageID uuid.UUID, opts Options) (*Result, error) {
	embedding, err := e.store.GetEmbedding(ctx, imageID)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, embedding, imageID, opts)
}

// SimilarToVector ranks against a caller-supplied vector. The vector must
// match the configured dimension; no record is excluded.
func (e *Engine) SimilarToVector(ctx context.Context, query []float32, opts Options) (*Result, error) {
	if len(query) != e.cfg.EmbeddingDimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), e.cfg.EmbeddingDimension)
	}
	return e.run(ctx, query, uuid.Nil, opts)
}

func (e *Engine) run(ctx context.Context, query []float32, excludeID uuid.UUID, opts Options) (*Result, error) {
	threshold, limit, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}

	matches, err := e.store.Search(ctx, query, excludeID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"query_id":  excludeID,
		"threshold": threshold,
		"limit":     limit,
		"matches":   len(matches),
	}).Debug("similarity search completed")

	return &Result{
		QueryID:    excludeID,
		Matches:    matches,
		Threshold:  threshold,
		Limit:      limit,
		SearchedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) resolve(opts Options) (threshold float64, limit int, err error) {
	threshold = e.cfg.SimilarityThreshold
	if opts.Threshold != nil {
		if *opts.Threshold < -1 || *opts.Threshold > 1 {
			return 0, 0, ErrInvalidThreshold
		}
		threshold = *opts.Threshold
	}

	limit = e.cfg.MaxSimilarResults
	if opts.Limit != nil {
		if *opts.Limit <= 0 {
			return 0, 0, ErrInvalidLimit
		}
		limit = *opts.Limit
		if limit > e.cfg.MaxSimilarResults {
			limit = e.cfg.MaxSimilarResults
		}
	}

	return threshold, limit, nil
}

// Duplicates reports pairs of completed records at or above the configured
// duplicate threshold.
func (e *Engine) Duplicates(ctx context.Context, limit int) ([]store.DuplicatePair, error) {
	if limit <= 0 {
		limit = 100
	}
	return e.store.Duplicates(ctx, e.cfg.DuplicateThreshold, limit)
}
