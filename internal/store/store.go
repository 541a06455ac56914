// Package store persists image records and answers vector similarity
// queries. It is the single point of concurrency control: records are
// visible fully formed or not at all, and deletes are immediately observable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"imagesim/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned by Insert when the caller supplies an id
	// that already exists. The normal flow always generates a fresh one.
	ErrDuplicateID = errors.New("duplicate record id")

	// ErrNoEmbedding is returned when a record exists but has not completed
	// processing, so it carries no vector to query against.
	ErrNoEmbedding = errors.New("record has no embedding")
)

// Match is a single similarity result.
type Match struct {
	ID              uuid.UUID `json:"id"`
	Filename        string    `json:"filename"`
	ContentType     string    `json:"content_type"`
	Score           float64   `json:"similarity_score"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
}

// DuplicatePair is a pair of completed records whose similarity is at or
// above the duplicate threshold.
type DuplicatePair struct {
	ID1   uuid.UUID `json:"id1"`
	ID2   uuid.UUID `json:"id2"`
	Score float64   `json:"similarity_score"`
}

// Stats summarizes the stored records by status.
type Stats struct {
	Total      int `json:"total_images"`
	Completed  int `json:"completed_images"`
	Processing int `json:"processing_images"`
	Pending    int `json:"pending_images"`
	Failed     int `json:"failed_images"`
}

// Store is the vector record store contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Insert persists a new record. The record must carry its id; an
	// explicit collision yields ErrDuplicateID.
	Insert(ctx context.Context, rec *models.ImageRecord) error

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error)

	// Delete removes the record and every index referencing it. The removal
	// is synchronous: a subsequent Get or Search no longer sees the id.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns a page of records ordered by upload time, most recent
	// first, ties broken by id.
	List(ctx context.Context, offset, limit int) ([]*models.ImageRecord, error)

	// GetEmbedding returns the completed embedding for id. A missing record
	// yields ErrNotFound; a record that has not completed processing yields
	// ErrNoEmbedding.
	GetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error)

	// MarkProcessing moves a pending record to processing. Idempotent for
	// records already processing.
	MarkProcessing(ctx context.Context, id uuid.UUID) error

	// Complete sets the embedding, replaces the metadata and transitions the
	// record to completed with the given processed timestamp. Only legal
	// from the processing status.
	Complete(ctx context.Context, id uuid.UUID, embedding []float32, metadata map[string]any, processedAt time.Time) error

	// Fail transitions the record to failed, recording the reason in its
	// metadata. The embedding stays null.
	Fail(ctx context.Context, id uuid.UUID, reason string) error

	// Search ranks completed records by cosine similarity against query,
	// filters scores below threshold, excludes excludeID (uuid.Nil means no
	// exclusion) and returns at most limit matches ordered by score
	// descending, then upload time descending, then id.
	Search(ctx context.Context, query []float32, excludeID uuid.UUID, threshold float64, limit int) ([]Match, error)

	// Duplicates returns pairs of completed records with similarity at or
	// above threshold, highest first.
	Duplicates(ctx context.Context, threshold float64, limit int) ([]DuplicatePair, error)

	// Pending returns records whose processing never reached a terminal
	// status, oldest first.
	Pending(ctx context.Context) ([]*models.ImageRecord, error)

	// Stats returns record counts by status.
	Stats(ctx context.Context) (Stats, error)

	// Ping reports whether the backing substrate is reachable.
	Ping(ctx context.Context) error

	Close()
}
