package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageRecord is the persisted unit: file metadata plus the embedding used
// for similarity search. The embedding is nil until processing completes and
// is set exactly once; a failed record never carries one.
type ImageRecord struct {
	ID               uuid.UUID      `json:"id"`
	Filename         string         `json:"filename"`
	OriginalFilename string         `json:"original_filename"`
	ContentType      string         `json:"content_type"`
	FileSize         int64          `json:"file_size"`
	FilePath         string         `json:"-"`
	Embedding        []float32      `json:"-"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	Status             Status     `json:"processing_status"`
	UploadTimestamp    time.Time  `json:"upload_timestamp"`
	ProcessedTimestamp *time.Time `json:"processed_timestamp,omitempty"`
}

// Clone returns a deep copy so callers can hand records across goroutine
// boundaries without sharing the embedding slice or metadata map.
func (r *ImageRecord) Clone() *ImageRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Embedding != nil {
		c.Embedding = make([]float32, len(r.Embedding))
		copy(c.Embedding, r.Embedding)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.ProcessedTimestamp != nil {
		ts := *r.ProcessedTimestamp
		c.ProcessedTimestamp = &ts
	}
	return &c
}
