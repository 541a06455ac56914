package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"imagesim/internal/config"
	"imagesim/internal/models"
	"imagesim/internal/store"
)

// Upload is the inbound contract from the upload boundary.
type Upload struct {
	Content     []byte
	Filename    string
	ContentType string
	Metadata    map[string]any
}

// ProcessingResult is returned to the boundary once processing reaches a
// terminal status. Err is set when the record ended up failed.
type ProcessingResult struct {
	ID     uuid.UUID
	Status models.Status
	Record *models.ImageRecord
	Err    error
}

// Pipeline runs an upload through validation, metadata extraction and
// embedding synthesis, persisting the record along the way. Validation
// failures persist nothing; extraction failures leave the record failed with
// the reason recorded.
type Pipeline struct {
	cfg       config.Config
	store     store.Store
	validator *Validator
	extractor *Extractor
	synth     *Synthesizer
	cache     *EmbeddingCache
	thumbs    *Preprocessor
	log       *logrus.Logger
}

func NewPipeline(cfg config.Config, st store.Store, log *logrus.Logger) (*Pipeline, error) {
	cache, err := NewEmbeddingCache(cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}

	return &Pipeline{
		cfg:       cfg,
		store:     st,
		validator: NewValidator(cfg),
		extractor: NewExtractor(),
		synth:     NewSynthesizer(cfg.EmbeddingDimension),
		cache:     cache,
		thumbs:    NewPreprocessor(cfg.StorageDir, cfg.ThumbnailSize),
		log:       log,
	}, nil
}

func (p *Pipeline) Thumbnails() *Preprocessor {
	return p.thumbs
}

// Process validates the upload, persists a pending record and runs it to a
// terminal status. A validation error is returned directly and nothing is
// stored.
func (p *Pipeline) Process(ctx context.Context, up Upload) (*ProcessingResult, error) {
	if err := p.validator.Validate(up.Content, up.ContentType, up.Filename); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &models.ImageRecord{
		ID:               uuid.New(),
		Filename:         storageName(up.Filename, now),
		OriginalFilename: up.Filename,
		ContentType:      up.ContentType,
		FileSize:         int64(len(up.Content)),
		Metadata:         cloneMetadata(up.Metadata),
		Status:           models.StatusPending,
		UploadTimestamp:  now,
	}
	rec.FilePath = filepath.Join(p.cfg.StorageDir, rec.Filename)

	if err := os.WriteFile(rec.FilePath, up.Content, 0o644); err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}

	if err := p.store.Insert(ctx, rec); err != nil {
		os.Remove(rec.FilePath)
		return nil, fmt.Errorf("insert record: %w", err)
	}

	return p.Resume(ctx, rec, up.Content)
}

// Resume runs an already-persisted record through extraction and synthesis.
// Used by Process and by the worker pool when re-processing records left
// over from a previous run.
func (p *Pipeline) Resume(ctx context.Context, rec *models.ImageRecord, content []byte) (*ProcessingResult, error) {
	if err := p.store.MarkProcessing(ctx, rec.ID); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	info, err := p.extractor.Extract(content)
	if err != nil {
		if ferr := p.store.Fail(ctx, rec.ID, err.Error()); ferr != nil {
			p.log.WithError(ferr).WithField("id", rec.ID).Error("mark record failed")
		}
		return &ProcessingResult{ID: rec.ID, Status: models.StatusFailed, Err: err}, nil
	}

	embedding := p.embed(content, rec.OriginalFilename)

	metadata := cloneMetadata(rec.Metadata)
	for k, v := range info.Map() {
		metadata[k] = v
	}
	metadata["embedding_version"] = EmbeddingVersion
	metadata["embedding_dimension"] = p.synth.Dimension()

	if thumbPath, err := p.thumbs.Thumbnail(content, rec.ID); err != nil {
		p.log.WithError(err).WithField("id", rec.ID).Warn("thumbnail failed")
	} else {
		metadata["thumbnail_path"] = thumbPath
	}

	processedAt := time.Now().UTC()
	if err := p.store.Complete(ctx, rec.ID, embedding, metadata, processedAt); err != nil {
		return nil, fmt.Errorf("complete record: %w", err)
	}

	rec.Embedding = embedding
	rec.Metadata = metadata
	rec.Status = models.StatusCompleted
	rec.ProcessedTimestamp = &processedAt

	p.log.WithFields(logrus.Fields{
		"id":       rec.ID,
		"filename": rec.OriginalFilename,
		"width":    info.Width,
		"height":   info.Height,
	}).Info("image processed")

	return &ProcessingResult{ID: rec.ID, Status: models.StatusCompleted, Record: rec}, nil
}

func (p *Pipeline) embed(content []byte, filename string) []float32 {
	key := EmbeddingKey(content, filename)
	if vec, ok := p.cache.Get(key); ok {
		return vec
	}
	vec := p.synth.Synthesize(content, filename)
	p.cache.Put(key, vec)
	return vec
}

// storageName rewrites the user-supplied filename for storage; the original
// is preserved verbatim on the record.
func storageName(filename string, now time.Time) string {
	return fmt.Sprintf("%d_%s", now.UnixNano(), filepath.Base(filename))
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
