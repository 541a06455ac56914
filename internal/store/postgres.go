package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"imagesim/internal/models"
)

// Postgres stores records in a pgvector-enabled database. Ranking happens in
// SQL with the cosine distance operator over an HNSW index.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool, dimension int) (*Postgres, error) {
	s := &Postgres{pool: pool, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS images (
			id                  UUID PRIMARY KEY,
			filename            TEXT NOT NULL,
			original_filename   TEXT NOT NULL,
			content_type        TEXT NOT NULL,
			file_size           BIGINT NOT NULL,
			file_path           TEXT,
			embedding_vector    vector(%d),
			metadata            JSONB NOT NULL DEFAULT '{}',
			processing_status   TEXT NOT NULL DEFAULT 'pending',
			upload_timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_timestamp TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS images_embedding_idx
			ON images USING hnsw (embedding_vector vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS images_status_idx
			ON images (processing_status);
	`, s.dimension))
	return err
}

func (s *Postgres) Insert(ctx context.Context, rec *models.ImageRecord) error {
	var embedding any
	if rec.Embedding != nil {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO images (id, filename, original_filename, content_type, file_size,
		                    file_path, embedding_vector, metadata, processing_status,
		                    upload_timestamp, processed_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID,
		rec.Filename,
		rec.OriginalFilename,
		rec.ContentType,
		rec.FileSize,
		rec.FilePath,
		embedding,
		rec.Metadata,
		string(rec.Status),
		rec.UploadTimestamp,
		rec.ProcessedTimestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, filename, original_filename, content_type, file_size, file_path,
		       embedding_vector::text, metadata, processing_status,
		       upload_timestamp, processed_timestamp
		FROM images
		WHERE id = $1
	`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*models.ImageRecord, error) {
	var (
		rec     models.ImageRecord
		embText *string
		status  string
	)
	if err := row.Scan(
		&rec.ID, &rec.Filename, &rec.OriginalFilename, &rec.ContentType,
		&rec.FileSize, &rec.FilePath, &embText, &rec.Metadata, &status,
		&rec.UploadTimestamp, &rec.ProcessedTimestamp,
	); err != nil {
		return nil, err
	}

	rec.Status = models.Status(status)
	if embText != nil {
		var vec pgvector.Vector
		if err := vec.Scan(*embText); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		rec.Embedding = vec.Slice()
	}
	return &rec, nil
}

func (s *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, offset, limit int) ([]*models.ImageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, original_filename, content_type, file_size, file_path,
		       embedding_vector::text, metadata, processing_status,
		       upload_timestamp, processed_timestamp
		FROM images
		ORDER BY upload_timestamp DESC, id ASC
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*models.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Postgres) GetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	var (
		embText *string
		status  string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT embedding_vector::text, processing_status
		FROM images
		WHERE id = $1
	`, id).Scan(&embText, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}

	if models.Status(status) != models.StatusCompleted || embText == nil {
		return nil, ErrNoEmbedding
	}

	var vec pgvector.Vector
	if err := vec.Scan(*embText); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	return vec.Slice(), nil
}

func (s *Postgres) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE images
		SET processing_status = $2
		WHERE id = $1 AND processing_status IN ($2, $3)
	`, id, string(models.StatusProcessing), string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.StatusProcessing)
	}
	return nil
}

func (s *Postgres) Complete(ctx context.Context, id uuid.UUID, embedding []float32, metadata map[string]any, processedAt time.Time) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), s.dimension)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE images
		SET embedding_vector = $2,
		    metadata = $3,
		    processing_status = $4,
		    processed_timestamp = $5
		WHERE id = $1 AND processing_status = $6
	`, id, pgvector.NewVector(embedding), metadata,
		string(models.StatusCompleted), processedAt, string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.StatusCompleted)
	}
	return nil
}

func (s *Postgres) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE images
		SET embedding_vector = NULL,
		    metadata = metadata || jsonb_build_object('failure_reason', $2::text),
		    processing_status = $3,
		    processed_timestamp = NOW()
		WHERE id = $1 AND processing_status IN ($4, $5)
	`, id, reason, string(models.StatusFailed),
		string(models.StatusPending), string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("fail record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.StatusFailed)
	}
	return nil
}

// transitionError distinguishes a missing record from an illegal status
// transition after a guarded UPDATE touched no rows.
func (s *Postgres) transitionError(ctx context.Context, id uuid.UUID, next models.Status) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT processing_status FROM images WHERE id = $1`, id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, status, next)
}

func (s *Postgres) Search(ctx context.Context, query []float32, excludeID uuid.UUID, threshold float64, limit int) ([]Match, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if excludeID == uuid.Nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, filename, content_type, upload_timestamp,
			       1 - (embedding_vector <=> $1) AS similarity
			FROM images
			WHERE processing_status = 'completed'
			  AND 1 - (embedding_vector <=> $1) >= $2
			ORDER BY similarity DESC, upload_timestamp DESC, id ASC
			LIMIT $3
		`, pgvector.NewVector(query), threshold, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, filename, content_type, upload_timestamp,
			       1 - (embedding_vector <=> $1) AS similarity
			FROM images
			WHERE processing_status = 'completed'
			  AND id <> $2
			  AND 1 - (embedding_vector <=> $1) >= $3
			ORDER BY similarity DESC, upload_timestamp DESC, id ASC
			LIMIT $4
		`, pgvector.NewVector(query), excludeID, threshold, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Filename, &m.ContentType, &m.UploadTimestamp, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *Postgres) Duplicates(ctx context.Context, threshold float64, limit int) ([]DuplicatePair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i1.id, i2.id,
		       1 - (i1.embedding_vector <=> i2.embedding_vector) AS similarity
		FROM images i1
		JOIN images i2 ON i1.id < i2.id
		WHERE i1.processing_status = 'completed'
		  AND i2.processing_status = 'completed'
		  AND 1 - (i1.embedding_vector <=> i2.embedding_vector) >= $1
		ORDER BY similarity DESC
		LIMIT $2
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("duplicate query: %w", err)
	}
	defer rows.Close()

	var pairs []DuplicatePair
	for rows.Next() {
		var p DuplicatePair
		if err := rows.Scan(&p.ID1, &p.ID2, &p.Score); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *Postgres) Pending(ctx context.Context) ([]*models.ImageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, original_filename, content_type, file_size, file_path,
		       embedding_vector::text, metadata, processing_status,
		       upload_timestamp, processed_timestamp
		FROM images
		WHERE processing_status IN ($1, $2)
		ORDER BY upload_timestamp ASC
	`, string(models.StatusPending), string(models.StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("pending records: %w", err)
	}
	defer rows.Close()

	var records []*models.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT processing_status, COUNT(*)
		FROM images
		GROUP BY processing_status
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		switch models.Status(status) {
		case models.StatusCompleted:
			stats.Completed = count
		case models.StatusProcessing:
			stats.Processing = count
		case models.StatusPending:
			stats.Pending = count
		case models.StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	s.pool.Close()
}
