package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"imagesim/internal/config"
)

// New builds the store selected by cfg.StoreDriver. The postgres driver
// connects, pings and runs migrations before returning.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemory(cfg.EmbeddingDimension), nil

	case "postgres", "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping db: %w", err)
		}
		st, err := NewPostgres(ctx, pool, cfg.EmbeddingDimension)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
