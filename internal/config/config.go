// Package config holds the service configuration. Every component receives
// its Config at construction so tests can run several configurations in the
// same process.
package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Addr        string
	DatabaseURL string
	StoreDriver string // "postgres" or "memory"
	StorageDir  string

	MaxFileSize       int64
	AllowedTypes      []string
	AllowedExtensions []string

	EmbeddingDimension  int
	SimilarityThreshold float64
	MaxSimilarResults   int
	DuplicateThreshold  float64

	ThumbnailSize      int
	EmbeddingCacheSize int
	Workers            int
}

func Default() Config {
	return Config{
		Addr:        ":8080",
		StoreDriver: "postgres",
		StorageDir:  "./storage",

		MaxFileSize:       10 * 1024 * 1024, // 10 MiB
		AllowedTypes:      []string{"image/jpeg", "image/png", "image/gif", "image/bmp"},
		AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"},

		EmbeddingDimension:  512,
		SimilarityThreshold: 0.7,
		MaxSimilarResults:   10,
		DuplicateThreshold:  0.95,

		ThumbnailSize:      512,
		EmbeddingCacheSize: 1024,
		Workers:            3,
	}
}

// FromEnv returns the default configuration with environment overrides
// applied. Unset or malformed variables keep their defaults.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v, err := strconv.ParseInt(os.Getenv("MAX_FILE_SIZE"), 10, 64); err == nil && v > 0 {
		cfg.MaxFileSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("EMBEDDING_DIMENSION")); err == nil && v > 0 {
		cfg.EmbeddingDimension = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("SIMILARITY_THRESHOLD"), 64); err == nil {
		cfg.SimilarityThreshold = v
	}
	if v, err := strconv.Atoi(os.Getenv("MAX_SIMILAR_RESULTS")); err == nil && v > 0 {
		cfg.MaxSimilarResults = v
	}
	if v, err := strconv.Atoi(os.Getenv("WORKERS")); err == nil && v > 0 {
		cfg.Workers = v
	}

	return cfg
}

// TypeAllowed reports whether the declared MIME type is on the allow-list.
func (c Config) TypeAllowed(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, t := range c.AllowedTypes {
		if contentType == t {
			return true
		}
	}
	return false
}

// ExtensionAllowed reports whether the file extension (including the dot,
// case-insensitive) is on the allow-list.
func (c Config) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range c.AllowedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
