package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Preprocessor renders fixed-size JPEG thumbnails for uploaded images.
// Thumbnails are a display convenience, not an input to the embedding, so
// failures here never fail the pipeline.
type Preprocessor struct {
	thumbDir string
	size     int
}

func NewPreprocessor(baseDir string, size int) *Preprocessor {
	thumbDir := filepath.Join(baseDir, "thumbnails")
	os.MkdirAll(thumbDir, 0o755)

	return &Preprocessor{thumbDir: thumbDir, size: size}
}

func (p *Preprocessor) ThumbDir() string {
	return p.thumbDir
}

// Thumbnail decodes the content, center-crops it to a square of the
// configured size with Lanczos resampling and writes it as JPEG. Returns the
// path of the written file.
func (p *Preprocessor) Thumbnail(content []byte, id uuid.UUID) (string, error) {
	src, err := imaging.Decode(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fill(src, p.size, p.size, imaging.Center, imaging.Lanczos)

	thumbPath := filepath.Join(p.thumbDir, fmt.Sprintf("thumb_%s.jpg", id))
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}

	return thumbPath, nil
}

// Remove deletes the thumbnail for id if one exists.
func (p *Preprocessor) Remove(id uuid.UUID) {
	os.Remove(filepath.Join(p.thumbDir, fmt.Sprintf("thumb_%s.jpg", id)))
}
