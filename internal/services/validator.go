package services

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	// Decoders for the accepted encodings. Registering them here covers the
	// whole package, including the metadata extractor.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"

	"imagesim/internal/config"
)

// Validator confirms an upload is a decodable image of an accepted encoding
// and within size limits. It is pure; nothing is persisted on rejection.
type Validator struct {
	cfg config.Config
}

func NewValidator(cfg config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks the declared content type, the file extension, the size
// bounds and finally that the buffer decodes as a well-formed image. The
// type and extension checks are independent; both must pass.
func (v *Validator) Validate(content []byte, contentType, filename string) error {
	if !v.cfg.TypeAllowed(contentType) {
		return &ValidationError{
			Reason: ReasonUnsupportedType,
			Detail: fmt.Sprintf("content type %q is not allowed", contentType),
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !v.cfg.ExtensionAllowed(ext) {
		return &ValidationError{
			Reason: ReasonUnsupportedExtension,
			Detail: fmt.Sprintf("extension %q is not allowed", ext),
		}
	}

	if len(content) == 0 {
		return &ValidationError{Reason: ReasonEmptyFile}
	}
	if int64(len(content)) > v.cfg.MaxFileSize {
		return &ValidationError{
			Reason: ReasonTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds limit of %d", len(content), v.cfg.MaxFileSize),
		}
	}

	// Full decode, not just a header sniff: an image extension over corrupt
	// bytes must fail here rather than later in the pipeline.
	if _, _, err := image.Decode(bytes.NewReader(content)); err != nil {
		return &ValidationError{
			Reason: ReasonCorruptContent,
			Detail: err.Error(),
		}
	}

	return nil
}
