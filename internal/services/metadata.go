package services

import (
	"bytes"
	"image"

	"github.com/gabriel-vasile/mimetype"
)

// ImageInfo holds the intrinsic attributes derived from decoded content.
type ImageInfo struct {
	Width           int
	Height          int
	Format          string
	ColorMode       string
	HasTransparency bool
	ByteSize        int64
	DetectedMIME    string
}

// Map flattens the attributes into the record's open metadata map.
func (i *ImageInfo) Map() map[string]any {
	return map[string]any{
		"width":            i.Width,
		"height":           i.Height,
		"format":           i.Format,
		"mode":             i.ColorMode,
		"has_transparency": i.HasTransparency,
		"byte_size":        i.ByteSize,
		"detected_mime":    i.DetectedMIME,
	}
}

// Extractor derives image attributes from validated content. It performs a
// second full decode on purpose: inputs reach it only after validation, but
// it must still fail with an ExtractionError of its own rather than assume
// the earlier check ran.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(content []byte) (*ImageInfo, error) {
	img, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, &ExtractionError{Cause: err}
	}

	bounds := img.Bounds()
	mode, transparent := colorMode(img)

	return &ImageInfo{
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		Format:          format,
		ColorMode:       mode,
		HasTransparency: transparent,
		ByteSize:        int64(len(content)),
		DetectedMIME:    mimetype.Detect(content).String(),
	}, nil
}

func colorMode(img image.Image) (mode string, transparent bool) {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return "grayscale", false
	case *image.RGBA, *image.RGBA64, *image.NRGBA, *image.NRGBA64:
		return "RGBA", true
	case *image.Paletted:
		return "palette", false
	case *image.CMYK:
		return "CMYK", false
	case *image.YCbCr:
		return "RGB", false
	default:
		return "RGB", false
	}
}
