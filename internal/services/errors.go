package services

import "fmt"

// ValidationReason classifies why an upload was rejected. The codes are part
// of the API surface and map to client-facing error responses.
type ValidationReason string

const (
	ReasonUnsupportedType      ValidationReason = "unsupported_type"
	ReasonUnsupportedExtension ValidationReason = "unsupported_extension"
	ReasonEmptyFile            ValidationReason = "empty_file"
	ReasonTooLarge             ValidationReason = "too_large"
	ReasonCorruptContent       ValidationReason = "corrupt_content"
)

// ValidationError rejects an upload before anything is persisted. It is
// user-correctable and never results in a stored record.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// ExtractionError signals content that passed validation but whose structure
// could not be read. The owning record transitions to failed.
type ExtractionError struct {
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract image metadata: %v", e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}
