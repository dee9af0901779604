// Package upload validates session file attachments before they are
// broadcast or persisted. Violations are rejected locally and never
// generate channel traffic.
package upload

import (
	"fmt"
	"time"
)

// MaxSizeBytes is the largest attachment a session accepts (5 MiB).
const MaxSizeBytes = 5 << 20

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// File describes the session's single uploaded attachment. Locator is either
// a remote URL (owner path) or a local-only data reference (visitor path).
type File struct {
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	Locator    string    `json:"locator"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ValidationError is a user-facing rejection of an upload attempt.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validate checks an upload against the session's size and type constraints.
func Validate(name, mimeType string, sizeBytes int64) error {
	if name == "" {
		return &ValidationError{Reason: "file name is required"}
	}
	if sizeBytes <= 0 {
		return &ValidationError{Reason: "file is empty"}
	}
	if sizeBytes > MaxSizeBytes {
		return &ValidationError{Reason: fmt.Sprintf("file exceeds the 5 MB limit (%d bytes)", sizeBytes)}
	}
	if !allowedMimeTypes[mimeType] {
		return &ValidationError{Reason: fmt.Sprintf("file type %q is not supported; use PDF, JPEG or PNG", mimeType)}
	}
	return nil
}
