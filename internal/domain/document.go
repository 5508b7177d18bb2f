package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// DocumentStatus is the ingestion state of a document.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusExtracting DocumentStatus = "extracting"
	DocumentStatusChunking   DocumentStatus = "chunking"
	DocumentStatusEmbedding  DocumentStatus = "embedding"
	DocumentStatusIndexing   DocumentStatus = "indexing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// IngestionStages lists the working stages in execution order.
var IngestionStages = []DocumentStatus{
	DocumentStatusExtracting,
	DocumentStatusChunking,
	DocumentStatusEmbedding,
	DocumentStatusIndexing,
}

// Terminal reports whether no further transition happens from s.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusReady || s == DocumentStatusFailed
}

// IsValidDocumentStatus checks if a DocumentStatus is known
func IsValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusExtracting, DocumentStatusChunking,
		DocumentStatusEmbedding, DocumentStatusIndexing, DocumentStatusReady,
		DocumentStatusFailed:
		return true
	}
	return false
}

// Document is an uploaded source file and its ingestion state. ID is the
// sanitized filename.
type Document struct {
	ID            string
	Filename      string
	Size          int64
	Pages         int
	ContentHash   string
	MimeType      string
	StorageKey    string
	Status        DocumentStatus
	LastStage     DocumentStatus
	FailureReason string
	ChunkCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewDocument creates a pending document.
func NewDocument(id string, size int64, pages int, contentHash, mimeType string, now time.Time) *Document {
	return &Document{
		ID:          id,
		Filename:    id,
		Size:        size,
		Pages:       pages,
		ContentHash: contentHash,
		MimeType:    mimeType,
		StorageKey:  StorageKeyFor(id),
		Status:      DocumentStatusPending,
		LastStage:   DocumentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.ContentHash == "" {
		return fmt.Errorf("document ContentHash is required")
	}
	if d.Size < 0 {
		return fmt.Errorf("document Size cannot be negative")
	}
	if !IsValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}
	return nil
}

// Transition moves the document to status. Working stages are also recorded
// as LastStage so a failed document keeps the stage it stopped at.
func (d *Document) Transition(status DocumentStatus, reason string, now time.Time) {
	d.Status = status
	if status != DocumentStatusFailed {
		d.LastStage = status
		d.FailureReason = ""
	} else {
		d.FailureReason = reason
	}
	d.UpdatedAt = now
}

// StorageKeyFor returns the blob key for a document id.
func StorageKeyFor(id string) string {
	return "documents/" + id
}

// SanitizeFilename reduces an uploaded name to a safe base name made of
// letters, digits, dots, dashes and underscores. Spaces become underscores.
// It returns "" when nothing usable is left.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" || out == "." || out == ".." {
		return ""
	}
	return out
}

// Extension returns the lower-cased extension of a filename without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
