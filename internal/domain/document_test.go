package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument(t *testing.T) {
	now := time.Now()
	d := NewDocument("report.pdf", 1024, 3, "abc", "application/pdf", now)

	assert.Equal(t, "report.pdf", d.ID)
	assert.Equal(t, "report.pdf", d.Filename)
	assert.Equal(t, DocumentStatusPending, d.Status)
	assert.Equal(t, "documents/report.pdf", d.StorageKey)
	assert.Equal(t, now, d.CreatedAt)
	require.NoError(t, ValidateDocument(d))
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing id", &Document{ContentHash: "h", Status: DocumentStatusPending}, true},
		{"missing hash", &Document{ID: "a.pdf", Status: DocumentStatusPending}, true},
		{"negative size", &Document{ID: "a.pdf", ContentHash: "h", Size: -1, Status: DocumentStatusPending}, true},
		{"bad status", &Document{ID: "a.pdf", ContentHash: "h", Status: "bogus"}, true},
		{"valid", &Document{ID: "a.pdf", ContentHash: "h", Status: DocumentStatusReady}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDocument_Transition(t *testing.T) {
	now := time.Now()
	d := NewDocument("report.pdf", 10, 1, "h", "application/pdf", now)

	d.Transition(DocumentStatusExtracting, "", now)
	d.Transition(DocumentStatusChunking, "", now)
	d.Transition(DocumentStatusEmbedding, "", now)
	d.Transition(DocumentStatusFailed, "provider unavailable", now.Add(time.Second))

	assert.Equal(t, DocumentStatusFailed, d.Status)
	assert.Equal(t, DocumentStatusEmbedding, d.LastStage)
	assert.Equal(t, "provider unavailable", d.FailureReason)
	assert.True(t, d.Status.Terminal())
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"report.pdf", "report.pdf"},
		{"My Report.pdf", "My_Report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"C:\\Users\\me\\notes.txt", "notes.txt"},
		{"..", ""},
		{"résumé.pdf", "rsum.pdf"},
		{"", ""},
		{".hidden.pdf", "hidden.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.in))
		})
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "pdf", Extension("Report.PDF"))
	assert.Equal(t, "md", Extension("notes.md"))
	assert.Equal(t, "", Extension("README"))
}

func TestStagePercent(t *testing.T) {
	assert.Equal(t, 0, StagePercent(DocumentStatusPending))
	assert.Equal(t, 100, StagePercent(DocumentStatusReady))
	assert.Equal(t, ProgressEmbedding, EmbeddingPercent(0, 4))
	assert.Less(t, EmbeddingPercent(4, 4), ProgressIndexing)
	assert.Greater(t, EmbeddingPercent(2, 4), ProgressEmbedding)
}
