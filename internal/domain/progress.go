package domain

import "time"

// ProgressEvent reports how far a document's ingestion has advanced.
type ProgressEvent struct {
	DocumentID string         `json:"filename"`
	Stage      DocumentStatus `json:"stage"`
	Percent    int            `json:"percent"`
	Message    string         `json:"message,omitempty"`
	Time       time.Time      `json:"time"`
}

// Stage progress anchors. Embedding advances between its anchor and
// ProgressIndexing as batches complete.
const (
	ProgressPending    = 0
	ProgressExtracting = 10
	ProgressChunking   = 30
	ProgressEmbedding  = 50
	ProgressIndexing   = 90
	ProgressReady      = 100
)

// StagePercent returns the progress anchor for a stage.
func StagePercent(s DocumentStatus) int {
	switch s {
	case DocumentStatusExtracting:
		return ProgressExtracting
	case DocumentStatusChunking:
		return ProgressChunking
	case DocumentStatusEmbedding:
		return ProgressEmbedding
	case DocumentStatusIndexing:
		return ProgressIndexing
	case DocumentStatusReady:
		return ProgressReady
	default:
		return ProgressPending
	}
}

// EmbeddingPercent interpolates progress inside the embedding stage.
func EmbeddingPercent(done, total int) int {
	if total <= 0 {
		return ProgressEmbedding
	}
	span := ProgressIndexing - ProgressEmbedding - 5
	return ProgressEmbedding + span*done/total
}
