package jobs

import (
	"context"

	"go.uber.org/zap"
)

// Compactable is an index that can drop tombstoned entries.
type Compactable interface {
	Compact() int
}

// CompactionJob periodically reclaims deleted index entries.
type CompactionJob struct {
	index  Compactable
	logger *zap.Logger
}

func NewCompactionJob(index Compactable, logger *zap.Logger) *CompactionJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompactionJob{index: index, logger: logger}
}

// ProcessJobs implements the JobProcessor interface
func (j *CompactionJob) ProcessJobs(ctx context.Context) error {
	if n := j.index.Compact(); n > 0 {
		j.logger.Info("index compacted", zap.Int("reclaimed", n))
	}
	return nil
}
