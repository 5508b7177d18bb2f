// Package health samples host resources for diagnostics and for admission
// of ingestion work.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy = "healthy"
	StatusWarning = "warning"

	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024
)

// Thresholds are the resource floors for ingestion. Zero disables a check.
type Thresholds struct {
	MinFreeMemoryMB uint64
	MinFreeDiskMB   uint64
	MaxCPUPercent   float64
}

// DefaultThresholds requires 2GB of memory, 1GB of disk and CPU below 90%.
func DefaultThresholds() Thresholds {
	return Thresholds{MinFreeMemoryMB: 2048, MinFreeDiskMB: 1024, MaxCPUPercent: 90}
}

// Snapshot is a point-in-time view of host resources.
type Snapshot struct {
	Status            string  `json:"status"`
	MemoryAvailableGB float64 `json:"memory_available_gb"`
	MemorySufficient  bool    `json:"memory_sufficient"`
	DiskAvailableGB   float64 `json:"disk_available_gb"`
	DiskSufficient    bool    `json:"disk_sufficient"`
	CPUPercent        float64 `json:"cpu_percent"`
	CPUOK             bool    `json:"cpu_ok"`
	AllOK             bool    `json:"all_ok"`
}

type usage struct {
	memAvailable uint64
	diskFree     uint64
	cpuPercent   float64
}

type sampleFunc func(ctx context.Context, withCPU bool) (usage, error)

// Monitor checks memory and disk of the volume holding Path.
type Monitor struct {
	thresholds Thresholds
	sample     sampleFunc
}

func NewMonitor(path string, thresholds Thresholds, cpuInterval time.Duration) *Monitor {
	if path == "" {
		path = "."
	}
	return &Monitor{
		thresholds: thresholds,
		sample:     systemSampler(path, cpuInterval),
	}
}

func systemSampler(path string, cpuInterval time.Duration) sampleFunc {
	return func(ctx context.Context, withCPU bool) (usage, error) {
		var u usage
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			vm, err := mem.VirtualMemoryWithContext(gctx)
			if err != nil {
				return fmt.Errorf("memory: %w", err)
			}
			u.memAvailable = vm.Available
			return nil
		})
		g.Go(func() error {
			du, err := disk.UsageWithContext(gctx, path)
			if err != nil {
				return fmt.Errorf("disk: %w", err)
			}
			u.diskFree = du.Free
			return nil
		})
		if withCPU {
			g.Go(func() error {
				pct, err := cpu.PercentWithContext(gctx, cpuInterval, false)
				if err != nil {
					return fmt.Errorf("cpu: %w", err)
				}
				if len(pct) > 0 {
					u.cpuPercent = pct[0]
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return usage{}, err
		}
		return u, nil
	}
}

// Snapshot samples memory, disk and CPU.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	u, err := m.sample(ctx, true)
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{
		MemoryAvailableGB: float64(u.memAvailable) / bytesPerGB,
		MemorySufficient:  m.memoryOK(u),
		DiskAvailableGB:   float64(u.diskFree) / bytesPerGB,
		DiskSufficient:    m.diskOK(u),
		CPUPercent:        u.cpuPercent,
		CPUOK:             m.thresholds.MaxCPUPercent <= 0 || u.cpuPercent < m.thresholds.MaxCPUPercent,
	}
	s.AllOK = s.MemorySufficient && s.DiskSufficient && s.CPUOK
	s.Status = StatusWarning
	if s.AllOK {
		s.Status = StatusHealthy
	}
	return s, nil
}

// Check fails with domain.ErrResourceExhausted when free memory or disk is
// below its floor. CPU load is reported by Snapshot only.
func (m *Monitor) Check(ctx context.Context) error {
	u, err := m.sample(ctx, false)
	if err != nil {
		// An unreadable sample should not block ingestion.
		return nil
	}
	if !m.memoryOK(u) {
		return domain.ErrResourceExhausted.Wrap(fmt.Errorf("%d MB of memory available, %d MB required",
			u.memAvailable/bytesPerMB, m.thresholds.MinFreeMemoryMB))
	}
	if !m.diskOK(u) {
		return domain.ErrResourceExhausted.Wrap(fmt.Errorf("%d MB of disk available, %d MB required",
			u.diskFree/bytesPerMB, m.thresholds.MinFreeDiskMB))
	}
	return nil
}

func (m *Monitor) memoryOK(u usage) bool {
	return u.memAvailable >= m.thresholds.MinFreeMemoryMB*bytesPerMB
}

func (m *Monitor) diskOK(u usage) bool {
	return u.diskFree >= m.thresholds.MinFreeDiskMB*bytesPerMB
}
