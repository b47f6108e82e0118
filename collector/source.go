package collector

import (
	"context"
	"time"

	"procstat-agent/models"
)

// CoreStat is one row of the per-core CPU table
type CoreStat struct {
	Brand  string
	Vendor string
	Mhz    float64
	Usage  float64
}

// Source answers the OS questions the collector needs. Implementations must
// return apperr kinds and must never panic on missing data.
type Source interface {
	// VirtualMemory returns total and available physical memory in bytes.
	VirtualMemory(ctx context.Context) (total, available uint64, err error)
	LogicalCPUs(ctx context.Context) (int, error)
	Uptime(ctx context.Context) (uint64, error)
	LoadAverage(ctx context.Context) (*models.LoadInfo, error)
	// CPUUsage is whole-machine usage in percent measured over window.
	CPUUsage(ctx context.Context, window time.Duration) (float64, error)

	// Pids lists the process table as it is right now. Any pid may be gone
	// by the time Process is called with it.
	Pids(ctx context.Context) ([]int32, error)
	Process(ctx context.Context, pid int32) (models.ProcessInfo, error)

	// CPUs returns one row per logical CPU in OS order. A positive window
	// blocks for that long to measure usage.
	CPUs(ctx context.Context, window time.Duration) ([]CoreStat, error)
}

// ContainerSource lists containers of the local container runtime
type ContainerSource interface {
	Containers(ctx context.Context) ([]models.ContainerInfo, error)
}
