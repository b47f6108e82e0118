package collector

import (
	"context"
	"errors"
	"time"

	"procstat-agent/apperr"
	"procstat-agent/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"
)

// HostSource reads the local machine through gopsutil
type HostSource struct{}

func NewHostSource() *HostSource {
	return &HostSource{}
}

func (HostSource) VirtualMemory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, apperr.New("read memory", apperr.ErrUnavailable, err)
	}
	return vm.Total, vm.Available, nil
}

func (HostSource) LogicalCPUs(ctx context.Context) (int, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, apperr.New("count cpus", apperr.ErrUnavailable, err)
	}
	if n < 1 {
		return 0, apperr.New("count cpus", apperr.ErrUnavailable, errors.New("no logical cpus reported"))
	}
	return n, nil
}

func (HostSource) Uptime(ctx context.Context) (uint64, error) {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, apperr.New("read uptime", apperr.ErrUnavailable, err)
	}
	return up, nil
}

// Load average is not available on windows
func (HostSource) LoadAverage(ctx context.Context) (*models.LoadInfo, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, apperr.New("read load average", apperr.ErrUnavailable, err)
	}
	return &models.LoadInfo{
		Load1:  avg.Load1,
		Load5:  avg.Load5,
		Load15: avg.Load15,
	}, nil
}

func (HostSource) CPUUsage(ctx context.Context, window time.Duration) (float64, error) {
	percent, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, apperr.New("measure cpu usage", apperr.ErrUnavailable, err)
	}
	if len(percent) == 0 {
		return 0, apperr.New("measure cpu usage", apperr.ErrUnavailable, errors.New("empty measurement"))
	}
	return percent[0], nil
}

// CPUs reads model info and measures per-core usage at the same time, so the
// table costs one window. Some platforms report a single info entry per
// package; cores past the last entry reuse it.
func (HostSource) CPUs(ctx context.Context, window time.Duration) ([]CoreStat, error) {
	var (
		infos []cpu.InfoStat
		usage []float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		infos, err = cpu.InfoWithContext(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		usage, err = cpu.PercentWithContext(gctx, window, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.New("read cpu table", apperr.ErrUnavailable, err)
	}
	if len(usage) == 0 {
		return nil, apperr.New("read cpu table", apperr.ErrUnavailable, errors.New("no cpus reported"))
	}

	table := make([]CoreStat, len(usage))
	for i, u := range usage {
		table[i].Usage = u
		if len(infos) == 0 {
			continue
		}
		info := infos[min(i, len(infos)-1)]
		table[i].Brand = info.ModelName
		table[i].Vendor = info.VendorID
		table[i].Mhz = info.Mhz
	}
	return table, nil
}
