package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"procstat-agent/apperr"
	"procstat-agent/logger"
	"procstat-agent/models"

	"golang.org/x/sync/errgroup"
)

const (
	defaultSampleWindow = 200 * time.Millisecond
	defaultWorkers      = 16
)

// Collector builds response snapshots out of Source reads. It keeps no state
// between calls and is safe for concurrent use.
type Collector struct {
	source     Source
	containers ContainerSource
	window     time.Duration
	workers    int
	log        logger.Logger
}

type Option func(*Collector)

// WithSampleWindow sets how long CPU usage is measured for. A zero window
// would make gopsutil diff against its process-wide last call, so it is
// ignored.
func WithSampleWindow(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithWorkers bounds concurrent per-process reads
func WithWorkers(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithContainers(cs ContainerSource) Option {
	return func(c *Collector) { c.containers = cs }
}

func New(source Source, log logger.Logger, opts ...Option) *Collector {
	c := &Collector{
		source:  source,
		window:  defaultSampleWindow,
		workers: defaultWorkers,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status reads memory and cpu count (both required) together with uptime,
// load and cpu usage (reported as null when the OS cannot answer).
func (c *Collector) Status(ctx context.Context) (*models.SystemStatus, error) {
	var (
		status           models.SystemStatus
		total, available uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, available, err = c.source.VirtualMemory(gctx)
		return err
	})
	g.Go(func() error {
		n, err := c.source.LogicalCPUs(gctx)
		if err != nil {
			return err
		}
		status.CPUs = uint64(n)
		return nil
	})
	g.Go(func() error {
		up, err := c.source.Uptime(gctx)
		if err != nil {
			c.log.Debug("uptime not reported", "error", err)
			return nil
		}
		status.Uptime = &up
		return nil
	})
	g.Go(func() error {
		avg, err := c.source.LoadAverage(gctx)
		if err != nil {
			c.log.Debug("load average not reported", "error", err)
			return nil
		}
		status.Load = avg
		return nil
	})
	g.Go(func() error {
		usage, err := c.source.CPUUsage(gctx, c.window)
		if err != nil {
			c.log.Debug("cpu usage not reported", "error", err)
			return nil
		}
		status.Usage = &usage
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	status.Memory = memoryInfo(total, available)
	return &status, nil
}

// memoryInfo clamps usage at zero; available can briefly exceed total when
// the two counters are read at different instants.
func memoryInfo(total, available uint64) models.MemoryInfo {
	var usage uint64
	if available < total {
		usage = total - available
	}
	return models.MemoryInfo{Total: total, Usage: usage}
}

// ProcessSnapshot is a best-effort process listing. Skipped counts processes
// that were enumerated but could not be read (exited, denied).
type ProcessSnapshot struct {
	Processes []models.ProcessInfo
	Skipped   int
}

// Processes lists every process it can read, in enumeration order. A failed
// read drops that one entry; only a failed enumeration or the request
// deadline fails the whole call.
func (c *Collector) Processes(ctx context.Context) (*ProcessSnapshot, error) {
	pids, err := detach(ctx, "list pids", c.source.Pids)
	if err != nil {
		return nil, err
	}
	// Per-process reads can block in the kernel regardless of ctx, so the
	// whole fan-out is detached too.
	return detach(ctx, "list processes", func(ctx context.Context) (*ProcessSnapshot, error) {
		return c.readProcesses(ctx, pids)
	})
}

func (c *Collector) readProcesses(ctx context.Context, pids []int32) (*ProcessSnapshot, error) {
	results := make([]*models.ProcessInfo, len(pids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, pid := range pids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := c.source.Process(gctx, pid)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.log.Debug("skipping process", "pid", pid, "error", err)
				return nil
			}
			results[i] = &info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.New("list processes", apperr.ErrUnavailable, err)
	}

	snap := &ProcessSnapshot{Processes: make([]models.ProcessInfo, 0, len(pids))}
	for _, info := range results {
		if info == nil {
			snap.Skipped++
			continue
		}
		snap.Processes = append(snap.Processes, *info)
	}
	return snap, nil
}

// Process reads a single process by pid.
func (c *Collector) Process(ctx context.Context, pid int32) (*models.ProcessInfo, error) {
	if pid <= 0 {
		return nil, apperr.New(fmt.Sprintf("process %d", pid), apperr.ErrInvalid, errors.New("pid must be positive"))
	}
	info, err := detach(ctx, fmt.Sprintf("process %d", pid), func(ctx context.Context) (models.ProcessInfo, error) {
		return c.source.Process(ctx, pid)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CPU aggregates every logical core into one record
func (c *Collector) CPU(ctx context.Context) (*models.CPUInfo, error) {
	table, err := c.cpuTable(ctx)
	if err != nil {
		return nil, err
	}

	var mhz, usage float64
	for _, core := range table {
		mhz += core.Mhz
		usage += core.Usage
	}
	n := float64(len(table))
	return &models.CPUInfo{
		Model:        table[0].Brand,
		Manufacturer: table[0].Vendor,
		Speed:        uint64(math.Round(mhz / n)),
		Usage:        usage / n,
	}, nil
}

// Core returns the record of one logical core. The table is read once and
// indexed by position.
func (c *Collector) Core(ctx context.Context, index int) (*models.CPUInfo, error) {
	table, err := c.cpuTable(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(table) {
		return nil, apperr.New(fmt.Sprintf("cpu %d", index), apperr.ErrNotFound,
			fmt.Errorf("machine has %d logical cpus", len(table)))
	}

	core := table[index]
	return &models.CPUInfo{
		Model:        core.Brand,
		Manufacturer: core.Vendor,
		Speed:        uint64(math.Round(core.Mhz)),
		Usage:        core.Usage,
	}, nil
}

func (c *Collector) cpuTable(ctx context.Context) ([]CoreStat, error) {
	table, err := detach(ctx, "read cpu table", func(ctx context.Context) ([]CoreStat, error) {
		return c.source.CPUs(ctx, c.window)
	})
	if err != nil {
		return nil, err
	}
	if len(table) == 0 {
		return nil, apperr.New("read cpu table", apperr.ErrUnavailable, errors.New("no cpus reported"))
	}
	return table, nil
}

// Containers lists containers of the local runtime, if one is configured
func (c *Collector) Containers(ctx context.Context) ([]models.ContainerInfo, error) {
	if c.containers == nil {
		return nil, apperr.New("list containers", apperr.ErrUnavailable, errors.New("container runtime not configured"))
	}
	return c.containers.Containers(ctx)
}

// detach runs fn on its own goroutine and gives up when ctx ends, even if fn
// itself ignores ctx. fn keeps running to completion in that case and its
// result is dropped.
func detach[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, apperr.New(op, apperr.ErrUnavailable, ctx.Err())
	}
}
