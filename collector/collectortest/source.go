// Package collectortest provides an in-memory collector.Source for tests.
package collectortest

import (
	"context"
	"fmt"
	"time"

	"procstat-agent/apperr"
	"procstat-agent/collector"
	"procstat-agent/models"
)

// Source answers from its fields. It is read-only after construction and
// safe for concurrent use.
type Source struct {
	Total, Available uint64
	MemoryErr        error

	CPUCount int
	CountErr error

	UptimeSeconds uint64
	UptimeErr     error

	Load    *models.LoadInfo
	LoadErr error

	Usage    float64
	UsageErr error

	// Order is what Pids returns. Procs holds the readable ones; pids in
	// ProcErrs fail with that error, anything else is NotFound.
	Order    []int32
	Procs    map[int32]models.ProcessInfo
	ProcErrs map[int32]error
	PidsErr  error

	Cores    []collector.CoreStat
	CoresErr error

	// Hang makes CPUs block until it is closed, ignoring ctx.
	Hang chan struct{}
	// ProcHang does the same for Process.
	ProcHang chan struct{}
}

var _ collector.Source = (*Source)(nil)

func (s *Source) VirtualMemory(context.Context) (uint64, uint64, error) {
	return s.Total, s.Available, s.MemoryErr
}

func (s *Source) LogicalCPUs(context.Context) (int, error) {
	return s.CPUCount, s.CountErr
}

func (s *Source) Uptime(context.Context) (uint64, error) {
	return s.UptimeSeconds, s.UptimeErr
}

func (s *Source) LoadAverage(context.Context) (*models.LoadInfo, error) {
	return s.Load, s.LoadErr
}

func (s *Source) CPUUsage(context.Context, time.Duration) (float64, error) {
	return s.Usage, s.UsageErr
}

func (s *Source) Pids(context.Context) ([]int32, error) {
	if s.PidsErr != nil {
		return nil, s.PidsErr
	}
	return append([]int32(nil), s.Order...), nil
}

func (s *Source) Process(_ context.Context, pid int32) (models.ProcessInfo, error) {
	if s.ProcHang != nil {
		<-s.ProcHang
	}
	if err, ok := s.ProcErrs[pid]; ok {
		return models.ProcessInfo{}, err
	}
	if p, ok := s.Procs[pid]; ok {
		return p, nil
	}
	return models.ProcessInfo{}, apperr.New(fmt.Sprintf("process %d", pid), apperr.ErrNotFound, nil)
}

func (s *Source) CPUs(context.Context, time.Duration) ([]collector.CoreStat, error) {
	if s.Hang != nil {
		<-s.Hang
	}
	if s.CoresErr != nil {
		return nil, s.CoresErr
	}
	return append([]collector.CoreStat(nil), s.Cores...), nil
}

// Containers is a collector.ContainerSource over a fixed list
type Containers struct {
	List []models.ContainerInfo
	Err  error
}

func (c *Containers) Containers(context.Context) ([]models.ContainerInfo, error) {
	return c.List, c.Err
}
