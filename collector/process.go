package collector

import (
	"context"
	"fmt"

	"procstat-agent/apperr"
	"procstat-agent/models"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

func (HostSource) Pids(ctx context.Context) ([]int32, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, apperr.New("list pids", apperr.ErrUnavailable, err)
	}
	return pids, nil
}

// Process reads one process. A process that exits halfway through the read
// comes back as NotFound.
func (HostSource) Process(ctx context.Context, pid int32) (models.ProcessInfo, error) {
	op := fmt.Sprintf("process %d", pid)

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return models.ProcessInfo{}, apperr.New(op, apperr.ErrNotFound, err)
		}
		return models.ProcessInfo{}, apperr.Wrap(op, err)
	}

	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return models.ProcessInfo{}, apperr.Wrap(op, errors.WithMessage(err, "parent"))
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		return models.ProcessInfo{}, apperr.Wrap(op, errors.WithMessage(err, "name"))
	}

	// Kernel threads have an empty command line
	cmdline, err := p.CmdlineWithContext(ctx)
	if err != nil {
		return models.ProcessInfo{}, apperr.Wrap(op, errors.WithMessage(err, "cmdline"))
	}

	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return models.ProcessInfo{}, apperr.Wrap(op, errors.WithMessage(err, "memory"))
	}

	return models.ProcessInfo{
		PID:       pid,
		PPID:      ppid,
		Command:   name,
		Arguments: cmdline,
		Memory: models.ProcessMemory{
			Resident: memInfo.RSS,
			Virtual:  memInfo.VMS,
		},
	}, nil
}
