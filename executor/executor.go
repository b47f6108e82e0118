package executor

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"procstat-agent/apperr"
	"procstat-agent/logger"
	"procstat-agent/models"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	defaultCaptureLimit = 64 * 1024

	// Once the child exits, how long Wait keeps draining pipes that a
	// grandchild may still hold open.
	captureDrain = 100 * time.Millisecond
)

// Executor kills and starts OS processes. Neither call waits for the target
// process to exit.
type Executor struct {
	log           logger.Logger
	captureWindow time.Duration
	captureLimit  int
}

type Option func(*Executor)

// WithCapture makes Start wait up to window for the child and return what it
// wrote, at most limit bytes per stream.
func WithCapture(window time.Duration, limit int) Option {
	return func(e *Executor) {
		e.captureWindow = window
		e.captureLimit = limit
	}
}

func New(log logger.Logger, opts ...Option) *Executor {
	e := &Executor{log: log, captureLimit: defaultCaptureLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Terminate sends SIGKILL (TerminateProcess on windows) to pid. Success means
// the signal was delivered. The result is filled in on failure too.
func (e *Executor) Terminate(ctx context.Context, pid int32) (models.ActionResult, error) {
	if err := e.kill(ctx, pid); err != nil {
		e.log.Warn("kill failed", "pid", pid, "error", err)
		return models.ActionResult{
			Status:  models.StatusFailed,
			Error:   apperr.Code(err),
			Message: err.Error(),
			PID:     pid,
		}, err
	}

	e.log.Info("kill signal sent", "pid", pid)
	return models.ActionResult{Status: models.StatusOK, PID: pid}, nil
}

func (e *Executor) kill(ctx context.Context, pid int32) error {
	op := fmt.Sprintf("kill %d", pid)

	// 0 and negative pids address process groups
	if pid <= 0 {
		return apperr.New(op, apperr.ErrInvalid, errors.New("pid must be positive"))
	}
	if int(pid) == os.Getpid() {
		return apperr.New(op, apperr.ErrInvalid, errors.New("refusing to kill the agent itself"))
	}

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return apperr.New(op, apperr.ErrNotFound, err)
		}
		return apperr.WrapAs(op, apperr.ErrExecution, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		return apperr.WrapAs(op, apperr.ErrExecution, err)
	}
	return nil
}

// Start launches req.Command with req.Arguments. The child gets no stdin and,
// unless capture is on, no stdout or stderr. req.Environment is layered over
// the agent's own environment. The child is reaped in the background.
func (e *Executor) Start(ctx context.Context, req models.StartRequest) (models.StartResult, error) {
	res, err := e.start(ctx, req)
	if err != nil {
		e.log.Warn("start failed", "command", req.Command, "error", err)
		res.Status = models.StatusFailed
		res.Error = apperr.Code(err)
		res.Message = err.Error()
		return res, err
	}
	res.Status = models.StatusOK
	return res, nil
}

func (e *Executor) start(ctx context.Context, req models.StartRequest) (models.StartResult, error) {
	var res models.StartResult

	if strings.TrimSpace(req.Command) == "" {
		return res, apperr.New("start", apperr.ErrInvalid, errors.New("command is required"))
	}

	for key := range req.Environment {
		if key == "" || strings.ContainsAny(key, "=\x00") {
			return res, apperr.New("start "+req.Command, apperr.ErrInvalid,
				errors.Errorf("invalid environment variable name %q", key))
		}
	}

	cmd := exec.Command(req.Command, req.Arguments...)
	if len(req.Environment) > 0 {
		cmd.Env = mergeEnv(os.Environ(), req.Environment)
	}

	capture := e.captureWindow > 0
	var stdout, stderr *limitedBuffer
	if capture {
		stdout = newLimitedBuffer(e.captureLimit)
		stderr = newLimitedBuffer(e.captureLimit)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.WaitDelay = min(captureDrain, e.captureWindow)
	}

	if err := cmd.Start(); err != nil {
		return res, apperr.New("start "+req.Command, apperr.ErrExecution, err)
	}
	res.PID = int32(cmd.Process.Pid)

	log := e.log.With("pid", res.PID, "command", req.Command)
	log.Info("process started", "args", len(req.Arguments), "env_overrides", len(req.Environment))

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		err := cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil, errors.Is(err, exec.ErrWaitDelay):
			log.Info("process exited", "code", cmd.ProcessState.ExitCode())
		case errors.As(err, &exitErr):
			log.Info("process exited", "code", exitErr.ExitCode())
		default:
			log.Warn("waiting for process failed", "error", err)
		}
	}()

	if !capture {
		return res, nil
	}

	timer := time.NewTimer(e.captureWindow)
	defer timer.Stop()
	select {
	case <-exited:
		res.Exited = true
		code := cmd.ProcessState.ExitCode()
		res.ExitCode = &code
	case <-timer.C:
	case <-ctx.Done():
	}

	var outTrunc, errTrunc bool
	res.Stdout, outTrunc = stdout.Snapshot()
	res.Stderr, errTrunc = stderr.Snapshot()
	res.Truncated = outTrunc || errTrunc
	return res, nil
}

// mergeEnv returns base with overrides applied, overridden keys appended in
// sorted order.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		env = append(env, key+"="+overrides[key])
	}
	return env
}
