package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"procstat-agent/apperr"
	"procstat-agent/collector"
	"procstat-agent/executor"
	"procstat-agent/logger"
	"procstat-agent/models"

	"github.com/valyala/fasthttp"
)

const maxBodySize = 1 << 20

// Server exposes the collector and executor over HTTP
type Server struct {
	collector *collector.Collector
	executor  *executor.Executor
	log       logger.Logger
	timeout   time.Duration
	srv       *fasthttp.Server
}

func NewServer(col *collector.Collector, exe *executor.Executor, log logger.Logger, timeout time.Duration) *Server {
	s := &Server{
		collector: col,
		executor:  exe,
		log:       log,
		timeout:   timeout,
	}
	s.srv = &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "procstat-agent",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       timeout + 30*time.Second,
		MaxRequestBodySize: maxBodySize,
		Logger:             fasthttpLogger{log},
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("listening", "addr", addr)
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// Handler returns the routed handler wrapped in logging and panic recovery
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.logRequests(s.recoverPanics(s.route))
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	parts := strings.Split(strings.Trim(string(ctx.Path()), "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "status":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleStatus(ctx)
		}

	case len(parts) == 1 && parts[0] == "processes":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleProcesses(ctx)
		}
	case len(parts) == 2 && parts[0] == "processes" && parts[1] == "start":
		if allow(ctx, fasthttp.MethodPost) {
			s.handleStart(ctx)
		}
	case len(parts) == 2 && parts[0] == "processes":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleProcess(ctx, parts[1])
		}
	case len(parts) == 3 && parts[0] == "processes" && parts[1] == "kill":
		if allow(ctx, fasthttp.MethodGet, fasthttp.MethodPost) {
			s.handleKill(ctx, parts[2])
		}

	case len(parts) == 1 && parts[0] == "cpus":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleCPU(ctx)
		}
	case len(parts) == 2 && parts[0] == "cpus":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleCore(ctx, parts[1])
		}

	case len(parts) == 1 && parts[0] == "containers":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleContainers(ctx)
		}

	default:
		writeJSON(ctx, fasthttp.StatusNotFound, models.ErrorResponse{
			Error: fmt.Sprintf("no route for %s", ctx.Path()),
			Code:  "NOT_FOUND",
		})
	}
}

// allow writes a 405 and returns false if the method is not one of methods
func allow(ctx *fasthttp.RequestCtx, methods ...string) bool {
	method := string(ctx.Method())
	for _, m := range methods {
		if method == m {
			return true
		}
	}
	ctx.Response.Header.Set("Allow", strings.Join(methods, ", "))
	writeJSON(ctx, fasthttp.StatusMethodNotAllowed, models.ErrorResponse{
		Error: fmt.Sprintf("method %s not allowed", method),
		Code:  "METHOD_NOT_ALLOWED",
	})
	return false
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx) {
	rctx, cancel := s.requestContext()
	defer cancel()

	status, err := s.collector.Status(rctx)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, status)
}

func (s *Server) handleProcesses(ctx *fasthttp.RequestCtx) {
	rctx, cancel := s.requestContext()
	defer cancel()

	snap, err := s.collector.Processes(rctx)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.Response.Header.Set("X-Skipped-Processes", strconv.Itoa(snap.Skipped))
	writeJSON(ctx, fasthttp.StatusOK, snap.Processes)
}

func (s *Server) handleProcess(ctx *fasthttp.RequestCtx, rawPid string) {
	pid, err := parsePid(rawPid)
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	info, err := s.collector.Process(rctx, pid)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, info)
}

func (s *Server) handleKill(ctx *fasthttp.RequestCtx, rawPid string) {
	pid, err := parsePid(rawPid)
	if err != nil {
		writeJSON(ctx, statusFor(err), models.ActionResult{
			Status:  models.StatusFailed,
			Error:   apperr.Code(err),
			Message: err.Error(),
		})
		return
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	res, err := s.executor.Terminate(rctx, pid)
	code := fasthttp.StatusOK
	if err != nil {
		code = statusFor(err)
	}
	writeJSON(ctx, code, res)
}

func (s *Server) handleStart(ctx *fasthttp.RequestCtx) {
	var req models.StartRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		err = apperr.New("decode start request", apperr.ErrInvalid, err)
		writeJSON(ctx, statusFor(err), models.StartResult{
			Status:  models.StatusFailed,
			Error:   apperr.Code(err),
			Message: err.Error(),
		})
		return
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	res, err := s.executor.Start(rctx, req)
	code := fasthttp.StatusOK
	if err != nil {
		code = statusFor(err)
	}
	writeJSON(ctx, code, res)
}

func (s *Server) handleCPU(ctx *fasthttp.RequestCtx) {
	rctx, cancel := s.requestContext()
	defer cancel()

	info, err := s.collector.CPU(rctx)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, info)
}

func (s *Server) handleCore(ctx *fasthttp.RequestCtx, rawIndex string) {
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		s.writeError(ctx, apperr.New("parse cpu index", apperr.ErrInvalid, err))
		return
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	info, err := s.collector.Core(rctx, index)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, info)
}

func (s *Server) handleContainers(ctx *fasthttp.RequestCtx) {
	rctx, cancel := s.requestContext()
	defer cancel()

	list, err := s.collector.Containers(rctx)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, list)
}

func parsePid(raw string) (int32, error) {
	pid, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, apperr.New("parse pid", apperr.ErrInvalid, err)
	}
	return int32(pid), nil
}
