package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"procstat-agent/apperr"
	"procstat-agent/logger"
	"procstat-agent/models"

	"github.com/valyala/fasthttp"
)

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		ctx.Error("failed to marshal response", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(data)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error) {
	status := statusFor(err)
	if status >= fasthttp.StatusInternalServerError {
		s.log.Warn("request failed", "path", string(ctx.Path()), "status", status, "error", err)
	}
	writeJSON(ctx, status, models.ErrorResponse{
		Error: err.Error(),
		Code:  codeFor(err),
	})
}

// statusFor maps an error kind to its HTTP status. Deadline is checked first
// because timeouts are also tagged Unavailable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fasthttp.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrInvalid):
		return fasthttp.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, apperr.ErrPermissionDenied):
		return fasthttp.StatusForbidden
	case errors.Is(err, apperr.ErrUnavailable):
		return fasthttp.StatusServiceUnavailable
	}
	return fasthttp.StatusInternalServerError
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, apperr.ErrInvalid):
		return "INVALID"
	case errors.Is(err, apperr.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, apperr.ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, apperr.ErrUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, apperr.ErrExecution):
		return "EXECUTION"
	}
	return "INTERNAL"
}

// recoverPanics keeps one broken request from taking the agent down
func (s *Server) recoverPanics(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("recovered from panic", "path", string(ctx.Path()), "panic", fmt.Sprint(r))
				ctx.Response.Reset()
				writeJSON(ctx, fasthttp.StatusInternalServerError, models.ErrorResponse{
					Error: "internal error",
					Code:  "INTERNAL",
				})
			}
		}()
		next(ctx)
	}
}

func (s *Server) logRequests(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		s.log.Info("request",
			"method", string(ctx.Method()),
			"path", string(ctx.Path()),
			"status", ctx.Response.StatusCode(),
			"duration", time.Since(start),
		)
	}
}

// fasthttpLogger routes fasthttp's internal messages into the agent logger
type fasthttpLogger struct {
	log logger.Logger
}

func (l fasthttpLogger) Printf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "source", "fasthttp")
}
