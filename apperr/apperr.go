// Package apperr holds the error kinds shared by the collector, the executor
// and the HTTP layer.
package apperr

import (
	"io/fs"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// Error kinds. Every error returned by collector and executor matches exactly
// one of these with errors.Is.
var (
	ErrInvalid          = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("unavailable")
	ErrExecution        = errors.New("execution failed")
)

var kinds = []error{ErrInvalid, ErrNotFound, ErrPermissionDenied, ErrUnavailable, ErrExecution}

// OpError ties an OS failure to the operation that hit it and its kind.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an OpError of the given kind.
func New(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// Wrap classifies err as NotFound or PermissionDenied when the OS says so and
// falls back to Unavailable otherwise.
func Wrap(op string, err error) error {
	return WrapAs(op, ErrUnavailable, err)
}

// WrapAs is Wrap with a caller chosen fallback kind.
func WrapAs(op string, fallback, err error) error {
	if err == nil {
		return nil
	}
	if k := KindOf(err); k != nil {
		return &OpError{Op: op, Kind: k, Err: err}
	}
	return &OpError{Op: op, Kind: classify(err, fallback), Err: err}
}

func classify(err, fallback error) error {
	switch {
	case errors.Is(err, syscall.ESRCH),
		errors.Is(err, os.ErrProcessDone),
		errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	}
	return fallback
}

// KindOf returns the kind err was tagged with, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code turns err into the numeric code reported in action results: the errno
// when the OS gave one, otherwise a fixed value per kind. Zero means success.
func Code(err error) uint64 {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return uint64(errno)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return uint64(syscall.ENOENT)
	}
	switch KindOf(err) {
	case ErrNotFound:
		return uint64(syscall.ESRCH)
	case ErrPermissionDenied:
		return uint64(syscall.EPERM)
	case ErrInvalid:
		return uint64(syscall.EINVAL)
	}
	return 1
}
