package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a backend failure.
type ErrorKind int

const (
	KindInterpreterNotFound ErrorKind = iota + 1
	KindDirectoryNotFound
	KindSpawnFailed
	KindLockFailed
	KindHealthTimeout
)

// Code returns the machine-readable prefix used when the error crosses into
// the shell.
func (k ErrorKind) Code() string {
	switch k {
	case KindInterpreterNotFound:
		return "PYTHON_NOT_FOUND"
	case KindDirectoryNotFound:
		return "BACKEND_DIR_NOT_FOUND"
	case KindSpawnFailed:
		return "SPAWN_FAILED"
	case KindLockFailed:
		return "LOCK_FAILED"
	case KindHealthTimeout:
		return "HEALTH_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

func (k ErrorKind) String() string {
	return k.Code()
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrInterpreterNotFound = &Error{Kind: KindInterpreterNotFound}
	ErrDirectoryNotFound   = &Error{Kind: KindDirectoryNotFound}
	ErrSpawnFailed         = &Error{Kind: KindSpawnFailed}
	ErrLockFailed          = &Error{Kind: KindLockFailed}
	ErrHealthTimeout       = &Error{Kind: KindHealthTimeout}
)

// Error is the only error type returned by the supervisor and its components.
type Error struct {
	Kind ErrorKind
	// TriedPaths lists every candidate directory or interpreter examined.
	TriedPaths []string
	// Command is the full command line of a failed spawn.
	Command string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindInterpreterNotFound:
		b.WriteString("python interpreter not found")
		if len(e.TriedPaths) > 0 {
			fmt.Fprintf(&b, " (tried %s)", strings.Join(e.TriedPaths, ", "))
		}
		b.WriteString("; install Python 3 and make sure it is on PATH")
	case KindDirectoryNotFound:
		b.WriteString("backend directory not found")
		if len(e.TriedPaths) > 0 {
			fmt.Fprintf(&b, "; tried: %s", strings.Join(e.TriedPaths, ", "))
		}
	case KindSpawnFailed:
		b.WriteString("failed to spawn backend")
		if e.Command != "" {
			fmt.Fprintf(&b, " with %q", e.Command)
		}
	case KindLockFailed:
		b.WriteString("failed to acquire backend lock")
	case KindHealthTimeout:
		if errors.Is(e.Cause, context.Canceled) || errors.Is(e.Cause, context.DeadlineExceeded) {
			b.WriteString("backend start was interrupted before it became healthy")
		} else {
			b.WriteString("backend did not become healthy in time")
		}
	default:
		b.WriteString("backend error")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Code returns the machine-readable code of the error's kind.
func (e *Error) Code() string {
	return e.Kind.Code()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// CodeOf returns the code carried by err, or "" when err is not a backend
// error.
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code()
	}
	return ""
}
