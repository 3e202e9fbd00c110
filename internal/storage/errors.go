package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Storage errors for append-only stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable wraps backend failures that may succeed on retry
	// (lost connection, server shutting down, serialization conflicts).
	ErrUnavailable = errors.New("storage unavailable")
)

// IsTransient reports whether err is worth retrying.
// Duplicate keys and invalid input never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
