package uperrors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

// Kind classifies an upload failure for observers and retry decisions.
type Kind string

const (
	KindConnectivity      Kind = "CONNECTIVITY"         // transient remote I/O problems
	KindPermissionOrSpace Kind = "PERMISSION_OR_SPACE"  // permission denied, disk full
	KindLocalFile         Kind = "LOCAL_FILE"           // local file missing or unreadable
	KindResumeMismatch    Kind = "RESUME_MISMATCH"      // stale resume record, recovered internally
	KindCancelled         Kind = "CANCELLED"            // caller-requested stop, not a failure
)

// UploadError represents an error that occurred during an upload operation.
type UploadError struct {
	Err       error
	Kind      Kind
	Retryable bool
	Path      string
	Timestamp time.Time
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap provides the underlying cause for errors.Is/As chains.
func (e *UploadError) Unwrap() error {
	return e.Err
}

func newError(err error, kind Kind, path string, retryable bool) *UploadError {
	return &UploadError{
		Err:       err,
		Kind:      kind,
		Retryable: retryable,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// NewConnectivityError wraps a transient remote I/O failure.
func NewConnectivityError(err error, path string) *UploadError {
	return newError(err, KindConnectivity, path, true)
}

// NewPermissionOrSpaceError wraps a permanent remote failure.
func NewPermissionOrSpaceError(err error, path string) *UploadError {
	return newError(err, KindPermissionOrSpace, path, false)
}

// NewLocalFileError wraps a local read failure. The task never starts.
func NewLocalFileError(err error, path string) *UploadError {
	return newError(err, KindLocalFile, path, false)
}

// NewResumeMismatchError marks a stale resume record. It is recovered by
// restarting from offset zero and never surfaced as a task failure.
func NewResumeMismatchError(err error, path string) *UploadError {
	return newError(err, KindResumeMismatch, path, false)
}

// NewCancelledError marks a caller-requested stop.
func NewCancelledError(err error, path string) *UploadError {
	return newError(err, KindCancelled, path, false)
}

// Classify wraps an error produced by a remote operation, deciding whether it
// is worth retrying. Permission and space exhaustion failures are permanent;
// everything else on the wire is assumed to be a connection hiccup.
func Classify(err error, path string) *UploadError {
	var upErr *UploadError
	if As(err, &upErr) {
		return upErr
	}

	if isPermanent(err) {
		return NewPermissionOrSpaceError(err, path)
	}

	return NewConnectivityError(err, path)
}

func isPermanent(err error) bool {
	switch {
	case Is(err, fs.ErrPermission),
		Is(err, syscall.EACCES),
		Is(err, syscall.EPERM),
		Is(err, syscall.ENOSPC),
		Is(err, syscall.EDQUOT),
		Is(err, syscall.EROFS):
		return true
	}

	return false
}

// IsRetryable determines if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var upErr *UploadError
	if As(err, &upErr) {
		return upErr.Retryable
	}

	return false
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var upErr *UploadError
	if As(err, &upErr) {
		return upErr.Kind, true
	}

	return "", false
}

// IsCancelled reports whether err represents a caller-requested stop,
// either via the taxonomy or a raw context cancellation.
func IsCancelled(err error) bool {
	if k, ok := KindOf(err); ok && k == KindCancelled {
		return true
	}

	return Is(err, context.Canceled)
}
