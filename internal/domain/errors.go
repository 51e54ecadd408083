package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidCredential        = errors.New("invalid credential")
	ErrNoCredential             = errors.New("no usable offline credential")
	ErrAuthExpired              = errors.New("credential rejected by shopify")
	ErrNeedsReauthorization     = errors.New("shop needs reauthorization")
	ErrRateLimited              = errors.New("rate limited by shopify")
	ErrTransient                = errors.New("transient shopify error")
	ErrMalformed                = errors.New("malformed shopify response")
	ErrStorageUnavailable       = errors.New("storage unavailable")
	ErrConcurrentSyncInProgress = errors.New("sync already in progress for shop")
	ErrInvalidTransition        = errors.New("invalid sync state transition")
)

// RateLimitedError carries the wait Shopify asked for before retrying
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rate limited by shopify, retry after %s: %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited by shopify, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// ErrorKind names the terminal status of a failed sync run
type ErrorKind string

const (
	ErrorKindNone                 ErrorKind = ""
	ErrorKindNoCredential         ErrorKind = "NO_CREDENTIAL"
	ErrorKindNeedsReauthorization ErrorKind = "NEEDS_REAUTHORIZATION"
	ErrorKindRateLimited          ErrorKind = "RATE_LIMITED"
	ErrorKindTransient            ErrorKind = "TRANSIENT"
	ErrorKindMalformed            ErrorKind = "MALFORMED"
	ErrorKindStorageUnavailable   ErrorKind = "STORAGE_UNAVAILABLE"
	ErrorKindCanceled             ErrorKind = "CANCELED"
	ErrorKindInternal             ErrorKind = "INTERNAL"
)

// ClassifyError maps an error to the kind recorded for a failed run
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrNoCredential):
		return ErrorKindNoCredential
	case errors.Is(err, ErrAuthExpired), errors.Is(err, ErrNeedsReauthorization):
		return ErrorKindNeedsReauthorization
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrTransient):
		return ErrorKindTransient
	case errors.Is(err, ErrMalformed):
		return ErrorKindMalformed
	case errors.Is(err, ErrStorageUnavailable):
		return ErrorKindStorageUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	default:
		return ErrorKindInternal
	}
}

// SyncError is returned by a sync run that ended in Failed
type SyncError struct {
	Kind     ErrorKind
	RunID    string
	TenantID string
	// Cursor is where a resumed run starts, nil means the first page
	Cursor *string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s for %s failed (%s): %v", e.RunID, e.TenantID, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
