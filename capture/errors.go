package capture

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a capture failed.
type ErrorKind int

const (
	// KindConnection means the debugging endpoint could not be reached or
	// refused the handshake.
	KindConnection ErrorKind = iota + 1
	// KindHook means a caller supplied hook returned an error.
	KindHook
	// KindTimeout means the page load was not observed within the budget.
	KindTimeout
	// KindNavigation means the browser reported a navigation failure.
	KindNavigation
	// KindBodyFetch means a response body could not be retrieved. It is
	// recorded on the entry and never fails a session.
	KindBodyFetch
	// KindCanceled means the caller stopped the run before the capture
	// finished.
	KindCanceled
)

// Sentinels usable with errors.Is against any *CaptureError.
var (
	ErrConnection = errors.New("connection error")
	ErrHook       = errors.New("hook error")
	ErrTimeout    = errors.New("timeout error")
	ErrNavigation = errors.New("navigation error")
	ErrBodyFetch  = errors.New("body fetch error")
	ErrCanceled   = errors.New("capture canceled")

	// ErrNoURLs is returned by the scheduler when it is given nothing to do.
	ErrNoURLs = errors.New("capture: no URLs supplied")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindHook:
		return ErrHook
	case KindTimeout:
		return ErrTimeout
	case KindNavigation:
		return ErrNavigation
	case KindBodyFetch:
		return ErrBodyFetch
	case KindCanceled:
		return ErrCanceled
	}
	return nil
}

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindHook:
		return "HookError"
	case KindTimeout:
		return "TimeoutError"
	case KindNavigation:
		return "NavigationError"
	case KindBodyFetch:
		return "BodyFetchError"
	case KindCanceled:
		return "CanceledError"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// CaptureError is the error type reported for a failed capture or body fetch.
type CaptureError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *CaptureError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of the first *CaptureError in err's chain, or zero.
func KindOf(err error) ErrorKind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

func newError(kind ErrorKind, url string, err error) *CaptureError {
	return &CaptureError{Kind: kind, URL: url, Err: err}
}

// classify turns err from the given stage into a CaptureError. A stage error
// caused by the session deadline is reported as a timeout, and one caused by
// the caller cancelling as a cancellation, regardless of the stage it
// interrupted.
func classify(ctx context.Context, stage ErrorKind, url string, err error) *CaptureError {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return newError(KindTimeout, url, fmt.Errorf("page load not observed in time: %w", err))
	case errors.Is(ctxErr, context.Canceled):
		return newError(KindCanceled, url, fmt.Errorf("capture interrupted: %w", err))
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		if ce.URL == "" {
			ce.URL = url
		}
		return ce
	}
	return newError(stage, url, err)
}
