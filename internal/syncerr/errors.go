// Package syncerr classifies failures of the sync pipeline.
//
// RateLimited and Transient errors are retried by the CRM client; Fatal errors
// abort the current object-type run; DataQuality errors are per-record and are
// counted and logged rather than returned.
package syncerr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindFatal
	KindDataQuality
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindDataQuality:
		return "data_quality"
	}
	return "unknown"
}

// Sentinels for errors.Is; every *Error matches the sentinel of its Kind.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrTransient   = errors.New("transient failure")
	ErrFatal       = errors.New("fatal failure")
	ErrDataQuality = errors.New("data quality")

	// ErrRunInProgress is returned by the cursor store when another run holds the object type.
	ErrRunInProgress = errors.New("sync run already in progress")
)

// Error is a classified failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	RetryAfter time.Duration // server hint, 0 when absent
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrFatal:
		return e.Kind == KindFatal
	case ErrDataQuality:
		return e.Kind == KindDataQuality
	}
	return false
}

// Retryable reports whether the kind is worth another attempt.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify maps a non-2xx HTTP status onto a Kind.
func Classify(statusCode int) Kind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusRequestTimeout, statusCode >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// FromStatus builds a classified error for an HTTP response.
func FromStatus(op string, statusCode int, retryAfter time.Duration, body string) *Error {
	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	return &Error{
		Kind:       Classify(statusCode),
		Op:         op,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
		Err:        cause,
	}
}

// KindOf extracts the kind of err. Unclassified errors count as Fatal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindFatal
}

// Escalate turns an exhausted RateLimited/Transient error into a Fatal one.
func Escalate(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) && se.Kind == KindFatal {
		return err
	}
	return &Error{Kind: KindFatal, Op: "retries exhausted", Err: err}
}

// ParseRetryAfter reads a Retry-After header value given in seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
