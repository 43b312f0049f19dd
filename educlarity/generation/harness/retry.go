package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// ErrRetriesExhausted is returned when every allowed attempt failed transiently.
var ErrRetriesExhausted = errors.New("retries exhausted")

// FailFastError reports a transient failure whose required wait exceeded the
// configured ceiling. The executor returns it without sleeping.
type FailFastError struct {
	Wait    time.Duration
	Ceiling time.Duration
	Cause   error
}

func (e *FailFastError) Error() string {
	return fmt.Sprintf("fail fast: wait %s exceeds ceiling %s: %v", e.Wait, e.Ceiling, e.Cause)
}

func (e *FailFastError) Unwrap() error { return e.Cause }

// ErrorClass is the retry classification of an operation error.
type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassTransient
)

func (c ErrorClass) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "fatal"
}

// BackoffPolicy bounds the retry loop.
type BackoffPolicy struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // first wait when no hint is present
	MaxWait      time.Duration // any single wait above this fails fast
}

// DefaultBackoffPolicy returns the gateway defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxWait:      25 * time.Second,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BackoffExecutor drives operations through the retry loop described by its policy.
type BackoffExecutor struct {
	policy BackoffPolicy
	logger zerolog.Logger
	sleep  Sleeper
}

// NewBackoffExecutor creates an executor. Zero policy fields take defaults.
func NewBackoffExecutor(policy BackoffPolicy, logger zerolog.Logger) *BackoffExecutor {
	def := DefaultBackoffPolicy()
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.MaxWait <= 0 {
		policy.MaxWait = def.MaxWait
	}
	return &BackoffExecutor{policy: policy, logger: logger, sleep: contextSleep}
}

// WithSleeper replaces the wait function (tests observe waits through it).
func (e *BackoffExecutor) WithSleeper(s Sleeper) *BackoffExecutor {
	if s != nil {
		e.sleep = s
	}
	return e
}

// Policy returns the effective policy.
func (e *BackoffExecutor) Policy() BackoffPolicy { return e.policy }

// Execute runs op, retrying transient failures. Fatal errors are returned as-is
// on first occurrence; a wait above MaxWait yields *FailFastError immediately.
func Execute[T any](ctx context.Context, ex *BackoffExecutor, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ex == nil {
		ex = NewBackoffExecutor(DefaultBackoffPolicy(), zerolog.Nop())
	}

	delay := ex.policy.InitialDelay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if Classify(err) == ClassFatal {
			return zero, err
		}
		if attempt >= ex.policy.MaxRetries {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		wait, hinted := retryHint(err)
		if !hinted {
			wait = delay
		}
		if wait > ex.policy.MaxWait {
			ex.logger.Warn().
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Dur("ceiling", ex.policy.MaxWait).
				Err(err).
				Msg("retry wait exceeds ceiling, failing fast")
			return zero, &FailFastError{Wait: wait, Ceiling: ex.policy.MaxWait, Cause: err}
		}

		ex.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", ex.policy.MaxRetries).
			Dur("delay", wait).
			Bool("hinted", hinted).
			Err(err).
			Msg("transient provider error, retrying")

		if err := ex.sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay = wait * 2
	}
}

var transientMarkers = []string{
	"overloaded",
	"quota",
	"rate limit",
	"ratelimit",
	"resource_exhausted",
	"resource exhausted",
	"unavailable",
	"too many requests",
	"try again later",
}

// Classify reports whether err is worth retrying.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}

	var apiErr *ports.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return ClassTransient
		case apiErr.Status == "RESOURCE_EXHAUSTED", apiErr.Status == "UNAVAILABLE":
			return ClassTransient
		case apiErr.StatusCode >= 400:
			return ClassFatal
		}
	}

	var quota interface{ QuotaExhausted() bool }
	if errors.As(err, &quota) && quota.QuotaExhausted() {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ClassTransient
		}
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "503") {
		return ClassTransient
	}
	return ClassFatal
}

var quotaMarkers = []string{"quota", "rate limit", "ratelimit", "resource_exhausted", "resource exhausted", "too many requests"}

// IsQuotaExhausted reports the remote-capacity-exhausted signal anywhere in
// the error chain, including after fail-fast or exhaustion wrapping.
func IsQuotaExhausted(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *ports.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}
	var quota interface{ QuotaExhausted() bool }
	if errors.As(err, &quota) && quota.QuotaExhausted() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return strings.Contains(msg, "429")
}

var retryInPattern = regexp.MustCompile(`(?i)retry in\s+(\d+(?:\.\d+)?)\s*(ms|s)?`)

// retryHint extracts the server-requested wait: structured hint first, then
// a "retry in N s" phrase in the message.
func retryHint(err error) (time.Duration, bool) {
	var apiErr *ports.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	var hinted interface{ RetryAfter() time.Duration }
	if errors.As(err, &hinted) {
		if d := hinted.RetryAfter(); d > 0 {
			return d, true
		}
	}

	m := retryInPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	n, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil || n <= 0 {
		return 0, false
	}
	if strings.EqualFold(m[2], "ms") {
		return time.Duration(n * float64(time.Millisecond)), true
	}
	return time.Duration(n * float64(time.Second)), true
}
