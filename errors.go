package conductor

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Domain sentinels. Wrap with fmt.Errorf("...: %w", Err...) to add context.
var (
	ErrUnknownModel      = errors.New("unknown model")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrAccessDenied      = errors.New("tool access denied")
	ErrResourceExhausted = errors.New("token reservation ceiling reached")
	ErrPlanInvalid       = errors.New("invalid research plan")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("result expired")
	ErrClosed            = errors.New("coordinator closed")
)

// ErrModel reports a failure attributable to a model adapter or its wire
// client (marshal, decode, protocol violations).
type ErrModel struct {
	Model   string
	Message string
}

func (e *ErrModel) Error() string {
	return fmt.Sprintf("%s: %s", e.Model, e.Message)
}

// ErrHTTP reports a non-2xx upstream response. RetryAfter carries the parsed
// Retry-After header when the server sent one; the retry decorator uses it
// as a floor on the backoff delay.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, truncateStr(e.Body, 512))
}

// ParseRetryAfter parses a Retry-After header value. Supports the
// delta-seconds form and the HTTP-date form. Returns 0 when absent or
// unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
