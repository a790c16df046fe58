package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

// TransientError marks a failure worth retrying on a later poll: network
// errors, timeouts, 5xx/429 responses, and an open circuit breaker.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedResponseError marks a 2xx response whose body could not be
// interpreted. The cache merges around these defensively; they are logged
// but never surfaced to a user.
type MalformedResponseError struct {
	Op     string
	Detail string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("gateway %s: malformed response: %s", e.Op, e.Detail)
}

// IsTransient reports whether err should be silently retried on the next
// scheduled poll rather than treated as a hard failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// IsMalformed reports whether err is a decode/shape problem rather than a
// transport or server failure.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

func transientStatus(code int) bool {
	if code == 429 || code == 408 {
		return true
	}
	return code >= 500 && code <= 599
}
