package tvmaze

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrPageNotFound is returned for HTTP 404. TVmaze answers past the last
	// page this way.
	ErrPageNotFound = errors.New("tvmaze: page not found")
	ErrDecode       = errors.New("tvmaze: decode error")
	// ErrTimeout marks a single attempt that ran past its own deadline.
	ErrTimeout = errors.New("tvmaze: request timeout")
	ErrMapping = errors.New("tvmaze: mapping failed")
)

// StatusError is a non-200, non-404 upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tvmaze: status %d body=%q", e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying: 503, 504, 429, a
// per-attempt timeout, or an open circuit breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
