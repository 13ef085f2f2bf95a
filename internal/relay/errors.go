package relay

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrConnect wraps any failure to open the outbound leg, including a connect timeout.
	ErrConnect = errors.New("relay: connect failed")
	// ErrIdleTimeout means no data arrived within the read timeout.
	ErrIdleTimeout = errors.New("relay: idle timeout")
	// ErrFlushTimeout means the sink did not accept pending data within the write timeout.
	ErrFlushTimeout = errors.New("relay: flush timeout")
)

// Reason is the classified cause of a pump or session stopping.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonClosed
	ReasonIdleTimeout
	ReasonFlushTimeout
	ReasonStreamError
	ReasonConnectFailure
	ReasonCancelled
)

var reasonNames = [...]string{
	ReasonNone:           "none",
	ReasonClosed:         "closed",
	ReasonIdleTimeout:    "idle_timeout",
	ReasonFlushTimeout:   "flush_timeout",
	ReasonStreamError:    "stream_error",
	ReasonConnectFailure: "connect_failure",
	ReasonCancelled:      "cancelled",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// Classify maps a stop error returned by Pump or Session.Run to a Reason.
func Classify(err error) Reason {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return ReasonClosed
	case errors.Is(err, ErrConnect):
		return ReasonConnectFailure
	case errors.Is(err, ErrIdleTimeout):
		return ReasonIdleTimeout
	case errors.Is(err, ErrFlushTimeout):
		return ReasonFlushTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonStreamError
	}
}
