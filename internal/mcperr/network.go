package mcperr

import (
	"net"
	"strings"
	"time"
)

// NetworkType classifies a transport-level failure for retry decisions.
type NetworkType int

const (
	NetUnknown NetworkType = iota
	NetConnRefused
	NetTimeout
	NetConnReset
	NetProcessNotFound
	NetPermissionDenied
	NetProtocol
	NetContextCancelled
	NetContextDeadline
)

func (t NetworkType) String() string {
	switch t {
	case NetConnRefused:
		return "connection_refused"
	case NetTimeout:
		return "timeout"
	case NetConnReset:
		return "connection_reset"
	case NetProcessNotFound:
		return "process_not_found"
	case NetPermissionDenied:
		return "permission_denied"
	case NetProtocol:
		return "protocol_error"
	case NetContextCancelled:
		return "context_cancelled"
	case NetContextDeadline:
		return "context_deadline"
	default:
		return "unknown"
	}
}

// NetworkError wraps a classified transport fault with retry guidance.
type NetworkError struct {
	Type       NetworkType
	Underlying error
	Temporary  bool
	RetryAfter time.Duration
}

func (ne *NetworkError) Error() string {
	return "transport error [" + ne.Type.String() + "]: " + ne.Underlying.Error()
}

func (ne *NetworkError) Unwrap() error { return ne.Underlying }

// ShouldRetry reports whether the failure is worth retrying.
func (ne *NetworkError) ShouldRetry() bool {
	if !ne.Temporary {
		return false
	}
	switch ne.Type {
	case NetPermissionDenied, NetProcessNotFound, NetProtocol, NetContextCancelled, NetContextDeadline:
		return false
	default:
		return true
	}
}

// ClassifyNetworkError analyzes err and returns a structured NetworkError.
func ClassifyNetworkError(err error) *NetworkError {
	if err == nil {
		return nil
	}

	ne := &NetworkError{Type: NetUnknown, Underlying: err}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "context canceled"):
		ne.Type = NetContextCancelled
		return ne
	case strings.Contains(errStr, "context deadline exceeded"):
		ne.Type = NetContextDeadline
		ne.Temporary = true
		ne.RetryAfter = time.Second
		return ne
	}

	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		ne.Type = NetTimeout
		ne.Temporary = true
		ne.RetryAfter = 5 * time.Second
		return ne
	}

	switch {
	case strings.Contains(errStr, "connection refused"):
		ne.Type = NetConnRefused
		ne.Temporary = true
		ne.RetryAfter = 10 * time.Second
	case strings.Contains(errStr, "connection reset"):
		ne.Type = NetConnReset
		ne.Temporary = true
		ne.RetryAfter = 2 * time.Second
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out"):
		ne.Type = NetTimeout
		ne.Temporary = true
		ne.RetryAfter = 5 * time.Second
	case strings.Contains(errStr, "permission denied"):
		ne.Type = NetPermissionDenied
	case strings.Contains(errStr, "executable file not found") || strings.Contains(errStr, "no such file or directory"):
		ne.Type = NetProcessNotFound
	default:
		ne.Type = NetUnknown
		ne.Temporary = true
		ne.RetryAfter = 30 * time.Second
	}

	return ne
}
