package live

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned when a message is sent on a transport that is not open
var ErrNotOpen = errors.New("transport not open")

// ConnectionError reports a transport that failed to open or closed abnormally
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("live connection to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports a client message that could not be written
type SendError struct {
	Kind string // config, media, tool_response
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ProtocolError reports a server message with an unexpected shape
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }
