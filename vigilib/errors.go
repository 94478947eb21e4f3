package vigilib

import "errors"

var errConnectionClosed = errors.New("connection closed")

// UsageError reports misuse of the connection by the caller or by the
// server: running commands with no socket or after breakage, pushes
// with no handler installed, or a response with nothing queued.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return "vigil: " + e.Reason }

// ResponseError carries a decoded value whose "error" key was set, or
// a handshake response from a server too old to report capabilities.
// It is delivered only to the caller awaiting that value and does not
// break the connection.
type ResponseError struct {
	Response map[string]any
}

func (e *ResponseError) Error() string {
	if msg, ok := e.Response[keyError].(string); ok {
		return "vigil: server reported an error: " + msg
	}
	return "vigil: server reported an error"
}

// TransportError reports a socket-level failure. It breaks the
// connection: every pending command fails and later Run calls fail
// fast.
type TransportError struct {
	Op  string // "connect", "read" or "write"
	Err error
}

func (e *TransportError) Error() string { return "vigil: " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a PDU whose payload could not be decoded. Same
// queue-wide handling as a TransportError.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "vigil: decode pdu: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
