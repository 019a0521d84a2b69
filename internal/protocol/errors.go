package protocol

import "errors"

var (
	ErrMissingProtocol = errors.New("protocol: missing protocol identifier")
	ErrMalformedError  = errors.New("protocol: error flag set without error fields")
)

// ErrorInfo is the error carried by an error response. Kind is one of the
// registry's error kinds, such as "unhandled_protocol".
type ErrorInfo struct {
	Kind    string
	Message string
}

func (e *ErrorInfo) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}
