package api

import "fmt"

// TransportError wraps a connectivity or timeout failure. Never retried by
// this layer; surfaced to the caller as-is.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError represents a non-auth HTTP failure (4xx/5xx other than 401).
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// BusinessError is a successfully transported call whose response envelope
// signals a non-success application code. Carries the server message.
// Never retried automatically.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("business failure %s: %s", e.Code, e.Message)
}
