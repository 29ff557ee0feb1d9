package backend

import "fmt"

// TimeoutError is a network or deadline failure reaching a backend.
type TimeoutError struct {
	Backend string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend %s unreachable or timed out: %v", e.Backend, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AuthError is a credential rejection from the cloud backend.
type AuthError struct {
	Backend    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("backend %s rejected credentials (status %d)", e.Backend, e.StatusCode)
}

// ResponseError is a malformed or unexpected backend response: a non-2xx
// status, unparseable JSON, or a missing expected field.
type ResponseError struct {
	Backend    string
	StatusCode int
	Reason     string
}

func (e *ResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s returned bad response (status %d): %s", e.Backend, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("backend %s returned bad response: %s", e.Backend, e.Reason)
}

// transportError wraps an http.Client error. Deadline and network failures
// both map to TimeoutError: from the processor's perspective they are the
// same "could not reach the backend in time" outcome.
func transportError(name string, err error) error {
	return &TimeoutError{Backend: name, Err: err}
}
