package docker

import "fmt"

// RequestError is a transport failure talking to the engine.
type RequestError struct {
	Method   string
	Path     string
	Endpoint string
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("docker %s %s on %s: %v", e.Method, e.Path, e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx answer from the engine.
type StatusError struct {
	Method   string
	Path     string
	Endpoint string
	Code     int
	Reason   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invalid response: %d %s from docker %s %s on %s", e.Code, e.Reason, e.Method, e.Path, e.Endpoint)
}
