// Package upstream classifies failures of the external HTTP services this
// tool depends on.
package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrMalformed marks a response that does not have the expected shape.
// Retrying is not expected to help.
var ErrMalformed = errors.New("malformed upstream response")

// StatusError is a non-2xx response from an upstream service.
type StatusError struct {
	Service string
	URL     string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad response from %s %s (%d): %s", e.Service, e.URL, e.Code, e.Body)
}

// Temporary reports whether the failure is worth retrying later.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Check returns a *StatusError for unsuccessful responses. The body is
// consumed in that case; on success it is left for the caller.
func Check(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &StatusError{
		Service: service,
		Code:    resp.StatusCode,
		Body:    string(body),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		se.URL = resp.Request.URL.String()
	}
	return se
}

// Malformed wraps err so that errors.Is(err, ErrMalformed) holds.
func Malformed(service string, err error) error {
	return fmt.Errorf("%s: %w: %v", service, ErrMalformed, err)
}

func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
