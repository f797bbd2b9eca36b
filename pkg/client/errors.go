package client

import (
	"errors"
	"fmt"
	"net/http"
)

// maxErrorBody bounds the response body kept in error messages.
const maxErrorBody = 512

// ClientError is returned for any non-2xx response.
type ClientError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// HTTPStatus returns the response status code.
func (e *ClientError) HTTPStatus() int {
	return e.StatusCode
}

// IsNotFound reports whether err is a 404 ClientError.
func IsNotFound(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound
}
