package wordpress

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound matches StatusError values carrying a 404.
var ErrNotFound = errors.New("wordpress: not found")

// StatusError is a non-2xx REST response.
type StatusError struct {
	StatusCode int
	Status     string
	// Code is the WordPress error code from the JSON body, e.g. rest_post_invalid_page_number.
	Code    string
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("wordpress request failed: %s: %s: %s", e.Status, e.Code, e.Message)
	case e.Body != "":
		return fmt.Sprintf("wordpress request failed: %s: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("wordpress request failed: %s", e.Status)
	}
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

func newStatusError(statusCode int, status string, body []byte) error {
	var wpErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &wpErr)
	return &StatusError{
		StatusCode: statusCode,
		Status:     status,
		Code:       wpErr.Code,
		Message:    wpErr.Message,
		Body:       strings.TrimSpace(string(body)),
	}
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

func isInvalidPage(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		return false
	}
	return strings.HasSuffix(statusErr.Code, "invalid_page_number")
}
