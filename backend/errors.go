package backend

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// APIError is a non-2xx reply from the Athena backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("athena api: %d %s", e.StatusCode, e.Message)
}

// authKeywords mark a 500 reply as an expired/broken session rather than a
// genuine server fault.
var authKeywords = []string{"token", "auth", "unauthorized", "jwt"}

// IsAuthFailure reports whether err means the session itself is invalid:
// a 401/403, or a 500 whose message matches auth-related keywords.
func IsAuthFailure(err error) bool {
	apiErr, ok := errors.Cause(err).(*APIError)
	if !ok {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusInternalServerError:
		msg := strings.ToLower(apiErr.Message)
		for _, kw := range authKeywords {
			if strings.Contains(msg, kw) {
				return true
			}
		}
	}
	return false
}
