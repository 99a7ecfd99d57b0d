package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"
)

// Upper bound on how much of an error response body is read.
const maxErrorBody = 64 << 10

// Error envelope returned by registries on failed requests.
type errorEnvelope struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Whether the status code is 2xx.
func successStatus(code int) bool {
	return code >= 200 && code < 300
}

// Builds an error from a failed response.
//
// The error wraps the errdefs class matching the status code and carries the
// registry's own messages when the body is an error envelope.
func statusError(resp *http.Response) error {
	msg := resp.Status

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Errors) > 0 {
		details := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			details = append(details, strings.ToLower(e.Code)+": "+e.Message)
		}
		msg += " (" + strings.Join(details, "; ") + ")"
	}

	return fmt.Errorf("%w: %s", statusClass(resp.StatusCode), msg)
}

// Maps an HTTP status code to an errdefs class.
func statusClass(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return errdefs.ErrUnauthenticated
	case code == http.StatusForbidden:
		return errdefs.ErrPermissionDenied
	case code == http.StatusNotFound:
		return errdefs.ErrNotFound
	case code == http.StatusTooManyRequests:
		return errdefs.ErrResourceExhausted
	case code >= 500:
		return errdefs.ErrUnavailable
	default:
		return errdefs.ErrUnknown
	}
}
