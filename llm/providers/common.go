package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/inkforge/pipeline/llm"
)

// MapHTTPError maps an HTTP status code from any backend into a
// *llm.BackendError carrying the FailureClass the gateway needs to decide
// retry/failover behavior (spec §4.1), without each backend re-deriving it.
func MapHTTPError(status int, msg, backend string) *llm.BackendError {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llm.BackendError{
			Class:   llm.ClassAuth,
			Backend: backend,
			Err:     fmt.Errorf("%s: %s", http.StatusText(status), msg),
		}

	case http.StatusTooManyRequests:
		return &llm.BackendError{
			Class:   llm.ClassTransient,
			Backend: backend,
			Err:     fmt.Errorf("rate limited: %s", msg),
		}

	case http.StatusBadRequest:
		return &llm.BackendError{
			Class:   llm.ClassInput,
			Backend: backend,
			Err:     fmt.Errorf("bad request: %s", msg),
		}

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &llm.BackendError{
			Class:   llm.ClassTransient,
			Backend: backend,
			Err:     fmt.Errorf("upstream unavailable (%d): %s", status, msg),
		}

	case 529: // Anthropic-specific "overloaded" status.
		return &llm.BackendError{
			Class:   llm.ClassTransient,
			Backend: backend,
			Err:     fmt.Errorf("backend overloaded: %s", msg),
		}

	default:
		class := llm.ClassInput
		if status >= 500 {
			class = llm.ClassTransient
		}
		return &llm.BackendError{
			Class:   class,
			Backend: backend,
			Err:     fmt.Errorf("unexpected status %d: %s", status, msg),
		}
	}
}

// ReadErrorMessage extracts a human-readable message from an error response
// body, falling back to the raw text when it isn't the common
// {"error":{"message":...}} shape.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}

// SafeCloseBody closes an HTTP response body, tolerating a nil body.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
