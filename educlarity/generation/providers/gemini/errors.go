package gemini

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// parseAPIError converts a non-2xx reply. The RetryInfo detail wins over the
// Retry-After header.
func parseAPIError(resp *http.Response, body []byte) *ports.APIError {
	apiErr := &ports.APIError{
		Provider:   ProviderName,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Error.Message != "" || env.Error.Status != "") {
		apiErr.Message = env.Error.Message
		apiErr.Status = env.Error.Status
		for _, d := range env.Error.Details {
			if d.Type != retryInfoType || d.RetryDelay == "" {
				continue
			}
			if delay, err := time.ParseDuration(d.RetryDelay); err == nil && delay > 0 {
				apiErr.RetryAfter = delay
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if apiErr.RetryAfter == 0 {
		apiErr.RetryAfter = retryAfterHeader(resp.Header.Get("Retry-After"))
	}
	return apiErr
}

// retryAfterHeader reads delta-seconds or an HTTP date.
func retryAfterHeader(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
