package harnessports

import (
	"fmt"
	"time"
)

// APIError is a non-2xx reply from a generative provider.
type APIError struct {
	Provider   string
	StatusCode int
	Status     string        // provider status, e.g. "RESOURCE_EXHAUSTED"
	Message    string
	RetryAfter time.Duration // structured retry hint, zero when absent
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s api error %d (%s): %s", e.Provider, e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}
