package portal

import (
	"fmt"
	"strings"
)

// APICallError signals that an authenticated portal call returned a non-success status or could not be
// completed or parsed. It is not retried; the timeline pagination is the single operation layering its
// own retry on top.
type APICallError struct {
	// Endpoint is the portal path the call targeted
	Endpoint string
	// StatusCode is the HTTP status the portal answered with, or 0 for transport-level failures
	StatusCode int
	// Err carries the underlying error text
	Err error
}

func (err *APICallError) Error() string {
	if err.StatusCode != 0 {
		return fmt.Sprintf("portal call to %s failed with status %d: %s", err.Endpoint, err.StatusCode, err.Err)
	}
	return fmt.Sprintf("portal call to %s failed: %s", err.Endpoint, err.Err)
}

func (err *APICallError) Unwrap() error {
	return err.Err
}

// ValidationError signals that a mutating operation referenced IDs that do not exist.
// It is raised before the mutating call is issued so the server never sees the broken batch.
type ValidationError struct {
	Operation  string
	InvalidIDs []string
}

func (err *ValidationError) Error() string {
	return fmt.Sprintf("%s: the following IDs do not exist: %s", err.Operation, strings.Join(err.InvalidIDs, ", "))
}
