package session

import "fmt"

// AuthenticationError signals that the supplied cookie material could not be exchanged for a valid
// portal session. It is terminal; callers are expected to obtain fresh cookie material.
type AuthenticationError struct {
	// Description carries the identity provider's own error text when one was returned
	Description string
}

func (err *AuthenticationError) Error() string {
	return fmt.Sprintf("portal authentication failed: %s", err.Description)
}

// ErrNoSession is returned when an operation requires an established session but none was ever bootstrapped
var ErrNoSession = &AuthenticationError{Description: "no session has been established; bootstrap one first"}
