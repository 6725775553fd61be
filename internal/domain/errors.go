package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrOrderNotPending       = errors.New("order is not awaiting payment")
	ErrNoLicenseKey          = errors.New("no unused license key available")
	ErrMalformedNotification = errors.New("malformed transfer notification")
)

// ValidationError reports a failed ledger precondition. Nothing has been
// written when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
