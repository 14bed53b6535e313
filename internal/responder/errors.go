package responder

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why the external service failed.
type Reason string

const (
	ReasonNoCredential Reason = "no_credential"
	ReasonNetwork      Reason = "network"
	ReasonTimeout      Reason = "timeout"
	ReasonBadStatus    Reason = "bad_status"
)

// ExternalServiceError is the unified failure type for the external variant.
// The engine recovers from it by substituting a descriptive chunk into the
// conversation; it never reaches the UI layer as an error.
type ExternalServiceError struct {
	Provider   string
	Reason     Reason
	StatusCode int
	Message    string
}

func (e *ExternalServiceError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status=%d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, msg)
}

func IsExternalServiceError(err error) bool {
	var e *ExternalServiceError
	return errors.As(err, &e)
}
