// Package email is the delivery collaborator for the auth core. The
// contract is deliberately narrow: send a templated message to one
// recipient and return a delivery id, or fail with a classified error.
package email

import (
	"context"
	"errors"
)

// Failure kinds. Callers branch on these with errors.Is; the wrapped
// detail carries the backend's machine-readable sub-code.
var (
	ErrTemplateNotFound = errors.New("email template not found")
	ErrDeliveryRejected = errors.New("email delivery rejected")
	ErrQuotaExceeded    = errors.New("email sending quota exceeded")
	ErrMisconfigured    = errors.New("email sender misconfigured")
	ErrInvalidRecipient = errors.New("invalid recipient address")
)

// Sender delivers templated messages.
type Sender interface {
	// SendTemplated renders templateKey with vars and sends it to
	// recipient. It returns the backend's delivery id.
	SendTemplated(ctx context.Context, templateKey, recipient string, vars map[string]string) (string, error)
}
