package payments

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Notification is one inbound payment-status notice. Only PaymentID is trusted;
// the payment itself is always re-fetched from the provider.
type Notification struct {
	PaymentID                  string        `json:"payment_id" validate:"required,max=64"`
	RequestID                  string        `json:"request_id" validate:"max=128"`
	RequiresManualVerification bool          `json:"requires_manual_verification"`
	AuditContext               *AuditContext `json:"audit_context,omitempty"`
}

func (n Notification) Validate() error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotice, err)
	}
	return nil
}

// Result is returned for every notification. Success=false asks the transport
// to have the notification redelivered.
type Result struct {
	Success          bool   `json:"success"`
	Status           string `json:"status,omitempty"`
	AlreadyProcessed bool   `json:"already_processed"`
	Error            string `json:"error,omitempty"`
}
