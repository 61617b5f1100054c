package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider fetches the authoritative state of a payment. Notifications carry
// only the payment id; everything else comes from here.
type Provider interface {
	Name() string
	GetPayment(ctx context.Context, paymentID string) (ProviderPayment, error)
}

// ProviderID accepts both JSON numbers and strings.
type ProviderID string

func (id *ProviderID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ProviderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ProviderID(n.String())
	return nil
}

func (id ProviderID) String() string { return string(id) }

// ProviderPayment is the subset of the provider's payment resource the
// settlement reads.
type ProviderPayment struct {
	ID                ProviderID      `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail,omitempty"`
	ExternalReference string          `json:"external_reference,omitempty"`
	PreferenceID      string          `json:"preference_id,omitempty"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	PaymentMethodID   string          `json:"payment_method_id"`
	CurrencyID        string          `json:"currency_id"`
	Installments      int             `json:"installments,omitempty"`
	DateCreated       *time.Time      `json:"date_created,omitempty"`
	DateApproved      *time.Time      `json:"date_approved,omitempty"`
	DateLastUpdated   *time.Time      `json:"date_last_updated,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// NormalizedStatus is the status as the resolver sees it.
func (p ProviderPayment) NormalizedStatus() string {
	return strings.ToLower(strings.TrimSpace(p.Status))
}
