package payments

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentRecord is the local copy of one provider payment. The unique index on
// PaymentID is the authoritative idempotency checkpoint: one row per payment, ever.
type PaymentRecord struct {
	ID                string          `gorm:"type:char(36);primaryKey"`
	PaymentID         string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_records_payment_id"`
	PreferenceID      *string         `gorm:"type:varchar(128);index:ix_payment_records_preference_id"`
	Status            string          `gorm:"type:varchar(32);not null"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CurrencyID        string          `gorm:"type:varchar(8);not null"`
	ExternalReference *string         `gorm:"type:varchar(128);index:ix_payment_records_external_reference"`
	RawData           datatypes.JSON  `gorm:"type:json"`

	// signature audit of the notification that created the row
	HMACValidationResult string  `gorm:"column:hmac_validation_result;type:varchar(16);not null"`
	HMACFailureReason    *string `gorm:"column:hmac_failure_reason;type:varchar(255)"`
	HMACFallbackUsed     bool    `gorm:"column:hmac_fallback_used;not null"`
	WebhookRequestID     *string `gorm:"type:varchar(128)"`

	// set once the order update for this payment has landed
	AppliedAt *time.Time `gorm:"precision:3"`
	CreatedAt time.Time  `gorm:"precision:3;not null"`
}

func (PaymentRecord) TableName() string { return "payment_records" }
