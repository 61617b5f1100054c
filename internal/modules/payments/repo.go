package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// Insert writes rec. A second insert for the same payment id fails with a
// duplicate-key error (see dbx.IsDuplicateKey).
func (r *Repo) Insert(ctx context.Context, rec *PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repo) FindByPaymentID(ctx context.Context, paymentID string) (PaymentRecord, error) {
	var rec PaymentRecord
	if err := r.db.WithContext(ctx).First(&rec, "payment_id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PaymentRecord{}, ErrRecordNotFound
		}
		return PaymentRecord{}, err
	}
	return rec, nil
}

// MarkApplied stamps the record once its order update is written. Redeliveries
// of an unstamped record rerun the order update.
func (r *Repo) MarkApplied(ctx context.Context, paymentID string) error {
	return r.db.WithContext(ctx).Model(&PaymentRecord{}).
		Where("payment_id = ? AND applied_at IS NULL", paymentID).
		Update("applied_at", time.Now()).Error
}

// FindCorrelated returns the newest record sharing externalRef that carries a
// preference id, other than excludePaymentID.
func (r *Repo) FindCorrelated(ctx context.Context, externalRef, excludePaymentID string) (PaymentRecord, error) {
	var rec PaymentRecord
	err := r.db.WithContext(ctx).
		Where("external_reference = ? AND preference_id IS NOT NULL AND payment_id <> ?", externalRef, excludePaymentID).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PaymentRecord{}, ErrRecordNotFound
		}
		return PaymentRecord{}, err
	}
	return rec, nil
}
