package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger is the audit sink for stock mutations.
type Ledger interface {
	Append(ctx context.Context, e *StockLog) error
	Exists(ctx context.Context, dedupeKey string) (bool, error)
}

type GormLedger struct{ db *gorm.DB }

func NewGormLedger(db *gorm.DB) *GormLedger { return &GormLedger{db: db} }

// Append inserts e. A repeated DedupeKey is rejected by the unique index.
func (l *GormLedger) Append(ctx context.Context, e *StockLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return l.db.WithContext(ctx).Create(e).Error
}

func (l *GormLedger) Exists(ctx context.Context, dedupeKey string) (bool, error) {
	var cnt int64
	if err := l.db.WithContext(ctx).Model(&StockLog{}).Where("dedupe_key = ?", dedupeKey).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (l *GormLedger) ListByOrder(ctx context.Context, orderID string) ([]StockLog, error) {
	var out []StockLog
	err := l.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out, "order_id = ?", orderID).Error
	return out, err
}

// Outstanding reports whether the order has a deduction that no restore has
// reversed yet, counted per line item across cycles.
func (l *GormLedger) Outstanding(ctx context.Context, orderID string) (bool, error) {
	var deducts, restores int64
	q := l.db.WithContext(ctx).Model(&StockLog{}).Where("order_id = ?", orderID).Session(&gorm.Session{})
	if err := q.Where("dedupe_key LIKE ?", KindDeduct+":%").Count(&deducts).Error; err != nil {
		return false, err
	}
	if err := q.Where("dedupe_key LIKE ?", KindRestore+":%").Count(&restores).Error; err != nil {
		return false, err
	}
	return deducts > restores, nil
}
