package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo is the single-statement persistence layer for orders. No method opens a
// transaction; every write is one UPDATE whose WHERE clause carries its guard.
type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// DB returns the underlying database connection for direct queries.
func (r *Repo) DB() *gorm.DB { return r.db }

// Create inserts o and its items. Checkout lives outside this service; this is
// used to seed local environments.
func (r *Repo) Create(ctx context.Context, o *Order, items []OrderItem) error {
	now := time.Now()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = StatusCreated
	}
	o.CreatedAt, o.UpdatedAt = now, now
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		return err
	}
	for i := range items {
		it := &items[i]
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.OrderID = o.ID
		it.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
	}
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	var o Order
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) GetWithItems(ctx context.Context, id string) (Order, []OrderItem, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return Order{}, nil, err
	}
	items, err := r.Items(ctx, id)
	if err != nil {
		return Order{}, nil, err
	}
	return o, items, nil
}

func (r *Repo) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	var items []OrderItem
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&items, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// FindByPreferenceID resolves the primary correlation key assigned at checkout.
func (r *Repo) FindByPreferenceID(ctx context.Context, preferenceID string) (Order, error) {
	var o Order
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		First(&o, "preference_id = ?", preferenceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) IsStockDeducted(ctx context.Context, orderID string) (bool, error) {
	var row struct{ StockDeducted bool }
	res := r.db.WithContext(ctx).Model(&Order{}).
		Select("stock_deducted").
		Where("id = ?", orderID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, ErrOrderNotFound
	}
	return row.StockDeducted, nil
}

type ApplyPaymentInput struct {
	OrderID   string
	PaymentID string
	Status    string

	// ResetStock clears stock_deducted because a new payment supersedes
	// PreviousPaymentID. The write only lands if the order still points at it.
	ResetStock        bool
	PreviousPaymentID string
}

// ApplyPayment writes the settled status and payment id. Last writer wins on status.
func (r *Repo) ApplyPayment(ctx context.Context, in ApplyPaymentInput) error {
	updates := map[string]any{
		"status":     in.Status,
		"payment_id": in.PaymentID,
		"updated_at": time.Now(),
	}
	q := r.db.WithContext(ctx).Model(&Order{}).Where("id = ?", in.OrderID)
	if in.ResetStock {
		updates["stock_deducted"] = false
		updates["stock_claim_token"] = nil
		updates["stock_claimed_at"] = nil
		q = q.Where("payment_id = ?", in.PreviousPaymentID)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if in.ResetStock && res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// ClaimStock takes the per-order commitment lease. It succeeds only while stock is
// not committed and no live claim exists, so exactly one execution adjusts items.
func (r *Repo) ClaimStock(ctx context.Context, orderID, token string, lease time.Duration) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND stock_deducted = ?", orderID, false).
		Where("stock_claim_token IS NULL OR stock_claimed_at IS NULL OR stock_claimed_at < ?", now.Add(-lease)).
		Updates(map[string]any{
			"stock_claim_token": token,
			"stock_claimed_at":  now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseClaim drops the lease taken with token. A claim that was committed or
// taken over by another token is left alone.
func (r *Repo) ReleaseClaim(ctx context.Context, orderID, token string) error {
	return r.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND stock_claim_token = ?", orderID, token).
		Updates(map[string]any{
			"stock_claim_token": nil,
			"stock_claimed_at":  nil,
			"updated_at":        time.Now(),
		}).Error
}

// CommitStock sets stock_deducted unconditionally and drops the claim.
func (r *Repo) CommitStock(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).Model(&Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"stock_deducted":    true,
			"stock_claim_token": nil,
			"stock_claimed_at":  nil,
			"updated_at":        time.Now(),
		}).Error
}

// ReleaseStock flips stock_deducted true->false. Only the caller that wins the
// flip may restore inventory.
func (r *Repo) ReleaseStock(ctx context.Context, orderID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND stock_deducted = ?", orderID, true).
		Updates(map[string]any{
			"stock_deducted": false,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type ListCommittedParams struct {
	Since    time.Time
	AfterID  string
	PageSize int
}

// ListCommitted pages through orders whose stock is committed, ordered by id.
func (r *Repo) ListCommitted(ctx context.Context, in ListCommittedParams) ([]Order, error) {
	size := in.PageSize
	if size < 1 || size > 500 {
		size = 100
	}
	q := r.db.WithContext(ctx).Model(&Order{}).Where("stock_deducted = ?", true)
	if !in.Since.IsZero() {
		q = q.Where("updated_at >= ?", in.Since)
	}
	if in.AfterID != "" {
		q = q.Where("id > ?", in.AfterID)
	}
	var out []Order
	if err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).Limit(size).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
