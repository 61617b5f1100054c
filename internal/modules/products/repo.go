package products

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pehlione.com/settlement/internal/shared/slug"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	var p Product
	err := r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *Repo) GetVariant(ctx context.Context, id string) (Variant, error) {
	var v Variant
	err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Variant{}, ErrProductNotFound
	}
	return v, err
}

// CreateProduct derives the slug from name when none is given.
func (r *Repo) CreateProduct(ctx context.Context, name, slugStr string, price decimal.Decimal, stock int) (Product, error) {
	if slugStr == "" {
		slugStr = slug.FromName(name)
	}
	now := time.Now()
	p := Product{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slugStr,
		Status:    "active",
		Price:     price,
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return Product{}, err
	}
	return p, nil
}

func (r *Repo) AddVariant(ctx context.Context, productID, sku string, price decimal.Decimal, stock int) (Variant, error) {
	now := time.Now()
	v := Variant{
		ID:        uuid.NewString(),
		ProductID: productID,
		SKU:       sku,
		Price:     price,
		Stock:     stock,
		IsActive:  stock > 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&v).Error; err != nil {
		return Variant{}, err
	}
	return v, nil
}

// ReadStock returns the current counter behind ref.
func (r *Repo) ReadStock(ctx context.Context, ref StockRef) (int, error) {
	var row struct{ Stock int }
	q := r.db.WithContext(ctx).Select("stock").Limit(1)
	switch {
	case ref.IsVariant():
		q = q.Model(&Variant{}).Where("id = ?", ref.VariantID)
	case ref.ProductID != "":
		q = q.Model(&Product{}).Where("id = ?", ref.ProductID)
	default:
		return 0, ErrInvalidRef
	}

	res := q.Scan(&row)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrProductNotFound
	}
	return row.Stock, nil
}

// SwapStock writes next only if the counter still holds prev. A variant that
// reaches zero is deactivated; reactivate turns it back on when next > 0.
func (r *Repo) SwapStock(ctx context.Context, ref StockRef, prev, next int, reactivate bool) (bool, error) {
	if next < 0 {
		next = 0
	}
	updates := map[string]any{
		"stock":      next,
		"updated_at": time.Now(),
	}

	var q *gorm.DB
	switch {
	case ref.IsVariant():
		if next == 0 {
			updates["is_active"] = false
		} else if reactivate {
			updates["is_active"] = true
		}
		q = r.db.WithContext(ctx).Model(&Variant{}).Where("id = ? AND stock = ?", ref.VariantID, prev)
	case ref.ProductID != "":
		q = r.db.WithContext(ctx).Model(&Product{}).Where("id = ? AND stock = ?", ref.ProductID, prev)
	default:
		return false, ErrInvalidRef
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
