package products

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `gorm:"type:char(36);primaryKey"`
	Name      string          `gorm:"type:varchar(255);not null"`
	Slug      string          `gorm:"type:varchar(255);not null;uniqueIndex:ux_products_slug"`
	Status    string          `gorm:"type:varchar(32);not null"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Stock     int             `gorm:"not null;default:0"`
	Variants  []Variant       `gorm:"foreignKey:ProductID"`
	CreatedAt time.Time       `gorm:"precision:3;not null"`
	UpdatedAt time.Time       `gorm:"precision:3;not null"`
}

func (Product) TableName() string { return "products" }

type Variant struct {
	ID        string          `gorm:"type:char(36);primaryKey"`
	ProductID string          `gorm:"type:char(36);not null;index:ix_product_variants_product_id"`
	SKU       string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_product_variants_sku"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Stock     int             `gorm:"not null;default:0"`
	IsActive  bool            `gorm:"not null"`
	CreatedAt time.Time       `gorm:"precision:3;not null"`
	UpdatedAt time.Time       `gorm:"precision:3;not null"`
}

func (Variant) TableName() string { return "product_variants" }

// StockRef points at the counter a line item adjusts: the variant when set,
// otherwise the base product.
type StockRef struct {
	ProductID string
	VariantID string
}

func (r StockRef) IsVariant() bool { return r.VariantID != "" }

func (r StockRef) String() string {
	if r.IsVariant() {
		return "variant:" + r.VariantID
	}
	return "product:" + r.ProductID
}
