package inventory

import "time"

// StockLog is the append-only audit ledger of stock mutations. Rows are never
// updated or deleted. DedupeKey makes a per-item adjustment recordable once.
type StockLog struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	ProductID   *string   `gorm:"type:char(36);index:ix_stock_logs_product_id"`
	VariantID   *string   `gorm:"type:char(36);index:ix_stock_logs_variant_id"`
	OrderID     string    `gorm:"type:char(36);not null;index:ix_stock_logs_order_id"`
	OrderItemID string    `gorm:"type:char(36);not null"`
	OldStock    int       `gorm:"not null"`
	NewStock    int       `gorm:"not null"`
	Change      int       `gorm:"not null"`
	Reason      string    `gorm:"type:varchar(255);not null"`
	UserID      string    `gorm:"type:varchar(64);not null"`
	DedupeKey   string    `gorm:"type:varchar(160);not null;uniqueIndex:ux_stock_logs_dedupe_key"`
	CreatedAt   time.Time `gorm:"precision:3;not null"`
}

func (StockLog) TableName() string { return "stock_logs" }

const (
	KindDeduct  = "deduct"
	KindRestore = "restore"
)

// DedupeKey identifies one adjustment of one line item within a cycle
// (the payment id for deductions, the release id for restores).
func DedupeKey(kind, orderItemID, cycle string) string {
	return kind + ":" + orderItemID + ":" + cycle
}
