package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusCreated   = "created"
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

type Order struct {
	ID       string          `gorm:"type:char(36);primaryKey"`
	UserID   *string         `gorm:"type:char(36);index:ix_orders_user_id"`
	Total    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency string          `gorm:"type:char(3);not null"`
	Status   string          `gorm:"type:varchar(32);not null"`

	PaymentID    *string `gorm:"type:varchar(64);index:ix_orders_payment_id"`
	PreferenceID *string `gorm:"type:varchar(128);index:ix_orders_preference_id"`

	// StockDeducted is the single gate for inventory commitment of the current payment.
	StockDeducted   bool       `gorm:"not null;default:false"`
	StockClaimToken *string    `gorm:"type:char(36)"`
	StockClaimedAt  *time.Time `gorm:"precision:3"`

	CreatedAt time.Time `gorm:"precision:3;not null"`
	UpdatedAt time.Time `gorm:"precision:3;not null"`
}

func (Order) TableName() string { return "orders" }

// OrderItem references exactly one of ProductID or VariantID.
type OrderItem struct {
	ID        string          `gorm:"type:char(36);primaryKey"`
	OrderID   string          `gorm:"type:char(36);not null;index:ix_order_items_order_id"`
	ProductID *string         `gorm:"type:char(36)"`
	VariantID *string         `gorm:"type:char(36)"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CreatedAt time.Time       `gorm:"precision:3;not null"`
}

func (OrderItem) TableName() string { return "order_items" }

type OrderEvent struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	OrderID     string    `gorm:"type:char(36);not null;index:ix_order_events_order_id"`
	ActorUserID string    `gorm:"type:varchar(64);not null"`
	Action      string    `gorm:"type:varchar(32);not null"`
	FromStatus  string    `gorm:"type:varchar(32);not null"`
	ToStatus    string    `gorm:"type:varchar(32);not null"`
	Note        *string   `gorm:"type:varchar(255)"`
	CreatedAt   time.Time `gorm:"precision:3;not null"`
}

func (OrderEvent) TableName() string { return "order_events" }
