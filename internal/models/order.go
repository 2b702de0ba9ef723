package models

import (
	"time"
)

// Order lifecycle statuses. Transitions are monotonic: once an order leaves
// PENDING it never returns, and PREPARING is never overwritten by a failure.
const (
	StatusPending           = "PENDING"
	StatusPreparing         = "PREPARING"
	StatusFailed            = "FAILED"
	StatusReconcileRequired = "RECONCILE_REQUIRED"
)

// CurrencyINR is the only currency the store sells in.
const CurrencyINR = "INR"

type Order struct {
	BaseModel
	OrderID   string      `gorm:"uniqueIndex" json:"order_id"`
	UserUID   string      `gorm:"index" json:"user_uid"`
	UserEmail string      `json:"user_email"`
	Status    string      `gorm:"index" json:"status"`
	Amount    float64     `json:"amount"`
	Currency  string      `json:"currency"`
	PaymentID string      `json:"payment_id"`
	PaidAt    *time.Time  `json:"paid_at"`
	Items     []OrderItem `gorm:"foreignKey:OrderID;references:OrderID" json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID   string  `gorm:"index:idx_order_item,unique" json:"order_id"`
	ItemID    string  `gorm:"index:idx_order_item,unique" json:"item_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}
