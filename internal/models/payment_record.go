package models

// PaymentRecord is the payment ledger. PaymentID carries a unique index so a
// duplicate webhook delivery fails the insert instead of creating a second
// row; that conflict is the idempotency gate for the whole success path.
type PaymentRecord struct {
	BaseModel
	PaymentID  string  `gorm:"uniqueIndex" json:"payment_id"`
	OrderID    string  `gorm:"index" json:"order_id"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"`
	RawPayload []byte  `gorm:"type:jsonb" json:"raw_payload"`
}
