package models

import (
	"encoding/json"
)

// PendingOrder buffers the cart and user snapshot captured at order-creation
// time. The gateway does not echo line items back, so this is the only source
// order items can be materialized from. It is consumed once and then deleted.
type PendingOrder struct {
	BaseModel
	OrderID   string  `gorm:"uniqueIndex" json:"order_id"`
	UserUID   string  `json:"user_uid"`
	UserEmail string  `json:"user_email"`
	UserName  string  `json:"user_name"`
	UserPhone string  `json:"user_phone"`
	Cart      []byte  `gorm:"type:jsonb" json:"cart"`
	Amount    float64 `json:"amount"`
}

// CartLine is one cart entry inside a PendingOrder snapshot.
type CartLine struct {
	ID       string  `json:"id"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CartLines decodes the snapshot cart payload.
func (p *PendingOrder) CartLines() ([]CartLine, error) {
	var lines []CartLine
	if err := json.Unmarshal(p.Cart, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}
