package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/tulsi/internal/models"
)

// Ledger is the payment-record store.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// RecordPayment inserts the payment record, ignoring the insert when the
// payment id is already present. Returns false for the duplicate case.
func (s *Ledger) RecordPayment(ctx context.Context, rec *models.PaymentRecord) (bool, error) {
	if len(rec.RawPayload) == 0 {
		rec.RawPayload = []byte("{}")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
