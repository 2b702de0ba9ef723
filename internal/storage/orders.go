package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/tulsi/internal/models"
)

// Orders is the gorm-backed order store. Insert uses ON CONFLICT DO NOTHING
// on order_id and status updates are conditional on the current status, so
// concurrent webhook deliveries race safely at the database level.
type Orders struct {
	db *gorm.DB
}

func NewOrders(db *gorm.DB) *Orders {
	return &Orders{db: db}
}

// GetOrder returns the order for orderID, or nil when no such order exists.
func (s *Orders) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// InsertOrder creates the order header unless one already exists for the same
// order id. Returns false when the row was already present.
func (s *Orders) InsertOrder(ctx context.Context, order *models.Order) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(order)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateOrderStatusIf applies updates only while the order is still in the
// given status. Returns false when the guard did not match.
func (s *Orders) UpdateOrderStatusIf(ctx context.Context, orderID, from string, updates map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountItems reports how many line items exist for the order.
func (s *Orders) CountItems(ctx context.Context, orderID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	return count, err
}

// InsertItems writes the order line items. The unique (order_id, item_id)
// index plus DO NOTHING keeps a replayed materialization from duplicating rows.
func (s *Orders) InsertItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "item_id"}},
			DoNothing: true,
		}).
		Create(&items).Error
}

// ListPendingBefore returns orders still pending that were created before the
// cutoff, oldest first. Used by the reconciliation sweep.
func (s *Orders) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
