package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/example/tulsi/internal/models"
)

// Snapshots stores pending-order snapshots keyed by order id.
type Snapshots struct {
	db *gorm.DB
}

func NewSnapshots(db *gorm.DB) *Snapshots {
	return &Snapshots{db: db}
}

// GetSnapshot returns the snapshot for orderID, or nil when absent.
func (s *Snapshots) GetSnapshot(ctx context.Context, orderID string) (*models.PendingOrder, error) {
	var snap models.PendingOrder
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Snapshots) CreateSnapshot(ctx context.Context, snap *models.PendingOrder) error {
	return s.db.WithContext(ctx).Create(snap).Error
}

// DeleteSnapshot removes a consumed snapshot. Deleting an already-deleted
// snapshot is not an error.
func (s *Snapshots) DeleteSnapshot(ctx context.Context, orderID string) error {
	return s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&models.PendingOrder{}).Error
}
