package shops

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
)

// Repository exposes the shop writes the billing reconciler performs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListByOwner(ctx context.Context, ownerID string) ([]models.Shop, error)
	AssignSubscription(ctx context.Context, ownerID string, subscriptionID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a shop repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListByOwner(ctx context.Context, ownerID string) ([]models.Shop, error) {
	var shops []models.Shop
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&shops).Error; err != nil {
		return nil, err
	}
	return shops, nil
}

// AssignSubscription points every shop owned by ownerID at subscriptionID.
func (r *repository) AssignSubscription(ctx context.Context, ownerID string, subscriptionID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Shop{}).
		Where("owner_id = ?", ownerID).
		Update("subscription_id", subscriptionID)
	return result.RowsAffected, result.Error
}
