package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
)

// Repository handles subscription and plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]models.Subscription, error)
	SupersedeSubscriptionsForUser(ctx context.Context, userID string, keep uuid.UUID, canceledAt time.Time) (int64, error)
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
	FindPlanByStripePriceID(ctx context.Context, priceID string) (*models.Plan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// SupersedeSubscriptionsForUser cancels every non-canceled subscription of
// userID except keep and returns how many rows changed. Past-due and paused
// rows are included so a later payment cannot revive them next to keep.
func (r *repository) SupersedeSubscriptionsForUser(ctx context.Context, userID string, keep uuid.UUID, canceledAt time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND status <> ?", userID, enums.SubscriptionStatusCanceled)
	if keep != uuid.Nil {
		query = query.Where("id <> ?", keep)
	}
	result := query.Updates(map[string]any{
		"status":      enums.SubscriptionStatusCanceled,
		"canceled_at": canceledAt,
	})
	return result.RowsAffected, result.Error
}

func (r *repository) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindPlanByStripePriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	if priceID == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("stripe_price_id = ?", priceID).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
