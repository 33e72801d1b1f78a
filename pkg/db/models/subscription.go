package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
)

// Subscription persists one user's Stripe billing relationship. Rows are never
// deleted; cancellation is a status transition.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID               string                   `gorm:"column:user_id;not null;index"`
	PlanID               string                   `gorm:"column:plan_id;not null"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
