package models

import (
	"time"

	"github.com/google/uuid"
)

// Shop is the tenant-owned jewelry business. SubscriptionID points at the
// owner's current subscription row.
type Shop struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID        string     `gorm:"column:owner_id;not null;index"`
	Name           string     `gorm:"column:name;not null"`
	SubscriptionID *uuid.UUID `gorm:"column:subscription_id;type:uuid"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
