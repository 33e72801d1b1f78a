package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
)

// Plan maps a Stripe price to the limits a shop owner is entitled to.
type Plan struct {
	ID            string           `gorm:"column:id;primaryKey"`
	Name          string           `gorm:"column:name;not null"`
	Tier          enums.PlanTier   `gorm:"column:tier;type:plan_tier;not null"`
	Status        enums.PlanStatus `gorm:"column:status;type:plan_status;not null"`
	StripePriceID string           `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	MaxShops      int              `gorm:"column:max_shops;not null;default:1"`
	MaxUsers      int              `gorm:"column:max_users;not null;default:1"`
	MaxItems      int              `gorm:"column:max_items;not null;default:0"`
	PriceAmount   decimal.Decimal  `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode  string           `gorm:"column:currency_code;not null"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
