// Package dbtest opens throwaway sqlite databases carrying the reconciler
// schema for package tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
)

const schema = `
CREATE TABLE plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  tier TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  stripe_price_id TEXT NOT NULL UNIQUE,
  max_shops INTEGER NOT NULL DEFAULT 1,
  max_users INTEGER NOT NULL DEFAULT 1,
  max_items INTEGER NOT NULL DEFAULT 0,
  price_amount NUMERIC NOT NULL,
  currency_code TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  stripe_subscription_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'active',
  current_period_start DATETIME,
  current_period_end DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE shops (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  name TEXT NOT NULL,
  subscription_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE webhook_records (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  processed INTEGER NOT NULL DEFAULT 0,
  processed_at DATETIME,
  error_message TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`

// Open returns a fresh in-memory database with the schema applied. The pool is
// pinned to one connection because each sqlite :memory: connection is its own
// database.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.Exec(schema).Error; err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

// SeedPlan inserts a plan bound to priceID.
func SeedPlan(t *testing.T, conn *gorm.DB, id, priceID string) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:            id,
		Name:          id,
		Tier:          enums.PlanTierPro,
		Status:        enums.PlanStatusActive,
		StripePriceID: priceID,
		MaxShops:      3,
		MaxUsers:      10,
		MaxItems:      5000,
		PriceAmount:   decimal.RequireFromString("49.00"),
		CurrencyCode:  "USD",
	}
	if err := conn.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

// SeedShops inserts count shops owned by ownerID.
func SeedShops(t *testing.T, conn *gorm.DB, ownerID string, count int) []models.Shop {
	t.Helper()
	shops := make([]models.Shop, 0, count)
	for i := 0; i < count; i++ {
		shop := models.Shop{ID: uuid.New(), OwnerID: ownerID, Name: ownerID + " atelier"}
		if err := conn.Create(&shop).Error; err != nil {
			t.Fatalf("seed shop: %v", err)
		}
		shops = append(shops, shop)
	}
	return shops
}
