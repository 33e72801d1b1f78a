package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/jewelcraft/jewelcraft-backend/pkg/db/types"
)

// WebhookRecord is the ledger row for one Stripe event id. Payload keeps the
// verified request body so the event can be replayed.
type WebhookRecord struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID      string          `gorm:"column:event_id;not null;uniqueIndex"`
	EventType    string          `gorm:"column:event_type;not null;index"`
	Payload      dbtypes.RawJSON `gorm:"column:payload;type:jsonb;not null"`
	Processed    bool            `gorm:"column:processed;not null;default:false"`
	ProcessedAt  *time.Time      `gorm:"column:processed_at"`
	ErrorMessage *string         `gorm:"column:error_message"`
	Attempts     int             `gorm:"column:attempts;not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (WebhookRecord) TableName() string {
	return "webhook_records"
}
