package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
)

// Repository persists the webhook event ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByEventID(ctx context.Context, eventID string) (*models.WebhookRecord, error)
	Insert(ctx context.Context, record *models.WebhookRecord) (bool, error)
	RecordAttempt(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) (bool, error)
	ListUnprocessed(ctx context.Context, limit int) ([]models.WebhookRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookRecord, error) {
	var record models.WebhookRecord
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Insert adds record unless a row for the same event id exists. It reports
// whether this call created the row; the loser of a concurrent insert gets
// false and should re-read.
func (r *repository) Insert(ctx context.Context, record *models.WebhookRecord) (bool, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) RecordAttempt(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookRecord{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

// MarkProcessed flags an unprocessed row processed and clears any error left by
// an earlier failed attempt. It reports false when the row was already
// processed, which means a concurrent delivery of the same event won.
func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.WebhookRecord{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]any{
			"processed":     true,
			"processed_at":  at,
			"error_message": nil,
		})
	return result.RowsAffected == 1, result.Error
}

// MarkFailed records message on an unprocessed row. A processed row is left
// untouched and false is returned.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.WebhookRecord{}).
		Where("id = ? AND processed = ?", id, false).
		Update("error_message", message)
	return result.RowsAffected == 1, result.Error
}

func (r *repository) ListUnprocessed(ctx context.Context, limit int) ([]models.WebhookRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []models.WebhookRecord
	if err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
