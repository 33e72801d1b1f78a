package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jewelcraft/jewelcraft-backend/pkg/db/dbtest"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
)

func newRecord(eventID string) *models.WebhookRecord {
	return &models.WebhookRecord{
		EventID:   eventID,
		EventType: "customer.subscription.created",
		Payload:   []byte(`{"id":"` + eventID + `"}`),
	}
}

func TestRepository_InsertIsFirstWriterWins(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	first := newRecord("evt_1")
	created, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Insert(ctx, newRecord("evt_1"))
	require.NoError(t, err)
	assert.False(t, created, "duplicate event id must not create a second row")

	stored, err := repo.FindByEventID(ctx, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, first.ID, stored.ID)
	assert.False(t, stored.Processed)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(stored.Payload))
}

func TestRepository_FailedThenProcessedClearsError(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	record := newRecord("evt_2")
	_, err := repo.Insert(ctx, record)
	require.NoError(t, err)

	require.NoError(t, repo.RecordAttempt(ctx, record.ID))
	marked, err := repo.MarkFailed(ctx, record.ID, "no plan for price")
	require.NoError(t, err)
	assert.True(t, marked)

	failed, err := repo.FindByEventID(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, failed.Processed)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "no plan for price", *failed.ErrorMessage)
	assert.Equal(t, 1, failed.Attempts)

	require.NoError(t, repo.RecordAttempt(ctx, record.ID))
	marked, err = repo.MarkProcessed(ctx, record.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, marked)

	done, err := repo.FindByEventID(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, done.Processed)
	assert.NotNil(t, done.ProcessedAt)
	assert.Nil(t, done.ErrorMessage)
	assert.Equal(t, 2, done.Attempts)
}

func TestRepository_ListUnprocessed(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, err := repo.Insert(ctx, newRecord(id))
		require.NoError(t, err)
	}
	b, err := repo.FindByEventID(ctx, "evt_b")
	require.NoError(t, err)
	_, err = repo.MarkProcessed(ctx, b.ID, time.Now().UTC())
	require.NoError(t, err)

	pending, err := repo.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	ids := []string{pending[0].EventID, pending[1].EventID}
	assert.ElementsMatch(t, []string{"evt_a", "evt_c"}, ids)

	limited, err := repo.ListUnprocessed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	missing, err := repo.FindByEventID(ctx, "evt_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_ProcessedRowIgnoresLaterMarks(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	record := newRecord("evt_won")
	_, err := repo.Insert(ctx, record)
	require.NoError(t, err)
	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	marked, err := repo.MarkProcessed(ctx, record.ID, first)
	require.NoError(t, err)
	require.True(t, marked)

	marked, err = repo.MarkFailed(ctx, record.ID, "subscription created concurrently")
	require.NoError(t, err)
	assert.False(t, marked)

	marked, err = repo.MarkProcessed(ctx, record.ID, first.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, marked)

	stored, err := repo.FindByEventID(ctx, "evt_won")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Nil(t, stored.ErrorMessage)
	require.NotNil(t, stored.ProcessedAt)
	assert.True(t, stored.ProcessedAt.Equal(first))

	pending, err := repo.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
