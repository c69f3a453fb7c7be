package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ravigill3969/depo-billing/backend/database"
	"github.com/ravigill3969/depo-billing/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration test")
	}
	db, err := database.ConnectDB(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func sampleRecord(subID string) models.SubscriptionRecord {
	amount := int64(399)
	return models.SubscriptionRecord{
		StripeCustomerID:     "cus_" + subID,
		StripeSubscriptionID: subID,
		Status:               "active",
		PriceID:              strPtr("price_monthly"),
		PlanName:             strPtr("DEPO Monthly"),
		PlanAmount:           &amount,
		PlanCurrency:         strPtr("usd"),
		PlanInterval:         strPtr("month"),
		CurrentPeriodStart:   strPtr("2023-11-14T22:13:20.000Z"),
		CurrentPeriodEnd:     strPtr("2023-12-14T22:13:20.000Z"),
		CreatedAt:            strPtr("2023-11-14T22:13:20.000Z"),
		Tier:                 json.RawMessage(`"premium"`),
		Features:             json.RawMessage(`["analytics","ai"]`),
	}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()

	userID := uuid.NewString()
	subID := "sub_" + uuid.NewString()

	require.NoError(t, ss.Upsert(ctx, userID, sampleRecord(subID)))

	rec := sampleRecord(subID)
	rec.Status = "past_due"
	rec.CancelAtPeriodEnd = true
	require.NoError(t, ss.Upsert(ctx, userID, rec))

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM subscriptions WHERE stripe_subscription_id = $1`, subID).Scan(&count))
	assert.Equal(t, 1, count)

	got, err := ss.GetBySubscriptionID(ctx, subID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "past_due", got.Status)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", *got.CurrentPeriodStart)
	assert.JSONEq(t, `["analytics","ai"]`, string(got.Features))
	assert.Nil(t, got.Limits)
}

func TestCustomerIDForUser(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()

	userID := uuid.NewString()
	id, err := ss.CustomerIDForUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, id)

	subID := "sub_" + uuid.NewString()
	require.NoError(t, ss.Upsert(ctx, userID, sampleRecord(subID)))

	id, err = ss.CustomerIDForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "cus_"+subID, id)

	owns, err := ss.UserOwnsCustomer(ctx, userID, "cus_"+subID)
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = ss.UserOwnsCustomer(ctx, uuid.NewString(), "cus_"+subID)
	require.NoError(t, err)
	assert.False(t, owns)

	owner, err := ss.UserIDForSubscription(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, userID, owner)
}

func TestCustomerIDForUserPrefersLatestRow(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSubscriptionStore(db)
	ctx := context.Background()

	userID := uuid.NewString()
	older := "sub_" + uuid.NewString()
	newer := "sub_" + uuid.NewString()
	require.NoError(t, ss.Upsert(ctx, userID, sampleRecord(older)))
	require.NoError(t, ss.Upsert(ctx, userID, sampleRecord(newer)))
	_, err := db.ExecContext(ctx,
		`UPDATE subscriptions SET updated_at = now() - interval '1 hour' WHERE stripe_subscription_id = $1`, older)
	require.NoError(t, err)

	id, err := ss.CustomerIDForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "cus_"+newer, id)
}

func TestUpsertRejectsInvalidUserID(t *testing.T) {
	ss := NewSubscriptionStore(nil)
	err := ss.Upsert(context.Background(), "not-a-uuid", sampleRecord("sub_x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user id")
}

func TestWebhookLogRecord(t *testing.T) {
	db := setupTestDB(t)
	ls := NewWebhookLogStore(db)

	eventID := "evt_" + uuid.NewString()
	err := ls.Record(context.Background(), models.WebhookLog{
		EventID:   eventID,
		EventType: "customer.subscription.updated",
		Status:    models.WebhookStatusProcessed,
		Payload:   []byte(`{"id":"` + eventID + `"}`),
	})
	require.NoError(t, err)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM webhook_logs WHERE event_id = $1`, eventID).Scan(&status))
	assert.Equal(t, models.WebhookStatusProcessed, status)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "2023-11-14T22:13:20.000Z", FormatTime(time.Unix(1700000000, 0)))
}
