package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ravigill3969/depo-billing/backend/models"
)

const queryTimeout = 5 * time.Second

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// CustomerIDForUser returns the Stripe customer id stored for the user, or ""
// when the user has no subscription row yet.
func (s *SubscriptionStore) CustomerIDForUser(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var customerID string
	err := s.db.QueryRowContext(ctx, `
		SELECT stripe_customer_id FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get customer id for user: %w", err)
	}
	return customerID, nil
}

// UserOwnsCustomer reports whether any of the user's subscriptions is billed
// to customerID.
func (s *SubscriptionStore) UserOwnsCustomer(ctx context.Context, userID, customerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var owns bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE user_id = $1 AND stripe_customer_id = $2
		)
	`, userID, customerID).Scan(&owns)
	if err != nil {
		return false, fmt.Errorf("check customer ownership: %w", err)
	}
	return owns, nil
}

// UserIDForSubscription returns the owner of a stored subscription, or "".
func (s *SubscriptionStore) UserIDForSubscription(ctx context.Context, subscriptionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM subscriptions WHERE stripe_subscription_id = $1`,
		subscriptionID,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user for subscription: %w", err)
	}
	return userID, nil
}

// Upsert writes the record for userID keyed on stripe_subscription_id. A
// second write for the same subscription replaces the first.
func (s *SubscriptionStore) Upsert(ctx context.Context, userID string, rec models.SubscriptionRecord) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("upsert subscription %s: invalid user id %q", rec.StripeSubscriptionID, userID)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			user_id, stripe_customer_id, stripe_subscription_id, status,
			price_id, plan_name, plan_amount, plan_currency, plan_interval,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at_period_end, tier, features, limits, created_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10::timestamptz, $11::timestamptz, $12::timestamptz, $13::timestamptz,
			$14, $15::jsonb, $16::jsonb, $17::jsonb, COALESCE($18::timestamptz, now()), now()
		)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			plan_name = EXCLUDED.plan_name,
			plan_amount = EXCLUDED.plan_amount,
			plan_currency = EXCLUDED.plan_currency,
			plan_interval = EXCLUDED.plan_interval,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_start = EXCLUDED.trial_start,
			trial_end = EXCLUDED.trial_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			tier = EXCLUDED.tier,
			features = EXCLUDED.features,
			limits = EXCLUDED.limits,
			updated_at = now()
	`,
		userID, rec.StripeCustomerID, rec.StripeSubscriptionID, rec.Status,
		rec.PriceID, rec.PlanName, rec.PlanAmount, rec.PlanCurrency, rec.PlanInterval,
		rec.CurrentPeriodStart, rec.CurrentPeriodEnd, rec.TrialStart, rec.TrialEnd,
		rec.CancelAtPeriodEnd, jsonParam(rec.Tier), jsonParam(rec.Features), jsonParam(rec.Limits), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", rec.StripeSubscriptionID, err)
	}
	return nil
}

// GetBySubscriptionID reads one row back; nil when it does not exist.
func (s *SubscriptionStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.StoredSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		sub                                   models.StoredSubscription
		periodStart, periodEnd                sql.NullTime
		trialStart, trialEnd, createdAt       sql.NullTime
		updatedAt                             time.Time
		priceID, planName, currency, interval sql.NullString
		amount                                sql.NullInt64
		tier, features, limits                []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, stripe_customer_id, stripe_subscription_id, status,
			price_id, plan_name, plan_amount, plan_currency, plan_interval,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at_period_end, tier::text, features::text, limits::text, created_at, updated_at
		FROM subscriptions WHERE stripe_subscription_id = $1
	`, subscriptionID).Scan(
		&sub.UserID, &sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.Status,
		&priceID, &planName, &amount, &currency, &interval,
		&periodStart, &periodEnd, &trialStart, &trialEnd,
		&sub.CancelAtPeriodEnd, &tier, &features, &limits, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}

	sub.PriceID = nullString(priceID)
	sub.PlanName = nullString(planName)
	sub.PlanCurrency = nullString(currency)
	sub.PlanInterval = nullString(interval)
	if amount.Valid {
		sub.PlanAmount = &amount.Int64
	}
	sub.CurrentPeriodStart = nullTime(periodStart)
	sub.CurrentPeriodEnd = nullTime(periodEnd)
	sub.TrialStart = nullTime(trialStart)
	sub.TrialEnd = nullTime(trialEnd)
	sub.CreatedAt = nullTime(createdAt)
	sub.Tier = tier
	sub.Features = features
	sub.Limits = limits
	sub.UpdatedAt = FormatTime(updatedAt)
	return &sub, nil
}

// FormatTime renders t the way the subscriptions API exposes timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func jsonParam(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := string(raw)
	return &s
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *string {
	if !v.Valid {
		return nil
	}
	s := FormatTime(v.Time)
	return &s
}
