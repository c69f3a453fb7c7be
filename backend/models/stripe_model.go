package models

import "encoding/json"

// SubscriptionRecord is one row of the subscriptions table as produced by a
// sync or webhook projection. Timestamps are ISO-8601 strings in UTC.
type SubscriptionRecord struct {
	StripeCustomerID     string          `json:"stripe_customer_id"`
	StripeSubscriptionID string          `json:"stripe_subscription_id"`
	Status               string          `json:"status"`
	PriceID              *string         `json:"price_id"`
	PlanName             *string         `json:"plan_name"`
	PlanAmount           *int64          `json:"plan_amount"`
	PlanCurrency         *string         `json:"plan_currency"`
	PlanInterval         *string         `json:"plan_interval"`
	CurrentPeriodStart   *string         `json:"current_period_start"`
	CurrentPeriodEnd     *string         `json:"current_period_end"`
	TrialStart           *string         `json:"trial_start"`
	TrialEnd             *string         `json:"trial_end"`
	CancelAtPeriodEnd    bool            `json:"cancel_at_period_end"`
	CreatedAt            *string         `json:"created_at"`
	Tier                 json.RawMessage `json:"tier"`
	Features             json.RawMessage `json:"features"`
	Limits               json.RawMessage `json:"limits"`
}

// StoredSubscription is a SubscriptionRecord read back from the store.
type StoredSubscription struct {
	SubscriptionRecord
	UserID    string `json:"user_id"`
	UpdatedAt string `json:"updated_at"`
}

// InvoiceSummary is one row of the billing history. Created is Unix seconds,
// as Stripe reports it.
type InvoiceSummary struct {
	ID               string `json:"id"`
	Number           string `json:"number"`
	Status           string `json:"status"`
	AmountDue        int64  `json:"amount_due"`
	AmountPaid       int64  `json:"amount_paid"`
	Currency         string `json:"currency"`
	Created          int64  `json:"created"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
}

const (
	WebhookStatusProcessed = "processed"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusFailed    = "failed"
)

type WebhookLog struct {
	EventID   string
	EventType string
	Status    string
	Error     string
	Payload   []byte
}
