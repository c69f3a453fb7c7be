package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ravigill3969/depo-billing/backend/models"
	"github.com/ravigill3969/depo-billing/backend/utils"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const maxWebhookBody = int64(65536)

type EventVerifier interface {
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)
}

type WebhookRecorder interface {
	Record(ctx context.Context, entry models.WebhookLog) error
}

// EventDeduper suppresses repeated deliveries of the same event id.
type EventDeduper interface {
	FirstDelivery(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Webhook struct {
	verifier EventVerifier
	provider SubscriptionFetcher
	store    SubscriptionStore
	logs     WebhookRecorder
	dedupe   EventDeduper
	logger   *zap.Logger
}

func NewWebhook(verifier EventVerifier, provider SubscriptionFetcher, store SubscriptionStore, logs WebhookRecorder, dedupe EventDeduper, logger *zap.Logger) *Webhook {
	return &Webhook{
		verifier: verifier,
		provider: provider,
		store:    store,
		logs:     logs,
		dedupe:   dedupe,
		logger:   logger,
	}
}

var errNoOwner = errors.New("no user associated with subscription")

func (h *Webhook) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("error reading webhook body", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := h.verifier.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	ctx := r.Context()
	log := h.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	first, err := h.dedupe.FirstDelivery(ctx, event.ID)
	if err != nil {
		// Fail open; the upsert is idempotent.
		log.Warn("webhook dedupe unavailable", zap.Error(err))
		first = true
	}
	if !first {
		log.Info("duplicate webhook delivery")
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	status, procErr := h.process(ctx, event)
	entry := models.WebhookLog{
		EventID:   event.ID,
		EventType: string(event.Type),
		Status:    status,
		Payload:   payload,
	}
	if procErr != nil {
		entry.Error = procErr.Error()
	}
	if err := h.logs.Record(ctx, entry); err != nil {
		log.Error("failed to record webhook", zap.Error(err))
	}

	if status == models.WebhookStatusFailed {
		if err := h.dedupe.Forget(ctx, event.ID); err != nil {
			log.Warn("failed to release webhook event", zap.Error(err))
		}
		utils.RespondInternal(w, log, procErr, "Failed to process webhook")
		return
	}

	log.Info("webhook handled", zap.String("status", status))
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// process applies the event and returns its webhook_logs status. A non-nil
// error with status ignored explains why nothing was written.
func (h *Webhook) process(ctx context.Context, event stripe.Event) (string, error) {
	switch event.Type {
	case "checkout.session.completed":
		return h.checkoutCompleted(ctx, event)

	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		sub, err := utils.DecodeSubscription(event)
		if err != nil {
			return models.WebhookStatusFailed, err
		}
		return h.apply(ctx, sub, utils.UserIDFromMetadata(sub.Metadata))

	default:
		return models.WebhookStatusIgnored, nil
	}
}

func (h *Webhook) checkoutCompleted(ctx context.Context, event stripe.Event) (string, error) {
	session, err := utils.DecodeCheckoutSession(event)
	if err != nil {
		return models.WebhookStatusFailed, err
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return models.WebhookStatusIgnored, errors.New("checkout session has no subscription")
	}

	sub, err := h.provider.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return models.WebhookStatusFailed, err
	}

	userID := utils.UserIDFromMetadata(session.Metadata)
	if userID == "" {
		userID = utils.UserIDFromMetadata(sub.Metadata)
	}
	return h.apply(ctx, sub, userID)
}

// apply upserts sub for userID, falling back to the user already stored for
// the subscription when the event carries none.
func (h *Webhook) apply(ctx context.Context, sub *stripe.Subscription, userID string) (string, error) {
	if userID == "" {
		owner, err := h.store.UserIDForSubscription(ctx, sub.ID)
		if err != nil {
			return models.WebhookStatusFailed, err
		}
		if owner == "" {
			return models.WebhookStatusIgnored, errNoOwner
		}
		userID = owner
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	rec, err := projectSubscription(ctx, sub, customerID, newProductCache(h.provider))
	if err != nil {
		return models.WebhookStatusFailed, err
	}
	if err := h.store.Upsert(ctx, userID, rec); err != nil {
		return models.WebhookStatusFailed, err
	}
	return models.WebhookStatusProcessed, nil
}
