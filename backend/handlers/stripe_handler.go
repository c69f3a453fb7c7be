package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	middleware "github.com/ravigill3969/depo-billing/backend/middlewares"
	"github.com/ravigill3969/depo-billing/backend/models"
	"github.com/ravigill3969/depo-billing/backend/stripeclient"
	"github.com/ravigill3969/depo-billing/backend/utils"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const (
	ActionCreateCheckoutSession  = "create-checkout-session"
	ActionSyncSubscriptions      = "sync-subscriptions"
	ActionCancelSubscription     = "cancel-subscription"
	ActionGetSubscriptionDetails = "get-subscription-details"
	ActionGetInvoices            = "get-invoices"
	ActionCreatePortalSession    = "create-portal-session"

	maxPaymentsBody = int64(1 << 20)
	invoiceLimit    = 10
)

// PaymentProvider is the part of the Stripe API the payments actions use.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error)
	SearchCustomers(ctx context.Context, query string) ([]*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, p stripeclient.CheckoutParams) (*stripe.CheckoutSession, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error)
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]*stripe.Invoice, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}

// SubscriptionStore is the local record of which user owns which Stripe
// customer and subscription.
type SubscriptionStore interface {
	CustomerIDForUser(ctx context.Context, userID string) (string, error)
	UserOwnsCustomer(ctx context.Context, userID, customerID string) (bool, error)
	UserIDForSubscription(ctx context.Context, subscriptionID string) (string, error)
	Upsert(ctx context.Context, userID string, rec models.SubscriptionRecord) error
}

// Defaults fill in redirect URLs the caller left out.
type Defaults struct {
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

type Stripe struct {
	provider        PaymentProvider
	store           SubscriptionStore
	defaults        Defaults
	syncConcurrency int
	validate        *validator.Validate
	logger          *zap.Logger
}

func NewStripe(provider PaymentProvider, store SubscriptionStore, defaults Defaults, syncConcurrency int, logger *zap.Logger) *Stripe {
	if syncConcurrency < 1 {
		syncConcurrency = 1
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &Stripe{
		provider:        provider,
		store:           store,
		defaults:        defaults,
		syncConcurrency: syncConcurrency,
		validate:        v,
		logger:          logger,
	}
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type SyncResponse struct {
	Success       bool                        `json:"success"`
	Synced        int                         `json:"synced"`
	Subscriptions []models.SubscriptionRecord `json:"subscriptions"`
}

type CancelResponse struct {
	Success      bool                 `json:"success"`
	Subscription *stripe.Subscription `json:"subscription"`
}

type SubscriptionDetailsResponse struct {
	Subscription map[string]json.RawMessage `json:"subscription"`
}

type InvoicesResponse struct {
	Invoices []models.InvoiceSummary `json:"invoices"`
}

// HandlePayments serves every billing action behind a single endpoint. Any
// failure becomes {"error": "..."} with status 400.
func (s *Stripe) HandlePayments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPaymentsBody)

	var req models.PaymentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("invalid payments request body", zap.Error(err))
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identity := middleware.IdentityFromContext(r.Context())

	body, err := s.Dispatch(r.Context(), identity, req)
	if err != nil {
		fields := []zap.Field{zap.String("action", req.Action), zap.Error(err)}
		if identity != nil {
			fields = append(fields, zap.String("user_id", identity.UserID))
		}
		s.logger.Error("payments action failed", fields...)
		utils.RespondError(w, http.StatusBadRequest, errorMessage(err))
		return
	}

	utils.RespondJSON(w, http.StatusOK, body)
}

// Dispatch runs the action named in req for the given caller. identity is nil
// when the request carried no valid bearer token.
func (s *Stripe) Dispatch(ctx context.Context, identity *utils.Identity, req models.PaymentsRequest) (interface{}, error) {
	switch req.Action {
	case ActionCreateCheckoutSession:
		return s.CreateCheckoutSession(ctx, identity, req)
	case ActionSyncSubscriptions:
		return s.SyncSubscriptions(ctx, identity, req.UserEmail)
	case ActionCancelSubscription:
		return s.CancelSubscription(ctx, req.SubscriptionID)
	case ActionGetSubscriptionDetails:
		return s.GetSubscriptionDetails(ctx, identity, req.SubscriptionID)
	case ActionGetInvoices:
		return s.GetInvoices(ctx, identity, req.CustomerID)
	case ActionCreatePortalSession:
		return s.CreatePortalSession(ctx, identity, req.CustomerID, req.ReturnURL)
	default:
		return nil, ErrInvalidAction
	}
}

// CreateCheckoutSession reuses the caller's stored customer, or creates one,
// and opens a subscription checkout for the price.
//
// A newly created customer id is not written back before the session is
// created; the checkout.session.completed webhook is what persists it.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, identity *utils.Identity, req models.PaymentsRequest) (*CheckoutResponse, error) {
	if identity == nil {
		return nil, ErrNotAuthenticated
	}

	in := models.CheckoutRequest{
		PriceID:    strings.TrimSpace(req.PriceID),
		SuccessURL: firstNonEmpty(req.SuccessURL, s.defaults.SuccessURL),
		CancelURL:  firstNonEmpty(req.CancelURL, s.defaults.CancelURL),
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	customerID, err := s.store.CustomerIDForUser(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	if customerID == "" {
		cust, err := s.provider.CreateCustomer(ctx, identity.Email, identity.UserID)
		if err != nil {
			return nil, err
		}
		customerID = cust.ID
		s.logger.Info("created stripe customer",
			zap.String("user_id", identity.UserID),
			zap.String("customer_id", customerID))
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, stripeclient.CheckoutParams{
		CustomerID: customerID,
		PriceID:    in.PriceID,
		SuccessURL: in.SuccessURL,
		CancelURL:  in.CancelURL,
		UserID:     identity.UserID,
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutResponse{URL: sess.URL}, nil
}

// CancelSubscription sets cancel_at_period_end. Access continues until the
// current period ends and nothing is written locally.
func (s *Stripe) CancelSubscription(ctx context.Context, subscriptionID string) (*CancelResponse, error) {
	in := models.SubscriptionRequest{SubscriptionID: strings.TrimSpace(subscriptionID)}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	sub, err := s.provider.CancelAtPeriodEnd(ctx, in.SubscriptionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription set to cancel at period end",
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)))
	return &CancelResponse{Success: true, Subscription: sub}, nil
}

func (s *Stripe) GetSubscriptionDetails(ctx context.Context, identity *utils.Identity, subscriptionID string) (*SubscriptionDetailsResponse, error) {
	if identity == nil {
		return nil, ErrNotAuthenticated
	}

	in := models.SubscriptionRequest{SubscriptionID: strings.TrimSpace(subscriptionID)}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	owner, err := s.store.UserIDForSubscription(ctx, in.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if owner != identity.UserID {
		return nil, ErrSubscriptionMismatch
	}

	sub, err := s.provider.GetSubscription(ctx, in.SubscriptionID)
	if err != nil {
		return nil, err
	}
	view, err := subscriptionView(sub)
	if err != nil {
		return nil, err
	}
	return &SubscriptionDetailsResponse{Subscription: view}, nil
}

// subscriptionView renders sub as Stripe does and copies the first item's
// billing period to current_period_start and current_period_end, which newer
// API versions only report per item.
func subscriptionView(sub *stripe.Subscription) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode subscription %s: %w", sub.ID, err)
	}
	view := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("encode subscription %s: %w", sub.ID, err)
	}

	if item := firstItem(sub); item != nil {
		view["current_period_start"] = json.RawMessage(strconv.FormatInt(item.CurrentPeriodStart, 10))
		view["current_period_end"] = json.RawMessage(strconv.FormatInt(item.CurrentPeriodEnd, 10))
	}
	return view, nil
}

func (s *Stripe) GetInvoices(ctx context.Context, identity *utils.Identity, customerID string) (*InvoicesResponse, error) {
	in := models.CustomerRequest{CustomerID: strings.TrimSpace(customerID)}
	if err := s.checkCustomer(ctx, identity, in); err != nil {
		return nil, err
	}

	invoices, err := s.provider.ListInvoices(ctx, in.CustomerID, invoiceLimit)
	if err != nil {
		return nil, err
	}

	out := make([]models.InvoiceSummary, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, models.InvoiceSummary{
			ID:               inv.ID,
			Number:           inv.Number,
			Status:           string(inv.Status),
			AmountDue:        inv.AmountDue,
			AmountPaid:       inv.AmountPaid,
			Currency:         string(inv.Currency),
			Created:          inv.Created,
			HostedInvoiceURL: inv.HostedInvoiceURL,
			InvoicePDF:       inv.InvoicePDF,
		})
	}
	return &InvoicesResponse{Invoices: out}, nil
}

func (s *Stripe) CreatePortalSession(ctx context.Context, identity *utils.Identity, customerID, returnURL string) (*CheckoutResponse, error) {
	in := models.PortalRequest{
		CustomerID: strings.TrimSpace(customerID),
		ReturnURL:  firstNonEmpty(returnURL, s.defaults.PortalReturnURL),
	}
	if err := s.checkCustomer(ctx, identity, models.CustomerRequest{CustomerID: in.CustomerID}); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	sess, err := s.provider.CreatePortalSession(ctx, in.CustomerID, in.ReturnURL)
	if err != nil {
		return nil, err
	}
	return &CheckoutResponse{URL: sess.URL}, nil
}

func (s *Stripe) checkCustomer(ctx context.Context, identity *utils.Identity, in models.CustomerRequest) error {
	if identity == nil {
		return ErrNotAuthenticated
	}
	if err := s.validate.Struct(in); err != nil {
		return validationError(err)
	}

	owns, err := s.store.UserOwnsCustomer(ctx, identity.UserID, in.CustomerID)
	if err != nil {
		return err
	}
	if !owns {
		return ErrCustomerMismatch
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
