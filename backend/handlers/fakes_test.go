package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/ravigill3969/depo-billing/backend/models"
	"github.com/ravigill3969/depo-billing/backend/stripeclient"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const (
	testUserID  = "7d1c1a6e-3c59-4d7e-9a55-5f1b0f6a9b21"
	otherUserID = "0b6f3a8e-1111-4c2b-8f7e-2a9d5c3e4f10"
	testEmail   = "runner@example.com"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int

	customers     []*stripe.Customer
	subscriptions map[string][]*stripe.Subscription
	byID          map[string]*stripe.Subscription
	products      map[string]*stripe.Product
	invoices      []*stripe.Invoice

	lastCheckout stripeclient.CheckoutParams
	lastQuery    string
	err          error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:         make(map[string]int),
		subscriptions: make(map[string][]*stripe.Subscription),
		byID:          make(map[string]*stripe.Subscription),
		products:      make(map[string]*stripe.Product),
	}
}

func (f *fakeProvider) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error) {
	if err := f.record("CreateCustomer"); err != nil {
		return nil, err
	}
	return &stripe.Customer{ID: "cus_new", Email: email, Metadata: map[string]string{"user_id": userID}}, nil
}

func (f *fakeProvider) SearchCustomers(ctx context.Context, query string) ([]*stripe.Customer, error) {
	if err := f.record("SearchCustomers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastQuery = query
	f.mu.Unlock()
	return f.customers, nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, p stripeclient.CheckoutParams) (*stripe.CheckoutSession, error) {
	if err := f.record("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastCheckout = p
	f.mu.Unlock()
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (f *fakeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	if err := f.record("ListSubscriptions"); err != nil {
		return nil, err
	}
	return f.subscriptions[customerID], nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if err := f.record("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.byID[id]
	if !ok {
		return nil, &stripe.Error{Msg: "No such subscription: '" + id + "'"}
	}
	return sub, nil
}

func (f *fakeProvider) CancelAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error) {
	if err := f.record("CancelAtPeriodEnd"); err != nil {
		return nil, err
	}
	sub, ok := f.byID[id]
	if !ok {
		return nil, &stripe.Error{Msg: "No such subscription: '" + id + "'"}
	}
	updated := *sub
	updated.CancelAtPeriodEnd = true
	return &updated, nil
}

func (f *fakeProvider) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	if err := f.record("GetProduct"); err != nil {
		return nil, err
	}
	prod, ok := f.products[id]
	if !ok {
		return nil, errors.New("no such product " + id)
	}
	return prod, nil
}

func (f *fakeProvider) ListInvoices(ctx context.Context, customerID string, limit int) ([]*stripe.Invoice, error) {
	if err := f.record("ListInvoices"); err != nil {
		return nil, err
	}
	if len(f.invoices) > limit {
		return f.invoices[:limit], nil
	}
	return f.invoices, nil
}

func (f *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	if err := f.record("CreatePortalSession"); err != nil {
		return nil, err
	}
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session/test", ReturnURL: returnURL}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	customers map[string]string
	owners    map[string]string
	upserts   map[string]models.SubscriptionRecord
	upsertFor map[string]string
	writes    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		customers: make(map[string]string),
		owners:    make(map[string]string),
		upserts:   make(map[string]models.SubscriptionRecord),
		upsertFor: make(map[string]string),
	}
}

func (s *fakeStore) CustomerIDForUser(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[userID], nil
}

func (s *fakeStore) UserOwnsCustomer(ctx context.Context, userID, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[userID] == customerID, nil
}

func (s *fakeStore) UserIDForSubscription(ctx context.Context, subscriptionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[subscriptionID], nil
}

func (s *fakeStore) Upsert(ctx context.Context, userID string, rec models.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.upserts[rec.StripeSubscriptionID] = rec
	s.upsertFor[rec.StripeSubscriptionID] = userID
	return nil
}

// testSubscription returns an active monthly subscription whose price carries
// only a product id.
func testSubscription(id, customerID, productID string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: customerID},
		Created:  1700000000,
		Metadata: map[string]string{
			"user_id": testUserID,
			"tier":    "pro",
		},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:                 "si_" + id,
					CurrentPeriodStart: 1700000000,
					CurrentPeriodEnd:   1702592000,
					Price: &stripe.Price{
						ID:         "price_monthly",
						UnitAmount: 399,
						Currency:   stripe.CurrencyUSD,
						Recurring: &stripe.PriceRecurring{
							Interval: stripe.PriceRecurringIntervalMonth,
						},
						Product: &stripe.Product{ID: productID},
					},
				},
			},
		},
	}
}

func newTestStripe(p *fakeProvider, st *fakeStore, concurrency int) *Stripe {
	return NewStripe(p, st, Defaults{
		SuccessURL:      "http://localhost:5173/billing?success=true",
		CancelURL:       "http://localhost:5173/billing?canceled=true",
		PortalReturnURL: "http://localhost:5173/billing",
	}, concurrency, zap.NewNop())
}
