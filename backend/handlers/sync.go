package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ravigill3969/depo-billing/backend/models"
	"github.com/ravigill3969/depo-billing/backend/store"
	"github.com/ravigill3969/depo-billing/backend/utils"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var searchEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`)

// customerEmailQuery builds a Stripe search query for an exact email match.
func customerEmailQuery(email string) string {
	return "email:'" + searchEscaper.Replace(email) + "'"
}

// SyncSubscriptions imports every Stripe subscription billed to the caller's
// email. It only returns projected records; persisting them is the caller's
// job. Any failure aborts the whole sync.
func (s *Stripe) SyncSubscriptions(ctx context.Context, identity *utils.Identity, userEmail string) (*SyncResponse, error) {
	if identity == nil {
		return nil, ErrNotAuthenticated
	}

	email := strings.TrimSpace(userEmail)
	if email == "" {
		email = strings.TrimSpace(identity.Email)
	}
	if !strings.EqualFold(email, strings.TrimSpace(identity.Email)) {
		return nil, ErrEmailMismatch
	}
	if err := s.validate.Struct(models.SyncRequest{Email: email}); err != nil {
		return nil, validationError(err)
	}

	customers, err := s.provider.SearchCustomers(ctx, customerEmailQuery(email))
	if err != nil {
		return nil, err
	}

	products := newProductCache(s.provider)
	perCustomer := make([][]models.SubscriptionRecord, len(customers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.syncConcurrency)
	for i, cust := range customers {
		g.Go(func() error {
			subs, err := s.provider.ListSubscriptions(gctx, cust.ID)
			if err != nil {
				return err
			}
			recs := make([]models.SubscriptionRecord, 0, len(subs))
			for _, sub := range subs {
				rec, err := projectSubscription(gctx, sub, cust.ID, products)
				if err != nil {
					return err
				}
				recs = append(recs, rec)
			}
			perCustomer[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]models.SubscriptionRecord, 0)
	for _, recs := range perCustomer {
		records = append(records, recs...)
	}

	s.logger.Info("synced subscriptions from stripe",
		zap.String("user_id", identity.UserID),
		zap.Int("customers", len(customers)),
		zap.Int("subscriptions", len(records)))

	return &SyncResponse{Success: true, Synced: len(records), Subscriptions: records}, nil
}

type productGetter interface {
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)
}

// productCache remembers product lookups for the length of one request so
// subscriptions sharing a product cost a single fetch.
type productCache struct {
	getter  productGetter
	mu      sync.Mutex
	entries map[string]*productEntry
}

type productEntry struct {
	once    sync.Once
	product *stripe.Product
	err     error
}

func newProductCache(getter productGetter) *productCache {
	return &productCache{getter: getter, entries: make(map[string]*productEntry)}
}

func (c *productCache) get(ctx context.Context, id string) (*stripe.Product, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		e = &productEntry{}
		c.entries[id] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.product, e.err = c.getter.GetProduct(ctx, id)
	})
	return e.product, e.err
}

// productName uses an expanded product as is and fetches a bare product id
// through the cache.
func productName(ctx context.Context, price *stripe.Price, products *productCache) (*string, error) {
	if price == nil || price.Product == nil {
		return nil, nil
	}
	if price.Product.Name != "" {
		return stringPtr(price.Product.Name), nil
	}
	if price.Product.ID == "" {
		return nil, nil
	}

	prod, err := products.get(ctx, price.Product.ID)
	if err != nil {
		return nil, err
	}
	if prod == nil || prod.Name == "" {
		return nil, nil
	}
	return stringPtr(prod.Name), nil
}

// projectSubscription maps a Stripe subscription onto a subscriptions row.
// customerID is used when the subscription does not carry its customer.
func projectSubscription(ctx context.Context, sub *stripe.Subscription, customerID string, products *productCache) (models.SubscriptionRecord, error) {
	rec := models.SubscriptionRecord{
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		TrialStart:           unixPtr(sub.TrialStart),
		TrialEnd:             unixPtr(sub.TrialEnd),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CreatedAt:            unixPtr(sub.Created),
		Tier:                 metadataValue(sub.Metadata, "tier"),
		Features:             metadataValue(sub.Metadata, "features"),
		Limits:               metadataValue(sub.Metadata, "limits"),
	}
	if sub.Customer != nil && sub.Customer.ID != "" {
		rec.StripeCustomerID = sub.Customer.ID
	}

	item := firstItem(sub)
	if item == nil {
		return rec, nil
	}

	rec.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
	rec.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)

	price := item.Price
	if price == nil {
		return rec, nil
	}
	if price.ID != "" {
		rec.PriceID = stringPtr(price.ID)
	}
	amount := price.UnitAmount
	rec.PlanAmount = &amount
	if price.Currency != "" {
		rec.PlanCurrency = stringPtr(string(price.Currency))
	}
	if price.Recurring != nil && price.Recurring.Interval != "" {
		rec.PlanInterval = stringPtr(string(price.Recurring.Interval))
	}

	name, err := productName(ctx, price, products)
	if err != nil {
		return models.SubscriptionRecord{}, err
	}
	rec.PlanName = name
	return rec, nil
}

// firstItem is the item a single-price subscription bills through, or nil.
func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

// metadataValue keeps metadata blobs opaque: a value that already is JSON is
// passed through, anything else becomes a JSON string.
func metadataValue(md map[string]string, key string) json.RawMessage {
	v, ok := md[key]
	if !ok {
		return nil
	}
	if json.Valid([]byte(v)) {
		return json.RawMessage(v)
	}
	b, _ := json.Marshal(v)
	return b
}

func formatUnix(sec int64) string {
	return store.FormatTime(time.Unix(sec, 0))
}

func unixPtr(sec int64) *string {
	if sec == 0 {
		return nil
	}
	s := formatUnix(sec)
	return &s
}

func stringPtr(s string) *string {
	return &s
}
