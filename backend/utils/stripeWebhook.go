package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
)

// metadata keys that may carry the local user id, in lookup order. userID is
// what older checkout sessions were tagged with.
var userIDKeys = []string{"user_id", "userID"}

func DecodeCheckoutSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", event.Type, err)
	}
	return &session, nil
}

func DecodeSubscription(event stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", event.Type, err)
	}
	return &sub, nil
}

// UserIDFromMetadata returns the first user id in md that is a valid UUID, or "".
func UserIDFromMetadata(md map[string]string) string {
	for _, key := range userIDKeys {
		v := strings.TrimSpace(md[key])
		if v == "" {
			continue
		}
		if _, err := uuid.Parse(v); err == nil {
			return v
		}
	}
	return ""
}
