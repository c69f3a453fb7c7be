package routes

import (
	"net/http"

	"github.com/ravigill3969/depo-billing/backend/handlers"
	middleware "github.com/ravigill3969/depo-billing/backend/middlewares"
	"github.com/ravigill3969/depo-billing/backend/utils"
)

// StripeRoutes mounts the payments endpoint under both paths the front end
// calls. Payments requests are rate limited and carry the caller identity when
// a bearer token is sent.
func StripeRoutes(mux *http.ServeMux, s *handlers.Stripe, auth *middleware.Authenticator, limiter *middleware.RateLimiter) {
	payments := limiter.Limit(auth.Authenticate(http.HandlerFunc(s.HandlePayments)))

	mux.Handle("POST /functions/v1/stripe-payments", payments)
	mux.Handle("POST /api/stripe-payments", payments)
}

// WebhookRoutes mounts the Stripe webhook. It is authenticated by signature,
// not by bearer token.
func WebhookRoutes(mux *http.ServeMux, wh *handlers.Webhook) {
	mux.HandleFunc("POST /webhooks/stripe", wh.HandleWebhook)
}

func HealthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
