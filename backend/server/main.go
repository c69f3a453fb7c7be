package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ravigill3969/depo-billing/backend/config"
	"github.com/ravigill3969/depo-billing/backend/database"
	"github.com/ravigill3969/depo-billing/backend/handlers"
	"github.com/ravigill3969/depo-billing/backend/logging"
	middleware "github.com/ravigill3969/depo-billing/backend/middlewares"
	"github.com/ravigill3969/depo-billing/backend/routes"
	"github.com/ravigill3969/depo-billing/backend/store"
	"github.com/ravigill3969/depo-billing/backend/stripeclient"
	"github.com/ravigill3969/depo-billing/backend/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Error loading configuration: %s", err)
	}

	logger, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error building logger: %s", err)
	}
	defer logger.Sync()

	db, err := database.ConnectDB(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database connection", zap.Error(closeErr))
		}
		logger.Info("database connection closed")
	}()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhook deliveries will be rejected")
	}

	stripeClient := stripeclient.NewClient(stripeclient.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	})
	subscriptions := store.NewSubscriptionStore(db)

	stripeHandler := handlers.NewStripe(stripeClient, subscriptions, handlers.Defaults{
		SuccessURL:      cfg.CheckoutSuccessURL,
		CancelURL:       cfg.CheckoutCancelURL,
		PortalReturnURL: cfg.PortalReturnURL,
	}, cfg.SyncConcurrency, logger)

	webhookHandler := handlers.NewWebhook(
		stripeClient,
		stripeClient,
		subscriptions,
		store.NewWebhookLogStore(db),
		store.NewRedisEventDeduper(redisClient),
		logger,
	)

	auth := &middleware.Authenticator{
		JWTSecret: []byte(cfg.SupabaseJWTSecret),
		Logger:    logger,
	}
	limiter := &middleware.RateLimiter{
		Redis:       redisClient,
		MaxRequests: cfg.RateLimitMax,
		TrustProxy:  cfg.TrustProxy,
		Logger:      logger,
	}

	mux := http.NewServeMux()
	routes.StripeRoutes(mux, stripeHandler, auth, limiter)
	routes.WebhookRoutes(mux, webhookHandler)
	routes.HealthRoutes(mux)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "This route does not exist")
	})

	handler := middleware.CORS(cfg.AllowedOrigin)(
		middleware.SetCommonHeaders(
			middleware.RequestLogger(logger, cfg.TrustProxy)(mux),
		),
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server is running", zap.String("addr", "http://localhost:"+cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
