package server

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/billing"
	"github.com/flowbill/flowbill-api/internal/cache"
	"github.com/flowbill/flowbill-api/internal/db"
	"github.com/flowbill/flowbill-api/internal/email"
	"github.com/flowbill/flowbill-api/internal/gateway"
	"github.com/flowbill/flowbill-api/internal/handlers"
	"github.com/flowbill/flowbill-api/internal/helpers"
	"github.com/flowbill/flowbill-api/internal/logger"
	"github.com/flowbill/flowbill-api/internal/middleware"
	"github.com/flowbill/flowbill-api/internal/signature"
	"github.com/flowbill/flowbill-api/internal/webhook"
)

// Handler definitions
var (
	webhookHandler    *handlers.WebhookHandler
	deadLetterHandler *handlers.DeadLetterHandler
	billingHandler    *handlers.BillingHandler

	// Database
	store  *db.Store
	dbPool *pgxpool.Pool
)

// InitializeHandlers connects to the database and wires the delivery and
// billing subsystems into their handlers. The logger must already be
// initialized.
func InitializeHandlers() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		logger.Fatal("Unable to parse database connection string", zap.Error(err))
	}

	dbPool, err = pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Fatal("Unable to create database connection pool", zap.Error(err))
	}
	store = db.NewStore(dbPool)

	dispatcher := NewDispatcher(store)
	planCache := PlanCacheFromEnv()
	processor := NewBillingProcessor(store, dispatcher, planCache)
	common := handlers.NewCommonServices(store, logger.Log)

	webhookHandler = handlers.NewWebhookHandler(common, dispatcher, os.Getenv("WEBHOOK_SIGNING_SECRET"), logger.Log)
	deadLetterHandler = handlers.NewDeadLetterHandler(common, dispatcher, logger.Log)
	billingHandler = handlers.NewBillingHandler(common, processor, planCache, logger.Log)

	logger.Info("handlers initialized")
}

// NewDispatcher builds the delivery dispatcher from environment
// configuration, backed by the database dead-letter sink.
func NewDispatcher(queries db.Querier) *webhook.Dispatcher {
	policy := webhook.RetryPolicy{
		Type:       webhook.PolicyType(helpers.EnvOrDefault("WEBHOOK_RETRY_POLICY", string(webhook.PolicyExponential))),
		BaseDelay:  helpers.EnvDurationOrDefault("WEBHOOK_RETRY_BASE_DELAY", time.Second),
		MaxRetries: helpers.EnvIntOrDefault("WEBHOOK_MAX_RETRIES", 3),
	}
	timeout := helpers.EnvDurationOrDefault("WEBHOOK_ATTEMPT_TIMEOUT", webhook.DefaultAttemptTimeout)

	executor := webhook.NewExecutor(timeout, signature.SignSimple)
	sink := webhook.NewDBSink(queries, logger.Log)
	return webhook.NewDispatcher(executor, policy, sink, logger.Log)
}

// NewBillingProcessor builds the reconciliation processor with the payment
// gateway client, the shared plan cache and the notification paths.
func NewBillingProcessor(s *db.Store, dispatcher *webhook.Dispatcher, planCache *cache.PlanCache) *billing.Processor {
	gatewayClient := gateway.NewClient(
		os.Getenv("GATEWAY_URL"),
		os.Getenv("GATEWAY_API_KEY"),
	)

	var sender email.Sender
	if apiKey := os.Getenv("RESEND_API_KEY"); apiKey != "" {
		sender = email.NewEmailService(
			apiKey,
			helpers.EnvOrDefault("EMAIL_FROM_ADDRESS", "billing@flowbill.io"),
			helpers.EnvOrDefault("EMAIL_FROM_NAME", "Flowbill Billing"),
			logger.Log,
		)
	} else {
		logger.Warn("RESEND_API_KEY not set, billing notices disabled")
	}

	notifier := webhook.NewNotifier(s, dispatcher, logger.Log)
	return billing.NewProcessor(s, gatewayClient, planCache, notifier, sender, logger.Log)
}

// PlanCacheFromEnv builds the plan cache with the configured TTL.
func PlanCacheFromEnv() *cache.PlanCache {
	return cache.NewPlanCache(helpers.EnvDurationOrDefault("PLAN_CACHE_TTL", cache.DefaultTTL))
}

// InitializeRoutes registers all API routes on the router.
func InitializeRoutes(router *gin.Engine) {
	router.Use(configureCORS())
	router.Use(middleware.CorrelationIDMiddleware())
	router.Use(middleware.RequestLoggingMiddleware())

	router.GET("/health", handlers.HealthCheck)

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/deliver", webhookHandler.DeliverEvent)
		webhooks.POST("/inbound", webhookHandler.ReceiveWebhook)
	}

	deadLetters := router.Group("/dead-letters")
	{
		deadLetters.GET("", deadLetterHandler.ListDeadLetters)
		deadLetters.GET("/:id", deadLetterHandler.GetDeadLetter)
		deadLetters.POST("/:id/replay", deadLetterHandler.ReplayDeadLetter)
	}

	router.POST("/billing/process-due", billingHandler.ProcessDue)

	plans := router.Group("/plans")
	{
		plans.GET("/:plan_id", billingHandler.GetPlan)
		plans.PUT("/:plan_id", billingHandler.UpdatePlan)
	}
}

// Close releases the database pool.
func Close() {
	if dbPool != nil {
		dbPool.Close()
	}
}

// configureCORS returns a configured CORS middleware.
func configureCORS() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()

	originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS")
	if originsEnv == "" {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	} else {
		origins := strings.Split(originsEnv, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		corsConfig.AllowOrigins = origins
	}

	methodsEnv := os.Getenv("CORS_ALLOWED_METHODS")
	if methodsEnv == "" {
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	} else {
		methods := strings.Split(methodsEnv, ",")
		for i, method := range methods {
			methods[i] = strings.TrimSpace(method)
		}
		corsConfig.AllowMethods = methods
	}

	headersEnv := os.Getenv("CORS_ALLOWED_HEADERS")
	if headersEnv == "" {
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Correlation-ID"}
	} else {
		headers := strings.Split(headersEnv, ",")
		for i, header := range headers {
			headers[i] = strings.TrimSpace(header)
		}
		corsConfig.AllowHeaders = headers
	}

	corsConfig.ExposeHeaders = []string{middleware.CorrelationIDHeader}
	corsConfig.AllowCredentials = os.Getenv("CORS_ALLOW_CREDENTIALS") == "true"

	return cors.New(corsConfig)
}
