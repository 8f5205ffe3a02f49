package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/api/handler"
	"github.com/KDR9MGR/digital-payments-sub002/internal/api/middleware"
	"github.com/KDR9MGR/digital-payments-sub002/internal/api/spec"
	"github.com/KDR9MGR/digital-payments-sub002/internal/idempotency"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
)

// Router wires handlers, middleware, and operational endpoints into the
// HTTP surface.
type Router struct {
	engine     *service.OrchestrationEngine
	onboarding *service.OnboardingService
	reconciler *service.WebhookReconciler
	idemStore  *idempotency.Store
	db         *pgxpool.Pool
	redis      redis.Cmdable
	logger     *zap.Logger

	publicRPS int
	authRPS   int
}

func NewRouter(
	engine *service.OrchestrationEngine,
	onboarding *service.OnboardingService,
	reconciler *service.WebhookReconciler,
	idemStore *idempotency.Store,
	db *pgxpool.Pool,
	rdb redis.Cmdable,
	logger *zap.Logger,
	publicRPS, authRPS int,
) *Router {
	if logger == nil {
		logger = zap.L()
	}
	return &Router{
		engine:     engine,
		onboarding: onboarding,
		reconciler: reconciler,
		idemStore:  idemStore,
		db:         db,
		redis:      rdb,
		logger:     logger,
		publicRPS:  publicRPS,
		authRPS:    authRPS,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	connectHandler := handler.NewConnectHandler(api.onboarding)
	transferHandler := handler.NewTransferHandler(api.engine)
	transactionHandler := handler.NewTransactionHandler(api.engine)
	webhookHandler := handler.NewWebhookHandler(api.reconciler)

	// Operational endpoints
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Webhooks are authenticated by signature, not by JWT, but still rate
	// limited per source IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.publicRPS))
		r.Post("/v1/webhooks/provider", webhookHandler.Receive)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.authRPS))

		// Onboarding
		r.Post("/v1/connect/accounts", connectHandler.CreateAccount)
		r.Post("/v1/connect/account-links", connectHandler.CreateAccountLink)
		r.Get("/v1/connect/accounts/status", connectHandler.AccountStatus)

		// Payments
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/payments/p2p/initiate", transferHandler.Initiate)

		// Transactions
		r.Get("/v1/transactions", transactionHandler.List)
		r.Get("/v1/transactions/{id}", transactionHandler.Get)
	})

	return r
}
