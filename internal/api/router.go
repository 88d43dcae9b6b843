package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ovalpay/settlements/internal/api/handler"
	"github.com/ovalpay/settlements/internal/api/middleware"
	"github.com/ovalpay/settlements/internal/api/spec"
	"github.com/ovalpay/settlements/internal/config"
	"github.com/ovalpay/settlements/internal/idempotency"
	"github.com/ovalpay/settlements/internal/repository"
	"github.com/ovalpay/settlements/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router assembles the admin HTTP surface.
type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	repo      *repository.Repository
	idemStore *idempotency.Store

	transitions *service.TransitionService
	assignments *service.AssignmentService
	notifier    *service.CallbackNotifier
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	repo *repository.Repository,
	idemStore *idempotency.Store,
	transitions *service.TransitionService,
	assignments *service.AssignmentService,
	notifier *service.CallbackNotifier,
) *Router {
	return &Router{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redis:       redisClient,
		repo:        repo,
		idemStore:   idemStore,
		transitions: transitions,
		assignments: assignments,
		notifier:    notifier,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	trxHandler := handler.NewTransactionHandler(api.transitions, api.assignments, api.repo, api.notifier)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole("admin"))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/admin/transactions/{id}", trxHandler.Get)
		r.Patch("/v1/admin/transactions/{id}/trader", trxHandler.AssignTrader)

		// Mutations that move money or talk to merchants carry the
		// Idempotency-Key contract.
		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)
		r.With(idem).Patch("/v1/admin/transactions/{id}/status", trxHandler.ChangeStatus)
		r.With(idem).Post("/v1/admin/transactions/{id}/callback", trxHandler.DispatchCallback)
	})

	return r
}
