package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/vuhoang-dev/backend-preorder/internal/app"
	"github.com/vuhoang-dev/backend-preorder/internal/catalog"
	"github.com/vuhoang-dev/backend-preorder/internal/combo"
	"github.com/vuhoang-dev/backend-preorder/internal/common"
	"github.com/vuhoang-dev/backend-preorder/internal/config"
	"github.com/vuhoang-dev/backend-preorder/internal/events"
	"github.com/vuhoang-dev/backend-preorder/internal/health"
	"github.com/vuhoang-dev/backend-preorder/internal/notify"
	"github.com/vuhoang-dev/backend-preorder/internal/obs"
	"github.com/vuhoang-dev/backend-preorder/internal/order"
	"github.com/vuhoang-dev/backend-preorder/internal/pricing"
	"github.com/vuhoang-dev/backend-preorder/internal/ratelimit"
	"github.com/vuhoang-dev/backend-preorder/internal/resilience"
	"github.com/vuhoang-dev/backend-preorder/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "preorder")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "preorder-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if envBool("DB_MIGRATE_ON_START", true) {
		m, err := migrate.New(envOrDefault("DB_MIGRATIONS_URL", "file://db/migrations"), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open migrations")
		}
		if err := app.RunMigrations(m); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "preorder-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	validate := validator.New()

	catalogSvc := catalog.NewService(catalog.ServiceConfig{
		Store: &catalog.Store{Pool: pool},
		Cache: catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
	})
	catalogHandler := &catalog.Handler{Svc: catalogSvc}
	catalogAdmin := &catalog.AdminHandler{Svc: catalogSvc, Validate: validate}

	notifyStore := &notify.PgStore{Pool: pool}
	dispatcher := &notify.Dispatcher{
		Store:              notifyStore,
		HTTP:               webhookHTTPClient(cfg),
		Tasks:              &notify.Enqueuer{Client: taskClient},
		BackoffBaseSec:     cfg.WebhookBackoffSec,
		DefaultMaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:            cfg.WebhookEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}
	bus := &events.Bus{
		Store:     &events.Store{Pool: pool},
		Scheduler: dispatcher,
	}

	comboSvc := combo.NewService(combo.ServiceConfig{
		Store:    &combo.Store{Pool: pool},
		Redis:    redisClient,
		CacheTTL: cfg.ComboCacheTTL,
		Bus:      bus,
		Log:      logger,
	})
	comboHandler := &combo.Handler{Svc: comboSvc}
	comboAdmin := &combo.AdminHandler{Svc: comboSvc, Validate: validate}

	pricingSvc := &pricing.Service{
		Catalog:  catalogSvc,
		Registry: comboSvc,
		Engine:   pricing.Engine{MaxTuples: cfg.PricingMaxTuples},
		Log:      logger,
	}
	pricingHandler := &pricing.Handler{Svc: pricingSvc, Validate: validate}

	orderSvc := order.NewService(order.ServiceConfig{
		Store:    &order.Store{Pool: pool},
		Pricer:   pricingSvc,
		Products: catalogSvc,
		Bus:      bus,
		Log:      logger,
	})
	orderHandler := &order.Handler{Svc: orderSvc, Validate: validate}
	orderAdmin := &order.AdminHandler{Svc: orderSvc}
	notifyAdmin := &notify.AdminHandler{Store: notifyStore, Disp: dispatcher}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	pricingLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:pricing:"},
		Config: ratelimit.Config{
			Key:    common.ClientIP,
			Window: cfg.PricingRateWin,
			Max:    cfg.PricingRateLimit,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: envInt64("SECURE_MAX_BODY_BYTES", 1<<20)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "X-Total-Count"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		r.Mount("/debug/pprof", newPprofMux())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{id}", catalogHandler.ProductDetail)
		v.Get("/categories", catalogHandler.Categories)
		v.Get("/combos", comboHandler.List)
		v.With(pricingLimit.Middleware).Post("/combos/pricing", pricingHandler.Quote)

		v.With(idem.Middleware).Post("/orders", orderHandler.Create)
		v.Get("/orders/track/{code}", orderHandler.Track)

		v.Route("/admin", func(admin chi.Router) {
			admin.Post("/products", catalogAdmin.Create)
			admin.Put("/products/{id}", catalogAdmin.Update)
			admin.Delete("/products/{id}", catalogAdmin.Delete)

			admin.Get("/combos", comboAdmin.List)
			admin.Post("/combos", comboAdmin.Create)
			admin.Put("/combos/{id}", comboAdmin.Update)
			admin.Delete("/combos/{id}", comboAdmin.Delete)

			admin.Get("/orders", orderAdmin.List)
			admin.Patch("/orders/{id}/status", orderAdmin.PatchStatus)

			admin.Post("/webhooks", notifyAdmin.CreateEndpoint)
			admin.Get("/webhooks", notifyAdmin.ListEndpoints)
			admin.Put("/webhooks/{id}", notifyAdmin.UpdateEndpoint)
			admin.Delete("/webhooks/{id}", notifyAdmin.DeleteEndpoint)
			admin.Get("/webhook-deliveries", notifyAdmin.ListDeliveries)
			admin.Post("/webhook-deliveries/{id}/replay", notifyAdmin.ReplayDelivery)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func webhookHTTPClient(cfg *config.Config) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client:      notify.HttpClient(cfg.WebhookTimeoutMs, false),
		Breaker:     resilience.NewBreaker(5, 0.5, 30*time.Second),
		MaxAttempts: 1,
		Timeout:     time.Duration(cfg.WebhookTimeoutMs) * time.Millisecond,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}
