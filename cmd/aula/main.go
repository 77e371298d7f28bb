package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aula-lms/aula-lms/internal/app"
	"github.com/aula-lms/aula-lms/internal/authz"
	"github.com/aula-lms/aula-lms/internal/courses"
	"github.com/aula-lms/aula-lms/internal/observability"
	"github.com/aula-lms/aula-lms/internal/platform/cache"
	"github.com/aula-lms/aula-lms/internal/platform/db"
	"github.com/aula-lms/aula-lms/internal/roles"
	"github.com/aula-lms/aula-lms/internal/shared"
	"github.com/aula-lms/aula-lms/internal/users"
	"github.com/aula-lms/aula-lms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	metrics := observability.NewMetrics()

	var decisionCache authz.DecisionCache
	switch cfg.AuthzCacheBackend {
	case "redis":
		decisionCache = authz.NewRedisCache(redisClient, cfg.AuthzCacheTTL)
	default:
		memCache := authz.NewMemoryCache(cfg.AuthzCacheTTL)
		defer memCache.Stop()
		decisionCache = memCache
	}

	authzRepo := authz.NewRepository(pool)
	authzMetrics := authz.NewMetrics(metrics.Registerer())
	authzService := authz.NewService(authzRepo, decisionCache, authzMetrics, logger, authz.Config{
		AdminRole: cfg.AuthzAdminRole,
	})
	gate := authz.Middleware{Checker: authzService, Logger: logger}
	authzHandler := authz.NewHandler(logger, authzService)

	usersHandler := users.NewHandler(logger, users.NewService(users.NewRepository(pool)), gate)
	rolesHandler := roles.NewHandler(logger, roles.NewService(roles.NewRepository(pool)), gate)
	coursesHandler := courses.NewHandler(logger, courses.NewService(courses.NewRepository(pool)), gate)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		Gate:           gate,
		AuthzHandler:   authzHandler,
		UsersHandler:   usersHandler,
		RolesHandler:   rolesHandler,
		CoursesHandler: coursesHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
