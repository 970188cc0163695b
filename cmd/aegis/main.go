package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aegis-platform/aegis/internal/aclcache"
	"github.com/aegis-platform/aegis/internal/app"
	"github.com/aegis-platform/aegis/internal/audit"
	audithttp "github.com/aegis-platform/aegis/internal/audit/http"
	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/engine"
	"github.com/aegis-platform/aegis/internal/hierarchy"
	"github.com/aegis-platform/aegis/internal/observability"
	"github.com/aegis-platform/aegis/internal/ownership"
	"github.com/aegis-platform/aegis/internal/platform/cache"
	"github.com/aegis-platform/aegis/internal/platform/db"
	"github.com/aegis-platform/aegis/internal/principals"
	"github.com/aegis-platform/aegis/internal/roles"
	"github.com/aegis-platform/aegis/jobs"
)

// principalFromHeader resolves the acting principal from the X-Principal-ID
// header set by the fronting gateway after authentication.
func principalFromHeader(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("X-Principal-ID"))
	if raw == "" {
		return 0, errors.New("missing principal header")
	}
	return strconv.ParseInt(raw, 10, 64)
}

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
		logger.Warn("redis unavailable, decision cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	hierarchyCfg := hierarchy.DefaultConfig()
	if override, err := cfg.RoleHierarchy(); err != nil {
		logger.Error("decode role hierarchy", slog.Any("error", err))
		os.Exit(1)
	} else if override != nil {
		hierarchyCfg = hierarchy.Config(override)
	}
	if !hierarchyCfg.Validate() {
		logger.Error("role hierarchy contains a cycle")
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	aclCache := aclcache.New(redisClient, logger, aclcache.Options{
		UserTTL:       cfg.ACLUserTTL,
		RoleTTL:       cfg.ACLRoleTTL,
		PermissionTTL: cfg.ACLPermissionTTL,
	})

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, aclCache, logger)

	rolesRepo := roles.NewRepository(pool)
	resolver := hierarchy.NewResolver(hierarchyCfg, rolesRepo)
	rolesService := roles.NewService(rolesRepo, aclCache, resolver, logger)

	if err := catalogService.SyncDefaults(ctx, nil); err != nil {
		logger.Error("seed permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	if err := rolesService.AssignDefaults(ctx, catalogService); err != nil {
		logger.Error("seed default roles", slog.Any("error", err))
		os.Exit(1)
	}

	principalRepo := principals.NewRepository(pool)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	recorder := audit.NewRecorder(auditRepo, logger, cfg.AuditStrict)

	evaluator := ownership.NewEvaluator(ownership.DefaultRules(), ownership.NewPgProvider(pool), logger)

	decisionEngine := engine.NewService(principalRepo, resolver, evaluator, aclCache, recorder, metrics, logger)
	engineHandler := engine.NewHandler(logger, decisionEngine, principalFromHeader)

	alertCfg := audit.AlertConfig{
		Window:        cfg.AlertWindow,
		MaxDenials:    int64(cfg.AlertMaxDenials),
		SuspiciousIPs: cfg.AlertSuspiciousIPs,
	}
	auditHandler := audithttp.NewHandler(logger, auditService, alertCfg)
	auditGuard := audithttp.Guard(decisionEngine.RequireAny(principalFromHeader, "audit.read", "audit.list"))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		EngineHandler: engineHandler,
		AuditHandler:  auditHandler,
		AuditGuard:    auditGuard,
		JobHandler:    jobHandler,
		Metrics:       metrics,
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
