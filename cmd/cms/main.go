package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/zerodna/cms-authz/cmd/cms/cli"
	"github.com/zerodna/cms-authz/internal/app"
	"github.com/zerodna/cms-authz/internal/auth"
	"github.com/zerodna/cms-authz/internal/observability"
	"github.com/zerodna/cms-authz/internal/platform/cache"
	"github.com/zerodna/cms-authz/internal/platform/db"
	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/internal/shared"
	"github.com/zerodna/cms-authz/jobs"
	"github.com/zerodna/cms-authz/migrations"
)

const usage = `usage: cms [serve]
       cms migrate up | down [n] | version
       cms seed [-username admin] [-email admin@zerodna.com]
       cms jobs [-json] [-requested-by name] trigger purge:expired | stats`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return serve(ctx, stop, cfg, logger)
	case "migrate":
		return migrate(cfg, logger, args)
	case "seed":
		return seed(ctx, cfg, logger, args)
	case "jobs":
		return jobsCommand(ctx, cfg, args)
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func connect(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	pool, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	store := rbac.NewPGStore(pool)
	authz, err := app.NewAuthz(cfg, store, redisClient, metrics, logger)
	if err != nil {
		logger.Error("init authz", slog.Any("error", err))
		return 1
	}

	rbacService := rbac.NewService(store, rbac.WithInvalidator(authz.Invalidator))
	assignments := rbac.NewAssignmentManager(store, authz.Invalidator)
	rbacMiddleware := rbac.Middleware{Authz: authz.Authorizer, Users: store, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, assignments, authz.Authorizer, rbacMiddleware)

	sessionManager := shared.NewSessionManager(redisClient, "cms_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer)
	authService := auth.NewService(store)
	authHandler := auth.NewHandler(logger, authService, tokens, sessionManager, csrfManager, authz.Authorizer)

	inspector := asynq.NewInspector(redisOpts(cfg))
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
		CSRFManager:    csrfManager,
		Tokens:         tokens,
		AuthHandler:    authHandler,
		RBACHandler:    rbacHandler,
		RBACMiddleware: rbacMiddleware,
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
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("authz_cache", cfg.AuthzCache),
			slog.String("revoke_policy", cfg.RevokePolicy().String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		return 1
	}
	return 0
}

func migrate(cfg *app.Config, logger *slog.Logger, args []string) int {
	mgr, err := migrations.NewManager(cfg.PGDSN, logger)
	if err != nil {
		logger.Error("open migrations", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn("close migrations", slog.Any("error", err))
		}
	}()
	return cli.MigrateCommand(mgr, cli.MigrateOptions{Args: args})
}

func seed(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	username := fs.String("username", cfg.SeedAdminUsername, "admin username")
	email := fs.String("email", cfg.SeedAdminEmail, "admin email")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.AuthzCache == app.CacheRedis {
		if redisClient, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			return 1
		}
		defer redisClient.Close()
	}
	invalidator := app.WorkerInvalidator(cfg, redisClient)

	store := rbac.NewPGStore(pool)
	svc := rbac.NewService(store, rbac.WithInvalidator(invalidator))
	mgr := rbac.NewAssignmentManager(store, invalidator)
	seeder := func(ctx context.Context, opts rbac.SeedOptions) (rbac.SeedResult, error) {
		return rbac.Seed(ctx, store, svc, mgr, opts, logger)
	}
	return cli.SeedCommand(ctx, seeder, cli.SeedCommandOptions{Seed: rbac.SeedOptions{
		AdminUsername: *username,
		AdminEmail:    *email,
		AdminPassword: cfg.SeedAdminPassword,
	}})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON")
	requestedBy := fs.String("requested-by", "cli", "recorded in the task payload")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := jobs.NewClient(redisOpts(cfg))
	defer client.Close()
	inspector := asynq.NewInspector(redisOpts(cfg))
	defer inspector.Close()

	return cli.NewJobsCLI(client, inspector).Command(ctx, cli.JobsOptions{
		Args:        fs.Args(),
		RequestedBy: *requestedBy,
		JSONOutput:  *jsonOut,
	})
}
