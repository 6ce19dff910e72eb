package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/auditexport"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/auth"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/database"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/env"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/httpserver"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/metrics"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/objectstore"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/rego"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/statuscache"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/repo/sqlstore"
	"github.com/ThewitchASarz/sucrityflash/internal/service/policy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName, ":8080")
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	migrate, err := env.Bool("DATABASE_AUTO_MIGRATE", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	objCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	tokenCfg, err := token.ConfigFromEnv()
	if err == nil {
		err = tokenCfg.Validate()
	}
	if err != nil {
		logger.Error("invalid token config", "error", err)
		os.Exit(2)
	}
	policyCfg, err := policy.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid policy config", "error", err)
		os.Exit(2)
	}
	cacheCfg, err := statuscache.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid status cache config", "error", err)
		os.Exit(2)
	}
	exportCfg, err := auditexport.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid audit export config", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	codec, err := token.NewCodec(tokenCfg)
	if err != nil {
		logger.Error("invalid token keys", "error", err)
		os.Exit(2)
	}
	rules, err := rego.Load(ctx, policyCfg.RegoFile)
	if err != nil {
		logger.Error("invalid rego policy", "error", err)
		os.Exit(2)
	}
	catalog, err := policy.LoadCatalog(policyCfg.ToolCatalogFile)
	if err != nil {
		logger.Error("invalid tool catalog", "error", err)
		os.Exit(2)
	}

	exporter, exportCloser, err := auditexport.Open(exportCfg)
	if err != nil {
		logger.Error("audit export unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = exportCloser.Close() }()

	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store := sqlstore.New(db, sqlstore.DialectFor(dbCfg.Driver), sqlstore.WithExporter(exporter), sqlstore.WithLogger(logger))
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	objects, objectsCheck, err := openEvidenceStore(ctx, objCfg)
	if err != nil {
		logger.Error("evidence store unavailable", "error", err)
		os.Exit(1)
	}
	if objCfg.Memory {
		logger.Warn("evidence kept in memory; do not use outside development")
	}

	cache, closeCache, err := statuscache.Open(ctx, cacheCfg)
	if err != nil {
		logger.Error("status cache unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = closeCache() }()

	authenticator, oidcSvc, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth unavailable", "error", err)
		os.Exit(1)
	}

	engine := policy.NewEngine(policyCfg, store.Actions(), policy.WithRules(rules), policy.WithCatalog(catalog))
	svc := buildServices(dependencies{
		Logger:   logger,
		Store:    store,
		Objects:  objects,
		Engine:   engine,
		Codec:    codec,
		Cache:    cache,
		TokenTTL: tokenCfg.TTL,
		Metrics:  metrics.NewRegistry(),
	})

	authz := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Audit:         denyAuditor(store),
		SkipPrefixes:  []string{"/healthz", "/readyz", "/auth/"},
	}
	api := newGovernanceAPI(logger, svc, authz)

	handler := api.handler(func(mux *http.ServeMux) {
		mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
		mux.HandleFunc("GET /readyz", httpserver.Readyz(serviceName,
			httpserver.ReadinessCheck{Name: "database", Check: store.Ping},
			httpserver.ReadinessCheck{Name: "evidence_store", Timeout: 2 * time.Second, Check: objectsCheck},
			httpserver.ReadinessCheck{Name: "status_cache", Check: cache.Ping},
		))
		if oidcSvc != nil {
			registerOIDC(mux, logger, oidcSvc)
		}
	})

	logger.Info("governance api configured",
		"database_driver", dbCfg.Driver,
		"token_mode", tokenCfg.Mode,
		"auth_mode", authCfg.Mode,
		"policy_version", engine.Version(),
		"status_cache", cacheCfg.Addr != "",
		"audit_export", exportCfg.Format,
	)

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func openEvidenceStore(ctx context.Context, cfg objectstore.Config) (objectstore.EvidenceStore, func(context.Context) error, error) {
	if cfg.Memory {
		return objectstore.NewMemoryStore(cfg.BucketEvidence), func(context.Context) error { return nil }, nil
	}
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := objectstore.EnsureEvidenceBucket(ctx, client, cfg); err != nil {
		return nil, nil, err
	}
	check := func(ctx context.Context) error { return objectstore.CheckEvidenceBucket(ctx, client, cfg) }
	return objectstore.NewMinIOStore(client, cfg), check, nil
}

func registerOIDC(mux *http.ServeMux, logger *slog.Logger, svc *auth.OIDCService) {
	login, err := svc.LoginHandler()
	if err != nil {
		logger.Error("oidc login unavailable", "error", err)
		return
	}
	callback, err := svc.CallbackHandler()
	if err != nil {
		logger.Error("oidc callback unavailable", "error", err)
		return
	}
	mux.HandleFunc("GET /auth/login", login)
	mux.HandleFunc("GET /auth/callback", callback)
	mux.HandleFunc("POST /auth/logout", svc.LogoutHandler())
}
