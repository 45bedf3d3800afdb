// Command simples3 runs the S3-compatible object storage gateway: the
// public listener serving signed and anonymous S3 requests, and a separate
// admin listener (C14) serving bucket/credential management and metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openendpoint/simples3/internal/admin"
	"github.com/openendpoint/simples3/internal/api"
	"github.com/openendpoint/simples3/internal/auth"
	"github.com/openendpoint/simples3/internal/config"
	"github.com/openendpoint/simples3/internal/engine"
	"github.com/openendpoint/simples3/internal/lifecycle"
	"github.com/openendpoint/simples3/internal/metacache"
	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/metadata/boltstore"
	"github.com/openendpoint/simples3/internal/middleware"
	"github.com/openendpoint/simples3/internal/multipart"
	"github.com/openendpoint/simples3/internal/storage/flatfile"
	"github.com/openendpoint/simples3/internal/vhost"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "simples3:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	store, err := boltstore.Open(cfg.MetadataDir + "/simples3.db")
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()

	cache, err := metacache.Open(cfg.MetadataDir + "/listing-cache")
	if err != nil {
		return fmt.Errorf("open listing cache: %w", err)
	}
	defer cache.Close()

	backend, err := flatfile.New(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open storage backend: %w", err)
	}
	defer backend.Close()

	if ic, err := config.LoadInitConfig(cfg.InitConfigPath); err != nil {
		return fmt.Errorf("load init config: %w", err)
	} else if ic != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := config.ApplyInitConfig(ctx, ic, store); err != nil {
			return fmt.Errorf("apply init config: %w", err)
		}
	}

	eng := engine.New(store, backend, cache, cfg.Hostname, logger)

	verifier := auth.New(func(accessKeyID string) (string, bool) {
		cred, err := store.GetCredential(context.Background(), accessKeyID)
		if err != nil || !cred.Active {
			return "", false
		}
		return cred.SecretAccessKey, true
	})

	authMW := &middleware.Auth{
		Verifier:        verifier,
		Store:           store,
		AnonymousGlobal: cfg.AnonymousGlobal,
		Logger:          logger,
	}
	corsSource := middleware.CORSSource(func(bucket string) ([]metadata.CORSRule, bool) {
		rules, err := store.GetBucketCORS(context.Background(), bucket)
		if err != nil || len(rules) == 0 {
			return nil, false
		}
		return rules, true
	})
	rewriter := vhost.New(cfg.Hostname)

	apiRouter := &api.Router{
		Engine:            eng,
		Logger:            logger,
		MaxXMLBodySize:    cfg.MaxXMLBodySize,
		MaxPolicyBodySize: cfg.MaxPolicyBodySize,
		MaxObjectSize:     cfg.MaxObjectSize,
	}

	var publicHandler http.Handler = apiRouter
	publicHandler = authMW.Middleware(publicHandler)
	publicHandler = middleware.CORS(corsSource, cfg.CORSOriginList())(publicHandler)
	publicHandler = rewriter.Middleware(publicHandler)
	publicHandler = middleware.MaxBodySize(cfg.MaxObjectSize)(publicHandler)
	publicHandler = middleware.AccessLog(logger)(publicHandler)
	publicHandler = middleware.Recoverer(logger)(publicHandler)
	publicHandler = middleware.RequestID(publicHandler)

	lifecycleProcessor := lifecycle.NewProcessor(eng, cfg.LifecycleScanInterval, logger)
	reaper := multipart.NewReaper(eng, cfg.MultipartTTL, cfg.MultipartCleanupInterval, logger)
	gaugeRefresher := admin.NewGaugeRefresher(store, cfg.GaugeRefreshInterval, logger)

	lifecycleProcessor.Start()
	defer lifecycleProcessor.Stop()
	reaper.Start()
	defer reaper.Stop()
	gaugeRefresher.Start()
	defer gaugeRefresher.Stop()

	publicServer := &http.Server{
		Addr:    cfg.Bind,
		Handler: publicHandler,
	}

	servers := []*http.Server{publicServer}

	var adminServer *http.Server
	if cfg.AdminEnabled {
		adminRouter := admin.NewRouter(store, eng, logger, cfg.AdminToken)
		adminServer = &http.Server{
			Addr:    cfg.AdminBind,
			Handler: adminRouter,
		}
		servers = append(servers, adminServer)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Infow("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("%s: %w", srv.Addr, err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
	case err := <-errCh:
		logger.Errorw("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("graceful shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
	return nil
}

func buildLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	if cfg.Dev {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
