package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gemcast/internal/agents"
	"gemcast/internal/app"
	"gemcast/internal/auth"
	"gemcast/internal/blob"
	"gemcast/internal/config"
	"gemcast/internal/gitrepo"
	"gemcast/internal/search"
	"gemcast/internal/session"
	"gemcast/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Environment == config.EnvDevelopment {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	if driver, _ := store.DriverName(cfg.DatabaseDriver); driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
			log.Fatalf("failed to create database dir: %v", err)
		}
	}
	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, store.MigrationsDir(cfg.MigrationsDir, db)); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	logger.Info("database ready", "driver", cfg.DatabaseDriver, "dialect", store.Dialect(db))

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}

	registry, err := agents.Load()
	if err != nil {
		log.Fatalf("agent registry: %v", err)
	}
	provider, err := registry.Provider(agents.ProviderMode(cfg.ProviderMode))
	if err != nil {
		log.Fatalf("model provider: %v", err)
	}

	dataStore := store.NewSQLStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewProjection(dataStore), logger)

	deps := app.Dependencies{
		Store:    dataStore,
		Agents:   registry,
		Provider: provider,
		Search:   searchService,
		History:  gitrepo.New(cfg.HistoryDir),
		Logger:   logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		logger.Info("refresh sessions in redis")
	} else {
		deps.Sessions = dataStore
		logger.Info("refresh sessions in database")
	}

	verifiers := auth.Chain{auth.HMACVerifier{Secret: []byte(cfg.JWTSecret)}}
	if strings.TrimSpace(cfg.JWKSURL) != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("jwks verifier: %v", err)
		}
		verifiers = append(verifiers, jwks)
	}
	deps.Verifier = verifiers

	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		blobs, err := blob.NewMinio(ctx, blob.MinioConfig{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			UseSSL:    cfg.BlobUseSSL,
			PublicURL: cfg.BlobPublicURL,
		})
		if err != nil {
			log.Fatalf("blob storage: %v", err)
		}
		deps.Blobs = blobs
	} else {
		logger.Warn("BLOB_ENDPOINT not set, uploads are returned as data URLs")
	}

	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("gemcast api listening", "addr", cfg.Addr, "environment", cfg.Environment, "provider", provider.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	service.Wait()
}
