package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"taskroom/api/internal/app"
	"taskroom/api/internal/chat"
	"taskroom/api/internal/config"
	"taskroom/api/internal/email"
	"taskroom/api/internal/export"
	"taskroom/api/internal/files"
	"taskroom/api/internal/logging"
	"taskroom/api/internal/repohost"
	"taskroom/api/internal/search"
	"taskroom/api/internal/session"
	"taskroom/api/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "taskroom-api"})
	log := logging.L()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer sessions.Close()

	service := app.New(cfg, dataStore, sessions)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	cacheClient := redis.NewClient(redisOpts)
	defer cacheClient.Close()
	github := repohost.NewGitHubClient(cfg.GitHubAPIURL, cfg.GitHubToken)
	service = service.WithRepoHost(repohost.NewService(github, cacheClient, cfg.RepoCacheTTL))

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}
	service = service.WithSearch(searchService)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileStore, err := files.New(files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object storage connection failed")
		}
		if err := fileStore.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Msg("object storage bucket check failed")
		}
		service = service.WithFiles(fileStore)
	} else {
		log.Info().Msg("attachments disabled, no object storage endpoint configured")
	}

	service = service.WithExporter(export.NewService(dataStore))

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		service = service.WithNotifier(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}))
	}

	hub := chat.NewHub()
	chatService := chat.NewService(hub, dataStore, dataStore, chat.Config{
		RateWindow: cfg.ChatRateWindow,
		RateMax:    cfg.ChatRateMax,
		TypingTTL:  cfg.TypingTTL,
	}).WithIndex(searchService)
	chatHandler := chat.NewHandler(hub, chatService)

	httpServer := app.NewHTTPServer(service, chatHandler, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("taskroom api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
