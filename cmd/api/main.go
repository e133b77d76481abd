package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"syncspace/api/internal/app"
	"syncspace/api/internal/blob"
	"syncspace/api/internal/config"
	"syncspace/api/internal/email"
	"syncspace/api/internal/realtime"
	"syncspace/api/internal/search"
	"syncspace/api/internal/session"
	"syncspace/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var fileStore *blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileStore, err = blob.NewStore(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		log.Printf("File storage enabled (bucket %s)", cfg.MinioBucket)
	} else {
		log.Printf("File storage disabled (no MINIO_ENDPOINT)")
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	hub := realtime.NewHub()

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("Redis unavailable, using PostgreSQL for refresh tokens: %v", err)
			service = app.New(cfg, dataStore, session.NewPgStore(dataStore), hub, emailService, searchService, fileStore)
		} else {
			log.Printf("Using Redis for refresh token storage")
			defer redisStore.Close()
			service = app.New(cfg, dataStore, redisStore, hub, emailService, searchService, fileStore)
		}
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, session.NewPgStore(dataStore), hub, emailService, searchService, fileStore)
	}

	docSync := realtime.NewDocSync(hub, service.DocumentSaver(), cfg.AutosaveDebounce)
	wsHandler := realtime.Serve(hub, service.RealtimeHandlers(docSync), func(ctx context.Context, token string) (realtime.Identity, error) {
		sess, err := service.SessionFromToken(ctx, token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{UserID: sess.UserID, Name: sess.UserName, Role: sess.Role}, nil
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, wsHandler)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("SyncSpace API listening on %s", cfg.Addr)
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
		log.Printf("shutdown error: %v", err)
	}
	// Write out any document edits still inside the debounce window.
	docSync.Flush(shutdownCtx)
}
