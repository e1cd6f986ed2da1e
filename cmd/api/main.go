//	@title			Grid Files API
//	@version		1.0
//	@description	File storage for grid documents: uploads and access URLs over a local filesystem or S3-compatible backend.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/gridfiles/service/internal/config"
	"github.com/gridfiles/service/internal/file"
	appMiddleware "github.com/gridfiles/service/internal/middleware"
	"github.com/gridfiles/service/internal/storage"

	_ "github.com/gridfiles/service/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(cfg)

	store, err := storage.New(context.Background(), storageConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("storage_type", cfg.StorageType).Msg("storage init failed")
	}
	uploadMiddleware, err := store.UploadMiddleware()
	if err != nil {
		log.Fatal().Err(err).Msg("storage upload middleware")
	}

	// Wire dependencies: storage → service → handler
	fileSvc := file.NewService(store)
	fileHandler := file.NewHandler(fileSvc)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI, served at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Direct and presigned URLs of the local backend point here.
	if fileServer, ok := store.FileServer(); ok {
		r.Mount("/storage", fileServer)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))
			r.Get("/url", fileHandler.GetURL)
			r.Get("/presigned-url", fileHandler.GetPresignedURL)
			r.Post("/", fileHandler.Upload)
			r.Delete("/", fileHandler.Delete)
			r.With(uploadMiddleware).Post("/upload", fileHandler.Uploaded)
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("env", cfg.AppEnv).
			Str("storage", string(store.Kind())).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Kind:           cfg.StorageType,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Local: storage.LocalConfig{
			Root:          cfg.StorageRoot,
			PublicBase:    cfg.StoragePublicBase,
			SigningSecret: cfg.StorageSigningSecret,
			PresignExpiry: cfg.PresignExpiry,
			Authorizer:    storage.JWTAuthorizer{Secret: cfg.JWTSecret},
		},
		Remote: storage.MinioConfig{
			Endpoint:      cfg.StorageEndpoint,
			AccessKey:     cfg.StorageAccessKey,
			SecretKey:     cfg.StorageSecretKey,
			Bucket:        cfg.StorageBucket,
			Region:        cfg.StorageRegion,
			UseSSL:        cfg.StorageUseSSL,
			PresignExpiry: cfg.PresignExpiry,
			Timeout:       cfg.StorageTimeout,
		},
	}
}
