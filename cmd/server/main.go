package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/devaloi/giftline/internal/chat"
	"github.com/devaloi/giftline/internal/config"
	"github.com/devaloi/giftline/internal/files"
	"github.com/devaloi/giftline/internal/handler"
	"github.com/devaloi/giftline/internal/hub"
	"github.com/devaloi/giftline/internal/identity"
	"github.com/devaloi/giftline/internal/profile"
	"github.com/devaloi/giftline/internal/store"
)

const devSecret = "giftline-development-secret"

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("store")
	}
	defer s.Close()

	secret := cfg.JWTSecret
	if secret == "" {
		if !cfg.IsDevelopment() {
			logger.Fatal().Msg("JWT_SECRET is required outside development")
		}
		logger.Warn().Msg("JWT_SECRET not set, using the development secret")
		secret = devSecret
	}
	auth, err := identity.NewJWT([]byte(secret), cfg.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("authenticator")
	}

	fs, err := files.NewDisk(cfg.FilesDir, cfg.FilesBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("file storage")
	}

	var svc *chat.Service
	h := hub.New(logger, hub.AuthorizerFunc(func(ctx context.Context, userID, conversationID string) error {
		return svc.CanJoin(ctx, userID, conversationID)
	}), cfg.SendBuffer)
	go h.Run()
	defer h.Stop()

	var pub chat.Publisher = h
	if cfg.RedisURL != "" {
		rp, err := hub.NewRedisPublisher(ctx, cfg.RedisURL, h, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rp.Close()
		go func() {
			if err := rp.Relay(ctx); err != nil {
				logger.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		pub = rp
		logger.Info().Msg("fanning out room updates through Redis")
	}

	svc = chat.NewService(s, pub, fs, chat.Options{EnforceMembership: cfg.EnforceMembership}, logger)
	api := handler.New(svc, profile.NewService(s, fs, logger), h, s, auth, handler.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		SendBuffer:       cfg.SendBuffer,
		FilesDir:         fs.Dir(),
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(logger, api),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("giftline listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	}
	return store.NewSQLite(cfg.DBPath)
}
