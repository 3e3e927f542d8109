// Command seed creates users and prints a bearer token for each, standing in
// for a registration flow during development and load testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/devaloi/giftline/internal/config"
	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/identity"
	"github.com/devaloi/giftline/internal/store"
)

func main() {
	prefix := flag.String("prefix", "user", "User id prefix")
	count := flag.Int("count", 10, "Number of users to create")
	flag.Parse()

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	ctx := context.Background()

	var (
		s   store.Store
		err error
	)
	if cfg.DatabaseURL != "" {
		s, err = store.NewPostgres(ctx, cfg.DatabaseURL)
	} else {
		s, err = store.NewSQLite(cfg.DBPath)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("store")
	}
	defer s.Close()

	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("JWT_SECRET is required to issue tokens")
	}
	issuer, err := identity.NewJWT([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("token issuer")
	}

	for i := 0; i < *count; i++ {
		id := fmt.Sprintf("%s_%d", *prefix, i)
		if _, err := s.GetUser(ctx, id); err != nil {
			if _, err := s.CreateUser(ctx, domain.User{ID: id, FirstName: fmt.Sprintf("User %d", i)}); err != nil {
				logger.Fatal().Err(err).Str("user", id).Msg("create user")
			}
		}
		token, err := issuer.IssueToken(id)
		if err != nil {
			logger.Fatal().Err(err).Str("user", id).Msg("issue token")
		}
		fmt.Printf("%s\t%s\n", id, token)
	}
}
