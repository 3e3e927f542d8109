// Package profile serves the user directory and manages avatars.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/files"
	"github.com/devaloi/giftline/internal/store"
)

// Service lists users and keeps their avatar file keys current.
type Service struct {
	store store.Store
	files files.Storage
	log   zerolog.Logger
}

// NewService creates a profile Service.
func NewService(s store.Store, fs files.Storage, logger zerolog.Logger) *Service {
	return &Service{
		store: s,
		files: fs,
		log:   logger.With().Str("component", "profile").Logger(),
	}
}

// UpdateAvatar uploads data as the user's new avatar and returns its URL.
// The previous file is removed on a best-effort basis.
func (s *Service) UpdateAvatar(ctx context.Context, userID string, data []byte) (domain.Result, error) {
	key, err := s.files.Upload(ctx, data)
	if err != nil {
		return businessOr(err)
	}

	prev, err := s.store.SetAvatar(ctx, userID, key)
	if err != nil {
		if derr := s.files.Delete(ctx, key); derr != nil {
			s.log.Warn().Err(derr).Str("file", key).Msg("remove orphaned upload")
		}
		return businessOr(err)
	}
	if prev != "" && prev != key {
		if err := s.files.Delete(ctx, prev); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Str("file", prev).Msg("remove previous avatar")
		}
	}

	url, err := s.files.URL(ctx, key)
	if err != nil {
		return domain.Result{}, fmt.Errorf("profile: %w", err)
	}
	res := domain.OK("your avatar has been updated")
	res.AvatarURL = url
	return res, nil
}

// ListUsers returns every user with their avatar URL resolved.
func (s *Service) ListUsers(ctx context.Context) (domain.Result, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return domain.Result{}, fmt.Errorf("profile: %w", err)
	}
	ps := lo.Map(users, func(u domain.User, _ int) domain.Participant { return u.Participant() })
	files.ResolveAvatars(ctx, s.files, s.log, ps)

	res := domain.OK("")
	res.Users = ps
	return res, nil
}

// GetUser returns one user with their avatar URL resolved.
func (s *Service) GetUser(ctx context.Context, userID string) (domain.Result, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return businessOr(err)
	}
	ps := []domain.Participant{u.Participant()}
	files.ResolveAvatars(ctx, s.files, s.log, ps)

	res := domain.OK("")
	res.User = &ps[0]
	return res, nil
}

func businessOr(err error) (domain.Result, error) {
	if domain.IsBusiness(err) {
		return domain.Fail(err), nil
	}
	return domain.Result{}, fmt.Errorf("profile: %w", err)
}
