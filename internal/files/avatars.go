package files

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/devaloi/giftline/internal/domain"
)

// ResolveAvatars fills AvatarURL on every participant in groups, resolving
// each distinct key once. Missing keys and failed lookups resolve to "".
// A nil Storage leaves every URL empty.
func ResolveAvatars(ctx context.Context, s Storage, logger zerolog.Logger, groups ...[]domain.Participant) {
	all := lo.Flatten(groups)
	keys := lo.Uniq(lo.FilterMap(all, func(p domain.Participant, _ int) (string, bool) {
		return p.AvatarFileKey, p.AvatarFileKey != ""
	}))

	urls := make(map[string]string, len(keys))
	if s != nil {
		for _, key := range keys {
			u, err := s.URL(ctx, key)
			if err != nil {
				logger.Warn().Err(err).Str("file", key).Msg("avatar url")
				continue
			}
			urls[key] = u
		}
	}

	for _, ps := range groups {
		for i := range ps {
			ps[i].AvatarURL = urls[ps[i].AvatarFileKey]
		}
	}
}
