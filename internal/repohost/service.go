package repohost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskroom/api/internal/logging"
)

const metaKeyPrefix = "repometa:"

// RepoFetcher is the provider-facing slice the service needs.
type RepoFetcher interface {
	GetRepo(ctx context.Context, fullName string) (RepoMeta, error)
}

// Service serves repository metadata through a Redis read-through
// cache: hits come straight from Redis, misses go to the provider and
// are written back with a TTL so a hot project page does not hammer
// the hosting API.
type Service struct {
	fetcher RepoFetcher
	rdb     *redis.Client
	ttl     time.Duration
}

func NewService(fetcher RepoFetcher, rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{fetcher: fetcher, rdb: rdb, ttl: ttl}
}

// GetRepoMeta returns cached metadata for "owner/name", fetching and
// caching it on a miss. Cache failures degrade to a direct fetch.
func (s *Service) GetRepoMeta(ctx context.Context, fullName string) (RepoMeta, error) {
	key := metaKeyPrefix + fullName

	payload, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var meta RepoMeta
		if err := json.Unmarshal(payload, &meta); err == nil {
			return meta, nil
		}
		// A corrupt entry falls through to a refetch.
	case !errors.Is(err, redis.Nil):
		logging.L().Warn().Err(err).Str("repo", fullName).Msg("repo meta cache read failed")
	}

	meta, err := s.fetcher.GetRepo(ctx, fullName)
	if err != nil {
		return RepoMeta{}, err
	}

	if data, err := json.Marshal(meta); err == nil {
		if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
			logging.L().Warn().Err(err).Str("repo", fullName).Msg("repo meta cache write failed")
		}
	}
	return meta, nil
}

// InvalidateRepoMeta drops the cached entry, forcing the next read to
// hit the provider. Used when a project relinks its repository.
func (s *Service) InvalidateRepoMeta(ctx context.Context, fullName string) error {
	if err := s.rdb.Del(ctx, metaKeyPrefix+fullName).Err(); err != nil {
		return fmt.Errorf("invalidate repo meta %s: %w", fullName, err)
	}
	return nil
}
