package state

import (
	"context"

	"github.com/cfoust/lockstep/pkg/config"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v9"
)

const (
	MATCHES_KEY         = "lockstep:matches"
	DEFAULT_MAX_MATCHES = 100
)

// RedisStore keeps a capped list of CBOR-encoded matches, newest first.
type RedisStore struct {
	Client *redis.Client
	max    int64
}

func NewRedisStore(settings config.RedisSettings) *RedisStore {
	max := settings.MaxMatches
	if max <= 0 {
		max = DEFAULT_MAX_MATCHES
	}

	return &RedisStore{
		Client: redis.NewClient(&redis.Options{
			Addr:     settings.Address,
			Password: settings.Password,
			DB:       settings.DB,
		}),
		max: max,
	}
}

func (r *RedisStore) SaveMatch(ctx context.Context, match *Match) error {
	data, err := cbor.Marshal(match)
	if err != nil {
		return err
	}

	_, err = r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, MATCHES_KEY, data)
		pipe.LTrim(ctx, MATCHES_KEY, 0, r.max-1)
		return nil
	})
	return err
}

func (r *RedisStore) RecentMatches(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}

	values, err := r.Client.LRange(ctx, MATCHES_KEY, 0, int64(limit)-1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(values))
	for _, value := range values {
		var match Match
		err := cbor.Unmarshal([]byte(value), &match)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (r *RedisStore) Close() error {
	return r.Client.Close()
}
