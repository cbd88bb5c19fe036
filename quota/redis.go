package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKeyPrefix = "dragonbot:quota"

// RedisStore keeps the quota record as a JSON string value under
// "<prefix>:<name>".
//
// Each Save is a plain SET, so two processes sharing a key can still
// race past the ceiling.
type RedisStore struct {
	cli redis.UniversalClient
	key string
}

func NewRedisStore(cli redis.UniversalClient, prefix string, name string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if name == "" {
		name = DefaultName
	}
	return &RedisStore{
		cli: cli,
		key: fmt.Sprintf("%s:%s", prefix, name),
	}
}

func (r *RedisStore) Key() string {
	return r.key
}

func (r *RedisStore) Load(ctx context.Context) (State, error) {
	var state State
	data, err := r.cli.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return state, ErrNoState
		}
		return state, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	if err = json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return state, nil
}

func (r *RedisStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err = r.cli.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}
