package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "steward:sync:"

// Redis writes each namespace to one hash.
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Key returns the hash key for namespace.
func Key(namespace string) string { return keyPrefix + namespace }

func (r *Redis) Apply(ctx context.Context, namespace string, data map[string]string) error {
	key := Key(namespace)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(data) > 0 {
			pipe.HSet(ctx, key, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply namespace %s: %w", namespace, err)
	}
	return nil
}
