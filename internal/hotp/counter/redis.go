package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"steward/pkg/platform/sentinel"
)

const keyPrefix = "steward:hotp:counter:"

// advanceScript sets KEYS[1] to ARGV[2] only if it currently holds ARGV[1]
// (a missing key counts as 0). Returns 1 on success, 0 on mismatch.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then cur = '0' end
if cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// Redis keeps counters in Redis so several processes can share credentials.
type Redis struct {
	client Cmdable
}

// Cmdable is the client surface the store needs.
type Cmdable interface {
	redis.Scripter
	redis.StringCmdable
}

// NewRedis creates a Redis-backed counter store.
func NewRedis(client Cmdable) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Load(ctx context.Context, id string) (uint64, error) {
	v, err := r.client.Get(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load counter %s: %w", id, err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %s: %w", id, sentinel.ErrCorrupted)
	}
	return n, nil
}

func (r *Redis) Advance(ctx context.Context, id string, expected, next uint64) error {
	if err := checkMonotonic(expected, next); err != nil {
		return err
	}
	res, err := advanceScript.Run(ctx, r.client, []string{keyPrefix + id},
		strconv.FormatUint(expected, 10), strconv.FormatUint(next, 10)).Int()
	if err != nil {
		return fmt.Errorf("advance counter %s: %w", id, err)
	}
	if res != 1 {
		return fmt.Errorf("counter %s moved past %d: %w", id, expected, sentinel.ErrConflict)
	}
	return nil
}
