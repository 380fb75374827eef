package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"studyhall/internal/attendance"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// tallyTTL keeps a day's counters around long enough for the nightly export.
const tallyTTL = 72 * time.Hour

func tallyKey(day attendance.Day) string {
	return "studyhall:tally:" + string(day)
}

// IncrTally bumps the per-day counter for action.
func (r *Redis) IncrTally(ctx context.Context, day attendance.Day, action attendance.Action) error {
	pipe := r.Client.TxPipeline()
	pipe.HIncrBy(ctx, tallyKey(day), string(action), 1)
	pipe.Expire(ctx, tallyKey(day), tallyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Tally returns the per-action counters for day.
func (r *Redis) Tally(ctx context.Context, day attendance.Day) (map[attendance.Action]int64, error) {
	raw, err := r.Client.HGetAll(ctx, tallyKey(day)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[attendance.Action]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tally %s=%q: %w", k, v, err)
		}
		out[attendance.Action(k)] = n
	}
	return out, nil
}
