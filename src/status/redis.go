package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sofmeright/freightqueue/src/build"
)

// ErrNotFound is returned by Redis.Lookup for unknown or expired jobs.
var ErrNotFound = errors.New("status: build not found")

// RedisOptions configures the Redis publisher.
type RedisOptions struct {
	// KeyPrefix namespaces every key. Default: "freightqueue".
	KeyPrefix string
	// Channel receives every snapshot as JSON. Empty disables PUBLISH.
	Channel string
	// TTL bounds how long a job record is kept. Default: 24h.
	TTL time.Duration
}

// Redis stores the latest snapshot of each job under <prefix>:build:<id>,
// indexes jobs by queue time in <prefix>:builds:by_date and announces each
// transition on a pub/sub channel. All three happen in one transaction,
// which also drops index entries queued more than TTL ago.
type Redis struct {
	client redis.UniversalClient
	opts   RedisOptions
	now    func() time.Time
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "freightqueue"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Redis{client: client, opts: opts, now: time.Now}
}

func (r *Redis) buildKey(id string) string {
	return fmt.Sprintf("%s:build:%s", r.opts.KeyPrefix, id)
}

func (r *Redis) indexKey() string {
	return r.opts.KeyPrefix + ":builds:by_date"
}

// cutoff is the oldest index score still inside the TTL window.
func (r *Redis) cutoff() int64 {
	return r.now().Add(-r.opts.TTL).Unix()
}

func (r *Redis) Publish(ctx context.Context, s build.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("status: redis: encoding %s: %w", s.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.buildKey(s.ID), data, r.opts.TTL)
	pipe.ZAdd(ctx, r.indexKey(), &redis.Z{
		Score:  float64(s.QueuedAt.Unix()),
		Member: s.ID,
	})
	pipe.ZRemRangeByScore(ctx, r.indexKey(), "-inf", "("+strconv.FormatInt(r.cutoff(), 10))
	if r.opts.Channel != "" {
		pipe.Publish(ctx, r.opts.Channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("status: redis: storing %s: %w", s.ID, err)
	}
	return nil
}

// Lookup returns the last stored snapshot of a job.
func (r *Redis) Lookup(ctx context.Context, id string) (build.Snapshot, error) {
	var s build.Snapshot
	data, err := r.client.Get(ctx, r.buildKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return s, fmt.Errorf("status: redis: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("status: redis: decoding %s: %w", id, err)
	}
	return s, nil
}

// Recent returns up to limit stored snapshots, most recently queued first.
// Index entries whose record has expired are skipped.
func (r *Redis) Recent(ctx context.Context, limit int) ([]build.Snapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.client.ZRevRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min:   strconv.FormatInt(r.cutoff(), 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("status: redis: reading index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.buildKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("status: redis: reading builds: %w", err)
	}

	out := make([]build.Snapshot, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var snap build.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("status: redis: decoding %s: %w", ids[i], err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
