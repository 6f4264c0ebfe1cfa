package cache

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/radosmigrate/internal/config"
)

const (
	keyPrefix       = "radosmigrate"
	defaultCacheTTL = 24 * time.Hour
	scanBatchSize   = 100

	pingTimeout = 5 * time.Second
	// Progress writes sit on the copy path; a stalled Redis must not hold workers.
	commandTimeout = time.Second
)

// redisStore is the connection shared by the Redis backed caches.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func openRedis(cfg config.CacheConfig) (redisStore, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return redisStore{}, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return redisStore{}, fmt.Errorf("redis ping %s failed: %w", opts.Addr, err)
	}

	ttl := time.Duration(cfg.ProgressTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return redisStore{client: client, ttl: ttl}, nil
}

func redisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.RedisURL != "" {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     net.JoinHostPort(cmp.Or(cfg.RedisHost, "127.0.0.1"), cmp.Or(cfg.RedisPort, "6379")),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
	}
	opts.ReadTimeout = commandTimeout
	opts.WriteTimeout = commandTimeout
	return opts, nil
}

// clearPrefix unlinks every key under prefix in scan sized batches.
func (s redisStore) clearPrefix(ctx context.Context, prefix string) error {
	it := s.client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
	batch := make([]string, 0, scanBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis unlink %s*: %w", prefix, err)
		}
		batch = batch[:0]
		return nil
	}

	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) == scanBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return flush()
}

func (s redisStore) Close() error {
	return s.client.Close()
}
