package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	logx "ebbinghaus/pkg/logx"
)

type redisLog struct {
	client *redis.Client
	key    string
	max    int
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (DeliveryLog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	log.Info("delivery log in redis", logx.String("addr", cfg.RedisAddr), logx.String("key", cfg.Key))
	return newRedisLog(client, cfg.Key, cfg.MaxEntries, log), nil
}

func newRedisLog(client *redis.Client, key string, max int, log logx.Logger) *redisLog {
	return &redisLog{client: client, key: key, max: max, log: log}
}

// Members are the JSON delivery; the score is the delivery time.
func (r *redisLog) Record(ctx context.Context, d Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.key, redis.Z{Score: float64(d.At.UnixMilli()), Member: string(b)})
	// keep the newest max entries
	pipe.ZRemRangeByRank(ctx, r.key, 0, int64(-r.max-1))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisLog) Recent(ctx context.Context, page, pageSize int) ([]Delivery, int64, error) {
	total, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return nil, 0, err
	}
	start, stop, ok := pageBounds(page, pageSize)
	if !ok || int64(start) >= total {
		return []Delivery{}, total, nil
	}
	members, err := r.client.ZRevRange(ctx, r.key, int64(start), int64(stop)).Result()
	if err != nil {
		return nil, 0, err
	}
	out := make([]Delivery, 0, len(members))
	for _, m := range members {
		var d Delivery
		if err := json.Unmarshal([]byte(m), &d); err != nil {
			r.log.Warn("skipping malformed delivery entry", logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out, total, nil
}

func (r *redisLog) Close() error { return r.client.Close() }
