package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "volunteerhub:dedup:"

// Deduplicator 基于 Redis SETNX 的短期去重，窗口内同一个 key 只放行一次。
type Deduplicator struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDeduplicator 创建去重器，ttl <= 0 时使用 1 小时。
func NewDeduplicator(rdb *redis.Client, namespace string, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	prefix := defaultPrefix
	if namespace != "" {
		prefix += namespace + ":"
	}
	return &Deduplicator{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Claim 尝试占用 key。返回 true 表示首次出现，应继续处理；false 表示窗口内重复。
//
// 未配置 Redis 或 key 为空时总是放行。
func (d *Deduplicator) Claim(ctx context.Context, key string) (bool, error) {
	if d == nil || d.rdb == nil || key == "" {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, d.redisKey(key), "1", d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// Release 释放 key，使下一次 Claim 重新放行（用于处理失败后允许重试）。
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	if d == nil || d.rdb == nil || key == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, d.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func (d *Deduplicator) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return d.prefix + hex.EncodeToString(sum[:])
}
