package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// IngestLock 是按知识源粒度的建议锁，防止同一 source 被并发入库。
// 不同 source 之间互不影响。
type IngestLock interface {
	// Acquire 尝试获取锁，已被占用时返回 false。
	Acquire(ctx context.Context, sourceID string) (bool, error)
	Release(ctx context.Context, sourceID string) error
}

type redisIngestLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIngestLock 创建一个基于 Redis SETNX 的入库锁。
// TTL 兜底：持锁进程崩溃后锁在 TTL 到期时自动释放。
func NewIngestLock(rdb *redis.Client, ttl time.Duration) IngestLock {
	return &redisIngestLock{rdb: rdb, ttl: ttl}
}

func (l *redisIngestLock) key(sourceID string) string {
	return "ingest:lock:" + sourceID
}

// Acquire 尝试以 SETNX 语义占锁。
func (l *redisIngestLock) Acquire(ctx context.Context, sourceID string) (bool, error) {
	return l.rdb.SetNX(ctx, l.key(sourceID), time.Now().Unix(), l.ttl).Result()
}

// Release 释放锁。
func (l *redisIngestLock) Release(ctx context.Context, sourceID string) error {
	return l.rdb.Del(ctx, l.key(sourceID)).Err()
}
