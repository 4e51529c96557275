package repository

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"agent-brain-go/internal/pipeline"
	"agent-brain-go/pkg/log"
)

// RedisProgressPublisher 把入库进度以 JSON 发布到 Redis 频道，
// 前端可以订阅 ingest:progress:<sourceID> 获取实时进度。
// 发布失败只记日志：进度通知绝不能影响管道本身。
type RedisProgressPublisher struct {
	rdb *redis.Client
}

// NewRedisProgressPublisher 创建一个新的 RedisProgressPublisher 实例。
func NewRedisProgressPublisher(rdb *redis.Client) *RedisProgressPublisher {
	return &RedisProgressPublisher{rdb: rdb}
}

// Notify 实现 pipeline.ProgressSink。
func (p *RedisProgressPublisher) Notify(ctx context.Context, progress pipeline.Progress) {
	payload, err := json.Marshal(progress)
	if err != nil {
		log.Warnf("[ProgressPublisher] 序列化进度通知失败: %v", err)
		return
	}
	channel := "ingest:progress:" + progress.SourceID
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		log.Warnf("[ProgressPublisher] 发布进度通知失败 (channel=%s): %v", channel, err)
	}
}
