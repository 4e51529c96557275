package pipeline

import (
	"context"

	"agent-brain-go/pkg/log"
)

// Progress 是入库过程中的一次进度通知。
type Progress struct {
	SourceID string `json:"sourceId"`
	Message  string `json:"message,omitempty"`
	// Percent 取值 0-100，-1 表示本次通知不携带进度
	Percent int    `json:"percent"`
	Error   string `json:"error,omitempty"`
}

// ProgressSink 接收进度通知。管道必须能容忍 no-op 实现。
type ProgressSink interface {
	Notify(ctx context.Context, p Progress)
}

// NopSink 丢弃所有进度通知。
type NopSink struct{}

func (NopSink) Notify(context.Context, Progress) {}

// LogSink 把进度通知写入日志。
type LogSink struct{}

func (LogSink) Notify(_ context.Context, p Progress) {
	if p.Error != "" {
		log.Warnf("[Progress] source=%s error=%s", p.SourceID, p.Error)
		return
	}
	log.Infof("[Progress] source=%s percent=%d %s", p.SourceID, p.Percent, p.Message)
}
