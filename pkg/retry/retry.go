// Package retry 提供带指数退避的有界重试，所有外部调用都应经过它。
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"

	"agent-brain-go/pkg/log"
)

const maxJitter = 100 * time.Millisecond

// Options 控制重试行为。
type Options struct {
	// Retries 是首次尝试之外允许的重试次数，总尝试次数为 Retries+1。
	Retries int
	// BaseDelay 是退避的基础等待时间，第 n 次失败后等待 BaseDelay*2^n 加随机抖动。
	BaseDelay time.Duration
}

// DefaultOptions 返回管道默认的重试参数。
func DefaultOptions() Options {
	return Options{Retries: 3, BaseDelay: 400 * time.Millisecond}
}

// Do 执行 op，仅对瞬时的传输层错误进行重试。
// 每次尝试之前和每次退避等待之前都会检查 ctx；取消立即以 ctx.Err() 返回，
// 不计入重试预算。非瞬时错误直接向上传播，同样不消耗重试次数。
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 400 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 0 {
				log.Infof("[Retry] 操作在第 %d 次尝试后成功", attempt+1)
			}
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}

		// 最后一次尝试失败后不再等待
		if attempt == opts.Retries {
			break
		}

		delay := opts.BaseDelay*(1<<uint(attempt)) + time.Duration(rand.Int63n(int64(maxJitter)))
		log.Warnf("[Retry] 第 %d/%d 次尝试失败，%s 后重试: %v", attempt+1, opts.Retries+1, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// IsTransient 判断错误是否为可重试的瞬时传输层故障：
// 超时、连接被重置、连接中断、非预期的流结束。
// 业务与契约类错误一律视为不可重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// 调用方取消不属于故障，由 Do 的 ctx 检查单独处理
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}
