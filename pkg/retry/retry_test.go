package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-brain-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	m.Run()
}

func transientErr() error {
	return fmt.Errorf("写入失败: %w", syscall.ECONNRESET)
}

func testOpts() Options {
	return Options{Retries: 3, BaseDelay: time.Millisecond}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	}, testOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_TransientFailuresThenSuccess(t *testing.T) {
	// 失败 k 次后成功，应恰好尝试 k+1 次
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return transientErr()
		}
		return nil
	}, testOpts())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	// 持续失败时应尝试 Retries+1 次并返回最后一个错误
	attempts := 0
	lastErr := transientErr()
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return lastErr
	}, testOpts())

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.ErrorIs(t, err, syscall.ECONNRESET)
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	attempts := 0
	contractErr := errors.New("向量数量不匹配")
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return contractErr
	}, testOpts())

	require.Error(t, err)
	assert.Equal(t, contractErr, err)
	assert.Equal(t, 1, attempts, "契约错误不应消耗重试预算")
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		return nil
	}, testOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts, "取消后不应再调用操作")
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return transientErr()
	}, Options{Retries: 5, BaseDelay: time.Second})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts, "退避等待中观察到取消应立即返回")
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"连接重置", fmt.Errorf("x: %w", syscall.ECONNRESET), true},
		{"连接中断", fmt.Errorf("x: %w", syscall.ECONNABORTED), true},
		{"管道破裂", fmt.Errorf("x: %w", syscall.EPIPE), true},
		{"非预期EOF", io.ErrUnexpectedEOF, true},
		{"超时", context.DeadlineExceeded, true},
		{"取消", context.Canceled, false},
		{"业务错误", errors.New("record not found"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
