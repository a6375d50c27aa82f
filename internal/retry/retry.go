package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultPause    = 500 * time.Millisecond
)

// Policy 是有界重试策略：固定次数 + 固定间隔，不做指数退避。
type Policy struct {
	// Attempts 是总尝试次数（含首次）。<1 时按 1 处理。
	Attempts int
	// Pause 是两次尝试之间的固定等待。
	Pause time.Duration
}

// 通过可替换的函数指针，让测试不必真的 sleep。
var sleepFunc = sleepCtx

// Do 最多调用 fn p.Attempts 次，直到 fn 返回 nil。
//
// 返回值 attempts 为实际调用次数；err 为最后一次失败（全部成功时为 nil）。
// fn 返回 Permanent 包装的错误时立即停止，不再重试。
// ctx 取消时立即返回 ctx 错误（等待期间同样响应取消）。
func Do(ctx context.Context, p Policy, fn func(attempt int) error) (attempts int, err error) {
	max := p.Attempts
	if max < 1 {
		max = 1
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if e := ctx.Err(); e != nil {
			return attempts, e
		}

		attempts = attempt
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempts, nil
		}
		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return attempts, pe.err
		}
		if attempt == max {
			break
		}
		if e := sleepFunc(ctx, p.Pause); e != nil {
			return attempts, fmt.Errorf("重试等待被取消：%w", e)
		}
	}
	return attempts, lastErr
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不应再重试的错误（例如浏览器会话已关闭）。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
