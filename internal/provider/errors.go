package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSessionClosed 表示浏览器会话已被外部关闭；这是整批致命错误。
var ErrSessionClosed = errors.New("浏览器会话已关闭")

// IsSessionClosed 判断 err 是否意味着会话丢失。
func IsSessionClosed(err error) bool { return errors.Is(err, ErrSessionClosed) }

// FillError 表示某个字段在用尽重试次数后仍未包含期望值。
type FillError struct {
	Field    string
	Want     string
	Got      string
	Attempts int
	Err      error // 最后一次底层错误（可能为 nil：输入成功但回读不匹配）
}

func (e *FillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("字段 %s 填写失败（%d 次尝试）：%v", e.Field, e.Attempts, e.Err)
	}
	return fmt.Sprintf("字段 %s 填写失败（%d 次尝试）：期望包含 %q，实际 %q", e.Field, e.Attempts, e.Want, e.Got)
}

func (e *FillError) Unwrap() error { return e.Err }

// TimeoutError 表示某个页面阶段没有在时限内完成。
// Stage 为 "await" 时表示结果页与拦截页都没有出现。
type TimeoutError struct {
	Stage string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Stage == "await" {
		return fmt.Sprintf("%s 超时（%s 内既未出现结果也未出现拦截页）", e.Stage, e.After)
	}
	return fmt.Sprintf("%s 超时（%s 内未完成）", e.Stage, e.After)
}

// BlockedError 表示页面被站点引导到了“拦截/验证”页面。
// 产品约束：不尝试绕过，按 Access Denied 记录为数据。
type BlockedError struct {
	URL    string
	Reason string // 例如 "HTTP 403" / "marker"
}

func (e *BlockedError) Error() string {
	if e == nil || strings.TrimSpace(e.Reason) == "" {
		return "blocked"
	}
	return "blocked: " + strings.TrimSpace(e.Reason)
}

// Error 是 provider 阶段的可追溯错误。
// 上层据此把失败归类为 reset_failed / submit_failed / extract_failed 等。
type Error struct {
	Provider string
	Stage    string // "reset" / "fill" / "submit" / "await" / "extract" / "restore"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
