package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// ErrClosed 表示浏览器进程/标签页已经不可用（被用户关闭或崩溃）。
var ErrClosed = errors.New("browser: session closed")

// Session 是单个共享标签页的 chromedp 封装。
//
// 约束：
//   - 只允许串行使用（批处理核心保证这一点）；mu 仅保护事件回调写入的文档状态
//   - 每个方法接收调用方 ctx：调用方的截止时间/取消会传递给 chromedp 操作，
//     但不会取消浏览器本身
type Session struct {
	ctx         context.Context // chromedp 标签页上下文
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	navTimeout time.Duration

	mu        sync.Mutex
	mainFrame cdp.FrameID
	docStatus int64
	docURL    string
}

// Open 启动浏览器并打开一个标签页。
func Open(parent context.Context, o Options) (*Session, error) {
	opts, err := allocatorOptions(o)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
	}))

	s := &Session{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		navTimeout:  o.NavTimeout,
	}
	if s.navTimeout <= 0 {
		s.navTimeout = defaultNavTimeout
	}

	// 记录主文档的 HTTP 状态：拦截页通常以 403/429 返回，这是比 DOM 启发式更稳定的信号。
	// iframe（广告、统计）的文档响应不算。
	chromedp.ListenTarget(ctx, func(ev any) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if status, url, ok := documentResponse(e, s.mainFrame); ok {
			s.docStatus, s.docURL = status, url
		}
	})

	// 第一次 Run 才真正启动浏览器。
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("启动浏览器失败：%w", err)
	}
	// 页面 target 的主 frame id 与 target id 相同。
	if c := chromedp.FromContext(ctx); c != nil && c.Target != nil {
		s.mu.Lock()
		s.mainFrame = cdp.FrameID(c.Target.TargetID)
		s.mu.Unlock()
	}
	return s, nil
}

// documentResponse 只接受主 frame 的文档响应。
func documentResponse(e *network.EventResponseReceived, main cdp.FrameID) (int64, string, bool) {
	if e == nil || e.Response == nil || e.Type != network.ResourceTypeDocument {
		return 0, "", false
	}
	if main == "" || e.FrameID != main {
		return 0, "", false
	}
	return e.Response.Status, e.Response.URL, true
}

// Close 关闭标签页与浏览器进程（可重复调用）。
func (s *Session) Close() error {
	if s == nil || s.cancel == nil {
		return nil
	}
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Closed 报告会话是否已不可用。
func (s *Session) Closed() bool { return s.ctx.Err() != nil }

// DocumentStatus 返回最近一次主文档响应的 HTTP 状态码与 URL（未知时为 0）。
func (s *Session) DocumentStatus() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.docStatus), s.docURL
}

// Navigate 导航到 url；受 NavTimeout 与调用方 ctx 共同约束。
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.docStatus, s.docURL = 0, ""
	s.mu.Unlock()

	nctx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()
	return s.run(nctx, chromedp.Navigate(url))
}

func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
}

// ClickIfPresent 元素存在时点击并返回 true；不存在时不等待，直接返回 false。
func (s *Session) ClickIfPresent(ctx context.Context, sel string) (bool, error) {
	js := fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el) return false; el.click(); return true; })()`, jsString(sel))
	var ok bool
	err := s.run(ctx, chromedp.Evaluate(js, &ok))
	return ok, err
}

// Value 返回 input 的当前值。
func (s *Session) Value(ctx context.Context, sel string) (string, error) {
	var v string
	err := s.run(ctx, chromedp.Value(sel, &v, chromedp.ByQuery))
	return v, err
}

// Checked 返回 radio/checkbox 的勾选状态；元素不存在时返回 false。
func (s *Session) Checked(ctx context.Context, sel string) (bool, error) {
	js := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return !!(el && el.checked); })()`, jsString(sel))
	var ok bool
	err := s.run(ctx, chromedp.Evaluate(js, &ok))
	return ok, err
}

// TypeAndEnter 清空输入框、逐字输入 text，停顿 settle 后回车确认（combobox 需要时间加载建议列表）。
func (s *Session) TypeAndEnter(ctx context.Context, sel, text string, settle time.Duration) error {
	return s.run(ctx,
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery),
	)
}

// ClickText 在 itemSel 匹配的元素中点击文本完全相等的那一个；没有匹配时返回 false。
func (s *Session) ClickText(ctx context.Context, itemSel, text string) (bool, error) {
	js := fmt.Sprintf(`(() => {
  const want = %s;
  const el = Array.from(document.querySelectorAll(%s)).find(e => e.textContent.trim() === want);
  if (!el) return false;
  el.click();
  return true;
})()`, jsString(text), jsString(itemSel))
	var ok bool
	err := s.run(ctx, chromedp.Evaluate(js, &ok))
	return ok, err
}

// HTML 返回当前文档的完整 HTML（交给 goquery 做纯函数解析）。
func (s *Session) HTML(ctx context.Context) (string, error) {
	var h string
	err := s.run(ctx, chromedp.OuterHTML("html", &h, chromedp.ByQuery))
	return h, err
}

// Screenshot 返回整页截图（PNG）。
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

// run 在标签页上下文中执行 actions，同时服从调用方 ctx 的截止时间与取消。
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	runCtx, cancel := runContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil || isTargetGone(err) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// 调用方超时/取消：返回 ctx 错误，让上层能用 errors.Is 识别 DeadlineExceeded。
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// runContext 从标签页上下文派生一次调用的上下文：继承 caller 的截止时间，caller 取消时随之取消。
// 返回的 cancel 必须调用，它同时解除对 caller 的监听。
func runContext(tab, caller context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := caller.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(tab, dl)
	} else {
		runCtx, cancel = context.WithCancel(tab)
	}
	stop := context.AfterFunc(caller, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func isTargetGone(err error) bool {
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "target closed") ||
		strings.Contains(low, "no target with given id") ||
		strings.Contains(low, "websocket: close")
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
