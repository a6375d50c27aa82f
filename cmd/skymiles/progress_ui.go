package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/skymiles/internal/app/run"
	"github.com/John-Robertt/skymiles/internal/config"
	"github.com/John-Robertt/skymiles/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的逐行进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：单行等待结果时间较长时也会定期输出一行，降低等待焦虑
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total  int
	done   int
	ok     int
	denied int
	fail   int

	current      string
	currentSince time.Time

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig, total int) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.total = total

	fmt.Fprintf(p.w, "[%s] skymiles run (%s)\n", now.Format("15:04:05"), eff.Variant)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  input: %s (rows=%d)\n", eff.Input, total)
	fmt.Fprintf(p.w, "  headless: %s\n", onOff(eff.Headless))
	fmt.Fprintf(p.w, "  max_attempts: %d (pause %s)\n", eff.MaxAttempts, eff.RetryPause)
	fmt.Fprintf(p.w, "  result_timeout: %s (action %s)\n", eff.ResultTimeout, eff.ActionTimeout)
	fmt.Fprintf(p.w, "  strict_fill: %s\n", onOff(eff.StrictFill))
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	if strings.TrimSpace(eff.BlockMarker) != "" {
		fmt.Fprintf(p.w, "  block_marker: %s\n", truncate(eff.BlockMarker, 120))
	}

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", eff.OutDir)
	fmt.Fprintf(p.w, "  keep_pages: %s\n", onOff(eff.KeepPages))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
	if total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnRowStart(idx, total int, row domain.InputRow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = row.Route()
	p.currentSince = time.Now()
}

func (p *progressUI) OnRowDone(idx, total int, res domain.RowResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx + 1
	p.total = total
	p.current = ""

	switch res.Outcome {
	case domain.OutcomeOK:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK records=%d%s (%s)\n",
			idx+1, total, res.Route, res.Records, formatFieldRetries(res.Fields), formatShortDuration(dur),
		)
	case domain.OutcomeAccessDenied:
		p.denied++
		fmt.Fprintf(p.w, "[%d/%d] %s DENIED (%s)\n", idx+1, total, res.Route, formatShortDuration(dur))
	case domain.OutcomeAborted:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s ABORTED %s\n", idx+1, total, res.Route, res.ErrorCode)
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s%s (%s)\n",
			idx+1, total, res.Route, res.ErrorCode, truncate(res.ErrorMsg, 160), formatFieldRetries(res.Fields), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一行完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopLocked()
	}
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "rows":
		fmt.Fprintf(p.w, "\n执行完成: rows=%d ok=%d access_denied=%d failed=%d aborted=%d records=%d (%s)\n",
			intField(fields, "rows"),
			intField(fields, "ok"),
			intField(fields, "access_denied"),
			intField(fields, "failed"),
			intField(fields, "aborted"),
			intField(fields, "records"),
			formatElapsed(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
	p.lastPrinted = time.Now()
}

// Stop 停止 keepalive ticker（可重复调用）。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *progressUI) stopLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					p.printKeepaliveLocked()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func (p *progressUI) printKeepaliveLocked() {
	cur := ""
	if p.current != "" {
		cur = fmt.Sprintf(" current=%s(%s)", p.current, formatShortDuration(time.Since(p.currentSince)))
	}
	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d denied=%d fail=%d%s elapsed=%s\n",
		p.done, p.total, p.ok, p.denied, p.fail, cur, formatElapsed(time.Since(p.startedAt)),
	)
	p.lastPrinted = time.Now()
}

// formatFieldRetries 只列出需要重试或最终失败的字段，例如 " retries=origin:2,tier:3!"。
func formatFieldRetries(fields []domain.FieldAttempt) string {
	var parts []string
	for _, f := range fields {
		if f.Attempts <= 1 && f.OK {
			continue
		}
		s := fmt.Sprintf("%s:%d", f.Field, f.Attempts)
		if !f.OK {
			s += "!"
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return ""
	}
	return " retries=" + strings.Join(parts, ",")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

// truncate 按字符（不是字节）截断，错误信息里常有中文。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
