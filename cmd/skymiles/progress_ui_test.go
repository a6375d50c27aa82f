package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/skymiles/internal/config"
	"github.com/John-Robertt/skymiles/internal/domain"
)

// syncBuffer 允许 ticker goroutine 与测试并发读写。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatFieldRetries(t *testing.T) {
	got := formatFieldRetries([]domain.FieldAttempt{
		{Field: "trip", Attempts: 1, OK: true},
		{Field: "origin", Attempts: 2, OK: true},
		{Field: "tier", Attempts: 3, OK: false},
	})
	if got != " retries=origin:2,tier:3!" {
		t.Fatalf("retries 不符合预期：%q", got)
	}
	if s := formatFieldRetries([]domain.FieldAttempt{{Field: "trip", Attempts: 1, OK: true}}); s != "" {
		t.Fatalf("全部一次成功时应为空，实际 %q", s)
	}
}

func TestTruncate_RuneSafe(t *testing.T) {
	got := truncate("字段填写失败了很多次", 6)
	if got != "字段填..." {
		t.Fatalf("截断结果不符合预期：%q", got)
	}
	if truncate("abc", 10) != "abc" {
		t.Fatalf("短字符串不应被截断")
	}
}

func TestProgressUI_RowLines(t *testing.T) {
	var buf syncBuffer
	p := newProgressUI(&buf)
	p.tickerInterval = time.Hour

	p.OnStart(config.EffectiveConfig{Variant: "skywards-ph", Input: "/tmp/in.xlsx"}, 3)
	p.OnRowStart(0, 3, domain.InputRow{Origin: "ABJ", Destination: "ADD"})
	p.OnRowDone(0, 3, domain.RowResult{Route: "ABJ-ADD", Outcome: domain.OutcomeOK, Records: 4}, time.Second)
	p.OnRowDone(1, 3, domain.RowResult{Route: "ABJ-DXB", Outcome: domain.OutcomeAccessDenied}, time.Second)
	p.OnRowDone(2, 3, domain.RowResult{
		Route:     "DXB-LHR",
		Outcome:   domain.OutcomeFailed,
		ErrorCode: domain.ErrCodeResultTimeout,
		ErrorMsg:  "等待结果超时",
	}, time.Second)
	p.OnPhaseDone("rows", map[string]any{"rows": 3, "ok": 1, "access_denied": 1, "failed": 1, "records": 6}, time.Second)
	p.Stop()

	out := buf.String()
	for _, want := range []string{
		"skymiles run (skywards-ph)",
		"[1/3] ABJ-ADD OK records=4",
		"[2/3] ABJ-DXB DENIED",
		"[3/3] DXB-LHR FAIL result_timeout: 等待结果超时",
		"rows=3 ok=1 access_denied=1 failed=1 aborted=0 records=6",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
	if p.tickerStarted {
		t.Fatalf("最后一行完成后 ticker 应已停止")
	}
}

func TestProgressUI_Keepalive(t *testing.T) {
	var buf syncBuffer
	p := newProgressUI(&buf)
	p.tickerInterval = 5 * time.Millisecond
	p.keepaliveThreshold = 10 * time.Millisecond

	p.OnStart(config.EffectiveConfig{Variant: "skywards-ph"}, 2)
	p.OnRowStart(0, 2, domain.InputRow{Origin: "ABJ", Destination: "ADD"})
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), "current=ABJ-ADD") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("期望出现 keepalive 行，实际：\n%s", buf.String())
}
