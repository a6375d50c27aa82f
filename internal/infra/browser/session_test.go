package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

func TestJSString_EscapesSelector(t *testing.T) {
	got := jsString(`div[data-testid="combobox_Going to"]`)
	want := `"div[data-testid=\"combobox_Going to\"]"`
	if got != want {
		t.Fatalf("jsString 不符合预期：got=%s want=%s", got, want)
	}
}

func TestIsTargetGone(t *testing.T) {
	cases := map[string]bool{
		"websocket: close 1006 (abnormal closure)": true,
		"Target closed":                 true,
		"No target with given id found": true,
		"waiting for selector":          false,
	}
	for msg, want := range cases {
		if got := isTargetGone(errors.New(msg)); got != want {
			t.Fatalf("isTargetGone(%q)=%v，期望 %v", msg, got, want)
		}
	}
}

func TestSession_ClosedSessionFailsFast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Session{ctx: ctx, navTimeout: defaultNavTimeout}

	if _, err := s.HTML(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("期望 ErrClosed，实际：%v", err)
	}
	if !s.Closed() {
		t.Fatalf("期望 Closed()=true")
	}
}

func TestDocumentResponse_OnlyMainFrame(t *testing.T) {
	const main = cdp.FrameID("MAIN")
	doc := func(frame cdp.FrameID, typ network.ResourceType, status int64) *network.EventResponseReceived {
		return &network.EventResponseReceived{
			FrameID:  frame,
			Type:     typ,
			Response: &network.Response{Status: status, URL: "https://example.test/" + string(frame)},
		}
	}

	status, url, ok := documentResponse(doc(main, network.ResourceTypeDocument, 200), main)
	if !ok || status != 200 || url != "https://example.test/MAIN" {
		t.Fatalf("主 frame 文档应被记录：status=%d url=%q ok=%v", status, url, ok)
	}
	if _, _, ok := documentResponse(doc("AD-IFRAME", network.ResourceTypeDocument, 403), main); ok {
		t.Fatalf("iframe 的 403 不应覆盖主文档状态")
	}
	if _, _, ok := documentResponse(doc(main, network.ResourceTypeXHR, 429), main); ok {
		t.Fatalf("非文档响应不应被记录")
	}
	if _, _, ok := documentResponse(doc(main, network.ResourceTypeDocument, 200), ""); ok {
		t.Fatalf("主 frame 未知时不应记录")
	}
	if _, _, ok := documentResponse(&network.EventResponseReceived{FrameID: main, Type: network.ResourceTypeDocument}, main); ok {
		t.Fatalf("缺少 Response 时不应记录")
	}
}

func TestRunContext_FollowsCaller(t *testing.T) {
	tab, closeTab := context.WithCancel(context.Background())
	defer closeTab()

	// 无截止时间：caller 取消时 runCtx 跟着取消。
	caller, cancelCaller := context.WithCancel(context.Background())
	runCtx, cancel := runContext(tab, caller)
	if _, ok := runCtx.Deadline(); ok {
		t.Fatalf("caller 没有截止时间时 runCtx 也不应有")
	}
	cancelCaller()
	<-runCtx.Done()
	cancel()

	// 有截止时间：继承同一个截止时间。
	dl := time.Now().Add(time.Hour)
	caller2, cancel2 := context.WithDeadline(context.Background(), dl)
	defer cancel2()
	runCtx2, cancel := runContext(tab, caller2)
	if got, ok := runCtx2.Deadline(); !ok || !got.Equal(dl) {
		t.Fatalf("期望截止时间 %v，实际 %v ok=%v", dl, got, ok)
	}
	cancel()
	if runCtx2.Err() == nil {
		t.Fatalf("cancel 之后 runCtx 应结束")
	}
	if tab.Err() != nil {
		t.Fatalf("单次调用的 cancel 不应影响标签页上下文")
	}

	// 标签页关闭时 runCtx 同样结束。
	runCtx3, cancel := runContext(tab, context.Background())
	defer cancel()
	closeTab()
	<-runCtx3.Done()
}
