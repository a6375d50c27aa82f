package skywards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/infra/browser"
	"github.com/John-Robertt/skymiles/internal/provider"
)

// Page 是 provider 对浏览器标签页的最小依赖（*browser.Session 实现了它）。
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	ClickIfPresent(ctx context.Context, sel string) (bool, error)
	Value(ctx context.Context, sel string) (string, error)
	Checked(ctx context.Context, sel string) (bool, error)
	TypeAndEnter(ctx context.Context, sel, text string, settle time.Duration) error
	ClickText(ctx context.Context, itemSel, text string) (bool, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	DocumentStatus() (int, string)
}

var _ Page = (*browser.Session)(nil)

const (
	FieldTrip        = "trip"
	FieldAirline     = "airline"
	FieldOrigin      = "origin"
	FieldDestination = "destination"
	FieldCabin       = "cabin"
	FieldTier        = "tier"
)

const (
	defaultPoll   = 250 * time.Millisecond
	defaultSettle = 500 * time.Millisecond
)

// Provider 在一个共享标签页上驱动 miles calculator 表单。
//
// 约束：
// - 不做重试与校验（由核心流程负责），每个方法只执行一次动作
// - 标签页丢失时返回包装了 provider.ErrSessionClosed 的错误
type Provider struct {
	v           Variant
	page        Page
	blockMarker string

	poll   time.Duration
	settle time.Duration
}

type Option func(*Provider)

// WithBlockMarker 覆盖变体默认的拦截页标记；空字符串表示保留默认值。
func WithBlockMarker(sel string) Option {
	return func(p *Provider) {
		if sel != "" {
			p.blockMarker = sel
		}
	}
}

// WithSettle 设置下拉框输入/选择后的停顿（等待建议列表与回填）。
func WithSettle(d time.Duration) Option {
	return func(p *Provider) {
		if d >= 0 {
			p.settle = d
		}
	}
}

// WithPoll 设置 Await 的轮询间隔。
func WithPoll(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.poll = d
		}
	}
}

func New(v Variant, page Page, opts ...Option) *Provider {
	p := &Provider{
		v:           v,
		page:        page,
		blockMarker: v.Selectors.BlockMarker,
		poll:        defaultPoll,
		settle:      defaultSettle,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var (
	_ provider.Provider    = (*Provider)(nil)
	_ provider.Snapshotter = (*Provider)(nil)
	_ provider.Labeler     = (*Provider)(nil)
)

func (p *Provider) Name() string { return p.v.Name }

func (p *Provider) Labels() provider.Labels { return p.v.Labels }

// Reset 重新打开计算器页面，等待表单可用，并尽力关闭 cookie 弹窗。
func (p *Provider) Reset(ctx context.Context) error {
	sel := p.v.Selectors
	if err := p.page.Navigate(ctx, p.v.URL); err != nil {
		return p.fail("reset", err)
	}
	if err := p.page.WaitVisible(ctx, sel.FormReady); err != nil {
		if st, _ := p.page.DocumentStatus(); blockedStatus(st) {
			return p.fail("reset", &provider.BlockedError{URL: p.v.URL, Reason: fmt.Sprintf("HTTP %d", st)})
		}
		return p.fail("reset", err)
	}
	clicked, err := p.page.ClickIfPresent(ctx, sel.CookieAccept)
	if err != nil {
		if isClosed(err) {
			return p.fail("reset", err)
		}
		// cookie 弹窗只影响点击，不影响本行结果。
		slog.WarnContext(ctx, "关闭 cookie 弹窗失败", "component", "skywards", "err", err)
	} else if clicked {
		slog.DebugContext(ctx, "已关闭 cookie 弹窗", "component", "skywards")
	}
	return nil
}

// Fields 返回一行需要填写的字段，顺序与页面一致：先单程/往返，再依次填写下拉框。
func (p *Provider) Fields(row domain.InputRow) []provider.Field {
	return []provider.Field{
		{Name: FieldTrip, Kind: provider.FieldChoice, Want: row.Trip.Label()},
		{Name: FieldAirline, Kind: provider.FieldSelect, Want: row.Airline, Pattern: optionPattern(row.Airline)},
		{Name: FieldOrigin, Kind: provider.FieldCombobox, Want: row.Origin, Pattern: codePattern(row.Origin)},
		{Name: FieldDestination, Kind: provider.FieldCombobox, Want: row.Destination, Pattern: codePattern(row.Destination)},
		{Name: FieldCabin, Kind: provider.FieldSelect, Want: string(row.Cabin), Pattern: optionPattern(string(row.Cabin))},
		{Name: FieldTier, Kind: provider.FieldSelect, Want: row.Tier, Pattern: optionPattern(row.Tier)},
	}
}

// codePattern 要求回读值里出现独立的 IATA 代码（例如 "Abidjan (ABJ)"）。
func codePattern(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(code) + `\b`)
}

// optionPattern 要求下拉框回读值整体等于选项文本：
// "Economy" 不能被 "Premium Economy" 满足，"Gold" 也不能被 "Platinum Gold" 满足。
func optionPattern(want string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(strings.TrimSpace(want)) + `\s*$`)
}

func (p *Provider) ReadField(ctx context.Context, f provider.Field) (string, error) {
	if f.Kind == provider.FieldChoice {
		sel, err := p.tripSel(f.Want)
		if err != nil {
			return "", err
		}
		ok, err := p.page.Checked(ctx, sel)
		if err != nil {
			return "", p.wrap(err)
		}
		if !ok {
			return "", nil
		}
		return f.Want, nil
	}

	label, err := p.fieldLabel(f.Name)
	if err != nil {
		return "", err
	}
	v, err := p.page.Value(ctx, p.v.Selectors.InputSel(label))
	return v, p.wrap(err)
}

func (p *Provider) EnterField(ctx context.Context, f provider.Field) error {
	sel := p.v.Selectors
	switch f.Kind {
	case provider.FieldChoice:
		radio, err := p.tripSel(f.Want)
		if err != nil {
			return err
		}
		return p.wrap(p.page.Click(ctx, radio))

	case provider.FieldCombobox:
		label, err := p.fieldLabel(f.Name)
		if err != nil {
			return err
		}
		return p.wrap(p.page.TypeAndEnter(ctx, sel.InputSel(label), f.Want, p.settle))

	case provider.FieldSelect:
		label, err := p.fieldLabel(f.Name)
		if err != nil {
			return err
		}
		if err := p.page.Click(ctx, sel.ComboboxSel(label)); err != nil {
			return p.wrap(err)
		}
		if err := p.page.WaitVisible(ctx, sel.SuggestItem); err != nil {
			return p.wrap(err)
		}
		ok, err := p.page.ClickText(ctx, sel.SuggestItem, f.Want)
		if err != nil {
			return p.wrap(err)
		}
		if !ok {
			return fmt.Errorf("下拉框 %s 中没有选项 %q", label, f.Want)
		}
		return sleepCtx(ctx, p.settle)
	}
	return fmt.Errorf("未知字段类型：%s", f.Kind)
}

func (p *Provider) Submit(ctx context.Context) error {
	if err := p.page.Click(ctx, p.v.Selectors.Submit); err != nil {
		return p.fail("submit", err)
	}
	return nil
}

// Await 轮询页面直到出现结果页或拦截页；ctx 截止时返回 ctx 错误。
// 结果标记优先于主文档状态码：结果已经渲染出来时 403/429 不算拦截。
func (p *Provider) Await(ctx context.Context) (provider.PageState, error) {
	for {
		html, err := p.page.HTML(ctx)
		switch {
		case err == nil:
			s := Classify(html, p.v.Selectors, p.blockMarker)
			if s == provider.PageResults {
				return s, nil
			}
			if st, _ := p.page.DocumentStatus(); blockedStatus(st) {
				return provider.PageAccessDenied, nil
			}
			if s != provider.PagePending {
				return s, nil
			}
		case isClosed(err):
			return provider.PagePending, p.fail("await", err)
		case ctx.Err() != nil:
			return provider.PagePending, ctx.Err()
		default:
			if st, _ := p.page.DocumentStatus(); blockedStatus(st) {
				return provider.PageAccessDenied, nil
			}
			// 页面跳转期间读 DOM 可能失败；继续轮询。
			slog.DebugContext(ctx, "读取页面失败，继续等待", "component", "skywards", "err", err)
		}
		if err := sleepCtx(ctx, p.poll); err != nil {
			return provider.PagePending, err
		}
	}
}

// Extract 解析当前结果页；页面实际上是拦截页时返回 *provider.BlockedError。
func (p *Provider) Extract(ctx context.Context, row domain.InputRow) ([]domain.ResultRecord, error) {
	html, err := p.page.HTML(ctx)
	if err != nil {
		if st, u := p.page.DocumentStatus(); blockedStatus(st) && !isClosed(err) {
			return nil, &provider.BlockedError{URL: u, Reason: fmt.Sprintf("HTTP %d", st)}
		}
		return nil, p.fail("extract", err)
	}
	state := Classify(html, p.v.Selectors, p.blockMarker)
	if state != provider.PageResults {
		if st, u := p.page.DocumentStatus(); blockedStatus(st) {
			return nil, &provider.BlockedError{URL: u, Reason: fmt.Sprintf("HTTP %d", st)}
		}
	}
	if state == provider.PageAccessDenied {
		return nil, &provider.BlockedError{URL: p.v.URL, Reason: "marker"}
	}
	recs, err := Parse(html, row, p.v)
	if err != nil {
		return nil, p.fail("extract", err)
	}
	return recs, nil
}

// Restore 离开结果页，避免下一行读到上一行的残留结果。
func (p *Provider) Restore(ctx context.Context) error {
	if err := p.page.Navigate(ctx, "about:blank"); err != nil {
		return p.fail("restore", err)
	}
	return nil
}

func (p *Provider) Snapshot(ctx context.Context) ([]byte, []byte, error) {
	html, err := p.page.HTML(ctx)
	if err != nil {
		return nil, nil, p.wrap(err)
	}
	png, err := p.page.Screenshot(ctx)
	if err != nil {
		// 截图失败不影响 HTML 快照。
		slog.WarnContext(ctx, "页面截图失败", "component", "skywards", "err", err)
		return []byte(html), nil, nil
	}
	return []byte(html), png, nil
}

func (p *Provider) tripSel(want string) (string, error) {
	switch want {
	case domain.TripOneWay.Label():
		return p.v.Selectors.TripOneWay, nil
	case domain.TripRoundTrip.Label():
		return p.v.Selectors.TripRoundTrip, nil
	}
	return "", fmt.Errorf("未知行程类型：%q", want)
}

func (p *Provider) fieldLabel(name string) (string, error) {
	l := p.v.Fields
	switch name {
	case FieldAirline:
		return l.Airline, nil
	case FieldOrigin:
		return l.Origin, nil
	case FieldDestination:
		return l.Destination, nil
	case FieldCabin:
		return l.Cabin, nil
	case FieldTier:
		return l.Tier, nil
	}
	return "", fmt.Errorf("未知字段：%q", name)
}

func (p *Provider) fail(stage string, err error) error {
	return &provider.Error{Provider: p.v.Name, Stage: stage, Err: p.wrap(err)}
}

// wrap 把浏览器层的“会话关闭”翻译为 provider.ErrSessionClosed。
func (p *Provider) wrap(err error) error {
	if err == nil {
		return nil
	}
	if isClosed(err) && !errors.Is(err, provider.ErrSessionClosed) {
		return fmt.Errorf("%w: %w", provider.ErrSessionClosed, err)
	}
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, browser.ErrClosed) || errors.Is(err, provider.ErrSessionClosed)
}

func blockedStatus(code int) bool { return code == 403 || code == 429 }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
