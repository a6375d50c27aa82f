package skywards

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/skymiles/internal/infra/browser"
	"github.com/John-Robertt/skymiles/internal/provider"
)

type fakePage struct {
	htmls   []string
	htmlErr error
	status  int

	values    map[string]string
	checked   map[string]bool
	clickText bool
	err       error

	calls []string
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.calls = append(f.calls, "navigate "+url)
	return f.err
}

func (f *fakePage) WaitVisible(_ context.Context, sel string) error {
	f.calls = append(f.calls, "wait "+sel)
	return f.err
}

func (f *fakePage) Click(_ context.Context, sel string) error {
	f.calls = append(f.calls, "click "+sel)
	return f.err
}

func (f *fakePage) ClickIfPresent(_ context.Context, sel string) (bool, error) {
	f.calls = append(f.calls, "click? "+sel)
	return true, f.err
}

func (f *fakePage) Value(_ context.Context, sel string) (string, error) {
	return f.values[sel], f.err
}

func (f *fakePage) Checked(_ context.Context, sel string) (bool, error) {
	return f.checked[sel], f.err
}

func (f *fakePage) TypeAndEnter(_ context.Context, sel, text string, _ time.Duration) error {
	f.calls = append(f.calls, "type "+sel+" "+text)
	return f.err
}

func (f *fakePage) ClickText(_ context.Context, itemSel, text string) (bool, error) {
	f.calls = append(f.calls, "pick "+text)
	return f.clickText, f.err
}

func (f *fakePage) HTML(context.Context) (string, error) {
	if f.htmlErr != nil {
		return "", f.htmlErr
	}
	if len(f.htmls) == 0 {
		return "<html></html>", nil
	}
	h := f.htmls[0]
	if len(f.htmls) > 1 {
		f.htmls = f.htmls[1:]
	}
	return h, nil
}

func (f *fakePage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func (f *fakePage) DocumentStatus() (int, string) { return f.status, "https://example.test/" }

func newTestProvider(page *fakePage) *Provider {
	v, _ := Lookup("skywards-ph")
	return New(v, page, WithPoll(time.Millisecond), WithSettle(0))
}

func TestFields_OrderAndKinds(t *testing.T) {
	p := newTestProvider(&fakePage{})
	fs := p.Fields(abjAdd())

	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{FieldTrip, FieldAirline, FieldOrigin, FieldDestination, FieldCabin, FieldTier}, names)
	require.Equal(t, provider.FieldChoice, fs[0].Kind)
	require.Equal(t, "One Way", fs[0].Want)
	require.Equal(t, provider.FieldCombobox, fs[2].Kind)

	// 机场代码必须作为独立词出现在回读值里。
	require.True(t, provider.Matches(fs[2], "Abidjan (ABJ)"))
	require.False(t, provider.Matches(fs[2], "Abja (XYZ)"))
}

func TestFields_SelectNeedsWholeOption(t *testing.T) {
	p := newTestProvider(&fakePage{})
	row := abjAdd()
	row.Cabin = "Economy"
	row.Tier = "Gold"
	fs := p.Fields(row)
	cabin, tier := fs[4], fs[5]

	require.True(t, provider.Matches(cabin, "Economy"))
	require.True(t, provider.Matches(cabin, " economy "))
	require.False(t, provider.Matches(cabin, "Premium Economy"))
	require.True(t, provider.Matches(tier, "Gold"))
	require.False(t, provider.Matches(tier, "Platinum Gold"))
	require.False(t, provider.Matches(fs[1], "Emirates Partner"))
	require.True(t, provider.Matches(fs[1], "Emirates"))
}

func TestReadField(t *testing.T) {
	v, _ := Lookup("skywards-ph")
	page := &fakePage{
		values:  map[string]string{v.Selectors.InputSel("Going to"): "Addis Ababa (ADD)"},
		checked: map[string]bool{v.Selectors.TripOneWay: true},
	}
	p := newTestProvider(page)
	fs := p.Fields(abjAdd())

	got, err := p.ReadField(context.Background(), fs[0])
	require.NoError(t, err)
	require.Equal(t, "One Way", got)

	got, err = p.ReadField(context.Background(), fs[3])
	require.NoError(t, err)
	require.Equal(t, "Addis Ababa (ADD)", got)
}

func TestEnterField_SelectMissingOption(t *testing.T) {
	page := &fakePage{clickText: false}
	p := newTestProvider(page)
	f := p.Fields(abjAdd())[5]

	err := p.EnterField(context.Background(), f)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Blue")
	require.Contains(t, page.calls, `click div[data-testid="combobox_Emirates Skywards tier"]`)
}

func TestEnterField_ComboboxTypes(t *testing.T) {
	page := &fakePage{}
	p := newTestProvider(page)
	f := p.Fields(abjAdd())[2]

	require.NoError(t, p.EnterField(context.Background(), f))
	require.Equal(t, []string{`type div[data-testid="combobox_Leaving from"] input.input-field__input ABJ`}, page.calls)
}

func TestAwait_PollsUntilResults(t *testing.T) {
	page := &fakePage{htmls: []string{"<html><form></form></html>", "<html><form></form></html>", readFixture(t, "results_abj_add.html")}}
	p := newTestProvider(page)

	st, err := p.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, provider.PageResults, st)
}

func TestAwait_DocumentStatusBlocked(t *testing.T) {
	p := newTestProvider(&fakePage{status: 403})
	st, err := p.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, provider.PageAccessDenied, st)
}

func TestAwait_ResultsWinOverBlockedStatus(t *testing.T) {
	// 主文档状态被子资源误记成 403 时，已渲染的结果页仍然算结果。
	page := &fakePage{status: 403, htmls: []string{readFixture(t, "results_abj_add.html")}}
	p := newTestProvider(page)

	st, err := p.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, provider.PageResults, st)

	recs, err := p.Extract(context.Background(), abjAdd())
	require.NoError(t, err)
	require.Len(t, recs, 4)
}

func TestExtract_BlockedStatusWithoutResults(t *testing.T) {
	p := newTestProvider(&fakePage{status: 429, htmls: []string{"<html><form></form></html>"}})
	_, err := p.Extract(context.Background(), abjAdd())
	var be *provider.BlockedError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "HTTP 429", be.Reason)
}

func TestAwait_DeadlineReturnsCtxError(t *testing.T) {
	p := newTestProvider(&fakePage{htmls: []string{"<html><form></form></html>"}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	st, err := p.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, provider.PagePending, st)
}

func TestAwait_SessionClosed(t *testing.T) {
	p := newTestProvider(&fakePage{htmlErr: browser.ErrClosed})
	_, err := p.Await(context.Background())
	require.True(t, provider.IsSessionClosed(err), "err=%v", err)

	var pe *provider.Error
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "await", pe.Stage)
}

func TestExtract(t *testing.T) {
	p := newTestProvider(&fakePage{htmls: []string{readFixture(t, "results_abj_add.html")}})
	recs, err := p.Extract(context.Background(), abjAdd())
	require.NoError(t, err)
	require.Len(t, recs, 4)

	p = newTestProvider(&fakePage{htmls: []string{readFixture(t, "access_denied.html")}})
	_, err = p.Extract(context.Background(), abjAdd())
	var be *provider.BlockedError
	require.ErrorAs(t, err, &be)
}

func TestReset_NavigatesAndDismissesCookies(t *testing.T) {
	page := &fakePage{}
	p := newTestProvider(page)

	require.NoError(t, p.Reset(context.Background()))
	require.Equal(t, []string{
		"navigate https://www.emirates.com/ph/english/skywards/miles-calculator/",
		`wait div[data-testid="combobox_Flying with"]`,
		"click? #onetrust-accept-btn-handler",
	}, page.calls)
}

func TestSnapshot(t *testing.T) {
	p := newTestProvider(&fakePage{htmls: []string{"<html>x</html>"}})
	html, png, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "<html>x</html>", string(html))
	require.Equal(t, "png", string(png))
}

func TestWithBlockMarker(t *testing.T) {
	v, _ := Lookup("skywards-ph")
	require.Equal(t, "#captcha", New(v, &fakePage{}, WithBlockMarker("#captcha")).blockMarker)
	require.Equal(t, v.Selectors.BlockMarker, New(v, &fakePage{}, WithBlockMarker("")).blockMarker)
}
