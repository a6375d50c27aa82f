package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/John-Robertt/skymiles/internal/config"
	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/provider"
)

// 行为脚本：按航线决定提交后的页面结局。
const (
	outcomeResults    = "results"
	outcomeDenied     = "denied"
	outcomeHang       = "hang"
	outcomeClosed     = "closed"
	outcomeExtractErr = "extract_err"
	outcomeBlocked    = "blocked"
	outcomeSubmitHang = "submit_hang"
)

type stubProvider struct {
	outcome   map[string]string
	prefilled map[string]string
	stuck     map[string]bool
	// hangResets 让前 N 次 Reset 卡住直到 ctx 结束（等待的元素永远不出现）。
	hangResets int
	// hangRead 中的字段回读会卡住直到 ctx 结束。
	hangRead map[string]bool

	cur     domain.InputRow
	values  map[string]string
	enters  map[string]int
	resets  int
	submits int
	restore int
}

func newStub() *stubProvider {
	return &stubProvider{
		outcome:   map[string]string{},
		prefilled: map[string]string{},
		stuck:     map[string]bool{},
		hangRead:  map[string]bool{},
		enters:    map[string]int{},
	}
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Reset(ctx context.Context) error {
	p.resets++
	if p.resets <= p.hangResets {
		<-ctx.Done()
		return ctx.Err()
	}
	p.values = make(map[string]string, len(p.prefilled))
	for k, v := range p.prefilled {
		p.values[k] = v
	}
	return nil
}

func (p *stubProvider) Fields(row domain.InputRow) []provider.Field {
	p.cur = row
	return []provider.Field{
		{Name: "origin", Kind: provider.FieldCombobox, Want: row.Origin},
		{Name: "destination", Kind: provider.FieldCombobox, Want: row.Destination},
	}
}

func (p *stubProvider) ReadField(ctx context.Context, f provider.Field) (string, error) {
	if p.hangRead[f.Name] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.values[f.Name], nil
}

func (p *stubProvider) EnterField(_ context.Context, f provider.Field) error {
	p.enters[f.Name]++
	if p.stuck[f.Name] {
		return nil
	}
	p.values[f.Name] = "City (" + f.Want + ")"
	return nil
}

func (p *stubProvider) Submit(ctx context.Context) error {
	p.submits++
	switch p.outcome[p.cur.Route()] {
	case outcomeSubmitHang:
		<-ctx.Done()
		return ctx.Err()
	case outcomeClosed:
		return fmt.Errorf("点击提交失败：%w", provider.ErrSessionClosed)
	case outcomeBlocked:
		return &provider.BlockedError{Reason: "HTTP 403"}
	}
	return nil
}

func (p *stubProvider) Await(ctx context.Context) (provider.PageState, error) {
	switch p.outcome[p.cur.Route()] {
	case outcomeDenied:
		return provider.PageAccessDenied, nil
	case outcomeHang:
		<-ctx.Done()
		return provider.PagePending, ctx.Err()
	}
	return provider.PageResults, nil
}

func (p *stubProvider) Extract(_ context.Context, row domain.InputRow) ([]domain.ResultRecord, error) {
	if p.outcome[row.Route()] == outcomeExtractErr {
		return nil, &provider.Error{Provider: "stub", Stage: "extract", Err: errors.New("卡片结构异常")}
	}
	out := make([]domain.ResultRecord, 0, 4)
	for _, fare := range []string{"Special", "Saver", "Flex", "Flex Plus"} {
		out = append(out, domain.ResultRecord{Action: domain.ActionEarn, Input: row, BrandedFare: fare, Miles: "100", TierMiles: "10"})
	}
	return out, nil
}

func (p *stubProvider) Restore(context.Context) error {
	p.restore++
	return nil
}

// snapshotStub 额外实现 provider.Snapshotter。
type snapshotStub struct{ *stubProvider }

func (p snapshotStub) Snapshot(context.Context) ([]byte, []byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		return nil, nil, err
	}
	return []byte("<html>" + p.cur.Route() + "</html>"), buf.Bytes(), nil
}

func testConfig() config.EffectiveConfig {
	return config.EffectiveConfig{
		Input:         "routes.xlsx",
		MaxAttempts:   3,
		RetryPause:    0,
		ResultTimeout: 30 * time.Millisecond,
		ActionTimeout: 30 * time.Millisecond,
	}
}

func route(o, d string) domain.InputRow {
	return domain.InputRow{Airline: "Emirates", Origin: o, Destination: d, Cabin: domain.CabinEconomy, Tier: "Blue", Trip: domain.TripOneWay}
}
