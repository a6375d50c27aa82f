package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/skymiles/internal/config"
	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/infra/cache"
	"github.com/John-Robertt/skymiles/internal/infra/imgx"
	"github.com/John-Robertt/skymiles/internal/provider"
	"github.com/John-Robertt/skymiles/internal/retry"
)

// Batch 是一次运行的产物：按输入顺序累积的记录 + 每行结局。
type Batch struct {
	Records []domain.ResultRecord
	Report  domain.RunReport
}

var errMismatch = errors.New("回读值与期望不一致")

// maxSnapshotHeight 是失败截图的最大高度（整页截图可能有上万像素高）。
const maxSnapshotHeight = 4000

// Execute 在同一个共享页面上按输入顺序逐行执行：填写 → 提交 → 等待 → 解析。
//
// 单行失败会被“降级”为该行的占位记录，不影响后续行。
// 只有两种情况会中止整批：会话被关闭（provider.ErrSessionClosed）或 ctx 被取消。
// 中止时返回已累积的记录，剩余行在报告中标记为 aborted，并返回该错误。
func Execute(ctx context.Context, eff config.EffectiveConfig, prov provider.Provider, rows []domain.InputRow, obs Observer) (Batch, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	started := time.Now()
	obs.OnStart(eff, len(rows))

	runID := uuid.NewString()
	b := Batch{
		Records: make([]domain.ResultRecord, 0, len(rows)*4),
		Report: domain.RunReport{
			RunID:     runID,
			Variant:   prov.Name(),
			Input:     eff.Input,
			StartedAt: started,
			Rows:      make([]domain.RowResult, 0, len(rows)),
		},
	}

	var store *cache.Store
	if eff.KeepPages {
		s := cache.New(PagesDir(eff.OutDir, runID), false)
		store = &s
		b.Report.PagesDir = s.Root
	}

	d := driver{
		eff:    eff,
		prov:   prov,
		store:  store,
		policy: retry.Policy{Attempts: eff.MaxAttempts, Pause: eff.RetryPause},
	}

	var fatal error
	for i, row := range rows {
		if fatal == nil {
			if err := ctx.Err(); err != nil {
				fatal = err
			}
		}
		if fatal != nil {
			res := abortedRow(i, row, fatal)
			b.Report.Rows = append(b.Report.Rows, res)
			obs.OnRowDone(i, len(rows), res, 0)
			continue
		}

		obs.OnRowStart(i, len(rows), row)
		rowStarted := time.Now()
		recs, res, err := d.runRow(ctx, i, row)
		dur := time.Since(rowStarted)
		res.DurationMS = dur.Milliseconds()

		b.Records = append(b.Records, recs...)
		b.Report.Rows = append(b.Report.Rows, res)
		obs.OnRowDone(i, len(rows), res, dur)

		slog.InfoContext(ctx, "行处理完成",
			"component", "run",
			"index", i,
			"route", res.Route,
			"outcome", res.Outcome,
			"records", res.Records,
			"error_code", res.ErrorCode,
			"duration", dur,
		)

		if err != nil {
			fatal = err
			slog.ErrorContext(ctx, "整批中止", "component", "run", "index", i, "err", err)
		}
	}

	if fatal != nil {
		b.Report.FatalCode = fatalCode(fatal)
		b.Report.FatalMsg = humanizeFatal(fatal)
	}
	b.Report.FinishedAt = time.Now()
	b.Report.Finalize()

	obs.OnPhaseDone("rows", map[string]any{
		"rows":          b.Report.Summary.Rows,
		"ok":            b.Report.Summary.OK,
		"access_denied": b.Report.Summary.AccessDenied,
		"failed":        b.Report.Summary.Failed,
		"aborted":       b.Report.Summary.Aborted,
		"records":       b.Report.Summary.Records,
	}, time.Since(started))

	if fatal != nil {
		return b, fatal
	}
	return b, nil
}

// PagesDir 返回一次运行的页面快照目录：<out_dir>/pages/<run id 前 8 位>。
func PagesDir(outDir, runID string) string {
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return filepath.Join(outDir, "pages", id)
}

type driver struct {
	eff    config.EffectiveConfig
	prov   provider.Provider
	store  *cache.Store
	policy retry.Policy
}

// runRow 处理一行。返回的 err 非空代表整批必须中止（此时该行为 aborted）。
func (d driver) runRow(ctx context.Context, idx int, row domain.InputRow) ([]domain.ResultRecord, domain.RowResult, error) {
	res := domain.RowResult{
		Index: idx,
		Line:  row.Line,
		Route: row.Route(),
	}

	recs, state, err := d.scrapeRow(ctx, row, &res)
	if err != nil && isFatal(ctx, err) {
		return nil, abortedRowWith(res, err), err
	}

	switch {
	case err == nil && state == provider.PageAccessDenied:
		recs = []domain.ResultRecord{domain.AccessDeniedRecord(row)}
		res.Outcome = domain.OutcomeAccessDenied
		res.ErrorCode, res.ErrorMsg = "", ""
	case err == nil:
		res.Outcome = domain.OutcomeOK
	default:
		var be *provider.BlockedError
		if errors.As(err, &be) {
			state = provider.PageAccessDenied
			recs = []domain.ResultRecord{domain.AccessDeniedRecord(row)}
			res.Outcome = domain.OutcomeAccessDenied
			res.ErrorCode = ""
			res.ErrorMsg = humanizeRowError(d.prov.Name(), "", err)
			break
		}
		recs = []domain.ResultRecord{domain.FailureRecord(row)}
		res.Outcome = domain.OutcomeFailed
		if res.ErrorCode == "" {
			res.ErrorCode = domain.ErrCodeExtractFailed
		}
		res.ErrorMsg = humanizeRowError(d.prov.Name(), res.ErrorCode, err)
		slog.WarnContext(ctx, "行失败", "component", "run", "index", idx, "route", res.Route, "error_code", res.ErrorCode, "err", err)
	}
	res.Records = len(recs)

	if d.store != nil {
		d.snapshot(ctx, idx, row, state, res.Outcome)
	}

	// Restore 无论本行结局如何都要执行；失败只记录日志，除非会话已经丢失。
	if rerr := d.step(ctx, "restore", d.stepTimeout(), d.prov.Restore); rerr != nil {
		if isFatal(ctx, rerr) {
			return recs, res, rerr
		}
		slog.WarnContext(ctx, "恢复页面失败", "component", "run", "index", idx, "err", rerr)
	}
	return recs, res, nil
}

// scrapeRow 执行一行的 Reset → 填写 → 提交 → 等待 → 解析。
// 失败时把错误码写入 res.ErrorCode，并返回原始错误。
func (d driver) scrapeRow(ctx context.Context, row domain.InputRow, res *domain.RowResult) ([]domain.ResultRecord, provider.PageState, error) {
	if err := d.step(ctx, "reset", d.eff.NavTimeout+d.stepTimeout(), d.prov.Reset); err != nil {
		res.ErrorCode = domain.ErrCodeResetFailed
		return nil, provider.PagePending, err
	}

	var fillErrs []string
	for _, f := range d.prov.Fields(row) {
		fa, err := d.fillField(ctx, f)
		res.Fields = append(res.Fields, fa)
		if err == nil {
			continue
		}
		var fe *provider.FillError
		if !errors.As(err, &fe) || isFatal(ctx, err) {
			res.ErrorCode = domain.ErrCodeFillFailed
			return nil, provider.PagePending, err
		}
		if d.eff.StrictFill {
			res.ErrorCode = domain.ErrCodeFillFailed
			return nil, provider.PagePending, err
		}
		// 字段级失败只记录，不中断本行：页面可能仍能给出结果。
		fillErrs = append(fillErrs, fe.Error())
		slog.WarnContext(ctx, "字段填写失败，继续提交", "component", "run", "route", res.Route, "field", fe.Field, "attempts", fe.Attempts, "got", fe.Got)
	}
	if len(fillErrs) > 0 {
		res.ErrorCode = domain.ErrCodeFillFailed
		res.ErrorMsg = strings.Join(fillErrs, "；")
	}

	if err := d.step(ctx, "submit", d.stepTimeout(), d.prov.Submit); err != nil {
		res.ErrorCode = domain.ErrCodeSubmitFailed
		return nil, provider.PagePending, err
	}

	timeout := d.eff.ResultTimeout
	actx, cancel := context.WithTimeout(ctx, timeout)
	state, err := d.prov.Await(actx)
	timedOut := actx.Err() != nil
	cancel()
	if err != nil || state == provider.PagePending {
		if ctx.Err() != nil {
			return nil, state, ctx.Err()
		}
		if err != nil && provider.IsSessionClosed(err) {
			return nil, state, err
		}
		if err == nil || timedOut || errors.Is(err, context.DeadlineExceeded) {
			res.ErrorCode = domain.ErrCodeResultTimeout
			return nil, state, &provider.TimeoutError{Stage: "await", After: timeout}
		}
		res.ErrorCode = domain.ErrCodeExtractFailed
		return nil, state, err
	}
	if state == provider.PageAccessDenied {
		return nil, state, nil
	}

	recs, err := d.prov.Extract(ctx, row)
	if err != nil {
		res.ErrorCode = domain.ErrCodeExtractFailed
		return nil, state, err
	}
	if len(recs) == 0 {
		res.ErrorCode = domain.ErrCodeExtractFailed
		return nil, state, errors.New("结果页没有任何 fare 记录")
	}
	// 字段级失败已记录；结果正常时不保留错误码。
	res.ErrorCode = ""
	res.ErrorMsg = ""
	return recs, state, nil
}

// fillField 对一个字段做有界重试：每次先回读，已包含期望值则不再输入。
func (d driver) fillField(ctx context.Context, f provider.Field) (domain.FieldAttempt, error) {
	fa := domain.FieldAttempt{Field: f.Name}

	var lastErr error
	attempts, err := retry.Do(ctx, d.policy, func(int) error {
		// 每次尝试各有一个时限：一次卡住的选择器只耗掉一次尝试。
		err := d.step(ctx, "fill", d.stepTimeout(), func(actx context.Context) error {
			return d.fillOnce(actx, f, &fa)
		})
		lastErr = err
		if errors.Is(err, errMismatch) {
			lastErr = nil
		}
		return permanentIfFatal(ctx, err)
	})
	fa.Attempts = attempts
	if err == nil {
		fa.OK = true
		return fa, nil
	}
	if isFatal(ctx, err) {
		return fa, err
	}
	return fa, &provider.FillError{
		Field:    f.Name,
		Want:     f.Want,
		Got:      fa.Got,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// fillOnce 是一次字段尝试：回读，已包含期望值则直接成功；否则输入后再回读。
func (d driver) fillOnce(ctx context.Context, f provider.Field, fa *domain.FieldAttempt) error {
	got, err := d.prov.ReadField(ctx, f)
	if err != nil {
		return err
	}
	fa.Got = got
	if provider.Matches(f, got) {
		return nil
	}

	fa.Typed++
	if err := d.prov.EnterField(ctx, f); err != nil {
		return err
	}
	got, err = d.prov.ReadField(ctx, f)
	if err != nil {
		return err
	}
	fa.Got = got
	if provider.Matches(f, got) {
		return nil
	}
	return errMismatch
}

// step 给提交前后的单个页面动作加上时限。
// 动作自己的时限到期记为 TimeoutError（行级失败）；整批 ctx 的取消与会话丢失原样返回。
func (d driver) step(ctx context.Context, stage string, limit time.Duration, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	err := fn(sctx)
	if err == nil || provider.IsSessionClosed(err) || ctx.Err() != nil {
		return err
	}
	if sctx.Err() != nil {
		return &provider.TimeoutError{Stage: stage, After: limit}
	}
	return err
}

func (d driver) stepTimeout() time.Duration {
	if d.eff.ActionTimeout > 0 {
		return d.eff.ActionTimeout
	}
	return config.DefaultActionTimeout
}

func (d driver) snapshot(ctx context.Context, idx int, row domain.InputRow, state provider.PageState, outcome string) {
	sn, ok := d.prov.(provider.Snapshotter)
	if !ok {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, d.stepTimeout())
	html, png, err := sn.Snapshot(sctx)
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "页面快照失败", "component", "run", "index", idx, "err", err)
		return
	}
	// 截图只为失败行保留（排查用）；成功行的 HTML 足够 reparse。
	if outcome == domain.OutcomeOK {
		png = nil
	}
	if len(png) > 0 {
		cropped, err := imgx.CropTop(png, maxSnapshotHeight)
		if err != nil {
			slog.DebugContext(ctx, "截图裁切失败，丢弃截图", "component", "run", "index", idx, "err", err)
			cropped = nil
		}
		png = cropped
	}
	m := cache.Meta{
		Index:   idx,
		Variant: d.prov.Name(),
		Row:     row,
		State:   state.String(),
		Outcome: outcome,
	}
	if err := d.store.Write(m, html, png); err != nil {
		slog.WarnContext(ctx, "写入页面快照失败", "component", "run", "index", idx, "err", err)
	}
}

func permanentIfFatal(ctx context.Context, err error) error {
	if isFatal(ctx, err) {
		return retry.Permanent(err)
	}
	return err
}

// isFatal 判断错误是否意味着整批必须中止。
func isFatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if provider.IsSessionClosed(err) {
		return true
	}
	return ctx.Err() != nil
}

func abortedRow(idx int, row domain.InputRow, cause error) domain.RowResult {
	return abortedRowWith(domain.RowResult{Index: idx, Line: row.Line, Route: row.Route()}, cause)
}

func abortedRowWith(res domain.RowResult, cause error) domain.RowResult {
	res.Outcome = domain.OutcomeAborted
	res.Records = 0
	res.ErrorCode = fatalCode(cause)
	res.ErrorMsg = "整批已中止，本行未完成"
	return res
}

func fatalCode(err error) string {
	if provider.IsSessionClosed(err) {
		return domain.ErrCodeSessionClosed
	}
	return domain.ErrCodeCanceled
}

func humanizeFatal(err error) string {
	if provider.IsSessionClosed(err) {
		return "浏览器会话已关闭（窗口被关闭或浏览器崩溃）。已完成的行仍会导出；请重新运行剩余的行。"
	}
	return fmt.Sprintf("运行被取消：%v", err)
}

func humanizeRowError(providerName, code string, err error) string {
	if err == nil {
		return ""
	}

	var be *provider.BlockedError
	if errors.As(err, &be) {
		return fmt.Sprintf("%s 被站点拦截（%s）。当前不支持绕过；建议配置 proxy.url 或稍后重试。", providerName, be.Reason)
	}

	var te *provider.TimeoutError
	if errors.As(err, &te) && te.Stage == "await" {
		return fmt.Sprintf("%s 在 %s 内既没有出现结果页也没有出现拦截页。可调大 result_timeout，或检查网络/代理。", providerName, te.After)
	}

	var fe *provider.FillError
	if errors.As(err, &fe) {
		return fmt.Sprintf("%s 表单字段 %s 填写失败（%d 次尝试，期望包含 %q，实际 %q）。站点选项可能变化，或该值在下拉列表中不存在。", providerName, fe.Field, fe.Attempts, fe.Want, fe.Got)
	}

	switch code {
	case domain.ErrCodeResetFailed:
		return fmt.Sprintf("%s 打开计算器页面失败：%v。建议检查网络/代理，或调大 nav_timeout。", providerName, unwrapProvider(err))
	case domain.ErrCodeSubmitFailed:
		if errors.As(err, &te) {
			return fmt.Sprintf("%s 点击提交在 %s 内没有完成。可调大 action_timeout，或检查网络/代理。", providerName, te.After)
		}
		return fmt.Sprintf("%s 提交表单失败：%v", providerName, unwrapProvider(err))
	case domain.ErrCodeExtractFailed:
		// 解析失败通常意味着站点结构漂移或被返回了非预期页面。
		return fmt.Sprintf("%s 解析结果页失败（站点结构可能变化）：%v", providerName, unwrapProvider(err))
	}
	return fmt.Sprintf("%s 失败：%v", providerName, err)
}

func unwrapProvider(err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err
	}
	return err
}
