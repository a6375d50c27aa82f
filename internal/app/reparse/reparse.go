package reparse

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/skymiles/internal/app/run"
	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/infra/cache"
	"github.com/John-Robertt/skymiles/internal/provider"
	"github.com/John-Robertt/skymiles/internal/provider/skywards"
)

// ErrEmpty 表示快照目录里没有任何快照。
var ErrEmpty = errors.New("快照目录为空")

// Result 是离线重建的产物；Rows 用于生成导出文件名。
type Result struct {
	run.Batch
	Rows   []domain.InputRow
	Labels provider.Labels
}

// Rebuild 从页面快照重建记录（不启动浏览器）。
//
// 约束：
// - 行顺序按快照 index 升序，与原始运行的输入顺序一致
// - 每个快照恰好产生一个行结局；缺 HTML 或不是结果页的快照按失败处理
// - blockMarker 为空时使用变体默认值
func Rebuild(store cache.Store, blockMarker string) (Result, error) {
	started := time.Now()
	entries, err := store.List()
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, ErrEmpty
	}

	v, ok := skywards.Lookup(entries[0].Meta.Variant)
	if !ok {
		return Result{}, fmt.Errorf("快照使用了未知变体：%q", entries[0].Meta.Variant)
	}
	marker := blockMarker
	if marker == "" {
		marker = v.Selectors.BlockMarker
	}

	out := Result{
		Batch: run.Batch{
			Report: domain.RunReport{
				RunID:     uuid.NewString(),
				Variant:   v.Name,
				Input:     store.Root,
				PagesDir:  store.Root,
				StartedAt: started,
				Rows:      make([]domain.RowResult, 0, len(entries)),
			},
		},
		Rows:   make([]domain.InputRow, 0, len(entries)),
		Labels: v.Labels,
	}

	for _, e := range entries {
		if e.Meta.Variant != "" && e.Meta.Variant != v.Name {
			return Result{}, fmt.Errorf("快照目录混合了多个变体：%q 与 %q", v.Name, e.Meta.Variant)
		}
		row := e.Meta.Row
		recs, res := rebuildOne(store, e, v, marker)
		out.Records = append(out.Records, recs...)
		out.Report.Rows = append(out.Report.Rows, res)
		out.Rows = append(out.Rows, row)
	}

	out.Report.FinishedAt = time.Now()
	out.Report.Finalize()
	return out, nil
}

func rebuildOne(store cache.Store, e cache.Entry, v skywards.Variant, marker string) ([]domain.ResultRecord, domain.RowResult) {
	row := e.Meta.Row
	res := domain.RowResult{
		Index: e.Meta.Index,
		Line:  row.Line,
		Route: row.Route(),
	}
	fail := func(msg string) ([]domain.ResultRecord, domain.RowResult) {
		res.Outcome = domain.OutcomeFailed
		res.ErrorCode = domain.ErrCodeExtractFailed
		res.ErrorMsg = msg
		res.Records = 1
		return []domain.ResultRecord{domain.FailureRecord(row)}, res
	}

	html, ok, err := store.ReadHTML(e)
	if err != nil {
		return fail(fmt.Sprintf("读取快照失败：%v", err))
	}
	if !ok {
		return fail("快照缺少 HTML")
	}

	switch skywards.Classify(string(html), v.Selectors, marker) {
	case provider.PageAccessDenied:
		res.Outcome = domain.OutcomeAccessDenied
		res.Records = 1
		return []domain.ResultRecord{domain.AccessDeniedRecord(row)}, res
	case provider.PageResults:
		recs, err := skywards.Parse(string(html), row, v)
		if err != nil {
			return fail(fmt.Sprintf("解析快照失败：%v", err))
		}
		res.Outcome = domain.OutcomeOK
		res.Records = len(recs)
		return recs, res
	default:
		// 按状态码判定的拦截页在 DOM 上可能没有任何标记，以运行时的判定为准。
		if e.Meta.State == provider.PageAccessDenied.String() || e.Meta.Outcome == domain.OutcomeAccessDenied {
			res.Outcome = domain.OutcomeAccessDenied
			res.Records = 1
			return []domain.ResultRecord{domain.AccessDeniedRecord(row)}, res
		}
		return fail(fmt.Sprintf("快照不是结果页（原结局：%s）", e.Meta.Outcome))
	}
}
