package provider

import (
	"context"
	"regexp"
	"strings"

	"github.com/John-Robertt/skymiles/internal/domain"
)

// FieldKind 决定字段的填写方式（由具体 provider 解释）。
type FieldKind string

const (
	// FieldChoice 是单选按钮/标签页：点击即生效。
	FieldChoice FieldKind = "choice"
	// FieldCombobox 是可输入的下拉框：输入文本 + 回车确认。
	FieldCombobox FieldKind = "combobox"
	// FieldSelect 是只读下拉框：展开后点击文本完全匹配的选项。
	FieldSelect FieldKind = "select"
)

// Field 描述表单上的一个待填字段。
type Field struct {
	Name string
	Kind FieldKind
	// Want 是要输入/选择的值。
	Want string
	// Pattern 非空时用于校验回读值；为空时按 Want 做大小写不敏感的子串匹配。
	Pattern *regexp.Regexp
}

// Matches 判断回读值是否已经包含期望值。
// combobox 回读值通常是 "Abidjan (ABJ)" 这类展示文本，所以用子串而不是全等。
func Matches(f Field, got string) bool {
	got = strings.TrimSpace(got)
	if got == "" {
		return false
	}
	if f.Pattern != nil {
		return f.Pattern.MatchString(got)
	}
	want := strings.TrimSpace(f.Want)
	if want == "" {
		return false
	}
	return strings.Contains(strings.ToLower(got), strings.ToLower(want))
}

// PageState 是提交后页面的终态。
type PageState int

const (
	PagePending PageState = iota
	PageResults
	PageAccessDenied
)

func (s PageState) String() string {
	switch s {
	case PageResults:
		return "results"
	case PageAccessDenied:
		return "access_denied"
	default:
		return "pending"
	}
}

// FormFiller 把“站点表单细节”限制在 provider 内部；核心流程只按字段驱动。
//
// 约束：
// - 所有方法都作用于同一个共享页面，调用方保证串行
// - EnterField 只负责输入一次，不做重试与校验（由核心流程的有界重试负责）
// - 会话被外部关闭时返回包装了 ErrSessionClosed 的错误
type FormFiller interface {
	// Reset 把页面带回“可填写的搜索态”（必要时重新导航、关闭 cookie 弹窗）。
	Reset(ctx context.Context) error
	// Fields 返回该行需要填写的字段（有序）。
	Fields(row domain.InputRow) []Field
	ReadField(ctx context.Context, f Field) (string, error)
	EnterField(ctx context.Context, f Field) error
	Submit(ctx context.Context) error
	// Restore 在每行结束后调用（无论成功与否），为下一行做准备。
	Restore(ctx context.Context) error
}

// ResultExtractor 负责结果页的判定与解析。
//
// 约束：
// - Await 必须在 ctx 截止前返回；超时返回 ctx 错误
// - Extract 必须为每个已知 fare 类别返回一条记录，缺失的值用 domain.ValueNA
type ResultExtractor interface {
	Await(ctx context.Context) (PageState, error)
	Extract(ctx context.Context, row domain.InputRow) ([]domain.ResultRecord, error)
}

// Provider 是一个站点变体（URL + 选择器集合 + fare 类别 + 列名）。
type Provider interface {
	Name() string
	FormFiller
	ResultExtractor
}

// Snapshotter 是可选能力：保存当前页面用于事后排查与离线重解析。
type Snapshotter interface {
	Snapshot(ctx context.Context) (html []byte, png []byte, err error)
}

// Labels 是导出表格中与站点相关的列名。
type Labels struct {
	Airline   string
	Tier      string
	Miles     string
	TierMiles string
}

// Labeler 是可选能力：provider 自定义导出列名。
type Labeler interface {
	Labels() Labels
}
