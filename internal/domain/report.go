package domain

import (
	"encoding/json"
	"time"
)

const (
	OutcomeOK           = "ok"
	OutcomeAccessDenied = "access_denied"
	OutcomeFailed       = "failed"
	OutcomeAborted      = "aborted"
)

const (
	ErrCodeResetFailed   = "reset_failed"
	ErrCodeFillFailed    = "fill_failed"
	ErrCodeSubmitFailed  = "submit_failed"
	ErrCodeResultTimeout = "result_timeout"
	ErrCodeExtractFailed = "extract_failed"
	ErrCodeSessionClosed = "session_closed"
	ErrCodeExportFailed  = "export_failed"
	ErrCodeCanceled      = "canceled"
	ErrCodeBrowserLaunch = "browser_launch_failed"

	ErrCodeConfigNotFound      = "config_not_found"
	ErrCodeConfigInvalid       = "config_invalid"
	ErrCodeInputMissingColumns = "input_missing_columns"
	ErrCodeInputInvalidRow     = "input_invalid_row"
	ErrCodeInputUnreadable     = "input_unreadable"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID   string `json:"run_id"`
	Variant string `json:"variant"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	// PagesDir 仅在 keep_pages 时非空：页面快照目录（可交给 reparse）。
	PagesDir string `json:"pages_dir,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Fatal 仅在整批中止（配置错误/会话丢失/导出失败）时非空。
	FatalCode string `json:"fatal_code,omitempty"`
	FatalMsg  string `json:"fatal_msg,omitempty"`

	Summary ReportSummary `json:"summary"`
	Rows    []RowResult   `json:"rows"`
}

type ReportSummary struct {
	Rows         int `json:"rows"`
	OK           int `json:"ok"`
	AccessDenied int `json:"access_denied"`
	Failed       int `json:"failed"`
	Aborted      int `json:"aborted"`
	Records      int `json:"records"`
}

// RowResult 记录一行输入的最终结局（与输入一一对应）。
type RowResult struct {
	Index   int    `json:"index"`
	Line    int    `json:"line"`
	Route   string `json:"route"`
	Outcome string `json:"outcome"`
	Records int    `json:"records"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Fields     []FieldAttempt `json:"fields"`
	DurationMS int64          `json:"duration_ms"`
}

// FieldAttempt 记录单个表单字段的填写轨迹（用于解释 fill_failed）。
type FieldAttempt struct {
	Field    string `json:"field"`
	Attempts int    `json:"attempts"`
	Typed    int    `json:"typed"`
	OK       bool   `json:"ok"`
	Got      string `json:"got,omitempty"`
}

// Finalize 做两件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) summary 由 rows 计算得出
//
// rows 保持输入顺序，不做排序。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	s := ReportSummary{Rows: len(r.Rows)}
	for _, row := range r.Rows {
		s.Records += row.Records
		switch row.Outcome {
		case OutcomeOK:
			s.OK++
		case OutcomeAccessDenied:
			s.AccessDenied++
		case OutcomeFailed:
			s.Failed++
		case OutcomeAborted:
			s.Aborted++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.Rows == nil {
		a.Rows = []RowResult{}
	}
	return json.Marshal(a)
}
