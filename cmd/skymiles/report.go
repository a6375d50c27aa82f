package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/infra/fsx"
)

// emitReport 输出最终报告。
//
// stdout 是 TTY：汇总表 + 失败行表；否则 stdout 必须且仅输出一个 RunReport JSON（摘要走 stderr）。
func emitReport(st stdio, rr domain.RunReport) {
	if st.outTTY {
		renderSummary(st.out, rr)
		return
	}
	enc := json.NewEncoder(st.out)
	_ = enc.Encode(rr)
	fmt.Fprintln(st.err, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	line := fmt.Sprintf("完成：rows=%d ok=%d access_denied=%d failed=%d aborted=%d records=%d",
		s.Rows, s.OK, s.AccessDenied, s.Failed, s.Aborted, s.Records,
	)
	if rr.FatalCode != "" {
		line += fmt.Sprintf(" fatal=%s: %s", rr.FatalCode, rr.FatalMsg)
	}
	return line
}

func renderSummary(w io.Writer, rr domain.RunReport) {
	s := rr.Summary
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Rows", "OK", "Access Denied", "Failed", "Aborted", "Records"})
	t.AppendRow(table.Row{s.Rows, s.OK, s.AccessDenied, s.Failed, s.Aborted, s.Records})
	t.Render()

	if rr.FatalCode != "" {
		fmt.Fprintf(w, "中止：%s: %s\n", rr.FatalCode, rr.FatalMsg)
	}

	var bad []domain.RowResult
	for _, r := range rr.Rows {
		if r.Outcome == domain.OutcomeFailed || r.Outcome == domain.OutcomeAccessDenied {
			bad = append(bad, r)
		}
	}
	if len(bad) == 0 {
		return
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleRounded)
	ft.AppendHeader(table.Row{"#", "Line", "Route", "Outcome", "Error"})
	for _, r := range bad {
		msg := r.ErrorMsg
		if r.ErrorCode != "" {
			msg = r.ErrorCode + ": " + truncate(msg, 100)
		}
		ft.AppendRow(table.Row{r.Index + 1, r.Line, r.Route, r.Outcome, msg})
	}
	ft.Render()
}

// reportForError 为运行前的致命错误（配置/输入/浏览器启动）合成一份报告。
func reportForError(inputPath, variant, code string, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Input:      inputPath,
		Variant:    variant,
		StartedAt:  now,
		FinishedAt: now,
		FatalCode:  code,
		FatalMsg:   err.Error(),
	}
	rr.Finalize()
	return rr
}

func writeReportFile(outDir string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteReplace(outDir, "report.json", b)
}

func emitLocations(w io.Writer, rr domain.RunReport) {
	// 完成后直接告诉用户产物在哪，不影响 stdout JSON 契约。
	if w == nil {
		return
	}
	if rr.Output != "" {
		fmt.Fprintf(w, "workbook: %s\n", rr.Output)
	}
	if rr.PagesDir != "" {
		fmt.Fprintf(w, "pages: %s\n", rr.PagesDir)
	}
}
