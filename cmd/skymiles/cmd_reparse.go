package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/skymiles/internal/app"
	"github.com/John-Robertt/skymiles/internal/app/reparse"
	"github.com/John-Robertt/skymiles/internal/config"
	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/export"
	"github.com/John-Robertt/skymiles/internal/infra/cache"
)

type reparseArgs struct {
	PagesDir    string
	OutDir      string
	Prefix      string
	BlockMarker string
	Report      bool
	LogLevel    string
}

func newReparseCmd(st stdio) *cobra.Command {
	var ra reparseArgs

	cmd := &cobra.Command{
		Use:   "reparse <pages-dir>",
		Short: "从 run --keep-pages 保存的页面快照离线重建工作簿（不启动浏览器）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ra.PagesDir = args[0]
			return exitWith(reparseBatch(ra, st))
		},
	}

	f := cmd.Flags()
	f.StringVar(&ra.OutDir, "out", config.DefaultOutDir, "输出目录")
	f.StringVar(&ra.Prefix, "prefix", config.DefaultFilePrefix, "输出文件名前缀")
	f.StringVar(&ra.BlockMarker, "block-marker", "", "覆盖变体默认的拦截页选择器")
	f.BoolVar(&ra.Report, "report", false, "同时把 RunReport 写到 <out>/report.json")
	f.StringVar(&ra.LogLevel, "log-level", "info", "日志级别：debug|info|warn|error")
	return cmd
}

func reparseBatch(ra reparseArgs, st stdio) int {
	setupLogger(st.err, ra.LogLevel, "text")

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(st.err, "读取当前目录失败：%v\n", err)
		return exitFailed
	}
	pagesDir := absInput(cwd, ra.PagesDir)
	outDir := absInput(cwd, ra.OutDir)

	res, err := reparse.Rebuild(cache.New(pagesDir, true), ra.BlockMarker)
	if err != nil {
		if errors.Is(err, reparse.ErrEmpty) {
			err = fmt.Errorf("%w：%s（是否忘了 run --keep-pages？）", err, pagesDir)
		}
		emitReport(st, reportForError(pagesDir, "", domain.ErrCodeInputUnreadable, err))
		return exitConfig
	}
	slog.Info("快照已重建", "component", "cli", "pages_dir", pagesDir, "rows", len(res.Rows), "records", len(res.Records))

	rr := res.Report
	out, err := export.Write(app.GroupByAction(res.Records), res.Rows, export.Options{
		Dir:    outDir,
		Prefix: ra.Prefix,
		Labels: res.Labels,
		Now:    time.Now(),
		RunID:  rr.RunID,
	})
	if err != nil {
		rr.FatalCode = domain.ErrCodeExportFailed
		rr.FatalMsg = fmt.Sprintf("写入工作簿失败：%v", err)
	} else {
		rr.Output = out
	}
	rr.FinishedAt = time.Now()
	rr.Finalize()

	code := finish(st, outDir, ra.Report, rr)
	if w, ok := pickProgressWriter(st); ok {
		emitLocations(w, rr)
	}
	return code
}
