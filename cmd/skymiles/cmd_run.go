package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/skymiles/internal/app"
	"github.com/John-Robertt/skymiles/internal/app/run"
	"github.com/John-Robertt/skymiles/internal/config"
	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/export"
	"github.com/John-Robertt/skymiles/internal/infra/browser"
	"github.com/John-Robertt/skymiles/internal/input"
	"github.com/John-Robertt/skymiles/internal/provider"
	"github.com/John-Robertt/skymiles/internal/provider/skywards"
)

func newRunCmd(st stdio) *cobra.Command {
	var cli config.CLIArgs

	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "逐行查询输入表格中的航线并导出工作簿",
		Long: `逐行查询输入表格中的航线并导出工作簿。

input 未指定时读取配置项 input。覆盖优先级：命令行 > SKYMILES_* 环境变量 > .env > 配置文件 > 默认值。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cli.Input = args[0]
			}
			f := cmd.Flags()
			cli.VariantSet = f.Changed("variant")
			cli.OutDirSet = f.Changed("out")
			cli.HeadlessSet = f.Changed("headless")
			cli.MaxAttemptsSet = f.Changed("max-attempts")
			cli.ResultTimeoutSet = f.Changed("result-timeout")
			cli.StrictFillSet = f.Changed("strict-fill")
			cli.KeepPagesSet = f.Changed("keep-pages")
			cli.ReportSet = f.Changed("report")
			cli.LogLevelSet = f.Changed("log-level")
			return exitWith(runBatch(cmd.Context(), cli, st))
		},
	}

	f := cmd.Flags()
	f.StringVar(&cli.ConfigPath, "config", "", "配置文件路径（默认在当前目录查找 skymiles.yaml/json/toml）")
	f.StringVar(&cli.Variant, "variant", config.DefaultVariant, "站点变体："+strings.Join(skywards.VariantNames(), "|"))
	f.StringVar(&cli.OutDir, "out", config.DefaultOutDir, "输出目录")
	f.BoolVar(&cli.Headless, "headless", true, "无头模式启动浏览器；--headless=false 可观察填写过程")
	f.IntVar(&cli.MaxAttempts, "max-attempts", config.DefaultMaxAttempts, "每个字段的最大尝试次数")
	f.DurationVar(&cli.ResultTimeout, "result-timeout", config.DefaultResultTimeout, "提交后等待结果/拦截页的上限")
	f.BoolVar(&cli.StrictFill, "strict-fill", false, "任一字段填写失败即放弃该行（默认仍然提交）")
	f.BoolVar(&cli.KeepPages, "keep-pages", false, "保存每行的页面快照到 <out>/pages/<run>/（可交给 reparse）")
	f.BoolVar(&cli.Report, "report", false, "同时把 RunReport 写到 <out>/report.json")
	f.StringVar(&cli.LogLevel, "log-level", "info", "日志级别：debug|info|warn|error")
	return cmd
}

func runBatch(ctx context.Context, cli config.CLIArgs, st stdio) int {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(st.err, "读取当前目录失败：%v\n", err)
		return exitFailed
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		rr := reportForError(absInput(cwd, cli.Input), cli.Variant, config.Code(err), err)
		emitReport(st, rr)
		return exitConfig
	}
	setupLogger(st.err, eff.LogLevel, eff.LogFormat)
	slog.DebugContext(ctx, "配置已生效", "component", "cli", "config_file", eff.ConfigFile, "variant", eff.Variant)

	if _, ok := skywards.Lookup(eff.Variant); !ok {
		err := &config.Error{
			Code: config.ErrCodeInvalid,
			Path: eff.ConfigFile,
			Err:  fmt.Errorf("variant 只能是 %s，实际 %q", strings.Join(skywards.VariantNames(), "/"), eff.Variant),
		}
		emitReport(st, reportForError(eff.Input, eff.Variant, err.Code, err))
		return exitConfig
	}

	rows, err := input.ReadRows(eff.Input, input.Options{Sheet: eff.InputSheet, Encoding: eff.InputEncoding})
	if err != nil {
		emitReport(st, reportForError(eff.Input, eff.Variant, inputCode(err), err))
		return exitConfig
	}
	slog.InfoContext(ctx, "输入已读取", "component", "cli", "input", eff.Input, "rows", len(rows))

	sess, err := browser.Open(ctx, browser.Options{
		Headless:   eff.Headless,
		ProxyURL:   eff.ProxyURL,
		UserAgent:  eff.UserAgent,
		NavTimeout: eff.NavTimeout,
	})
	if err != nil {
		rr := reportForError(eff.Input, eff.Variant, domain.ErrCodeBrowserLaunch, fmt.Errorf("启动浏览器失败：%w", err))
		emitReport(st, rr)
		return exitFailed
	}
	defer sess.Close()

	prov, err := pickProvider(sess, eff)
	if err != nil {
		fmt.Fprintf(st.err, "初始化 provider 失败：%v\n", err)
		return exitFailed
	}

	progressW, interactive := pickProgressWriter(st)
	var obs run.Observer
	var ui *progressUI
	if interactive {
		ui = newProgressUI(progressW)
		obs = ui
	}

	batch, runErr := run.Execute(ctx, eff, prov, rows, obs)
	if ui != nil {
		ui.Stop()
	}
	rr := batch.Report
	if runErr != nil {
		slog.WarnContext(ctx, "整批提前结束", "component", "cli", "err", runErr)
	}

	labels := export.DefaultLabels
	if l, ok := prov.(provider.Labeler); ok {
		labels = l.Labels()
	}
	out, err := export.Write(app.GroupByAction(batch.Records), rows, export.Options{
		Dir:    eff.OutDir,
		Prefix: eff.FilePrefix,
		Labels: labels,
		Now:    time.Now(),
		RunID:  rr.RunID,
	})
	switch {
	case errors.Is(err, export.ErrNoRecords):
		slog.WarnContext(ctx, "没有可导出的记录，未生成工作簿", "component", "cli")
	case err != nil:
		if rr.FatalCode == "" {
			rr.FatalCode = domain.ErrCodeExportFailed
			rr.FatalMsg = fmt.Sprintf("写入工作簿失败：%v", err)
		}
	default:
		rr.Output = out
	}
	rr.Finalize()

	code := finish(st, eff.OutDir, eff.Report, rr)
	if interactive {
		emitLocations(progressW, rr)
	}
	return code
}

// pickProvider 为每个已知变体构造 provider（共享同一会话），再按名取出。
func pickProvider(sess *browser.Session, eff config.EffectiveConfig) (provider.Provider, error) {
	names := skywards.VariantNames()
	ps := make([]provider.Provider, 0, len(names))
	for _, n := range names {
		v, _ := skywards.Lookup(n)
		ps = append(ps, skywards.New(v, sess, skywards.WithBlockMarker(eff.BlockMarker)))
	}
	reg, err := provider.NewRegistry(ps...)
	if err != nil {
		return nil, err
	}
	return reg.Resolve(eff.Variant)
}

// finish 负责 report.json 落盘、报告输出与退出码。
func finish(st stdio, outDir string, writeFile bool, rr domain.RunReport) int {
	code := exitCode(rr)
	if writeFile {
		if err := writeReportFile(outDir, rr); err != nil {
			fmt.Fprintf(st.err, "写入 report.json 失败：%v\n", err)
			code = exitFailed
		}
	}
	emitReport(st, rr)
	return code
}

func exitCode(rr domain.RunReport) int {
	if rr.FatalCode != "" || rr.Summary.Failed > 0 || rr.Summary.Aborted > 0 {
		return exitFailed
	}
	return exitOK
}

func inputCode(err error) string {
	var ie *input.Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return domain.ErrCodeInputUnreadable
}

func absInput(cwd, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cwd, p)
}
