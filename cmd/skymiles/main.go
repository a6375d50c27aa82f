package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// 退出码：
// - 0：整批完成且没有失败行（Access Denied 属于数据，不算失败）
// - 1：存在失败行，或整批中止（会话丢失/取消/导出失败）
// - 2：配置或输入错误（发生在任何浏览器交互之前），以及命令行用法错误
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// exitError 让子命令把退出码交还给 main，而不是在深处直接 os.Exit。
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func exitWith(code int) error {
	if code == exitOK {
		return nil
	}
	return &exitError{code: code}
}

// stdio 收拢 CLI 的输出端，便于测试替换。
type stdio struct {
	out, err       io.Writer
	outTTY, errTTY bool
}

func osStdio() stdio {
	return stdio{
		out:    os.Stdout,
		err:    os.Stderr,
		outTTY: isTTY(os.Stdout),
		errTTY: isTTY(os.Stderr),
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], osStdio())
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, st stdio) int {
	root := newRootCmd(st)
	root.SetArgs(args)
	root.SetOut(st.out)
	root.SetErr(st.err)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 的参数/用法错误
	fmt.Fprintf(st.err, "参数错误：%v\n\n", err)
	fmt.Fprint(st.err, root.UsageString())
	return exitConfig
}

func newRootCmd(st stdio) *cobra.Command {
	root := &cobra.Command{
		Use:   "skymiles",
		Short: "批量查询航司里程计算器，并把结果导出为 Excel 工作簿",
		Long: `skymiles 读取一个 .xlsx/.csv 输入表格，用同一个浏览器会话逐行填写里程计算器表单，
把每行的结果（或拦截/失败占位）汇总到一个工作簿里。

stdout 非 TTY 时只输出一个 RunReport JSON；进度与日志走 stderr。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(st), newReparseCmd(st))
	return root
}

// setupLogger 安装全局 slog handler（始终写 stderr，不污染 stdout 的 JSON 契约）。
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter(st stdio) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if st.errTTY {
		return st.err, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if st.outTTY {
		return st.out, true
	}
	return nil, false
}
