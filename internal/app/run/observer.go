package run

import (
	"time"

	"github.com/John-Robertt/skymiles/internal/config"
	"github.com/John-Robertt/skymiles/internal/domain"
)

// Observer 用于把“运行进度/行结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件在驱动 goroutine 上同步发出；实现若自带 ticker，需要自行加锁。
type Observer interface {
	// OnStart 在 Execute 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig, total int)
	// OnRowStart 在某一行开始填写前调用。
	OnRowStart(idx, total int, row domain.InputRow)
	// OnRowDone 在某一行得出结局后调用（包括 aborted 行）。
	OnRowDone(idx, total int, res domain.RowResult, dur time.Duration)
	// OnPhaseDone 在整批结束时调用（用于打印汇总与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig, int)                 {}
func (nopObserver) OnRowStart(int, int, domain.InputRow)                {}
func (nopObserver) OnRowDone(int, int, domain.RowResult, time.Duration) {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)   {}
