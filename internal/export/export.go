package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/infra/fsx"
	"github.com/John-Robertt/skymiles/internal/provider"
)

// ErrNoRecords 表示没有任何记录可导出（例如整批在第一行之前就中止）。
var ErrNoRecords = errors.New("没有可导出的记录")

// DefaultLabels 是 provider 未自定义列名时使用的列名。
var DefaultLabels = provider.Labels{
	Airline:   "Flying With",
	Tier:      "Tier",
	Miles:     "Miles",
	TierMiles: "Tier Miles",
}

type Options struct {
	Dir    string
	Prefix string
	Labels provider.Labels
	// Now 用于文件名中的时间戳（调用方决定时区）。
	Now   time.Time
	RunID string
}

// BatchID 返回文件名里的批次标识：
// - 所有行同一航线：ORIG-DEST
// - 所有行同一出发地：ORIG-multi
// - 否则：batch-<run id 前 8 位>
func BatchID(rows []domain.InputRow, runID string) string {
	if len(rows) > 0 {
		sameRoute, sameOrigin := true, true
		for _, r := range rows[1:] {
			if r.Origin != rows[0].Origin {
				sameOrigin = false
			}
			if r.Route() != rows[0].Route() {
				sameRoute = false
			}
		}
		switch {
		case sameRoute:
			return rows[0].Route()
		case sameOrigin:
			return strings.ToUpper(rows[0].Origin) + "-multi"
		}
	}
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "unknown"
	}
	return "batch-" + id
}

// FileName 返回 <prefix>_<batch-id>_<YYYYMMDD-HHMMSS>.xlsx。
func FileName(prefix, batchID string, now time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "miles"
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", prefix, batchID, now.Format("20060102-150405"))
}

// Write 把分组写成一个工作簿（每组一个 sheet），返回写入的文件路径。
//
// 约束：
// - 原子写入；永远不覆盖已有文件（重名时追加 _2、_3）
// - groups 为空时返回 ErrNoRecords，不产生文件
func Write(groups []domain.Group, rows []domain.InputRow, o Options) (string, error) {
	if len(groups) == 0 {
		return "", ErrNoRecords
	}
	f, err := Build(groups, o.Labels)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("生成工作簿失败：%w", err)
	}

	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	base := FileName(o.Prefix, BatchID(rows, o.RunID), now)
	for try := 0; try < 3; try++ {
		name, err := fsx.UniqueName(o.Dir, base)
		if err != nil {
			return "", err
		}
		err = fsx.WriteNew(o.Dir, name, buf.Bytes())
		if errors.Is(err, os.ErrExist) {
			// 并发运行抢占了同名文件：重新挑选。
			continue
		}
		if err != nil {
			return "", err
		}
		return filepath.Join(o.Dir, name), nil
	}
	return "", fmt.Errorf("无法为 %q 找到可用文件名", base)
}

// Build 在内存中生成工作簿。
func Build(groups []domain.Group, labels provider.Labels) (*excelize.File, error) {
	labels = withDefaults(labels)
	header := []any{
		"Action", labels.Airline, "Leaving from", "Going to", "Date (OW/RT)",
		"Cabin Class", labels.Tier, "Branded Fare", labels.Miles, labels.TierMiles,
	}

	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	names := SheetNames(groups)
	for gi, g := range groups {
		name := names[gi]
		if gi == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				f.Close()
				return nil, err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
		if err := writeSheet(f, name, header, bold, g.Records); err != nil {
			f.Close()
			return nil, fmt.Errorf("写入 sheet %q 失败：%w", name, err)
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, header []any, headerStyle int, recs []domain.ResultRecord) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, len(header), 16); err != nil {
		return err
	}

	hcells := make([]any, len(header))
	for i, h := range header {
		hcells[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", hcells); err != nil {
		return err
	}

	for i, r := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			r.Action,
			r.Input.Airline,
			r.Input.Origin,
			r.Input.Destination,
			r.Input.Trip.Label(),
			string(r.Input.Cabin),
			r.Input.Tier,
			r.BrandedFare,
			r.Miles,
			r.TierMiles,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func withDefaults(l provider.Labels) provider.Labels {
	if strings.TrimSpace(l.Airline) == "" {
		l.Airline = DefaultLabels.Airline
	}
	if strings.TrimSpace(l.Tier) == "" {
		l.Tier = DefaultLabels.Tier
	}
	if strings.TrimSpace(l.Miles) == "" {
		l.Miles = DefaultLabels.Miles
	}
	if strings.TrimSpace(l.TierMiles) == "" {
		l.TierMiles = DefaultLabels.TierMiles
	}
	return l
}
