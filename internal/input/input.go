package input

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/John-Robertt/skymiles/internal/code"
	"github.com/John-Robertt/skymiles/internal/domain"
)

// 输入表格的逻辑列。
const (
	ColAirline     = "airline"
	ColOrigin      = "origin"
	ColDestination = "destination"
	ColCabin       = "cabin_class"
	ColTier        = "tier"
	ColTrip        = "trip_type"
)

var requiredColumns = []string{ColAirline, ColOrigin, ColDestination, ColCabin, ColTier, ColTrip}

// aliases 把表头文本（小写、折叠空白后）映射到逻辑列。
var aliases = map[string]string{
	"airline":                ColAirline,
	"flying with":            ColAirline,
	"origin":                 ColOrigin,
	"leaving from":           ColOrigin,
	"destination":            ColDestination,
	"going to":               ColDestination,
	"cabin class":            ColCabin,
	"cabin":                  ColCabin,
	"tier":                   ColTier,
	"skywards tier":          ColTier,
	"emirates skywards tier": ColTier,
	"trip type":              ColTrip,
	"date (ow/rt)":           ColTrip,
	"direction":              ColTrip,
}

// Options 控制输入读取。
type Options struct {
	// Sheet 为空时读取第一个工作表（仅 xlsx）。
	Sheet string
	// Encoding 仅对 csv 生效：utf-8（默认）/ windows-1252 / windows-1251。
	Encoding string
}

// ReadRows 读取输入文件（.xlsx / .csv）并规范化为 InputRow。
//
// 约束：
// - 必须有表头；缺少任何必需列时返回 input_missing_columns，不读取数据行
// - 任一数据行无效时返回 input_invalid_row（带行号），不做部分读取
// - 全空的行会被跳过
func ReadRows(path string, o Options) ([]domain.InputRow, error) {
	var (
		table [][]string
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		table, err = readXLSX(path, o.Sheet)
	case ".csv":
		table, err = readCSV(path, o.Encoding)
	default:
		return nil, &Error{Code: domain.ErrCodeInputUnreadable, Path: path, Err: fmt.Errorf("不支持的文件类型：%q（仅支持 .xlsx / .csv）", filepath.Ext(path))}
	}
	if err != nil {
		var ie *Error
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &Error{Code: domain.ErrCodeInputUnreadable, Path: path, Err: err}
	}
	return parseTable(path, table)
}

func parseTable(path string, table [][]string) ([]domain.InputRow, error) {
	hdr := -1
	for i, r := range table {
		if !blank(r) {
			hdr = i
			break
		}
	}
	if hdr < 0 {
		return nil, &Error{Code: domain.ErrCodeInputMissingColumns, Path: path, Missing: append([]string(nil), requiredColumns...)}
	}

	idx := map[string]int{}
	for i, h := range table[hdr] {
		col, ok := aliases[headerKey(h)]
		if !ok {
			continue
		}
		if _, dup := idx[col]; !dup {
			idx[col] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{Code: domain.ErrCodeInputMissingColumns, Path: path, Line: hdr + 1, Missing: missing}
	}

	var out []domain.InputRow
	for i := hdr + 1; i < len(table); i++ {
		r := table[i]
		if blank(r) {
			continue
		}
		row, err := parseRow(r, idx)
		if err != nil {
			return nil, &Error{Code: domain.ErrCodeInputInvalidRow, Path: path, Line: i + 1, Err: err}
		}
		row.Line = i + 1
		out = append(out, row)
	}
	return out, nil
}

func parseRow(r []string, idx map[string]int) (domain.InputRow, error) {
	cell := func(col string) string {
		i := idx[col]
		if i >= len(r) {
			return ""
		}
		return r[i]
	}

	var (
		row domain.InputRow
		err error
	)
	if row.Airline, err = code.Text(ColAirline, cell(ColAirline)); err != nil {
		return row, err
	}
	if row.Origin, err = code.Airport(ColOrigin, cell(ColOrigin)); err != nil {
		return row, err
	}
	if row.Destination, err = code.Airport(ColDestination, cell(ColDestination)); err != nil {
		return row, err
	}
	if row.Origin == row.Destination {
		return row, fmt.Errorf("出发地与目的地相同：%s", row.Origin)
	}
	if row.Cabin, err = code.Cabin(cell(ColCabin)); err != nil {
		return row, err
	}
	if row.Tier, err = code.Text(ColTier, cell(ColTier)); err != nil {
		return row, err
	}
	if row.Trip, err = code.Trip(cell(ColTrip)); err != nil {
		return row, err
	}
	return row, nil
}

func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("工作簿中没有工作表")
	}
	name := sheets[0]
	if s := strings.TrimSpace(sheet); s != "" {
		name = ""
		for _, n := range sheets {
			if strings.EqualFold(n, s) {
				name = n
				break
			}
		}
		if name == "" {
			return nil, fmt.Errorf("找不到工作表 %q（可用：%s）", s, strings.Join(sheets, ", "))
		}
	}
	return f.GetRows(name)
}

func readCSV(path, encoding string) ([][]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		r = bytes.NewReader(bytes.TrimPrefix(b, []byte("\xef\xbb\xbf")))
	case "windows-1252", "cp1252":
		r = charmap.Windows1252.NewDecoder().Reader(bytes.NewReader(b))
	case "windows-1251", "cp1251":
		r = charmap.Windows1251.NewDecoder().Reader(bytes.NewReader(b))
	default:
		return nil, fmt.Errorf("不支持的编码：%q", encoding)
	}

	cr := csv.NewReader(r)
	cr.Comma = sniffComma(b)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

// sniffComma 按表头行猜测分隔符（欧洲地区导出的 csv 常用分号）。
func sniffComma(b []byte) rune {
	first, _, _ := bytes.Cut(b, []byte("\n"))
	if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		return ';'
	}
	return ','
}

func headerKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func blank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
