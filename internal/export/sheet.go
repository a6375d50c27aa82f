package export

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/skymiles/internal/domain"
)

const maxSheetName = 31

var sheetReplacer = strings.NewReplacer(
	"[", "(", "]", ")",
	":", "-", "*", "-", "?", "",
	"/", "-", `\`, "-",
)

// SanitizeSheetName 按 Excel 规则清洗 sheet 名：去掉非法字符、去首尾单引号、截断到 31 个字符。
func SanitizeSheetName(s string) string {
	s = sheetReplacer.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, "'")
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "history") {
		s = "Sheet"
	}
	return truncate(s, maxSheetName)
}

// SheetNames 为每个分组返回唯一的 sheet 名（Excel 比较时不区分大小写）。
func SheetNames(groups []domain.Group) []string {
	used := make(map[string]struct{}, len(groups))
	out := make([]string, len(groups))
	for i, g := range groups {
		base := SanitizeSheetName(g.Action)
		name := base
		for n := 2; ; n++ {
			if _, ok := used[strings.ToLower(name)]; !ok {
				break
			}
			suffix := fmt.Sprintf(" (%d)", n)
			name = truncate(base, maxSheetName-len(suffix)) + suffix
		}
		used[strings.ToLower(name)] = struct{}{}
		out[i] = name
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
