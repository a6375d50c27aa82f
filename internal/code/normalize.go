package code

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/John-Robertt/skymiles/internal/domain"
)

// 机场代码：要么整格就是 3 个字母，要么是 "Abidjan (ABJ)" 这种带括号的展示文本。
var (
	airportRE  = regexp.MustCompile(`^[A-Za-z]{3}$`)
	embeddedRE = regexp.MustCompile(`\(([A-Za-z]{3})\)`)
	spaceRE    = regexp.MustCompile(`\s+`)
)

// InvalidError 表示某个输入值无法规范化。
type InvalidError struct {
	Field string
	Value string
	// Candidates 仅在同一格出现多个候选代码时返回（已排序）。
	Candidates []string
}

func (e *InvalidError) Error() string {
	if len(e.Candidates) > 1 {
		return fmt.Sprintf("%s 解析到多个候选（ambiguous）：%s", e.Field, strings.Join(e.Candidates, ", "))
	}
	if strings.TrimSpace(e.Value) == "" {
		return fmt.Sprintf("%s 不能为空", e.Field)
	}
	return fmt.Sprintf("%s 无效：%q", e.Field, e.Value)
}

// Airport 规范化 IATA 机场代码（3 位大写）。
func Airport(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if airportRE.MatchString(s) {
		return strings.ToUpper(s), nil
	}

	seen := map[string]struct{}{}
	for _, m := range embeddedRE.FindAllStringSubmatch(s, -1) {
		seen[strings.ToUpper(m[1])] = struct{}{}
	}
	switch len(seen) {
	case 1:
		for c := range seen {
			return c, nil
		}
	case 0:
		// fallthrough to error
	default:
		cands := make([]string, 0, len(seen))
		for c := range seen {
			cands = append(cands, c)
		}
		sort.Strings(cands)
		return "", &InvalidError{Field: field, Value: s, Candidates: cands}
	}
	return "", &InvalidError{Field: field, Value: s}
}

// Cabin 把常见写法映射到舱位枚举。
func Cabin(s string) (domain.CabinClass, error) {
	switch key(s) {
	case "economy", "eco", "y":
		return domain.CabinEconomy, nil
	case "premiumeconomy", "premium", "w":
		return domain.CabinPremiumEconomy, nil
	case "business", "j", "c":
		return domain.CabinBusiness, nil
	case "first", "f":
		return domain.CabinFirst, nil
	default:
		return "", &InvalidError{Field: "cabin_class", Value: s}
	}
}

// Trip 把 "One Way"/"OW"/"Round Trip"/"RT" 等写法映射到行程枚举。
func Trip(s string) (domain.TripType, error) {
	switch key(s) {
	case "oneway", "ow", "single":
		return domain.TripOneWay, nil
	case "roundtrip", "rt", "return":
		return domain.TripRoundTrip, nil
	default:
		return "", &InvalidError{Field: "trip_type", Value: s}
	}
}

// Text 做最小规范化：去首尾空白 + 折叠内部空白。空值返回错误。
func Text(field, s string) (string, error) {
	s = strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
	if s == "" {
		return "", &InvalidError{Field: field}
	}
	return s, nil
}

func key(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "", "-", "", "_", "", "/", "").Replace(s)
	return s
}
