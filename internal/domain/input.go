package domain

import "strings"

// CabinClass 是表单上的舱位枚举（值即页面上的选项文本）。
type CabinClass string

const (
	CabinEconomy        CabinClass = "Economy"
	CabinPremiumEconomy CabinClass = "Premium Economy"
	CabinBusiness       CabinClass = "Business"
	CabinFirst          CabinClass = "First"
)

// TripType 是单程/往返枚举。
type TripType string

const (
	TripOneWay    TripType = "OneWay"
	TripRoundTrip TripType = "RoundTrip"
)

// Label 返回页面与导出表格使用的展示文本。
func (t TripType) Label() string {
	switch t {
	case TripRoundTrip:
		return "Round Trip"
	default:
		return "One Way"
	}
}

// InputRow 是一次查询请求（输入表格中的一行）。
//
// 约束：
// - 读入后不可变；核心流程只按值传递
// - Origin/Destination 已规范化为 3 位大写 IATA 代码
type InputRow struct {
	Airline     string     `json:"airline"`
	Origin      string     `json:"origin"`
	Destination string     `json:"destination"`
	Cabin       CabinClass `json:"cabin_class"`
	Tier        string     `json:"tier"`
	Trip        TripType   `json:"trip_type"`

	// Line 是输入文件中的行号（1 起，含表头），只用于诊断。
	Line int `json:"line"`
}

// Route 返回形如 ABJ-ADD 的航线标识。
func (r InputRow) Route() string {
	return strings.ToUpper(r.Origin) + "-" + strings.ToUpper(r.Destination)
}
