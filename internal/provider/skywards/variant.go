package skywards

import (
	"sort"
	"strings"

	"github.com/John-Robertt/skymiles/internal/provider"
)

// Fare 是结果页上的一个 branded fare 类别。
type Fare struct {
	// Key 是卡片 class 的后缀（例如 miles-card__ek-economy-flexplus 中的 flexplus）。
	Key string
	// Label 是导出到表格的展示名。
	Label string
}

// Selectors 是一个站点变体依赖的全部选择器。
// 它们是实现细节，不是对外契约：页面改版时只需要改这里。
type Selectors struct {
	FormReady    string
	CookieAccept string

	TripOneWay    string
	TripRoundTrip string

	// Combobox 是 data-testid 的前缀，完整值为 Combobox + 字段标签。
	Combobox    string
	ComboInput  string
	SuggestItem string
	Submit      string

	Results     string
	ActiveTab   string
	CardWrapper string
	Card        string
	MilesTitle  string
	MilesValue  string
	TierMiles   string

	// BlockMarker 是拦截页的兜底启发式；可被配置覆盖。
	BlockMarker string
}

// ComboboxSel 返回某个下拉框的容器选择器。
func (s Selectors) ComboboxSel(label string) string {
	return `div[data-testid="` + s.Combobox + label + `"]`
}

// InputSel 返回某个下拉框内的输入框选择器。
func (s Selectors) InputSel(label string) string {
	return s.ComboboxSel(label) + " " + s.ComboInput
}

// FieldLabels 是表单上各字段的可见标签（也是 data-testid 的组成部分）。
type FieldLabels struct {
	Airline     string
	Origin      string
	Destination string
	Cabin       string
	Tier        string
}

// Variant 描述一个站点变体：URL + 选择器集合 + fare 类别 + 导出列名。
type Variant struct {
	Name      string
	URL       string
	Selectors Selectors
	Fields    FieldLabels
	Fares     []Fare
	// MilesTitle 是卡片里“里程”标题的文本，用于定位紧随其后的数值。
	MilesTitle string
	Labels     provider.Labels
}

var defaultSelectors = Selectors{
	FormReady:    `div[data-testid="combobox_Flying with"]`,
	CookieAccept: "#onetrust-accept-btn-handler",

	TripOneWay:    "input.radio-button__input#OW0",
	TripRoundTrip: "input.radio-button__input#RT1",

	Combobox:    "combobox_",
	ComboInput:  "input.input-field__input",
	SuggestItem: "button.auto-suggest__item",
	Submit:      `button[aria-label="Calculate"]`,

	Results:     ".miles-calculator-result__section",
	ActiveTab:   `a[aria-selected="true"] .miles-calculator-result__tab-button--text`,
	CardWrapper: ".miles-calculator-result__card-wrapper",
	Card:        ".miles-card__card",
	MilesTitle:  ".miles-card__content__miles .miles-card__skywards-title",
	MilesValue:  ".miles-card__skywards-miles",
	TierMiles:   ".miles-card__content__miles .miles-card__tier-miles .miles-card__skywards-miles span",

	BlockMarker: "h1:not([class]):not([id])",
}

var defaultFields = FieldLabels{
	Airline:     "Flying with",
	Origin:      "Leaving from",
	Destination: "Going to",
	Cabin:       "Cabin class",
	Tier:        "Emirates Skywards tier",
}

var defaultFares = []Fare{
	{Key: "special", Label: "Special"},
	{Key: "saver", Label: "Saver"},
	{Key: "flex", Label: "Flex"},
	{Key: "flexplus", Label: "Flex Plus"},
}

var defaultLabels = provider.Labels{
	Airline:   "Flying With",
	Tier:      "Emirates Skywards Tier",
	Miles:     "Skywards Miles",
	TierMiles: "Tier Miles",
}

var variants = map[string]Variant{
	"skywards-ph": {
		Name:       "skywards-ph",
		URL:        "https://www.emirates.com/ph/english/skywards/miles-calculator/",
		Selectors:  defaultSelectors,
		Fields:     defaultFields,
		Fares:      defaultFares,
		MilesTitle: "Skywards Miles",
		Labels:     defaultLabels,
	},
	"skywards-us": {
		Name:       "skywards-us",
		URL:        "https://www.emirates.com/us/english/skywards/miles-calculator/",
		Selectors:  defaultSelectors,
		Fields:     defaultFields,
		Fares:      defaultFares,
		MilesTitle: "Skywards Miles",
		Labels:     defaultLabels,
	},
}

// Lookup 按名称（大小写不敏感）查找内置变体。
func Lookup(name string) (Variant, bool) {
	v, ok := variants[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// VariantNames 返回内置变体名（字典序）。
func VariantNames() []string {
	out := make([]string, 0, len(variants))
	for n := range variants {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
