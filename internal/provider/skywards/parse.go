package skywards

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/provider"
)

// Classify 判定页面处于结果页、拦截页还是仍在等待。
//
// 结果页优先：拦截标记是启发式的，只在结果不存在时才参与判定。
// Classify 是纯函数，只依赖输入 html。
func Classify(html string, sel Selectors, blockMarker string) provider.PageState {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return provider.PagePending
	}
	if sel.Results != "" && doc.Find(sel.Results).Length() > 0 {
		return provider.PageResults
	}
	if strings.Contains(strings.ToLower(doc.Find("title").First().Text()), "access denied") {
		return provider.PageAccessDenied
	}
	if blockMarker != "" && doc.Find(blockMarker).Length() > 0 {
		return provider.PageAccessDenied
	}
	return provider.PagePending
}

// Parse 把结果页 HTML 解析为记录：每个 fare 类别恰好一条，顺序与 fares 一致。
//
// 约束：
// - 找不到卡片或数值时填 domain.ValueNA，不返回错误
// - action 取当前选中的标签页文本，缺失时为 domain.ActionEarn
// - 只解析第一个卡片容器，避免同一行产生重复记录
func Parse(html string, row domain.InputRow, v Variant) ([]domain.ResultRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	sel := v.Selectors

	action := normSpace(doc.Find(sel.ActiveTab).First().Text())
	if action == "" {
		action = domain.ActionEarn
	}

	scope := doc.Selection
	if w := doc.Find(sel.CardWrapper).First(); w.Length() > 0 {
		scope = w
	}

	out := make([]domain.ResultRecord, 0, len(v.Fares))
	for _, f := range v.Fares {
		rec := domain.ResultRecord{
			Action:      action,
			Input:       row,
			BrandedFare: f.Label,
			Miles:       domain.ValueNA,
			TierMiles:   domain.ValueNA,
		}
		card := findCard(scope, sel.Card, f.Key)
		if card.Length() > 0 {
			if m := milesOf(card, sel, v.MilesTitle); m != "" {
				rec.Miles = m
			}
			if tm := normSpace(card.Find(sel.TierMiles).First().Text()); tm != "" {
				rec.TierMiles = tm
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// findCard 找到 class 以 "-<key>" 结尾的卡片。
// 用后缀而不是子串匹配：flex 不能命中 flexplus。
func findCard(scope *goquery.Selection, cardSel, key string) *goquery.Selection {
	suffix := "-" + key
	return scope.Find(cardSel).FilterFunction(func(_ int, s *goquery.Selection) bool {
		for _, c := range strings.Fields(s.AttrOr("class", "")) {
			if strings.HasSuffix(c, suffix) {
				return true
			}
		}
		return false
	}).First()
}

func milesOf(card *goquery.Selection, sel Selectors, title string) string {
	var v string
	card.Find(sel.MilesTitle).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if title != "" && !strings.EqualFold(normSpace(s.Text()), title) {
			return true
		}
		v = normSpace(s.Next().Filter(sel.MilesValue).Find("span").First().Text())
		return false
	})
	return v
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
