package app

import (
	"github.com/John-Robertt/skymiles/internal/domain"
)

// GroupByAction 把记录按 Action 分组（导出时每组一个 sheet）。
//
// - 组顺序：按 Action 第一次出现的顺序
// - 组内顺序：保持记录到达顺序
// - 空输入返回空结果（不是 nil 组）
func GroupByAction(records []domain.ResultRecord) []domain.Group {
	index := make(map[string]int, 4)
	groups := make([]domain.Group, 0, 4)

	for _, r := range records {
		if idx, ok := index[r.Action]; ok {
			groups[idx].Records = append(groups[idx].Records, r)
			continue
		}
		index[r.Action] = len(groups)
		groups = append(groups, domain.Group{
			Action:  r.Action,
			Records: []domain.ResultRecord{r},
		})
	}
	return groups
}
