package app

import (
	"testing"

	"github.com/John-Robertt/skymiles/internal/domain"
)

func rec(action, fare string) domain.ResultRecord {
	return domain.ResultRecord{Action: action, BrandedFare: fare}
}

func TestGroupByAction_FirstSeenOrder(t *testing.T) {
	groups := GroupByAction([]domain.ResultRecord{
		rec("Earn", "Saver"),
		rec("Access Denied", "N/A"),
		rec("Earn", "Flex"),
	})

	if len(groups) != 2 {
		t.Fatalf("期望 2 组，实际 %d：%+v", len(groups), groups)
	}
	if groups[0].Action != "Earn" || groups[1].Action != "Access Denied" {
		t.Fatalf("组顺序不符合首次出现顺序：%q, %q", groups[0].Action, groups[1].Action)
	}
	// 组内保持到达顺序：Saver 在 Flex 之前。
	if len(groups[0].Records) != 2 || groups[0].Records[0].BrandedFare != "Saver" || groups[0].Records[1].BrandedFare != "Flex" {
		t.Fatalf("组内顺序不稳定：%+v", groups[0].Records)
	}
}

func TestGroupByAction_Empty(t *testing.T) {
	if groups := GroupByAction(nil); len(groups) != 0 {
		t.Fatalf("空输入不应产生分组：%+v", groups)
	}
}

func TestGroupByAction_CaseSensitiveActions(t *testing.T) {
	groups := GroupByAction([]domain.ResultRecord{rec("Earn", "a"), rec("earn", "b")})
	if len(groups) != 2 {
		t.Fatalf("action 按原文分组，期望 2 组，实际 %d", len(groups))
	}
}
