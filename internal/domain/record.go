package domain

const (
	ActionEarn         = "Earn"
	ActionAccessDenied = "Access Denied"
)

const (
	// ValueNA 表示页面上缺少该值（未找到对应 fare 卡片或字段）。
	ValueNA = "N/A"
	// ValueNone 表示该行整体失败（超时/异常），值字段未能采集。
	ValueNone = "None"
)

// ResultRecord 是导出的最小单元：一行输入可能展开为多条（每个 branded fare 一条）。
type ResultRecord struct {
	Action      string   `json:"action"`
	Input       InputRow `json:"input"`
	BrandedFare string   `json:"branded_fare"`
	Miles       string   `json:"miles"`
	TierMiles   string   `json:"tier_miles"`
}

// AccessDeniedRecord 为被拦截的行合成唯一一条记录。
func AccessDeniedRecord(row InputRow) ResultRecord {
	return ResultRecord{
		Action:      ActionAccessDenied,
		Input:       row,
		BrandedFare: ValueNA,
		Miles:       ValueNA,
		TierMiles:   ValueNA,
	}
}

// FailureRecord 为无法完成的行合成唯一一条占位记录。
func FailureRecord(row InputRow) ResultRecord {
	return ResultRecord{
		Action:      ActionEarn,
		Input:       row,
		BrandedFare: ValueNone,
		Miles:       ValueNone,
		TierMiles:   ValueNone,
	}
}

// Group 是按 action 聚合后的一组记录（导出时对应一个 sheet）。
type Group struct {
	Action  string
	Records []ResultRecord
}
