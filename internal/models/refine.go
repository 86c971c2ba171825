package models

// RefineStatus 优化结果状态
type RefineStatus string

const (
	// StatusCompleted 正常结束（收敛或用满轮数）
	StatusCompleted RefineStatus = "completed"
	// StatusTimedOutPartial 截止时间已过，返回目前最好的候选
	StatusTimedOutPartial RefineStatus = "timed_out_partial"
)

// RoundRecord 单轮优化记录，第0轮为初始候选
type RoundRecord struct {
	Round        int      `json:"round"`
	Previous     string   `json:"previous,omitempty"`
	Candidate    string   `json:"candidate"`
	Alternatives []string `json:"alternatives,omitempty"`
	Selected     int      `json:"selected"` // 被选中的候选下标，-1表示没有可用候选
	Converged    bool     `json:"converged"`
	Explanation  string   `json:"explanation,omitempty"`
}

// RefinementResult 一次优化调用的返回结果
type RefinementResult struct {
	Response   string        `json:"response"`
	RoundsUsed int           `json:"rounds_used"` // 被采纳的改写轮数
	Attempts   int           `json:"attempts"`    // 实际发起的反思调用次数
	Status     RefineStatus  `json:"status"`
	Candidates []RoundRecord `json:"candidates"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// Partial 是否为超时后的部分结果
func (r *RefinementResult) Partial() bool {
	return r.Status == StatusTimedOutPartial
}
