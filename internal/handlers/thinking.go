package handlers

import "recthink/internal/models"

// thinkingStep 前端展示用的思考过程条目，每个候选一条
type thinkingStep struct {
	Round             int    `json:"round"`
	AlternativeNumber int    `json:"alternative_number"`
	Response          string `json:"response"`
	Selected          bool   `json:"selected"`
	Explanation       string `json:"explanation,omitempty"`
}

// flattenRounds 把每轮记录展开为候选列表。初始候选的alternative_number为0，
// 其余从1开始；失败的轮次输出一条未选中的说明
func flattenRounds(rounds []models.RoundRecord) []thinkingStep {
	steps := make([]thinkingStep, 0, len(rounds))
	for _, r := range rounds {
		if r.Round == 0 {
			steps = append(steps, thinkingStep{
				Round:       0,
				Response:    r.Candidate,
				Selected:    true,
				Explanation: r.Explanation,
			})
			continue
		}

		if len(r.Alternatives) == 0 {
			steps = append(steps, thinkingStep{
				Round:       r.Round,
				Response:    r.Candidate,
				Selected:    false,
				Explanation: r.Explanation,
			})
			continue
		}

		for i, alt := range r.Alternatives {
			step := thinkingStep{
				Round:             r.Round,
				AlternativeNumber: i + 1,
				Response:          alt,
				Selected:          i == r.Selected,
			}
			if step.Selected || (r.Selected < 0 && i == 0) {
				step.Explanation = r.Explanation
			}
			steps = append(steps, step)
		}
	}
	return steps
}
