package services

import (
	"strings"

	"recthink/internal/models"
)

const reflectionInstruction = "Analyze the weaknesses of the draft above in content and expression, " +
	"then write an improved version of it. Reply with the improved text only. " +
	"If the draft cannot be improved, repeat it unchanged."

// BuildReflectionPrompt 生成反思提示词，原样嵌入基础提示词和当前候选
func BuildReflectionPrompt(basePrompt, current string) string {
	var b strings.Builder
	b.Grow(len(basePrompt) + len(current) + len(reflectionInstruction) + 64)

	b.WriteString(basePrompt)
	b.WriteString("\n\n---\n\nBelow is the current draft:\n\n")
	b.WriteString(current)
	b.WriteString("\n\n")
	b.WriteString(reflectionInstruction)
	return b.String()
}

// buildInitialMessages 会话历史 + 参考流程 + 本次用户消息
func buildInitialMessages(history []models.Message, enrichment *models.Message, input string) []models.Message {
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, history...)
	if enrichment != nil {
		messages = append(messages, *enrichment)
	}
	return append(messages, models.NewMessage(models.RoleUser, input))
}

// buildReflectionMessages 反思调用只带系统提示词和参考流程，不带对话历史
func buildReflectionMessages(history []models.Message, enrichment *models.Message, basePrompt, current string) []models.Message {
	messages := make([]models.Message, 0, 3)
	if len(history) > 0 && history[0].Role == models.RoleSystem {
		messages = append(messages, history[0])
	}
	if enrichment != nil {
		messages = append(messages, *enrichment)
	}
	return append(messages, models.NewMessage(models.RoleUser, BuildReflectionPrompt(basePrompt, current)))
}
