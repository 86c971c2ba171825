package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recthink/internal/models"
)

func TestBuildReflectionPrompt(t *testing.T) {
	prompt := BuildReflectionPrompt("Write a haiku about rain", "  Rain falls\non the roof  ")

	assert.True(t, strings.HasPrefix(prompt, "Write a haiku about rain\n\n---\n\n"))
	assert.Contains(t, prompt, "  Rain falls\non the roof  ")
	assert.Contains(t, prompt, reflectionInstruction)
}

func TestBuildInitialMessages(t *testing.T) {
	history := []models.Message{
		models.NewMessage(models.RoleSystem, "sys"),
		models.NewMessage(models.RoleUser, "q1"),
		models.NewMessage(models.RoleAssistant, "a1"),
	}
	enrichment := models.NewMessage(models.RoleSystem, "ref")

	messages := buildInitialMessages(history, &enrichment, "q2")
	require.Len(t, messages, 5)
	assert.Equal(t, "ref", messages[3].Content)
	assert.Equal(t, models.NewMessage(models.RoleUser, "q2"), messages[4])
	// 不修改传入的历史
	assert.Len(t, history, 3)

	messages = buildInitialMessages(nil, nil, "q")
	assert.Equal(t, []models.Message{models.NewMessage(models.RoleUser, "q")}, messages)
}

func TestBuildReflectionMessages(t *testing.T) {
	history := []models.Message{
		models.NewMessage(models.RoleSystem, "sys"),
		models.NewMessage(models.RoleUser, "q1"),
		models.NewMessage(models.RoleAssistant, "a1"),
	}

	messages := buildReflectionMessages(history, nil, "base", "draft")
	require.Len(t, messages, 2)
	assert.Equal(t, "sys", messages[0].Content)
	assert.Equal(t, models.RoleUser, messages[1].Role)
	assert.Equal(t, BuildReflectionPrompt("base", "draft"), messages[1].Content)

	messages = buildReflectionMessages(history[1:], nil, "base", "draft")
	require.Len(t, messages, 1)
}
