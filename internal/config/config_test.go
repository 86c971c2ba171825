package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 8000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())
	assert.Equal(t, 1024, cfg.WebSocket.ReadBufferSize)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, ProviderOpenAI, cfg.Provider.Default)
	assert.Equal(t, 3, cfg.Refine.DefaultRounds)
	assert.Equal(t, 3, cfg.Refine.DefaultAlternatives)
	assert.Equal(t, 10, cfg.Refine.MaxRounds)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Minute, cfg.Registry.SweepInterval)
	assert.Equal(t, 50, cfg.Registry.MaxThinkingLog)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
provider:
  default: ollama
  timeout: 30s
ollama:
  host: http://ollama:11434
  model: qwen2
refine:
  default_rounds: 2
  max_rounds: 4
  default_alternatives: 1
registry:
  max_sessions: 50
  idle_timeout: 1h
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.Provider.Default)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "qwen2", cfg.Ollama.Model)
	assert.Equal(t, 2, cfg.Refine.DefaultRounds)
	assert.Equal(t, 4, cfg.Refine.MaxRounds)
	assert.Equal(t, 50, cfg.Registry.MaxSessions)
	assert.Equal(t, time.Hour, cfg.Registry.IdleTimeout)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "缺少地址",
			content: "server:\n  port: 8000\n",
			wantErr: ErrEmptyHost,
		},
		{
			name:    "端口无效",
			content: "server:\n  host: localhost\n",
			wantErr: ErrInvalidPort,
		},
		{
			name:    "未知提供方",
			content: "server:\n  host: localhost\n  port: 1\nprovider:\n  default: gemini\n",
			wantErr: ErrUnknownProvider,
		},
		{
			name:    "默认轮数超过上限",
			content: "server:\n  host: localhost\n  port: 1\nrefine:\n  default_rounds: 5\n  max_rounds: 2\n",
			wantErr: ErrInvalidRounds,
		},
		{
			name:    "日志格式无效",
			content: "server:\n  host: localhost\n  port: 1\nlog:\n  format: xml\n",
			wantErr: ErrInvalidLogFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, 8000, cfg.Server.Port)
}
