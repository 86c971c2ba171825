package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recthink/internal/config"
	"recthink/internal/models"
	"recthink/internal/services"
)

// fakeProvider 按顺序返回预设文本，用完后重复最后一个
type fakeProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	last    models.ModelConfig
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(_ context.Context, req models.CompletionRequest, onFragment models.FragmentFunc) ([]string, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	err := p.err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	text := p.replies[len(p.replies)-1]
	if idx < len(p.replies) {
		text = p.replies[idx]
	}
	if onFragment != nil {
		for _, word := range strings.SplitAfter(text, " ") {
			onFragment(0, word)
		}
	}
	texts := make([]string, max(req.Choices, 1))
	for i := range texts {
		texts[i] = text
	}
	return texts, nil
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type fakeFactory struct {
	provider *fakeProvider
}

func (f *fakeFactory) Resolve(cfg models.ModelConfig) models.ModelConfig {
	if cfg.Provider == "" {
		cfg.Provider = "fake"
	}
	return cfg
}

func (f *fakeFactory) NewProvider(cfg models.ModelConfig) (models.CompletionProvider, error) {
	if cfg.Provider != "fake" {
		return nil, errors.Errorf("unknown provider %q", cfg.Provider)
	}
	f.provider.mu.Lock()
	f.provider.last = cfg
	f.provider.mu.Unlock()
	return f.provider, nil
}

type testServer struct {
	router   *gin.Engine
	registry *services.Registry
	provider *fakeProvider
	dir      string
}

func newTestServer(t *testing.T, replies ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := &fakeProvider{replies: replies}
	registry := services.NewRegistry(config.RegistryConfig{}, &fakeFactory{provider: provider}, nil, nil)
	engine := services.NewEngine(config.RefineConfig{
		DefaultRounds:       3,
		MaxRounds:           10,
		DefaultAlternatives: 3,
		MaxAlternatives:     5,
	}, config.ProviderConfig{Timeout: time.Second}, nil, nil)
	dir := t.TempDir()
	archive := services.NewArchive(dir, registry, nil)

	sessions := NewSessionHandler(registry, engine, archive, SessionDefaults{SystemPrompt: "default system"}, time.Second, nil)
	stream := NewStreamHandler(registry, engine, config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingPeriod:      time.Second,
		PongWait:        2 * time.Second,
		MaxMessageSize:  1 << 20,
	}, time.Second, nil)

	r := gin.New()
	RegisterRoutes(r, registry)
	api := r.Group("/api")
	api.POST("/initialize", sessions.Initialize)
	api.POST("/send_message", sessions.SendMessage)
	api.POST("/save", sessions.Save)
	api.GET("/sessions", sessions.ListSessions)
	api.DELETE("/sessions/:session_id", sessions.DeleteSession)
	r.GET("/ws/:session_id", stream.HandleWebSocket)

	return &testServer{router: r, registry: registry, provider: provider, dir: dir}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (s *testServer) initialize(t *testing.T) string {
	t.Helper()
	w, out := s.do(t, http.MethodPost, "/api/initialize", map[string]interface{}{"api_key": "k"})
	require.Equal(t, http.StatusOK, w.Code)
	return out["session_id"].(string)
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, "x")

	w, _ := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RecThink Server Running", w.Body.String())

	w, out := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(0), out["sessions"])
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t, "x")

	w, out := s.do(t, http.MethodPost, "/api/initialize", map[string]interface{}{
		"api_key": "secret",
		"model":   "m1",
		"reference_corpus": []map[string]string{
			{"category": "knee", "flow": "rest"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "initialized", out["status"])
	id := out["session_id"].(string)
	assert.True(t, strings.HasPrefix(id, "session_"))

	snap, err := s.registry.Snapshot(id)
	require.NoError(t, err)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "default system", snap.History[0].Content)
	assert.Equal(t, "secret", s.provider.last.APIKey)
	assert.Equal(t, "m1", s.provider.last.Model)

	// 显式的空系统提示词覆盖默认值
	w, out = s.do(t, http.MethodPost, "/api/initialize", map[string]interface{}{"system_prompt": ""})
	require.Equal(t, http.StatusOK, w.Code)
	snap, err = s.registry.Snapshot(out["session_id"].(string))
	require.NoError(t, err)
	assert.Empty(t, snap.History)
}

func TestInitialize_Errors(t *testing.T) {
	s := newTestServer(t, "x")

	w, out := s.do(t, http.MethodPost, "/api/initialize", map[string]interface{}{"provider": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["detail"], "unknown provider")

	w, _ = s.do(t, http.MethodPost, "/api/initialize", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage(t *testing.T) {
	s := newTestServer(t, "A", "B", "B")
	id := s.initialize(t)

	w, out := s.do(t, http.MethodPost, "/api/send_message", map[string]interface{}{
		"session_id":             id,
		"message":                "hello",
		"thinking_rounds":        2,
		"alternatives_per_round": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, id, out["session_id"])
	assert.Equal(t, "B", out["response"])
	assert.Equal(t, float64(1), out["thinking_rounds"])
	assert.Equal(t, float64(2), out["attempts"])
	assert.Equal(t, "completed", out["status"])

	history := out["thinking_history"].([]interface{})
	// 初始1条 + 两轮各2个候选
	require.Len(t, history, 5)
	first := history[0].(map[string]interface{})
	assert.Equal(t, float64(0), first["round"])
	assert.Equal(t, "A", first["response"])
	second := history[1].(map[string]interface{})
	assert.Equal(t, float64(1), second["round"])
	assert.Equal(t, float64(1), second["alternative_number"])
	assert.Equal(t, true, second["selected"])

	w, out = s.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := out["sessions"].([]interface{})
	require.Len(t, sessions, 1)
	assert.Equal(t, float64(1), sessions[0].(map[string]interface{})["message_count"])
}

func TestSendMessage_Errors(t *testing.T) {
	s := newTestServer(t, "A")
	id := s.initialize(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"missing message", map[string]interface{}{"session_id": id}, http.StatusBadRequest},
		{"blank message", map[string]interface{}{"session_id": id, "message": "   "}, http.StatusBadRequest},
		{"negative rounds", map[string]interface{}{"session_id": id, "message": "q", "thinking_rounds": -1}, http.StatusBadRequest},
		{"zero alternatives", map[string]interface{}{"session_id": id, "message": "q", "alternatives_per_round": 0}, http.StatusBadRequest},
		{"unknown session", map[string]interface{}{"session_id": "session_x", "message": "q"}, http.StatusNotFound},
		{"malformed", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := s.do(t, http.MethodPost, "/api/send_message", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, out["detail"])
		})
	}
}

func TestSendMessage_GenerationFailed(t *testing.T) {
	s := newTestServer(t, "A")
	id := s.initialize(t)
	s.provider.setErr(errors.New("upstream exploded with key sk-123"))

	w, out := s.do(t, http.MethodPost, "/api/send_message", map[string]interface{}{"session_id": id, "message": "q"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Failed to generate a response", out["detail"])

	snap, err := s.registry.Snapshot(id)
	require.NoError(t, err)
	assert.Len(t, snap.History, 1)
}

func TestDeleteThenSend(t *testing.T) {
	s := newTestServer(t, "A")
	id := s.initialize(t)

	w, out := s.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deleted", out["status"])
	assert.Equal(t, id, out["session_id"])

	w, _ = s.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = s.do(t, http.MethodPost, "/api/send_message", map[string]interface{}{"session_id": id, "message": "q"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Session not found", out["detail"])
}

func TestSave(t *testing.T) {
	s := newTestServer(t, "A")
	id := s.initialize(t)
	w, _ := s.do(t, http.MethodPost, "/api/send_message", map[string]interface{}{"session_id": id, "message": "q"})
	require.Equal(t, http.StatusOK, w.Code)

	w, out := s.do(t, http.MethodPost, "/api/save", map[string]interface{}{"session_id": id, "filename": "mine", "full_log": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "saved", out["status"])
	assert.Equal(t, "mine.json", out["filename"])
	assert.FileExists(t, filepath.Join(s.dir, "mine.json"))

	w, out = s.do(t, http.MethodPost, "/api/save", map[string]interface{}{"session_id": id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(out["filename"].(string), "recthink_conversation_"))

	w, _ = s.do(t, http.MethodPost, "/api/save", map[string]interface{}{"session_id": "session_x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{services.ErrSessionNotFound, http.StatusNotFound},
		{errors.Wrap(services.ErrInvalidRequest, "bad"), http.StatusBadRequest},
		{services.ErrGenerationFailed, http.StatusBadGateway},
		{services.ErrRegistryFull, http.StatusServiceUnavailable},
		{errors.Wrap(context.DeadlineExceeded, "waiting"), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, detail := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, detail)
	}
}

func TestFlattenRounds(t *testing.T) {
	steps := flattenRounds([]models.RoundRecord{
		{Round: 0, Candidate: "A", Explanation: "initial response"},
		{Round: 1, Previous: "A", Candidate: "C", Alternatives: []string{"", "C"}, Selected: 1, Explanation: "picked"},
		{Round: 2, Previous: "C", Candidate: "C", Selected: -1, Explanation: "reflection call failed"},
	})

	assert.Equal(t, []thinkingStep{
		{Round: 0, AlternativeNumber: 0, Response: "A", Selected: true, Explanation: "initial response"},
		{Round: 1, AlternativeNumber: 1, Response: "", Selected: false},
		{Round: 1, AlternativeNumber: 2, Response: "C", Selected: true, Explanation: "picked"},
		{Round: 2, AlternativeNumber: 0, Response: "C", Selected: false, Explanation: "reflection call failed"},
	}, steps)
}
