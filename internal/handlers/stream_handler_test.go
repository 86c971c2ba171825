package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestStream_MessageFlow(t *testing.T) {
	s := newTestServer(t, "hello world", "hello there", "hello there")
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	id := s.initialize(t)

	conn := dialWS(t, srv, id)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":                   "message",
		"content":                "hi",
		"alternatives_per_round": 1,
	}))

	var chunks []map[string]interface{}
	var final map[string]interface{}
	for final == nil {
		frame := readFrame(t, conn)
		switch frame["type"] {
		case "chunk":
			chunks = append(chunks, frame)
		case "final":
			final = frame
		default:
			t.Fatalf("unexpected frame %v", frame)
		}
	}

	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.Equal(t, float64(i+1), chunk["seq"])
	}
	assert.Equal(t, float64(0), chunks[0]["round"])
	assert.Equal(t, "hello ", chunks[0]["content"])

	assert.Equal(t, "hello there", final["response"])
	assert.Equal(t, float64(1), final["thinking_rounds"])
	assert.Equal(t, "completed", final["status"])
	assert.NotEmpty(t, final["thinking_history"])
	assert.Equal(t, float64(len(chunks)+1), final["seq"])

	snap, err := s.registry.Snapshot(id)
	require.NoError(t, err)
	assert.Len(t, snap.History, 3)
}

func TestStream_UnknownSession(t *testing.T) {
	s := newTestServer(t, "x")
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "session_missing")
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Session not found", frame["detail"])

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestStream_BadFrames(t *testing.T) {
	s := newTestServer(t, "A")
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	id := s.initialize(t)

	conn := dialWS(t, srv, id)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "invalid JSON frame", frame["detail"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["detail"], "unknown frame type")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "  "}))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["detail"], "message is empty")

	// 连接仍可用
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "message", "content": "q", "thinking_rounds": 0}))
	for {
		frame = readFrame(t, conn)
		if frame["type"] != "chunk" {
			break
		}
	}
	assert.Equal(t, "final", frame["type"])
	assert.Equal(t, "A", frame["response"])
}

func TestStream_GenerationFailed(t *testing.T) {
	s := newTestServer(t, "A")
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	id := s.initialize(t)
	s.provider.setErr(assert.AnError)

	conn := dialWS(t, srv, id)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "q"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "failed to generate a response", frame["detail"])
}
