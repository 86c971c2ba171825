package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"recthink/internal/models"
)

// SaveRequest 保存请求
type SaveRequest struct {
	SessionID string
	Filename  string
	FullLog   bool
}

// conversationRecord 保存文件的内容
type conversationRecord struct {
	SessionID    string                    `json:"session_id"`
	SavedAt      time.Time                 `json:"saved_at"`
	CreatedAt    time.Time                 `json:"created_at"`
	Model        models.ModelConfig        `json:"model"`
	Conversation []models.Message          `json:"conversation"`
	ThinkingLog  []models.ThinkingLogEntry `json:"thinking_log,omitempty"`
}

// Archive 把会话写入JSON文件
type Archive struct {
	dir      string
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewArchive 创建会话存档
func NewArchive(dir string, registry *Registry, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "."
	}
	return &Archive{dir: dir, registry: registry, logger: logger, now: time.Now}
}

// Save 保存会话，返回写入的文件名
func (a *Archive) Save(req SaveRequest) (string, error) {
	snap, err := a.registry.Snapshot(req.SessionID)
	if err != nil {
		return "", err
	}

	now := a.now()
	filename, err := a.filename(req, now)
	if err != nil {
		return "", err
	}

	record := conversationRecord{
		SessionID:    snap.ID,
		SavedAt:      now,
		CreatedAt:    snap.CreatedAt,
		Model:        snap.Model,
		Conversation: snap.History,
	}
	if req.FullLog {
		record.ThinkingLog = snap.ThinkingLog
		if record.ThinkingLog == nil {
			record.ThinkingLog = []models.ThinkingLogEntry{}
		}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode conversation")
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create archive dir")
	}
	if err := os.WriteFile(filepath.Join(a.dir, filename), data, 0o644); err != nil {
		return "", errors.Wrap(err, "write conversation")
	}

	a.logger.Info("会话已保存",
		zap.String("session_id", snap.ID),
		zap.String("filename", filename),
		zap.Bool("full_log", req.FullLog),
		zap.Int("messages", len(snap.History)))
	return filename, nil
}

// filename 生成文件名，用户指定的文件名只保留最后一级
func (a *Archive) filename(req SaveRequest, now time.Time) (string, error) {
	name := strings.TrimSpace(req.Filename)
	if name == "" {
		prefix := "recthink_conversation_"
		if req.FullLog {
			prefix = "recthink_full_log_"
		}
		return prefix + now.Format("20060102_150405") + ".json", nil
	}

	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." {
		return "", invalidRequest("invalid filename %q", req.Filename)
	}
	if filepath.Ext(name) == "" {
		name += ".json"
	}
	return name, nil
}
