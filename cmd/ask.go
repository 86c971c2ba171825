package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recthink/internal/clients/ws"
)

// askOptions 远程提问参数
type askOptions struct {
	server       string
	sessionID    string
	provider     string
	model        string
	rounds       int
	alternatives int
	timeout      time.Duration
}

var askOpts askOptions

// askCmd 通过WebSocket向运行中的服务提问
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a running server over the streaming endpoint",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), askOpts.timeout)
		defer cancel()
		return runAsk(ctx, cmd.OutOrStdout(), strings.Join(args, " "), askOpts, zap.NewNop())
	},
}

func init() {
	askCmd.Flags().StringVar(&askOpts.server, "server", "http://localhost:8000", "服务地址")
	askCmd.Flags().StringVar(&askOpts.sessionID, "session", "", "已有会话ID，为空时新建会话")
	askCmd.Flags().StringVar(&askOpts.provider, "provider", "", "新建会话时的生成服务提供方")
	askCmd.Flags().StringVar(&askOpts.model, "model", "", "新建会话时的模型名称")
	askCmd.Flags().IntVar(&askOpts.rounds, "rounds", -1, "优化轮数，-1使用服务端默认值")
	askCmd.Flags().IntVar(&askOpts.alternatives, "alternatives", 0, "每轮候选数，0使用服务端默认值")
	askCmd.Flags().DurationVar(&askOpts.timeout, "timeout", 5*time.Minute, "整体超时")
}

// runAsk 必要时新建会话，然后流式打印一次提问的结果
func runAsk(ctx context.Context, out io.Writer, question string, opts askOptions, logger *zap.Logger) error {
	sessionID := opts.sessionID
	if sessionID == "" {
		id, err := initializeRemote(ctx, opts)
		if err != nil {
			return err
		}
		sessionID = id
		fmt.Fprintf(out, "会话已创建: %s\n", sessionID)
	}

	client := ws.NewClient(ws.Config{
		ServerURL:         opts.server,
		SessionID:         sessionID,
		MaxRetries:        2,
		ReconnectInterval: time.Second,
		HeartbeatInterval: 30 * time.Second,
	}, logger)
	defer client.Close()

	round, alt := -1, -1
	client.RegisterHandler(ws.FrameChunk, func(f ws.Frame) error {
		if f.Round != round || f.Alternative != alt {
			round, alt = f.Round, f.Alternative
			if round == 0 {
				fmt.Fprint(out, "\n[初始回答]\n")
			} else {
				fmt.Fprintf(out, "\n[第%d轮 候选%d]\n", round, alt+1)
			}
		}
		_, err := fmt.Fprint(out, f.Content)
		return err
	})

	msg := ws.Message{Content: question}
	if opts.rounds >= 0 {
		rounds := opts.rounds
		msg.ThinkingRounds = &rounds
	}
	if opts.alternatives > 0 {
		alts := opts.alternatives
		msg.AlternativesPerRound = &alts
	}

	final, err := client.Ask(ctx, msg)
	if err != nil {
		return err
	}
	for _, w := range final.Warnings {
		fmt.Fprintf(out, "\n警告: %s", w)
	}
	fmt.Fprintf(out, "\n\n=== 最终回答 (优化%d轮, %s) ===\n%s\n", final.ThinkingRounds, final.Status, final.Response)
	return nil
}

// initializeRemote 调用服务端的初始化接口
func initializeRemote(ctx context.Context, opts askOptions) (string, error) {
	body, err := json.Marshal(map[string]string{
		"provider": opts.provider,
		"model":    opts.model,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(opts.server, "/")+"/api/initialize", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build initialize request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "initialize session")
	}
	defer resp.Body.Close()

	var result struct {
		SessionID string `json:"session_id"`
		Detail    string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "decode initialize response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("initialize session: %d %s", resp.StatusCode, result.Detail)
	}
	return result.SessionID, nil
}
