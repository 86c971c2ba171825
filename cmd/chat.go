package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recthink/internal/clients"
	"recthink/internal/logging"
	"recthink/internal/models"
	"recthink/internal/services"
)

// chatOptions 终端对话参数
type chatOptions struct {
	provider     string
	model        string
	rounds       int
	alternatives int
}

var chatOpts chatOptions

// chatCmd 在终端中与优化引擎对话
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the refinement engine in the terminal",
	RunE:  runChatCmd,
}

func init() {
	chatCmd.Flags().StringVar(&chatOpts.provider, "provider", "", "生成服务提供方 (openai/ollama)")
	chatCmd.Flags().StringVar(&chatOpts.model, "model", "", "模型名称")
	chatCmd.Flags().IntVar(&chatOpts.rounds, "rounds", -1, "每次请求的优化轮数，-1使用默认值")
	chatCmd.Flags().IntVar(&chatOpts.alternatives, "alternatives", 0, "每轮候选数，0使用默认值")
}

func runChatCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// 终端模式下日志只输出警告以上，避免打断对话
	cfg.Log.Level = "warn"
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger, clients.NewFactory(cfg, logger.Named("provider")))
	if err != nil {
		return err
	}
	defer a.registry.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runChat(ctx, os.Stdin, cmd.OutOrStdout(), a, chatOpts)
}

// runChat 读取输入并逐条优化，直到输入结束或exit
func runChat(ctx context.Context, in io.Reader, out io.Writer, a *app, opts chatOptions) error {
	id, err := a.registry.Create(a.sessionConfig(models.ModelConfig{
		Provider: opts.provider,
		Model:    opts.model,
	}))
	if err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}
	defer func() { _ = a.registry.Delete(id) }()

	fmt.Fprintf(out, "会话已创建: %s\n", id)
	printChatHelp(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			fmt.Fprintln(out, "再见")
			return nil
		case "help":
			printChatHelp(out)
			continue
		case "save":
			req := services.SaveRequest{SessionID: id, FullLog: true}
			if len(fields) > 1 {
				req.Filename = fields[1]
			}
			path, err := a.archive.Save(req)
			if err != nil {
				fmt.Fprintf(out, "保存失败: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "已保存到 %s\n", path)
			continue
		}

		if err := chatOnce(ctx, out, a, id, line, opts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("对话请求失败", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// chatOnce 处理一条用户输入，流式打印每轮草稿和最终回答
func chatOnce(ctx context.Context, out io.Writer, a *app, id, input string, opts chatOptions) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Refine.Timeout)
	defer cancel()

	h, err := a.registry.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer h.Release()

	req := services.RefineRequest{
		Input:        input,
		Alternatives: opts.alternatives,
		Sink:         newTerminalSink(out),
	}
	if opts.rounds >= 0 {
		rounds := opts.rounds
		req.MaxRounds = &rounds
	}

	_, err = a.engine.Refine(ctx, h, req)
	return err
}

// newTerminalSink 把流式事件打印到终端，轮次或候选切换时输出标题
func newTerminalSink(out io.Writer) models.Sink {
	round, alt := -1, -1
	return models.SinkFunc(func(event models.StreamEvent) error {
		switch event.Type {
		case models.EventChunk:
			if event.Round != round || event.Alternative != alt {
				round, alt = event.Round, event.Alternative
				if round == 0 {
					fmt.Fprint(out, "\n[初始回答]\n")
				} else {
					fmt.Fprintf(out, "\n[第%d轮 候选%d]\n", round, alt+1)
				}
			}
			_, err := fmt.Fprint(out, event.Content)
			return err
		case models.EventFinal:
			r := event.Result
			for _, w := range r.Warnings {
				fmt.Fprintf(out, "\n警告: %s", w)
			}
			_, err := fmt.Fprintf(out, "\n\n=== 最终回答 (优化%d轮, %s) ===\n%s\n\n", r.RoundsUsed, r.Status, r.Response)
			return err
		case models.EventError:
			_, err := fmt.Fprintf(out, "\n错误: %s\n", event.Detail)
			return err
		}
		return nil
	})
}

func printChatHelp(out io.Writer) {
	fmt.Fprintln(out, "可用命令:")
	fmt.Fprintln(out, "  save [filename] - 保存完整思考记录")
	fmt.Fprintln(out, "  help            - 显示帮助")
	fmt.Fprintln(out, "  quit/exit       - 退出程序")
	fmt.Fprintln(out, "其它输入将作为提问发送")
}
