package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"recthink/internal/config"
)

var (
	// configFile 配置文件路径
	configFile string
	// version 版本信息
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recthink",
	Short: "Session-based iterative refinement service",
	Long: `recthink wraps a completion provider behind a session API and refines
every answer through a bounded critique/rewrite loop.

Examples:
  # Start the HTTP/WebSocket server
  recthink serve --config config.yaml

  # Chat in the terminal against a local engine
  recthink chat --provider ollama --model llama3

  # Ask a running server over WebSocket
  recthink ask --server http://localhost:8000 "How do I reset my password?"`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
}

// loadConfig 加载配置。未显式指定且默认文件不存在时使用内置默认值
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}
