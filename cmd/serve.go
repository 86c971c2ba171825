package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recthink/internal/clients"
	"recthink/internal/handlers"
	"recthink/internal/logging"
	"recthink/internal/middleware"
	"recthink/internal/routes"
)

const shutdownTimeout = 15 * time.Second

// serveCmd 启动HTTP/WebSocket服务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger, clients.NewFactory(cfg, logger.Named("provider")))
	if err != nil {
		logger.Error("初始化服务失败", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.registry.Start(ctx)
	defer a.registry.Close()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	middleware.Setup(r, logger.Named("http"), cfg.RateLimit)
	routes.RegisterRoutes(r, routes.Dependencies{
		Registry: a.registry,
		Sessions: handlers.NewSessionHandler(a.registry, a.engine, a.archive, a.defaults, cfg.Refine.Timeout, logger.Named("http")),
		Stream:   handlers.NewStreamHandler(a.registry, a.engine, cfg.WebSocket, cfg.Refine.Timeout, logger.Named("ws")),
		Metrics:  a.metrics,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务启动",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.Provider.Default),
			zap.Int("default_rounds", cfg.Refine.DefaultRounds))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("服务异常退出", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("收到退出信号，正在关闭服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭服务失败", zap.Error(err))
		return err
	}
	logger.Info("服务已关闭")
	return nil
}
