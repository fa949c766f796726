package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sudooom.im.client/internal/client"
	"sudooom.im.client/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	userID := flag.String("user", "", "本地用户ID")
	flag.Parse()

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *userID == "" {
		log.Fatal("missing -user")
	}

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动同步引擎
	engine := client.New(cfg, *userID, logger)
	if err := engine.Start(ctx); err != nil {
		logger.Error("Failed to start sync engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	engine.Channel().OnStateChange(func(connected bool) {
		logger.Info("Channel state changed", "connected", connected)
	})

	// 初始快照
	if err := engine.Registry().LoadInitial(ctx); err != nil {
		logger.Error("Failed to load conversation snapshot", "error", err)
	}
	for _, conv := range engine.Registry().List() {
		logger.Info("Conversation",
			"id", conv.ID,
			"peer", conv.Peer.Nickname,
			"unread", conv.UnreadCount)
	}

	engine.Registry().OnChange(func() {
		logger.Info("Conversation list updated", "count", len(engine.Registry().List()))
	})

	if count, err := engine.Notifications().LoadUnreadCount(ctx); err == nil {
		logger.Info("Unread notifications", "count", count)
	}

	logger.Info("Sync engine started", "user_id", *userID)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
}
