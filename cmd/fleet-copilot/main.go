package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"fleet-copilot/internal/app"
	"fleet-copilot/pkg/config"
)

func main() {
	fs := pflag.NewFlagSet("fleet-copilot", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fleet-copilot [flags]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	configPath, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configPath, fs)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	application, err := app.NewApp(ctx, bootstrap, os.Stdin, os.Stdout)
	if err != nil {
		_ = bootstrap.Close()
		log.Fatalf("创建应用失败: %v", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		bootstrap.Logger.Error("运行异常退出", "error", err)
	}
}
