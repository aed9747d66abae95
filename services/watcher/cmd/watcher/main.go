package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/services/watcher/internal/app"
	"github.com/srinadh239/blogs/services/watcher/internal/config"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to the YAML config file")
	signOut := flag.Bool("signout", false, "sign out, remove the cached session and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := app.New(ctx, app.Config{
		APIURL:      cfg.APIURL,
		SessionFile: cfg.SessionFile,
		Email:       cfg.Email,
		Password:    cfg.Password,
	})
	if err != nil {
		log.Fatalf("failed to init watcher: %v", err)
	}
	defer watcher.Close()

	if *signOut {
		if err := watcher.SignOut(ctx); err != nil {
			logger.Error("sign out failed", "err", err)
			os.Exit(1)
		}
		logger.Info("signed out")
		return
	}
	if err := watcher.Run(ctx); err != nil {
		logger.Error("watcher stopped", "err", err)
		os.Exit(1)
	}
}
