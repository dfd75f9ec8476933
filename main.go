package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/project-copacetic/basescan/internal/basescanmcp"
	"github.com/project-copacetic/basescan/internal/config"
)

// Build information set by GoReleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("BASESCAN_CONFIG"))
	if err != nil {
		logrus.Fatal(err)
	}
	logger := logrus.NewEntry(cfg.Logger()).WithField("commit", commit)
	if err := basescanmcp.Run(ctx, cfg, version, os.Getenv("BASESCAN_ACTIVE_DOCUMENT"), logger); err != nil {
		logger.Fatal(err)
	}
}
