package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/domain/notification"
	"marketplace/internal/feed"
	"marketplace/internal/pkg/logger"
)

func main() {
	days := flag.Int("days", 0, "retention in days (defaults to NOTIFICATION_RETENTION_DAYS)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}
	log := logger.New(cfg.IsProd(), cfg.LogLevel)

	db, err := database.Connect(cfg.Database.URL, database.Options{LogSQL: cfg.Database.LogSQL}, log)
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention := cfg.Notify.RetentionDays
	if *days > 0 {
		retention = *days
	}
	repo := notification.NewRepository(db, feed.Nop{}, log)
	deleted, err := notification.NewCleaner(repo, log).RunOnce(ctx, retention)
	if err != nil {
		log.WithError(err).Fatal("notification cleanup failed")
	}
	log.WithFields(logrus.Fields{"deleted": deleted, "retention_days": retention}).Info("cleanup completed")
}
