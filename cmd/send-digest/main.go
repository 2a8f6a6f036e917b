// Command send-digest runs one email digest pass and exits. It is meant to
// be invoked from cron on hosts that prefer a process over hitting the
// /cron/digest endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/config"
	"github.com/relaydesk/relay/internal/email"
	"github.com/relaydesk/relay/internal/repository"
	"github.com/relaydesk/relay/pkg/database"
	"github.com/relaydesk/relay/pkg/utils"
)

func main() {
	_ = gotenv.Load()

	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	hour := flag.Int("hour", time.Now().Hour(), "digest hour to run, -1 for all opted-in members")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	memberRepo := repository.NewMemberRepository(db.DB, logger)
	taskRepo := repository.NewTaskRepository(db.DB, logger)
	stepRepo := repository.NewStepRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)
	settingsRepo := repository.NewEmailSettingsRepository(db.DB, logger)

	var sender email.Sender
	if cfg.Email.APIKey != "" {
		from := cfg.Email.SenderAddress
		if cfg.Email.SenderName != "" {
			from = fmt.Sprintf("%s <%s>", cfg.Email.SenderName, cfg.Email.SenderAddress)
		}
		sender = email.NewAPISender(cfg.Email.APIKey, from, logger)
	} else {
		logger.Warn("MAIL_API_KEY not set, performing a dry run")
		sender = email.NewNoopSender(logger)
	}

	digest := email.NewDigest(memberRepo, settingsRepo, stepRepo, taskRepo, notificationRepo, sender, logger)

	report, err := digest.Run(context.Background(), *hour)
	if err != nil {
		logger.Fatal("Digest run failed", zap.Error(err))
	}

	logger.Info("Digest complete",
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
}
