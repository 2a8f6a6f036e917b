package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/ai"
	"github.com/relaydesk/relay/internal/attachment"
	"github.com/relaydesk/relay/internal/config"
	"github.com/relaydesk/relay/internal/dashboard"
	"github.com/relaydesk/relay/internal/email"
	httpserver "github.com/relaydesk/relay/internal/interfaces/http"
	"github.com/relaydesk/relay/internal/notify"
	"github.com/relaydesk/relay/internal/pipeline"
	"github.com/relaydesk/relay/internal/recurrence"
	"github.com/relaydesk/relay/internal/repository"
	"github.com/relaydesk/relay/internal/tasks"
	"github.com/relaydesk/relay/pkg/database"
	"github.com/relaydesk/relay/pkg/utils"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
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

	logger.Info("Starting relay pipeline server",
		zap.Int("port", cfg.Server.Port))

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

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Storage.AttachmentDir, 0755); err != nil {
		logger.Fatal("Failed to create attachment directory", zap.Error(err))
	}

	// Repositories
	memberRepo := repository.NewMemberRepository(db.DB, logger)
	teamRepo := repository.NewTeamRepository(db.DB, logger)
	taskRepo := repository.NewTaskRepository(db.DB, logger)
	stepRepo := repository.NewStepRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)
	commentRepo := repository.NewCommentRepository(db.DB, logger)
	attachmentRepo := repository.NewAttachmentRepository(db.DB, logger)
	settingsRepo := repository.NewEmailSettingsRepository(db.DB, logger)

	// Notifications
	emitter := notify.NewEmitter(notificationRepo, memberRepo, logger)

	// Recurrence and step transitions
	cycles := recurrence.NewEngine(db, taskRepo, stepRepo, emitter, logger)
	engine := pipeline.NewEngine(db, taskRepo, stepRepo, commentRepo, emitter, cycles, logger)

	// Task assembly
	taskService := tasks.NewService(db, taskRepo, stepRepo, memberRepo, emitter, logger)

	// AI extraction
	prompts, err := ai.LoadPrompts(cfg.OpenAI.PromptsPath)
	if err != nil {
		logger.Fatal("Failed to load prompts", zap.Error(err))
	}
	extractor := ai.NewExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.Model, prompts, logger)
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, AI extraction disabled")
	}

	// Dashboards
	aggregator := dashboard.NewAggregator(taskRepo, stepRepo, memberRepo, logger)
	exporter := dashboard.NewExporter(logger)

	// Attachments
	storage := attachment.NewStorage(cfg.Storage.AttachmentDir, logger)
	previewer := attachment.NewPreviewer(logger)

	// Email digest
	var sender email.Sender
	if cfg.Email.APIKey != "" {
		from := cfg.Email.SenderAddress
		if cfg.Email.SenderName != "" {
			from = fmt.Sprintf("%s <%s>", cfg.Email.SenderName, cfg.Email.SenderAddress)
		}
		sender = email.NewAPISender(cfg.Email.APIKey, from, logger)
	} else {
		logger.Warn("MAIL_API_KEY not set, email delivery disabled")
		sender = email.NewNoopSender(logger)
	}
	digest := email.NewDigest(memberRepo, settingsRepo, stepRepo, taskRepo, notificationRepo, sender, logger)

	server := httpserver.NewServer(httpserver.Deps{
		Config:        cfg,
		Members:       memberRepo,
		Teams:         teamRepo,
		Tasks:         taskRepo,
		Steps:         stepRepo,
		Notifications: notificationRepo,
		Comments:      commentRepo,
		Attachments:   attachmentRepo,
		EmailSettings: settingsRepo,
		TaskService:   taskService,
		Engine:        engine,
		Extractor:     extractor,
		Aggregator:    aggregator,
		Exporter:      exporter,
		Emitter:       emitter,
		Storage:       storage,
		Previewer:     previewer,
		Digest:        digest,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}
