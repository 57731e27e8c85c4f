// Package app wires configuration into the stores, queue and use cases shared
// by the API server and nurturectl.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/config"
	"github.com/xavierca1/lead-nurture/internal/infra/database"
	"github.com/xavierca1/lead-nurture/internal/infra/http/middleware"
	"github.com/xavierca1/lead-nurture/internal/infra/integration/crm"
	"github.com/xavierca1/lead-nurture/internal/infra/mail"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
	"github.com/xavierca1/lead-nurture/internal/infra/worker"
	"github.com/xavierca1/lead-nurture/internal/usecase"
)

// sweepGrace is added to the longest sequence before a campaign counts as stale.
const sweepGrace = 24 * time.Hour

type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sql.DB
	Queue  *queue.Client

	Leads      *database.LeadRepository
	Campaigns  *database.CampaignRepository
	EmailLogs  *database.EmailLogRepository
	Activities *database.ActivityRepository
	Tasks      *database.TaskRepository
	Convs      *database.ConversationRepository

	CRM       usecase.CRM
	Sequencer *usecase.CampaignSequencer
	Worker    *usecase.CampaignEmailWorker
	Sync      *usecase.SyncCoordinator
	Capture   *usecase.CaptureLeadUseCase
	Ingestor  *usecase.WebhookIngestor
	Sweeper   *worker.CampaignSweeper
}

// New connects to Postgres, migrates the schema, opens the queue and registers
// every job handler. The queue is not started.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: DATABASE_URL is required")
	}

	db, err := database.NewDBConnection(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	renderer, err := mail.NewRenderer()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("app: load templates: %w", err)
	}

	q, err := queue.Open(cfg.QueueDSN(), logger, queue.Config{
		Workers:          cfg.Queue.Workers,
		PollInterval:     cfg.Queue.PollInterval,
		SerializePerLead: cfg.Queue.SerializePerLead,
		StateDSN:         cfg.DatabaseURL,
		Observer: func(kind queue.Kind, outcome string) {
			middleware.RecordJob(string(kind), outcome)
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("app: open queue: %w", err)
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Queue:      q,
		Leads:      database.NewLeadRepository(db),
		Campaigns:  database.NewCampaignRepository(db),
		EmailLogs:  database.NewEmailLogRepository(db),
		Activities: database.NewActivityRepository(db),
		Tasks:      database.NewTaskRepository(db),
		Convs:      database.NewConversationRepository(db),
		CRM:        usecase.DisabledCRM(),
	}

	client := crm.NewClient(cfg.CRM.APIToken, cfg.CRM.BaseURL, cfg.CRM.LocationID)
	if cfg.CRMEnabled() && client.Configured() {
		a.CRM = usecase.ConfiguredCRM(client)
	} else {
		logger.Info("CRM not configured; sync disabled")
	}

	metrics := middleware.Recorder{}

	sender := mail.NewEmailSender(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.User, cfg.Mail.Password, cfg.Mail.From)
	a.Worker = usecase.NewCampaignEmailWorker(sender, renderer, a.EmailLogs, a.Campaigns, logger)
	a.Worker.Metrics = metrics
	a.Worker.FirmName = cfg.Mail.FirmName
	a.Worker.FirmPhone = cfg.Mail.FirmPhone
	a.Worker.Register(q)

	a.Sequencer = usecase.NewCampaignSequencer(q, a.Campaigns, logger)

	a.Sync = usecase.NewSyncCoordinator(a.CRM, a.Leads, a.Tasks, a.Convs, q, logger, usecase.SyncOptions{
		PipelineID: cfg.CRM.PipelineID,
		StageID:    cfg.CRM.StageID,
	})
	a.Sync.Metrics = metrics
	a.Sync.RegisterHandlers(q)

	a.Capture = usecase.NewCaptureLeadUseCase(a.Leads, a.Sequencer, a.Sync, logger)

	a.Ingestor = usecase.NewWebhookIngestor(a.Leads, a.Activities, a.Tasks, logger)
	a.Ingestor.Metrics = metrics

	a.Sweeper = worker.NewCampaignSweeper(a.Campaigns, usecase.LongestSequence()+sweepGrace, logger)

	return a, nil
}

// Close shuts the queue down and closes the database.
func (a *App) Close(ctx context.Context) error {
	err := a.Queue.Shutdown(ctx)
	if cerr := a.DB.Close(); err == nil {
		err = cerr
	}
	return err
}
