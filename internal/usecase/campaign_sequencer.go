package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

type CampaignSequencer struct {
	Queue     JobQueue
	Campaigns entity.CampaignRepositoryInterface
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewCampaignSequencer(q JobQueue, campaigns entity.CampaignRepositoryInterface, logger *zap.Logger) *CampaignSequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignSequencer{
		Queue:     q,
		Campaigns: campaigns,
		Logger:    logger.Named("campaign"),
		Now:       time.Now,
	}
}

// Start schedules every applicable step of the campaign as a delayed job and
// records the campaign as active. An already active campaign for the lead is
// stopped first.
func (s *CampaignSequencer) Start(ctx context.Context, input StartCampaignInput) (*StartCampaignOutput, error) {
	input.Email = entity.NormalizeEmail(input.Email)
	if err := validationFailure(ValidateStartCampaignInput(input)); err != nil {
		return nil, err
	}
	campaignType := entity.ParseCampaignType(string(input.CampaignType))

	out := &StartCampaignOutput{}
	active, err := s.Campaigns.FindActiveByLeadID(ctx, input.LeadID)
	switch {
	case err == nil:
		if _, err := s.stop(ctx, active); err != nil {
			return nil, err
		}
		out.Replaced = active
	case !errors.Is(err, entity.ErrNotFound):
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to look up active campaign", Err: err}
	}

	record := &entity.CampaignRecord{
		ID:        uuid.New().String(),
		LeadID:    input.LeadID,
		Type:      campaignType,
		Status:    entity.CampaignActive,
		StartedAt: s.Now().UTC(),
	}
	steps := selectSteps(CampaignSteps(campaignType), input)

	txn := NewTransaction(s.Logger)
	txn.AddStep("enqueue_steps",
		func(ctx context.Context) error {
			for i, step := range steps {
				payload := CampaignEmailPayload{
					CampaignID:   record.ID,
					LeadID:       input.LeadID,
					Email:        input.Email,
					Name:         input.Name,
					CampaignType: campaignType,
					StepIndex:    i,
					LastStep:     i == len(steps)-1,
					TemplateKey:  step.TemplateKey,
					Subject:      step.Subject,
					Context:      input.Context,
				}
				opts := queue.DefaultOptions()
				opts.Delay = step.Offset
				h, err := s.Queue.Enqueue(ctx, queue.KindSendCampaignEmail, input.LeadID, payload, opts)
				if err != nil {
					return err
				}
				out.Jobs = append(out.Jobs, h)
			}
			return nil
		},
		func(ctx context.Context) error {
			_, err := s.Queue.CancelAll(ctx, campaignJobs(record.ID))
			return err
		},
	)
	txn.AddStep("create_campaign",
		func(ctx context.Context) error {
			return s.Campaigns.Create(ctx, record)
		},
		nil,
	)

	if err := txn.Execute(ctx); err != nil {
		s.Logger.Error("campaign start failed",
			zap.String("lead_id", input.LeadID),
			zap.String("campaign_type", string(campaignType)),
			zap.Error(err))
		return nil, &TechnicalError{Code: CodeQueue, Message: "failed to start campaign", Err: err}
	}

	s.Logger.Info("campaign started",
		zap.String("lead_id", input.LeadID),
		zap.String("campaign_id", record.ID),
		zap.String("campaign_type", string(campaignType)),
		zap.Int("steps", len(steps)))

	out.Campaign = record
	return out, nil
}

// Stop marks the lead's active campaign stopped and removes its waiting jobs.
// Jobs already claimed by a worker still run. A lead without an active
// campaign only gets the cleanup.
func (s *CampaignSequencer) Stop(ctx context.Context, leadID string) (*StopCampaignOutput, error) {
	if leadID == "" {
		return nil, &DomainError{Code: CodeValidation, Message: "validation failed: lead_id (is required)"}
	}

	active, err := s.Campaigns.FindActiveByLeadID(ctx, leadID)
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to look up active campaign", Err: err}
	}
	if active == nil {
		n, err := s.Queue.CancelAll(ctx, queue.ForLead(leadID, queue.KindSendCampaignEmail))
		if err != nil {
			return nil, &TechnicalError{Code: CodeQueue, Message: "failed to cancel campaign jobs", Err: err}
		}
		return &StopCampaignOutput{CancelledJobs: n}, nil
	}

	return s.stop(ctx, active)
}

func (s *CampaignSequencer) stop(ctx context.Context, active *entity.CampaignRecord) (*StopCampaignOutput, error) {
	// status first, so a job claimed in between sees the campaign as stopped
	now := s.Now().UTC()
	if err := s.Campaigns.UpdateStatus(ctx, active.ID, entity.CampaignStopped, &now); err != nil {
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to stop campaign", Err: err}
	}
	active.Status = entity.CampaignStopped
	active.StoppedAt = &now

	n, err := s.Queue.CancelAll(ctx, queue.ForLead(active.LeadID, queue.KindSendCampaignEmail))
	if err != nil {
		return nil, &TechnicalError{Code: CodeQueue, Message: "failed to cancel campaign jobs", Err: err}
	}

	s.Logger.Info("campaign stopped",
		zap.String("lead_id", active.LeadID),
		zap.String("campaign_id", active.ID),
		zap.Int("cancelled_jobs", n))

	return &StopCampaignOutput{Campaign: active, CancelledJobs: n}, nil
}

// Complete marks a campaign completed if it is still active.
func (s *CampaignSequencer) Complete(ctx context.Context, campaignID string) error {
	return completeCampaign(ctx, s.Campaigns, campaignID)
}

func completeCampaign(ctx context.Context, campaigns entity.CampaignRepositoryInterface, campaignID string) error {
	rec, err := campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if !rec.IsActive() {
		return nil
	}
	return campaigns.UpdateStatus(ctx, campaignID, entity.CampaignCompleted, nil)
}

func campaignJobs(campaignID string) queue.Predicate {
	return func(j queue.Job) bool {
		if j.Kind != queue.KindSendCampaignEmail {
			return false
		}
		var p CampaignEmailPayload
		if err := j.Decode(&p); err != nil {
			return false
		}
		return p.CampaignID == campaignID
	}
}
