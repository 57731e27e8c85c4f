package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

const (
	hotLeadScore  = 80
	coldLeadScore = 30
)

// CaptureLeadUseCase stores an inbound lead, starts its nurture campaign and
// queues the CRM contact sync. The two side effects are independent: a sync
// that cannot be queued does not fail the capture.
type CaptureLeadUseCase struct {
	Leads     entity.LeadRepositoryInterface
	Sequencer *CampaignSequencer
	Sync      *SyncCoordinator
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewCaptureLeadUseCase(leads entity.LeadRepositoryInterface, sequencer *CampaignSequencer, sync *SyncCoordinator, logger *zap.Logger) *CaptureLeadUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureLeadUseCase{
		Leads:     leads,
		Sequencer: sequencer,
		Sync:      sync,
		Logger:    logger.Named("capture"),
		Now:       time.Now,
	}
}

func (uc *CaptureLeadUseCase) Execute(ctx context.Context, input CaptureLeadInput) (*CaptureLeadOutput, error) {
	input.Email = entity.NormalizeEmail(input.Email)
	if err := validationFailure(ValidateCaptureLeadInput(input)); err != nil {
		return nil, err
	}

	now := uc.Now().UTC()
	metadata := map[string]any{}
	for k, v := range input.Metadata {
		metadata[k] = v
	}
	if input.CaseType != "" {
		metadata["caseType"] = input.CaseType
	}
	metadata["leadScore"] = input.LeadScore

	lead := &entity.Lead{
		ID:        uuid.New().String(),
		Email:     input.Email,
		Name:      input.Name,
		Phone:     input.Phone,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Upsert keeps the existing id when the email is already known.
	if err := uc.Leads.Upsert(ctx, lead); err != nil {
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to save lead", Err: err}
	}

	started, err := uc.Sequencer.Start(ctx, StartCampaignInput{
		LeadID:       lead.ID,
		Email:        lead.Email,
		Name:         lead.Name,
		CampaignType: campaignTypeFor(input),
		Context: CaseContext{
			CaseType:        input.CaseType,
			LeadScore:       input.LeadScore,
			AssignedTeam:    input.AssignedTeam,
			RemoteContactID: lead.RemoteContactID(),
		},
	})
	if err != nil {
		return nil, err
	}

	out := &CaptureLeadOutput{Lead: lead, Campaign: started.Campaign, Jobs: len(started.Jobs)}

	if uc.Sync != nil && uc.Sync.CRM.Enabled() {
		h, err := uc.Sync.QueueSync(ctx, SyncJob{Operation: SyncOpContact, LeadID: lead.ID})
		if err != nil {
			uc.Logger.Warn("failed to queue contact sync", zap.String("lead_id", lead.ID), zap.Error(err))
		} else {
			out.SyncJob = &h
		}
	}

	uc.Logger.Info("lead captured",
		zap.String("lead_id", lead.ID),
		zap.String("campaign_type", string(started.Campaign.Type)),
		zap.Int("scheduled_emails", out.Jobs))
	return out, nil
}

// campaignTypeFor honours an explicit type and otherwise picks by lead score.
func campaignTypeFor(input CaptureLeadInput) entity.CampaignType {
	if input.CampaignType != "" {
		return entity.ParseCampaignType(input.CampaignType)
	}
	switch {
	case input.LeadScore >= hotLeadScore:
		return entity.CampaignHotLead
	case input.LeadScore > 0 && input.LeadScore < coldLeadScore:
		return entity.CampaignColdLead
	default:
		return entity.CampaignStandard
	}
}
