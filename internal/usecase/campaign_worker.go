package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/mail"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

// CampaignEmailWorker handles send-campaign-email jobs. It is not idempotent:
// a retry after a send that succeeded on the wire sends again.
type CampaignEmailWorker struct {
	Transport EmailTransport
	Templates TemplateRenderer
	EmailLogs entity.EmailLogRepositoryInterface
	Campaigns entity.CampaignRepositoryInterface
	Logger    *zap.Logger
	Metrics   Metrics
	Now       func() time.Time
	FirmName  string
	FirmPhone string
}

func NewCampaignEmailWorker(
	transport EmailTransport,
	templates TemplateRenderer,
	emailLogs entity.EmailLogRepositoryInterface,
	campaigns entity.CampaignRepositoryInterface,
	logger *zap.Logger,
) *CampaignEmailWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignEmailWorker{
		Transport: transport,
		Templates: templates,
		EmailLogs: emailLogs,
		Campaigns: campaigns,
		Logger:    logger.Named("campaign_worker"),
		Metrics:   nopMetrics{},
		Now:       time.Now,
		FirmName:  "Our Firm",
	}
}

func (w *CampaignEmailWorker) Register(r JobRegistry) {
	r.Register(queue.KindSendCampaignEmail, w.Handle)
}

func (w *CampaignEmailWorker) Handle(ctx context.Context, job queue.Job) error {
	var p CampaignEmailPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode campaign payload: %w", err)
	}
	log := w.Logger.With(
		zap.String("job_id", job.ID),
		zap.String("lead_id", p.LeadID),
		zap.String("campaign_id", p.CampaignID),
		zap.String("template", p.TemplateKey),
		zap.Int("attempt", job.Attempt))

	// The record may not exist yet: the immediate step is enqueued before the
	// campaign row is written.
	if p.CampaignID != "" {
		rec, err := w.Campaigns.FindByID(ctx, p.CampaignID)
		switch {
		case err == nil && !rec.IsActive():
			log.Info("campaign no longer active, skipping email", zap.String("status", string(rec.Status)))
			return nil
		case err != nil && !errors.Is(err, entity.ErrNotFound):
			return fmt.Errorf("load campaign %s: %w", p.CampaignID, err)
		}
	}

	data := w.templateData(p)
	rendered, err := w.Templates.Render(p.TemplateKey, data)
	if err != nil {
		return w.fail(ctx, log, job, p, err)
	}
	subject, err := w.Templates.RenderSubject(p.Subject, data)
	if err != nil {
		log.Warn("subject template failed, sending raw subject", zap.Error(err))
		subject = p.Subject
	}

	err = w.Transport.Send(ctx, mail.Message{
		To:      p.Email,
		ToName:  p.Name,
		Subject: subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	if err != nil {
		return w.fail(ctx, log, job, p, err)
	}

	w.Metrics.EmailAttempt(string(entity.EmailSent))
	if err := w.EmailLogs.Append(ctx, w.logEntry(p, entity.EmailSent, "")); err != nil {
		// the email is out; retrying would send it twice
		log.Error("email sent but log write failed", zap.Error(err))
	}
	log.Info("campaign email sent", zap.String("rendered_template", rendered.Key))

	if p.LastStep && p.CampaignID != "" {
		if err := completeCampaign(ctx, w.Campaigns, p.CampaignID); err != nil && !errors.Is(err, entity.ErrNotFound) {
			log.Warn("failed to mark campaign completed", zap.Error(err))
		}
	}
	return nil
}

// fail records a failed row on the last attempt only, so a retry that later
// succeeds leaves a single sent row.
func (w *CampaignEmailWorker) fail(ctx context.Context, log *zap.Logger, job queue.Job, p CampaignEmailPayload, cause error) error {
	w.Metrics.EmailAttempt(string(entity.EmailFailed))
	if job.FinalAttempt() {
		if err := w.EmailLogs.Append(ctx, w.logEntry(p, entity.EmailFailed, cause.Error())); err != nil {
			log.Error("failed to record email failure", zap.Error(err))
		}
		log.Error("campaign email permanently failed", zap.Error(cause))
	} else {
		log.Warn("campaign email failed, will retry", zap.Error(cause))
	}
	return fmt.Errorf("send %s to lead %s: %w", p.TemplateKey, p.LeadID, cause)
}

func (w *CampaignEmailWorker) logEntry(p CampaignEmailPayload, status entity.EmailStatus, errMsg string) *entity.EmailLog {
	return &entity.EmailLog{
		ID:          uuid.New().String(),
		LeadID:      p.LeadID,
		CampaignID:  p.CampaignID,
		TemplateKey: p.TemplateKey,
		Status:      status,
		Error:       errMsg,
		CreatedAt:   w.Now().UTC(),
	}
}

func (w *CampaignEmailWorker) templateData(p CampaignEmailPayload) mail.TemplateData {
	return mail.TemplateData{
		Name:         p.Name,
		FirstName:    firstName(p.Name),
		CaseType:     p.Context.CaseType,
		CaseLabel:    caseLabel(p.Context.CaseType),
		AssignedTeam: p.Context.AssignedTeam,
		TeamLabel:    teamLabel(p.Context.AssignedTeam),
		LeadScore:    p.Context.LeadScore,
		FirmName:     w.FirmName,
		FirmPhone:    w.FirmPhone,
	}
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func caseLabel(caseType string) string {
	label := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(caseType))
	if label == "" {
		return "legal"
	}
	return strings.ToLower(label)
}

func teamLabel(team string) string {
	if strings.TrimSpace(team) == "" {
		return "our intake team"
	}
	return team
}
