package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

// RegisterHandlers binds the sync-* job kinds to this coordinator.
func (s *SyncCoordinator) RegisterHandlers(r JobRegistry) {
	r.Register(queue.KindSyncContact, s.handleContactJob)
	r.Register(queue.KindSyncOpportunity, s.handleOpportunityJob)
	r.Register(queue.KindSyncNote, s.handleNoteJob)
}

func (s *SyncCoordinator) handleContactJob(ctx context.Context, job queue.Job) error {
	var p SyncJob
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode sync job: %w", err)
	}
	client, ok := s.CRM.Client()
	if !ok {
		return nil
	}
	if _, err := s.upsertContact(ctx, client, p.LeadID, p.Fields); err != nil {
		s.logAttempt(job, err)
		return err
	}
	return nil
}

func (s *SyncCoordinator) handleOpportunityJob(ctx context.Context, job queue.Job) error {
	var p SyncJob
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode sync job: %w", err)
	}
	client, ok := s.CRM.Client()
	if !ok {
		return nil
	}
	contactID, err := s.resolveContactID(ctx, p)
	if err == nil {
		_, err = s.createOpportunity(ctx, client, contactID, p.Name, p.Value, p.Stage, p.Assignee)
	}
	if err != nil {
		s.logAttempt(job, err)
		return err
	}
	return nil
}

func (s *SyncCoordinator) handleNoteJob(ctx context.Context, job queue.Job) error {
	var p SyncJob
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode sync job: %w", err)
	}
	client, ok := s.CRM.Client()
	if !ok {
		return nil
	}
	contactID, err := s.resolveContactID(ctx, p)
	if err == nil {
		err = s.createNote(ctx, client, contactID, p.Text)
	}
	if err != nil {
		s.logAttempt(job, err)
		return err
	}
	return nil
}

// resolveContactID falls back to the lead's binding, which a contact sync may
// have written after the job was queued.
func (s *SyncCoordinator) resolveContactID(ctx context.Context, p SyncJob) (string, error) {
	if p.ContactID != "" {
		return p.ContactID, nil
	}
	lead, err := s.Leads.FindByID(ctx, p.LeadID)
	if err != nil {
		return "", fmt.Errorf("load lead %s: %w", p.LeadID, err)
	}
	if id := lead.RemoteContactID(); id != "" {
		return id, nil
	}
	return "", errors.New("lead has no remote contact yet")
}

func (s *SyncCoordinator) logAttempt(job queue.Job, err error) {
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("lead_id", job.LeadID),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	}
	if job.FinalAttempt() || IsDomainError(err) || errors.Is(err, entity.ErrNotFound) {
		s.Logger.Error("crm sync job failed", fields...)
		return
	}
	s.Logger.Warn("crm sync job failed, will retry", fields...)
}
