package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

// WebhookIngestor reconciles local leads from CRM change notifications.
// Unknown event types are ignored and unmatched leads are dropped.
type WebhookIngestor struct {
	Leads      entity.LeadRepositoryInterface
	Activities entity.ActivityRepositoryInterface
	Tasks      entity.TaskRepositoryInterface
	Logger     *zap.Logger
	Metrics    Metrics
	Now        func() time.Time
}

func NewWebhookIngestor(
	leads entity.LeadRepositoryInterface,
	activities entity.ActivityRepositoryInterface,
	tasks entity.TaskRepositoryInterface,
	logger *zap.Logger,
) *WebhookIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookIngestor{
		Leads:      leads,
		Activities: activities,
		Tasks:      tasks,
		Logger:     logger.Named("webhook"),
		Metrics:    nopMetrics{},
		Now:        time.Now,
	}
}

func (w *WebhookIngestor) Ingest(ctx context.Context, ev WebhookEvent) (*IngestOutput, error) {
	var (
		out *IngestOutput
		err error
	)
	switch ev.Type {
	case EventContactUpdated:
		out, err = w.contactUpdated(ctx, ev.Data)
	case EventOpportunityStatus:
		out, err = w.opportunityStatusChanged(ctx, ev.Data)
	case EventAppointmentScheduled:
		out, err = w.appointmentScheduled(ctx, ev.Data)
	default:
		w.Logger.Debug("ignoring webhook event", zap.String("type", ev.Type))
		out = &IngestOutput{Outcome: IngestIgnored}
	}
	if err != nil {
		w.Logger.Error("webhook ingest failed", zap.String("type", ev.Type), zap.Error(err))
		return nil, err
	}
	w.Metrics.WebhookEvent(ev.Type, out.Outcome)
	return out, nil
}

func (w *WebhookIngestor) contactUpdated(ctx context.Context, data map[string]any) (*IngestOutput, error) {
	remoteID := firstString(data, "id", "contactId")
	lead, err := w.resolveLead(ctx, entity.NormalizeEmail(stringField(data, "email")), remoteID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		w.Logger.Info("contact update for unknown lead", zap.String("contact_id", remoteID))
		return &IngestOutput{Outcome: IngestUnmatched}, nil
	}

	patch := map[string]any{}
	if tags, ok := data["tags"]; ok && tags != nil {
		patch["tags"] = tags
	}
	if custom, ok := data["customFields"].(map[string]any); ok {
		for k, v := range custom {
			patch[k] = v
		}
	}
	if remoteID != "" && lead.RemoteContactID() == "" {
		patch[entity.MetadataRemoteContactID] = remoteID
	}
	if len(patch) == 0 {
		return &IngestOutput{Outcome: IngestIgnored, LeadID: lead.ID}, nil
	}

	if err := w.Leads.MergeMetadata(ctx, lead.ID, patch); err != nil {
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to merge lead metadata", Err: err}
	}
	w.Logger.Info("lead metadata updated from crm", zap.String("lead_id", lead.ID), zap.Int("keys", len(patch)))
	return &IngestOutput{Outcome: IngestApplied, LeadID: lead.ID}, nil
}

func (w *WebhookIngestor) opportunityStatusChanged(ctx context.Context, data map[string]any) (*IngestOutput, error) {
	lead, err := w.resolveLead(ctx, "", stringField(data, "contactId"))
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return &IngestOutput{Outcome: IngestUnmatched}, nil
	}

	status := stringField(data, "status")
	name := firstString(data, "name", "id")
	activity := &entity.Activity{
		ID:          uuid.New().String(),
		LeadID:      lead.ID,
		Type:        EventOpportunityStatus,
		Description: fmt.Sprintf("Opportunity %q moved to %s", name, status),
		Data:        data,
		CreatedAt:   w.Now().UTC(),
	}
	if err := w.Activities.Append(ctx, activity); err != nil {
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to record activity", Err: err}
	}
	return &IngestOutput{Outcome: IngestApplied, LeadID: lead.ID}, nil
}

func (w *WebhookIngestor) appointmentScheduled(ctx context.Context, data map[string]any) (*IngestOutput, error) {
	lead, err := w.resolveLead(ctx, "", stringField(data, "contactId"))
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return &IngestOutput{Outcome: IngestUnmatched}, nil
	}

	title := stringField(data, "title")
	if title == "" {
		title = "Consultation appointment"
	}
	task := &entity.Task{
		ID:         uuid.New().String(),
		LeadID:     lead.ID,
		Title:      title,
		Status:     "OPEN",
		Source:     "crm",
		ExternalID: firstString(data, "id", "appointmentId"),
		CreatedAt:  w.Now().UTC(),
	}
	if raw := firstString(data, "startTime", "start_time"); raw != "" {
		if due, err := time.Parse(time.RFC3339, raw); err == nil {
			task.DueAt = &due
		} else {
			w.Logger.Warn("unparseable appointment start time", zap.String("value", raw))
		}
	}
	if err := w.Tasks.Create(ctx, task); err != nil {
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to create task", Err: err}
	}
	return &IngestOutput{Outcome: IngestApplied, LeadID: lead.ID}, nil
}

// resolveLead matches by email first, then by the stored remote contact id.
// A nil lead with nil error means no match.
func (w *WebhookIngestor) resolveLead(ctx context.Context, email, remoteID string) (*entity.Lead, error) {
	if email != "" {
		lead, err := w.Leads.FindByEmail(ctx, email)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to look up lead by email", Err: err}
		}
	}
	if remoteID != "" {
		lead, err := w.Leads.FindByRemoteContactID(ctx, remoteID)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to look up lead by contact id", Err: err}
		}
	}
	return nil, nil
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(data, k); s != "" {
			return s
		}
	}
	return ""
}
