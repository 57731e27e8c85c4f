package usecase

import (
	"context"

	"github.com/xavierca1/lead-nurture/internal/infra/integration/crm"
	"github.com/xavierca1/lead-nurture/internal/infra/mail"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

// JobQueue is the part of the queue client the producers need.
type JobQueue interface {
	Enqueue(ctx context.Context, kind queue.Kind, leadID string, payload any, opts queue.Options) (queue.Handle, error)
	CancelAll(ctx context.Context, match queue.Predicate) (int, error)
}

type JobRegistry interface {
	Register(kind queue.Kind, h queue.Handler)
}

type EmailTransport interface {
	Send(ctx context.Context, msg mail.Message) error
}

type TemplateRenderer interface {
	Render(key string, data mail.TemplateData) (mail.Rendered, error)
	RenderSubject(subject string, data mail.TemplateData) (string, error)
}

type CRMClient interface {
	SearchContactByEmail(ctx context.Context, email string) (*crm.Contact, error)
	UpsertContact(ctx context.Context, fields crm.ContactFields) (*crm.Contact, error)
	CreateOpportunity(ctx context.Context, input crm.OpportunityInput) (*crm.Opportunity, error)
	CreateContactNote(ctx context.Context, contactID, text string) error
}

// Metrics receives counters from the use cases; the HTTP layer wires Prometheus in.
type Metrics interface {
	EmailAttempt(status string)
	CRMError(operation string)
	WebhookEvent(eventType, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) EmailAttempt(string)         {}
func (nopMetrics) CRMError(string)             {}
func (nopMetrics) WebhookEvent(string, string) {}
