package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/integration/crm"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
	"github.com/xavierca1/lead-nurture/internal/keylock"
)

const (
	defaultConversationWindow = 30 * 24 * time.Hour
	defaultConversationLimit  = 20
	contactSource             = "website"
)

type SyncOptions struct {
	PipelineID         string
	StageID            string
	ConversationWindow time.Duration
	ConversationLimit  int
}

// SyncCoordinator keeps leads and CRM contacts consistent. Every entry point
// is a no-op while the CRM is disabled.
type SyncCoordinator struct {
	CRM           CRM
	Leads         entity.LeadRepositoryInterface
	Tasks         entity.TaskRepositoryInterface
	Conversations entity.ConversationRepositoryInterface
	Queue         JobQueue
	Logger        *zap.Logger
	Metrics       Metrics
	Now           func() time.Time
	opts          SyncOptions
	emailLocks    *keylock.Mutex
}

func NewSyncCoordinator(
	c CRM,
	leads entity.LeadRepositoryInterface,
	tasks entity.TaskRepositoryInterface,
	conversations entity.ConversationRepositoryInterface,
	q JobQueue,
	logger *zap.Logger,
	opts SyncOptions,
) *SyncCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConversationWindow <= 0 {
		opts.ConversationWindow = defaultConversationWindow
	}
	if opts.ConversationLimit <= 0 {
		opts.ConversationLimit = defaultConversationLimit
	}
	return &SyncCoordinator{
		CRM:           c,
		Leads:         leads,
		Tasks:         tasks,
		Conversations: conversations,
		Queue:         q,
		Logger:        logger.Named("crm_sync"),
		Metrics:       nopMetrics{},
		Now:           time.Now,
		opts:          opts,
		emailLocks:    keylock.New(),
	}
}

// SyncContact creates or updates the CRM contact for the lead and stores the
// remote id on the lead. It returns nil, nil when the CRM is disabled.
func (s *SyncCoordinator) SyncContact(ctx context.Context, leadID string, extra map[string]any) (*string, error) {
	client, ok := s.CRM.Client()
	if !ok {
		s.Logger.Debug("crm disabled, skipping contact sync", zap.String("lead_id", leadID))
		return nil, nil
	}
	id, err := s.upsertContact(ctx, client, leadID, extra)
	if err != nil {
		s.Logger.Error("contact sync failed", zap.String("lead_id", leadID), zap.Error(err))
		return nil, err
	}
	return &id, nil
}

func (s *SyncCoordinator) upsertContact(ctx context.Context, client CRMClient, leadID string, extra map[string]any) (string, error) {
	lead, err := s.Leads.FindByID(ctx, leadID)
	if errors.Is(err, entity.ErrNotFound) {
		return "", &DomainError{Code: CodeLeadNotFound, Message: "lead not found: " + leadID}
	}
	if err != nil {
		return "", &TechnicalError{Code: CodeDatabase, Message: "failed to load lead", Err: err}
	}
	email := entity.NormalizeEmail(lead.Email)
	if email == "" {
		return "", &DomainError{Code: CodeValidation, Message: "validation failed: email (is required)"}
	}

	// search-then-create is not atomic remotely; one upsert per email at a time
	unlock := s.emailLocks.Lock(email)
	defer unlock()

	existing, err := client.SearchContactByEmail(ctx, email)
	if err != nil {
		s.Metrics.CRMError("search_contact")
		return "", &TechnicalError{Code: CodeCRM, Message: "contact search failed", Err: err}
	}

	var fields crm.ContactFields
	if existing != nil {
		fields.ID = existing.ID
	} else {
		first, last := splitName(lead.Name)
		fields = crm.ContactFields{
			Email:     email,
			Phone:     lead.Phone,
			Name:      lead.Name,
			FirstName: first,
			LastName:  last,
			Source:    contactSource,
		}
	}
	applyExtraFields(&fields, extra)

	contact, err := client.UpsertContact(ctx, fields)
	if err != nil {
		s.Metrics.CRMError("upsert_contact")
		return "", &TechnicalError{Code: CodeCRM, Message: "contact upsert failed", Err: err}
	}

	remoteID := fields.ID
	if contact != nil && contact.ID != "" {
		remoteID = contact.ID
	}
	if remoteID == "" {
		return "", &TechnicalError{Code: CodeCRM, Message: "crm returned a contact without id"}
	}

	if err := s.Leads.MergeMetadata(ctx, lead.ID, map[string]any{entity.MetadataRemoteContactID: remoteID}); err != nil {
		return "", &TechnicalError{Code: CodeDatabase, Message: "failed to store remote contact id", Err: err}
	}

	s.Logger.Info("contact synced",
		zap.String("lead_id", lead.ID),
		zap.String("contact_id", remoteID),
		zap.Bool("created", existing == nil))
	return remoteID, nil
}

// SyncOpportunity never fails the caller; failures are logged and yield nil.
func (s *SyncCoordinator) SyncOpportunity(ctx context.Context, contactID, name string, value float64, stage, assignee string) *string {
	client, ok := s.CRM.Client()
	if !ok {
		return nil
	}
	if contactID == "" {
		s.Logger.Warn("opportunity sync skipped, missing contact id", zap.String("name", name))
		return nil
	}
	id, err := s.createOpportunity(ctx, client, contactID, name, value, stage, assignee)
	if err != nil {
		s.Logger.Warn("opportunity sync failed", zap.String("contact_id", contactID), zap.Error(err))
		return nil
	}
	return &id
}

func (s *SyncCoordinator) createOpportunity(ctx context.Context, client CRMClient, contactID, name string, value float64, stage, assignee string) (string, error) {
	if stage == "" {
		stage = s.opts.StageID
	}
	opp, err := client.CreateOpportunity(ctx, crm.OpportunityInput{
		ContactID:  contactID,
		Name:       name,
		PipelineID: s.opts.PipelineID,
		StageID:    stage,
		Value:      value,
		AssignedTo: assignee,
	})
	if err != nil {
		s.Metrics.CRMError("create_opportunity")
		return "", err
	}
	if opp == nil || opp.ID == "" {
		return "", errors.New("crm returned an opportunity without id")
	}
	s.Logger.Info("opportunity created", zap.String("contact_id", contactID), zap.String("opportunity_id", opp.ID))
	return opp.ID, nil
}

// AddNote never fails the caller and is not retried here; use QueueSync for retries.
func (s *SyncCoordinator) AddNote(ctx context.Context, contactID, text string) {
	client, ok := s.CRM.Client()
	if !ok {
		return
	}
	if err := s.createNote(ctx, client, contactID, text); err != nil {
		s.Logger.Warn("note sync failed", zap.String("contact_id", contactID), zap.Error(err))
	}
}

func (s *SyncCoordinator) createNote(ctx context.Context, client CRMClient, contactID, text string) error {
	if contactID == "" {
		return errors.New("missing contact id")
	}
	if err := client.CreateContactNote(ctx, contactID, text); err != nil {
		s.Metrics.CRMError("create_note")
		return err
	}
	return nil
}

// SyncUserData makes sure the lead has a CRM contact, then queues one note per
// task and per recent conversation. Each note is an independent job; a failure
// to queue one is logged and does not stop the others.
func (s *SyncCoordinator) SyncUserData(ctx context.Context, leadID string) (*SyncUserDataOutput, error) {
	client, ok := s.CRM.Client()
	if !ok {
		return &SyncUserDataOutput{}, nil
	}

	lead, err := s.Leads.FindByID(ctx, leadID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, &DomainError{Code: CodeLeadNotFound, Message: "lead not found: " + leadID}
	}
	if err != nil {
		return nil, &TechnicalError{Code: CodeDatabase, Message: "failed to load lead", Err: err}
	}

	contactID := lead.RemoteContactID()
	if contactID == "" {
		contactID, err = s.upsertContact(ctx, client, leadID, nil)
		if err != nil {
			s.Logger.Error("user data sync aborted, no remote contact", zap.String("lead_id", leadID), zap.Error(err))
			return nil, err
		}
	}

	var notes []string
	tasks, err := s.Tasks.ListByLeadID(ctx, leadID)
	if err != nil {
		s.Logger.Warn("failed to list tasks for sync", zap.String("lead_id", leadID), zap.Error(err))
	}
	for _, t := range tasks {
		notes = append(notes, taskNote(t))
	}
	since := s.Now().Add(-s.opts.ConversationWindow)
	convs, err := s.Conversations.ListRecentByLeadID(ctx, leadID, since, s.opts.ConversationLimit)
	if err != nil {
		s.Logger.Warn("failed to list conversations for sync", zap.String("lead_id", leadID), zap.Error(err))
	}
	for _, c := range convs {
		notes = append(notes, conversationNote(c))
	}

	results := make([]error, len(notes))
	var g errgroup.Group
	g.SetLimit(4)
	for i, text := range notes {
		i, text := i, text
		g.Go(func() error {
			_, err := s.QueueSync(ctx, SyncJob{Operation: SyncOpNote, LeadID: leadID, ContactID: contactID, Text: text})
			if err != nil {
				s.Logger.Warn("failed to queue note", zap.String("lead_id", leadID), zap.Error(err))
			}
			results[i] = err
			return nil
		})
	}
	_ = g.Wait()

	out := &SyncUserDataOutput{ContactID: contactID}
	for _, err := range results {
		if err != nil {
			out.Failed++
		} else {
			out.Queued++
		}
	}
	s.Logger.Info("user data sync queued",
		zap.String("lead_id", leadID),
		zap.Int("queued", out.Queued),
		zap.Int("failed", out.Failed))
	return out, nil
}

// QueueSync wraps one sync operation as a job with the default retry policy.
func (s *SyncCoordinator) QueueSync(ctx context.Context, job SyncJob) (queue.Handle, error) {
	if err := validationFailure(ValidateSyncJob(job)); err != nil {
		return queue.Handle{}, err
	}
	h, err := s.Queue.Enqueue(ctx, syncKind(job.Operation), job.LeadID, job, queue.DefaultOptions())
	if err != nil {
		return queue.Handle{}, &TechnicalError{Code: CodeQueue, Message: "failed to queue sync job", Err: err}
	}
	return h, nil
}

func syncKind(op SyncOperation) queue.Kind {
	switch op {
	case SyncOpOpportunity:
		return queue.KindSyncOpportunity
	case SyncOpNote:
		return queue.KindSyncNote
	default:
		return queue.KindSyncContact
	}
}

// applyExtraFields copies known keys onto the contact and everything else
// into its custom fields.
func applyExtraFields(fields *crm.ContactFields, extra map[string]any) {
	for k, v := range extra {
		switch k {
		case "phone":
			if s, ok := v.(string); ok {
				fields.Phone = s
			}
		case "source":
			if s, ok := v.(string); ok {
				fields.Source = s
			}
		case "tags":
			fields.Tags = appendTags(fields.Tags, v)
		default:
			if fields.CustomFields == nil {
				fields.CustomFields = map[string]any{}
			}
			fields.CustomFields[k] = v
		}
	}
}

func appendTags(tags []string, v any) []string {
	switch t := v.(type) {
	case []string:
		return append(tags, t...)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
	case string:
		tags = append(tags, t)
	}
	return tags
}

func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

func taskNote(t entity.Task) string {
	note := fmt.Sprintf("Task: %s [%s]", t.Title, t.Status)
	if t.DueAt != nil {
		note += " due " + t.DueAt.UTC().Format("2006-01-02 15:04 MST")
	}
	return note
}

func conversationNote(c entity.Conversation) string {
	return fmt.Sprintf("Conversation via %s on %s: %s", c.Channel, c.CreatedAt.UTC().Format("2006-01-02"), c.Summary)
}
