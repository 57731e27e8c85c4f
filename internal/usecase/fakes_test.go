package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/integration/crm"
	"github.com/xavierca1/lead-nurture/internal/infra/mail"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(clock *fakeClock) *queue.Client {
	return queue.NewMemory(zap.NewNop(), queue.Config{Clock: clock})
}

// leadStore

type leadStore struct {
	mu    sync.Mutex
	leads map[string]*entity.Lead
}

func newLeadStore(leads ...*entity.Lead) *leadStore {
	s := &leadStore{leads: map[string]*entity.Lead{}}
	for _, l := range leads {
		s.leads[l.ID] = l
	}
	return s
}

func (s *leadStore) Upsert(_ context.Context, lead *entity.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.leads {
		if existing.Email == lead.Email {
			lead.ID = existing.ID
			lead.CreatedAt = existing.CreatedAt
			break
		}
	}
	cp := *lead
	cp.Metadata = copyMap(lead.Metadata)
	s.leads[lead.ID] = &cp
	return nil
}

func (s *leadStore) FindByID(_ context.Context, id string) (*entity.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *l
	cp.Metadata = copyMap(l.Metadata)
	return &cp, nil
}

func (s *leadStore) FindByEmail(_ context.Context, email string) (*entity.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.Email == email {
			cp := *l
			cp.Metadata = copyMap(l.Metadata)
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (s *leadStore) FindByRemoteContactID(_ context.Context, remoteID string) (*entity.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.RemoteContactID() == remoteID {
			cp := *l
			cp.Metadata = copyMap(l.Metadata)
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (s *leadStore) MergeMetadata(_ context.Context, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return entity.ErrNotFound
	}
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	for k, v := range patch {
		l.Metadata[k] = v
	}
	return nil
}

func (s *leadStore) get(id string) *entity.Lead {
	l, _ := s.FindByID(context.Background(), id)
	return l
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// campaignStore

type campaignStore struct {
	mu        sync.Mutex
	records   map[string]*entity.CampaignRecord
	createErr error
}

func newCampaignStore() *campaignStore {
	return &campaignStore{records: map[string]*entity.CampaignRecord{}}
}

func (s *campaignStore) Create(_ context.Context, c *entity.CampaignRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *c
	s.records[c.ID] = &cp
	return nil
}

func (s *campaignStore) FindByID(_ context.Context, id string) (*entity.CampaignRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *campaignStore) FindActiveByLeadID(_ context.Context, leadID string) (*entity.CampaignRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.records {
		if c.LeadID == leadID && c.IsActive() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (s *campaignStore) UpdateStatus(_ context.Context, id string, status entity.CampaignStatus, stoppedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok {
		return entity.ErrNotFound
	}
	c.Status = status
	c.StoppedAt = stoppedAt
	return nil
}

func (s *campaignStore) byLead(leadID string) []entity.CampaignRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.CampaignRecord
	for _, c := range s.records {
		if c.LeadID == leadID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// emailLogStore

type emailLogStore struct {
	mu   sync.Mutex
	logs []entity.EmailLog
}

func (s *emailLogStore) Append(_ context.Context, l *entity.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *l)
	return nil
}

func (s *emailLogStore) ListByLeadID(_ context.Context, leadID string) ([]entity.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.EmailLog
	for _, l := range s.logs {
		if l.LeadID == leadID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *emailLogStore) count(status entity.EmailStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		if l.Status == status {
			n++
		}
	}
	return n
}

// activity, task and conversation stores

type activityStore struct {
	mu    sync.Mutex
	items []entity.Activity
}

func (s *activityStore) Append(_ context.Context, a *entity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, *a)
	return nil
}

func (s *activityStore) ListByLeadID(_ context.Context, leadID string) ([]entity.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Activity
	for _, a := range s.items {
		if a.LeadID == leadID {
			out = append(out, a)
		}
	}
	return out, nil
}

type taskStore struct {
	mu    sync.Mutex
	items []entity.Task
}

func (s *taskStore) Create(_ context.Context, t *entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, *t)
	return nil
}

func (s *taskStore) ListByLeadID(_ context.Context, leadID string) ([]entity.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Task
	for _, t := range s.items {
		if t.LeadID == leadID {
			out = append(out, t)
		}
	}
	return out, nil
}

type conversationStore struct {
	items []entity.Conversation
}

func (s *conversationStore) ListRecentByLeadID(_ context.Context, leadID string, since time.Time, limit int) ([]entity.Conversation, error) {
	var out []entity.Conversation
	for _, c := range s.items {
		if c.LeadID == leadID && !c.CreatedAt.Before(since) {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MockTransport

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, msg mail.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockCRMClient

type MockCRMClient struct {
	mock.Mock
}

func (m *MockCRMClient) SearchContactByEmail(ctx context.Context, email string) (*crm.Contact, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*crm.Contact), args.Error(1)
}

func (m *MockCRMClient) UpsertContact(ctx context.Context, fields crm.ContactFields) (*crm.Contact, error) {
	args := m.Called(ctx, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*crm.Contact), args.Error(1)
}

func (m *MockCRMClient) CreateOpportunity(ctx context.Context, input crm.OpportunityInput) (*crm.Opportunity, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*crm.Opportunity), args.Error(1)
}

func (m *MockCRMClient) CreateContactNote(ctx context.Context, contactID, text string) error {
	args := m.Called(ctx, contactID, text)
	return args.Error(0)
}

// fakeCRM is a stateful CRM keyed by email. Search and create are separate
// calls, like the real API, so concurrent upserts can race without a lock.
type fakeCRM struct {
	mu       sync.Mutex
	contacts map[string]crm.Contact
	creates  int
	updates  int
	notes    map[string][]string
	nextID   int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contacts: map[string]crm.Contact{}, notes: map[string][]string{}}
}

func (f *fakeCRM) SearchContactByEmail(_ context.Context, email string) (*crm.Contact, error) {
	f.mu.Lock()
	c, ok := f.contacts[strings.ToLower(email)]
	f.mu.Unlock()
	// widen the window between search and create
	time.Sleep(2 * time.Millisecond)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeCRM) UpsertContact(_ context.Context, fields crm.ContactFields) (*crm.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fields.ID != "" {
		f.updates++
		for email, c := range f.contacts {
			if c.ID == fields.ID {
				c.Tags = append(c.Tags, fields.Tags...)
				f.contacts[email] = c
				return &c, nil
			}
		}
		return nil, errors.New("contact not found")
	}
	f.creates++
	f.nextID++
	c := crm.Contact{ID: fmt.Sprintf("contact-%d", f.nextID), Email: fields.Email, Name: fields.Name, Tags: fields.Tags}
	f.contacts[strings.ToLower(fields.Email)] = c
	return &c, nil
}

func (f *fakeCRM) CreateOpportunity(_ context.Context, input crm.OpportunityInput) (*crm.Opportunity, error) {
	return &crm.Opportunity{ID: "opp-1", ContactID: input.ContactID, Name: input.Name}, nil
}

func (f *fakeCRM) CreateContactNote(_ context.Context, contactID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[contactID] = append(f.notes[contactID], text)
	return nil
}

func newRenderer(t *testing.T) *mail.Renderer {
	t.Helper()
	r, err := mail.NewRenderer()
	require.NoError(t, err)
	return r
}

func pendingKinds(t *testing.T, q *queue.Client) map[queue.Kind]int {
	t.Helper()
	jobs, err := q.Pending(context.Background())
	require.NoError(t, err)
	out := map[queue.Kind]int{}
	for _, j := range jobs {
		out[j.Kind]++
	}
	return out
}
