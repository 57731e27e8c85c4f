package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

type campaignHarness struct {
	clock     *fakeClock
	queue     *queue.Client
	campaigns *campaignStore
	logs      *emailLogStore
	transport *MockTransport
	sequencer *CampaignSequencer
	worker    *CampaignEmailWorker
}

func newCampaignHarness(t *testing.T) *campaignHarness {
	t.Helper()
	h := &campaignHarness{
		clock:     newFakeClock(),
		campaigns: newCampaignStore(),
		logs:      &emailLogStore{},
		transport: new(MockTransport),
	}
	h.queue = newTestQueue(h.clock)
	h.sequencer = NewCampaignSequencer(h.queue, h.campaigns, zap.NewNop())
	h.sequencer.Now = h.clock.Now
	h.worker = NewCampaignEmailWorker(h.transport, newRenderer(t), h.logs, h.campaigns, zap.NewNop())
	h.worker.Now = h.clock.Now
	h.worker.Register(h.queue)
	return h
}

func (h *campaignHarness) process(t *testing.T) int {
	t.Helper()
	n, err := h.queue.ProcessDue(context.Background())
	require.NoError(t, err)
	return n
}

func startInput(campaignType entity.CampaignType, score int) StartCampaignInput {
	return StartCampaignInput{
		LeadID:       "L1",
		Email:        "jane@example.com",
		Name:         "Jane Roe",
		CampaignType: campaignType,
		Context:      CaseContext{CaseType: "personal_injury", LeadScore: score},
	}
}

func TestCampaignStepOffsets(t *testing.T) {
	offsets := func(ct entity.CampaignType, score int) []time.Duration {
		var out []time.Duration
		for _, s := range selectSteps(CampaignSteps(ct), startInput(ct, score)) {
			out = append(out, s.Offset)
		}
		return out
	}

	tests := []struct {
		name  string
		ct    entity.CampaignType
		score int
		want  []time.Duration
	}{
		{"hot lead low score", entity.CampaignHotLead, 50, []time.Duration{0, 15 * time.Minute, 24 * time.Hour}},
		{"hot lead high score", entity.CampaignHotLead, 90, []time.Duration{0, 15 * time.Minute, time.Hour, 24 * time.Hour}},
		{"hot lead threshold", entity.CampaignHotLead, 80, []time.Duration{0, 15 * time.Minute, time.Hour, 24 * time.Hour}},
		{"standard", entity.CampaignStandard, 50, []time.Duration{0, time.Hour, 24 * time.Hour, 72 * time.Hour, 168 * time.Hour}},
		{"cold lead", entity.CampaignColdLead, 10, []time.Duration{0, 72 * time.Hour, 168 * time.Hour, 336 * time.Hour}},
		{"re-engagement", entity.CampaignReEngagement, 50, []time.Duration{0, 48 * time.Hour, 120 * time.Hour}},
		{"unknown type", entity.CampaignType("vip"), 50, []time.Duration{0, time.Hour, 24 * time.Hour, 72 * time.Hour, 168 * time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, offsets(tt.ct, tt.score)); diff != "" {
				t.Errorf("offsets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEveryCatalogTemplateExists(t *testing.T) {
	r := newRenderer(t)
	for ct, steps := range campaignCatalog {
		for _, s := range steps {
			assert.True(t, r.Has(s.TemplateKey), "%s: missing template %s", ct, s.TemplateKey)
		}
	}
}

func TestStartHotLeadLowScoreSchedulesThreeJobs(t *testing.T) {
	h := newCampaignHarness(t)

	out, err := h.sequencer.Start(context.Background(), startInput(entity.CampaignHotLead, 50))
	require.NoError(t, err)

	assert.Len(t, out.Jobs, 3)
	assert.Equal(t, entity.CampaignActive, out.Campaign.Status)
	assert.Equal(t, entity.CampaignHotLead, out.Campaign.Type)
	assert.Nil(t, out.Replaced)

	var runAt []time.Duration
	for _, j := range out.Jobs {
		runAt = append(runAt, j.RunAt.Sub(t0))
	}
	assert.Empty(t, cmp.Diff([]time.Duration{0, 15 * time.Minute, 24 * time.Hour}, runAt))

	records := h.campaigns.byLead("L1")
	require.Len(t, records, 1)
	assert.Equal(t, out.Campaign.ID, records[0].ID)
}

func TestStartUnknownTypeFallsBackToStandard(t *testing.T) {
	h := newCampaignHarness(t)

	out, err := h.sequencer.Start(context.Background(), startInput("does-not-exist", 50))
	require.NoError(t, err)

	assert.Equal(t, entity.CampaignStandard, out.Campaign.Type)
	assert.Len(t, out.Jobs, 5)
}

func TestStartValidatesInput(t *testing.T) {
	h := newCampaignHarness(t)

	_, err := h.sequencer.Start(context.Background(), StartCampaignInput{Email: "not-an-email"})
	require.Error(t, err)
	assert.True(t, IsDomainError(err))
	assert.Empty(t, pendingKinds(t, h.queue))
}

func TestStartWhileActiveReplacesCampaign(t *testing.T) {
	h := newCampaignHarness(t)
	ctx := context.Background()

	first, err := h.sequencer.Start(ctx, startInput(entity.CampaignStandard, 50))
	require.NoError(t, err)
	second, err := h.sequencer.Start(ctx, startInput(entity.CampaignReEngagement, 50))
	require.NoError(t, err)

	require.NotNil(t, second.Replaced)
	assert.Equal(t, first.Campaign.ID, second.Replaced.ID)

	old, err := h.campaigns.FindByID(ctx, first.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CampaignStopped, old.Status)
	assert.NotNil(t, old.StoppedAt)

	active, err := h.campaigns.FindActiveByLeadID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, second.Campaign.ID, active.ID)

	// only the re-engagement steps are left waiting
	assert.Equal(t, map[queue.Kind]int{queue.KindSendCampaignEmail: 3}, pendingKinds(t, h.queue))
}

func TestStartCompensatesWhenRecordCannotBePersisted(t *testing.T) {
	h := newCampaignHarness(t)
	h.campaigns.createErr = errors.New("connection reset")

	_, err := h.sequencer.Start(context.Background(), startInput(entity.CampaignHotLead, 90))
	require.Error(t, err)
	assert.True(t, IsTechnicalError(err))
	assert.Empty(t, pendingKinds(t, h.queue))

	// a retry of the whole operation schedules the sequence once
	h.campaigns.createErr = nil
	out, err := h.sequencer.Start(context.Background(), startInput(entity.CampaignHotLead, 90))
	require.NoError(t, err)
	assert.Len(t, out.Jobs, 4)
	assert.Equal(t, map[queue.Kind]int{queue.KindSendCampaignEmail: 4}, pendingKinds(t, h.queue))
}

func TestStopCampaignCancelsRemainingEmails(t *testing.T) {
	h := newCampaignHarness(t)
	ctx := context.Background()
	h.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	out, err := h.sequencer.Start(ctx, startInput(entity.CampaignHotLead, 90))
	require.NoError(t, err)
	require.Len(t, out.Jobs, 4)

	assert.Equal(t, 1, h.process(t))

	h.clock.Advance(10 * time.Minute)
	stopped, err := h.sequencer.Stop(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 3, stopped.CancelledJobs)
	assert.Equal(t, entity.CampaignStopped, stopped.Campaign.Status)
	require.NotNil(t, stopped.Campaign.StoppedAt)
	assert.Equal(t, t0.Add(10*time.Minute), *stopped.Campaign.StoppedAt)

	h.clock.Advance(48 * time.Hour)
	assert.Equal(t, 0, h.process(t))

	logs, err := h.logs.ListByLeadID(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hot-immediate", logs[0].TemplateKey)
	assert.Equal(t, entity.EmailSent, logs[0].Status)
	h.transport.AssertNumberOfCalls(t, "Send", 1)
}

func TestStopWithoutActiveCampaignIsCleanup(t *testing.T) {
	h := newCampaignHarness(t)

	out, err := h.sequencer.Stop(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, out.Campaign)
	assert.Zero(t, out.CancelledJobs)
}

func TestStopLeavesOtherLeadsAndKindsAlone(t *testing.T) {
	h := newCampaignHarness(t)
	ctx := context.Background()

	_, err := h.sequencer.Start(ctx, startInput(entity.CampaignStandard, 50))
	require.NoError(t, err)
	other := startInput(entity.CampaignStandard, 50)
	other.LeadID = "L2"
	_, err = h.sequencer.Start(ctx, other)
	require.NoError(t, err)
	_, err = h.queue.Enqueue(ctx, queue.KindSyncContact, "L1", SyncJob{Operation: SyncOpContact, LeadID: "L1"}, queue.DefaultOptions())
	require.NoError(t, err)

	out, err := h.sequencer.Stop(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 5, out.CancelledJobs)

	assert.Equal(t, map[queue.Kind]int{
		queue.KindSendCampaignEmail: 5,
		queue.KindSyncContact:       1,
	}, pendingKinds(t, h.queue))
}
