package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

func newCaptureUseCase(t *testing.T, c CRM) (*CaptureLeadUseCase, *campaignHarness, *leadStore) {
	t.Helper()
	h := newCampaignHarness(t)
	leads := newLeadStore()
	sync := NewSyncCoordinator(c, leads, &taskStore{}, &conversationStore{}, h.queue, zap.NewNop(), SyncOptions{})
	uc := NewCaptureLeadUseCase(leads, h.sequencer, sync, zap.NewNop())
	uc.Now = h.clock.Now
	return uc, h, leads
}

func TestCaptureLeadStartsCampaignAndQueuesSync(t *testing.T) {
	uc, h, leads := newCaptureUseCase(t, ConfiguredCRM(newFakeCRM()))

	out, err := uc.Execute(context.Background(), CaptureLeadInput{
		Email:     " Jane@Example.com ",
		Name:      "Jane Roe",
		CaseType:  "personal_injury",
		LeadScore: 92,
	})
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", out.Lead.Email)
	assert.Equal(t, entity.CampaignHotLead, out.Campaign.Type)
	assert.Equal(t, 4, out.Jobs)
	require.NotNil(t, out.SyncJob)
	assert.Equal(t, map[queue.Kind]int{
		queue.KindSendCampaignEmail: 4,
		queue.KindSyncContact:       1,
	}, pendingKinds(t, h.queue))

	stored := leads.get(out.Lead.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "personal_injury", stored.Metadata["caseType"])
}

func TestCaptureLeadWithoutCRMSkipsSync(t *testing.T) {
	uc, h, _ := newCaptureUseCase(t, DisabledCRM())

	out, err := uc.Execute(context.Background(), CaptureLeadInput{Email: "sam@example.com", LeadScore: 50})
	require.NoError(t, err)

	assert.Nil(t, out.SyncJob)
	assert.Equal(t, map[queue.Kind]int{queue.KindSendCampaignEmail: 5}, pendingKinds(t, h.queue))
}

func TestCaptureLeadRejectsInvalidInput(t *testing.T) {
	uc, _, _ := newCaptureUseCase(t, DisabledCRM())

	_, err := uc.Execute(context.Background(), CaptureLeadInput{Email: "nope", Phone: "abc"})
	require.Error(t, err)
	assert.True(t, IsDomainError(err))
	assert.Contains(t, err.Error(), "email")
	assert.Contains(t, err.Error(), "phone")
}

func TestCampaignTypeFor(t *testing.T) {
	tests := []struct {
		in   CaptureLeadInput
		want entity.CampaignType
	}{
		{CaptureLeadInput{LeadScore: 85}, entity.CampaignHotLead},
		{CaptureLeadInput{LeadScore: 80}, entity.CampaignHotLead},
		{CaptureLeadInput{LeadScore: 50}, entity.CampaignStandard},
		{CaptureLeadInput{LeadScore: 0}, entity.CampaignStandard},
		{CaptureLeadInput{LeadScore: 12}, entity.CampaignColdLead},
		{CaptureLeadInput{LeadScore: 95, CampaignType: "re-engagement"}, entity.CampaignReEngagement},
		{CaptureLeadInput{CampaignType: "bogus"}, entity.CampaignStandard},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, campaignTypeFor(tt.in), "%+v", tt.in)
	}
}
