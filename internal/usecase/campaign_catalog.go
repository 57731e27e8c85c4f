package usecase

import (
	"time"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

// StepCondition decides whether a step is scheduled for a given start request.
type StepCondition func(in StartCampaignInput) bool

type EmailSequenceStep struct {
	Offset      time.Duration
	TemplateKey string
	Subject     string
	Condition   StepCondition
}

const day = 24 * time.Hour

// Offsets are absolute from campaign start, not relative to the previous step.
var campaignCatalog = map[entity.CampaignType][]EmailSequenceStep{
	entity.CampaignHotLead: {
		{Offset: 0, TemplateKey: "hot-immediate", Subject: "{{.FirstName}}, we received your request"},
		{Offset: 15 * time.Minute, TemplateKey: "hot-followup-15m", Subject: "An attorney is reviewing your {{.CaseLabel}} case"},
		{Offset: time.Hour, TemplateKey: "hot-checkin-1h", Subject: "Can we call you today, {{.FirstName}}?", Condition: minLeadScore(80)},
		{Offset: day, TemplateKey: "hot-next-day", Subject: "Next steps for your {{.CaseLabel}} matter"},
	},
	entity.CampaignStandard: {
		{Offset: 0, TemplateKey: "std-welcome", Subject: "Thank you for contacting {{.FirmName}}"},
		{Offset: time.Hour, TemplateKey: "std-1h", Subject: "What happens next with your inquiry"},
		{Offset: day, TemplateKey: "std-24h", Subject: "Questions clients ask about {{.CaseLabel}} cases"},
		{Offset: 3 * day, TemplateKey: "std-3d", Subject: "Your free consultation is still available"},
		{Offset: 7 * day, TemplateKey: "std-7d", Subject: "Still here when you are ready, {{.FirstName}}"},
	},
	entity.CampaignColdLead: {
		{Offset: 0, TemplateKey: "cold-welcome", Subject: "Thanks for reaching out to {{.FirmName}}"},
		{Offset: 3 * day, TemplateKey: "cold-3d", Subject: "Understanding your legal options"},
		{Offset: 7 * day, TemplateKey: "cold-7d", Subject: "How a consultation works"},
		{Offset: 14 * day, TemplateKey: "cold-14d", Subject: "One last note from {{.FirmName}}"},
	},
	entity.CampaignReEngagement: {
		{Offset: 0, TemplateKey: "reengage-immediate", Subject: "{{.FirstName}}, is your case still open?"},
		{Offset: 2 * day, TemplateKey: "reengage-2d", Subject: "We can still help with your {{.CaseLabel}} matter"},
		{Offset: 5 * day, TemplateKey: "reengage-5d", Subject: "Checking in one more time"},
	},
}

// CampaignSteps returns a copy of the catalog entry; unknown types get the standard sequence.
func CampaignSteps(t entity.CampaignType) []EmailSequenceStep {
	steps, ok := campaignCatalog[t]
	if !ok {
		steps = campaignCatalog[entity.CampaignStandard]
	}
	return append([]EmailSequenceStep(nil), steps...)
}

// LongestSequence is the largest step offset across every campaign type.
func LongestSequence() time.Duration {
	var max time.Duration
	for _, steps := range campaignCatalog {
		for _, s := range steps {
			if s.Offset > max {
				max = s.Offset
			}
		}
	}
	return max
}

// selectSteps drops steps whose condition rejects the input.
func selectSteps(steps []EmailSequenceStep, in StartCampaignInput) []EmailSequenceStep {
	out := make([]EmailSequenceStep, 0, len(steps))
	for _, s := range steps {
		if s.Condition != nil && !s.Condition(in) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func minLeadScore(n int) StepCondition {
	return func(in StartCampaignInput) bool {
		return in.Context.LeadScore >= n
	}
}
