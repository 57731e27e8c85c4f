package usecase

import (
	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
)

// CaseContext carries what intake learned about the lead's matter.
type CaseContext struct {
	CaseType        string `json:"case_type,omitempty"`
	LeadScore       int    `json:"lead_score,omitempty"`
	AssignedTeam    string `json:"assigned_team,omitempty"`
	RemoteContactID string `json:"remote_contact_id,omitempty"`
}

type StartCampaignInput struct {
	LeadID       string              `json:"lead_id"`
	Email        string              `json:"email"`
	Name         string              `json:"name"`
	CampaignType entity.CampaignType `json:"campaign_type"`
	Context      CaseContext         `json:"context"`
}

type StartCampaignOutput struct {
	Campaign *entity.CampaignRecord `json:"campaign"`
	Jobs     []queue.Handle         `json:"jobs"`
	Replaced *entity.CampaignRecord `json:"replaced,omitempty"`
}

type StopCampaignOutput struct {
	Campaign      *entity.CampaignRecord `json:"campaign,omitempty"`
	CancelledJobs int                    `json:"cancelled_jobs"`
}

// CampaignEmailPayload is the body of a send-campaign-email job.
type CampaignEmailPayload struct {
	CampaignID   string              `json:"campaign_id"`
	LeadID       string              `json:"lead_id"`
	Email        string              `json:"email"`
	Name         string              `json:"name"`
	CampaignType entity.CampaignType `json:"campaign_type"`
	StepIndex    int                 `json:"step_index"`
	LastStep     bool                `json:"last_step"`
	TemplateKey  string              `json:"template_key"`
	Subject      string              `json:"subject"`
	Context      CaseContext         `json:"context"`
}

type CaptureLeadInput struct {
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Phone        string         `json:"phone"`
	CaseType     string         `json:"case_type"`
	LeadScore    int            `json:"lead_score"`
	AssignedTeam string         `json:"assigned_team"`
	CampaignType string         `json:"campaign_type"`
	Metadata     map[string]any `json:"metadata"`
}

type CaptureLeadOutput struct {
	Lead     *entity.Lead           `json:"lead"`
	Campaign *entity.CampaignRecord `json:"campaign"`
	Jobs     int                    `json:"scheduled_emails"`
	SyncJob  *queue.Handle          `json:"sync_job,omitempty"`
}

type SyncOperation string

const (
	SyncOpContact     SyncOperation = "contact"
	SyncOpOpportunity SyncOperation = "opportunity"
	SyncOpNote        SyncOperation = "note"
)

// SyncJob is the payload of the three sync-* job kinds. Which fields matter
// depends on Operation.
type SyncJob struct {
	Operation SyncOperation  `json:"operation"`
	LeadID    string         `json:"lead_id,omitempty"`
	ContactID string         `json:"contact_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Name      string         `json:"name,omitempty"`
	Value     float64        `json:"value,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Assignee  string         `json:"assignee,omitempty"`
	Text      string         `json:"text,omitempty"`
}

type SyncUserDataOutput struct {
	ContactID string `json:"contact_id"`
	Queued    int    `json:"queued"`
	Failed    int    `json:"failed"`
}

// WebhookEvent is the inbound CRM notification envelope.
type WebhookEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

const (
	EventContactUpdated       = "contact.updated"
	EventOpportunityStatus    = "opportunity.statusChanged"
	EventAppointmentScheduled = "appointment.scheduled"
)

const (
	IngestApplied   = "applied"
	IngestIgnored   = "ignored"
	IngestUnmatched = "unmatched"
)

type IngestOutput struct {
	Outcome string `json:"outcome"`
	LeadID  string `json:"lead_id,omitempty"`
}
