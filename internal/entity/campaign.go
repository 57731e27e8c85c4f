package entity

import (
	"context"
	"time"
)

type CampaignType string

const (
	CampaignHotLead      CampaignType = "hot-lead"
	CampaignStandard     CampaignType = "standard"
	CampaignColdLead     CampaignType = "cold-lead"
	CampaignReEngagement CampaignType = "re-engagement"
)

// ParseCampaignType maps unknown values to the standard sequence.
func ParseCampaignType(v string) CampaignType {
	switch CampaignType(v) {
	case CampaignHotLead, CampaignStandard, CampaignColdLead, CampaignReEngagement:
		return CampaignType(v)
	default:
		return CampaignStandard
	}
}

type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
)

type CampaignRecord struct {
	ID        string         `json:"id"`
	LeadID    string         `json:"lead_id"`
	Type      CampaignType   `json:"type"`
	Status    CampaignStatus `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt *time.Time     `json:"stopped_at,omitempty"`
}

func (c *CampaignRecord) IsActive() bool {
	return c != nil && c.Status == CampaignActive
}

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *CampaignRecord) error
	FindByID(ctx context.Context, id string) (*CampaignRecord, error)
	// FindActiveByLeadID returns ErrNotFound when the lead has no active campaign.
	FindActiveByLeadID(ctx context.Context, leadID string) (*CampaignRecord, error)
	UpdateStatus(ctx context.Context, id string, status CampaignStatus, stoppedAt *time.Time) error
}
