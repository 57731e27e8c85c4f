package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/usecase"
)

type CampaignController interface {
	Start(ctx context.Context, input usecase.StartCampaignInput) (*usecase.StartCampaignOutput, error)
	Stop(ctx context.Context, leadID string) (*usecase.StopCampaignOutput, error)
}

type CampaignHandler struct {
	campaigns CampaignController
	leads     entity.LeadRepositoryInterface
	logger    *zap.Logger
}

func NewCampaignHandler(campaigns CampaignController, leads entity.LeadRepositoryInterface, logger *zap.Logger) *CampaignHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignHandler{campaigns: campaigns, leads: leads, logger: logger.Named("http.campaigns")}
}

type StartCampaignRequest struct {
	CampaignType string `json:"campaign_type"`
	CaseType     string `json:"case_type"`
	LeadScore    int    `json:"lead_score"`
	AssignedTeam string `json:"assigned_team"`
}

type StartCampaignResponse struct {
	CampaignID      string `json:"campaign_id"`
	CampaignType    string `json:"campaign_type"`
	ScheduledEmails int    `json:"scheduled_emails"`
	ReplacedID      string `json:"replaced_campaign_id,omitempty"`
}

func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "id")

	var req StartCampaignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, http.StatusBadRequest, "INVALID_JSON", "request body must be a JSON object")
		return
	}

	lead, err := h.leads.FindByID(r.Context(), leadID)
	if errors.Is(err, entity.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, usecase.CodeLeadNotFound, "lead not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load lead", zap.String("lead_id", leadID), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, usecase.CodeDatabase, "failed to load lead")
		return
	}

	out, err := h.campaigns.Start(r.Context(), usecase.StartCampaignInput{
		LeadID:       lead.ID,
		Email:        lead.Email,
		Name:         lead.Name,
		CampaignType: entity.CampaignType(req.CampaignType),
		Context: usecase.CaseContext{
			CaseType:        req.CaseType,
			LeadScore:       req.LeadScore,
			AssignedTeam:    req.AssignedTeam,
			RemoteContactID: lead.RemoteContactID(),
		},
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	resp := StartCampaignResponse{
		CampaignID:      out.Campaign.ID,
		CampaignType:    string(out.Campaign.Type),
		ScheduledEmails: len(out.Jobs),
	}
	if out.Replaced != nil {
		resp.ReplacedID = out.Replaced.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

type StopCampaignResponse struct {
	CampaignID    string `json:"campaign_id,omitempty"`
	CancelledJobs int    `json:"cancelled_jobs"`
}

func (h *CampaignHandler) Stop(w http.ResponseWriter, r *http.Request) {
	out, err := h.campaigns.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	resp := StopCampaignResponse{CancelledJobs: out.CancelledJobs}
	if out.Campaign != nil {
		resp.CampaignID = out.Campaign.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
