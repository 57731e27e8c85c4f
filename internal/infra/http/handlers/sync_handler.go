package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/usecase"
)

type ContactSyncer interface {
	SyncContact(ctx context.Context, leadID string, extra map[string]any) (*string, error)
	SyncUserData(ctx context.Context, leadID string) (*usecase.SyncUserDataOutput, error)
}

type SyncHandler struct {
	sync   ContactSyncer
	logger *zap.Logger
}

func NewSyncHandler(sync ContactSyncer, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{sync: sync, logger: logger.Named("http.sync")}
}

type SyncRequest struct {
	// Full also pushes tasks and recent conversations as notes.
	Full   bool           `json:"full"`
	Fields map[string]any `json:"fields"`
}

type SyncResponse struct {
	ContactID   string `json:"contact_id,omitempty"`
	CRMEnabled  bool   `json:"crm_enabled"`
	NotesQueued int    `json:"notes_queued,omitempty"`
}

func (h *SyncHandler) Handle(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "id")

	var req SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, http.StatusBadRequest, "INVALID_JSON", "request body must be a JSON object")
		return
	}

	if req.Full {
		out, err := h.sync.SyncUserData(r.Context(), leadID)
		if err != nil {
			writeUseCaseError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, SyncResponse{
			ContactID:   out.ContactID,
			CRMEnabled:  out.ContactID != "",
			NotesQueued: out.Queued,
		})
		return
	}

	id, err := h.sync.SyncContact(r.Context(), leadID, req.Fields)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if id == nil {
		writeJSON(w, http.StatusOK, SyncResponse{CRMEnabled: false})
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{ContactID: *id, CRMEnabled: true})
}
