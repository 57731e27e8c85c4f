package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/usecase"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	maxWebhookBytes = 1 << 20
	webhookSchemaID = "crm-webhook.json"
)

const webhookSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "data"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"data": {"type": "object"}
	}
}`

type EventIngestor interface {
	Ingest(ctx context.Context, ev usecase.WebhookEvent) (*usecase.IngestOutput, error)
}

type WebhookHandler struct {
	ingestor EventIngestor
	secret   []byte
	schema   *jsonschema.Schema
	logger   *zap.Logger
}

// NewWebhookHandler verifies X-Webhook-Signature only when secret is non-empty.
func NewWebhookHandler(ingestor EventIngestor, secret string, logger *zap.Logger) (*WebhookHandler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := compileWebhookSchema()
	if err != nil {
		return nil, err
	}
	return &WebhookHandler{
		ingestor: ingestor,
		secret:   []byte(secret),
		schema:   schema,
		logger:   logger.Named("http.webhook"),
	}, nil
}

func compileWebhookSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(webhookSchemaID, doc); err != nil {
		return nil, fmt.Errorf("add webhook schema: %w", err)
	}
	return c.Compile(webhookSchemaID)
}

type WebhookResponse struct {
	Outcome string `json:"outcome"`
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "webhook body exceeds 1MB")
		return
	}

	if len(h.secret) > 0 && !h.validSignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("rejected webhook with bad signature", zap.String("remote", getClientIP(r)))
		writeProblem(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
		return
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "INVALID_JSON", "body is not valid JSON")
		return
	}
	if err := h.schema.Validate(inst); err != nil {
		writeProblem(w, http.StatusBadRequest, usecase.CodeInvalidPayload, err.Error())
		return
	}

	var ev usecase.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeProblem(w, http.StatusBadRequest, "INVALID_JSON", "body is not a webhook envelope")
		return
	}

	out, err := h.ingestor.Ingest(r.Context(), ev)
	if err != nil {
		// 5xx makes the CRM redeliver
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Outcome: out.Outcome})
}

// validSignature checks a hex HMAC-SHA256 of the raw body, with or without a
// "sha256=" prefix.
func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for body; used by tests and tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
