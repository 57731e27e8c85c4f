package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/usecase"
)

type LeadCapturer interface {
	Execute(ctx context.Context, input usecase.CaptureLeadInput) (*usecase.CaptureLeadOutput, error)
}

type LeadHandler struct {
	capture     LeadCapturer
	rateLimiter *RateLimiter
	logger      *zap.Logger
}

func NewLeadHandler(capture LeadCapturer, rateLimiter *RateLimiter, logger *zap.Logger) *LeadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeadHandler{
		capture:     capture,
		rateLimiter: rateLimiter,
		logger:      logger.Named("http.leads"),
	}
}

type CaptureLeadResponse struct {
	LeadID          string `json:"lead_id"`
	CampaignID      string `json:"campaign_id"`
	CampaignType    string `json:"campaign_type"`
	ScheduledEmails int    `json:"scheduled_emails"`
	SyncQueued      bool   `json:"sync_queued"`
}

func (h *LeadHandler) CaptureLead(w http.ResponseWriter, r *http.Request) {
	if h.rateLimiter != nil && !h.rateLimiter.Allow(getClientIP(r)) {
		writeProblem(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later")
		return
	}

	var input usecase.CaptureLeadInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&input); err != nil {
		writeProblem(w, http.StatusBadRequest, "INVALID_JSON", "request body must be a JSON object")
		return
	}

	out, err := h.capture.Execute(r.Context(), input)
	if err != nil {
		if !usecase.IsDomainError(err) {
			h.logger.Error("lead capture failed", zap.Error(err))
		}
		writeUseCaseError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CaptureLeadResponse{
		LeadID:          out.Lead.ID,
		CampaignID:      out.Campaign.ID,
		CampaignType:    string(out.Campaign.Type),
		ScheduledEmails: out.Jobs,
		SyncQueued:      out.SyncJob != nil,
	})
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimiter is a fixed-window counter per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

type visitor struct {
	count     int
	lastReset time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := rl.now()

	if !exists {
		rl.visitors[ip] = &visitor{count: 1, lastReset: now}
		return true
	}

	if now.Sub(v.lastReset) > rl.window {
		v.count = 1
		v.lastReset = now
		return true
	}

	v.count++
	return v.count <= rl.limit
}

// Close stops the background cleanup.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		now := rl.now()
		for ip, v := range rl.visitors {
			if now.Sub(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}
