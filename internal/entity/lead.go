package entity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MetadataRemoteContactID is the Lead.Metadata key holding the CRM contact id.
const MetadataRemoteContactID = "remoteContactId"

var (
	ErrNotFound           = errors.New("record not found")
	ErrEmailAlreadyExists = errors.New("email already registered")
)

type Lead struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Name      string         `json:"name,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RemoteContactID returns the CRM contact id bound to the lead, if any.
// The binding is a weak reference and may point at a contact deleted in the CRM.
func (l *Lead) RemoteContactID() string {
	if l == nil || l.Metadata == nil {
		return ""
	}
	id, _ := l.Metadata[MetadataRemoteContactID].(string)
	return strings.TrimSpace(id)
}

// NormalizeEmail lowercases and trims an address so lookups match regardless of casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type LeadRepositoryInterface interface {
	Upsert(ctx context.Context, lead *Lead) error
	FindByID(ctx context.Context, id string) (*Lead, error)
	FindByEmail(ctx context.Context, email string) (*Lead, error)
	FindByRemoteContactID(ctx context.Context, remoteID string) (*Lead, error)
	// MergeMetadata applies patch on top of the stored metadata in a single write.
	// Keys absent from patch are preserved.
	MergeMetadata(ctx context.Context, id string, patch map[string]any) error
}
