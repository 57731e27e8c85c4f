package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

type Client struct {
	apiToken   string
	baseURL    string
	locationID string
	http       *http.Client
}

func NewClient(apiToken, baseURL, locationID string) *Client {
	return &Client{
		apiToken:   strings.TrimSpace(apiToken),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		locationID: strings.TrimSpace(locationID),
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether the client has credentials to talk to the CRM.
func (c *Client) Configured() bool {
	return c != nil && c.apiToken != "" && c.baseURL != ""
}

// SearchContactByEmail returns nil, nil when no contact matches.
func (c *Client) SearchContactByEmail(ctx context.Context, email string) (*Contact, error) {
	q := url.Values{}
	q.Set("email", email)
	if c.locationID != "" {
		q.Set("locationId", c.locationID)
	}

	var result contactSearchResponse
	if err := c.do(ctx, "search contact", http.MethodGet, "/contacts/search?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	for i := range result.Contacts {
		if strings.EqualFold(result.Contacts[i].Email, email) {
			return &result.Contacts[i], nil
		}
	}
	return nil, nil
}

// UpsertContact creates a contact when fields.ID is empty and updates it otherwise.
func (c *Client) UpsertContact(ctx context.Context, fields ContactFields) (*Contact, error) {
	if fields.LocationID == "" {
		fields.LocationID = c.locationID
	}
	method, path, op := http.MethodPost, "/contacts/", "create contact"
	if fields.ID != "" {
		method, path, op = http.MethodPut, "/contacts/"+url.PathEscape(fields.ID), "update contact"
		// the update endpoint rejects locationId
		fields.LocationID = ""
	}

	var result contactEnvelope
	if err := c.do(ctx, op, method, path, fields, &result); err != nil {
		return nil, err
	}
	if result.Contact == nil || result.Contact.ID == "" {
		if fields.ID != "" {
			return &Contact{ID: fields.ID, Email: fields.Email}, nil
		}
		return nil, errors.New("crm create contact: response without contact id")
	}
	return result.Contact, nil
}

func (c *Client) CreateOpportunity(ctx context.Context, input OpportunityInput) (*Opportunity, error) {
	if input.LocationID == "" {
		input.LocationID = c.locationID
	}
	if input.Status == "" {
		input.Status = "open"
	}
	var result opportunityEnvelope
	if err := c.do(ctx, "create opportunity", http.MethodPost, "/opportunities/", input, &result); err != nil {
		return nil, err
	}
	if result.Opportunity == nil || result.Opportunity.ID == "" {
		return nil, errors.New("crm create opportunity: response without opportunity id")
	}
	return result.Opportunity, nil
}

func (c *Client) CreateContactNote(ctx context.Context, contactID, text string) error {
	path := fmt.Sprintf("/contacts/%s/notes", url.PathEscape(contactID))
	return c.do(ctx, "create note", http.MethodPost, path, noteRequest{Body: text}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if !c.Configured() {
		return errors.New("crm not configured")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crm %s: encode: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.addAuthHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("crm %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) addAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", "2021-07-28")
}
