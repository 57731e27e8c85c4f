package crm

import "fmt"

type Contact struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	Name         string         `json:"name,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// ContactFields is the body of a create (ID empty) or update (ID set) call.
type ContactFields struct {
	ID           string         `json:"-"`
	LocationID   string         `json:"locationId,omitempty"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Name         string         `json:"name,omitempty"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	Source       string         `json:"source,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

type OpportunityInput struct {
	ContactID  string  `json:"contactId"`
	LocationID string  `json:"locationId,omitempty"`
	Name       string  `json:"name"`
	PipelineID string  `json:"pipelineId"`
	StageID    string  `json:"pipelineStageId"`
	Status     string  `json:"status"`
	Value      float64 `json:"monetaryValue"`
	AssignedTo string  `json:"assignedTo,omitempty"`
}

type Opportunity struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	ContactID     string  `json:"contactId"`
	MonetaryValue float64 `json:"monetaryValue"`
}

type noteRequest struct {
	Body string `json:"body"`
}

type contactEnvelope struct {
	Contact *Contact `json:"contact"`
}

type contactSearchResponse struct {
	Contacts []Contact `json:"contacts"`
}

type opportunityEnvelope struct {
	Opportunity *Opportunity `json:"opportunity"`
}

// APIError is returned for any non-2xx answer.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm %s: status %d - %s", e.Operation, e.StatusCode, e.Body)
}
