package usecase

import (
	"fmt"
	"net/mail"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func ValidateStartCampaignInput(input StartCampaignInput) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(input.LeadID) == "" {
		errors = append(errors, ValidationError{"lead_id", "is required"})
	}
	if strings.TrimSpace(input.Email) == "" {
		errors = append(errors, ValidationError{"email", "is required"})
	} else if _, err := mail.ParseAddress(input.Email); err != nil {
		errors = append(errors, ValidationError{"email", "is invalid"})
	}
	if input.Context.LeadScore < 0 || input.Context.LeadScore > 100 {
		errors = append(errors, ValidationError{"lead_score", "must be between 0 and 100"})
	}

	return errors
}

func ValidateCaptureLeadInput(input CaptureLeadInput) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(input.Email) == "" {
		errors = append(errors, ValidationError{"email", "is required"})
	} else if _, err := mail.ParseAddress(input.Email); err != nil {
		errors = append(errors, ValidationError{"email", "is invalid"})
	}
	if len(input.Name) > 200 {
		errors = append(errors, ValidationError{"name", "must not exceed 200 characters"})
	}
	if input.Phone != "" && !isValidPhoneNumber(input.Phone) {
		errors = append(errors, ValidationError{"phone", "must be a valid phone number"})
	}
	if input.LeadScore < 0 || input.LeadScore > 100 {
		errors = append(errors, ValidationError{"lead_score", "must be between 0 and 100"})
	}

	return errors
}

func ValidateSyncJob(job SyncJob) []ValidationError {
	var errors []ValidationError

	switch job.Operation {
	case SyncOpContact:
		if strings.TrimSpace(job.LeadID) == "" {
			errors = append(errors, ValidationError{"lead_id", "is required for contact sync"})
		}
	case SyncOpOpportunity:
		if job.ContactID == "" && job.LeadID == "" {
			errors = append(errors, ValidationError{"contact_id", "contact_id or lead_id is required"})
		}
		if strings.TrimSpace(job.Name) == "" {
			errors = append(errors, ValidationError{"name", "is required"})
		}
	case SyncOpNote:
		if job.ContactID == "" && job.LeadID == "" {
			errors = append(errors, ValidationError{"contact_id", "contact_id or lead_id is required"})
		}
		if strings.TrimSpace(job.Text) == "" {
			errors = append(errors, ValidationError{"text", "is required"})
		}
	default:
		errors = append(errors, ValidationError{"operation", "must be contact, opportunity or note"})
	}

	return errors
}

// validationFailure folds field errors into one DomainError; nil when errs is empty.
func validationFailure(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Field+" ("+e.Message+")")
	}
	return &DomainError{
		Code:    CodeValidation,
		Message: "validation failed: " + strings.Join(parts, ", "),
	}
}

func isValidPhoneNumber(phone string) bool {
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune(" +-().", r):
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 15
}
