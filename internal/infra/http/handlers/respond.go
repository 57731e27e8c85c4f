package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xavierca1/lead-nurture/internal/usecase"
)

// Problem is an RFC 7807 error body.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	})
}

// writeUseCaseError maps domain errors to 4xx and everything else to 5xx.
// Technical details stay in the logs.
func writeUseCaseError(w http.ResponseWriter, err error) {
	var de *usecase.DomainError
	if errors.As(err, &de) {
		status := http.StatusBadRequest
		if de.Code == usecase.CodeLeadNotFound {
			status = http.StatusNotFound
		}
		writeProblem(w, status, de.Code, de.Message)
		return
	}
	var te *usecase.TechnicalError
	if errors.As(err, &te) {
		status := http.StatusInternalServerError
		if te.Code == usecase.CodeCRM {
			status = http.StatusBadGateway
		}
		writeProblem(w, status, te.Code, te.Message)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected error")
}
