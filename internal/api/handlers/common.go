package handlers

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"relay/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Problem is an RFC 9457 Problem Details document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func respondOK(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func respondCreated(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// writeError maps a domain/store error onto its RFC 9457 response, mirroring
// the teacher's handleServiceError sentinel-error switch.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validationError
	switch {
	case errors.Is(err, store.ErrTradeGroupNotFound):
		writeProblem(w, r, http.StatusNotFound, "Trade group not found", err.Error())
	case errors.Is(err, store.ErrMemberNotFound):
		writeProblem(w, r, http.StatusNotFound, "Member not found", err.Error())
	case errors.Is(err, store.ErrMemberConflict):
		writeProblem(w, r, http.StatusConflict, "Member already exists", err.Error())
	case errors.As(err, &verr):
		writeProblem(w, r, http.StatusBadRequest, "Validation failed", err.Error())
	default:
		writeProblem(w, r, http.StatusInternalServerError, "Internal Server Error", "an unexpected error occurred")
	}
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func newValidationError(msg string) error { return &validationError{msg: msg} }
