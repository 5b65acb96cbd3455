package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	httpmiddleware "github.com/heartlinehq/patientflow/internal/http/middleware"
	"github.com/heartlinehq/patientflow/internal/payment"
	"github.com/heartlinehq/patientflow/internal/schedule"
)

// patientID returns the authenticated patient, empty outside the auth group.
func patientID(r *http.Request) string {
	id, _ := httpmiddleware.PatientIDFromContext(r.Context())
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorResponse is the error payload returned to the routing layer. Fields
// carries per-field validation messages when the backend reports them.
type errorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeFlowError maps workflow and backend failures onto HTTP statuses:
// stale ids 404, races and in-flight guards 409, lapsed challenges 410,
// wrong codes and illegal transitions 422, malformed input 400, everything
// unclassified 502 with a retry affordance.
func writeFlowError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: clinicapi.KindOf(err).String()}
	var apiErr *clinicapi.Error
	if errors.As(err, &apiErr) {
		resp.Fields = apiErr.Fields
	}
	writeJSON(w, statusForError(err), resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, schedule.ErrSessionNotFound),
		errors.Is(err, payment.ErrChallengeNotFound),
		clinicapi.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, schedule.ErrCommitInFlight),
		errors.Is(err, payment.ErrConfirmInFlight),
		clinicapi.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, payment.ErrChallengeExpired),
		clinicapi.IsExpired(err):
		return http.StatusGone
	case clinicapi.IsInvalidCode(err),
		errors.Is(err, schedule.ErrInvalidTransition),
		errors.Is(err, schedule.ErrUnknownSpecialization),
		errors.Is(err, schedule.ErrNoDoctor),
		errors.Is(err, schedule.ErrStaleSlot),
		errors.Is(err, schedule.ErrSlotUnavailable),
		errors.Is(err, schedule.ErrMissingSelection),
		errors.Is(err, schedule.ErrNotPending),
		errors.Is(err, schedule.ErrRescheduleClosed),
		errors.Is(err, schedule.ErrNoSlotSelected),
		errors.Is(err, payment.ErrNoChallenge),
		errors.Is(err, payment.ErrAlreadyCaptured):
		return http.StatusUnprocessableEntity
	case clinicapi.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
