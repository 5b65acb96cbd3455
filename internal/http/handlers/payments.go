package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/payment"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

// PaymentsHandler exposes the OTP-gated payment flow to the routing layer.
type PaymentsHandler struct {
	machine        *payment.Machine
	countdownEvery time.Duration
	logger         *logging.Logger
}

// NewPaymentsHandler creates the payments handler. countdownEvery is the
// cadence of the countdown stream (0 means once per second).
func NewPaymentsHandler(machine *payment.Machine, countdownEvery time.Duration, logger *logging.Logger) *PaymentsHandler {
	if countdownEvery <= 0 {
		countdownEvery = time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentsHandler{machine: machine, countdownEvery: countdownEvery, logger: logger}
}

// challengeResponse is what the routing layer renders: the machine state
// plus the derived countdown value. remainingSeconds is recomputed on every
// read; the client ticks it down locally between reads.
type challengeResponse struct {
	Session          *payment.ChallengeSession `json:"session"`
	RemainingSeconds int64                     `json:"remainingSeconds"`
}

func (h *PaymentsHandler) challengeView(sess *payment.ChallengeSession) challengeResponse {
	return challengeResponse{
		Session:          sess,
		RemainingSeconds: int64(sess.Remaining(h.machine.Now()) / time.Second),
	}
}

type initiateRequest struct {
	Breakdown     clinicapi.Breakdown `json:"breakdown"`
	Currency      string              `json:"currency"`
	Card          clinicapi.Card      `json:"card"`
	AppointmentID string              `json:"appointmentId,omitempty"`
	DoctorID      string              `json:"doctorId,omitempty"`
	Notes         string              `json:"notes,omitempty"`
}

func (req initiateRequest) toAPI(patientID string) clinicapi.InitiatePaymentRequest {
	return clinicapi.InitiatePaymentRequest{
		Breakdown:     req.Breakdown,
		Currency:      req.Currency,
		Card:          req.Card,
		PatientID:     patientID,
		DoctorID:      req.DoctorID,
		AppointmentID: req.AppointmentID,
		Notes:         req.Notes,
	}
}

// Initiate handles POST /payments/sessions. The card is forwarded once and
// never stored; the response carries the challenge and its countdown.
func (h *PaymentsHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	sess, err := h.machine.Initiate(r.Context(), req.toAPI(patientID(r)))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.challengeView(sess))
}

// GetChallenge handles GET /payments/sessions/{sessionID}. Reading settles
// local expiry, so a lapsed challenge reads EXPIRED with zero remaining.
func (h *PaymentsHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	sess, err := h.machine.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.challengeView(sess))
}

// Confirm handles POST /payments/sessions/{sessionID}/confirm.
func (h *PaymentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OTPCode string `json:"otpCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.OTPCode == "" {
		http.Error(w, "otpCode is required", http.StatusBadRequest)
		return
	}
	sess, err := h.machine.Confirm(r.Context(), chi.URLParam(r, "sessionID"), req.OTPCode)
	if err != nil {
		if sess != nil {
			// Failed confirms still return the session so the client can
			// render attemptsUsed and the countdown alongside the error.
			writeJSON(w, statusForError(err), struct {
				challengeResponse
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}{h.challengeView(sess), err.Error(), clinicapi.KindOf(err).String()})
			return
		}
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.challengeView(sess))
}

// StreamCountdown handles GET /payments/sessions/{sessionID}/countdown as a
// server-sent event stream: one event per tick carrying the remaining whole
// seconds, closing after the zero event. The stream only reads the clock; it
// never touches the backend and keeps ticking while a confirm is in flight.
func (h *PaymentsHandler) StreamCountdown(w http.ResponseWriter, r *http.Request) {
	sess, err := h.machine.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// The stream outlives the server's write timeout; lift the deadline for
	// this response so long OTP windows are not cut mid-countdown.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	cd := payment.NewCountdown(h.machine.Now, h.countdownEvery)
	cd.Run(r.Context(), sess.ExpiresAt, func(remaining time.Duration) {
		fmt.Fprintf(w, "data: %d\n\n", int64(remaining/time.Second))
		flusher.Flush()
	})
}

// Restart handles POST /payments/sessions/{sessionID}/restart.
func (h *PaymentsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	sess, err := h.machine.Restart(r.Context(), chi.URLParam(r, "sessionID"), req.toAPI(patientID(r)))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.challengeView(sess))
}

// Abandon handles DELETE /payments/sessions/{sessionID}.
func (h *PaymentsHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.machine.Abandon(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPayment handles GET /payments/{paymentID}.
func (h *PaymentsHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.machine.Payment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*clinicapi.Payment{"payment": p})
}

// ListMyPayments handles GET /payments/me.
func (h *PaymentsHandler) ListMyPayments(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	out, err := h.machine.MyPayments(r.Context(), page, limit)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
