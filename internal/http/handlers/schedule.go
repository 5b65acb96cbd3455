package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/schedule"
	"github.com/heartlinehq/patientflow/internal/timefmt"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

// ScheduleHandler exposes the booking wizard and the reschedule sub-flow to
// the routing layer. It holds no state of its own; every request loads,
// transitions and persists a session through the orchestrators.
type ScheduleHandler struct {
	wizard      *schedule.Wizard
	rescheduler *schedule.Rescheduler
	zone        *timefmt.Zone
	logger      *logging.Logger
}

// NewScheduleHandler creates the scheduling handler.
func NewScheduleHandler(wizard *schedule.Wizard, rescheduler *schedule.Rescheduler, zone *timefmt.Zone, logger *logging.Logger) *ScheduleHandler {
	if zone == nil {
		zone = timefmt.MustLoadZone("")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ScheduleHandler{
		wizard:      wizard,
		rescheduler: rescheduler,
		zone:        zone,
		logger:      logger,
	}
}

type slotView struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Display   string    `json:"display"`
}

type sessionResponse struct {
	Session    *schedule.Session         `json:"session"`
	CanAdvance bool                      `json:"canAdvance"`
	CanGoBack  bool                      `json:"canGoBack"`
	Slots      []slotView                `json:"slots"`
	Doctors    []clinicapi.DoctorSummary `json:"doctors,omitempty"`
}

type rescheduleResponse struct {
	Session *schedule.RescheduleSession `json:"session"`
	Slots   []slotView                  `json:"slots"`
}

func (h *ScheduleHandler) sessionView(sess *schedule.Session, doctors []clinicapi.DoctorSummary) sessionResponse {
	return sessionResponse{
		Session:    sess,
		CanAdvance: sess.CanAdvance(),
		CanGoBack:  sess.CanGoBack(),
		Slots:      h.slotViews(sess.Slots),
		Doctors:    doctors,
	}
}

func (h *ScheduleHandler) slotViews(slots []clinicapi.Slot) []slotView {
	views := make([]slotView, len(slots))
	for i, s := range slots {
		views[i] = slotView{
			Start:     s.Start,
			End:       s.End,
			Available: s.Available,
			Display:   h.zone.Format(s.Start),
		}
	}
	return views
}

// StartSession handles POST /schedule/sessions
func (h *ScheduleHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.wizard.Start(r.Context())
	if err != nil {
		h.logger.Error("session start failed", "error", err)
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.sessionView(sess, nil))
}

// GetSession handles GET /schedule/sessions/{sessionID}
func (h *ScheduleHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.wizard.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

// AbandonSession handles DELETE /schedule/sessions/{sessionID}
func (h *ScheduleHandler) AbandonSession(w http.ResponseWriter, r *http.Request) {
	if err := h.wizard.Abandon(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChooseSpecialization handles POST /schedule/sessions/{sessionID}/specialization
func (h *ScheduleHandler) ChooseSpecialization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Specialization string `json:"specialization"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	sess, doctors, err := h.wizard.ChooseSpecialization(r.Context(), chi.URLParam(r, "sessionID"), req.Specialization)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, doctors))
}

// SelectDoctor handles POST /schedule/sessions/{sessionID}/doctor
func (h *ScheduleHandler) SelectDoctor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Doctor clinicapi.DoctorSummary `json:"doctor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Doctor.ID == "" {
		http.Error(w, "doctor.id is required", http.StatusBadRequest)
		return
	}
	sess, err := h.wizard.SelectDoctor(r.Context(), chi.URLParam(r, "sessionID"), req.Doctor)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

// SelectDate handles POST /schedule/sessions/{sessionID}/date
func (h *ScheduleHandler) SelectDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	date, err := timefmt.ParseCalendarDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	sess, err := h.wizard.SelectDate(r.Context(), chi.URLParam(r, "sessionID"), date)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

type slotRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SelectSlot handles POST /schedule/sessions/{sessionID}/slot
func (h *ScheduleHandler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	slot := clinicapi.Slot{Start: req.Start, End: req.End}
	sess, err := h.wizard.SelectSlot(r.Context(), chi.URLParam(r, "sessionID"), slot)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

// Advance handles POST /schedule/sessions/{sessionID}/advance
func (h *ScheduleHandler) Advance(w http.ResponseWriter, r *http.Request) {
	sess, err := h.wizard.Advance(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

// Back handles POST /schedule/sessions/{sessionID}/back
func (h *ScheduleHandler) Back(w http.ResponseWriter, r *http.Request) {
	sess, err := h.wizard.Back(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

// SetNotes handles POST /schedule/sessions/{sessionID}/notes
func (h *ScheduleHandler) SetNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
		Notes  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	sess, err := h.wizard.SetNotes(r.Context(), chi.URLParam(r, "sessionID"), req.Reason, req.Notes)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

// Confirm handles POST /schedule/sessions/{sessionID}/confirm. A lost slot
// race still answers 200: the session view carries the refreshed picker and
// the notice, which is the resolution of the conflict, not a failure.
func (h *ScheduleHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sess, err := h.wizard.Confirm(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(sess, nil))
}

// OpenReschedule handles POST /schedule/reschedules
func (h *ScheduleHandler) OpenReschedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppointmentID string `json:"appointmentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == "" {
		http.Error(w, "appointmentId is required", http.StatusBadRequest)
		return
	}
	rs, err := h.rescheduler.Open(r.Context(), req.AppointmentID)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rescheduleResponse{Session: rs, Slots: h.slotViews(rs.Slots)})
}

// GetReschedule handles GET /schedule/reschedules/{sessionID}
func (h *ScheduleHandler) GetReschedule(w http.ResponseWriter, r *http.Request) {
	rs, err := h.rescheduler.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleResponse{Session: rs, Slots: h.slotViews(rs.Slots)})
}

// CloseReschedule handles DELETE /schedule/reschedules/{sessionID}
func (h *ScheduleHandler) CloseReschedule(w http.ResponseWriter, r *http.Request) {
	if err := h.rescheduler.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RescheduleDate handles POST /schedule/reschedules/{sessionID}/date
func (h *ScheduleHandler) RescheduleDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	date, err := timefmt.ParseCalendarDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	rs, err := h.rescheduler.SelectDate(r.Context(), chi.URLParam(r, "sessionID"), date)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleResponse{Session: rs, Slots: h.slotViews(rs.Slots)})
}

// RescheduleSlot handles POST /schedule/reschedules/{sessionID}/slot
func (h *ScheduleHandler) RescheduleSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	rs, err := h.rescheduler.SelectSlot(r.Context(), chi.URLParam(r, "sessionID"), clinicapi.Slot{Start: req.Start, End: req.End})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleResponse{Session: rs, Slots: h.slotViews(rs.Slots)})
}

// RescheduleConfirm handles POST /schedule/reschedules/{sessionID}/confirm
func (h *ScheduleHandler) RescheduleConfirm(w http.ResponseWriter, r *http.Request) {
	rs, err := h.rescheduler.Commit(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleResponse{Session: rs, Slots: h.slotViews(rs.Slots)})
}

// CancelAppointment handles DELETE /appointments/{appointmentID}
func (h *ScheduleHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.rescheduler.Cancel(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*clinicapi.Appointment{"appointment": appt})
}
