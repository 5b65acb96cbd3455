package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/observability/metrics"
	"github.com/heartlinehq/patientflow/internal/timefmt"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

var (
	// ErrNotPending enforces the self-management rule: patients may only
	// reschedule or cancel appointments still observed as PENDING. The
	// server stays authoritative and may reject regardless.
	ErrNotPending = errors.New("schedule: appointment is no longer pending")
	// ErrRescheduleClosed rejects operations on a closed reschedule flow.
	ErrRescheduleClosed = errors.New("schedule: reschedule flow is closed")
	// ErrNoSlotSelected blocks a reschedule commit without a slot.
	ErrNoSlotSelected = errors.New("schedule: no slot selected")
)

// RescheduleSession is the reduced wizard scoped to one existing PENDING
// appointment. Specialization and doctor are fixed to the appointment's.
type RescheduleSession struct {
	ID            string                  `json:"id"`
	AppointmentID string                  `json:"appointmentId"`
	Doctor        clinicapi.DoctorSummary `json:"doctor"`
	Open          bool                    `json:"open"`
	Date          timefmt.CalendarDate    `json:"date"`
	SelectedSlot  *clinicapi.Slot         `json:"selectedSlot,omitempty"`

	Slots          []clinicapi.Slot `json:"slots,omitempty"`
	SlotsFetchedAt time.Time        `json:"slotsFetchedAt,omitempty"`

	// Updated holds the rescheduled appointment once the flow closes.
	Updated *clinicapi.Appointment `json:"updated,omitempty"`

	CommitInFlight bool   `json:"commitInFlight,omitempty"`
	Notice         string `json:"notice,omitempty"`
}

// setDate moves the flow to another day, dropping slot state.
func (rs *RescheduleSession) setDate(date timefmt.CalendarDate) {
	if rs.Date != date {
		rs.SelectedSlot = nil
		rs.Slots = nil
		rs.SlotsFetchedAt = time.Time{}
	}
	rs.Date = date
}

// selectSlot validates the slot against the latest fetch, as the wizard does.
func (rs *RescheduleSession) selectSlot(slot clinicapi.Slot) error {
	if !rs.Open {
		return ErrRescheduleClosed
	}
	for _, known := range rs.Slots {
		if known.Equal(slot) {
			if !known.Available {
				return ErrSlotUnavailable
			}
			chosen := known
			rs.SelectedSlot = &chosen
			return nil
		}
	}
	return ErrStaleSlot
}

// Rescheduler drives the reschedule sub-flow against the backend.
type Rescheduler struct {
	api         BookingAPI
	store       *Store
	zone        *timefmt.Zone
	slotMinutes int
	logger      *logging.Logger
	metrics     *metrics.FlowMetrics
}

// NewRescheduler constructs the reschedule orchestrator.
func NewRescheduler(api BookingAPI, store *Store, zone *timefmt.Zone, slotMinutes int, logger *logging.Logger, m *metrics.FlowMetrics) *Rescheduler {
	if api == nil {
		panic("schedule: booking api required")
	}
	if store == nil {
		panic("schedule: session store required")
	}
	if zone == nil {
		zone = timefmt.MustLoadZone("")
	}
	if slotMinutes <= 0 {
		slotMinutes = clinicapi.DefaultSlotMinutes
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Rescheduler{
		api:         api,
		store:       store,
		zone:        zone,
		slotMinutes: slotMinutes,
		logger:      logger,
		metrics:     m,
	}
}

// Open starts a reschedule flow for one appointment. The appointment must
// still be PENDING; opening fetches availability for its current date.
func (r *Rescheduler) Open(ctx context.Context, appointmentID string) (*RescheduleSession, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.reschedule_open")
	defer span.End()

	appt, err := r.api.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("schedule: load appointment: %w", err)
	}
	if appt.Status != clinicapi.StatusPending {
		return nil, ErrNotPending
	}

	rs := &RescheduleSession{
		ID:            uuid.NewString(),
		AppointmentID: appt.AppointmentID,
		Doctor:        appt.Doctor,
		Open:          true,
		Date:          timefmt.DateOf(appt.Start, r.zone.Location()),
	}
	if err := r.refreshSlots(ctx, rs); err != nil {
		return nil, err
	}
	if err := r.store.SaveReschedule(ctx, rs); err != nil {
		return nil, err
	}
	r.logger.Info("reschedule opened", "session_id", rs.ID, "appointment_id", rs.AppointmentID)
	return rs, nil
}

// Get loads a reschedule session by id.
func (r *Rescheduler) Get(ctx context.Context, sessionID string) (*RescheduleSession, error) {
	return r.store.LoadReschedule(ctx, sessionID)
}

// Close abandons the flow; nothing server-side needs compensation.
func (r *Rescheduler) Close(ctx context.Context, sessionID string) error {
	return r.store.DeleteReschedule(ctx, sessionID)
}

// SelectDate re-targets the flow to another day and re-fetches availability.
func (r *Rescheduler) SelectDate(ctx context.Context, sessionID string, date timefmt.CalendarDate) (*RescheduleSession, error) {
	rs, err := r.store.LoadReschedule(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !rs.Open {
		return nil, ErrRescheduleClosed
	}
	rs.setDate(date)
	if err := r.refreshSlots(ctx, rs); err != nil {
		return nil, err
	}
	if err := r.store.SaveReschedule(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// SelectSlot picks a new window from the current availability set.
func (r *Rescheduler) SelectSlot(ctx context.Context, sessionID string, slot clinicapi.Slot) (*RescheduleSession, error) {
	rs, err := r.store.LoadReschedule(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := rs.selectSlot(slot); err != nil {
		return nil, err
	}
	rs.Notice = ""
	if err := r.store.SaveReschedule(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// Commit moves the appointment to the selected slot. On conflict the flow
// stays open with refreshed slots and a notice; on success it closes with
// the updated appointment.
func (r *Rescheduler) Commit(ctx context.Context, sessionID string) (*RescheduleSession, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.reschedule_commit")
	defer span.End()

	rs, err := r.store.LoadReschedule(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !rs.Open {
		return nil, ErrRescheduleClosed
	}
	if rs.SelectedSlot == nil {
		return nil, ErrNoSlotSelected
	}
	if rs.CommitInFlight {
		return nil, ErrCommitInFlight
	}
	rs.CommitInFlight = true
	if err := r.store.SaveReschedule(ctx, rs); err != nil {
		return nil, err
	}

	start, end := rs.SelectedSlot.Start, rs.SelectedSlot.End
	appt, err := r.api.UpdateAppointment(ctx, rs.AppointmentID, clinicapi.AppointmentPatch{Start: &start, End: &end})
	switch {
	case err == nil:
		rs.CommitInFlight = false
		rs.Open = false
		rs.Updated = appt
		rs.Notice = ""
		r.metrics.ObserveCommit("reschedule", "ok")
		r.logger.Info("appointment rescheduled",
			"session_id", rs.ID,
			"appointment_id", rs.AppointmentID,
		)
	case clinicapi.IsConflict(err):
		rs.CommitInFlight = false
		rs.SelectedSlot = nil
		rs.Notice = slotTakenNotice
		r.metrics.ObserveCommit("reschedule", "conflict")
		r.logger.Warn("reschedule lost slot race", "session_id", rs.ID)
		if refreshErr := r.refreshSlots(ctx, rs); refreshErr != nil {
			r.logger.Error("slot refresh after conflict failed", "session_id", rs.ID, "error", refreshErr)
		}
	default:
		rs.CommitInFlight = false
		r.metrics.ObserveCommit("reschedule", "error")
		if saveErr := r.store.SaveReschedule(ctx, rs); saveErr != nil {
			r.logger.Error("reschedule save after failed commit", "session_id", rs.ID, "error", saveErr)
		}
		return rs, fmt.Errorf("schedule: commit reschedule: %w", err)
	}

	if err := r.store.SaveReschedule(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// Cancel cancels a PENDING appointment outright (no session required).
func (r *Rescheduler) Cancel(ctx context.Context, appointmentID string) (*clinicapi.Appointment, error) {
	appt, err := r.api.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("schedule: load appointment: %w", err)
	}
	if appt.Status != clinicapi.StatusPending {
		return nil, ErrNotPending
	}
	cancelled, err := r.api.CancelAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("schedule: cancel appointment: %w", err)
	}
	r.logger.Info("appointment cancelled", "appointment_id", appointmentID)
	return cancelled, nil
}

func (r *Rescheduler) refreshSlots(ctx context.Context, rs *RescheduleSession) error {
	started := time.Now()
	page, err := r.api.GetSlots(ctx, rs.Doctor.ID, rs.Date, r.slotMinutes)
	r.metrics.ObserveBackendLatency("get_slots", time.Since(started).Seconds())
	if err != nil {
		r.metrics.ObserveSlotFetch("reschedule", "error")
		return fmt.Errorf("schedule: fetch slots: %w", err)
	}
	r.metrics.ObserveSlotFetch("reschedule", "ok")
	rs.Slots = page.Slots
	rs.SlotsFetchedAt = time.Now().UTC()
	rs.SelectedSlot = nil
	return nil
}
