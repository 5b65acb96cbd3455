package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/observability/metrics"
	"github.com/heartlinehq/patientflow/internal/timefmt"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

var scheduleTracer = otel.Tracer("patientflow.internal.schedule")

// slotTakenNotice is surfaced when a commit loses the slot race.
const slotTakenNotice = "That slot was just taken. Availability has been refreshed, please pick again."

// BookingAPI is the slice of the clinical backend the scheduling flows use.
type BookingAPI interface {
	GetSlots(ctx context.Context, doctorID string, date timefmt.CalendarDate, slotMinutes int) (*clinicapi.SlotPage, error)
	CreateAppointment(ctx context.Context, req clinicapi.CreateAppointmentRequest) (*clinicapi.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, patch clinicapi.AppointmentPatch) (*clinicapi.Appointment, error)
	CancelAppointment(ctx context.Context, id string) (*clinicapi.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*clinicapi.Appointment, error)
	ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]clinicapi.DoctorSummary, error)
}

// Wizard orchestrates booking sessions: it applies pure session transitions,
// performs the backend calls they imply, and persists the resulting session.
// Calls within one session are strictly sequential; the commit guard rejects
// overlapping confirms.
type Wizard struct {
	api         BookingAPI
	store       *Store
	zone        *timefmt.Zone
	slotMinutes int
	logger      *logging.Logger
	metrics     *metrics.FlowMetrics
}

// NewWizard constructs the booking wizard orchestrator.
func NewWizard(api BookingAPI, store *Store, zone *timefmt.Zone, slotMinutes int, logger *logging.Logger, m *metrics.FlowMetrics) *Wizard {
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
	return &Wizard{
		api:         api,
		store:       store,
		zone:        zone,
		slotMinutes: slotMinutes,
		logger:      logger,
		metrics:     m,
	}
}

// Start opens a new booking session at the specialization step, dated today.
func (w *Wizard) Start(ctx context.Context) (*Session, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.start")
	defer span.End()

	sess := NewSession(uuid.NewString(), w.zone.Today(time.Now()), time.Now().UTC())
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	w.logger.Info("booking session started", "session_id", sess.ID)
	return sess, nil
}

// Get loads a session by id.
func (w *Wizard) Get(ctx context.Context, sessionID string) (*Session, error) {
	return w.store.LoadSession(ctx, sessionID)
}

// Abandon discards a session without any server-side compensation; nothing
// durable exists until a commit succeeds.
func (w *Wizard) Abandon(ctx context.Context, sessionID string) error {
	return w.store.DeleteSession(ctx, sessionID)
}

// ChooseSpecialization applies the specialization choice and returns the
// doctors offering it.
func (w *Wizard) ChooseSpecialization(ctx context.Context, sessionID, specialization string) (*Session, []clinicapi.DoctorSummary, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.choose_specialization")
	defer span.End()

	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.ChooseSpecialization(specialization); err != nil {
		return nil, nil, err
	}
	doctors, err := w.api.ListDoctorsBySpecialization(ctx, specialization)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule: list doctors: %w", err)
	}
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	return sess, doctors, nil
}

// SelectDoctor records the doctor choice and fetches fresh availability for
// the session's current date.
func (w *Wizard) SelectDoctor(ctx context.Context, sessionID string, doctor clinicapi.DoctorSummary) (*Session, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.select_doctor")
	defer span.End()

	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.SetDoctor(doctor); err != nil {
		return nil, err
	}
	if err := w.refreshSlots(ctx, sess, "wizard"); err != nil {
		return nil, err
	}
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SelectDate changes the target date, invalidating the slot selection and
// fetching availability for the new day.
func (w *Wizard) SelectDate(ctx context.Context, sessionID string, date timefmt.CalendarDate) (*Session, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.select_date")
	defer span.End()

	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.SetDate(date); err != nil {
		return nil, err
	}
	if sess.Doctor != nil {
		if err := w.refreshSlots(ctx, sess, "wizard"); err != nil {
			return nil, err
		}
	}
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SelectSlot picks a slot from the current availability set.
func (w *Wizard) SelectSlot(ctx context.Context, sessionID string, slot clinicapi.Slot) (*Session, error) {
	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.SelectSlot(slot); err != nil {
		return nil, err
	}
	sess.Notice = ""
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Advance moves the session to the notes step.
func (w *Wizard) Advance(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Advance(); err != nil {
		return nil, err
	}
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Back steps backwards one stage.
func (w *Wizard) Back(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Back(); err != nil {
		return nil, err
	}
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetNotes records reason/notes at the confirm step.
func (w *Wizard) SetNotes(ctx context.Context, sessionID, reason, notes string) (*Session, error) {
	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.SetNotes(reason, notes); err != nil {
		return nil, err
	}
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Confirm commits the booking. On success the session terminates at
// StageDone holding the appointment. On a slot conflict the session returns
// to the picker with refreshed availability; the user re-selects, the
// system never substitutes a slot. Any other failure keeps the session at
// the confirm step for an explicit retry.
func (w *Wizard) Confirm(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := scheduleTracer.Start(ctx, "schedule.confirm")
	defer span.End()

	sess, err := w.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.beginCommit(); err != nil {
		return nil, err
	}
	// Persist the in-flight marker so a concurrent confirm on another
	// connection is rejected too.
	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	appt, err := w.api.CreateAppointment(ctx, clinicapi.CreateAppointmentRequest{
		DoctorID: sess.Doctor.ID,
		Start:    sess.SelectedSlot.Start,
		End:      sess.SelectedSlot.End,
		Reason:   sess.Reason,
	})
	switch {
	case err == nil:
		sess.completeCommit(appt)
		w.metrics.ObserveCommit("wizard", "ok")
		w.logger.Info("booking committed",
			"session_id", sess.ID,
			"appointment_id", appt.AppointmentID,
			"doctor_id", sess.Doctor.ID,
		)
	case clinicapi.IsConflict(err):
		sess.failCommitConflict(slotTakenNotice)
		w.metrics.ObserveCommit("wizard", "conflict")
		w.logger.Warn("booking commit lost slot race", "session_id", sess.ID)
		// The conflict response is authoritative: the cached slot list is
		// discarded and re-fetched before any further selection.
		if refreshErr := w.refreshSlots(ctx, sess, "wizard"); refreshErr != nil {
			w.logger.Error("slot refresh after conflict failed", "session_id", sess.ID, "error", refreshErr)
		}
	default:
		sess.failCommitOther()
		w.metrics.ObserveCommit("wizard", "error")
		if saveErr := w.store.SaveSession(ctx, sess); saveErr != nil {
			w.logger.Error("session save after failed commit", "session_id", sess.ID, "error", saveErr)
		}
		return sess, fmt.Errorf("schedule: commit booking: %w", err)
	}

	if err := w.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// refreshSlots re-fetches availability for the session's doctor/date and
// installs it as the authoritative set.
func (w *Wizard) refreshSlots(ctx context.Context, sess *Session, flow string) error {
	if sess.Doctor == nil {
		return ErrNoDoctor
	}
	started := time.Now()
	page, err := w.api.GetSlots(ctx, sess.Doctor.ID, sess.Date, w.slotMinutes)
	w.metrics.ObserveBackendLatency("get_slots", time.Since(started).Seconds())
	if err != nil {
		w.metrics.ObserveSlotFetch(flow, "error")
		return fmt.Errorf("schedule: fetch slots: %w", err)
	}
	w.metrics.ObserveSlotFetch(flow, "ok")
	sess.SetSlots(page.Slots, time.Now().UTC())
	return nil
}
