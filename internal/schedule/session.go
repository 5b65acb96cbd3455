// Package schedule drives the appointment booking wizard and the reschedule
// sub-flow. Session state is an explicit owned value: every transition is a
// method on the session that either applies or returns an error, so the
// machine is testable without any I/O. Network effects (slot fetches,
// commits) live on the Wizard and Rescheduler orchestrators.
package schedule

import (
	"errors"
	"time"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/timefmt"
)

// Stage is the wizard's current step.
type Stage string

const (
	StageSelectSpecialization Stage = "SELECT_SPECIALIZATION"
	StageSelectDoctorSlot     Stage = "SELECT_DOCTOR_SLOT"
	StageNotesConfirm         Stage = "NOTES_CONFIRM"
	StageDone                 Stage = "DONE"
)

var (
	// ErrInvalidTransition is returned when an operation is not legal in the
	// session's current stage.
	ErrInvalidTransition = errors.New("schedule: operation not allowed in current stage")
	// ErrUnknownSpecialization rejects specializations outside the backend's set.
	ErrUnknownSpecialization = errors.New("schedule: unknown specialization")
	// ErrNoDoctor is returned when a slot is selected before a doctor.
	ErrNoDoctor = errors.New("schedule: no doctor selected")
	// ErrStaleSlot rejects a slot that is not part of the most recent fetch
	// for the session's current doctor and date.
	ErrStaleSlot = errors.New("schedule: slot not in the current availability set")
	// ErrSlotUnavailable rejects a slot marked unavailable.
	ErrSlotUnavailable = errors.New("schedule: slot is not available")
	// ErrMissingSelection blocks advancing without both doctor and slot.
	ErrMissingSelection = errors.New("schedule: doctor and slot must be selected")
	// ErrCommitInFlight enforces one commit at a time per session.
	ErrCommitInFlight = errors.New("schedule: commit already in flight")
)

// Session is one booking attempt. It exists only for the duration of the
// attempt and is destroyed on abandonment (TTL) or on reaching StageDone.
type Session struct {
	ID             string                   `json:"id"`
	Stage          Stage                    `json:"stage"`
	Specialization string                   `json:"specialization,omitempty"`
	Doctor         *clinicapi.DoctorSummary `json:"doctor,omitempty"`
	Date           timefmt.CalendarDate     `json:"date"`
	SelectedSlot   *clinicapi.Slot          `json:"selectedSlot,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
	Notes          string                   `json:"notes,omitempty"`

	// Slots is the most recent availability fetch for (Doctor, Date). A slot
	// selection is only valid against this set.
	Slots          []clinicapi.Slot `json:"slots,omitempty"`
	SlotsFetchedAt time.Time        `json:"slotsFetchedAt,omitempty"`

	// Committed holds the booked appointment once Stage is StageDone.
	Committed *clinicapi.Appointment `json:"committed,omitempty"`

	// CommitInFlight blocks re-entrant confirms while a create call is pending.
	CommitInFlight bool `json:"commitInFlight,omitempty"`

	// Notice is a user-facing message set by conflict handling.
	Notice string `json:"notice,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewSession starts a booking attempt at the specialization step.
func NewSession(id string, today timefmt.CalendarDate, now time.Time) *Session {
	return &Session{
		ID:        id,
		Stage:     StageSelectSpecialization,
		Date:      today,
		CreatedAt: now,
	}
}

// ChooseSpecialization picks the specialization and moves to doctor/slot
// selection. Allowed from the first stage only; going back re-enables it.
func (s *Session) ChooseSpecialization(specialization string) error {
	if s.Stage != StageSelectSpecialization {
		return ErrInvalidTransition
	}
	if !clinicapi.ValidSpecialization(specialization) {
		return ErrUnknownSpecialization
	}
	s.Specialization = specialization
	s.Doctor = nil
	s.clearSlotState()
	s.Stage = StageSelectDoctorSlot
	return nil
}

// SetDoctor selects a doctor. Changing doctor invalidates any selected slot
// and the cached availability; the orchestrator must re-fetch before a new
// slot can be accepted.
func (s *Session) SetDoctor(doctor clinicapi.DoctorSummary) error {
	if s.Stage != StageSelectDoctorSlot {
		return ErrInvalidTransition
	}
	if s.Doctor == nil || s.Doctor.ID != doctor.ID {
		s.clearSlotState()
	}
	s.Doctor = &doctor
	return nil
}

// SetDate changes the target day, invalidating slot state the same way a
// doctor change does.
func (s *Session) SetDate(date timefmt.CalendarDate) error {
	if s.Stage != StageSelectDoctorSlot {
		return ErrInvalidTransition
	}
	if s.Date != date {
		s.clearSlotState()
	}
	s.Date = date
	return nil
}

// SetSlots records a fresh availability fetch for the current doctor/date.
func (s *Session) SetSlots(slots []clinicapi.Slot, fetchedAt time.Time) {
	s.Slots = slots
	s.SlotsFetchedAt = fetchedAt
	s.SelectedSlot = nil
}

// SelectSlot picks a slot. The slot must belong to the most recent fetch
// and be available; unavailable slots are rejected rather than silently
// substituted.
func (s *Session) SelectSlot(slot clinicapi.Slot) error {
	if s.Stage != StageSelectDoctorSlot {
		return ErrInvalidTransition
	}
	if s.Doctor == nil {
		return ErrNoDoctor
	}
	for _, known := range s.Slots {
		if known.Equal(slot) {
			if !known.Available {
				return ErrSlotUnavailable
			}
			chosen := known
			s.SelectedSlot = &chosen
			return nil
		}
	}
	return ErrStaleSlot
}

// CanAdvance reports whether the session may move to the next stage.
func (s *Session) CanAdvance() bool {
	switch s.Stage {
	case StageSelectSpecialization:
		return s.Specialization != ""
	case StageSelectDoctorSlot:
		return s.Doctor != nil && s.SelectedSlot != nil
	case StageNotesConfirm:
		return !s.CommitInFlight
	default:
		return false
	}
}

// CanGoBack reports whether Back is legal from the current stage.
func (s *Session) CanGoBack() bool {
	return s.Stage == StageSelectDoctorSlot || s.Stage == StageNotesConfirm
}

// Advance moves SELECT_DOCTOR_SLOT → NOTES_CONFIRM once both doctor and
// slot are chosen for the current date.
func (s *Session) Advance() error {
	if s.Stage != StageSelectDoctorSlot {
		return ErrInvalidTransition
	}
	if s.Doctor == nil || s.SelectedSlot == nil {
		return ErrMissingSelection
	}
	s.Stage = StageNotesConfirm
	return nil
}

// Back steps one stage backwards. Returning to specialization selection
// drops the doctor, matching a fresh start of step two.
func (s *Session) Back() error {
	switch s.Stage {
	case StageSelectDoctorSlot:
		s.Doctor = nil
		s.clearSlotState()
		s.Stage = StageSelectSpecialization
		return nil
	case StageNotesConfirm:
		s.Stage = StageSelectDoctorSlot
		return nil
	default:
		return ErrInvalidTransition
	}
}

// SetNotes records the visit reason and free-form notes.
func (s *Session) SetNotes(reason, notes string) error {
	if s.Stage != StageNotesConfirm {
		return ErrInvalidTransition
	}
	s.Reason = reason
	s.Notes = notes
	return nil
}

// beginCommit flags the in-flight create call; a second confirm while one
// is pending is rejected.
func (s *Session) beginCommit() error {
	if s.Stage != StageNotesConfirm {
		return ErrInvalidTransition
	}
	if s.Doctor == nil || s.SelectedSlot == nil {
		return ErrMissingSelection
	}
	if s.CommitInFlight {
		return ErrCommitInFlight
	}
	s.CommitInFlight = true
	return nil
}

// completeCommit terminates the wizard with the committed appointment.
func (s *Session) completeCommit(appt *clinicapi.Appointment) {
	s.CommitInFlight = false
	s.Committed = appt
	s.Notice = ""
	s.Stage = StageDone
}

// failCommitConflict applies the conflict law: drop the stale selection,
// return to the picker, and require a fresh fetch before re-selection.
func (s *Session) failCommitConflict(notice string) {
	s.CommitInFlight = false
	s.clearSlotState()
	s.Notice = notice
	s.Stage = StageSelectDoctorSlot
}

// failCommitOther keeps the session at NOTES_CONFIRM; the caller surfaces
// the error and may retry explicitly.
func (s *Session) failCommitOther() {
	s.CommitInFlight = false
}

func (s *Session) clearSlotState() {
	s.SelectedSlot = nil
	s.Slots = nil
	s.SlotsFetchedAt = time.Time{}
}
