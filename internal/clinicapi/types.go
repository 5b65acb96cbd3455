package clinicapi

import (
	"time"

	"github.com/heartlinehq/patientflow/internal/timefmt"
)

// Specializations is the fixed set of doctor specializations the backend
// recognizes. "Opthalmologist" matches the backend's stored spelling.
var Specializations = []string{
	"Cardiologist",
	"Pediatric",
	"Dermatologist",
	"Orthopedic",
	"Neurologist",
	"Opthalmologist",
	"Outpatient Department (OPD)",
}

// ValidSpecialization reports whether s is one of the recognized specializations.
func ValidSpecialization(s string) bool {
	for _, known := range Specializations {
		if known == s {
			return true
		}
	}
	return false
}

// DoctorSummary identifies a doctor as returned by the directory endpoints.
type DoctorSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

// Slot is one bookable time window. Slots are immutable values produced
// fresh on every availability query and compared by (start, end).
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Equal compares two slots by their window bounds, ignoring availability.
func (s Slot) Equal(other Slot) bool {
	return s.Start.Equal(other.Start) && s.End.Equal(other.End)
}

// SlotPage is the availability response for one doctor and day.
type SlotPage struct {
	Date        timefmt.CalendarDate `json:"date"`
	SlotMinutes int                  `json:"slotMinutes"`
	Slots       []Slot               `json:"slots"`
}

// AppointmentStatus is the server-owned appointment lifecycle status. The
// client never transitions status locally.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
)

// Appointment is the durable booking entity owned by the backend.
type Appointment struct {
	AppointmentID string            `json:"appointmentId"`
	Doctor        DoctorSummary     `json:"doctor"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	Status        AppointmentStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
}

// CreateAppointmentRequest books a doctor's slot.
type CreateAppointmentRequest struct {
	DoctorID string    `json:"doctorId"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Reason   string    `json:"reason,omitempty"`
}

// AppointmentPatch moves an existing appointment to a new window. Nil
// fields are left unchanged.
type AppointmentPatch struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// AppointmentFilter narrows ListAppointments.
type AppointmentFilter struct {
	Mine   bool
	Status AppointmentStatus
	From   timefmt.CalendarDate
	To     timefmt.CalendarDate
	Page   int
	Limit  int
}

// AppointmentPage is a paged appointment listing.
type AppointmentPage struct {
	Items []Appointment `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// Breakdown itemizes a charge in cents. The enumerated line items are the
// only ones the backend prices; the charged total is the sum of all items.
type Breakdown struct {
	ConsultationFee int64 `json:"consultationFee"`
	LabTests        int64 `json:"labTests"`
	Prescription    int64 `json:"prescription"`
	ProcessingFee   int64 `json:"processingFee"`
	Other           int64 `json:"other"`
}

// Total sums the line items.
func (b Breakdown) Total() int64 {
	return b.ConsultationFee + b.LabTests + b.Prescription + b.ProcessingFee + b.Other
}

// Card holds the card fields submitted to initiate a charge. The card is
// transmitted once and never stored by this service.
type Card struct {
	Number     string `json:"number"`
	ExpMonth   int    `json:"expMonth"`
	ExpYear    int    `json:"expYear"`
	CVV        string `json:"cvv"`
	HolderName string `json:"holderName"`
}

// InitiatePaymentRequest starts a card charge and triggers OTP delivery.
type InitiatePaymentRequest struct {
	Breakdown     Breakdown `json:"breakdown"`
	Currency      string    `json:"currency"`
	Card          Card      `json:"card"`
	PatientID     string    `json:"patientId,omitempty"`
	DoctorID      string    `json:"doctorId,omitempty"`
	AppointmentID string    `json:"appointmentId,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// PaymentChallenge describes a pending OTP challenge issued by initiate.
type PaymentChallenge struct {
	PaymentID string    `json:"paymentId"`
	OTPRefID  string    `json:"otpRefId"`
	OTPSentTo string    `json:"otpSentTo"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Payment is the captured payment record.
type Payment struct {
	PaymentID     string    `json:"paymentId"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	AppointmentID string    `json:"appointmentId,omitempty"`
	CapturedAt    time.Time `json:"capturedAt"`
}

// PaymentPage is a paged payment listing.
type PaymentPage struct {
	Items []Payment `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}
