package clinicapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/heartlinehq/patientflow/internal/timefmt"
)

// DefaultSlotMinutes is the slot granularity used when the caller passes 0.
const DefaultSlotMinutes = 30

// appointmentEnvelope matches the backend's wrapped appointment responses.
type appointmentEnvelope struct {
	Appointment Appointment `json:"appointment"`
}

// GetSlots returns the bookable windows for a doctor on one calendar day,
// ordered by start ascending. An empty slot list is a valid result, not an
// error. The call is read-only and safe to repeat.
func (c *Client) GetSlots(ctx context.Context, doctorID string, date timefmt.CalendarDate, slotMinutes int) (*SlotPage, error) {
	if doctorID == "" {
		return nil, &Error{Kind: KindValidation, Message: "doctorId is required", Fields: map[string]string{"doctorId": "required"}}
	}
	if date.IsZero() {
		return nil, &Error{Kind: KindValidation, Message: "date is required", Fields: map[string]string{"date": "required"}}
	}
	if slotMinutes <= 0 {
		slotMinutes = DefaultSlotMinutes
	}

	q := url.Values{}
	q.Set("doctorId", doctorID)
	q.Set("date", date.String())
	q.Set("slotMinutes", strconv.Itoa(slotMinutes))

	var page SlotPage
	if err := c.do(ctx, http.MethodGet, "/appointments/slots", q, nil, &page, nil); err != nil {
		return nil, fmt.Errorf("get slots for doctor %s on %s: %w", doctorID, date, err)
	}
	if page.Slots == nil {
		page.Slots = []Slot{}
	}
	return &page, nil
}

// CreateAppointment books the requested window. Returns KindConflict when
// the window was taken by another caller between view and commit. The
// request carries an idempotency key so a retried transient failure cannot
// double-book.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	header := http.Header{}
	header.Set("X-Idempotency-Key", uuid.NewString())

	var env appointmentEnvelope
	if err := c.do(ctx, http.MethodPost, "/appointments", nil, req, &env, header); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return &env.Appointment, nil
}

// GetAppointment fetches one appointment by identifier.
func (c *Client) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var env appointmentEnvelope
	if err := c.do(ctx, http.MethodGet, "/appointments/"+url.PathEscape(id), nil, nil, &env, nil); err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return &env.Appointment, nil
}

// UpdateAppointment moves an appointment to a new window. Returns
// KindConflict when the target window was just taken, KindNotFound when the
// identifier no longer resolves.
func (c *Client) UpdateAppointment(ctx context.Context, id string, patch AppointmentPatch) (*Appointment, error) {
	var env appointmentEnvelope
	if err := c.do(ctx, http.MethodPatch, "/appointments/"+url.PathEscape(id), nil, patch, &env, nil); err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, err)
	}
	return &env.Appointment, nil
}

// CancelAppointment cancels an appointment. Idempotency against an
// already-cancelled appointment is the backend's policy; the returned
// record reflects whatever status the server settled on.
func (c *Client) CancelAppointment(ctx context.Context, id string) (*Appointment, error) {
	var env appointmentEnvelope
	if err := c.do(ctx, http.MethodDelete, "/appointments/"+url.PathEscape(id), nil, nil, &env, nil); err != nil {
		return nil, fmt.Errorf("cancel appointment %s: %w", id, err)
	}
	return &env.Appointment, nil
}

// ListAppointments returns a filtered page of the caller's appointments.
func (c *Client) ListAppointments(ctx context.Context, filter AppointmentFilter) (*AppointmentPage, error) {
	q := url.Values{}
	if filter.Mine {
		q.Set("mine", "true")
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if !filter.From.IsZero() {
		q.Set("from", filter.From.String())
	}
	if !filter.To.IsZero() {
		q.Set("to", filter.To.String())
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var page AppointmentPage
	if err := c.do(ctx, http.MethodGet, "/appointments", q, nil, &page, nil); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return &page, nil
}
