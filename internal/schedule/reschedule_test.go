package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/timefmt"
)

func nextDaySlots() []clinicapi.Slot {
	start := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	return []clinicapi.Slot{
		{Start: start, End: start.Add(30 * time.Minute), Available: true},
	}
}

func newTestRescheduler(t *testing.T, api *fakeAPI) *Rescheduler {
	t.Helper()
	return NewRescheduler(api, newTestStore(t), timefmt.MustLoadZone(""), 30, nil, nil)
}

// bookPending seeds the backend with a PENDING appointment on the first slot
// of 2025-05-01 and availability for both days.
func bookPending(t *testing.T, api *fakeAPI) *clinicapi.Appointment {
	t.Helper()
	api.setSlots(drSilva.ID, "2025-05-01", testSlots())
	api.setSlots(drSilva.ID, "2025-05-02", nextDaySlots())
	slot := testSlots()[0]
	appt, err := api.CreateAppointment(context.Background(), clinicapi.CreateAppointmentRequest{
		DoctorID: drSilva.ID,
		Start:    slot.Start,
		End:      slot.End,
		Reason:   "checkup",
	})
	require.NoError(t, err)
	return appt
}

func TestRescheduleHappyPath(t *testing.T) {
	api := newFakeAPI()
	r := newTestRescheduler(t, api)
	ctx := context.Background()
	appt := bookPending(t, api)

	rs, err := r.Open(ctx, appt.AppointmentID)
	require.NoError(t, err)
	require.True(t, rs.Open)
	require.Equal(t, drSilva, rs.Doctor)
	require.Equal(t, timefmt.CalendarDate("2025-05-01"), rs.Date)
	require.Len(t, rs.Slots, 2)
	require.False(t, rs.Slots[0].Available, "own booked slot shows unavailable")

	rs, err = r.SelectDate(ctx, rs.ID, "2025-05-02")
	require.NoError(t, err)
	require.Len(t, rs.Slots, 1)

	rs, err = r.SelectSlot(ctx, rs.ID, nextDaySlots()[0])
	require.NoError(t, err)

	rs, err = r.Commit(ctx, rs.ID)
	require.NoError(t, err)
	require.False(t, rs.Open)
	require.NotNil(t, rs.Updated)
	require.Equal(t, nextDaySlots()[0].Start, rs.Updated.Start)
	require.Equal(t, clinicapi.StatusPending, rs.Updated.Status)
}

func TestRescheduleOpenRequiresPending(t *testing.T) {
	api := newFakeAPI()
	r := newTestRescheduler(t, api)
	ctx := context.Background()
	appt := bookPending(t, api)

	_, err := api.CancelAppointment(ctx, appt.AppointmentID)
	require.NoError(t, err)

	_, err = r.Open(ctx, appt.AppointmentID)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestRescheduleCommitConflictStaysOpen(t *testing.T) {
	api := newFakeAPI()
	r := newTestRescheduler(t, api)
	ctx := context.Background()
	appt := bookPending(t, api)

	rs, err := r.Open(ctx, appt.AppointmentID)
	require.NoError(t, err)
	rs, err = r.SelectDate(ctx, rs.ID, "2025-05-02")
	require.NoError(t, err)
	rs, err = r.SelectSlot(ctx, rs.ID, nextDaySlots()[0])
	require.NoError(t, err)

	// Another patient grabs the target window before the commit lands.
	_, err = api.CreateAppointment(ctx, clinicapi.CreateAppointmentRequest{
		DoctorID: drSilva.ID,
		Start:    nextDaySlots()[0].Start,
		End:      nextDaySlots()[0].End,
	})
	require.NoError(t, err)

	rs, err = r.Commit(ctx, rs.ID)
	require.NoError(t, err)
	require.True(t, rs.Open, "conflict keeps the flow open")
	require.Nil(t, rs.SelectedSlot)
	require.NotEmpty(t, rs.Notice)
	require.Len(t, rs.Slots, 1)
	require.False(t, rs.Slots[0].Available)
}

func TestRescheduleCommitRequiresSelection(t *testing.T) {
	api := newFakeAPI()
	r := newTestRescheduler(t, api)
	ctx := context.Background()
	appt := bookPending(t, api)

	rs, err := r.Open(ctx, appt.AppointmentID)
	require.NoError(t, err)

	_, err = r.Commit(ctx, rs.ID)
	require.ErrorIs(t, err, ErrNoSlotSelected)
}

func TestRescheduleClosedRejectsFurtherOps(t *testing.T) {
	api := newFakeAPI()
	r := newTestRescheduler(t, api)
	ctx := context.Background()
	appt := bookPending(t, api)

	rs, err := r.Open(ctx, appt.AppointmentID)
	require.NoError(t, err)
	rs, err = r.SelectDate(ctx, rs.ID, "2025-05-02")
	require.NoError(t, err)
	rs, err = r.SelectSlot(ctx, rs.ID, nextDaySlots()[0])
	require.NoError(t, err)
	rs, err = r.Commit(ctx, rs.ID)
	require.NoError(t, err)
	require.False(t, rs.Open)

	_, err = r.SelectDate(ctx, rs.ID, "2025-05-01")
	require.ErrorIs(t, err, ErrRescheduleClosed)
	_, err = r.SelectSlot(ctx, rs.ID, nextDaySlots()[0])
	require.ErrorIs(t, err, ErrRescheduleClosed)
	_, err = r.Commit(ctx, rs.ID)
	require.ErrorIs(t, err, ErrRescheduleClosed)
}

func TestCancelPendingAppointment(t *testing.T) {
	api := newFakeAPI()
	r := newTestRescheduler(t, api)
	ctx := context.Background()
	appt := bookPending(t, api)

	cancelled, err := r.Cancel(ctx, appt.AppointmentID)
	require.NoError(t, err)
	require.Equal(t, clinicapi.StatusCancelled, cancelled.Status)

	// Already cancelled: the pending-only rule rejects a second attempt.
	_, err = r.Cancel(ctx, appt.AppointmentID)
	require.ErrorIs(t, err, ErrNotPending)
}
