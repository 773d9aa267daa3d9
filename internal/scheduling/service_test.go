package scheduling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

func (f *fixture) createReq(practitionerID int64, date time.Time, start timeutil.TimeOfDay, origin Origin) CreateRequest {
	return CreateRequest{
		ClinicID:          f.clinic,
		PatientID:         f.patient,
		AppointmentTypeID: f.consult,
		PractitionerID:    practitionerID,
		Date:              date,
		StartTime:         start,
		WriteOptions:      WriteOptions{Origin: origin, ActorUserID: 42},
	}
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	notes := "first visit"
	req := f.createReq(f.drA, f.monday, at(10, 0), OriginClinic)
	req.Notes = &notes

	res, err := f.svc.CreateAppointment(f.ctx, req)
	require.NoError(t, err)

	appt := res.Appointment
	assert.NotZero(t, appt.CalendarEventID)
	assert.Equal(t, f.drA, *appt.PractitionerID)
	assert.Equal(t, "2026-10-19", appt.Date)
	assert.Equal(t, at(10, 30), appt.EndTime)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.False(t, appt.IsAutoAssigned)
	assert.Equal(t, &notes, appt.Notes)
	assert.Nil(t, res.SoftConflicts)
	assert.Equal(t, SideEffectOutcome{Notified: true, CalendarSynced: true}, res.SideEffects)

	changes := f.effects.notified()
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, []int64{appt.CalendarEventID}, changes[0].CalendarEventIDs)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 0, 0, 0, f.loc), changes[0].NewStart.In(f.loc))

	log := f.store.EventLog()
	require.Len(t, log, 1)
	assert.Equal(t, EventAppointmentCreated, log[0].EventType)
	require.NotNil(t, log[0].CalendarEventID)
	assert.Equal(t, appt.CalendarEventID, *log[0].CalendarEventID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(log[0].Payload, &payload))
	assert.Equal(t, float64(42), payload["actor_user_id"])

	stored, err := f.svc.GetAppointment(f.ctx, f.clinic, appt.CalendarEventID)
	require.NoError(t, err)
	assert.Equal(t, appt, *stored)
}

func TestCreateAppointmentBlockedByOverlap(t *testing.T) {
	f := newFixture(t)
	f.book(f.drA, f.monday, at(10, 0))

	_, err := f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(10, 15), OriginClinic))
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
	report, ok := appErr.Detail.(ConflictReport)
	require.True(t, ok)
	assert.Equal(t, ConflictAppointment, report.ConflictType)

	// overrides never apply to appointment overlap
	req := f.createReq(f.drA, f.monday, at(10, 15), OriginClinic)
	req.AllowOverride = true
	_, err = f.svc.CreateAppointment(f.ctx, req)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	assert.Len(t, f.effects.notified(), 1)
}

func TestCreateAppointmentOverrideOutsideHours(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(18, 0), OriginClinic))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	req := f.createReq(f.drA, f.monday, at(18, 0), OriginClinic)
	req.AllowOverride = true
	res, err := f.svc.CreateAppointment(f.ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.SoftConflicts)
	assert.Equal(t, ConflictAvailability, res.SoftConflicts.ConflictType)

	patient := f.createReq(f.drB, f.monday, at(18, 0), OriginPatient)
	patient.AllowOverride = true
	_, err = f.svc.CreateAppointment(f.ctx, patient)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestCreateAppointmentBookingRestrictions(t *testing.T) {
	f := newFixture(t)
	thursday := timeutil.DateOf(f.clock.Now(), f.loc)

	_, err := f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, thursday, at(7, 0), OriginClinic))
	assert.Equal(t, apperrors.KindBookingRestriction, apperrors.KindOf(err))
	assert.Equal(t, "past_time", apperrors.CodeOf(err))

	f.store.SetClinicSettings(f.clinic, ClinicSettings{MinimumBookingHoursAhead: 100})
	_, err = f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(10, 0), OriginPatient))
	assert.Equal(t, "too_soon", apperrors.CodeOf(err))

	// staff bypass the lead time
	_, err = f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(10, 0), OriginClinic))
	require.NoError(t, err)

	f.store.SetClinicSettings(f.clinic, ClinicSettings{MaxBookingWindowDays: 2})
	_, err = f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(11, 0), OriginPatient))
	assert.Equal(t, "beyond_booking_window", apperrors.CodeOf(err))

	f.store.SetClinicSettings(f.clinic, ClinicSettings{MaxFutureAppointments: 1})
	_, err = f.svc.CreateAppointment(f.ctx, f.createReq(f.drB, f.monday, at(11, 0), OriginPatient))
	assert.Equal(t, "max_future_appointments", apperrors.CodeOf(err))
}

func TestCreateAppointmentAutoAssigns(t *testing.T) {
	f := newFixture(t)
	f.book(f.drA, f.monday.AddDate(0, 0, 1), at(9, 0))

	res, err := f.svc.CreateAppointment(f.ctx, f.createReq(0, f.monday, at(10, 0), OriginPatient))
	require.NoError(t, err)
	assert.Equal(t, f.drB, *res.Appointment.PractitionerID)
	assert.True(t, res.Appointment.IsAutoAssigned)
	assert.True(t, res.Appointment.OriginallyAutoAssigned)
	assert.Nil(t, res.Appointment.ForPatient().PractitionerID)
}

func TestCreateAppointmentConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	const attempts = 8

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(10, 0), OriginPatient))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	calendar, err := f.svc.ListCalendar(f.ctx, f.clinic, f.drA, f.monday, f.monday)
	require.NoError(t, err)
	assert.Len(t, calendar, 1)
}

func TestCreateAppointmentConcurrentDifferentPractitioners(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pid := range []int64{f.drA, f.drB} {
		wg.Add(1)
		go func(i int, pid int64) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateAppointment(f.ctx, f.createReq(pid, f.monday, at(10, 0), OriginClinic))
		}(i, pid)
	}
	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestCreateAppointmentResources(t *testing.T) {
	f := newFixture(t)
	procedure := f.addType("Procedure", 30, 0)
	room := f.store.AddResourceType(f.clinic, "Room")
	room1 := f.store.AddResource(f.clinic, room, "Room 1")
	f.store.AddRequirement(procedure, room, 1)

	req := f.createReq(f.drA, f.monday, at(10, 0), OriginClinic)
	req.AppointmentTypeID = procedure
	first, err := f.svc.CreateAppointment(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []int64{room1}, first.Appointment.ResourceIDs)
	assert.True(t, first.Resources.Clean())

	// staff may double-book the room unless strict
	req.PractitionerID = f.drB
	req.StrictResources = true
	_, err = f.svc.CreateAppointment(f.ctx, req)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	req.StrictResources = false
	second, err := f.svc.CreateAppointment(f.ctx, req)
	require.NoError(t, err)
	require.NotNil(t, second.SoftConflicts)
	assert.Equal(t, ConflictResource, second.SoftConflicts.ConflictType)
	assert.Empty(t, second.Appointment.ResourceIDs)
	require.Len(t, second.Resources.Shortfalls, 1)
	assert.Equal(t, 0, second.Resources.Shortfalls[0].Available)

	avail, err := f.engine.GetResourceAvailabilityForSlot(f.ctx, ResourceQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: procedure,
		Date:              f.monday,
		StartTime:         at(10, 30),
		EndTime:           at(11, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{room1}, avail.SuggestedAllocation)
	assert.Empty(t, avail.Conflicts)
}

func TestSetResourceAllocationReportsBusyResources(t *testing.T) {
	f := newFixture(t)
	procedure := f.addType("Procedure", 30, 0)
	room := f.store.AddResourceType(f.clinic, "Room")
	room1 := f.store.AddResource(f.clinic, room, "Room 1")
	room2 := f.store.AddResource(f.clinic, room, "Room 2")
	f.store.AddRequirement(procedure, room, 1)

	req := f.createReq(f.drA, f.monday, at(10, 0), OriginClinic)
	req.AppointmentTypeID = procedure
	first, err := f.svc.CreateAppointment(f.ctx, req)
	require.NoError(t, err)
	req.PractitionerID = f.drB
	second, err := f.svc.CreateAppointment(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []int64{room2}, second.Appointment.ResourceIDs)

	// an appointment does not collide with its own allocation
	sel, err := f.svc.SetResourceAllocation(f.ctx, ResourceAllocationRequest{
		ClinicID:        f.clinic,
		CalendarEventID: first.Appointment.CalendarEventID,
		ResourceIDs:     []int64{room1},
		Strict:          true,
	})
	require.NoError(t, err)
	assert.Empty(t, sel.BusyResources)

	_, err = f.svc.SetResourceAllocation(f.ctx, ResourceAllocationRequest{
		ClinicID:        f.clinic,
		CalendarEventID: second.Appointment.CalendarEventID,
		ResourceIDs:     []int64{room1},
		Strict:          true,
	})
	assert.Equal(t, "resource_unavailable", apperrors.CodeOf(err))

	sel, err = f.svc.SetResourceAllocation(f.ctx, ResourceAllocationRequest{
		ClinicID:        f.clinic,
		CalendarEventID: second.Appointment.CalendarEventID,
		ResourceIDs:     []int64{room1},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{room1}, sel.BusyResources)

	stored, err := f.svc.GetAppointment(f.ctx, f.clinic, second.Appointment.CalendarEventID)
	require.NoError(t, err)
	assert.Equal(t, []int64{room1}, stored.ResourceIDs)
}

func TestUpdateAppointmentMovesTime(t *testing.T) {
	f := newFixture(t)
	booked := f.book(f.drA, f.monday, at(10, 0))
	id := booked.Appointment.CalendarEventID

	start := at(10, 15)
	res, err := f.svc.UpdateAppointment(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: id,
		StartTime:       &start,
		WriteOptions:    WriteOptions{Origin: OriginClinic},
	})
	require.NoError(t, err)
	assert.Equal(t, at(10, 15), res.Appointment.StartTime)
	assert.True(t, res.Notification.TimeChanged)
	assert.False(t, res.Notification.PractitionerChanged)
	assert.Equal(t, WordingTimeChanged, res.Notification.PatientWording)
	assert.True(t, res.SideEffects.Notified)

	changes := f.effects.notified()
	require.Len(t, changes, 2)
	assert.Equal(t, ChangeUpdated, changes[1].Kind)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 0, 0, 0, f.loc), changes[1].OldStart.In(f.loc))
}

func TestUpdateAppointmentWithoutChangeDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	booked := f.book(f.drA, f.monday, at(10, 0))
	note := "bring x-rays"

	res, err := f.svc.UpdateAppointment(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		ClinicNotes:     &note,
		WriteOptions:    WriteOptions{Origin: OriginClinic},
	})
	require.NoError(t, err)
	assert.False(t, res.Notification.WillNotify)
	assert.Equal(t, &note, res.Appointment.ClinicNotes)
	assert.Len(t, f.effects.notified(), 1)
}

func TestUpdateAppointmentReassignsAutoAssigned(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateAppointment(f.ctx, f.createReq(0, f.monday, at(10, 0), OriginPatient))
	require.NoError(t, err)
	require.Equal(t, f.drA, *created.Appointment.PractitionerID)

	preview, err := f.svc.GetNotificationRequirements(f.ctx, f.clinic, created.Appointment.CalendarEventID, ProposedChange{PractitionerID: &f.drB})
	require.NoError(t, err)
	assert.Equal(t, WordingPractitionerAssigned, preview.PatientWording)

	res, err := f.svc.UpdateAppointment(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: created.Appointment.CalendarEventID,
		PractitionerID:  &f.drB,
		WriteOptions:    WriteOptions{Origin: OriginClinic, ActorUserID: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, f.drB, *res.Appointment.PractitionerID)
	assert.False(t, res.Appointment.IsAutoAssigned)
	assert.True(t, res.Appointment.OriginallyAutoAssigned)
	require.NotNil(t, res.Appointment.ReassignedByUserID)
	assert.Equal(t, int64(7), *res.Appointment.ReassignedByUserID)
	assert.Equal(t, WordingPractitionerAssigned, res.Notification.PatientWording)
	assert.True(t, res.Notification.NotifyOldPractitioner)
}

func TestUpdateAppointmentRejectsConflict(t *testing.T) {
	f := newFixture(t)
	f.book(f.drB, f.monday, at(10, 0))
	booked := f.book(f.drA, f.monday, at(10, 0))

	_, err := f.svc.UpdateAppointment(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		PractitionerID:  &f.drB,
		WriteOptions:    WriteOptions{Origin: OriginClinic},
	})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	preview, err := f.svc.PreviewEdit(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		PractitionerID:  &f.drB,
		WriteOptions:    WriteOptions{Origin: OriginClinic},
	})
	require.NoError(t, err)
	assert.True(t, preview.Blocking)
	assert.Equal(t, ConflictAppointment, preview.Conflict.ConflictType)

	stored, err := f.svc.GetAppointment(f.ctx, f.clinic, booked.Appointment.CalendarEventID)
	require.NoError(t, err)
	assert.Equal(t, f.drA, *stored.PractitionerID)
}

func TestCancelAppointmentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	booked := f.book(f.drA, f.monday, at(10, 0))
	req := CancelRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		WriteOptions:    WriteOptions{Origin: OriginPatient},
	}

	first, err := f.svc.CancelAppointment(f.ctx, req)
	require.NoError(t, err)
	assert.False(t, first.AlreadyCancelled)
	assert.Equal(t, StatusCanceledByPatient, first.Appointment.Status)
	require.NotNil(t, first.Appointment.CanceledAt)

	f.clock.Advance(time.Hour)
	second, err := f.svc.CancelAppointment(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCancelled)
	assert.Equal(t, *first.Appointment.CanceledAt, *second.Appointment.CanceledAt)
	assert.Len(t, f.effects.notified(), 2)

	// the time is free again
	assert.False(t, f.check(f.drA, f.consult, f.monday, at(10, 0), 0).HasConflict)

	_, err = f.svc.UpdateAppointment(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		WriteOptions:    WriteOptions{Origin: OriginClinic},
	})
	assert.Equal(t, "appointment_not_editable", apperrors.CodeOf(err))
}

func TestCancelAppointmentTooLate(t *testing.T) {
	f := newFixture(t)
	f.store.SetClinicSettings(f.clinic, ClinicSettings{MinimumCancellationHoursBefore: 24})
	booked := f.book(f.drA, f.monday, at(10, 0))

	f.clock.Set(time.Date(2026, 10, 19, 8, 0, 0, 0, f.loc))
	_, err := f.svc.CancelAppointment(f.ctx, CancelRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		WriteOptions:    WriteOptions{Origin: OriginPatient},
	})
	assert.Equal(t, "cancellation_too_late", apperrors.CodeOf(err))

	res, err := f.svc.CancelAppointment(f.ctx, CancelRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		WriteOptions:    WriteOptions{Origin: OriginClinic},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceledByClinic, res.Appointment.Status)
}

func TestSideEffectFailuresDoNotFailTheWrite(t *testing.T) {
	f := newFixture(t)

	f.effects.panic = true
	res, err := f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(10, 0), OriginClinic))
	require.NoError(t, err)
	assert.False(t, res.SideEffects.Notified)
	assert.True(t, res.SideEffects.CalendarSynced)

	f.effects.panic = false
	f.effects.fail = true
	res, err = f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(11, 0), OriginClinic))
	require.NoError(t, err)
	assert.Equal(t, SideEffectOutcome{}, res.SideEffects)

	calendar, err := f.svc.ListCalendar(f.ctx, f.clinic, f.drA, f.monday, f.monday)
	require.NoError(t, err)
	assert.Len(t, calendar, 2)
}

func TestListCalendarOrdersEntries(t *testing.T) {
	f := newFixture(t)
	f.book(f.drA, f.monday.AddDate(0, 0, 1), at(9, 0))
	f.book(f.drA, f.monday, at(14, 0))
	start, end := at(12, 0), at(13, 0)
	_, err := f.avail.CreateException(f.ctx, ExceptionRequest{
		ClinicID:       f.clinic,
		PractitionerID: f.drA,
		Date:           f.monday,
		StartTime:      &start,
		EndTime:        &end,
	})
	require.NoError(t, err)

	entries, err := f.svc.ListCalendar(f.ctx, f.clinic, f.drA, f.monday, f.monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EventTypeAvailabilityException, entries[0].EventType)
	assert.Equal(t, at(14, 0), *entries[1].StartTime)
	assert.Equal(t, "2026-10-20", entries[2].Date)

	_, err = f.svc.ListCalendar(f.ctx, f.clinic, f.drA, f.monday, f.monday.AddDate(0, 0, -1))
	assert.Equal(t, "invalid_date_range", apperrors.CodeOf(err))
}
