package scheduling

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

func TestAppointmentsMayNotCrossMidnight(t *testing.T) {
	f := newFixture(t)

	late := f.createReq(f.drA, f.monday, at(23, 45), OriginClinic)
	late.AllowOverride = true
	_, err := f.svc.CreateAppointment(f.ctx, late)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, "crosses_midnight", apperrors.CodeOf(err))

	last := f.createReq(f.drA, f.monday, at(23, 30), OriginClinic)
	last.AllowOverride = true
	res, err := f.svc.CreateAppointment(f.ctx, last)
	require.NoError(t, err)
	assert.Equal(t, timeutil.TimeOfDay(timeutil.MinutesPerDay), res.Appointment.EndTime)

	booked := f.book(f.drB, f.monday, at(10, 0))
	start := at(23, 45)
	_, err = f.svc.UpdateAppointment(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: booked.Appointment.CalendarEventID,
		StartTime:       &start,
		WriteOptions:    WriteOptions{Origin: OriginClinic, AllowOverride: true},
	})
	assert.Equal(t, "crosses_midnight", apperrors.CodeOf(err))

	_, err = f.engine.CheckSchedulingConflicts(f.ctx, ConflictQuery{
		ClinicID:          f.clinic,
		PractitionerID:    f.drA,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(23, 45),
	})
	assert.Equal(t, "crosses_midnight", apperrors.CodeOf(err))

	_, err = f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(23, 45),
	})
	assert.Equal(t, "crosses_midnight", apperrors.CodeOf(err))
}

func TestRetiredTypeIsNotOfferedForNewBookings(t *testing.T) {
	f := newFixture(t)
	booked := f.book(f.drA, f.monday, at(10, 0))
	f.retire(f.consult)

	_, err := f.engine.GetAvailableSlots(f.ctx, SlotQuery{
		ClinicID:          f.clinic,
		PractitionerID:    f.drA,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
	})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = f.engine.GetAvailableSlotsBatchByPractitioner(f.ctx, PractitionerSlotsQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
	})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(11, 0),
	})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = f.engine.CheckSchedulingConflicts(f.ctx, ConflictQuery{
		ClinicID:          f.clinic,
		PractitionerID:    f.drA,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(11, 0),
	})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = f.svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(11, 0), OriginClinic))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	// the existing appointment can still be moved
	id := booked.Appointment.CalendarEventID
	assert.NotEmpty(t, f.slots(f.drA, f.consult, f.monday, id))
	assert.False(t, f.check(f.drA, f.consult, f.monday, at(11, 0), id).HasConflict)
	start := at(11, 0)
	res, err := f.svc.UpdateAppointment(f.ctx, UpdateRequest{
		ClinicID:        f.clinic,
		CalendarEventID: id,
		StartTime:       &start,
		WriteOptions:    WriteOptions{Origin: OriginClinic},
	})
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), res.Appointment.StartTime)
}

func TestUpdateAppointmentLosesToConcurrentChange(t *testing.T) {
	tests := []struct {
		name   string
		change func(rec *AppointmentRecord)
	}{
		{"canceled meanwhile", func(rec *AppointmentRecord) {
			rec.Appointment.Status = StatusCanceledByClinic
			canceledAt := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
			rec.Appointment.CanceledAt = &canceledAt
		}},
		{"moved meanwhile", func(rec *AppointmentRecord) {
			start, end := at(11, 0), at(11, 30)
			rec.Event.StartTime = &start
			rec.Event.EndTime = &end
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.book(f.drA, f.monday, at(10, 0)).Appointment.CalendarEventID

			racing := &tracingStore{Store: f.store}
			racing.before = func() {
				require.NoError(t, f.store.WithTx(f.ctx, func(ctx context.Context, tx Tx) error {
					rec, err := tx.GetAppointmentForUpdate(ctx, f.clinic, id)
					if err != nil {
						return err
					}
					tt.change(rec)
					if err := tx.UpdateCalendarEvent(ctx, &rec.Event); err != nil {
						return err
					}
					return tx.UpdateAppointment(ctx, &rec.Appointment)
				}))
			}

			start := at(14, 0)
			_, err := f.serviceOn(racing, nil).UpdateAppointment(f.ctx, UpdateRequest{
				ClinicID:        f.clinic,
				CalendarEventID: id,
				StartTime:       &start,
				WriteOptions:    WriteOptions{Origin: OriginClinic},
			})
			assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
			assert.Equal(t, "appointment_modified", apperrors.CodeOf(err))

			stored, err := f.svc.GetAppointment(f.ctx, f.clinic, id)
			require.NoError(t, err)
			assert.NotEqual(t, at(14, 0), stored.StartTime)
		})
	}
}

func TestCreateAppointmentLocksBeforeReading(t *testing.T) {
	f := newFixture(t)
	traced := &tracingStore{Store: f.store}
	locker := &tracingLocker{Locker: redisclient.NewLocalLocker(time.Second), store: traced}
	svc := f.serviceOn(traced, locker)

	_, err := svc.CreateAppointment(f.ctx, f.createReq(f.drA, f.monday, at(10, 0), OriginPatient))
	require.NoError(t, err)

	calls := traced.recorded()
	require.NotEmpty(t, calls)
	assert.Equal(t, "locker "+redisclient.PractitionerDayKey(f.clinic, f.drA, f.monday), calls[0])
	pos := func(call string) int {
		i := slices.Index(calls, call)
		require.GreaterOrEqual(t, i, 0, "missing %s in %v", call, calls)
		return i
	}
	assert.Less(t, pos("lock_practitioner_day"), pos("lock_patient"))
	assert.Less(t, pos("lock_patient"), pos("count_patient_appointments"))
	assert.Less(t, pos("lock_practitioner_day"), pos("list_appointments"))

	// staff bookings skip the patient cap and its lock
	traced.mu.Lock()
	traced.calls = nil
	traced.mu.Unlock()
	_, err = svc.CreateAppointment(f.ctx, f.createReq(f.drB, f.monday, at(10, 0), OriginClinic))
	require.NoError(t, err)
	assert.Contains(t, traced.recorded(), "lock_practitioner_day")
	assert.NotContains(t, traced.recorded(), "lock_patient")
}
