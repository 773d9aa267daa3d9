package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
)

func TestAutoAssignPrefersLeastLoaded(t *testing.T) {
	f := newFixture(t)
	tuesday := f.monday.AddDate(0, 0, 1)
	f.book(f.drA, tuesday, at(9, 0))
	f.book(f.drA, tuesday, at(10, 0))
	f.book(f.drA, tuesday, at(11, 0))

	got, err := f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(10, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, f.drB, got.PractitionerID)
	assert.Equal(t, 0, got.FutureAppointmentCount)
	assert.Equal(t, 2, got.CandidateCount)
}

func TestAutoAssignTieGoesToLowestID(t *testing.T) {
	f := newFixture(t)

	got, err := f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(10, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, f.drA, got.PractitionerID)
}

func TestAutoAssignSkipsBusyPractitioners(t *testing.T) {
	f := newFixture(t)
	f.book(f.drA, f.monday.AddDate(0, 0, 1), at(9, 0))
	f.book(f.drB, f.monday, at(10, 0))

	got, err := f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(10, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, f.drA, got.PractitionerID)
	assert.Equal(t, 1, got.CandidateCount)

	f.book(f.drA, f.monday, at(10, 0))
	_, err = f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(10, 0),
	})
	assert.Equal(t, apperrors.KindAssignment, apperrors.KindOf(err))
	assert.Equal(t, "no_availability", apperrors.CodeOf(err))
}

func TestAutoAssignWithoutEligiblePractitioners(t *testing.T) {
	f := newFixture(t)
	orphan := f.store.AddAppointmentType(AppointmentType{
		ClinicID:        f.clinic,
		Name:            "Orphan",
		DurationMinutes: 30,
		Enabled:         true,
	})

	_, err := f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: orphan,
		Date:              f.monday,
		StartTime:         at(10, 0),
	})
	assert.Equal(t, "no_eligible_practitioner", apperrors.CodeOf(err))
}

func TestAutoAssignIgnoresCanceledLoad(t *testing.T) {
	f := newFixture(t)
	tuesday := f.monday.AddDate(0, 0, 1)
	for _, start := range []int{9, 10} {
		booked := f.book(f.drA, tuesday, at(start, 0))
		_, err := f.svc.CancelAppointment(f.ctx, CancelRequest{
			ClinicID:        f.clinic,
			CalendarEventID: booked.Appointment.CalendarEventID,
			WriteOptions:    WriteOptions{Origin: OriginClinic},
		})
		require.NoError(t, err)
	}
	f.book(f.drB, tuesday, at(9, 0))

	got, err := f.engine.AutoAssignPractitioner(f.ctx, AssignQuery{
		ClinicID:          f.clinic,
		AppointmentTypeID: f.consult,
		Date:              f.monday,
		StartTime:         at(10, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, f.drA, got.PractitionerID)
}
