package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
)

func TestCreateRecurringPartialSuccess(t *testing.T) {
	f := newFixture(t)
	blocked := f.book(f.drB, f.monday.AddDate(0, 0, 7), at(10, 0))
	_ = blocked

	res, err := f.svc.CreateRecurringAppointments(f.ctx, RecurringRequest{
		ClinicID:          f.clinic,
		PatientID:         f.patient,
		AppointmentTypeID: f.consult,
		PractitionerID:    f.drB,
		Occurrences: []Occurrence{
			{Date: f.monday, StartTime: at(10, 0)},
			{Date: f.monday.AddDate(0, 0, 7), StartTime: at(10, 0)},
			{Date: f.monday.AddDate(0, 0, 14), StartTime: at(10, 0)},
		},
		WriteOptions: WriteOptions{Origin: OriginClinic},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)
	assert.Equal(t, 1, res.FailedCount)

	require.Len(t, res.Occurrences, 3)
	assert.True(t, res.Occurrences[0].Created)
	assert.True(t, res.Occurrences[2].Created)
	failed := res.Occurrences[1]
	assert.False(t, failed.Created)
	assert.Equal(t, CodeConflict, failed.ErrorCode)
	require.NotNil(t, failed.Conflict)
	assert.Equal(t, ConflictAppointment, failed.Conflict.ConflictType)
	assert.Equal(t, "2026-10-26", failed.Date)

	// one combined notification for the whole series
	changes := f.effects.notified()
	require.Len(t, changes, 2)
	assert.Equal(t, ChangeRecurringCreated, changes[1].Kind)
	assert.Equal(t, []int64{res.Occurrences[0].CalendarEventID, res.Occurrences[2].CalendarEventID}, changes[1].CalendarEventIDs)
}

func TestCreateRecurringRejectsDuplicatesFirst(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateRecurringAppointments(f.ctx, RecurringRequest{
		ClinicID:          f.clinic,
		PatientID:         f.patient,
		AppointmentTypeID: f.consult,
		PractitionerID:    f.drA,
		Occurrences: []Occurrence{
			{Date: f.monday, StartTime: at(10, 0)},
			{Date: f.monday, StartTime: at(10, 0)},
			{Date: f.monday.AddDate(0, 0, 1), StartTime: at(10, 0)},
		},
		WriteOptions: WriteOptions{Origin: OriginClinic},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)

	dup := res.Occurrences[1]
	assert.Equal(t, CodeDuplicate, dup.ErrorCode)
	require.NotNil(t, dup.DuplicateIndex)
	assert.Equal(t, 0, *dup.DuplicateIndex)
	assert.Nil(t, dup.Conflict)
}

func TestCreateRecurringMixedFailures(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateRecurringAppointments(f.ctx, RecurringRequest{
		ClinicID:          f.clinic,
		PatientID:         f.patient,
		AppointmentTypeID: f.consult,
		PractitionerID:    f.drA,
		Occurrences: []Occurrence{
			{Date: f.monday.AddDate(0, 0, -7), StartTime: at(10, 0)},
			{Date: f.monday.AddDate(0, 0, 5), StartTime: at(10, 0)},
		},
		WriteOptions: WriteOptions{Origin: OriginPatient},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.CreatedCount)
	assert.Equal(t, CodeBookingRestriction, res.Occurrences[0].ErrorCode)
	assert.Equal(t, CodeConflict, res.Occurrences[1].ErrorCode)
	assert.Equal(t, SideEffectOutcome{}, res.SideEffects)
	assert.Empty(t, f.effects.notified())
}

func TestCreateRecurringValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateRecurringAppointments(f.ctx, RecurringRequest{
		ClinicID:     f.clinic,
		WriteOptions: WriteOptions{Origin: OriginClinic},
	})
	assert.Equal(t, "invalid_occurrences", apperrors.CodeOf(err))

	_, err = f.svc.CreateRecurringAppointments(f.ctx, RecurringRequest{
		ClinicID:     f.clinic,
		Occurrences:  make([]Occurrence, MaxOccurrences+1),
		WriteOptions: WriteOptions{Origin: OriginClinic},
	})
	assert.Equal(t, "too_many_occurrences", apperrors.CodeOf(err))
}

func TestCheckRecurringConflicts(t *testing.T) {
	f := newFixture(t)
	f.book(f.drA, f.monday.AddDate(0, 0, 1), at(10, 0))

	items, err := f.engine.CheckRecurringConflicts(f.ctx, RecurringCheckRequest{
		ClinicID:          f.clinic,
		PractitionerID:    f.drA,
		AppointmentTypeID: f.consult,
		Occurrences: []Occurrence{
			{Date: f.monday, StartTime: at(10, 0)},
			{Date: f.monday.AddDate(0, 0, 1), StartTime: at(10, 0)},
			{Date: f.monday, StartTime: at(10, 0)},
			{Date: f.monday, StartTime: at(10, 0)},
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.False(t, items[0].Conflict.HasConflict)
	assert.True(t, items[0].IsDuplicate)
	assert.Equal(t, 2, *items[0].DuplicateIndex)

	assert.False(t, items[1].IsDuplicate)
	assert.Nil(t, items[1].DuplicateIndex)
	assert.Equal(t, ConflictAppointment, items[1].Conflict.ConflictType)

	assert.Equal(t, 0, *items[2].DuplicateIndex)
	assert.Equal(t, 0, *items[3].DuplicateIndex)
}

func TestDuplicatePartners(t *testing.T) {
	got := duplicatePartners([]string{"a", "b", "a", "c", "a", "b"})
	assert.Equal(t, map[int]int{0: 2, 2: 0, 4: 0, 1: 5, 5: 1}, got)
	assert.Empty(t, duplicatePartners([]int{1, 2, 3}))
}

func TestProcessEachIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	results := ProcessEach(context.Background(), []int{1, 2, 3}, func(_ context.Context, _ int, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n * 10, nil
	})

	ok, failed := Partition(results)
	require.Len(t, ok, 2)
	require.Len(t, failed, 1)
	assert.Equal(t, 30, ok[1].Value)
	assert.Equal(t, 1, failed[0].Index)
	assert.ErrorIs(t, failed[0].Err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results = ProcessEach(ctx, []int{1}, func(context.Context, int, int) (int, error) { return 1, nil })
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(results[0].Err))
}
