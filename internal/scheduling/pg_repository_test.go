package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func TestPgStoreGetClinicSettings(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT minimum_booking_hours_ahead").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{
			"minimum_booking_hours_ahead", "max_future_appointments",
			"max_booking_window_days", "minimum_cancellation_hours_before",
		}).AddRow(2, 3, 30, 24))

	settings, err := store.GetClinicSettings(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ClinicSettings{
		MinimumBookingHoursAhead:       2,
		MaxFutureAppointments:          3,
		MaxBookingWindowDays:           30,
		MinimumCancellationHoursBefore: 24,
	}, *settings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreMapsNoRowsToSentinel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM practitioners").
		WithArgs(int64(1), int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetPractitioner(context.Background(), 1, 99)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreListAllocatedResourceIDs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM appointment_resource_allocations").
		WithArgs(int64(1), int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"resource_id"}).AddRow(int64(3)).AddRow(int64(5)))

	ids, err := store.ListAllocatedResourceIDs(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreCountPatientFutureAppointments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(1), int64(4), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.CountPatientFutureAppointments(context.Background(), 1, 4,
		time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), timeutil.NewTimeOfDay(9, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreWithTxCommits(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("practitioner:5:2026-10-19").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("DELETE FROM appointment_resource_allocations").
		WithArgs(int64(10)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO appointment_resource_allocations").
		WithArgs(int64(10), int64(1), []int64{3, 4}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.LockPractitionerDay(ctx, 5, date); err != nil {
			return err
		}
		return tx.ReplaceAllocations(ctx, 1, 10, []int64{3, 4})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreLocksPatientAfterPractitionerDay(t *testing.T) {
	store, mock := newMockStore(t)
	date := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("practitioner:5:2026-10-19").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("patient:1:4").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.LockPractitionerDay(ctx, 5, date); err != nil {
			return err
		}
		return tx.LockPatient(ctx, 1, 4)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreWithTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM appointment_resource_allocations").
		WithArgs(int64(10)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.ReplaceAllocations(ctx, 1, 10, nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreUpdateMissingAppointment(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(int64(8), StatusCanceledByClinic, false,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	canceledAt := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateAppointment(ctx, &Appointment{
			CalendarEventID: 8,
			Status:          StatusCanceledByClinic,
			CanceledAt:      &canceledAt,
		})
	})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
