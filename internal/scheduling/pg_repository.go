package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// querier is the subset of pgx shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgPool is satisfied by *pgxpool.Pool and by pgxmock pools.
type PgPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pgReader
	pool PgPool
}

func NewPgStore(pool PgPool) *PgStore {
	return &PgStore{pgReader: pgReader{q: pool}, pool: pool}
}

type pgReader struct {
	q querier
}

type pgTx struct {
	pgReader
}

// WithTx runs fn in one transaction, committing when fn returns nil.
func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{pgReader{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func pgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

func pgTime(t timeutil.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func pgTimePtr(t *timeutil.TimeOfDay) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return pgTime(*t)
}

func fromPgTime(t pgtype.Time) timeutil.TimeOfDay {
	return timeutil.TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func fromPgTimePtr(t pgtype.Time) *timeutil.TimeOfDay {
	if !t.Valid {
		return nil
	}
	v := fromPgTime(t)
	return &v
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

const eventColumns = `
	ce.id, ce.practitioner_id, ce.clinic_id, ce.event_type, ce.date, ce.start_time, ce.end_time,
	ce.custom_event_name, ce.external_calendar_ref, ce.created_at, ce.updated_at`

const appointmentSelect = `
	SELECT ` + eventColumns + `,
		a.patient_id, a.appointment_type_id, a.status, a.is_auto_assigned, a.originally_auto_assigned,
		a.reassigned_by_user_id, a.reassigned_at, a.notes, a.clinic_notes, a.canceled_at,
		t.scheduling_buffer_minutes
	FROM calendar_events ce
	JOIN appointments a ON a.calendar_event_id = ce.id
	JOIN appointment_types t ON t.id = a.appointment_type_id`

func eventTargets(ev *CalendarEvent, date *pgtype.Date, start, end *pgtype.Time) []any {
	return []any{
		&ev.ID, &ev.PractitionerID, &ev.ClinicID, &ev.EventType, date, start, end,
		&ev.CustomEventName, &ev.ExternalCalendarRef, &ev.CreatedAt, &ev.UpdatedAt,
	}
}

func fillEvent(ev *CalendarEvent, date pgtype.Date, start, end pgtype.Time) {
	ev.Date = date.Time
	ev.StartTime = fromPgTimePtr(start)
	ev.EndTime = fromPgTimePtr(end)
}

func scanCalendarEvent(row pgx.Row) (*CalendarEvent, error) {
	var ev CalendarEvent
	var date pgtype.Date
	var start, end pgtype.Time

	if err := row.Scan(eventTargets(&ev, &date, &start, &end)...); err != nil {
		return nil, notFound(err, ErrCalendarEventNotFound)
	}
	fillEvent(&ev, date, start, end)
	return &ev, nil
}

func scanAppointmentRecord(row pgx.Row) (*AppointmentRecord, error) {
	var rec AppointmentRecord
	var date pgtype.Date
	var start, end pgtype.Time

	a := &rec.Appointment
	targets := append(eventTargets(&rec.Event, &date, &start, &end),
		&a.PatientID, &a.AppointmentTypeID, &a.Status, &a.IsAutoAssigned, &a.OriginallyAutoAssigned,
		&a.ReassignedByUserID, &a.ReassignedAt, &a.Notes, &a.ClinicNotes, &a.CanceledAt,
		&rec.BufferMinutes,
	)
	if err := row.Scan(targets...); err != nil {
		return nil, notFound(err, ErrAppointmentNotFound)
	}
	fillEvent(&rec.Event, date, start, end)
	a.CalendarEventID = rec.Event.ID
	return &rec, nil
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	if err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &p.Active); err != nil {
		return nil, notFound(err, ErrPractitionerNotFound)
	}
	return &p, nil
}

func scanResource(row pgx.Row) (*Resource, error) {
	var r Resource
	if err := row.Scan(&r.ID, &r.ClinicID, &r.ResourceTypeID, &r.Name, &r.Deleted); err != nil {
		return nil, notFound(err, ErrResourceNotFound)
	}
	return &r, nil
}

func scanAvailability(row pgx.Row) (*PractitionerAvailability, error) {
	var a PractitionerAvailability
	var start, end pgtype.Time
	if err := row.Scan(&a.ID, &a.PractitionerID, &a.ClinicID, &a.DayOfWeek, &start, &end); err != nil {
		return nil, err
	}
	a.StartTime = fromPgTime(start)
	a.EndTime = fromPgTime(end)
	return &a, nil
}

// collect drains rows through scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Reader

func (r pgReader) GetClinicSettings(ctx context.Context, clinicID int64) (*ClinicSettings, error) {
	var s ClinicSettings
	err := r.q.QueryRow(ctx, `
		SELECT minimum_booking_hours_ahead, max_future_appointments,
		       max_booking_window_days, minimum_cancellation_hours_before
		FROM clinics
		WHERE id = $1
	`, clinicID).Scan(&s.MinimumBookingHoursAhead, &s.MaxFutureAppointments, &s.MaxBookingWindowDays, &s.MinimumCancellationHoursBefore)
	if err != nil {
		return nil, notFound(err, ErrClinicNotFound)
	}
	return &s, nil
}

func (r pgReader) GetPractitioner(ctx context.Context, clinicID, id int64) (*Practitioner, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, clinic_id, name, active
		FROM practitioners
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id)
	return scanPractitioner(row)
}

func (r pgReader) GetPatient(ctx context.Context, clinicID, id int64) (*Patient, error) {
	var p Patient
	err := r.q.QueryRow(ctx, `
		SELECT id, clinic_id, name, active
		FROM patients
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id).Scan(&p.ID, &p.ClinicID, &p.Name, &p.Active)
	if err != nil {
		return nil, notFound(err, ErrPatientNotFound)
	}
	return &p, nil
}

func (r pgReader) GetAppointmentType(ctx context.Context, clinicID, id int64) (*AppointmentType, error) {
	var t AppointmentType
	err := r.q.QueryRow(ctx, `
		SELECT id, clinic_id, name, duration_minutes, scheduling_buffer_minutes, enabled, deleted
		FROM appointment_types
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id).Scan(&t.ID, &t.ClinicID, &t.Name, &t.DurationMinutes, &t.SchedulingBufferMinutes, &t.Enabled, &t.Deleted)
	if err != nil {
		return nil, notFound(err, ErrAppointmentTypeNotFound)
	}
	return &t, nil
}

func (r pgReader) ListEligiblePractitioners(ctx context.Context, clinicID, appointmentTypeID int64) ([]Practitioner, error) {
	rows, err := r.q.Query(ctx, `
		SELECT p.id, p.clinic_id, p.name, p.active
		FROM practitioners p
		JOIN practitioner_appointment_types pat ON pat.practitioner_id = p.id
		WHERE p.clinic_id = $1
		  AND pat.appointment_type_id = $2
		  AND p.active
		ORDER BY p.id
	`, clinicID, appointmentTypeID)
	if err != nil {
		return nil, fmt.Errorf("list eligible practitioners: %w", err)
	}
	return collect(rows, scanPractitioner)
}

func (r pgReader) ListDefaultAvailability(ctx context.Context, clinicID, practitionerID int64) ([]PractitionerAvailability, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, practitioner_id, clinic_id, day_of_week, start_time, end_time
		FROM practitioner_availability
		WHERE clinic_id = $1 AND practitioner_id = $2
		ORDER BY day_of_week, start_time
	`, clinicID, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("list default availability: %w", err)
	}
	return collect(rows, scanAvailability)
}

func (r pgReader) ListAppointmentsOnDates(ctx context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]AppointmentRecord, error) {
	rows, err := r.q.Query(ctx, appointmentSelect+`
		WHERE ce.clinic_id = $1
		  AND ce.practitioner_id = ANY($2)
		  AND ce.date BETWEEN $3 AND $4
		  AND a.status IN ('confirmed', 'pending')
		ORDER BY ce.date, ce.start_time, ce.id
	`, clinicID, practitionerIDs, pgDate(from), pgDate(to))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collect(rows, scanAppointmentRecord)
}

func (r pgReader) ListExceptions(ctx context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]CalendarEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM calendar_events ce
		JOIN availability_exceptions ax ON ax.calendar_event_id = ce.id
		WHERE ce.clinic_id = $1
		  AND ce.practitioner_id = ANY($2)
		  AND ce.date BETWEEN $3 AND $4
		ORDER BY ce.date, ce.start_time NULLS FIRST, ce.id
	`, clinicID, practitionerIDs, pgDate(from), pgDate(to))
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	return collect(rows, scanCalendarEvent)
}

func (r pgReader) GetAppointment(ctx context.Context, clinicID, calendarEventID int64) (*AppointmentRecord, error) {
	row := r.q.QueryRow(ctx, appointmentSelect+`
		WHERE ce.clinic_id = $1 AND ce.id = $2
	`, clinicID, calendarEventID)
	return scanAppointmentRecord(row)
}

func (r pgReader) GetCalendarEvent(ctx context.Context, clinicID, id int64) (*CalendarEvent, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM calendar_events ce
		WHERE ce.clinic_id = $1 AND ce.id = $2
	`, clinicID, id)
	return scanCalendarEvent(row)
}

func (r pgReader) ListResourceRequirements(ctx context.Context, clinicID, appointmentTypeID int64) ([]ResourceRequirement, error) {
	rows, err := r.q.Query(ctx, `
		SELECT req.appointment_type_id, req.resource_type_id, rt.name, req.quantity
		FROM appointment_resource_requirements req
		JOIN resource_types rt ON rt.id = req.resource_type_id
		WHERE rt.clinic_id = $1 AND req.appointment_type_id = $2
		ORDER BY req.resource_type_id
	`, clinicID, appointmentTypeID)
	if err != nil {
		return nil, fmt.Errorf("list resource requirements: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*ResourceRequirement, error) {
		var req ResourceRequirement
		if err := row.Scan(&req.AppointmentTypeID, &req.ResourceTypeID, &req.ResourceTypeName, &req.Quantity); err != nil {
			return nil, err
		}
		return &req, nil
	})
}

func (r pgReader) ListResources(ctx context.Context, clinicID int64, resourceTypeIDs []int64) ([]Resource, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, clinic_id, resource_type_id, name, deleted
		FROM resources
		WHERE clinic_id = $1
		  AND resource_type_id = ANY($2)
		  AND NOT deleted
		ORDER BY id
	`, clinicID, resourceTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return collect(rows, scanResource)
}

func (r pgReader) GetResource(ctx context.Context, clinicID, id int64) (*Resource, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, clinic_id, resource_type_id, name, deleted
		FROM resources
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id)
	return scanResource(row)
}

func (r pgReader) ListAllocationsOnDates(ctx context.Context, clinicID int64, from, to time.Time) ([]AllocationRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT ara.resource_id, res.resource_type_id, ara.calendar_event_id, ce.date, ce.start_time, ce.end_time
		FROM appointment_resource_allocations ara
		JOIN resources res ON res.id = ara.resource_id
		JOIN calendar_events ce ON ce.id = ara.calendar_event_id
		JOIN appointments a ON a.calendar_event_id = ce.id
		WHERE ce.clinic_id = $1
		  AND ce.date BETWEEN $2 AND $3
		  AND a.status IN ('confirmed', 'pending')
	`, clinicID, pgDate(from), pgDate(to))
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*AllocationRecord, error) {
		var a AllocationRecord
		var date pgtype.Date
		var start, end pgtype.Time
		if err := row.Scan(&a.ResourceID, &a.ResourceTypeID, &a.CalendarEventID, &date, &start, &end); err != nil {
			return nil, err
		}
		a.Date = date.Time
		a.Interval = timeutil.Interval{Start: fromPgTime(start), End: fromPgTime(end)}
		return &a, nil
	})
}

func (r pgReader) ListAllocatedResourceIDs(ctx context.Context, clinicID, calendarEventID int64) ([]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT ara.resource_id
		FROM appointment_resource_allocations ara
		JOIN calendar_events ce ON ce.id = ara.calendar_event_id
		WHERE ce.clinic_id = $1 AND ara.calendar_event_id = $2
		ORDER BY ara.resource_id
	`, clinicID, calendarEventID)
	if err != nil {
		return nil, fmt.Errorf("list allocated resources: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r pgReader) CountFutureAppointments(ctx context.Context, clinicID int64, practitionerIDs []int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (map[int64]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT ce.practitioner_id, COUNT(*)
		FROM calendar_events ce
		JOIN appointments a ON a.calendar_event_id = ce.id
		WHERE ce.clinic_id = $1
		  AND ce.practitioner_id = ANY($2)
		  AND a.status = 'confirmed'
		  AND (ce.date > $3 OR (ce.date = $3 AND ce.start_time >= $4))
		GROUP BY ce.practitioner_id
	`, clinicID, practitionerIDs, pgDate(fromDate), pgTime(fromTime))
	if err != nil {
		return nil, fmt.Errorf("count future appointments: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int, len(practitionerIDs))
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r pgReader) CountPatientFutureAppointments(ctx context.Context, clinicID, patientID int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM calendar_events ce
		JOIN appointments a ON a.calendar_event_id = ce.id
		WHERE ce.clinic_id = $1
		  AND a.patient_id = $2
		  AND a.status IN ('confirmed', 'pending')
		  AND (ce.date > $3 OR (ce.date = $3 AND ce.start_time >= $4))
	`, clinicID, patientID, pgDate(fromDate), pgTime(fromTime)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count patient appointments: %w", err)
	}
	return n, nil
}

// Tx

func (t *pgTx) LockPractitionerDay(ctx context.Context, practitionerID int64, date time.Time) error {
	key := fmt.Sprintf("practitioner:%d:%s", practitionerID, timeutil.FormatDate(date))
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (t *pgTx) LockPatient(ctx context.Context, clinicID, patientID int64) error {
	key := fmt.Sprintf("patient:%d:%d", clinicID, patientID)
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("patient lock: %w", err)
	}
	return nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, clinicID, calendarEventID int64) (*AppointmentRecord, error) {
	row := t.q.QueryRow(ctx, appointmentSelect+`
		WHERE ce.clinic_id = $1 AND ce.id = $2
		FOR UPDATE OF ce, a
	`, clinicID, calendarEventID)
	return scanAppointmentRecord(row)
}

func (t *pgTx) InsertCalendarEvent(ctx context.Context, ev *CalendarEvent) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO calendar_events
			(practitioner_id, clinic_id, event_type, date, start_time, end_time,
			 custom_event_name, external_calendar_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`, ev.PractitionerID, ev.ClinicID, ev.EventType, pgDate(ev.Date), pgTimePtr(ev.StartTime), pgTimePtr(ev.EndTime),
		ev.CustomEventName, ev.ExternalCalendarRef, ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert calendar event: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateCalendarEvent(ctx context.Context, ev *CalendarEvent) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE calendar_events
		SET practitioner_id = $3,
		    date = $4,
		    start_time = $5,
		    end_time = $6,
		    custom_event_name = $7,
		    external_calendar_ref = $8,
		    updated_at = $9
		WHERE clinic_id = $1 AND id = $2
	`, ev.ClinicID, ev.ID, ev.PractitionerID, pgDate(ev.Date), pgTimePtr(ev.StartTime), pgTimePtr(ev.EndTime),
		ev.CustomEventName, ev.ExternalCalendarRef, ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCalendarEventNotFound
	}
	return nil
}

func (t *pgTx) DeleteCalendarEvent(ctx context.Context, clinicID, id int64) error {
	tag, err := t.q.Exec(ctx, `
		DELETE FROM calendar_events
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCalendarEventNotFound
	}
	return nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *Appointment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments
			(calendar_event_id, patient_id, appointment_type_id, status, is_auto_assigned,
			 originally_auto_assigned, reassigned_by_user_id, reassigned_at, notes, clinic_notes, canceled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, appt.CalendarEventID, appt.PatientID, appt.AppointmentTypeID, appt.Status, appt.IsAutoAssigned,
		appt.OriginallyAutoAssigned, appt.ReassignedByUserID, appt.ReassignedAt, appt.Notes, appt.ClinicNotes, appt.CanceledAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// UpdateAppointment never touches originally_auto_assigned.
func (t *pgTx) UpdateAppointment(ctx context.Context, appt *Appointment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    is_auto_assigned = $3,
		    reassigned_by_user_id = $4,
		    reassigned_at = $5,
		    notes = $6,
		    clinic_notes = $7,
		    canceled_at = $8
		WHERE calendar_event_id = $1
	`, appt.CalendarEventID, appt.Status, appt.IsAutoAssigned, appt.ReassignedByUserID, appt.ReassignedAt,
		appt.Notes, appt.ClinicNotes, appt.CanceledAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) InsertAvailabilityException(ctx context.Context, calendarEventID int64) error {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO availability_exceptions (calendar_event_id) VALUES ($1)
	`, calendarEventID); err != nil {
		return fmt.Errorf("insert availability exception: %w", err)
	}
	return nil
}

// ReplaceAllocations deletes and reinserts the allocation set so readers
// never see a partial one. Resources outside the clinic are ignored.
func (t *pgTx) ReplaceAllocations(ctx context.Context, clinicID, calendarEventID int64, resourceIDs []int64) error {
	if _, err := t.q.Exec(ctx, `
		DELETE FROM appointment_resource_allocations
		WHERE calendar_event_id = $1
	`, calendarEventID); err != nil {
		return fmt.Errorf("clear allocations: %w", err)
	}
	if len(resourceIDs) == 0 {
		return nil
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO appointment_resource_allocations (calendar_event_id, resource_id)
		SELECT $1, res.id
		FROM resources res
		WHERE res.clinic_id = $2 AND res.id = ANY($3)
	`, calendarEventID, clinicID, resourceIDs); err != nil {
		return fmt.Errorf("insert allocations: %w", err)
	}
	return nil
}

func (t *pgTx) ReplaceDefaultAvailability(ctx context.Context, clinicID, practitionerID int64, dayOfWeek int, intervals []timeutil.Interval) ([]PractitionerAvailability, error) {
	if _, err := t.q.Exec(ctx, `
		DELETE FROM practitioner_availability
		WHERE clinic_id = $1 AND practitioner_id = $2 AND day_of_week = $3
	`, clinicID, practitionerID, dayOfWeek); err != nil {
		return nil, fmt.Errorf("clear default availability: %w", err)
	}

	saved := make([]PractitionerAvailability, 0, len(intervals))
	for _, iv := range intervals {
		row := t.q.QueryRow(ctx, `
			INSERT INTO practitioner_availability (practitioner_id, clinic_id, day_of_week, start_time, end_time)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, practitioner_id, clinic_id, day_of_week, start_time, end_time
		`, practitionerID, clinicID, dayOfWeek, pgTime(iv.Start), pgTime(iv.End))
		a, err := scanAvailability(row)
		if err != nil {
			return nil, fmt.Errorf("insert default availability: %w", err)
		}
		saved = append(saved, *a)
	}
	return saved, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO scheduling_events (clinic_id, event_type, calendar_event_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.ClinicID, ev.EventType, ev.CalendarEventID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
