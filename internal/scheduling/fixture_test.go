package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// fixture is a clinic in Asia/Taipei with two practitioners working
// 09:00-17:00 Monday to Friday. The clock sits on Thursday 2026-10-15 08:00.
type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *MemStore
	clock   *timeutil.FixedClock
	loc     *time.Location
	engine  *Engine
	svc     *Service
	avail   *AvailabilityService
	effects *recordingEffects

	clinic  int64
	drA     int64
	drB     int64
	patient int64
	consult int64 // 30 minutes, no buffer
	monday  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := timeutil.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	store := NewMemStore()
	clinic := store.AddClinic("Downtown", ClinicSettings{})
	drA := store.AddPractitioner(clinic, "Dr. A")
	drB := store.AddPractitioner(clinic, "Dr. B")
	patient := store.AddPatient(clinic, "Pat")
	consult := store.AddAppointmentType(AppointmentType{
		ClinicID:        clinic,
		Name:            "Consultation",
		DurationMinutes: 30,
		Enabled:         true,
	}, drA, drB)
	workday := timeutil.Interval{Start: timeutil.NewTimeOfDay(9, 0), End: timeutil.NewTimeOfDay(17, 0)}
	store.AddWeeklyAvailability(clinic, drA, workday)
	store.AddWeeklyAvailability(clinic, drB, workday)

	clock := timeutil.NewFixedClock(time.Date(2026, 10, 15, 8, 0, 0, 0, loc))
	engine := NewEngine(store, EngineConfig{Clock: clock, Location: loc, Logger: zerolog.Nop()})
	effects := &recordingEffects{}
	sideEffects := NewSideEffects(effects, effects, zerolog.Nop(), nil)
	svc := NewService(store, engine, redisclient.NewLocalLocker(2*time.Second), sideEffects, zerolog.Nop(), nil)

	monday, err := timeutil.ParseDate("2026-10-19", loc)
	require.NoError(t, err)

	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		clock:   clock,
		loc:     loc,
		engine:  engine,
		svc:     svc,
		avail:   NewAvailabilityService(store, engine, zerolog.Nop()),
		effects: effects,
		clinic:  clinic,
		drA:     drA,
		drB:     drB,
		patient: patient,
		consult: consult,
		monday:  monday,
	}
}

func at(hour, minute int) timeutil.TimeOfDay {
	return timeutil.NewTimeOfDay(hour, minute)
}

func (f *fixture) book(practitionerID int64, date time.Time, start timeutil.TimeOfDay) *CreateResult {
	f.t.Helper()
	res, err := f.svc.CreateAppointment(f.ctx, CreateRequest{
		ClinicID:          f.clinic,
		PatientID:         f.patient,
		AppointmentTypeID: f.consult,
		PractitionerID:    practitionerID,
		Date:              date,
		StartTime:         start,
		WriteOptions:      WriteOptions{Origin: OriginClinic},
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) addType(name string, duration, buffer int) int64 {
	return f.store.AddAppointmentType(AppointmentType{
		ClinicID:                f.clinic,
		Name:                    name,
		DurationMinutes:         duration,
		SchedulingBufferMinutes: buffer,
		Enabled:                 true,
	}, f.drA, f.drB)
}

// recordingEffects is both collaborators. fail and panic switch the
// corresponding failure modes on.
type recordingEffects struct {
	mu      sync.Mutex
	changes []AppointmentChange
	synced  []AppointmentChange
	fail    bool
	panic   bool
}

func (r *recordingEffects) NotifyAppointmentChange(_ context.Context, change AppointmentChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic {
		panic("notifier exploded")
	}
	if r.fail {
		return errors.New("notifier down")
	}
	r.changes = append(r.changes, change)
	return nil
}

func (r *recordingEffects) SyncAppointmentChange(_ context.Context, change AppointmentChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("calendar down")
	}
	r.synced = append(r.synced, change)
	return nil
}

func (r *recordingEffects) notified() []AppointmentChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AppointmentChange(nil), r.changes...)
}

// serviceOn builds a service over store, sharing the fixture's engine and
// effects. A nil locker gets a process-local one.
func (f *fixture) serviceOn(store Store, locker redisclient.Locker) *Service {
	if locker == nil {
		locker = redisclient.NewLocalLocker(2 * time.Second)
	}
	return NewService(store, f.engine, locker, NewSideEffects(f.effects, f.effects, zerolog.Nop(), nil), zerolog.Nop(), nil)
}

// retire soft-deletes and disables an appointment type in place.
func (f *fixture) retire(typeID int64) {
	f.store.update(func(d *memData) {
		t := d.types[typeID]
		t.Enabled = false
		t.Deleted = true
		d.types[typeID] = t
	})
}

// tracingStore records lock and read calls made inside transactions, and
// runs before (once) ahead of the next transaction.
type tracingStore struct {
	Store
	mu     sync.Mutex
	calls  []string
	before func()
}

func (s *tracingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *tracingStore) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *tracingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	hook := s.before
	s.before = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &tracingTx{Tx: tx, store: s})
	})
}

type tracingTx struct {
	Tx
	store *tracingStore
}

func (t *tracingTx) LockPractitionerDay(ctx context.Context, practitionerID int64, date time.Time) error {
	t.store.record("lock_practitioner_day")
	return t.Tx.LockPractitionerDay(ctx, practitionerID, date)
}

func (t *tracingTx) LockPatient(ctx context.Context, clinicID, patientID int64) error {
	t.store.record("lock_patient")
	return t.Tx.LockPatient(ctx, clinicID, patientID)
}

func (t *tracingTx) CountPatientFutureAppointments(ctx context.Context, clinicID, patientID int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (int, error) {
	t.store.record("count_patient_appointments")
	return t.Tx.CountPatientFutureAppointments(ctx, clinicID, patientID, fromDate, fromTime)
}

func (t *tracingTx) ListAppointmentsOnDates(ctx context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]AppointmentRecord, error) {
	t.store.record("list_appointments")
	return t.Tx.ListAppointmentsOnDates(ctx, clinicID, practitionerIDs, from, to)
}

type tracingLocker struct {
	redisclient.Locker
	store *tracingStore
}

func (l *tracingLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.store.record("locker " + key)
	return l.Locker.WithLock(ctx, key, fn)
}
