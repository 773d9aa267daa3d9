package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

var schedulingTracer = otel.Tracer("clinic.internal.scheduling")

// ConflictType is the single highest-priority conflict label of a report.
type ConflictType string

const (
	ConflictNone            ConflictType = ""
	ConflictPastAppointment ConflictType = "past_appointment"
	ConflictAppointment     ConflictType = "appointment"
	ConflictException       ConflictType = "exception"
	ConflictAvailability    ConflictType = "availability"
	ConflictResource        ConflictType = "resource"
)

func (c ConflictType) MarshalJSON() ([]byte, error) {
	if c == ConflictNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

func (c *ConflictType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ConflictNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = ConflictType(s)
	return nil
}

const (
	ReasonOutsideDefaultHours   = "outside_default_hours"
	ReasonNoDefaultAvailability = "no_default_availability"
)

type AppointmentConflict struct {
	CalendarEventID   int64              `json:"calendar_event_id"`
	PatientID         int64              `json:"patient_id"`
	AppointmentTypeID int64              `json:"appointment_type_id"`
	StartTime         timeutil.TimeOfDay `json:"start_time"`
	EndTime           timeutil.TimeOfDay `json:"end_time"`
	Status            AppointmentStatus  `json:"status"`
}

type ExceptionConflict struct {
	CalendarEventID int64               `json:"calendar_event_id"`
	StartTime       *timeutil.TimeOfDay `json:"start_time"`
	EndTime         *timeutil.TimeOfDay `json:"end_time"`
	IsAllDay        bool                `json:"is_all_day"`
	Name            *string             `json:"name,omitempty"`
}

type AvailabilityConflict struct {
	Reason           string              `json:"reason"`
	DefaultIntervals []timeutil.Interval `json:"default_intervals"`
}

type ResourceConflict struct {
	ResourceTypeID   int64  `json:"resource_type_id"`
	ResourceTypeName string `json:"resource_type_name"`
	Required         int    `json:"required"`
	Available        int    `json:"available"`
}

// ConflictReport carries every detected conflict. ConflictType names only the
// highest-priority one: past_appointment > appointment > exception >
// availability > resource.
type ConflictReport struct {
	HasConflict          bool                  `json:"has_conflict"`
	ConflictType         ConflictType          `json:"conflict_type"`
	IsPast               bool                  `json:"is_past"`
	PractitionerID       int64                 `json:"practitioner_id"`
	Date                 string                `json:"date"`
	StartTime            timeutil.TimeOfDay    `json:"start_time"`
	EndTime              timeutil.TimeOfDay    `json:"end_time"`
	AppointmentConflicts []AppointmentConflict `json:"appointment_conflicts"`
	ExceptionConflicts   []ExceptionConflict   `json:"exception_conflicts"`
	AvailabilityConflict *AvailabilityConflict `json:"availability_conflict"`
	ResourceConflicts    []ResourceConflict    `json:"resource_conflicts"`
}

func (r *ConflictReport) resolve() {
	types := r.Types()
	r.HasConflict = len(types) > 0
	r.ConflictType = ConflictNone
	if r.HasConflict {
		r.ConflictType = types[0]
	}
}

// Types lists every detected conflict type in priority order.
func (r ConflictReport) Types() []ConflictType {
	var out []ConflictType
	if r.IsPast {
		out = append(out, ConflictPastAppointment)
	}
	if len(r.AppointmentConflicts) > 0 {
		out = append(out, ConflictAppointment)
	}
	if len(r.ExceptionConflicts) > 0 {
		out = append(out, ConflictException)
	}
	if r.AvailabilityConflict != nil {
		out = append(out, ConflictAvailability)
	}
	if len(r.ResourceConflicts) > 0 {
		out = append(out, ConflictResource)
	}
	return out
}

// conflictPolicy decides which detected conflicts block a write.
// Past time and appointment overlap always block.
type conflictPolicy struct {
	overrideAvailability bool
	strictResources      bool
}

var blockEverything = conflictPolicy{strictResources: true}

func (p conflictPolicy) blocking(r ConflictReport) bool {
	if r.IsPast || len(r.AppointmentConflicts) > 0 {
		return true
	}
	if !p.overrideAvailability && (len(r.ExceptionConflicts) > 0 || r.AvailabilityConflict != nil) {
		return true
	}
	return p.strictResources && len(r.ResourceConflicts) > 0
}

// ConflictQuery is the candidate booking to check. ExcludeCalendarEventID
// (0 for none) lets an appointment be checked against everything but itself.
type ConflictQuery struct {
	ClinicID               int64
	PractitionerID         int64
	AppointmentTypeID      int64
	Date                   time.Time
	StartTime              timeutil.TimeOfDay
	ExcludeCalendarEventID int64
	CheckPastAppointment   bool
}

func (q ConflictQuery) validate() error {
	if q.ClinicID <= 0 {
		return apperrors.Validation("invalid_clinic_id", "clinic_id is required")
	}
	if q.PractitionerID <= 0 {
		return apperrors.Validation("invalid_practitioner_id", "practitioner_id is required")
	}
	if q.AppointmentTypeID <= 0 {
		return apperrors.Validation("invalid_appointment_type_id", "appointment_type_id is required")
	}
	if q.Date.IsZero() {
		return apperrors.Validation("invalid_date", "date is required")
	}
	return validateStartTime(q.StartTime)
}

func validateStartTime(t timeutil.TimeOfDay) error {
	if t < 0 || t >= timeutil.MinutesPerDay {
		return apperrors.Validationf("invalid_start_time", "start_time %s is outside the day", t)
	}
	return nil
}

// validateFitsDay rejects a start whose nominal end runs past midnight.
// Calendar events never span two dates.
func validateFitsDay(t AppointmentType, start timeutil.TimeOfDay) error {
	if start.Add(t.DurationMinutes) > timeutil.MinutesPerDay {
		return apperrors.Validationf("crosses_midnight",
			"a %d minute appointment starting at %s would end after midnight", t.DurationMinutes, start)
	}
	return nil
}

type EngineConfig struct {
	Clock                  timeutil.Clock
	Location               *time.Location
	SlotGranularityMinutes int
	Logger                 zerolog.Logger
	Metrics                *metrics.SchedulingMetrics
}

// Engine answers availability questions: conflicts, slots, auto-assignment
// and resource feasibility. It holds no state between calls.
type Engine struct {
	store       Reader
	clock       timeutil.Clock
	loc         *time.Location
	granularity int
	logger      zerolog.Logger
	metrics     *metrics.SchedulingMetrics
}

const DefaultSlotGranularityMinutes = 15

func NewEngine(store Reader, cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotGranularityMinutes <= 0 {
		cfg.SlotGranularityMinutes = DefaultSlotGranularityMinutes
	}
	return &Engine{
		store:       store,
		clock:       cfg.Clock,
		loc:         cfg.Location,
		granularity: cfg.SlotGranularityMinutes,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// using returns a copy of the engine reading through r, typically a Tx.
func (e *Engine) using(r Reader) *Engine {
	c := *e
	c.store = r
	return &c
}

func (e *Engine) Location() *time.Location { return e.loc }

// CheckSchedulingConflicts computes the layered conflict verdict for one
// candidate booking.
func (e *Engine) CheckSchedulingConflicts(ctx context.Context, q ConflictQuery) (*ConflictReport, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.check_conflicts")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("clinic.id", q.ClinicID),
		attribute.Int64("practitioner.id", q.PractitionerID),
	)

	if err := q.validate(); err != nil {
		return nil, err
	}
	date := timeutil.DateFromYMD(q.Date, e.loc)

	apptType, err := e.bookableType(ctx, q.ClinicID, q.AppointmentTypeID, q.ExcludeCalendarEventID)
	if err != nil {
		return nil, err
	}
	if err := validateFitsDay(*apptType, q.StartTime); err != nil {
		return nil, err
	}
	if _, err := e.practitioner(ctx, q.ClinicID, q.PractitionerID); err != nil {
		return nil, err
	}

	snap, err := e.loadSnapshot(ctx, q.ClinicID, *apptType, []int64{q.PractitionerID}, []time.Time{date})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	checks := allChecks
	checks.past = q.CheckPastAppointment
	report := snap.evaluate(q.PractitionerID, candidate{date: date, start: q.StartTime, exclude: q.ExcludeCalendarEventID}, checks, e.clock.Now())
	e.metrics.ObserveConflict(string(report.ConflictType))
	return &report, nil
}

// CheckSchedulingConflictsBatch runs CheckSchedulingConflicts for each query
// and returns the reports in input order.
func (e *Engine) CheckSchedulingConflictsBatch(ctx context.Context, queries []ConflictQuery) ([]ConflictReport, error) {
	reports := make([]ConflictReport, 0, len(queries))
	for i, q := range queries {
		report, err := e.CheckSchedulingConflicts(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (e *Engine) appointmentType(ctx context.Context, clinicID, id int64) (*AppointmentType, error) {
	t, err := e.store.GetAppointmentType(ctx, clinicID, id)
	if err != nil {
		return nil, lookupError(err, "appointment type")
	}
	return t, nil
}

// bookableType loads a type for a booking question. Soft-deleted or disabled
// types read as missing, except when an existing appointment (exclude != 0)
// is being moved.
func (e *Engine) bookableType(ctx context.Context, clinicID, id, exclude int64) (*AppointmentType, error) {
	t, err := e.appointmentType(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if exclude == 0 && !t.Bookable() {
		return nil, apperrors.NotFound("appointment_type_unavailable", ErrAppointmentTypeNotFound)
	}
	return t, nil
}

func (e *Engine) practitioner(ctx context.Context, clinicID, id int64) (*Practitioner, error) {
	p, err := e.store.GetPractitioner(ctx, clinicID, id)
	if err != nil {
		return nil, lookupError(err, "practitioner")
	}
	if !p.Active {
		return nil, apperrors.NotFound("practitioner_inactive", ErrPractitionerNotFound)
	}
	return p, nil
}

// lookupError turns repository sentinels into NotFound errors and anything
// else into an internal error.
func lookupError(err error, what string) error {
	sentinels := []struct {
		err  error
		code string
	}{
		{ErrClinicNotFound, "clinic_not_found"},
		{ErrPatientNotFound, "patient_not_found"},
		{ErrPractitionerNotFound, "practitioner_not_found"},
		{ErrAppointmentTypeNotFound, "appointment_type_not_found"},
		{ErrAppointmentNotFound, "appointment_not_found"},
		{ErrCalendarEventNotFound, "calendar_event_not_found"},
		{ErrResourceNotFound, "resource_not_found"},
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return apperrors.NotFound(s.code, err)
		}
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Internal("load "+what, err)
}
