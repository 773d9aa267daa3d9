package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// AvailabilityService manages a practitioner's recurring weekly hours and
// one-off exceptions.
type AvailabilityService struct {
	store  Store
	engine *Engine
	logger zerolog.Logger
}

func NewAvailabilityService(store Store, engine *Engine, logger zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{store: store, engine: engine, logger: logger}
}

type DayAvailability struct {
	DayOfWeek int                 `json:"day_of_week"`
	Intervals []timeutil.Interval `json:"intervals"`
}

// SetDefaultAvailability replaces one weekday's intervals. Intervals must not
// overlap each other; an empty list clears the day.
func (a *AvailabilityService) SetDefaultAvailability(ctx context.Context, clinicID, practitionerID int64, dayOfWeek int, intervals []timeutil.Interval) (*DayAvailability, error) {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return nil, apperrors.Validationf("invalid_day_of_week", "day_of_week must be 0 (Monday) to 6 (Sunday), got %d", dayOfWeek)
	}
	for _, iv := range intervals {
		if !iv.Start.Before(iv.End) || iv.Start < 0 || iv.End > timeutil.MinutesPerDay {
			return nil, apperrors.Validationf("invalid_interval", "interval %s is not a valid range within the day", iv)
		}
	}
	if i, j := timeutil.FirstOverlap(intervals); i >= 0 {
		return nil, apperrors.Validationf("overlapping_intervals", "intervals %s and %s overlap", intervals[i], intervals[j])
	}
	if _, err := a.engine.practitioner(ctx, clinicID, practitionerID); err != nil {
		return nil, err
	}

	now := a.engine.clock.Now()
	var saved []PractitionerAvailability
	err := a.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		saved, err = tx.ReplaceDefaultAvailability(ctx, clinicID, practitionerID, dayOfWeek, intervals)
		if err != nil {
			return apperrors.Internal("replace default availability", err)
		}
		return recordEvent(ctx, tx, clinicID, EventAvailabilityReplaced, 0, now, map[string]any{
			"practitioner_id": practitionerID,
			"day_of_week":     dayOfWeek,
			"intervals":       intervals,
		})
	})
	if err != nil {
		return nil, err
	}

	day := &DayAvailability{DayOfWeek: dayOfWeek, Intervals: []timeutil.Interval{}}
	for _, s := range saved {
		day.Intervals = append(day.Intervals, s.Interval())
	}
	sort.Slice(day.Intervals, func(i, j int) bool { return day.Intervals[i].Start < day.Intervals[j].Start })
	return day, nil
}

// ListDefaultAvailability returns all seven weekdays, Monday first.
func (a *AvailabilityService) ListDefaultAvailability(ctx context.Context, clinicID, practitionerID int64) ([]DayAvailability, error) {
	if _, err := a.engine.practitioner(ctx, clinicID, practitionerID); err != nil {
		return nil, err
	}
	rows, err := a.store.ListDefaultAvailability(ctx, clinicID, practitionerID)
	if err != nil {
		return nil, apperrors.Internal("load default availability", err)
	}
	week := make([]DayAvailability, 7)
	for d := range week {
		week[d] = DayAvailability{DayOfWeek: d, Intervals: []timeutil.Interval{}}
	}
	for _, r := range rows {
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			continue
		}
		week[r.DayOfWeek].Intervals = append(week[r.DayOfWeek].Intervals, r.Interval())
	}
	for d := range week {
		ivs := week[d].Intervals
		sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
	}
	return week, nil
}

type ExceptionRequest struct {
	ClinicID       int64
	PractitionerID int64
	Date           time.Time
	// Both nil blocks the whole day.
	StartTime *timeutil.TimeOfDay
	EndTime   *timeutil.TimeOfDay
	Name      *string
}

func (r ExceptionRequest) validate() error {
	if r.ClinicID <= 0 || r.PractitionerID <= 0 {
		return apperrors.Validation("invalid_practitioner_id", "clinic_id and practitioner_id are required")
	}
	if r.Date.IsZero() {
		return apperrors.Validation("invalid_date", "date is required")
	}
	if (r.StartTime == nil) != (r.EndTime == nil) {
		return apperrors.Validation("invalid_time_range", "start_time and end_time must both be set or both be empty")
	}
	if r.StartTime != nil {
		if _, err := timeutil.NewInterval(*r.StartTime, *r.EndTime); err != nil {
			return apperrors.Validation("invalid_time_range", err.Error())
		}
		if *r.EndTime > timeutil.MinutesPerDay {
			return apperrors.Validation("invalid_time_range", "end_time is past the end of the day")
		}
	}
	return nil
}

func (r ExceptionRequest) interval() timeutil.Interval {
	if r.StartTime == nil {
		return timeutil.WholeDay
	}
	return timeutil.Interval{Start: *r.StartTime, End: *r.EndTime}
}

type ExceptionResult struct {
	Exception CalendarEntry `json:"exception"`
	// Appointments left in place that now sit inside the exception.
	ConflictingAppointments []AppointmentConflict `json:"conflicting_appointments"`
}

// CreateException always creates the exception. Overlapping appointments are
// not touched; they are reported back as a soft conflict.
func (a *AvailabilityService) CreateException(ctx context.Context, req ExceptionRequest) (*ExceptionResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if _, err := a.engine.practitioner(ctx, req.ClinicID, req.PractitionerID); err != nil {
		return nil, err
	}
	loc := a.engine.loc
	date := timeutil.DateFromYMD(req.Date, loc)
	now := a.engine.clock.Now()

	var result *ExceptionResult
	err := a.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockPractitionerDay(ctx, req.PractitionerID, date); err != nil {
			return apperrors.Internal("lock practitioner day", err)
		}
		ev := &CalendarEvent{
			PractitionerID:  req.PractitionerID,
			ClinicID:        req.ClinicID,
			EventType:       EventTypeAvailabilityException,
			Date:            date,
			StartTime:       req.StartTime,
			EndTime:         req.EndTime,
			CustomEventName: req.Name,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertCalendarEvent(ctx, ev); err != nil {
			return apperrors.Internal("insert calendar event", err)
		}
		if err := tx.InsertAvailabilityException(ctx, ev.ID); err != nil {
			return apperrors.Internal("insert availability exception", err)
		}

		overlapping, err := overlappingAppointments(ctx, tx, req.ClinicID, req.PractitionerID, date, req.interval())
		if err != nil {
			return err
		}
		if err := recordEvent(ctx, tx, req.ClinicID, EventExceptionCreated, ev.ID, now, map[string]any{
			"practitioner_id":          req.PractitionerID,
			"date":                     timeutil.FormatDate(date),
			"overlapping_appointments": len(overlapping),
		}); err != nil {
			return err
		}
		result = &ExceptionResult{
			Exception: CalendarEntry{
				CalendarEventID: ev.ID,
				EventType:       EventTypeAvailabilityException,
				Date:            timeutil.FormatDate(date),
				StartTime:       ev.StartTime,
				EndTime:         ev.EndTime,
				Name:            ev.CustomEventName,
			},
			ConflictingAppointments: overlapping,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n := len(result.ConflictingAppointments); n > 0 {
		a.logger.Info().
			Int64("clinic_id", req.ClinicID).
			Int64("practitioner_id", req.PractitionerID).
			Int("appointments", n).
			Msg("availability exception overlaps existing appointments")
	}
	return result, nil
}

// CheckExceptionConflicts lists appointments a prospective exception would
// overlap.
func (a *AvailabilityService) CheckExceptionConflicts(ctx context.Context, req ExceptionRequest) ([]AppointmentConflict, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	date := timeutil.DateFromYMD(req.Date, a.engine.loc)
	return overlappingAppointments(ctx, a.store, req.ClinicID, req.PractitionerID, date, req.interval())
}

func overlappingAppointments(ctx context.Context, r Reader, clinicID, practitionerID int64, date time.Time, window timeutil.Interval) ([]AppointmentConflict, error) {
	records, err := r.ListAppointmentsOnDates(ctx, clinicID, []int64{practitionerID}, date, date)
	if err != nil {
		return nil, apperrors.Internal("load appointments", err)
	}
	out := []AppointmentConflict{}
	for _, rec := range records {
		if !rec.Appointment.Status.Occupies() || !rec.Event.Interval().Overlaps(window) {
			continue
		}
		out = append(out, AppointmentConflict{
			CalendarEventID:   rec.Event.ID,
			PatientID:         rec.Appointment.PatientID,
			AppointmentTypeID: rec.Appointment.AppointmentTypeID,
			StartTime:         rec.Event.Interval().Start,
			EndTime:           rec.Event.Interval().End,
			Status:            rec.Appointment.Status,
		})
	}
	return out, nil
}

// DeleteException removes an availability exception of the practitioner.
func (a *AvailabilityService) DeleteException(ctx context.Context, clinicID, practitionerID, calendarEventID int64) error {
	now := a.engine.clock.Now()
	return a.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, err := tx.GetCalendarEvent(ctx, clinicID, calendarEventID)
		if err != nil {
			return lookupError(err, "calendar event")
		}
		if ev.EventType != EventTypeAvailabilityException || ev.PractitionerID != practitionerID {
			return apperrors.NotFound("exception_not_found",
				fmt.Errorf("event %d is not an exception of practitioner %d: %w", calendarEventID, practitionerID, ErrCalendarEventNotFound))
		}
		if err := tx.DeleteCalendarEvent(ctx, clinicID, calendarEventID); err != nil {
			return apperrors.Internal("delete calendar event", err)
		}
		return recordEvent(ctx, tx, clinicID, EventExceptionDeleted, calendarEventID, now, map[string]any{
			"practitioner_id": practitionerID,
			"date":            timeutil.FormatDate(ev.Date),
		})
	})
}
