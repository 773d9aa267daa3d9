package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// dayKey identifies one practitioner's calendar on one date.
type dayKey struct {
	practitionerID int64
	date           string
}

func keyFor(practitionerID int64, date time.Time) dayKey {
	return dayKey{practitionerID: practitionerID, date: timeutil.FormatDate(date)}
}

// snapshot is everything needed to evaluate candidates of one appointment
// type for a set of practitioners and dates, loaded once per request so the
// single and batch paths compute identical answers.
type snapshot struct {
	loc          *time.Location
	apptType     AppointmentType
	requirements []ResourceRequirement
	resources    map[int64][]Resource
	availability map[int64][]PractitionerAvailability
	appointments map[dayKey][]AppointmentRecord
	exceptions   map[dayKey][]CalendarEvent
	allocations  map[string][]AllocationRecord
}

func (e *Engine) loadSnapshot(ctx context.Context, clinicID int64, apptType AppointmentType, practitionerIDs []int64, dates []time.Time) (*snapshot, error) {
	s := &snapshot{
		loc:          e.loc,
		apptType:     apptType,
		resources:    make(map[int64][]Resource),
		availability: make(map[int64][]PractitionerAvailability),
		appointments: make(map[dayKey][]AppointmentRecord),
		exceptions:   make(map[dayKey][]CalendarEvent),
		allocations:  make(map[string][]AllocationRecord),
	}
	if len(practitionerIDs) == 0 || len(dates) == 0 {
		return s, nil
	}
	from, to := dateBounds(dates)

	for _, pid := range practitionerIDs {
		if _, seen := s.availability[pid]; seen {
			continue
		}
		avail, err := e.store.ListDefaultAvailability(ctx, clinicID, pid)
		if err != nil {
			return nil, apperrors.Internal("load default availability", err)
		}
		s.availability[pid] = avail
	}

	appts, err := e.store.ListAppointmentsOnDates(ctx, clinicID, practitionerIDs, from, to)
	if err != nil {
		return nil, apperrors.Internal("load appointments", err)
	}
	for _, rec := range appts {
		k := keyFor(rec.Event.PractitionerID, rec.Event.Date)
		s.appointments[k] = append(s.appointments[k], rec)
	}

	exceptions, err := e.store.ListExceptions(ctx, clinicID, practitionerIDs, from, to)
	if err != nil {
		return nil, apperrors.Internal("load availability exceptions", err)
	}
	for _, ev := range exceptions {
		k := keyFor(ev.PractitionerID, ev.Date)
		s.exceptions[k] = append(s.exceptions[k], ev)
	}

	if err := s.loadResources(ctx, e.store, clinicID, from, to); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *snapshot) loadResources(ctx context.Context, r Reader, clinicID int64, from, to time.Time) error {
	reqs, err := r.ListResourceRequirements(ctx, clinicID, s.apptType.ID)
	if err != nil {
		return apperrors.Internal("load resource requirements", err)
	}
	s.requirements = reqs
	if len(reqs) == 0 {
		return nil
	}

	typeIDs := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		typeIDs = append(typeIDs, req.ResourceTypeID)
	}
	resources, err := r.ListResources(ctx, clinicID, typeIDs)
	if err != nil {
		return apperrors.Internal("load resources", err)
	}
	for _, res := range resources {
		s.resources[res.ResourceTypeID] = append(s.resources[res.ResourceTypeID], res)
	}

	allocs, err := r.ListAllocationsOnDates(ctx, clinicID, from, to)
	if err != nil {
		return apperrors.Internal("load resource allocations", err)
	}
	for _, a := range allocs {
		k := timeutil.FormatDate(a.Date)
		s.allocations[k] = append(s.allocations[k], a)
	}
	return nil
}

func dateBounds(dates []time.Time) (time.Time, time.Time) {
	from, to := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}
	return from, to
}

// defaultIntervals returns the practitioner's recurring hours for the
// weekday of date, ordered by start.
func (s *snapshot) defaultIntervals(practitionerID int64, date time.Time) []timeutil.Interval {
	dow := timeutil.Weekday(date)
	var out []timeutil.Interval
	for _, a := range s.availability[practitionerID] {
		if a.DayOfWeek == dow {
			out = append(out, a.Interval())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// freeResources lists resources of a type not held by another appointment
// during window on date.
func (s *snapshot) freeResources(resourceTypeID int64, date time.Time, window timeutil.Interval, exclude int64) []Resource {
	busy := make(map[int64]bool)
	for _, a := range s.allocations[timeutil.FormatDate(date)] {
		if exclude != 0 && a.CalendarEventID == exclude {
			continue
		}
		if a.Interval.Overlaps(window) {
			busy[a.ResourceID] = true
		}
	}
	var free []Resource
	for _, r := range s.resources[resourceTypeID] {
		if !busy[r.ID] {
			free = append(free, r)
		}
	}
	return free
}

type candidate struct {
	date    time.Time
	start   timeutil.TimeOfDay
	exclude int64
}

// checkSet toggles the conflict layers evaluate runs.
type checkSet struct {
	past         bool
	appointments bool
	exceptions   bool
	availability bool
	resources    bool
}

var allChecks = checkSet{past: true, appointments: true, exceptions: true, availability: true, resources: true}

// writeChecks leaves the past rule to booking policy, which reports it as a
// booking restriction instead of a conflict.
var writeChecks = checkSet{appointments: true, exceptions: true, availability: true, resources: true}

// slotChecks skips the availability layer since enumeration only proposes
// starts inside default hours, and leaves the time window to booking policy.
var slotChecks = checkSet{appointments: true, exceptions: true, resources: true}

func (s *snapshot) nominal(c candidate) timeutil.Interval {
	return timeutil.Interval{Start: c.start, End: c.start.Add(s.apptType.DurationMinutes)}
}

// evaluate is the pure conflict computation. Appointment overlap compares
// buffered intervals on both sides; the other layers use the nominal one.
func (s *snapshot) evaluate(practitionerID int64, c candidate, checks checkSet, now time.Time) ConflictReport {
	nominal := s.nominal(c)
	report := ConflictReport{
		PractitionerID: practitionerID,
		Date:           timeutil.FormatDate(c.date),
		StartTime:      nominal.Start,
		EndTime:        nominal.End,
	}
	key := keyFor(practitionerID, c.date)

	if checks.past {
		report.IsPast = timeutil.Combine(c.date, c.start, s.loc).Before(now)
	}

	if checks.appointments {
		occupied := nominal.Extend(s.apptType.SchedulingBufferMinutes)
		for _, rec := range FindOverlappingAppointments(s.appointments[key], occupied, c.exclude) {
			report.AppointmentConflicts = append(report.AppointmentConflicts, AppointmentConflict{
				CalendarEventID:   rec.Event.ID,
				PatientID:         rec.Appointment.PatientID,
				AppointmentTypeID: rec.Appointment.AppointmentTypeID,
				StartTime:         rec.Event.Interval().Start,
				EndTime:           rec.Event.Interval().End,
				Status:            rec.Appointment.Status,
			})
		}
	}

	if checks.exceptions {
		for _, ev := range s.exceptions[key] {
			if c.exclude != 0 && ev.ID == c.exclude {
				continue
			}
			if !ev.Interval().Overlaps(nominal) {
				continue
			}
			report.ExceptionConflicts = append(report.ExceptionConflicts, ExceptionConflict{
				CalendarEventID: ev.ID,
				StartTime:       ev.StartTime,
				EndTime:         ev.EndTime,
				IsAllDay:        ev.IsAllDay(),
				Name:            ev.CustomEventName,
			})
		}
	}

	if checks.availability {
		intervals := s.defaultIntervals(practitionerID, c.date)
		switch {
		case len(intervals) == 0:
			report.AvailabilityConflict = &AvailabilityConflict{Reason: ReasonNoDefaultAvailability, DefaultIntervals: []timeutil.Interval{}}
		case !timeutil.CoveredBy(nominal, intervals):
			report.AvailabilityConflict = &AvailabilityConflict{Reason: ReasonOutsideDefaultHours, DefaultIntervals: intervals}
		}
	}

	if checks.resources {
		report.ResourceConflicts = s.resourceShortfalls(c.date, nominal, c.exclude)
	}

	report.resolve()
	return report
}

func (s *snapshot) resourceShortfalls(date time.Time, window timeutil.Interval, exclude int64) []ResourceConflict {
	var out []ResourceConflict
	for _, req := range s.requirements {
		free := s.freeResources(req.ResourceTypeID, date, window, exclude)
		if len(free) < req.Quantity {
			out = append(out, ResourceConflict{
				ResourceTypeID:   req.ResourceTypeID,
				ResourceTypeName: req.ResourceTypeName,
				Required:         req.Quantity,
				Available:        len(free),
			})
		}
	}
	return out
}
