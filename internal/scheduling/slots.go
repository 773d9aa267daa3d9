package scheduling

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// MaxBatchDates bounds a batch-by-date request.
const MaxBatchDates = 62

type Slot struct {
	StartTime timeutil.TimeOfDay `json:"start_time"`
	EndTime   timeutil.TimeOfDay `json:"end_time"`
}

type SlotQuery struct {
	ClinicID                 int64
	PractitionerID           int64
	AppointmentTypeID        int64
	Date                     time.Time
	ExcludeCalendarEventID   int64
	ApplyBookingRestrictions bool
}

type DateSlotsQuery struct {
	ClinicID                 int64
	PractitionerID           int64
	AppointmentTypeID        int64
	Dates                    []time.Time
	ExcludeCalendarEventID   int64
	ApplyBookingRestrictions bool
}

// PractitionerSlotsQuery enumerates one date for several practitioners. An
// empty PractitionerIDs means every practitioner eligible for the type.
type PractitionerSlotsQuery struct {
	ClinicID                 int64
	AppointmentTypeID        int64
	PractitionerIDs          []int64
	Date                     time.Time
	ExcludeCalendarEventID   int64
	ApplyBookingRestrictions bool
}

type DateSlots struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

type PractitionerSlots struct {
	PractitionerID   int64  `json:"practitioner_id"`
	PractitionerName string `json:"practitioner_name"`
	Slots            []Slot `json:"slots"`
}

// GetAvailableSlots lists bookable start times for one practitioner on one
// date, in chronological order.
func (e *Engine) GetAvailableSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.available_slots")
	defer span.End()
	span.SetAttributes(attribute.Int64("practitioner.id", q.PractitionerID))
	started := time.Now()

	if q.Date.IsZero() {
		return nil, apperrors.Validation("invalid_date", "date is required")
	}
	date := timeutil.DateFromYMD(q.Date, e.loc)

	apptType, policy, err := e.slotPrelude(ctx, q.ClinicID, q.AppointmentTypeID, q.ExcludeCalendarEventID, q.ApplyBookingRestrictions)
	if err != nil {
		return nil, err
	}
	practitioners, err := e.resolvePractitioners(ctx, q.ClinicID, q.AppointmentTypeID, []int64{q.PractitionerID})
	if err != nil {
		return nil, err
	}

	snap, err := e.loadSnapshot(ctx, q.ClinicID, *apptType, ids(practitioners), []time.Time{date})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slots := snap.enumerate(q.PractitionerID, date, q.ExcludeCalendarEventID, e.granularity, policy, e.clock.Now())
	e.metrics.ObserveSlotEnumeration("single", time.Since(started).Seconds())
	return slots, nil
}

// GetAvailableSlotsBatchByDate enumerates several dates for one practitioner
// from a single snapshot. Results follow the order of q.Dates.
func (e *Engine) GetAvailableSlotsBatchByDate(ctx context.Context, q DateSlotsQuery) ([]DateSlots, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.available_slots_batch_dates")
	defer span.End()
	started := time.Now()

	if len(q.Dates) == 0 {
		return nil, apperrors.Validation("invalid_dates", "at least one date is required")
	}
	if len(q.Dates) > MaxBatchDates {
		return nil, apperrors.Validationf("too_many_dates", "at most %d dates per request", MaxBatchDates)
	}
	dates := make([]time.Time, len(q.Dates))
	for i, d := range q.Dates {
		if d.IsZero() {
			return nil, apperrors.Validation("invalid_date", "date is required")
		}
		dates[i] = timeutil.DateFromYMD(d, e.loc)
	}

	apptType, policy, err := e.slotPrelude(ctx, q.ClinicID, q.AppointmentTypeID, q.ExcludeCalendarEventID, q.ApplyBookingRestrictions)
	if err != nil {
		return nil, err
	}
	if _, err := e.resolvePractitioners(ctx, q.ClinicID, q.AppointmentTypeID, []int64{q.PractitionerID}); err != nil {
		return nil, err
	}

	snap, err := e.loadSnapshot(ctx, q.ClinicID, *apptType, []int64{q.PractitionerID}, dates)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := e.clock.Now()
	out := make([]DateSlots, 0, len(dates))
	for _, d := range dates {
		out = append(out, DateSlots{
			Date:  timeutil.FormatDate(d),
			Slots: snap.enumerate(q.PractitionerID, d, q.ExcludeCalendarEventID, e.granularity, policy, now),
		})
	}
	e.metrics.ObserveSlotEnumeration("batch_dates", time.Since(started).Seconds())
	return out, nil
}

// GetAvailableSlotsBatchByPractitioner enumerates one date for several
// practitioners from a single snapshot.
func (e *Engine) GetAvailableSlotsBatchByPractitioner(ctx context.Context, q PractitionerSlotsQuery) ([]PractitionerSlots, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.available_slots_batch_practitioners")
	defer span.End()
	started := time.Now()

	if q.Date.IsZero() {
		return nil, apperrors.Validation("invalid_date", "date is required")
	}
	date := timeutil.DateFromYMD(q.Date, e.loc)

	apptType, policy, err := e.slotPrelude(ctx, q.ClinicID, q.AppointmentTypeID, q.ExcludeCalendarEventID, q.ApplyBookingRestrictions)
	if err != nil {
		return nil, err
	}
	practitioners, err := e.resolvePractitioners(ctx, q.ClinicID, q.AppointmentTypeID, q.PractitionerIDs)
	if err != nil {
		return nil, err
	}

	snap, err := e.loadSnapshot(ctx, q.ClinicID, *apptType, ids(practitioners), []time.Time{date})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := e.clock.Now()
	out := make([]PractitionerSlots, 0, len(practitioners))
	for _, p := range practitioners {
		out = append(out, PractitionerSlots{
			PractitionerID:   p.ID,
			PractitionerName: p.Name,
			Slots:            snap.enumerate(p.ID, date, q.ExcludeCalendarEventID, e.granularity, policy, now),
		})
	}
	e.metrics.ObserveSlotEnumeration("batch_practitioners", time.Since(started).Seconds())
	return out, nil
}

// slotPrelude loads the bookable appointment type and, when restrictions apply, the
// clinic booking policy.
func (e *Engine) slotPrelude(ctx context.Context, clinicID, typeID, exclude int64, applyRestrictions bool) (*AppointmentType, *BookingPolicy, error) {
	if clinicID <= 0 {
		return nil, nil, apperrors.Validation("invalid_clinic_id", "clinic_id is required")
	}
	apptType, err := e.bookableType(ctx, clinicID, typeID, exclude)
	if err != nil {
		return nil, nil, err
	}
	if apptType.DurationMinutes <= 0 {
		return nil, nil, apperrors.Validation("invalid_appointment_type", "appointment type has no duration")
	}
	if !applyRestrictions {
		return apptType, nil, nil
	}
	settings, err := e.store.GetClinicSettings(ctx, clinicID)
	if err != nil {
		return nil, nil, lookupError(err, "clinic settings")
	}
	policy := NewBookingPolicy(*settings, e.clock.Now(), e.loc)
	return apptType, &policy, nil
}

// resolvePractitioners returns the requested practitioners in request order,
// or every eligible one when requested is empty. A practitioner not eligible
// for the type is rejected.
func (e *Engine) resolvePractitioners(ctx context.Context, clinicID, typeID int64, requested []int64) ([]Practitioner, error) {
	eligible, err := e.store.ListEligiblePractitioners(ctx, clinicID, typeID)
	if err != nil {
		return nil, apperrors.Internal("load eligible practitioners", err)
	}
	if len(requested) == 0 {
		return eligible, nil
	}
	byID := make(map[int64]Practitioner, len(eligible))
	for _, p := range eligible {
		byID[p.ID] = p
	}
	out := make([]Practitioner, 0, len(requested))
	for _, id := range requested {
		if id <= 0 {
			return nil, apperrors.Validation("invalid_practitioner_id", "practitioner_id is required")
		}
		p, ok := byID[id]
		if !ok {
			if _, err := e.practitioner(ctx, clinicID, id); err != nil {
				return nil, err
			}
			return nil, apperrors.Validationf("practitioner_not_eligible",
				"practitioner %d does not offer appointment type %d", id, typeID)
		}
		out = append(out, p)
	}
	return out, nil
}

func ids(practitioners []Practitioner) []int64 {
	out := make([]int64, len(practitioners))
	for i, p := range practitioners {
		out[i] = p.ID
	}
	return out
}

// enumerate walks each default-availability interval in granularity steps,
// stopping once the candidate end passes the interval end.
func (s *snapshot) enumerate(practitionerID int64, date time.Time, exclude int64, granularity int, policy *BookingPolicy, now time.Time) []Slot {
	duration := s.apptType.DurationMinutes
	seen := make(map[timeutil.TimeOfDay]bool)
	slots := []Slot{}

	for _, iv := range s.defaultIntervals(practitionerID, date) {
		for start := iv.Start; start.Add(duration) <= iv.End; start = start.Add(granularity) {
			if seen[start] {
				continue
			}
			if policy != nil && !policy.Allows(date, start) {
				continue
			}
			report := s.evaluate(practitionerID, candidate{date: date, start: start, exclude: exclude}, slotChecks, now)
			if report.HasConflict {
				continue
			}
			seen[start] = true
			slots = append(slots, Slot{StartTime: start, EndTime: start.Add(duration)})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })
	return slots
}
