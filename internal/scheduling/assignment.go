package scheduling

import (
	"context"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

type AssignQuery struct {
	ClinicID               int64
	AppointmentTypeID      int64
	Date                   time.Time
	StartTime              timeutil.TimeOfDay
	ExcludeCalendarEventID int64
}

type Assignment struct {
	PractitionerID         int64  `json:"practitioner_id"`
	PractitionerName       string `json:"practitioner_name"`
	FutureAppointmentCount int    `json:"future_appointment_count"`
	CandidateCount         int    `json:"candidate_count"`
}

// AutoAssignPractitioner picks the least-loaded eligible practitioner free at
// the exact requested start. Ties go to the lowest practitioner id.
func (e *Engine) AutoAssignPractitioner(ctx context.Context, q AssignQuery) (*Assignment, error) {
	return e.autoAssign(ctx, q, blockEverything)
}

func (e *Engine) autoAssign(ctx context.Context, q AssignQuery, policy conflictPolicy) (*Assignment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.auto_assign")
	defer span.End()

	if q.ClinicID <= 0 {
		return nil, apperrors.Validation("invalid_clinic_id", "clinic_id is required")
	}
	if q.Date.IsZero() {
		return nil, apperrors.Validation("invalid_date", "date is required")
	}
	if err := validateStartTime(q.StartTime); err != nil {
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
	eligible, err := e.resolvePractitioners(ctx, q.ClinicID, q.AppointmentTypeID, nil)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, apperrors.Assignment("no_eligible_practitioner", "no practitioner offers this appointment type")
	}

	snap, err := e.loadSnapshot(ctx, q.ClinicID, *apptType, ids(eligible), []time.Time{date})
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	c := candidate{date: date, start: q.StartTime, exclude: q.ExcludeCalendarEventID}

	var free []Practitioner
	for _, p := range eligible {
		report := snap.evaluate(p.ID, c, allChecks, now)
		if !policy.blocking(report) {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		return nil, apperrors.Assignment("no_availability", "no eligible practitioner is free at the requested time")
	}

	nowDate, nowTime := timeutil.Split(now, e.loc)
	counts, err := e.store.CountFutureAppointments(ctx, q.ClinicID, ids(free), nowDate, nowTime)
	if err != nil {
		return nil, apperrors.Internal("count future appointments", err)
	}

	best := free[0]
	for _, p := range free[1:] {
		if counts[p.ID] < counts[best.ID] || (counts[p.ID] == counts[best.ID] && p.ID < best.ID) {
			best = p
		}
	}
	e.logger.Debug().
		Int64("clinic_id", q.ClinicID).
		Int64("practitioner_id", best.ID).
		Int("load", counts[best.ID]).
		Int("candidates", len(free)).
		Msg("auto-assigned practitioner")

	return &Assignment{
		PractitionerID:         best.ID,
		PractitionerName:       best.Name,
		FutureAppointmentCount: counts[best.ID],
		CandidateCount:         len(free),
	}, nil
}
