package scheduling

import (
	"fmt"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// BookingPolicy applies the clinic's patient-facing booking rules at a fixed
// instant. Zero-valued settings disable the matching rule.
type BookingPolicy struct {
	settings ClinicSettings
	now      time.Time
	loc      *time.Location
}

func NewBookingPolicy(settings ClinicSettings, now time.Time, loc *time.Location) BookingPolicy {
	return BookingPolicy{settings: settings, now: now, loc: loc}
}

func (p BookingPolicy) earliest() time.Time {
	return p.now.Add(time.Duration(p.settings.MinimumBookingHoursAhead) * time.Hour)
}

// latestDate is the last bookable date, or zero when unlimited.
func (p BookingPolicy) latestDate() time.Time {
	if p.settings.MaxBookingWindowDays <= 0 {
		return time.Time{}
	}
	return timeutil.DateOf(p.now, p.loc).AddDate(0, 0, p.settings.MaxBookingWindowDays)
}

// Allows reports whether a start instant passes the lead-time and window rules.
func (p BookingPolicy) Allows(date time.Time, start timeutil.TimeOfDay) bool {
	return p.CheckBookingTime(date, start) == nil
}

func (p BookingPolicy) CheckBookingTime(date time.Time, start timeutil.TimeOfDay) error {
	at := timeutil.Combine(date, start, p.loc)
	if at.Before(p.now) {
		return apperrors.BookingRestriction("past_time", "appointment time is in the past")
	}
	if at.Before(p.earliest()) {
		return apperrors.BookingRestriction("too_soon",
			fmt.Sprintf("appointments must be booked at least %d hours ahead", p.settings.MinimumBookingHoursAhead))
	}
	if latest := p.latestDate(); !latest.IsZero() && timeutil.DateFromYMD(date, p.loc).After(latest) {
		return apperrors.BookingRestriction("beyond_booking_window",
			fmt.Sprintf("appointments can be booked at most %d days ahead", p.settings.MaxBookingWindowDays))
	}
	return nil
}

// CheckPatientCap rejects a booking when the patient already holds the
// maximum number of future appointments.
func (p BookingPolicy) CheckPatientCap(futureCount int) error {
	if p.settings.MaxFutureAppointments > 0 && futureCount >= p.settings.MaxFutureAppointments {
		return apperrors.BookingRestriction("max_future_appointments",
			fmt.Sprintf("patient already has %d future appointments", futureCount))
	}
	return nil
}

func (p BookingPolicy) CheckCancellation(date time.Time, start timeutil.TimeOfDay) error {
	if p.settings.MinimumCancellationHoursBefore <= 0 {
		return nil
	}
	at := timeutil.Combine(date, start, p.loc)
	if at.Sub(p.now) < time.Duration(p.settings.MinimumCancellationHoursBefore)*time.Hour {
		return apperrors.BookingRestriction("cancellation_too_late",
			fmt.Sprintf("appointments must be canceled at least %d hours before start", p.settings.MinimumCancellationHoursBefore))
	}
	return nil
}
