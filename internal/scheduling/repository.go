package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

var (
	ErrClinicNotFound          = errors.New("clinic not found")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrPractitionerNotFound    = errors.New("practitioner not found")
	ErrAppointmentTypeNotFound = errors.New("appointment type not found")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrCalendarEventNotFound   = errors.New("calendar event not found")
	ErrResourceNotFound        = errors.New("resource not found")
)

// Reader contains the queries the scheduling engine needs. Every method is
// scoped by clinic id.
type Reader interface {
	GetClinicSettings(ctx context.Context, clinicID int64) (*ClinicSettings, error)
	GetPractitioner(ctx context.Context, clinicID, id int64) (*Practitioner, error)
	GetPatient(ctx context.Context, clinicID, id int64) (*Patient, error)
	GetAppointmentType(ctx context.Context, clinicID, id int64) (*AppointmentType, error)

	// Active practitioners linked to the appointment type, ordered by id.
	ListEligiblePractitioners(ctx context.Context, clinicID, appointmentTypeID int64) ([]Practitioner, error)
	ListDefaultAvailability(ctx context.Context, clinicID, practitionerID int64) ([]PractitionerAvailability, error)

	// Appointments in a time-occupying status for the practitioners between
	// from and to inclusive.
	ListAppointmentsOnDates(ctx context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]AppointmentRecord, error)
	ListExceptions(ctx context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]CalendarEvent, error)
	GetAppointment(ctx context.Context, clinicID, calendarEventID int64) (*AppointmentRecord, error)
	GetCalendarEvent(ctx context.Context, clinicID, id int64) (*CalendarEvent, error)

	ListResourceRequirements(ctx context.Context, clinicID, appointmentTypeID int64) ([]ResourceRequirement, error)
	// Non-deleted resources of the given types, ordered by id.
	ListResources(ctx context.Context, clinicID int64, resourceTypeIDs []int64) ([]Resource, error)
	GetResource(ctx context.Context, clinicID, id int64) (*Resource, error)
	// Allocations held by time-occupying appointments between from and to.
	ListAllocationsOnDates(ctx context.Context, clinicID int64, from, to time.Time) ([]AllocationRecord, error)
	ListAllocatedResourceIDs(ctx context.Context, clinicID, calendarEventID int64) ([]int64, error)

	// Confirmed appointments starting at or after (fromDate, fromTime), per practitioner.
	CountFutureAppointments(ctx context.Context, clinicID int64, practitionerIDs []int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (map[int64]int, error)
	CountPatientFutureAppointments(ctx context.Context, clinicID, patientID int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (int, error)
}

// Tx is a Reader bound to one transaction plus the writes the lifecycle needs.
type Tx interface {
	Reader

	// LockPractitionerDay serialises check-then-write sequences for one
	// practitioner and date until the transaction ends.
	LockPractitionerDay(ctx context.Context, practitionerID int64, date time.Time) error
	// LockPatient serialises cap checks for one patient across practitioners.
	// It is always taken after the practitioner-day lock.
	LockPatient(ctx context.Context, clinicID, patientID int64) error
	GetAppointmentForUpdate(ctx context.Context, clinicID, calendarEventID int64) (*AppointmentRecord, error)

	InsertCalendarEvent(ctx context.Context, ev *CalendarEvent) error
	UpdateCalendarEvent(ctx context.Context, ev *CalendarEvent) error
	DeleteCalendarEvent(ctx context.Context, clinicID, id int64) error
	InsertAppointment(ctx context.Context, appt *Appointment) error
	UpdateAppointment(ctx context.Context, appt *Appointment) error
	InsertAvailabilityException(ctx context.Context, calendarEventID int64) error

	ReplaceAllocations(ctx context.Context, clinicID, calendarEventID int64, resourceIDs []int64) error
	ReplaceDefaultAvailability(ctx context.Context, clinicID, practitionerID int64, dayOfWeek int, intervals []timeutil.Interval) ([]PractitionerAvailability, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is the transactional persistence boundary of the scheduling core.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// FindOverlappingAppointments filters records to those whose occupied
// interval (including buffer) intersects window, skipping excludeEventID.
func FindOverlappingAppointments(records []AppointmentRecord, window timeutil.Interval, excludeEventID int64) []AppointmentRecord {
	var out []AppointmentRecord
	for _, rec := range records {
		if excludeEventID != 0 && rec.Event.ID == excludeEventID {
			continue
		}
		if !rec.Appointment.Status.Occupies() {
			continue
		}
		if rec.OccupiedInterval().Overlaps(window) {
			out = append(out, rec)
		}
	}
	return out
}
