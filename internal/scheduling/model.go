package scheduling

import (
	"errors"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

type EventType string

const (
	EventTypeAppointment           EventType = "appointment"
	EventTypeAvailabilityException EventType = "availability_exception"
)

type AppointmentStatus string

const (
	// StatusPending is reserved for flows that hold a slot before confirmation.
	StatusPending           AppointmentStatus = "pending"
	StatusConfirmed         AppointmentStatus = "confirmed"
	StatusCanceledByPatient AppointmentStatus = "canceled_by_patient"
	StatusCanceledByClinic  AppointmentStatus = "canceled_by_clinic"
	StatusCompleted         AppointmentStatus = "completed"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCanceledByPatient, StatusCanceledByClinic, StatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) IsCanceled() bool {
	return s == StatusCanceledByPatient || s == StatusCanceledByClinic
}

// IsTerminal reports whether no further transition is allowed.
func (s AppointmentStatus) IsTerminal() bool {
	return s.IsCanceled() || s == StatusCompleted
}

// Occupies reports whether an appointment in this status holds practitioner time.
func (s AppointmentStatus) Occupies() bool {
	return s == StatusConfirmed || s == StatusPending
}

// Origin tells the lifecycle who initiated a request. Patient-origin requests
// are subject to the clinic booking policy.
type Origin string

const (
	OriginPatient Origin = "patient"
	OriginClinic  Origin = "clinic"
)

func (o Origin) Valid() bool {
	return o == OriginPatient || o == OriginClinic
}

type Practitioner struct {
	ID       int64
	ClinicID int64
	Name     string
	Active   bool
}

type Patient struct {
	ID       int64
	ClinicID int64
	Name     string
	Active   bool
}

type AppointmentType struct {
	ID                      int64
	ClinicID                int64
	Name                    string
	DurationMinutes         int
	SchedulingBufferMinutes int
	Enabled                 bool
	Deleted                 bool
}

func (t AppointmentType) Bookable() bool {
	return t.Enabled && !t.Deleted
}

// CalendarEvent is the unit of practitioner-time ownership. StartTime and
// EndTime are both nil for an all-day event.
type CalendarEvent struct {
	ID                  int64
	PractitionerID      int64
	ClinicID            int64
	EventType           EventType
	Date                time.Time
	StartTime           *timeutil.TimeOfDay
	EndTime             *timeutil.TimeOfDay
	CustomEventName     *string
	ExternalCalendarRef *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

var (
	errHalfOpenEvent = errors.New("calendar event needs both start_time and end_time or neither")
	errInvertedEvent = errors.New("calendar event start_time must be before end_time")
	errEventType     = errors.New("unknown calendar event type")
)

func (e CalendarEvent) Validate() error {
	if e.EventType != EventTypeAppointment && e.EventType != EventTypeAvailabilityException {
		return errEventType
	}
	if (e.StartTime == nil) != (e.EndTime == nil) {
		return errHalfOpenEvent
	}
	if e.StartTime != nil && !e.StartTime.Before(*e.EndTime) {
		return errInvertedEvent
	}
	return nil
}

func (e CalendarEvent) IsAllDay() bool {
	return e.StartTime == nil
}

// Interval returns the wall-clock range the event occupies; all-day events
// cover the whole day.
func (e CalendarEvent) Interval() timeutil.Interval {
	if e.IsAllDay() {
		return timeutil.WholeDay
	}
	return timeutil.Interval{Start: *e.StartTime, End: *e.EndTime}
}

// Appointment is the 1:1 extension of a CalendarEvent of type appointment.
type Appointment struct {
	CalendarEventID        int64
	PatientID              int64
	AppointmentTypeID      int64
	Status                 AppointmentStatus
	IsAutoAssigned         bool
	OriginallyAutoAssigned bool
	ReassignedByUserID     *int64
	ReassignedAt           *time.Time
	Notes                  *string
	ClinicNotes            *string
	CanceledAt             *time.Time
}

// AppointmentRecord joins an appointment with its calendar event and the
// scheduling buffer of its appointment type.
type AppointmentRecord struct {
	Event         CalendarEvent
	Appointment   Appointment
	BufferMinutes int
}

// OccupiedInterval is the nominal interval extended by the type's buffer.
func (r AppointmentRecord) OccupiedInterval() timeutil.Interval {
	return r.Event.Interval().Extend(r.BufferMinutes)
}

type PractitionerAvailability struct {
	ID             int64
	PractitionerID int64
	ClinicID       int64
	DayOfWeek      int
	StartTime      timeutil.TimeOfDay
	EndTime        timeutil.TimeOfDay
}

func (a PractitionerAvailability) Interval() timeutil.Interval {
	return timeutil.Interval{Start: a.StartTime, End: a.EndTime}
}

type ResourceType struct {
	ID       int64
	ClinicID int64
	Name     string
}

type Resource struct {
	ID             int64
	ClinicID       int64
	ResourceTypeID int64
	Name           string
	Deleted        bool
}

type ResourceRequirement struct {
	AppointmentTypeID int64
	ResourceTypeID    int64
	ResourceTypeName  string
	Quantity          int
}

// AllocationRecord is a resource allocation joined with the date and
// interval of the appointment holding it.
type AllocationRecord struct {
	ResourceID      int64
	ResourceTypeID  int64
	CalendarEventID int64
	Date            time.Time
	Interval        timeutil.Interval
}

// ClinicSettings are booking policy values owned by the clinic settings
// subsystem. The core only reads them.
type ClinicSettings struct {
	MinimumBookingHoursAhead       int
	MaxFutureAppointments          int
	MaxBookingWindowDays           int
	MinimumCancellationHoursBefore int
}

type EventLog struct {
	ID              int64
	ClinicID        int64
	EventType       string
	CalendarEventID *int64
	Payload         []byte
	CreatedAt       time.Time
}
