package api

import (
	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

type ErrorResponse struct {
	Error    string                     `json:"error"`
	Details  string                     `json:"details,omitempty"`
	Conflict *scheduling.ConflictReport `json:"conflict,omitempty"`
	Detail   any                        `json:"detail,omitempty"`
}

// writeOptions are the staff-only knobs shared by write requests.
type writeOptions struct {
	AllowOverride   bool `json:"allow_override"`
	StrictResources bool `json:"strict_resources"`
}

type CreateAppointmentRequest struct {
	PatientID         int64              `json:"patient_id"`
	AppointmentTypeID int64              `json:"appointment_type_id"`
	PractitionerID    *int64             `json:"practitioner_id"`
	Date              string             `json:"date"`
	StartTime         timeutil.TimeOfDay `json:"start_time"`
	Notes             *string            `json:"notes"`
	ClinicNotes       *string            `json:"clinic_notes"`
	ResourceIDs       []int64            `json:"resource_ids"`
	writeOptions
}

type UpdateAppointmentRequest struct {
	PractitionerID *int64              `json:"practitioner_id"`
	Date           *string             `json:"date"`
	StartTime      *timeutil.TimeOfDay `json:"start_time"`
	Notes          *string             `json:"notes"`
	ClinicNotes    *string             `json:"clinic_notes"`
	AutoAssign     bool                `json:"auto_assign"`
	ResourceIDs    []int64             `json:"resource_ids"`
	writeOptions
}

type CancelAppointmentRequest struct {
	Reason *string `json:"reason"`
}

type ResourceAllocationRequest struct {
	ResourceIDs []int64 `json:"resource_ids"`
	Strict      bool    `json:"strict"`
}

type NotificationRequirementsRequest struct {
	PractitionerID *int64              `json:"practitioner_id"`
	Date           *string             `json:"date"`
	StartTime      *timeutil.TimeOfDay `json:"start_time"`
}

type OccurrenceRequest struct {
	Date        string             `json:"date"`
	StartTime   timeutil.TimeOfDay `json:"start_time"`
	ResourceIDs []int64            `json:"resource_ids"`
}

type RecurringAppointmentsRequest struct {
	PatientID         int64               `json:"patient_id"`
	AppointmentTypeID int64               `json:"appointment_type_id"`
	PractitionerID    int64               `json:"practitioner_id"`
	Occurrences       []OccurrenceRequest `json:"occurrences"`
	Notes             *string             `json:"notes"`
	ClinicNotes       *string             `json:"clinic_notes"`
	writeOptions
}

type RecurringCheckRequest struct {
	PractitionerID    int64               `json:"practitioner_id"`
	AppointmentTypeID int64               `json:"appointment_type_id"`
	Occurrences       []OccurrenceRequest `json:"occurrences"`
}

type ConflictCheckRequest struct {
	PractitionerID         int64              `json:"practitioner_id"`
	AppointmentTypeID      int64              `json:"appointment_type_id"`
	Date                   string             `json:"date"`
	StartTime              timeutil.TimeOfDay `json:"start_time"`
	ExcludeCalendarEventID int64              `json:"exclude_calendar_event_id"`
	CheckPastAppointment   bool               `json:"check_past_appointment"`
}

type ConflictBatchRequest struct {
	Checks []ConflictCheckRequest `json:"checks"`
}

type AutoAssignRequest struct {
	AppointmentTypeID      int64              `json:"appointment_type_id"`
	Date                   string             `json:"date"`
	StartTime              timeutil.TimeOfDay `json:"start_time"`
	ExcludeCalendarEventID int64              `json:"exclude_calendar_event_id"`
}

type DefaultAvailabilityRequest struct {
	Intervals []timeutil.Interval `json:"intervals"`
}

type ExceptionCreateRequest struct {
	Date      string              `json:"date"`
	StartTime *timeutil.TimeOfDay `json:"start_time"`
	EndTime   *timeutil.TimeOfDay `json:"end_time"`
	Name      *string             `json:"name"`
	// DryRun only reports the appointments the exception would overlap.
	DryRun bool `json:"dry_run"`
}

// AppointmentResponse is a view plus what the caller may do with it.
type AppointmentResponse struct {
	scheduling.AppointmentView
	Capabilities access.Capabilities `json:"capabilities"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}
