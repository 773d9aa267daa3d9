package scheduling

import (
	"time"

	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// AppointmentView is the boundary format of an appointment. Clinic-facing
// callers get the full view; patient channels must use ForPatient.
type AppointmentView struct {
	CalendarEventID                int64              `json:"calendar_event_id"`
	ClinicID                       int64              `json:"clinic_id"`
	PractitionerID                 *int64             `json:"practitioner_id"`
	PatientID                      int64              `json:"patient_id"`
	AppointmentTypeID              int64              `json:"appointment_type_id"`
	Date                           string             `json:"date"`
	StartTime                      timeutil.TimeOfDay `json:"start_time"`
	EndTime                        timeutil.TimeOfDay `json:"end_time"`
	Status                         AppointmentStatus  `json:"status"`
	IsAutoAssigned                 bool               `json:"is_auto_assigned"`
	OriginallyAutoAssigned         bool               `json:"originally_auto_assigned"`
	HideAutoAssignedPractitionerID bool               `json:"hide_auto_assigned_practitioner_id"`
	ReassignedByUserID             *int64             `json:"reassigned_by_user_id,omitempty"`
	ReassignedAt                   *time.Time         `json:"reassigned_at,omitempty"`
	Notes                          *string            `json:"notes,omitempty"`
	ClinicNotes                    *string            `json:"clinic_notes,omitempty"`
	CanceledAt                     *time.Time         `json:"canceled_at,omitempty"`
	ResourceIDs                    []int64            `json:"resource_ids"`
}

func NewAppointmentView(rec AppointmentRecord, resourceIDs []int64) AppointmentView {
	pid := rec.Event.PractitionerID
	iv := rec.Event.Interval()
	if resourceIDs == nil {
		resourceIDs = []int64{}
	}
	return AppointmentView{
		CalendarEventID:                rec.Event.ID,
		ClinicID:                       rec.Event.ClinicID,
		PractitionerID:                 &pid,
		PatientID:                      rec.Appointment.PatientID,
		AppointmentTypeID:              rec.Appointment.AppointmentTypeID,
		Date:                           timeutil.FormatDate(rec.Event.Date),
		StartTime:                      iv.Start,
		EndTime:                        iv.End,
		Status:                         rec.Appointment.Status,
		IsAutoAssigned:                 rec.Appointment.IsAutoAssigned,
		OriginallyAutoAssigned:         rec.Appointment.OriginallyAutoAssigned,
		HideAutoAssignedPractitionerID: rec.Appointment.IsAutoAssigned,
		ReassignedByUserID:             rec.Appointment.ReassignedByUserID,
		ReassignedAt:                   rec.Appointment.ReassignedAt,
		Notes:                          rec.Appointment.Notes,
		ClinicNotes:                    rec.Appointment.ClinicNotes,
		CanceledAt:                     rec.Appointment.CanceledAt,
		ResourceIDs:                    resourceIDs,
	}
}

// ForPatient drops staff-only fields and the practitioner id of an
// auto-assigned appointment.
func (v AppointmentView) ForPatient() AppointmentView {
	v.ClinicNotes = nil
	v.ReassignedByUserID = nil
	v.ResourceIDs = []int64{}
	if v.HideAutoAssignedPractitionerID {
		v.PractitionerID = nil
	}
	return v
}

// CalendarEntry is one item of a practitioner calendar listing.
type CalendarEntry struct {
	CalendarEventID int64               `json:"calendar_event_id"`
	EventType       EventType           `json:"event_type"`
	Date            string              `json:"date"`
	StartTime       *timeutil.TimeOfDay `json:"start_time"`
	EndTime         *timeutil.TimeOfDay `json:"end_time"`
	Name            *string             `json:"name,omitempty"`
	Appointment     *AppointmentView    `json:"appointment,omitempty"`
}
