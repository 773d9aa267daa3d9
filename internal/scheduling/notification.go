package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

const (
	WordingNone                 = ""
	WordingPractitionerAssigned = "practitioner_assigned"
	WordingPractitionerChanged  = "practitioner_changed"
	WordingTimeChanged          = "time_changed"
)

// NotificationRequirements says who must hear about an edit. A message is
// generated only when the effective practitioner or start instant changes.
type NotificationRequirements struct {
	WillNotify            bool   `json:"will_notify"`
	PractitionerChanged   bool   `json:"practitioner_changed"`
	TimeChanged           bool   `json:"time_changed"`
	NotifyPatient         bool   `json:"notify_patient"`
	NotifyOldPractitioner bool   `json:"notify_old_practitioner"`
	NotifyNewPractitioner bool   `json:"notify_new_practitioner"`
	PatientWording        string `json:"patient_wording,omitempty"`
}

func notificationRequirements(current AppointmentRecord, practitionerID int64, date time.Time, start timeutil.TimeOfDay) NotificationRequirements {
	var n NotificationRequirements
	n.PractitionerChanged = practitionerID != current.Event.PractitionerID
	n.TimeChanged = !timeutil.SameDate(date, current.Event.Date) || start != current.Event.Interval().Start
	n.WillNotify = n.PractitionerChanged || n.TimeChanged
	if !n.WillNotify {
		return n
	}
	n.NotifyPatient = true
	n.NotifyOldPractitioner = n.PractitionerChanged
	n.NotifyNewPractitioner = true

	switch {
	case n.PractitionerChanged && current.Appointment.OriginallyAutoAssigned:
		// the patient never saw who was auto-assigned
		n.PatientWording = WordingPractitionerAssigned
	case n.PractitionerChanged:
		n.PatientWording = WordingPractitionerChanged
	default:
		n.PatientWording = WordingTimeChanged
	}
	return n
}

type ProposedChange struct {
	PractitionerID *int64
	Date           *time.Time
	StartTime      *timeutil.TimeOfDay
}

// GetNotificationRequirements evaluates a proposed change against the stored
// appointment without checking conflicts.
func (s *Service) GetNotificationRequirements(ctx context.Context, clinicID, calendarEventID int64, change ProposedChange) (*NotificationRequirements, error) {
	if clinicID <= 0 || calendarEventID <= 0 {
		return nil, apperrors.Validation("invalid_appointment_id", "clinic_id and appointment id are required")
	}
	current, err := s.store.GetAppointment(ctx, clinicID, calendarEventID)
	if err != nil {
		return nil, lookupError(err, "appointment")
	}
	practitionerID := current.Event.PractitionerID
	if change.PractitionerID != nil {
		practitionerID = *change.PractitionerID
	}
	date := current.Event.Date
	if change.Date != nil {
		date = *change.Date
	}
	start := current.Event.Interval().Start
	if change.StartTime != nil {
		start = *change.StartTime
	}
	n := notificationRequirements(*current, practitionerID, date, start)
	return &n, nil
}

func sortCalendar(entries []CalendarEntry) {
	startOf := func(e CalendarEntry) timeutil.TimeOfDay {
		if e.StartTime == nil {
			return 0
		}
		return *e.StartTime
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}
		if startOf(entries[i]) != startOf(entries[j]) {
			return startOf(entries[i]) < startOf(entries[j])
		}
		return entries[i].CalendarEventID < entries[j].CalendarEventID
	})
}
