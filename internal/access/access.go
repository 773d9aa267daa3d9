// Package access decides what an actor may do with an appointment. The
// scheduling core exposes the fields used here but never enforces them.
package access

import (
	"slices"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type ActorType string

const (
	ActorStaff   ActorType = "staff"
	ActorPatient ActorType = "patient"
)

const (
	RoleAdmin        = "admin"
	RolePractitioner = "practitioner"
	RoleReceptionist = "receptionist"
)

// Actor is the authenticated caller as resolved by the transport layer.
type Actor struct {
	Type     ActorType
	ClinicID int64
	UserID   int64
	Roles    []string
	// PractitionerID is set for staff users who are practitioners.
	PractitionerID int64
	// PatientID is set for patient actors.
	PatientID int64
}

func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

func (a Actor) IsAdmin() bool {
	return a.Type == ActorStaff && a.HasRole(RoleAdmin)
}

// Origin maps the actor onto the lifecycle's request origin.
func (a Actor) Origin() scheduling.Origin {
	if a.Type == ActorPatient {
		return scheduling.OriginPatient
	}
	return scheduling.OriginClinic
}

// practitionerOnly is a staff member whose only clinic role is practitioner.
func (a Actor) practitionerOnly() bool {
	if a.Type != ActorStaff || !a.HasRole(RolePractitioner) {
		return false
	}
	return !a.HasRole(RoleAdmin) && !a.HasRole(RoleReceptionist)
}

type Capabilities struct {
	CanView   bool `json:"can_view"`
	CanEdit   bool `json:"can_edit"`
	CanCancel bool `json:"can_cancel"`
}

// Evaluate computes the actor's capabilities on one appointment.
//
// Admins and receptionists act on every appointment of their clinic.
// Practitioners act only on their own appointments, and never on one that
// is still auto-assigned, so the assignment stays anonymous to them. Patients
// act on their own appointments. Terminal appointments stay viewable only.
func Evaluate(actor Actor, appt scheduling.AppointmentView) Capabilities {
	if actor.ClinicID != appt.ClinicID {
		return Capabilities{}
	}

	var allowed bool
	switch actor.Type {
	case ActorStaff:
		switch {
		case actor.IsAdmin(), actor.HasRole(RoleReceptionist):
			allowed = true
		case actor.practitionerOnly():
			allowed = appt.PractitionerID != nil &&
				*appt.PractitionerID == actor.PractitionerID &&
				!appt.IsAutoAssigned
		}
	case ActorPatient:
		allowed = actor.PatientID != 0 && actor.PatientID == appt.PatientID
	}
	if !allowed {
		return Capabilities{}
	}

	return Capabilities{
		CanView:   true,
		CanEdit:   !appt.Status.IsTerminal(),
		CanCancel: appt.Status != scheduling.StatusCompleted,
	}
}

// Project returns the view of the appointment the actor is allowed to see.
func Project(actor Actor, appt scheduling.AppointmentView) scheduling.AppointmentView {
	if actor.Type == ActorPatient {
		return appt.ForPatient()
	}
	return appt
}
