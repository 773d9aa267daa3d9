package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentCanceled  = "APPOINTMENT_CANCELED"
	EventResourcesAllocated   = "RESOURCES_ALLOCATED"
	EventExceptionCreated     = "AVAILABILITY_EXCEPTION_CREATED"
	EventExceptionDeleted     = "AVAILABILITY_EXCEPTION_DELETED"
	EventAvailabilityReplaced = "DEFAULT_AVAILABILITY_REPLACED"
)

// Service is the appointment lifecycle: create, edit, cancel and recurring
// create. Every write runs under the practitioner-day lock inside one
// transaction; collaborators are called only after commit.
type Service struct {
	store   Store
	engine  *Engine
	locker  redisclient.Locker
	effects *SideEffects
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics
}

func NewService(store Store, engine *Engine, locker redisclient.Locker, effects *SideEffects, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Service {
	return &Service{
		store:   store,
		engine:  engine,
		locker:  locker,
		effects: effects,
		logger:  logger,
		metrics: m,
	}
}

func (s *Service) Engine() *Engine { return s.engine }

func (s *Service) now() time.Time { return s.engine.clock.Now() }

// WriteOptions carries who asked and how strictly conflicts are enforced.
// AllowOverride and the bypass of booking policy only apply to clinic-origin
// requests.
type WriteOptions struct {
	Origin          Origin
	ActorUserID     int64
	AllowOverride   bool
	StrictResources bool
}

func (o WriteOptions) validate() error {
	if !o.Origin.Valid() {
		return apperrors.Validationf("invalid_origin", "origin must be %q or %q", OriginPatient, OriginClinic)
	}
	return nil
}

func (o WriteOptions) conflictPolicy() conflictPolicy {
	if o.Origin == OriginPatient {
		return blockEverything
	}
	return conflictPolicy{overrideAvailability: o.AllowOverride, strictResources: o.StrictResources}
}

type CreateRequest struct {
	ClinicID          int64
	PatientID         int64
	AppointmentTypeID int64
	// PractitionerID 0 asks for auto-assignment.
	PractitionerID int64
	Date           time.Time
	StartTime      timeutil.TimeOfDay
	Notes          *string
	ClinicNotes    *string
	// ResourceIDs nil takes the suggested allocation.
	ResourceIDs []int64
	WriteOptions
}

func (r CreateRequest) validate() error {
	switch {
	case r.ClinicID <= 0:
		return apperrors.Validation("invalid_clinic_id", "clinic_id is required")
	case r.PatientID <= 0:
		return apperrors.Validation("invalid_patient_id", "patient_id is required")
	case r.AppointmentTypeID <= 0:
		return apperrors.Validation("invalid_appointment_type_id", "appointment_type_id is required")
	case r.PractitionerID < 0:
		return apperrors.Validation("invalid_practitioner_id", "practitioner_id must be positive")
	case r.Date.IsZero():
		return apperrors.Validation("invalid_date", "date is required")
	}
	if err := validateStartTime(r.StartTime); err != nil {
		return err
	}
	return r.WriteOptions.validate()
}

// BookingResult is the committed outcome of a create, before side effects.
type BookingResult struct {
	Appointment   AppointmentView   `json:"appointment"`
	SoftConflicts *ConflictReport   `json:"soft_conflicts,omitempty"`
	Resources     ResourceSelection `json:"resources"`
	change        AppointmentChange
}

type CreateResult struct {
	BookingResult
	SideEffects SideEffectOutcome `json:"side_effects"`
}

// CreateAppointment books one appointment and then runs side effects.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.create_appointment")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.id", req.ClinicID), attribute.Int64("patient.id", req.PatientID))

	booking, err := s.commitBooking(ctx, req)
	if err != nil {
		s.fail(span, "create", err)
		return nil, err
	}
	s.metrics.ObserveBooking("create", "success")

	outcome := s.effects.NotifyExternal(ctx, booking.change)
	return &CreateResult{BookingResult: *booking, SideEffects: outcome}, nil
}

func (s *Service) commitBooking(ctx context.Context, req CreateRequest) (*BookingResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	loc := s.engine.loc
	date := timeutil.DateFromYMD(req.Date, loc)
	now := s.now()

	settings, err := s.store.GetClinicSettings(ctx, req.ClinicID)
	if err != nil {
		return nil, lookupError(err, "clinic settings")
	}
	policy := NewBookingPolicy(*settings, now, loc)
	if err := s.checkBookingTime(policy, req.Origin, date, req.StartTime); err != nil {
		return nil, err
	}

	patient, err := s.store.GetPatient(ctx, req.ClinicID, req.PatientID)
	if err != nil {
		return nil, lookupError(err, "patient")
	}
	if !patient.Active {
		return nil, apperrors.NotFound("patient_inactive", ErrPatientNotFound)
	}
	apptType, err := s.engine.bookableType(ctx, req.ClinicID, req.AppointmentTypeID, 0)
	if err != nil {
		return nil, err
	}
	if err := validateFitsDay(*apptType, req.StartTime); err != nil {
		return nil, err
	}

	conflicts := req.conflictPolicy()
	practitionerID := req.PractitionerID
	autoAssigned := practitionerID == 0
	if autoAssigned {
		assignment, err := s.engine.autoAssign(ctx, AssignQuery{
			ClinicID:          req.ClinicID,
			AppointmentTypeID: req.AppointmentTypeID,
			Date:              date,
			StartTime:         req.StartTime,
		}, conflicts)
		if err != nil {
			return nil, err
		}
		practitionerID = assignment.PractitionerID
	} else if _, err := s.engine.resolvePractitioners(ctx, req.ClinicID, req.AppointmentTypeID, []int64{practitionerID}); err != nil {
		return nil, err
	}

	var result *BookingResult
	err = s.withPractitionerDay(ctx, req.ClinicID, practitionerID, date, func(ctx context.Context, tx Tx) error {
		if req.Origin == OriginPatient {
			if err := tx.LockPatient(ctx, req.ClinicID, req.PatientID); err != nil {
				return apperrors.Internal("lock patient", err)
			}
			nowDate, nowTime := timeutil.Split(now, loc)
			count, err := tx.CountPatientFutureAppointments(ctx, req.ClinicID, req.PatientID, nowDate, nowTime)
			if err != nil {
				return apperrors.Internal("count patient appointments", err)
			}
			if err := policy.CheckPatientCap(count); err != nil {
				return err
			}
		}

		eng := s.engine.using(tx)
		snap, err := eng.loadSnapshot(ctx, req.ClinicID, *apptType, []int64{practitionerID}, []time.Time{date})
		if err != nil {
			return err
		}
		c := candidate{date: date, start: req.StartTime}
		report := snap.evaluate(practitionerID, c, writeChecks, now)
		if conflicts.blocking(report) {
			return conflictError(report)
		}
		nominal := snap.nominal(c)

		selection, err := s.chooseResources(ctx, tx, snap, req.ClinicID, req.ResourceIDs, date, nominal, 0, req.StrictResources)
		if err != nil {
			return err
		}

		ev := &CalendarEvent{
			PractitionerID: practitionerID,
			ClinicID:       req.ClinicID,
			EventType:      EventTypeAppointment,
			Date:           date,
			StartTime:      &nominal.Start,
			EndTime:        &nominal.End,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertCalendarEvent(ctx, ev); err != nil {
			return apperrors.Internal("insert calendar event", err)
		}
		appt := &Appointment{
			CalendarEventID:        ev.ID,
			PatientID:              req.PatientID,
			AppointmentTypeID:      req.AppointmentTypeID,
			Status:                 StatusConfirmed,
			IsAutoAssigned:         autoAssigned,
			OriginallyAutoAssigned: autoAssigned,
			Notes:                  req.Notes,
			ClinicNotes:            req.ClinicNotes,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return apperrors.Internal("insert appointment", err)
		}
		if len(selection.ResourceIDs) > 0 {
			if err := tx.ReplaceAllocations(ctx, req.ClinicID, ev.ID, selection.ResourceIDs); err != nil {
				return apperrors.Internal("allocate resources", err)
			}
		}
		if err := recordEvent(ctx, tx, req.ClinicID, EventAppointmentCreated, ev.ID, now, map[string]any{
			"practitioner_id": practitionerID,
			"patient_id":      req.PatientID,
			"date":            timeutil.FormatDate(date),
			"start_time":      nominal.Start.String(),
			"auto_assigned":   autoAssigned,
			"origin":          req.Origin,
			"actor_user_id":   req.ActorUserID,
		}); err != nil {
			return err
		}

		rec := AppointmentRecord{Event: *ev, Appointment: *appt, BufferMinutes: apptType.SchedulingBufferMinutes}
		start := timeutil.Combine(date, nominal.Start, loc)
		result = &BookingResult{
			Appointment: NewAppointmentView(rec, selection.ResourceIDs),
			Resources:   selection,
			change: AppointmentChange{
				ID:                     uuid.NewString(),
				Kind:                   ChangeCreated,
				ClinicID:               req.ClinicID,
				CalendarEventIDs:       []int64{ev.ID},
				PatientID:              req.PatientID,
				NewPractitionerID:      practitionerID,
				NewStart:               &start,
				OriginallyAutoAssigned: autoAssigned,
				Origin:                 req.Origin,
				OccurredAt:             now,
			},
		}
		if report.HasConflict {
			result.SoftConflicts = &report
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkBookingTime applies the full policy to patients; staff only get the
// past-time rule.
func (s *Service) checkBookingTime(policy BookingPolicy, origin Origin, date time.Time, start timeutil.TimeOfDay) error {
	if origin == OriginPatient {
		return policy.CheckBookingTime(date, start)
	}
	if timeutil.Combine(date, start, s.engine.loc).Before(policy.now) {
		return apperrors.BookingRestriction("past_time", "appointment time is in the past")
	}
	return nil
}

// chooseResources validates an explicit selection or falls back to the
// first-fit suggestion when requested is nil.
func (s *Service) chooseResources(ctx context.Context, tx Tx, snap *snapshot, clinicID int64, requested []int64, date time.Time, window timeutil.Interval, exclude int64, strict bool) (ResourceSelection, error) {
	if requested == nil {
		avail := snap.resourceAvailability(date, window, exclude)
		sel := ResourceSelection{ResourceIDs: avail.SuggestedAllocation, Shortfalls: nil}
		if len(avail.Conflicts) > 0 {
			sel.Shortfalls = avail.Conflicts
		}
		if strict {
			if err := sel.strictError(); err != nil {
				return sel, err
			}
		}
		return sel, nil
	}

	selected, err := loadSelectedResources(ctx, tx, clinicID, requested)
	if err != nil {
		return ResourceSelection{}, err
	}
	sel := snap.reviewSelection(selected, date, window, exclude)
	if strict {
		if err := sel.strictError(); err != nil {
			return sel, err
		}
	}
	return sel, nil
}

type UpdateRequest struct {
	ClinicID        int64
	CalendarEventID int64
	// Nil fields keep the current value.
	PractitionerID *int64
	Date           *time.Time
	StartTime      *timeutil.TimeOfDay
	Notes          *string
	ClinicNotes    *string
	// AutoAssign picks a new practitioner and overrides PractitionerID.
	AutoAssign  bool
	ResourceIDs []int64
	WriteOptions
}

type UpdateResult struct {
	Appointment   AppointmentView          `json:"appointment"`
	SoftConflicts *ConflictReport          `json:"soft_conflicts,omitempty"`
	Notification  NotificationRequirements `json:"notification"`
	Resources     ResourceSelection        `json:"resources"`
	SideEffects   SideEffectOutcome        `json:"side_effects"`
}

// editPlan is the effective state an edit would produce.
type editPlan struct {
	current        AppointmentRecord
	apptType       AppointmentType
	practitionerID int64
	autoAssigned   bool
	date           time.Time
	start          timeutil.TimeOfDay
}

func (p editPlan) moved() bool {
	return p.practitionerID != p.current.Event.PractitionerID ||
		!timeutil.SameDate(p.date, p.current.Event.Date) ||
		p.start != p.current.Event.Interval().Start
}

func (s *Service) planEdit(ctx context.Context, req UpdateRequest) (*editPlan, error) {
	if req.ClinicID <= 0 || req.CalendarEventID <= 0 {
		return nil, apperrors.Validation("invalid_appointment_id", "clinic_id and appointment id are required")
	}
	if err := req.WriteOptions.validate(); err != nil {
		return nil, err
	}
	if req.StartTime != nil {
		if err := validateStartTime(*req.StartTime); err != nil {
			return nil, err
		}
	}

	current, err := s.store.GetAppointment(ctx, req.ClinicID, req.CalendarEventID)
	if err != nil {
		return nil, lookupError(err, "appointment")
	}
	if current.Appointment.Status.IsTerminal() {
		return nil, apperrors.Conflict("appointment_not_editable",
			fmt.Sprintf("appointment is %s", current.Appointment.Status))
	}
	apptType, err := s.engine.appointmentType(ctx, req.ClinicID, current.Appointment.AppointmentTypeID)
	if err != nil {
		return nil, err
	}

	plan := &editPlan{
		current:        *current,
		apptType:       *apptType,
		practitionerID: current.Event.PractitionerID,
		autoAssigned:   current.Appointment.IsAutoAssigned,
		date:           timeutil.DateFromYMD(current.Event.Date, s.engine.loc),
		start:          current.Event.Interval().Start,
	}
	if req.Date != nil {
		plan.date = timeutil.DateFromYMD(*req.Date, s.engine.loc)
	}
	if req.StartTime != nil {
		plan.start = *req.StartTime
	}
	if err := validateFitsDay(plan.apptType, plan.start); err != nil {
		return nil, err
	}

	switch {
	case req.AutoAssign:
		assignment, err := s.engine.autoAssign(ctx, AssignQuery{
			ClinicID:               req.ClinicID,
			AppointmentTypeID:      apptType.ID,
			Date:                   plan.date,
			StartTime:              plan.start,
			ExcludeCalendarEventID: req.CalendarEventID,
		}, req.conflictPolicy())
		if err != nil {
			return nil, err
		}
		plan.practitionerID = assignment.PractitionerID
		plan.autoAssigned = true
	case req.PractitionerID != nil && *req.PractitionerID != current.Event.PractitionerID:
		if _, err := s.engine.resolvePractitioners(ctx, req.ClinicID, apptType.ID, []int64{*req.PractitionerID}); err != nil {
			return nil, err
		}
		plan.practitionerID = *req.PractitionerID
		plan.autoAssigned = false
	}
	return plan, nil
}

// UpdateAppointment edits an appointment in place, re-checking conflicts
// against everything except itself.
func (s *Service) UpdateAppointment(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.update_appointment")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.id", req.ClinicID), attribute.Int64("appointment.id", req.CalendarEventID))

	plan, err := s.planEdit(ctx, req)
	if err != nil {
		s.fail(span, "update", err)
		return nil, err
	}
	now := s.now()
	loc := s.engine.loc

	if plan.moved() {
		settings, err := s.store.GetClinicSettings(ctx, req.ClinicID)
		if err != nil {
			return nil, lookupError(err, "clinic settings")
		}
		if err := s.checkBookingTime(NewBookingPolicy(*settings, now, loc), req.Origin, plan.date, plan.start); err != nil {
			s.fail(span, "update", err)
			return nil, err
		}
	}

	var result *UpdateResult
	var change AppointmentChange
	err = s.withPractitionerDay(ctx, req.ClinicID, plan.practitionerID, plan.date, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetAppointmentForUpdate(ctx, req.ClinicID, req.CalendarEventID)
		if err != nil {
			return lookupError(err, "appointment")
		}
		if stale(locked, &plan.current) {
			return apperrors.Conflict("appointment_modified", "appointment changed concurrently, reload and retry")
		}

		eng := s.engine.using(tx)
		snap, err := eng.loadSnapshot(ctx, req.ClinicID, plan.apptType, []int64{plan.practitionerID}, []time.Time{plan.date})
		if err != nil {
			return err
		}
		c := candidate{date: plan.date, start: plan.start, exclude: req.CalendarEventID}
		report := snap.evaluate(plan.practitionerID, c, writeChecks, now)
		if req.conflictPolicy().blocking(report) {
			return conflictError(report)
		}
		nominal := snap.nominal(c)

		allocated, err := tx.ListAllocatedResourceIDs(ctx, req.ClinicID, req.CalendarEventID)
		if err != nil {
			return apperrors.Internal("load allocations", err)
		}
		selection := ResourceSelection{ResourceIDs: allocated}
		// a moved appointment without an explicit selection is re-suggested
		if req.ResourceIDs != nil || plan.moved() {
			selection, err = s.chooseResources(ctx, tx, snap, req.ClinicID, req.ResourceIDs, plan.date, nominal, req.CalendarEventID, req.StrictResources)
			if err != nil {
				return err
			}
			if err := tx.ReplaceAllocations(ctx, req.ClinicID, req.CalendarEventID, selection.ResourceIDs); err != nil {
				return apperrors.Internal("replace allocations", err)
			}
		}

		ev := locked.Event
		ev.PractitionerID = plan.practitionerID
		ev.Date = plan.date
		ev.StartTime = &nominal.Start
		ev.EndTime = &nominal.End
		ev.UpdatedAt = now
		if err := tx.UpdateCalendarEvent(ctx, &ev); err != nil {
			return apperrors.Internal("update calendar event", err)
		}

		appt := locked.Appointment
		if plan.practitionerID != locked.Event.PractitionerID {
			appt.IsAutoAssigned = plan.autoAssigned
			if !plan.autoAssigned && req.ActorUserID > 0 {
				actor := req.ActorUserID
				appt.ReassignedByUserID = &actor
			}
			reassignedAt := now
			appt.ReassignedAt = &reassignedAt
		}
		if req.Notes != nil {
			appt.Notes = req.Notes
		}
		if req.ClinicNotes != nil {
			appt.ClinicNotes = req.ClinicNotes
		}
		if err := tx.UpdateAppointment(ctx, &appt); err != nil {
			return apperrors.Internal("update appointment", err)
		}

		notification := notificationRequirements(*locked, plan.practitionerID, plan.date, plan.start)
		if err := recordEvent(ctx, tx, req.ClinicID, EventAppointmentUpdated, ev.ID, now, map[string]any{
			"old_practitioner_id": locked.Event.PractitionerID,
			"new_practitioner_id": plan.practitionerID,
			"old_date":            timeutil.FormatDate(locked.Event.Date),
			"new_date":            timeutil.FormatDate(plan.date),
			"old_start_time":      locked.Event.Interval().Start.String(),
			"new_start_time":      nominal.Start.String(),
			"origin":              req.Origin,
			"actor_user_id":       req.ActorUserID,
		}); err != nil {
			return err
		}

		rec := AppointmentRecord{Event: ev, Appointment: appt, BufferMinutes: plan.apptType.SchedulingBufferMinutes}
		result = &UpdateResult{
			Appointment:  NewAppointmentView(rec, selection.ResourceIDs),
			Notification: notification,
			Resources:    selection,
		}
		if report.HasConflict {
			result.SoftConflicts = &report
		}
		oldStart := timeutil.Combine(locked.Event.Date, locked.Event.Interval().Start, loc)
		newStart := timeutil.Combine(plan.date, nominal.Start, loc)
		change = AppointmentChange{
			ID:                     uuid.NewString(),
			Kind:                   ChangeUpdated,
			ClinicID:               req.ClinicID,
			CalendarEventIDs:       []int64{ev.ID},
			PatientID:              appt.PatientID,
			OldPractitionerID:      locked.Event.PractitionerID,
			NewPractitionerID:      plan.practitionerID,
			OldStart:               &oldStart,
			NewStart:               &newStart,
			OriginallyAutoAssigned: appt.OriginallyAutoAssigned,
			Origin:                 req.Origin,
			OccurredAt:             now,
		}
		return nil
	})
	if err != nil {
		s.fail(span, "update", err)
		return nil, err
	}
	s.metrics.ObserveBooking("update", "success")

	if result.Notification.WillNotify {
		result.SideEffects = s.effects.NotifyExternal(ctx, change)
	}
	return result, nil
}

// stale reports whether the locked row differs from the one the edit was
// planned against.
func stale(locked, planned *AppointmentRecord) bool {
	if locked.Appointment.Status.IsTerminal() {
		return true
	}
	return locked.Event.PractitionerID != planned.Event.PractitionerID ||
		!timeutil.SameDate(locked.Event.Date, planned.Event.Date) ||
		locked.Event.Interval() != planned.Event.Interval() ||
		locked.Appointment.Status != planned.Appointment.Status
}

type EditPreview struct {
	Conflict       ConflictReport           `json:"conflict"`
	Blocking       bool                     `json:"blocking"`
	Notification   NotificationRequirements `json:"notification"`
	WillNotify     bool                     `json:"will_notify"`
	PractitionerID int64                    `json:"practitioner_id"`
	Date           string                   `json:"date"`
	StartTime      timeutil.TimeOfDay       `json:"start_time"`
	EndTime        timeutil.TimeOfDay       `json:"end_time"`
}

// PreviewEdit computes what UpdateAppointment would decide without writing.
func (s *Service) PreviewEdit(ctx context.Context, req UpdateRequest) (*EditPreview, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.preview_edit")
	defer span.End()

	plan, err := s.planEdit(ctx, req)
	if err != nil {
		return nil, err
	}
	snap, err := s.engine.loadSnapshot(ctx, req.ClinicID, plan.apptType, []int64{plan.practitionerID}, []time.Time{plan.date})
	if err != nil {
		return nil, err
	}
	c := candidate{date: plan.date, start: plan.start, exclude: req.CalendarEventID}
	report := snap.evaluate(plan.practitionerID, c, writeChecks, s.now())
	notification := notificationRequirements(plan.current, plan.practitionerID, plan.date, plan.start)
	nominal := snap.nominal(c)
	return &EditPreview{
		Conflict:       report,
		Blocking:       req.conflictPolicy().blocking(report),
		Notification:   notification,
		WillNotify:     notification.WillNotify,
		PractitionerID: plan.practitionerID,
		Date:           timeutil.FormatDate(plan.date),
		StartTime:      nominal.Start,
		EndTime:        nominal.End,
	}, nil
}

type CancelRequest struct {
	ClinicID        int64
	CalendarEventID int64
	Reason          *string
	WriteOptions
}

type CancelResult struct {
	Appointment      AppointmentView   `json:"appointment"`
	AlreadyCancelled bool              `json:"already_cancelled"`
	SideEffects      SideEffectOutcome `json:"side_effects"`
}

// CancelAppointment is idempotent: a second cancel reports AlreadyCancelled
// and leaves canceled_at untouched.
func (s *Service) CancelAppointment(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancel_appointment")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.id", req.ClinicID), attribute.Int64("appointment.id", req.CalendarEventID))

	if req.ClinicID <= 0 || req.CalendarEventID <= 0 {
		return nil, apperrors.Validation("invalid_appointment_id", "clinic_id and appointment id are required")
	}
	if err := req.WriteOptions.validate(); err != nil {
		return nil, err
	}
	now := s.now()

	var policy *BookingPolicy
	if req.Origin == OriginPatient {
		settings, err := s.store.GetClinicSettings(ctx, req.ClinicID)
		if err != nil {
			return nil, lookupError(err, "clinic settings")
		}
		p := NewBookingPolicy(*settings, now, s.engine.loc)
		policy = &p
	}

	var result *CancelResult
	var change AppointmentChange
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.GetAppointmentForUpdate(ctx, req.ClinicID, req.CalendarEventID)
		if err != nil {
			return lookupError(err, "appointment")
		}
		resources, err := tx.ListAllocatedResourceIDs(ctx, req.ClinicID, req.CalendarEventID)
		if err != nil {
			return apperrors.Internal("load allocations", err)
		}
		if rec.Appointment.Status.IsCanceled() {
			result = &CancelResult{Appointment: NewAppointmentView(*rec, resources), AlreadyCancelled: true}
			return nil
		}
		if rec.Appointment.Status == StatusCompleted {
			return apperrors.Conflict("appointment_completed", "a completed appointment cannot be canceled")
		}
		if policy != nil {
			if err := policy.CheckCancellation(rec.Event.Date, rec.Event.Interval().Start); err != nil {
				return err
			}
		}

		appt := rec.Appointment
		appt.Status = StatusCanceledByClinic
		if req.Origin == OriginPatient {
			appt.Status = StatusCanceledByPatient
		}
		canceledAt := now
		appt.CanceledAt = &canceledAt
		if err := tx.UpdateAppointment(ctx, &appt); err != nil {
			return apperrors.Internal("cancel appointment", err)
		}
		payload := map[string]any{"status": appt.Status, "origin": req.Origin, "actor_user_id": req.ActorUserID}
		if req.Reason != nil {
			payload["reason"] = *req.Reason
		}
		if err := recordEvent(ctx, tx, req.ClinicID, EventAppointmentCanceled, rec.Event.ID, now, payload); err != nil {
			return err
		}

		rec.Appointment = appt
		result = &CancelResult{Appointment: NewAppointmentView(*rec, resources)}
		start := timeutil.Combine(rec.Event.Date, rec.Event.Interval().Start, s.engine.loc)
		change = AppointmentChange{
			ID:                     uuid.NewString(),
			Kind:                   ChangeCanceled,
			ClinicID:               req.ClinicID,
			CalendarEventIDs:       []int64{rec.Event.ID},
			PatientID:              appt.PatientID,
			OldPractitionerID:      rec.Event.PractitionerID,
			OldStart:               &start,
			OriginallyAutoAssigned: appt.OriginallyAutoAssigned,
			Origin:                 req.Origin,
			OccurredAt:             now,
		}
		return nil
	})
	if err != nil {
		s.fail(span, "cancel", err)
		return nil, err
	}

	if result.AlreadyCancelled {
		s.metrics.ObserveBooking("cancel", "already_cancelled")
		return result, nil
	}
	s.metrics.ObserveBooking("cancel", "success")
	result.SideEffects = s.effects.NotifyExternal(ctx, change)
	return result, nil
}

type ResourceAllocationRequest struct {
	ClinicID        int64
	CalendarEventID int64
	ResourceIDs     []int64
	Strict          bool
}

// SetResourceAllocation replaces an appointment's allocation set.
func (s *Service) SetResourceAllocation(ctx context.Context, req ResourceAllocationRequest) (*ResourceSelection, error) {
	if req.ClinicID <= 0 || req.CalendarEventID <= 0 {
		return nil, apperrors.Validation("invalid_appointment_id", "clinic_id and appointment id are required")
	}
	if req.ResourceIDs == nil {
		req.ResourceIDs = []int64{}
	}
	now := s.now()

	var selection ResourceSelection
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.GetAppointmentForUpdate(ctx, req.ClinicID, req.CalendarEventID)
		if err != nil {
			return lookupError(err, "appointment")
		}
		if rec.Appointment.Status.IsTerminal() {
			return apperrors.Conflict("appointment_not_editable", fmt.Sprintf("appointment is %s", rec.Appointment.Status))
		}
		apptType, err := s.engine.using(tx).appointmentType(ctx, req.ClinicID, rec.Appointment.AppointmentTypeID)
		if err != nil {
			return err
		}
		date := timeutil.DateFromYMD(rec.Event.Date, s.engine.loc)
		snap, err := s.engine.using(tx).loadResourceSnapshot(ctx, req.ClinicID, *apptType, date)
		if err != nil {
			return err
		}
		selection, err = s.chooseResources(ctx, tx, snap, req.ClinicID, req.ResourceIDs, date, rec.Event.Interval(), rec.Event.ID, req.Strict)
		if err != nil {
			return err
		}
		if err := tx.ReplaceAllocations(ctx, req.ClinicID, rec.Event.ID, selection.ResourceIDs); err != nil {
			return apperrors.Internal("replace allocations", err)
		}
		return recordEvent(ctx, tx, req.ClinicID, EventResourcesAllocated, rec.Event.ID, now, map[string]any{
			"resource_ids": selection.ResourceIDs,
		})
	})
	if err != nil {
		return nil, err
	}
	return &selection, nil
}

func (s *Service) GetAppointment(ctx context.Context, clinicID, calendarEventID int64) (*AppointmentView, error) {
	rec, err := s.store.GetAppointment(ctx, clinicID, calendarEventID)
	if err != nil {
		return nil, lookupError(err, "appointment")
	}
	resources, err := s.store.ListAllocatedResourceIDs(ctx, clinicID, calendarEventID)
	if err != nil {
		return nil, apperrors.Internal("load allocations", err)
	}
	view := NewAppointmentView(*rec, resources)
	return &view, nil
}

// MaxCalendarDays bounds a calendar listing.
const MaxCalendarDays = 62

// ListCalendar returns a practitioner's active appointments and exceptions
// between from and to inclusive, ordered by date and start.
func (s *Service) ListCalendar(ctx context.Context, clinicID, practitionerID int64, from, to time.Time) ([]CalendarEntry, error) {
	loc := s.engine.loc
	from, to = timeutil.DateFromYMD(from, loc), timeutil.DateFromYMD(to, loc)
	if to.Before(from) {
		return nil, apperrors.Validation("invalid_date_range", "to must not be before from")
	}
	if len(timeutil.DateRange(from, to)) > MaxCalendarDays {
		return nil, apperrors.Validationf("date_range_too_long", "at most %d days per request", MaxCalendarDays)
	}
	if _, err := s.store.GetPractitioner(ctx, clinicID, practitionerID); err != nil {
		return nil, lookupError(err, "practitioner")
	}

	appts, err := s.store.ListAppointmentsOnDates(ctx, clinicID, []int64{practitionerID}, from, to)
	if err != nil {
		return nil, apperrors.Internal("load appointments", err)
	}
	exceptions, err := s.store.ListExceptions(ctx, clinicID, []int64{practitionerID}, from, to)
	if err != nil {
		return nil, apperrors.Internal("load exceptions", err)
	}

	entries := make([]CalendarEntry, 0, len(appts)+len(exceptions))
	for _, rec := range appts {
		view := NewAppointmentView(rec, nil)
		entries = append(entries, CalendarEntry{
			CalendarEventID: rec.Event.ID,
			EventType:       EventTypeAppointment,
			Date:            timeutil.FormatDate(rec.Event.Date),
			StartTime:       rec.Event.StartTime,
			EndTime:         rec.Event.EndTime,
			Appointment:     &view,
		})
	}
	for _, ev := range exceptions {
		entries = append(entries, CalendarEntry{
			CalendarEventID: ev.ID,
			EventType:       EventTypeAvailabilityException,
			Date:            timeutil.FormatDate(ev.Date),
			StartTime:       ev.StartTime,
			EndTime:         ev.EndTime,
			Name:            ev.CustomEventName,
		})
	}
	sortCalendar(entries)
	return entries, nil
}

// withPractitionerDay runs fn in a transaction holding both the distributed
// practitioner-day lock and the database-level one.
func (s *Service) withPractitionerDay(ctx context.Context, clinicID, practitionerID int64, date time.Time, fn func(ctx context.Context, tx Tx) error) error {
	run := func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.LockPractitionerDay(ctx, practitionerID, date); err != nil {
				return apperrors.Internal("lock practitioner day", err)
			}
			return fn(ctx, tx)
		})
	}
	var err error
	if s.locker == nil {
		err = run(ctx)
	} else {
		err = s.locker.WithLock(ctx, redisclient.PractitionerDayKey(clinicID, practitionerID, date), run)
	}
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return apperrors.Conflict("slot_being_booked", "another booking for this practitioner is in progress, please retry")
	}
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			return apperrors.Internal("transaction failed", err)
		}
	}
	return err
}

func conflictError(report ConflictReport) error {
	return apperrors.Conflict("conflict",
		fmt.Sprintf("requested time has a %s conflict", report.ConflictType)).WithDetail(report)
}

func recordEvent(ctx context.Context, tx Tx, clinicID int64, eventType string, calendarEventID int64, at time.Time, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Internal("marshal event payload", err)
	}
	ev := EventLog{
		ClinicID:  clinicID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: at,
	}
	if calendarEventID != 0 {
		id := calendarEventID
		ev.CalendarEventID = &id
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return apperrors.Internal("insert event log", err)
	}
	return nil
}

func (s *Service) fail(span trace.Span, operation string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	kind := apperrors.KindOf(err)
	s.metrics.ObserveBooking(operation, string(kind))
	if kind == apperrors.KindInternal {
		s.logger.Error().Err(err).Str("operation", operation).Msg("scheduling operation failed")
	}
}
