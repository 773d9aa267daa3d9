package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

type handlers struct {
	svc    *scheduling.Service
	avail  *scheduling.AvailabilityService
	engine *scheduling.Engine
	loc    *time.Location
}

func newHandlers(svc *scheduling.Service, avail *scheduling.AvailabilityService) *handlers {
	engine := svc.Engine()
	return &handlers{svc: svc, avail: avail, engine: engine, loc: engine.Location()}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validationf("invalid_"+strings.TrimSuffix(name, "ID")+"_id", "%s must be a positive integer", name)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, apperrors.Validationf("invalid_"+name, "%s must be a positive integer", name)
	}
	return id, nil
}

func queryIDs(r *http.Request, name string) ([]int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, apperrors.Validationf("invalid_"+name, "%s must be a comma separated list of ids", name)
		}
		out = append(out, id)
	}
	return out, nil
}

func (h *handlers) date(s string) (time.Time, error) {
	d, err := timeutil.ParseDate(s, h.loc)
	if err != nil {
		return time.Time{}, apperrors.Validation("invalid_date", err.Error())
	}
	return d, nil
}

func (h *handlers) optionalDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	d, err := h.date(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (h *handlers) queryTime(r *http.Request, name string) (timeutil.TimeOfDay, error) {
	t, err := timeutil.ParseTimeOfDay(r.URL.Query().Get(name))
	if err != nil {
		return 0, apperrors.Validation("invalid_"+name, err.Error())
	}
	return t, nil
}

func (h *handlers) occurrences(in []OccurrenceRequest) ([]scheduling.Occurrence, error) {
	out := make([]scheduling.Occurrence, len(in))
	for i, o := range in {
		d, err := h.date(o.Date)
		if err != nil {
			return nil, err
		}
		out[i] = scheduling.Occurrence{Date: d, StartTime: o.StartTime, ResourceIDs: o.ResourceIDs}
	}
	return out, nil
}

func writeOptionsFor(actor access.Actor, opts writeOptions) scheduling.WriteOptions {
	return scheduling.WriteOptions{
		Origin:          actor.Origin(),
		ActorUserID:     actor.UserID,
		AllowOverride:   opts.AllowOverride,
		StrictResources: opts.StrictResources,
	}
}

// patientFor resolves whom a booking is for. Patients only book for
// themselves.
func patientFor(actor access.Actor, requested int64) (int64, error) {
	if actor.Type != access.ActorPatient {
		return requested, nil
	}
	if requested != 0 && requested != actor.PatientID {
		return 0, apperrors.Forbidden("not_own_patient", "patients can only book for themselves")
	}
	return actor.PatientID, nil
}

// authorize loads the appointment in the path and checks the capability
// the operation needs.
func (h *handlers) authorize(r *http.Request, need func(access.Capabilities) bool) (*scheduling.AppointmentView, access.Actor, error) {
	actor, _ := actorFrom(r.Context())
	id, err := pathID(r, "appointmentID")
	if err != nil {
		return nil, actor, err
	}
	view, err := h.svc.GetAppointment(r.Context(), actor.ClinicID, id)
	if err != nil {
		return nil, actor, err
	}
	caps := access.Evaluate(actor, *view)
	if !caps.CanView {
		// indistinguishable from a missing appointment
		return nil, actor, apperrors.NotFound("appointment_not_found", scheduling.ErrAppointmentNotFound)
	}
	if !need(caps) {
		return nil, actor, apperrors.Forbidden("not_allowed", "this appointment cannot be changed by the caller")
	}
	return view, actor, nil
}

func canView(c access.Capabilities) bool   { return c.CanView }
func canEdit(c access.Capabilities) bool   { return c.CanEdit }
func canCancel(c access.Capabilities) bool { return c.CanCancel }

func respondView(actor access.Actor, v scheduling.AppointmentView) AppointmentResponse {
	return AppointmentResponse{AppointmentView: access.Project(actor, v), Capabilities: access.Evaluate(actor, v)}
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req CreateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if actor.Type == access.ActorPatient {
		req.ClinicNotes, req.ResourceIDs = nil, nil
	}
	date, err := h.date(req.Date)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	patientID, err := patientFor(actor, req.PatientID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var practitionerID int64
	if req.PractitionerID != nil {
		practitionerID = *req.PractitionerID
	}

	res, err := h.svc.CreateAppointment(r.Context(), scheduling.CreateRequest{
		ClinicID:          actor.ClinicID,
		PatientID:         patientID,
		AppointmentTypeID: req.AppointmentTypeID,
		PractitionerID:    practitionerID,
		Date:              date,
		StartTime:         req.StartTime,
		Notes:             req.Notes,
		ClinicNotes:       req.ClinicNotes,
		ResourceIDs:       req.ResourceIDs,
		WriteOptions:      writeOptionsFor(actor, req.writeOptions),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res.Appointment = access.Project(actor, res.Appointment)
	if res.SoftConflicts != nil {
		report := redactFor(actor, *res.SoftConflicts)
		res.SoftConflicts = &report
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	view, actor, err := h.authorize(r, canView)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondView(actor, *view))
}

func (h *handlers) updateRequest(r *http.Request, clinicID, id int64, actor access.Actor) (scheduling.UpdateRequest, error) {
	var req UpdateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		return scheduling.UpdateRequest{}, err
	}
	if actor.Type == access.ActorPatient {
		// patients may move their appointment, nothing else
		req.PractitionerID, req.AutoAssign = nil, false
		req.ClinicNotes, req.ResourceIDs = nil, nil
	}
	date, err := h.optionalDate(req.Date)
	if err != nil {
		return scheduling.UpdateRequest{}, err
	}
	return scheduling.UpdateRequest{
		ClinicID:        clinicID,
		CalendarEventID: id,
		PractitionerID:  req.PractitionerID,
		Date:            date,
		StartTime:       req.StartTime,
		Notes:           req.Notes,
		ClinicNotes:     req.ClinicNotes,
		AutoAssign:      req.AutoAssign,
		ResourceIDs:     req.ResourceIDs,
		WriteOptions:    writeOptionsFor(actor, req.writeOptions),
	}, nil
}

func (h *handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	view, actor, err := h.authorize(r, canEdit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	req, err := h.updateRequest(r, view.ClinicID, view.CalendarEventID, actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := h.svc.UpdateAppointment(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res.Appointment = access.Project(actor, res.Appointment)
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) previewEdit(w http.ResponseWriter, r *http.Request) {
	view, actor, err := h.authorize(r, canEdit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	req, err := h.updateRequest(r, view.ClinicID, view.CalendarEventID, actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	preview, err := h.svc.PreviewEdit(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	preview.Conflict = redactFor(actor, preview.Conflict)
	writeJSON(w, http.StatusOK, preview)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	view, actor, err := h.authorize(r, canCancel)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var req CancelAppointmentRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}
	}
	res, err := h.svc.CancelAppointment(r.Context(), scheduling.CancelRequest{
		ClinicID:        view.ClinicID,
		CalendarEventID: view.CalendarEventID,
		Reason:          req.Reason,
		WriteOptions:    writeOptionsFor(actor, writeOptions{}),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res.Appointment = access.Project(actor, res.Appointment)
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) setResourceAllocation(w http.ResponseWriter, r *http.Request) {
	view, _, err := h.authorize(r, canEdit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var req ResourceAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	sel, err := h.svc.SetResourceAllocation(r.Context(), scheduling.ResourceAllocationRequest{
		ClinicID:        view.ClinicID,
		CalendarEventID: view.CalendarEventID,
		ResourceIDs:     req.ResourceIDs,
		Strict:          req.Strict,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (h *handlers) notificationRequirements(w http.ResponseWriter, r *http.Request) {
	view, _, err := h.authorize(r, canView)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var req NotificationRequirementsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	date, err := h.optionalDate(req.Date)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	n, err := h.svc.GetNotificationRequirements(r.Context(), view.ClinicID, view.CalendarEventID, scheduling.ProposedChange{
		PractitionerID: req.PractitionerID,
		Date:           date,
		StartTime:      req.StartTime,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *handlers) createRecurring(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req RecurringAppointmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if actor.Type == access.ActorPatient {
		req.ClinicNotes = nil
		for i := range req.Occurrences {
			req.Occurrences[i].ResourceIDs = nil
		}
	}
	occurrences, err := h.occurrences(req.Occurrences)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	patientID, err := patientFor(actor, req.PatientID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	res, err := h.svc.CreateRecurringAppointments(r.Context(), scheduling.RecurringRequest{
		ClinicID:          actor.ClinicID,
		PatientID:         patientID,
		AppointmentTypeID: req.AppointmentTypeID,
		PractitionerID:    req.PractitionerID,
		Occurrences:       occurrences,
		Notes:             req.Notes,
		ClinicNotes:       req.ClinicNotes,
		WriteOptions:      writeOptionsFor(actor, req.writeOptions),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	for i := range res.Occurrences {
		o := &res.Occurrences[i]
		if o.Appointment != nil {
			v := access.Project(actor, *o.Appointment)
			o.Appointment = &v
		}
		if o.Conflict != nil {
			c := redactFor(actor, *o.Conflict)
			o.Conflict = &c
		}
	}

	status := http.StatusCreated
	if res.FailedCount > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (h *handlers) checkRecurring(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req RecurringCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	occurrences, err := h.occurrences(req.Occurrences)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	items, err := h.engine.CheckRecurringConflicts(r.Context(), scheduling.RecurringCheckRequest{
		ClinicID:          actor.ClinicID,
		PractitionerID:    req.PractitionerID,
		AppointmentTypeID: req.AppointmentTypeID,
		Occurrences:       occurrences,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	for i := range items {
		items[i].Conflict = redactFor(actor, items[i].Conflict)
	}
	writeJSON(w, http.StatusOK, ListResponse[scheduling.RecurringCheckItem]{Items: items})
}

func (h *handlers) conflictQuery(clinicID int64, req ConflictCheckRequest) (scheduling.ConflictQuery, error) {
	date, err := h.date(req.Date)
	if err != nil {
		return scheduling.ConflictQuery{}, err
	}
	return scheduling.ConflictQuery{
		ClinicID:               clinicID,
		PractitionerID:         req.PractitionerID,
		AppointmentTypeID:      req.AppointmentTypeID,
		Date:                   date,
		StartTime:              req.StartTime,
		ExcludeCalendarEventID: req.ExcludeCalendarEventID,
		CheckPastAppointment:   req.CheckPastAppointment,
	}, nil
}

func (h *handlers) checkConflicts(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req ConflictCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	q, err := h.conflictQuery(actor.ClinicID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	report, err := h.engine.CheckSchedulingConflicts(r.Context(), q)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redactFor(actor, *report))
}

func (h *handlers) checkConflictsBatch(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req ConflictBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	queries := make([]scheduling.ConflictQuery, len(req.Checks))
	for i, c := range req.Checks {
		q, err := h.conflictQuery(actor.ClinicID, c)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		queries[i] = q
	}
	reports, err := h.engine.CheckSchedulingConflictsBatch(r.Context(), queries)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	for i := range reports {
		reports[i] = redactFor(actor, reports[i])
	}
	writeJSON(w, http.StatusOK, ListResponse[scheduling.ConflictReport]{Items: reports})
}

// slotParams reads the query parameters shared by the slot endpoints.
// Patients always see slots filtered by the booking policy.
type slotParams struct {
	practitionerID int64
	typeID         int64
	exclude        int64
	restrict       bool
}

func (h *handlers) slotParams(r *http.Request, actor access.Actor) (slotParams, error) {
	var p slotParams
	var err error
	if p.practitionerID, err = queryID(r, "practitioner_id"); err != nil {
		return p, err
	}
	if p.typeID, err = queryID(r, "appointment_type_id"); err != nil {
		return p, err
	}
	if p.exclude, err = queryID(r, "exclude_calendar_event_id"); err != nil {
		return p, err
	}
	p.restrict = actor.Type == access.ActorPatient
	if v := r.URL.Query().Get("apply_booking_restrictions"); v != "" && !p.restrict {
		if p.restrict, err = strconv.ParseBool(v); err != nil {
			return p, apperrors.Validation("invalid_apply_booking_restrictions", "apply_booking_restrictions must be a boolean")
		}
	}
	return p, nil
}

func (h *handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	p, err := h.slotParams(r, actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	date, err := h.date(r.URL.Query().Get("date"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	slots, err := h.engine.GetAvailableSlots(r.Context(), scheduling.SlotQuery{
		ClinicID:                 actor.ClinicID,
		PractitionerID:           p.practitionerID,
		AppointmentTypeID:        p.typeID,
		Date:                     date,
		ExcludeCalendarEventID:   p.exclude,
		ApplyBookingRestrictions: p.restrict,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[scheduling.Slot]{Items: slots})
}

func (h *handlers) availableSlotsByDate(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	p, err := h.slotParams(r, actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var dates []time.Time
	for _, s := range strings.Split(r.URL.Query().Get("dates"), ",") {
		d, err := h.date(strings.TrimSpace(s))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		dates = append(dates, d)
	}
	batch, err := h.engine.GetAvailableSlotsBatchByDate(r.Context(), scheduling.DateSlotsQuery{
		ClinicID:                 actor.ClinicID,
		PractitionerID:           p.practitionerID,
		AppointmentTypeID:        p.typeID,
		Dates:                    dates,
		ExcludeCalendarEventID:   p.exclude,
		ApplyBookingRestrictions: p.restrict,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[scheduling.DateSlots]{Items: batch})
}

func (h *handlers) availableSlotsByPractitioner(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	p, err := h.slotParams(r, actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	date, err := h.date(r.URL.Query().Get("date"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	practitionerIDs, err := queryIDs(r, "practitioner_ids")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	batch, err := h.engine.GetAvailableSlotsBatchByPractitioner(r.Context(), scheduling.PractitionerSlotsQuery{
		ClinicID:                 actor.ClinicID,
		AppointmentTypeID:        p.typeID,
		PractitionerIDs:          practitionerIDs,
		Date:                     date,
		ExcludeCalendarEventID:   p.exclude,
		ApplyBookingRestrictions: p.restrict,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[scheduling.PractitionerSlots]{Items: batch})
}

func (h *handlers) autoAssign(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req AutoAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	date, err := h.date(req.Date)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	got, err := h.engine.AutoAssignPractitioner(r.Context(), scheduling.AssignQuery{
		ClinicID:               actor.ClinicID,
		AppointmentTypeID:      req.AppointmentTypeID,
		Date:                   date,
		StartTime:              req.StartTime,
		ExcludeCalendarEventID: req.ExcludeCalendarEventID,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *handlers) resourceAvailability(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	typeID, err := queryID(r, "appointment_type_id")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	exclude, err := queryID(r, "exclude_calendar_event_id")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	date, err := h.date(r.URL.Query().Get("date"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	start, err := h.queryTime(r, "start_time")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	end, err := h.queryTime(r, "end_time")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	avail, err := h.engine.GetResourceAvailabilityForSlot(r.Context(), scheduling.ResourceQuery{
		ClinicID:               actor.ClinicID,
		AppointmentTypeID:      typeID,
		Date:                   date,
		StartTime:              start,
		EndTime:                end,
		ExcludeCalendarEventID: exclude,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (h *handlers) setDefaultAvailability(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	practitionerID, err := pathID(r, "practitionerID")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	weekday, err := strconv.Atoi(chi.URLParam(r, "weekday"))
	if err != nil {
		writeAppError(w, r, apperrors.Validation("invalid_day_of_week", "weekday must be 0 (Monday) to 6 (Sunday)"))
		return
	}
	var req DefaultAvailabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	day, err := h.avail.SetDefaultAvailability(r.Context(), actor.ClinicID, practitionerID, weekday, req.Intervals)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (h *handlers) listDefaultAvailability(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	practitionerID, err := pathID(r, "practitionerID")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	week, err := h.avail.ListDefaultAvailability(r.Context(), actor.ClinicID, practitionerID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[scheduling.DayAvailability]{Items: week})
}

func (h *handlers) createException(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	practitionerID, err := pathID(r, "practitionerID")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var req ExceptionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	date, err := h.date(req.Date)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	exReq := scheduling.ExceptionRequest{
		ClinicID:       actor.ClinicID,
		PractitionerID: practitionerID,
		Date:           date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Name:           req.Name,
	}

	if req.DryRun {
		overlapping, err := h.avail.CheckExceptionConflicts(r.Context(), exReq)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListResponse[scheduling.AppointmentConflict]{Items: overlapping})
		return
	}
	res, err := h.avail.CreateException(r.Context(), exReq)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handlers) deleteException(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	practitionerID, err := pathID(r, "practitionerID")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	eventID, err := pathID(r, "eventID")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.avail.DeleteException(r.Context(), actor.ClinicID, practitionerID, eventID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listCalendar keeps appointments the caller may not view as anonymous
// busy blocks.
func (h *handlers) listCalendar(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	practitionerID, err := pathID(r, "practitionerID")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	from, err := h.date(r.URL.Query().Get("from"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	to, err := h.date(r.URL.Query().Get("to"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	entries, err := h.svc.ListCalendar(r.Context(), actor.ClinicID, practitionerID, from, to)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	for i := range entries {
		if e := &entries[i]; e.Appointment != nil && !access.Evaluate(actor, *e.Appointment).CanView {
			e.Appointment = nil
		}
	}
	writeJSON(w, http.StatusOK, ListResponse[scheduling.CalendarEntry]{Items: entries})
}
