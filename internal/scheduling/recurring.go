package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// MaxOccurrences bounds one recurring request.
const MaxOccurrences = 100

// Error codes reported per failed occurrence.
const (
	CodeConflict           = "conflict"
	CodeDuplicate          = "duplicate"
	CodeBookingRestriction = "booking_restriction"
	CodeNoAvailability     = "no_availability"
	CodeNotFound           = "not_found"
	CodeValidation         = "validation"
	CodeResourceShortfall  = "resource_shortfall"
	CodeInternal           = "internal"
)

type Occurrence struct {
	Date      time.Time
	StartTime timeutil.TimeOfDay
	// ResourceIDs nil takes the suggested allocation for this occurrence.
	ResourceIDs []int64
}

type RecurringRequest struct {
	ClinicID          int64
	PatientID         int64
	AppointmentTypeID int64
	PractitionerID    int64
	Occurrences       []Occurrence
	Notes             *string
	ClinicNotes       *string
	WriteOptions
}

type OccurrenceOutcome struct {
	Index           int                `json:"index"`
	Date            string             `json:"date"`
	StartTime       timeutil.TimeOfDay `json:"start_time"`
	Created         bool               `json:"created"`
	Appointment     *AppointmentView   `json:"appointment,omitempty"`
	ErrorCode       string             `json:"error_code,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	DuplicateIndex  *int               `json:"duplicate_index,omitempty"`
	Conflict        *ConflictReport    `json:"conflict,omitempty"`
	SoftConflicts   *ConflictReport    `json:"soft_conflicts,omitempty"`
	CalendarEventID int64              `json:"calendar_event_id,omitempty"`
}

type RecurringResult struct {
	CreatedCount int                 `json:"created_count"`
	FailedCount  int                 `json:"failed_count"`
	Occurrences  []OccurrenceOutcome `json:"occurrences"`
	SideEffects  SideEffectOutcome   `json:"side_effects"`
}

func validateOccurrences(occurrences []Occurrence) error {
	if len(occurrences) == 0 {
		return apperrors.Validation("invalid_occurrences", "at least one occurrence is required")
	}
	if len(occurrences) > MaxOccurrences {
		return apperrors.Validationf("too_many_occurrences", "at most %d occurrences per request", MaxOccurrences)
	}
	return nil
}

// CreateRecurringAppointments books each occurrence in its own transaction.
// Duplicated instants are rejected before any conflict check, pointing at
// the first occurrence with the same instant.
func (s *Service) CreateRecurringAppointments(ctx context.Context, req RecurringRequest) (*RecurringResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.create_recurring")
	defer span.End()
	span.SetAttributes(attribute.Int("occurrences", len(req.Occurrences)))

	if err := validateOccurrences(req.Occurrences); err != nil {
		return nil, err
	}
	if err := req.WriteOptions.validate(); err != nil {
		return nil, err
	}
	firstSeen := firstOccurrenceOf(s.instantKeys(req.Occurrences))

	results := ProcessEach(ctx, req.Occurrences, func(ctx context.Context, i int, occ Occurrence) (*BookingResult, error) {
		if first := firstSeen[i]; first != i {
			return nil, apperrors.Conflict(CodeDuplicate, "occurrence repeats an earlier one in the same request").WithDetail(first)
		}
		return s.commitBooking(ctx, CreateRequest{
			ClinicID:          req.ClinicID,
			PatientID:         req.PatientID,
			AppointmentTypeID: req.AppointmentTypeID,
			PractitionerID:    req.PractitionerID,
			Date:              occ.Date,
			StartTime:         occ.StartTime,
			Notes:             req.Notes,
			ClinicNotes:       req.ClinicNotes,
			ResourceIDs:       occ.ResourceIDs,
			WriteOptions:      req.WriteOptions,
		})
	})

	succeeded, failed := Partition(results)
	out := &RecurringResult{
		Occurrences:  make([]OccurrenceOutcome, len(results)),
		CreatedCount: len(succeeded),
		FailedCount:  len(failed),
	}
	created := make([]*BookingResult, 0, len(succeeded))
	for _, r := range succeeded {
		o := outcomeFor(r.Index, req.Occurrences[r.Index])
		o.Created = true
		o.Appointment = &r.Value.Appointment
		o.CalendarEventID = r.Value.Appointment.CalendarEventID
		o.SoftConflicts = r.Value.SoftConflicts
		out.Occurrences[r.Index] = o
		created = append(created, r.Value)
	}
	for _, r := range failed {
		o := outcomeFor(r.Index, req.Occurrences[r.Index])
		o.ErrorCode = occurrenceErrorCode(r.Err)
		o.ErrorMessage = r.Err.Error()
		if appErr, ok := apperrors.As(r.Err); ok {
			o.ErrorMessage = appErr.Message
			switch d := appErr.Detail.(type) {
			case ConflictReport:
				o.Conflict = &d
			case int:
				o.DuplicateIndex = &d
			}
		}
		out.Occurrences[r.Index] = o
	}

	outcome := "success"
	if out.FailedCount > 0 {
		outcome = "partial"
	}
	s.metrics.ObserveBooking("create_recurring", outcome)

	switch len(created) {
	case 0:
	case 1:
		out.SideEffects = s.effects.NotifyExternal(ctx, created[0].change)
	default:
		out.SideEffects = s.effects.NotifyExternal(ctx, combinedChange(created))
	}
	return out, nil
}

func outcomeFor(i int, occ Occurrence) OccurrenceOutcome {
	return OccurrenceOutcome{
		Index:     i,
		Date:      timeutil.FormatDate(occ.Date),
		StartTime: occ.StartTime,
	}
}

func combinedChange(created []*BookingResult) AppointmentChange {
	first := created[0].change
	change := AppointmentChange{
		ID:                     uuid.NewString(),
		Kind:                   ChangeRecurringCreated,
		ClinicID:               first.ClinicID,
		PatientID:              first.PatientID,
		NewPractitionerID:      first.NewPractitionerID,
		NewStart:               first.NewStart,
		OriginallyAutoAssigned: first.OriginallyAutoAssigned,
		Origin:                 first.Origin,
		OccurredAt:             first.OccurredAt,
	}
	for _, b := range created {
		change.CalendarEventIDs = append(change.CalendarEventIDs, b.change.CalendarEventIDs...)
	}
	return change
}

func occurrenceErrorCode(err error) string {
	if apperrors.CodeOf(err) == CodeDuplicate {
		return CodeDuplicate
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindConflict:
		return CodeConflict
	case apperrors.KindBookingRestriction:
		return CodeBookingRestriction
	case apperrors.KindAssignment:
		return CodeNoAvailability
	case apperrors.KindNotFound:
		return CodeNotFound
	case apperrors.KindValidation:
		return CodeValidation
	case apperrors.KindResourceShortfall:
		return CodeResourceShortfall
	default:
		return CodeInternal
	}
}

// instantKeys resolves each occurrence to its absolute instant in the clinic
// timezone.
func (s *Service) instantKeys(occurrences []Occurrence) []int64 {
	keys := make([]int64, len(occurrences))
	for i, occ := range occurrences {
		keys[i] = timeutil.Combine(timeutil.DateFromYMD(occ.Date, s.engine.loc), occ.StartTime, s.engine.loc).Unix()
	}
	return keys
}

// firstOccurrenceOf maps each index to the first index sharing its key.
func firstOccurrenceOf[K comparable](keys []K) []int {
	first := make(map[K]int, len(keys))
	out := make([]int, len(keys))
	for i, k := range keys {
		if j, ok := first[k]; ok {
			out[i] = j
			continue
		}
		first[k] = i
		out[i] = i
	}
	return out
}

// duplicatePartners links every member of a group of equal keys to another
// member: the first points at the second, the rest at the first. Indexes
// without duplicates are absent.
func duplicatePartners[K comparable](keys []K) map[int]int {
	groups := make(map[K][]int)
	for i, k := range keys {
		groups[k] = append(groups[k], i)
	}
	out := make(map[int]int)
	for _, idx := range groups {
		if len(idx) < 2 {
			continue
		}
		out[idx[0]] = idx[1]
		for _, i := range idx[1:] {
			out[i] = idx[0]
		}
	}
	return out
}

type RecurringCheckRequest struct {
	ClinicID          int64
	PractitionerID    int64
	AppointmentTypeID int64
	Occurrences       []Occurrence
}

type RecurringCheckItem struct {
	Index          int                `json:"index"`
	Date           string             `json:"date"`
	StartTime      timeutil.TimeOfDay `json:"start_time"`
	IsDuplicate    bool               `json:"is_duplicate"`
	DuplicateIndex *int               `json:"duplicate_index"`
	Conflict       ConflictReport     `json:"conflict"`
}

// CheckRecurringConflicts reports conflicts and in-request duplicates for a
// series of occurrences without writing anything.
func (e *Engine) CheckRecurringConflicts(ctx context.Context, req RecurringCheckRequest) ([]RecurringCheckItem, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.check_recurring_conflicts")
	defer span.End()

	if err := validateOccurrences(req.Occurrences); err != nil {
		return nil, err
	}
	if req.ClinicID <= 0 || req.PractitionerID <= 0 {
		return nil, apperrors.Validation("invalid_practitioner_id", "clinic_id and practitioner_id are required")
	}
	apptType, err := e.bookableType(ctx, req.ClinicID, req.AppointmentTypeID, 0)
	if err != nil {
		return nil, err
	}
	if _, err := e.practitioner(ctx, req.ClinicID, req.PractitionerID); err != nil {
		return nil, err
	}

	dates := make([]time.Time, len(req.Occurrences))
	keys := make([]int64, len(req.Occurrences))
	for i, occ := range req.Occurrences {
		if occ.Date.IsZero() {
			return nil, apperrors.Validationf("invalid_date", "occurrence %d has no date", i)
		}
		if err := validateStartTime(occ.StartTime); err != nil {
			return nil, err
		}
		if err := validateFitsDay(*apptType, occ.StartTime); err != nil {
			return nil, err
		}
		dates[i] = timeutil.DateFromYMD(occ.Date, e.loc)
		keys[i] = timeutil.Combine(dates[i], occ.StartTime, e.loc).Unix()
	}

	snap, err := e.loadSnapshot(ctx, req.ClinicID, *apptType, []int64{req.PractitionerID}, dates)
	if err != nil {
		return nil, err
	}
	partners := duplicatePartners(keys)
	now := e.clock.Now()

	items := make([]RecurringCheckItem, len(req.Occurrences))
	for i, occ := range req.Occurrences {
		report := snap.evaluate(req.PractitionerID, candidate{date: dates[i], start: occ.StartTime}, allChecks, now)
		e.metrics.ObserveConflict(string(report.ConflictType))
		item := RecurringCheckItem{
			Index:     i,
			Date:      timeutil.FormatDate(dates[i]),
			StartTime: occ.StartTime,
			Conflict:  report,
		}
		if partner, ok := partners[i]; ok {
			p := partner
			item.IsDuplicate = true
			item.DuplicateIndex = &p
		}
		items[i] = item
	}
	return items, nil
}
