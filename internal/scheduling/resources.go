package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

type ResourceQuery struct {
	ClinicID               int64
	AppointmentTypeID      int64
	Date                   time.Time
	StartTime              timeutil.TimeOfDay
	EndTime                timeutil.TimeOfDay
	ExcludeCalendarEventID int64
}

type ResourceSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type RequirementStatus struct {
	ResourceTypeID     int64             `json:"resource_type_id"`
	ResourceTypeName   string            `json:"resource_type_name"`
	Required           int               `json:"required"`
	Available          int               `json:"available"`
	AvailableResources []ResourceSummary `json:"available_resources"`
}

type ResourceAvailability struct {
	Requirements        []RequirementStatus `json:"requirements"`
	SuggestedAllocation []int64             `json:"suggested_allocation"`
	Conflicts           []ResourceConflict  `json:"conflicts"`
}

// GetResourceAvailabilityForSlot reports, per required resource type, which
// resources are free in the window plus a first-fit allocation suggestion.
func (e *Engine) GetResourceAvailabilityForSlot(ctx context.Context, q ResourceQuery) (*ResourceAvailability, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.resource_availability")
	defer span.End()

	if q.ClinicID <= 0 {
		return nil, apperrors.Validation("invalid_clinic_id", "clinic_id is required")
	}
	if q.Date.IsZero() {
		return nil, apperrors.Validation("invalid_date", "date is required")
	}
	window, err := timeutil.NewInterval(q.StartTime, q.EndTime)
	if err != nil {
		return nil, apperrors.Validation("invalid_time_range", err.Error())
	}
	date := timeutil.DateFromYMD(q.Date, e.loc)

	apptType, err := e.bookableType(ctx, q.ClinicID, q.AppointmentTypeID, q.ExcludeCalendarEventID)
	if err != nil {
		return nil, err
	}
	snap, err := e.loadResourceSnapshot(ctx, q.ClinicID, *apptType, date)
	if err != nil {
		return nil, err
	}
	availability := snap.resourceAvailability(date, window, q.ExcludeCalendarEventID)
	return &availability, nil
}

func (e *Engine) loadResourceSnapshot(ctx context.Context, clinicID int64, apptType AppointmentType, date time.Time) (*snapshot, error) {
	s := &snapshot{
		loc:         e.loc,
		apptType:    apptType,
		resources:   make(map[int64][]Resource),
		allocations: make(map[string][]AllocationRecord),
	}
	if err := s.loadResources(ctx, e.store, clinicID, date, date); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *snapshot) resourceAvailability(date time.Time, window timeutil.Interval, exclude int64) ResourceAvailability {
	out := ResourceAvailability{
		Requirements:        []RequirementStatus{},
		SuggestedAllocation: []int64{},
		Conflicts:           []ResourceConflict{},
	}
	for _, req := range s.requirements {
		free := s.freeResources(req.ResourceTypeID, date, window, exclude)
		status := RequirementStatus{
			ResourceTypeID:     req.ResourceTypeID,
			ResourceTypeName:   req.ResourceTypeName,
			Required:           req.Quantity,
			Available:          len(free),
			AvailableResources: make([]ResourceSummary, 0, len(free)),
		}
		for _, r := range free {
			status.AvailableResources = append(status.AvailableResources, ResourceSummary{ID: r.ID, Name: r.Name})
		}
		out.Requirements = append(out.Requirements, status)

		if len(free) < req.Quantity {
			out.Conflicts = append(out.Conflicts, ResourceConflict{
				ResourceTypeID:   req.ResourceTypeID,
				ResourceTypeName: req.ResourceTypeName,
				Required:         req.Quantity,
				Available:        len(free),
			})
			continue
		}
		for _, r := range free[:req.Quantity] {
			out.SuggestedAllocation = append(out.SuggestedAllocation, r.ID)
		}
	}
	return out
}

// ResourceSelection is the verdict on a manually chosen set of resources.
// Shortfalls and busy resources are advisory unless the caller is strict.
type ResourceSelection struct {
	ResourceIDs   []int64            `json:"resource_ids"`
	Shortfalls    []ResourceConflict `json:"shortfalls"`
	BusyResources []int64            `json:"busy_resources"`
}

func (r ResourceSelection) Clean() bool {
	return len(r.Shortfalls) == 0 && len(r.BusyResources) == 0
}

// reviewSelection checks chosen resources against requirements and against
// allocations held by other appointments. Choosing more than required is
// always allowed.
func (s *snapshot) reviewSelection(selected []Resource, date time.Time, window timeutil.Interval, exclude int64) ResourceSelection {
	out := ResourceSelection{ResourceIDs: make([]int64, 0, len(selected))}
	perType := make(map[int64]int)
	chosen := make(map[int64]bool, len(selected))
	for _, r := range selected {
		out.ResourceIDs = append(out.ResourceIDs, r.ID)
		perType[r.ResourceTypeID]++
		chosen[r.ID] = true
	}
	for _, req := range s.requirements {
		if perType[req.ResourceTypeID] < req.Quantity {
			out.Shortfalls = append(out.Shortfalls, ResourceConflict{
				ResourceTypeID:   req.ResourceTypeID,
				ResourceTypeName: req.ResourceTypeName,
				Required:         req.Quantity,
				Available:        perType[req.ResourceTypeID],
			})
		}
	}
	busy := make(map[int64]bool)
	for _, a := range s.allocations[timeutil.FormatDate(date)] {
		if exclude != 0 && a.CalendarEventID == exclude {
			continue
		}
		if chosen[a.ResourceID] && a.Interval.Overlaps(window) {
			busy[a.ResourceID] = true
		}
	}
	for id := range busy {
		out.BusyResources = append(out.BusyResources, id)
	}
	sort.Slice(out.BusyResources, func(i, j int) bool { return out.BusyResources[i] < out.BusyResources[j] })
	return out
}

// loadSelectedResources resolves resource ids within the clinic, dropping
// duplicates while keeping request order.
func loadSelectedResources(ctx context.Context, r Reader, clinicID int64, resourceIDs []int64) ([]Resource, error) {
	seen := make(map[int64]bool, len(resourceIDs))
	out := make([]Resource, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		res, err := r.GetResource(ctx, clinicID, id)
		if err != nil {
			return nil, lookupError(err, "resource")
		}
		if res.Deleted {
			return nil, apperrors.NotFound("resource_not_found", fmt.Errorf("resource %d: %w", id, ErrResourceNotFound))
		}
		out = append(out, *res)
	}
	return out, nil
}

func (r ResourceSelection) strictError() error {
	if len(r.BusyResources) > 0 {
		return apperrors.Conflict("resource_unavailable",
			fmt.Sprintf("resources %v are allocated to another appointment", r.BusyResources)).WithDetail(r)
	}
	if len(r.Shortfalls) > 0 {
		return apperrors.ResourceShortfall("selected resources do not cover the appointment type's requirements").WithDetail(r)
	}
	return nil
}
