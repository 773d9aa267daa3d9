package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type ChangeKind string

const (
	ChangeCreated          ChangeKind = "created"
	ChangeUpdated          ChangeKind = "updated"
	ChangeCanceled         ChangeKind = "canceled"
	ChangeRecurringCreated ChangeKind = "recurring_created"
)

// AppointmentChange is the plain description of a committed change handed
// to notification and calendar-sync collaborators.
type AppointmentChange struct {
	ID                     string     `json:"id"`
	Kind                   ChangeKind `json:"kind"`
	ClinicID               int64      `json:"clinic_id"`
	CalendarEventIDs       []int64    `json:"calendar_event_ids"`
	PatientID              int64      `json:"patient_id"`
	OldPractitionerID      int64      `json:"old_practitioner_id,omitempty"`
	NewPractitionerID      int64      `json:"new_practitioner_id,omitempty"`
	OldStart               *time.Time `json:"old_start,omitempty"`
	NewStart               *time.Time `json:"new_start,omitempty"`
	OriginallyAutoAssigned bool       `json:"originally_auto_assigned"`
	Origin                 Origin     `json:"origin"`
	OccurredAt             time.Time  `json:"occurred_at"`
}

type Notifier interface {
	NotifyAppointmentChange(ctx context.Context, change AppointmentChange) error
}

type CalendarSyncer interface {
	SyncAppointmentChange(ctx context.Context, change AppointmentChange) error
}

// SideEffectOutcome is the informational result of the post-commit phase.
type SideEffectOutcome struct {
	Notified       bool `json:"notified"`
	CalendarSynced bool `json:"calendar_synced"`
}

// SideEffects runs collaborators after commit. Failures, including panics,
// are logged and counted but never returned.
type SideEffects struct {
	notifier Notifier
	syncer   CalendarSyncer
	logger   zerolog.Logger
	metrics  *metrics.SchedulingMetrics
}

func NewSideEffects(notifier Notifier, syncer CalendarSyncer, logger zerolog.Logger, m *metrics.SchedulingMetrics) *SideEffects {
	return &SideEffects{notifier: notifier, syncer: syncer, logger: logger, metrics: m}
}

func (s *SideEffects) NotifyExternal(ctx context.Context, change AppointmentChange) SideEffectOutcome {
	if s == nil {
		return SideEffectOutcome{}
	}
	var out SideEffectOutcome
	if s.notifier != nil {
		out.Notified = s.call(ctx, "notifier", change, s.notifier.NotifyAppointmentChange)
	}
	if s.syncer != nil {
		out.CalendarSynced = s.call(ctx, "calendar_sync", change, s.syncer.SyncAppointmentChange)
	}
	return out
}

func (s *SideEffects) call(ctx context.Context, collaborator string, change AppointmentChange, fn func(context.Context, AppointmentChange) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(collaborator, change, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	if err := fn(ctx, change); err != nil {
		s.fail(collaborator, change, err)
		return false
	}
	return true
}

func (s *SideEffects) fail(collaborator string, change AppointmentChange, err error) {
	s.metrics.ObserveSideEffectFailure(collaborator)
	s.logger.Warn().
		Err(err).
		Str("collaborator", collaborator).
		Str("change_id", change.ID).
		Str("kind", string(change.Kind)).
		Ints64("appointment_ids", change.CalendarEventIDs).
		Msg("post-commit side effect failed")
}
