package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// LogNotifier writes changes to the log. Used when no Redis is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyAppointmentChange(ctx context.Context, change scheduling.AppointmentChange) error {
	logging.FromContext(ctx, n.logger).Info().
		Str("change_id", change.ID).
		Str("kind", string(change.Kind)).
		Int64("clinic_id", change.ClinicID).
		Ints64("appointment_ids", change.CalendarEventIDs).
		Int64("patient_id", change.PatientID).
		Int64("practitioner_id", change.NewPractitionerID).
		Str("origin", string(change.Origin)).
		Msg("appointment change")
	return nil
}
