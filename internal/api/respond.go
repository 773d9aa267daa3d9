package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/apperrors"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func statusOf(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindBookingRestriction:
		return http.StatusUnprocessableEntity
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindConflict, apperrors.KindAssignment, apperrors.KindResourceShortfall:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError renders err with the status of its kind. Internal errors
// are logged and their cause is not echoed to the client.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal("unexpected error", err)
	}
	status := statusOf(appErr.Kind)

	resp := ErrorResponse{Error: appErr.Code, Details: appErr.Message}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), log.Logger).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		resp.Details = "internal error"
	}

	actor, _ := actorFrom(r.Context())
	switch d := appErr.Detail.(type) {
	case scheduling.ConflictReport:
		report := redactFor(actor, d)
		resp.Conflict = &report
	case nil:
	default:
		resp.Detail = d
	}
	writeJSON(w, status, resp)
}

// redactFor strips other patients' data from a report shown to a patient.
func redactFor(actor access.Actor, report scheduling.ConflictReport) scheduling.ConflictReport {
	if actor.Type != access.ActorPatient {
		return report
	}
	appts := make([]scheduling.AppointmentConflict, len(report.AppointmentConflicts))
	for i, c := range report.AppointmentConflicts {
		appts[i] = scheduling.AppointmentConflict{StartTime: c.StartTime, EndTime: c.EndTime, Status: c.Status}
	}
	report.AppointmentConflicts = appts
	return report
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Validation("invalid_request_body", "could not parse JSON: "+err.Error())
	}
	return nil
}
