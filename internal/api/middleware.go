package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type contextKey string

const actorKey contextKey = "actor"

// Identity headers set by the authenticating gateway in front of the API.
const (
	HeaderActorType      = "X-Actor-Type"
	HeaderUserID         = "X-User-ID"
	HeaderUserRoles      = "X-User-Roles"
	HeaderPractitionerID = "X-Practitioner-ID"
	HeaderPatientID      = "X-Patient-ID"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logging.FromContext(r.Context(), logger).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// ActorMiddleware resolves the caller from the identity headers. The clinic
// of the actor is the tenant in the path.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := pathID(r, "clinicID")
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		actor, err := parseActor(r.Header, clinicID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_actor", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StaffOnly rejects patient actors.
func StaffOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, _ := actorFrom(r.Context()); actor.Type != access.ActorStaff {
			writeError(w, http.StatusForbidden, "staff_only", "this operation is available to clinic staff only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseActor(h http.Header, clinicID int64) (access.Actor, error) {
	actor := access.Actor{ClinicID: clinicID}
	switch t := access.ActorType(strings.ToLower(h.Get(HeaderActorType))); t {
	case access.ActorStaff, access.ActorPatient:
		actor.Type = t
	default:
		return access.Actor{}, errInvalidHeader(HeaderActorType)
	}

	var err error
	if actor.UserID, err = optionalID(h, HeaderUserID); err != nil {
		return access.Actor{}, err
	}
	if actor.PractitionerID, err = optionalID(h, HeaderPractitionerID); err != nil {
		return access.Actor{}, err
	}
	if actor.PatientID, err = optionalID(h, HeaderPatientID); err != nil {
		return access.Actor{}, err
	}
	for _, role := range strings.Split(h.Get(HeaderUserRoles), ",") {
		if role = strings.TrimSpace(strings.ToLower(role)); role != "" {
			actor.Roles = append(actor.Roles, role)
		}
	}
	if actor.Type == access.ActorPatient && actor.PatientID == 0 {
		return access.Actor{}, errInvalidHeader(HeaderPatientID)
	}
	return actor, nil
}

type errInvalidHeader string

func (e errInvalidHeader) Error() string { return "missing or invalid " + string(e) + " header" }

func optionalID(h http.Header, name string) (int64, error) {
	v := h.Get(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidHeader(name)
	}
	return id, nil
}

func actorFrom(ctx context.Context) (access.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(access.Actor)
	return actor, ok
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
