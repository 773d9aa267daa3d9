package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var appointmentTypes = []struct {
	name     string
	duration int
	buffer   int
	// resource type name -> quantity
	needs map[string]int
}{
	{name: "Initial consultation", duration: 60, buffer: 15, needs: map[string]int{"Treatment room": 1}},
	{name: "Follow-up", duration: 30, needs: map[string]int{"Treatment room": 1}},
	{name: "Physiotherapy session", duration: 45, buffer: 10, needs: map[string]int{"Treatment room": 1, "Ultrasound unit": 1}},
	{name: "Telehealth check-in", duration: 15},
}

var resourcePool = map[string]int{
	"Treatment room":  3,
	"Ultrasound unit": 1,
}

type seedCounts struct {
	clinics       int
	practitioners int
	patients      int
}

func main() {
	logger := logging.Init("seed", os.Getenv("APP_ENV"), "info")
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	counts := seedCounts{
		clinics:       envInt("SEED_CLINICS", 2),
		practitioners: envInt("SEED_PRACTITIONERS", 5),
		patients:      envInt("SEED_PATIENTS", 500),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.DefaultPoolConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(0)

	for i := 0; i < counts.clinics; i++ {
		clinicID, err := seedClinic(context.Background(), pool, faker, counts, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("seed clinic")
		}
		logger.Info().Int64("clinic_id", clinicID).Msg("clinic seeded")
	}

	logger.Info().Msg("seed complete")
}

// seedClinic writes one clinic with its catalogue in a single transaction,
// then the patients in batches.
func seedClinic(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, counts seedCounts, logger zerolog.Logger) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var clinicID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO clinics (name, minimum_booking_hours_ahead, max_future_appointments,
			max_booking_window_days, minimum_cancellation_hours_before)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, faker.Company()+" Clinic", 2, 3, 90, 24).Scan(&clinicID)
	if err != nil {
		return 0, fmt.Errorf("insert clinic: %w", err)
	}

	resourceTypeIDs := make(map[string]int64, len(resourcePool))
	for name, count := range resourcePool {
		var typeID int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO resource_types (clinic_id, name) VALUES ($1, $2) RETURNING id`,
			clinicID, name,
		).Scan(&typeID); err != nil {
			return 0, fmt.Errorf("insert resource type: %w", err)
		}
		resourceTypeIDs[name] = typeID
		for n := 1; n <= count; n++ {
			if _, err := tx.Exec(ctx,
				`INSERT INTO resources (clinic_id, resource_type_id, name) VALUES ($1, $2, $3)`,
				clinicID, typeID, fmt.Sprintf("%s %d", name, n),
			); err != nil {
				return 0, fmt.Errorf("insert resource: %w", err)
			}
		}
	}

	typeIDs := make([]int64, 0, len(appointmentTypes))
	for _, at := range appointmentTypes {
		var typeID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO appointment_types (clinic_id, name, duration_minutes, scheduling_buffer_minutes)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, clinicID, at.name, at.duration, at.buffer).Scan(&typeID); err != nil {
			return 0, fmt.Errorf("insert appointment type: %w", err)
		}
		typeIDs = append(typeIDs, typeID)

		for resource, qty := range at.needs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO appointment_resource_requirements (appointment_type_id, resource_type_id, quantity)
				VALUES ($1, $2, $3)
			`, typeID, resourceTypeIDs[resource], qty); err != nil {
				return 0, fmt.Errorf("insert resource requirement: %w", err)
			}
		}
	}

	for i := 0; i < counts.practitioners; i++ {
		if err := seedPractitioner(ctx, tx, faker, clinicID, typeIDs); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	if err := seedPatients(ctx, pool, faker, clinicID, counts.patients, logger); err != nil {
		return 0, err
	}
	return clinicID, nil
}

// seedPractitioner offers a random subset of the catalogue and a weekday
// schedule with a lunch break. Roughly one in three also works Saturday
// mornings.
func seedPractitioner(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, clinicID int64, typeIDs []int64) error {
	var practitionerID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO practitioners (clinic_id, name) VALUES ($1, $2) RETURNING id`,
		clinicID, "Dr. "+faker.LastName(),
	).Scan(&practitionerID); err != nil {
		return fmt.Errorf("insert practitioner: %w", err)
	}

	for _, typeID := range typeIDs {
		if !faker.Bool() && typeID != typeIDs[0] {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO practitioner_appointment_types (practitioner_id, appointment_type_id, clinic_id)
			VALUES ($1, $2, $3)
		`, practitionerID, typeID, clinicID); err != nil {
			return fmt.Errorf("insert practitioner type: %w", err)
		}
	}

	// hours; day_of_week 0 is Monday
	type session struct{ start, end int }
	weekday := []session{{9, 12}, {13, 17}}
	days := map[int][]session{0: weekday, 1: weekday, 2: weekday, 3: weekday, 4: weekday}
	if faker.Number(1, 3) == 1 {
		days[5] = []session{{9, 12}}
	}

	batch := &pgx.Batch{}
	for day, sessions := range days {
		for _, s := range sessions {
			batch.Queue(`
				INSERT INTO practitioner_availability (practitioner_id, clinic_id, day_of_week, start_time, end_time)
				VALUES ($1, $2, $3, $4, $5)
			`, practitionerID, clinicID, day, hourOfDay(s.start), hourOfDay(s.end))
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, clinicID int64, count int, logger zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			rows = append(rows, []any{clinicID, faker.Name()})
		}

		if _, err := pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"clinic_id", "name"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy patients: %w", err)
		}

		logger.Info().Int64("clinic_id", clinicID).Msgf("patients seeded: %d/%d", end, count)
	}
	return nil
}

func hourOfDay(h int) pgtype.Time {
	return pgtype.Time{Microseconds: int64(h) * int64(time.Hour/time.Microsecond), Valid: true}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
