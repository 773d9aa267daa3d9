package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// The simulator drives concurrent bookings for a handful of popular start
// times so writers collide on the same practitioner-day, then checks the
// database for overlapping confirmed appointments.

type SimConfig struct {
	APIBaseURL   string
	ClinicID     int64
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	DaysAhead    int
	HotStarts    []timeutil.TimeOfDay
	PatientLimit int
	PostgresDSN  string
}

// offering is a practitioner able to perform an appointment type.
type offering struct {
	PractitionerID    int64
	AppointmentTypeID int64
}

type DataPool struct {
	Patients  []int64
	Offerings []offering
	Date      string

	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

// TakeAppointment removes and returns a random booked appointment.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Slots   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.Bootstrap(os.Stderr, "simulate").Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.Init("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg, err := loadConfig(baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Int64("clinic_id", cfg.ClinicID).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.DefaultPoolConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	loc, err := timeutil.LoadLocation(baseCfg.ClinicTimezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("load clinic timezone")
	}

	dataPool, err := loadDataPool(ctx, pgPool, cfg, loc)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("offerings", len(dataPool.Offerings)).
		Str("date", dataPool.Date).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := countOverlaps(context.Background(), pgPool, cfg.ClinicID, dataPool.Date)
	if err != nil {
		logger.Fatal().Err(err).Msg("overlap check")
	}
	fmt.Printf("Overlapping confirmed appointments on %s: %d\n", dataPool.Date, overlaps)
	if overlaps > 0 {
		os.Exit(1)
	}
}

func loadConfig(base config.Config) (SimConfig, error) {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		ClinicID:     int64(getInt("SIM_CLINIC_ID", 1)),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 7),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		PostgresDSN:  base.PostgresDSN,
	}

	for _, raw := range strings.Split(getEnv("SIM_HOT_STARTS", "09:00,09:30,10:00,14:00"), ",") {
		t, err := timeutil.ParseTimeOfDay(strings.TrimSpace(raw))
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_HOT_STARTS: %w", err)
		}
		cfg.HotStarts = append(cfg.HotStarts, t)
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.PostgresDSN == "" {
		return SimConfig{}, fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, loc *time.Location) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients WHERE clinic_id = $1 AND active LIMIT $2
	`, cfg.ClinicID, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT pat.practitioner_id, pat.appointment_type_id
		FROM practitioner_appointment_types pat
		JOIN practitioners p ON p.id = pat.practitioner_id AND p.active
		JOIN appointment_types t ON t.id = pat.appointment_type_id AND t.enabled AND NOT t.deleted
		WHERE pat.clinic_id = $1
	`, cfg.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load offerings: %w", err)
	}
	for rows.Next() {
		var o offering
		if err := rows.Scan(&o.PractitionerID, &o.AppointmentTypeID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Offerings = append(dataPool.Offerings, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Offerings) == 0 {
		return nil, fmt.Errorf("no practitioner offerings loaded")
	}

	// next weekday at least DaysAhead out, so seeded availability applies
	date := timeutil.DateOf(time.Now(), loc).AddDate(0, 0, cfg.DaysAhead)
	for timeutil.Weekday(date) > 4 {
		date = date.AddDate(0, 0, 1)
	}
	dataPool.Date = timeutil.FormatDate(date)

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) staffRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method,
		fmt.Sprintf("%s/clinics/%d%s", s.config.APIBaseURL, s.config.ClinicID, path), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Type", "staff")
	req.Header.Set("X-User-ID", "1")
	req.Header.Set("X-User-Roles", "receptionist")
	return req, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	o := s.pool.Offerings[rng.Intn(len(s.pool.Offerings))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	startTime := s.config.HotStarts[rng.Intn(len(s.config.HotStarts))]

	req, err := s.staffRequest(ctx, http.MethodPost, "/appointments", map[string]any{
		"patient_id":          patientID,
		"appointment_type_id": o.AppointmentTypeID,
		"practitioner_id":     o.PractitionerID,
		"date":                s.pool.Date,
		"start_time":          startTime,
	})
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var appt struct {
				CalendarEventID int64 `json:"calendar_event_id"`
			}
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.CalendarEventID != 0 {
				s.pool.AddAppointment(appt.CalendarEventID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	req, err := s.staffRequest(ctx, http.MethodPost, fmt.Sprintf("/appointments/%d/cancel", apptID), nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, success, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	o := s.pool.Offerings[rng.Intn(len(s.pool.Offerings))]

	q := url.Values{}
	q.Set("practitioner_id", strconv.FormatInt(o.PractitionerID, 10))
	q.Set("appointment_type_id", strconv.FormatInt(o.AppointmentTypeID, 10))
	q.Set("date", s.pool.Date)

	req, err := s.staffRequest(ctx, http.MethodGet, "/slots?"+q.Encode(), nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	if ctx.Err() != nil {
		return
	}
	s.metrics.Slots.Record(latency, success, false)
}

// countOverlaps counts pairs of live appointments of one practitioner whose
// times intersect on the given date.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool, clinicID int64, date string) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM calendar_events a
		JOIN appointments aa ON aa.calendar_event_id = a.id
		JOIN calendar_events b ON b.practitioner_id = a.practitioner_id
			AND b.clinic_id = a.clinic_id
			AND b.date = a.date
			AND b.id > a.id
		JOIN appointments ba ON ba.calendar_event_id = b.id
		WHERE a.clinic_id = $1
			AND a.date = $2::date
			AND aa.status IN ('pending', 'confirmed')
			AND ba.status IN ('pending', 'confirmed')
			AND a.start_time < b.end_time
			AND b.start_time < a.end_time
	`, clinicID, date).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Date: %s\n", s.pool.Date)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Available slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
