package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

// MemStore is an in-process Store used by tests, the CLI and the
// memory-backed server. Transactions run one at a time against a private
// copy that replaces the committed state on success.
type MemStore struct {
	txMu sync.Mutex

	mu   sync.RWMutex
	data *memData
}

func NewMemStore() *MemStore {
	return &MemStore{data: newMemData()}
}

type memData struct {
	nextID int64

	clinics       map[int64]memClinic
	practitioners map[int64]Practitioner
	eligible      map[int64]map[int64]bool // appointment type -> practitioner set
	patients      map[int64]Patient
	types         map[int64]AppointmentType
	availability  map[int64]PractitionerAvailability
	events        map[int64]CalendarEvent
	appointments  map[int64]Appointment
	exceptions    map[int64]bool
	resourceTypes map[int64]ResourceType
	resources     map[int64]Resource
	requirements  map[int64][]ResourceRequirement
	allocations   map[int64][]int64
	log           []EventLog
}

type memClinic struct {
	name     string
	settings ClinicSettings
}

func newMemData() *memData {
	return &memData{
		clinics:       map[int64]memClinic{},
		practitioners: map[int64]Practitioner{},
		eligible:      map[int64]map[int64]bool{},
		patients:      map[int64]Patient{},
		types:         map[int64]AppointmentType{},
		availability:  map[int64]PractitionerAvailability{},
		events:        map[int64]CalendarEvent{},
		appointments:  map[int64]Appointment{},
		exceptions:    map[int64]bool{},
		resourceTypes: map[int64]ResourceType{},
		resources:     map[int64]Resource{},
		requirements:  map[int64][]ResourceRequirement{},
		allocations:   map[int64][]int64{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	c := &memData{
		nextID:        d.nextID,
		clinics:       copyMap(d.clinics),
		practitioners: copyMap(d.practitioners),
		eligible:      make(map[int64]map[int64]bool, len(d.eligible)),
		patients:      copyMap(d.patients),
		types:         copyMap(d.types),
		availability:  copyMap(d.availability),
		events:        copyMap(d.events),
		appointments:  copyMap(d.appointments),
		exceptions:    copyMap(d.exceptions),
		resourceTypes: copyMap(d.resourceTypes),
		resources:     copyMap(d.resources),
		requirements:  make(map[int64][]ResourceRequirement, len(d.requirements)),
		allocations:   make(map[int64][]int64, len(d.allocations)),
		log:           append([]EventLog(nil), d.log...),
	}
	for k, v := range d.eligible {
		c.eligible[k] = copyMap(v)
	}
	for k, v := range d.requirements {
		c.requirements[k] = append([]ResourceRequirement(nil), v...)
	}
	for k, v := range d.allocations {
		c.allocations[k] = append([]int64(nil), v...)
	}
	return c
}

func (d *memData) newID() int64 {
	d.nextID++
	return d.nextID
}

func (s *MemStore) current() *memData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// WithTx runs fn against a copy of the store and publishes the copy when fn
// returns nil.
func (s *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.current().clone()
	if err := fn(ctx, &memTx{memData: work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *MemStore) update(fn func(d *memData)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	work := s.current().clone()
	fn(work)
	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
}

// Seeding

func (s *MemStore) AddClinic(name string, settings ClinicSettings) int64 {
	var id int64
	s.update(func(d *memData) {
		id = d.newID()
		d.clinics[id] = memClinic{name: name, settings: settings}
	})
	return id
}

func (s *MemStore) SetClinicSettings(clinicID int64, settings ClinicSettings) {
	s.update(func(d *memData) {
		c := d.clinics[clinicID]
		c.settings = settings
		d.clinics[clinicID] = c
	})
}

func (s *MemStore) AddPractitioner(clinicID int64, name string) int64 {
	var id int64
	s.update(func(d *memData) {
		id = d.newID()
		d.practitioners[id] = Practitioner{ID: id, ClinicID: clinicID, Name: name, Active: true}
	})
	return id
}

func (s *MemStore) SetPractitionerActive(id int64, active bool) {
	s.update(func(d *memData) {
		p := d.practitioners[id]
		p.Active = active
		d.practitioners[id] = p
	})
}

func (s *MemStore) AddPatient(clinicID int64, name string) int64 {
	var id int64
	s.update(func(d *memData) {
		id = d.newID()
		d.patients[id] = Patient{ID: id, ClinicID: clinicID, Name: name, Active: true}
	})
	return id
}

// AddAppointmentType stores t under a new id and links it to practitioners.
func (s *MemStore) AddAppointmentType(t AppointmentType, practitionerIDs ...int64) int64 {
	var id int64
	s.update(func(d *memData) {
		id = d.newID()
		t.ID = id
		d.types[id] = t
		set := map[int64]bool{}
		for _, pid := range practitionerIDs {
			set[pid] = true
		}
		d.eligible[id] = set
	})
	return id
}

func (s *MemStore) LinkPractitioner(appointmentTypeID, practitionerID int64) {
	s.update(func(d *memData) {
		if d.eligible[appointmentTypeID] == nil {
			d.eligible[appointmentTypeID] = map[int64]bool{}
		}
		d.eligible[appointmentTypeID][practitionerID] = true
	})
}

func (s *MemStore) AddAvailability(clinicID, practitionerID int64, dayOfWeek int, iv timeutil.Interval) {
	s.update(func(d *memData) {
		id := d.newID()
		d.availability[id] = PractitionerAvailability{
			ID:             id,
			PractitionerID: practitionerID,
			ClinicID:       clinicID,
			DayOfWeek:      dayOfWeek,
			StartTime:      iv.Start,
			EndTime:        iv.End,
		}
	})
}

// AddWeeklyAvailability sets the same interval on every weekday from Monday
// to Friday.
func (s *MemStore) AddWeeklyAvailability(clinicID, practitionerID int64, iv timeutil.Interval) {
	for day := 0; day < 5; day++ {
		s.AddAvailability(clinicID, practitionerID, day, iv)
	}
}

func (s *MemStore) AddResourceType(clinicID int64, name string) int64 {
	var id int64
	s.update(func(d *memData) {
		id = d.newID()
		d.resourceTypes[id] = ResourceType{ID: id, ClinicID: clinicID, Name: name}
	})
	return id
}

func (s *MemStore) AddResource(clinicID, resourceTypeID int64, name string) int64 {
	var id int64
	s.update(func(d *memData) {
		id = d.newID()
		d.resources[id] = Resource{ID: id, ClinicID: clinicID, ResourceTypeID: resourceTypeID, Name: name}
	})
	return id
}

func (s *MemStore) DeleteResource(id int64) {
	s.update(func(d *memData) {
		r := d.resources[id]
		r.Deleted = true
		d.resources[id] = r
	})
}

func (s *MemStore) AddRequirement(appointmentTypeID, resourceTypeID int64, quantity int) {
	s.update(func(d *memData) {
		d.requirements[appointmentTypeID] = append(d.requirements[appointmentTypeID], ResourceRequirement{
			AppointmentTypeID: appointmentTypeID,
			ResourceTypeID:    resourceTypeID,
			ResourceTypeName:  d.resourceTypes[resourceTypeID].Name,
			Quantity:          quantity,
		})
	})
}

// EventLog returns the audit entries recorded so far.
func (s *MemStore) EventLog() []EventLog {
	return append([]EventLog(nil), s.current().log...)
}

// Reader

func (s *MemStore) GetClinicSettings(ctx context.Context, clinicID int64) (*ClinicSettings, error) {
	return s.current().GetClinicSettings(ctx, clinicID)
}

func (s *MemStore) GetPractitioner(ctx context.Context, clinicID, id int64) (*Practitioner, error) {
	return s.current().GetPractitioner(ctx, clinicID, id)
}

func (s *MemStore) GetPatient(ctx context.Context, clinicID, id int64) (*Patient, error) {
	return s.current().GetPatient(ctx, clinicID, id)
}

func (s *MemStore) GetAppointmentType(ctx context.Context, clinicID, id int64) (*AppointmentType, error) {
	return s.current().GetAppointmentType(ctx, clinicID, id)
}

func (s *MemStore) ListEligiblePractitioners(ctx context.Context, clinicID, appointmentTypeID int64) ([]Practitioner, error) {
	return s.current().ListEligiblePractitioners(ctx, clinicID, appointmentTypeID)
}

func (s *MemStore) ListDefaultAvailability(ctx context.Context, clinicID, practitionerID int64) ([]PractitionerAvailability, error) {
	return s.current().ListDefaultAvailability(ctx, clinicID, practitionerID)
}

func (s *MemStore) ListAppointmentsOnDates(ctx context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]AppointmentRecord, error) {
	return s.current().ListAppointmentsOnDates(ctx, clinicID, practitionerIDs, from, to)
}

func (s *MemStore) ListExceptions(ctx context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]CalendarEvent, error) {
	return s.current().ListExceptions(ctx, clinicID, practitionerIDs, from, to)
}

func (s *MemStore) GetAppointment(ctx context.Context, clinicID, calendarEventID int64) (*AppointmentRecord, error) {
	return s.current().GetAppointment(ctx, clinicID, calendarEventID)
}

func (s *MemStore) GetCalendarEvent(ctx context.Context, clinicID, id int64) (*CalendarEvent, error) {
	return s.current().GetCalendarEvent(ctx, clinicID, id)
}

func (s *MemStore) ListResourceRequirements(ctx context.Context, clinicID, appointmentTypeID int64) ([]ResourceRequirement, error) {
	return s.current().ListResourceRequirements(ctx, clinicID, appointmentTypeID)
}

func (s *MemStore) ListResources(ctx context.Context, clinicID int64, resourceTypeIDs []int64) ([]Resource, error) {
	return s.current().ListResources(ctx, clinicID, resourceTypeIDs)
}

func (s *MemStore) GetResource(ctx context.Context, clinicID, id int64) (*Resource, error) {
	return s.current().GetResource(ctx, clinicID, id)
}

func (s *MemStore) ListAllocationsOnDates(ctx context.Context, clinicID int64, from, to time.Time) ([]AllocationRecord, error) {
	return s.current().ListAllocationsOnDates(ctx, clinicID, from, to)
}

func (s *MemStore) ListAllocatedResourceIDs(ctx context.Context, clinicID, calendarEventID int64) ([]int64, error) {
	return s.current().ListAllocatedResourceIDs(ctx, clinicID, calendarEventID)
}

func (s *MemStore) CountFutureAppointments(ctx context.Context, clinicID int64, practitionerIDs []int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (map[int64]int, error) {
	return s.current().CountFutureAppointments(ctx, clinicID, practitionerIDs, fromDate, fromTime)
}

func (s *MemStore) CountPatientFutureAppointments(ctx context.Context, clinicID, patientID int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (int, error) {
	return s.current().CountPatientFutureAppointments(ctx, clinicID, patientID, fromDate, fromTime)
}

// memData queries. Dates compare by calendar day.

func inDates(d, from, to time.Time) bool {
	day := timeutil.FormatDate(d)
	return day >= timeutil.FormatDate(from) && day <= timeutil.FormatDate(to)
}

func startsAtOrAfter(ev CalendarEvent, fromDate time.Time, fromTime timeutil.TimeOfDay) bool {
	day, from := timeutil.FormatDate(ev.Date), timeutil.FormatDate(fromDate)
	if day != from {
		return day > from
	}
	return ev.Interval().Start >= fromTime
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (d *memData) GetClinicSettings(_ context.Context, clinicID int64) (*ClinicSettings, error) {
	c, ok := d.clinics[clinicID]
	if !ok {
		return nil, ErrClinicNotFound
	}
	s := c.settings
	return &s, nil
}

func (d *memData) GetPractitioner(_ context.Context, clinicID, id int64) (*Practitioner, error) {
	p, ok := d.practitioners[id]
	if !ok || p.ClinicID != clinicID {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (d *memData) GetPatient(_ context.Context, clinicID, id int64) (*Patient, error) {
	p, ok := d.patients[id]
	if !ok || p.ClinicID != clinicID {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (d *memData) GetAppointmentType(_ context.Context, clinicID, id int64) (*AppointmentType, error) {
	t, ok := d.types[id]
	if !ok || t.ClinicID != clinicID {
		return nil, ErrAppointmentTypeNotFound
	}
	return &t, nil
}

func (d *memData) ListEligiblePractitioners(_ context.Context, clinicID, appointmentTypeID int64) ([]Practitioner, error) {
	var out []Practitioner
	for pid := range d.eligible[appointmentTypeID] {
		p, ok := d.practitioners[pid]
		if ok && p.ClinicID == clinicID && p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memData) ListDefaultAvailability(_ context.Context, clinicID, practitionerID int64) ([]PractitionerAvailability, error) {
	var out []PractitionerAvailability
	for _, a := range d.availability {
		if a.ClinicID == clinicID && a.PractitionerID == practitionerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (d *memData) record(ev CalendarEvent) (AppointmentRecord, bool) {
	appt, ok := d.appointments[ev.ID]
	if !ok {
		return AppointmentRecord{}, false
	}
	return AppointmentRecord{Event: ev, Appointment: appt, BufferMinutes: d.types[appt.AppointmentTypeID].SchedulingBufferMinutes}, true
}

func sortEvents(events []CalendarEvent) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if da, db := timeutil.FormatDate(a.Date), timeutil.FormatDate(b.Date); da != db {
			return da < db
		}
		if a.Interval().Start != b.Interval().Start {
			return a.Interval().Start < b.Interval().Start
		}
		return a.ID < b.ID
	})
}

func (d *memData) eventsOf(clinicID int64, practitionerIDs []int64, from, to time.Time, kind EventType) []CalendarEvent {
	pids := idSet(practitionerIDs)
	var out []CalendarEvent
	for _, ev := range d.events {
		if ev.ClinicID == clinicID && ev.EventType == kind && pids[ev.PractitionerID] && inDates(ev.Date, from, to) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out
}

func (d *memData) ListAppointmentsOnDates(_ context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]AppointmentRecord, error) {
	var out []AppointmentRecord
	for _, ev := range d.eventsOf(clinicID, practitionerIDs, from, to, EventTypeAppointment) {
		rec, ok := d.record(ev)
		if ok && rec.Appointment.Status.Occupies() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (d *memData) ListExceptions(_ context.Context, clinicID int64, practitionerIDs []int64, from, to time.Time) ([]CalendarEvent, error) {
	var out []CalendarEvent
	for _, ev := range d.eventsOf(clinicID, practitionerIDs, from, to, EventTypeAvailabilityException) {
		if d.exceptions[ev.ID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (d *memData) GetAppointment(_ context.Context, clinicID, calendarEventID int64) (*AppointmentRecord, error) {
	ev, ok := d.events[calendarEventID]
	if !ok || ev.ClinicID != clinicID {
		return nil, ErrAppointmentNotFound
	}
	rec, ok := d.record(ev)
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &rec, nil
}

func (d *memData) GetCalendarEvent(_ context.Context, clinicID, id int64) (*CalendarEvent, error) {
	ev, ok := d.events[id]
	if !ok || ev.ClinicID != clinicID {
		return nil, ErrCalendarEventNotFound
	}
	return &ev, nil
}

func (d *memData) ListResourceRequirements(_ context.Context, clinicID, appointmentTypeID int64) ([]ResourceRequirement, error) {
	var out []ResourceRequirement
	for _, req := range d.requirements[appointmentTypeID] {
		if d.resourceTypes[req.ResourceTypeID].ClinicID == clinicID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceTypeID < out[j].ResourceTypeID })
	return out, nil
}

func (d *memData) ListResources(_ context.Context, clinicID int64, resourceTypeIDs []int64) ([]Resource, error) {
	types := idSet(resourceTypeIDs)
	var out []Resource
	for _, r := range d.resources {
		if r.ClinicID == clinicID && types[r.ResourceTypeID] && !r.Deleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memData) GetResource(_ context.Context, clinicID, id int64) (*Resource, error) {
	r, ok := d.resources[id]
	if !ok || r.ClinicID != clinicID {
		return nil, ErrResourceNotFound
	}
	return &r, nil
}

func (d *memData) ListAllocationsOnDates(_ context.Context, clinicID int64, from, to time.Time) ([]AllocationRecord, error) {
	var out []AllocationRecord
	for eventID, resourceIDs := range d.allocations {
		ev, ok := d.events[eventID]
		if !ok || ev.ClinicID != clinicID || !inDates(ev.Date, from, to) {
			continue
		}
		if appt, ok := d.appointments[eventID]; !ok || !appt.Status.Occupies() {
			continue
		}
		for _, rid := range resourceIDs {
			out = append(out, AllocationRecord{
				ResourceID:      rid,
				ResourceTypeID:  d.resources[rid].ResourceTypeID,
				CalendarEventID: eventID,
				Date:            ev.Date,
				Interval:        ev.Interval(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CalendarEventID != out[j].CalendarEventID {
			return out[i].CalendarEventID < out[j].CalendarEventID
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

func (d *memData) ListAllocatedResourceIDs(_ context.Context, clinicID, calendarEventID int64) ([]int64, error) {
	ids := []int64{}
	if ev, ok := d.events[calendarEventID]; ok && ev.ClinicID == clinicID {
		ids = append(ids, d.allocations[calendarEventID]...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (d *memData) CountFutureAppointments(_ context.Context, clinicID int64, practitionerIDs []int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (map[int64]int, error) {
	pids := idSet(practitionerIDs)
	counts := make(map[int64]int, len(practitionerIDs))
	for id, appt := range d.appointments {
		ev := d.events[id]
		if ev.ClinicID != clinicID || !pids[ev.PractitionerID] || appt.Status != StatusConfirmed {
			continue
		}
		if startsAtOrAfter(ev, fromDate, fromTime) {
			counts[ev.PractitionerID]++
		}
	}
	return counts, nil
}

func (d *memData) CountPatientFutureAppointments(_ context.Context, clinicID, patientID int64, fromDate time.Time, fromTime timeutil.TimeOfDay) (int, error) {
	n := 0
	for id, appt := range d.appointments {
		ev := d.events[id]
		if ev.ClinicID != clinicID || appt.PatientID != patientID || !appt.Status.Occupies() {
			continue
		}
		if startsAtOrAfter(ev, fromDate, fromTime) {
			n++
		}
	}
	return n, nil
}

// memTx applies writes to the transaction's private copy.
type memTx struct {
	*memData
}

// LockPractitionerDay is a no-op: MemStore already runs one transaction at a
// time.
func (t *memTx) LockPractitionerDay(context.Context, int64, time.Time) error {
	return nil
}

func (t *memTx) LockPatient(context.Context, int64, int64) error {
	return nil
}

func (t *memTx) GetAppointmentForUpdate(ctx context.Context, clinicID, calendarEventID int64) (*AppointmentRecord, error) {
	return t.GetAppointment(ctx, clinicID, calendarEventID)
}

func (t *memTx) InsertCalendarEvent(_ context.Context, ev *CalendarEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if _, ok := t.practitioners[ev.PractitionerID]; !ok {
		return fmt.Errorf("insert calendar event: %w", ErrPractitionerNotFound)
	}
	ev.ID = t.newID()
	t.events[ev.ID] = *ev
	return nil
}

func (t *memTx) UpdateCalendarEvent(_ context.Context, ev *CalendarEvent) error {
	old, ok := t.events[ev.ID]
	if !ok || old.ClinicID != ev.ClinicID {
		return ErrCalendarEventNotFound
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	updated := *ev
	updated.EventType = old.EventType
	updated.CreatedAt = old.CreatedAt
	t.events[ev.ID] = updated
	return nil
}

func (t *memTx) DeleteCalendarEvent(_ context.Context, clinicID, id int64) error {
	ev, ok := t.events[id]
	if !ok || ev.ClinicID != clinicID {
		return ErrCalendarEventNotFound
	}
	delete(t.events, id)
	delete(t.appointments, id)
	delete(t.exceptions, id)
	delete(t.allocations, id)
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *Appointment) error {
	if _, ok := t.events[appt.CalendarEventID]; !ok {
		return fmt.Errorf("insert appointment: %w", ErrCalendarEventNotFound)
	}
	if _, ok := t.appointments[appt.CalendarEventID]; ok {
		return fmt.Errorf("appointment for event %d already exists", appt.CalendarEventID)
	}
	t.appointments[appt.CalendarEventID] = *appt
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, appt *Appointment) error {
	old, ok := t.appointments[appt.CalendarEventID]
	if !ok {
		return ErrAppointmentNotFound
	}
	updated := *appt
	updated.PatientID = old.PatientID
	updated.AppointmentTypeID = old.AppointmentTypeID
	updated.OriginallyAutoAssigned = old.OriginallyAutoAssigned
	t.appointments[appt.CalendarEventID] = updated
	return nil
}

func (t *memTx) InsertAvailabilityException(_ context.Context, calendarEventID int64) error {
	if _, ok := t.events[calendarEventID]; !ok {
		return fmt.Errorf("insert availability exception: %w", ErrCalendarEventNotFound)
	}
	t.exceptions[calendarEventID] = true
	return nil
}

func (t *memTx) ReplaceAllocations(_ context.Context, clinicID, calendarEventID int64, resourceIDs []int64) error {
	delete(t.allocations, calendarEventID)
	var kept []int64
	seen := map[int64]bool{}
	for _, id := range resourceIDs {
		if r, ok := t.resources[id]; ok && r.ClinicID == clinicID && !seen[id] {
			kept = append(kept, id)
			seen[id] = true
		}
	}
	if len(kept) > 0 {
		t.allocations[calendarEventID] = kept
	}
	return nil
}

func (t *memTx) ReplaceDefaultAvailability(_ context.Context, clinicID, practitionerID int64, dayOfWeek int, intervals []timeutil.Interval) ([]PractitionerAvailability, error) {
	for id, a := range t.availability {
		if a.ClinicID == clinicID && a.PractitionerID == practitionerID && a.DayOfWeek == dayOfWeek {
			delete(t.availability, id)
		}
	}
	saved := make([]PractitionerAvailability, 0, len(intervals))
	for _, iv := range intervals {
		a := PractitionerAvailability{
			ID:             t.newID(),
			PractitionerID: practitionerID,
			ClinicID:       clinicID,
			DayOfWeek:      dayOfWeek,
			StartTime:      iv.Start,
			EndTime:        iv.End,
		}
		t.availability[a.ID] = a
		saved = append(saved, a)
	}
	return saved, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	ev.ID = int64(len(t.log) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	t.log = append(t.log, ev)
	return nil
}
