// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/tenancy-engine/lettings"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements lettings.TxStore. A unit of work holds the mutex for its
// whole duration, so units of work are fully serialized.
type Memory struct {
	mu sync.Mutex
	s  *state
}

type agencyKey[T comparable] struct {
	Agency lettings.AgencyID
	ID     T
}

type state struct {
	agencies     map[lettings.AgencyID]lettings.Agency
	properties   map[agencyKey[lettings.PropertyID]]lettings.Property
	bedrooms     map[agencyKey[lettings.BedroomID]]lettings.Bedroom
	applications map[agencyKey[lettings.ApplicationID]]lettings.Application
	tenancies    map[agencyKey[lettings.TenancyID]]lettings.Tenancy
	members      map[agencyKey[lettings.MemberID]]lettings.TenancyMember
	schedules    map[agencyKey[lettings.ScheduleID]]lettings.PaymentSchedule
	payments     map[agencyKey[lettings.PaymentID]]lettings.Payment
	deposits     map[agencyKey[lettings.DepositID]]lettings.HoldingDeposit
}

func newState() *state {
	return &state{
		agencies:     make(map[lettings.AgencyID]lettings.Agency),
		properties:   make(map[agencyKey[lettings.PropertyID]]lettings.Property),
		bedrooms:     make(map[agencyKey[lettings.BedroomID]]lettings.Bedroom),
		applications: make(map[agencyKey[lettings.ApplicationID]]lettings.Application),
		tenancies:    make(map[agencyKey[lettings.TenancyID]]lettings.Tenancy),
		members:      make(map[agencyKey[lettings.MemberID]]lettings.TenancyMember),
		schedules:    make(map[agencyKey[lettings.ScheduleID]]lettings.PaymentSchedule),
		payments:     make(map[agencyKey[lettings.PaymentID]]lettings.Payment),
		deposits:     make(map[agencyKey[lettings.DepositID]]lettings.HoldingDeposit),
	}
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

var _ lettings.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(lettings.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	copyMap(c.agencies, s.agencies)
	copyMap(c.properties, s.properties)
	copyMap(c.bedrooms, s.bedrooms)
	copyMap(c.applications, s.applications)
	copyMap(c.tenancies, s.tenancies)
	copyMap(c.members, s.members)
	copyMap(c.schedules, s.schedules)
	copyMap(c.payments, s.payments)
	copyMap(c.deposits, s.deposits)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// =============================================================================
// LOCKING WRAPPERS - Single-call access outside a unit of work
// =============================================================================

func (m *Memory) ListAgencies(ctx context.Context) ([]lettings.Agency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListAgencies(ctx)
}

func (m *Memory) SaveAgency(ctx context.Context, a lettings.Agency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveAgency(ctx, a)
}

func (m *Memory) SaveProperty(ctx context.Context, p lettings.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveProperty(ctx, p)
}

func (m *Memory) GetProperty(ctx context.Context, agency lettings.AgencyID, id lettings.PropertyID) (*lettings.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetProperty(ctx, agency, id)
}

func (m *Memory) SaveBedroom(ctx context.Context, b lettings.Bedroom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveBedroom(ctx, b)
}

func (m *Memory) GetBedroom(ctx context.Context, agency lettings.AgencyID, id lettings.BedroomID) (*lettings.Bedroom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetBedroom(ctx, agency, id)
}

func (m *Memory) SaveApplication(ctx context.Context, a lettings.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveApplication(ctx, a)
}

func (m *Memory) GetApplication(ctx context.Context, agency lettings.AgencyID, id lettings.ApplicationID) (*lettings.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetApplication(ctx, agency, id)
}

func (m *Memory) UpdateApplicationStatus(ctx context.Context, agency lettings.AgencyID, id lettings.ApplicationID, status lettings.ApplicationStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateApplicationStatus(ctx, agency, id, status, at)
}

func (m *Memory) SaveTenancy(ctx context.Context, t lettings.Tenancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveTenancy(ctx, t)
}

func (m *Memory) GetTenancy(ctx context.Context, agency lettings.AgencyID, id lettings.TenancyID) (*lettings.Tenancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetTenancy(ctx, agency, id)
}

func (m *Memory) ListRollingTenancies(ctx context.Context, agency lettings.AgencyID) ([]lettings.Tenancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListRollingTenancies(ctx, agency)
}

func (m *Memory) SaveMember(ctx context.Context, mem lettings.TenancyMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveMember(ctx, mem)
}

func (m *Memory) ListMembers(ctx context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.TenancyMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListMembers(ctx, agency, tenancyID)
}

func (m *Memory) InsertSchedules(ctx context.Context, agency lettings.AgencyID, lines []lettings.PaymentSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertSchedules(ctx, agency, lines)
}

func (m *Memory) GetSchedule(ctx context.Context, agency lettings.AgencyID, id lettings.ScheduleID) (*lettings.PaymentSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetSchedule(ctx, agency, id)
}

func (m *Memory) ListSchedules(ctx context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.PaymentSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListSchedules(ctx, agency, tenancyID)
}

func (m *Memory) UpdateScheduleStatus(ctx context.Context, agency lettings.AgencyID, id lettings.ScheduleID, status lettings.ScheduleStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateScheduleStatus(ctx, agency, id, status, at)
}

func (m *Memory) InsertPayment(ctx context.Context, agency lettings.AgencyID, p lettings.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertPayment(ctx, agency, p)
}

func (m *Memory) GetPayment(ctx context.Context, agency lettings.AgencyID, id lettings.PaymentID) (*lettings.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetPayment(ctx, agency, id)
}

func (m *Memory) ListPayments(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) ([]lettings.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListPayments(ctx, agency, scheduleID)
}

func (m *Memory) DeletePayment(ctx context.Context, agency lettings.AgencyID, id lettings.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.DeletePayment(ctx, agency, id)
}

func (m *Memory) DeletePaymentsForSchedule(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.DeletePaymentsForSchedule(ctx, agency, scheduleID)
}

func (m *Memory) MarkOverdue(ctx context.Context, agency lettings.AgencyID, asOf lettings.Date, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.MarkOverdue(ctx, agency, asOf, at)
}

func (m *Memory) InsertDeposit(ctx context.Context, agency lettings.AgencyID, d lettings.HoldingDeposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertDeposit(ctx, agency, d)
}

func (m *Memory) GetDeposit(ctx context.Context, agency lettings.AgencyID, id lettings.DepositID) (*lettings.HoldingDeposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetDeposit(ctx, agency, id)
}

func (m *Memory) UpdateDeposit(ctx context.Context, agency lettings.AgencyID, d lettings.HoldingDeposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateDeposit(ctx, agency, d)
}

func (m *Memory) ActiveReservation(ctx context.Context, agency lettings.AgencyID, bedroomID lettings.BedroomID, now time.Time) (*lettings.ActiveReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ActiveReservation(ctx, agency, bedroomID, now)
}

func (m *Memory) ReleaseExpiredReservations(ctx context.Context, agency lettings.AgencyID, bedroomID *lettings.BedroomID, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ReleaseExpiredReservations(ctx, agency, bedroomID, now)
}

// =============================================================================
// UNLOCKED STATE - The transactional view handed to WithTx callbacks
// =============================================================================

func (s *state) ListAgencies(_ context.Context) ([]lettings.Agency, error) {
	result := make([]lettings.Agency, 0, len(s.agencies))
	for _, a := range s.agencies {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *state) SaveAgency(_ context.Context, a lettings.Agency) error {
	s.agencies[a.ID] = a
	return nil
}

func (s *state) SaveProperty(_ context.Context, p lettings.Property) error {
	s.properties[agencyKey[lettings.PropertyID]{p.AgencyID, p.ID}] = p
	return nil
}

func (s *state) GetProperty(_ context.Context, agency lettings.AgencyID, id lettings.PropertyID) (*lettings.Property, error) {
	p, ok := s.properties[agencyKey[lettings.PropertyID]{agency, id}]
	if !ok {
		return nil, lettings.NotFound("property", id)
	}
	return &p, nil
}

func (s *state) SaveBedroom(_ context.Context, b lettings.Bedroom) error {
	s.bedrooms[agencyKey[lettings.BedroomID]{b.AgencyID, b.ID}] = b
	return nil
}

func (s *state) GetBedroom(_ context.Context, agency lettings.AgencyID, id lettings.BedroomID) (*lettings.Bedroom, error) {
	b, ok := s.bedrooms[agencyKey[lettings.BedroomID]{agency, id}]
	if !ok {
		return nil, lettings.NotFound("bedroom", id)
	}
	return &b, nil
}

func (s *state) SaveApplication(_ context.Context, a lettings.Application) error {
	s.applications[agencyKey[lettings.ApplicationID]{a.AgencyID, a.ID}] = a
	return nil
}

func (s *state) GetApplication(_ context.Context, agency lettings.AgencyID, id lettings.ApplicationID) (*lettings.Application, error) {
	a, ok := s.applications[agencyKey[lettings.ApplicationID]{agency, id}]
	if !ok {
		return nil, lettings.NotFound("application", id)
	}
	return &a, nil
}

func (s *state) UpdateApplicationStatus(_ context.Context, agency lettings.AgencyID, id lettings.ApplicationID, status lettings.ApplicationStatus, at time.Time) error {
	k := agencyKey[lettings.ApplicationID]{agency, id}
	a, ok := s.applications[k]
	if !ok {
		return lettings.NotFound("application", id)
	}
	a.Status = status
	a.UpdatedAt = at
	s.applications[k] = a
	return nil
}

func (s *state) SaveTenancy(_ context.Context, t lettings.Tenancy) error {
	s.tenancies[agencyKey[lettings.TenancyID]{t.AgencyID, t.ID}] = t
	return nil
}

func (s *state) GetTenancy(_ context.Context, agency lettings.AgencyID, id lettings.TenancyID) (*lettings.Tenancy, error) {
	t, ok := s.tenancies[agencyKey[lettings.TenancyID]{agency, id}]
	if !ok {
		return nil, lettings.NotFound("tenancy", id)
	}
	return &t, nil
}

func (s *state) ListRollingTenancies(_ context.Context, agency lettings.AgencyID) ([]lettings.Tenancy, error) {
	var result []lettings.Tenancy
	for k, t := range s.tenancies {
		if k.Agency == agency && t.IsRolling() {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *state) SaveMember(_ context.Context, m lettings.TenancyMember) error {
	s.members[agencyKey[lettings.MemberID]{m.AgencyID, m.ID}] = m
	return nil
}

func (s *state) ListMembers(_ context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.TenancyMember, error) {
	var result []lettings.TenancyMember
	for k, m := range s.members {
		if k.Agency == agency && m.TenancyID == tenancyID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *state) InsertSchedules(_ context.Context, agency lettings.AgencyID, lines []lettings.PaymentSchedule) error {
	for _, l := range lines {
		if _, exists := s.schedules[agencyKey[lettings.ScheduleID]{agency, l.ID}]; exists {
			return &lettings.ConflictError{Message: "schedule line " + string(l.ID) + " already exists"}
		}
	}
	for _, l := range lines {
		l.AgencyID = agency
		s.schedules[agencyKey[lettings.ScheduleID]{agency, l.ID}] = l
	}
	return nil
}

func (s *state) GetSchedule(_ context.Context, agency lettings.AgencyID, id lettings.ScheduleID) (*lettings.PaymentSchedule, error) {
	l, ok := s.schedules[agencyKey[lettings.ScheduleID]{agency, id}]
	if !ok {
		return nil, lettings.NotFound("schedule", id)
	}
	return &l, nil
}

func (s *state) ListSchedules(_ context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.PaymentSchedule, error) {
	var result []lettings.PaymentSchedule
	for k, l := range s.schedules {
		if k.Agency == agency && l.TenancyID == tenancyID {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		if result[i].MemberID != result[j].MemberID {
			return result[i].MemberID < result[j].MemberID
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *state) UpdateScheduleStatus(_ context.Context, agency lettings.AgencyID, id lettings.ScheduleID, status lettings.ScheduleStatus, at time.Time) error {
	k := agencyKey[lettings.ScheduleID]{agency, id}
	l, ok := s.schedules[k]
	if !ok {
		return lettings.NotFound("schedule", id)
	}
	l.Status = status
	l.UpdatedAt = at
	s.schedules[k] = l
	return nil
}

func (s *state) InsertPayment(_ context.Context, agency lettings.AgencyID, p lettings.Payment) error {
	if _, ok := s.schedules[agencyKey[lettings.ScheduleID]{agency, p.ScheduleID}]; !ok {
		return lettings.NotFound("schedule", p.ScheduleID)
	}
	p.AgencyID = agency
	s.payments[agencyKey[lettings.PaymentID]{agency, p.ID}] = p
	return nil
}

func (s *state) GetPayment(_ context.Context, agency lettings.AgencyID, id lettings.PaymentID) (*lettings.Payment, error) {
	p, ok := s.payments[agencyKey[lettings.PaymentID]{agency, id}]
	if !ok {
		return nil, lettings.NotFound("payment", id)
	}
	return &p, nil
}

func (s *state) ListPayments(_ context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) ([]lettings.Payment, error) {
	var result []lettings.Payment
	for k, p := range s.payments {
		if k.Agency == agency && p.ScheduleID == scheduleID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].PaidDate.Equal(result[j].PaidDate) {
			return result[i].PaidDate.Before(result[j].PaidDate)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *state) DeletePayment(_ context.Context, agency lettings.AgencyID, id lettings.PaymentID) error {
	k := agencyKey[lettings.PaymentID]{agency, id}
	if _, ok := s.payments[k]; !ok {
		return lettings.NotFound("payment", id)
	}
	delete(s.payments, k)
	return nil
}

func (s *state) DeletePaymentsForSchedule(_ context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) (int, error) {
	n := 0
	for k, p := range s.payments {
		if k.Agency == agency && p.ScheduleID == scheduleID {
			delete(s.payments, k)
			n++
		}
	}
	return n, nil
}

func (s *state) MarkOverdue(_ context.Context, agency lettings.AgencyID, asOf lettings.Date, at time.Time) (int, error) {
	n := 0
	for k, l := range s.schedules {
		if k.Agency != agency || !l.DueDate.Before(asOf) {
			continue
		}
		if l.Status == lettings.SchedulePending || l.Status == lettings.SchedulePartial {
			l.Status = lettings.ScheduleOverdue
			l.UpdatedAt = at
			s.schedules[k] = l
			n++
		}
	}
	return n, nil
}

func (s *state) InsertDeposit(_ context.Context, agency lettings.AgencyID, d lettings.HoldingDeposit) error {
	d.AgencyID = agency
	if err := s.checkReservationUnique(d); err != nil {
		return err
	}
	s.deposits[agencyKey[lettings.DepositID]{agency, d.ID}] = d
	return nil
}

func (s *state) GetDeposit(_ context.Context, agency lettings.AgencyID, id lettings.DepositID) (*lettings.HoldingDeposit, error) {
	d, ok := s.deposits[agencyKey[lettings.DepositID]{agency, id}]
	if !ok {
		return nil, lettings.NotFound("deposit", id)
	}
	return &d, nil
}

func (s *state) UpdateDeposit(_ context.Context, agency lettings.AgencyID, d lettings.HoldingDeposit) error {
	k := agencyKey[lettings.DepositID]{agency, d.ID}
	if _, ok := s.deposits[k]; !ok {
		return lettings.NotFound("deposit", d.ID)
	}
	d.AgencyID = agency
	if err := s.checkReservationUnique(d); err != nil {
		return err
	}
	s.deposits[k] = d
	return nil
}

// checkReservationUnique mirrors the SQLite partial unique index: at most
// one held, unreleased, expiring deposit per bedroom.
func (s *state) checkReservationUnique(d lettings.HoldingDeposit) error {
	if !reservationIndexed(d) {
		return nil
	}
	for k, other := range s.deposits {
		if k.Agency != d.AgencyID || other.ID == d.ID || !reservationIndexed(other) {
			continue
		}
		if *other.BedroomID == *d.BedroomID {
			return lettings.ErrActiveReservation
		}
	}
	return nil
}

func reservationIndexed(d lettings.HoldingDeposit) bool {
	return d.Status == lettings.DepositHeld && d.BedroomID != nil &&
		!d.ReservationReleased && d.ReservationExpiresAt != nil
}

func (s *state) ActiveReservation(_ context.Context, agency lettings.AgencyID, bedroomID lettings.BedroomID, now time.Time) (*lettings.ActiveReservation, error) {
	for k, d := range s.deposits {
		if k.Agency != agency || d.BedroomID == nil || *d.BedroomID != bedroomID {
			continue
		}
		if !d.HoldsReservationAt(now) {
			continue
		}
		res := &lettings.ActiveReservation{Deposit: d}
		if app, ok := s.applications[agencyKey[lettings.ApplicationID]{agency, d.ApplicationID}]; ok {
			res.ApplicantName = app.ApplicantName
		}
		return res, nil
	}
	return nil, nil
}

func (s *state) ReleaseExpiredReservations(_ context.Context, agency lettings.AgencyID, bedroomID *lettings.BedroomID, now time.Time) (int, error) {
	n := 0
	for k, d := range s.deposits {
		if k.Agency != agency || d.Status != lettings.DepositHeld || d.ReservationReleased {
			continue
		}
		if d.ReservationExpiresAt == nil || d.ReservationExpiresAt.After(now) {
			continue
		}
		if bedroomID != nil && (d.BedroomID == nil || *d.BedroomID != *bedroomID) {
			continue
		}
		d.ReservationReleased = true
		s.deposits[k] = d
		n++
	}
	return n, nil
}
