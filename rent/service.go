package rent

import (
	"context"
	"time"

	"github.com/warp/tenancy-engine/lettings"
	"go.uber.org/zap"
)

// ScheduleService persists generated schedules and explains stored lines.
type ScheduleService struct {
	store           lettings.TxStore
	now             func() time.Time
	logger          *zap.Logger
	rollingLeadDays int
}

type ScheduleServiceOption func(*ScheduleService)

// WithRollingLeadDays sets how far ahead rolling lines are generated.
func WithRollingLeadDays(days int) ScheduleServiceOption {
	return func(s *ScheduleService) { s.rollingLeadDays = days }
}

func WithClock(now func() time.Time) ScheduleServiceOption {
	return func(s *ScheduleService) { s.now = now }
}

func WithLogger(logger *zap.Logger) ScheduleServiceOption {
	return func(s *ScheduleService) { s.logger = logger }
}

func NewScheduleService(store lettings.TxStore, opts ...ScheduleServiceOption) *ScheduleService {
	s := &ScheduleService{
		store:           store,
		now:             time.Now,
		logger:          zap.NewNop(),
		rollingLeadDays: DefaultRollingLeadDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ScheduleService) options() GenerateOptions {
	now := s.now().UTC()
	return GenerateOptions{AsOf: lettings.DateOf(now), RollingLeadDays: s.rollingLeadDays, Now: now}
}

// GeneratePaymentSchedule builds and stores a tenancy's lines in one unit of
// work. A tenancy that already has any line, deposit included, is rejected
// with a conflict.
func (s *ScheduleService) GeneratePaymentSchedule(ctx context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.PaymentSchedule, error) {
	var lines []lettings.PaymentSchedule
	err := s.store.WithTx(ctx, func(tx lettings.Store) error {
		tenancy, err := tx.GetTenancy(ctx, agency, tenancyID)
		if err != nil {
			return err
		}
		existing, err := tx.ListSchedules(ctx, agency, tenancyID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &lettings.ConflictError{Message: "tenancy " + string(tenancyID) + " already has a payment schedule"}
		}
		members, err := tx.ListMembers(ctx, agency, tenancyID)
		if err != nil {
			return err
		}

		lines, err = Generate(*tenancy, members, s.options())
		if err != nil {
			return err
		}
		return tx.InsertSchedules(ctx, agency, lines)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment schedule generated",
		zap.String("agency_id", string(agency)),
		zap.String("tenancy_id", string(tenancyID)),
		zap.Int("lines", len(lines)),
	)
	return lines, nil
}

// ExtendRollingSchedules tops up every rolling tenancy of an agency to the
// horizon. Tenancies whose schedule was never generated are left alone.
// Re-running on the same day adds nothing.
func (s *ScheduleService) ExtendRollingSchedules(ctx context.Context, agency lettings.AgencyID) (int, error) {
	tenancies, err := s.store.ListRollingTenancies(ctx, agency)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, t := range tenancies {
		n, err := s.extendOne(ctx, agency, t.ID)
		if err != nil {
			// One broken tenancy must not stop the rest of the agency.
			s.logger.Warn("rolling schedule extension failed",
				zap.String("agency_id", string(agency)),
				zap.String("tenancy_id", string(t.ID)),
				zap.Error(err),
			)
			continue
		}
		added += n
	}
	return added, nil
}

func (s *ScheduleService) extendOne(ctx context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) (int, error) {
	var added int
	err := s.store.WithTx(ctx, func(tx lettings.Store) error {
		tenancy, err := tx.GetTenancy(ctx, agency, tenancyID)
		if err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, agency, tenancyID)
		if err != nil {
			return err
		}
		existing, err := tx.ListSchedules(ctx, agency, tenancyID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return nil
		}

		lines, err := ExtendRolling(*tenancy, members, existing, s.options())
		if err != nil || len(lines) == 0 {
			return err
		}
		added = len(lines)
		return tx.InsertSchedules(ctx, agency, lines)
	})
	return added, err
}

// ListSchedule returns a tenancy's lines ordered by due date.
func (s *ScheduleService) ListSchedule(ctx context.Context, agency lettings.AgencyID, tenancyID lettings.TenancyID) ([]lettings.PaymentSchedule, error) {
	if _, err := s.store.GetTenancy(ctx, agency, tenancyID); err != nil {
		return nil, err
	}
	return s.store.ListSchedules(ctx, agency, tenancyID)
}

// LineBreakdown explains how a stored rent line maps onto calendar months.
func (s *ScheduleService) LineBreakdown(ctx context.Context, agency lettings.AgencyID, scheduleID lettings.ScheduleID) (*Breakdown, error) {
	line, err := s.store.GetSchedule(ctx, agency, scheduleID)
	if err != nil {
		return nil, err
	}
	if line.PaymentType != lettings.PaymentRent || line.MemberID == "" {
		return nil, lettings.Invalid("schedule_id", "line %s is a %s line and has no rent breakdown", scheduleID, line.PaymentType)
	}

	tenancy, err := s.store.GetTenancy(ctx, agency, line.TenancyID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, agency, line.TenancyID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.ID == line.MemberID {
			b := Prorate(InputForLine(*line, m, *tenancy))
			return &b, nil
		}
	}
	return nil, lettings.NotFound("member", line.MemberID)
}
