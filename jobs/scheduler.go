/*
scheduler.go - Recurring maintenance jobs

PURPOSE:
  Runs the idempotent background updates the financial core relies on,
  once per agency:
  - overdue:      flip pending/partial lines due before today to overdue
  - reservations: release held deposits whose reservation has expired
  - rolling:      extend rolling tenancies' schedules to the lead horizon

DESIGN:
  - cron expressions come from config (OVERDUE_CRON, ...)
  - each run lists agencies and processes them one by one; a failing agency
    is logged and skipped, the rest still run
  - re-running any job immediately is a no-op (predicate updates)
  - the last result per job is kept for the admin endpoint

USAGE:
  s := jobs.NewScheduler(store, ledger, deposits, schedules, jobs.DefaultSpecs(), logger)
  s.Start()
  defer s.Stop()
  s.RunNow(ctx, jobs.JobOverdue)

SEE ALSO:
  - rent/ledger.go: MarkOverdue
  - deposit/service.go: ReleaseExpired
  - rent/service.go: ExtendRollingSchedules
*/
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/tenancy-engine/lettings"
	"go.uber.org/zap"
)

const (
	JobOverdue      = "overdue"
	JobReservations = "reservations"
	JobRolling      = "rolling"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

type AgencyLister interface {
	ListAgencies(ctx context.Context) ([]lettings.Agency, error)
}

type OverdueMarker interface {
	MarkOverdue(ctx context.Context, agency lettings.AgencyID, asOf lettings.Date) (int, error)
}

type ReservationReleaser interface {
	ReleaseExpired(ctx context.Context, agency lettings.AgencyID) (int, error)
}

type RollingExtender interface {
	ExtendRollingSchedules(ctx context.Context, agency lettings.AgencyID) (int, error)
}

// Specs holds one cron expression per job. An empty spec leaves the job
// unscheduled; it can still be run by name.
type Specs struct {
	Overdue      string
	Reservations string
	Rolling      string
}

func DefaultSpecs() Specs {
	return Specs{Overdue: "5 0 * * *", Reservations: "*/15 * * * *", Rolling: "30 0 * * *"}
}

// Result summarizes one run of one job.
type Result struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Agencies   int       `json:"agencies"`
	Affected   int       `json:"affected"`
	Failed     []string  `json:"failed,omitempty"`
}

type agencyJob func(ctx context.Context, agency lettings.AgencyID) (int, error)

// =============================================================================
// SCHEDULER
// =============================================================================

type Scheduler struct {
	agencies AgencyLister
	jobs     map[string]agencyJob
	specs    map[string]string
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]bool
	last    map[string]Result
}

func NewScheduler(agencies AgencyLister, ledger OverdueMarker, deposits ReservationReleaser, schedules RollingExtender, specs Specs, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		agencies: agencies,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		logger:   logger.Named("jobs"),
		now:      time.Now,
		running:  map[string]bool{},
		last:     map[string]Result{},
	}
	s.jobs = map[string]agencyJob{
		JobOverdue: func(ctx context.Context, agency lettings.AgencyID) (int, error) {
			return ledger.MarkOverdue(ctx, agency, lettings.DateOf(s.now()))
		},
		JobReservations: deposits.ReleaseExpired,
		JobRolling:      schedules.ExtendRollingSchedules,
	}
	s.specs = map[string]string{
		JobOverdue:      specs.Overdue,
		JobReservations: specs.Reservations,
		JobRolling:      specs.Rolling,
	}
	return s
}

// Names lists the runnable jobs.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start registers every scheduled job with cron and starts it.
func (s *Scheduler) Start() error {
	for _, name := range s.Names() {
		spec := s.specs[name]
		if spec == "" {
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() {
			if _, err := s.RunNow(context.Background(), name); err != nil {
				s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", name, spec, err)
		}
		s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	}
	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow runs one job across every agency. A job already running is not
// started twice.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	job, ok := s.jobs[name]
	if !ok {
		return Result{}, lettings.NotFound("job", name)
	}

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		return Result{}, &lettings.ConflictError{Message: "job " + name + " is already running"}
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	res := Result{Job: name, StartedAt: s.now().UTC()}
	agencies, err := s.agencies.ListAgencies(ctx)
	if err != nil {
		return res, fmt.Errorf("list agencies: %w", err)
	}

	for _, a := range agencies {
		n, err := job(ctx, a.ID)
		if err != nil {
			s.logger.Warn("job failed for agency",
				zap.String("job", name),
				zap.String("agency_id", string(a.ID)),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, string(a.ID))
			continue
		}
		res.Agencies++
		res.Affected += n
	}
	res.FinishedAt = s.now().UTC()

	s.logger.Info("job finished",
		zap.String("job", name),
		zap.Int("agencies", res.Agencies),
		zap.Int("affected", res.Affected),
		zap.Int("failed", len(res.Failed)),
	)

	s.mu.Lock()
	s.last[name] = res
	s.mu.Unlock()
	return res, nil
}

// LastRuns returns the most recent result of each job that has run.
func (s *Scheduler) LastRuns() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, 0, len(s.last))
	for _, r := range s.last {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// WithClock overrides the time source. Intended for tests and replays.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}
