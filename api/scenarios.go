/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate an agency with realistic
	lettings data: properties, bedrooms, applications, tenancies and their
	generated schedules. Each scenario exercises one part of the engine.

AVAILABLE SCENARIOS:

	mid-month-fixed:      Fixed-term monthly let starting mid-month, two tenants
	quarterly-student:    Twelve-month student let paid quarterly
	rolling-monthly:      Rolling tenancy starting mid-month (first partial rolls forward)
	bedroom-reservation:  One applicant holding a bedroom, one deposit awaiting payment

HOW SCENARIOS WORK:
 1. Upsert the agency, property and bedrooms
 2. Upsert applications / tenancies / members
 3. Generate the payment schedule through the schedule service
 4. Create holding deposits through the deposit service

Loading a scenario twice leaves the data as it was; conflicts from the
second run (schedule already generated, bedroom already held) are ignored.

USAGE VIA API:

	POST /api/scenarios/load
	X-Agency-ID: demo
	{"scenario_id": "bedroom-reservation"}

USAGE VIA CLI:

	tenancy-engine scenarios load bedroom-reservation --agency demo

SEE ALSO:
  - handlers.go: Services used by the loaders
  - cmd/server/main.go: scenarios command
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/deposit"
	"github.com/warp/tenancy-engine/lettings"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "mid-month-fixed",
		Name:        "Mid-Month Fixed Term",
		Description: "Six-month monthly let from 15 January with two tenants and a deposit line",
	},
	{
		ID:          "quarterly-student",
		Name:        "Quarterly Student Let",
		Description: "Twelve-month let from mid-September paid in four quarterly instalments",
	},
	{
		ID:          "rolling-monthly",
		Name:        "Rolling Monthly",
		Description: "Rolling tenancy from the 20th; the first partial month is billed with the next",
	},
	{
		ID:          "bedroom-reservation",
		Name:        "Bedroom Reservation",
		Description: "Approved applicant holds the front double for 14 days; a second approval awaits its deposit",
	},
}

// Scenarios lists the available demo data sets.
func Scenarios() []ScenarioDTO { return scenarios }

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the caller's agency with a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Seed(r.Context(), agencyFrom(r), req.ScenarioID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// Seed loads scenario id into agency.
func (h *Handler) Seed(ctx context.Context, agency lettings.AgencyID, id string) error {
	var load func(context.Context, lettings.AgencyID) error
	switch id {
	case "mid-month-fixed":
		load = h.loadMidMonthFixed
	case "quarterly-student":
		load = h.loadQuarterlyStudent
	case "rolling-monthly":
		load = h.loadRollingMonthly
	case "bedroom-reservation":
		load = h.loadBedroomReservation
	default:
		return lettings.NotFound("scenario", id)
	}

	if err := h.seedProperty(ctx, agency); err != nil {
		return err
	}
	if err := load(ctx, agency); err != nil {
		return err
	}
	h.Logger.Info("scenario loaded", zap.String("agency_id", string(agency)), zap.String("scenario_id", id))
	return nil
}

// =============================================================================
// SHARED FIXTURES
// =============================================================================

func (h *Handler) seedProperty(ctx context.Context, agency lettings.AgencyID) error {
	if err := h.Store.SaveAgency(ctx, lettings.Agency{ID: agency, Name: "Demo Lettings"}); err != nil {
		return err
	}
	if err := h.Store.SaveProperty(ctx, lettings.Property{ID: "demo-prop-1", AgencyID: agency, Address: "14 Harbour Street"}); err != nil {
		return err
	}
	for _, b := range []lettings.Bedroom{
		{ID: "demo-bed-1", AgencyID: agency, PropertyID: "demo-prop-1", Name: "Front double"},
		{ID: "demo-bed-2", AgencyID: agency, PropertyID: "demo-prop-1", Name: "Back single"},
	} {
		if err := h.Store.SaveBedroom(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedTenancy(ctx context.Context, t lettings.Tenancy, members ...lettings.TenancyMember) error {
	if err := h.Store.SaveTenancy(ctx, t); err != nil {
		return err
	}
	for _, m := range members {
		m.AgencyID = t.AgencyID
		m.TenancyID = t.ID
		if err := h.Store.SaveMember(ctx, m); err != nil {
			return err
		}
	}
	_, err := h.Services.Schedules.GeneratePaymentSchedule(ctx, t.AgencyID, t.ID)
	return ignoreConflict(err)
}

func ignoreConflict(err error) error {
	if errors.Is(err, lettings.ErrConflict) {
		return nil
	}
	return err
}

func day(s string) lettings.Date { return lettings.MustParseDate(s) }

func gbp(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMidMonthFixed(ctx context.Context, agency lettings.AgencyID) error {
	return h.seedTenancy(ctx, lettings.Tenancy{
		ID:         "demo-ten-fixed",
		AgencyID:   agency,
		PropertyID: "demo-prop-1",
		StartDate:  day("2025-01-15"),
		EndDate:    day("2025-07-14").Ptr(),
		Cadence:    lettings.CadenceMonthly,
	},
		lettings.TenancyMember{ID: "demo-alice", Name: "Alice Moreno", RentPPPW: gbp("100"), DepositAmount: gbp("450")},
		lettings.TenancyMember{ID: "demo-bob", Name: "Bob Okafor", RentPPPW: gbp("115"), DepositAmount: gbp("500")},
	)
}

func (h *Handler) loadQuarterlyStudent(ctx context.Context, agency lettings.AgencyID) error {
	return h.seedTenancy(ctx, lettings.Tenancy{
		ID:         "demo-ten-quarterly",
		AgencyID:   agency,
		PropertyID: "demo-prop-1",
		StartDate:  day("2025-09-13"),
		EndDate:    day("2026-09-12").Ptr(),
		Cadence:    lettings.CadenceQuarterly,
	},
		lettings.TenancyMember{ID: "demo-chen", Name: "Chen Li", RentPPPW: gbp("145"), DepositAmount: gbp("600")},
		lettings.TenancyMember{ID: "demo-dara", Name: "Dara Walsh", RentPPPW: gbp("145"), DepositAmount: gbp("600")},
		lettings.TenancyMember{ID: "demo-emeka", Name: "Emeka Obi", RentPPPW: gbp("130"), DepositAmount: gbp("550")},
	)
}

func (h *Handler) loadRollingMonthly(ctx context.Context, agency lettings.AgencyID) error {
	return h.seedTenancy(ctx, lettings.Tenancy{
		ID:         "demo-ten-rolling",
		AgencyID:   agency,
		PropertyID: "demo-prop-1",
		StartDate:  day("2025-01-20"),
		Cadence:    lettings.CadenceMonthly,
	},
		lettings.TenancyMember{ID: "demo-farah", Name: "Farah Haddad", RentPPPW: gbp("120"), DepositAmount: gbp("520")},
	)
}

func (h *Handler) loadBedroomReservation(ctx context.Context, agency lettings.AgencyID) error {
	now := time.Now().UTC()
	for _, a := range []lettings.Application{
		{ID: "demo-app-grace", AgencyID: agency, ApplicantName: "Grace Kim", ApplicantEmail: "grace@example.com",
			PropertyID: "demo-prop-1", Status: lettings.ApplicationPending, CreatedAt: now, UpdatedAt: now},
		{ID: "demo-app-hugo", AgencyID: agency, ApplicantName: "Hugo Brandt", ApplicantEmail: "hugo@example.com",
			PropertyID: "demo-prop-1", Status: lettings.ApplicationPending, CreatedAt: now, UpdatedAt: now},
	} {
		existing, err := h.Store.GetApplication(ctx, agency, a.ID)
		if err == nil && existing.Status != lettings.ApplicationPending {
			continue
		}
		if err := h.Store.SaveApplication(ctx, a); err != nil {
			return err
		}
	}

	bedroom := lettings.BedroomID("demo-bed-1")
	days := 14
	_, err := h.Services.Deposits.ApproveWithDeposit(ctx, agency, "demo-app-grace", deposit.CreateInput{
		Amount:          gbp("250"),
		DateReceived:    lettings.DateOf(now).Ptr(),
		BedroomID:       &bedroom,
		ReservationDays: &days,
		ChangedBy:       "scenario",
	})
	if err := ignoreConflict(err); err != nil {
		return err
	}

	// Paying Hugo's deposit reserves the back single for a week.
	back := lettings.BedroomID("demo-bed-2")
	week := 7
	_, err = h.Services.Deposits.ApproveWithDeposit(ctx, agency, "demo-app-hugo", deposit.CreateInput{
		Amount:          gbp("250"),
		BedroomID:       &back,
		ReservationDays: &week,
		InitialStatus:   lettings.DepositAwaitingPayment,
		ChangedBy:       "scenario",
	})
	return ignoreConflict(err)
}
