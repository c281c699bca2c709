/*
handlers.go - HTTP API handlers for the tenancy financial engine

PURPOSE:
  Exposes deposits, schedules and payments via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the domain
  services. Every handler reads the agency scope set by RequireAgency and
  passes it explicitly.

ENDPOINTS:
  Holding deposits:
    POST   /api/applications/{id}/holding-deposits  Create deposit
    POST   /api/applications/{id}/approve           Approve + create deposit
    GET    /api/holding-deposits/{id}               Get deposit
    POST   /api/holding-deposits/{id}/payment       Record deposit payment
    DELETE /api/holding-deposits/{id}/payment       Undo deposit payment
    POST   /api/holding-deposits/{id}/status        Refund / forfeit
    POST   /api/holding-deposits/{id}/apply         Apply to tenancy
    GET    /api/bedrooms/{id}/reservation           Active reservation

  Schedules and payments:
    POST   /api/tenancies/{id}/schedule             Generate schedule
    GET    /api/tenancies/{id}/schedule             List schedule
    GET    /api/schedules/{id}                      Line with payments
    GET    /api/schedules/{id}/breakdown            Proration breakdown
    POST   /api/schedules/{id}/payments             Record payment
    DELETE /api/schedules/{id}/payments             Revert all payments
    DELETE /api/payments/{id}                       Delete one payment
    POST   /api/proration                           Stateless calculator

  Admin:
    GET    /api/admin/jobs                          Last job runs
    POST   /api/admin/jobs/{name}                   Run a job now

ERROR HANDLING:
  Errors are returned as ErrorResponse with:
  - 400: Validation errors, malformed input
  - 404: Record not found in the agency scope
  - 409: Bedroom already reserved, schedule already generated
  - 422: Invalid state transition, overpayment
  - 500: Internal errors (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Agency scope, logging, rate limiting
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/deposit"
	"github.com/warp/tenancy-engine/jobs"
	"github.com/warp/tenancy-engine/lettings"
	"github.com/warp/tenancy-engine/rent"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services are the domain entry points the handlers delegate to.
type Services struct {
	Schedules *rent.ScheduleService
	Ledger    *rent.Ledger
	Deposits  *deposit.Service
	Jobs      *jobs.Scheduler // optional
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    lettings.TxStore
	Services Services
	Logger   *zap.Logger

	validate *validator.Validate
}

func NewHandler(store lettings.TxStore, services Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Services: services,
		Logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// HOLDING DEPOSIT HANDLERS
// =============================================================================

// CreateHoldingDeposit attaches a deposit to an application.
// POST /api/applications/{id}/holding-deposits
func (h *Handler) CreateHoldingDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := toCreateInput(req, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.Services.Deposits.CreateDeposit(r.Context(), agencyFrom(r), lettings.ApplicationID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDepositDTO(d))
}

// ApproveApplication approves a pending application and creates its
// deposit in one step.
// POST /api/applications/{id}/approve
func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := toCreateInput(req, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.Services.Deposits.ApproveWithDeposit(r.Context(), agencyFrom(r), lettings.ApplicationID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDepositDTO(d))
}

func toCreateInput(req CreateDepositRequest, actor string) (deposit.CreateInput, error) {
	amount, err := parseMoney("amount", req.Amount)
	if err != nil {
		return deposit.CreateInput{}, err
	}
	received, err := parseOptionalDate("date_received", req.DateReceived)
	if err != nil {
		return deposit.CreateInput{}, err
	}

	in := deposit.CreateInput{
		Amount:           amount,
		DateReceived:     received,
		ReservationDays:  req.ReservationDays,
		PaymentReference: req.PaymentReference,
		InitialStatus:    lettings.DepositStatus(req.Status),
		ChangedBy:        actor,
		Notes:            req.Notes,
	}
	if req.BedroomID != "" {
		id := lettings.BedroomID(req.BedroomID)
		in.BedroomID = &id
	}
	if req.PropertyID != "" {
		id := lettings.PropertyID(req.PropertyID)
		in.PropertyID = &id
	}
	return in, nil
}

// GetDeposit returns one deposit.
// GET /api/holding-deposits/{id}
func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := h.Services.Deposits.Get(r.Context(), agencyFrom(r), lettings.DepositID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(d))
}

// RecordDepositPayment marks an awaiting_payment deposit as held.
// POST /api/holding-deposits/{id}/payment
func (h *Handler) RecordDepositPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordDepositPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	received, err := parseDate("date_received", req.DateReceived)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.Services.Deposits.RecordPayment(r.Context(), agencyFrom(r), lettings.DepositID(chi.URLParam(r, "id")), deposit.PaymentInput{
		Reference:    req.PaymentReference,
		DateReceived: received,
		ChangedBy:    actorFrom(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(d))
}

// UndoDepositPayment reverts a held deposit to awaiting_payment.
// DELETE /api/holding-deposits/{id}/payment
func (h *Handler) UndoDepositPayment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Services.Deposits.UndoPayment(r.Context(), agencyFrom(r), lettings.DepositID(chi.URLParam(r, "id")), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(d))
}

// SetDepositStatus refunds or forfeits a deposit.
// POST /api/holding-deposits/{id}/status
func (h *Handler) SetDepositStatus(w http.ResponseWriter, r *http.Request) {
	var req SetDepositStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.Services.Deposits.SetStatus(r.Context(), agencyFrom(r), lettings.DepositID(chi.URLParam(r, "id")),
		lettings.DepositStatus(req.Status), req.Notes, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(d))
}

// ApplyDeposit consumes a held deposit into a tenancy.
// POST /api/holding-deposits/{id}/apply
func (h *Handler) ApplyDeposit(w http.ResponseWriter, r *http.Request) {
	var req ApplyDepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.Services.Deposits.ApplyToTenancy(r.Context(), agencyFrom(r), lettings.DepositID(chi.URLParam(r, "id")),
		lettings.TenancyID(req.TenancyID), lettings.DepositStatus(req.Target), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(d))
}

// GetBedroomReservation reports who currently holds a bedroom.
// GET /api/bedrooms/{id}/reservation
func (h *Handler) GetBedroomReservation(w http.ResponseWriter, r *http.Request) {
	bedroomID := lettings.BedroomID(chi.URLParam(r, "id"))
	res, err := h.Services.Deposits.ActiveReservation(r.Context(), agencyFrom(r), bedroomID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dto := ReservationDTO{BedroomID: string(bedroomID)}
	if res != nil {
		d := toDepositDTO(&res.Deposit)
		dto.Reserved = true
		dto.ApplicantName = res.ApplicantName
		dto.ExpiresAt = res.Deposit.ReservationExpiresAt.UTC().Format(time.RFC3339)
		dto.Deposit = &d
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// GenerateSchedule builds and stores a tenancy's payment schedule.
// POST /api/tenancies/{id}/schedule
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Services.Schedules.GeneratePaymentSchedule(r.Context(), agencyFrom(r), lettings.TenancyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleLineDTOs(lines))
}

// ListSchedule returns a tenancy's lines ordered by due date.
// GET /api/tenancies/{id}/schedule
func (h *Handler) ListSchedule(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Services.Schedules.ListSchedule(r.Context(), agencyFrom(r), lettings.TenancyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleLineDTOs(lines))
}

// GetScheduleLine returns a line with its payments and totals.
// GET /api/schedules/{id}
func (h *Handler) GetScheduleLine(w http.ResponseWriter, r *http.Request) {
	view, err := h.Services.Ledger.Line(r.Context(), agencyFrom(r), lettings.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDetailDTO(view))
}

// GetBreakdown explains a stored rent line month by month.
// GET /api/schedules/{id}/breakdown
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := h.Services.Schedules.LineBreakdown(r.Context(), agencyFrom(r), lettings.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Prorate runs the calculator on caller-supplied numbers.
// POST /api/proration
func (h *Handler) Prorate(w http.ResponseWriter, r *http.Request) {
	var req ProrationRequest
	if !h.decode(w, r, &req) {
		return
	}

	in, err := toProrationInput(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rent.Prorate(in))
}

func toProrationInput(req ProrationRequest) (rent.ProrationInput, error) {
	var in rent.ProrationInput
	var err error
	if in.PPPW, err = parseMoney("pppw", req.PPPW); err != nil {
		return in, err
	}
	if !in.PPPW.IsPositive() {
		return in, lettings.Invalid("pppw", "must be greater than zero")
	}
	if in.AmountDue, err = parseMoney("amount_due", req.AmountDue); err != nil {
		return in, err
	}
	if in.DueDate, err = parseDate("due_date", req.DueDate); err != nil {
		return in, err
	}
	if in.TenancyStart, err = parseDate("tenancy_start", req.TenancyStart); err != nil {
		return in, err
	}
	if in.TenancyEnd, err = parseOptionalDate("tenancy_end", req.TenancyEnd); err != nil {
		return in, err
	}
	in.RollingFirstPartial = req.RollingFirstPartial
	return in, nil
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment records money received against a line.
// POST /api/schedules/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseMoney("amount", req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	paid, err := parseDate("paid_date", req.PaidDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	line, err := h.Services.Ledger.RecordPayment(r.Context(), agencyFrom(r), lettings.ScheduleID(chi.URLParam(r, "id")), amount, paid, req.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleLineDTO(*line))
}

// RevertPayments removes every payment on a line.
// DELETE /api/schedules/{id}/payments
func (h *Handler) RevertPayments(w http.ResponseWriter, r *http.Request) {
	line, removed, err := h.Services.Ledger.RevertPayments(r.Context(), agencyFrom(r), lettings.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevertResponse{Line: toScheduleLineDTO(*line), Removed: removed})
}

// DeletePayment removes a single payment.
// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	line, err := h.Services.Ledger.DeletePayment(r.Context(), agencyFrom(r), lettings.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleLineDTO(*line))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunJob runs a maintenance job across all agencies now.
// POST /api/admin/jobs/{name}
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.Services.Jobs == nil {
		h.writeError(w, r, lettings.NotFound("job", name))
		return
	}
	res, err := h.Services.Jobs.RunNow(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListJobRuns returns the last result of each job.
// GET /api/admin/jobs
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	if h.Services.Jobs == nil {
		writeJSON(w, http.StatusOK, []jobs.Result{})
		return
	}
	writeJSON(w, http.StatusOK, h.Services.Jobs.LastRuns())
}

// Health reports that the store is reachable.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.writeError(w, r, fmt.Errorf("database unreachable: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses and validates a JSON body. On failure it writes the 400
// response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, lettings.Invalid("body", "malformed JSON: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func parseMoney(field, s string) (decimal.Decimal, error) {
	d, err := lettings.ParseMoney(s)
	if err != nil {
		return decimal.Zero, lettings.Invalid(field, "%q is not a decimal amount", s)
	}
	return d, nil
}

func parseDate(field, s string) (lettings.Date, error) {
	d, err := lettings.ParseDate(s)
	if err != nil {
		return lettings.Date{}, lettings.Invalid(field, "%q is not a date (use YYYY-MM-DD)", s)
	}
	return d, nil
}

func parseOptionalDate(field, s string) (*lettings.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to HTTP status codes and a stable error
// code. Internal errors are logged with the request and hidden from the
// client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("agency_id", string(agencyFrom(r))),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	var (
		validation  validator.ValidationErrors
		invalid     *lettings.ValidationError
		notFound    *lettings.NotFoundError
		reservation *lettings.ReservationConflictError
		state       *lettings.StateError
		over        *lettings.OverpaymentError
	)

	switch {
	case errors.As(err, &validation):
		fields := make(map[string]string, len(validation))
		for _, fe := range validation {
			fields[fe.Field()] = fmt.Sprintf("failed on '%s' rule", fe.Tag())
		}
		return http.StatusBadRequest, ErrorResponse{Error: "invalid request", Code: "validation_error", Details: fields}

	case errors.As(err, &invalid):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation_error",
			Details: map[string]string{"field": invalid.Field}}

	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found",
			Details: map[string]string{"kind": notFound.Kind, "id": notFound.ID}}

	case errors.As(err, &reservation):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "reservation_conflict",
			Details: map[string]string{
				"bedroom_id":     string(reservation.BedroomID),
				"deposit_id":     string(reservation.DepositID),
				"applicant_name": reservation.ApplicantName,
				"expires_at":     reservation.ExpiresAt.UTC().Format(time.RFC3339),
			}}

	case errors.Is(err, lettings.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"}

	case errors.As(err, &state):
		required := make([]string, len(state.Required))
		for i, s := range state.Required {
			required[i] = string(s)
		}
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "invalid_state",
			Details: map[string]any{"current": string(state.Current), "required": required}}

	case errors.As(err, &over):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "overpayment",
			Details: map[string]string{
				"amount_due":   over.AmountDue.StringFixed(lettings.MoneyPlaces),
				"already_paid": over.AlreadyPaid.StringFixed(lettings.MoneyPlaces),
				"attempted":    over.Attempted.StringFixed(lettings.MoneyPlaces),
				"outstanding":  over.Outstanding().StringFixed(lettings.MoneyPlaces),
			}}

	case errors.Is(err, lettings.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation_error"}
	case lettings.IsNotFound(err):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal_error"}
}
