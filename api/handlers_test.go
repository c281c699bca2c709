/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Agency scope enforcement
- Deposit lifecycle and reservation conflicts over HTTP
- Schedule generation, payments and overpayment rejection
- Error body shape (error, code, details) per error category
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/deposit"
	"github.com/warp/tenancy-engine/lettings"
	"github.com/warp/tenancy-engine/rent"
	"github.com/warp/tenancy-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testAgency = "agency-1"

func newTestServer(t *testing.T) (http.Handler, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveAgency(ctx, lettings.Agency{ID: testAgency, Name: "Northside Lettings"}))
	require.NoError(t, store.SaveProperty(ctx, lettings.Property{ID: "prop-1", AgencyID: testAgency, Address: "1 High St"}))
	require.NoError(t, store.SaveBedroom(ctx, lettings.Bedroom{ID: "bed-1", AgencyID: testAgency, PropertyID: "prop-1", Name: "Room 1"}))
	for id, name := range map[lettings.ApplicationID]string{"app-alice": "Alice", "app-bob": "Bob"} {
		require.NoError(t, store.SaveApplication(ctx, lettings.Application{
			ID: id, AgencyID: testAgency, ApplicantName: name, PropertyID: "prop-1", Status: lettings.ApplicationPending,
		}))
	}

	h := NewHandler(store, Services{
		Schedules: rent.NewScheduleService(store),
		Ledger:    rent.NewLedger(store, nil, nil),
		Deposits:  deposit.NewService(store),
	}, nil)
	return NewRouter(h, RouterOptions{}), store
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAgencyID, testAgency)
	req.Header.Set(HeaderUserID, "ops@northside")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// SCOPE
// =============================================================================

func TestRequireAgency(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/holding-deposits/dep-1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestDepositLifecycle(t *testing.T) {
	// GIVEN: Alice's deposit awaiting payment on bed-1 with 14 days
	// WHEN: Paying, then undoing
	// THEN: held with an expiry, then awaiting_payment without one

	srv, _ := newTestServer(t)
	days := 14

	w := do(t, srv, http.MethodPost, "/api/applications/app-alice/holding-deposits", CreateDepositRequest{
		Amount: "250.00", BedroomID: "bed-1", ReservationDays: &days,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[DepositDTO](t, w)
	assert.Equal(t, "awaiting_payment", created.Status)
	assert.Equal(t, "prop-1", *created.PropertyID)

	w = do(t, srv, http.MethodPost, "/api/holding-deposits/"+created.ID+"/payment", RecordDepositPaymentRequest{
		PaymentReference: "BACS-1", DateReceived: lettings.Today().String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	held := decodeBody[DepositDTO](t, w)
	assert.Equal(t, "held", held.Status)
	require.NotNil(t, held.ReservationExpiresAt)
	assert.Equal(t, "ops@northside", held.StatusChangedBy)

	w = do(t, srv, http.MethodGet, "/api/bedrooms/bed-1/reservation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[ReservationDTO](t, w)
	assert.True(t, res.Reserved)
	assert.Equal(t, "Alice", res.ApplicantName)

	w = do(t, srv, http.MethodDelete, "/api/holding-deposits/"+created.ID+"/payment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	undone := decodeBody[DepositDTO](t, w)
	assert.Equal(t, "awaiting_payment", undone.Status)
	assert.Nil(t, undone.ReservationExpiresAt)
	assert.Nil(t, undone.DateReceived)

	// Undo twice is a state error
	w = do(t, srv, http.MethodDelete, "/api/holding-deposits/"+created.ID+"/payment", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "invalid_state", body.Code)
}

func TestApprove_SecondReservationConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	days := 14

	w := do(t, srv, http.MethodPost, "/api/applications/app-alice/approve", CreateDepositRequest{
		Amount: "250.00", BedroomID: "bed-1", ReservationDays: &days,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	alice := decodeBody[DepositDTO](t, w)
	assert.Equal(t, "held", alice.Status)

	w = do(t, srv, http.MethodPost, "/api/applications/app-bob/approve", CreateDepositRequest{
		Amount: "250.00", BedroomID: "bed-1",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "reservation_conflict", body.Code)
	assert.Equal(t, "Alice", body.Details["applicant_name"])
	assert.Equal(t, alice.ID, body.Details["deposit_id"])
	assert.Equal(t, *alice.ReservationExpiresAt, body.Details["expires_at"])
}

func TestCreateDeposit_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	days := 400

	w := do(t, srv, http.MethodPost, "/api/applications/app-alice/holding-deposits", CreateDepositRequest{
		Amount: "250.00", ReservationDays: &days,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "validation_error", body.Code)

	w = do(t, srv, http.MethodPost, "/api/applications/app-alice/holding-deposits", CreateDepositRequest{Amount: "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/api/applications/app-missing/holding-deposits", CreateDepositRequest{Amount: "100"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodPost, "/api/holding-deposits/dep-x/status", SetDepositStatusRequest{Status: "held"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "only refunded or forfeited")
}

// =============================================================================
// SCHEDULES & PAYMENTS
// =============================================================================

func seedFixedTenancy(t *testing.T, store *sqlite.Store) {
	ctx := context.Background()
	require.NoError(t, store.SaveTenancy(ctx, lettings.Tenancy{
		ID: "ten-1", AgencyID: testAgency, PropertyID: "prop-1",
		StartDate: lettings.MustParseDate("2025-01-15"),
		EndDate:   lettings.MustParseDate("2025-07-14").Ptr(),
		Cadence:   lettings.CadenceMonthly,
	}))
	require.NoError(t, store.SaveMember(ctx, lettings.TenancyMember{
		ID: "alice", AgencyID: testAgency, TenancyID: "ten-1", Name: "Alice",
		RentPPPW: lettings.MustParseMoney("100"), DepositAmount: lettings.MustParseMoney("500"),
	}))
}

func TestScheduleAndPayments(t *testing.T) {
	// GIVEN: A generated schedule whose first rent line is 237.63
	// WHEN: Overpaying, then paying in two parts
	// THEN: 422 overpayment, then paid

	srv, store := newTestServer(t)
	seedFixedTenancy(t, store)

	w := do(t, srv, http.MethodPost, "/api/tenancies/ten-1/schedule", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/api/tenancies/ten-1/schedule", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "generated once")

	w = do(t, srv, http.MethodGet, "/api/tenancies/ten-1/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lines := decodeBody[[]ScheduleLineDTO](t, w)
	require.Len(t, lines, 8)
	assert.Equal(t, "deposit", lines[0].PaymentType)
	first := lines[1]
	assert.Equal(t, "237.63", first.AmountDue)

	w = do(t, srv, http.MethodPost, "/api/schedules/"+first.ID+"/payments", RecordPaymentRequest{Amount: "300.00", PaidDate: "2025-01-15"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var over struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &over))
	assert.Equal(t, "overpayment", over.Code)
	assert.Equal(t, "237.63", over.Details["outstanding"])

	w = do(t, srv, http.MethodPost, "/api/schedules/"+first.ID+"/payments", RecordPaymentRequest{Amount: "100.00", PaidDate: "2025-01-15"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "overdue", decodeBody[ScheduleLineDTO](t, w).Status, "past due and not fully paid")

	w = do(t, srv, http.MethodPost, "/api/schedules/"+first.ID+"/payments", RecordPaymentRequest{Amount: "137.63", PaidDate: "2025-01-16"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "paid", decodeBody[ScheduleLineDTO](t, w).Status)

	w = do(t, srv, http.MethodGet, "/api/schedules/"+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeBody[LineDetailDTO](t, w)
	assert.Len(t, detail.Payments, 2)
	assert.Equal(t, "0.00", detail.Outstanding)

	w = do(t, srv, http.MethodDelete, "/api/payments/"+detail.Payments[1].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodDelete, "/api/schedules/"+first.ID+"/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[RevertResponse](t, w).Removed)

	w = do(t, srv, http.MethodGet, "/api/schedules/"+first.ID+"/breakdown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	b := decodeBody[rent.Breakdown](t, w)
	assert.Equal(t, 17, b.Days)
}

func TestProrationEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/proration", ProrationRequest{
		PPPW: "100", AmountDue: "433.33", DueDate: "2025-06-01",
		TenancyStart: "2025-01-01", TenancyEnd: "2025-12-31",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	b := decodeBody[rent.Breakdown](t, w)
	assert.True(t, b.IsFullMonth)
	assert.Equal(t, "433.33", b.MonthlyRate.StringFixed(2))

	w = do(t, srv, http.MethodPost, "/api/proration", ProrationRequest{
		PPPW: "100", AmountDue: "433.33", DueDate: "June 1st", TenancyStart: "2025-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunJob_WithoutScheduler(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/admin/jobs/overdue", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
