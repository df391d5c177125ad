package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/quota"
	"github.com/warp/commission-engine/store/memory"
)

// =============================================================================
// HELPERS
// =============================================================================

type testServer struct {
	*httptest.Server
	store *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	handler := api.NewHandler(store, nil, api.Config{})
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

// request sends a JSON body and decodes the JSON response into out (when
// out is non-nil). The role headers stand in for the upstream gateway.
func (ts *testServer) request(t *testing.T, method, path, role string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-Id", role+"-1")
		req.Header.Set("X-Company-Id", "c-1")
		req.Header.Set("X-Actor-Role", role)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createUser(t *testing.T, id string) {
	t.Helper()
	status := ts.request(t, http.MethodPost, "/api/users", "admin", map[string]any{
		"id": id, "company_id": "c-1", "first_name": "Alfie", "last_name": "Ferris",
	}, nil)
	require.Equal(t, http.StatusCreated, status)
}

func quarterlyTarget(userID string) map[string]any {
	return map[string]any{
		"user_id":             userID,
		"period_type":         "quarterly",
		"period_start":        "2025-04-01",
		"period_end":          "2025-06-30",
		"quota_amount":        "100000",
		"commission_rate":     "0.10",
		"distribution_method": "even",
	}
}

func (ts *testServer) createDeal(t *testing.T, id, amount, stage, closeDate string) {
	t.Helper()
	status := ts.request(t, http.MethodPost, "/api/deals", "admin", map[string]any{
		"id": id, "user_id": "u-1", "company_id": "c-1",
		"amount": amount, "stage": stage, "close_date": closeDate,
	}, nil)
	require.Equal(t, http.StatusCreated, status)
}

// =============================================================================
// USERS
// =============================================================================

/*
GIVEN a user payload with a hire date
WHEN created and fetched
THEN both round-trip; an unknown ID is a 404 with the error envelope
*/
func TestUserEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var created api.UserDTO
	status := ts.request(t, http.MethodPost, "/api/users", "admin", map[string]any{
		"id": "u-1", "company_id": "c-1", "first_name": "Alfie",
		"last_name": "Ferris", "hire_date": "2025-02-15",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "2025-02-15", created.HireDate)

	var fetched api.UserDTO
	status = ts.request(t, http.MethodGet, "/api/users/u-1", "", nil, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alfie", fetched.FirstName)

	var errResp api.ErrorResponse
	status = ts.request(t, http.MethodGet, "/api/users/u-nope", "", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, errResp.Error)
}

/*
GIVEN a user payload missing required fields
WHEN posted
THEN validation rejects it with a 400
*/
func TestUserValidation(t *testing.T) {
	ts := newTestServer(t)

	status := ts.request(t, http.MethodPost, "/api/users", "admin", map[string]any{
		"id": "u-1",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = ts.request(t, http.MethodPost, "/api/users", "admin", map[string]any{
		"id": "u-1", "company_id": "c-1", "first_name": "Alfie",
		"last_name": "Ferris", "hire_date": "15/02/2025",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// TARGETS
// =============================================================================

/*
GIVEN a quarterly even distribution for an existing user
WHEN posted
THEN the hierarchy is created and readable back with its children
*/
func TestDistributeTarget(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")

	var result api.DistributionResultDTO
	status := ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), &result)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, result.Parent)
	assert.Equal(t, "AF-Q2-2025", result.Parent.Name)
	assert.Equal(t, "100000", result.Parent.QuotaAmount)
	require.Len(t, result.Children, 3)
	assert.Equal(t, result.Parent.ID, result.Children[0].ParentTargetID)

	var detail struct {
		Target   api.TargetDTO   `json:"target"`
		Children []api.TargetDTO `json:"children"`
	}
	status = ts.request(t, http.MethodGet, "/api/targets/"+result.Parent.ID, "", nil, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, detail.Children, 3)

	status = ts.request(t, http.MethodPost, "/api/targets/"+result.Parent.ID+"/deactivate", "admin", nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

/*
GIVEN an existing target for the period
WHEN the same quota is distributed again with the default policy
THEN the API answers 409 carrying the conflict, and resolve-conflict with
"replace" settles it
*/
func TestDistributeConflictFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")

	status := ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil)
	require.Equal(t, http.StatusCreated, status)

	var conflicted api.DistributionResultDTO
	status = ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), &conflicted)
	require.Equal(t, http.StatusConflict, status)
	assert.True(t, conflicted.Skipped)
	require.NotNil(t, conflicted.Conflict)
	assert.Equal(t, "u-1", conflicted.Conflict.UserID)
	assert.NotEmpty(t, conflicted.Conflict.Overlapping)

	var resolved api.DistributionResultDTO
	status = ts.request(t, http.MethodPost, "/api/targets/resolve-conflict", "admin", map[string]any{
		"decision": "replace",
		"request":  quarterlyTarget("u-1"),
	}, &resolved)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, resolved.Skipped)
	assert.Len(t, resolved.Replaced, 4, "parent and three children deactivated")
}

/*
GIVEN a distribution payload with a malformed date and an unknown method
WHEN posted
THEN each is rejected with a 400 before anything is written
*/
func TestDistributeValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")

	badDate := quarterlyTarget("u-1")
	badDate["period_start"] = "04/01/2025"
	assert.Equal(t, http.StatusBadRequest,
		ts.request(t, http.MethodPost, "/api/targets", "admin", badDate, nil))

	badMethod := quarterlyTarget("u-1")
	badMethod["distribution_method"] = "fibonacci"
	assert.Equal(t, http.StatusBadRequest,
		ts.request(t, http.MethodPost, "/api/targets", "admin", badMethod, nil))

	var targets []api.TargetDTO
	status := ts.request(t, http.MethodGet, "/api/users/u-1/targets", "", nil, &targets)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, targets)
}

/*
GIVEN two reps and one manager in a company
WHEN a batch distribution targets the rep role
THEN only the reps receive targets
*/
func TestDistributeBatch(t *testing.T) {
	ts := newTestServer(t)
	for _, u := range []map[string]any{
		{"id": "u-1", "first_name": "Alfie", "last_name": "Ferris", "role": "rep"},
		{"id": "u-2", "first_name": "Ben", "last_name": "Okafor", "role": "rep"},
		{"id": "u-3", "first_name": "Cal", "last_name": "Pryce", "role": "manager"},
	} {
		u["company_id"] = "c-1"
		require.Equal(t, http.StatusCreated,
			ts.request(t, http.MethodPost, "/api/users", "admin", u, nil))
	}

	payload := quarterlyTarget("")
	delete(payload, "user_id")
	payload["company_id"] = "c-1"
	payload["role"] = "rep"

	var result api.BatchResultDTO
	status := ts.request(t, http.MethodPost, "/api/targets/batch", "admin", payload, &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Skipped)

	var targets []api.TargetDTO
	ts.request(t, http.MethodGet, "/api/users/u-3/targets", "", nil, &targets)
	assert.Empty(t, targets, "the manager is outside the role filter")
}

// =============================================================================
// DEALS AND CALCULATION
// =============================================================================

/*
GIVEN a closed-won deal inside an active target period
WHEN calculation is requested
THEN the commission lands at the flat rate and the deal carries the cached
snapshot
*/
func TestCalculateCommission(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "100000", "Closed Won", "2025-05-15")

	var c api.CommissionDTO
	status := ts.request(t, http.MethodPost, "/api/deals/d-1/calculate", "admin", nil, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "10000.00", c.CommissionAmount)
	assert.Equal(t, "calculated", c.Status)
	assert.Equal(t, "AF-May-2025", c.TargetName, "the close-date month's child governs")

	var deal api.DealDTO
	status = ts.request(t, http.MethodGet, "/api/deals/d-1", "", nil, &deal)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "10000.00", deal.CommissionAmount)
}

/*
GIVEN a deal still in negotiation
WHEN calculation is requested
THEN the API answers 422 rather than minting a zero commission
*/
func TestCalculateOpenDeal(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "100000", "negotiation", "2025-05-15")

	status := ts.request(t, http.MethodPost, "/api/deals/d-1/calculate", "admin", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

/*
GIVEN a won deal with no target covering its close date
WHEN calculated
THEN the API answers 404
*/
func TestCalculateNoTarget(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	ts.createDeal(t, "d-1", "100000", "Closed Won", "2025-05-15")

	status := ts.request(t, http.MethodPost, "/api/deals/d-1/calculate", "admin", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

/*
GIVEN the stage-change webhook
WHEN a deal enters and then leaves closed won
THEN entering calculates and leaving voids, clearing the cached snapshot
*/
func TestStageChangeWebhook(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "100000", "negotiation", "2025-05-15")

	var c api.CommissionDTO
	status := ts.request(t, http.MethodPost, "/api/deals/d-1/stage", "admin",
		map[string]any{"new_stage": "Closed Won"}, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "calculated", c.Status)

	status = ts.request(t, http.MethodPost, "/api/deals/d-1/stage", "admin",
		map[string]any{"old_stage": "Closed Won", "new_stage": "negotiation"}, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "voided", c.Status)

	var deal api.DealDTO
	ts.request(t, http.MethodGet, "/api/deals/d-1", "", nil, &deal)
	assert.Empty(t, deal.CommissionAmount, "reversal clears the cached snapshot")
}

// =============================================================================
// APPROVAL WORKFLOW
// =============================================================================

/*
GIVEN a calculated commission
WHEN it walks review, approve, and pay with properly-roled actors
THEN each hop succeeds, role misuse is a 403, and the history shows every hop
*/
func TestApprovalWorkflow(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "100000", "Closed Won", "2025-05-15")

	var c api.CommissionDTO
	require.Equal(t, http.StatusOK,
		ts.request(t, http.MethodPost, "/api/deals/d-1/calculate", "admin", nil, &c))
	base := "/api/commissions/" + c.ID

	// A rep cannot approve their own commission.
	status := ts.request(t, http.MethodPost, base+"/approve", "rep", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = ts.request(t, http.MethodPost, base+"/review", "manager", nil, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending_review", c.Status)

	status = ts.request(t, http.MethodPost, base+"/approve", "manager",
		map[string]any{"notes": "numbers check out"}, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "approved", c.Status)

	// Paying needs a reference and an admin.
	status = ts.request(t, http.MethodPost, base+"/pay", "admin", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status = ts.request(t, http.MethodPost, base+"/pay", "manager",
		map[string]any{"payment_reference": "PAY-77"}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = ts.request(t, http.MethodPost, base+"/pay", "admin",
		map[string]any{"payment_reference": "PAY-77"}, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid", c.Status)
	assert.Equal(t, "PAY-77", c.PaymentReference)
	assert.NotEmpty(t, c.PaidAt)

	var history []api.ApprovalDTO
	status = ts.request(t, http.MethodGet, base+"/history", "", nil, &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history, 4, "calculate, review, approve, pay")
	assert.Equal(t, "pay", history[3].Action)
	assert.Equal(t, "admin-1", history[3].PerformedBy)
}

/*
GIVEN a calculated commission
WHEN a manager adjusts and approves in one step
THEN the response carries the rounded amount and the original
*/
func TestAdjustAndApprove(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "100000", "Closed Won", "2025-05-15")

	var c api.CommissionDTO
	require.Equal(t, http.StatusOK,
		ts.request(t, http.MethodPost, "/api/deals/d-1/calculate", "admin", nil, &c))

	status := ts.request(t, http.MethodPost, "/api/commissions/"+c.ID+"/adjust-approve", "manager",
		map[string]any{
			"adjusted_amount":   "8500.555",
			"adjustment_reason": "split credit with the overlay team",
		}, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "approved", c.Status)
	assert.Equal(t, "8500.56", c.CommissionAmount)
	assert.Equal(t, "10000.00", c.OriginalAmount)
}

/*
GIVEN commissions across two users
WHEN listed with a user filter
THEN only that user's rows come back
*/
func TestListCommissions(t *testing.T) {
	ts := newTestServer(t)
	for i, id := range []string{"u-1", "u-2"} {
		ts.createUser(t, id)
		payload := quarterlyTarget(id)
		require.Equal(t, http.StatusCreated,
			ts.request(t, http.MethodPost, "/api/targets", "admin", payload, nil))

		dealID := fmt.Sprintf("d-%d", i+1)
		require.Equal(t, http.StatusCreated, ts.request(t, http.MethodPost, "/api/deals", "admin", map[string]any{
			"id": dealID, "user_id": id, "company_id": "c-1",
			"amount": "50000", "stage": "Closed Won", "close_date": "2025-05-15",
		}, nil))
		require.Equal(t, http.StatusOK,
			ts.request(t, http.MethodPost, "/api/deals/"+dealID+"/calculate", "admin", nil, nil))
	}

	var all []api.CommissionDTO
	status := ts.request(t, http.MethodGet, "/api/commissions?company_id=c-1", "", nil, &all)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, all, 2)

	var mine []api.CommissionDTO
	status = ts.request(t, http.MethodGet, "/api/commissions?company_id=c-1&user_id=u-2", "", nil, &mine)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, mine, 1)
	assert.Equal(t, "u-2", mine[0].UserID)
}

// =============================================================================
// RULES
// =============================================================================

/*
GIVEN a tiered rule without an explicit ID
WHEN created
THEN an ID is assigned and the rule shapes the next calculation
*/
func TestCreateRule(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "100000", "Closed Won", "2025-05-15")

	var created map[string]string
	status := ts.request(t, http.MethodPost, "/api/rules", "admin", map[string]any{
		"company_id": "c-1",
		"name":       "flat twelve",
		"type":       "base_rate",
		"priority":   1,
		"rate":       "0.12",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, created["id"])

	var c api.CommissionDTO
	status = ts.request(t, http.MethodPost, "/api/deals/d-1/calculate", "admin",
		map[string]any{"use_advanced_rules": true}, &c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "12000.00", c.CommissionAmount)
	require.Len(t, c.Breakdown, 1)
}

// =============================================================================
// REPORTS AND RESOLUTION
// =============================================================================

/*
GIVEN a distributed quarter with one won deal
WHEN the governing target and progress are queried for the close date
THEN the child month wins resolution and attainment reflects the deal
*/
func TestActiveTargetAndProgress(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "20000", "Closed Won", "2025-05-15")

	var target api.TargetDTO
	status := ts.request(t, http.MethodGet, "/api/users/u-1/active-target?date=2025-05-15", "", nil, &target)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "AF-May-2025", target.Name, "the May child governs, not the quarter")

	var progress api.ProgressDTO
	status = ts.request(t, http.MethodGet, "/api/users/u-1/progress?date=2025-05-15", "", nil, &progress)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "20000", progress.ActualAmount)
	assert.Equal(t, target.ID, progress.Target.ID)
}

/*
GIVEN a distributed quarter
WHEN the quota report is viewed quarterly
THEN the months reconcile back into one deduplicated quarter row
*/
func TestQuotaReport(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))
	ts.createDeal(t, "d-1", "50000", "Closed Won", "2025-05-15")

	var rows []api.AggregatedRowDTO
	status := ts.request(t, http.MethodGet, "/api/reports/quota?company_id=c-1&view=quarterly", "", nil, &rows)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, rows, 1)
	assert.Equal(t, "Q2-2025", rows[0].Label)
	assert.Equal(t, "100000.00", rows[0].QuotaAmount)
	assert.Equal(t, "50000.00", rows[0].ActualAmount)
	assert.Equal(t, "50.00", rows[0].AttainmentPct)
}

/*
GIVEN the backfill endpoint after a rename
WHEN run as a dry run and then for real
THEN the preview counts without writing and the real run renames
*/
func TestBackfillNames(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "u-1")
	require.Equal(t, http.StatusCreated,
		ts.request(t, http.MethodPost, "/api/targets", "admin", quarterlyTarget("u-1"), nil))

	// Rename the user; target names still carry the old initials.
	require.Equal(t, http.StatusCreated, ts.request(t, http.MethodPost, "/api/users", "admin", map[string]any{
		"id": "u-1", "company_id": "c-1", "first_name": "Zara", "last_name": "Quinn",
	}, nil))

	var preview api.BackfillResultDTO
	status := ts.request(t, http.MethodPost, "/api/users/u-1/targets/backfill-names?dry_run=true", "admin", nil, &preview)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, preview.Examined)
	assert.Equal(t, 4, preview.Renamed)
	assert.True(t, preview.DryRun)

	var target api.TargetDTO
	ts.request(t, http.MethodGet, "/api/users/u-1/active-target?date=2025-05-15", "", nil, &target)
	assert.Equal(t, "AF-May-2025", target.Name, "dry run must not write")

	var applied api.BackfillResultDTO
	status = ts.request(t, http.MethodPost, "/api/users/u-1/targets/backfill-names", "admin", nil, &applied)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, applied.Renamed)

	ts.request(t, http.MethodGet, "/api/users/u-1/active-target?date=2025-05-15", "", nil, &target)
	assert.Equal(t, "ZQ-May-2025", target.Name)
}

// =============================================================================
// COMPANIES
// =============================================================================

/*
GIVEN the plan endpoint
WHEN the trial flag is set
THEN the flag is persisted for the auto-approval check
*/
func TestSetCompanyPlan(t *testing.T) {
	ts := newTestServer(t)

	var resp map[string]any
	status := ts.request(t, http.MethodPut, "/api/companies/c-1/plan", "admin",
		map[string]any{"trial": true}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["trial"])

	trial, err := ts.store.IsTrialPlan(context.Background(), quota.CompanyID("c-1"))
	require.NoError(t, err)
	assert.True(t, trial)
}
