/*
handlers.go - HTTP API handlers for the quota and commission engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, input validation, and delegates to domain logic.

ENDPOINTS:
  Users:
    POST   /api/users                         Create/update user
    GET    /api/users/{id}                    Get user
    GET    /api/users/{id}/targets            List the user's targets
    GET    /api/users/{id}/active-target      Resolve governing target
    GET    /api/users/{id}/progress           Quota attainment report
    POST   /api/users/{id}/targets/backfill-names  Regenerate target names
    DELETE /api/users/{id}/targets            Deactivate all (offboarding)

  Targets:
    POST   /api/targets                       Distribute a quota
    POST   /api/targets/batch                 Distribute to a user cohort
    POST   /api/targets/resolve-conflict      Settle a flagged conflict
    GET    /api/targets/{id}                  Get target with children
    POST   /api/targets/{id}/deactivate       Soft-delete a target

  Deals:
    POST   /api/deals                         Create/update deal record
    GET    /api/deals/{id}                    Get deal
    POST   /api/deals/{id}/calculate          Calculate commission
    POST   /api/deals/{id}/stage              Stage-change webhook

  Commissions:
    GET    /api/commissions                   List with filters
    GET    /api/commissions/{id}              Get one
    GET    /api/commissions/{id}/history      Audit trail
    POST   /api/commissions/{id}/review       Lifecycle transitions...
    POST   /api/commissions/{id}/approve
    POST   /api/commissions/{id}/adjust-approve
    POST   /api/commissions/{id}/reject
    POST   /api/commissions/{id}/request-change
    POST   /api/commissions/{id}/pay

  Rules:
    POST   /api/rules                         Create/update a rule

  Reports:
    GET    /api/reports/quota                 Mixed-granularity aggregation

  Companies:
    PUT    /api/companies/{id}/plan           Set trial flag

ACTOR HEADERS:
  Authentication is out of scope; upstream middleware is trusted to set
    X-Actor-Id, X-Company-Id, X-Actor-Role (admin | manager | rep)
  and the handlers build the commission.Principal from them.

ERROR HANDLING:
  Domain errors map to HTTP status via writeDomainError:
  - 400: validation errors, malformed input
  - 403: permission errors
  - 404: unknown target/commission/deal/user, no active target
  - 409: conflicts (duplicate deal, stale status, target overlap)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/quota"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence surface the API needs. Implemented by both
// store/sqlite and store/memory.
type Store interface {
	quota.TxTargetStore
	quota.UserDirectory
	commission.Store
	commission.AuditLog
	commission.RuleStore
	commission.DealStore
	commission.PlanChecker

	SaveUser(ctx context.Context, u quota.User) error
	GetUser(ctx context.Context, id quota.UserID) (*quota.User, error)
	SaveDeal(ctx context.Context, d commission.Deal) error
	SetTrialPlan(ctx context.Context, companyID quota.CompanyID, trial bool) error
}

// Config tunes the calculator behavior.
type Config struct {
	// AutoApproveCeiling is the inclusive auto-approval bound; zero
	// disables auto-approval.
	AutoApproveCeiling decimal.Decimal

	// UseAdvancedRules enables the rule engine for webhook-driven
	// calculations.
	UseAdvancedRules bool
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Store
	Distributor *quota.Distributor
	Resolver    *quota.Resolver
	Aggregator  *quota.Aggregator
	Calculator  *commission.Calculator
	States      *commission.StateMachine

	validate *validator.Validate
}

// NewHandler wires the domain services around the given store.
func NewHandler(store Store, notifier commission.Notifier, cfg Config) *Handler {
	resolver := quota.NewResolver(store)
	states := commission.NewStateMachine(store, store, notifier)
	calc := commission.NewCalculator(resolver, store, store, store, store, states, notifier, store)
	calc.AutoApproveCeiling = cfg.AutoApproveCeiling
	calc.UseAdvancedRules = cfg.UseAdvancedRules

	return &Handler{
		Store:       store,
		Distributor: quota.NewDistributor(store, store),
		Resolver:    resolver,
		Aggregator:  &quota.Aggregator{PaymentSchedule: quota.ViewMonthly},
		Calculator:  calc,
		States:      states,
		validate:    validator.New(),
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser creates or updates a user record.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user := quota.User{
		ID:        quota.UserID(req.ID),
		CompanyID: quota.CompanyID(req.CompanyID),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		TeamID:    req.TeamID,
	}
	if req.HireDate != "" {
		hireDate, err := time.Parse(dateFormat, req.HireDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hire_date format (use YYYY-MM-DD)", err)
			return
		}
		user.HireDate = &hireDate
	}

	if err := h.Store.SaveUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetUser(r.Context(), quota.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// ListUserTargets returns every target for a user, children included.
func (h *Handler) ListUserTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.Store.ListByUser(r.Context(), quota.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list targets", err)
		return
	}
	writeJSON(w, http.StatusOK, toTargetDTOs(targets))
}

// GetActiveTarget resolves the governing target for a reference date
// (query param "date", default today).
func (h *Handler) GetActiveTarget(w http.ResponseWriter, r *http.Request) {
	userID := quota.UserID(chi.URLParam(r, "id"))
	period, ok := h.referencePeriod(w, r)
	if !ok {
		return
	}

	target, err := h.Resolver.Resolve(r.Context(), userID, period)
	if err != nil {
		writeDomainError(w, "Failed to resolve active target", err)
		return
	}
	writeJSON(w, http.StatusOK, toTargetDTO(*target))
}

// GetProgress returns quota attainment against the governing target.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID := quota.UserID(chi.URLParam(r, "id"))
	period, ok := h.referencePeriod(w, r)
	if !ok {
		return
	}

	sales := commission.SalesFromDeals{Deals: h.Store}
	report, err := h.Resolver.Progress(r.Context(), sales, userID, period)
	if err != nil {
		writeDomainError(w, "Failed to compute progress", err)
		return
	}

	writeJSON(w, http.StatusOK, ProgressDTO{
		Target:        toTargetDTO(report.Target),
		QuotaAmount:   report.QuotaAmount.String(),
		ActualAmount:  report.ActualAmount.String(),
		AttainmentPct: report.AttainmentPct.String(),
	})
}

// BackfillTargetNames regenerates a user's target names after a rename.
// Query param dry_run=true previews without writing.
func (h *Handler) BackfillTargetNames(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := quota.UserID(chi.URLParam(r, "id"))
	dryRun := r.URL.Query().Get("dry_run") == "true"

	user, err := h.Store.GetUser(ctx, userID)
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}

	result, err := quota.BackfillNames(ctx, h.Store, *user, dryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to backfill names", err)
		return
	}
	writeJSON(w, http.StatusOK, BackfillResultDTO{
		Examined: result.Examined,
		Renamed:  result.Renamed,
		DryRun:   dryRun,
	})
}

// DeactivateUserTargets soft-deletes every active target for a user.
func (h *Handler) DeactivateUserTargets(w http.ResponseWriter, r *http.Request) {
	count, err := h.Distributor.DeactivateUserTargets(r.Context(), quota.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to deactivate targets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deactivated": count})
}

// referencePeriod parses the optional "date" (single day) or
// "start"+"end" query params; defaults to today.
func (h *Handler) referencePeriod(w http.ResponseWriter, r *http.Request) (quota.Period, bool) {
	q := r.URL.Query()
	if start, end := q.Get("start"), q.Get("end"); start != "" || end != "" {
		s, err := time.Parse(dateFormat, start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start format (use YYYY-MM-DD)", err)
			return quota.Period{}, false
		}
		e, err := time.Parse(dateFormat, end)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end format (use YYYY-MM-DD)", err)
			return quota.Period{}, false
		}
		return quota.NewPeriod(s, e), true
	}

	day := time.Now().UTC()
	if d := q.Get("date"); d != "" {
		parsed, err := time.Parse(dateFormat, d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return quota.Period{}, false
		}
		day = parsed
	}
	return quota.NewPeriod(day, day), true
}

// =============================================================================
// TARGET HANDLERS
// =============================================================================

// DistributeTarget creates a target hierarchy for one user.
func (h *Handler) DistributeTarget(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
	if !h.decode(w, r, &req) {
		return
	}

	dreq, ok := h.toDistributionRequest(w, r.Context(), req)
	if !ok {
		return
	}

	result, err := h.Distributor.Distribute(r.Context(), dreq)
	if err != nil {
		writeDomainError(w, "Failed to distribute quota", err)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		// The skip policy reports the conflict instead of creating.
		status = http.StatusConflict
	}
	writeJSON(w, status, toDistributionResultDTO(result))
}

// DistributeBatch creates targets for every user matching the filter.
func (h *Handler) DistributeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchTargetRequest
	if !h.decode(w, r, &req) {
		return
	}

	period, quotaAmount, rate, cfg, ok := h.parseDistributionFields(w,
		req.PeriodStart, req.PeriodEnd, req.QuotaAmount, req.CommissionRate, req.Config)
	if !ok {
		return
	}

	result, err := h.Distributor.DistributeBatch(r.Context(), quota.BatchRequest{
		CompanyID:      quota.CompanyID(req.CompanyID),
		Filter:         quota.UserFilter{Role: req.Role, TeamID: req.TeamID},
		PeriodType:     quota.PeriodType(req.PeriodType),
		Period:         period,
		TotalQuota:     quotaAmount,
		CommissionRate: rate,
		Method:         quota.DistributionMethod(req.DistributionMethod),
		Config:         cfg,
		OnConflict:     quota.ConflictPolicy(req.OnConflict),
	})
	if err != nil {
		writeDomainError(w, "Failed to distribute batch", err)
		return
	}

	dto := BatchResultDTO{
		Created: result.Created,
		Skipped: result.Skipped,
		Errored: result.Errored,
	}
	for _, c := range result.Conflicts {
		dto.Conflicts = append(dto.Conflicts, toConflictDTO(c))
	}
	for _, f := range result.Failures {
		dto.Failures = append(dto.Failures, UserErrorDTO{UserID: string(f.UserID), Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, dto)
}

// ResolveConflict settles a previously flagged conflict with an explicit
// decision.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveConflictRequest
	if !h.decode(w, r, &req) {
		return
	}

	dreq, ok := h.toDistributionRequest(w, r.Context(), req.Request)
	if !ok {
		return
	}

	result, err := h.Distributor.ResolveConflict(r.Context(), dreq, quota.ConflictDecision(req.Decision))
	if err != nil {
		writeDomainError(w, "Failed to resolve conflict", err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionResultDTO(result))
}

// GetTarget returns a target and its children.
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := quota.TargetID(chi.URLParam(r, "id"))

	target, err := h.Store.GetTarget(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get target", err)
		return
	}
	children, err := h.Store.ListChildren(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list children", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"target":   toTargetDTO(*target),
		"children": toTargetDTOs(children),
	})
}

// DeactivateTarget soft-deletes one target.
func (h *Handler) DeactivateTarget(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeactivateTarget(r.Context(), quota.TargetID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, "Failed to deactivate target", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toDistributionRequest(w http.ResponseWriter, ctx context.Context, req CreateTargetRequest) (quota.DistributionRequest, bool) {
	user, err := h.Store.GetUser(ctx, quota.UserID(req.UserID))
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return quota.DistributionRequest{}, false
	}

	period, quotaAmount, rate, cfg, ok := h.parseDistributionFields(w,
		req.PeriodStart, req.PeriodEnd, req.QuotaAmount, req.CommissionRate, req.Config)
	if !ok {
		return quota.DistributionRequest{}, false
	}

	return quota.DistributionRequest{
		User:           *user,
		PeriodType:     quota.PeriodType(req.PeriodType),
		Period:         period,
		TotalQuota:     quotaAmount,
		CommissionRate: rate,
		Method:         quota.DistributionMethod(req.DistributionMethod),
		Config:         cfg,
		OnConflict:     quota.ConflictPolicy(req.OnConflict),
	}, true
}

func (h *Handler) parseDistributionFields(w http.ResponseWriter, start, end, quotaStr, rateStr string, cfgDTO *DistributionConfigDTO) (quota.Period, decimal.Decimal, decimal.Decimal, *quota.DistributionConfig, bool) {
	fail := func(message string, err error) (quota.Period, decimal.Decimal, decimal.Decimal, *quota.DistributionConfig, bool) {
		writeError(w, http.StatusBadRequest, message, err)
		return quota.Period{}, decimal.Zero, decimal.Zero, nil, false
	}

	s, err := time.Parse(dateFormat, start)
	if err != nil {
		return fail("Invalid period_start format (use YYYY-MM-DD)", err)
	}
	e, err := time.Parse(dateFormat, end)
	if err != nil {
		return fail("Invalid period_end format (use YYYY-MM-DD)", err)
	}
	quotaAmount, err := decimal.NewFromString(quotaStr)
	if err != nil {
		return fail("Invalid quota_amount", err)
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return fail("Invalid commission_rate", err)
	}

	var cfg *quota.DistributionConfig
	if cfgDTO != nil {
		cfg = &quota.DistributionConfig{
			SeasonalGranularity: quota.SeasonalGranularity(cfgDTO.SeasonalGranularity),
		}
		for _, a := range cfgDTO.Seasonal {
			alloc := quota.SeasonalAllocation{Bucket: a.Bucket}
			if a.Percent != "" {
				p, err := decimal.NewFromString(a.Percent)
				if err != nil {
					return fail("Invalid seasonal percent", err)
				}
				alloc.Percent = &p
			}
			if a.Amount != "" {
				amt, err := decimal.NewFromString(a.Amount)
				if err != nil {
					return fail("Invalid seasonal amount", err)
				}
				alloc.Amount = &amt
			}
			cfg.Seasonal = append(cfg.Seasonal, alloc)
		}
		for _, c := range cfgDTO.Custom {
			cs, err := time.Parse(dateFormat, c.PeriodStart)
			if err != nil {
				return fail("Invalid custom period_start format (use YYYY-MM-DD)", err)
			}
			ce, err := time.Parse(dateFormat, c.PeriodEnd)
			if err != nil {
				return fail("Invalid custom period_end format (use YYYY-MM-DD)", err)
			}
			amt, err := decimal.NewFromString(c.Amount)
			if err != nil {
				return fail("Invalid custom amount", err)
			}
			cfg.Custom = append(cfg.Custom, quota.CustomAllocation{
				Period: quota.NewPeriod(cs, ce),
				Amount: amt,
			})
		}
	}

	return quota.NewPeriod(s, e), quotaAmount, rate, cfg, true
}

// =============================================================================
// DEAL HANDLERS
// =============================================================================

// CreateDeal creates or updates a deal record.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req CreateDealRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	closeDate, err := time.Parse(dateFormat, req.CloseDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid close_date format (use YYYY-MM-DD)", err)
		return
	}

	deal := commission.Deal{
		ID:              commission.DealID(req.ID),
		UserID:          quota.UserID(req.UserID),
		CompanyID:       quota.CompanyID(req.CompanyID),
		Amount:          amount,
		Stage:           req.Stage,
		CloseDate:       closeDate,
		ProductCategory: req.ProductCategory,
	}
	if err := h.Store.SaveDeal(r.Context(), deal); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save deal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealDTO(deal))
}

// GetDeal returns a deal with its cached commission fields.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.Store.GetDeal(r.Context(), commission.DealID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get deal", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealDTO(*deal))
}

// CalculateCommission computes the commission for a deal on demand.
func (h *Handler) CalculateCommission(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	actor := actorFrom(r)
	c, err := h.Calculator.CalculateDealCommission(r.Context(), commission.DealID(chi.URLParam(r, "id")), commission.CalcOptions{
		Recalculate:       req.Recalculate,
		UseAdvancedRules:  req.UseAdvancedRules,
		CreateAuditRecord: true,
		CalculatedBy:      actor.ID,
	})
	if err != nil {
		writeDomainError(w, "Failed to calculate commission", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusUnprocessableEntity, "Deal is not closed won", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(*c))
}

// DealStageChanged is the stage-change webhook. Entering closed won
// calculates; leaving it voids.
func (h *Handler) DealStageChanged(w http.ResponseWriter, r *http.Request) {
	var req StageChangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	dealID := commission.DealID(chi.URLParam(r, "id"))

	// Persist the new stage first so period totals see it.
	deal, err := h.Store.GetDeal(ctx, dealID)
	if err != nil {
		writeDomainError(w, "Failed to get deal", err)
		return
	}
	oldStage := req.OldStage
	if oldStage == "" {
		oldStage = deal.Stage
	}
	deal.Stage = req.NewStage
	if err := h.Store.SaveDeal(ctx, *deal); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update deal", err)
		return
	}

	c, err := h.Calculator.HandleDealUpdate(ctx, dealID, oldStage, req.NewStage)
	if err != nil {
		writeDomainError(w, "Failed to process stage change", err)
		return
	}
	if c == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(*c))
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// ListCommissions returns commissions filtered by company_id, user_id,
// and/or status.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	commissions, err := h.Store.ListCommissions(r.Context(), commission.ListFilter{
		CompanyID: quota.CompanyID(q.Get("company_id")),
		UserID:    quota.UserID(q.Get("user_id")),
		Status:    commission.Status(q.Get("status")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTOs(commissions))
}

// GetCommission returns one commission.
func (h *Handler) GetCommission(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetCommission(r.Context(), commission.CommissionID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(*c))
}

// GetCommissionHistory returns the audit trail, oldest first.
func (h *Handler) GetCommissionHistory(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.Store.ListApprovals(r.Context(), commission.CommissionID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTOs(approvals))
}

// Transition returns a handler applying one lifecycle action.
func (h *Handler) Transition(action commission.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request body", err)
				return
			}
		}

		in := commission.TransitionInput{
			Actor:            actorFrom(r),
			Notes:            req.Notes,
			AdjustmentReason: req.AdjustmentReason,
			PaymentReference: req.PaymentReference,
		}
		if req.AdjustedAmount != "" {
			amount, err := decimal.NewFromString(req.AdjustedAmount)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid adjusted_amount", err)
				return
			}
			in.AdjustedAmount = &amount
		}

		c, err := h.States.Apply(r.Context(), commission.CommissionID(chi.URLParam(r, "id")), action, in)
		if err != nil {
			writeDomainError(w, "Transition failed", err)
			return
		}
		writeJSON(w, http.StatusOK, toCommissionDTO(*c))
	}
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// CreateRule creates or replaces a commission rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule := commission.Rule{
		ID:              commission.RuleID(req.ID),
		CompanyID:       quota.CompanyID(req.CompanyID),
		Name:            req.Name,
		Type:            commission.RuleType(req.Type),
		Priority:        req.Priority,
		ProductCategory: req.ProductCategory,
		TriggerOn:       commission.TriggerOn(req.TriggerOn),
		Rate:            quota.MustDecimal(req.Rate),
		Threshold:       quota.MustDecimal(req.Threshold),
		Factor:          quota.MustDecimal(req.Factor),
		Bonus:           quota.MustDecimal(req.Bonus),
		IsActive:        true,
	}
	if rule.ID == "" {
		rule.ID = commission.RuleID(uuid.NewString())
	}
	for _, t := range req.Tiers {
		tier := commission.RuleTier{
			ThresholdMin: quota.MustDecimal(t.ThresholdMin),
			Rate:         quota.MustDecimal(t.Rate),
		}
		if t.ThresholdMax != "" {
			upper := quota.MustDecimal(t.ThresholdMax)
			tier.ThresholdMax = &upper
		}
		rule.Tiers = append(rule.Tiers, tier)
	}
	if req.EffectiveFrom != "" {
		from, err := time.Parse(dateFormat, req.EffectiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_from format (use YYYY-MM-DD)", err)
			return
		}
		rule.EffectiveFrom = &from
	}
	if req.EffectiveTo != "" {
		to, err := time.Parse(dateFormat, req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to format (use YYYY-MM-DD)", err)
			return
		}
		rule.EffectiveTo = &to
	}

	if err := h.Store.SaveRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(rule.ID)})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// QuotaReport reconciles every user's targets into the requested view
// granularity (query params: company_id, view=monthly|quarterly|yearly).
func (h *Handler) QuotaReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	companyID := quota.CompanyID(q.Get("company_id"))
	view := quota.ViewGranularity(q.Get("view"))
	if view == "" {
		view = quota.ViewMonthly
	}

	users, err := h.Store.ListUsers(ctx, companyID, quota.UserFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	var records []quota.PeriodRecord
	for _, user := range users {
		targets, err := h.Store.ListByUser(ctx, user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list targets", err)
			return
		}
		parentConfigs := map[quota.TargetID]*quota.DistributionConfig{}
		for _, t := range targets {
			if t.DistributionConfig != nil {
				parentConfigs[t.ID] = t.DistributionConfig
			}
		}
		for _, t := range targets {
			if !t.IsActive {
				continue
			}
			actual, err := h.Store.ClosedWonTotal(ctx, user.ID, t.Period, "")
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to sum sales", err)
				return
			}
			record := quota.PeriodRecord{
				UserID:       user.ID,
				TargetID:     t.ID,
				Period:       t.Period,
				QuotaAmount:  t.QuotaAmount,
				ActualAmount: actual,
				Seasonal:     t.DistributionConfig,
			}
			// Children inherit the parent's seasonal shape for splitting.
			if t.ParentTargetID != nil {
				record.Seasonal = parentConfigs[*t.ParentTargetID]
			}
			records = append(records, record)
		}
	}

	rows, err := h.Aggregator.Aggregate(records, view)
	if err != nil {
		writeDomainError(w, "Failed to aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregatedRowDTOs(rows))
}

// =============================================================================
// COMPANY HANDLERS
// =============================================================================

// SetCompanyPlan records the trial flag used by auto-approval.
func (h *Handler) SetCompanyPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	companyID := quota.CompanyID(chi.URLParam(r, "id"))
	if err := h.Store.SetTrialPlan(r.Context(), companyID, req.Trial); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set plan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company_id": string(companyID), "trial": req.Trial})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses the JSON body and runs struct validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Validation failed", verrs)
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// actorFrom builds the principal from the trusted upstream headers.
func actorFrom(r *http.Request) commission.Principal {
	role := r.Header.Get("X-Actor-Role")
	return commission.Principal{
		ID:        r.Header.Get("X-Actor-Id"),
		CompanyID: quota.CompanyID(r.Header.Get("X-Company-Id")),
		IsAdmin:   role == "admin",
		IsManager: role == "manager" || role == "admin",
	}
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case quota.IsNotFound(err) || commission.IsNotFound(err):
		status = http.StatusNotFound
	case commission.IsPermission(err):
		status = http.StatusForbidden
	case quota.IsConflict(err) || commission.IsConflict(err):
		status = http.StatusConflict
	case quota.IsClientError(err) || commission.IsClientError(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
