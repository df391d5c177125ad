/*
calculator.go - Deal commission calculation and the deal lifecycle hook

PURPOSE:
  Computes the commission for a closed-won deal:
    1. No-op unless the deal stage is closed won
    2. Idempotent short-circuit when a commission already exists and the
       caller did not ask to recalculate
    3. Resolve the governing target (shared resolver comparator)
    4. Flat path: deal amount x target commission rate
    5. Advanced path: ordered rule evaluation with flat fallback
    6. Round once, on the final output
    7. Write the deal's read cache and the commission + audit record
    8. Auto-approve under the ceiling (trial companies excluded),
       otherwise notify that approval is pending

DEAL REVERSAL:
  HandleDealUpdate is invoked by the out-of-scope deal subsystem on stage
  changes. Entering closed won calculates; leaving it clears the deal's
  cached commission fields and voids any non-paid commission. A paid
  commission is never altered by this path.

CONCURRENCY:
  Commission creation is guarded by the deal_id uniqueness constraint.
  A concurrent duplicate resolves via "constraint violation => fetch
  existing", never via a crash or a second row.

SEE ALSO:
  - rules.go: EvaluateRules
  - statemachine.go: auto-approval transition, audit entries
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/quota"
)

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Resolver *quota.Resolver
	Store    Store
	Audit    AuditLog
	Rules    RuleStore
	Deals    DealStore
	States   *StateMachine
	Notifier Notifier
	Plans    PlanChecker

	// AutoApproveCeiling is the inclusive auto-approval bound; zero
	// disables auto-approval entirely.
	AutoApproveCeiling decimal.Decimal

	// UseAdvancedRules selects the rule path for lifecycle-hook
	// calculations; explicit CalcOptions override it.
	UseAdvancedRules bool

	Now   func() time.Time
	NewID func() string
}

func NewCalculator(resolver *quota.Resolver, store Store, audit AuditLog, rules RuleStore, deals DealStore, states *StateMachine, notifier Notifier, plans PlanChecker) *Calculator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Calculator{
		Resolver: resolver,
		Store:    store,
		Audit:    audit,
		Rules:    rules,
		Deals:    deals,
		States:   states,
		Notifier: notifier,
		Plans:    plans,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// CalcOptions controls one calculation.
type CalcOptions struct {
	Recalculate       bool
	UseAdvancedRules  bool
	CreateAuditRecord bool

	// CalculatedBy defaults to "system".
	CalculatedBy string
}

// CalculateDealCommission computes and records the commission for a deal.
// Returns (nil, nil) when the deal is not closed won. Returns
// NoActiveTargetError when no target governs the close date: the engine
// never substitutes a default rate, the deal stays uncalculated.
func (calc *Calculator) CalculateDealCommission(ctx context.Context, dealID DealID, opts CalcOptions) (*Commission, error) {
	deal, err := calc.Deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !IsClosedWon(deal.Stage) {
		return nil, nil
	}

	existing, err := calc.Store.GetByDeal(ctx, dealID)
	if err != nil && !errors.Is(err, ErrCommissionNotFound) {
		return nil, err
	}
	if existing != nil {
		if !opts.Recalculate {
			return existing, nil
		}
		if existing.Status == StatusPaid {
			return nil, ErrCommissionPaid
		}
	}

	closeDay := quota.NewPeriod(deal.CloseDate, deal.CloseDate)
	target, err := calc.Resolver.Resolve(ctx, deal.UserID, closeDay)
	if err != nil {
		return nil, err
	}

	periodSales, err := calc.Deals.ClosedWonTotal(ctx, deal.UserID, target.Period, dealID)
	if err != nil {
		return nil, err
	}

	attainment := decimal.Zero
	if target.QuotaAmount.IsPositive() {
		attainment = periodSales.Div(target.QuotaAmount).Mul(decimal.NewFromInt(100))
	}

	base := deal.Amount.Mul(target.CommissionRate)
	total := base
	rate := target.CommissionRate
	var breakdown []RuleContribution

	if opts.UseAdvancedRules {
		rules, err := calc.Rules.ActiveRules(ctx, deal.CompanyID, deal.CloseDate)
		if err != nil {
			return nil, err
		}
		ruleTotal, contributions, applied := EvaluateRules(rules, EvalContext{
			DealAmount:      deal.Amount,
			ProductCategory: deal.ProductCategory,
			PeriodSales:     periodSales,
			QuotaAmount:     target.QuotaAmount,
			AttainmentPct:   attainment,
		})
		if applied {
			total = ruleTotal
			breakdown = roundContributions(contributions)
			if deal.Amount.IsPositive() {
				rate = ruleTotal.Div(deal.Amount)
			}
		}
	}

	// The single rounding point for the whole calculation.
	final := quota.RoundMoney(total)
	now := calc.Now()

	if err := calc.Deals.UpdateCommissionSnapshot(ctx, dealID, rate, final, now); err != nil {
		return nil, fmt.Errorf("failed to write deal commission cache: %w", err)
	}

	if !opts.CreateAuditRecord {
		return calc.buildCommission(deal, target, periodSales, attainment, rate, final, base, breakdown, now, opts), nil
	}

	c := calc.buildCommission(deal, target, periodSales, attainment, rate, final, base, breakdown, now, opts)
	auditAction := actionCalculate

	if existing != nil {
		// Recalculation rewrites the existing row; deal_id uniqueness
		// means there is never a second row.
		c.ID = existing.ID
		c.Notes = existing.Notes
		auditAction = actionRecalculate
		if err := calc.Store.UpdateCommission(ctx, c); err != nil {
			return nil, err
		}
	} else {
		err := calc.Store.CreateCommission(ctx, c)
		if errors.Is(err, ErrDuplicateDeal) {
			// Lost a concurrent race: fetch the winner.
			return calc.Store.GetByDeal(ctx, dealID)
		}
		if err != nil {
			return nil, err
		}
	}

	entry := Approval{
		ID:             calc.NewID(),
		CommissionID:   c.ID,
		Action:         auditAction,
		PerformedBy:    c.CalculatedBy,
		PerformedAt:    now,
		PreviousStatus: statusBefore(existing),
		NewStatus:      StatusCalculated,
		Metadata: map[string]any{
			"deal_id":     string(deal.ID),
			"target_id":   string(target.ID),
			"target_name": target.Name,
			"rule_path":   len(breakdown) > 0,
		},
	}
	if err := calc.Audit.AppendApproval(ctx, entry); err != nil {
		return nil, err
	}

	return calc.settleApproval(ctx, c)
}

func statusBefore(existing *Commission) Status {
	if existing == nil {
		return ""
	}
	return existing.Status
}

func (calc *Calculator) buildCommission(deal *Deal, target *quota.Target, periodSales, attainment, rate, final, base decimal.Decimal, breakdown []RuleContribution, now time.Time, opts CalcOptions) *Commission {
	calculatedBy := opts.CalculatedBy
	if calculatedBy == "" {
		calculatedBy = System.ID
	}
	return &Commission{
		ID:               CommissionID(calc.NewID()),
		DealID:           deal.ID,
		UserID:           deal.UserID,
		CompanyID:        deal.CompanyID,
		TargetID:         target.ID,
		TargetName:       target.Name,
		Period:           target.Period,
		QuotaAmount:      target.QuotaAmount,
		ActualAmount:     quota.RoundMoney(periodSales.Add(deal.Amount)),
		AttainmentPct:    attainment.Round(2),
		CommissionRate:   rate,
		CommissionAmount: final,
		BaseCommission:   quota.RoundMoney(base),
		Breakdown:        breakdown,
		Status:           StatusCalculated,
		CalculatedAt:     now,
		CalculatedBy:     calculatedBy,
	}
}

// settleApproval auto-approves under the ceiling or raises the
// pending-approval notification.
func (calc *Calculator) settleApproval(ctx context.Context, c *Commission) (*Commission, error) {
	if calc.AutoApproveCeiling.IsPositive() &&
		c.CommissionAmount.LessThanOrEqual(calc.AutoApproveCeiling) {
		trial := false
		if calc.Plans != nil {
			var err error
			trial, err = calc.Plans.IsTrialPlan(ctx, c.CompanyID)
			if err != nil {
				return nil, err
			}
		}
		if !trial {
			approved, err := calc.States.Apply(ctx, c.ID, ActionApprove, TransitionInput{
				Actor:    System,
				Metadata: map[string]any{"auto_approved": true, "ceiling": calc.AutoApproveCeiling.String()},
			})
			if err != nil {
				return nil, fmt.Errorf("auto-approval failed: %w", err)
			}
			return approved, nil
		}
	}

	calc.Notifier.CommissionPending(ctx, *c, []quota.UserID{c.UserID})
	return c, nil
}

func roundContributions(contributions []RuleContribution) []RuleContribution {
	out := make([]RuleContribution, len(contributions))
	for i, c := range contributions {
		c.Amount = quota.RoundMoney(c.Amount)
		out[i] = c
	}
	return out
}

// =============================================================================
// DEAL LIFECYCLE HOOK
// =============================================================================

// HandleDealUpdate reacts to a deal stage change. Entering closed won
// calculates the commission; leaving closed won clears the deal's cached
// commission fields and voids any non-paid commission. Paid commissions
// are never touched by this path.
func (calc *Calculator) HandleDealUpdate(ctx context.Context, dealID DealID, oldStage, newStage string) (*Commission, error) {
	wasWon := IsClosedWon(oldStage)
	isWon := IsClosedWon(newStage)

	switch {
	case isWon && !wasWon:
		return calc.CalculateDealCommission(ctx, dealID, CalcOptions{
			UseAdvancedRules:  calc.UseAdvancedRules,
			CreateAuditRecord: true,
		})

	case wasWon && !isWon:
		return calc.voidDeal(ctx, dealID, oldStage, newStage)
	}
	return nil, nil
}

func (calc *Calculator) voidDeal(ctx context.Context, dealID DealID, oldStage, newStage string) (*Commission, error) {
	if err := calc.Deals.ClearCommissionSnapshot(ctx, dealID); err != nil {
		return nil, fmt.Errorf("failed to clear deal commission cache: %w", err)
	}

	c, err := calc.Store.GetByDeal(ctx, dealID)
	if errors.Is(err, ErrCommissionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Status == StatusPaid {
		// A paid commission survives deal reversal untouched.
		return c, nil
	}
	if c.Status == StatusVoided {
		return c, nil
	}

	previous := c.Status
	c.Status = StatusVoided
	if err := calc.Store.UpdateGuarded(ctx, c, previous); err != nil {
		return nil, fmt.Errorf("void after deal reversal: %w", err)
	}

	entry := Approval{
		ID:             calc.NewID(),
		CommissionID:   c.ID,
		Action:         actionVoid,
		PerformedBy:    System.ID,
		PerformedAt:    calc.Now(),
		PreviousStatus: previous,
		NewStatus:      StatusVoided,
		Metadata: map[string]any{
			"old_stage": oldStage,
			"new_stage": newStage,
		},
	}
	if err := calc.Audit.AppendApproval(ctx, entry); err != nil {
		return nil, err
	}
	return c, nil
}
