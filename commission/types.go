/*
Package commission computes, audits, and approves sales-commission payouts.

PURPOSE:
  When a deal closes, the calculator resolves the governing quota target,
  computes the commission (flat rate or rule engine), records the result,
  and hands the record to a finite-state approval workflow with an
  immutable audit trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - Commission: one payout record per deal (at most one, ever)
  - Approval: an immutable audit entry, one per state transition
  - Deal: the external deal entity seen through a narrow snapshot
  - Principal: an already-authenticated actor (identity is out of scope)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere; rounding happens once, on the
     final output, so repeated recalculation is deterministic
  2. Immutability: commissions are voided, never deleted; audit entries
     are never mutated
  3. Narrow collaborators: notifications, identity, and deal management
     sit behind single-method interfaces

SEE ALSO:
  - calculator.go: deal commission calculation and the deal lifecycle hook
  - statemachine.go: approval workflow transitions
  - rules.go: tiered/conditional rule engine
*/
package commission

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/quota"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CommissionID string
type DealID string
type RuleID string

// =============================================================================
// STATUS - Approval workflow states
// =============================================================================

type Status string

const (
	StatusCalculated    Status = "calculated"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusPaid          Status = "paid"   // terminal
	StatusVoided        Status = "voided" // reached only via deal reversal
)

// =============================================================================
// COMMISSION - One payout record per deal
// =============================================================================

type Commission struct {
	ID        CommissionID
	DealID    DealID
	UserID    quota.UserID
	CompanyID quota.CompanyID

	TargetID   quota.TargetID
	TargetName string
	Period     quota.Period

	QuotaAmount   decimal.Decimal
	ActualAmount  decimal.Decimal
	AttainmentPct decimal.Decimal

	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	BaseCommission   decimal.Decimal

	// OriginalAmount is set only when an approver adjusts the amount.
	OriginalAmount *decimal.Decimal

	// Breakdown is the ordered, reproducible rule contribution list for
	// audit display. Empty for flat-rate calculations.
	Breakdown []RuleContribution

	Status Status

	CalculatedAt time.Time
	CalculatedBy string
	ReviewedAt   *time.Time
	ReviewedBy   string
	ApprovedAt   *time.Time
	ApprovedBy   string
	PaidAt       *time.Time

	PaymentReference string
	AdjustmentReason string
	Notes            string
}

// =============================================================================
// APPROVAL - Immutable audit entry, one per transition
// =============================================================================

type Approval struct {
	ID           string
	CommissionID CommissionID
	Action       Action
	PerformedBy  string
	PerformedAt  time.Time

	PreviousStatus Status
	NewStatus      Status

	// Notes is human-readable; Metadata carries structured attributes.
	// The two are deliberately distinct fields.
	Notes    string
	Metadata map[string]any
}

// =============================================================================
// DEAL - External entity, narrow snapshot
// =============================================================================

// Deal is owned by the out-of-scope deal-management subsystem. The
// calculator reads it and writes back a read-optimized commission snapshot.
type Deal struct {
	ID        DealID
	UserID    quota.UserID
	CompanyID quota.CompanyID

	Amount          decimal.Decimal
	Stage           string
	CloseDate       time.Time
	ProductCategory string

	// Cached commission snapshot, written back by the calculator.
	CommissionRate         *decimal.Decimal
	CommissionAmount       *decimal.Decimal
	CommissionCalculatedAt *time.Time
}

// IsClosedWon matches the stage case-insensitively against the two
// spellings the CRM emits.
func IsClosedWon(stage string) bool {
	s := strings.ToLower(strings.TrimSpace(stage))
	return s == "closed won" || s == "closed_won"
}

// =============================================================================
// PRINCIPAL - Already-authenticated actor
// =============================================================================

// Principal is supplied by the caller; this package performs no
// authentication of its own.
type Principal struct {
	ID        string
	CompanyID quota.CompanyID
	IsAdmin   bool
	IsManager bool
}

// System is the actor recorded for automated transitions.
var System = Principal{ID: "system", IsAdmin: true, IsManager: true}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Notifier delivers approval-lifecycle notifications. Delivery mechanism is
// out of scope; failures are logged by implementations, never propagated
// into the commission write path.
type Notifier interface {
	CommissionPending(ctx context.Context, c Commission, recipients []quota.UserID)
	CommissionApproved(ctx context.Context, c Commission, recipients []quota.UserID)
	CommissionRejected(ctx context.Context, c Commission, recipients []quota.UserID)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) CommissionPending(context.Context, Commission, []quota.UserID)  {}
func (NopNotifier) CommissionApproved(context.Context, Commission, []quota.UserID) {}
func (NopNotifier) CommissionRejected(context.Context, Commission, []quota.UserID) {}

// PlanChecker reports whether a company is on a trial plan. Trial companies
// are excluded from auto-approval.
type PlanChecker interface {
	IsTrialPlan(ctx context.Context, companyID quota.CompanyID) (bool, error)
}

// PlanCheckerFunc adapts a function to the PlanChecker interface.
type PlanCheckerFunc func(ctx context.Context, companyID quota.CompanyID) (bool, error)

func (f PlanCheckerFunc) IsTrialPlan(ctx context.Context, companyID quota.CompanyID) (bool, error) {
	return f(ctx, companyID)
}
