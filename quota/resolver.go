/*
resolver.go - Active target resolution

PURPOSE:
  Given a user and a reference period, deterministically selects the one
  governing target among overlapping active targets.

THE ONE COMPARATOR:
  Precedence is decided by CompareTargets and nowhere else. The commission
  calculator, quota-progress reporting, and period aggregation all resolve
  through this function — divergent resolvers are a correctness bug, not an
  implementation choice.

  Tie-break order:
    1. A child target (non-nil parent_target_id, finer-grained) beats a
       parentless target.
    2. Most recent created_at wins.

SEE ALSO:
  - distribution.go: creates the targets this selects among
  - aggregation.go: uses the resolver's target data for reporting
*/
package quota

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COMPARATOR
// =============================================================================

// CompareTargets reports whether a takes precedence over b.
func CompareTargets(a, b Target) bool {
	if a.IsChild() != b.IsChild() {
		return a.IsChild()
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// SortByPrecedence orders targets so the governing target is first.
func SortByPrecedence(targets []Target) {
	sort.SliceStable(targets, func(i, j int) bool {
		return CompareTargets(targets[i], targets[j])
	})
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Store TargetStore
}

func NewResolver(store TargetStore) *Resolver {
	return &Resolver{Store: store}
}

// Resolve returns the governing target for the user over the reference
// period, or NoActiveTargetError when none covers it.
func (r *Resolver) Resolve(ctx context.Context, userID UserID, period Period) (*Target, error) {
	candidates, err := r.Store.ListActiveOverlapping(ctx, userID, period)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &NoActiveTargetError{UserID: userID, Period: period}
	}
	SortByPrecedence(candidates)
	winner := candidates[0]
	return &winner, nil
}

// =============================================================================
// QUOTA PROGRESS - attainment reporting through the shared resolver
// =============================================================================

// SalesSource supplies closed-won sales totals. Owned by the deal subsystem;
// the quota package only reads aggregates.
type SalesSource interface {
	ClosedWonTotal(ctx context.Context, userID UserID, period Period) (decimal.Decimal, error)
}

// ProgressReport is a user's attainment against the governing target.
type ProgressReport struct {
	Target        Target
	ActualAmount  decimal.Decimal
	QuotaAmount   decimal.Decimal
	AttainmentPct decimal.Decimal
}

// Progress computes attainment for the user's governing target over the
// reference period. Resolution goes through the same comparator the
// commission calculator uses.
func (r *Resolver) Progress(ctx context.Context, sales SalesSource, userID UserID, period Period) (*ProgressReport, error) {
	target, err := r.Resolve(ctx, userID, period)
	if err != nil {
		return nil, err
	}

	actual, err := sales.ClosedWonTotal(ctx, userID, target.Period)
	if err != nil {
		return nil, err
	}

	attainment := decimal.Zero
	if target.QuotaAmount.IsPositive() {
		attainment = actual.Div(target.QuotaAmount).Mul(hundred)
	}

	return &ProgressReport{
		Target:        *target,
		ActualAmount:  actual,
		QuotaAmount:   target.QuotaAmount,
		AttainmentPct: attainment.Round(2),
	}, nil
}
