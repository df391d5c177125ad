/*
store.go - Persistence interfaces for commissions, rules, deals, and audit

PURPOSE:
  Defines the contract between the commission domain and storage.

KEY INVARIANTS:
  - commissions.deal_id is UNIQUE: a concurrent second calculation for the
    same deal surfaces as ErrDuplicateDeal; callers fetch the existing row
  - status transitions are optimistic: UpdateGuarded only applies when the
    persisted status still equals the expected source state
  - the audit log is append-only: no update or delete exists

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - store/memory: in-memory for tests and development
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/quota"
)

// =============================================================================
// COMMISSION STORE
// =============================================================================

// ListFilter narrows commission listings. Zero fields are ignored.
type ListFilter struct {
	CompanyID quota.CompanyID
	UserID    quota.UserID
	Status    Status
}

type Store interface {
	// CreateCommission persists a new commission. Returns ErrDuplicateDeal
	// when one already exists for the deal.
	CreateCommission(ctx context.Context, c *Commission) error

	// GetCommission returns a commission by ID, or ErrCommissionNotFound.
	GetCommission(ctx context.Context, id CommissionID) (*Commission, error)

	// GetByDeal returns the commission for a deal, or ErrCommissionNotFound.
	GetByDeal(ctx context.Context, dealID DealID) (*Commission, error)

	// UpdateCommission rewrites all mutable fields. Used by recalculation.
	UpdateCommission(ctx context.Context, c *Commission) error

	// UpdateGuarded rewrites the commission only if the persisted status
	// still equals expected; otherwise returns ErrStaleStatus. This is the
	// optimistic guard every state transition goes through.
	UpdateGuarded(ctx context.Context, c *Commission, expected Status) error

	// ListCommissions returns commissions matching the filter, most
	// recently calculated first.
	ListCommissions(ctx context.Context, filter ListFilter) ([]Commission, error)
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

type AuditLog interface {
	// AppendApproval writes one audit entry. There is no update or delete.
	AppendApproval(ctx context.Context, entry Approval) error

	// ListApprovals returns a commission's audit trail, oldest first.
	ListApprovals(ctx context.Context, id CommissionID) ([]Approval, error)
}

// =============================================================================
// RULE STORE
// =============================================================================

type RuleStore interface {
	// SaveRule creates or replaces a rule definition.
	SaveRule(ctx context.Context, r *Rule) error

	// ActiveRules returns the company's active rules whose effective
	// window covers asOf, ordered by priority ascending.
	ActiveRules(ctx context.Context, companyID quota.CompanyID, asOf time.Time) ([]Rule, error)
}

// =============================================================================
// DEAL STORE - Narrow window onto the external deal subsystem
// =============================================================================

type DealStore interface {
	// GetDeal returns a deal by ID, or ErrDealNotFound.
	GetDeal(ctx context.Context, id DealID) (*Deal, error)

	// UpdateCommissionSnapshot writes the read-optimized cache back onto
	// the deal.
	UpdateCommissionSnapshot(ctx context.Context, id DealID, rate, amount decimal.Decimal, at time.Time) error

	// ClearCommissionSnapshot removes the cached commission fields.
	ClearCommissionSnapshot(ctx context.Context, id DealID) error

	// ClosedWonTotal sums closed-won deal amounts for the user whose close
	// date falls within the period, excluding the given deal.
	ClosedWonTotal(ctx context.Context, userID quota.UserID, period quota.Period, exclude DealID) (decimal.Decimal, error)
}

// SalesFromDeals adapts a DealStore to quota.SalesSource for progress
// reporting, which excludes nothing.
type SalesFromDeals struct {
	Deals DealStore
}

func (s SalesFromDeals) ClosedWonTotal(ctx context.Context, userID quota.UserID, period quota.Period) (decimal.Decimal, error) {
	return s.Deals.ClosedWonTotal(ctx, userID, period, "")
}
