/*
Package quota provides the sales-target domain: quota distribution,
active-target resolution, target naming, and period aggregation.

PURPOSE:
  A Target is a quota + commission-rate contract for a user over a period.
  This package creates targets (splitting a total quota across sub-periods),
  decides which target governs a given deal or report, and reconciles
  records stored at mixed period granularities.

KEY CONCEPTS IN THIS FILE (types.go):
  - Target: the quota contract (possibly a child of a coarser parent)
  - PeriodType / DistributionMethod: how the contract is scoped and split
  - DistributionConfig: seasonal or custom breakdown settings
  - User: the minimal profile the engine needs (name, hire date, scoping)

DESIGN PRINCIPLES:
  1. Precision: all money and rates use decimal.Decimal, never float64
  2. Soft deletion: targets are deactivated, never removed
  3. Type safety: typed string IDs prevent mixing user/target/company IDs
  4. One comparator: target precedence lives in resolver.go and nowhere else

SEE ALSO:
  - distribution.go: creates parent+child target hierarchies
  - resolver.go: selects the governing target among overlaps
  - aggregation.go: mixed-granularity reporting reconciliation
*/
package quota

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TargetID string
type UserID string
type CompanyID string

// =============================================================================
// PERIOD TYPES AND DISTRIBUTION METHODS
// =============================================================================

type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodAnnual    PeriodType = "annual"
	PeriodWeekly    PeriodType = "weekly"
	PeriodCustom    PeriodType = "custom"
)

type DistributionMethod string

const (
	DistributeEven     DistributionMethod = "even"
	DistributeSeasonal DistributionMethod = "seasonal"
	DistributeCustom   DistributionMethod = "custom"
	DistributeOneTime  DistributionMethod = "one_time"

	// DistributeChild marks a sub-period target created under a parent.
	DistributeChild DistributionMethod = "child"
)

// SeasonalGranularity selects the bucket size for seasonal distribution.
type SeasonalGranularity string

const (
	SeasonalQuarterly SeasonalGranularity = "quarterly"
	SeasonalMonthly   SeasonalGranularity = "monthly"
)

// SeasonalAllocation assigns a share to a named bucket: a quarter label
// ("Q1".."Q4") or a three-letter month abbreviation ("Jan".."Dec").
// Exactly one of Percent or Amount is set.
type SeasonalAllocation struct {
	Bucket  string
	Percent *decimal.Decimal // share of total, 0..100
	Amount  *decimal.Decimal // fixed currency amount
}

// CustomAllocation is an explicit caller-supplied sub-period.
type CustomAllocation struct {
	Period Period
	Amount decimal.Decimal
}

// DistributionConfig carries the method-specific settings. Stored alongside
// the parent target so aggregation can recover seasonal percentages later.
type DistributionConfig struct {
	SeasonalGranularity SeasonalGranularity  `json:"seasonal_granularity,omitempty"`
	Seasonal            []SeasonalAllocation `json:"seasonal,omitempty"`
	Custom              []CustomAllocation   `json:"custom,omitempty"`
}

// =============================================================================
// TARGET - A quota + commission-rate contract
// =============================================================================

type Target struct {
	ID        TargetID
	UserID    UserID
	CompanyID CompanyID

	Name       string
	PeriodType PeriodType
	Period     Period

	QuotaAmount    decimal.Decimal
	CommissionRate decimal.Decimal // 0..1

	ParentTargetID     *TargetID
	DistributionMethod DistributionMethod
	DistributionConfig *DistributionConfig

	// Optional scoping used by batch distribution.
	Role   string
	TeamID string

	IsActive  bool
	CreatedAt time.Time
}

// IsChild reports whether this target is a sub-period of a coarser parent.
func (t *Target) IsChild() bool {
	return t.ParentTargetID != nil
}

// =============================================================================
// USER - Minimal profile the quota engine needs
// =============================================================================

type User struct {
	ID        UserID
	CompanyID CompanyID
	FirstName string
	LastName  string
	HireDate  *time.Time
	Role      string
	TeamID    string
}

// UserDirectory is the out-of-scope user subsystem, seen through the narrow
// interface batch distribution needs.
type UserDirectory interface {
	ListUsers(ctx context.Context, companyID CompanyID, filter UserFilter) ([]User, error)
}

// UserFilter narrows batch distribution to a role and/or team.
// Zero value matches everyone in the company.
type UserFilter struct {
	Role   string
	TeamID string
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// RoundMoney rounds to 2 decimal places, half up. Applied exactly once on
// final outputs; intermediate arithmetic stays exact.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustDecimal parses a decimal literal, returning zero on malformed input.
// Intended for configuration defaults and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
