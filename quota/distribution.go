/*
distribution.go - Quota distribution engine

PURPOSE:
  Splits a total quota into sub-period allocations and materializes a
  parent+child target hierarchy. Supports four methods:

  even:     calendar-month split, each month = round(total/months); the
            LAST month absorbs the rounding remainder so the sum is exact
  seasonal: quarterly or monthly buckets with percentage-of-total or
            fixed-amount shares; unspecified buckets share the remainder
            equally
  custom:   caller supplies explicit sub-periods and amounts; rejected if
            the sum deviates from the total by more than 1 currency unit
  one_time: the whole amount as a single target spanning the full range

HIERARCHY:
  even/seasonal/custom create a parent target carrying the original total
  and one child per sub-period (distribution_method = "child", linked via
  parent_target_id). one_time creates a single standalone target.

PRORATION:
  Mid-period hires scale each child by
  (days remaining in sub-period from hire date) / (days in sub-period).
  Hires before a sub-period leave it untouched; hires after it zero it.
  When proration fires, the parent is written with the prorated sum so the
  parent==sum(children) invariant always holds.

CONFLICTS:
  Before creating anything the engine checks for existing active targets
  overlapping the requested range. Per-invocation policy:
    skip:       record the conflict, create nothing for that user
    replace:    deactivate every overlapping target, then create
    concurrent: create without deactivating anything
  A flagged user is later settled via ResolveConflict with an explicit
  decision (replace / keep / concurrent).

ATOMICITY:
  Parent plus children are written inside a single store transaction.
  Batch distribution is per-user independent: one user's failure never
  rolls back another's targets.

SEE ALSO:
  - naming.go: target names derived at creation time
  - store.go: TxTargetStore transaction contract
*/
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFLICT POLICIES
// =============================================================================

type ConflictPolicy string

const (
	ConflictSkip       ConflictPolicy = "skip"
	ConflictReplace    ConflictPolicy = "replace"
	ConflictConcurrent ConflictPolicy = "concurrent"
)

// ConflictDecision settles a previously flagged user.
type ConflictDecision string

const (
	DecisionReplace    ConflictDecision = "replace"
	DecisionKeep       ConflictDecision = "keep"
	DecisionConcurrent ConflictDecision = "concurrent"
)

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

type DistributionRequest struct {
	User           User
	PeriodType     PeriodType
	Period         Period
	TotalQuota     decimal.Decimal
	CommissionRate decimal.Decimal
	Method         DistributionMethod
	Config         *DistributionConfig
	OnConflict     ConflictPolicy
}

type DistributionResult struct {
	Parent   *Target
	Children []Target

	// Replaced lists targets deactivated under the replace policy.
	Replaced []TargetID

	// Skipped is true when the skip policy suppressed creation; Conflict
	// then describes the overlap for later resolution.
	Skipped  bool
	Conflict *ConflictError
}

// Created returns every target the invocation wrote.
func (r *DistributionResult) Created() []Target {
	if r.Parent == nil {
		return r.Children
	}
	return append([]Target{*r.Parent}, r.Children...)
}

// =============================================================================
// DISTRIBUTOR
// =============================================================================

type Distributor struct {
	Store TxTargetStore
	Users UserDirectory

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() TargetID
}

func NewDistributor(store TxTargetStore, users UserDirectory) *Distributor {
	return &Distributor{
		Store: store,
		Users: users,
		Now:   time.Now,
		NewID: func() TargetID { return TargetID(uuid.NewString()) },
	}
}

// Distribute creates the target hierarchy for one user.
// A skip-policy conflict is NOT an error: the result carries the conflict
// so batch callers can tally it.
func (d *Distributor) Distribute(ctx context.Context, req DistributionRequest) (*DistributionResult, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}

	overlapping, err := d.Store.ListActiveOverlapping(ctx, req.User.ID, req.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to check overlapping targets: %w", err)
	}

	result := &DistributionResult{}

	if len(overlapping) > 0 {
		switch req.OnConflict {
		case ConflictSkip, "":
			result.Skipped = true
			result.Conflict = &ConflictError{
				UserID:      req.User.ID,
				Requested:   req.Period,
				Overlapping: overlapping,
			}
			return result, nil
		case ConflictReplace:
			for _, t := range overlapping {
				result.Replaced = append(result.Replaced, t.ID)
			}
		case ConflictConcurrent:
			// Create alongside the existing targets.
		default:
			return nil, &ValidationError{Field: "on_conflict",
				Message: fmt.Sprintf("unknown conflict policy %q", req.OnConflict)}
		}
	}

	parent, children, err := d.buildHierarchy(req)
	if err != nil {
		return nil, err
	}

	// Parent plus children all-or-nothing; replacement deactivations ride
	// in the same transaction so replace is atomic too.
	err = d.Store.WithTx(ctx, func(store TargetStore) error {
		for _, id := range result.Replaced {
			if err := store.DeactivateTarget(ctx, id); err != nil {
				return err
			}
		}
		if parent != nil {
			if err := store.CreateTarget(ctx, parent); err != nil {
				return err
			}
		}
		for i := range children {
			if err := store.CreateTarget(ctx, &children[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create target hierarchy: %w", err)
	}

	result.Parent = parent
	result.Children = children
	return result, nil
}

// ResolveConflict settles one previously flagged user with an explicit
// decision. "keep" leaves the existing targets in place.
func (d *Distributor) ResolveConflict(ctx context.Context, req DistributionRequest, decision ConflictDecision) (*DistributionResult, error) {
	switch decision {
	case DecisionKeep:
		return &DistributionResult{Skipped: true}, nil
	case DecisionReplace:
		req.OnConflict = ConflictReplace
	case DecisionConcurrent:
		req.OnConflict = ConflictConcurrent
	default:
		return nil, &ValidationError{Field: "decision",
			Message: fmt.Sprintf("unknown conflict decision %q", decision)}
	}
	return d.Distribute(ctx, req)
}

// DeactivateUserTargets soft-deletes every active target for a user,
// children included. Used on offboarding.
func (d *Distributor) DeactivateUserTargets(ctx context.Context, userID UserID) (int, error) {
	targets, err := d.Store.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range targets {
		if !t.IsActive {
			continue
		}
		if err := d.Store.DeactivateTarget(ctx, t.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// =============================================================================
// BATCH DISTRIBUTION - per-user independent
// =============================================================================

type BatchRequest struct {
	CompanyID      CompanyID
	Filter         UserFilter
	PeriodType     PeriodType
	Period         Period
	TotalQuota     decimal.Decimal
	CommissionRate decimal.Decimal
	Method         DistributionMethod
	Config         *DistributionConfig
	OnConflict     ConflictPolicy
}

type BatchResult struct {
	Created   int
	Skipped   int
	Errored   int
	Conflicts []ConflictError
	Failures  []UserFailure
}

type UserFailure struct {
	UserID UserID
	Err    error
}

// DistributeBatch creates targets for every user the directory returns.
// One user's failure or skip never rolls back the others.
func (d *Distributor) DistributeBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if d.Users == nil {
		return nil, fmt.Errorf("batch distribution requires a user directory")
	}
	users, err := d.Users.ListUsers(ctx, req.CompanyID, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	result := &BatchResult{}
	for _, user := range users {
		res, err := d.Distribute(ctx, DistributionRequest{
			User:           user,
			PeriodType:     req.PeriodType,
			Period:         req.Period,
			TotalQuota:     req.TotalQuota,
			CommissionRate: req.CommissionRate,
			Method:         req.Method,
			Config:         req.Config,
			OnConflict:     req.OnConflict,
		})
		switch {
		case err != nil:
			result.Errored++
			result.Failures = append(result.Failures, UserFailure{UserID: user.ID, Err: err})
		case res.Skipped:
			result.Skipped++
			if res.Conflict != nil {
				result.Conflicts = append(result.Conflicts, *res.Conflict)
			}
		default:
			result.Created++
		}
	}
	return result, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func (d *Distributor) validate(req DistributionRequest) error {
	if req.User.ID == "" {
		return &ValidationError{Field: "user_id", Message: "required"}
	}
	if !req.Period.Valid() {
		return &ValidationError{Field: "period", Message: "period_end must not precede period_start"}
	}
	if req.TotalQuota.IsNegative() {
		return &ValidationError{Field: "quota_amount", Message: "must be non-negative"}
	}
	if req.CommissionRate.IsNegative() || req.CommissionRate.GreaterThan(one) {
		return &ValidationError{Field: "commission_rate", Message: "must be within [0, 1]"}
	}
	switch req.Method {
	case DistributeEven, DistributeOneTime:
	case DistributeSeasonal:
		// A nil config is valid: every bucket gets an equal share.
	case DistributeCustom:
		if req.Config == nil || len(req.Config.Custom) == 0 {
			return &ValidationError{Field: "distribution_config", Message: "custom breakdown required"}
		}
	default:
		return &ValidationError{Field: "distribution_method",
			Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
	return nil
}

// =============================================================================
// HIERARCHY CONSTRUCTION
// =============================================================================

type allocation struct {
	Period Period
	Amount decimal.Decimal
}

func (d *Distributor) buildHierarchy(req DistributionRequest) (*Target, []Target, error) {
	now := d.Now()

	if req.Method == DistributeOneTime {
		single := d.newTarget(req, req.PeriodType, req.Period, req.TotalQuota, req.Method, nil, now)
		return nil, []Target{*single}, nil
	}

	var (
		allocs    []allocation
		childType PeriodType
		err       error
	)
	switch req.Method {
	case DistributeEven:
		allocs = evenAllocations(req.Period, req.TotalQuota)
		childType = PeriodMonthly
	case DistributeSeasonal:
		allocs, childType, err = seasonalAllocations(req.Period, req.TotalQuota, req.Config)
	case DistributeCustom:
		allocs, err = customAllocations(req.Period, req.TotalQuota, req.Config)
		childType = PeriodCustom
	}
	if err != nil {
		return nil, nil, err
	}

	allocs, prorated := prorate(allocs, req.User.HireDate)

	parentQuota := req.TotalQuota
	if prorated {
		parentQuota = decimal.Zero
		for _, a := range allocs {
			parentQuota = parentQuota.Add(a.Amount)
		}
	}

	parent := d.newTarget(req, req.PeriodType, req.Period, parentQuota, req.Method, nil, now)
	parent.DistributionConfig = req.Config

	children := make([]Target, 0, len(allocs))
	for _, a := range allocs {
		child := d.newTarget(req, childType, a.Period, a.Amount, DistributeChild, &parent.ID, now)
		children = append(children, *child)
	}
	return parent, children, nil
}

func (d *Distributor) newTarget(req DistributionRequest, periodType PeriodType, period Period, quota decimal.Decimal, method DistributionMethod, parentID *TargetID, now time.Time) *Target {
	return &Target{
		ID:                 d.NewID(),
		UserID:             req.User.ID,
		CompanyID:          req.User.CompanyID,
		Name:               TargetName(req.User, periodType, period.Start, period.End),
		PeriodType:         periodType,
		Period:             period,
		QuotaAmount:        RoundMoney(quota),
		CommissionRate:     req.CommissionRate,
		ParentTargetID:     parentID,
		DistributionMethod: method,
		Role:               req.User.Role,
		TeamID:             req.User.TeamID,
		IsActive:           true,
		CreatedAt:          now,
	}
}

// evenAllocations splits across calendar months; the last month absorbs the
// rounding remainder so the sum is exact.
func evenAllocations(period Period, total decimal.Decimal) []allocation {
	months := period.Months()
	n := int64(len(months))
	monthly := RoundMoney(total.Div(decimal.NewFromInt(n)))

	allocs := make([]allocation, len(months))
	running := decimal.Zero
	for i, m := range months {
		amount := monthly
		if i == len(months)-1 {
			amount = total.Sub(running)
		}
		allocs[i] = allocation{Period: m, Amount: amount}
		running = running.Add(amount)
	}
	return allocs
}

// seasonalAllocations resolves bucket shares: explicit percentage-of-total or
// fixed amounts, with unspecified buckets sharing the remainder equally.
// Over-allocation is a validation error, never silently accepted.
func seasonalAllocations(period Period, total decimal.Decimal, cfg *DistributionConfig) ([]allocation, PeriodType, error) {
	if cfg == nil {
		cfg = &DistributionConfig{}
	}
	granularity := cfg.SeasonalGranularity
	if granularity == "" {
		granularity = SeasonalQuarterly
	}

	var buckets []Period
	var labelOf func(Period) string
	switch granularity {
	case SeasonalQuarterly:
		buckets = period.Quarters()
		labelOf = Period.QuarterLabel
	case SeasonalMonthly:
		buckets = period.Months()
		labelOf = Period.MonthLabel
	default:
		return nil, "", &ValidationError{Field: "seasonal_granularity",
			Message: fmt.Sprintf("unknown granularity %q", granularity)}
	}

	// Bucket labels must be unambiguous within the period.
	seen := map[string]bool{}
	for _, b := range buckets {
		key := strings.ToLower(labelOf(b))
		if seen[key] {
			return nil, "", &ValidationError{Field: "period",
				Message: "seasonal distribution requires a period with unique bucket labels (at most one year)"}
		}
		seen[key] = true
	}

	specified := map[string]SeasonalAllocation{}
	usesPercent, usesAmount := false, false
	for _, s := range cfg.Seasonal {
		key := strings.ToLower(s.Bucket)
		if !seen[key] {
			return nil, "", &ValidationError{Field: "seasonal",
				Message: fmt.Sprintf("bucket %q is not within the period", s.Bucket)}
		}
		if _, dup := specified[key]; dup {
			return nil, "", &ValidationError{Field: "seasonal",
				Message: fmt.Sprintf("bucket %q specified twice", s.Bucket)}
		}
		switch {
		case s.Percent != nil:
			usesPercent = true
		case s.Amount != nil:
			usesAmount = true
		default:
			return nil, "", &ValidationError{Field: "seasonal",
				Message: fmt.Sprintf("bucket %q has neither percent nor amount", s.Bucket)}
		}
		specified[key] = s
	}
	if usesPercent && usesAmount {
		return nil, "", &ValidationError{Field: "seasonal",
			Message: "mixing percentage and fixed-amount allocations is not supported"}
	}

	amounts, err := resolveSeasonalAmounts(buckets, labelOf, specified, usesAmount, total)
	if err != nil {
		return nil, "", err
	}

	allocs := make([]allocation, len(buckets))
	for i, b := range buckets {
		allocs[i] = allocation{Period: b, Amount: amounts[i]}
	}
	return allocs, ChildPeriodType(granularity), nil
}

func resolveSeasonalAmounts(buckets []Period, labelOf func(Period) string, specified map[string]SeasonalAllocation, fixedMode bool, total decimal.Decimal) ([]decimal.Decimal, error) {
	amounts := make([]decimal.Decimal, len(buckets))
	unspecified := make([]int, 0, len(buckets))

	if fixedMode {
		allocated := decimal.Zero
		for i, b := range buckets {
			if s, ok := specified[strings.ToLower(labelOf(b))]; ok {
				amounts[i] = *s.Amount
				allocated = allocated.Add(*s.Amount)
			} else {
				unspecified = append(unspecified, i)
			}
		}
		remaining := total.Sub(allocated)
		if remaining.LessThan(one.Neg()) {
			return nil, &ValidationError{Field: "seasonal",
				Message: fmt.Sprintf("fixed allocations sum to %s, exceeding total %s", allocated, total)}
		}
		if len(unspecified) == 0 {
			if remaining.Abs().GreaterThan(one) {
				return nil, &ValidationError{Field: "seasonal",
					Message: fmt.Sprintf("fixed allocations sum to %s, expected %s within 1 unit", allocated, total)}
			}
			return amounts, nil
		}
		spreadRemainder(amounts, unspecified, remaining)
		return amounts, nil
	}

	// Percentage mode: unspecified buckets share the remaining percentage
	// equally (an empty spec degenerates to equal shares for all buckets).
	pctTolerance := decimal.NewFromFloat(0.01)
	specifiedPct := decimal.Zero
	for i, b := range buckets {
		if s, ok := specified[strings.ToLower(labelOf(b))]; ok {
			amounts[i] = total.Mul(*s.Percent).Div(hundred)
			specifiedPct = specifiedPct.Add(*s.Percent)
		} else {
			unspecified = append(unspecified, i)
		}
	}
	if specifiedPct.GreaterThan(hundred.Add(pctTolerance)) {
		return nil, &ValidationError{Field: "seasonal",
			Message: fmt.Sprintf("percentages sum to %s%%, exceeding 100%%", specifiedPct)}
	}
	if len(unspecified) == 0 && hundred.Sub(specifiedPct).Abs().GreaterThan(pctTolerance) {
		return nil, &ValidationError{Field: "seasonal",
			Message: fmt.Sprintf("percentages sum to %s%%, expected 100%%", specifiedPct)}
	}
	allocated := decimal.Zero
	for _, a := range amounts {
		allocated = allocated.Add(a)
	}
	spreadRemainder(amounts, unspecified, total.Sub(allocated))
	return amounts, nil
}

// spreadRemainder divides remaining across the given indexes; the last index
// absorbs the rounding remainder so the overall sum stays exact.
func spreadRemainder(amounts []decimal.Decimal, indexes []int, remaining decimal.Decimal) {
	if len(indexes) == 0 {
		// No free bucket: fold any rounding drift into the last bucket.
		if len(amounts) > 0 && !remaining.IsZero() {
			amounts[len(amounts)-1] = amounts[len(amounts)-1].Add(remaining)
		}
		return
	}
	share := RoundMoney(remaining.Div(decimal.NewFromInt(int64(len(indexes)))))
	spread := decimal.Zero
	for n, idx := range indexes {
		if n == len(indexes)-1 {
			amounts[idx] = remaining.Sub(spread)
			return
		}
		amounts[idx] = share
		spread = spread.Add(share)
	}
}

// customAllocations validates the caller-supplied breakdown against the total.
func customAllocations(period Period, total decimal.Decimal, cfg *DistributionConfig) ([]allocation, error) {
	sum := decimal.Zero
	allocs := make([]allocation, 0, len(cfg.Custom))
	for i, c := range cfg.Custom {
		if !c.Period.Valid() {
			return nil, &ValidationError{Field: fmt.Sprintf("custom[%d].period", i),
				Message: "period_end must not precede period_start"}
		}
		if !period.Overlaps(c.Period) {
			return nil, &ValidationError{Field: fmt.Sprintf("custom[%d].period", i),
				Message: "sub-period falls outside the target period"}
		}
		if c.Amount.IsNegative() {
			return nil, &ValidationError{Field: fmt.Sprintf("custom[%d].amount", i),
				Message: "must be non-negative"}
		}
		sum = sum.Add(c.Amount)
		allocs = append(allocs, allocation{Period: c.Period, Amount: c.Amount})
	}
	if sum.Sub(total).Abs().GreaterThan(one) {
		return nil, &ValidationError{Field: "custom",
			Message: fmt.Sprintf("breakdown sums to %s, expected %s within 1 unit", sum, total)}
	}
	return allocs, nil
}

// prorate scales allocations for a mid-period hire. Returns whether any
// allocation changed.
func prorate(allocs []allocation, hireDate *time.Time) ([]allocation, bool) {
	if hireDate == nil {
		return allocs, false
	}
	hire := time.Date(hireDate.Year(), hireDate.Month(), hireDate.Day(), 0, 0, 0, 0, time.UTC)

	changed := false
	for i, a := range allocs {
		switch {
		case !hire.After(a.Period.Start):
			// Hired on or before the sub-period: full allocation.
		case hire.After(a.Period.End):
			allocs[i].Amount = decimal.Zero
			changed = true
		default:
			totalDays := decimal.NewFromInt(int64(a.Period.Days()))
			remaining := decimal.NewFromInt(int64(Period{Start: hire, End: a.Period.End}.Days()))
			allocs[i].Amount = a.Amount.Mul(remaining).Div(totalDays)
			changed = true
		}
	}
	return allocs, changed
}
