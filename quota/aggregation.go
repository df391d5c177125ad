/*
aggregation.go - Period aggregation and dedup for reporting

PURPOSE:
  Targets (and thus commission records) are created at different
  granularities over time: a user may have an annual record for 2024 and
  monthly records for 2025. Reporting for a requested view granularity must
  reconcile them without double-counting.

ALGORITHM:
  1. DEDUP per user, per calendar month. Every month claims exactly one
     source record. When several records could cover a month, prefer the
     one whose duration most closely matches the company's payment-schedule
     granularity, then the most recently started period.
  2. SPLIT finer-than-stored: a month's share of a record is pro-rated by
     day-count overlap — unless the record carries a seasonal allocation
     from its parent target, in which case the stored percentages replace
     the uniform split.
  3. SUM coarser-than-stored: monthly shares roll up into the requested
     quarter or year buckets.

  Splitting before grouping makes both directions one code path, and makes
  the dedup invariant (no two result rows claim the same calendar month)
  hold by construction.

SEE ALSO:
  - resolver.go: precedence for live resolution; this file reconciles
    historical records instead
  - distribution.go: the seasonal configs consulted during splitting
*/
package quota

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT / OUTPUT TYPES
// =============================================================================

// ViewGranularity is the caller-requested reporting granularity.
type ViewGranularity string

const (
	ViewMonthly   ViewGranularity = "monthly"
	ViewQuarterly ViewGranularity = "quarterly"
	ViewYearly    ViewGranularity = "yearly"
)

// PeriodRecord is one stored commission/quota record at its native
// granularity. Seasonal carries the parent target's distribution config
// when one applies.
type PeriodRecord struct {
	UserID       UserID
	TargetID     TargetID
	Period       Period
	QuotaAmount  decimal.Decimal
	ActualAmount decimal.Decimal
	Seasonal     *DistributionConfig
}

// AggregatedRow is one reconciled reporting row.
type AggregatedRow struct {
	UserID        UserID
	Period        Period
	Label         string
	QuotaAmount   decimal.Decimal
	ActualAmount  decimal.Decimal
	AttainmentPct decimal.Decimal
	SourceTargets []TargetID
}

// Aggregator reconciles mixed-granularity records.
type Aggregator struct {
	// PaymentSchedule is the company's configured payout granularity,
	// used as the dedup preference. Defaults to monthly.
	PaymentSchedule ViewGranularity
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Aggregate reconciles records into the requested view granularity.
// Rows come back ordered by user, then period start.
func (a *Aggregator) Aggregate(records []PeriodRecord, view ViewGranularity) ([]AggregatedRow, error) {
	switch view {
	case ViewMonthly, ViewQuarterly, ViewYearly:
	default:
		return nil, &ValidationError{Field: "granularity",
			Message: fmt.Sprintf("unknown view granularity %q", view)}
	}

	byUser := map[UserID][]PeriodRecord{}
	var users []UserID
	for _, r := range records {
		if !r.Period.Valid() {
			return nil, &ValidationError{Field: "period",
				Message: fmt.Sprintf("record for target %s has inverted period bounds", r.TargetID)}
		}
		if _, seen := byUser[r.UserID]; !seen {
			users = append(users, r.UserID)
		}
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	var rows []AggregatedRow
	for _, user := range users {
		rows = append(rows, a.aggregateUser(user, byUser[user], view)...)
	}
	return rows, nil
}

// monthShare is one calendar month's slice of its winning record.
type monthShare struct {
	Month    MonthKey
	TargetID TargetID
	Quota    decimal.Decimal
	Actual   decimal.Decimal
}

func (a *Aggregator) aggregateUser(user UserID, records []PeriodRecord, view ViewGranularity) []AggregatedRow {
	// 1. Dedup: pick a winning record per calendar month.
	winners := map[MonthKey]PeriodRecord{}
	var months []MonthKey
	for _, r := range records {
		for _, key := range r.Period.MonthKeys() {
			current, claimed := winners[key]
			if !claimed {
				winners[key] = r
				months = append(months, key)
				continue
			}
			if a.prefer(r, current) {
				winners[key] = r
			}
		}
	}
	sort.Slice(months, func(i, j int) bool {
		return months[i].Period().Start.Before(months[j].Period().Start)
	})

	// 2. Split: compute each month's share of its winning record.
	shares := make([]monthShare, 0, len(months))
	for _, key := range months {
		r := winners[key]
		weight := monthWeight(r, key)
		shares = append(shares, monthShare{
			Month:    key,
			TargetID: r.TargetID,
			Quota:    r.QuotaAmount.Mul(weight),
			Actual:   r.ActualAmount.Mul(weight),
		})
	}

	// 3. Sum: roll monthly shares into the requested view buckets.
	return rollUp(user, shares, view)
}

// prefer reports whether candidate should displace current for a month:
// duration closest to the payment-schedule granularity, then the most
// recently started period.
func (a *Aggregator) prefer(candidate, current PeriodRecord) bool {
	ideal := a.scheduleDays()
	candDelta := absInt(candidate.Period.Days() - ideal)
	curDelta := absInt(current.Period.Days() - ideal)
	if candDelta != curDelta {
		return candDelta < curDelta
	}
	return candidate.Period.Start.After(current.Period.Start)
}

func (a *Aggregator) scheduleDays() int {
	switch a.PaymentSchedule {
	case ViewQuarterly:
		return 91
	case ViewYearly:
		return 365
	default:
		return 30
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// monthWeight returns the fraction of a record attributed to one calendar
// month: day-count overlap by default, seasonal percentages when stored.
func monthWeight(r PeriodRecord, key MonthKey) decimal.Decimal {
	overlap := r.Period.Intersect(key.Period())
	if !overlap.Valid() {
		return decimal.Zero
	}
	if w, ok := seasonalMonthWeight(r, overlap); ok {
		return w
	}
	return decimal.NewFromInt(int64(overlap.Days())).
		Div(decimal.NewFromInt(int64(r.Period.Days())))
}

// seasonalMonthWeight resolves a month's weight from the record's stored
// seasonal allocation. Monthly buckets map directly; quarterly buckets give
// the quarter's share, pro-rated by day count within the quarter.
func seasonalMonthWeight(r PeriodRecord, overlap Period) (decimal.Decimal, bool) {
	cfg := r.Seasonal
	if cfg == nil || len(cfg.Seasonal) == 0 {
		return decimal.Zero, false
	}

	pct := map[string]decimal.Decimal{}
	for _, s := range cfg.Seasonal {
		if s.Percent == nil {
			return decimal.Zero, false // fixed-amount configs fall back to day count
		}
		pct[strings.ToLower(s.Bucket)] = *s.Percent
	}

	switch cfg.SeasonalGranularity {
	case SeasonalMonthly:
		p, ok := pct[strings.ToLower(overlap.MonthLabel())]
		if !ok {
			return decimal.Zero, false
		}
		return p.Div(hundred), true

	case SeasonalQuarterly, "":
		p, ok := pct[strings.ToLower(overlap.QuarterLabel())]
		if !ok {
			return decimal.Zero, false
		}
		quarter := quarterOf(overlap).Intersect(r.Period)
		dayFraction := decimal.NewFromInt(int64(overlap.Days())).
			Div(decimal.NewFromInt(int64(quarter.Days())))
		return p.Div(hundred).Mul(dayFraction), true
	}
	return decimal.Zero, false
}

func quarterOf(p Period) Period {
	qStart := StartOfMonth(p.Start.Year(), ((p.Start.Month()-1)/3)*3+1)
	return Period{Start: qStart, End: qStart.AddDate(0, 3, -1)}
}

// rollUp groups monthly shares into view buckets.
func rollUp(user UserID, shares []monthShare, view ViewGranularity) []AggregatedRow {
	type bucket struct {
		period  Period
		label   string
		quota   decimal.Decimal
		actual  decimal.Decimal
		sources []TargetID
		seen    map[TargetID]bool
	}

	var order []string
	buckets := map[string]*bucket{}
	for _, s := range shares {
		period, label := viewBucket(s.Month, view)
		b, ok := buckets[label]
		if !ok {
			b = &bucket{period: period, label: label, quota: decimal.Zero, actual: decimal.Zero, seen: map[TargetID]bool{}}
			buckets[label] = b
			order = append(order, label)
		}
		b.quota = b.quota.Add(s.Quota)
		b.actual = b.actual.Add(s.Actual)
		if !b.seen[s.TargetID] {
			b.seen[s.TargetID] = true
			b.sources = append(b.sources, s.TargetID)
		}
	}

	rows := make([]AggregatedRow, 0, len(order))
	for _, label := range order {
		b := buckets[label]
		attainment := decimal.Zero
		if b.quota.IsPositive() {
			attainment = b.actual.Div(b.quota).Mul(hundred)
		}
		rows = append(rows, AggregatedRow{
			UserID:        user,
			Period:        b.period,
			Label:         label,
			QuotaAmount:   RoundMoney(b.quota),
			ActualAmount:  RoundMoney(b.actual),
			AttainmentPct: attainment.Round(2),
			SourceTargets: b.sources,
		})
	}
	return rows
}

func viewBucket(key MonthKey, view ViewGranularity) (Period, string) {
	switch view {
	case ViewQuarterly:
		q := (int(key.Month)-1)/3 + 1
		start := StartOfMonth(key.Year, time.Month((q-1)*3+1))
		return Period{Start: start, End: start.AddDate(0, 3, -1)}, fmt.Sprintf("Q%d-%d", q, key.Year)
	case ViewYearly:
		start := StartOfMonth(key.Year, 1)
		return Period{Start: start, End: start.AddDate(1, 0, -1)}, fmt.Sprintf("%d", key.Year)
	default:
		return key.Period(), key.String()
	}
}
