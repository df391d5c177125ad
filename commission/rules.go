/*
rules.go - Commission rule definitions and evaluation

PURPOSE:
  The advanced calculation path: company-scoped rules evaluated in priority
  order against a deal context, producing a total plus an ordered,
  reproducible contribution list for audit display.

RULE TYPES:
  base_rate:    flat fraction of the deal amount
  product_rate: overrides the base rate for deals in a product category
  tiered:       marginal-rate bands over attainment or cumulative sales;
                a deal spanning a band boundary splits its commission
                proportionally across the bands it touches — never
                winner-take-all
  accelerator:  multiplies the running total once a threshold is exceeded
  bonus:        adds a fixed amount when the threshold condition holds

MARGINAL TIERING:
  Both trigger modes reduce to sales space. The deal occupies the interval
  [sales-before, sales-before + amount]; attainment thresholds convert to
  sales via quota. Each band contributes (overlap with the interval) x rate.

PRECISION:
  All intermediate math is exact decimal. Rounding to 2 places happens once
  in the calculator, on the final total.

SEE ALSO:
  - calculator.go: builds the EvalContext and applies the flat fallback
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/quota"
)

// =============================================================================
// RULE MODEL
// =============================================================================

type RuleType string

const (
	RuleBaseRate    RuleType = "base_rate"
	RuleTiered      RuleType = "tiered"
	RuleBonus       RuleType = "bonus"
	RuleAccelerator RuleType = "accelerator"
	RuleProductRate RuleType = "product_rate"
)

// TriggerOn selects the value that locates tier bands and thresholds.
type TriggerOn string

const (
	TriggerAttainment      TriggerOn = "attainment"
	TriggerCumulativeSales TriggerOn = "cumulative_sales"
)

// RuleTier is one band. ThresholdMax nil means unbounded above.
// Thresholds are attainment percentages or sales amounts, per TriggerOn.
type RuleTier struct {
	ThresholdMin decimal.Decimal
	ThresholdMax *decimal.Decimal
	Rate         decimal.Decimal // fraction of the in-band amount, 0..1
}

type Rule struct {
	ID        RuleID
	CompanyID quota.CompanyID
	Name      string
	Type      RuleType
	Priority  int

	// base_rate / product_rate: fraction of the deal amount.
	Rate decimal.Decimal

	// product_rate only.
	ProductCategory string

	// tiered only.
	TriggerOn TriggerOn
	Tiers     []RuleTier

	// accelerator / bonus: threshold in TriggerOn units.
	Threshold decimal.Decimal
	Factor    decimal.Decimal // accelerator multiplier
	Bonus     decimal.Decimal // bonus amount

	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	IsActive      bool
}

// Covers reports whether the rule's effective window includes the date.
func (r *Rule) Covers(at time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.EffectiveFrom != nil && at.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && at.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// EVALUATION
// =============================================================================

// EvalContext is the deal-scoped input to rule evaluation. PeriodSales
// excludes the deal being calculated.
type EvalContext struct {
	DealAmount      decimal.Decimal
	ProductCategory string
	PeriodSales     decimal.Decimal
	QuotaAmount     decimal.Decimal
	AttainmentPct   decimal.Decimal
}

// RuleContribution is one rule's share of the total, for audit display.
type RuleContribution struct {
	RuleID   RuleID          `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	Type     RuleType        `json:"rule_type"`
	Amount   decimal.Decimal `json:"contributed_amount"`
}

// EvaluateRules walks rules in priority-ascending order. Returns the exact
// (unrounded) total, the ordered contribution list, and whether any rule
// applied; when none did, the caller falls back to the flat path.
func EvaluateRules(rules []Rule, ec EvalContext) (decimal.Decimal, []RuleContribution, bool) {
	total := decimal.Zero
	var contributions []RuleContribution
	applied := false

	// Index of the base/product contribution, so product_rate can
	// override an earlier base_rate instead of stacking on it.
	baseIdx := -1

	add := func(r Rule, amount decimal.Decimal) {
		contributions = append(contributions, RuleContribution{
			RuleID: r.ID, RuleName: r.Name, Type: r.Type, Amount: amount,
		})
		total = total.Add(amount)
		applied = true
	}

	for _, r := range rules {
		switch r.Type {
		case RuleBaseRate:
			if baseIdx >= 0 {
				continue // a base or product rate already applied
			}
			amount := ec.DealAmount.Mul(r.Rate)
			add(r, amount)
			baseIdx = len(contributions) - 1

		case RuleProductRate:
			if r.ProductCategory != "" && r.ProductCategory != ec.ProductCategory {
				continue
			}
			amount := ec.DealAmount.Mul(r.Rate)
			if baseIdx >= 0 {
				// Override the base contribution in place.
				prior := contributions[baseIdx].Amount
				total = total.Sub(prior).Add(amount)
				contributions[baseIdx] = RuleContribution{
					RuleID: r.ID, RuleName: r.Name, Type: r.Type, Amount: amount,
				}
				applied = true
				continue
			}
			add(r, amount)
			baseIdx = len(contributions) - 1

		case RuleTiered:
			amount, ok := evaluateTiered(r, ec)
			if !ok {
				continue
			}
			add(r, amount)

		case RuleAccelerator:
			if !triggerValue(r.TriggerOn, ec).GreaterThan(r.Threshold) {
				continue
			}
			// Contribution is the delta; adding it multiplies the
			// running total by the factor.
			add(r, total.Mul(r.Factor).Sub(total))

		case RuleBonus:
			if triggerValue(r.TriggerOn, ec).Cmp(r.Threshold) < 0 {
				continue
			}
			add(r, r.Bonus)
		}
	}

	return total, contributions, applied
}

// triggerValue resolves the value thresholds compare against, including the
// deal being calculated.
func triggerValue(on TriggerOn, ec EvalContext) decimal.Decimal {
	switch on {
	case TriggerCumulativeSales:
		return ec.PeriodSales.Add(ec.DealAmount)
	default:
		if ec.QuotaAmount.IsZero() {
			return decimal.Zero
		}
		return ec.PeriodSales.Add(ec.DealAmount).Div(ec.QuotaAmount).Mul(decimal.NewFromInt(100))
	}
}

// evaluateTiered computes the marginal commission for the deal interval
// across the rule's bands.
func evaluateTiered(r Rule, ec EvalContext) (decimal.Decimal, bool) {
	if len(r.Tiers) == 0 {
		return decimal.Zero, false
	}

	// Convert band thresholds into sales space.
	toSales := func(threshold decimal.Decimal) decimal.Decimal {
		if r.TriggerOn == TriggerCumulativeSales {
			return threshold
		}
		return threshold.Div(decimal.NewFromInt(100)).Mul(ec.QuotaAmount)
	}
	if r.TriggerOn != TriggerCumulativeSales && ec.QuotaAmount.IsZero() {
		return decimal.Zero, false // attainment bands are undefined without a quota
	}

	dealStart := ec.PeriodSales
	dealEnd := ec.PeriodSales.Add(ec.DealAmount)

	commission := decimal.Zero
	touched := false
	for _, tier := range r.Tiers {
		bandMin := toSales(tier.ThresholdMin)
		bandMax := dealEnd
		if tier.ThresholdMax != nil {
			bandMax = toSales(*tier.ThresholdMax)
		}

		lo := decimal.Max(dealStart, bandMin)
		hi := decimal.Min(dealEnd, bandMax)
		if hi.GreaterThan(lo) {
			commission = commission.Add(hi.Sub(lo).Mul(tier.Rate))
			touched = true
		}
	}
	return commission, touched
}
