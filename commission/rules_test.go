package commission_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// HELPERS
// =============================================================================

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func baseRule(rate string) commission.Rule {
	return commission.Rule{
		ID:       "r-base",
		Name:     "standard rate",
		Type:     commission.RuleBaseRate,
		Priority: 1,
		Rate:     dec(rate),
		IsActive: true,
	}
}

// =============================================================================
// FLAT AND PRODUCT RATES
// =============================================================================

/*
GIVEN a single base-rate rule of 10%
WHEN a 100000 deal is evaluated
THEN the total is exactly 10000 with one contribution
*/
func TestEvaluateBaseRate(t *testing.T) {
	total, contributions, applied := commission.EvaluateRules(
		[]commission.Rule{baseRule("0.10")},
		commission.EvalContext{DealAmount: dec("100000")},
	)

	assert.True(t, applied)
	assert.True(t, total.Equal(dec("10000")), "got %s", total)
	require.Len(t, contributions, 1)
	assert.Equal(t, commission.RuleID("r-base"), contributions[0].RuleID)
	assert.True(t, contributions[0].Amount.Equal(dec("10000")))
}

/*
GIVEN a base rate plus a matching product rate
WHEN evaluated
THEN the product rate replaces the base contribution instead of stacking
*/
func TestEvaluateProductRateOverridesBase(t *testing.T) {
	rules := []commission.Rule{
		baseRule("0.10"),
		{
			ID: "r-sw", Name: "software uplift", Type: commission.RuleProductRate,
			Priority: 2, Rate: dec("0.15"), ProductCategory: "software", IsActive: true,
		},
	}

	total, contributions, applied := commission.EvaluateRules(rules, commission.EvalContext{
		DealAmount:      dec("100000"),
		ProductCategory: "software",
	})

	assert.True(t, applied)
	assert.True(t, total.Equal(dec("15000")), "override, not 25000; got %s", total)
	require.Len(t, contributions, 1)
	assert.Equal(t, commission.RuleProductRate, contributions[0].Type)
}

/*
GIVEN a product rate for a different category
WHEN evaluated
THEN it is skipped and the base rate stands
*/
func TestEvaluateProductRateCategoryMismatch(t *testing.T) {
	rules := []commission.Rule{
		baseRule("0.10"),
		{
			ID: "r-hw", Type: commission.RuleProductRate, Priority: 2,
			Rate: dec("0.20"), ProductCategory: "hardware", IsActive: true,
		},
	}

	total, contributions, _ := commission.EvaluateRules(rules, commission.EvalContext{
		DealAmount:      dec("100000"),
		ProductCategory: "software",
	})

	assert.True(t, total.Equal(dec("10000")))
	require.Len(t, contributions, 1)
	assert.Equal(t, commission.RuleBaseRate, contributions[0].Type)
}

// =============================================================================
// MARGINAL TIERING
// =============================================================================

/*
GIVEN attainment bands of 5% below quota and 10% above
WHEN a deal carries the rep from 90% to 110% attainment
THEN each band is paid marginally on the amount inside it, never
winner-take-all on the whole deal
*/
func TestEvaluateTieredSplitsAcrossBoundary(t *testing.T) {
	rule := commission.Rule{
		ID: "r-tier", Name: "attainment bands", Type: commission.RuleTiered,
		Priority: 1, TriggerOn: commission.TriggerAttainment, IsActive: true,
		Tiers: []commission.RuleTier{
			{ThresholdMin: dec("0"), ThresholdMax: decPtr("100"), Rate: dec("0.05")},
			{ThresholdMin: dec("100"), Rate: dec("0.10")},
		},
	}

	total, contributions, applied := commission.EvaluateRules([]commission.Rule{rule}, commission.EvalContext{
		DealAmount:  dec("20000"),
		PeriodSales: dec("90000"),
		QuotaAmount: dec("100000"),
	})

	assert.True(t, applied)
	// 10000 in the 5% band + 10000 in the 10% band.
	assert.True(t, total.Equal(dec("1500")), "got %s", total)
	require.Len(t, contributions, 1)
	assert.True(t, contributions[0].Amount.Equal(dec("1500")))
}

/*
GIVEN cumulative-sales bands
WHEN a deal sits entirely inside one band
THEN only that band's rate applies
*/
func TestEvaluateTieredCumulativeSales(t *testing.T) {
	rule := commission.Rule{
		ID: "r-tier", Type: commission.RuleTiered, Priority: 1,
		TriggerOn: commission.TriggerCumulativeSales, IsActive: true,
		Tiers: []commission.RuleTier{
			{ThresholdMin: dec("0"), ThresholdMax: decPtr("50000"), Rate: dec("0.04")},
			{ThresholdMin: dec("50000"), Rate: dec("0.08")},
		},
	}

	total, _, applied := commission.EvaluateRules([]commission.Rule{rule}, commission.EvalContext{
		DealAmount:  dec("10000"),
		PeriodSales: dec("60000"),
	})

	assert.True(t, applied)
	assert.True(t, total.Equal(dec("800")), "all of the deal is in the upper band; got %s", total)
}

/*
GIVEN attainment bands but a zero quota
WHEN evaluated
THEN the rule does not apply; attainment is undefined without a quota
*/
func TestEvaluateTieredZeroQuota(t *testing.T) {
	rule := commission.Rule{
		ID: "r-tier", Type: commission.RuleTiered, Priority: 1,
		TriggerOn: commission.TriggerAttainment, IsActive: true,
		Tiers: []commission.RuleTier{
			{ThresholdMin: dec("0"), Rate: dec("0.05")},
		},
	}

	_, _, applied := commission.EvaluateRules([]commission.Rule{rule}, commission.EvalContext{
		DealAmount: dec("10000"),
	})
	assert.False(t, applied)
}

// =============================================================================
// ACCELERATORS AND BONUSES
// =============================================================================

/*
GIVEN a base rate and a 1.5x accelerator above 100% attainment
WHEN a deal pushes attainment past the threshold
THEN the accelerator contributes the delta that multiplies the running total
*/
func TestEvaluateAccelerator(t *testing.T) {
	rules := []commission.Rule{
		baseRule("0.10"),
		{
			ID: "r-acc", Name: "overachievement", Type: commission.RuleAccelerator,
			Priority: 5, TriggerOn: commission.TriggerAttainment,
			Threshold: dec("100"), Factor: dec("1.5"), IsActive: true,
		},
	}

	total, contributions, _ := commission.EvaluateRules(rules, commission.EvalContext{
		DealAmount:  dec("20000"),
		PeriodSales: dec("90000"),
		QuotaAmount: dec("100000"), // trigger value 110%
	})

	assert.True(t, total.Equal(dec("3000")), "2000 base x 1.5; got %s", total)
	require.Len(t, contributions, 2)
	assert.True(t, contributions[1].Amount.Equal(dec("1000")), "the accelerator contributes the delta")
}

/*
GIVEN the accelerator threshold met exactly but not exceeded
WHEN evaluated
THEN the accelerator stays dormant
*/
func TestEvaluateAcceleratorStrictThreshold(t *testing.T) {
	rules := []commission.Rule{
		baseRule("0.10"),
		{
			ID: "r-acc", Type: commission.RuleAccelerator, Priority: 5,
			TriggerOn: commission.TriggerAttainment,
			Threshold: dec("100"), Factor: dec("2"), IsActive: true,
		},
	}

	total, _, _ := commission.EvaluateRules(rules, commission.EvalContext{
		DealAmount:  dec("10000"),
		PeriodSales: dec("90000"),
		QuotaAmount: dec("100000"), // trigger value exactly 100%
	})
	assert.True(t, total.Equal(dec("1000")))
}

/*
GIVEN a fixed bonus at a cumulative-sales threshold
WHEN the threshold is reached exactly
THEN the bonus is added
*/
func TestEvaluateBonusAtThreshold(t *testing.T) {
	rules := []commission.Rule{
		baseRule("0.10"),
		{
			ID: "r-bonus", Name: "president's club", Type: commission.RuleBonus,
			Priority: 9, TriggerOn: commission.TriggerCumulativeSales,
			Threshold: dec("100000"), Bonus: dec("2500"), IsActive: true,
		},
	}

	total, contributions, _ := commission.EvaluateRules(rules, commission.EvalContext{
		DealAmount:  dec("40000"),
		PeriodSales: dec("60000"), // trigger value exactly 100000
	})

	assert.True(t, total.Equal(dec("6500")), "got %s", total)
	require.Len(t, contributions, 2)
	assert.True(t, contributions[1].Amount.Equal(dec("2500")))
}

/*
GIVEN no applicable rules
WHEN evaluated
THEN applied is false so the caller can fall back to the flat path
*/
func TestEvaluateNoRules(t *testing.T) {
	_, _, applied := commission.EvaluateRules(nil, commission.EvalContext{DealAmount: dec("100000")})
	assert.False(t, applied)

	mismatched := []commission.Rule{{
		ID: "r-hw", Type: commission.RuleProductRate, Rate: dec("0.2"),
		ProductCategory: "hardware", IsActive: true,
	}}
	_, _, applied = commission.EvaluateRules(mismatched, commission.EvalContext{
		DealAmount: dec("100000"), ProductCategory: "software",
	})
	assert.False(t, applied)
}

// =============================================================================
// EFFECTIVE WINDOW
// =============================================================================

/*
GIVEN rules with effective windows and an inactive flag
WHEN coverage is checked
THEN only active rules whose window includes the date are covered
*/
func TestRuleCovers(t *testing.T) {
	from := date(2025, 1, 1)
	to := date(2025, 6, 30)
	r := commission.Rule{IsActive: true, EffectiveFrom: &from, EffectiveTo: &to}

	assert.True(t, r.Covers(date(2025, 3, 15)))
	assert.True(t, r.Covers(date(2025, 1, 1)))
	assert.False(t, r.Covers(date(2024, 12, 31)))
	assert.False(t, r.Covers(date(2025, 7, 1)))

	r.IsActive = false
	assert.False(t, r.Covers(date(2025, 3, 15)))
}
