package quota_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/quota"
)

// =============================================================================
// HELPERS
// =============================================================================

func monthlyAggregator() *quota.Aggregator {
	return &quota.Aggregator{PaymentSchedule: quota.ViewMonthly}
}

func q1Record(targetID quota.TargetID, quotaAmt, actualAmt string) quota.PeriodRecord {
	return quota.PeriodRecord{
		UserID:       alfie.ID,
		TargetID:     targetID,
		Period:       quota.NewPeriod(date(2025, 1, 1), date(2025, 3, 31)),
		QuotaAmount:  dec(quotaAmt),
		ActualAmount: dec(actualAmt),
	}
}

// =============================================================================
// SPLITTING - finer view than stored
// =============================================================================

/*
GIVEN a quarterly record of 90000 over Q1 2025 (90 days)
WHEN viewed monthly
THEN each month gets its day-count share and no month is counted twice
*/
func TestAggregateQuarterlyRecordMonthlyView(t *testing.T) {
	rows, err := monthlyAggregator().Aggregate(
		[]quota.PeriodRecord{q1Record("t-q1", "90000", "9000")}, quota.ViewMonthly)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Jan 31/90, Feb 28/90, Mar 31/90 of the record.
	assert.Equal(t, "2025-01", rows[0].Label)
	assert.True(t, rows[0].QuotaAmount.Equal(dec("31000")), "got %s", rows[0].QuotaAmount)
	assert.True(t, rows[1].QuotaAmount.Equal(dec("28000")), "got %s", rows[1].QuotaAmount)
	assert.True(t, rows[2].QuotaAmount.Equal(dec("31000")))
	assert.True(t, rows[0].ActualAmount.Equal(dec("3100")))

	total := rows[0].QuotaAmount.Add(rows[1].QuotaAmount).Add(rows[2].QuotaAmount)
	assert.True(t, total.Equal(dec("90000")), "split must preserve the total, got %s", total)
	assert.Equal(t, []quota.TargetID{"t-q1"}, rows[0].SourceTargets)
}

/*
GIVEN an annual record carrying its parent's seasonal quarterly percentages
WHEN viewed quarterly
THEN each quarter gets its stored percentage, not a uniform day split
*/
func TestAggregateSeasonalWeighting(t *testing.T) {
	record := quota.PeriodRecord{
		UserID:       alfie.ID,
		TargetID:     "t-annual",
		Period:       quota.NewPeriod(date(2025, 1, 1), date(2025, 12, 31)),
		QuotaAmount:  dec("100000"),
		ActualAmount: dec("50000"),
		Seasonal: &quota.DistributionConfig{
			SeasonalGranularity: quota.SeasonalQuarterly,
			Seasonal: []quota.SeasonalAllocation{
				{Bucket: "Q1", Percent: pct("10")},
				{Bucket: "Q2", Percent: pct("20")},
				{Bucket: "Q3", Percent: pct("30")},
				{Bucket: "Q4", Percent: pct("40")},
			},
		},
	}

	rows, err := monthlyAggregator().Aggregate([]quota.PeriodRecord{record}, quota.ViewQuarterly)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "Q1-2025", rows[0].Label)
	assert.True(t, rows[0].QuotaAmount.Equal(dec("10000")), "got %s", rows[0].QuotaAmount)
	assert.True(t, rows[1].QuotaAmount.Equal(dec("20000")), "got %s", rows[1].QuotaAmount)
	assert.True(t, rows[2].QuotaAmount.Equal(dec("30000")))
	assert.True(t, rows[3].QuotaAmount.Equal(dec("40000")))
}

// =============================================================================
// DEDUP - overlapping records at mixed granularities
// =============================================================================

/*
GIVEN a quarterly record and monthly records covering the same months
WHEN the payment schedule is monthly
THEN each month claims only the monthly record; nothing is double-counted
*/
func TestAggregateDedupPrefersScheduleGranularity(t *testing.T) {
	records := []quota.PeriodRecord{
		q1Record("t-q1", "90000", "0"),
		{
			UserID: alfie.ID, TargetID: "t-jan",
			Period:      quota.NewPeriod(date(2025, 1, 1), date(2025, 1, 31)),
			QuotaAmount: dec("40000"), ActualAmount: dec("10000"),
		},
		{
			UserID: alfie.ID, TargetID: "t-feb",
			Period:      quota.NewPeriod(date(2025, 2, 1), date(2025, 2, 28)),
			QuotaAmount: dec("40000"), ActualAmount: dec("20000"),
		},
	}

	rows, err := monthlyAggregator().Aggregate(records, quota.ViewMonthly)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Jan and Feb claim the monthly records outright; only March falls back
	// to the quarterly record's day-count share.
	assert.True(t, rows[0].QuotaAmount.Equal(dec("40000")), "got %s", rows[0].QuotaAmount)
	assert.Equal(t, []quota.TargetID{"t-jan"}, rows[0].SourceTargets)
	assert.True(t, rows[1].QuotaAmount.Equal(dec("40000")))
	assert.True(t, rows[2].QuotaAmount.Equal(dec("31000")), "got %s", rows[2].QuotaAmount)
	assert.Equal(t, []quota.TargetID{"t-q1"}, rows[2].SourceTargets)
}

/*
GIVEN the same overlap with a quarterly payment schedule
WHEN aggregated
THEN every month claims the quarterly record instead
*/
func TestAggregateDedupQuarterlySchedule(t *testing.T) {
	agg := &quota.Aggregator{PaymentSchedule: quota.ViewQuarterly}
	records := []quota.PeriodRecord{
		q1Record("t-q1", "90000", "9000"),
		{
			UserID: alfie.ID, TargetID: "t-jan",
			Period:      quota.NewPeriod(date(2025, 1, 1), date(2025, 1, 31)),
			QuotaAmount: dec("40000"),
		},
	}

	rows, err := agg.Aggregate(records, quota.ViewQuarterly)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "Q1-2025", rows[0].Label)
	assert.True(t, rows[0].QuotaAmount.Equal(dec("90000")), "got %s", rows[0].QuotaAmount)
	assert.Equal(t, []quota.TargetID{"t-q1"}, rows[0].SourceTargets)
}

/*
GIVEN two records of identical duration covering the same month
WHEN deduped
THEN the one with the most recently started period wins
*/
func TestAggregateDedupNewestStartWins(t *testing.T) {
	records := []quota.PeriodRecord{
		{
			UserID: alfie.ID, TargetID: "t-cal",
			Period:      quota.NewPeriod(date(2025, 1, 1), date(2025, 1, 31)),
			QuotaAmount: dec("30000"),
		},
		{
			UserID: alfie.ID, TargetID: "t-shifted",
			Period:      quota.NewPeriod(date(2025, 1, 5), date(2025, 2, 4)),
			QuotaAmount: dec("31000"),
		},
	}

	rows, err := monthlyAggregator().Aggregate(records, quota.ViewMonthly)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []quota.TargetID{"t-shifted"}, rows[0].SourceTargets)
}

// =============================================================================
// ROLL-UP - coarser view than stored
// =============================================================================

/*
GIVEN three monthly records
WHEN viewed quarterly
THEN they sum into a single quarter row with combined attainment
*/
func TestAggregateMonthlyRecordsQuarterlyView(t *testing.T) {
	records := []quota.PeriodRecord{
		{UserID: alfie.ID, TargetID: "t-jan",
			Period:      quota.NewPeriod(date(2025, 1, 1), date(2025, 1, 31)),
			QuotaAmount: dec("30000"), ActualAmount: dec("15000")},
		{UserID: alfie.ID, TargetID: "t-feb",
			Period:      quota.NewPeriod(date(2025, 2, 1), date(2025, 2, 28)),
			QuotaAmount: dec("30000"), ActualAmount: dec("30000")},
		{UserID: alfie.ID, TargetID: "t-mar",
			Period:      quota.NewPeriod(date(2025, 3, 1), date(2025, 3, 31)),
			QuotaAmount: dec("40000"), ActualAmount: dec("5000")},
	}

	rows, err := monthlyAggregator().Aggregate(records, quota.ViewQuarterly)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "Q1-2025", row.Label)
	assert.True(t, row.QuotaAmount.Equal(dec("100000")))
	assert.True(t, row.ActualAmount.Equal(dec("50000")))
	assert.True(t, row.AttainmentPct.Equal(dec("50")), "got %s", row.AttainmentPct)
	assert.Equal(t, []quota.TargetID{"t-jan", "t-feb", "t-mar"}, row.SourceTargets)
}

/*
GIVEN records across a year
WHEN viewed yearly
THEN one row per user per year comes back, users sorted by ID
*/
func TestAggregateYearlyViewMultiUser(t *testing.T) {
	records := []quota.PeriodRecord{
		{UserID: "u-b", TargetID: "t-b",
			Period:      quota.NewPeriod(date(2025, 1, 1), date(2025, 12, 31)),
			QuotaAmount: dec("120000"), ActualAmount: dec("60000")},
		{UserID: "u-a", TargetID: "t-a",
			Period:      quota.NewPeriod(date(2025, 1, 1), date(2025, 6, 30)),
			QuotaAmount: dec("50000"), ActualAmount: dec("50000")},
	}

	rows, err := monthlyAggregator().Aggregate(records, quota.ViewYearly)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, quota.UserID("u-a"), rows[0].UserID)
	assert.Equal(t, "2025", rows[0].Label)
	assert.True(t, rows[0].QuotaAmount.Equal(dec("50000")))
	assert.Equal(t, quota.UserID("u-b"), rows[1].UserID)
	assert.True(t, rows[1].QuotaAmount.Equal(dec("120000")))
}

// =============================================================================
// VALIDATION
// =============================================================================

/*
GIVEN bad inputs
WHEN aggregation is attempted
THEN unknown granularities and inverted periods are rejected
*/
func TestAggregateValidation(t *testing.T) {
	agg := monthlyAggregator()

	_, err := agg.Aggregate(nil, "fortnightly")
	var ve *quota.ValidationError
	require.ErrorAs(t, err, &ve)

	bad := quota.PeriodRecord{
		UserID:   alfie.ID,
		TargetID: "t-bad",
		Period:   quota.Period{Start: date(2025, 3, 1), End: date(2025, 1, 1)},
	}
	_, err = agg.Aggregate([]quota.PeriodRecord{bad}, quota.ViewMonthly)
	require.ErrorAs(t, err, &ve)
}

/*
GIVEN no records
WHEN aggregated
THEN the result is empty, not an error
*/
func TestAggregateEmpty(t *testing.T) {
	rows, err := monthlyAggregator().Aggregate(nil, quota.ViewMonthly)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
