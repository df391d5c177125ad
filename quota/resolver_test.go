package quota_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/quota"
	"github.com/warp/commission-engine/store/memory"
)

// =============================================================================
// HELPERS
// =============================================================================

// fixedSales satisfies quota.SalesSource with a canned total.
type fixedSales struct {
	total decimal.Decimal
}

func (f fixedSales) ClosedWonTotal(context.Context, quota.UserID, quota.Period) (decimal.Decimal, error) {
	return f.total, nil
}

func seedTarget(t *testing.T, store *memory.Store, target quota.Target) quota.Target {
	t.Helper()
	target.IsActive = true
	if target.UserID == "" {
		target.UserID = alfie.ID
	}
	require.NoError(t, store.CreateTarget(context.Background(), &target))
	return target
}

func q1() quota.Period {
	return quota.NewPeriod(date(2025, 1, 1), date(2025, 3, 31))
}

// =============================================================================
// COMPARATOR
// =============================================================================

/*
GIVEN a child target and a parentless target overlapping the same period
WHEN the governing target is resolved
THEN the child wins regardless of creation order
*/
func TestResolveChildBeatsParent(t *testing.T) {
	store := memory.New()
	parentID := quota.TargetID("t-parent")

	seedTarget(t, store, quota.Target{
		ID:        parentID,
		Period:    q1(),
		CreatedAt: date(2025, 1, 10), // parent created later
	})
	child := seedTarget(t, store, quota.Target{
		ID:             "t-child",
		Period:         quota.NewPeriod(date(2025, 1, 1), date(2025, 1, 31)),
		ParentTargetID: &parentID,
		CreatedAt:      date(2025, 1, 1),
	})

	r := quota.NewResolver(store)
	got, err := r.Resolve(context.Background(), alfie.ID, quota.NewPeriod(date(2025, 1, 15), date(2025, 1, 15)))
	require.NoError(t, err)
	assert.Equal(t, child.ID, got.ID)
}

/*
GIVEN two overlapping targets of the same depth
WHEN resolved
THEN the most recently created wins
*/
func TestResolveNewestWins(t *testing.T) {
	store := memory.New()

	seedTarget(t, store, quota.Target{ID: "t-old", Period: q1(), CreatedAt: date(2025, 1, 1)})
	newer := seedTarget(t, store, quota.Target{ID: "t-new", Period: q1(), CreatedAt: date(2025, 2, 1)})

	r := quota.NewResolver(store)
	got, err := r.Resolve(context.Background(), alfie.ID, q1())
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

/*
GIVEN a mix of children and parents with varying ages
WHEN sorted by precedence
THEN children come first, newest first within each group
*/
func TestSortByPrecedence(t *testing.T) {
	parentID := quota.TargetID("t-p")
	targets := []quota.Target{
		{ID: "parent-new", CreatedAt: date(2025, 3, 1)},
		{ID: "child-old", ParentTargetID: &parentID, CreatedAt: date(2025, 1, 1)},
		{ID: "parent-old", CreatedAt: date(2025, 1, 1)},
		{ID: "child-new", ParentTargetID: &parentID, CreatedAt: date(2025, 2, 1)},
	}

	quota.SortByPrecedence(targets)

	order := []quota.TargetID{targets[0].ID, targets[1].ID, targets[2].ID, targets[3].ID}
	assert.Equal(t, []quota.TargetID{"child-new", "child-old", "parent-new", "parent-old"}, order)
}

// =============================================================================
// RESOLUTION
// =============================================================================

/*
GIVEN no active target covering the reference period
WHEN resolved
THEN a NoActiveTargetError is returned; the engine never invents a default
*/
func TestResolveNoActiveTarget(t *testing.T) {
	store := memory.New()
	seedTarget(t, store, quota.Target{ID: "t-q1", Period: q1(), CreatedAt: date(2025, 1, 1)})

	r := quota.NewResolver(store)
	_, err := r.Resolve(context.Background(), alfie.ID, quota.NewPeriod(date(2025, 7, 1), date(2025, 7, 1)))

	var nae *quota.NoActiveTargetError
	require.ErrorAs(t, err, &nae)
	assert.Equal(t, alfie.ID, nae.UserID)
	assert.ErrorIs(t, err, quota.ErrNoActiveTarget)
	assert.True(t, quota.IsNotFound(err))
}

/*
GIVEN a deactivated target covering the period
WHEN resolved
THEN it is ignored
*/
func TestResolveIgnoresInactive(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	tg := seedTarget(t, store, quota.Target{ID: "t-gone", Period: q1(), CreatedAt: date(2025, 1, 1)})
	require.NoError(t, store.DeactivateTarget(ctx, tg.ID))

	r := quota.NewResolver(store)
	_, err := r.Resolve(ctx, alfie.ID, q1())
	assert.ErrorIs(t, err, quota.ErrNoActiveTarget)
}

// =============================================================================
// PROGRESS
// =============================================================================

/*
GIVEN a governing target with quota 100000 and 25000 of closed-won sales
WHEN progress is computed
THEN attainment is 25.00%
*/
func TestProgress(t *testing.T) {
	store := memory.New()
	tg := seedTarget(t, store, quota.Target{
		ID:          "t-q1",
		Period:      q1(),
		QuotaAmount: dec("100000"),
		CreatedAt:   date(2025, 1, 1),
	})

	r := quota.NewResolver(store)
	report, err := r.Progress(context.Background(), fixedSales{total: dec("25000")}, alfie.ID, q1())
	require.NoError(t, err)

	assert.Equal(t, tg.ID, report.Target.ID)
	assert.True(t, report.QuotaAmount.Equal(dec("100000")))
	assert.True(t, report.ActualAmount.Equal(dec("25000")))
	assert.True(t, report.AttainmentPct.Equal(dec("25")), "got %s", report.AttainmentPct)
}

/*
GIVEN a zero-quota target
WHEN progress is computed
THEN attainment is zero instead of a division blowup
*/
func TestProgressZeroQuota(t *testing.T) {
	store := memory.New()
	seedTarget(t, store, quota.Target{ID: "t-q1", Period: q1(), CreatedAt: date(2025, 1, 1)})

	r := quota.NewResolver(store)
	report, err := r.Progress(context.Background(), fixedSales{total: dec("5000")}, alfie.ID, q1())
	require.NoError(t, err)
	assert.True(t, report.AttainmentPct.IsZero())
}
