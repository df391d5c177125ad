package quota

import (
	"context"
	"fmt"
)

// =============================================================================
// NAME BACKFILL - Idempotent rename job
// =============================================================================

// BackfillResult summarizes one rename pass.
type BackfillResult struct {
	Examined int
	Renamed  int
}

// BackfillNames re-derives every target name for a user from stored fields
// and rewrites the ones that drifted. Re-running it is a no-op; set dryRun
// to count drift without writing.
func BackfillNames(ctx context.Context, store TargetStore, user User, dryRun bool) (*BackfillResult, error) {
	targets, err := store.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	result := &BackfillResult{}
	for _, t := range targets {
		result.Examined++
		want := TargetName(user, t.PeriodType, t.Period.Start, t.Period.End)
		if t.Name == want {
			continue
		}
		result.Renamed++
		if dryRun {
			continue
		}
		if err := store.UpdateTargetName(ctx, t.ID, want); err != nil {
			return result, fmt.Errorf("failed to rename target %s: %w", t.ID, err)
		}
	}
	return result, nil
}
