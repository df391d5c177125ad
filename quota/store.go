/*
store.go - Persistence interface for targets

PURPOSE:
  Defines the interface between the quota domain and the database.
  Targets are soft-deleted: replacement and offboarding deactivate rows,
  nothing ever hard-deletes them.

ATOMICITY CONTRACT:
  Creating a parent target plus all its children is all-or-nothing.
  Implementations provide WithTx for this; a half-created hierarchy is an
  invariant violation, not a partial success.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (self-referencing parent_target_id)
  - store/memory: in-memory for tests and development
*/
package quota

import "context"

// =============================================================================
// TARGET STORE
// =============================================================================

type TargetStore interface {
	// CreateTarget persists a new target.
	CreateTarget(ctx context.Context, t *Target) error

	// GetTarget returns a target by ID, or ErrTargetNotFound.
	GetTarget(ctx context.Context, id TargetID) (*Target, error)

	// ListActiveOverlapping returns active targets for the user whose
	// period intersects the given range, ordered by created_at ascending.
	ListActiveOverlapping(ctx context.Context, userID UserID, period Period) ([]Target, error)

	// ListByUser returns all targets for a user, active or not.
	ListByUser(ctx context.Context, userID UserID) ([]Target, error)

	// ListChildren returns the child targets linked to a parent.
	ListChildren(ctx context.Context, parentID TargetID) ([]Target, error)

	// DeactivateTarget soft-deletes a target. Idempotent.
	DeactivateTarget(ctx context.Context, id TargetID) error

	// UpdateTargetName renames a target. Used by the name backfill job.
	UpdateTargetName(ctx context.Context, id TargetID, name string) error
}

// TxTargetStore wraps TargetStore with transaction support for the
// parent+children all-or-nothing invariant.
type TxTargetStore interface {
	TargetStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(TargetStore) error) error
}
