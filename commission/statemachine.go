/*
statemachine.go - Commission approval workflow

PURPOSE:
  Governs the commission lifecycle and records an append-only audit trail.
  One transition = one immutable audit entry.

TRANSITION TABLE:
  calculated      review                      -> pending_review
  calculated      approve / adjust_and_approve -> approved
  calculated      reject                      -> rejected
  pending_review  approve / adjust_and_approve -> approved
  pending_review  reject                      -> rejected
  pending_review  request_change              -> pending_review
  approved        pay                         -> paid
  approved        reject                      -> rejected
  rejected        review                      -> pending_review

  Anything else is rejected with the offending (status, action) pair.
  `voided` is reached only through the deal-reversal path in calculator.go,
  never through this table. `paid` is terminal.

ROLES:
  pay is restricted to admins; approve/reject/review/request_change and
  adjust_and_approve require manager or above.

CONCURRENCY:
  Transitions are optimistic: the update only applies while the persisted
  status still equals the expected source state. A lost race surfaces as
  ErrStaleStatus, never as a silent retry.

SEE ALSO:
  - calculator.go: creates commissions in "calculated" and drives voiding
  - store.go: UpdateGuarded contract
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/quota"
)

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	ActionReview           Action = "review"
	ActionApprove          Action = "approve"
	ActionAdjustAndApprove Action = "adjust_and_approve"
	ActionReject           Action = "reject"
	ActionRequestChange    Action = "request_change"
	ActionPay              Action = "pay"

	// Audit-only actions. Never accepted through Apply.
	actionCalculate   Action = "calculate"
	actionRecalculate Action = "recalculate"
	actionVoid        Action = "void"
)

// minAdjustmentReason is the shortest accepted adjustment justification.
const minAdjustmentReason = 10

// transitions is the single source of truth for allowed lifecycle moves.
var transitions = map[Status]map[Action]Status{
	StatusCalculated: {
		ActionReview:           StatusPendingReview,
		ActionApprove:          StatusApproved,
		ActionAdjustAndApprove: StatusApproved,
		ActionReject:           StatusRejected,
	},
	StatusPendingReview: {
		ActionApprove:          StatusApproved,
		ActionAdjustAndApprove: StatusApproved,
		ActionReject:           StatusRejected,
		ActionRequestChange:    StatusPendingReview,
	},
	StatusApproved: {
		ActionPay:    StatusPaid,
		ActionReject: StatusRejected,
	},
	StatusRejected: {
		ActionReview: StatusPendingReview,
	},
}

// =============================================================================
// STATE MACHINE
// =============================================================================

type StateMachine struct {
	Store    Store
	Audit    AuditLog
	Notifier Notifier

	Now   func() time.Time
	NewID func() string
}

func NewStateMachine(store Store, audit AuditLog, notifier Notifier) *StateMachine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &StateMachine{
		Store:    store,
		Audit:    audit,
		Notifier: notifier,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// TransitionInput carries the actor and action-specific parameters.
type TransitionInput struct {
	Actor Principal
	Notes string

	// Metadata is structured audit context, kept distinct from Notes.
	Metadata map[string]any

	// adjust_and_approve only.
	AdjustedAmount   *decimal.Decimal
	AdjustmentReason string

	// pay only.
	PaymentReference string
}

// Apply performs one lifecycle transition. The returned commission reflects
// the persisted post-transition state.
func (sm *StateMachine) Apply(ctx context.Context, id CommissionID, action Action, in TransitionInput) (*Commission, error) {
	c, err := sm.Store.GetCommission(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := sm.authorize(c, action, in.Actor); err != nil {
		return nil, err
	}

	next, ok := transitions[c.Status][action]
	if !ok {
		return nil, &TransitionError{Status: c.Status, Action: action}
	}

	previous := c.Status
	now := sm.Now()
	metadata := in.Metadata

	switch action {
	case ActionReview:
		c.ReviewedAt = &now
		c.ReviewedBy = in.Actor.ID

	case ActionApprove:
		c.ApprovedAt = &now
		c.ApprovedBy = in.Actor.ID

	case ActionAdjustAndApprove:
		if err := sm.applyAdjustment(c, in); err != nil {
			return nil, err
		}
		c.ApprovedAt = &now
		c.ApprovedBy = in.Actor.ID
		metadata = mergeMetadata(metadata, map[string]any{
			"adjusted":        true,
			"original_amount": c.OriginalAmount.String(),
			"adjusted_amount": c.CommissionAmount.String(),
			"reason":          c.AdjustmentReason,
		})

	case ActionReject:
		// Notes carry the rejection rationale.

	case ActionRequestChange:
		// Status is unchanged; the audit entry records the request.

	case ActionPay:
		if in.PaymentReference == "" {
			return nil, &ValidationError{Field: "payment_reference", Message: "required for pay"}
		}
		c.PaidAt = &now
		c.PaymentReference = in.PaymentReference
	}

	c.Status = next
	if in.Notes != "" {
		c.Notes = in.Notes
	}

	if err := sm.Store.UpdateGuarded(ctx, c, previous); err != nil {
		return nil, fmt.Errorf("transition %s from %s: %w", action, previous, err)
	}

	// adjust_and_approve is recorded as an "approve" transition.
	recorded := action
	if action == ActionAdjustAndApprove {
		recorded = ActionApprove
	}
	if err := sm.appendAudit(ctx, c, recorded, previous, in.Actor.ID, in.Notes, metadata); err != nil {
		return nil, err
	}

	switch next {
	case StatusApproved:
		sm.Notifier.CommissionApproved(ctx, *c, []quota.UserID{c.UserID})
	case StatusRejected:
		sm.Notifier.CommissionRejected(ctx, *c, []quota.UserID{c.UserID})
	}

	return c, nil
}

func (sm *StateMachine) authorize(c *Commission, action Action, actor Principal) error {
	if actor.CompanyID != "" && actor.CompanyID != c.CompanyID {
		return &PermissionError{Actor: actor.ID, Action: action, Need: "same company"}
	}
	switch action {
	case ActionPay:
		if !actor.IsAdmin {
			return &PermissionError{Actor: actor.ID, Action: action, Need: "admin"}
		}
	default:
		if !actor.IsAdmin && !actor.IsManager {
			return &PermissionError{Actor: actor.ID, Action: action, Need: "manager or above"}
		}
	}
	return nil
}

func (sm *StateMachine) applyAdjustment(c *Commission, in TransitionInput) error {
	if len(in.AdjustmentReason) < minAdjustmentReason {
		return &ValidationError{Field: "adjustment_reason",
			Message: fmt.Sprintf("required, at least %d characters", minAdjustmentReason)}
	}
	if in.AdjustedAmount == nil {
		return &ValidationError{Field: "adjusted_amount", Message: "required for adjust_and_approve"}
	}
	if in.AdjustedAmount.IsNegative() {
		return &ValidationError{Field: "adjusted_amount", Message: "must be non-negative"}
	}
	prior := c.CommissionAmount
	c.OriginalAmount = &prior
	c.CommissionAmount = quota.RoundMoney(*in.AdjustedAmount)
	c.AdjustmentReason = in.AdjustmentReason
	return nil
}

func (sm *StateMachine) appendAudit(ctx context.Context, c *Commission, action Action, previous Status, actor, notes string, metadata map[string]any) error {
	entry := Approval{
		ID:             sm.NewID(),
		CommissionID:   c.ID,
		Action:         action,
		PerformedBy:    actor,
		PerformedAt:    sm.Now(),
		PreviousStatus: previous,
		NewStatus:      c.Status,
		Notes:          notes,
		Metadata:       metadata,
	}
	if err := sm.Audit.AppendApproval(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if base == nil {
		return extra
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
