/*
Package memory provides in-memory implementations of every storage
interface, for tests and development.

PURPOSE:
  Mirrors the behavior the SQLite store enforces with constraints:
  deal_id uniqueness, the optimistic status guard, append-only approvals,
  and transactional parent+child target creation (snapshot + rollback).

  All reads return copies so callers can't mutate stored state by aliasing.

SEE ALSO:
  - store/sqlite: the production implementation with the same semantics
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/quota"
)

// Store implements quota.TxTargetStore, commission.Store,
// commission.AuditLog, commission.RuleStore, commission.DealStore,
// quota.UserDirectory, and commission.PlanChecker.
type Store struct {
	mu sync.RWMutex

	targets     map[quota.TargetID]quota.Target
	commissions map[commission.CommissionID]commission.Commission
	byDeal      map[commission.DealID]commission.CommissionID
	approvals   map[commission.CommissionID][]commission.Approval
	rules       map[commission.RuleID]commission.Rule
	deals       map[commission.DealID]commission.Deal
	users       map[quota.UserID]quota.User
	trial       map[quota.CompanyID]bool
}

func New() *Store {
	return &Store{
		targets:     map[quota.TargetID]quota.Target{},
		commissions: map[commission.CommissionID]commission.Commission{},
		byDeal:      map[commission.DealID]commission.CommissionID{},
		approvals:   map[commission.CommissionID][]commission.Approval{},
		rules:       map[commission.RuleID]commission.Rule{},
		deals:       map[commission.DealID]commission.Deal{},
		users:       map[quota.UserID]quota.User{},
		trial:       map[quota.CompanyID]bool{},
	}
}

// =============================================================================
// TARGET STORE (quota.TxTargetStore)
// =============================================================================

func (s *Store) CreateTarget(_ context.Context, t *quota.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTargetLocked(t)
}

func (s *Store) createTargetLocked(t *quota.Target) error {
	s.targets[t.ID] = *t
	return nil
}

func (s *Store) GetTarget(_ context.Context, id quota.TargetID) (*quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.targets[id]
	if !ok {
		return nil, quota.ErrTargetNotFound
	}
	return &t, nil
}

func (s *Store) ListActiveOverlapping(_ context.Context, userID quota.UserID, period quota.Period) ([]quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listActiveOverlappingLocked(userID, period), nil
}

func (s *Store) listActiveOverlappingLocked(userID quota.UserID, period quota.Period) []quota.Target {
	var out []quota.Target
	for _, t := range s.targets {
		if t.UserID == userID && t.IsActive && t.Period.Overlaps(period) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListByUser(_ context.Context, userID quota.UserID) ([]quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []quota.Target
	for _, t := range s.targets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListChildren(_ context.Context, parentID quota.TargetID) ([]quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []quota.Target
	for _, t := range s.targets {
		if t.ParentTargetID != nil && *t.ParentTargetID == parentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Start.Before(out[j].Period.Start) })
	return out, nil
}

func (s *Store) DeactivateTarget(_ context.Context, id quota.TargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateTargetLocked(id)
}

func (s *Store) deactivateTargetLocked(id quota.TargetID) error {
	t, ok := s.targets[id]
	if !ok {
		return quota.ErrTargetNotFound
	}
	t.IsActive = false
	s.targets[id] = t
	return nil
}

func (s *Store) UpdateTargetName(_ context.Context, id quota.TargetID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return quota.ErrTargetNotFound
	}
	t.Name = name
	s.targets[id] = t
	return nil
}

// WithTx simulates a transaction with a snapshot + rollback on error.
func (s *Store) WithTx(_ context.Context, fn func(quota.TargetStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[quota.TargetID]quota.Target, len(s.targets))
	for k, v := range s.targets {
		snapshot[k] = v
	}

	if err := fn(&txView{parent: s}); err != nil {
		s.targets = snapshot
		return err
	}
	return nil
}

// txView runs inside the already-held lock.
type txView struct {
	parent *Store
}

func (tv *txView) CreateTarget(_ context.Context, t *quota.Target) error {
	return tv.parent.createTargetLocked(t)
}

func (tv *txView) GetTarget(_ context.Context, id quota.TargetID) (*quota.Target, error) {
	t, ok := tv.parent.targets[id]
	if !ok {
		return nil, quota.ErrTargetNotFound
	}
	return &t, nil
}

func (tv *txView) ListActiveOverlapping(_ context.Context, userID quota.UserID, period quota.Period) ([]quota.Target, error) {
	return tv.parent.listActiveOverlappingLocked(userID, period), nil
}

func (tv *txView) ListByUser(_ context.Context, userID quota.UserID) ([]quota.Target, error) {
	var out []quota.Target
	for _, t := range tv.parent.targets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tv *txView) ListChildren(_ context.Context, parentID quota.TargetID) ([]quota.Target, error) {
	var out []quota.Target
	for _, t := range tv.parent.targets {
		if t.ParentTargetID != nil && *t.ParentTargetID == parentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tv *txView) DeactivateTarget(_ context.Context, id quota.TargetID) error {
	return tv.parent.deactivateTargetLocked(id)
}

func (tv *txView) UpdateTargetName(_ context.Context, id quota.TargetID, name string) error {
	t, ok := tv.parent.targets[id]
	if !ok {
		return quota.ErrTargetNotFound
	}
	t.Name = name
	tv.parent.targets[id] = t
	return nil
}

// =============================================================================
// COMMISSION STORE (commission.Store)
// =============================================================================

func (s *Store) CreateCommission(_ context.Context, c *commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDeal[c.DealID]; exists {
		return commission.ErrDuplicateDeal
	}
	s.commissions[c.ID] = *c
	s.byDeal[c.DealID] = c.ID
	return nil
}

func (s *Store) GetCommission(_ context.Context, id commission.CommissionID) (*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commissions[id]
	if !ok {
		return nil, commission.ErrCommissionNotFound
	}
	return &c, nil
}

func (s *Store) GetByDeal(_ context.Context, dealID commission.DealID) (*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDeal[dealID]
	if !ok {
		return nil, commission.ErrCommissionNotFound
	}
	c := s.commissions[id]
	return &c, nil
}

func (s *Store) UpdateCommission(_ context.Context, c *commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commissions[c.ID]; !ok {
		return commission.ErrCommissionNotFound
	}
	s.commissions[c.ID] = *c
	return nil
}

func (s *Store) UpdateGuarded(_ context.Context, c *commission.Commission, expected commission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.commissions[c.ID]
	if !ok {
		return commission.ErrCommissionNotFound
	}
	if current.Status != expected {
		return commission.ErrStaleStatus
	}
	s.commissions[c.ID] = *c
	return nil
}

func (s *Store) ListCommissions(_ context.Context, filter commission.ListFilter) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []commission.Commission
	for _, c := range s.commissions {
		if filter.CompanyID != "" && c.CompanyID != filter.CompanyID {
			continue
		}
		if filter.UserID != "" && c.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CalculatedAt.Equal(out[j].CalculatedAt) {
			return out[i].CalculatedAt.After(out[j].CalculatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// AUDIT LOG (commission.AuditLog) - append-only
// =============================================================================

func (s *Store) AppendApproval(_ context.Context, entry commission.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.approvals[entry.CommissionID] = append(s.approvals[entry.CommissionID], entry)
	return nil
}

func (s *Store) ListApprovals(_ context.Context, id commission.CommissionID) ([]commission.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]commission.Approval, len(s.approvals[id]))
	copy(out, s.approvals[id])
	return out, nil
}

// =============================================================================
// RULE STORE (commission.RuleStore)
// =============================================================================

func (s *Store) SaveRule(_ context.Context, r *commission.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[r.ID] = *r
	return nil
}

func (s *Store) ActiveRules(_ context.Context, companyID quota.CompanyID, asOf time.Time) ([]commission.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []commission.Rule
	for _, r := range s.rules {
		if r.CompanyID != companyID {
			continue
		}
		if !r.Covers(asOf) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// DEAL STORE (commission.DealStore)
// =============================================================================

// SaveDeal creates or replaces a deal record.
func (s *Store) SaveDeal(_ context.Context, d commission.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[d.ID] = d
	return nil
}

func (s *Store) GetDeal(_ context.Context, id commission.DealID) (*commission.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deals[id]
	if !ok {
		return nil, commission.ErrDealNotFound
	}
	return &d, nil
}

func (s *Store) UpdateCommissionSnapshot(_ context.Context, id commission.DealID, rate, amount decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[id]
	if !ok {
		return commission.ErrDealNotFound
	}
	d.CommissionRate = &rate
	d.CommissionAmount = &amount
	d.CommissionCalculatedAt = &at
	s.deals[id] = d
	return nil
}

func (s *Store) ClearCommissionSnapshot(_ context.Context, id commission.DealID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[id]
	if !ok {
		return commission.ErrDealNotFound
	}
	d.CommissionRate = nil
	d.CommissionAmount = nil
	d.CommissionCalculatedAt = nil
	s.deals[id] = d
	return nil
}

func (s *Store) ClosedWonTotal(_ context.Context, userID quota.UserID, period quota.Period, exclude commission.DealID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, d := range s.deals {
		if d.ID == exclude || d.UserID != userID {
			continue
		}
		if !commission.IsClosedWon(d.Stage) {
			continue
		}
		if !period.Contains(d.CloseDate) {
			continue
		}
		total = total.Add(d.Amount)
	}
	return total, nil
}

// =============================================================================
// USER DIRECTORY (quota.UserDirectory)
// =============================================================================

// SaveUser creates or replaces a user record.
func (s *Store) SaveUser(_ context.Context, u quota.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// GetUser retrieves a user by ID, or ErrUserNotFound.
func (s *Store) GetUser(_ context.Context, id quota.UserID) (*quota.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, quota.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context, companyID quota.CompanyID, filter quota.UserFilter) ([]quota.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []quota.User
	for _, u := range s.users {
		if u.CompanyID != companyID {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.TeamID != "" && u.TeamID != filter.TeamID {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PLAN CHECKER (commission.PlanChecker)
// =============================================================================

// SetTrialPlan marks a company as being on a trial plan.
func (s *Store) SetTrialPlan(_ context.Context, companyID quota.CompanyID, trial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trial[companyID] = trial
	return nil
}

func (s *Store) IsTrialPlan(_ context.Context, companyID quota.CompanyID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trial[companyID], nil
}
