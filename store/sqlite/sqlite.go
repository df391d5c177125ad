/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  quota.TxTargetStore:  Target persistence with transactional hierarchies
  quota.UserDirectory:  User records for batch distribution
  commission.Store:     Commission persistence with the optimistic guard
  commission.AuditLog:  Append-only approval audit trail
  commission.RuleStore: Rule definitions with JSON tier config
  commission.DealStore: Deal snapshots and period sales totals
  commission.PlanChecker: Trial-plan lookups

KEY CONSTRAINTS:
  - commissions.deal_id is UNIQUE: the second concurrent calculation for a
    deal fails at the constraint and the caller fetches the existing row
  - status updates run as UPDATE ... WHERE id = ? AND status = ?: zero rows
    affected means a lost race, surfaced as ErrStaleStatus
  - commission_approvals has no UPDATE or DELETE path

KEY TABLES:
  targets:              Quota contracts, self-referencing parent_target_id
  commissions:          One row per deal, ever
  commission_approvals: Immutable audit trail
  commission_rules:     Rule definitions (tiers as JSON)
  deals:                Deal records with cached commission fields
  users:                Minimal user profiles
  companies:            Plan flags

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/commissions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - quota/store.go, commission/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/quota"
)

const dateFormat = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Targets (soft-deleted via is_active, never removed)
	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		period_type TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		quota_amount TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		parent_target_id TEXT REFERENCES targets(id),
		distribution_method TEXT NOT NULL,
		distribution_config_json TEXT,
		role TEXT,
		team_id TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Active-target resolution (hot path)
	CREATE INDEX IF NOT EXISTS idx_targets_user_active
		ON targets(user_id, is_active, period_start, period_end);
	CREATE INDEX IF NOT EXISTS idx_targets_parent
		ON targets(parent_target_id) WHERE parent_target_id IS NOT NULL;

	-- Commissions (one per deal, ever)
	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_name TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		quota_amount TEXT NOT NULL,
		actual_amount TEXT NOT NULL,
		attainment_pct TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		base_commission TEXT NOT NULL,
		original_amount TEXT,
		breakdown_json TEXT,
		status TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		calculated_by TEXT NOT NULL,
		reviewed_at TEXT,
		reviewed_by TEXT,
		approved_at TEXT,
		approved_by TEXT,
		paid_at TEXT,
		payment_reference TEXT,
		adjustment_reason TEXT,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_company_status
		ON commissions(company_id, status);
	CREATE INDEX IF NOT EXISTS idx_commissions_user
		ON commissions(user_id);

	-- Approvals (append-only audit trail)
	CREATE TABLE IF NOT EXISTS commission_approvals (
		id TEXT PRIMARY KEY,
		commission_id TEXT NOT NULL,
		action TEXT NOT NULL,
		performed_by TEXT NOT NULL,
		performed_at TEXT NOT NULL,
		previous_status TEXT,
		new_status TEXT NOT NULL,
		notes TEXT,
		metadata_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_commission
		ON commission_approvals(commission_id, performed_at);

	-- Rules (tiers and thresholds in config_json)
	CREATE TABLE IF NOT EXISTS commission_rules (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL,
		effective_from TEXT,
		effective_to TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_rules_company_active
		ON commission_rules(company_id, is_active, priority);

	-- Deals (external entity mirror with cached commission fields)
	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		stage TEXT NOT NULL,
		close_date TEXT NOT NULL,
		product_category TEXT,
		commission_rate TEXT,
		commission_amount TEXT,
		commission_calculated_at TEXT
	);

	-- Period sales totals (hot path)
	CREATE INDEX IF NOT EXISTS idx_deals_user_stage_close
		ON deals(user_id, stage, close_date);

	-- Users
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		hire_date TEXT,
		role TEXT,
		team_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_users_company
		ON users(company_id);

	-- Companies (plan flags)
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		is_trial BOOLEAN NOT NULL DEFAULT FALSE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TARGET STORE (quota.TxTargetStore interface)
// =============================================================================

func (s *Store) CreateTarget(ctx context.Context, t *quota.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return createTarget(ctx, s.db, t)
}

func createTarget(ctx context.Context, db dbtx, t *quota.Target) error {
	var configJSON sql.NullString
	if t.DistributionConfig != nil {
		b, err := json.Marshal(t.DistributionConfig)
		if err != nil {
			return fmt.Errorf("failed to encode distribution config: %w", err)
		}
		configJSON = sql.NullString{String: string(b), Valid: true}
	}

	var parentID sql.NullString
	if t.ParentTargetID != nil {
		parentID = sql.NullString{String: string(*t.ParentTargetID), Valid: true}
	}

	query := `
		INSERT INTO targets
		(id, user_id, company_id, name, period_type, period_start, period_end,
		 quota_amount, commission_rate, parent_target_id, distribution_method,
		 distribution_config_json, role, team_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		t.ID, t.UserID, t.CompanyID, t.Name, t.PeriodType,
		t.Period.Start.Format(dateFormat), t.Period.End.Format(dateFormat),
		t.QuotaAmount.String(), t.CommissionRate.String(),
		parentID, t.DistributionMethod, configJSON,
		t.Role, t.TeamID, t.IsActive,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert target: %w", err)
	}
	return nil
}

const targetColumns = `id, user_id, company_id, name, period_type, period_start, period_end,
	quota_amount, commission_rate, parent_target_id, distribution_method,
	distribution_config_json, role, team_id, is_active, created_at`

func (s *Store) GetTarget(ctx context.Context, id quota.TargetID) (*quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getTarget(ctx, s.db, id)
}

func getTarget(ctx context.Context, db dbtx, id quota.TargetID) (*quota.Target, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, quota.ErrTargetNotFound
	}
	t, err := scanTarget(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListActiveOverlapping(ctx context.Context, userID quota.UserID, period quota.Period) ([]quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listActiveOverlapping(ctx, s.db, userID, period)
}

func listActiveOverlapping(ctx context.Context, db dbtx, userID quota.UserID, period quota.Period) ([]quota.Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE user_id = ? AND is_active = TRUE
		  AND period_start <= ? AND period_end >= ?
		ORDER BY created_at ASC, id ASC
	`

	return queryTargets(ctx, db, query, userID,
		period.End.Format(dateFormat), period.Start.Format(dateFormat))
}

func (s *Store) ListByUser(ctx context.Context, userID quota.UserID) ([]quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE user_id = ?
		ORDER BY period_start ASC, created_at ASC
	`

	return queryTargets(ctx, s.db, query, userID)
}

func (s *Store) ListChildren(ctx context.Context, parentID quota.TargetID) ([]quota.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listChildren(ctx, s.db, parentID)
}

func listChildren(ctx context.Context, db dbtx, parentID quota.TargetID) ([]quota.Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE parent_target_id = ?
		ORDER BY period_start ASC
	`

	return queryTargets(ctx, db, query, parentID)
}

func (s *Store) DeactivateTarget(ctx context.Context, id quota.TargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deactivateTarget(ctx, s.db, id)
}

func deactivateTarget(ctx context.Context, db dbtx, id quota.TargetID) error {
	res, err := db.ExecContext(ctx,
		"UPDATE targets SET is_active = FALSE WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return quota.ErrTargetNotFound
	}
	return nil
}

func (s *Store) UpdateTargetName(ctx context.Context, id quota.TargetID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateTargetName(ctx, s.db, id, name)
}

func updateTargetName(ctx context.Context, db dbtx, id quota.TargetID, name string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE targets SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return quota.ErrTargetNotFound
	}
	return nil
}

// WithTx executes a function within a database transaction. Parent+child
// hierarchies and replace-policy swaps commit or roll back as a unit.
func (s *Store) WithTx(ctx context.Context, fn func(store quota.TargetStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txTargetStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txTargetStore struct {
	tx *sql.Tx
}

func (ts *txTargetStore) CreateTarget(ctx context.Context, t *quota.Target) error {
	return createTarget(ctx, ts.tx, t)
}

func (ts *txTargetStore) GetTarget(ctx context.Context, id quota.TargetID) (*quota.Target, error) {
	return getTarget(ctx, ts.tx, id)
}

func (ts *txTargetStore) ListActiveOverlapping(ctx context.Context, userID quota.UserID, period quota.Period) ([]quota.Target, error) {
	return listActiveOverlapping(ctx, ts.tx, userID, period)
}

func (ts *txTargetStore) ListByUser(ctx context.Context, userID quota.UserID) ([]quota.Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM targets
		WHERE user_id = ?
		ORDER BY period_start ASC, created_at ASC
	`
	return queryTargets(ctx, ts.tx, query, userID)
}

func (ts *txTargetStore) ListChildren(ctx context.Context, parentID quota.TargetID) ([]quota.Target, error) {
	return listChildren(ctx, ts.tx, parentID)
}

func (ts *txTargetStore) DeactivateTarget(ctx context.Context, id quota.TargetID) error {
	return deactivateTarget(ctx, ts.tx, id)
}

func (ts *txTargetStore) UpdateTargetName(ctx context.Context, id quota.TargetID, name string) error {
	return updateTargetName(ctx, ts.tx, id, name)
}

func queryTargets(ctx context.Context, db dbtx, query string, args ...any) ([]quota.Target, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []quota.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func scanTarget(rows *sql.Rows) (quota.Target, error) {
	var (
		t           quota.Target
		periodStart string
		periodEnd   string
		quotaAmount string
		rate        string
		parentID    sql.NullString
		configJSON  sql.NullString
		role        sql.NullString
		teamID      sql.NullString
		createdAt   string
	)

	err := rows.Scan(
		&t.ID, &t.UserID, &t.CompanyID, &t.Name, &t.PeriodType,
		&periodStart, &periodEnd, &quotaAmount, &rate,
		&parentID, &t.DistributionMethod, &configJSON,
		&role, &teamID, &t.IsActive, &createdAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan target: %w", err)
	}

	start, _ := time.Parse(dateFormat, periodStart)
	end, _ := time.Parse(dateFormat, periodEnd)
	t.Period = quota.Period{Start: start, End: end}
	t.QuotaAmount = quota.MustDecimal(quotaAmount)
	t.CommissionRate = quota.MustDecimal(rate)
	t.Role = role.String
	t.TeamID = teamID.String
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	if parentID.Valid {
		id := quota.TargetID(parentID.String)
		t.ParentTargetID = &id
	}
	if configJSON.Valid && configJSON.String != "" {
		var cfg quota.DistributionConfig
		if err := json.Unmarshal([]byte(configJSON.String), &cfg); err == nil {
			t.DistributionConfig = &cfg
		}
	}

	return t, nil
}

// =============================================================================
// COMMISSION STORE (commission.Store interface)
// =============================================================================

const commissionColumns = `id, deal_id, user_id, company_id, target_id, target_name,
	period_start, period_end, quota_amount, actual_amount, attainment_pct,
	commission_rate, commission_amount, base_commission, original_amount,
	breakdown_json, status, calculated_at, calculated_by, reviewed_at, reviewed_by,
	approved_at, approved_by, paid_at, payment_reference, adjustment_reason, notes`

func (s *Store) CreateCommission(ctx context.Context, c *commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO commissions (` + commissionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, commissionArgs(c)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return commission.ErrDuplicateDeal
		}
		return fmt.Errorf("failed to insert commission: %w", err)
	}
	return nil
}

func commissionArgs(c *commission.Commission) []any {
	var breakdownJSON sql.NullString
	if len(c.Breakdown) > 0 {
		b, _ := json.Marshal(c.Breakdown)
		breakdownJSON = sql.NullString{String: string(b), Valid: true}
	}

	var originalAmount sql.NullString
	if c.OriginalAmount != nil {
		originalAmount = sql.NullString{String: c.OriginalAmount.String(), Valid: true}
	}

	return []any{
		c.ID, c.DealID, c.UserID, c.CompanyID, c.TargetID, c.TargetName,
		c.Period.Start.Format(dateFormat), c.Period.End.Format(dateFormat),
		c.QuotaAmount.String(), c.ActualAmount.String(), c.AttainmentPct.String(),
		c.CommissionRate.String(), c.CommissionAmount.String(), c.BaseCommission.String(),
		originalAmount, breakdownJSON, c.Status,
		c.CalculatedAt.UTC().Format(time.RFC3339Nano), c.CalculatedBy,
		nullTime(c.ReviewedAt), nullString(c.ReviewedBy),
		nullTime(c.ApprovedAt), nullString(c.ApprovedBy),
		nullTime(c.PaidAt),
		c.PaymentReference, c.AdjustmentReason, c.Notes,
	}
}

func (s *Store) GetCommission(ctx context.Context, id commission.CommissionID) (*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getCommissionWhere(ctx, "id = ?", id)
}

func (s *Store) GetByDeal(ctx context.Context, dealID commission.DealID) (*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getCommissionWhere(ctx, "deal_id = ?", dealID)
}

func (s *Store) getCommissionWhere(ctx context.Context, where string, arg any) (*commission.Commission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+commissionColumns+" FROM commissions WHERE "+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, commission.ErrCommissionNotFound
	}
	c, err := scanCommission(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const commissionUpdateSet = `deal_id = ?, user_id = ?, company_id = ?, target_id = ?,
	target_name = ?, period_start = ?, period_end = ?, quota_amount = ?,
	actual_amount = ?, attainment_pct = ?, commission_rate = ?, commission_amount = ?,
	base_commission = ?, original_amount = ?, breakdown_json = ?, status = ?,
	calculated_at = ?, calculated_by = ?, reviewed_at = ?, reviewed_by = ?,
	approved_at = ?, approved_by = ?, paid_at = ?, payment_reference = ?,
	adjustment_reason = ?, notes = ?`

func (s *Store) UpdateCommission(ctx context.Context, c *commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := append(commissionArgs(c)[1:], c.ID)
	res, err := s.db.ExecContext(ctx,
		"UPDATE commissions SET "+commissionUpdateSet+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update commission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return commission.ErrCommissionNotFound
	}
	return nil
}

// UpdateGuarded applies the update only while the persisted status still
// equals expected. Zero rows affected means either a lost race or a missing
// row; a follow-up existence check distinguishes the two.
func (s *Store) UpdateGuarded(ctx context.Context, c *commission.Commission, expected commission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := append(commissionArgs(c)[1:], c.ID, expected)
	res, err := s.db.ExecContext(ctx,
		"UPDATE commissions SET "+commissionUpdateSet+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update commission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM commissions WHERE id = ?", c.ID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return commission.ErrCommissionNotFound
		}
		return commission.ErrStaleStatus
	}
	return nil
}

func (s *Store) ListCommissions(ctx context.Context, filter commission.ListFilter) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + commissionColumns + " FROM commissions WHERE 1=1"
	var args []any
	if filter.CompanyID != "" {
		query += " AND company_id = ?"
		args = append(args, filter.CompanyID)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY calculated_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions: %w", err)
	}
	defer rows.Close()

	var commissions []commission.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, c)
	}
	return commissions, rows.Err()
}

func scanCommission(rows *sql.Rows) (commission.Commission, error) {
	var (
		c              commission.Commission
		periodStart    string
		periodEnd      string
		quotaAmount    string
		actualAmount   string
		attainment     string
		rate           string
		amount         string
		base           string
		originalAmount sql.NullString
		breakdownJSON  sql.NullString
		calculatedAt   string
		reviewedAt     sql.NullString
		reviewedBy     sql.NullString
		approvedAt     sql.NullString
		approvedBy     sql.NullString
		paidAt         sql.NullString
		paymentRef     sql.NullString
		adjustReason   sql.NullString
		notes          sql.NullString
	)

	err := rows.Scan(
		&c.ID, &c.DealID, &c.UserID, &c.CompanyID, &c.TargetID, &c.TargetName,
		&periodStart, &periodEnd, &quotaAmount, &actualAmount, &attainment,
		&rate, &amount, &base, &originalAmount, &breakdownJSON, &c.Status,
		&calculatedAt, &c.CalculatedBy, &reviewedAt, &reviewedBy,
		&approvedAt, &approvedBy, &paidAt, &paymentRef, &adjustReason, &notes,
	)
	if err != nil {
		return c, fmt.Errorf("failed to scan commission: %w", err)
	}

	start, _ := time.Parse(dateFormat, periodStart)
	end, _ := time.Parse(dateFormat, periodEnd)
	c.Period = quota.Period{Start: start, End: end}
	c.QuotaAmount = quota.MustDecimal(quotaAmount)
	c.ActualAmount = quota.MustDecimal(actualAmount)
	c.AttainmentPct = quota.MustDecimal(attainment)
	c.CommissionRate = quota.MustDecimal(rate)
	c.CommissionAmount = quota.MustDecimal(amount)
	c.BaseCommission = quota.MustDecimal(base)
	c.CalculatedAt, _ = time.Parse(time.RFC3339Nano, calculatedAt)
	c.ReviewedAt = parseNullTime(reviewedAt)
	c.ReviewedBy = reviewedBy.String
	c.ApprovedAt = parseNullTime(approvedAt)
	c.ApprovedBy = approvedBy.String
	c.PaidAt = parseNullTime(paidAt)
	c.PaymentReference = paymentRef.String
	c.AdjustmentReason = adjustReason.String
	c.Notes = notes.String

	if originalAmount.Valid {
		d := quota.MustDecimal(originalAmount.String)
		c.OriginalAmount = &d
	}
	if breakdownJSON.Valid && breakdownJSON.String != "" {
		json.Unmarshal([]byte(breakdownJSON.String), &c.Breakdown)
	}

	return c, nil
}

// =============================================================================
// AUDIT LOG (commission.AuditLog interface) - Append-only
// =============================================================================

// AppendApproval writes one audit entry. There is deliberately no UPDATE or
// DELETE statement against commission_approvals anywhere in this package.
func (s *Store) AppendApproval(ctx context.Context, entry commission.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, _ := json.Marshal(entry.Metadata)

	query := `
		INSERT INTO commission_approvals
		(id, commission_id, action, performed_by, performed_at,
		 previous_status, new_status, notes, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.CommissionID, entry.Action,
		entry.PerformedBy, entry.PerformedAt.UTC().Format(time.RFC3339Nano),
		entry.PreviousStatus, entry.NewStatus, entry.Notes, string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append approval: %w", err)
	}
	return nil
}

func (s *Store) ListApprovals(ctx context.Context, id commission.CommissionID) ([]commission.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, commission_id, action, performed_by, performed_at,
		       previous_status, new_status, notes, metadata_json
		FROM commission_approvals
		WHERE commission_id = ?
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []commission.Approval
	for rows.Next() {
		var (
			a            commission.Approval
			performedAt  string
			previous     sql.NullString
			notes        sql.NullString
			metadataJSON sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.CommissionID, &a.Action, &a.PerformedBy,
			&performedAt, &previous, &a.NewStatus, &notes, &metadataJSON); err != nil {
			return nil, err
		}
		a.PerformedAt, _ = time.Parse(time.RFC3339Nano, performedAt)
		a.PreviousStatus = commission.Status(previous.String)
		a.Notes = notes.String
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			json.Unmarshal([]byte(metadataJSON.String), &a.Metadata)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// =============================================================================
// RULE STORE (commission.RuleStore interface)
// =============================================================================

// ruleConfig is the JSON shape of the type-specific rule fields.
type ruleConfig struct {
	Rate            decimal.Decimal       `json:"rate,omitempty"`
	ProductCategory string                `json:"product_category,omitempty"`
	TriggerOn       commission.TriggerOn  `json:"trigger_on,omitempty"`
	Tiers           []commission.RuleTier `json:"tiers,omitempty"`
	Threshold       decimal.Decimal       `json:"threshold,omitempty"`
	Factor          decimal.Decimal       `json:"factor,omitempty"`
	Bonus           decimal.Decimal       `json:"bonus,omitempty"`
}

func (s *Store) SaveRule(ctx context.Context, r *commission.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(ruleConfig{
		Rate:            r.Rate,
		ProductCategory: r.ProductCategory,
		TriggerOn:       r.TriggerOn,
		Tiers:           r.Tiers,
		Threshold:       r.Threshold,
		Factor:          r.Factor,
		Bonus:           r.Bonus,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rule config: %w", err)
	}

	query := `
		INSERT INTO commission_rules
		(id, company_id, name, rule_type, priority, config_json,
		 effective_from, effective_to, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rule_type = excluded.rule_type,
			priority = excluded.priority,
			config_json = excluded.config_json,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			is_active = excluded.is_active
	`

	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.CompanyID, r.Name, r.Type, r.Priority, string(configJSON),
		nullTime(r.EffectiveFrom), nullTime(r.EffectiveTo), r.IsActive,
	)
	return err
}

func (s *Store) ActiveRules(ctx context.Context, companyID quota.CompanyID, asOf time.Time) ([]commission.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, company_id, name, rule_type, priority, config_json,
		       effective_from, effective_to, is_active
		FROM commission_rules
		WHERE company_id = ? AND is_active = TRUE
		ORDER BY priority ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []commission.Rule
	for rows.Next() {
		var (
			r          commission.Rule
			configJSON string
			from       sql.NullString
			to         sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Type, &r.Priority,
			&configJSON, &from, &to, &r.IsActive); err != nil {
			return nil, err
		}
		var cfg ruleConfig
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode rule config: %w", err)
		}
		r.Rate = cfg.Rate
		r.ProductCategory = cfg.ProductCategory
		r.TriggerOn = cfg.TriggerOn
		r.Tiers = cfg.Tiers
		r.Threshold = cfg.Threshold
		r.Factor = cfg.Factor
		r.Bonus = cfg.Bonus
		r.EffectiveFrom = parseNullTime(from)
		r.EffectiveTo = parseNullTime(to)

		if !r.Covers(asOf) {
			continue
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// =============================================================================
// DEAL STORE (commission.DealStore interface)
// =============================================================================

// SaveDeal creates or replaces a deal record.
func (s *Store) SaveDeal(ctx context.Context, d commission.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO deals
		(id, user_id, company_id, amount, stage, close_date, product_category,
		 commission_rate, commission_amount, commission_calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			company_id = excluded.company_id,
			amount = excluded.amount,
			stage = excluded.stage,
			close_date = excluded.close_date,
			product_category = excluded.product_category
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.UserID, d.CompanyID, d.Amount.String(), d.Stage,
		d.CloseDate.Format(dateFormat), d.ProductCategory,
		nullDecimal(d.CommissionRate), nullDecimal(d.CommissionAmount),
		nullTime(d.CommissionCalculatedAt),
	)
	return err
}

func (s *Store) GetDeal(ctx context.Context, id commission.DealID) (*commission.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		d            commission.Deal
		amount       string
		closeDate    string
		category     sql.NullString
		rate         sql.NullString
		commAmount   sql.NullString
		calculatedAt sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, company_id, amount, stage, close_date, product_category,
		       commission_rate, commission_amount, commission_calculated_at
		FROM deals WHERE id = ?`, id,
	).Scan(&d.ID, &d.UserID, &d.CompanyID, &amount, &d.Stage, &closeDate,
		&category, &rate, &commAmount, &calculatedAt)

	if err == sql.ErrNoRows {
		return nil, commission.ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Amount = quota.MustDecimal(amount)
	d.CloseDate, _ = time.Parse(dateFormat, closeDate)
	d.ProductCategory = category.String
	if rate.Valid {
		v := quota.MustDecimal(rate.String)
		d.CommissionRate = &v
	}
	if commAmount.Valid {
		v := quota.MustDecimal(commAmount.String)
		d.CommissionAmount = &v
	}
	d.CommissionCalculatedAt = parseNullTime(calculatedAt)

	return &d, nil
}

func (s *Store) UpdateCommissionSnapshot(ctx context.Context, id commission.DealID, rate, amount decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE deals SET commission_rate = ?, commission_amount = ?, commission_calculated_at = ?
		WHERE id = ?`,
		rate.String(), amount.String(), at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return commission.ErrDealNotFound
	}
	return nil
}

func (s *Store) ClearCommissionSnapshot(ctx context.Context, id commission.DealID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE deals SET commission_rate = NULL, commission_amount = NULL, commission_calculated_at = NULL
		WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return commission.ErrDealNotFound
	}
	return nil
}

// ClosedWonTotal sums closed-won amounts in the period, excluding one deal.
// The two stage spellings are matched in SQL to keep the scan server-side.
func (s *Store) ClosedWonTotal(ctx context.Context, userID quota.UserID, period quota.Period, exclude commission.DealID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT amount FROM deals
		WHERE user_id = ? AND id != ?
		  AND LOWER(TRIM(stage)) IN ('closed won', 'closed_won')
		  AND close_date >= ? AND close_date <= ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, exclude,
		period.Start.Format(dateFormat), period.End.Format(dateFormat))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(quota.MustDecimal(amount))
	}
	return total, rows.Err()
}

// =============================================================================
// USER DIRECTORY (quota.UserDirectory interface)
// =============================================================================

// SaveUser creates or replaces a user record.
func (s *Store) SaveUser(ctx context.Context, u quota.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, company_id, first_name, last_name, hire_date, role, team_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			hire_date = excluded.hire_date,
			role = excluded.role,
			team_id = excluded.team_id
	`

	var hireDate sql.NullString
	if u.HireDate != nil {
		hireDate = sql.NullString{String: u.HireDate.Format(dateFormat), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.CompanyID, u.FirstName, u.LastName, hireDate, u.Role, u.TeamID)
	return err
}

// GetUser retrieves a user by ID, or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id quota.UserID) (*quota.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u        quota.User
		hireDate sql.NullString
		role     sql.NullString
		teamID   sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, first_name, last_name, hire_date, role, team_id FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.CompanyID, &u.FirstName, &u.LastName, &hireDate, &role, &teamID)

	if err == sql.ErrNoRows {
		return nil, quota.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if hireDate.Valid {
		t, _ := time.Parse(dateFormat, hireDate.String)
		u.HireDate = &t
	}
	u.Role = role.String
	u.TeamID = teamID.String
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, companyID quota.CompanyID, filter quota.UserFilter) ([]quota.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, company_id, first_name, last_name, hire_date, role, team_id FROM users WHERE company_id = ?"
	args := []any{companyID}
	if filter.Role != "" {
		query += " AND role = ?"
		args = append(args, filter.Role)
	}
	if filter.TeamID != "" {
		query += " AND team_id = ?"
		args = append(args, filter.TeamID)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []quota.User
	for rows.Next() {
		var (
			u        quota.User
			hireDate sql.NullString
			role     sql.NullString
			teamID   sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.CompanyID, &u.FirstName, &u.LastName,
			&hireDate, &role, &teamID); err != nil {
			return nil, err
		}
		if hireDate.Valid {
			t, _ := time.Parse(dateFormat, hireDate.String)
			u.HireDate = &t
		}
		u.Role = role.String
		u.TeamID = teamID.String
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// PLAN CHECKER (commission.PlanChecker interface)
// =============================================================================

// SetTrialPlan records a company's trial flag.
func (s *Store) SetTrialPlan(ctx context.Context, companyID quota.CompanyID, trial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, is_trial) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET is_trial = excluded.is_trial`,
		companyID, trial)
	return err
}

// IsTrialPlan reports the company's trial flag. Unknown companies are not
// on trial.
func (s *Store) IsTrialPlan(ctx context.Context, companyID quota.CompanyID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trial bool
	err := s.db.QueryRowContext(ctx,
		"SELECT is_trial FROM companies WHERE id = ?", companyID).Scan(&trial)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return trial, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"commission_approvals", "commissions", "commission_rules", "targets", "deals", "users", "companies"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
