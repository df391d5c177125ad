/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All decimal amounts cross the wire as strings ("100000", "0.10") so
  clients never round through float64.

VALIDATION:
  Request types carry validate struct tags checked by go-playground/validator
  before any parsing. Decimal and date parsing happens in the handlers.

SEE ALSO:
  - handlers.go: Uses these types
  - quota/types.go, commission/types.go: Domain model these map onto
*/
package api

import (
	"time"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/quota"
)

const dateFormat = "2006-01-02"

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// USERS
// =============================================================================

type CreateUserRequest struct {
	ID        string `json:"id" validate:"required"`
	CompanyID string `json:"company_id" validate:"required"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	HireDate  string `json:"hire_date,omitempty"`
	Role      string `json:"role,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
}

type UserDTO struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	HireDate  string `json:"hire_date,omitempty"`
	Role      string `json:"role,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
}

func toUserDTO(u quota.User) UserDTO {
	dto := UserDTO{
		ID:        string(u.ID),
		CompanyID: string(u.CompanyID),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		TeamID:    u.TeamID,
	}
	if u.HireDate != nil {
		dto.HireDate = u.HireDate.Format(dateFormat)
	}
	return dto
}

// =============================================================================
// TARGETS AND DISTRIBUTION
// =============================================================================

// SeasonalAllocationDTO assigns a share to a bucket ("Q1".."Q4" or
// "Jan".."Dec"). Exactly one of percent or amount is set.
type SeasonalAllocationDTO struct {
	Bucket  string `json:"bucket" validate:"required"`
	Percent string `json:"percent,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

type CustomAllocationDTO struct {
	PeriodStart string `json:"period_start" validate:"required"`
	PeriodEnd   string `json:"period_end" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
}

type DistributionConfigDTO struct {
	SeasonalGranularity string                  `json:"seasonal_granularity,omitempty" validate:"omitempty,oneof=quarterly monthly"`
	Seasonal            []SeasonalAllocationDTO `json:"seasonal,omitempty" validate:"dive"`
	Custom              []CustomAllocationDTO   `json:"custom,omitempty" validate:"dive"`
}

type CreateTargetRequest struct {
	UserID             string                 `json:"user_id" validate:"required"`
	PeriodType         string                 `json:"period_type" validate:"required,oneof=monthly quarterly annual weekly custom"`
	PeriodStart        string                 `json:"period_start" validate:"required"`
	PeriodEnd          string                 `json:"period_end" validate:"required"`
	QuotaAmount        string                 `json:"quota_amount" validate:"required"`
	CommissionRate     string                 `json:"commission_rate" validate:"required"`
	DistributionMethod string                 `json:"distribution_method" validate:"required,oneof=even seasonal custom one_time"`
	OnConflict         string                 `json:"on_conflict,omitempty" validate:"omitempty,oneof=skip replace concurrent"`
	Config             *DistributionConfigDTO `json:"distribution_config,omitempty"`
}

// BatchTargetRequest distributes the same quota to every matching user.
type BatchTargetRequest struct {
	CompanyID          string                 `json:"company_id" validate:"required"`
	Role               string                 `json:"role,omitempty"`
	TeamID             string                 `json:"team_id,omitempty"`
	PeriodType         string                 `json:"period_type" validate:"required,oneof=monthly quarterly annual weekly custom"`
	PeriodStart        string                 `json:"period_start" validate:"required"`
	PeriodEnd          string                 `json:"period_end" validate:"required"`
	QuotaAmount        string                 `json:"quota_amount" validate:"required"`
	CommissionRate     string                 `json:"commission_rate" validate:"required"`
	DistributionMethod string                 `json:"distribution_method" validate:"required,oneof=even seasonal custom one_time"`
	OnConflict         string                 `json:"on_conflict,omitempty" validate:"omitempty,oneof=skip replace concurrent"`
	Config             *DistributionConfigDTO `json:"distribution_config,omitempty"`
}

// ResolveConflictRequest settles a skip-flagged distribution with an
// explicit decision.
type ResolveConflictRequest struct {
	Decision string              `json:"decision" validate:"required,oneof=replace keep concurrent"`
	Request  CreateTargetRequest `json:"request" validate:"required"`
}

type TargetDTO struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	CompanyID          string `json:"company_id"`
	Name               string `json:"name"`
	PeriodType         string `json:"period_type"`
	PeriodStart        string `json:"period_start"`
	PeriodEnd          string `json:"period_end"`
	QuotaAmount        string `json:"quota_amount"`
	CommissionRate     string `json:"commission_rate"`
	ParentTargetID     string `json:"parent_target_id,omitempty"`
	DistributionMethod string `json:"distribution_method"`
	IsActive           bool   `json:"is_active"`
	CreatedAt          string `json:"created_at"`
}

func toTargetDTO(t quota.Target) TargetDTO {
	dto := TargetDTO{
		ID:                 string(t.ID),
		UserID:             string(t.UserID),
		CompanyID:          string(t.CompanyID),
		Name:               t.Name,
		PeriodType:         string(t.PeriodType),
		PeriodStart:        t.Period.Start.Format(dateFormat),
		PeriodEnd:          t.Period.End.Format(dateFormat),
		QuotaAmount:        t.QuotaAmount.String(),
		CommissionRate:     t.CommissionRate.String(),
		DistributionMethod: string(t.DistributionMethod),
		IsActive:           t.IsActive,
		CreatedAt:          t.CreatedAt.Format(time.RFC3339),
	}
	if t.ParentTargetID != nil {
		dto.ParentTargetID = string(*t.ParentTargetID)
	}
	return dto
}

func toTargetDTOs(targets []quota.Target) []TargetDTO {
	dtos := make([]TargetDTO, len(targets))
	for i, t := range targets {
		dtos[i] = toTargetDTO(t)
	}
	return dtos
}

type ConflictDTO struct {
	UserID      string      `json:"user_id"`
	PeriodStart string      `json:"period_start"`
	PeriodEnd   string      `json:"period_end"`
	Overlapping []TargetDTO `json:"overlapping"`
}

func toConflictDTO(c quota.ConflictError) ConflictDTO {
	return ConflictDTO{
		UserID:      string(c.UserID),
		PeriodStart: c.Requested.Start.Format(dateFormat),
		PeriodEnd:   c.Requested.End.Format(dateFormat),
		Overlapping: toTargetDTOs(c.Overlapping),
	}
}

type DistributionResultDTO struct {
	Parent   *TargetDTO   `json:"parent,omitempty"`
	Children []TargetDTO  `json:"children,omitempty"`
	Replaced []string     `json:"replaced,omitempty"`
	Skipped  bool         `json:"skipped"`
	Conflict *ConflictDTO `json:"conflict,omitempty"`
}

func toDistributionResultDTO(r *quota.DistributionResult) DistributionResultDTO {
	dto := DistributionResultDTO{
		Children: toTargetDTOs(r.Children),
		Skipped:  r.Skipped,
	}
	if r.Parent != nil {
		parent := toTargetDTO(*r.Parent)
		dto.Parent = &parent
	}
	for _, id := range r.Replaced {
		dto.Replaced = append(dto.Replaced, string(id))
	}
	if r.Conflict != nil {
		conflict := toConflictDTO(*r.Conflict)
		dto.Conflict = &conflict
	}
	return dto
}

type BatchResultDTO struct {
	Created   int            `json:"created"`
	Skipped   int            `json:"skipped"`
	Errored   int            `json:"errored"`
	Conflicts []ConflictDTO  `json:"conflicts,omitempty"`
	Failures  []UserErrorDTO `json:"failures,omitempty"`
}

type UserErrorDTO struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

type ProgressDTO struct {
	Target        TargetDTO `json:"target"`
	QuotaAmount   string    `json:"quota_amount"`
	ActualAmount  string    `json:"actual_amount"`
	AttainmentPct string    `json:"attainment_pct"`
}

type BackfillResultDTO struct {
	Examined int  `json:"examined"`
	Renamed  int  `json:"renamed"`
	DryRun   bool `json:"dry_run"`
}

// =============================================================================
// DEALS
// =============================================================================

type CreateDealRequest struct {
	ID              string `json:"id" validate:"required"`
	UserID          string `json:"user_id" validate:"required"`
	CompanyID       string `json:"company_id" validate:"required"`
	Amount          string `json:"amount" validate:"required"`
	Stage           string `json:"stage" validate:"required"`
	CloseDate       string `json:"close_date" validate:"required"`
	ProductCategory string `json:"product_category,omitempty"`
}

type DealDTO struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	CompanyID        string `json:"company_id"`
	Amount           string `json:"amount"`
	Stage            string `json:"stage"`
	CloseDate        string `json:"close_date"`
	ProductCategory  string `json:"product_category,omitempty"`
	CommissionRate   string `json:"commission_rate,omitempty"`
	CommissionAmount string `json:"commission_amount,omitempty"`
}

func toDealDTO(d commission.Deal) DealDTO {
	dto := DealDTO{
		ID:              string(d.ID),
		UserID:          string(d.UserID),
		CompanyID:       string(d.CompanyID),
		Amount:          d.Amount.String(),
		Stage:           d.Stage,
		CloseDate:       d.CloseDate.Format(dateFormat),
		ProductCategory: d.ProductCategory,
	}
	if d.CommissionRate != nil {
		dto.CommissionRate = d.CommissionRate.String()
	}
	if d.CommissionAmount != nil {
		dto.CommissionAmount = d.CommissionAmount.String()
	}
	return dto
}

// StageChangeRequest is the deal-subsystem webhook payload.
type StageChangeRequest struct {
	OldStage string `json:"old_stage"`
	NewStage string `json:"new_stage" validate:"required"`
}

type CalculateRequest struct {
	Recalculate      bool `json:"recalculate,omitempty"`
	UseAdvancedRules bool `json:"use_advanced_rules,omitempty"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

type CommissionDTO struct {
	ID               string                        `json:"id"`
	DealID           string                        `json:"deal_id"`
	UserID           string                        `json:"user_id"`
	CompanyID        string                        `json:"company_id"`
	TargetID         string                        `json:"target_id"`
	TargetName       string                        `json:"target_name"`
	PeriodStart      string                        `json:"period_start"`
	PeriodEnd        string                        `json:"period_end"`
	QuotaAmount      string                        `json:"quota_amount"`
	ActualAmount     string                        `json:"actual_amount"`
	AttainmentPct    string                        `json:"attainment_pct"`
	CommissionRate   string                        `json:"commission_rate"`
	CommissionAmount string                        `json:"commission_amount"`
	BaseCommission   string                        `json:"base_commission"`
	OriginalAmount   string                        `json:"original_amount,omitempty"`
	Breakdown        []commission.RuleContribution `json:"breakdown,omitempty"`
	Status           string                        `json:"status"`
	CalculatedAt     string                        `json:"calculated_at"`
	CalculatedBy     string                        `json:"calculated_by"`
	ApprovedAt       string                        `json:"approved_at,omitempty"`
	ApprovedBy       string                        `json:"approved_by,omitempty"`
	PaidAt           string                        `json:"paid_at,omitempty"`
	PaymentReference string                        `json:"payment_reference,omitempty"`
	AdjustmentReason string                        `json:"adjustment_reason,omitempty"`
	Notes            string                        `json:"notes,omitempty"`
}

func toCommissionDTO(c commission.Commission) CommissionDTO {
	dto := CommissionDTO{
		ID:               string(c.ID),
		DealID:           string(c.DealID),
		UserID:           string(c.UserID),
		CompanyID:        string(c.CompanyID),
		TargetID:         string(c.TargetID),
		TargetName:       c.TargetName,
		PeriodStart:      c.Period.Start.Format(dateFormat),
		PeriodEnd:        c.Period.End.Format(dateFormat),
		QuotaAmount:      c.QuotaAmount.String(),
		ActualAmount:     c.ActualAmount.String(),
		AttainmentPct:    c.AttainmentPct.String(),
		CommissionRate:   c.CommissionRate.String(),
		CommissionAmount: c.CommissionAmount.String(),
		BaseCommission:   c.BaseCommission.String(),
		Breakdown:        c.Breakdown,
		Status:           string(c.Status),
		CalculatedAt:     c.CalculatedAt.Format(time.RFC3339),
		CalculatedBy:     c.CalculatedBy,
		ApprovedBy:       c.ApprovedBy,
		PaymentReference: c.PaymentReference,
		AdjustmentReason: c.AdjustmentReason,
		Notes:            c.Notes,
	}
	if c.OriginalAmount != nil {
		dto.OriginalAmount = c.OriginalAmount.String()
	}
	if c.ApprovedAt != nil {
		dto.ApprovedAt = c.ApprovedAt.Format(time.RFC3339)
	}
	if c.PaidAt != nil {
		dto.PaidAt = c.PaidAt.Format(time.RFC3339)
	}
	return dto
}

func toCommissionDTOs(commissions []commission.Commission) []CommissionDTO {
	dtos := make([]CommissionDTO, len(commissions))
	for i, c := range commissions {
		dtos[i] = toCommissionDTO(c)
	}
	return dtos
}

type ApprovalDTO struct {
	ID             string         `json:"id"`
	CommissionID   string         `json:"commission_id"`
	Action         string         `json:"action"`
	PerformedBy    string         `json:"performed_by"`
	PerformedAt    string         `json:"performed_at"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	NewStatus      string         `json:"new_status"`
	Notes          string         `json:"notes,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func toApprovalDTOs(approvals []commission.Approval) []ApprovalDTO {
	dtos := make([]ApprovalDTO, len(approvals))
	for i, a := range approvals {
		dtos[i] = ApprovalDTO{
			ID:             a.ID,
			CommissionID:   string(a.CommissionID),
			Action:         string(a.Action),
			PerformedBy:    a.PerformedBy,
			PerformedAt:    a.PerformedAt.Format(time.RFC3339),
			PreviousStatus: string(a.PreviousStatus),
			NewStatus:      string(a.NewStatus),
			Notes:          a.Notes,
			Metadata:       a.Metadata,
		}
	}
	return dtos
}

// TransitionRequest carries the action-specific parameters of a lifecycle
// transition. The action itself comes from the URL.
type TransitionRequest struct {
	Notes            string `json:"notes,omitempty"`
	AdjustedAmount   string `json:"adjusted_amount,omitempty"`
	AdjustmentReason string `json:"adjustment_reason,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

// =============================================================================
// RULES
// =============================================================================

type RuleTierDTO struct {
	ThresholdMin string `json:"threshold_min" validate:"required"`
	ThresholdMax string `json:"threshold_max,omitempty"`
	Rate         string `json:"rate" validate:"required"`
}

type CreateRuleRequest struct {
	ID              string        `json:"id,omitempty"`
	CompanyID       string        `json:"company_id" validate:"required"`
	Name            string        `json:"name" validate:"required"`
	Type            string        `json:"type" validate:"required,oneof=base_rate tiered bonus accelerator product_rate"`
	Priority        int           `json:"priority"`
	Rate            string        `json:"rate,omitempty"`
	ProductCategory string        `json:"product_category,omitempty"`
	TriggerOn       string        `json:"trigger_on,omitempty" validate:"omitempty,oneof=attainment cumulative_sales"`
	Tiers           []RuleTierDTO `json:"tiers,omitempty" validate:"dive"`
	Threshold       string        `json:"threshold,omitempty"`
	Factor          string        `json:"factor,omitempty"`
	Bonus           string        `json:"bonus,omitempty"`
	EffectiveFrom   string        `json:"effective_from,omitempty"`
	EffectiveTo     string        `json:"effective_to,omitempty"`
}

// =============================================================================
// REPORTING
// =============================================================================

type AggregatedRowDTO struct {
	UserID        string   `json:"user_id"`
	PeriodStart   string   `json:"period_start"`
	PeriodEnd     string   `json:"period_end"`
	Label         string   `json:"label"`
	QuotaAmount   string   `json:"quota_amount"`
	ActualAmount  string   `json:"actual_amount"`
	AttainmentPct string   `json:"attainment_pct"`
	SourceTargets []string `json:"source_targets"`
}

func toAggregatedRowDTOs(rows []quota.AggregatedRow) []AggregatedRowDTO {
	dtos := make([]AggregatedRowDTO, len(rows))
	for i, r := range rows {
		sources := make([]string, len(r.SourceTargets))
		for j, id := range r.SourceTargets {
			sources[j] = string(id)
		}
		dtos[i] = AggregatedRowDTO{
			UserID:        string(r.UserID),
			PeriodStart:   r.Period.Start.Format(dateFormat),
			PeriodEnd:     r.Period.End.Format(dateFormat),
			Label:         r.Label,
			QuotaAmount:   r.QuotaAmount.String(),
			ActualAmount:  r.ActualAmount.String(),
			AttainmentPct: r.AttainmentPct.String(),
			SourceTargets: sources,
		}
	}
	return dtos
}

// =============================================================================
// COMPANIES
// =============================================================================

type PlanRequest struct {
	Trial bool `json:"trial"`
}
