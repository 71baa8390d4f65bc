package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BreakStage identifies one of the six funnel transitions tracked by the
// break analysis. The value is the wire name used in reports.
type BreakStage string

const (
	StageLeadToOpp       BreakStage = "LEAD_TO_OPP"
	StageOppToQuote      BreakStage = "OPP_TO_QUOTE"
	StageQuoteToContract BreakStage = "QUOTE_TO_CONTRACT"
	StageContractToProj  BreakStage = "CONTRACT_TO_PROJECT"
	StageProjToInvoice   BreakStage = "PROJECT_TO_INVOICE"
	StageInvoiceToPay    BreakStage = "INVOICE_TO_PAYMENT"
)

// AllBreakStages is the funnel order used for reports.
var AllBreakStages = []BreakStage{
	StageLeadToOpp,
	StageOppToQuote,
	StageQuoteToContract,
	StageContractToProj,
	StageProjToInvoice,
	StageInvoiceToPay,
}

// SLAStatus is the per-axis monitor status.
type SLAStatus string

const (
	SLAOnTime  SLAStatus = "ON_TIME"
	SLAWarning SLAStatus = "WARNING"
	SLAOverdue SLAStatus = "OVERDUE"
)

// SLAAxis selects the response or resolve side of a monitor.
type SLAAxis string

const (
	AxisResponse SLAAxis = "response"
	AxisResolve  SLAAxis = "resolve"
)

// LeadSnapshot is a read-only view of a lead plus its downstream
// opportunity count and owner attribution. Owner fields are nil when the
// lead has no assigned owner.
type LeadSnapshot struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	OpportunityCount int       `json:"opportunity_count"`
	OwnerID          *int64    `json:"owner_id"`
	OwnerName        *string   `json:"owner_name"`
	OwnerDepartment  *string   `json:"owner_department"`
}

type OpportunitySnapshot struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LeadID          *int64    `json:"lead_id"`
	QuoteCount      int       `json:"quote_count"`
	OwnerID         *int64    `json:"owner_id"`
	OwnerName       *string   `json:"owner_name"`
	OwnerDepartment *string   `json:"owner_department"`
}

type QuoteSnapshot struct {
	ID              int64           `json:"id"`
	QuoteNo         string          `json:"quote_no"`
	CustomerName    string          `json:"customer_name"`
	Status          string          `json:"status"`
	QuoteDate       time.Time       `json:"quote_date"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	LeadID          *int64          `json:"lead_id"`
	ContractCount   int             `json:"contract_count"`
	OwnerID         *int64          `json:"owner_id"`
	OwnerName       *string         `json:"owner_name"`
	OwnerDepartment *string         `json:"owner_department"`
}

type ContractSnapshot struct {
	ID              int64           `json:"id"`
	ContractNo      string          `json:"contract_no"`
	Name            string          `json:"name"`
	Status          string          `json:"status"`
	SignedDate      time.Time       `json:"signed_date"`
	Amount          decimal.Decimal `json:"amount"`
	ProjectCount    int             `json:"project_count"`
	OwnerID         *int64          `json:"owner_id"`
	OwnerName       *string         `json:"owner_name"`
	OwnerDepartment *string         `json:"owner_department"`
}

// MilestoneSnapshot is the unit of PROJECT_TO_INVOICE analysis: a
// completed project milestone that may or may not have been invoiced yet.
type MilestoneSnapshot struct {
	ID              int64     `json:"id"`
	ProjectID       int64     `json:"project_id"`
	ProjectCode     string    `json:"project_code"`
	ProjectName     string    `json:"project_name"`
	Name            string    `json:"name"`
	CompletedAt     time.Time `json:"completed_at"`
	Invoiced        bool      `json:"invoiced"`
	OwnerID         *int64    `json:"owner_id"`
	OwnerName       *string   `json:"owner_name"`
	OwnerDepartment *string   `json:"owner_department"`
}

type InvoiceSnapshot struct {
	ID              int64           `json:"id"`
	InvoiceNo       string          `json:"invoice_no"`
	ProjectName     string          `json:"project_name"`
	Status          string          `json:"status"`
	IssueDate       time.Time       `json:"issue_date"`
	DueDate         *time.Time      `json:"due_date"`
	Amount          decimal.Decimal `json:"amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	OwnerID         *int64          `json:"owner_id"`
	OwnerName       *string         `json:"owner_name"`
	OwnerDepartment *string         `json:"owner_department"`
}

// TicketSnapshot is a read-only view of a service ticket, the subject of
// SLA monitoring. RespondedAt/ResolvedAt stay nil until the event occurs.
type TicketSnapshot struct {
	ID          int64      `json:"id"`
	TicketNo    string     `json:"ticket_no"`
	ProblemType string     `json:"problem_type"`
	Urgency     string     `json:"urgency"`
	Status      string     `json:"status"`
	ReportedAt  time.Time  `json:"reported_at"`
	RespondedAt *time.Time `json:"responded_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

// SLAPolicy is an admin-managed configuration row. ProblemType and
// Urgency are nil for wildcard tiers; lower Priority wins within a tier.
type SLAPolicy struct {
	ID                      int64    `json:"id"`
	Name                    string   `json:"name"`
	ProblemType             *string  `json:"problem_type"`
	Urgency                 *string  `json:"urgency"`
	ResponseTimeHours       float64  `json:"response_time_hours"`
	ResolveTimeHours        float64  `json:"resolve_time_hours"`
	WarningThresholdPercent *float64 `json:"warning_threshold_percent"`
	Priority                int      `json:"priority"`
	IsActive                bool     `json:"is_active"`
}

// SLAMonitor is the one-per-ticket tracked record of deadlines and live
// statuses. ReportedAt is denormalized from the ticket so the warning
// window can be computed without re-reading the ticket row.
type SLAMonitor struct {
	ID                    int64      `json:"id"`
	TicketID              int64      `json:"ticket_id"`
	PolicyID              int64      `json:"policy_id"`
	ReportedAt            time.Time  `json:"reported_at"`
	ResponseDeadline      time.Time  `json:"response_deadline"`
	ResolveDeadline       time.Time  `json:"resolve_deadline"`
	ActualResponseAt      *time.Time `json:"actual_response_at"`
	ActualResolveAt       *time.Time `json:"actual_resolve_at"`
	ResponseStatus        SLAStatus  `json:"response_status"`
	ResolveStatus         SLAStatus  `json:"resolve_status"`
	ResponseDiffHours     *float64   `json:"response_diff_hours"`
	ResolveDiffHours      *float64   `json:"resolve_diff_hours"`
	ResponseWarningSent   bool       `json:"response_warning_sent"`
	ResolveWarningSent    bool       `json:"resolve_warning_sent"`
	ResponseWarningSentAt *time.Time `json:"response_warning_sent_at"`
	ResolveWarningSentAt  *time.Time `json:"resolve_warning_sent_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SyncRun records one bulk SLA synchronization pass. Summary holds the
// stored JSON document and renders inline, not base64.
type SyncRun struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Status     string          `json:"status"`
	Summary    json.RawMessage `json:"summary"`
}
