package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/db"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
)

const (
	LeadStatusConverted = "CONVERTED"
	LeadStatusInvalid   = "INVALID"

	PipelineTypeLead        = "lead"
	PipelineTypeOpportunity = "opportunity"
	PipelineTypeQuote       = "quote"
	PipelineTypeContract    = "contract"
	PipelineTypeMilestone   = "milestone"
	PipelineTypeInvoice     = "invoice"
)

// DefaultMaxBreakRecords caps break_records per stage to keep report
// payloads bounded. Totals and break counts always reflect the full set.
const DefaultMaxBreakRecords = 50

// DefaultAnalysisWindowDays is applied when the caller omits start_date.
const DefaultAnalysisWindowDays = 365

// BreakThresholdDays is the per-stage staleness threshold. The cutoff
// comparison is strict: an entity aged exactly the threshold is not yet
// a break, and not a warning either since zero days remain.
var BreakThresholdDays = map[models.BreakStage]int{
	models.StageLeadToOpp:       30,
	models.StageOppToQuote:      60,
	models.StageQuoteToContract: 90,
	models.StageContractToProj:  30,
	models.StageProjToInvoice:   30,
	models.StageInvoiceToPay:    30,
}

var stagePipelineType = map[models.BreakStage]string{
	models.StageLeadToOpp:       PipelineTypeLead,
	models.StageOppToQuote:      PipelineTypeOpportunity,
	models.StageQuoteToContract: PipelineTypeQuote,
	models.StageContractToProj:  PipelineTypeContract,
	models.StageProjToInvoice:   PipelineTypeMilestone,
	models.StageInvoiceToPay:    PipelineTypeInvoice,
}

// BreakRecord is a transient view of one stalled pipeline entity. It is
// recomputed on every analysis call and never persisted.
type BreakRecord struct {
	PipelineID            int64              `json:"pipeline_id"`
	PipelineCode          string             `json:"pipeline_code"`
	PipelineName          string             `json:"pipeline_name"`
	PipelineType          string             `json:"pipeline_type"`
	BreakStage            models.BreakStage  `json:"break_stage"`
	BreakDate             time.Time          `json:"break_date"`
	DaysSinceBreak        int                `json:"days_since_break"`
	ResponsiblePersonID   *int64             `json:"responsible_person_id"`
	ResponsiblePersonName *string            `json:"responsible_person_name"`
	Department            *string            `json:"department,omitempty"`
	LeadID                *int64             `json:"lead_id,omitempty"`
	QuoteTotal            *decimal.Decimal   `json:"quote_total,omitempty"`
	ContractAmount        *decimal.Decimal   `json:"contract_amount,omitempty"`
	InvoiceAmount         *decimal.Decimal   `json:"invoice_amount,omitempty"`
	UnpaidAmount          *decimal.Decimal   `json:"unpaid_amount,omitempty"`
}

type StageResult struct {
	Total        int           `json:"total"`
	BreakCount   int           `json:"break_count"`
	BreakRecords []BreakRecord `json:"break_records"`
}

type StageRate struct {
	Total      int     `json:"total"`
	BreakCount int     `json:"break_count"`
	BreakRate  float64 `json:"break_rate"`
}

type StageRank struct {
	Stage      models.BreakStage `json:"stage"`
	Total      int               `json:"total"`
	BreakCount int               `json:"break_count"`
	BreakRate  float64           `json:"break_rate"`
}

type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type BreakReport struct {
	AnalysisPeriod Period                             `json:"analysis_period"`
	Breaks         map[models.BreakStage]StageResult  `json:"breaks"`
	BreakRates     map[models.BreakStage]StageRate    `json:"break_rates"`
	TopBreakStages []StageRank                        `json:"top_break_stages"`
}

type ReasonReport struct {
	BreakStage string         `json:"break_stage"`
	Reasons    map[string]int `json:"reasons"`
	TopReasons []string       `json:"top_reasons"`
}

type PatternReport struct {
	MostCommonStage    *StageRank     `json:"most_common_stage"`
	TimePatterns       map[string]int `json:"time_patterns"`
	PersonPatterns     map[string]int `json:"person_patterns"`
	DepartmentPatterns map[string]int `json:"department_patterns"`
}

type BreakWarning struct {
	PipelineID            int64             `json:"pipeline_id"`
	PipelineCode          string            `json:"pipeline_code"`
	PipelineName          string            `json:"pipeline_name"`
	PipelineType          string            `json:"pipeline_type"`
	Stage                 models.BreakStage `json:"stage"`
	DaysUntilBreak        int               `json:"days_until_break"`
	ThresholdDays         int               `json:"threshold_days"`
	ResponsiblePersonID   *int64            `json:"responsible_person_id"`
	ResponsiblePersonName *string           `json:"responsible_person_name"`
}

type BreakAnalysisService struct {
	Store      *db.Store
	Logger     zerolog.Logger
	MaxRecords int
	Now        func() time.Time
}

func (s *BreakAnalysisService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *BreakAnalysisService) maxRecords() int {
	if s.MaxRecords > 0 {
		return s.MaxRecords
	}
	return DefaultMaxBreakRecords
}

// AnalyzePipelineBreaks runs every stage detector over [start, end] and
// aggregates per-stage counts, rates and the top three stages by rate.
// Zero time values default to today-365d / today. pipelineType restricts
// the scan to the stage fed by that entity type; an empty or unknown
// value scans all six stages.
func (s *BreakAnalysisService) AnalyzePipelineBreaks(ctx context.Context, start, end time.Time, pipelineType string) (BreakReport, error) {
	today := dateOf(s.now())
	if end.IsZero() {
		end = today
	}
	if start.IsZero() {
		start = today.AddDate(0, 0, -DefaultAnalysisWindowDays)
	}

	report := BreakReport{
		AnalysisPeriod: Period{StartDate: formatDate(start), EndDate: formatDate(end)},
		Breaks:         map[models.BreakStage]StageResult{},
		BreakRates:     map[models.BreakStage]StageRate{},
	}

	for _, stage := range models.AllBreakStages {
		if pipelineType != "" && stagePipelineType[stage] != pipelineType {
			continue
		}
		result, err := s.detectStage(ctx, stage, start, end, today)
		if err != nil {
			return BreakReport{}, err
		}
		report.Breaks[stage] = result
		report.BreakRates[stage] = StageRate{
			Total:      result.Total,
			BreakCount: result.BreakCount,
			BreakRate:  breakRate(result.BreakCount, result.Total),
		}
	}

	report.TopBreakStages = rankStages(report.BreakRates)
	return report, nil
}

func (s *BreakAnalysisService) detectStage(ctx context.Context, stage models.BreakStage, start, end, today time.Time) (StageResult, error) {
	max := s.maxRecords()
	switch stage {
	case models.StageLeadToOpp:
		leads, err := s.Store.ListOpenLeads(ctx, start, end)
		if err != nil {
			return StageResult{}, err
		}
		return DetectLeadBreaks(leads, today, max), nil
	case models.StageOppToQuote:
		opps, err := s.Store.ListOpenOpportunities(ctx, start, end)
		if err != nil {
			return StageResult{}, err
		}
		return DetectOpportunityBreaks(opps, today, max), nil
	case models.StageQuoteToContract:
		quotes, err := s.Store.ListOpenQuotes(ctx, start, end)
		if err != nil {
			return StageResult{}, err
		}
		return DetectQuoteBreaks(quotes, today, max), nil
	case models.StageContractToProj:
		contracts, err := s.Store.ListOpenContracts(ctx, start, end)
		if err != nil {
			return StageResult{}, err
		}
		return DetectContractBreaks(contracts, today, max), nil
	case models.StageProjToInvoice:
		milestones, err := s.Store.ListCompletedMilestones(ctx, start, end)
		if err != nil {
			return StageResult{}, err
		}
		return DetectMilestoneBreaks(milestones, today, max), nil
	default:
		invoices, err := s.Store.ListOpenInvoices(ctx, start, end)
		if err != nil {
			return StageResult{}, err
		}
		return DetectInvoiceBreaks(invoices, today, max), nil
	}
}

// BreakReasons returns the reason-category catalog. Counts are all zero
// until free-text mining lands; callers must not assume otherwise.
func (s *BreakAnalysisService) BreakReasons(stage string) ReasonReport {
	return ReasonReport{
		BreakStage: stage,
		Reasons: map[string]int{
			"customer_need_change": 0,
			"price_mismatch":       0,
			"technical_mismatch":   0,
			"budget":               0,
			"competition":          0,
			"relationship":         0,
			"lead_time":            0,
			"other":                0,
		},
		TopReasons: []string{},
	}
}

// BreakPatterns summarizes a fresh analysis by month, person and
// department. MostCommonStage is nil when no breaks exist in the window.
func (s *BreakAnalysisService) BreakPatterns(ctx context.Context, start, end time.Time) (PatternReport, error) {
	report, err := s.AnalyzePipelineBreaks(ctx, start, end, "")
	if err != nil {
		return PatternReport{}, err
	}

	patterns := PatternReport{
		TimePatterns:       map[string]int{},
		PersonPatterns:     map[string]int{},
		DepartmentPatterns: map[string]int{},
	}
	if len(report.TopBreakStages) > 0 {
		top := report.TopBreakStages[0]
		patterns.MostCommonStage = &top
	}
	for _, stage := range models.AllBreakStages {
		for _, rec := range report.Breaks[stage].BreakRecords {
			patterns.TimePatterns[rec.BreakDate.Format("2006-01")]++
			if rec.ResponsiblePersonName != nil {
				patterns.PersonPatterns[*rec.ResponsiblePersonName]++
			}
			if rec.Department != nil {
				patterns.DepartmentPatterns[*rec.Department]++
			}
		}
	}
	return patterns, nil
}

// BreakWarnings flags leads approaching the LEAD_TO_OPP threshold within
// daysAhead days. The other five stages do not emit warnings yet.
func (s *BreakAnalysisService) BreakWarnings(ctx context.Context, daysAhead int) ([]BreakWarning, error) {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	today := dateOf(s.now())
	threshold := BreakThresholdDays[models.StageLeadToOpp]

	leads, err := s.Store.ListOpenLeads(ctx, today.AddDate(0, 0, -threshold), today)
	if err != nil {
		return nil, err
	}
	return DetectLeadWarnings(leads, today, daysAhead), nil
}

// DetectLeadBreaks flags open leads with no opportunity whose age exceeds
// the LEAD_TO_OPP threshold.
func DetectLeadBreaks(leads []models.LeadSnapshot, today time.Time, maxRecords int) StageResult {
	threshold := BreakThresholdDays[models.StageLeadToOpp]
	cutoff := today.AddDate(0, 0, -threshold)

	result := StageResult{BreakRecords: []BreakRecord{}}
	for _, l := range leads {
		if !leadOpen(l) {
			continue
		}
		result.Total++
		if l.OpportunityCount > 0 {
			continue
		}
		ref := dateOf(l.CreatedAt)
		if !ref.Before(cutoff) {
			continue
		}
		id := l.ID
		appendBreak(&result, BreakRecord{
			PipelineID:            l.ID,
			PipelineCode:          l.Code,
			PipelineName:          l.Name,
			PipelineType:          PipelineTypeLead,
			BreakStage:            models.StageLeadToOpp,
			BreakDate:             ref,
			DaysSinceBreak:        daysBetween(ref, today),
			ResponsiblePersonID:   l.OwnerID,
			ResponsiblePersonName: l.OwnerName,
			Department:            l.OwnerDepartment,
			LeadID:                &id,
		}, maxRecords)
	}
	return result
}

// DetectLeadWarnings flags open leads with no opportunity that will cross
// the LEAD_TO_OPP threshold within daysAhead days.
func DetectLeadWarnings(leads []models.LeadSnapshot, today time.Time, daysAhead int) []BreakWarning {
	threshold := BreakThresholdDays[models.StageLeadToOpp]

	warnings := []BreakWarning{}
	for _, l := range leads {
		if !leadOpen(l) || l.OpportunityCount > 0 {
			continue
		}
		age := daysBetween(dateOf(l.CreatedAt), today)
		remaining := threshold - age
		if remaining <= 0 || remaining > daysAhead {
			continue
		}
		warnings = append(warnings, BreakWarning{
			PipelineID:            l.ID,
			PipelineCode:          l.Code,
			PipelineName:          l.Name,
			PipelineType:          PipelineTypeLead,
			Stage:                 models.StageLeadToOpp,
			DaysUntilBreak:        remaining,
			ThresholdDays:         threshold,
			ResponsiblePersonID:   l.OwnerID,
			ResponsiblePersonName: l.OwnerName,
		})
	}
	return warnings
}

// DetectOpportunityBreaks flags open opportunities with no quote past the
// OPP_TO_QUOTE threshold.
func DetectOpportunityBreaks(opps []models.OpportunitySnapshot, today time.Time, maxRecords int) StageResult {
	threshold := BreakThresholdDays[models.StageOppToQuote]
	cutoff := today.AddDate(0, 0, -threshold)

	result := StageResult{BreakRecords: []BreakRecord{}}
	for _, o := range opps {
		result.Total++
		if o.QuoteCount > 0 {
			continue
		}
		ref := dateOf(o.CreatedAt)
		if !ref.Before(cutoff) {
			continue
		}
		appendBreak(&result, BreakRecord{
			PipelineID:            o.ID,
			PipelineCode:          o.Code,
			PipelineName:          o.Name,
			PipelineType:          PipelineTypeOpportunity,
			BreakStage:            models.StageOppToQuote,
			BreakDate:             ref,
			DaysSinceBreak:        daysBetween(ref, today),
			ResponsiblePersonID:   o.OwnerID,
			ResponsiblePersonName: o.OwnerName,
			Department:            o.OwnerDepartment,
			LeadID:                o.LeadID,
		}, maxRecords)
	}
	return result
}

// DetectQuoteBreaks flags open quotes with no contract past the
// QUOTE_TO_CONTRACT threshold.
func DetectQuoteBreaks(quotes []models.QuoteSnapshot, today time.Time, maxRecords int) StageResult {
	threshold := BreakThresholdDays[models.StageQuoteToContract]
	cutoff := today.AddDate(0, 0, -threshold)

	result := StageResult{BreakRecords: []BreakRecord{}}
	for _, q := range quotes {
		result.Total++
		if q.ContractCount > 0 {
			continue
		}
		ref := dateOf(q.QuoteDate)
		if !ref.Before(cutoff) {
			continue
		}
		total := q.TotalAmount
		appendBreak(&result, BreakRecord{
			PipelineID:            q.ID,
			PipelineCode:          q.QuoteNo,
			PipelineName:          q.CustomerName,
			PipelineType:          PipelineTypeQuote,
			BreakStage:            models.StageQuoteToContract,
			BreakDate:             ref,
			DaysSinceBreak:        daysBetween(ref, today),
			ResponsiblePersonID:   q.OwnerID,
			ResponsiblePersonName: q.OwnerName,
			Department:            q.OwnerDepartment,
			LeadID:                q.LeadID,
			QuoteTotal:            &total,
		}, maxRecords)
	}
	return result
}

// DetectContractBreaks flags signed contracts with no project past the
// CONTRACT_TO_PROJECT threshold.
func DetectContractBreaks(contracts []models.ContractSnapshot, today time.Time, maxRecords int) StageResult {
	threshold := BreakThresholdDays[models.StageContractToProj]
	cutoff := today.AddDate(0, 0, -threshold)

	result := StageResult{BreakRecords: []BreakRecord{}}
	for _, c := range contracts {
		result.Total++
		if c.ProjectCount > 0 {
			continue
		}
		ref := dateOf(c.SignedDate)
		if !ref.Before(cutoff) {
			continue
		}
		amount := c.Amount
		appendBreak(&result, BreakRecord{
			PipelineID:            c.ID,
			PipelineCode:          c.ContractNo,
			PipelineName:          c.Name,
			PipelineType:          PipelineTypeContract,
			BreakStage:            models.StageContractToProj,
			BreakDate:             ref,
			DaysSinceBreak:        daysBetween(ref, today),
			ResponsiblePersonID:   c.OwnerID,
			ResponsiblePersonName: c.OwnerName,
			Department:            c.OwnerDepartment,
			ContractAmount:        &amount,
		}, maxRecords)
	}
	return result
}

// DetectMilestoneBreaks flags completed milestones that have not been
// invoiced within the PROJECT_TO_INVOICE threshold. A project with no
// completed milestone in range contributes nothing to the scan.
func DetectMilestoneBreaks(milestones []models.MilestoneSnapshot, today time.Time, maxRecords int) StageResult {
	threshold := BreakThresholdDays[models.StageProjToInvoice]
	cutoff := today.AddDate(0, 0, -threshold)

	result := StageResult{BreakRecords: []BreakRecord{}}
	for _, m := range milestones {
		result.Total++
		if m.Invoiced {
			continue
		}
		ref := dateOf(m.CompletedAt)
		if !ref.Before(cutoff) {
			continue
		}
		appendBreak(&result, BreakRecord{
			PipelineID:            m.ID,
			PipelineCode:          m.ProjectCode,
			PipelineName:          m.ProjectName + " / " + m.Name,
			PipelineType:          PipelineTypeMilestone,
			BreakStage:            models.StageProjToInvoice,
			BreakDate:             ref,
			DaysSinceBreak:        daysBetween(ref, today),
			ResponsiblePersonID:   m.OwnerID,
			ResponsiblePersonName: m.OwnerName,
			Department:            m.OwnerDepartment,
		}, maxRecords)
	}
	return result
}

// DetectInvoiceBreaks flags issued invoices that are not fully paid past
// the INVOICE_TO_PAYMENT threshold. Fully paid means paid >= amount; the
// reference date is due_date when present, else issue_date.
func DetectInvoiceBreaks(invoices []models.InvoiceSnapshot, today time.Time, maxRecords int) StageResult {
	threshold := BreakThresholdDays[models.StageInvoiceToPay]
	cutoff := today.AddDate(0, 0, -threshold)

	result := StageResult{BreakRecords: []BreakRecord{}}
	for _, inv := range invoices {
		result.Total++
		if inv.PaidAmount.GreaterThanOrEqual(inv.Amount) {
			continue
		}
		refTime := inv.IssueDate
		if inv.DueDate != nil {
			refTime = *inv.DueDate
		}
		ref := dateOf(refTime)
		if !ref.Before(cutoff) {
			continue
		}
		amount := inv.Amount
		unpaid := inv.Amount.Sub(inv.PaidAmount)
		appendBreak(&result, BreakRecord{
			PipelineID:            inv.ID,
			PipelineCode:          inv.InvoiceNo,
			PipelineName:          inv.ProjectName,
			PipelineType:          PipelineTypeInvoice,
			BreakStage:            models.StageInvoiceToPay,
			BreakDate:             ref,
			DaysSinceBreak:        daysBetween(ref, today),
			ResponsiblePersonID:   inv.OwnerID,
			ResponsiblePersonName: inv.OwnerName,
			Department:            inv.OwnerDepartment,
			InvoiceAmount:         &amount,
			UnpaidAmount:          &unpaid,
		}, maxRecords)
	}
	return result
}

func leadOpen(l models.LeadSnapshot) bool {
	return l.Status != LeadStatusConverted && l.Status != LeadStatusInvalid
}

func appendBreak(result *StageResult, rec BreakRecord, maxRecords int) {
	result.BreakCount++
	if len(result.BreakRecords) < maxRecords {
		result.BreakRecords = append(result.BreakRecords, rec)
	}
}

func breakRate(breakCount, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(breakCount)/float64(total)*100*100) / 100
}

func rankStages(rates map[models.BreakStage]StageRate) []StageRank {
	ranks := []StageRank{}
	for _, stage := range models.AllBreakStages {
		rate, ok := rates[stage]
		if !ok || rate.BreakCount == 0 {
			continue
		}
		ranks = append(ranks, StageRank{
			Stage:      stage,
			Total:      rate.Total,
			BreakCount: rate.BreakCount,
			BreakRate:  rate.BreakRate,
		})
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		return ranks[i].BreakRate > ranks[j].BreakRate
	})
	if len(ranks) > 3 {
		ranks = ranks[:3]
	}
	return ranks
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days. Both dates are re-anchored to UTC
// midnights first so a DST transition inside the span cannot shave an
// hour off the difference and undercount by one day.
func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
