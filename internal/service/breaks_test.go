package service

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
)

var today = time.Date(2024, 6, 1, 0, 0, 0, 0, time.Local)

func daysAgo(n int) time.Time {
	return today.AddDate(0, 0, -n)
}

func TestDetectLeadBreaks_StaleLeadFlagged(t *testing.T) {
	leads := []models.LeadSnapshot{
		{ID: 1, Code: "L-001", Name: "Stale lead", Status: "NEW", CreatedAt: daysAgo(40)},
	}
	res := DetectLeadBreaks(leads, today, DefaultMaxBreakRecords)
	if res.Total != 1 || res.BreakCount != 1 {
		t.Fatalf("expected 1/1, got total=%d break_count=%d", res.Total, res.BreakCount)
	}
	rec := res.BreakRecords[0]
	if rec.DaysSinceBreak != 40 {
		t.Fatalf("expected days_since_break=40, got %d", rec.DaysSinceBreak)
	}
	if rec.BreakStage != models.StageLeadToOpp || rec.PipelineType != PipelineTypeLead {
		t.Fatalf("unexpected record identity: %+v", rec)
	}
}

func TestDetectLeadBreaks_DownstreamArtifactNeverFlagged(t *testing.T) {
	leads := []models.LeadSnapshot{
		{ID: 1, Status: "FOLLOWING", CreatedAt: daysAgo(400), OpportunityCount: 1},
	}
	res := DetectLeadBreaks(leads, today, DefaultMaxBreakRecords)
	if res.Total != 1 || res.BreakCount != 0 {
		t.Fatalf("lead with opportunity must never break, got %+v", res)
	}
}

func TestDetectLeadBreaks_UnderThresholdNotFlagged(t *testing.T) {
	leads := []models.LeadSnapshot{
		{ID: 1, Status: "NEW", CreatedAt: daysAgo(29)},
		{ID: 2, Status: "NEW", CreatedAt: daysAgo(30)},
		{ID: 3, Status: "NEW", CreatedAt: daysAgo(31)},
	}
	res := DetectLeadBreaks(leads, today, DefaultMaxBreakRecords)
	if res.BreakCount != 1 {
		t.Fatalf("only the 31-day lead is past the cutoff, got %d", res.BreakCount)
	}
	if res.BreakRecords[0].PipelineID != 3 {
		t.Fatalf("expected lead 3, got %d", res.BreakRecords[0].PipelineID)
	}
}

func TestDetectLeadBreaks_TerminalStatusSkipped(t *testing.T) {
	leads := []models.LeadSnapshot{
		{ID: 1, Status: LeadStatusConverted, CreatedAt: daysAgo(100)},
		{ID: 2, Status: LeadStatusInvalid, CreatedAt: daysAgo(100)},
	}
	res := DetectLeadBreaks(leads, today, DefaultMaxBreakRecords)
	if res.Total != 0 || res.BreakCount != 0 {
		t.Fatalf("terminal leads must not be scanned, got %+v", res)
	}
}

func TestDetectLeadBreaks_RecordCapDoesNotAffectCounts(t *testing.T) {
	var leads []models.LeadSnapshot
	for i := 0; i < 10; i++ {
		leads = append(leads, models.LeadSnapshot{ID: int64(i + 1), Status: "NEW", CreatedAt: daysAgo(60)})
	}
	res := DetectLeadBreaks(leads, today, 3)
	if len(res.BreakRecords) != 3 {
		t.Fatalf("expected 3 records after truncation, got %d", len(res.BreakRecords))
	}
	if res.Total != 10 || res.BreakCount != 10 {
		t.Fatalf("cap must not affect counts, got total=%d break_count=%d", res.Total, res.BreakCount)
	}
}

func TestDetectLeadBreaks_Deterministic(t *testing.T) {
	leads := []models.LeadSnapshot{
		{ID: 1, Code: "L-001", Status: "NEW", CreatedAt: daysAgo(45)},
		{ID: 2, Code: "L-002", Status: "NEW", CreatedAt: daysAgo(90)},
	}
	first := DetectLeadBreaks(leads, today, DefaultMaxBreakRecords)
	second := DetectLeadBreaks(leads, today, DefaultMaxBreakRecords)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("detection must be deterministic for identical input")
	}
}

func TestDetectInvoiceBreaks_FullyPaidNotFlagged(t *testing.T) {
	due := daysAgo(40)
	invoices := []models.InvoiceSnapshot{
		{ID: 1, InvoiceNo: "INV-1", Status: "ISSUED", IssueDate: daysAgo(60), DueDate: &due,
			Amount: decimal.NewFromInt(10000), PaidAmount: decimal.NewFromInt(10000)},
	}
	res := DetectInvoiceBreaks(invoices, today, DefaultMaxBreakRecords)
	if res.BreakCount != 0 {
		t.Fatalf("fully paid invoice must not break, got %+v", res)
	}
}

func TestDetectInvoiceBreaks_PartiallyPaidFlaggedWithUnpaid(t *testing.T) {
	due := daysAgo(40)
	invoices := []models.InvoiceSnapshot{
		{ID: 1, InvoiceNo: "INV-1", Status: "ISSUED", IssueDate: daysAgo(60), DueDate: &due,
			Amount: decimal.NewFromInt(10000), PaidAmount: decimal.NewFromInt(5000)},
	}
	res := DetectInvoiceBreaks(invoices, today, DefaultMaxBreakRecords)
	if res.BreakCount != 1 {
		t.Fatalf("expected 1 break, got %d", res.BreakCount)
	}
	rec := res.BreakRecords[0]
	if rec.UnpaidAmount == nil || !rec.UnpaidAmount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected unpaid_amount=5000, got %v", rec.UnpaidAmount)
	}
	if rec.DaysSinceBreak != 40 {
		t.Fatalf("reference date must be due_date, got days=%d", rec.DaysSinceBreak)
	}
}

func TestDetectInvoiceBreaks_IssueDateFallback(t *testing.T) {
	invoices := []models.InvoiceSnapshot{
		{ID: 1, Status: "ISSUED", IssueDate: daysAgo(35),
			Amount: decimal.NewFromInt(100), PaidAmount: decimal.Zero},
	}
	res := DetectInvoiceBreaks(invoices, today, DefaultMaxBreakRecords)
	if res.BreakCount != 1 || res.BreakRecords[0].DaysSinceBreak != 35 {
		t.Fatalf("expected issue_date fallback with days=35, got %+v", res)
	}
}

func TestDetectMilestoneBreaks(t *testing.T) {
	milestones := []models.MilestoneSnapshot{
		{ID: 1, ProjectCode: "P-01", ProjectName: "Line A", Name: "FAT", CompletedAt: daysAgo(45)},
		{ID: 2, ProjectCode: "P-01", ProjectName: "Line A", Name: "SAT", CompletedAt: daysAgo(45), Invoiced: true},
		{ID: 3, ProjectCode: "P-02", ProjectName: "Line B", Name: "FAT", CompletedAt: daysAgo(10)},
	}
	res := DetectMilestoneBreaks(milestones, today, DefaultMaxBreakRecords)
	if res.Total != 3 || res.BreakCount != 1 {
		t.Fatalf("expected 3 scanned 1 break, got %+v", res)
	}
	if res.BreakRecords[0].PipelineID != 1 {
		t.Fatalf("expected milestone 1 flagged, got %d", res.BreakRecords[0].PipelineID)
	}
}

func TestDetectQuoteBreaks_CarriesQuoteTotal(t *testing.T) {
	quotes := []models.QuoteSnapshot{
		{ID: 1, QuoteNo: "Q-1", Status: "SENT", QuoteDate: daysAgo(100), TotalAmount: decimal.NewFromInt(50000)},
		{ID: 2, QuoteNo: "Q-2", Status: "SENT", QuoteDate: daysAgo(100), ContractCount: 1},
	}
	res := DetectQuoteBreaks(quotes, today, DefaultMaxBreakRecords)
	if res.BreakCount != 1 {
		t.Fatalf("quote with contract must not break, got %d", res.BreakCount)
	}
	rec := res.BreakRecords[0]
	if rec.QuoteTotal == nil || !rec.QuoteTotal.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected quote_total=50000, got %v", rec.QuoteTotal)
	}
}

func TestDaysBetween_SpringForwardSpan(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	to := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)
	if got := daysBetween(from, to); got != 40 {
		t.Fatalf("calendar distance is 40 days, got %d", got)
	}
}

func TestDetectLeadBreaks_DSTSpanCountsCalendarDays(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	ref := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)
	leads := []models.LeadSnapshot{
		{ID: 1, Code: "L-001", Status: "NEW", CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
	}
	res := DetectLeadBreaks(leads, ref, DefaultMaxBreakRecords)
	if res.BreakCount != 1 {
		t.Fatalf("expected 1 break, got %d", res.BreakCount)
	}
	if got := res.BreakRecords[0].DaysSinceBreak; got != 40 {
		t.Fatalf("expected days_since_break=40 across the DST change, got %d", got)
	}
}

func TestBreakRate(t *testing.T) {
	if got := breakRate(0, 0); got != 0 {
		t.Fatalf("zero total must yield 0, got %v", got)
	}
	if got := breakRate(1, 3); got != 33.33 {
		t.Fatalf("expected 33.33, got %v", got)
	}
	if got := breakRate(3, 3); got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
}

func TestRankStages(t *testing.T) {
	rates := map[models.BreakStage]StageRate{
		models.StageLeadToOpp:       {Total: 10, BreakCount: 2, BreakRate: 20},
		models.StageOppToQuote:      {Total: 10, BreakCount: 5, BreakRate: 50},
		models.StageQuoteToContract: {Total: 10, BreakCount: 3, BreakRate: 30},
		models.StageContractToProj:  {Total: 10, BreakCount: 4, BreakRate: 40},
		models.StageProjToInvoice:   {Total: 5, BreakCount: 0, BreakRate: 0},
	}
	ranks := rankStages(rates)
	if len(ranks) != 3 {
		t.Fatalf("expected top 3, got %d", len(ranks))
	}
	for i := 1; i < len(ranks); i++ {
		if ranks[i].BreakRate > ranks[i-1].BreakRate {
			t.Fatalf("ranks not descending: %+v", ranks)
		}
	}
	if ranks[0].Stage != models.StageOppToQuote {
		t.Fatalf("expected OPP_TO_QUOTE on top, got %s", ranks[0].Stage)
	}
}

func TestRankStages_NoBreaks(t *testing.T) {
	rates := map[models.BreakStage]StageRate{
		models.StageLeadToOpp: {Total: 10, BreakCount: 0, BreakRate: 0},
	}
	if ranks := rankStages(rates); len(ranks) != 0 {
		t.Fatalf("stages without breaks must not rank, got %+v", ranks)
	}
}

func TestDetectLeadWarnings(t *testing.T) {
	leads := []models.LeadSnapshot{
		{ID: 1, Code: "L-1", Status: "NEW", CreatedAt: daysAgo(25)},
		{ID: 2, Code: "L-2", Status: "NEW", CreatedAt: daysAgo(10)},
		{ID: 3, Code: "L-3", Status: "NEW", CreatedAt: daysAgo(31)},
		{ID: 4, Code: "L-4", Status: "NEW", CreatedAt: daysAgo(26), OpportunityCount: 2},
	}
	warnings := DetectLeadWarnings(leads, today, 7)
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %+v", warnings)
	}
	w := warnings[0]
	if w.PipelineID != 1 || w.DaysUntilBreak != 5 {
		t.Fatalf("expected lead 1 with 5 days until break, got %+v", w)
	}
	if w.ThresholdDays != BreakThresholdDays[models.StageLeadToOpp] {
		t.Fatalf("unexpected threshold %d", w.ThresholdDays)
	}
}

func TestDetectLeadWarnings_BoundaryAtThreshold(t *testing.T) {
	leads := []models.LeadSnapshot{
		{ID: 1, Status: "NEW", CreatedAt: daysAgo(30)},
	}
	if warnings := DetectLeadWarnings(leads, today, 7); len(warnings) != 0 {
		t.Fatalf("lead exactly at threshold has no positive days_until_break: %+v", warnings)
	}
}
