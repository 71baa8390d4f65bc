package service

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
)

func ptrInt64(v int64) *int64    { return &v }
func ptrString(v string) *string { return &v }

func costedBreak(stage models.BreakStage, personID int64, name, dept string, cost int64) CostedBreak {
	return CostedBreak{
		Stage: stage,
		Record: BreakRecord{
			ResponsiblePersonID:   ptrInt64(personID),
			ResponsiblePersonName: ptrString(name),
			Department:            ptrString(dept),
		},
		Cost: decimal.NewFromInt(cost),
	}
}

func TestProxyCost(t *testing.T) {
	total := decimal.NewFromInt(10000)
	rec := BreakRecord{QuoteTotal: &total}
	if got := ProxyCost(rec); !got.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 10%% of quote value, got %s", got)
	}
	if got := ProxyCost(BreakRecord{}); !got.IsZero() {
		t.Fatalf("missing quote total must cost zero, got %s", got)
	}
}

func TestAggregateByPerson(t *testing.T) {
	costed := []CostedBreak{
		costedBreak(models.StageLeadToOpp, 1, "Zhang", "Sales", 100),
		costedBreak(models.StageOppToQuote, 1, "Zhang", "Sales", 200),
		costedBreak(models.StageLeadToOpp, 2, "Li", "Sales", 500),
	}
	people := AggregateByPerson(costed)
	if len(people) != 2 {
		t.Fatalf("expected 2 people, got %d", len(people))
	}
	if people[0].PersonName != "Li" || !people[0].CostImpact.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected Li first by cost, got %+v", people[0])
	}
	if people[1].BreakCount != 2 {
		t.Fatalf("expected 2 breaks for Zhang, got %d", people[1].BreakCount)
	}
	if people[1].StageBreakdown[models.StageLeadToOpp] != 1 || people[1].StageBreakdown[models.StageOppToQuote] != 1 {
		t.Fatalf("unexpected stage breakdown %+v", people[1].StageBreakdown)
	}
}

func TestAggregateByPerson_UnattributedSkipped(t *testing.T) {
	costed := []CostedBreak{
		{Stage: models.StageLeadToOpp, Record: BreakRecord{}, Cost: decimal.NewFromInt(100)},
	}
	if people := AggregateByPerson(costed); len(people) != 0 {
		t.Fatalf("records without a responsible person must not be attributed, got %+v", people)
	}
}

func TestDeriveDepartments_ConsistentWithPeople(t *testing.T) {
	people := AggregateByPerson([]CostedBreak{
		costedBreak(models.StageLeadToOpp, 1, "Zhang", "Sales", 100),
		costedBreak(models.StageLeadToOpp, 2, "Li", "Sales", 200),
		costedBreak(models.StageQuoteToContract, 3, "Wang", "PM", 50),
	})
	departments := DeriveDepartments(people)
	if len(departments) != 2 {
		t.Fatalf("expected 2 departments, got %d", len(departments))
	}
	if departments[0].Department != "Sales" || !departments[0].CostImpact.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected Sales first with 300, got %+v", departments[0])
	}

	var peopleTotal, deptTotal decimal.Decimal
	for _, p := range people {
		peopleTotal = peopleTotal.Add(p.CostImpact)
	}
	for _, d := range departments {
		deptTotal = deptTotal.Add(d.CostImpact)
	}
	if !peopleTotal.Equal(deptTotal) {
		t.Fatalf("department totals must equal person totals: %s vs %s", deptTotal, peopleTotal)
	}
}

func TestGroupByStage(t *testing.T) {
	period := Period{StartDate: "2023-06-01", EndDate: "2024-06-01"}
	costed := []CostedBreak{
		costedBreak(models.StageLeadToOpp, 1, "Zhang", "Sales", 100),
		costedBreak(models.StageLeadToOpp, 2, "Li", "Sales", 300),
		costedBreak(models.StageInvoiceToPay, 3, "Wang", "Finance", 0),
	}
	report := GroupByStage(costed, period)
	lead := report.Stages[models.StageLeadToOpp]
	if lead.BreakCount != 2 || len(lead.People) != 2 {
		t.Fatalf("unexpected LEAD_TO_OPP grouping: %+v", lead)
	}
	if lead.People[0].PersonName != "Li" {
		t.Fatalf("people must sort by cost descending, got %+v", lead.People)
	}
	if report.Stages[models.StageOppToQuote].BreakCount != 0 {
		t.Fatalf("stages without breaks must report zero")
	}
}

func TestCostImpact_InsertionOrderAndCap(t *testing.T) {
	costed := []CostedBreak{
		costedBreak(models.StageLeadToOpp, 1, "Zhang", "Sales", 10),
		costedBreak(models.StageOppToQuote, 2, "Li", "Sales", 999),
		costedBreak(models.StageLeadToOpp, 1, "Zhang", "Sales", 5),
	}
	report := CostImpact(costed, Period{})
	if report.TotalBreaks != 3 {
		t.Fatalf("expected 3 breaks, got %d", report.TotalBreaks)
	}
	if !report.TotalCost.Equal(decimal.NewFromInt(1014)) {
		t.Fatalf("expected total 1014, got %s", report.TotalCost)
	}
	// Insertion order, not cost order: Zhang was seen first.
	if report.ByPerson[0].PersonName != "Zhang" || report.ByPerson[1].PersonName != "Li" {
		t.Fatalf("by_person must keep first-encounter order, got %+v", report.ByPerson)
	}
	if !report.ByPerson[0].CostImpact.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected Zhang total 15, got %s", report.ByPerson[0].CostImpact)
	}
	if !report.ByStage[models.StageLeadToOpp].Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected LEAD_TO_OPP stage cost 15, got %s", report.ByStage[models.StageLeadToOpp])
	}
}
