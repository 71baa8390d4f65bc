package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/db"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
)

// proxyCostRate is the share of quote value assumed lost to friction when
// a quote stalls before contract signing.
var proxyCostRate = decimal.NewFromFloat(0.10)

const topPeoplePerStage = 20

// CostedBreak pairs a break record with its estimated cost impact.
type CostedBreak struct {
	Stage  models.BreakStage `json:"stage"`
	Record BreakRecord       `json:"record"`
	Cost   decimal.Decimal   `json:"cost"`
}

type PersonTotal struct {
	PersonID       int64                     `json:"person_id"`
	PersonName     string                    `json:"person_name"`
	Department     string                    `json:"department"`
	BreakCount     int                       `json:"break_count"`
	CostImpact     decimal.Decimal           `json:"cost_impact"`
	StageBreakdown map[models.BreakStage]int `json:"stage_breakdown,omitempty"`
}

type DepartmentTotal struct {
	Department string          `json:"department"`
	BreakCount int             `json:"break_count"`
	CostImpact decimal.Decimal `json:"cost_impact"`
}

type StageAccountability struct {
	BreakCount  int               `json:"break_count"`
	People      []PersonTotal     `json:"people"`
	Departments []DepartmentTotal `json:"departments"`
}

type StageAccountabilityReport struct {
	AnalysisPeriod Period                                    `json:"analysis_period"`
	Stages         map[models.BreakStage]StageAccountability `json:"stages"`
}

type PersonAccountabilityReport struct {
	AnalysisPeriod Period        `json:"analysis_period"`
	People         []PersonTotal `json:"people"`
}

type DepartmentAccountabilityReport struct {
	AnalysisPeriod Period            `json:"analysis_period"`
	Departments    []DepartmentTotal `json:"departments"`
}

type PersonCost struct {
	PersonName string          `json:"person_name"`
	CostImpact decimal.Decimal `json:"cost_impact"`
}

type CostImpactReport struct {
	AnalysisPeriod Period                              `json:"analysis_period"`
	TotalCost      decimal.Decimal                     `json:"total_cost"`
	TotalBreaks    int                                 `json:"total_breaks"`
	ByStage        map[models.BreakStage]decimal.Decimal `json:"by_stage"`
	ByPerson       []PersonCost                        `json:"by_person"`
}

// AccountabilityService re-aggregates break records by responsible
// person and department and attaches an estimated monetary cost impact.
type AccountabilityService struct {
	Breaks *BreakAnalysisService
	Store  *db.Store
	Logger zerolog.Logger
}

func (s *AccountabilityService) collect(ctx context.Context, start, end time.Time) ([]CostedBreak, Period, error) {
	report, err := s.Breaks.AnalyzePipelineBreaks(ctx, start, end, "")
	if err != nil {
		return nil, Period{}, err
	}

	costed := []CostedBreak{}
	for _, stage := range models.AllBreakStages {
		for _, rec := range report.Breaks[stage].BreakRecords {
			cost, err := s.costForRecord(ctx, stage, rec)
			if err != nil {
				return nil, Period{}, err
			}
			costed = append(costed, CostedBreak{Stage: stage, Record: rec, Cost: cost})
		}
	}
	return costed, report.AnalysisPeriod, nil
}

// costForRecord estimates the money lost to one break. Early-funnel
// breaks are priced at sunk labor on whatever the lead's opportunities
// produced; stalled quotes at a fixed share of quote value. The
// CONTRACT_TO_PROJECT stage currently yields zero pending a confirmed
// cost formula. Missing relations always contribute zero, never an error.
func (s *AccountabilityService) costForRecord(ctx context.Context, stage models.BreakStage, rec BreakRecord) (decimal.Decimal, error) {
	switch stage {
	case models.StageLeadToOpp, models.StageOppToQuote:
		if rec.LeadID == nil {
			return decimal.Zero, nil
		}
		return s.Store.SunkLaborCost(ctx, *rec.LeadID)
	case models.StageQuoteToContract:
		return ProxyCost(rec), nil
	default:
		return decimal.Zero, nil
	}
}

// ProxyCost is the opportunity-cost estimate for a stalled quote.
func ProxyCost(rec BreakRecord) decimal.Decimal {
	if rec.QuoteTotal == nil {
		return decimal.Zero
	}
	return rec.QuoteTotal.Mul(proxyCostRate)
}

// AnalyzeByStage groups each stage's break records by responsible person
// and department. People are capped at the top 20 per stage by cost.
func (s *AccountabilityService) AnalyzeByStage(ctx context.Context, start, end time.Time) (StageAccountabilityReport, error) {
	costed, period, err := s.collect(ctx, start, end)
	if err != nil {
		return StageAccountabilityReport{}, err
	}
	return GroupByStage(costed, period), nil
}

// AnalyzeByPerson flattens all stages into one total per person with a
// per-stage breakdown, sorted by cost impact descending.
func (s *AccountabilityService) AnalyzeByPerson(ctx context.Context, start, end time.Time) (PersonAccountabilityReport, error) {
	costed, period, err := s.collect(ctx, start, end)
	if err != nil {
		return PersonAccountabilityReport{}, err
	}
	return PersonAccountabilityReport{AnalysisPeriod: period, People: AggregateByPerson(costed)}, nil
}

// AnalyzeByDepartment re-derives department totals from the by-person
// aggregation, which keeps the two views consistent by construction.
func (s *AccountabilityService) AnalyzeByDepartment(ctx context.Context, start, end time.Time) (DepartmentAccountabilityReport, error) {
	byPerson, err := s.AnalyzeByPerson(ctx, start, end)
	if err != nil {
		return DepartmentAccountabilityReport{}, err
	}
	return DepartmentAccountabilityReport{
		AnalysisPeriod: byPerson.AnalysisPeriod,
		Departments:    DeriveDepartments(byPerson.People),
	}, nil
}

// AnalyzeCostImpact reports global, per-stage and per-person cost totals.
// The person list keeps first-encountered order and caps at 20 entries.
func (s *AccountabilityService) AnalyzeCostImpact(ctx context.Context, start, end time.Time) (CostImpactReport, error) {
	costed, period, err := s.collect(ctx, start, end)
	if err != nil {
		return CostImpactReport{}, err
	}
	return CostImpact(costed, period), nil
}

func GroupByStage(costed []CostedBreak, period Period) StageAccountabilityReport {
	report := StageAccountabilityReport{
		AnalysisPeriod: period,
		Stages:         map[models.BreakStage]StageAccountability{},
	}
	for _, stage := range models.AllBreakStages {
		people := map[int64]*PersonTotal{}
		departments := map[string]*DepartmentTotal{}
		count := 0
		for _, cb := range costed {
			if cb.Stage != stage {
				continue
			}
			count++
			addPerson(people, cb, false)
			addDepartment(departments, cb)
		}
		acc := StageAccountability{
			BreakCount:  count,
			People:      sortPeopleByCost(people),
			Departments: sortDepartmentsByCost(departments),
		}
		if len(acc.People) > topPeoplePerStage {
			acc.People = acc.People[:topPeoplePerStage]
		}
		report.Stages[stage] = acc
	}
	return report
}

func AggregateByPerson(costed []CostedBreak) []PersonTotal {
	people := map[int64]*PersonTotal{}
	for _, cb := range costed {
		addPerson(people, cb, true)
	}
	return sortPeopleByCost(people)
}

func DeriveDepartments(people []PersonTotal) []DepartmentTotal {
	departments := map[string]*DepartmentTotal{}
	for _, p := range people {
		dep := departments[p.Department]
		if dep == nil {
			dep = &DepartmentTotal{Department: p.Department, CostImpact: decimal.Zero}
			departments[p.Department] = dep
		}
		dep.BreakCount += p.BreakCount
		dep.CostImpact = dep.CostImpact.Add(p.CostImpact)
	}
	return sortDepartmentsByCost(departments)
}

func CostImpact(costed []CostedBreak, period Period) CostImpactReport {
	report := CostImpactReport{
		AnalysisPeriod: period,
		TotalCost:      decimal.Zero,
		ByStage:        map[models.BreakStage]decimal.Decimal{},
		ByPerson:       []PersonCost{},
	}
	seen := map[string]int{}
	for _, cb := range costed {
		report.TotalBreaks++
		report.TotalCost = report.TotalCost.Add(cb.Cost)

		stageCost, ok := report.ByStage[cb.Stage]
		if !ok {
			stageCost = decimal.Zero
		}
		report.ByStage[cb.Stage] = stageCost.Add(cb.Cost)

		if cb.Record.ResponsiblePersonName == nil {
			continue
		}
		name := *cb.Record.ResponsiblePersonName
		if idx, ok := seen[name]; ok {
			report.ByPerson[idx].CostImpact = report.ByPerson[idx].CostImpact.Add(cb.Cost)
			continue
		}
		if len(report.ByPerson) >= topPeoplePerStage {
			continue
		}
		seen[name] = len(report.ByPerson)
		report.ByPerson = append(report.ByPerson, PersonCost{PersonName: name, CostImpact: cb.Cost})
	}
	return report
}

// addPerson folds one costed break into the per-person map. Records with
// no responsible person stay in stage and global totals but are not
// attributed to anyone.
func addPerson(people map[int64]*PersonTotal, cb CostedBreak, withBreakdown bool) {
	if cb.Record.ResponsiblePersonID == nil {
		return
	}
	id := *cb.Record.ResponsiblePersonID
	p := people[id]
	if p == nil {
		p = &PersonTotal{PersonID: id, CostImpact: decimal.Zero}
		if cb.Record.ResponsiblePersonName != nil {
			p.PersonName = *cb.Record.ResponsiblePersonName
		}
		if cb.Record.Department != nil {
			p.Department = *cb.Record.Department
		}
		if withBreakdown {
			p.StageBreakdown = map[models.BreakStage]int{}
		}
		people[id] = p
	}
	p.BreakCount++
	p.CostImpact = p.CostImpact.Add(cb.Cost)
	if withBreakdown {
		p.StageBreakdown[cb.Stage]++
	}
}

func addDepartment(departments map[string]*DepartmentTotal, cb CostedBreak) {
	if cb.Record.Department == nil {
		return
	}
	name := *cb.Record.Department
	dep := departments[name]
	if dep == nil {
		dep = &DepartmentTotal{Department: name, CostImpact: decimal.Zero}
		departments[name] = dep
	}
	dep.BreakCount++
	dep.CostImpact = dep.CostImpact.Add(cb.Cost)
}

func sortPeopleByCost(people map[int64]*PersonTotal) []PersonTotal {
	out := make([]PersonTotal, 0, len(people))
	for _, p := range people {
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CostImpact.Equal(out[j].CostImpact) {
			return out[i].PersonID < out[j].PersonID
		}
		return out[i].CostImpact.GreaterThan(out[j].CostImpact)
	})
	return out
}

func sortDepartmentsByCost(departments map[string]*DepartmentTotal) []DepartmentTotal {
	out := make([]DepartmentTotal, 0, len(departments))
	for _, d := range departments {
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CostImpact.Equal(out[j].CostImpact) {
			return out[i].Department < out[j].Department
		}
		return out[i].CostImpact.GreaterThan(out[j].CostImpact)
	})
	return out
}
