package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
)

// ListOpenLeads returns non-terminal leads created within [start, end]
// with their downstream opportunity count and owner attribution.
func (s *Store) ListOpenLeads(ctx context.Context, start, end time.Time) ([]models.LeadSnapshot, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT l.id, l.lead_code, l.name, l.status, l.created_at,
			(SELECT COUNT(*) FROM opportunities o WHERE o.lead_id = l.id),
			u.id, u.name, u.department
		FROM leads l
		LEFT JOIN users u ON u.id = l.owner_id
		WHERE l.status NOT IN ('CONVERTED', 'INVALID')
			AND l.created_at::date BETWEEN $1 AND $2
		ORDER BY l.created_at ASC, l.id ASC
	`, dateArg(start), dateArg(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LeadSnapshot
	for rows.Next() {
		var l models.LeadSnapshot
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &l.Status, &l.CreatedAt, &l.OpportunityCount, &l.OwnerID, &l.OwnerName, &l.OwnerDepartment); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListOpenOpportunities returns non-terminal opportunities created within
// [start, end] with their quote count.
func (s *Store) ListOpenOpportunities(ctx context.Context, start, end time.Time) ([]models.OpportunitySnapshot, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT o.id, o.opp_code, o.name, o.status, o.created_at, o.lead_id,
			(SELECT COUNT(*) FROM quotes q WHERE q.opportunity_id = o.id),
			u.id, u.name, u.department
		FROM opportunities o
		LEFT JOIN users u ON u.id = o.owner_id
		WHERE o.status NOT IN ('CONVERTED', 'LOST', 'CANCELLED')
			AND o.created_at::date BETWEEN $1 AND $2
		ORDER BY o.created_at ASC, o.id ASC
	`, dateArg(start), dateArg(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OpportunitySnapshot
	for rows.Next() {
		var o models.OpportunitySnapshot
		if err := rows.Scan(&o.ID, &o.Code, &o.Name, &o.Status, &o.CreatedAt, &o.LeadID, &o.QuoteCount, &o.OwnerID, &o.OwnerName, &o.OwnerDepartment); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOpenQuotes returns non-terminal quotes dated within [start, end]
// with their contract count and the originating lead for cost lookups.
func (s *Store) ListOpenQuotes(ctx context.Context, start, end time.Time) ([]models.QuoteSnapshot, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT q.id, q.quote_no, q.customer_name, q.status, q.quote_date,
			COALESCE(q.total_amount, 0)::text, o.lead_id,
			(SELECT COUNT(*) FROM contracts c WHERE c.quote_id = q.id),
			u.id, u.name, u.department
		FROM quotes q
		LEFT JOIN opportunities o ON o.id = q.opportunity_id
		LEFT JOIN users u ON u.id = q.owner_id
		WHERE q.status NOT IN ('ACCEPTED', 'REJECTED', 'CANCELLED')
			AND q.quote_date BETWEEN $1 AND $2
		ORDER BY q.quote_date ASC, q.id ASC
	`, dateArg(start), dateArg(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QuoteSnapshot
	for rows.Next() {
		var q models.QuoteSnapshot
		var amount string
		if err := rows.Scan(&q.ID, &q.QuoteNo, &q.CustomerName, &q.Status, &q.QuoteDate, &amount, &q.LeadID, &q.ContractCount, &q.OwnerID, &q.OwnerName, &q.OwnerDepartment); err != nil {
			return nil, err
		}
		q.TotalAmount = parseAmount(amount)
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListOpenContracts returns signed, non-terminated contracts with their
// project count.
func (s *Store) ListOpenContracts(ctx context.Context, start, end time.Time) ([]models.ContractSnapshot, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT c.id, c.contract_no, c.name, c.status, c.signed_date,
			COALESCE(c.amount, 0)::text,
			(SELECT COUNT(*) FROM projects p WHERE p.contract_id = c.id),
			u.id, u.name, u.department
		FROM contracts c
		LEFT JOIN users u ON u.id = c.owner_id
		WHERE c.status NOT IN ('TERMINATED', 'CANCELLED')
			AND c.signed_date BETWEEN $1 AND $2
		ORDER BY c.signed_date ASC, c.id ASC
	`, dateArg(start), dateArg(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ContractSnapshot
	for rows.Next() {
		var c models.ContractSnapshot
		var amount string
		if err := rows.Scan(&c.ID, &c.ContractNo, &c.Name, &c.Status, &c.SignedDate, &amount, &c.ProjectCount, &c.OwnerID, &c.OwnerName, &c.OwnerDepartment); err != nil {
			return nil, err
		}
		c.Amount = parseAmount(amount)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCompletedMilestones returns milestones completed within [start,
// end] together with whether an invoice references them. The project
// manager is the responsible person.
func (s *Store) ListCompletedMilestones(ctx context.Context, start, end time.Time) ([]models.MilestoneSnapshot, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT m.id, p.id, p.project_code, p.name, m.name, m.completed_at,
			EXISTS(SELECT 1 FROM invoices i WHERE i.milestone_id = m.id),
			u.id, u.name, u.department
		FROM project_milestones m
		JOIN projects p ON p.id = m.project_id
		LEFT JOIN users u ON u.id = p.pm_id
		WHERE m.status = 'COMPLETED'
			AND m.completed_at::date BETWEEN $1 AND $2
		ORDER BY m.completed_at ASC, m.id ASC
	`, dateArg(start), dateArg(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MilestoneSnapshot
	for rows.Next() {
		var m models.MilestoneSnapshot
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.ProjectCode, &m.ProjectName, &m.Name, &m.CompletedAt, &m.Invoiced, &m.OwnerID, &m.OwnerName, &m.OwnerDepartment); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListOpenInvoices returns non-cancelled invoices issued within [start,
// end] with their paid amounts.
func (s *Store) ListOpenInvoices(ctx context.Context, start, end time.Time) ([]models.InvoiceSnapshot, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT i.id, i.invoice_no, COALESCE(p.name, ''), i.status, i.issue_date, i.due_date,
			COALESCE(i.amount, 0)::text, COALESCE(i.paid_amount, 0)::text,
			u.id, u.name, u.department
		FROM invoices i
		LEFT JOIN projects p ON p.id = i.project_id
		LEFT JOIN users u ON u.id = i.owner_id
		WHERE i.status <> 'CANCELLED'
			AND i.issue_date BETWEEN $1 AND $2
		ORDER BY i.issue_date ASC, i.id ASC
	`, dateArg(start), dateArg(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.InvoiceSnapshot
	for rows.Next() {
		var inv models.InvoiceSnapshot
		var amount, paid string
		if err := rows.Scan(&inv.ID, &inv.InvoiceNo, &inv.ProjectName, &inv.Status, &inv.IssueDate, &inv.DueDate, &amount, &paid, &inv.OwnerID, &inv.OwnerName, &inv.OwnerDepartment); err != nil {
			return nil, err
		}
		inv.Amount = parseAmount(amount)
		inv.PaidAmount = parseAmount(paid)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SunkLaborCost sums timesheet hours times the user's rate effective at
// the work date, over every project reachable from the lead through its
// opportunities, quotes and contracts. A lead with no downstream chain
// sums to zero.
func (s *Store) SunkLaborCost(ctx context.Context, leadID int64) (decimal.Decimal, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ts.hours * COALESCE(r.hourly_rate, 0)), 0)::text
		FROM opportunities o
		JOIN quotes q ON q.opportunity_id = o.id
		JOIN contracts c ON c.quote_id = q.id
		JOIN projects p ON p.contract_id = c.id
		JOIN timesheets ts ON ts.project_id = p.id
		LEFT JOIN LATERAL (
			SELECT ur.hourly_rate
			FROM user_rates ur
			WHERE ur.user_id = ts.user_id AND ur.effective_date <= ts.work_date
			ORDER BY ur.effective_date DESC
			LIMIT 1
		) r ON true
		WHERE o.lead_id = $1
	`, leadID)

	var total string
	if err := row.Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return parseAmount(total), nil
}
