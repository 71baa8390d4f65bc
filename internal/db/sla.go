package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
)

const monitorColumns = `id, ticket_id, policy_id, reported_at,
	response_deadline, resolve_deadline, actual_response_at, actual_resolve_at,
	response_status, resolve_status, response_diff_hours, resolve_diff_hours,
	response_warning_sent, resolve_warning_sent,
	response_warning_sent_at, resolve_warning_sent_at, created_at, updated_at`

func (s *Store) ListActiveSLAPolicies(ctx context.Context) ([]models.SLAPolicy, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, problem_type, urgency, response_time_hours, resolve_time_hours,
			warning_threshold_percent, priority, is_active
		FROM sla_policies
		WHERE is_active
		ORDER BY priority ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SLAPolicy
	for rows.Next() {
		var p models.SLAPolicy
		if err := rows.Scan(&p.ID, &p.Name, &p.ProblemType, &p.Urgency, &p.ResponseTimeHours, &p.ResolveTimeHours, &p.WarningThresholdPercent, &p.Priority, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetSLAPolicy(ctx context.Context, id int64) (*models.SLAPolicy, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, problem_type, urgency, response_time_hours, resolve_time_hours,
			warning_threshold_percent, priority, is_active
		FROM sla_policies
		WHERE id = $1
	`, id)

	var p models.SLAPolicy
	if err := row.Scan(&p.ID, &p.Name, &p.ProblemType, &p.Urgency, &p.ResponseTimeHours, &p.ResolveTimeHours, &p.WarningThresholdPercent, &p.Priority, &p.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (*models.TicketSnapshot, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, ticket_no, problem_type, urgency, status, reported_at, responded_at, resolved_at
		FROM service_tickets
		WHERE id = $1
	`, ticketID)

	var t models.TicketSnapshot
	if err := row.Scan(&t.ID, &t.TicketNo, &t.ProblemType, &t.Urgency, &t.Status, &t.ReportedAt, &t.RespondedAt, &t.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListOpenTickets(ctx context.Context) ([]models.TicketSnapshot, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, ticket_no, problem_type, urgency, status, reported_at, responded_at, resolved_at
		FROM service_tickets
		WHERE status NOT IN ('CLOSED', 'CANCELLED')
		ORDER BY reported_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TicketSnapshot
	for rows.Next() {
		var t models.TicketSnapshot
		if err := rows.Scan(&t.ID, &t.TicketNo, &t.ProblemType, &t.Urgency, &t.Status, &t.ReportedAt, &t.RespondedAt, &t.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetSLAMonitorByTicket(ctx context.Context, ticketID int64) (*models.SLAMonitor, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+monitorColumns+` FROM sla_monitors WHERE ticket_id = $1`, ticketID)
	m, err := scanMonitor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// SaveSLAMonitor upserts by ticket_id and backfills the row ID on insert.
func (s *Store) SaveSLAMonitor(ctx context.Context, m *models.SLAMonitor) error {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO sla_monitors (ticket_id, policy_id, reported_at,
			response_deadline, resolve_deadline, actual_response_at, actual_resolve_at,
			response_status, resolve_status, response_diff_hours, resolve_diff_hours,
			response_warning_sent, resolve_warning_sent,
			response_warning_sent_at, resolve_warning_sent_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())
		ON CONFLICT (ticket_id) DO UPDATE SET
			policy_id = EXCLUDED.policy_id,
			actual_response_at = EXCLUDED.actual_response_at,
			actual_resolve_at = EXCLUDED.actual_resolve_at,
			response_status = EXCLUDED.response_status,
			resolve_status = EXCLUDED.resolve_status,
			response_diff_hours = EXCLUDED.response_diff_hours,
			resolve_diff_hours = EXCLUDED.resolve_diff_hours,
			response_warning_sent = EXCLUDED.response_warning_sent,
			resolve_warning_sent = EXCLUDED.resolve_warning_sent,
			response_warning_sent_at = EXCLUDED.response_warning_sent_at,
			resolve_warning_sent_at = EXCLUDED.resolve_warning_sent_at,
			updated_at = NOW()
		RETURNING id
	`, m.TicketID, m.PolicyID, m.ReportedAt,
		m.ResponseDeadline, m.ResolveDeadline, m.ActualResponseAt, m.ActualResolveAt,
		m.ResponseStatus, m.ResolveStatus, m.ResponseDiffHours, m.ResolveDiffHours,
		m.ResponseWarningSent, m.ResolveWarningSent,
		m.ResponseWarningSentAt, m.ResolveWarningSentAt)
	return row.Scan(&m.ID)
}

// ListUnresolvedSLAMonitors returns monitors with at least one pending
// axis, the candidate set for warning dispatch.
func (s *Store) ListUnresolvedSLAMonitors(ctx context.Context) ([]models.SLAMonitor, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+monitorColumns+`
		FROM sla_monitors
		WHERE actual_response_at IS NULL OR actual_resolve_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SLAMonitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) MarkSLAWarningSent(ctx context.Context, monitorID int64, axis models.SLAAxis, at time.Time) error {
	var column, sentAt string
	switch axis {
	case models.AxisResponse:
		column, sentAt = "response_warning_sent", "response_warning_sent_at"
	case models.AxisResolve:
		column, sentAt = "resolve_warning_sent", "resolve_warning_sent_at"
	default:
		return fmt.Errorf("unknown sla axis %q", axis)
	}
	_, err := s.Pool.Exec(ctx, `UPDATE sla_monitors SET `+column+` = TRUE, `+sentAt+` = $1, updated_at = NOW() WHERE id = $2`, at, monitorID)
	return err
}

func scanMonitor(row pgx.Row) (*models.SLAMonitor, error) {
	var m models.SLAMonitor
	if err := row.Scan(
		&m.ID, &m.TicketID, &m.PolicyID, &m.ReportedAt,
		&m.ResponseDeadline, &m.ResolveDeadline, &m.ActualResponseAt, &m.ActualResolveAt,
		&m.ResponseStatus, &m.ResolveStatus, &m.ResponseDiffHours, &m.ResolveDiffHours,
		&m.ResponseWarningSent, &m.ResolveWarningSent,
		&m.ResponseWarningSentAt, &m.ResolveWarningSentAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}
