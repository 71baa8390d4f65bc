package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/db"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
)

// SLAService owns the per-ticket monitor rows: it matches policies,
// derives deadlines and keeps both axis statuses in sync with ticket
// lifecycle events.
type SLAService struct {
	Store  *db.Store
	Logger zerolog.Logger
	Now    func() time.Time
}

func (s *SLAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SyncSummary reports one bulk synchronization pass.
type SyncSummary struct {
	Events []map[string]any `json:"events"`
	Counts map[string]any   `json:"counts"`
}

// MatchPolicy selects the most specific active policy for a ticket's
// problem type and urgency.
func (s *SLAService) MatchPolicy(ctx context.Context, problemType, urgency string) (*models.SLAPolicy, error) {
	policies, err := s.Store.ListActiveSLAPolicies(ctx)
	if err != nil {
		return nil, err
	}
	return MatchSLAPolicy(policies, problemType, urgency), nil
}

// MatchSLAPolicy walks four specificity tiers: exact match, type-only,
// urgency-only, then the generic fallback with both fields null. Within a
// tier the lowest priority number wins. Returns nil when no tier matches.
func MatchSLAPolicy(policies []models.SLAPolicy, problemType, urgency string) *models.SLAPolicy {
	ordered := make([]models.SLAPolicy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	tiers := []func(p models.SLAPolicy) bool{
		func(p models.SLAPolicy) bool {
			return p.ProblemType != nil && *p.ProblemType == problemType && p.Urgency != nil && *p.Urgency == urgency
		},
		func(p models.SLAPolicy) bool {
			return p.ProblemType != nil && *p.ProblemType == problemType && p.Urgency == nil
		},
		func(p models.SLAPolicy) bool {
			return p.Urgency != nil && *p.Urgency == urgency && p.ProblemType == nil
		},
		func(p models.SLAPolicy) bool {
			return p.ProblemType == nil && p.Urgency == nil
		},
	}
	for _, match := range tiers {
		for i := range ordered {
			if !ordered[i].IsActive {
				continue
			}
			if match(ordered[i]) {
				return &ordered[i]
			}
		}
	}
	return nil
}

// NewMonitor derives a fresh monitor from a ticket and its matched
// policy. Both axes start ON_TIME.
func NewMonitor(t models.TicketSnapshot, p models.SLAPolicy) models.SLAMonitor {
	return models.SLAMonitor{
		TicketID:         t.ID,
		PolicyID:         p.ID,
		ReportedAt:       t.ReportedAt,
		ResponseDeadline: t.ReportedAt.Add(hoursToDuration(p.ResponseTimeHours)),
		ResolveDeadline:  t.ReportedAt.Add(hoursToDuration(p.ResolveTimeHours)),
		ResponseStatus:   models.SLAOnTime,
		ResolveStatus:    models.SLAOnTime,
	}
}

// CreateMonitor persists a new monitor for the ticket under the given
// policy and returns it with its row ID set.
func (s *SLAService) CreateMonitor(ctx context.Context, t models.TicketSnapshot, p models.SLAPolicy) (*models.SLAMonitor, error) {
	monitor := NewMonitor(t, p)
	ApplyTicketTimes(&monitor, t)
	UpdateMonitorStatus(&monitor, p.WarningThresholdPercent, s.now())
	if err := s.Store.SaveSLAMonitor(ctx, &monitor); err != nil {
		return nil, err
	}
	return &monitor, nil
}

// ApplyTicketTimes copies the ticket's response/resolve times onto the
// monitor with write-once semantics: an actual time already recorded is
// never overwritten by a later, possibly out-of-order sync.
func ApplyTicketTimes(m *models.SLAMonitor, t models.TicketSnapshot) {
	if m.ActualResponseAt == nil && t.RespondedAt != nil {
		at := *t.RespondedAt
		m.ActualResponseAt = &at
	}
	if m.ActualResolveAt == nil && t.ResolvedAt != nil {
		at := *t.ResolvedAt
		m.ActualResolveAt = &at
	}
}

// UpdateMonitorStatus recomputes both axis statuses. An axis whose actual
// event occurred freezes to ON_TIME or OVERDUE with its signed diff in
// hours; a pending axis goes OVERDUE past the deadline, WARNING once the
// elapsed share of the window reaches warningThreshold, else ON_TIME.
// A nil threshold means the WARNING state is never entered.
func UpdateMonitorStatus(m *models.SLAMonitor, warningThreshold *float64, now time.Time) {
	m.ResponseStatus, m.ResponseDiffHours = axisStatus(m.ReportedAt, m.ResponseDeadline, m.ActualResponseAt, warningThreshold, now)
	m.ResolveStatus, m.ResolveDiffHours = axisStatus(m.ReportedAt, m.ResolveDeadline, m.ActualResolveAt, warningThreshold, now)
}

func axisStatus(reported, deadline time.Time, actual *time.Time, warningThreshold *float64, now time.Time) (models.SLAStatus, *float64) {
	if actual != nil {
		diff := actual.Sub(deadline).Hours()
		if diff <= 0 {
			return models.SLAOnTime, &diff
		}
		return models.SLAOverdue, &diff
	}

	remaining := deadline.Sub(now)
	if remaining < 0 {
		return models.SLAOverdue, nil
	}
	if warningThreshold != nil {
		total := deadline.Sub(reported)
		if total > 0 {
			elapsed := float64(total-remaining) / float64(total) * 100
			if elapsed >= *warningThreshold {
				return models.SLAWarning, nil
			}
		}
	}
	return models.SLAOnTime, nil
}

// NeedsWarning lists the axes of a monitor that should be dispatched a
// warning: the axis is still pending, sits in WARNING state and its
// warning flag has not been set yet.
func NeedsWarning(m models.SLAMonitor) []models.SLAAxis {
	var axes []models.SLAAxis
	if m.ActualResponseAt == nil && m.ResponseStatus == models.SLAWarning && !m.ResponseWarningSent {
		axes = append(axes, models.AxisResponse)
	}
	if m.ActualResolveAt == nil && m.ResolveStatus == models.SLAWarning && !m.ResolveWarningSent {
		axes = append(axes, models.AxisResolve)
	}
	return axes
}

// SyncTicket is the idempotent upsert driven by ticket lifecycle events.
// It finds the ticket's monitor or creates one via policy matching (nil
// when no policy applies), applies the ticket's actual times write-once
// and recomputes statuses. Concurrent syncs for the same ticket can race
// on the actual-time fields; ticket events are rare human actions and
// this is an accepted risk.
func (s *SLAService) SyncTicket(ctx context.Context, t models.TicketSnapshot) (*models.SLAMonitor, error) {
	monitor, err := s.Store.GetSLAMonitorByTicket(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if monitor == nil {
		policy, err := s.MatchPolicy(ctx, t.ProblemType, t.Urgency)
		if err != nil {
			return nil, err
		}
		if policy == nil {
			return nil, nil
		}
		return s.CreateMonitor(ctx, t, *policy)
	}

	ApplyTicketTimes(monitor, t)
	threshold, err := s.policyThreshold(ctx, monitor.PolicyID)
	if err != nil {
		return nil, err
	}
	UpdateMonitorStatus(monitor, threshold, s.now())
	if err := s.Store.SaveSLAMonitor(ctx, monitor); err != nil {
		return nil, err
	}
	return monitor, nil
}

// SyncAll synchronizes every open ticket, typically behind the bulk
// admin endpoint. Tickets without a matching policy are counted and
// skipped.
func (s *SLAService) SyncAll(ctx context.Context) (SyncSummary, error) {
	tickets, err := s.Store.ListOpenTickets(ctx)
	if err != nil {
		return SyncSummary{}, err
	}

	summary := SyncSummary{Counts: map[string]any{}}
	start := time.Now()
	summary.Events = append(summary.Events, map[string]any{
		"type":    "sync_start",
		"message": "Tickets ready for SLA sync",
		"count":   len(tickets),
		"time":    time.Now().UTC(),
	})

	var synced, skipped, failures int
	for _, t := range tickets {
		monitor, err := s.SyncTicket(ctx, t)
		if err != nil {
			failures++
			s.Logger.Error().Err(err).Int64("ticket_id", t.ID).Msg("sla sync failed")
			continue
		}
		if monitor == nil {
			skipped++
			continue
		}
		synced++
	}

	summary.Events = append(summary.Events, map[string]any{
		"type":       "sync_done",
		"synced":     synced,
		"no_policy":  skipped,
		"errors":     failures,
		"elapsed_ms": time.Since(start).Milliseconds(),
		"time":       time.Now().UTC(),
	})
	summary.Counts["tickets_scanned"] = len(tickets)
	summary.Counts["synced"] = synced
	summary.Counts["skipped_no_policy"] = skipped
	summary.Counts["errors"] = failures
	return summary, nil
}

// CheckWarnings recomputes statuses for every unresolved monitor and
// returns those with an axis due a first warning dispatch. The caller is
// expected to invoke MarkWarningSent after each successful dispatch.
func (s *SLAService) CheckWarnings(ctx context.Context) ([]models.SLAMonitor, error) {
	monitors, err := s.Store.ListUnresolvedSLAMonitors(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	thresholds := map[int64]*float64{}
	due := []models.SLAMonitor{}
	for i := range monitors {
		threshold, ok := thresholds[monitors[i].PolicyID]
		if !ok {
			threshold, err = s.policyThreshold(ctx, monitors[i].PolicyID)
			if err != nil {
				return nil, err
			}
			thresholds[monitors[i].PolicyID] = threshold
		}
		UpdateMonitorStatus(&monitors[i], threshold, now)
		if err := s.Store.SaveSLAMonitor(ctx, &monitors[i]); err != nil {
			return nil, err
		}
		if len(NeedsWarning(monitors[i])) > 0 {
			due = append(due, monitors[i])
		}
	}
	return due, nil
}

// MarkWarningSent flips the once-only dispatch flag for one axis.
func (s *SLAService) MarkWarningSent(ctx context.Context, m *models.SLAMonitor, axis models.SLAAxis) error {
	at := s.now()
	switch axis {
	case models.AxisResponse:
		m.ResponseWarningSent = true
		m.ResponseWarningSentAt = &at
	case models.AxisResolve:
		m.ResolveWarningSent = true
		m.ResolveWarningSentAt = &at
	default:
		return fmt.Errorf("unknown sla axis %q", axis)
	}
	return s.Store.MarkSLAWarningSent(ctx, m.ID, axis, at)
}

func (s *SLAService) policyThreshold(ctx context.Context, policyID int64) (*float64, error) {
	policy, err := s.Store.GetSLAPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, nil
	}
	return policy.WarningThresholdPercent, nil
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
