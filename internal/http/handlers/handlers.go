package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/db"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/models"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/service"
)

type Handler struct {
	Store          *db.Store
	Breaks         *service.BreakAnalysisService
	Accountability *service.AccountabilityService
	SLA            *service.SLAService
	Validator      *validator.Validate
	Logger         zerolog.Logger
	AdminKey       string
}

type analysisQuery struct {
	StartDate    string `form:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate      string `form:"end_date" validate:"omitempty,datetime=2006-01-02"`
	PipelineType string `form:"pipeline_type" validate:"omitempty,oneof=lead opportunity quote contract milestone invoice"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Pipeline break analysis
// @Description Scan all six funnel transitions for stalled entities
// @Tags analytics
// @Produce json
// @Param start_date query string false "YYYY-MM-DD, defaults to one year ago"
// @Param end_date query string false "YYYY-MM-DD, defaults to today"
// @Param pipeline_type query string false "lead|opportunity|quote|contract|milestone|invoice"
// @Success 200 {object} service.BreakReport
// @Failure 400 {object} map[string]any
// @Router /api/analytics/pipeline-breaks [get]
func (h *Handler) PipelineBreaks(c *gin.Context) {
	q, start, end, ok := h.bindAnalysisQuery(c)
	if !ok {
		return
	}
	report, err := h.Breaks.AnalyzePipelineBreaks(c.Request.Context(), start, end, q.PipelineType)
	if err != nil {
		h.Logger.Error().Err(err).Msg("break analysis failed")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Break analysis failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) BreakReasons(c *gin.Context) {
	c.JSON(http.StatusOK, h.Breaks.BreakReasons(c.Query("break_stage")))
}

func (h *Handler) BreakPatterns(c *gin.Context) {
	_, start, end, ok := h.bindAnalysisQuery(c)
	if !ok {
		return
	}
	patterns, err := h.Breaks.BreakPatterns(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Pattern analysis failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, patterns)
}

// @Summary Break warnings
// @Description Leads approaching the LEAD_TO_OPP threshold
// @Tags analytics
// @Produce json
// @Param days_ahead query int false "look-ahead window in days (default 7)"
// @Success 200 {object} map[string]any
// @Router /api/analytics/pipeline-breaks/warnings [get]
func (h *Handler) BreakWarnings(c *gin.Context) {
	daysAhead, _ := strconv.Atoi(c.DefaultQuery("days_ahead", "7"))
	warnings, err := h.Breaks.BreakWarnings(c.Request.Context(), daysAhead)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Warning scan failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": warnings, "days_ahead": daysAhead})
}

func (h *Handler) AccountabilityByStage(c *gin.Context) {
	_, start, end, ok := h.bindAnalysisQuery(c)
	if !ok {
		return
	}
	report, err := h.Accountability.AnalyzeByStage(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Accountability analysis failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) AccountabilityByPerson(c *gin.Context) {
	_, start, end, ok := h.bindAnalysisQuery(c)
	if !ok {
		return
	}
	report, err := h.Accountability.AnalyzeByPerson(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Accountability analysis failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) AccountabilityByDepartment(c *gin.Context) {
	_, start, end, ok := h.bindAnalysisQuery(c)
	if !ok {
		return
	}
	report, err := h.Accountability.AnalyzeByDepartment(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Accountability analysis failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) AccountabilityCostImpact(c *gin.Context) {
	_, start, end, ok := h.bindAnalysisQuery(c)
	if !ok {
		return
	}
	report, err := h.Accountability.AnalyzeCostImpact(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Cost impact analysis failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) SLAPolicies(c *gin.Context) {
	policies, err := h.Store.ListActiveSLAPolicies(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list SLA policies", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": policies})
}

func (h *Handler) SLAMonitorByTicket(c *gin.Context) {
	ticketID, ok := parseID(c)
	if !ok {
		return
	}
	monitor, err := h.Store.GetSLAMonitorByTicket(c.Request.Context(), ticketID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get SLA monitor", err.Error())
		return
	}
	if monitor == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No SLA monitor for ticket", nil)
		return
	}
	c.JSON(http.StatusOK, monitor)
}

// @Summary Bulk SLA sync
// @Description Synchronize every open ticket to its SLA monitor
// @Tags sla
// @Produce json
// @Success 200 {object} service.SyncSummary
// @Failure 500 {object} map[string]any
// @Router /api/sla/sync [post]
func (h *Handler) SLASyncAll(c *gin.Context) {
	runID, err := h.Store.CreateSyncRun(c.Request.Context(), "RUNNING")
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to create sync run")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create sync run", err.Error())
		return
	}

	summary, err := h.SLA.SyncAll(c.Request.Context())
	status := "SUCCESS"
	if err != nil {
		status = "FAILED"
	}
	b, _ := json.Marshal(summary)
	if finishErr := h.Store.FinishSyncRun(c.Request.Context(), runID, status, b); finishErr != nil {
		h.Logger.Error().Err(finishErr).Msg("failed to finish sync run")
	}

	if err != nil {
		h.Logger.Error().Err(err).Msg("sla sync failed")
		writeError(c, http.StatusInternalServerError, "SYNC_ERROR", "SLA sync failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) SLASyncTicket(c *gin.Context) {
	ticketID, ok := parseID(c)
	if !ok {
		return
	}
	ticket, err := h.Store.GetTicket(c.Request.Context(), ticketID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load ticket", err.Error())
		return
	}
	if ticket == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
		return
	}

	monitor, err := h.SLA.SyncTicket(c.Request.Context(), *ticket)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "SLA sync failed", err.Error())
		return
	}
	if monitor == nil {
		c.JSON(http.StatusOK, gin.H{"monitor": nil, "message": "no applicable SLA policy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"monitor": monitor})
}

func (h *Handler) SLAWarnings(c *gin.Context) {
	monitors, err := h.SLA.CheckWarnings(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Warning check failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": monitors})
}

func (h *Handler) SLAMarkWarningSent(c *gin.Context) {
	ticketID, ok := parseID(c)
	if !ok {
		return
	}
	axis := models.SLAAxis(c.Param("axis"))
	if axis != models.AxisResponse && axis != models.AxisResolve {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "axis must be response or resolve", nil)
		return
	}

	monitor, err := h.Store.GetSLAMonitorByTicket(c.Request.Context(), ticketID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get SLA monitor", err.Error())
		return
	}
	if monitor == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No SLA monitor for ticket", nil)
		return
	}

	if err := h.SLA.MarkWarningSent(c.Request.Context(), monitor, axis); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to mark warning sent", err.Error())
		return
	}
	c.JSON(http.StatusOK, monitor)
}

func (h *Handler) SLARunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestSyncRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get latest run", err.Error())
		return
	}
	if run == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", nil)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) bindAnalysisQuery(c *gin.Context) (analysisQuery, time.Time, time.Time, bool) {
	var q analysisQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid query parameters", err.Error())
		return q, time.Time{}, time.Time{}, false
	}
	if err := h.Validator.Struct(q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid query parameters", err.Error())
		return q, time.Time{}, time.Time{}, false
	}
	start := parseDate(q.StartDate)
	end := parseDate(q.EndDate)
	return q, start, end, true
}

// parseDate returns the zero time for an empty or malformed value; the
// services substitute their defaults.
func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("ticket_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "ticket_id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
