package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/service"
)

func testHandler() *Handler {
	gin.SetMode(gin.TestMode)
	return &Handler{
		Breaks:    &service.BreakAnalysisService{Logger: zerolog.Nop()},
		Validator: validator.New(),
		Logger:    zerolog.Nop(),
	}
}

func TestParseDate(t *testing.T) {
	if got := parseDate(""); !got.IsZero() {
		t.Fatalf("empty input must yield zero time, got %v", got)
	}
	if got := parseDate("not-a-date"); !got.IsZero() {
		t.Fatalf("malformed input must yield zero time, got %v", got)
	}
	want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.Local)
	if got := parseDate("2024-06-01"); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPipelineBreaks_RejectsBadQuery(t *testing.T) {
	h := testHandler()
	r := gin.New()
	r.GET("/api/analytics/pipeline-breaks", h.PipelineBreaks)

	for _, query := range []string{
		"start_date=2024-13-40",
		"pipeline_type=bogus",
	} {
		req, _ := http.NewRequest(http.MethodGet, "/api/analytics/pipeline-breaks?"+query, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", query, w.Code)
		}
		var body map[string]map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("query %q: invalid error body: %v", query, err)
		}
		if body["error"]["code"] != "INVALID_REQUEST" {
			t.Fatalf("query %q: unexpected error code %v", query, body["error"]["code"])
		}
	}
}

func TestBreakReasons_StaticCatalog(t *testing.T) {
	h := testHandler()
	r := gin.New()
	r.GET("/api/analytics/pipeline-breaks/reasons", h.BreakReasons)

	req, _ := http.NewRequest(http.MethodGet, "/api/analytics/pipeline-breaks/reasons?break_stage=LEAD_TO_OPP", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var report service.ReasonReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.BreakStage != "LEAD_TO_OPP" {
		t.Fatalf("expected echoed stage, got %q", report.BreakStage)
	}
	if len(report.Reasons) != 8 {
		t.Fatalf("expected 8 reason categories, got %d", len(report.Reasons))
	}
	for reason, count := range report.Reasons {
		if count != 0 {
			t.Fatalf("reason %q must be zero until reasons are captured, got %d", reason, count)
		}
	}
}

func TestSLAMonitorByTicket_RejectsBadID(t *testing.T) {
	h := testHandler()
	r := gin.New()
	r.GET("/api/sla/monitors/:ticket_id", h.SLAMonitorByTicket)

	for _, id := range []string{"abc", "0", "-3"} {
		req, _ := http.NewRequest(http.MethodGet, "/api/sla/monitors/"+id, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("id %q: expected 400, got %d", id, w.Code)
		}
	}
}
